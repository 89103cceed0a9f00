package model

// Course 课程表 — 对应 courses
// PrincipalStaffID 是当前班主任的缓存指针，只能由任课分配流程写入；
// 权威来源是 course_staff_history 中未关闭的班主任记录
type Course struct {
	ID               int64   `gorm:"primaryKey;autoIncrement"   json:"id"`
	Name             string  `gorm:"type:varchar(100);not null" json:"name"`
	Section          *string `gorm:"type:varchar(20)"           json:"section,omitempty"`
	PrincipalStaffID *int64  `gorm:"index"                      json:"principal_staff_id,omitempty"`
	BaseModel

	Principal *Staff `gorm:"foreignKey:PrincipalStaffID" json:"principal,omitempty"`
}

// TableName 指定表名
func (Course) TableName() string { return "courses" }

// IsPrincipal 判断指定教师是否为该课程当前班主任
func (c *Course) IsPrincipal(staffID int64) bool {
	return c != nil && c.PrincipalStaffID != nil && *c.PrincipalStaffID == staffID
}

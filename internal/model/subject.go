package model

// Subject 科目表 — 对应 subjects
type Subject struct {
	ID          int64    `gorm:"primaryKey;autoIncrement"   json:"id"`
	CourseID    *int64   `gorm:"index"                      json:"course_id,omitempty"`
	Name        string   `gorm:"type:varchar(150);not null" json:"name"`
	ReportOrder *string  `gorm:"type:varchar(20)"           json:"report_order,omitempty"`
	WeeklyHours *float64 `gorm:"type:double precision"      json:"weekly_hours,omitempty"`
	BaseModel

	Course *Course `gorm:"foreignKey:CourseID" json:"course,omitempty"`
}

// TableName 指定表名
func (Subject) TableName() string { return "subjects" }

package model

import "strings"

// Staff 教职员表 — 对应 staff
// 人员档案由其他模块维护，这里只读
type Staff struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"              json:"id"`
	FirstName string  `gorm:"type:varchar(100);not null"            json:"first_name"`
	LastName  string  `gorm:"type:varchar(100);not null;default:''" json:"last_name"`
	Email     *string `gorm:"type:varchar(150)"                     json:"email,omitempty"`
	Active    bool    `gorm:"not null;default:true"                 json:"active"`
	BaseModel
}

// TableName 指定表名
func (Staff) TableName() string { return "staff" }

// FullName 名 + 姓
func (s *Staff) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

package model

import "time"

// HistoryEntry 课程任职历史表 — 对应 course_staff_history
// 只追加：记录一段班主任 / 任课教师的任职区间，EndDate 为空表示仍在任
type HistoryEntry struct {
	ID             int64      `gorm:"primaryKey;autoIncrement"           json:"id"`
	CourseID       int64      `gorm:"not null;index"                     json:"course_id"`
	StaffID        int64      `gorm:"not null;index"                     json:"staff_id"`
	SubjectID      *int64     `                                          json:"subject_id,omitempty"`
	IsPrincipal    bool       `gorm:"not null;default:false"             json:"is_principal"`
	AcademicYear   *string    `gorm:"type:varchar(10)"                   json:"academic_year,omitempty"`
	AssignmentDate time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"assignment_date"`
	EndDate        *time.Time `                                          json:"end_date,omitempty"`
	CreatedAt      time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`

	Course  *Course  `gorm:"foreignKey:CourseID"  json:"course,omitempty"`
	Staff   *Staff   `gorm:"foreignKey:StaffID"   json:"staff,omitempty"`
	Subject *Subject `gorm:"foreignKey:SubjectID" json:"subject,omitempty"`
}

// TableName 指定表名
func (HistoryEntry) TableName() string { return "course_staff_history" }

// IsOpen 区间未关闭
func (h *HistoryEntry) IsOpen() bool { return h.EndDate == nil }

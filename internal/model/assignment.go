package model

import "time"

// 任课状态（由 active / end_date 推导，不落库）
const (
	EstadoActivo     = "ACTIVO"
	EstadoInactivo   = "INACTIVO"
	EstadoFinalizado = "FINALIZADO"
)

// Assignment 科目任课分配表 — 对应 subject_staff_assignments
// (subject_id, staff_id, academic_year) 唯一，作为 upsert 目标
type Assignment struct {
	ID             int64      `gorm:"primaryKey;autoIncrement"                json:"id"`
	SubjectID      int64      `gorm:"not null;uniqueIndex:ux_assignment_subject_staff_year" json:"subject_id"`
	StaffID        int64      `gorm:"not null;uniqueIndex:ux_assignment_subject_staff_year" json:"staff_id"`
	AcademicYear   string     `gorm:"type:varchar(10);not null;uniqueIndex:ux_assignment_subject_staff_year" json:"academic_year"`
	AssignmentDate time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"      json:"assignment_date"`
	EndDate        *time.Time `                                               json:"end_date,omitempty"`
	Active         bool       `gorm:"not null"                                json:"active"`
	BaseModel

	Subject *Subject `gorm:"foreignKey:SubjectID" json:"subject,omitempty"`
	Staff   *Staff   `gorm:"foreignKey:StaffID"   json:"staff,omitempty"`
}

// TableName 指定表名
func (Assignment) TableName() string { return "subject_staff_assignments" }

// IsOpen active 且未设置结束日期
func (a *Assignment) IsOpen() bool {
	return a.Active && a.EndDate == nil
}

// Estado 推导任课状态
func (a *Assignment) Estado() string {
	return DeriveEstado(a.Active, a.EndDate != nil)
}

// DeriveEstado 停用优先于结束：active=false → INACTIVO，其次 end_date 非空 → FINALIZADO
func DeriveEstado(active, ended bool) string {
	switch {
	case !active:
		return EstadoInactivo
	case ended:
		return EstadoFinalizado
	default:
		return EstadoActivo
	}
}

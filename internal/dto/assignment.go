package dto

import (
	"bytes"
	"encoding/json"
)

// ── 任课分配请求 ──

// CreateAssignmentRequest 创建任课分配
// AssignmentDate 接受 RFC3339 或 YYYY-MM-DD
type CreateAssignmentRequest struct {
	SubjectID      int64    `json:"subject_id"      binding:"required,gt=0"`
	StaffID        int64    `json:"staff_id"        binding:"required,gt=0"`
	AcademicYear   string   `json:"academic_year"   binding:"required,min=4,max=10"`
	AssignmentDate *string  `json:"assignment_date" binding:"omitempty"`
	Active         *bool    `json:"active"`
	CourseID       *int64   `json:"course_id"       binding:"omitempty,gt=0"`
	WeeklyHours    *float64 `json:"weekly_hours"    binding:"omitempty,gt=0"`
	IsPrincipal    *bool    `json:"is_principal"`
}

// UpdateAssignmentRequest 部分更新任课分配，未出现的字段保持不变
type UpdateAssignmentRequest struct {
	SubjectID      *int64         `json:"subject_id"      binding:"omitempty,gt=0"`
	StaffID        *int64         `json:"staff_id"        binding:"omitempty,gt=0"`
	AcademicYear   *string        `json:"academic_year"   binding:"omitempty,min=4,max=10"`
	AssignmentDate *string        `json:"assignment_date" binding:"omitempty"`
	EndDate        OptionalString `json:"end_date"`
	Active         *bool          `json:"active"`
	CourseID       *int64         `json:"course_id"       binding:"omitempty,gt=0"`
	WeeklyHours    *float64       `json:"weekly_hours"    binding:"omitempty,gt=0"`
	IsPrincipal    *bool          `json:"is_principal"`
}

// OptionalString 区分 JSON 中字段缺失、显式 null 与具体值
type OptionalString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON 只有字段出现时才会被调用
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// ListAssignmentsQuery 任课列表查询参数
type ListAssignmentsQuery struct {
	Page           int    `form:"page"           binding:"omitempty,min=1"`
	Limit          int    `form:"limit"          binding:"omitempty,min=1,max=100"`
	Estado         string `form:"estado"         binding:"omitempty,oneof=ACTIVO INACTIVO FINALIZADO"`
	StaffID        *int64 `form:"staff_id"       binding:"omitempty,gt=0"`
	SubjectID      *int64 `form:"subject_id"     binding:"omitempty,gt=0"`
	CourseID       *int64 `form:"course_id"      binding:"omitempty,gt=0"`
	AcademicYear   string `form:"academic_year"  binding:"omitempty,max=10"`
	Q              string `form:"q"              binding:"omitempty,max=100"`
	UseMV          bool   `form:"use_mv"`
	Refresh        bool   `form:"refresh"`
	SoloOrientador bool   `form:"soloOrientador"`
}

// HistoryParams 任职历史查询（已完成空串 / "null" / 布尔归一化）
type HistoryParams struct {
	CourseID           *int64
	StaffID            *int64
	SubjectID          *int64
	SubjectIsNull      bool
	IsPrincipal        *bool
	AcademicYear       *string
	AcademicYearIsNull bool
	Estado             string // abierto | cerrado
	Order              string // asc | desc
	Page               int
	Limit              int
}

// ── 任课分配响应 ──

// StaffRef 教职员简要信息
type StaffRef struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
}

// CourseRef 课程信息（含班主任缓存指针）
type CourseRef struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Section          *string   `json:"section"`
	PrincipalStaffID *int64    `json:"principal_staff_id"`
	Principal        *StaffRef `json:"principal"`
}

// SubjectRef 科目信息
type SubjectRef struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	ReportOrder *string  `json:"report_order"`
	WeeklyHours *float64 `json:"weekly_hours"`
}

// AssignmentResponse 任课分配视图
type AssignmentResponse struct {
	ID                   int64      `json:"id"`
	Staff                StaffRef   `json:"staff"`
	Course               CourseRef  `json:"course"`
	Subject              SubjectRef `json:"subject"`
	WeeklyHoursEffective float64    `json:"weeklyHoursEffective"`
	AssignmentDateISO    string     `json:"assignmentDateISO"`
	EndDateISO           *string    `json:"endDateISO,omitempty"`
	Estado               string     `json:"estado"` // ACTIVO | INACTIVO | FINALIZADO
	EsOrientador         bool       `json:"esOrientador"`
	AcademicYear         string     `json:"academic_year"`
}

// 列表数据来源
const (
	SourceMV   = "mv"
	SourceLive = "live"
)

// AssignmentPage 任课分页列表
type AssignmentPage struct {
	Page     int                  `json:"page"`
	PageSize int                  `json:"pageSize"`
	Total    int64                `json:"total"`
	Count    int                  `json:"count"`
	Data     []AssignmentResponse `json:"data"`
	Source   string               `json:"source"`
}

// HistoryCourseRef 历史记录中的课程
type HistoryCourseRef struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Section *string `json:"section"`
}

// HistorySubjectRef 历史记录中的科目（可能为空）
type HistorySubjectRef struct {
	ID   *int64  `json:"id"`
	Name *string `json:"name"`
}

// HistoryItemResponse 任职历史条目
type HistoryItemResponse struct {
	ID             int64             `json:"id"`
	Course         HistoryCourseRef  `json:"course"`
	Subject        HistorySubjectRef `json:"subject"`
	Staff          StaffRef          `json:"staff"`
	IsPrincipal    bool              `json:"is_principal"`
	AcademicYear   *string           `json:"academic_year"`
	AssignmentDate *string           `json:"assignment_date"`
	EndDate        *string           `json:"end_date"`
	Open           bool              `json:"abierto"`
}

// HistoryPage 任职历史分页
type HistoryPage struct {
	Page     int                   `json:"page"`
	PageSize int                   `json:"pageSize"`
	Total    int64                 `json:"total"`
	Count    int                   `json:"count"`
	Data     []HistoryItemResponse `json:"data"`
}

// CoursePrincipalResponse 课程当前班主任
// Principal 来自未关闭的班主任历史记录；CachedPrincipalStaffID 为课程表上的缓存指针
type CoursePrincipalResponse struct {
	CourseID               int64     `json:"course_id"`
	AcademicYear           *string   `json:"academic_year"`
	Principal              *StaffRef `json:"principal"`
	Since                  *string   `json:"since"`
	CachedPrincipalStaffID *int64    `json:"cached_principal_staff_id"`
	Consistent             bool      `json:"consistent"`
}

// RefreshResponse 手动刷新物化视图结果
type RefreshResponse struct {
	Refreshed  bool   `json:"refreshed"`
	Mode       string `json:"mode"` // concurrent | blocking | skipped | failed | disabled
	DurationMs int64  `json:"duration_ms"`
}

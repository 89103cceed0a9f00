package model

import "time"

// AssignmentRow 任课列表的扁平行
// 物化视图 mv_assignments 直接映射到此结构；实时查询路径也组装成同一结构，
// 两条读路径共用一个响应映射
type AssignmentRow struct {
	AssignmentID     int64      `gorm:"column:assignment_id"`
	SubjectID        int64      `gorm:"column:subject_id"`
	SubjectName      string     `gorm:"column:subject_name"`
	ReportOrder      *string    `gorm:"column:report_order"`
	WeeklyHours      *float64   `gorm:"column:weekly_hours"`
	StaffID          int64      `gorm:"column:staff_id"`
	StaffName        string     `gorm:"column:staff_name"`
	CourseID         *int64     `gorm:"column:course_id"`
	CourseName       *string    `gorm:"column:course_name"`
	Section          *string    `gorm:"column:section"`
	PrincipalStaffID *int64     `gorm:"column:principal_staff_id"`
	PrincipalName    *string    `gorm:"column:principal_name"`
	AcademicYear     string     `gorm:"column:academic_year"`
	AssignmentDate   *time.Time `gorm:"column:assignment_date"`
	EndDate          *time.Time `gorm:"column:end_date"`
	Active           bool       `gorm:"column:active"`
	IsPrincipal      bool       `gorm:"column:is_principal"`
}

// TableName 物化视图名
func (AssignmentRow) TableName() string { return "mv_assignments" }

// RowFromAssignment 将预加载了 Subject.Course.Principal / Staff 的实体展开为扁平行
func RowFromAssignment(a *Assignment) AssignmentRow {
	row := AssignmentRow{
		AssignmentID: a.ID,
		SubjectID:    a.SubjectID,
		StaffID:      a.StaffID,
		AcademicYear: a.AcademicYear,
		EndDate:      a.EndDate,
		Active:       a.Active,
	}
	if !a.AssignmentDate.IsZero() {
		d := a.AssignmentDate
		row.AssignmentDate = &d
	}
	if a.Staff != nil {
		row.StaffName = a.Staff.FullName()
	}
	if s := a.Subject; s != nil {
		row.SubjectName = s.Name
		row.ReportOrder = s.ReportOrder
		row.WeeklyHours = s.WeeklyHours
		if c := s.Course; c != nil {
			id, name := c.ID, c.Name
			row.CourseID = &id
			row.CourseName = &name
			row.Section = c.Section
			row.PrincipalStaffID = c.PrincipalStaffID
			if c.Principal != nil {
				pn := c.Principal.FullName()
				row.PrincipalName = &pn
			}
			row.IsPrincipal = c.IsPrincipal(a.StaffID)
		}
	}
	return row
}

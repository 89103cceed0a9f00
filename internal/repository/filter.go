package repository

import (
	"strings"

	"gorm.io/gorm"

	"github.com/josecalderon2/CAI-backend/internal/model"
)

// AssignmentFilter 任课列表过滤条件（物化视图与实时查询共用）
type AssignmentFilter struct {
	StaffID      *int64
	SubjectID    *int64
	CourseID     *int64
	AcademicYear string
	Estado       string // ACTIVO | INACTIVO | FINALIZADO，空串不过滤
	Q            string // 教师 / 科目 / 课程名称模糊匹配
	Page         int
	PageSize     int
}

// assignmentColumns 过滤条件在不同数据源上对应的列表达式
type assignmentColumns struct {
	staffID      string
	subjectID    string
	courseID     string
	academicYear string
	active       string
	endDate      string
	staffName    string
	subjectName  string
	courseName   string
	orderBy      string
}

// mvColumns 物化视图 mv_assignments 的列
var mvColumns = assignmentColumns{
	staffID:      "staff_id",
	subjectID:    "subject_id",
	courseID:     "course_id",
	academicYear: "academic_year",
	active:       "active",
	endDate:      "end_date",
	staffName:    "staff_name",
	subjectName:  "subject_name",
	courseName:   "course_name",
	orderBy:      "assignment_date DESC NULLS LAST, assignment_id DESC",
}

// liveColumns 实时联表查询（a = subject_staff_assignments, s = subjects, st = staff, c = courses）
var liveColumns = assignmentColumns{
	staffID:      "a.staff_id",
	subjectID:    "a.subject_id",
	courseID:     "s.course_id",
	academicYear: "a.academic_year",
	active:       "a.active",
	endDate:      "a.end_date",
	staffName:    "TRIM(CONCAT_WS(' ', st.first_name, st.last_name))",
	subjectName:  "s.name",
	courseName:   "c.name",
	orderBy:      "a.assignment_date DESC NULLS LAST, a.id DESC",
}

// applyAssignmentFilter 两条读路径使用同一套过滤语义
func applyAssignmentFilter(db *gorm.DB, f AssignmentFilter, cols assignmentColumns) *gorm.DB {
	if f.StaffID != nil {
		db = db.Where(cols.staffID+" = ?", *f.StaffID)
	}
	if f.SubjectID != nil {
		db = db.Where(cols.subjectID+" = ?", *f.SubjectID)
	}
	if f.CourseID != nil {
		db = db.Where(cols.courseID+" = ?", *f.CourseID)
	}
	if f.AcademicYear != "" {
		db = db.Where(cols.academicYear+" = ?", f.AcademicYear)
	}

	switch f.Estado {
	case model.EstadoActivo:
		db = db.Where(cols.active + " = TRUE AND " + cols.endDate + " IS NULL")
	case model.EstadoInactivo:
		db = db.Where(cols.active + " = FALSE")
	case model.EstadoFinalizado:
		db = db.Where(cols.endDate + " IS NOT NULL")
	}

	if q := strings.TrimSpace(f.Q); q != "" {
		like := "%" + escapeLike(q) + "%"
		db = db.Where(
			"("+cols.staffName+" ILIKE ? OR "+cols.subjectName+" ILIKE ? OR "+cols.courseName+" ILIKE ?)",
			like, like, like,
		)
	}
	return db
}

// likeEscaper 转义 LIKE 通配符（PostgreSQL 默认转义符为反斜杠）
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// HistoryFilter 任职历史过滤条件
// 指针字段为 nil 表示不过滤；*IsNull 为 true 时按 IS NULL 过滤
type HistoryFilter struct {
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
	PageSize           int
}

// HistoryScope 定位一组未关闭的历史记录
// 指针字段为 nil 时不参与匹配；写路径必须带上 AcademicYear，只有只读查询可以跨学年
type HistoryScope struct {
	CourseID     int64
	StaffID      *int64
	SubjectID    *int64
	IsPrincipal  *bool
	AcademicYear *string
}

func applyHistoryScope(db *gorm.DB, s HistoryScope) *gorm.DB {
	db = db.Where("course_id = ? AND end_date IS NULL", s.CourseID)
	if s.StaffID != nil {
		db = db.Where("staff_id = ?", *s.StaffID)
	}
	if s.SubjectID != nil {
		db = db.Where("subject_id = ?", *s.SubjectID)
	}
	if s.IsPrincipal != nil {
		db = db.Where("is_principal = ?", *s.IsPrincipal)
	}
	if s.AcademicYear != nil {
		db = db.Where("academic_year = ?", *s.AcademicYear)
	}
	return db
}

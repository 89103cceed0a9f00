package service

import (
	"context"
	"time"

	"github.com/josecalderon2/CAI-backend/internal/dto"
	"github.com/josecalderon2/CAI-backend/internal/model"
	"github.com/josecalderon2/CAI-backend/internal/repository"
)

// assignmentReader 任课列表的读后端；两种实现返回同一行结构，经同一映射函数输出
type assignmentReader interface {
	read(ctx context.Context, f repository.AssignmentFilter) ([]model.AssignmentRow, int64, error)
	source() string
}

// projectionReader 读物化视图 mv_assignments
type projectionReader struct {
	repo repository.ProjectionRepository
}

func (r projectionReader) read(ctx context.Context, f repository.AssignmentFilter) ([]model.AssignmentRow, int64, error) {
	return r.repo.List(ctx, f)
}

func (projectionReader) source() string { return dto.SourceMV }

// liveReader 实时联表查询
type liveReader struct {
	repo repository.AssignmentRepository
}

func (r liveReader) read(ctx context.Context, f repository.AssignmentFilter) ([]model.AssignmentRow, int64, error) {
	list, total, err := r.repo.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	rows := make([]model.AssignmentRow, 0, len(list))
	for i := range list {
		rows = append(rows, model.RowFromAssignment(&list[i]))
	}
	return rows, total, nil
}

func (liveReader) source() string { return dto.SourceLive }

// planRead 按请求选择读后端；走物化视图前按 TTL（或强制）刷新
func (s *assignmentService) planRead(ctx context.Context, q *dto.ListAssignmentsQuery) assignmentReader {
	if !q.UseMV {
		return liveReader{repo: s.repo.Assignment}
	}
	s.projection.Refresh(ctx, q.Refresh)
	return projectionReader{repo: s.repo.Projection}
}

// ── 响应映射 ──

// isoLayout 毫秒精度 UTC，形如 2025-03-01T12:00:00.000Z
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

func formatISO(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

func formatISOPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatISO(*t)
	return &s
}

// toAssignmentResponse 两条读路径与单条查询共用
func toAssignmentResponse(row model.AssignmentRow) dto.AssignmentResponse {
	resp := dto.AssignmentResponse{
		ID:    row.AssignmentID,
		Staff: dto.StaffRef{ID: row.StaffID, FullName: row.StaffName},
		Subject: dto.SubjectRef{
			ID:          row.SubjectID,
			Name:        row.SubjectName,
			ReportOrder: row.ReportOrder,
			WeeklyHours: row.WeeklyHours,
		},
		EndDateISO:   formatISOPtr(row.EndDate),
		Estado:       model.DeriveEstado(row.Active, row.EndDate != nil),
		EsOrientador: row.IsPrincipal,
		AcademicYear: row.AcademicYear,
	}
	if row.WeeklyHours != nil {
		resp.WeeklyHoursEffective = *row.WeeklyHours
	}
	if row.AssignmentDate != nil {
		resp.AssignmentDateISO = formatISO(*row.AssignmentDate)
	}

	if row.CourseID != nil {
		resp.Course.ID = *row.CourseID
	}
	if row.CourseName != nil {
		resp.Course.Name = *row.CourseName
	}
	resp.Course.Section = row.Section
	resp.Course.PrincipalStaffID = row.PrincipalStaffID
	if row.PrincipalStaffID != nil {
		ref := dto.StaffRef{ID: *row.PrincipalStaffID}
		if row.PrincipalName != nil {
			ref.FullName = *row.PrincipalName
		}
		resp.Course.Principal = &ref
	}
	return resp
}

func toHistoryItemResponse(h *model.HistoryEntry) dto.HistoryItemResponse {
	item := dto.HistoryItemResponse{
		ID:             h.ID,
		Course:         dto.HistoryCourseRef{ID: h.CourseID},
		Staff:          dto.StaffRef{ID: h.StaffID},
		IsPrincipal:    h.IsPrincipal,
		AcademicYear:   h.AcademicYear,
		AssignmentDate: formatISOPtr(&h.AssignmentDate),
		EndDate:        formatISOPtr(h.EndDate),
		Open:           h.IsOpen(),
	}
	if h.Course != nil {
		item.Course.Name = h.Course.Name
		item.Course.Section = h.Course.Section
	}
	if h.Staff != nil {
		item.Staff.FullName = h.Staff.FullName()
	}
	if h.Subject != nil {
		id, name := h.Subject.ID, h.Subject.Name
		item.Subject = dto.HistorySubjectRef{ID: &id, Name: &name}
	} else if h.SubjectID != nil {
		item.Subject.ID = h.SubjectID
	}
	return item
}

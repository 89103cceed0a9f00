package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/josecalderon2/CAI-backend/internal/dto"
	"github.com/josecalderon2/CAI-backend/internal/model"
	"github.com/josecalderon2/CAI-backend/internal/repository"
	pkgerrors "github.com/josecalderon2/CAI-backend/pkg/errors"
)

// ── 任课分配模块业务错误 ──

var (
	ErrAssignmentNotFound    = pkgerrors.New(pkgerrors.KindNotFound, "任课分配不存在")
	ErrSubjectNotFound       = pkgerrors.New(pkgerrors.KindNotFound, "科目不存在")
	ErrTargetSubjectNotFound = pkgerrors.New(pkgerrors.KindNotFound, "目标科目不存在")
	ErrStaffNotFound         = pkgerrors.New(pkgerrors.KindNotFound, "教职员不存在")
	ErrCourseNotFound        = pkgerrors.New(pkgerrors.KindNotFound, "课程不存在")
	ErrSubjectWithoutCourse  = pkgerrors.New(pkgerrors.KindBadRequest, "科目未关联课程")
	ErrCourseMismatch        = pkgerrors.New(pkgerrors.KindBadRequest, "科目不属于指定课程")
	ErrInvalidDate           = pkgerrors.New(pkgerrors.KindBadRequest, "日期格式无效")
	ErrInvalidAcademicYear   = pkgerrors.New(pkgerrors.KindBadRequest, "学年无效")
	ErrSubjectTaken          = pkgerrors.New(pkgerrors.KindConflict, "该科目本学年已有在任教师")
	ErrDuplicateAssignment   = pkgerrors.New(pkgerrors.KindConflict, "该科目/教师/学年的任课分配已存在")
	ErrPrincipalConflict     = pkgerrors.New(pkgerrors.KindConflict, "该课程本学年已有在任班主任")
	ErrConcurrentWrite       = pkgerrors.New(pkgerrors.KindConflict, "并发写入冲突，请重试")
)

// 唯一索引名（与迁移文件一致）
const (
	constraintOpenPrincipal = "ux_history_open_principal"
	constraintLiveSubject   = "ux_assignment_live_subject_year"
)

// AssignmentService 任课分配业务接口
type AssignmentService interface {
	Create(ctx context.Context, req *dto.CreateAssignmentRequest) (*dto.AssignmentResponse, error)
	GetByID(ctx context.Context, id int64) (*dto.AssignmentResponse, error)
	Update(ctx context.Context, id int64, req *dto.UpdateAssignmentRequest) (*dto.AssignmentResponse, error)
	// Remove 软关闭：active=false、end_date=now，并关闭对应的全部未关闭历史
	Remove(ctx context.Context, id int64) (*dto.AssignmentResponse, error)
	List(ctx context.Context, q *dto.ListAssignmentsQuery) (*dto.AssignmentPage, error)
	ListHistory(ctx context.Context, p *dto.HistoryParams) (*dto.HistoryPage, error)
	// GetCoursePrincipal 以未关闭的班主任历史记录为准读取课程班主任；academicYear 为空时取最近一条
	GetCoursePrincipal(ctx context.Context, courseID int64, academicYear string) (*dto.CoursePrincipalResponse, error)
}

type assignmentService struct {
	repo       *repository.Repository
	projection ProjectionService
	logger     *zap.Logger
	now        func() time.Time
}

// NewAssignmentService 创建 AssignmentService 实例
func NewAssignmentService(repo *repository.Repository, projection ProjectionService, logger *zap.Logger) AssignmentService {
	return &assignmentService{
		repo:       repo,
		projection: projection,
		logger:     logger,
		now:        time.Now,
	}
}

// ────────────────────── Create ──────────────────────

func (s *assignmentService) Create(ctx context.Context, req *dto.CreateAssignmentRequest) (*dto.AssignmentResponse, error) {
	assignDate, err := parseOptionalDate(req.AssignmentDate)
	if err != nil {
		return nil, err
	}
	year, err := normalizeAcademicYear(req.AcademicYear)
	if err != nil {
		return nil, err
	}
	effective := s.now()
	if assignDate != nil {
		effective = *assignDate
	}
	active := req.Active == nil || *req.Active

	var id int64
	err = s.inTx(ctx, func(tx *repository.Repository) error {
		subject, course, err := s.loadSubject(ctx, tx, req.SubjectID, ErrSubjectNotFound)
		if err != nil {
			return err
		}
		if req.CourseID != nil && *req.CourseID != course.ID {
			return fmt.Errorf("%w: 科目 %d 属于课程 %d，而非 %d", ErrCourseMismatch, subject.ID, course.ID, *req.CourseID)
		}
		if err := s.ensureStaff(ctx, tx, req.StaffID); err != nil {
			return err
		}

		// 同一科目同一学年只能有一名在任教师
		live, err := tx.Assignment.FindLiveBySubject(ctx, subject.ID, year)
		switch {
		case err == nil && live.StaffID != req.StaffID:
			return subjectTakenError(subject.ID, year, live)
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			s.logger.Error("查询在任分配失败", zap.Int64("subject_id", subject.ID), zap.Error(err))
			return err
		}

		if err := s.syncWeeklyHours(ctx, tx, subject, req.WeeklyHours); err != nil {
			return err
		}

		a := &model.Assignment{
			SubjectID:    subject.ID,
			StaffID:      req.StaffID,
			AcademicYear: year,
			Active:       active,
		}
		if assignDate != nil {
			a.AssignmentDate = *assignDate
		}
		if err := tx.Assignment.Upsert(ctx, a, assignDate == nil); err != nil {
			s.logger.Error("写入任课分配失败", zap.Int64("subject_id", subject.ID), zap.Int64("staff_id", req.StaffID), zap.Error(err))
			return err
		}
		id = a.ID

		key := historyKey{courseID: course.ID, staffID: req.StaffID, subjectID: subject.ID, year: year}
		if req.IsPrincipal != nil && *req.IsPrincipal {
			return s.promote(ctx, tx, course, key, effective)
		}
		return s.ensureOpen(ctx, tx, key, false, effective)
	})
	if err != nil {
		return nil, s.mapWriteError(err)
	}

	s.projection.AfterWrite()
	return s.GetByID(ctx, id)
}

// ────────────────────── GetByID ──────────────────────

func (s *assignmentService) GetByID(ctx context.Context, id int64) (*dto.AssignmentResponse, error) {
	a, err := s.repo.Assignment.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssignmentNotFound
		}
		s.logger.Error("查询任课分配失败", zap.Int64("id", id), zap.Error(err))
		return nil, err
	}
	resp := toAssignmentResponse(model.RowFromAssignment(a))
	return &resp, nil
}

// ────────────────────── Update ──────────────────────

func (s *assignmentService) Update(ctx context.Context, id int64, req *dto.UpdateAssignmentRequest) (*dto.AssignmentResponse, error) {
	assignDate, err := parseOptionalDate(req.AssignmentDate)
	if err != nil {
		return nil, err
	}
	var endDate *time.Time
	if req.EndDate.Set {
		if endDate, err = parseOptionalDate(req.EndDate.Value); err != nil {
			return nil, err
		}
	}
	var nextYear *string
	if req.AcademicYear != nil {
		y, err := normalizeAcademicYear(*req.AcademicYear)
		if err != nil {
			return nil, err
		}
		nextYear = &y
	}
	effective := s.now()
	if assignDate != nil {
		effective = *assignDate
	}

	err = s.inTx(ctx, func(tx *repository.Repository) error {
		current, err := tx.Assignment.LockByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAssignmentNotFound
			}
			s.logger.Error("查询任课分配失败", zap.Int64("id", id), zap.Error(err))
			return err
		}

		target := current.StaffID
		if req.StaffID != nil {
			target = *req.StaffID
			if target != current.StaffID {
				if err := s.ensureStaff(ctx, tx, target); err != nil {
					return err
				}
			}
		}
		year := current.AcademicYear
		if nextYear != nil {
			year = *nextYear
		}
		nextSubjectID := current.SubjectID
		if req.SubjectID != nil {
			nextSubjectID = *req.SubjectID
		}

		nextSubject, nextCourse, err := s.loadSubject(ctx, tx, nextSubjectID, ErrTargetSubjectNotFound)
		if err != nil {
			return err
		}
		if req.CourseID != nil && *req.CourseID != nextCourse.ID {
			return fmt.Errorf("%w: 科目 %d 属于课程 %d，而非 %d", ErrCourseMismatch, nextSubject.ID, nextCourse.ID, *req.CourseID)
		}

		// 目标行的最终状态
		next := *current
		next.SubjectID, next.StaffID, next.AcademicYear = nextSubjectID, target, year
		if assignDate != nil {
			next.AssignmentDate = *assignDate
		}
		closing := applyActiveChange(&next, req.Active, req.EndDate.Set, endDate, s.now())

		keyChanged := nextSubjectID != current.SubjectID || target != current.StaffID || year != current.AcademicYear
		if keyChanged {
			other, err := tx.Assignment.FindByKey(ctx, nextSubjectID, target, year)
			switch {
			case err == nil && other.ID != current.ID:
				return fmt.Errorf("%w: 科目 %d / 教师 %d / %s", ErrDuplicateAssignment, nextSubjectID, target, year)
			case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}
		if next.IsOpen() {
			live, err := tx.Assignment.FindLiveBySubject(ctx, nextSubjectID, year)
			switch {
			case err == nil && live.ID != current.ID:
				return subjectTakenError(nextSubjectID, year, live)
			case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}

		if err := s.syncWeeklyHours(ctx, tx, nextSubject, req.WeeklyHours); err != nil {
			return err
		}

		if err := s.applyHistoryTransitions(ctx, tx, current, nextCourse, req, historyKey{
			courseID:  nextCourse.ID,
			staffID:   target,
			subjectID: nextSubjectID,
			year:      year,
		}, effective, keyChanged); err != nil {
			return err
		}

		if err := tx.Assignment.Update(ctx, &next); err != nil {
			s.logger.Error("更新任课分配失败", zap.Int64("id", id), zap.Error(err))
			return err
		}

		// 关闭分配时只关闭任课记录，班主任记录需显式降级
		if closing != nil {
			if _, err := tx.History.CloseOpen(ctx, repository.HistoryScope{
				CourseID:     nextCourse.ID,
				StaffID:      &target,
				SubjectID:    &nextSubjectID,
				IsPrincipal:  boolPtr(false),
				AcademicYear: yearScope(year),
			}, *closing); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.mapWriteError(err)
	}

	s.projection.AfterWrite()
	return s.GetByID(ctx, id)
}

// applyActiveChange 按请求更新 active / end_date，返回需要关闭任课历史的时间点（无需关闭时为 nil）
func applyActiveChange(a *model.Assignment, active *bool, endSet bool, endDate *time.Time, now time.Time) *time.Time {
	switch {
	case active != nil && !*active:
		a.Active = false
		closeAt := now
		if endDate != nil {
			closeAt = *endDate
		}
		a.EndDate = &closeAt
		return &closeAt
	case active != nil && *active:
		a.Active = true
		a.EndDate = nil
		if endSet && endDate != nil {
			a.EndDate = endDate
			return endDate
		}
		return nil
	case endSet:
		a.EndDate = endDate
		return endDate
	}
	return nil
}

// ────────────────────── Remove ──────────────────────

func (s *assignmentService) Remove(ctx context.Context, id int64) (*dto.AssignmentResponse, error) {
	err := s.inTx(ctx, func(tx *repository.Repository) error {
		current, err := tx.Assignment.LockByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAssignmentNotFound
			}
			s.logger.Error("查询任课分配失败", zap.Int64("id", id), zap.Error(err))
			return err
		}

		now := s.now()
		current.Active = false
		current.EndDate = &now
		if err := tx.Assignment.Update(ctx, current); err != nil {
			s.logger.Error("关闭任课分配失败", zap.Int64("id", id), zap.Error(err))
			return err
		}

		if current.Subject == nil || current.Subject.CourseID == nil {
			return nil
		}
		courseID := *current.Subject.CourseID
		if _, err := tx.History.CloseOpen(ctx, repository.HistoryScope{
			CourseID:     courseID,
			StaffID:      &current.StaffID,
			SubjectID:    &current.SubjectID,
			AcademicYear: yearScope(current.AcademicYear),
		}, now); err != nil {
			return err
		}

		// 关闭的若是班主任记录，同步清空课程缓存指针
		return s.syncPrincipalPointer(ctx, tx, current.Subject.Course, current.StaffID, current.AcademicYear)
	})
	if err != nil {
		return nil, s.mapWriteError(err)
	}

	s.projection.AfterWrite()
	return s.GetByID(ctx, id)
}

// ────────────────────── List ──────────────────────

func (s *assignmentService) List(ctx context.Context, q *dto.ListAssignmentsQuery) (*dto.AssignmentPage, error) {
	f := repository.AssignmentFilter{
		StaffID:      q.StaffID,
		SubjectID:    q.SubjectID,
		CourseID:     q.CourseID,
		AcademicYear: strings.TrimSpace(q.AcademicYear),
		Estado:       q.Estado,
		Q:            q.Q,
		Page:         q.Page,
		PageSize:     q.Limit,
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}

	reader := s.planRead(ctx, q)
	rows, total, err := reader.read(ctx, f)
	if err != nil {
		s.logger.Error("查询任课列表失败", zap.String("source", reader.source()), zap.Error(err))
		return nil, err
	}
	recordRead(reader.source())

	data := make([]dto.AssignmentResponse, 0, len(rows))
	for _, row := range rows {
		resp := toAssignmentResponse(row)
		if q.SoloOrientador && !resp.EsOrientador {
			continue
		}
		data = append(data, resp)
	}

	return &dto.AssignmentPage{
		Page:     f.Page,
		PageSize: f.PageSize,
		Total:    total,
		Count:    len(data),
		Data:     data,
		Source:   reader.source(),
	}, nil
}

// ────────────────────── History ──────────────────────

func (s *assignmentService) ListHistory(ctx context.Context, p *dto.HistoryParams) (*dto.HistoryPage, error) {
	page, limit := p.Page, p.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	entries, total, err := s.repo.History.List(ctx, repository.HistoryFilter{
		CourseID:           p.CourseID,
		StaffID:            p.StaffID,
		SubjectID:          p.SubjectID,
		SubjectIsNull:      p.SubjectIsNull,
		IsPrincipal:        p.IsPrincipal,
		AcademicYear:       p.AcademicYear,
		AcademicYearIsNull: p.AcademicYearIsNull,
		Estado:             p.Estado,
		Order:              p.Order,
		Page:               page,
		PageSize:           limit,
	})
	if err != nil {
		s.logger.Error("查询任职历史失败", zap.Error(err))
		return nil, err
	}

	data := make([]dto.HistoryItemResponse, 0, len(entries))
	for i := range entries {
		data = append(data, toHistoryItemResponse(&entries[i]))
	}
	return &dto.HistoryPage{
		Page:     page,
		PageSize: limit,
		Total:    total,
		Count:    len(data),
		Data:     data,
	}, nil
}

// ────────────────────── CoursePrincipal ──────────────────────

func (s *assignmentService) GetCoursePrincipal(ctx context.Context, courseID int64, academicYear string) (*dto.CoursePrincipalResponse, error) {
	course, err := s.repo.Course.GetByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCourseNotFound
		}
		s.logger.Error("查询课程失败", zap.Int64("course_id", courseID), zap.Error(err))
		return nil, err
	}

	resp := &dto.CoursePrincipalResponse{
		CourseID:               course.ID,
		CachedPrincipalStaffID: course.PrincipalStaffID,
	}
	scope := repository.HistoryScope{CourseID: course.ID, IsPrincipal: boolPtr(true)}
	if year := strings.TrimSpace(academicYear); year != "" {
		resp.AcademicYear = &year
		scope.AcademicYear = &year
	}

	entry, err := s.repo.History.FindOpen(ctx, scope)
	switch {
	case err == nil:
		ref := dto.StaffRef{ID: entry.StaffID}
		if entry.Staff != nil {
			ref.FullName = entry.Staff.FullName()
		}
		since := formatISO(entry.AssignmentDate)
		resp.Principal = &ref
		resp.Since = &since
		resp.AcademicYear = entry.AcademicYear
		resp.Consistent = course.IsPrincipal(entry.StaffID)
	case errors.Is(err, gorm.ErrRecordNotFound):
		resp.Consistent = course.PrincipalStaffID == nil
	default:
		s.logger.Error("查询班主任历史失败", zap.Int64("course_id", courseID), zap.Error(err))
		return nil, err
	}
	return resp, nil
}

// ── 辅助函数 ──

// inTx 在 SERIALIZABLE 事务内执行 fn；单元测试中 tx 为 nil，直接使用原 Repository
func (s *assignmentService) inTx(ctx context.Context, fn func(tx *repository.Repository) error) error {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		s.logger.Error("开启事务失败", zap.Error(err))
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			if tx != nil {
				tx.Rollback()
			}
			panic(r)
		}
	}()

	if err := fn(s.repo.WithTx(tx)); err != nil {
		if tx != nil {
			tx.Rollback()
		}
		return err
	}

	if tx != nil {
		if err := tx.Commit().Error; err != nil {
			s.logger.Error("提交事务失败", zap.Error(err))
			return err
		}
	}
	return nil
}

// loadSubject 查询科目及其课程；科目不存在返回 notFound，未关联课程返回 ErrSubjectWithoutCourse
func (s *assignmentService) loadSubject(ctx context.Context, tx *repository.Repository, id int64, notFound error) (*model.Subject, *model.Course, error) {
	subject, err := tx.Subject.GetWithCourse(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, notFound
		}
		s.logger.Error("查询科目失败", zap.Int64("subject_id", id), zap.Error(err))
		return nil, nil, err
	}
	if subject.Course == nil {
		return nil, nil, fmt.Errorf("%w: 科目 %d", ErrSubjectWithoutCourse, id)
	}
	return subject, subject.Course, nil
}

func (s *assignmentService) ensureStaff(ctx context.Context, tx *repository.Repository, id int64) error {
	if _, err := tx.Staff.GetByID(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrStaffNotFound
		}
		return err
	}
	return nil
}

// syncWeeklyHours 请求携带且与库中不同的周课时写回科目（后写覆盖）
func (s *assignmentService) syncWeeklyHours(ctx context.Context, tx *repository.Repository, subject *model.Subject, hours *float64) error {
	if hours == nil || *hours <= 0 {
		return nil
	}
	if subject.WeeklyHours != nil && *subject.WeeklyHours == *hours {
		return nil
	}
	if err := tx.Subject.UpdateWeeklyHours(ctx, subject.ID, *hours); err != nil {
		s.logger.Error("更新科目周课时失败", zap.Int64("subject_id", subject.ID), zap.Error(err))
		return err
	}
	h := *hours
	subject.WeeklyHours = &h
	return nil
}

// mapWriteError 将数据库层冲突转换为业务冲突
func (s *assignmentService) mapWriteError(err error) error {
	switch {
	case pkgerrors.IsUniqueViolation(err):
		switch pkgerrors.ConstraintName(err) {
		case constraintOpenPrincipal:
			err = ErrPrincipalConflict
		case constraintLiveSubject:
			err = ErrSubjectTaken
		default:
			err = ErrDuplicateAssignment
		}
	case pkgerrors.IsSerializationFailure(err):
		err = ErrConcurrentWrite
	}

	if pkgerrors.KindOf(err) == pkgerrors.KindConflict {
		recordConflict(conflictReason(err))
		s.logger.Warn("任课分配写入冲突", zap.Error(err))
	}
	return err
}

func conflictReason(err error) string {
	switch {
	case errors.Is(err, ErrSubjectTaken):
		return "subject_taken"
	case errors.Is(err, ErrDuplicateAssignment):
		return "duplicate"
	case errors.Is(err, ErrPrincipalConflict):
		return "principal"
	case errors.Is(err, ErrConcurrentWrite):
		return "serialization"
	}
	return ""
}

func subjectTakenError(subjectID int64, year string, live *model.Assignment) error {
	holder := "其他教师"
	if live.Staff != nil {
		holder = live.Staff.FullName()
	}
	return fmt.Errorf("%w: 科目 %d 在 %s 已分配给 %s", ErrSubjectTaken, subjectID, year, holder)
}

// normalizeAcademicYear 去除首尾空白后长度须在 4 到 10 之间
func normalizeAcademicYear(s string) (string, error) {
	year := strings.TrimSpace(s)
	if n := len(year); n < 4 || n > 10 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAcademicYear, s)
	}
	return year, nil
}

func parseOptionalDate(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	t, err := parseDate(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseDate 接受 RFC3339 或 YYYY-MM-DD
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

func boolPtr(b bool) *bool { return &b }

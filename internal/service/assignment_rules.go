package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/josecalderon2/CAI-backend/internal/dto"
	"github.com/josecalderon2/CAI-backend/internal/model"
	"github.com/josecalderon2/CAI-backend/internal/repository"
)

// historyKey 一条任职历史所属的 (课程, 教师, 科目, 学年)
type historyKey struct {
	courseID  int64
	staffID   int64
	subjectID int64
	year      string
}

func (k historyKey) scope(isPrincipal bool) repository.HistoryScope {
	staffID, subjectID := k.staffID, k.subjectID
	return repository.HistoryScope{
		CourseID:     k.courseID,
		StaffID:      &staffID,
		SubjectID:    &subjectID,
		IsPrincipal:  &isPrincipal,
		AcademicYear: yearScope(k.year),
	}
}

// yearScope 写路径的学年条件，空学年在入口处已被拒绝
func yearScope(year string) *string { return &year }

// ensureOpen 保证 key 下恰有一条未关闭的记录（班主任或任课），不存在则创建
func (s *assignmentService) ensureOpen(ctx context.Context, tx *repository.Repository, key historyKey, isPrincipal bool, at time.Time) error {
	_, err := tx.History.FindOpen(ctx, key.scope(isPrincipal))
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("查询任职历史失败", zap.Int64("course_id", key.courseID), zap.Error(err))
		return err
	}

	subjectID, year := key.subjectID, key.year
	entry := &model.HistoryEntry{
		CourseID:       key.courseID,
		StaffID:        key.staffID,
		SubjectID:      &subjectID,
		IsPrincipal:    isPrincipal,
		AcademicYear:   &year,
		AssignmentDate: at,
	}
	if err := tx.History.Create(ctx, entry); err != nil {
		s.logger.Error("创建任职历史失败",
			zap.Int64("course_id", key.courseID), zap.Int64("staff_id", key.staffID),
			zap.Bool("is_principal", isPrincipal), zap.Error(err))
		return err
	}
	return nil
}

// promote 将 key 对应教师设为课程本学年班主任
// 关闭其他班主任记录与该教师在本课程本学年的任课记录，保证唯一一条班主任记录，并写回课程缓存指针
func (s *assignmentService) promote(ctx context.Context, tx *repository.Repository, course *model.Course, key historyKey, at time.Time) error {
	current, err := tx.History.FindOpen(ctx, repository.HistoryScope{
		CourseID:     key.courseID,
		IsPrincipal:  boolPtr(true),
		AcademicYear: yearScope(key.year),
	})
	switch {
	case err == nil && current.StaffID == key.staffID && current.SubjectID != nil && *current.SubjectID == key.subjectID:
		// 已是同一科目的在任班主任
	case err == nil || errors.Is(err, gorm.ErrRecordNotFound):
		if _, err := tx.History.CloseOpen(ctx, repository.HistoryScope{
			CourseID:     key.courseID,
			IsPrincipal:  boolPtr(true),
			AcademicYear: yearScope(key.year),
		}, at); err != nil {
			return err
		}
	default:
		return err
	}

	staffID := key.staffID
	if _, err := tx.History.CloseOpen(ctx, repository.HistoryScope{
		CourseID:     key.courseID,
		StaffID:      &staffID,
		IsPrincipal:  boolPtr(false),
		AcademicYear: yearScope(key.year),
	}, at); err != nil {
		return err
	}

	if err := s.ensureOpen(ctx, tx, key, true, at); err != nil {
		return err
	}

	if !course.IsPrincipal(staffID) {
		if err := tx.Course.UpdatePrincipal(ctx, course.ID, &staffID); err != nil {
			s.logger.Error("更新课程班主任失败", zap.Int64("course_id", course.ID), zap.Error(err))
			return err
		}
		course.PrincipalStaffID = &staffID
	}
	return nil
}

// demote 撤销该教师在课程本学年的班主任身份，改为普通任课
func (s *assignmentService) demote(ctx context.Context, tx *repository.Repository, course *model.Course, key historyKey, at time.Time) error {
	staffID := key.staffID
	if _, err := tx.History.CloseOpen(ctx, repository.HistoryScope{
		CourseID:     key.courseID,
		StaffID:      &staffID,
		IsPrincipal:  boolPtr(true),
		AcademicYear: yearScope(key.year),
	}, at); err != nil {
		return err
	}

	if course.IsPrincipal(staffID) {
		if err := tx.Course.UpdatePrincipal(ctx, course.ID, nil); err != nil {
			s.logger.Error("清空课程班主任失败", zap.Int64("course_id", course.ID), zap.Error(err))
			return err
		}
		course.PrincipalStaffID = nil
	}

	return s.ensureOpen(ctx, tx, key, false, at)
}

// applyHistoryTransitions 更新时的历史记录迁移
//
//	1. 键（科目/教师/学年）变化：关闭旧键下的任课记录
//	2. 在任班主任换科目：班主任记录迁移到新科目
//	3. 显式 is_principal=true：升为班主任
//	4. 显式 is_principal=false：降为任课
//	5. 普通改派：目标教师不是课程在任班主任时才保证任课记录
func (s *assignmentService) applyHistoryTransitions(
	ctx context.Context,
	tx *repository.Repository,
	current *model.Assignment,
	course *model.Course,
	req *dto.UpdateAssignmentRequest,
	key historyKey,
	at time.Time,
	keyChanged bool,
) error {
	promote := req.IsPrincipal != nil && *req.IsPrincipal
	demote := req.IsPrincipal != nil && !*req.IsPrincipal
	subjectChanged := current.SubjectID != key.subjectID

	staffID := key.staffID
	_, err := tx.History.FindOpen(ctx, repository.HistoryScope{
		CourseID:     key.courseID,
		StaffID:      &staffID,
		IsPrincipal:  boolPtr(true),
		AcademicYear: yearScope(key.year),
	})
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	hasOpenPrincipal := err == nil

	if keyChanged && current.Subject != nil && current.Subject.CourseID != nil {
		oldStaff, oldSubject := current.StaffID, current.SubjectID
		if _, err := tx.History.CloseOpen(ctx, repository.HistoryScope{
			CourseID:     *current.Subject.CourseID,
			StaffID:      &oldStaff,
			SubjectID:    &oldSubject,
			IsPrincipal:  boolPtr(false),
			AcademicYear: yearScope(current.AcademicYear),
		}, at); err != nil {
			return err
		}
	}

	touched := false
	if hasOpenPrincipal && subjectChanged && course.IsPrincipal(staffID) {
		if err := s.promote(ctx, tx, course, key, at); err != nil {
			return err
		}
		touched = true
	}

	if !touched && promote {
		if err := s.promote(ctx, tx, course, key, at); err != nil {
			return err
		}
	}

	if demote {
		if err := s.demote(ctx, tx, course, key, at); err != nil {
			return err
		}
	}

	if !promote && !demote && (req.StaffID != nil || req.SubjectID != nil) && !course.IsPrincipal(staffID) {
		return s.ensureOpen(ctx, tx, key, false, at)
	}
	return nil
}

// syncPrincipalPointer 教师已无未关闭的班主任记录时清空课程缓存指针
func (s *assignmentService) syncPrincipalPointer(ctx context.Context, tx *repository.Repository, course *model.Course, staffID int64, year string) error {
	if course == nil || !course.IsPrincipal(staffID) {
		return nil
	}
	_, err := tx.History.FindOpen(ctx, repository.HistoryScope{
		CourseID:     course.ID,
		StaffID:      &staffID,
		IsPrincipal:  boolPtr(true),
		AcademicYear: yearScope(year),
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err := tx.Course.UpdatePrincipal(ctx, course.ID, nil); err != nil {
		s.logger.Error("清空课程班主任失败", zap.Int64("course_id", course.ID), zap.Error(err))
		return err
	}
	course.PrincipalStaffID = nil
	return nil
}

package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/josecalderon2/CAI-backend/internal/model"
)

// HistoryRepository 课程任职历史数据访问接口
// 只追加：记录只会被创建或关闭，从不删除
type HistoryRepository interface {
	Create(ctx context.Context, entry *model.HistoryEntry) error
	// FindOpen 返回匹配范围内最新的未关闭记录（含 Staff）
	FindOpen(ctx context.Context, scope HistoryScope) (*model.HistoryEntry, error)
	// CloseOpen 关闭匹配范围内所有未关闭记录，返回关闭条数
	CloseOpen(ctx context.Context, scope HistoryScope, at time.Time) (int64, error)
	List(ctx context.Context, f HistoryFilter) ([]model.HistoryEntry, int64, error)
}

type historyRepo struct {
	db *gorm.DB
}

// NewHistoryRepo 创建 HistoryRepository 实例
func NewHistoryRepo(db *gorm.DB) HistoryRepository {
	return &historyRepo{db: db}
}

func (r *historyRepo) Create(ctx context.Context, entry *model.HistoryEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *historyRepo) FindOpen(ctx context.Context, scope HistoryScope) (*model.HistoryEntry, error) {
	var entry model.HistoryEntry
	err := applyHistoryScope(r.db.WithContext(ctx).Preload("Staff"), scope).
		Order("assignment_date DESC, id DESC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *historyRepo) CloseOpen(ctx context.Context, scope HistoryScope, at time.Time) (int64, error) {
	result := applyHistoryScope(r.db.WithContext(ctx).Model(&model.HistoryEntry{}), scope).
		Update("end_date", at)
	return result.RowsAffected, result.Error
}

func (r *historyRepo) List(ctx context.Context, f HistoryFilter) ([]model.HistoryEntry, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.HistoryEntry{})

	if f.CourseID != nil {
		q = q.Where("course_id = ?", *f.CourseID)
	}
	if f.StaffID != nil {
		q = q.Where("staff_id = ?", *f.StaffID)
	}
	if f.SubjectIsNull {
		q = q.Where("subject_id IS NULL")
	} else if f.SubjectID != nil {
		q = q.Where("subject_id = ?", *f.SubjectID)
	}
	if f.IsPrincipal != nil {
		q = q.Where("is_principal = ?", *f.IsPrincipal)
	}
	if f.AcademicYearIsNull {
		q = q.Where("academic_year IS NULL")
	} else if f.AcademicYear != nil {
		q = q.Where("academic_year = ?", *f.AcademicYear)
	}
	switch f.Estado {
	case "abierto":
		q = q.Where("end_date IS NULL")
	case "cerrado":
		q = q.Where("end_date IS NOT NULL")
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "assignment_date DESC, id DESC"
	if f.Order == "asc" {
		order = "assignment_date ASC, id ASC"
	}
	offset, limit := normalizePage(f.Page, f.PageSize)

	var entries []model.HistoryEntry
	err := q.
		Preload("Course").Preload("Staff").Preload("Subject").
		Order(order).
		Offset(offset).Limit(limit).
		Find(&entries).Error
	return entries, total, err
}

package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/josecalderon2/CAI-backend/internal/model"
)

// ProjectionRepository 物化视图 mv_assignments 访问接口
type ProjectionRepository interface {
	// Refresh 重建物化视图；concurrently 为 true 时不阻塞读（需要唯一索引）
	Refresh(ctx context.Context, concurrently bool) error
	List(ctx context.Context, f AssignmentFilter) ([]model.AssignmentRow, int64, error)
}

const (
	refreshBlockingSQL   = "REFRESH MATERIALIZED VIEW mv_assignments"
	refreshConcurrentSQL = "REFRESH MATERIALIZED VIEW CONCURRENTLY mv_assignments"
)

type projectionRepo struct {
	db *gorm.DB
}

// NewProjectionRepo 创建 ProjectionRepository 实例
func NewProjectionRepo(db *gorm.DB) ProjectionRepository {
	return &projectionRepo{db: db}
}

func (r *projectionRepo) Refresh(ctx context.Context, concurrently bool) error {
	sql := refreshBlockingSQL
	if concurrently {
		sql = refreshConcurrentSQL
	}
	return r.db.WithContext(ctx).Exec(sql).Error
}

func (r *projectionRepo) List(ctx context.Context, f AssignmentFilter) ([]model.AssignmentRow, int64, error) {
	q := applyAssignmentFilter(r.db.WithContext(ctx).Model(&model.AssignmentRow{}), f, mvColumns).
		Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := normalizePage(f.Page, f.PageSize)
	var rows []model.AssignmentRow
	err := q.
		Order(mvColumns.orderBy).
		Offset(offset).Limit(limit).
		Find(&rows).Error
	return rows, total, err
}

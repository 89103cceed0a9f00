package repository

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
)

// Repository 所有 Repository 的聚合入口
type Repository struct {
	db *gorm.DB

	Staff      StaffRepository
	Course     CourseRepository
	Subject    SubjectRepository
	Assignment AssignmentRepository
	History    HistoryRepository
	Projection ProjectionRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:         db,
		Staff:      NewStaffRepo(db),
		Course:     NewCourseRepo(db),
		Subject:    NewSubjectRepo(db),
		Assignment: NewAssignmentRepo(db),
		History:    NewHistoryRepo(db),
		Projection: NewProjectionRepo(db),
	}
}

// BeginTx 开启 SERIALIZABLE 事务
// db 为 nil 时（单元测试注入 mock）返回 nil, nil，调用方需判空
func (r *Repository) BeginTx(ctx context.Context) (*gorm.DB, error) {
	if r.db == nil {
		return nil, nil
	}
	tx := r.db.WithContext(ctx).Begin(&sql.TxOptions{Isolation: sql.LevelSerializable})
	if tx.Error != nil {
		return nil, tx.Error
	}
	return tx, nil
}

// WithTx 返回绑定到事务连接的 Repository 副本；tx 为 nil 时返回自身
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{
		db:         tx,
		Staff:      NewStaffRepo(tx),
		Course:     NewCourseRepo(tx),
		Subject:    NewSubjectRepo(tx),
		Assignment: NewAssignmentRepo(tx),
		History:    NewHistoryRepo(tx),
		Projection: r.Projection,
	}
}

// normalizePage 页码从 1 开始，pageSize 默认 20、上限 100
func normalizePage(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return (page - 1) * pageSize, pageSize
}

package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/josecalderon2/CAI-backend/internal/model"
)

// CourseRepository 课程数据访问接口
// 本模块只维护 principal_staff_id 缓存，其余字段由课程模块管理
type CourseRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Course, error)
	UpdatePrincipal(ctx context.Context, id int64, staffID *int64) error
}

type courseRepo struct {
	db *gorm.DB
}

// NewCourseRepo 创建 CourseRepository 实例
func NewCourseRepo(db *gorm.DB) CourseRepository {
	return &courseRepo{db: db}
}

func (r *courseRepo) GetByID(ctx context.Context, id int64) (*model.Course, error) {
	var course model.Course
	err := r.db.WithContext(ctx).
		Preload("Principal").
		Where("id = ?", id).
		First(&course).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// UpdatePrincipal 写入班主任缓存指针；staffID 为 nil 表示清空
func (r *courseRepo) UpdatePrincipal(ctx context.Context, id int64, staffID *int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.Course{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"principal_staff_id": staffID,
			"updated_at":         gorm.Expr("NOW()"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/josecalderon2/CAI-backend/internal/model"
)

// SubjectRepository 科目数据访问接口
type SubjectRepository interface {
	// GetWithCourse 查询科目并预加载所属课程及其当前班主任
	GetWithCourse(ctx context.Context, id int64) (*model.Subject, error)
	UpdateWeeklyHours(ctx context.Context, id int64, hours float64) error
}

type subjectRepo struct {
	db *gorm.DB
}

// NewSubjectRepo 创建 SubjectRepository 实例
func NewSubjectRepo(db *gorm.DB) SubjectRepository {
	return &subjectRepo{db: db}
}

func (r *subjectRepo) GetWithCourse(ctx context.Context, id int64) (*model.Subject, error) {
	var subject model.Subject
	err := r.db.WithContext(ctx).
		Preload("Course").Preload("Course.Principal").
		Where("id = ?", id).
		First(&subject).Error
	if err != nil {
		return nil, err
	}
	return &subject, nil
}

func (r *subjectRepo) UpdateWeeklyHours(ctx context.Context, id int64, hours float64) error {
	return r.db.WithContext(ctx).
		Model(&model.Subject{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"weekly_hours": hours,
			"updated_at":   gorm.Expr("NOW()"),
		}).Error
}

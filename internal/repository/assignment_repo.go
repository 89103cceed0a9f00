package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/josecalderon2/CAI-backend/internal/model"
)

// AssignmentRepository 科目任课分配数据访问接口
type AssignmentRepository interface {
	// GetByID 查询并预加载 Staff、Subject.Course.Principal
	GetByID(ctx context.Context, id int64) (*model.Assignment, error)
	// LockByID 使用 SELECT ... FOR UPDATE 锁定分配行，必须在事务内调用
	LockByID(ctx context.Context, id int64) (*model.Assignment, error)
	// FindLiveBySubject 查询某科目某学年 active 且未结束的分配（含 Staff）
	FindLiveBySubject(ctx context.Context, subjectID int64, academicYear string) (*model.Assignment, error)
	FindByKey(ctx context.Context, subjectID, staffID int64, academicYear string) (*model.Assignment, error)
	// Upsert 以 (subject_id, staff_id, academic_year) 为键插入或重新打开
	// keepDate 为 true 时冲突更新不覆盖 assignment_date
	Upsert(ctx context.Context, a *model.Assignment, keepDate bool) error
	Update(ctx context.Context, a *model.Assignment) error
	// List 实时联表查询
	List(ctx context.Context, f AssignmentFilter) ([]model.Assignment, int64, error)
}

type assignmentRepo struct {
	db *gorm.DB
}

// NewAssignmentRepo 创建 AssignmentRepository 实例
func NewAssignmentRepo(db *gorm.DB) AssignmentRepository {
	return &assignmentRepo{db: db}
}

func (r *assignmentRepo) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Staff").
		Preload("Subject").Preload("Subject.Course").Preload("Subject.Course.Principal")
}

func (r *assignmentRepo) GetByID(ctx context.Context, id int64) (*model.Assignment, error) {
	var a model.Assignment
	err := r.preloaded(ctx).
		Where("id = ?", id).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assignmentRepo) LockByID(ctx context.Context, id int64) (*model.Assignment, error) {
	var a model.Assignment
	err := r.preloaded(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assignmentRepo) FindLiveBySubject(ctx context.Context, subjectID int64, academicYear string) (*model.Assignment, error) {
	var a model.Assignment
	err := r.db.WithContext(ctx).
		Preload("Staff").
		Where("subject_id = ? AND academic_year = ? AND active = ? AND end_date IS NULL", subjectID, academicYear, true).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assignmentRepo) FindByKey(ctx context.Context, subjectID, staffID int64, academicYear string) (*model.Assignment, error) {
	var a model.Assignment
	err := r.db.WithContext(ctx).
		Where("subject_id = ? AND staff_id = ? AND academic_year = ?", subjectID, staffID, academicYear).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assignmentRepo) Upsert(ctx context.Context, a *model.Assignment, keepDate bool) error {
	updates := []string{"active", "end_date", "updated_at"}
	if !keepDate {
		updates = append(updates, "assignment_date")
	}
	if a.AssignmentDate.IsZero() {
		a.AssignmentDate = time.Now()
	}
	a.UpdatedAt = time.Now()

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subject_id"}, {Name: "staff_id"}, {Name: "academic_year"}},
			DoUpdates: clause.AssignmentColumns(updates),
		}).
		Create(a).Error
}

// Update 按主键整体写回可变字段（包括零值 active=false / end_date=NULL）
func (r *assignmentRepo) Update(ctx context.Context, a *model.Assignment) error {
	return r.db.WithContext(ctx).
		Model(&model.Assignment{ID: a.ID}).
		Select("subject_id", "staff_id", "academic_year", "assignment_date", "end_date", "active", "updated_at").
		Updates(&model.Assignment{
			SubjectID:      a.SubjectID,
			StaffID:        a.StaffID,
			AcademicYear:   a.AcademicYear,
			AssignmentDate: a.AssignmentDate,
			EndDate:        a.EndDate,
			Active:         a.Active,
			BaseModel:      model.BaseModel{UpdatedAt: time.Now()},
		}).Error
}

func (r *assignmentRepo) List(ctx context.Context, f AssignmentFilter) ([]model.Assignment, int64, error) {
	base := r.db.WithContext(ctx).
		Table("subject_staff_assignments AS a").
		Joins("JOIN subjects s ON s.id = a.subject_id").
		Joins("JOIN staff st ON st.id = a.staff_id").
		Joins("LEFT JOIN courses c ON c.id = s.course_id")
	base = applyAssignmentFilter(base, f, liveColumns).Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := normalizePage(f.Page, f.PageSize)
	var ids []int64
	err := base.
		Order(liveColumns.orderBy).
		Offset(offset).Limit(limit).
		Pluck("a.id", &ids).Error
	if err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return []model.Assignment{}, total, nil
	}

	// 第二步按 id 预加载关联，顺序以第一步为准
	var loaded []model.Assignment
	if err := r.preloaded(ctx).Where("id IN ?", ids).Find(&loaded).Error; err != nil {
		return nil, 0, err
	}
	byID := make(map[int64]model.Assignment, len(loaded))
	for _, a := range loaded {
		byID[a.ID] = a
	}
	list := make([]model.Assignment, 0, len(ids))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			list = append(list, a)
		}
	}
	return list, total, nil
}

package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/josecalderon2/CAI-backend/internal/model"
	"github.com/josecalderon2/CAI-backend/internal/repository"
)

// ── 内存数据集（所有 mock repo 共享） ──

type memStore struct {
	mu          sync.Mutex
	staff       map[int64]*model.Staff
	courses     map[int64]*model.Course
	subjects    map[int64]*model.Subject
	assignments map[int64]*model.Assignment
	history     []*model.HistoryEntry
	nextID      int64

	// 物化视图快照，只在 Refresh 时重建
	snapshot       []model.AssignmentRow
	refreshCalls   int
	failConcurrent bool
}

func newMemStore() *memStore {
	return &memStore{
		staff:       make(map[int64]*model.Staff),
		courses:     make(map[int64]*model.Course),
		subjects:    make(map[int64]*model.Subject),
		assignments: make(map[int64]*model.Assignment),
		nextID:      100,
	}
}

func (m *memStore) newID() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addStaff(id int64, first, last string) {
	m.staff[id] = &model.Staff{ID: id, FirstName: first, LastName: last, Active: true}
}

func (m *memStore) addCourse(id int64, name, section string) {
	sec := section
	m.courses[id] = &model.Course{ID: id, Name: name, Section: &sec}
}

func (m *memStore) addSubject(id int64, courseID *int64, name string, hours float64) {
	h := hours
	m.subjects[id] = &model.Subject{ID: id, CourseID: courseID, Name: name, WeeklyHours: &h}
}

// hydrateCourse 返回课程副本并填充 Principal
func (m *memStore) hydrateCourse(id int64) *model.Course {
	c, ok := m.courses[id]
	if !ok {
		return nil
	}
	cp := *c
	if cp.PrincipalStaffID != nil {
		if p, ok := m.staff[*cp.PrincipalStaffID]; ok {
			pc := *p
			cp.Principal = &pc
		}
	}
	return &cp
}

func (m *memStore) hydrateSubject(id int64) *model.Subject {
	s, ok := m.subjects[id]
	if !ok {
		return nil
	}
	cp := *s
	if cp.CourseID != nil {
		cp.Course = m.hydrateCourse(*cp.CourseID)
	}
	return &cp
}

func (m *memStore) hydrateAssignment(a *model.Assignment) *model.Assignment {
	cp := *a
	cp.Subject = m.hydrateSubject(a.SubjectID)
	if st, ok := m.staff[a.StaffID]; ok {
		sc := *st
		cp.Staff = &sc
	}
	return &cp
}

// openHistory 测试断言用：按条件统计未关闭记录
func (m *memStore) openHistory(courseID int64, year string, isPrincipal bool) []*model.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.HistoryEntry
	for _, h := range m.history {
		if h.CourseID == courseID && h.EndDate == nil && h.IsPrincipal == isPrincipal &&
			h.AcademicYear != nil && *h.AcademicYear == year {
			out = append(out, h)
		}
	}
	return out
}

func (m *memStore) liveAssignments(subjectID int64, year string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.assignments {
		if a.SubjectID == subjectID && a.AcademicYear == year && a.IsOpen() {
			n++
		}
	}
	return n
}

func (m *memStore) principalOf(courseID int64) *int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.courses[courseID].PrincipalStaffID
}

// ── Mock StaffRepository ──

type mockStaffRepo struct{ s *memStore }

func (r *mockStaffRepo) GetByID(_ context.Context, id int64) (*model.Staff, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if st, ok := r.s.staff[id]; ok {
		cp := *st
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

// ── Mock CourseRepository ──

type mockCourseRepo struct{ s *memStore }

func (r *mockCourseRepo) GetByID(_ context.Context, id int64) (*model.Course, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c := r.s.hydrateCourse(id); c != nil {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockCourseRepo) UpdatePrincipal(_ context.Context, id int64, staffID *int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.courses[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if staffID == nil {
		c.PrincipalStaffID = nil
	} else {
		v := *staffID
		c.PrincipalStaffID = &v
	}
	return nil
}

// ── Mock SubjectRepository ──

type mockSubjectRepo struct{ s *memStore }

func (r *mockSubjectRepo) GetWithCourse(_ context.Context, id int64) (*model.Subject, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sub := r.s.hydrateSubject(id); sub != nil {
		return sub, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockSubjectRepo) UpdateWeeklyHours(_ context.Context, id int64, hours float64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subjects[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	h := hours
	sub.WeeklyHours = &h
	return nil
}

// ── Mock AssignmentRepository ──

type mockAssignmentRepo struct{ s *memStore }

func (r *mockAssignmentRepo) GetByID(_ context.Context, id int64) (*model.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.assignments[id]; ok {
		return r.s.hydrateAssignment(a), nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockAssignmentRepo) LockByID(ctx context.Context, id int64) (*model.Assignment, error) {
	return r.GetByID(ctx, id)
}

func (r *mockAssignmentRepo) FindLiveBySubject(_ context.Context, subjectID int64, year string) (*model.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.assignments {
		if a.SubjectID == subjectID && a.AcademicYear == year && a.IsOpen() {
			return r.s.hydrateAssignment(a), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockAssignmentRepo) FindByKey(_ context.Context, subjectID, staffID int64, year string) (*model.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.assignments {
		if a.SubjectID == subjectID && a.StaffID == staffID && a.AcademicYear == year {
			cp := *a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockAssignmentRepo) Upsert(_ context.Context, a *model.Assignment, keepDate bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a.AssignmentDate.IsZero() {
		a.AssignmentDate = time.Now()
	}
	for _, existing := range r.s.assignments {
		if existing.SubjectID == a.SubjectID && existing.StaffID == a.StaffID && existing.AcademicYear == a.AcademicYear {
			existing.Active = a.Active
			existing.EndDate = nil
			if !keepDate {
				existing.AssignmentDate = a.AssignmentDate
			}
			a.ID = existing.ID
			return nil
		}
	}
	a.ID = r.s.newID()
	cp := *a
	r.s.assignments[a.ID] = &cp
	return nil
}

func (r *mockAssignmentRepo) Update(_ context.Context, a *model.Assignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.assignments[a.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	existing.SubjectID = a.SubjectID
	existing.StaffID = a.StaffID
	existing.AcademicYear = a.AcademicYear
	existing.AssignmentDate = a.AssignmentDate
	existing.EndDate = a.EndDate
	existing.Active = a.Active
	return nil
}

func (r *mockAssignmentRepo) List(_ context.Context, f repository.AssignmentFilter) ([]model.Assignment, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var rows []model.AssignmentRow
	for _, a := range r.s.assignments {
		rows = append(rows, model.RowFromAssignment(r.s.hydrateAssignment(a)))
	}
	page, total := filterRows(rows, f)
	out := make([]model.Assignment, 0, len(page))
	for _, row := range page {
		out = append(out, *r.s.hydrateAssignment(r.s.assignments[row.AssignmentID]))
	}
	return out, total, nil
}

// ── Mock HistoryRepository ──

type mockHistoryRepo struct{ s *memStore }

func matchScope(h *model.HistoryEntry, sc repository.HistoryScope) bool {
	if h.CourseID != sc.CourseID || h.EndDate != nil {
		return false
	}
	if sc.StaffID != nil && h.StaffID != *sc.StaffID {
		return false
	}
	if sc.SubjectID != nil && (h.SubjectID == nil || *h.SubjectID != *sc.SubjectID) {
		return false
	}
	if sc.IsPrincipal != nil && h.IsPrincipal != *sc.IsPrincipal {
		return false
	}
	if sc.AcademicYear != nil && (h.AcademicYear == nil || *h.AcademicYear != *sc.AcademicYear) {
		return false
	}
	return true
}

func (r *mockHistoryRepo) Create(_ context.Context, entry *model.HistoryEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	// 模拟部分唯一索引
	for _, h := range r.s.history {
		if h.EndDate != nil || h.CourseID != entry.CourseID || h.IsPrincipal != entry.IsPrincipal {
			continue
		}
		if deref(h.AcademicYear) != deref(entry.AcademicYear) {
			continue
		}
		if entry.IsPrincipal {
			return &pgconn.PgError{Code: "23505", ConstraintName: constraintOpenPrincipal}
		}
		if h.StaffID == entry.StaffID && derefID(h.SubjectID) == derefID(entry.SubjectID) {
			return &pgconn.PgError{Code: "23505", ConstraintName: "ux_history_open_teacher"}
		}
	}
	entry.ID = r.s.newID()
	cp := *entry
	r.s.history = append(r.s.history, &cp)
	return nil
}

func (r *mockHistoryRepo) FindOpen(_ context.Context, sc repository.HistoryScope) (*model.HistoryEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.history) - 1; i >= 0; i-- {
		h := r.s.history[i]
		if matchScope(h, sc) {
			cp := *h
			if st, ok := r.s.staff[h.StaffID]; ok {
				stc := *st
				cp.Staff = &stc
			}
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockHistoryRepo) CloseOpen(_ context.Context, sc repository.HistoryScope, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, h := range r.s.history {
		if matchScope(h, sc) {
			t := at
			h.EndDate = &t
			n++
		}
	}
	return n, nil
}

func (r *mockHistoryRepo) List(_ context.Context, f repository.HistoryFilter) ([]model.HistoryEntry, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []model.HistoryEntry
	for _, h := range r.s.history {
		switch {
		case f.CourseID != nil && h.CourseID != *f.CourseID,
			f.StaffID != nil && h.StaffID != *f.StaffID,
			f.SubjectIsNull && h.SubjectID != nil,
			!f.SubjectIsNull && f.SubjectID != nil && derefID(h.SubjectID) != *f.SubjectID,
			f.IsPrincipal != nil && h.IsPrincipal != *f.IsPrincipal,
			f.AcademicYearIsNull && h.AcademicYear != nil,
			!f.AcademicYearIsNull && f.AcademicYear != nil && deref(h.AcademicYear) != *f.AcademicYear,
			f.Estado == "abierto" && h.EndDate != nil,
			f.Estado == "cerrado" && h.EndDate == nil:
			continue
		}
		cp := *h
		cp.Course = r.s.hydrateCourse(h.CourseID)
		if st, ok := r.s.staff[h.StaffID]; ok {
			stc := *st
			cp.Staff = &stc
		}
		if h.SubjectID != nil {
			cp.Subject = r.s.hydrateSubject(*h.SubjectID)
		}
		matched = append(matched, cp)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if f.Order == "asc" {
			return matched[i].AssignmentDate.Before(matched[j].AssignmentDate)
		}
		return matched[i].AssignmentDate.After(matched[j].AssignmentDate)
	})
	total := int64(len(matched))
	start, end := pageBounds(len(matched), f.Page, f.PageSize)
	return matched[start:end], total, nil
}

// ── Mock ProjectionRepository ──

type mockProjectionRepo struct{ s *memStore }

func (r *mockProjectionRepo) Refresh(_ context.Context, concurrently bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.refreshCalls++
	if concurrently && r.s.failConcurrent {
		return &pgconn.PgError{Code: "55000", Message: "cannot refresh materialized view concurrently"}
	}
	r.s.snapshot = r.s.snapshot[:0]
	for _, a := range r.s.assignments {
		r.s.snapshot = append(r.s.snapshot, model.RowFromAssignment(r.s.hydrateAssignment(a)))
	}
	return nil
}

func (r *mockProjectionRepo) List(_ context.Context, f repository.AssignmentFilter) ([]model.AssignmentRow, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rows := append([]model.AssignmentRow(nil), r.s.snapshot...)
	page, total := filterRows(rows, f)
	return page, total, nil
}

// ── 过滤 / 分页（与 SQL 语义一致） ──

func filterRows(rows []model.AssignmentRow, f repository.AssignmentFilter) ([]model.AssignmentRow, int64) {
	q := strings.ToLower(strings.TrimSpace(f.Q))
	var out []model.AssignmentRow
	for _, row := range rows {
		switch {
		case f.StaffID != nil && row.StaffID != *f.StaffID,
			f.SubjectID != nil && row.SubjectID != *f.SubjectID,
			f.CourseID != nil && derefID(row.CourseID) != *f.CourseID,
			f.AcademicYear != "" && row.AcademicYear != f.AcademicYear,
			f.Estado == model.EstadoActivo && !(row.Active && row.EndDate == nil),
			f.Estado == model.EstadoInactivo && row.Active,
			f.Estado == model.EstadoFinalizado && row.EndDate == nil:
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(row.StaffName), q) &&
			!strings.Contains(strings.ToLower(row.SubjectName), q) &&
			!strings.Contains(strings.ToLower(deref(row.CourseName)), q) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].AssignmentDate, out[j].AssignmentDate
		if di != nil && dj != nil && !di.Equal(*dj) {
			return di.After(*dj)
		}
		return out[i].AssignmentID > out[j].AssignmentID
	})
	start, end := pageBounds(len(out), f.Page, f.PageSize)
	return out[start:end], int64(len(out))
}

func pageBounds(n, page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	start := (page - 1) * size
	if start > n {
		start = n
	}
	end := start + size
	if end > n {
		end = n
	}
	return start, end
}

func derefID(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// newMockRepository 组装共享同一数据集的 Repository
func newMockRepository(s *memStore) *repository.Repository {
	return &repository.Repository{
		Staff:      &mockStaffRepo{s: s},
		Course:     &mockCourseRepo{s: s},
		Subject:    &mockSubjectRepo{s: s},
		Assignment: &mockAssignmentRepo{s: s},
		History:    &mockHistoryRepo{s: s},
		Projection: &mockProjectionRepo{s: s},
	}
}

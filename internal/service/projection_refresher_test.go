package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/josecalderon2/CAI-backend/config"
	"github.com/josecalderon2/CAI-backend/internal/model"
	"github.com/josecalderon2/CAI-backend/internal/repository"
)

// fakeProjectionRepo 可控的物化视图仓储：记录调用、可阻塞、可注入失败
type fakeProjectionRepo struct {
	concurrentCalls atomic.Int32
	blockingCalls   atomic.Int32

	failConcurrent bool
	failBlocking   bool
	waitCtx        bool

	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *fakeProjectionRepo) Refresh(ctx context.Context, concurrently bool) error {
	if concurrently {
		f.concurrentCalls.Add(1)
	} else {
		f.blockingCalls.Add(1)
	}
	if f.release != nil {
		f.once.Do(func() {
			close(f.entered)
			<-f.release
		})
	}
	if f.waitCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	if concurrently && f.failConcurrent {
		return errors.New("cannot refresh materialized view concurrently")
	}
	if !concurrently && f.failBlocking {
		return errors.New("relation mv_assignments does not exist")
	}
	return nil
}

func (f *fakeProjectionRepo) List(context.Context, repository.AssignmentFilter) ([]model.AssignmentRow, int64, error) {
	return nil, 0, nil
}

func (f *fakeProjectionRepo) gate() {
	f.entered = make(chan struct{})
	f.release = make(chan struct{})
}

type fakeStamp struct {
	mu     sync.Mutex
	last   time.Time
	marked int
}

func (s *fakeStamp) LastRefresh(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

func (s *fakeStamp) MarkRefreshed(_ context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = at
	s.marked++
	return nil
}

func newTestRefresher(repo repository.ProjectionRepository, ttl time.Duration, stamp RefreshStamp) *ProjectionRefresher {
	return NewProjectionRefresher(repo, &config.ProjectionConfig{
		Enabled:        true,
		RefreshTTL:     ttl,
		RefreshTimeout: time.Second,
	}, stamp, zap.NewNop())
}

func TestProjectionRefresher_Disabled(t *testing.T) {
	repo := &fakeProjectionRepo{}
	r := NewProjectionRefresher(repo, &config.ProjectionConfig{Enabled: false}, nil, zap.NewNop())

	res := r.Refresh(context.Background(), true)
	require.Equal(t, RefreshDisabled, res.Mode)
	require.False(t, res.Refreshed)

	r.AfterWrite()
	r.Wait()
	require.Zero(t, repo.concurrentCalls.Load())
}

func TestProjectionRefresher_ConcurrentByDefault(t *testing.T) {
	repo := &fakeProjectionRepo{}
	r := newTestRefresher(repo, 0, nil)

	res := r.Refresh(context.Background(), false)
	require.True(t, res.Refreshed)
	require.Equal(t, RefreshConcurrent, res.Mode)
	require.EqualValues(t, 1, repo.concurrentCalls.Load())
	require.Zero(t, repo.blockingCalls.Load())
}

func TestProjectionRefresher_TTLThrottlesUnlessForced(t *testing.T) {
	repo := &fakeProjectionRepo{}
	r := newTestRefresher(repo, time.Minute, nil)
	ctx := context.Background()

	require.True(t, r.Refresh(ctx, false).Refreshed)

	skipped := r.Refresh(ctx, false)
	require.Equal(t, RefreshSkipped, skipped.Mode)
	require.False(t, skipped.Refreshed)

	require.True(t, r.Refresh(ctx, true).Refreshed)
	require.EqualValues(t, 2, repo.concurrentCalls.Load())

	// TTL 过后重新刷新
	base := time.Now()
	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	require.True(t, r.Refresh(ctx, false).Refreshed)
	require.EqualValues(t, 3, repo.concurrentCalls.Load())
}

func TestProjectionRefresher_FallsBackToBlocking(t *testing.T) {
	repo := &fakeProjectionRepo{failConcurrent: true}
	r := newTestRefresher(repo, 0, nil)

	res := r.Refresh(context.Background(), true)
	require.True(t, res.Refreshed)
	require.Equal(t, RefreshBlocking, res.Mode)
	require.EqualValues(t, 1, repo.concurrentCalls.Load())
	require.EqualValues(t, 1, repo.blockingCalls.Load())
}

func TestProjectionRefresher_FailureIsSwallowedAndThrottled(t *testing.T) {
	repo := &fakeProjectionRepo{failConcurrent: true, failBlocking: true}
	r := newTestRefresher(repo, time.Minute, nil)
	ctx := context.Background()

	res := r.Refresh(ctx, false)
	require.Equal(t, RefreshFailed, res.Mode)
	require.False(t, res.Refreshed)

	// 失败后 TTL 内不再重试
	require.Equal(t, RefreshSkipped, r.Refresh(ctx, false).Mode)
	require.EqualValues(t, 1, repo.blockingCalls.Load())
}

func TestProjectionRefresher_StatementTimeout(t *testing.T) {
	repo := &fakeProjectionRepo{waitCtx: true}
	r := NewProjectionRefresher(repo, &config.ProjectionConfig{
		Enabled:        true,
		RefreshTimeout: 20 * time.Millisecond,
	}, nil, zap.NewNop())

	start := time.Now()
	res := r.Refresh(context.Background(), true)
	require.Equal(t, RefreshFailed, res.Mode)
	require.Less(t, time.Since(start), time.Second)
	require.EqualValues(t, 1, repo.concurrentCalls.Load())
	require.EqualValues(t, 1, repo.blockingCalls.Load())
}

func TestProjectionRefresher_CoalescesConcurrentCallers(t *testing.T) {
	repo := &fakeProjectionRepo{}
	repo.gate()
	r := newTestRefresher(repo, 0, nil)

	const callers = 5
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.Refresh(context.Background(), true).Mode
		}()
	}

	<-repo.entered
	time.Sleep(50 * time.Millisecond)
	close(repo.release)
	wg.Wait()
	close(results)

	for mode := range results {
		require.Equal(t, RefreshConcurrent, mode)
	}
	require.EqualValues(t, 1, repo.concurrentCalls.Load())
}

func TestProjectionRefresher_RerunsWhenWrittenDuringFlight(t *testing.T) {
	repo := &fakeProjectionRepo{}
	repo.gate()
	r := newTestRefresher(repo, 0, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Refresh(context.Background(), true)
	}()

	<-repo.entered
	r.AfterWrite()
	close(repo.release)
	<-done
	r.Wait()

	require.EqualValues(t, 2, repo.concurrentCalls.Load())
}

func TestProjectionRefresher_CallerCancelDoesNotAbortRefresh(t *testing.T) {
	repo := &fakeProjectionRepo{}
	repo.gate()
	r := newTestRefresher(repo, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-repo.entered
		cancel()
	}()

	res := r.Refresh(ctx, true)
	require.Equal(t, RefreshSkipped, res.Mode)

	close(repo.release)
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return !r.lastRefresh.IsZero()
	}, time.Second, 10*time.Millisecond)
}

func TestProjectionRefresher_SharedStamp(t *testing.T) {
	repo := &fakeProjectionRepo{}
	stamp := &fakeStamp{}
	r := newTestRefresher(repo, time.Minute, stamp)
	ctx := context.Background()

	require.True(t, r.Refresh(ctx, false).Refreshed)
	require.Equal(t, 1, stamp.marked)

	// 另一实例读取到共享时间戳，TTL 内跳过
	other := newTestRefresher(repo, time.Minute, stamp)
	require.Equal(t, RefreshSkipped, other.Refresh(ctx, false).Mode)
	require.EqualValues(t, 1, repo.concurrentCalls.Load())
}

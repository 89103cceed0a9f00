package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/josecalderon2/CAI-backend/config"
	"github.com/josecalderon2/CAI-backend/internal/dto"
	"github.com/josecalderon2/CAI-backend/internal/repository"
)

// 刷新结果模式
const (
	RefreshConcurrent = "concurrent"
	RefreshBlocking   = "blocking"
	RefreshSkipped    = "skipped"
	RefreshFailed     = "failed"
	RefreshDisabled   = "disabled"
)

// 一次刷新飞行中最多追加的重跑次数（飞行期间又有写入提交时）
const maxRefreshPasses = 3

// RefreshStamp 多实例共享的最近刷新时间（Redis 实现，可为 nil）
type RefreshStamp interface {
	LastRefresh(ctx context.Context) (time.Time, error)
	MarkRefreshed(ctx context.Context, at time.Time) error
}

// ProjectionService 物化视图刷新接口
type ProjectionService interface {
	// Refresh 按 TTL 节流刷新；force 忽略 TTL。失败只记录日志，不返回错误
	Refresh(ctx context.Context, force bool) *dto.RefreshResponse
	// AfterWrite 写事务提交后调用，后台合并刷新
	AfterWrite()
	// Wait 等待所有后台刷新结束（关闭进程 / 测试）
	Wait()
}

// ProjectionRefresher 物化视图 mv_assignments 刷新器
//
//   - 合并：同一时刻只有一个刷新在执行，并发调用方共享其结果
//   - 节流：距上次刷新不足 TTL 时跳过，force 除外
//   - 降级：先 REFRESH ... CONCURRENTLY，失败后退回阻塞式 REFRESH
//   - 超时：每次 REFRESH 语句受 RefreshTimeout 约束
type ProjectionRefresher struct {
	repo    repository.ProjectionRepository
	stamp   RefreshStamp
	enabled bool
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger

	group singleflight.Group
	dirty atomic.Bool
	wg    sync.WaitGroup

	mu          sync.Mutex
	lastRefresh time.Time
	now         func() time.Time
}

// NewProjectionRefresher 创建刷新器；stamp 可为 nil
func NewProjectionRefresher(
	repo repository.ProjectionRepository,
	cfg *config.ProjectionConfig,
	stamp RefreshStamp,
	logger *zap.Logger,
) *ProjectionRefresher {
	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ProjectionRefresher{
		repo:    repo,
		stamp:   stamp,
		enabled: cfg.Enabled,
		ttl:     cfg.RefreshTTL,
		timeout: timeout,
		logger:  logger.Named("projection"),
		now:     time.Now,
	}
}

func (r *ProjectionRefresher) Refresh(ctx context.Context, force bool) *dto.RefreshResponse {
	if !r.enabled {
		return &dto.RefreshResponse{Mode: RefreshDisabled}
	}
	if !force && r.fresh(ctx) {
		return &dto.RefreshResponse{Mode: RefreshSkipped}
	}

	ch := r.group.DoChan("mv_assignments", func() (interface{}, error) {
		return r.flight(), nil
	})

	select {
	case res := <-ch:
		return res.Val.(*dto.RefreshResponse)
	case <-ctx.Done():
		// 调用方放弃等待，刷新本身继续执行
		return &dto.RefreshResponse{Mode: RefreshSkipped}
	}
}

func (r *ProjectionRefresher) AfterWrite() {
	if !r.enabled {
		return
	}
	r.dirty.Store(true)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Refresh(context.Background(), true)
	}()
}

func (r *ProjectionRefresher) Wait() {
	r.wg.Wait()
}

// fresh 判断最近一次刷新是否仍在 TTL 内（本进程或共享时间戳任一满足即可）
func (r *ProjectionRefresher) fresh(ctx context.Context) bool {
	if r.ttl <= 0 {
		return false
	}
	now := r.now()

	r.mu.Lock()
	last := r.lastRefresh
	r.mu.Unlock()
	if !last.IsZero() && now.Sub(last) < r.ttl {
		return true
	}

	if r.stamp == nil {
		return false
	}
	shared, err := r.stamp.LastRefresh(ctx)
	if err != nil {
		r.logger.Debug("读取共享刷新时间失败", zap.Error(err))
		return false
	}
	return !shared.IsZero() && now.Sub(shared) < r.ttl
}

// flight 执行一次刷新；飞行期间若有新的写入提交则重跑
func (r *ProjectionRefresher) flight() *dto.RefreshResponse {
	start := time.Now()
	var res *dto.RefreshResponse
	for pass := 0; pass < maxRefreshPasses; pass++ {
		r.dirty.Store(false)
		res = r.refreshOnce()
		if res.Mode == RefreshFailed || !r.dirty.Load() {
			break
		}
	}
	elapsed := time.Since(start)
	projectionRefreshDuration.Observe(elapsed.Seconds())
	res.DurationMs = elapsed.Milliseconds()
	return res
}

func (r *ProjectionRefresher) refreshOnce() *dto.RefreshResponse {
	mode := RefreshConcurrent
	err := r.exec(true)
	recordRefresh(RefreshConcurrent, err == nil)
	if err != nil {
		r.logger.Warn("并发刷新物化视图失败，降级为阻塞刷新", zap.Error(err))
		mode = RefreshBlocking
		err = r.exec(false)
		recordRefresh(RefreshBlocking, err == nil)
	}

	// 失败也记录时间，避免在 TTL 内反复重试
	at := r.now()
	r.mu.Lock()
	r.lastRefresh = at
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("刷新物化视图失败", zap.Error(err))
		return &dto.RefreshResponse{Mode: RefreshFailed}
	}

	if r.stamp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if serr := r.stamp.MarkRefreshed(ctx, at); serr != nil {
			r.logger.Debug("写入共享刷新时间失败", zap.Error(serr))
		}
		cancel()
	}
	return &dto.RefreshResponse{Refreshed: true, Mode: mode}
}

func (r *ProjectionRefresher) exec(concurrently bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.repo.Refresh(ctx, concurrently)
}

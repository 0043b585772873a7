package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/coinflow/spotexchange/internal/matchingengine/domain"
)

// QueryService 撮合引擎的只读查询门面，供 HTTP 接口层使用
type QueryService struct {
	trades   domain.TradeRepository
	jobs     domain.MatchJobRepository
	matchers domain.OrderMatcherRepository
	// RUNNING 批次超过该时长仍未关闭即视为陈旧
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewQueryService 构造函数，staleAfter 通常取订单锁超时阈值
func NewQueryService(
	trades domain.TradeRepository,
	jobs domain.MatchJobRepository,
	matchers domain.OrderMatcherRepository,
	staleAfter time.Duration,
	logger *slog.Logger,
) *QueryService {
	return &QueryService{
		trades:     trades,
		jobs:       jobs,
		matchers:   matchers,
		staleAfter: staleAfter,
		logger:     logger.With("module", "matching_query"),
		now:        time.Now,
	}
}

// GetLatestTrades 查询交易对最近的成交，limit 上限 1000
func (s *QueryService) GetLatestTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	return s.trades.GetLatestTrades(ctx, symbol, limit)
}

// GetRecentJobs 查询交易对最近的撮合批次台账
func (s *QueryService) GetRecentJobs(ctx context.Context, symbol string, limit int) ([]*domain.MatchJob, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	var (
		jobs []*domain.MatchJob
		err  error
	)
	if symbol == "" {
		jobs, err = s.jobs.Latest(ctx, limit)
	} else {
		jobs, err = s.jobs.RecentBySymbol(ctx, symbol, limit)
	}
	if err != nil {
		return nil, err
	}
	s.markStaleJobs(jobs)
	return jobs, nil
}

// markStaleJobs 将超时未关闭的 RUNNING 批次在查询视图中标记为 FAILED。
// 台账本身不回写，锁的回收由撮合周期的超时扫描负责。
func (s *QueryService) markStaleJobs(jobs []*domain.MatchJob) {
	if s.staleAfter <= 0 {
		return
	}
	cutoff := s.now().Add(-s.staleAfter)
	for _, job := range jobs {
		if job.Status == domain.MatchJobStatusRunning && job.StartedAt.Before(cutoff) {
			job.Status = domain.MatchJobStatusFailed
			job.ErrorMessage = "stale: job never completed, presumed crashed"
		}
	}
}

// GetMatchers 查询所有活跃撮合配置及其统计
func (s *QueryService) GetMatchers(ctx context.Context) ([]*domain.OrderMatcher, error) {
	return s.matchers.ListActive(ctx)
}

// Package application 行情服务的应用层：K 线折叠、收盘扫描与回填
package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coinflow/spotexchange/internal/marketdata/domain"
	"github.com/coinflow/spotexchange/pkg/metrics"
)

// LatestCache 每个 (symbol, interval) 最新 K 线的热缓存
type LatestCache interface {
	SetLatest(ctx context.Context, kline *domain.Kline) error
	GetLatest(ctx context.Context, symbol string, interval domain.Interval) (*domain.Kline, bool, error)
}

// KlineService K 线聚合的应用服务。
// 折叠依赖上游成交流按 created_at 再 trade_id 升序投递（单交易对内总有序）。
type KlineService struct {
	klines    domain.KlineRepository
	cache     LatestCache
	trades    domain.TradeReader
	symbols   domain.SymbolLister
	publisher domain.EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	// 收盘扫描开关
	sweepEnabled bool
	now          func() time.Time
}

// NewKlineService 构造函数
func NewKlineService(
	klines domain.KlineRepository,
	cache LatestCache,
	trades domain.TradeReader,
	symbols domain.SymbolLister,
	publisher domain.EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	sweepEnabled bool,
) *KlineService {
	return &KlineService{
		klines:       klines,
		cache:        cache,
		trades:       trades,
		symbols:      symbols,
		publisher:    publisher,
		metrics:      m,
		logger:       logger.With("module", "kline_service"),
		sweepEnabled: sweepEnabled,
		now:          time.Now,
	}
}

// HandleTrade 将一笔成交折叠进全部支持周期的当前桶。
// 读-改-写后快照发布；发布失败只告警，折叠不回滚。
func (s *KlineService) HandleTrade(ctx context.Context, tick domain.TradeTick) error {
	for _, interval := range domain.SupportedIntervals {
		if err := s.foldInterval(ctx, interval, tick); err != nil {
			return fmt.Errorf("failed to fold trade %s into %s: %w", tick.TradeID, interval, err)
		}
	}
	return nil
}

func (s *KlineService) foldInterval(ctx context.Context, interval domain.Interval, tick domain.TradeTick) error {
	open, _ := interval.AlignBucket(tick.CreatedAt)

	kline, err := s.klines.Get(ctx, tick.Symbol, interval, open)
	if err != nil {
		return err
	}
	if kline == nil {
		kline = domain.NewKlineFromTick(interval, tick)
	} else {
		kline.Apply(tick)
	}

	if err := s.klines.Upsert(ctx, kline); err != nil {
		return err
	}
	s.metrics.KlineFoldsTotal.WithLabelValues(kline.Symbol, string(interval)).Inc()

	s.cacheLatest(ctx, kline)
	s.publish(ctx, kline, false)
	return nil
}

// RunSweepers 每个周期一个收盘扫描循环，桶边界到达后扫描上一个桶。
// 随 ctx 取消整体退出。
func (s *KlineService) RunSweepers(ctx context.Context) error {
	if !s.sweepEnabled {
		s.logger.Info("kline close-out sweep disabled")
		<-ctx.Done()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, interval := range domain.SupportedIntervals {
		interval := interval
		g.Go(func() error {
			return s.sweepLoop(ctx, interval)
		})
	}
	return g.Wait()
}

func (s *KlineService) sweepLoop(ctx context.Context, interval domain.Interval) error {
	for {
		now := s.now()
		currentOpen, _ := interval.AlignBucket(now)
		// 桶边界后留一小段宽限，等最后一批折叠落库
		next := currentOpen.Add(interval.Duration()).Add(2 * time.Second)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := s.CloseOutSweep(ctx, interval, s.now()); err != nil {
			s.logger.Error("kline close-out sweep failed", "interval", interval, "error", err)
		}
	}
}

// CloseOutSweep 对上一个已结束的桶做收盘处理。
// 无成交的交易对不产生任何写入；有成交的桶发布最终快照。可重复执行。
func (s *KlineService) CloseOutSweep(ctx context.Context, interval domain.Interval, now time.Time) error {
	currentOpen, _ := interval.AlignBucket(now)
	prevOpen := currentOpen.Add(-interval.Duration())

	symbols, err := s.symbols.ListActiveSymbols(ctx)
	if err != nil {
		return fmt.Errorf("failed to list symbols for sweep: %w", err)
	}

	swept := 0
	for _, symbol := range symbols {
		kline, err := s.klines.Get(ctx, symbol, interval, prevOpen)
		if err != nil {
			s.logger.Warn("sweep read failed", "symbol", symbol, "interval", interval, "error", err)
			continue
		}
		if kline == nil {
			continue
		}
		s.publish(ctx, kline, true)
		swept++
	}

	s.metrics.KlineSweepsTotal.Inc()
	s.logger.Info("kline close-out sweep done", "interval", interval, "open_time", prevOpen, "buckets", swept)
	return nil
}

// GenerateKline 按成交历史重建单个桶，用于崩溃恢复与历史修复。
// 窗口必须与目标周期的一个桶精确对齐；窗口内无成交时不产生写入。
func (s *KlineService) GenerateKline(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) (*domain.Kline, error) {
	open, close := interval.AlignBucket(start)
	if !start.Equal(open) || end.After(close) {
		return nil, fmt.Errorf("window [%s, %s] does not align to a single %s bucket", start, end, interval)
	}

	ticks, err := s.trades.GetTradesByTimeRange(ctx, symbol, open, close)
	if err != nil {
		return nil, fmt.Errorf("failed to read trades for backfill: %w", err)
	}
	if len(ticks) == 0 {
		return nil, nil
	}

	kline := domain.NewKlineFromTick(interval, ticks[0])
	for _, tick := range ticks[1:] {
		kline.Apply(tick)
	}

	if err := s.klines.Upsert(ctx, kline); err != nil {
		return nil, fmt.Errorf("failed to upsert regenerated kline: %w", err)
	}
	s.logger.Info("kline regenerated", "symbol", symbol, "interval", interval, "open_time", open, "trades", len(ticks))
	return kline, nil
}

// GetKlines 区间查询；start/end 为零值时返回最近 limit 根
func (s *KlineService) GetKlines(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time, limit int) ([]*domain.Kline, error) {
	if limit <= 0 {
		limit = 500
	}
	if limit > 1500 {
		limit = 1500
	}
	if start.IsZero() && end.IsZero() {
		return s.klines.Latest(ctx, symbol, interval, limit)
	}
	return s.klines.Range(ctx, symbol, interval, start, end, limit)
}

// GetLatestKline 查询当前桶，优先命中缓存
func (s *KlineService) GetLatestKline(ctx context.Context, symbol string, interval domain.Interval) (*domain.Kline, error) {
	if s.cache != nil {
		kline, ok, err := s.cache.GetLatest(ctx, symbol, interval)
		if err != nil {
			s.logger.Warn("latest kline cache read failed", "symbol", symbol, "interval", interval, "error", err)
		} else if ok {
			return kline, nil
		}
	}

	klines, err := s.klines.Latest(ctx, symbol, interval, 1)
	if err != nil {
		return nil, err
	}
	if len(klines) == 0 {
		return nil, nil
	}
	return klines[0], nil
}

func (s *KlineService) cacheLatest(ctx context.Context, kline *domain.Kline) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetLatest(ctx, kline); err != nil {
		s.logger.Warn("latest kline cache write failed", "symbol", kline.Symbol, "interval", kline.Interval, "error", err)
	}
}

func (s *KlineService) publish(ctx context.Context, kline *domain.Kline, isFinal bool) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishKline(ctx, domain.NewKlineEvent(kline, isFinal)); err != nil {
		s.metrics.PublishFailuresTotal.WithLabelValues("kline").Inc()
		s.logger.Warn("kline publish failed", "symbol", kline.Symbol, "interval", kline.Interval, "error", err)
	}
}

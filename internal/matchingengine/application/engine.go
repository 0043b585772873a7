// Package application 撮合引擎的应用层：周期协议、调度与统计
package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/coinflow/spotexchange/internal/matchingengine/domain"
	orderdomain "github.com/coinflow/spotexchange/internal/order/domain"
	"github.com/coinflow/spotexchange/pkg/idgen"
	"github.com/coinflow/spotexchange/pkg/metrics"
)

// Config 撮合引擎运行参数
type Config struct {
	// 两轮调度之间的间隔
	Interval time.Duration
	// 订单锁的超时回收阈值，必须严格大于最坏周期时长
	LockTimeout time.Duration
	// 单次存储操作的超时
	StoreTimeout time.Duration
	// 撮合配置缺省的每侧批量上限
	DefaultBatchSize int
}

// TxRunner 将订单回写与成交插入纳入同一事务
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Engine 周期性地为每个活跃交易对执行撮合周期。
// 同一交易对的周期严格串行；跨进程互斥完全依赖订单行锁的条件更新语义。
type Engine struct {
	cfg       Config
	store     orderdomain.OrderRepository
	trades    domain.TradeRepository
	jobs      domain.MatchJobRepository
	matchers  domain.OrderMatcherRepository
	tx        TxRunner
	publisher domain.EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine 构造函数
func NewEngine(
	cfg Config,
	store orderdomain.OrderRepository,
	trades domain.TradeRepository,
	jobs domain.MatchJobRepository,
	matchers domain.OrderMatcherRepository,
	tx TxRunner,
	publisher domain.EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 60 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = 1000
	}
	return &Engine{
		cfg:       cfg,
		store:     store,
		trades:    trades,
		jobs:      jobs,
		matchers:  matchers,
		tx:        tx,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With("module", "matching_engine"),
		now:       time.Now,
	}
}

// Run 调度循环。收到取消信号后完成当前一轮（锁在 finalizer 中释放）再退出。
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("matching scheduler started", "interval", e.cfg.Interval.String())
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		e.runTick(ctx)
		select {
		case <-ctx.Done():
			e.logger.Info("matching scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// runTick 顺序处理每个活跃交易对；单个交易对的失败不影响其余交易对
func (e *Engine) runTick(ctx context.Context) {
	sctx, cancel := e.storeCtx(ctx)
	matchers, err := e.matchers.ListActive(sctx)
	cancel()
	if err != nil {
		e.logger.Error("failed to list active matchers", "error", err)
		return
	}

	for _, matcher := range matchers {
		if ctx.Err() != nil {
			return
		}
		job, err := e.RunCycle(ctx, matcher)
		if err != nil {
			e.logger.Error("matching cycle failed", "symbol", matcher.Symbol, "error", err)
		}
		if job != nil {
			e.recordCycle(ctx, matcher, job)
		}
	}
}

// RunCycle 为一个交易对执行一次完整的撮合周期。
// 返回的批次记录无论成败都已写入台账；锁在任何退出路径上都会被释放。
func (e *Engine) RunCycle(ctx context.Context, matcher *domain.OrderMatcher) (*domain.MatchJob, error) {
	start := e.now()
	symbol := matcher.Symbol
	batchSize := matcher.BatchSize
	if batchSize <= 0 {
		batchSize = e.cfg.DefaultBatchSize
	}

	// 1. 恢复扫描：回收崩溃周期遗留的过期锁
	sctx, cancel := e.storeCtx(ctx)
	reclaimed, err := e.store.UnlockTimedOutOrders(sctx, e.cfg.LockTimeout, start)
	cancel()
	if err != nil {
		e.logger.Warn("lock reclamation sweep failed", "symbol", symbol, "error", err)
	} else if reclaimed > 0 {
		e.metrics.LocksReclaimedTotal.Add(float64(reclaimed))
		e.logger.Info("reclaimed timed out order locks", "symbol", symbol, "count", reclaimed)
	}

	// 2. 打开批次台账
	job := domain.NewMatchJob(idgen.JobID(), symbol, start)
	sctx, cancel = e.storeCtx(ctx)
	err = e.jobs.Create(sctx, job)
	cancel()
	if err != nil {
		return nil, orderdomain.NewTransientStoreError("create_match_job", err)
	}

	// 3. 读取两侧批量快照
	sctx, cancel = e.storeCtx(ctx)
	buys, err := e.store.GetActiveBuyOrders(sctx, symbol, batchSize)
	cancel()
	if err != nil {
		return e.failJob(ctx, job, orderdomain.NewTransientStoreError("read_buy_orders", err))
	}
	sctx, cancel = e.storeCtx(ctx)
	sells, err := e.store.GetActiveSellOrders(sctx, symbol, batchSize)
	cancel()
	if err != nil {
		return e.failJob(ctx, job, orderdomain.NewTransientStoreError("read_sell_orders", err))
	}

	// 4. 任一侧为空：零工作量完成
	if len(buys) == 0 || len(sells) == 0 {
		return e.completeJob(ctx, job, 0, nil)
	}

	// 5. 条件加锁；已被并发周期持有的行会被静默跳过
	ids := make([]string, 0, len(buys)+len(sells))
	for _, o := range buys {
		ids = append(ids, o.OrderID)
	}
	for _, o := range sells {
		ids = append(ids, o.OrderID)
	}

	sctx, cancel = e.storeCtx(ctx)
	locked, err := e.store.LockOrders(sctx, ids, job.JobID, start)
	cancel()

	// finalizer：无论周期成败，总是释放本周期涉及的锁。
	// 使用不受取消影响的 context，优雅停机时也能解锁。
	defer func() {
		uctx, ucancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StoreTimeout)
		defer ucancel()
		if uerr := e.store.UnlockOrders(uctx, ids, job.JobID); uerr != nil {
			e.logger.Error("failed to unlock orders, timeout sweep will reclaim", "job_id", job.JobID, "error", uerr)
		}
	}()

	if err != nil {
		return e.failJob(ctx, job, orderdomain.NewTransientStoreError("lock_orders", err))
	}
	if locked == 0 {
		return e.completeJob(ctx, job, 0, nil)
	}

	// 重读实际持有集：并发竞争的失败方在这里看到缩水
	sctx, cancel = e.storeCtx(ctx)
	lockedOrders, err := e.store.GetOrdersByLockJob(sctx, job.JobID)
	cancel()
	if err != nil {
		return e.failJob(ctx, job, orderdomain.NewTransientStoreError("reread_locked_orders", err))
	}

	lockedBuys := make([]*orderdomain.Order, 0, len(lockedOrders))
	lockedSells := make([]*orderdomain.Order, 0, len(lockedOrders))
	for _, o := range lockedOrders {
		if o.Side == orderdomain.OrderSideBuy {
			lockedBuys = append(lockedBuys, o)
		} else {
			lockedSells = append(lockedSells, o)
		}
	}

	// 6. 内存撮合
	result, err := domain.MatchOrders(lockedBuys, lockedSells, start)
	if err != nil {
		if orderdomain.IsInvariantViolation(err) {
			e.logger.Error("CRITICAL: invariant violation during matching", "symbol", symbol, "job_id", job.JobID, "error", err)
		}
		return e.failJob(ctx, job, err)
	}

	// 7. 订单回写与成交插入在同一事务内提交
	if len(result.Trades) > 0 {
		err = e.tx.WithTx(ctx, func(txCtx context.Context) error {
			if err := e.store.UpdateOrders(txCtx, result.TouchedOrders); err != nil {
				return err
			}
			return e.trades.CreateTrades(txCtx, result.Trades)
		})
		if err != nil {
			return e.failJob(ctx, job, orderdomain.NewTransientStoreError("persist_match_result", err))
		}
	}

	// 8. 关闭台账
	completedJob, err := e.completeJob(ctx, job, len(lockedOrders), result.Trades)
	if err != nil {
		return completedJob, err
	}

	// 发布尽力而为，绝不回滚已提交的周期
	e.publishResults(ctx, result)

	e.metrics.TradesMatchedTotal.WithLabelValues(symbol).Add(float64(len(result.Trades)))
	return completedJob, nil
}

func (e *Engine) completeJob(ctx context.Context, job *domain.MatchJob, ordersProcessed int, trades []*domain.Trade) (*domain.MatchJob, error) {
	job.Complete(ordersProcessed, trades, e.now())
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.jobs.Update(sctx, job); err != nil {
		e.logger.Error("failed to close match job", "job_id", job.JobID, "error", err)
		return job, orderdomain.NewTransientStoreError("close_match_job", err)
	}
	e.metrics.MatchCyclesTotal.WithLabelValues(job.Symbol, string(job.Status)).Inc()
	e.metrics.MatchCycleDuration.Observe(float64(job.ProcessingMs) / 1000)
	return job, nil
}

func (e *Engine) failJob(ctx context.Context, job *domain.MatchJob, cause error) (*domain.MatchJob, error) {
	job.Fail(cause.Error(), e.now())
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.jobs.Update(sctx, job); err != nil {
		e.logger.Error("failed to record failed match job", "job_id", job.JobID, "error", err)
	}
	e.metrics.MatchCyclesTotal.WithLabelValues(job.Symbol, string(job.Status)).Inc()
	return job, cause
}

func (e *Engine) publishResults(ctx context.Context, result *domain.MatchResult) {
	if e.publisher == nil {
		return
	}
	for _, trade := range result.Trades {
		if err := e.publisher.PublishTrade(ctx, domain.NewTradeEvent(trade)); err != nil {
			e.metrics.PublishFailuresTotal.WithLabelValues("trade").Inc()
			e.logger.Warn("trade publish failed", "trade_id", trade.TradeID, "error", err)
		}
	}
	for _, order := range result.TouchedOrders {
		event := domain.NewOrderUpdateEvent(order, e.now())
		if err := e.publisher.PublishOrderUpdate(ctx, order.UserID, event); err != nil {
			e.metrics.PublishFailuresTotal.WithLabelValues("user_data").Inc()
			e.logger.Warn("order update publish failed", "order_id", order.OrderID, "error", err)
		}
	}
}

func (e *Engine) recordCycle(ctx context.Context, matcher *domain.OrderMatcher, job *domain.MatchJob) {
	matcher.RecordCycle(job.OrdersProcessed, job.TradesGenerated, job.ProcessingMs, e.now())
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.matchers.Save(sctx, matcher); err != nil {
		e.logger.Warn("failed to save matcher statistics", "symbol", matcher.Symbol, "error", err)
	}
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.StoreTimeout)
}

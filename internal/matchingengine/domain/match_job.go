package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MatchJobStatus 撮合批次状态
type MatchJobStatus string

const (
	MatchJobStatusRunning   MatchJobStatus = "RUNNING"
	MatchJobStatusCompleted MatchJobStatus = "COMPLETED"
	MatchJobStatusFailed    MatchJobStatus = "FAILED"
)

// MatchJob 一次撮合周期的台账记录，RUNNING → COMPLETED/FAILED 恰好转移一次
type MatchJob struct {
	JobID       string
	Symbol      string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      MatchJobStatus
	// 本周期处理的订单数
	OrdersProcessed int
	// 本周期生成的成交数
	TradesGenerated int
	ProcessingMs    int64
	// 计价资产口径的总成交额
	TotalVolume decimal.Decimal
	TradeIDs    []string
	// 失败原因（Status 为 FAILED 时）
	ErrorMessage string
}

// NewMatchJob 打开一个 RUNNING 状态的批次
func NewMatchJob(jobID, symbol string, now time.Time) *MatchJob {
	return &MatchJob{
		JobID:       jobID,
		Symbol:      symbol,
		StartedAt:   now,
		Status:      MatchJobStatusRunning,
		TotalVolume: decimal.Zero,
	}
}

// Complete 以成功状态关闭批次
func (j *MatchJob) Complete(ordersProcessed int, trades []*Trade, now time.Time) {
	j.Status = MatchJobStatusCompleted
	j.OrdersProcessed = ordersProcessed
	j.TradesGenerated = len(trades)
	j.CompletedAt = &now
	j.ProcessingMs = now.Sub(j.StartedAt).Milliseconds()
	for _, t := range trades {
		j.TotalVolume = j.TotalVolume.Add(t.QuoteVolume())
		j.TradeIDs = append(j.TradeIDs, t.TradeID)
	}
}

// Fail 以失败状态关闭批次
func (j *MatchJob) Fail(reason string, now time.Time) {
	j.Status = MatchJobStatusFailed
	j.ErrorMessage = reason
	j.CompletedAt = &now
	j.ProcessingMs = now.Sub(j.StartedAt).Milliseconds()
}

// MatchJobRepository 撮合批次台账仓储接口
type MatchJobRepository interface {
	Create(ctx context.Context, job *MatchJob) error
	Update(ctx context.Context, job *MatchJob) error
	RecentBySymbol(ctx context.Context, symbol string, limit int) ([]*MatchJob, error)
	Latest(ctx context.Context, limit int) ([]*MatchJob, error)
}

package mysql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/coinflow/spotexchange/internal/matchingengine/domain"
	"github.com/coinflow/spotexchange/pkg/db"
	"github.com/coinflow/spotexchange/pkg/logger"
)

// MatchJobModel 撮合批次台账数据库模型，映射 match_jobs 表。
type MatchJobModel struct {
	ID              uint       `gorm:"primaryKey"`
	JobID           string     `gorm:"column:job_id;type:varchar(32);uniqueIndex;not null;comment:批次唯一标识"`
	Symbol          string     `gorm:"column:symbol;type:varchar(20);index:idx_symbol_started,priority:1;not null;comment:交易对"`
	StartedAt       time.Time  `gorm:"column:started_at;index:idx_symbol_started,priority:2;not null;comment:批次开始时刻"`
	CompletedAt     *time.Time `gorm:"column:completed_at;comment:批次结束时刻"`
	Status          string     `gorm:"column:status;type:varchar(20);index;not null;comment:批次状态(RUNNING/COMPLETED/FAILED)"`
	OrdersProcessed int        `gorm:"column:orders_processed;not null;comment:处理订单数"`
	TradesGenerated int        `gorm:"column:trades_generated;not null;comment:生成成交数"`
	ProcessingMs    int64      `gorm:"column:processing_ms;not null;comment:耗时毫秒"`
	TotalVolume     string     `gorm:"column:total_volume;type:decimal(32,18);default:'0';not null;comment:计价资产总成交额"`
	TradeIDs        string     `gorm:"column:trade_ids;type:text;comment:成交ID列表(JSON)"`
	ErrorMessage    string     `gorm:"column:error_message;type:varchar(512);comment:失败原因"`
}

// TableName 指定表名
func (MatchJobModel) TableName() string {
	return "match_jobs"
}

// matchJobRepositoryImpl 是 domain.MatchJobRepository 接口的 GORM 实现。
type matchJobRepositoryImpl struct {
	db *gorm.DB
}

// NewMatchJobRepository 创建撮合批次仓储实例
func NewMatchJobRepository(gdb *gorm.DB) domain.MatchJobRepository {
	return &matchJobRepositoryImpl{db: gdb}
}

func (r *matchJobRepositoryImpl) conn(ctx context.Context) *gorm.DB {
	return db.FromContext(ctx, r.db)
}

// Create 实现 domain.MatchJobRepository.Create
func (r *matchJobRepositoryImpl) Create(ctx context.Context, job *domain.MatchJob) error {
	model := toJobModel(job)
	if err := r.conn(ctx).Create(model).Error; err != nil {
		logger.Error(ctx, "match_job_repository.create failed", "job_id", job.JobID, "error", err)
		return fmt.Errorf("failed to create match job: %w", err)
	}
	return nil
}

// Update 实现 domain.MatchJobRepository.Update
func (r *matchJobRepositoryImpl) Update(ctx context.Context, job *domain.MatchJob) error {
	model := toJobModel(job)
	err := r.conn(ctx).Model(&MatchJobModel{}).
		Where("job_id = ?", job.JobID).
		Updates(map[string]any{
			"completed_at":     model.CompletedAt,
			"status":           model.Status,
			"orders_processed": model.OrdersProcessed,
			"trades_generated": model.TradesGenerated,
			"processing_ms":    model.ProcessingMs,
			"total_volume":     model.TotalVolume,
			"trade_ids":        model.TradeIDs,
			"error_message":    model.ErrorMessage,
		}).Error
	if err != nil {
		logger.Error(ctx, "match_job_repository.update failed", "job_id", job.JobID, "error", err)
		return fmt.Errorf("failed to update match job: %w", err)
	}
	return nil
}

// RecentBySymbol 实现 domain.MatchJobRepository.RecentBySymbol
func (r *matchJobRepositoryImpl) RecentBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.MatchJob, error) {
	var models []MatchJobModel
	err := r.conn(ctx).
		Where("symbol = ?", symbol).
		Order("started_at desc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		logger.Error(ctx, "match_job_repository.recent_by_symbol failed", "symbol", symbol, "error", err)
		return nil, fmt.Errorf("failed to list match jobs: %w", err)
	}
	return toJobDomainSlice(models), nil
}

// Latest 实现 domain.MatchJobRepository.Latest
func (r *matchJobRepositoryImpl) Latest(ctx context.Context, limit int) ([]*domain.MatchJob, error) {
	var models []MatchJobModel
	err := r.conn(ctx).
		Order("started_at desc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		logger.Error(ctx, "match_job_repository.latest failed", "error", err)
		return nil, fmt.Errorf("failed to list latest match jobs: %w", err)
	}
	return toJobDomainSlice(models), nil
}

func toJobModel(j *domain.MatchJob) *MatchJobModel {
	tradeIDs := ""
	if len(j.TradeIDs) > 0 {
		if data, err := json.Marshal(j.TradeIDs); err == nil {
			tradeIDs = string(data)
		}
	}
	return &MatchJobModel{
		JobID:           j.JobID,
		Symbol:          j.Symbol,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		Status:          string(j.Status),
		OrdersProcessed: j.OrdersProcessed,
		TradesGenerated: j.TradesGenerated,
		ProcessingMs:    j.ProcessingMs,
		TotalVolume:     j.TotalVolume.String(),
		TradeIDs:        tradeIDs,
		ErrorMessage:    j.ErrorMessage,
	}
}

func toJobDomain(m *MatchJobModel) *domain.MatchJob {
	volume, _ := decimal.NewFromString(m.TotalVolume)
	var tradeIDs []string
	if m.TradeIDs != "" {
		_ = json.Unmarshal([]byte(m.TradeIDs), &tradeIDs)
	}
	return &domain.MatchJob{
		JobID:           m.JobID,
		Symbol:          m.Symbol,
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
		Status:          domain.MatchJobStatus(m.Status),
		OrdersProcessed: m.OrdersProcessed,
		TradesGenerated: m.TradesGenerated,
		ProcessingMs:    m.ProcessingMs,
		TotalVolume:     volume,
		TradeIDs:        tradeIDs,
		ErrorMessage:    m.ErrorMessage,
	}
}

func toJobDomainSlice(models []MatchJobModel) []*domain.MatchJob {
	jobs := make([]*domain.MatchJob, len(models))
	for i := range models {
		jobs[i] = toJobDomain(&models[i])
	}
	return jobs
}

// Package mysql 提供行情服务各仓储接口的 MySQL GORM 实现。
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coinflow/spotexchange/internal/marketdata/domain"
	"github.com/coinflow/spotexchange/pkg/db"
	"github.com/coinflow/spotexchange/pkg/logger"
)

// KlineModel K 线数据库模型，映射 klines 表。
// (symbol, interval, open_time) 唯一，折叠与回填共用同一个 upsert 路径。
type KlineModel struct {
	ID          uint      `gorm:"primaryKey"`
	Symbol      string    `gorm:"column:symbol;type:varchar(20);uniqueIndex:idx_bucket,priority:1;not null;comment:交易对"`
	Interval    string    `gorm:"column:interval;type:varchar(5);uniqueIndex:idx_bucket,priority:2;not null;comment:K线周期"`
	OpenTime    time.Time `gorm:"column:open_time;uniqueIndex:idx_bucket,priority:3;not null;comment:桶开盘时刻"`
	CloseTime   time.Time `gorm:"column:close_time;not null;comment:桶收盘时刻"`
	Open        string    `gorm:"column:open;type:decimal(32,18);not null;comment:开盘价"`
	High        string    `gorm:"column:high;type:decimal(32,18);not null;comment:最高价"`
	Low         string    `gorm:"column:low;type:decimal(32,18);not null;comment:最低价"`
	Close       string    `gorm:"column:close;type:decimal(32,18);not null;comment:收盘价"`
	Volume      string    `gorm:"column:volume;type:decimal(32,18);not null;comment:基础资产成交量"`
	QuoteVolume string    `gorm:"column:quote_volume;type:decimal(32,18);not null;comment:计价资产成交额"`
	TradeCount  int64     `gorm:"column:trade_count;not null;comment:成交笔数"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

// TableName 指定表名
func (KlineModel) TableName() string {
	return "klines"
}

// klineRepositoryImpl 是 domain.KlineRepository 接口的 GORM 实现。
type klineRepositoryImpl struct {
	db *gorm.DB
}

// NewKlineRepository 创建 K 线仓储实例
func NewKlineRepository(gdb *gorm.DB) domain.KlineRepository {
	return &klineRepositoryImpl{db: gdb}
}

func (r *klineRepositoryImpl) conn(ctx context.Context) *gorm.DB {
	return db.FromContext(ctx, r.db)
}

// Upsert 实现 domain.KlineRepository.Upsert
func (r *klineRepositoryImpl) Upsert(ctx context.Context, kline *domain.Kline) error {
	model := toKlineModel(kline)
	err := r.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "interval"}, {Name: "open_time"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"high", "low", "close", "volume", "quote_volume", "trade_count", "updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		logger.Error(ctx, "kline_repository.upsert failed", "symbol", kline.Symbol, "interval", kline.Interval, "error", err)
		return fmt.Errorf("failed to upsert kline: %w", err)
	}
	return nil
}

// Get 实现 domain.KlineRepository.Get
func (r *klineRepositoryImpl) Get(ctx context.Context, symbol string, interval domain.Interval, openTime time.Time) (*domain.Kline, error) {
	var model KlineModel
	err := r.conn(ctx).
		Where("symbol = ? AND `interval` = ? AND open_time = ?", symbol, string(interval), openTime).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "kline_repository.get failed", "symbol", symbol, "interval", interval, "error", err)
		return nil, fmt.Errorf("failed to get kline: %w", err)
	}
	return toKlineDomain(&model), nil
}

// Range 实现 domain.KlineRepository.Range
func (r *klineRepositoryImpl) Range(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time, limit int) ([]*domain.Kline, error) {
	var models []KlineModel
	err := r.conn(ctx).
		Where("symbol = ? AND `interval` = ? AND open_time >= ? AND open_time <= ?", symbol, string(interval), start, end).
		Order("open_time asc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		logger.Error(ctx, "kline_repository.range failed", "symbol", symbol, "interval", interval, "error", err)
		return nil, fmt.Errorf("failed to query kline range: %w", err)
	}
	return toKlineDomainSlice(models), nil
}

// Latest 实现 domain.KlineRepository.Latest，按开盘时刻升序返回最近 limit 根
func (r *klineRepositoryImpl) Latest(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]*domain.Kline, error) {
	var models []KlineModel
	err := r.conn(ctx).
		Where("symbol = ? AND `interval` = ?", symbol, string(interval)).
		Order("open_time desc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		logger.Error(ctx, "kline_repository.latest failed", "symbol", symbol, "interval", interval, "error", err)
		return nil, fmt.Errorf("failed to query latest klines: %w", err)
	}
	klines := toKlineDomainSlice(models)
	// 反转为时间升序
	for i, j := 0, len(klines)-1; i < j; i, j = i+1, j-1 {
		klines[i], klines[j] = klines[j], klines[i]
	}
	return klines, nil
}

func toKlineModel(k *domain.Kline) *KlineModel {
	return &KlineModel{
		Symbol:      k.Symbol,
		Interval:    string(k.Interval),
		OpenTime:    k.OpenTime,
		CloseTime:   k.CloseTime,
		Open:        k.Open.String(),
		High:        k.High.String(),
		Low:         k.Low.String(),
		Close:       k.Close.String(),
		Volume:      k.Volume.String(),
		QuoteVolume: k.QuoteVolume.String(),
		TradeCount:  k.TradeCount,
	}
}

func toKlineDomain(m *KlineModel) *domain.Kline {
	open, _ := decimal.NewFromString(m.Open)
	high, _ := decimal.NewFromString(m.High)
	low, _ := decimal.NewFromString(m.Low)
	closePrice, _ := decimal.NewFromString(m.Close)
	volume, _ := decimal.NewFromString(m.Volume)
	quoteVolume, _ := decimal.NewFromString(m.QuoteVolume)

	return &domain.Kline{
		Symbol:      m.Symbol,
		Interval:    domain.Interval(m.Interval),
		OpenTime:    m.OpenTime.UTC(),
		CloseTime:   m.CloseTime.UTC(),
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closePrice,
		Volume:      volume,
		QuoteVolume: quoteVolume,
		TradeCount:  m.TradeCount,
	}
}

func toKlineDomainSlice(models []KlineModel) []*domain.Kline {
	klines := make([]*domain.Kline, len(models))
	for i := range models {
		klines[i] = toKlineDomain(&models[i])
	}
	return klines
}

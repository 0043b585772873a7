package domain

import (
	"context"
	"time"
)

// OrderMatcher 单交易对的撮合配置与滑动统计
type OrderMatcher struct {
	Symbol   string
	IsActive bool
	// 每轮每侧最多取多少笔订单
	BatchSize     int
	LastMatchTime *time.Time
	// 累计统计
	TotalOrdersProcessed int64
	TotalTradesGenerated int64
	LastMatchMs          int64
	AverageMatchMs       float64
	MatchRuns            int64
}

// RecordCycle 记录一轮撮合的统计数据
func (m *OrderMatcher) RecordCycle(ordersProcessed, tradesGenerated int, elapsedMs int64, now time.Time) {
	m.TotalOrdersProcessed += int64(ordersProcessed)
	m.TotalTradesGenerated += int64(tradesGenerated)
	m.LastMatchMs = elapsedMs
	m.MatchRuns++
	// 增量均值，避免保存全部历史
	m.AverageMatchMs += (float64(elapsedMs) - m.AverageMatchMs) / float64(m.MatchRuns)
	m.LastMatchTime = &now
}

// OrderMatcherRepository 撮合配置仓储接口
type OrderMatcherRepository interface {
	ListActive(ctx context.Context) ([]*OrderMatcher, error)
	Save(ctx context.Context, matcher *OrderMatcher) error
}

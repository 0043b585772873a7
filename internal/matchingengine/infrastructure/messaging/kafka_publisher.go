// Package messaging 撮合引擎的事件下发实现
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/coinflow/spotexchange/internal/matchingengine/domain"
	"github.com/coinflow/spotexchange/pkg/logger"
)

// TradeEventTopic 全量成交事件的规范主题，K 线聚合从这里消费
const TradeEventTopic = "trade.executed"

// TradePublisher 将撮合产出发布到 Kafka：
//   - 成交同时写入 trade.<symbol> 与规范主题 trade.executed
//   - 订单状态更新写入 userData.<userId>
type TradePublisher struct {
	writer     *kafkago.Writer
	bestEffort bool
}

// NewTradePublisher 构造函数
func NewTradePublisher(brokers []string, bestEffort bool) *TradePublisher {
	return &TradePublisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(brokers...),
			Balancer:               &kafkago.Hash{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafkago.RequireOne,
			WriteTimeout:           5 * time.Second,
		},
		bestEffort: bestEffort,
	}
}

// PublishTrade 实现 domain.EventPublisher.PublishTrade
func (p *TradePublisher) PublishTrade(ctx context.Context, event domain.TradeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal trade event: %w", err)
	}
	msgs := []kafkago.Message{
		{Topic: "trade." + event.Symbol, Key: []byte(event.Symbol), Value: payload},
		{Topic: TradeEventTopic, Key: []byte(event.Symbol), Value: payload},
	}
	return p.write(ctx, "trade", event.TradeID, msgs)
}

// PublishOrderUpdate 实现 domain.EventPublisher.PublishOrderUpdate
func (p *TradePublisher) PublishOrderUpdate(ctx context.Context, userID string, event domain.OrderUpdateEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal order update event: %w", err)
	}
	msg := kafkago.Message{
		Topic: "userData." + userID,
		Key:   []byte(event.OrderID),
		Value: payload,
	}
	return p.write(ctx, "order_update", event.OrderID, []kafkago.Message{msg})
}

// write 发布失败最多补发一次；best effort 模式下重试仍失败则丢弃
func (p *TradePublisher) write(ctx context.Context, kind, key string, msgs []kafkago.Message) error {
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		if retryErr := p.writer.WriteMessages(ctx, msgs...); retryErr != nil {
			logger.Warn(ctx, "event publish dropped after retry", "kind", kind, "key", key, "error", retryErr)
			if p.bestEffort {
				return nil
			}
			return fmt.Errorf("failed to publish %s event: %w", kind, retryErr)
		}
	}
	return nil
}

// Close 关闭底层 writer
func (p *TradePublisher) Close() error {
	return p.writer.Close()
}

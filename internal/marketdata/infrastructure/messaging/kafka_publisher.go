// Package messaging 行情服务的事件下发实现
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/coinflow/spotexchange/internal/marketdata/domain"
	"github.com/coinflow/spotexchange/pkg/logger"
)

// KlinePublisher 将 K 线快照发布到 kline.<symbol>.<interval> 主题
type KlinePublisher struct {
	writer     *kafkago.Writer
	bestEffort bool
}

// NewKlinePublisher 构造函数
func NewKlinePublisher(brokers []string, bestEffort bool) *KlinePublisher {
	return &KlinePublisher{
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

// PublishKline 实现 domain.EventPublisher。发布失败最多补发一次。
func (p *KlinePublisher) PublishKline(ctx context.Context, event domain.KlineEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal kline event: %w", err)
	}

	msg := kafkago.Message{
		Topic: fmt.Sprintf("kline.%s.%s", event.Symbol, event.Interval),
		Key:   []byte(event.Symbol),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		if retryErr := p.writer.WriteMessages(ctx, msg); retryErr != nil {
			logger.Warn(ctx, "kline publish dropped after retry",
				"symbol", event.Symbol, "interval", event.Interval, "error", retryErr)
			if p.bestEffort {
				return nil
			}
			return fmt.Errorf("failed to publish kline event: %w", retryErr)
		}
	}
	return nil
}

// Close 关闭底层 writer
func (p *KlinePublisher) Close() error {
	return p.writer.Close()
}

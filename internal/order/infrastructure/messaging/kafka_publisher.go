// Package messaging 订单服务的事件下发实现
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/coinflow/spotexchange/internal/order/domain"
	"github.com/coinflow/spotexchange/pkg/logger"
)

// DepthPublisher 将深度快照发布到 depth.<symbol> 主题
type DepthPublisher struct {
	writer     *kafkago.Writer
	bestEffort bool
}

// NewDepthPublisher 构造函数
func NewDepthPublisher(brokers []string, bestEffort bool) *DepthPublisher {
	return &DepthPublisher{
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

type depthLevelView struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

type depthEvent struct {
	Symbol string           `json:"symbol"`
	Bids   []depthLevelView `json:"bids"`
	Asks   []depthLevelView `json:"asks"`
	Time   int64            `json:"time"`
}

// PublishDepth 实现 domain.EventPublisher。发布失败最多补发一次。
func (p *DepthPublisher) PublishDepth(ctx context.Context, symbol string, bids, asks []domain.DepthLevel) error {
	event := depthEvent{
		Symbol: symbol,
		Bids:   toLevelViews(bids),
		Asks:   toLevelViews(asks),
		Time:   time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal depth event: %w", err)
	}

	msg := kafkago.Message{
		Topic: "depth." + symbol,
		Key:   []byte(symbol),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		if retryErr := p.writer.WriteMessages(ctx, msg); retryErr != nil {
			logger.Warn(ctx, "depth publish dropped after retry", "symbol", symbol, "error", retryErr)
			if p.bestEffort {
				return nil
			}
			return fmt.Errorf("failed to publish depth event: %w", retryErr)
		}
	}
	return nil
}

// Close 关闭底层 writer
func (p *DepthPublisher) Close() error {
	return p.writer.Close()
}

func toLevelViews(levels []domain.DepthLevel) []depthLevelView {
	views := make([]depthLevelView, len(levels))
	for i, l := range levels {
		views[i] = depthLevelView{Price: l.Price.String(), Quantity: l.Quantity.String()}
	}
	return views
}

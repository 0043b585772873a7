// Package consumer 行情服务的 Kafka 消费端
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/coinflow/spotexchange/internal/marketdata/application"
	"github.com/coinflow/spotexchange/internal/marketdata/domain"
	"github.com/coinflow/spotexchange/pkg/logger"
)

// tradeExecutedEvent 撮合引擎发布的成交事件载荷
type tradeExecutedEvent struct {
	TradeID  string `json:"trade_id"`
	Symbol   string `json:"symbol"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	// 毫秒时间戳
	Time int64 `json:"time"`
}

// TradeStreamConsumer 消费规范成交主题并驱动 K 线折叠。
// 成交按 symbol 作分区键，单交易对内的折叠顺序与成交流一致。
type TradeStreamConsumer struct {
	reader  *kafkago.Reader
	service *application.KlineService
}

// NewTradeStreamConsumer 构造函数
func NewTradeStreamConsumer(brokers []string, groupID, topic string, service *application.KlineService) *TradeStreamConsumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		CommitInterval: time.Second,
		StartOffset:    kafkago.LastOffset,
		MaxBytes:       10e6,
	})
	return &TradeStreamConsumer{reader: reader, service: service}
}

// Run 消费循环，随 ctx 取消退出
func (c *TradeStreamConsumer) Run(ctx context.Context) error {
	logger.Info(ctx, "trade stream consumer started", "topic", c.reader.Config().Topic)
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.Info(ctx, "trade stream consumer stopped")
				return nil
			}
			logger.Error(ctx, "failed to read trade message", "error", err)
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			// 坏消息跳过，不阻塞后续成交
			logger.Error(ctx, "failed to handle trade message",
				"offset", msg.Offset, "key", string(msg.Key), "error", err)
		}
	}
}

func (c *TradeStreamConsumer) handle(ctx context.Context, msg kafkago.Message) error {
	var event tradeExecutedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return err
	}

	price, err := decimal.NewFromString(event.Price)
	if err != nil {
		return err
	}
	qty, err := decimal.NewFromString(event.Quantity)
	if err != nil {
		return err
	}

	return c.service.HandleTrade(ctx, domain.TradeTick{
		TradeID:   event.TradeID,
		Symbol:    event.Symbol,
		Price:     price,
		Quantity:  qty,
		CreatedAt: time.UnixMilli(event.Time).UTC(),
	})
}

// Close 关闭底层 reader
func (c *TradeStreamConsumer) Close() error {
	return c.reader.Close()
}

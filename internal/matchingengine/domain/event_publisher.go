package domain

import (
	"context"
	"time"

	orderdomain "github.com/coinflow/spotexchange/internal/order/domain"
)

// TradeEvent 对外下发的成交快照
type TradeEvent struct {
	TradeID      string `json:"trade_id"`
	Symbol       string `json:"symbol"`
	BuyOrderID   string `json:"buy_order_id"`
	SellOrderID  string `json:"sell_order_id"`
	BuyUserID    string `json:"buy_user_id"`
	SellUserID   string `json:"sell_user_id"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	IsBuyerMaker bool   `json:"is_buyer_maker"`
	// 毫秒时间戳
	Time int64 `json:"time"`
}

// NewTradeEvent 由成交记录构造事件
func NewTradeEvent(t *Trade) TradeEvent {
	return TradeEvent{
		TradeID:      t.TradeID,
		Symbol:       t.Symbol,
		BuyOrderID:   t.BuyOrderID,
		SellOrderID:  t.SellOrderID,
		BuyUserID:    t.BuyUserID,
		SellUserID:   t.SellUserID,
		Price:        t.Price.String(),
		Quantity:     t.Quantity.String(),
		IsBuyerMaker: t.IsBuyerMaker,
		Time:         t.CreatedAt.UnixMilli(),
	}
}

// OrderUpdateEvent 推送给订单归属用户的状态更新
type OrderUpdateEvent struct {
	OrderID          string `json:"order_id"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	Type             string `json:"type"`
	OriginalQuantity string `json:"original_quantity"`
	ExecutedQuantity string `json:"executed_quantity"`
	Status           string `json:"status"`
	Price            string `json:"price"`
	UpdateTime       int64  `json:"update_time"`
}

// NewOrderUpdateEvent 由订单构造状态更新事件
func NewOrderUpdateEvent(o *orderdomain.Order, now time.Time) OrderUpdateEvent {
	return OrderUpdateEvent{
		OrderID:          o.OrderID,
		Symbol:           o.Symbol,
		Side:             string(o.Side),
		Type:             string(o.Type),
		OriginalQuantity: o.Quantity.String(),
		ExecutedQuantity: o.ExecutedQuantity.String(),
		Status:           string(o.Status),
		Price:            o.Price.String(),
		UpdateTime:       now.UnixMilli(),
	}
}

// EventPublisher 撮合结果的下发接口。
// 发布必须非阻塞且尽力而为；失败不得回滚撮合周期。
type EventPublisher interface {
	PublishTrade(ctx context.Context, event TradeEvent) error
	PublishOrderUpdate(ctx context.Context, userID string, event OrderUpdateEvent) error
}

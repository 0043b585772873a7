// Package domain 包含订单服务的领域模型
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal 是否为终态
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// OrderSide 订单方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType 订单类型。MARKET 订单在入场时携带最差可接受价格，撮合时按限价处理。
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// TimeInForce 订单有效期
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // Good Till Cancel
	TimeInForceIOC TimeInForce = "IOC" // Immediate Or Cancel
)

// Order 订单实体
// 订单由订单服务创建，此后仅由撮合引擎或显式取消路径修改，永不删除。
type Order struct {
	OrderID  string
	UserID   string
	Symbol   string
	Side     OrderSide
	Type     OrderType
	Price    decimal.Decimal
	Quantity decimal.Decimal
	// 已成交数量，单调不减，不超过 Quantity
	ExecutedQuantity decimal.Decimal
	Status           OrderStatus
	TimeInForce      TimeInForce
	// 是否可参与撮合
	IsWorking bool
	// 行级锁状态：锁定后仅持有该 JobID 的撮合周期可修改此订单
	IsLocked  bool
	LockedAt  *time.Time
	LockJobID string
	// 拒单原因（Status 为 REJECTED 时）
	RejectReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewOrder 创建状态为 NEW 的可撮合订单
func NewOrder(orderID, userID, symbol string, side OrderSide, orderType OrderType, price, quantity decimal.Decimal, tif TimeInForce, now time.Time) *Order {
	return &Order{
		OrderID:          orderID,
		UserID:           userID,
		Symbol:           symbol,
		Side:             side,
		Type:             orderType,
		Price:            price,
		Quantity:         quantity,
		ExecutedQuantity: decimal.Zero,
		Status:           OrderStatusNew,
		TimeInForce:      tif,
		IsWorking:        true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// RemainingQuantity 剩余可成交数量
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.ExecutedQuantity)
}

// IsFilled 是否已完全成交
func (o *Order) IsFilled() bool {
	return o.ExecutedQuantity.Equal(o.Quantity)
}

// CanBeCanceled 是否可以取消
func (o *Order) CanBeCanceled() bool {
	return o.Status == OrderStatusNew || o.Status == OrderStatusPartiallyFilled
}

// Fill 累加成交数量并推进状态。超量成交视为不变量被破坏。
func (o *Order) Fill(qty decimal.Decimal, now time.Time) error {
	if !qty.IsPositive() {
		return NewInvariantViolation("fill quantity must be positive", "order_id", o.OrderID)
	}
	next := o.ExecutedQuantity.Add(qty)
	if next.GreaterThan(o.Quantity) {
		return NewInvariantViolation("executed quantity exceeds original", "order_id", o.OrderID)
	}
	o.ExecutedQuantity = next
	if o.IsFilled() {
		o.Status = OrderStatusFilled
		o.IsWorking = false
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
	o.UpdatedAt = now
	return nil
}

// OrderHistoryFilter 历史订单查询条件
type OrderHistoryFilter struct {
	Symbol string
	Status OrderStatus
	Side   OrderSide
	Start  time.Time
	End    time.Time
	Limit  int
	Offset int
}

// OrderRepository 订单仓储接口。
// 行级锁操作（Lock/Unlock）是跨进程撮合互斥的唯一机制。
type OrderRepository interface {
	// 保存订单（按 order_id 幂等）
	Save(ctx context.Context, order *Order) error
	// 获取订单
	Get(ctx context.Context, orderID string) (*Order, error)
	// 获取用户未完结订单，symbol 为空时不过滤
	GetOpenOrders(ctx context.Context, userID, symbol string) ([]*Order, error)
	// 分页查询用户历史订单
	History(ctx context.Context, userID string, filter OrderHistoryFilter) ([]*Order, int64, error)
	// 条件取消：仅当状态为 NEW/PARTIALLY_FILLED 且未锁定时生效，返回受影响行数
	Cancel(ctx context.Context, orderID, userID string, now time.Time) (int64, error)

	// 按 价格降序、创建时间升序、ID 升序 返回未锁定的活跃买单
	GetActiveBuyOrders(ctx context.Context, symbol string, limit int) ([]*Order, error)
	// 按 价格升序、创建时间升序、ID 升序 返回未锁定的活跃卖单
	GetActiveSellOrders(ctx context.Context, symbol string, limit int) ([]*Order, error)
	// 条件加锁：仅对当前未锁定的行生效，返回实际锁定的行数
	LockOrders(ctx context.Context, orderIDs []string, jobID string, now time.Time) (int64, error)
	// 返回被指定批次锁定的订单
	GetOrdersByLockJob(ctx context.Context, jobID string) ([]*Order, error)
	// 清除指定批次持有的锁；其他批次持有的行不受影响
	UnlockOrders(ctx context.Context, orderIDs []string, jobID string) error
	// 清除锁定时长超过 timeout 的行，返回受影响行数。崩溃周期的恢复路径。
	UnlockTimedOutOrders(ctx context.Context, timeout time.Duration, now time.Time) (int64, error)
	// 批量回写撮合结果（成交量、状态、工作标记）
	UpdateOrders(ctx context.Context, orders []*Order) error
	// 聚合活跃订单的价格档位深度
	GetDepth(ctx context.Context, symbol string, limit int) (bids, asks []DepthLevel, err error)
}

// DepthLevel 深度档位：某价格上的资金盘挂单总量
type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

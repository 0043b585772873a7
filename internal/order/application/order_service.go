// Package application 订单服务的应用层：入场校验、取消重试、查询
package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinflow/spotexchange/internal/order/domain"
	"github.com/coinflow/spotexchange/pkg/idgen"
)

const (
	cancelRetryAttempts = 5
	cancelRetryDelay    = 200 * time.Millisecond
)

// CreateOrderCommand 下单命令
type CreateOrderCommand struct {
	UserID      string
	Symbol      string
	Side        string
	Type        string
	Price       string
	Quantity    string
	TimeInForce string
}

// OrderService 处理订单的创建、取消与查询
type OrderService struct {
	orders    domain.OrderRepository
	symbols   domain.SymbolRepository
	publisher domain.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrderService 构造函数
func NewOrderService(orders domain.OrderRepository, symbols domain.SymbolRepository, publisher domain.EventPublisher, logger *slog.Logger) *OrderService {
	return &OrderService{
		orders:    orders,
		symbols:   symbols,
		publisher: publisher,
		logger:    logger.With("module", "order_service"),
		now:       time.Now,
	}
}

// CreateOrder 校验并持久化新订单。
// 校验失败时订单仍以 REJECTED 状态落库并返回校验错误；
// 上游的风控/余额检查在调用本方法前已经通过。
func (s *OrderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	now := s.now()
	orderID := idgen.OrderID()

	side := domain.OrderSide(cmd.Side)
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		return nil, domain.NewValidationError("side", "must be BUY or SELL")
	}
	orderType := domain.OrderType(cmd.Type)
	if orderType == "" {
		orderType = domain.OrderTypeLimit
	}
	if orderType != domain.OrderTypeLimit && orderType != domain.OrderTypeMarket {
		return nil, domain.NewValidationError("type", "must be LIMIT or MARKET")
	}
	tif := domain.TimeInForce(cmd.TimeInForce)
	if tif == "" {
		tif = domain.TimeInForceGTC
	}

	price, err := decimal.NewFromString(cmd.Price)
	if err != nil {
		return nil, domain.NewValidationError("price", "is not a valid decimal")
	}
	quantity, err := decimal.NewFromString(cmd.Quantity)
	if err != nil {
		return nil, domain.NewValidationError("quantity", "is not a valid decimal")
	}

	order := domain.NewOrder(orderID, cmd.UserID, cmd.Symbol, side, orderType, price, quantity, tif, now)

	if verr := s.validateAgainstSymbol(ctx, order); verr != nil {
		order.Status = domain.OrderStatusRejected
		order.IsWorking = false
		order.RejectReason = verr.Error()
		if err := s.orders.Save(ctx, order); err != nil {
			s.logger.Error("failed to persist rejected order", "order_id", orderID, "error", err)
		}
		return order, verr
	}

	if err := s.orders.Save(ctx, order); err != nil {
		s.logger.Error("failed to persist order", "order_id", orderID, "error", err)
		return nil, domain.NewTransientStoreError("create_order", err)
	}

	s.logger.Info("order accepted", "order_id", orderID, "symbol", order.Symbol, "side", order.Side, "price", order.Price.String(), "quantity", order.Quantity.String())
	return order, nil
}

func (s *OrderService) validateAgainstSymbol(ctx context.Context, order *domain.Order) error {
	sym, err := s.symbols.Get(ctx, order.Symbol)
	if err != nil {
		return domain.NewTransientStoreError("get_symbol", err)
	}
	if sym == nil || !sym.IsActive {
		return domain.NewValidationError("symbol", "does not exist or is inactive")
	}
	if err := sym.ValidatePrice(order.Price); err != nil {
		return err
	}
	return sym.ValidateQuantity(order.Quantity)
}

// CancelOrder 取消订单。订单被撮合周期锁定时做有界重试，
// 重试耗尽返回 ErrLockContention，客户端可再次发起。
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID string) error {
	for attempt := 0; attempt < cancelRetryAttempts; attempt++ {
		affected, err := s.orders.Cancel(ctx, orderID, userID, s.now())
		if err != nil {
			return domain.NewTransientStoreError("cancel_order", err)
		}
		if affected > 0 {
			s.logger.Info("order canceled", "order_id", orderID, "user_id", userID)
			return nil
		}

		// 零行受影响：要么订单不存在/已终态，要么正被锁定
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return domain.NewTransientStoreError("get_order", err)
		}
		if order == nil || order.UserID != userID || !order.CanBeCanceled() {
			return domain.ErrOrderNotFound
		}
		if !order.IsLocked {
			// 锁刚释放，立即重试条件更新
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cancelRetryDelay):
		}
	}
	s.logger.Warn("cancel retries exhausted, order still locked", "order_id", orderID)
	return domain.ErrLockContention
}

// GetOrder 查询订单（校验归属）
func (s *OrderService) GetOrder(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, domain.NewTransientStoreError("get_order", err)
	}
	if order == nil || order.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

// GetOpenOrders 查询用户未完结订单
func (s *OrderService) GetOpenOrders(ctx context.Context, userID, symbol string) ([]*domain.Order, error) {
	orders, err := s.orders.GetOpenOrders(ctx, userID, symbol)
	if err != nil {
		return nil, domain.NewTransientStoreError("get_open_orders", err)
	}
	return orders, nil
}

// GetOrderHistory 分页查询历史订单
func (s *OrderService) GetOrderHistory(ctx context.Context, userID string, filter domain.OrderHistoryFilter) ([]*domain.Order, int64, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	orders, total, err := s.orders.History(ctx, userID, filter)
	if err != nil {
		return nil, 0, domain.NewTransientStoreError("order_history", err)
	}
	return orders, total, nil
}

// GetDepth 聚合深度并向订阅方下发一次深度更新
func (s *OrderService) GetDepth(ctx context.Context, symbol string, limit int) (bids, asks []domain.DepthLevel, err error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	bids, asks, err = s.orders.GetDepth(ctx, symbol, limit)
	if err != nil {
		return nil, nil, domain.NewTransientStoreError("get_depth", err)
	}
	if s.publisher != nil {
		if perr := s.publisher.PublishDepth(ctx, symbol, bids, asks); perr != nil {
			s.logger.Warn("depth publish failed", "symbol", symbol, "error", perr)
		}
	}
	return bids, asks, nil
}

// IsNotFound 判断错误是否为订单缺失
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrOrderNotFound)
}

// IsLockContention 判断错误是否为锁冲突
func IsLockContention(err error) bool {
	return errors.Is(err, domain.ErrLockContention)
}

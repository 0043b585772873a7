// Package mysql 提供订单仓储接口的 MySQL GORM 实现。
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coinflow/spotexchange/internal/order/domain"
	"github.com/coinflow/spotexchange/pkg/db"
	"github.com/coinflow/spotexchange/pkg/logger"
)

// OrderModel 订单数据库模型，直接映射 orders 表。
type OrderModel struct {
	ID               uint   `gorm:"primaryKey"`
	OrderID          string `gorm:"column:order_id;type:varchar(32);uniqueIndex;not null;comment:订单唯一标识"`
	UserID           string `gorm:"column:user_id;type:varchar(32);index;not null;comment:所属用户ID"`
	Symbol           string `gorm:"column:symbol;type:varchar(20);index;index:idx_book,priority:1;not null;comment:交易对"`
	Side             string `gorm:"column:side;type:varchar(10);index:idx_book,priority:2;not null;comment:买卖方向(BUY/SELL)"`
	Type             string `gorm:"column:type;type:varchar(20);not null;comment:订单类型(LIMIT/MARKET)"`
	Price            string `gorm:"column:price;type:decimal(32,18);not null;comment:委托价格"`
	Quantity         string `gorm:"column:quantity;type:decimal(32,18);not null;comment:委托数量"`
	ExecutedQuantity string `gorm:"column:executed_quantity;type:decimal(32,18);default:'0';not null;comment:累计成交数量"`
	Status           string `gorm:"column:status;type:varchar(20);index:idx_book,priority:3;not null;comment:当前订单状态"`
	TimeInForce      string `gorm:"column:time_in_force;type:varchar(10);not null;comment:有效期策略(GTC/IOC)"`
	IsWorking        bool   `gorm:"column:is_working;index:idx_book,priority:4;not null;comment:是否可参与撮合"`
	IsLocked         bool   `gorm:"column:is_locked;index:idx_book,priority:5;not null;comment:是否被撮合周期锁定"`
	LockedAt         *time.Time `gorm:"column:locked_at;index;comment:加锁时刻"`
	LockJobID        string     `gorm:"column:lock_job_id;type:varchar(32);index;comment:持锁撮合批次ID"`
	RejectReason     string     `gorm:"column:reject_reason;type:varchar(255);comment:拒单原因"`
	CreatedAt        time.Time  `gorm:"column:created_at;index"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

// TableName 指定表名
func (OrderModel) TableName() string {
	return "orders"
}

// orderRepositoryImpl 是 domain.OrderRepository 接口的 GORM 实现。
type orderRepositoryImpl struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储实例
func NewOrderRepository(gdb *gorm.DB) domain.OrderRepository {
	return &orderRepositoryImpl{db: gdb}
}

func (r *orderRepositoryImpl) conn(ctx context.Context) *gorm.DB {
	return db.FromContext(ctx, r.db)
}

// Save 实现 domain.OrderRepository.Save
func (r *orderRepositoryImpl) Save(ctx context.Context, order *domain.Order) error {
	model := toModel(order)
	err := r.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"executed_quantity", "status", "is_working", "reject_reason", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		logger.Error(ctx, "order_repository.save failed", "order_id", order.OrderID, "error", err)
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// Get 实现 domain.OrderRepository.Get
func (r *orderRepositoryImpl) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	var model OrderModel
	if err := r.conn(ctx).Where("order_id = ?", orderID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "order_repository.get failed", "order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return toDomain(&model), nil
}

// GetOpenOrders 实现 domain.OrderRepository.GetOpenOrders
func (r *orderRepositoryImpl) GetOpenOrders(ctx context.Context, userID, symbol string) ([]*domain.Order, error) {
	q := r.conn(ctx).
		Where("user_id = ? AND status IN ?", userID, []string{string(domain.OrderStatusNew), string(domain.OrderStatusPartiallyFilled)})
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var models []OrderModel
	if err := q.Order("created_at desc").Find(&models).Error; err != nil {
		logger.Error(ctx, "order_repository.get_open_orders failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}
	return toDomainSlice(models), nil
}

// History 实现 domain.OrderRepository.History
func (r *orderRepositoryImpl) History(ctx context.Context, userID string, filter domain.OrderHistoryFilter) ([]*domain.Order, int64, error) {
	q := r.conn(ctx).Model(&OrderModel{}).Where("user_id = ?", userID)
	if filter.Symbol != "" {
		q = q.Where("symbol = ?", filter.Symbol)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Side != "" {
		q = q.Where("side = ?", string(filter.Side))
	}
	if !filter.Start.IsZero() {
		q = q.Where("created_at >= ?", filter.Start)
	}
	if !filter.End.IsZero() {
		q = q.Where("created_at <= ?", filter.End)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count order history: %w", err)
	}
	var models []OrderModel
	if err := q.Order("created_at desc").Limit(filter.Limit).Offset(filter.Offset).Find(&models).Error; err != nil {
		logger.Error(ctx, "order_repository.history failed", "user_id", userID, "error", err)
		return nil, 0, fmt.Errorf("failed to list order history: %w", err)
	}
	return toDomainSlice(models), total, nil
}

// Cancel 实现 domain.OrderRepository.Cancel。
// 条件更新保证与撮合周期的加锁互斥：锁定中的订单不会被取消。
func (r *orderRepositoryImpl) Cancel(ctx context.Context, orderID, userID string, now time.Time) (int64, error) {
	res := r.conn(ctx).Model(&OrderModel{}).
		Where("order_id = ? AND user_id = ? AND is_locked = ? AND status IN ?",
			orderID, userID, false,
			[]string{string(domain.OrderStatusNew), string(domain.OrderStatusPartiallyFilled)}).
		Updates(map[string]any{
			"status":     string(domain.OrderStatusCanceled),
			"is_working": false,
			"updated_at": now,
		})
	if res.Error != nil {
		logger.Error(ctx, "order_repository.cancel failed", "order_id", orderID, "error", res.Error)
		return 0, fmt.Errorf("failed to cancel order: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetActiveBuyOrders 实现 domain.OrderRepository.GetActiveBuyOrders
func (r *orderRepositoryImpl) GetActiveBuyOrders(ctx context.Context, symbol string, limit int) ([]*domain.Order, error) {
	return r.getActiveOrders(ctx, symbol, domain.OrderSideBuy, "price desc, created_at asc, order_id asc", limit)
}

// GetActiveSellOrders 实现 domain.OrderRepository.GetActiveSellOrders
func (r *orderRepositoryImpl) GetActiveSellOrders(ctx context.Context, symbol string, limit int) ([]*domain.Order, error) {
	return r.getActiveOrders(ctx, symbol, domain.OrderSideSell, "price asc, created_at asc, order_id asc", limit)
}

func (r *orderRepositoryImpl) getActiveOrders(ctx context.Context, symbol string, side domain.OrderSide, orderBy string, limit int) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.conn(ctx).
		Where("symbol = ? AND side = ? AND status IN ? AND is_working = ? AND is_locked = ?",
			symbol, string(side),
			[]string{string(domain.OrderStatusNew), string(domain.OrderStatusPartiallyFilled)},
			true, false).
		Order(orderBy).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		logger.Error(ctx, "order_repository.get_active_orders failed", "symbol", symbol, "side", side, "error", err)
		return nil, fmt.Errorf("failed to get active orders: %w", err)
	}
	return toDomainSlice(models), nil
}

// LockOrders 实现 domain.OrderRepository.LockOrders。
// WHERE is_locked = 0 使并发周期的竞争收敛为恰好一个持有者；
// 已被他人锁定的行被静默跳过，调用方必须通过 GetOrdersByLockJob 重读实际持有集。
func (r *orderRepositoryImpl) LockOrders(ctx context.Context, orderIDs []string, jobID string, now time.Time) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	res := r.conn(ctx).Model(&OrderModel{}).
		Where("order_id IN ? AND is_locked = ?", orderIDs, false).
		Updates(map[string]any{
			"is_locked":   true,
			"locked_at":   now,
			"lock_job_id": jobID,
		})
	if res.Error != nil {
		logger.Error(ctx, "order_repository.lock_orders failed", "job_id", jobID, "error", res.Error)
		return 0, fmt.Errorf("failed to lock orders: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetOrdersByLockJob 实现 domain.OrderRepository.GetOrdersByLockJob
func (r *orderRepositoryImpl) GetOrdersByLockJob(ctx context.Context, jobID string) ([]*domain.Order, error) {
	var models []OrderModel
	if err := r.conn(ctx).Where("lock_job_id = ? AND is_locked = ?", jobID, true).Find(&models).Error; err != nil {
		logger.Error(ctx, "order_repository.get_orders_by_lock_job failed", "job_id", jobID, "error", err)
		return nil, fmt.Errorf("failed to get locked orders: %w", err)
	}
	return toDomainSlice(models), nil
}

// UnlockOrders 实现 domain.OrderRepository.UnlockOrders。
// 按持锁批次过滤，并发周期持有的行不会被误释放。
func (r *orderRepositoryImpl) UnlockOrders(ctx context.Context, orderIDs []string, jobID string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	err := r.conn(ctx).Model(&OrderModel{}).
		Where("order_id IN ? AND lock_job_id = ?", orderIDs, jobID).
		Updates(map[string]any{
			"is_locked":   false,
			"locked_at":   nil,
			"lock_job_id": "",
		}).Error
	if err != nil {
		logger.Error(ctx, "order_repository.unlock_orders failed", "error", err)
		return fmt.Errorf("failed to unlock orders: %w", err)
	}
	return nil
}

// UnlockTimedOutOrders 实现 domain.OrderRepository.UnlockTimedOutOrders
func (r *orderRepositoryImpl) UnlockTimedOutOrders(ctx context.Context, timeout time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-timeout)
	res := r.conn(ctx).Model(&OrderModel{}).
		Where("is_locked = ? AND locked_at < ?", true, cutoff).
		Updates(map[string]any{
			"is_locked":   false,
			"locked_at":   nil,
			"lock_job_id": "",
		})
	if res.Error != nil {
		logger.Error(ctx, "order_repository.unlock_timed_out failed", "error", res.Error)
		return 0, fmt.Errorf("failed to unlock timed out orders: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// UpdateOrders 实现 domain.OrderRepository.UpdateOrders
func (r *orderRepositoryImpl) UpdateOrders(ctx context.Context, orders []*domain.Order) error {
	conn := r.conn(ctx)
	for _, order := range orders {
		err := conn.Model(&OrderModel{}).
			Where("order_id = ?", order.OrderID).
			Updates(map[string]any{
				"executed_quantity": order.ExecutedQuantity.String(),
				"status":            string(order.Status),
				"is_working":        order.IsWorking,
				"updated_at":        order.UpdatedAt,
			}).Error
		if err != nil {
			logger.Error(ctx, "order_repository.update_orders failed", "order_id", order.OrderID, "error", err)
			return fmt.Errorf("failed to update order %s: %w", order.OrderID, err)
		}
	}
	return nil
}

// GetDepth 实现 domain.OrderRepository.GetDepth。
// 深度只统计未完结的工作订单；锁定中的订单仍在盘口内。
func (r *orderRepositoryImpl) GetDepth(ctx context.Context, symbol string, limit int) ([]domain.DepthLevel, []domain.DepthLevel, error) {
	bids, err := r.depthSide(ctx, symbol, domain.OrderSideBuy, "price desc", limit)
	if err != nil {
		return nil, nil, err
	}
	asks, err := r.depthSide(ctx, symbol, domain.OrderSideSell, "price asc", limit)
	if err != nil {
		return nil, nil, err
	}
	return bids, asks, nil
}

func (r *orderRepositoryImpl) depthSide(ctx context.Context, symbol string, side domain.OrderSide, orderBy string, limit int) ([]domain.DepthLevel, error) {
	type row struct {
		Price    string
		Quantity string
	}
	var rows []row
	err := r.conn(ctx).Model(&OrderModel{}).
		Select("price, SUM(quantity - executed_quantity) AS quantity").
		Where("symbol = ? AND side = ? AND status IN ? AND is_working = ?",
			symbol, string(side),
			[]string{string(domain.OrderStatusNew), string(domain.OrderStatusPartiallyFilled)},
			true).
		Group("price").
		Order(orderBy).
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		logger.Error(ctx, "order_repository.depth failed", "symbol", symbol, "side", side, "error", err)
		return nil, fmt.Errorf("failed to aggregate depth: %w", err)
	}

	levels := make([]domain.DepthLevel, 0, len(rows))
	for _, rw := range rows {
		price, _ := decimal.NewFromString(rw.Price)
		qty, _ := decimal.NewFromString(rw.Quantity)
		levels = append(levels, domain.DepthLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

func toModel(o *domain.Order) *OrderModel {
	return &OrderModel{
		OrderID:          o.OrderID,
		UserID:           o.UserID,
		Symbol:           o.Symbol,
		Side:             string(o.Side),
		Type:             string(o.Type),
		Price:            o.Price.String(),
		Quantity:         o.Quantity.String(),
		ExecutedQuantity: o.ExecutedQuantity.String(),
		Status:           string(o.Status),
		TimeInForce:      string(o.TimeInForce),
		IsWorking:        o.IsWorking,
		IsLocked:         o.IsLocked,
		LockedAt:         o.LockedAt,
		LockJobID:        o.LockJobID,
		RejectReason:     o.RejectReason,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func toDomain(m *OrderModel) *domain.Order {
	price, _ := decimal.NewFromString(m.Price)
	qty, _ := decimal.NewFromString(m.Quantity)
	executed, _ := decimal.NewFromString(m.ExecutedQuantity)

	return &domain.Order{
		OrderID:          m.OrderID,
		UserID:           m.UserID,
		Symbol:           m.Symbol,
		Side:             domain.OrderSide(m.Side),
		Type:             domain.OrderType(m.Type),
		Price:            price,
		Quantity:         qty,
		ExecutedQuantity: executed,
		Status:           domain.OrderStatus(m.Status),
		TimeInForce:      domain.TimeInForce(m.TimeInForce),
		IsWorking:        m.IsWorking,
		IsLocked:         m.IsLocked,
		LockedAt:         m.LockedAt,
		LockJobID:        m.LockJobID,
		RejectReason:     m.RejectReason,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func toDomainSlice(models []OrderModel) []*domain.Order {
	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = toDomain(&models[i])
	}
	return orders
}

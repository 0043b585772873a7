// Package http 订单服务的 HTTP 接口层
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coinflow/spotexchange/internal/order/application"
	"github.com/coinflow/spotexchange/internal/order/domain"
	"github.com/coinflow/spotexchange/pkg/logger"
)

// OrderHandler HTTP 处理器
// 负责处理与订单相关的 HTTP 请求
type OrderHandler struct {
	service *application.OrderService
}

// NewOrderHandler 创建 HTTP 处理器实例
func NewOrderHandler(service *application.OrderService) *OrderHandler {
	return &OrderHandler{service: service}
}

// RegisterRoutes 注册路由
func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/v1")
	{
		api.POST("/orders", h.CreateOrder)          // 创建订单
		api.DELETE("/orders/:id", h.CancelOrder)    // 取消订单
		api.GET("/orders/:id", h.GetOrder)          // 获取订单详情
		api.GET("/orders/open", h.GetOpenOrders)    // 未完结订单
		api.GET("/orders/history", h.OrderHistory)  // 历史订单
		api.GET("/depth/:symbol", h.GetDepth)       // 盘口深度
	}
}

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Symbol      string `json:"symbol" binding:"required"`
	Side        string `json:"side" binding:"required"`
	Type        string `json:"type"`
	Price       string `json:"price" binding:"required"`
	Quantity    string `json:"quantity" binding:"required"`
	TimeInForce string `json:"time_in_force"`
}

// CreateOrder 创建订单
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.service.CreateOrder(c.Request.Context(), application.CreateOrderCommand{
		UserID:      req.UserID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Price:       req.Price,
		Quantity:    req.Quantity,
		TimeInForce: req.TimeInForce,
	})
	if err != nil {
		if domain.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Error(c.Request.Context(), "Failed to create order", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
		return
	}

	c.JSON(http.StatusOK, orderView(order))
}

// CancelOrder 取消订单。锁冲突返回 409，不存在/终态返回 404。
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	orderID := c.Param("id")
	userID := c.Query("user_id")
	if orderID == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order id and user_id are required"})
		return
	}

	err := h.service.CancelOrder(c.Request.Context(), orderID, userID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": "CANCELED"})
	case application.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found or already terminal"})
	case application.IsLockContention(err):
		c.JSON(http.StatusConflict, gin.H{"error": "order is being matched, retry later"})
	default:
		logger.Error(c.Request.Context(), "Failed to cancel order", "order_id", orderID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
	}
}

// GetOrder 获取订单详情
func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID := c.Param("id")
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	order, err := h.service.GetOrder(c.Request.Context(), orderID, userID)
	if err != nil {
		if application.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		logger.Error(c.Request.Context(), "Failed to get order", "order_id", orderID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
		return
	}

	c.JSON(http.StatusOK, orderView(order))
}

// GetOpenOrders 未完结订单列表
func (h *OrderHandler) GetOpenOrders(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	orders, err := h.service.GetOpenOrders(c.Request.Context(), userID, c.Query("symbol"))
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to get open orders", "user_id", userID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
		return
	}

	views := make([]gin.H, len(orders))
	for i, o := range orders {
		views[i] = orderView(o)
	}
	c.JSON(http.StatusOK, gin.H{"orders": views})
}

// OrderHistory 历史订单分页查询
func (h *OrderHandler) OrderHistory(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	filter := domain.OrderHistoryFilter{
		Symbol: c.Query("symbol"),
		Status: domain.OrderStatus(c.Query("status")),
		Side:   domain.OrderSide(c.Query("side")),
		Limit:  limit,
		Offset: offset,
	}
	if v := c.Query("start"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.Start = time.UnixMilli(ms).UTC()
		}
	}
	if v := c.Query("end"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.End = time.UnixMilli(ms).UTC()
		}
	}

	orders, total, err := h.service.GetOrderHistory(c.Request.Context(), userID, filter)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to get order history", "user_id", userID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
		return
	}

	views := make([]gin.H, len(orders))
	for i, o := range orders {
		views[i] = orderView(o)
	}
	c.JSON(http.StatusOK, gin.H{"orders": views, "total": total})
}

// GetDepth 盘口深度
func (h *OrderHandler) GetDepth(c *gin.Context) {
	symbol := c.Param("symbol")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	bids, asks, err := h.service.GetDepth(c.Request.Context(), symbol, limit)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to get depth", "symbol", symbol, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "bids": bids, "asks": asks})
}

func orderView(o *domain.Order) gin.H {
	return gin.H{
		"order_id":          o.OrderID,
		"symbol":            o.Symbol,
		"side":              o.Side,
		"type":              o.Type,
		"price":             o.Price.String(),
		"quantity":          o.Quantity.String(),
		"executed_quantity": o.ExecutedQuantity.String(),
		"status":            o.Status,
		"time_in_force":     o.TimeInForce,
		"reject_reason":     o.RejectReason,
		"created_at":        o.CreatedAt.UnixMilli(),
		"updated_at":        o.UpdatedAt.UnixMilli(),
	}
}

// Package http 撮合引擎的 HTTP 接口层
package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/coinflow/spotexchange/internal/matchingengine/application"
	"github.com/coinflow/spotexchange/internal/matchingengine/domain"
	"github.com/coinflow/spotexchange/pkg/logger"
)

// MatchingHandler HTTP 处理器
// 提供成交、撮合批次台账与撮合配置的只读查询
type MatchingHandler struct {
	query *application.QueryService
}

// NewMatchingHandler 创建 HTTP 处理器实例
func NewMatchingHandler(query *application.QueryService) *MatchingHandler {
	return &MatchingHandler{query: query}
}

// RegisterRoutes 注册路由
func (h *MatchingHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/v1")
	{
		api.GET("/trades/:symbol", h.GetLatestTrades) // 最近成交
		api.GET("/jobs", h.GetRecentJobs)             // 撮合批次台账
		api.GET("/matchers", h.GetMatchers)           // 撮合配置与统计
	}
}

// GetLatestTrades 最近成交列表
func (h *MatchingHandler) GetLatestTrades(c *gin.Context) {
	symbol := c.Param("symbol")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	trades, err := h.query.GetLatestTrades(c.Request.Context(), symbol, limit)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to get latest trades", "symbol", symbol, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
		return
	}

	views := make([]gin.H, len(trades))
	for i, t := range trades {
		views[i] = tradeView(t)
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "trades": views})
}

// GetRecentJobs 撮合批次台账查询，symbol 为空时返回全市场最近批次
func (h *MatchingHandler) GetRecentJobs(c *gin.Context) {
	symbol := c.Query("symbol")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	jobs, err := h.query.GetRecentJobs(c.Request.Context(), symbol, limit)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to get match jobs", "symbol", symbol, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
		return
	}

	views := make([]gin.H, len(jobs))
	for i, j := range jobs {
		views[i] = jobView(j)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

// GetMatchers 活跃撮合配置列表
func (h *MatchingHandler) GetMatchers(c *gin.Context) {
	matchers, err := h.query.GetMatchers(c.Request.Context())
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to get matchers", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
		return
	}

	views := make([]gin.H, len(matchers))
	for i, m := range matchers {
		views[i] = gin.H{
			"symbol":                 m.Symbol,
			"is_active":              m.IsActive,
			"batch_size":             m.BatchSize,
			"total_orders_processed": m.TotalOrdersProcessed,
			"total_trades_generated": m.TotalTradesGenerated,
			"last_match_ms":          m.LastMatchMs,
			"average_match_ms":       m.AverageMatchMs,
			"match_runs":             m.MatchRuns,
		}
	}
	c.JSON(http.StatusOK, gin.H{"matchers": views})
}

func tradeView(t *domain.Trade) gin.H {
	return gin.H{
		"trade_id":       t.TradeID,
		"symbol":         t.Symbol,
		"buy_order_id":   t.BuyOrderID,
		"sell_order_id":  t.SellOrderID,
		"price":          t.Price.String(),
		"quantity":       t.Quantity.String(),
		"is_buyer_maker": t.IsBuyerMaker,
		"time":           t.CreatedAt.UnixMilli(),
	}
}

func jobView(j *domain.MatchJob) gin.H {
	view := gin.H{
		"job_id":           j.JobID,
		"symbol":           j.Symbol,
		"status":           j.Status,
		"orders_processed": j.OrdersProcessed,
		"trades_generated": j.TradesGenerated,
		"processing_ms":    j.ProcessingMs,
		"total_volume":     j.TotalVolume.String(),
		"started_at":       j.StartedAt.UnixMilli(),
	}
	if j.CompletedAt != nil {
		view["completed_at"] = j.CompletedAt.UnixMilli()
	}
	if j.ErrorMessage != "" {
		view["error_message"] = j.ErrorMessage
	}
	return view
}

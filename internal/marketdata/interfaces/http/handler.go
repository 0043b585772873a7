// Package http 行情服务的 HTTP 接口层
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coinflow/spotexchange/internal/marketdata/application"
	"github.com/coinflow/spotexchange/internal/marketdata/domain"
	"github.com/coinflow/spotexchange/pkg/logger"
)

// KlineHandler HTTP 处理器
// 提供 K 线的区间查询、最新桶查询与回填触发
type KlineHandler struct {
	service *application.KlineService
}

// NewKlineHandler 创建 HTTP 处理器实例
func NewKlineHandler(service *application.KlineService) *KlineHandler {
	return &KlineHandler{service: service}
}

// RegisterRoutes 注册路由
func (h *KlineHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/v1")
	{
		api.GET("/klines/:symbol", h.GetKlines)            // 区间查询
		api.GET("/klines/:symbol/latest", h.GetLatest)     // 当前桶
		api.POST("/klines/:symbol/backfill", h.Backfill)   // 回填重建
	}
}

// GetKlines K 线区间查询
func (h *KlineHandler) GetKlines(c *gin.Context) {
	symbol := c.Param("symbol")
	interval, err := domain.ParseInterval(c.DefaultQuery("interval", "1m"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var start, end time.Time
	if v := c.Query("start"); v != "" {
		if ms, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			start = time.UnixMilli(ms).UTC()
		}
	}
	if v := c.Query("end"); v != "" {
		if ms, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			end = time.UnixMilli(ms).UTC()
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))

	klines, err := h.service.GetKlines(c.Request.Context(), symbol, interval, start, end, limit)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to get klines", "symbol", symbol, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
		return
	}

	views := make([]gin.H, len(klines))
	for i, k := range klines {
		views[i] = klineView(k)
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "interval": interval, "klines": views})
}

// GetLatest 当前桶查询
func (h *KlineHandler) GetLatest(c *gin.Context) {
	symbol := c.Param("symbol")
	interval, err := domain.ParseInterval(c.DefaultQuery("interval", "1m"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kline, err := h.service.GetLatestKline(c.Request.Context(), symbol, interval)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to get latest kline", "symbol", symbol, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
		return
	}
	if kline == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no kline for symbol and interval"})
		return
	}

	c.JSON(http.StatusOK, klineView(kline))
}

// BackfillRequest 回填请求
type BackfillRequest struct {
	Interval string `json:"interval" binding:"required"`
	// 毫秒时间戳，必须等于目标桶的开盘时刻
	Start int64 `json:"start" binding:"required"`
	// 毫秒时间戳，不得超过目标桶的收盘时刻
	End int64 `json:"end" binding:"required"`
}

// Backfill 按成交历史重建单个桶
func (h *KlineHandler) Backfill(c *gin.Context) {
	symbol := c.Param("symbol")
	var req BackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	interval, err := domain.ParseInterval(req.Interval)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kline, err := h.service.GenerateKline(c.Request.Context(), symbol, interval,
		time.UnixMilli(req.Start).UTC(), time.UnixMilli(req.End).UTC())
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to backfill kline", "symbol", symbol, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if kline == nil {
		c.JSON(http.StatusOK, gin.H{"symbol": symbol, "interval": interval, "regenerated": false})
		return
	}

	c.JSON(http.StatusOK, klineView(kline))
}

func klineView(k *domain.Kline) gin.H {
	return gin.H{
		"symbol":       k.Symbol,
		"interval":     k.Interval,
		"open_time":    k.OpenTime.UnixMilli(),
		"close_time":   k.CloseTime.UnixMilli(),
		"open":         k.Open.String(),
		"high":         k.High.String(),
		"low":          k.Low.String(),
		"close":        k.Close.String(),
		"volume":       k.Volume.String(),
		"quote_volume": k.QuoteVolume.String(),
		"trade_count":  k.TradeCount,
	}
}

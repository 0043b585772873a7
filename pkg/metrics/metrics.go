// Package metrics 提供 Prometheus helper，包含撮合与行情相关的 counter/gauge/histogram
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coinflow/spotexchange/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration prometheus.Histogram

	// 撮合周期计数（按结果区分）
	MatchCyclesTotal *prometheus.CounterVec
	// 撮合周期耗时
	MatchCycleDuration prometheus.Histogram
	// 成交计数
	TradesMatchedTotal *prometheus.CounterVec
	// 超时回收的订单锁计数
	LocksReclaimedTotal prometheus.Counter

	// K 线折叠计数
	KlineFoldsTotal *prometheus.CounterVec
	// 收盘扫描计数
	KlineSweepsTotal prometheus.Counter

	// 事件发布失败计数
	PublishFailuresTotal *prometheus.CounterVec
}

// New 创建指标实例并完成注册
func New(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spotexchange",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spotexchange",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		}),
		MatchCyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spotexchange",
			Subsystem: serviceName,
			Name:      "match_cycles_total",
			Help:      "Matching cycles by symbol and status",
		}, []string{"symbol", "status"}),
		MatchCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spotexchange",
			Subsystem: serviceName,
			Name:      "match_cycle_duration_seconds",
			Help:      "Matching cycle duration",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		TradesMatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spotexchange",
			Subsystem: serviceName,
			Name:      "trades_matched_total",
			Help:      "Trades generated by the matching engine",
		}, []string{"symbol"}),
		LocksReclaimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spotexchange",
			Subsystem: serviceName,
			Name:      "locks_reclaimed_total",
			Help:      "Order locks reclaimed by the timeout sweep",
		}),
		KlineFoldsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spotexchange",
			Subsystem: serviceName,
			Name:      "kline_folds_total",
			Help:      "Trades folded into kline buckets",
		}, []string{"symbol", "interval"}),
		KlineSweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spotexchange",
			Subsystem: serviceName,
			Name:      "kline_sweeps_total",
			Help:      "Kline close-out sweeps executed",
		}),
		PublishFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spotexchange",
			Subsystem: serviceName,
			Name:      "publish_failures_total",
			Help:      "Event publish failures by topic kind",
		}, []string{"kind"}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.MatchCyclesTotal,
		m.MatchCycleDuration,
		m.TradesMatchedTotal,
		m.LocksReclaimedTotal,
		m.KlineFoldsTotal,
		m.KlineSweepsTotal,
		m.PublishFailuresTotal,
	)

	return m
}

// ExposeHTTP 在独立端口暴露 /metrics
func (m *Metrics) ExposeHTTP(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "Metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error(context.Background(), "Metrics endpoint failed", "error", err)
	}
}

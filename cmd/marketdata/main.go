package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/coinflow/spotexchange/internal/marketdata/application"
	"github.com/coinflow/spotexchange/internal/marketdata/domain"
	"github.com/coinflow/spotexchange/internal/marketdata/infrastructure/messaging"
	"github.com/coinflow/spotexchange/internal/marketdata/infrastructure/persistence/mysql"
	mdredis "github.com/coinflow/spotexchange/internal/marketdata/infrastructure/persistence/redis"
	"github.com/coinflow/spotexchange/internal/marketdata/interfaces/consumer"
	httpserver "github.com/coinflow/spotexchange/internal/marketdata/interfaces/http"
	"github.com/coinflow/spotexchange/internal/marketdata/interfaces/ws"
	"github.com/coinflow/spotexchange/pkg/cache"
	"github.com/coinflow/spotexchange/pkg/config"
	"github.com/coinflow/spotexchange/pkg/db"
	"github.com/coinflow/spotexchange/pkg/logger"
	"github.com/coinflow/spotexchange/pkg/metrics"
)

var configPath = flag.String("config", "configs/marketdata/config.toml", "config file path")

// fanoutPublisher 同一份 K 线快照既发 Kafka 也推 WebSocket
type fanoutPublisher struct {
	targets []domain.EventPublisher
}

func (p *fanoutPublisher) PublishKline(ctx context.Context, event domain.KlineEvent) error {
	var firstErr error
	for _, t := range p.targets {
		if err := t.PublishKline(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func main() {
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Logger
	if err := logger.Init(cfg.ServiceName, cfg.Logger); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}

	// 3. Metrics
	metricsImpl := metrics.New("marketdata")
	if cfg.Metrics.Enabled {
		go metricsImpl.ExposeHTTP(cfg.Metrics.Port)
	}

	// 4. Database
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		slog.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if cfg.Environment == "dev" {
		if err := database.AutoMigrate(&mysql.KlineModel{}); err != nil {
			slog.Error("failed to migrate database", "error", err)
		}
	}

	// 5. Redis
	redisCache, err := cache.New(cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxPoolSize:  cfg.Redis.MaxPoolSize,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		slog.Error("failed to connect redis", "error", err)
		os.Exit(1)
	}
	defer redisCache.Close()

	// 6. Repository & Application
	klineRepo := mysql.NewKlineRepository(database.DB)
	tradeReader := mysql.NewTradeReader(database.DB)
	symbolReader := mysql.NewSymbolReader(database.DB)
	latestCache := mdredis.NewKlineCache(redisCache)

	klinePublisher := messaging.NewKlinePublisher(cfg.Kafka.Brokers, cfg.Publish.BestEffort)
	defer klinePublisher.Close()

	hub := ws.NewHub(slog.Default())
	publisher := &fanoutPublisher{targets: []domain.EventPublisher{klinePublisher, hub}}

	service := application.NewKlineService(
		klineRepo, latestCache, tradeReader, symbolReader,
		publisher, metricsImpl, slog.Default(), cfg.Kline.SweepEnabled,
	)

	tradeTopic := cfg.Kafka.Topic
	if tradeTopic == "" {
		tradeTopic = "trade.executed"
	}
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "marketdata-kline"
	}
	tradeConsumer := consumer.NewTradeStreamConsumer(cfg.Kafka.Brokers, groupID, tradeTopic, service)
	defer tradeConsumer.Close()

	// 7. Interfaces (HTTP + WS)
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ws", hub.ServeWS)

	handler := httpserver.NewKlineHandler(service)
	handler.RegisterRoutes(r.Group("/api"))

	// 8. Start
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(rootCtx)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	g.Go(func() error {
		slog.Info("HTTP server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return tradeConsumer.Run(ctx) })
	g.Go(func() error { return service.RunSweepers(ctx) })

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
	}
	slog.Info("server exiting")
}

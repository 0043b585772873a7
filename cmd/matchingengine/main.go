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

	"github.com/coinflow/spotexchange/internal/matchingengine/application"
	"github.com/coinflow/spotexchange/internal/matchingengine/infrastructure/messaging"
	"github.com/coinflow/spotexchange/internal/matchingengine/infrastructure/persistence/mysql"
	httpserver "github.com/coinflow/spotexchange/internal/matchingengine/interfaces/http"
	ordermysql "github.com/coinflow/spotexchange/internal/order/infrastructure/persistence/mysql"
	"github.com/coinflow/spotexchange/pkg/config"
	"github.com/coinflow/spotexchange/pkg/db"
	"github.com/coinflow/spotexchange/pkg/logger"
	"github.com/coinflow/spotexchange/pkg/metrics"
)

var configPath = flag.String("config", "configs/matchingengine/config.toml", "config file path")

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
	metricsImpl := metrics.New("matchingengine")
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
		if err := database.AutoMigrate(&mysql.TradeModel{}, &mysql.MatchJobModel{}, &mysql.OrderMatcherModel{}); err != nil {
			slog.Error("failed to migrate database", "error", err)
		}
	}

	// 5. Repository & Application
	orderRepo := ordermysql.NewOrderRepository(database.DB)
	tradeRepo := mysql.NewTradeRepository(database.DB)
	jobRepo := mysql.NewMatchJobRepository(database.DB)
	matcherRepo := mysql.NewMatcherRepository(database.DB)

	publisher := messaging.NewTradePublisher(cfg.Kafka.Brokers, cfg.Publish.BestEffort)
	defer publisher.Close()

	engine := application.NewEngine(
		application.Config{
			Interval:         time.Duration(cfg.Matching.IntervalMs) * time.Millisecond,
			LockTimeout:      time.Duration(cfg.Matching.LockTimeoutSeconds) * time.Second,
			StoreTimeout:     time.Duration(cfg.Matching.StoreTimeoutSeconds) * time.Second,
			DefaultBatchSize: cfg.Matching.BatchSize,
		},
		orderRepo, tradeRepo, jobRepo, matcherRepo,
		database, publisher, metricsImpl, slog.Default(),
	)
	query := application.NewQueryService(tradeRepo, jobRepo, matcherRepo,
		time.Duration(cfg.Matching.LockTimeoutSeconds)*time.Second, slog.Default())

	// 6. Interfaces (HTTP)
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	handler := httpserver.NewMatchingHandler(query)
	handler.RegisterRoutes(r.Group("/api"))

	// 7. Start
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

	g.Go(func() error {
		return engine.Run(ctx)
	})

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

// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/sd-worker/internal/auth"
	"github.com/yourusername/sd-worker/internal/config"
	"github.com/yourusername/sd-worker/internal/jobs"
	"github.com/yourusername/sd-worker/internal/realtime"
	"github.com/yourusername/sd-worker/internal/session"
)

const shutdownTimeout = 30 * time.Second

// app はルーティングに必要なコンポーネントをまとめたものです。
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	sessions *session.Registry
	hub      *realtime.Hub
	worker   *jobs.Worker
	store    jobs.RecordStore
	auth     *auth.Manager
	cleanup  func()
}

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ワーカーの停止は Stop だけで行う。シグナルの ctx を渡すと待機中のジョブが流れ続ける
	a.worker.Start(context.Background())

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
	}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, a)

	// サーバーの起動
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		logger.Info("starting API server", zap.String("addr", srv.Addr), zap.String("mode", cfg.GinMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	// 実行中のジョブは最後まで実行させる
	if err := a.worker.Stop(shutdownCtx); err != nil {
		logger.Warn("worker did not stop in time", zap.Error(err))
	}
}

// newLogger は GIN_MODE と LOG_LEVEL に応じた zap ロガーを作成します。
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewDevelopmentConfig()
	if cfg.GinMode == gin.ReleaseMode {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"service":  "sd-worker",
			"version":  "0.1.0",
			"sessions": a.sessions.Len(),
			"queued":   a.worker.QueueLength(),
		})
	}
}

// setupRoutes は WebSocket と API の配線を行います。
func setupRoutes(router *gin.Engine, a *app) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth(a))

	wsHandler := realtime.NewHandler(realtime.HandlerConfig{
		Hub:            a.hub,
		Auth:           a.auth,
		Submitter:      a.worker,
		AllowedOrigins: a.cfg.AllowedOrigins(),
		SendBuffer:     a.cfg.WSSendBuffer,
		Logger:         a.logger,
	})
	router.GET("/ws", wsHandler.HandleConnection)

	api := router.Group("/api")
	api.Use(a.auth.RequireToken())
	{
		api.GET("/jobs/:id", jobStatusHandler(a.store))
	}
}

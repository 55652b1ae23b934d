package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/sd-worker/internal/artifact"
	"github.com/yourusername/sd-worker/internal/auth"
	"github.com/yourusername/sd-worker/internal/compute"
	"github.com/yourusername/sd-worker/internal/config"
	"github.com/yourusername/sd-worker/internal/jobs"
	"github.com/yourusername/sd-worker/internal/realtime"
	"github.com/yourusername/sd-worker/internal/session"
	"github.com/yourusername/sd-worker/internal/storage"
)

// newApp は設定からコンポーネントを組み立てます。
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		sessions: session.NewRegistry(),
		cleanup:  func() {},
	}
	a.hub = realtime.NewHub(a.sessions, logger)

	verifier, err := setupVerifier(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.auth = auth.NewManager(verifier, logger)

	var store *jobs.Store
	if cfg.JobStoreRedisURL != "" {
		opt, err := redis.ParseURL(cfg.JobStoreRedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid JOB_STORE_REDIS_URL: %w", err)
		}
		client := redis.NewClient(opt)
		a.cleanup = func() { _ = client.Close() }
		store = jobs.NewStore(client, cfg.JobExpiration())
		a.store = store
	}

	deps, err := setupCompute(cfg)
	if err != nil {
		return nil, err
	}

	// store が nil の場合はインターフェースにも nil を渡す
	var records jobs.RecordStore
	if store != nil {
		records = store
	}
	emitter := jobs.NewTracker(a.hub, records, logger)
	factory, err := jobs.NewFactory(deps, emitter)
	if err != nil {
		return nil, err
	}
	a.worker, err = jobs.NewWorker(jobs.WorkerConfig{
		Sessions: a.sessions,
		Emitter:  emitter,
		Builder:  factory,
		Store:    records,
		Subjects: a.hub,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func setupVerifier(cfg *config.Config, logger *zap.Logger) (auth.TokenVerifier, error) {
	if cfg.AuthDisabled {
		if cfg.GinMode == gin.ReleaseMode {
			return nil, errors.New("AUTH_DISABLED is not allowed in release mode")
		}
		logger.Warn("token verification is disabled")
		return auth.AllowAll{}, nil
	}
	keys := auth.NewKeySet(cfg.AuthCertsURL, nil, logger)
	return auth.NewVerifier(keys, cfg.AuthAudience, cfg.AuthIssuer), nil
}

func setupCompute(cfg *config.Config) (jobs.Deps, error) {
	local, err := storage.NewLocal(cfg.ArtifactCacheDir)
	if err != nil {
		return jobs.Deps{}, err
	}
	var fetcher artifact.Fetcher = artifact.PlaceholderFetcher{}
	if cfg.ArtifactBaseURL != "" {
		fetcher = artifact.NewHTTPFetcher(cfg.ArtifactBaseURL)
	}
	loader, err := artifact.NewLoader(local, fetcher)
	if err != nil {
		return jobs.Deps{}, err
	}
	engine := compute.NewSimulated(cfg.StepDelay())
	return jobs.Deps{
		Artifacts: loader,
		Generator: engine,
		Upscaler:  engine,
	}, nil
}

func jobStatusHandler(store jobs.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}
		if store == nil {
			c.JSON(http.StatusNotImplemented, gin.H{
				"code":    "JOB_STORE_DISABLED",
				"message": "ジョブ状態の記録は無効です。",
			})
			return
		}

		record, err := store.Get(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		// 他の利用者のジョブは存在しないものとして扱う
		identity, ok := auth.IdentityFrom(c)
		if record != nil && (!ok || record.Subject == "" || record.Subject != identity.Subject) {
			record = nil
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
			return
		}

		payload := gin.H{
			"jobId":     record.JobID,
			"kind":      record.Kind,
			"status":    record.Status,
			"createdAt": record.CreatedAt,
			"updatedAt": record.UpdatedAt,
			"expiresAt": record.ExpiresAt,
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}

		c.JSON(http.StatusOK, payload)
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kspro0090/baradar/internal"
	"github.com/kspro0090/baradar/internal/auth"
	"github.com/kspro0090/baradar/internal/config"
	"github.com/kspro0090/baradar/internal/fonts"
	"github.com/kspro0090/baradar/internal/gdocs"
	"github.com/kspro0090/baradar/internal/handlers"
	"github.com/kspro0090/baradar/internal/lifecycle"
	"github.com/kspro0090/baradar/internal/logger"
	"github.com/kspro0090/baradar/internal/pdf"
	"github.com/kspro0090/baradar/internal/queue"
	"github.com/kspro0090/baradar/internal/render"
	"github.com/kspro0090/baradar/internal/services"
	"github.com/kspro0090/baradar/internal/storage"
	"github.com/kspro0090/baradar/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.Server.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence
	var st store.Store
	var db *gorm.DB
	if cfg.Database.Driver == "memory" {
		zl.Warn("using in-memory store; data is lost on restart")
		st = store.NewMemory()
	} else {
		var err error
		db, err = internal.OpenDB(cfg, zl)
		if err != nil {
			return err
		}
		defer internal.CloseDB(db)
		st = store.NewGorm(db)
	}

	// Template and artifact storage
	var templates, artifacts storage.Store
	if cfg.GCS.BucketName != "" {
		gcs, err := storage.NewGCSClient(ctx, cfg.GCS.BucketName, cfg.GCS.ProjectID, cfg.GCS.CredentialsPath)
		if err != nil {
			return err
		}
		defer gcs.Close()
		templates, artifacts = gcs, gcs
		zl.Info("using GCS storage", zap.String("bucket", cfg.GCS.BucketName))
	} else {
		uploads, err := storage.NewLocal(cfg.Storage.UploadDir)
		if err != nil {
			return err
		}
		outputs, err := storage.NewLocal(cfg.Storage.OutputDir)
		if err != nil {
			return err
		}
		templates, artifacts = uploads, outputs
	}

	registry, err := fonts.Open(cfg.Storage.FontsDir, zl)
	if err != nil {
		return err
	}

	// Google Docs templates and the auto-approval sheet are optional.
	var (
		remote render.RemoteDocs
		sheets services.SheetLookup
	)
	if cfg.Google.CredentialsPath != "" {
		client, err := gdocs.New(ctx, cfg.Google.CredentialsPath, cfg.Google.Timeout, zl)
		if err != nil {
			zl.Warn("Google APIs unavailable; google_doc templates and auto approval are disabled", zap.Error(err))
		} else {
			remote = client
			sheets = gdocs.NewSheetChecker(client, cfg.Google.SheetCacheTTL)
		}
	}

	var converter render.DocxConverter
	if cfg.PDF.DocxMode == "gotenberg" {
		c, err := pdf.NewConverter(cfg.Gotenberg.URL, cfg.Gotenberg.Timeout, 2, zl)
		if err != nil {
			return err
		}
		converter = c
	}

	renderer := render.New(render.Options{
		Blobs:  templates,
		Remote: remote,
		Emitter: pdf.NewEmitter(registry, zl, pdf.Options{
			KeepDiacritics: cfg.PDF.KeepDiacritics,
			QR:             cfg.PDF.QREnabled,
		}),
		Fonts:     registry,
		Converter: converter,
		Logger:    zl,
	})

	signer, err := auth.NewSigner(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		zl.Warn("JWT_SECRET is not set; tokens will not survive a restart")
	}

	var q queue.Queue
	if cfg.Redis.Addr != "" {
		rq := queue.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, zl)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rq.Ping(pingCtx)
		cancel()
		if err != nil {
			return err
		}
		q = rq
		zl.Info("using Redis task queue", zap.String("addr", cfg.Redis.Addr))
	} else {
		q = queue.NewMemory(256)
	}
	defer q.Close()

	lc := lifecycle.NewManager(st, zl)
	templateService := services.NewTemplateService(st, templates, renderer, lc, registry, zl)
	requestService := services.NewRequestService(st, q, lc, artifacts, services.RequestOptions{
		Sheets:      sheets,
		Signer:      signer,
		DownloadTTL: cfg.Auth.DownloadTTL,
		BaseURL:     cfg.Server.BaseURL,
		Logger:      zl,
	})
	documentService := services.NewDocumentService(st, artifacts, renderer, lc, templateService, zl)

	// Workers keep going until the queue context ends; in-flight renders
	// finish on their own deadline.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	// Approvals left processing by a previous run are put back to pending.
	// The in-process queue lost all its tasks; with Redis, other servers
	// may still be rendering, so only approvals older than a job's whole
	// retry budget count as interrupted, and the sweep repeats.
	staleAfter := time.Duration(0)
	if cfg.Redis.Addr != "" {
		staleAfter = cfg.Worker.JobTimeout * time.Duration(cfg.Worker.MaxRetries+1)
	}
	recoverApprovals(workerCtx, documentService, staleAfter, zl)
	if staleAfter > 0 {
		go func() {
			ticker := time.NewTicker(staleAfter)
			defer ticker.Stop()
			for {
				select {
				case <-workerCtx.Done():
					return
				case <-ticker.C:
					recoverApprovals(workerCtx, documentService, staleAfter, zl)
				}
			}
		}()
	}
	pool := queue.NewPool(q, st, documentService.Generate, queue.PoolOptions{
		Workers:    cfg.Worker.Count,
		MaxRetries: cfg.Worker.MaxRetries,
		RetryDelay: cfg.Worker.RetryDelay,
		JobTimeout: cfg.Worker.JobTimeout,
		Retryable:  services.Retryable,
	}, zl)
	pool.Start(workerCtx)

	cleanup := services.NewFileCleanupService(cfg.Storage.CleanupAfter, zl,
		cfg.Storage.UploadDir, cfg.Storage.OutputDir, cfg.Storage.FontsDir).WithPattern(".upload-*")
	cleanup.Start()
	defer cleanup.Stop()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.RouterOptions{
		Templates:    templateService,
		Requests:     requestService,
		Fonts:        services.NewFontService(registry, templateService),
		ActivityLogs: services.NewActivityLogService(st, zl),
		Signer:       signer,
		Limiter:      handlers.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, zl),
		AllowOrigins: cfg.Server.AllowOrigins,
		Logger:       zl,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zl.Info("Starting server",
			zap.String("port", cfg.Server.Port),
			zap.String("environment", cfg.Server.Environment),
			zap.Int("workers", cfg.Worker.Count))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			stopWorkers()
			pool.Wait()
			return err
		}
	case <-ctx.Done():
	}

	zl.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("Server shutdown error", zap.Error(err))
	}

	stopWorkers()
	pool.Wait()
	zl.Info("Workers stopped")
	return nil
}

func recoverApprovals(ctx context.Context, documents *services.DocumentService, staleAfter time.Duration, zl *zap.Logger) {
	n, err := documents.Recover(ctx, staleAfter)
	if err != nil {
		zl.Error("failed to recover interrupted approvals", zap.Error(err))
	}
	if n > 0 {
		zl.Warn("recovered interrupted approvals", zap.Int("count", n))
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/formforge/platform/pkg/common/config"
	"github.com/formforge/platform/pkg/common/database"
	"github.com/formforge/platform/pkg/common/kafka"
	"github.com/formforge/platform/pkg/common/logger"
	"github.com/formforge/platform/pkg/export"
	"github.com/formforge/platform/pkg/observability/metrics"
	"github.com/gorilla/mux"
)

const (
	formEventsTopic   = "formforge.forms.events"
	exportEventsTopic = "formforge.export.events"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := export.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate export tables")
	}

	redisClient := database.GetRedis()
	cache := export.NewSnapshotCache(redisClient, 12*time.Hour)
	progress := export.NewProgressStore(redisClient, cfg.ExportRetention)

	producer := kafka.NewProducer(exportEventsTopic)
	defer producer.Close()

	reader := export.NewReader(repo, cfg.ExportBatchSize, cfg.ExportReadRetries, cfg.ExportRetryBaseDelay)
	service, err := export.NewService(repo, reader, cache, progress, producer, export.Options{
		ArtifactDir:  cfg.ExportArtifactDir,
		SyncRowLimit: int64(cfg.ExportSyncRowLimit),
		SyncTimeout:  cfg.ExportSyncTimeout,
		MaxWorkers:   cfg.ExportMaxWorkers,
		XLSXRowCap:   int64(cfg.ExportXLSXRowCap),
		Retention:    cfg.ExportRetention,
	})
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to initialize export service")
	}
	handler := export.NewHandler(service)

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Snapshot cache warming from form lifecycle events.
	consumer := kafka.NewConsumer(formEventsTopic, cfg.KafkaGroupID)
	defer consumer.Close()
	go func() {
		if err := consumer.Consume(rootCtx, cache.HandleSnapshotEvent); err != nil && rootCtx.Err() == nil {
			logger.Log.WithError(err).Error("snapshot event consumer stopped")
		}
	}()

	// Retention sweep for expired jobs and their artifacts.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				service.SweepExpired(rootCtx)
			}
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ExportServicePort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("Export service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start export service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down export service...")
	stop()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("export service forced to shutdown")
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Error("failed to close redis")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("failed to close postgres")
	}
	logger.Log.Info("Export service stopped")
}

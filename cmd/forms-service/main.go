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
	"github.com/formforge/platform/pkg/forms"
	"github.com/formforge/platform/pkg/observability/metrics"
	"github.com/formforge/platform/pkg/schema"
	"github.com/gorilla/mux"
)

const formEventsTopic = "formforge.forms.events"

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := forms.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate forms tables")
	}

	catalog := schema.DefaultCatalog()
	if cfg.SchemaCatalogPath != "" {
		catalog, err = schema.LoadCatalog(cfg.SchemaCatalogPath)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to load field catalog")
		}
	}
	validator := schema.NewValidator(catalog, cfg.SchemaMaxDepth)

	producer := kafka.NewProducer(formEventsTopic)
	defer producer.Close()

	service := forms.NewService(repo, validator, producer, cfg.PublishMaxRetries)
	handler := forms.NewHandler(service)

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

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.FormsServicePort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("Forms service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start forms service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down forms service...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("forms service forced to shutdown")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("failed to close postgres")
	}
	logger.Log.Info("Forms service stopped")
}

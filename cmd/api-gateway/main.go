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
	"github.com/formforge/platform/pkg/common/logger"
	"github.com/formforge/platform/pkg/gateway/auth"
	"github.com/formforge/platform/pkg/gateway/httpclient"
	"github.com/formforge/platform/pkg/gateway/middleware"
	"github.com/formforge/platform/pkg/gateway/routes"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init()
	cfg := config.Load()

	issuer := cfg.OIDCIssuer
	if issuer == "" {
		issuer = "formforge-gateway"
	}
	tokenSigner, err := auth.NewJWTManager(cfg.JWTSecret, issuer, cfg.JWTAudience, cfg.JWTTTL)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to initialize token signer")
	}

	var oidcAuth *auth.OIDCAuthenticator
	if cfg.OIDCIssuer != "" {
		oidcAuth, err = auth.NewOIDCAuthenticator(cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCClientSecret, tokenSigner)
		if err != nil {
			logger.Log.WithError(err).Warn("OIDC login not configured; only pre-issued tokens will work")
		}
	}

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	client := httpclient.New(cfg.GatewayRequestTimeout + cfg.ExportSyncTimeout)

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	router.Use(middleware.RateLimit(cfg.GatewayRateLimitRPS, cfg.GatewayRateLimitBurst))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	if oidcAuth != nil {
		authHandler := routes.NewAuthHandler(oidcAuth)
		authHandler.Register(router.PathPrefix("/api/v1").Subrouter())
	}

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(middleware.Authenticate(tokenSigner))
	routes.RegisterFormsRoutes(apiRouter, routes.NewFormsProxy(client, cfg))
	routes.RegisterExportRoutes(apiRouter, routes.NewExportProxy(client, cfg))
	routes.NewOpsHandler(db).Register(apiRouter)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.GatewayPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.GatewayPort,
		}).Info("API Gateway started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down API Gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("failed to close postgres")
	}

	logger.Log.Info("API Gateway stopped")
}

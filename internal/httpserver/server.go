package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/plushify/plushify/internal/admin"
	"github.com/plushify/plushify/internal/webhook"
	"github.com/plushify/plushify/pkg/credit"
	"github.com/plushify/plushify/pkg/generation"
)

// Dependencies bundles the collaborators behind the HTTP boundary.
type Dependencies struct {
	Accounts    Accounts
	Ledger      *credit.Service
	Generations *generation.Manager
	Admins      *admin.Service
	Webhook     *webhook.Handler
}

// Server is the HTTP facade over the credit and generation services.
type Server struct {
	config Config
	logger *zap.Logger
	router *gin.Engine
}

// New assembles the router.
func New(config Config, logger *zap.Logger, deps Dependencies) (*Server, error) {
	if deps.Accounts == nil || deps.Ledger == nil || deps.Generations == nil || deps.Admins == nil || deps.Webhook == nil {
		return nil, errors.New("httpserver: nil dependency")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	requestHandler := &handler{
		config:      config,
		logger:      logger,
		accounts:    deps.Accounts,
		ledger:      deps.Ledger,
		generations: deps.Generations,
		admins:      deps.Admins,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(config.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     config.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", authorizationHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/webhooks/payment", deps.Webhook.Handle)

	api := router.Group("/api")
	api.Use(authMiddleware(config.SessionSecret))

	api.POST("/bootstrap", requestHandler.handleBootstrap)
	api.GET("/balance", requestHandler.handleBalance)
	api.GET("/transactions", requestHandler.handleTransactions)

	api.POST("/generations", requestHandler.handleSubmitGeneration)
	api.GET("/generations", requestHandler.handleListGenerations)
	api.GET("/generations/:id", requestHandler.handleGetGeneration)
	api.POST("/generations/:id/favorite", requestHandler.handleToggleFavorite)
	api.DELETE("/generations/:id", requestHandler.handleDeleteGeneration)

	api.POST("/admin/credits", requestHandler.handleAdminGrant)
	api.POST("/admin/revocations", requestHandler.handleAdminRevoke)
	api.GET("/admin/accounts/:id/transactions", requestHandler.handleAdminTransactions)

	return &Server{config: config, logger: logger, router: router}, nil
}

// Handler exposes the router, mainly for tests.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.config.ListenAddr,
		Handler: server.router,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http server listening", zap.String("addr", server.config.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

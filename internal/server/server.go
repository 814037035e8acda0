package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"futures-alert-bot/internal/binance"
	"futures-alert-bot/internal/broadcast"
	"futures-alert-bot/internal/config"
	"futures-alert-bot/internal/store"
	"futures-alert-bot/internal/trader"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the HTTP boundary of the bot: alert ingestion, credential and
// settings administration, trade history and the SSE observer stream.
type Server struct {
	logger  *zap.Logger
	cfg     *config.Config
	engine  *trader.Engine
	store   *store.Store
	gateway *binance.RestClient
	stream  *binance.UserStream
	hub     *broadcast.Hub

	httpServer *http.Server

	// rootCtx parents user-stream restarts triggered over the API. It is
	// set at construction so /server/connect works even before Run.
	rootCtx context.Context
}

// NewServer wires the HTTP API.
func NewServer(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	engine *trader.Engine,
	st *store.Store,
	gateway *binance.RestClient,
	stream *binance.UserStream,
	hub *broadcast.Hub,
) *Server {
	s := &Server{
		logger:  logger.Named("api-server"),
		cfg:     cfg,
		engine:  engine,
		store:   st,
		gateway: gateway,
		stream:  stream,
		hub:     hub,
		rootCtx: ctx,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/webhook", s.webhookHandler)

	router.POST("/credentials", s.saveCredentialHandler)
	router.GET("/credentials", s.listCredentialsHandler)
	router.PUT("/credentials", s.updateCredentialHandler)
	router.DELETE("/credentials", s.deleteCredentialHandler)

	router.GET("/settings/max-trades", s.getMaxTradesHandler)
	router.POST("/settings/max-trades", s.setMaxTradesHandler)
	router.GET("/settings/current-trades", s.getCurrentTradesHandler)
	router.POST("/settings/current-trades", s.setCurrentTradesHandler)
	router.GET("/settings/test-mode", s.getTestModeHandler)
	router.POST("/settings/test-mode", s.setTestModeHandler)

	router.GET("/server/status", s.statusHandler)
	router.POST("/server/connect", s.connectHandler)
	router.GET("/server/balance", s.balanceHandler)

	router.GET("/all-trades", s.allTradesHandler)
	router.GET("/sse/trades", s.sseTradesHandler)

	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting API server", zap.String("address", s.httpServer.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Stopping API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

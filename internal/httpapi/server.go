// Package httpapi exposes the wager service over a gin HTTP API.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// WagerService is the slice of *wager.Service the API calls.
type WagerService interface {
	PlaceWager(ctx context.Context, request wager.PlaceWagerRequest) (wager.PlaceWagerResult, error)
	GetSession(ctx context.Context, sessionID wager.SessionID) (wager.GameSession, error)
	SettleSession(ctx context.Context, request wager.SettleRequest) (wager.SettlementResult, error)
	ListUnclaimedRewards(ctx context.Context, address wager.Address) ([]wager.Reward, error)
	ClaimReward(ctx context.Context, rewardID wager.RewardID, claimant wager.Address) (wager.ClaimResult, error)
	Deposit(ctx context.Context, address wager.Address, signature wager.Signature) (wager.Account, error)
	Withdraw(ctx context.Context, address wager.Address, amount wager.Lamports) (wager.WithdrawResult, error)
	Balance(ctx context.Context, address wager.Address) (wager.Account, error)
	ListEntries(ctx context.Context, address wager.Address, before time.Time, limit int) ([]wager.LedgerEntry, error)
	Treasury() wager.Address
}

// Config controls the HTTP surface.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server is the HTTP facade over a WagerService.
type Server struct {
	cfg     Config
	handler *httpHandler
	router  *gin.Engine
	logger  *zap.Logger
}

// NewServer wires the router.
func NewServer(cfg Config, service WagerService, validator *TokenValidator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	handler := &httpHandler{service: service, logger: logger, requestTimeout: cfg.RequestTimeout}
	return &Server{
		cfg:     cfg,
		handler: handler,
		router:  setupRouter(cfg, handler, validator),
		logger:  logger,
	}
}

// Handler returns the router, for tests and embedding.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Run serves until ctx ends, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", server.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", server.cfg.ListenAddr, err)
	}
	httpServer := &http.Server{
		Handler:           server.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("wagerd http listening", zap.String("addr", listener.Addr().String()))
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
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

func setupRouter(cfg Config, handler *httpHandler, validator *TokenValidator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "Origin", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(validator.middleware())

	api.POST("/wagers", handler.handlePlaceWager)
	api.POST("/sessions/:id/settle", handler.handleSettle)
	api.GET("/sessions/:id", handler.handleSession)
	api.GET("/rewards", handler.handleRewards)
	api.POST("/rewards/:id/claim", handler.handleClaim)
	api.POST("/deposits", handler.handleDeposit)
	api.POST("/withdrawals", handler.handleWithdraw)
	api.GET("/account", handler.handleAccount)
	api.GET("/entries", handler.handleEntries)

	return router
}

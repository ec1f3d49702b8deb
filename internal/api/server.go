// Package api exposes the trading and market services over REST and pushes
// gateway events to WebSocket clients.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/femasgate/internal/bridge"
	"github.com/ajitpratap0/femasgate/internal/config"
	"github.com/ajitpratap0/femasgate/internal/market"
	"github.com/ajitpratap0/femasgate/internal/metrics"
	"github.com/ajitpratap0/femasgate/internal/trading"
)

// Trading is the trader session served under /api/trading.
type Trading interface {
	Status() trading.Status
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	PlaceOrder(ctx context.Context, req trading.OrderRequest) (trading.OrderAck, error)
	CancelOrder(ctx context.Context, req trading.CancelRequest) error
	QueryPositions(ctx context.Context, instrumentID string) ([]bridge.Position, error)
	QueryAccount(ctx context.Context) (bridge.Account, error)
	QueryInstruments(ctx context.Context, instrumentID string) ([]bridge.Instrument, error)
	QueryOrders(ctx context.Context, instrumentID string) ([]bridge.Order, error)
	QueryTrades(ctx context.Context, instrumentID string) ([]bridge.Trade, error)
	InvestorID() string
	SetInvestorID(id string) error
}

// Market is the market-data session served under /api/market.
type Market interface {
	Status() market.Status
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Subscribe(ctx context.Context, instrumentIDs []string) error
	Unsubscribe(ctx context.Context, instrumentIDs []string) error
	Subscriptions() []string
	Cache() *market.SnapshotCache
	Snapshot(ctx context.Context, instrumentID string) (market.Snapshot, bool)
}

// TradeJournal lists journaled trades.
type TradeJournal interface {
	ListTrades(ctx context.Context, tradingDay string) ([]bridge.Trade, error)
}

var errJournalDisabled = errors.New("trade journal not configured")

// Config contains server configuration
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	Version        string
}

// ConfigFrom maps application configuration onto the server config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Version:        cfg.App.Version,
	}
}

// Server represents the REST API server
type Server struct {
	cfg      Config
	router   *gin.Engine
	trading  Trading
	market   Market
	journal  TradeJournal
	audit    AuditLog
	hub      *Hub
	sessions Sessions
	keys     *APIKeyStore
	authCfg  config.AuthConfig
	addr     string
	server   *http.Server
	started  time.Time
	log      zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithJournal serves journaled trades under /api/trading/journal.
func WithJournal(j TradeJournal) Option {
	return func(s *Server) { s.journal = j }
}

// WithAudit records control actions and serves them under /api/audit.
func WithAudit(a AuditLog) Option {
	return func(s *Server) { s.audit = a }
}

// WithHub serves WebSocket pushes on /ws.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithSessions serves the front-end user sessions under /api/auth.
func WithSessions(svc Sessions) Option {
	return func(s *Server) { s.sessions = svc }
}

// WithAPIKeys requires an API key on the trading and market control routes.
func WithAPIKeys(store *APIKeyStore, cfg config.AuthConfig) Option {
	return func(s *Server) {
		s.keys = store
		s.authCfg = cfg
	}
}

// NewServer creates a new API server. A nil trading or market service leaves
// its route group unregistered.
func NewServer(cfg Config, tr Trading, md Market, opts ...Option) *Server {
	if cfg.Version == "" {
		cfg.Version = config.GetVersion()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(metrics.GinMiddleware())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	s := &Server{
		cfg:     cfg,
		router:  router,
		trading: tr,
		market:  md,
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		started: time.Now(),
		log:     config.NewLogger("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit != nil {
		router.Use(s.AuditMiddleware())
	}

	s.setupRoutes()
	return s
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || allowsAny(origins) {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	return c
}

func allowsAny(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	return nil
}

// LoggerMiddleware logs every request with its latency and status.
func LoggerMiddleware() gin.HandlerFunc {
	logger := config.NewLogger("api")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		if status >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event = event.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("API request")
	}
}

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/femasgate/internal/metrics"
)

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/metrics", metrics.GinHandler())
	if s.hub != nil {
		s.router.GET("/ws", s.hub.ServeWS)
	}

	if s.trading != nil {
		tr := s.router.Group("/api/trading")
		{
			tr.GET("/status", s.handleTradingStatus)
			tr.GET("/health", s.handleTradingHealth)
			tr.GET("/version", s.handleVersion)

			ctl := tr.Group("", s.requireKey(PermissionTrading)...)
			ctl.POST("/login", s.handleTradingLogin)
			ctl.POST("/logout", s.handleTradingLogout)
			ctl.POST("/order", s.handlePlaceOrder)
			ctl.POST("/cancel", s.handleCancelOrder)
			ctl.POST("/config/investor", s.handleSetInvestor)

			tr.GET("/position", s.handleQueryPositions)
			tr.GET("/account", s.handleQueryAccount)
			tr.GET("/orders", s.handleQueryOrders)
			tr.GET("/trades", s.handleQueryTrades)
			tr.GET("/instrument/:instrumentId", s.handleQueryInstrument)

			tr.GET("/config/investor", s.handleGetInvestor)

			tr.GET("/journal/trades", s.handleJournalTrades)
		}
	}

	if s.audit != nil {
		s.router.GET("/api/audit", s.handleAuditEvents)
	}

	if s.market != nil {
		md := s.router.Group("/api/market")
		{
			md.GET("/status", s.handleMarketStatus)
			md.GET("/health", s.handleMarketHealth)

			ctl := md.Group("", s.requireKey(PermissionMarket)...)
			ctl.POST("/login", s.handleMarketLogin)
			ctl.POST("/logout", s.handleMarketLogout)
			ctl.POST("/subscribe", s.handleSubscribe)
			ctl.POST("/unsubscribe", s.handleUnsubscribe)
			md.GET("/subscriptions", s.handleSubscriptions)
			md.GET("/data", s.handleMarketData)
			md.GET("/data/:instrumentId", s.handleMarketDataOne)
			md.GET("/exchange/:exchangeId", s.handleExchangeData)
			if s.trading != nil {
				md.POST("/instruments", s.handleQueryInstruments)
			}
		}
	}

	if s.sessions != nil {
		auth := s.router.Group("/api/auth")
		{
			auth.POST("/login", s.handleUserLogin)
			auth.POST("/logout", s.handleUserLogout)
			auth.POST("/validate", s.handleValidateSession)
			auth.POST("/subscribe", s.handleUserSubscribe)
			auth.GET("/session/:sessionId", s.handleGetSession)
			auth.GET("/stats", s.handleSessionStats)
			auth.GET("/online-users", s.handleOnlineUsers)
		}
	}
}

// requireKey returns the API key check for a control group, or nothing when
// keys are not enforced.
func (s *Server) requireKey(permission string) []gin.HandlerFunc {
	if s.keys == nil || !s.authCfg.Enabled {
		return nil
	}
	return []gin.HandlerFunc{AuthMiddleware(s.keys, s.authCfg, permission)}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "femasgate",
		"version": s.cfg.Version,
		"status":  "running",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"time":    time.Now().UTC(),
	})
}

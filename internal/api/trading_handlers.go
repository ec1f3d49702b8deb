package api

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/femasgate/internal/trading"
)

func (s *Server) handleTradingStatus(c *gin.Context) {
	ok(c, "trading status", s.trading.Status())
}

func (s *Server) handleTradingHealth(c *gin.Context) {
	st := s.trading.Status()
	health := gin.H{
		"connected":    st.Connected,
		"loggedIn":     st.LoggedIn,
		"breakerState": st.BreakerState,
	}
	if !st.Connected {
		health["status"] = "down"
		respond(c, http.StatusServiceUnavailable, Response{
			Code:    http.StatusServiceUnavailable,
			Message: trading.ErrNotConnected.Error(),
			Data:    health,
		})
		return
	}
	health["status"] = "up"
	ok(c, "trading service healthy", health)
}

func (s *Server) handleVersion(c *gin.Context) {
	ok(c, "version", gin.H{
		"version":   s.cfg.Version,
		"goVersion": runtime.Version(),
	})
}

func (s *Server) handleTradingLogin(c *gin.Context) {
	if err := s.trading.Login(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, "login succeeded", s.trading.Status())
}

func (s *Server) handleTradingLogout(c *gin.Context) {
	if err := s.trading.Logout(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, "logout succeeded", nil)
}

func (s *Server) handlePlaceOrder(c *gin.Context) {
	var req trading.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	ack, err := s.trading.PlaceOrder(c.Request.Context(), req)
	annotate(c, ack.OrderRef, map[string]any{
		"instrument_id": req.InstrumentID,
		"direction":     req.Direction,
		"price":         req.Price,
		"volume":        req.Volume,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "order accepted", ack)
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	var req trading.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	annotate(c, req.OrderRef, nil)
	if err := s.trading.CancelOrder(c.Request.Context(), req); err != nil {
		fail(c, err)
		return
	}
	ok(c, "cancel accepted", gin.H{"orderRef": req.OrderRef})
}

func (s *Server) handleQueryPositions(c *gin.Context) {
	positions, err := s.trading.QueryPositions(c.Request.Context(), c.Query("instrumentId"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "positions", positions)
}

func (s *Server) handleQueryAccount(c *gin.Context) {
	account, err := s.trading.QueryAccount(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "account", account)
}

func (s *Server) handleQueryOrders(c *gin.Context) {
	orders, err := s.trading.QueryOrders(c.Request.Context(), c.Query("instrumentId"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "orders", orders)
}

func (s *Server) handleQueryTrades(c *gin.Context) {
	trades, err := s.trading.QueryTrades(c.Request.Context(), c.Query("instrumentId"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "trades", trades)
}

func (s *Server) handleQueryInstrument(c *gin.Context) {
	id := strings.TrimSpace(c.Param("instrumentId"))
	instruments, err := s.trading.QueryInstruments(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if len(instruments) == 0 {
		fail(c, fmt.Errorf("%w: instrument %s", trading.ErrNoData, id))
		return
	}
	ok(c, "instrument", instruments[0])
}

func (s *Server) handleGetInvestor(c *gin.Context) {
	ok(c, "investor", gin.H{"investorId": s.trading.InvestorID()})
}

type investorRequest struct {
	InvestorID string `json:"investorId" binding:"required"`
}

func (s *Server) handleSetInvestor(c *gin.Context) {
	var req investorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	id := strings.TrimSpace(req.InvestorID)
	if id == "" {
		fail(c, fmt.Errorf("%w: investorId must not be blank", errBadRequest))
		return
	}
	annotate(c, "investor_id", map[string]any{"old_value": s.trading.InvestorID(), "new_value": id})
	if err := s.trading.SetInvestorID(id); err != nil {
		fail(c, err)
		return
	}
	ok(c, "investor updated", gin.H{"investorId": id})
}

// handleJournalTrades lists persisted trades of a trading day, defaulting to
// the current session's day.
func (s *Server) handleJournalTrades(c *gin.Context) {
	if s.journal == nil {
		fail(c, errJournalDisabled)
		return
	}
	day := c.Query("tradingDay")
	if day == "" {
		day = s.trading.Status().TradingDay
	}
	if day == "" {
		fail(c, fmt.Errorf("%w: tradingDay is required before login", errBadRequest))
		return
	}
	trades, err := s.journal.ListTrades(c.Request.Context(), day)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "journal trades", gin.H{"tradingDay": day, "trades": trades})
}

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/femasgate/internal/bridge"
	"github.com/ajitpratap0/femasgate/internal/market"
	"github.com/ajitpratap0/femasgate/internal/trading"
)

// instrumentList accepts a single instrument id, a comma separated list or a
// JSON array.
type instrumentList []string

func (l *instrumentList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*l = strings.Split(one, ",")
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("instruments must be a string or an array of strings")
	}
	*l = many
	return nil
}

type subscriptionRequest struct {
	Instruments instrumentList `json:"instruments"`
}

func (s *Server) bindInstruments(c *gin.Context) ([]string, bool) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return nil, false
	}
	return req.Instruments, true
}

func (s *Server) handleMarketStatus(c *gin.Context) {
	ok(c, "market status", s.market.Status())
}

func (s *Server) handleMarketHealth(c *gin.Context) {
	st := s.market.Status()
	health := gin.H{
		"connected":     st.Connected,
		"loggedIn":      st.LoggedIn,
		"subscriptions": len(st.Subscriptions),
		"instruments":   st.Cache.Instruments,
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
	ok(c, "market service healthy", health)
}

func (s *Server) handleMarketLogin(c *gin.Context) {
	if err := s.market.Login(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, "login succeeded", s.market.Status())
}

func (s *Server) handleMarketLogout(c *gin.Context) {
	if err := s.market.Logout(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, "logout succeeded", nil)
}

func (s *Server) handleSubscribe(c *gin.Context) {
	ids, bound := s.bindInstruments(c)
	if !bound {
		return
	}
	annotate(c, strings.Join(ids, ","), nil)
	if err := s.market.Subscribe(c.Request.Context(), ids); err != nil {
		fail(c, err)
		return
	}
	ok(c, "subscribed", gin.H{"subscriptions": s.market.Subscriptions()})
}

func (s *Server) handleUnsubscribe(c *gin.Context) {
	ids, bound := s.bindInstruments(c)
	if !bound {
		return
	}
	annotate(c, strings.Join(ids, ","), nil)
	if err := s.market.Unsubscribe(c.Request.Context(), ids); err != nil {
		fail(c, err)
		return
	}
	ok(c, "unsubscribed", gin.H{"subscriptions": s.market.Subscriptions()})
}

func (s *Server) handleSubscriptions(c *gin.Context) {
	ok(c, "subscriptions", s.market.Subscriptions())
}

// handleMarketData returns cached snapshots. instruments narrows the result
// to a comma separated list and active=true drops stale snapshots.
func (s *Server) handleMarketData(c *gin.Context) {
	cache := s.market.Cache()
	var snaps []market.Snapshot
	switch {
	case c.Query("instruments") != "":
		snaps = cache.ByInstruments(strings.Split(c.Query("instruments"), ","))
	case c.Query("active") == "true":
		snaps = cache.Active()
	default:
		snaps = cache.All()
	}
	ok(c, "market data", snaps)
}

func (s *Server) handleMarketDataOne(c *gin.Context) {
	id := strings.TrimSpace(c.Param("instrumentId"))
	snap, found := s.market.Snapshot(c.Request.Context(), id)
	if !found {
		fail(c, fmt.Errorf("%w: no market data for %s", trading.ErrNoData, id))
		return
	}
	ok(c, "market data", snap)
}

func (s *Server) handleExchangeData(c *gin.Context) {
	exchangeID := strings.ToUpper(strings.TrimSpace(c.Param("exchangeId")))
	ok(c, "market data", gin.H{
		"exchangeId": exchangeID,
		"data":       s.market.Cache().ByExchange(exchangeID),
	})
}

const maxInstrumentBatch = 200

// handleQueryInstruments looks up contract definitions for a batch of ids with
// one trader query. Ids the front does not know are listed under missing.
func (s *Server) handleQueryInstruments(c *gin.Context) {
	ids, bound := s.bindInstruments(c)
	if !bound {
		return
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		fail(c, market.ErrNoInstruments)
		return
	}
	if len(ids) > maxInstrumentBatch {
		fail(c, fmt.Errorf("%w: at most %d instruments per request", errBadRequest, maxInstrumentBatch))
		return
	}

	all, err := s.trading.QueryInstruments(c.Request.Context(), "")
	if err != nil && !errors.Is(err, trading.ErrNoData) {
		fail(c, err)
		return
	}
	byID := make(map[string]bridge.Instrument, len(all))
	for _, inst := range all {
		byID[inst.InstrumentID] = inst
	}

	found := make([]bridge.Instrument, 0, len(ids))
	missing := make([]string, 0)
	for _, id := range ids {
		if inst, ok := byID[id]; ok {
			found = append(found, inst)
		} else {
			missing = append(missing, id)
		}
	}
	ok(c, "instruments", gin.H{"instruments": found, "missing": missing})
}

// uniqueIDs trims, cuts to the vendor field width, drops empties and dedupes.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = bridge.TruncateInstrumentID(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/femasgate/internal/events"
	"github.com/ajitpratap0/femasgate/internal/market"
	"github.com/ajitpratap0/femasgate/internal/session"
)

// Sessions is the front-end user session service served under /api/auth.
type Sessions interface {
	Login(username, password, clientID string) (session.Session, error)
	Logout(sessionID string) error
	LogoutClient(clientID string) error
	Validate(sessionID string) (session.Session, error)
	Get(sessionID string) (session.Session, error)
	UpdateSubscription(sessionID string, exchanges, instruments []string) (session.Session, error)
	Active() []session.Session
	Stats() session.Stats
}

type userLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ClientID string `json:"clientId"`
}

type userLogoutRequest struct {
	SessionID string `json:"sessionId"`
	ClientID  string `json:"clientId"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

type userSubscribeRequest struct {
	SessionID   string         `json:"sessionId" binding:"required"`
	Exchanges   instrumentList `json:"exchanges"`
	Instruments instrumentList `json:"instruments"`
}

func (s *Server) handleUserLogin(c *gin.Context) {
	var req userLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	annotate(c, req.Username, map[string]any{"clientId": req.ClientID})
	sess, err := s.sessions.Login(req.Username, req.Password, req.ClientID)
	if err != nil {
		fail(c, err)
		return
	}
	c.Set(ctxUserID, sess.Username)
	ok(c, "login succeeded", sess)
}

func (s *Server) handleUserLogout(c *gin.Context) {
	var req userLogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	var err error
	switch {
	case req.SessionID != "":
		annotate(c, req.SessionID, nil)
		err = s.sessions.Logout(req.SessionID)
	case req.ClientID != "":
		annotate(c, req.ClientID, nil)
		err = s.sessions.LogoutClient(req.ClientID)
	default:
		err = fmt.Errorf("%w: sessionId or clientId is required", errBadRequest)
	}
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "logout succeeded", nil)
}

func (s *Server) handleValidateSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	sess, err := s.sessions.Validate(req.SessionID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "session valid", sess)
}

// handleUserSubscribe replaces the market topics of a session and pushes the
// cached snapshots of those topics to the session's WebSocket clients.
func (s *Server) handleUserSubscribe(c *gin.Context) {
	var req userSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	sess, err := s.sessions.UpdateSubscription(req.SessionID, req.Exchanges, req.Instruments)
	if err != nil {
		fail(c, err)
		return
	}

	pushed := 0
	if s.hub != nil && s.market != nil {
		for _, snap := range sessionSnapshots(s.market.Cache(), sess) {
			ev, err := events.NewEvent(events.MarketTopic(snap.InstrumentID), "market", true, "depth market data", snap)
			if err != nil {
				continue
			}
			if err := s.hub.PublishSession(c.Request.Context(), sess.ID, ev); err != nil {
				s.log.Debug().Err(err).Str("session_id", sess.ID).Msg("Failed to push snapshot to session")
				continue
			}
			pushed++
		}
	}
	ok(c, "subscription updated", gin.H{"session": sess, "pushed": pushed})
}

// sessionSnapshots returns the cached snapshots a session subscribed to,
// without duplicates.
func sessionSnapshots(cache *market.SnapshotCache, sess session.Session) []market.Snapshot {
	seen := make(map[string]struct{})
	var out []market.Snapshot
	add := func(snaps []market.Snapshot) {
		for _, snap := range snaps {
			if _, dup := seen[snap.InstrumentID]; dup {
				continue
			}
			seen[snap.InstrumentID] = struct{}{}
			out = append(out, snap)
		}
	}
	for _, ex := range sess.Exchanges {
		add(cache.ByExchange(ex))
	}
	add(cache.ByInstruments(sess.Instruments))
	return out
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.sessions.Get(strings.TrimSpace(c.Param("sessionId")))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "session", sess)
}

func (s *Server) handleSessionStats(c *gin.Context) {
	stats := gin.H{"sessionStats": s.sessions.Stats()}
	if s.hub != nil {
		stats["pushStats"] = gin.H{
			"clients":        s.hub.ClientCount(),
			"sessionClients": s.hub.SessionClientCount(),
		}
	}
	ok(c, "session stats", stats)
}

func (s *Server) handleOnlineUsers(c *gin.Context) {
	ok(c, "online users", s.sessions.Active())
}

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/femasgate/internal/events"
	"github.com/ajitpratap0/femasgate/internal/session"
)

func newSessions(hub *Hub) *session.Service {
	var opts []session.Option
	if hub != nil {
		opts = append(opts, session.WithListener(hub))
	}
	return session.New(session.Config{
		Timeout: time.Hour,
		Users:   map[string]string{"trader1": "trader123"},
	}, opts...)
}

// startSessionHub runs a hub bound to a session service behind a test server.
func startSessionHub(t *testing.T) (*Hub, *session.Service, string) {
	t.Helper()
	hub := NewHub(nil)
	svc := newSessions(hub)
	hub.UseSessions(svc)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	s := newTestServer(t, nil, nil, WithHub(hub), WithSessions(svc))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return hub.running
	}, time.Second, 5*time.Millisecond)

	return hub, svc, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestHubSessionClientGetsSessionTopics(t *testing.T) {
	hub, svc, url := startSessionHub(t)
	sess, err := svc.Login("trader1", "trader123", "desk-1")
	require.NoError(t, err)
	_, err = svc.UpdateSubscription(sess.ID, nil, []string{"rb2501"})
	require.NoError(t, err)

	conn := dial(t, hub, url+"?session="+sess.ID)
	assert.Equal(t, 1, hub.SessionClientCount())

	publish(t, hub, events.MarketTopic("cu2501"))
	publish(t, hub, events.MarketTopic("rb2501"))

	var ev events.Event
	readJSON(t, conn, &ev)
	assert.Equal(t, events.MarketTopic("rb2501"), ev.Topic)
}

func TestHubSessionRetargetedOnSubscriptionChange(t *testing.T) {
	hub, svc, url := startSessionHub(t)
	sess, err := svc.Login("trader1", "trader123", "")
	require.NoError(t, err)
	conn := dial(t, hub, url+"?session="+sess.ID)

	_, err = svc.UpdateSubscription(sess.ID, []string{"dce"}, []string{"cu2501"})
	require.NoError(t, err)

	var ack Message
	readJSON(t, conn, &ack)
	assert.Equal(t, MessageTypeSubscribed, ack.Type)
	assert.ElementsMatch(t, []string{events.ExchangeTopic("DCE"), events.MarketTopic("cu2501")}, ack.Topics)

	publish(t, hub, events.MarketTopic("rb2501"))
	publish(t, hub, events.ExchangeTopic("DCE"))

	var ev events.Event
	readJSON(t, conn, &ev)
	assert.Equal(t, events.ExchangeTopic("DCE"), ev.Topic)
}

func TestHubSessionEndDisconnects(t *testing.T) {
	hub, svc, url := startSessionHub(t)
	sess, err := svc.Login("trader1", "trader123", "")
	require.NoError(t, err)
	conn := dial(t, hub, url+"?session="+sess.ID)
	other := dial(t, hub, url)

	require.NoError(t, svc.Logout(sess.ID))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, hub.SessionClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	publish(t, hub, events.TopicLogin)
	var ev events.Event
	readJSON(t, other, &ev)
	assert.Equal(t, events.TopicLogin, ev.Topic)
}

func TestHubPublishSessionTargetsOneSession(t *testing.T) {
	hub, svc, url := startSessionHub(t)
	a, err := svc.Login("trader1", "trader123", "desk-1")
	require.NoError(t, err)
	b, err := svc.Login("trader1", "trader123", "desk-2")
	require.NoError(t, err)
	connA := dial(t, hub, url+"?session="+a.ID)
	connB := dial(t, hub, url+"?session="+b.ID)

	ev, err := events.NewEvent(events.MarketTopic("rb2501"), "market", true, "depth market data", nil)
	require.NoError(t, err)
	require.NoError(t, hub.PublishSession(context.Background(), b.ID, ev))
	publish(t, hub, events.TopicLogin)

	var got events.Event
	readJSON(t, connB, &got)
	assert.Equal(t, events.MarketTopic("rb2501"), got.Topic)

	readJSON(t, connA, &got)
	assert.Equal(t, events.TopicLogin, got.Topic, "the pushed snapshot only reaches its own session")
}

func TestHubSessionQueryRejected(t *testing.T) {
	_, url, _ := startHub(t)
	_, resp, err := websocket.DefaultDialer.Dial(url+"?session=abc", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	hub, _, sessionURL := startSessionHub(t)
	_, resp, err = websocket.DefaultDialer.Dial(sessionURL+"?session=unknown", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Zero(t, hub.ClientCount())
}

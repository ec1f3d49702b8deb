package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/femasgate/internal/bridge"
	"github.com/ajitpratap0/femasgate/internal/market"
	"github.com/ajitpratap0/femasgate/internal/trading"
)

type fakeTrading struct {
	mu         sync.Mutex
	status     trading.Status
	err        error
	ack        trading.OrderAck
	lastOrder  trading.OrderRequest
	lastCancel trading.CancelRequest
	instrument []bridge.Instrument
	investorID string
}

func (f *fakeTrading) Status() trading.Status         { return f.status }
func (f *fakeTrading) Login(context.Context) error    { return f.err }
func (f *fakeTrading) Logout(context.Context) error   { return f.err }
func (f *fakeTrading) InvestorID() string             { return f.investorID }
func (f *fakeTrading) SetInvestorID(id string) error  { f.investorID = id; return f.err }
func (f *fakeTrading) QueryAccount(context.Context) (bridge.Account, error) {
	return bridge.Account{InvestorID: f.investorID, Currency: "CNY", Balance: 1000}, f.err
}

func (f *fakeTrading) PlaceOrder(_ context.Context, req trading.OrderRequest) (trading.OrderAck, error) {
	f.mu.Lock()
	f.lastOrder = req
	f.mu.Unlock()
	return f.ack, f.err
}

func (f *fakeTrading) CancelOrder(_ context.Context, req trading.CancelRequest) error {
	f.lastCancel = req
	return f.err
}

func (f *fakeTrading) QueryPositions(_ context.Context, id string) ([]bridge.Position, error) {
	return []bridge.Position{{InstrumentID: id, Direction: "long", Position: 1}}, f.err
}

func (f *fakeTrading) QueryInstruments(_ context.Context, id string) ([]bridge.Instrument, error) {
	if id == "" {
		return f.instrument, f.err
	}
	var out []bridge.Instrument
	for _, inst := range f.instrument {
		if inst.InstrumentID == id {
			out = append(out, inst)
		}
	}
	return out, f.err
}

func (f *fakeTrading) QueryOrders(context.Context, string) ([]bridge.Order, error) {
	return []bridge.Order{{OrderRef: "1"}}, f.err
}

func (f *fakeTrading) QueryTrades(context.Context, string) ([]bridge.Trade, error) {
	return []bridge.Trade{{TradeID: "T1"}}, f.err
}

type fakeMarket struct {
	status    market.Status
	err       error
	cache     *market.SnapshotCache
	subscribe [][]string
	subs      []string
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{cache: market.NewSnapshotCache(time.Minute)}
}

func (f *fakeMarket) Status() market.Status        { return f.status }
func (f *fakeMarket) Login(context.Context) error  { return f.err }
func (f *fakeMarket) Logout(context.Context) error { return f.err }
func (f *fakeMarket) Subscriptions() []string      { return f.subs }
func (f *fakeMarket) Cache() *market.SnapshotCache { return f.cache }

func (f *fakeMarket) Subscribe(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return market.ErrNoInstruments
	}
	f.subscribe = append(f.subscribe, ids)
	if f.err == nil {
		f.subs = append(f.subs, ids...)
	}
	return f.err
}

func (f *fakeMarket) Unsubscribe(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return market.ErrNoInstruments
	}
	f.subs = nil
	return f.err
}

func (f *fakeMarket) Snapshot(_ context.Context, id string) (market.Snapshot, bool) {
	return f.cache.Get(id)
}

type fakeJournal struct {
	day    string
	trades []bridge.Trade
}

func (j *fakeJournal) ListTrades(_ context.Context, day string) ([]bridge.Trade, error) {
	j.day = day
	return j.trades, nil
}

func newTestServer(t *testing.T, tr Trading, md Market, opts ...Option) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewServer(Config{Host: "127.0.0.1", Port: 0, Version: "test"}, tr, md, opts...)
}

func do(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp Response
	if strings.HasPrefix(path, "/api/") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func dataOf(t *testing.T, resp Response, v any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestRoot(t *testing.T) {
	s := newTestServer(t, &fakeTrading{}, newFakeMarket())
	w, _ := do(t, s, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"service":"femasgate"`)
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, &fakeTrading{}, newFakeMarket())
	do(t, s, http.MethodGet, "/api/trading/status", nil)

	w, _ := do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "femasgate_api_request_duration_ms")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &fakeTrading{}, newFakeMarket())
	req := httptest.NewRequest(http.MethodOptions, "/api/trading/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNilServicesLeaveGroupsUnregistered(t *testing.T) {
	s := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/trading/status", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTradingStatus(t *testing.T) {
	tr := &fakeTrading{status: trading.Status{Handle: 1, Connected: true, UserID: "U001"}}
	s := newTestServer(t, tr, nil)

	w, resp := do(t, s, http.MethodGet, "/api/trading/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotZero(t, resp.Timestamp)

	var st trading.Status
	dataOf(t, resp, &st)
	assert.Equal(t, "U001", st.UserID)
	assert.True(t, st.Connected)
}

// TestErrorMapping tests the status and code derived from service errors
func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   int
	}{
		{"vendor rejection", &trading.VendorError{Op: "login", ID: 3, Msg: "bad password"}, http.StatusUnprocessableEntity, 3},
		{"wrapped vendor rejection", fmt.Errorf("relogin: %w", &trading.VendorError{Op: "login", ID: 63}), http.StatusUnprocessableEntity, 63},
		{"not connected", trading.ErrNotConnected, http.StatusServiceUnavailable, http.StatusServiceUnavailable},
		{"not logged in", trading.ErrNotLoggedIn, http.StatusServiceUnavailable, http.StatusServiceUnavailable},
		{"send failed", trading.ErrSendFailed, http.StatusBadGateway, http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, http.StatusGatewayTimeout},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeTrading{err: tt.err}, nil)
			w, resp := do(t, s, http.MethodPost, "/api/trading/login", nil)
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.err.Error(), resp.Message)
		})
	}
}

func TestTradingLoginLogout(t *testing.T) {
	tr := &fakeTrading{status: trading.Status{LoggedIn: true, TradingDay: "20240101"}}
	s := newTestServer(t, tr, nil)

	w, resp := do(t, s, http.MethodPost, "/api/trading/login", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var st trading.Status
	dataOf(t, resp, &st)
	assert.Equal(t, "20240101", st.TradingDay)

	w, resp = do(t, s, http.MethodPost, "/api/trading/logout", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, resp.Data)
}

func TestTradingHealth(t *testing.T) {
	tr := &fakeTrading{}
	s := newTestServer(t, tr, nil)

	w, resp := do(t, s, http.MethodGet, "/api/trading/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, resp.Success)

	tr.status = trading.Status{Connected: true, BreakerState: "closed"}
	w, resp = do(t, s, http.MethodGet, "/api/trading/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var health map[string]any
	dataOf(t, resp, &health)
	assert.Equal(t, "up", health["status"])
	assert.Equal(t, "closed", health["breakerState"])
}

func TestPlaceOrder(t *testing.T) {
	tr := &fakeTrading{ack: trading.OrderAck{OrderRef: "1", RequestID: 5, InstrumentID: "rb2501"}}
	s := newTestServer(t, tr, nil)

	order := trading.OrderRequest{InstrumentID: "rb2501", Direction: "buy", OffsetFlag: "open", Price: 3500, Volume: 2}
	w, resp := do(t, s, http.MethodPost, "/api/trading/order", order)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order, tr.lastOrder)

	var ack trading.OrderAck
	dataOf(t, resp, &ack)
	assert.Equal(t, "1", ack.OrderRef)
	assert.Equal(t, 5, ack.RequestID)
}

func TestPlaceOrderErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		err    error
		status int
	}{
		{"malformed body", `{"volume":`, nil, http.StatusBadRequest},
		{"wrong type", `{"volume":"two"}`, nil, http.StatusBadRequest},
		{"invalid order", trading.OrderRequest{}, fmt.Errorf("%w: instrument is required", trading.ErrInvalidOrder), http.StatusBadRequest},
		{"throttled", trading.OrderRequest{}, trading.ErrThrottled, http.StatusTooManyRequests},
		{"breaker open", trading.OrderRequest{}, trading.ErrBreakerOpen, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeTrading{err: tt.err}, nil)
			w, resp := do(t, s, http.MethodPost, "/api/trading/order", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestCancelOrder(t *testing.T) {
	tr := &fakeTrading{}
	s := newTestServer(t, tr, nil)

	w, resp := do(t, s, http.MethodPost, "/api/trading/cancel", trading.CancelRequest{OrderRef: "12", FrontID: 1, SessionID: 7})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, trading.CancelRequest{OrderRef: "12", FrontID: 1, SessionID: 7}, tr.lastCancel)
	var data map[string]string
	dataOf(t, resp, &data)
	assert.Equal(t, "12", data["orderRef"])

	tr.err = fmt.Errorf("%w: order 12 already finished", trading.ErrInvalidOrder)
	w, _ = do(t, s, http.MethodPost, "/api/trading/cancel", trading.CancelRequest{OrderRef: "12"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueries(t *testing.T) {
	tr := &fakeTrading{investorID: "I001"}
	s := newTestServer(t, tr, nil)

	w, resp := do(t, s, http.MethodGet, "/api/trading/position?instrumentId=rb2501", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var positions []bridge.Position
	dataOf(t, resp, &positions)
	require.Len(t, positions, 1)
	assert.Equal(t, "rb2501", positions[0].InstrumentID)

	w, resp = do(t, s, http.MethodGet, "/api/trading/account", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var account bridge.Account
	dataOf(t, resp, &account)
	assert.Equal(t, "I001", account.InvestorID)

	w, resp = do(t, s, http.MethodGet, "/api/trading/orders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var orders []bridge.Order
	dataOf(t, resp, &orders)
	assert.Len(t, orders, 1)

	w, resp = do(t, s, http.MethodGet, "/api/trading/trades", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var trades []bridge.Trade
	dataOf(t, resp, &trades)
	assert.Equal(t, "T1", trades[0].TradeID)

	tr.err = trading.ErrNotLoggedIn
	w, _ = do(t, s, http.MethodGet, "/api/trading/account", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestQueryInstrument(t *testing.T) {
	tr := &fakeTrading{}
	s := newTestServer(t, tr, nil)

	w, resp := do(t, s, http.MethodGet, "/api/trading/instrument/zz9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, resp.Message, "zz9999")

	tr.instrument = []bridge.Instrument{{InstrumentID: "rb2501", ExchangeID: "SHFE", PriceTick: 1}}
	w, resp = do(t, s, http.MethodGet, "/api/trading/instrument/rb2501", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var inst bridge.Instrument
	dataOf(t, resp, &inst)
	assert.Equal(t, "SHFE", inst.ExchangeID)
}

func TestInvestorConfig(t *testing.T) {
	tr := &fakeTrading{investorID: "U001"}
	s := newTestServer(t, tr, nil)

	_, resp := do(t, s, http.MethodGet, "/api/trading/config/investor", nil)
	var data map[string]string
	dataOf(t, resp, &data)
	assert.Equal(t, "U001", data["investorId"])

	w, _ := do(t, s, http.MethodPost, "/api/trading/config/investor", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, s, http.MethodPost, "/api/trading/config/investor", map[string]string{"investorId": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "U001", tr.investorID)

	w, _ = do(t, s, http.MethodPost, "/api/trading/config/investor", map[string]string{"investorId": " I002 "})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "I002", tr.investorID)
}

func TestVersion(t *testing.T) {
	s := newTestServer(t, &fakeTrading{}, nil)
	_, resp := do(t, s, http.MethodGet, "/api/trading/version", nil)
	var data map[string]string
	dataOf(t, resp, &data)
	assert.Equal(t, "test", data["version"])
	assert.NotEmpty(t, data["goVersion"])
}

func TestJournalTrades(t *testing.T) {
	tr := &fakeTrading{}
	s := newTestServer(t, tr, nil)
	w, _ := do(t, s, http.MethodGet, "/api/trading/journal/trades", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	j := &fakeJournal{trades: []bridge.Trade{{TradeID: "T9"}}}
	s = newTestServer(t, tr, nil, WithJournal(j))

	w, _ = do(t, s, http.MethodGet, "/api/trading/journal/trades", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "no trading day before login")

	tr.status.TradingDay = "20240102"
	w, resp := do(t, s, http.MethodGet, "/api/trading/journal/trades", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "20240102", j.day)

	w, resp = do(t, s, http.MethodGet, "/api/trading/journal/trades?tradingDay=20231229", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "20231229", j.day)
	var data struct {
		TradingDay string         `json:"tradingDay"`
		Trades     []bridge.Trade `json:"trades"`
	}
	dataOf(t, resp, &data)
	assert.Equal(t, "20231229", data.TradingDay)
	assert.Equal(t, "T9", data.Trades[0].TradeID)
}

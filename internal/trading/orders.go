package trading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/femasgate/internal/bridge"
	"github.com/ajitpratap0/femasgate/internal/femas"
	"github.com/ajitpratap0/femasgate/internal/metrics"
)

// OrderRequest is a limit order. Direction accepts buy/sell and OffsetFlag
// accepts open, close, close_today, close_yesterday, force_close or the raw
// vendor characters.
type OrderRequest struct {
	InstrumentID string  `json:"instrumentId"`
	Direction    string  `json:"direction"`
	OffsetFlag   string  `json:"offsetFlag"`
	Price        float64 `json:"price"`
	Volume       int     `json:"volume"`
}

func (r OrderRequest) parse() (femas.Direction, femas.OffsetFlag, error) {
	if strings.TrimSpace(r.InstrumentID) == "" {
		return 0, 0, fmt.Errorf("%w: instrument is required", ErrInvalidOrder)
	}
	dir, ok := femas.ParseDirection(r.Direction)
	if !ok {
		return 0, 0, fmt.Errorf("%w: unknown direction %q", ErrInvalidOrder, r.Direction)
	}
	offset, ok := femas.ParseOffsetFlag(r.OffsetFlag)
	if !ok {
		return 0, 0, fmt.Errorf("%w: unknown offset flag %q", ErrInvalidOrder, r.OffsetFlag)
	}
	if r.Price <= 0 {
		return 0, 0, fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if r.Volume <= 0 {
		return 0, 0, fmt.Errorf("%w: volume must be positive", ErrInvalidOrder)
	}
	if r.Volume > math.MaxInt32 {
		return 0, 0, fmt.Errorf("%w: volume exceeds %d", ErrInvalidOrder, math.MaxInt32)
	}
	return dir, offset, nil
}

// OrderAck identifies an order accepted by the front.
type OrderAck struct {
	OrderRef     string `json:"orderRef"`
	RequestID    int    `json:"requestId"`
	InstrumentID string `json:"instrumentId"`
}

// CancelRequest identifies the order to cancel. When FrontID and SessionID
// are zero they are taken from the order book, or from the current login for
// orders the book has no session for.
type CancelRequest struct {
	OrderRef  string `json:"orderRef"`
	FrontID   int    `json:"frontId"`
	SessionID int    `json:"sessionId"`
}

// PlaceOrder sends a good-for-day limit order and waits for the front to
// accept or reject it.
func (s *Service) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	dir, offset, err := req.parse()
	if err != nil {
		metrics.RecordOrder(metrics.OrderInvalid)
		return OrderAck{}, err
	}
	if err := s.requireLogin(); err != nil {
		return OrderAck{}, err
	}
	if !s.orderLimiter.Allow() {
		metrics.RecordOrder(metrics.OrderThrottled)
		return OrderAck{}, ErrThrottled
	}

	var ack OrderAck
	_, err = s.breaker.Execute(func() (interface{}, error) {
		var err error
		ack, err = s.sendOrder(ctx, req, dir, offset)
		return nil, err
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordOrder(metrics.OrderBreakerOpen)
		return OrderAck{}, ErrBreakerOpen
	case IsVendorError(err):
		metrics.RecordOrder(metrics.OrderRejected)
	case errors.Is(err, ErrSendFailed):
		metrics.RecordOrder(metrics.OrderSendFailed)
	case err != nil:
		metrics.RecordOrder("")
	default:
		metrics.RecordOrder(metrics.OrderAccepted)
	}
	return ack, err
}

func (s *Service) sendOrder(ctx context.Context, req OrderRequest, dir femas.Direction, offset femas.OffsetFlag) (OrderAck, error) {
	ref := strconv.FormatInt(s.orderRef.Add(1), 10)
	ch := make(chan error, 1)

	s.mu.Lock()
	s.inserts[ref] = ch
	investorID := s.investorID
	s.mu.Unlock()

	id := s.client.ReqOrderInsert(bridge.OrderInsert{
		InstrumentID:    req.InstrumentID,
		Direction:       dir,
		OffsetFlag:      offset,
		LimitPrice:      req.Price,
		Volume:          req.Volume,
		OrderPriceType:  femas.PriceLimit,
		TimeCondition:   femas.TimeGFD,
		VolumeCondition: femas.VolumeAny,
		BrokerID:        s.cfg.BrokerID,
		InvestorID:      investorID,
		UserID:          s.cfg.UserID,
		OrderRef:        ref,
	})
	ack := OrderAck{OrderRef: ref, RequestID: id, InstrumentID: req.InstrumentID}
	if id < 0 {
		s.dropInsert(ref)
		return ack, ErrSendFailed
	}

	s.log.Debug().
		Str("order_ref", ref).
		Int("request_id", id).
		Str("instrument", req.InstrumentID).
		Str("direction", dir.String()).
		Str("offset", offset.String()).
		Float64("price", req.Price).
		Int("volume", req.Volume).
		Msg("Order sent")

	err := s.await(ctx, ch, func() { s.dropInsert(ref) })
	return ack, err
}

// CancelOrder cancels a queueing order and waits for the front's answer.
func (s *Service) CancelOrder(ctx context.Context, req CancelRequest) error {
	if req.OrderRef == "" {
		return fmt.Errorf("%w: order ref is required", ErrInvalidOrder)
	}
	if err := s.requireLogin(); err != nil {
		return err
	}

	s.mu.Lock()
	o, known := s.orders[req.OrderRef]
	if known && finished(o.Status) {
		s.mu.Unlock()
		return fmt.Errorf("%w: order %s is %s", ErrInvalidOrder, req.OrderRef, o.Status)
	}
	if req.FrontID == 0 && req.SessionID == 0 {
		if known && (o.FrontID != 0 || o.SessionID != 0) {
			req.FrontID, req.SessionID = o.FrontID, o.SessionID
		} else {
			req.FrontID, req.SessionID = s.frontID, s.sessionID
		}
	}
	ch := make(chan error, 1)
	s.actions[req.OrderRef] = ch
	s.mu.Unlock()

	id := s.client.ReqOrderAction(req.OrderRef, req.FrontID, req.SessionID, femas.ActionDelete)
	if id < 0 {
		s.dropAction(req.OrderRef)
		return ErrSendFailed
	}
	s.log.Debug().Str("order_ref", req.OrderRef).Int("request_id", id).Msg("Cancel sent")

	return s.await(ctx, ch, func() { s.dropAction(req.OrderRef) })
}

func (s *Service) dropInsert(ref string) {
	s.mu.Lock()
	delete(s.inserts, ref)
	s.mu.Unlock()
}

func (s *Service) dropAction(ref string) {
	s.mu.Lock()
	delete(s.actions, ref)
	s.mu.Unlock()
}

func finished(status string) bool {
	switch status {
	case femas.OrderStatusAllTraded.String(), femas.OrderStatusCanceled.String(),
		femas.OrderStatusPartTradedNotQueueing.String(), femas.OrderStatusNoTradeNotQueueing.String():
		return true
	}
	return false
}

// Orders returns the order book in arrival order.
func (s *Service) Orders() []bridge.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bridge.Order, 0, len(s.orderSeq))
	for _, ref := range s.orderSeq {
		out = append(out, *s.orders[ref])
	}
	return out
}

// Order returns one order of the book.
func (s *Service) Order(orderRef string) (bridge.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderRef]
	if !ok {
		return bridge.Order{}, false
	}
	return *o, true
}

// Trades returns the trades received in this session.
func (s *Service) Trades() []bridge.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]bridge.Trade(nil), s.trades...)
}

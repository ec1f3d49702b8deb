package trading

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected  = errors.New("not connected to front")
	ErrNotLoggedIn   = errors.New("not logged in")
	ErrNotStarted    = errors.New("trading service not started")
	ErrSendFailed    = errors.New("request not accepted by vendor client")
	ErrThrottled     = errors.New("order rate limit exceeded")
	ErrBreakerOpen   = errors.New("order circuit breaker open")
	ErrInvalidOrder  = errors.New("invalid order")
	ErrOrderNotFound = errors.New("order not found")
	ErrNoData        = errors.New("no data returned")
)

// VendorError is an error response from the trader front.
type VendorError struct {
	Op  string
	ID  int
	Msg string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("%s failed: %d - %s", e.Op, e.ID, e.Msg)
}

// IsVendorError reports whether err carries a vendor error response.
func IsVendorError(err error) bool {
	var ve *VendorError
	return errors.As(err, &ve)
}

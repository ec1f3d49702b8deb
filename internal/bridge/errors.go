package bridge

import "errors"

// ReqFailed is returned by every request operation when the handle is unknown
// or the vendor rejected the request.
const ReqFailed = -1

var (
	// ErrCreateFailed wraps every session creation failure.
	ErrCreateFailed = errors.New("bridge: create session failed")
	// ErrNoSink is reported when Create gets no callback target.
	ErrNoSink = errors.New("bridge: callback sink is nil")
	// ErrGateClosed is reported for callbacks arriving after Release.
	ErrGateClosed = errors.New("bridge: session released")
	// ErrGateTimeout is reported when a callback waits too long to enter the
	// sink domain.
	ErrGateTimeout = errors.New("bridge: callback entry timed out")
)

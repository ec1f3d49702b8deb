package bridge

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/femasgate/internal/metrics"
)

// sendRequest resolves h, draws the next request id and lets call hand the
// request to the session's vendor client. It returns the id, or -1 for an
// unknown handle or a request the vendor refused. An unknown handle draws no
// id.
func sendRequest[S any](bridge string, sessions *Registry[S], ids *RequestIDs, log zerolog.Logger,
	op string, h Handle, call func(s S, requestID int) int) int {
	s, ok := sessions.Find(h)
	if !ok {
		log.Debug().Int64("handle", int64(h)).Str("op", op).Msg("Request on unknown handle")
		metrics.RecordRequest(bridge, op, metrics.OutcomeUnknownHandle)
		return ReqFailed
	}
	id := ids.Next()
	if rc := call(s, id); rc != 0 {
		log.Debug().Int64("handle", int64(h)).Str("op", op).Int("request_id", id).Int("rc", rc).Msg("Vendor rejected request")
		metrics.RecordRequest(bridge, op, metrics.OutcomeRejected)
		return ReqFailed
	}
	metrics.RecordRequest(bridge, op, metrics.OutcomeSent)
	return id
}

// refuse records a request that cannot be encoded and returns -1.
func refuse(bridge string, log zerolog.Logger, op string, h Handle, reason string) int {
	log.Debug().Int64("handle", int64(h)).Str("op", op).Str("reason", reason).Msg("Request refused")
	metrics.RecordRequest(bridge, op, metrics.OutcomeInvalid)
	return ReqFailed
}

// fitsInt32 reports whether n survives the vendor's 32-bit integer fields.
func fitsInt32(n int) bool {
	return n >= math.MinInt32 && n <= math.MaxInt32
}

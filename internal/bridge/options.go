package bridge

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/femasgate/internal/config"
	"github.com/ajitpratap0/femasgate/internal/femas"
)

// Options configures a bridge. The zero value selects the defaults.
type Options struct {
	// CallbackConcurrency bounds callbacks inside one session's sink at once.
	CallbackConcurrency int64
	// CallbackTimeout bounds the wait of a vendor goroutine for a gate slot.
	CallbackTimeout time.Duration
	// Decoder converts vendor free text. Defaults to UTF-8 passthrough.
	Decoder femas.Decoder
	Logger  *zerolog.Logger
}

func (o Options) decoder() femas.Decoder {
	if o.Decoder != nil {
		return o.Decoder
	}
	d, _ := femas.NewDecoder(femas.EncodingUTF8)
	return d
}

func (o Options) logger(component string) zerolog.Logger {
	if o.Logger != nil {
		return o.Logger.With().Str("component", component).Logger()
	}
	return config.NewLogger(component)
}

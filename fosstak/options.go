package fosstak

import (
	"log/slog"
	"time"

	"github.com/TheusHen/fosstak/fosstak/logging"
	"github.com/TheusHen/fosstak/fosstak/transport"
)

const (
	DefaultAcceptBackoffMin = 5 * time.Millisecond
	DefaultAcceptBackoffMax = time.Second
)

type options struct {
	logger     *slog.Logger
	transport  transport.Transport
	compress   bool
	backoffMin time.Duration
	backoffMax time.Duration
}

func defaultOptions() options {
	return options{
		logger:     logging.Default(),
		transport:  transport.TCP(),
		backoffMin: DefaultAcceptBackoffMin,
		backoffMax: DefaultAcceptBackoffMax,
	}
}

// Option configures a Manager.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTransport replaces the default TCP transport.
func WithTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.transport = t
		}
	}
}

// WithCompression makes SendMessage LZ4-compress bodies that shrink.
func WithCompression(enabled bool) Option {
	return func(o *options) { o.compress = enabled }
}

// WithAcceptBackoff bounds the delay between failed accepts. The delay
// starts at initial and doubles per consecutive failure up to limit. It
// resets after a successful accept.
func WithAcceptBackoff(initial, limit time.Duration) Option {
	return func(o *options) {
		if initial > 0 {
			o.backoffMin = initial
		}
		if limit > 0 {
			o.backoffMax = limit
		}
		if o.backoffMax < o.backoffMin {
			o.backoffMax = o.backoffMin
		}
	}
}

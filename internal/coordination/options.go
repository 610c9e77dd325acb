package coordination

import (
	"net/http"

	"github.com/Iron-Ham/packline/internal/event"
	"github.com/Iron-Ham/packline/internal/realtime"
)

// hubConfig holds optional configuration for a Hub.
type hubConfig struct {
	httpClient   *http.Client
	bus          *event.Bus
	dashboard    bool
	signals      *bool
	tuneRealtime func(*realtime.Config)
}

// Option configures a Hub.
type Option func(*hubConfig)

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *hubConfig) { c.httpClient = hc }
}

// WithBus shares an existing event bus instead of creating one.
func WithBus(bus *event.Bus) Option {
	return func(c *hubConfig) { c.bus = bus }
}

// WithDashboard starts the fleet aggregator along with the hub.
func WithDashboard() Option {
	return func(c *hubConfig) { c.dashboard = true }
}

// WithSignals overrides recovery.watch_signals.
func WithSignals(watch bool) Option {
	return func(c *hubConfig) { c.signals = &watch }
}

// WithRealtimeTuning adjusts the realtime channel settings after they are
// derived from the configuration.
func WithRealtimeTuning(fn func(*realtime.Config)) Option {
	return func(c *hubConfig) { c.tuneRealtime = fn }
}

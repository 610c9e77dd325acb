// Package recovery turns an abandoned in-progress session back into a
// draft so it is never left locked to an owner who walked away.
//
// The Manager watches lifecycle signals: process termination and suspend,
// hidden views, lost connectivity, and realtime disconnects. On the first
// signal that means abandonment it takes the active-work token and fires
// exactly one release call. The token is cleared before the call goes out,
// so a second signal arriving in the same instant finds nothing to release.
package recovery

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/packline/internal/activework"
	"github.com/Iron-Ham/packline/internal/api"
	"github.com/Iron-Ham/packline/internal/deeplink"
	"github.com/Iron-Ham/packline/internal/errors"
	"github.com/Iron-Ham/packline/internal/event"
	"github.com/Iron-Ham/packline/internal/fulfillment"
	"github.com/Iron-Ham/packline/internal/logging"
	"github.com/Iron-Ham/packline/internal/realtime"
)

// DefaultReleaseTimeout bounds a release call. Releases run on a context
// detached from the caller so they outlive the view that fired them.
const DefaultReleaseTimeout = 10 * time.Second

// Releaser hands a session back to the backend as a draft.
type Releaser interface {
	Release(ctx context.Context, sessionID string) error
}

var _ Releaser = (*api.Client)(nil)

// Config holds the manager's dependencies. Releaser and Token are required.
type Config struct {
	Releaser  Releaser
	Token     *activework.Token
	Bus       *event.Bus
	Navigator fulfillment.Navigator
	Logger    *logging.Logger

	ReleaseTimeout time.Duration
	BasePath       string
}

// Manager releases abandoned sessions.
type Manager struct {
	releaser Releaser
	token    *activework.Token
	bus      *event.Bus
	nav      fulfillment.Navigator
	logger   *logging.Logger
	timeout  time.Duration
	basePath string

	install  sync.Once
	mu       sync.Mutex
	subs     []string
	inflight conc.WaitGroup
}

// New creates a Manager. Nothing is watched until Install.
func New(cfg Config) (*Manager, error) {
	if cfg.Releaser == nil {
		return nil, errors.New("recovery: Releaser is required")
	}
	if cfg.Token == nil {
		return nil, errors.New("recovery: Token is required")
	}
	nav := cfg.Navigator
	if nav == nil {
		nav = fulfillment.NavigatorFunc(func(string) {})
	}
	timeout := cfg.ReleaseTimeout
	if timeout <= 0 {
		timeout = DefaultReleaseTimeout
	}
	return &Manager{
		releaser: cfg.Releaser,
		token:    cfg.Token,
		bus:      cfg.Bus,
		nav:      nav,
		logger:   logging.OrNop(cfg.Logger).WithComponent("recovery"),
		timeout:  timeout,
		basePath: deeplink.NormalizeBase(cfg.BasePath),
	}, nil
}

// Install subscribes to realtime disconnects on the bus. Only the first
// call has an effect, whichever view makes it.
func (m *Manager) Install() {
	m.install.Do(func() {
		if m.bus == nil {
			return
		}
		ids := m.bus.SubscribeMany([]string{
			realtime.EventDisconnected,
			realtime.EventReconnectFailed,
		}, m.onRealtime)
		m.mu.Lock()
		m.subs = ids
		m.mu.Unlock()
	})
}

func (m *Manager) onRealtime(e event.Event) {
	switch ev := e.(type) {
	case *realtime.DisconnectedEvent:
		m.Handle(Disconnect{Reason: ev.Reason})
	case *realtime.ReconnectFailedEvent:
		m.Handle(Offline{})
	}
}

// Handle applies sig and reports whether it released a session.
func (m *Manager) Handle(sig Signal) bool {
	redirect := false
	switch s := sig.(type) {
	case Unload, Freeze, Offline:
	case PageHide:
		if s.Persisted {
			return false
		}
	case Disconnect:
		redirect = s.Reason.TransportLevel()
	default:
		return false
	}

	sessionID := m.token.Take()
	if sessionID == "" {
		return false
	}
	m.release(sessionID, sig)
	if redirect {
		m.nav.Navigate(m.basePath)
	}
	return true
}

// Forget clears the token without a release. It is used when the session
// ended some other way: completed, cancelled, or taken away.
func (m *Manager) Forget(sessionID string) bool {
	return m.token.Clear(sessionID)
}

func (m *Manager) release(sessionID string, sig Signal) {
	logger := m.logger.WithSession(sessionID)
	logger.Info("releasing abandoned session", "signal", sig.Name())

	m.inflight.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.releaser.Release(ctx, sessionID); err != nil {
			logger.Warn("release failed", "signal", sig.Name(), "error", err)
			return
		}
		logger.Debug("session released")
	})

	if m.bus != nil {
		m.bus.Publish(event.NewSessionReleasedEvent(sessionID, sig.Name()))
	}
}

// Wait blocks until every release fired so far has finished.
func (m *Manager) Wait() {
	if r := m.inflight.WaitAndRecover(); r != nil {
		m.logger.Error("release panicked", "panic", r.String())
	}
}

// Close drops the bus subscriptions and waits for in-flight releases.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, id := range subs {
		m.bus.Unsubscribe(id)
	}
	m.Wait()
}

// WatchProcess turns OS signals into lifecycle signals until ctx is done.
// Termination signals become Unload. On platforms with job control a
// terminal suspend becomes Freeze: the session is released and then the
// process stops as it normally would. Every handled signal is also sent on
// the returned channel, which is closed when watching stops.
func (m *Manager) WatchProcess(ctx context.Context) <-chan Signal {
	out := make(chan Signal, 1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, processSignals...)

	go func() {
		defer close(out)
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-sigs:
				sig := classifySignal(s)
				if sig == nil {
					resumed(sigs)
					continue
				}
				m.logger.Debug("process signal", "signal", s.String(), "as", sig.Name())
				m.Handle(sig)
				if _, ok := sig.(Freeze); ok {
					m.Wait()
					suspend()
				}
				select {
				case out <- sig:
				default:
				}
			}
		}
	}()
	return out
}

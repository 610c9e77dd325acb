// Package dashboard keeps a read-only fleet view of fulfillment sessions.
//
// The Aggregator polls the backend on an interval as a backstop and also
// refreshes as soon as any session lifecycle notice arrives. Notices that
// arrive while a refresh is pending collapse into that one refresh.
package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/packline/internal/api"
	"github.com/Iron-Ham/packline/internal/errors"
	"github.com/Iron-Ham/packline/internal/event"
	"github.com/Iron-Ham/packline/internal/logging"
	"github.com/Iron-Ham/packline/internal/realtime"
)

// DefaultPollInterval is how often the backstop poll runs.
const DefaultPollInterval = 30 * time.Second

// Lister is the part of the REST API the aggregator reads.
type Lister interface {
	DashboardSessions(ctx context.Context, includeCompleted bool) ([]api.Session, error)
}

var _ Lister = (*api.Client)(nil)

// Config holds the aggregator's dependencies. Lister is required.
type Config struct {
	Lister           Lister
	Bus              *event.Bus
	Logger           *logging.Logger
	PollInterval     time.Duration
	IncludeCompleted bool

	// GroupBy is the grouping Groups applies. Nil groups by shipping method.
	GroupBy KeyFunc
}

// Snapshot is the fleet view at one point in time.
type Snapshot struct {
	Sessions  []api.Session
	FetchedAt time.Time
	// Err is the last refresh failure. Sessions then still hold the last
	// good listing.
	Err error
	// Refreshing is true while a fetch is in flight.
	Refreshing bool
}

// Summary counts sessions by status.
type Summary struct {
	Total      int
	Draft      int
	InProgress int
	Completed  int
	Cancelled  int
	Overpicked int
}

// Summarize counts sessions by status.
func (s Snapshot) Summarize() Summary {
	sum := Summary{Total: len(s.Sessions)}
	for i := range s.Sessions {
		switch s.Sessions[i].Status {
		case api.StatusDraft:
			sum.Draft++
		case api.StatusInProgress:
			sum.InProgress++
		case api.StatusCompleted:
			sum.Completed++
		case api.StatusCancelled:
			sum.Cancelled++
		}
		if len(s.Sessions[i].Overpicked()) > 0 {
			sum.Overpicked++
		}
	}
	return sum
}

// Aggregator maintains the fleet view.
type Aggregator struct {
	lister   Lister
	bus      *event.Bus
	logger   *logging.Logger
	interval time.Duration
	groupBy  KeyFunc

	// pending holds at most one queued refresh.
	pending chan struct{}

	mu               sync.RWMutex
	snap             Snapshot
	includeCompleted bool
	listeners        []func(Snapshot)
	subs             []string
	cancel           context.CancelFunc
	poller           *conc.WaitGroup
}

// New creates an aggregator. Nothing is fetched until Start or Refresh.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Lister == nil {
		return nil, errors.New("dashboard: Lister is required")
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	groupBy := cfg.GroupBy
	if groupBy == nil {
		groupBy = ByShippingMethod
	}
	return &Aggregator{
		lister:           cfg.Lister,
		groupBy:          groupBy,
		bus:              cfg.Bus,
		logger:           logging.OrNop(cfg.Logger).WithComponent("dashboard"),
		interval:         interval,
		pending:          make(chan struct{}, 1),
		includeCompleted: cfg.IncludeCompleted,
	}, nil
}

// OnChange registers fn to run after every snapshot change.
func (a *Aggregator) OnChange(fn func(Snapshot)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Start subscribes to lifecycle notices and runs the poller until ctx is
// done or Stop is called. The first refresh happens immediately.
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	if a.bus != nil {
		names := append([]string{event.TypeRefreshRequested, event.TypeSessionReleased}, realtime.SessionEventNames...)
		a.subs = a.bus.SubscribeMany(names, func(e event.Event) {
			a.logger.Debug("refresh requested", "event", e.EventType())
			a.Request()
		})
	}
	a.poller = &conc.WaitGroup{}
	poller := a.poller
	a.mu.Unlock()

	a.Request()
	poller.Go(func() { a.poll(ctx) })
}

// Stop ends polling and drops the subscriptions.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	cancel, poller, subs := a.cancel, a.poller, a.subs
	a.cancel, a.poller, a.subs = nil, nil, nil
	a.mu.Unlock()

	for _, id := range subs {
		a.bus.Unsubscribe(id)
	}
	if cancel == nil {
		return
	}
	cancel()
	if r := poller.WaitAndRecover(); r != nil {
		a.logger.Error("dashboard poller panicked", "panic", r.String())
	}
}

// Request queues a refresh. If one is already queued this is a no-op.
func (a *Aggregator) Request() {
	select {
	case a.pending <- struct{}{}:
	default:
	}
}

func (a *Aggregator) poll(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.pending:
		case <-ticker.C:
		}
		if err := a.Refresh(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("dashboard refresh failed", "error", err)
		}
	}
}

// Refresh fetches the listing now.
func (a *Aggregator) Refresh(ctx context.Context) error {
	a.mu.Lock()
	include := a.includeCompleted
	a.snap.Refreshing = true
	a.mu.Unlock()

	sessions, err := a.lister.DashboardSessions(ctx, include)

	a.mu.Lock()
	a.snap.Refreshing = false
	a.snap.Err = err
	if err == nil {
		a.snap.Sessions = sessions
		a.snap.FetchedAt = time.Now()
	}
	snap := a.copyLocked()
	listeners := append([]func(Snapshot){}, a.listeners...)
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	return err
}

// SetIncludeCompleted switches whether finished sessions are listed and
// queues a refresh.
func (a *Aggregator) SetIncludeCompleted(include bool) {
	a.mu.Lock()
	changed := a.includeCompleted != include
	a.includeCompleted = include
	a.mu.Unlock()
	if changed {
		a.Request()
	}
}

// IncludeCompleted reports whether finished sessions are listed.
func (a *Aggregator) IncludeCompleted() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.includeCompleted
}

// Snapshot returns a copy of the current view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.copyLocked()
}

// Groups returns the current sessions in their configured grouping.
func (a *Aggregator) Groups() []Group {
	return GroupBy(a.Snapshot().Sessions, a.groupBy)
}

func (a *Aggregator) copyLocked() Snapshot {
	snap := a.snap
	snap.Sessions = append([]api.Session(nil), a.snap.Sessions...)
	return snap
}

package coordination

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Iron-Ham/packline/internal/activework"
	"github.com/Iron-Ham/packline/internal/api"
	"github.com/Iron-Ham/packline/internal/config"
	"github.com/Iron-Ham/packline/internal/dashboard"
	"github.com/Iron-Ham/packline/internal/event"
	"github.com/Iron-Ham/packline/internal/fulfillment"
	"github.com/Iron-Ham/packline/internal/logging"
	"github.com/Iron-Ham/packline/internal/presence"
	"github.com/Iron-Ham/packline/internal/realtime"
	"github.com/Iron-Ham/packline/internal/recovery"
	"github.com/Iron-Ham/packline/internal/takeover"
)

// closeWait bounds how long Stop waits for the realtime loop to exit.
const closeWait = 5 * time.Second

// Config holds required dependencies for creating a Hub.
type Config struct {
	Settings  *config.Config
	Prompter  fulfillment.Prompter
	Navigator fulfillment.Navigator
	Notifier  fulfillment.Notifier
	Logger    *logging.Logger
}

// Hub wires every component for a single signed-in user. It owns the
// lifecycle of the realtime connection, the recovery watchers and the
// dashboard poller.
type Hub struct {
	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	signals <-chan recovery.Signal

	settings      *config.Config
	self          realtime.Identity
	logger        *logging.Logger
	nav           fulfillment.Navigator
	watchSignals  bool
	withDashboard bool

	// Components
	bus         *event.Bus
	token       *activework.Token
	client      *api.Client
	channel     *realtime.Channel
	tracker     *presence.Tracker
	negotiator  *takeover.ChannelNegotiator
	controller  *fulfillment.Controller
	coordinator *takeover.Coordinator
	recovery    *recovery.Manager
	dashboard   *dashboard.Aggregator
}

// NewHub creates a Hub from the loaded configuration. Nothing touches the
// network until Start.
func NewHub(cfg Config, opts ...Option) (*Hub, error) {
	if cfg.Settings == nil {
		return nil, errors.New("coordination: Settings is required")
	}
	s := cfg.Settings
	if s.User.ID == "" {
		return nil, errors.New("coordination: user.id is required")
	}

	hc := &hubConfig{}
	for _, opt := range opts {
		opt(hc)
	}

	logger := logging.OrNop(cfg.Logger).WithUser(s.User.ID)
	bus := hc.bus
	if bus == nil {
		bus = event.NewBus(logger)
	}

	clientOpts := []api.Option{
		api.WithToken(s.Server.Token),
		api.WithTimeout(s.Server.RequestTimeout()),
		api.WithBulkTimeout(s.Server.BulkTimeout()),
		api.WithLogger(logger),
	}
	if hc.httpClient != nil {
		clientOpts = append(clientOpts, api.WithHTTPClient(hc.httpClient))
	}
	client, err := api.NewClient(s.Server.BaseURL, clientOpts...)
	if err != nil {
		return nil, err
	}

	self := realtime.Identity{UserID: s.User.ID, Username: s.User.Username}
	if self.Username == "" {
		self.Username = s.User.ID
	}

	rtCfg := realtime.DefaultConfig(s.ResolveURL())
	rtCfg.Token = s.Server.Token
	rtCfg.MaxAttempts = s.Realtime.MaxAttempts
	rtCfg.InitialBackoff = s.Realtime.InitialBackoff()
	rtCfg.MaxBackoff = s.Realtime.MaxBackoff()
	rtCfg.PingInterval = s.Realtime.PingInterval()
	if hc.tuneRealtime != nil {
		hc.tuneRealtime(&rtCfg)
	}

	nav := cfg.Navigator
	if nav == nil {
		nav = fulfillment.NavigatorFunc(func(string) {})
	}

	h := &Hub{
		settings:      s,
		self:          self,
		logger:        logger,
		nav:           nav,
		watchSignals:  s.Recovery.WatchSignals,
		withDashboard: hc.dashboard,
		bus:           bus,
		token:         activework.New(bus),
		client:        client,
	}
	if hc.signals != nil {
		h.watchSignals = *hc.signals
	}

	h.channel = realtime.New(rtCfg, bus, logger)
	h.tracker = presence.NewTracker(self, h.channel, bus, logger)
	h.negotiator = takeover.NewChannelNegotiator(h.channel, self)

	h.controller, err = fulfillment.New(fulfillment.Config{
		Backend:     client,
		Token:       h.token,
		Bus:         bus,
		Prompter:    cfg.Prompter,
		Navigator:   nav,
		Notifier:    cfg.Notifier,
		Logger:      logger,
		UserID:      s.User.ID,
		Username:    self.Username,
		Admin:       s.User.Admin,
		BasePath:    s.Fulfillment.BasePath,
		OnAuthError: h.authFailed,
	})
	if err != nil {
		return nil, err
	}

	h.coordinator, err = takeover.New(takeover.Config{
		Backend:     client,
		Bus:         bus,
		Prompter:    cfg.Prompter,
		Navigator:   nav,
		Notifier:    cfg.Notifier,
		Resumer:     h.controller,
		Negotiator:  h.negotiator,
		Logger:      logger,
		OpenSession: h.controller.OpenSessionID,
		UserID:      s.User.ID,
		Username:    self.Username,
		Admin:       s.User.Admin,
		BasePath:    s.Fulfillment.BasePath,
	})
	if err != nil {
		return nil, err
	}
	h.controller.SetTakeover(h.coordinator.AsTakeoverFunc())

	h.recovery, err = recovery.New(recovery.Config{
		Releaser:       client,
		Token:          h.token,
		Bus:            bus,
		Navigator:      nav,
		Logger:         logger,
		ReleaseTimeout: s.Recovery.ReleaseTimeout(),
		BasePath:       s.Fulfillment.BasePath,
	})
	if err != nil {
		return nil, err
	}

	groupBy, _ := dashboard.KeyFuncFor(s.Dashboard.GroupBy)
	h.dashboard, err = dashboard.New(dashboard.Config{
		Lister:           client,
		Bus:              bus,
		Logger:           logger,
		PollInterval:     s.Dashboard.PollInterval(),
		IncludeCompleted: s.Dashboard.IncludeCompleted,
		GroupBy:          groupBy,
	})
	if err != nil {
		return nil, err
	}

	return h, nil
}

// Bus returns the shared event bus.
func (h *Hub) Bus() *event.Bus { return h.bus }

// Client returns the REST client.
func (h *Hub) Client() *api.Client { return h.client }

// Token returns the active-work token.
func (h *Hub) Token() *activework.Token { return h.token }

// Channel returns the realtime channel.
func (h *Hub) Channel() *realtime.Channel { return h.channel }

// Presence returns the presence tracker for the inventory room.
func (h *Hub) Presence() *presence.Tracker { return h.tracker }

// Negotiator returns the owner-to-owner takeover negotiator.
func (h *Hub) Negotiator() *takeover.ChannelNegotiator { return h.negotiator }

// Controller returns the session lifecycle controller.
func (h *Hub) Controller() *fulfillment.Controller { return h.controller }

// Coordinator returns the takeover coordinator.
func (h *Hub) Coordinator() *takeover.Coordinator { return h.coordinator }

// Recovery returns the auto-draft recovery manager.
func (h *Hub) Recovery() *recovery.Manager { return h.recovery }

// Dashboard returns the fleet aggregator. It only polls when the hub was
// created WithDashboard or after the caller starts it.
func (h *Hub) Dashboard() *dashboard.Aggregator { return h.dashboard }

// Self returns the identity the hub joins rooms as.
func (h *Hub) Self() realtime.Identity { return h.self }

// Signals returns the process signals recovery acted on, or nil when
// signal watching is off or the hub has not started.
func (h *Hub) Signals() <-chan recovery.Signal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.signals
}

// Start connects the realtime channel and starts every watcher.
// Returns an error if the hub is already started or was stopped.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return errors.New("coordination: hub already started")
	}
	if h.stopped {
		return errors.New("coordination: hub stopped")
	}

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.started = true

	// Watchers subscribe before the connection so no early event is missed.
	h.recovery.Install()
	h.tracker.Start()
	h.controller.Watch(h.channel)
	h.coordinator.Watch(h.channel)

	if h.settings.Realtime.Enabled {
		h.channel.JoinRoom(h.settings.Realtime.Room)
		h.channel.Connect(ctx, h.self)
	} else {
		h.logger.Info("realtime disabled, relying on polling")
	}

	if h.watchSignals {
		h.signals = h.recovery.WatchProcess(ctx)
	}
	if h.withDashboard {
		h.dashboard.Start(ctx)
	}

	h.logger.Info("hub started",
		"realtime", h.settings.Realtime.Enabled,
		"signals", h.watchSignals,
		"dashboard", h.withDashboard,
	)
	return nil
}

// Stop releases the active session and stops all components in reverse
// order. It is idempotent.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return nil
	}

	h.dashboard.Stop()

	// Leaving is abandonment: the active session goes back to draft.
	h.recovery.Handle(recovery.Unload{Cause: "exit"})

	h.coordinator.Close()
	h.controller.Close()
	h.tracker.Stop()

	h.channel.Close()
	select {
	case <-h.channel.Done():
	case <-time.After(closeWait):
		h.logger.Warn("realtime loop did not exit in time")
	}

	h.recovery.Close()
	h.cancel()

	h.started = false
	h.stopped = true
	h.signals = nil
	return nil
}

// Running returns whether the hub is currently started.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// authFailed tears the realtime connection down and sends the user to
// sign in again.
func (h *Hub) authFailed(err error) {
	h.logger.Warn("credentials rejected", "error", err)
	h.channel.Close()
	if login := h.settings.Fulfillment.LoginPath; login != "" {
		h.nav.Navigate(login)
	}
}

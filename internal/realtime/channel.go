// Package realtime maintains the single multiplexed event connection a
// packline process holds to the realtime server.
//
// A Channel connects once, reconnects automatically with bounded, growing
// backoff, remembers the rooms it was asked to join and replays each join
// once per successful connection, and dispatches every inbound frame as a
// typed Event on an event.Bus. Handler panics are isolated by the bus.
// Delivery order across reconnects is not guaranteed, so handlers must
// tolerate duplicates.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/packline/internal/event"
	"github.com/Iron-Ham/packline/internal/logging"
)

// Reason tags why a connection ended.
type Reason string

const (
	// ReasonClientDisconnect is a voluntary close by this process.
	ReasonClientDisconnect Reason = "io client disconnect"
	// ReasonServerDisconnect is a normal close initiated by the server.
	ReasonServerDisconnect Reason = "io server disconnect"
	// ReasonTransportClose means the connection was lost.
	ReasonTransportClose Reason = "transport close"
	// ReasonTransportError means the connection failed while writing.
	ReasonTransportError Reason = "transport error"
	// ReasonPingTimeout means the server stopped answering keepalives.
	ReasonPingTimeout Reason = "ping timeout"
)

// TransportLevel reports whether the connection dropped underneath the
// user rather than being closed on purpose by either side.
func (r Reason) TransportLevel() bool {
	switch r {
	case ReasonTransportClose, ReasonTransportError, ReasonPingTimeout:
		return true
	default:
		return false
	}
}

// Identity is who the connection joins rooms as.
type Identity struct {
	UserID   string
	Username string
}

// Config holds Channel settings. Zero fields take the defaults from
// DefaultConfig.
type Config struct {
	URL              string
	Token            string
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	MaxMessageBytes  int64
}

// DefaultConfig returns the default settings for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		MaxAttempts:      5,
		InitialBackoff:   time.Second,
		MaxBackoff:       5 * time.Second,
		PingInterval:     25 * time.Second,
		PongWait:         60 * time.Second,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageBytes:  1 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.URL)
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	return c
}

// Backoff returns the wait before reconnect attempt n (1-based): the
// initial backoff doubled per attempt, capped at the maximum.
func (c Config) Backoff(n int) time.Duration {
	c = c.withDefaults()
	d := c.InitialBackoff
	for i := 1; i < n && d < c.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, c.MaxBackoff)
}

type state int

const (
	stateIdle state = iota
	stateConnecting
	stateConnected
	stateClosed
)

// Channel is the realtime connection. Create one with New.
type Channel struct {
	cfg    Config
	bus    *event.Bus
	logger *logging.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	state   state
	conn    *websocket.Conn
	user    Identity
	rooms   []string
	roomSet map[string]bool
	cancel  context.CancelFunc
	done    chan struct{}
	closing bool

	writeMu sync.Mutex
}

// New creates an idle Channel that publishes inbound events on bus. A nil
// bus gets a private one.
func New(cfg Config, bus *event.Bus, logger *logging.Logger) *Channel {
	logger = logging.OrNop(logger).WithComponent("realtime")
	if bus == nil {
		bus = event.NewBus(logger)
	}
	cfg = cfg.withDefaults()
	return &Channel{
		cfg:     cfg,
		bus:     bus,
		logger:  logger,
		dialer:  &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.HandshakeTimeout},
		roomSet: make(map[string]bool),
		done:    closedChan(),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Bus returns the bus inbound events are published on.
func (c *Channel) Bus() *event.Bus {
	return c.bus
}

// Connect starts connecting as user in the background. It is idempotent
// and never fails: if the server cannot be reached the channel retries and
// finally publishes a ReconnectFailedEvent, leaving callers to fall back
// to polling. A channel that gave up may be connected again.
func (c *Channel) Connect(ctx context.Context, user Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateIdle {
		return
	}
	if c.cfg.URL == "" {
		c.logger.Warn("realtime disabled: no URL configured")
		return
	}
	c.user = user
	c.state = stateConnecting
	c.closing = false

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done

	var wg conc.WaitGroup
	wg.Go(func() { c.run(runCtx) })
	go func() {
		defer close(done)
		if r := wg.WaitAndRecover(); r != nil {
			c.logger.Error("realtime loop panicked", "panic", r.String())
			c.mu.Lock()
			c.state = stateIdle
			c.mu.Unlock()
		}
	}()
}

// Connected reports whether a connection is currently established.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected
}

// Done is closed when the background loop has exited.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Close disconnects voluntarily and stops reconnecting. Subscribers see a
// DisconnectedEvent with ReasonClientDisconnect if a connection was up.
// Close does not wait for the loop to exit; use Done for that.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.state == stateIdle || c.state == stateClosed {
		c.state = stateClosed
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.state = stateClosed
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
}

// JoinRoom asks to join room. Before a connection exists the request is
// queued; repeated requests for the same room collapse into one. Every
// requested room is joined once on each successful connection.
func (c *Channel) JoinRoom(room string) {
	c.mu.Lock()
	if room == "" || c.roomSet[room] {
		c.mu.Unlock()
		return
	}
	c.roomSet[room] = true
	c.rooms = append(c.rooms, room)
	conn := c.conn
	connected := c.state == stateConnected
	user := c.user
	c.mu.Unlock()

	if connected {
		c.sendJoin(conn, user, room)
	}
}

// Rooms returns the requested rooms in request order.
func (c *Channel) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.rooms...)
}

// On registers handler for the named event and returns a subscription id.
func (c *Channel) On(name string, handler func(Event)) string {
	return c.bus.Subscribe(name, adapt(handler))
}

// OnAny registers handler for every realtime event.
func (c *Channel) OnAny(handler func(Event)) string {
	return c.bus.SubscribeAll(adapt(handler))
}

// Off removes a subscription created by On or OnAny.
func (c *Channel) Off(id string) bool {
	return c.bus.Unsubscribe(id)
}

func adapt(handler func(Event)) event.Handler {
	return func(e event.Event) {
		if re, ok := e.(Event); ok {
			handler(re)
		}
	}
}

// Emit sends an outbound event. While disconnected the event is dropped.
func (c *Channel) Emit(name string, payload any) error {
	data, err := Encode(name, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.state == stateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.logger.Debug("dropping outbound event while offline", "event", name)
		return nil
	}
	if err := c.write(conn, data); err != nil {
		c.logger.Debug("outbound event failed", "event", name, "error", err)
		_ = conn.Close()
	}
	return nil
}

func (c *Channel) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Channel) sendJoin(conn *websocket.Conn, user Identity, room string) {
	data, err := Encode(EmitJoinRoom, map[string]string{
		"user_id":  user.UserID,
		"username": user.Username,
		"room":     room,
	})
	if err != nil {
		return
	}
	if err := c.write(conn, data); err != nil {
		c.logger.Warn("room join failed", "room", room, "error", err)
		_ = conn.Close()
		return
	}
	c.logger.Debug("joined room", "room", room)
}

func (c *Channel) publish(e Event) {
	c.bus.Publish(e)
}

// run owns the connection for its whole life: dial, serve, and reconnect.
func (c *Channel) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.conn = nil
		if c.state != stateClosed {
			c.state = stateIdle
		}
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		if attempt > 0 {
			if attempt > c.cfg.MaxAttempts {
				c.logger.Warn("giving up on realtime connection", "attempts", c.cfg.MaxAttempts)
				c.publish(&ReconnectFailedEvent{base: newBase(EventReconnectFailed), Attempts: c.cfg.MaxAttempts})
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.Backoff(attempt)):
			}
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			c.logger.Debug("realtime dial failed", "attempt", attempt, "error", err)
			continue
		}

		reason, ok := c.serve(ctx, conn, attempt)
		if !ok {
			return
		}
		c.publish(&DisconnectedEvent{base: newBase(EventDisconnected), Reason: reason})
		c.logger.Info("realtime disconnected", "reason", string(reason))
		if reason == ReasonClientDisconnect || reason == ReasonServerDisconnect {
			return
		}
		attempt = 1
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// serve runs one established connection until it ends and returns why.
// ok is false when Close won the race before the connection was adopted.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn, attempt int) (reason Reason, ok bool) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = conn.Close()
		return "", false
	}
	c.conn = conn
	c.state = stateConnected
	rooms := append([]string(nil), c.rooms...)
	user := c.user
	c.mu.Unlock()

	c.logger.Info("realtime connected", "attempt", attempt)
	c.publish(&ConnectedEvent{base: newBase(EventConnected), Attempt: attempt})
	for _, room := range rooms {
		c.sendJoin(conn, user, room)
	}

	stopPing := make(chan struct{})
	pingFailed := make(chan struct{}, 1)
	var wg conc.WaitGroup
	wg.Go(func() { c.keepalive(conn, stopPing, pingFailed) })

	reason = c.readLoop(conn)

	close(stopPing)
	_ = conn.Close()
	wg.Wait()

	c.mu.Lock()
	c.conn = nil
	closing := c.closing
	if !closing {
		c.state = stateConnecting
	}
	c.mu.Unlock()

	switch {
	case closing || ctx.Err() != nil:
		reason = ReasonClientDisconnect
	case len(pingFailed) > 0 && reason == ReasonTransportClose:
		reason = ReasonTransportError
	}
	return reason, true
}

func (c *Channel) keepalive(conn *websocket.Conn, stop <-chan struct{}, failed chan<- struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				select {
				case failed <- struct{}{}:
				default:
				}
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) Reason {
	conn.SetReadLimit(c.cfg.MaxMessageBytes)
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return classify(err)
		}
		extend()

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("discarding malformed frame", "error", err)
			continue
		}
		ev, err := Decode(f)
		if err != nil {
			c.logger.Warn("discarding undecodable event", "event", f.Event, "error", err)
			continue
		}
		if _, unknown := ev.(*UnknownEvent); unknown {
			c.logger.Debug("unrecognized realtime event", "event", f.Event)
		}
		c.publish(ev)
	}
}

// classify maps a read error onto a disconnect reason.
func classify(err error) Reason {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseNormalClosure {
			return ReasonServerDisconnect
		}
		return ReasonTransportClose
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonPingTimeout
	}
	return ReasonTransportClose
}

package recovery

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/packline/internal/activework"
	"github.com/Iron-Ham/packline/internal/api"
	"github.com/Iron-Ham/packline/internal/errors"
	"github.com/Iron-Ham/packline/internal/event"
	"github.com/Iron-Ham/packline/internal/fulfillment"
	"github.com/Iron-Ham/packline/internal/realtime"
	"github.com/Iron-Ham/packline/internal/testutil"
)

type fakeReleaser struct {
	mu    sync.Mutex
	ids   []string
	err   error
	block chan struct{}
}

func (f *fakeReleaser) Release(ctx context.Context, sessionID string) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, sessionID)
	return f.err
}

func (f *fakeReleaser) released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

type navRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (n *navRecorder) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *navRecorder) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.paths)
}

func newManager(t *testing.T, rel Releaser, bus *event.Bus, nav fulfillment.Navigator) (*Manager, *activework.Token) {
	t.Helper()
	token := activework.New(bus)
	m, err := New(Config{Releaser: rel, Token: token, Bus: bus, Navigator: nav})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Close)
	return m, token
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{Token: activework.New(nil)}); err == nil {
		t.Error("expected error without Releaser")
	}
	if _, err := New(Config{Releaser: &fakeReleaser{}}); err == nil {
		t.Error("expected error without Token")
	}
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name         string
		sig          Signal
		wantRelease  bool
		wantRedirect bool
	}{
		{name: "unload", sig: Unload{Cause: "terminated"}, wantRelease: true},
		{name: "pagehide not cached", sig: PageHide{Persisted: false}, wantRelease: true},
		{name: "pagehide cached", sig: PageHide{Persisted: true}},
		{name: "freeze", sig: Freeze{}, wantRelease: true},
		{name: "offline", sig: Offline{}, wantRelease: true},
		{name: "transport close", sig: Disconnect{Reason: realtime.ReasonTransportClose}, wantRelease: true, wantRedirect: true},
		{name: "transport error", sig: Disconnect{Reason: realtime.ReasonTransportError}, wantRelease: true, wantRedirect: true},
		{name: "ping timeout", sig: Disconnect{Reason: realtime.ReasonPingTimeout}, wantRelease: true, wantRedirect: true},
		{name: "client disconnect", sig: Disconnect{Reason: realtime.ReasonClientDisconnect}, wantRelease: true},
		{name: "server disconnect", sig: Disconnect{Reason: realtime.ReasonServerDisconnect}, wantRelease: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel := &fakeReleaser{}
			nav := &navRecorder{}
			m, token := newManager(t, rel, nil, nav)
			token.Set("s-1")

			if got := m.Handle(tt.sig); got != tt.wantRelease {
				t.Errorf("Handle() = %v, want %v", got, tt.wantRelease)
			}
			m.Wait()

			if tt.wantRelease {
				if ids := rel.released(); len(ids) != 1 || ids[0] != "s-1" {
					t.Errorf("released %v, want [s-1]", ids)
				}
				if token.Active() {
					t.Error("token still set after release")
				}
			} else {
				if ids := rel.released(); len(ids) != 0 {
					t.Errorf("released %v, want none", ids)
				}
				if token.Current() != "s-1" {
					t.Errorf("token = %q, want s-1", token.Current())
				}
			}
			if got := nav.count() == 1; got != tt.wantRedirect {
				t.Errorf("redirected = %v, want %v (%v)", got, tt.wantRedirect, nav.paths)
			}
		})
	}
}

func TestRedirectTarget(t *testing.T) {
	nav := &navRecorder{}
	token := activework.New(nil)
	m, err := New(Config{Releaser: &fakeReleaser{}, Token: token, Navigator: nav, BasePath: "/ops/fulfil/"})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	token.Set("s-1")
	m.Handle(Disconnect{Reason: realtime.ReasonPingTimeout})
	if len(nav.paths) != 1 || nav.paths[0] != "/ops/fulfil" {
		t.Errorf("paths = %v", nav.paths)
	}
}

func TestNothingToRelease(t *testing.T) {
	rel := &fakeReleaser{}
	nav := &navRecorder{}
	m, _ := newManager(t, rel, nil, nav)

	if m.Handle(Disconnect{Reason: realtime.ReasonTransportClose}) {
		t.Error("released without an active session")
	}
	m.Wait()
	if len(rel.released()) != 0 || nav.count() != 0 {
		t.Error("acted without an active session")
	}
}

func TestSimultaneousTriggersReleaseOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		rel := &fakeReleaser{}
		m, token := newManager(t, rel, nil, nil)
		token.Set("s-1")

		start := make(chan struct{})
		var wg sync.WaitGroup
		for _, sig := range []Signal{Offline{}, Disconnect{Reason: realtime.ReasonTransportClose}} {
			wg.Add(1)
			go func(sig Signal) {
				defer wg.Done()
				<-start
				m.Handle(sig)
			}(sig)
		}
		close(start)
		wg.Wait()
		m.Wait()

		if n := len(rel.released()); n != 1 {
			t.Fatalf("run %d: %d releases, want 1", i, n)
		}
		if token.Active() {
			t.Fatalf("run %d: token still set", i)
		}
	}
}

func TestForget(t *testing.T) {
	rel := &fakeReleaser{}
	m, token := newManager(t, rel, nil, nil)
	token.Set("s-2")

	if m.Forget("s-1") {
		t.Error("Forget cleared a different session")
	}
	if !m.Forget("s-2") {
		t.Error("Forget did not clear the active session")
	}
	m.Handle(Unload{})
	m.Wait()
	if len(rel.released()) != 0 {
		t.Errorf("released %v after Forget", rel.released())
	}
}

func TestReleasePublishesEvent(t *testing.T) {
	bus := event.NewBus(nil)
	var got []event.SessionReleasedEvent
	bus.Subscribe(event.TypeSessionReleased, func(e event.Event) {
		got = append(got, e.(event.SessionReleasedEvent))
	})
	m, token := newManager(t, &fakeReleaser{}, bus, nil)
	token.Set("s-3")

	m.Handle(Freeze{})
	if len(got) != 1 || got[0].SessionID != "s-3" || got[0].Trigger != "freeze" {
		t.Errorf("events = %+v", got)
	}
}

func TestReleaseFailureIsSwallowed(t *testing.T) {
	rel := &fakeReleaser{err: errors.NewHTTPError("release", http.StatusInternalServerError, "boom")}
	m, token := newManager(t, rel, nil, nil)
	token.Set("s-1")

	if !m.Handle(Offline{}) {
		t.Fatal("release was not fired")
	}
	m.Wait()
	if token.Active() {
		t.Error("token restored after a failed release")
	}
}

func TestCloseWaitsForInflightRelease(t *testing.T) {
	rel := &fakeReleaser{block: make(chan struct{})}
	token := activework.New(nil)
	m, err := New(Config{Releaser: rel, Token: token})
	if err != nil {
		t.Fatal(err)
	}
	token.Set("s-1")
	m.Handle(Unload{})

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before the release finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(rel.block)
	select {
	case <-closed:
	case <-time.After(testutil.DefaultWait):
		t.Fatal("Close did not return")
	}
	if len(rel.released()) != 1 {
		t.Errorf("released %v", rel.released())
	}
}

func TestRealtimeDropDraftsSession(t *testing.T) {
	b := testutil.NewBackend(t)
	b.AddSession(api.Session{SessionID: "s-9", OrderNumber: "SO9", InvoiceNumber: "I9", Status: api.StatusInProgress, CurrentOwner: "bob"})
	client, err := api.NewClient(b.APIURL(), api.WithToken("bob"))
	if err != nil {
		t.Fatal(err)
	}

	bus := event.NewBus(nil)
	nav := &navRecorder{}
	m, token := newManager(t, client, bus, nav)
	m.Install()
	m.Install()

	cfg := realtime.DefaultConfig(b.RealtimeURL())
	cfg.Token = "bob"
	ch := realtime.New(cfg, bus, nil)
	ch.Connect(context.Background(), realtime.Identity{UserID: "bob", Username: "bob"})
	t.Cleanup(ch.Close)
	testutil.WaitFor(t, "realtime connection", ch.Connected)

	token.Set("s-9")
	b.DropConnections()

	testutil.WaitFor(t, "release call", func() bool {
		return b.CallCount(http.MethodPost, "/sessions/s-9/release") > 0
	})
	testutil.WaitFor(t, "redirect", func() bool { return nav.count() > 0 })
	m.Wait()

	if n := b.CallCount(http.MethodPost, "/sessions/s-9/release"); n != 1 {
		t.Errorf("%d release calls, want 1", n)
	}
	if s, _ := b.Session("s-9"); s.Status != api.StatusDraft {
		t.Errorf("status = %s, want draft", s.Status)
	}
	if token.Active() {
		t.Error("token still set")
	}
}

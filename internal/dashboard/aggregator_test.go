package dashboard

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/packline/internal/api"
	"github.com/Iron-Ham/packline/internal/errors"
	"github.com/Iron-Ham/packline/internal/event"
	"github.com/Iron-Ham/packline/internal/realtime"
	"github.com/Iron-Ham/packline/internal/testutil"
)

const listPath = "/dashboard/sessions"

func newAggregator(t *testing.T, b *testutil.Backend, bus *event.Bus, interval time.Duration) *Aggregator {
	t.Helper()
	client, err := api.NewClient(b.APIURL(), api.WithToken("root"))
	if err != nil {
		t.Fatal(err)
	}
	a, err := New(Config{Lister: client, Bus: bus, PollInterval: interval})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Stop)
	return a
}

func listings(b *testutil.Backend) int {
	return b.CallCount(http.MethodGet, listPath)
}

func TestNewRequiresLister(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without Lister")
	}
}

func TestStartFetchesImmediately(t *testing.T) {
	b := testutil.NewBackend(t)
	b.AddSession(api.Session{SessionID: "s-1", OrderNumber: "SO1", Status: api.StatusInProgress, CurrentOwner: "amy"})
	a := newAggregator(t, b, nil, time.Hour)

	a.Start(context.Background())
	testutil.WaitFor(t, "first listing", func() bool { return len(a.Snapshot().Sessions) == 1 })
	if snap := a.Snapshot(); snap.FetchedAt.IsZero() || snap.Err != nil {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestBurstCoalesces(t *testing.T) {
	b := testutil.NewBackend(t)
	b.Delay(http.MethodGet, listPath, 150*time.Millisecond)
	a := newAggregator(t, b, nil, time.Hour)

	a.Start(context.Background())
	testutil.WaitFor(t, "first listing in flight", func() bool { return listings(b) == 1 })
	for i := 0; i < 10; i++ {
		a.Request()
	}

	testutil.WaitFor(t, "coalesced refresh", func() bool { return listings(b) == 2 })
	if !testutil.Never(400*time.Millisecond, func() bool { return listings(b) > 2 }) {
		t.Errorf("%d listings after a burst, want 2", listings(b))
	}
}

func TestLifecycleEventsRefresh(t *testing.T) {
	b := testutil.NewBackend(t)
	bus := event.NewBus(nil)
	a := newAggregator(t, b, bus, time.Hour)
	a.Start(context.Background())
	testutil.WaitFor(t, "first listing", func() bool { return listings(b) == 1 && !a.Snapshot().Refreshing })

	bus.Publish(event.NewRefreshRequestedEvent("test"))
	testutil.WaitFor(t, "refresh on request", func() bool { return listings(b) == 2 })

	cfg := realtime.DefaultConfig(b.RealtimeURL())
	cfg.Token = "root"
	ch := realtime.New(cfg, bus, nil)
	ch.Connect(context.Background(), realtime.Identity{UserID: "root", Username: "root"})
	t.Cleanup(ch.Close)
	testutil.WaitFor(t, "realtime connection", ch.Connected)

	picker, err := api.NewClient(b.APIURL(), api.WithToken("amy"))
	if err != nil {
		t.Fatal(err)
	}
	b.SetOrder("SO5", "INV-5", "express")
	if _, err := picker.StartSession(context.Background(), "SO5", api.SessionPick); err != nil {
		t.Fatal(err)
	}
	testutil.WaitFor(t, "pushed start shows up", func() bool {
		s := a.Snapshot().Sessions
		return len(s) == 1 && s[0].OrderNumber == "SO5"
	})
}

func TestPollBackstop(t *testing.T) {
	b := testutil.NewBackend(t)
	a := newAggregator(t, b, nil, 20*time.Millisecond)
	a.Start(context.Background())
	testutil.WaitFor(t, "repeated polls", func() bool { return listings(b) >= 3 })

	a.Stop()
	n := listings(b)
	if !testutil.Never(100*time.Millisecond, func() bool { return listings(b) > n }) {
		t.Error("polling continued after Stop")
	}
}

func TestFailureKeepsLastListing(t *testing.T) {
	b := testutil.NewBackend(t)
	b.AddSession(api.Session{SessionID: "s-1", OrderNumber: "SO1", Status: api.StatusDraft})
	a := newAggregator(t, b, nil, time.Hour)
	ctx := context.Background()

	if err := a.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	b.Fail(http.MethodGet, listPath, http.StatusServiceUnavailable, `{"error":"maintenance"}`)
	err := a.Refresh(ctx)
	if errors.KindOf(err) != errors.KindTransport {
		t.Fatalf("err = %v", err)
	}
	snap := a.Snapshot()
	if len(snap.Sessions) != 1 || snap.Err == nil {
		t.Errorf("snapshot = %+v", snap)
	}

	b.Fail(http.MethodGet, listPath, 0, "")
	if err := a.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if a.Snapshot().Err != nil {
		t.Error("error not cleared by a good refresh")
	}
}

func TestIncludeCompleted(t *testing.T) {
	b := testutil.NewBackend(t)
	b.AddSession(api.Session{SessionID: "s-1", OrderNumber: "SO1", Status: api.StatusCompleted})
	b.AddSession(api.Session{SessionID: "s-2", OrderNumber: "SO2", Status: api.StatusInProgress})
	a := newAggregator(t, b, nil, time.Hour)
	ctx := context.Background()

	if err := a.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(a.Snapshot().Sessions); n != 1 {
		t.Fatalf("%d sessions without completed, want 1", n)
	}

	a.SetIncludeCompleted(true)
	if err := a.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	sum := a.Snapshot().Summarize()
	if sum.Total != 2 || sum.Completed != 1 || sum.InProgress != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestOnChange(t *testing.T) {
	b := testutil.NewBackend(t)
	a := newAggregator(t, b, nil, time.Hour)
	var calls atomic.Int32
	a.OnChange(func(Snapshot) { calls.Add(1) })

	_ = a.Refresh(context.Background())
	_ = a.Refresh(context.Background())
	if n := calls.Load(); n != 2 {
		t.Errorf("OnChange ran %d times, want 2", n)
	}
}

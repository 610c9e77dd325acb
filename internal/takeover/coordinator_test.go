package takeover

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/packline/internal/activework"
	"github.com/Iron-Ham/packline/internal/api"
	"github.com/Iron-Ham/packline/internal/errors"
	"github.com/Iron-Ham/packline/internal/event"
	"github.com/Iron-Ham/packline/internal/fulfillment"
	"github.com/Iron-Ham/packline/internal/realtime"
	"github.com/Iron-Ham/packline/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	answer bool
	asked  []fulfillment.Prompt
	paths  []string
	notes  []string
}

func (r *recorder) Confirm(_ context.Context, p fulfillment.Prompt) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asked = append(r.asked, p)
	return r.answer, nil
}

func (r *recorder) Navigate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) Notify(_ event.ToastLevel, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, msg)
}

func (r *recorder) lastNote() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notes) == 0 {
		return ""
	}
	return r.notes[len(r.notes)-1]
}

// view is one user's client: a lifecycle controller plus a coordinator
// sharing a bus and, optionally, a realtime connection.
type view struct {
	user   string
	ui     *recorder
	bus    *event.Bus
	token  *activework.Token
	client *api.Client
	ch     *realtime.Channel
	neg    *ChannelNegotiator
	ctrl   *fulfillment.Controller
	coord  *Coordinator
}

type viewOpts struct {
	admin bool
	// realtime connects the view to the backend's realtime endpoint.
	realtime bool
	// negotiate gives the view a ChannelNegotiator on its connection.
	negotiate bool
	// negotiator is used instead when set.
	negotiator Negotiator
}

func newView(t *testing.T, b *testutil.Backend, user string, opts viewOpts) *view {
	t.Helper()
	client, err := api.NewClient(b.APIURL(), api.WithToken(user))
	if err != nil {
		t.Fatal(err)
	}
	v := &view{user: user, ui: &recorder{answer: true}, bus: event.NewBus(nil), client: client}
	v.token = activework.New(v.bus)

	self := realtime.Identity{UserID: user, Username: strings.ToUpper(user[:1]) + user[1:]}
	if opts.realtime {
		cfg := realtime.DefaultConfig(b.RealtimeURL())
		cfg.Token = user
		v.ch = realtime.New(cfg, v.bus, nil)
		v.ch.Connect(context.Background(), self)
		t.Cleanup(v.ch.Close)
		testutil.WaitFor(t, "realtime connection", v.ch.Connected)
	}
	neg := opts.negotiator
	if opts.negotiate && v.ch != nil {
		v.neg = NewChannelNegotiator(v.ch, self)
		neg = v.neg
	}

	v.ctrl, err = fulfillment.New(fulfillment.Config{
		Backend:   client,
		Token:     v.token,
		Bus:       v.bus,
		Prompter:  v.ui,
		Navigator: v.ui,
		Notifier:  v.ui,
		UserID:    user,
		Admin:     opts.admin,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(v.ctrl.Close)
	v.coord, err = New(Config{
		Backend:     client,
		Bus:         v.bus,
		Prompter:    v.ui,
		Navigator:   v.ui,
		Notifier:    v.ui,
		Resumer:     v.ctrl,
		Negotiator:  neg,
		OpenSession: v.ctrl.OpenSessionID,
		UserID:      user,
		Admin:       opts.admin,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(v.coord.Close)
	v.ctrl.SetTakeover(v.coord.AsTakeoverFunc())
	if v.ch != nil {
		v.coord.Watch(v.ch)
		v.ctrl.Watch(v.ch)
	}
	return v
}

func (v *view) open(t *testing.T, b *testutil.Backend, order string) *api.Session {
	t.Helper()
	b.SetOrder(order, "INV-"+order, "ground", api.Item{SKU: "A"})
	sess, err := v.ctrl.Open(context.Background(), order, api.SessionPick)
	if err != nil {
		t.Fatalf("Open(%s): %v", order, err)
	}
	return sess
}

func TestAdminGate(t *testing.T) {
	b := testutil.NewBackend(t)
	v := newView(t, b, "bob", viewOpts{})
	ctx := context.Background()

	if err := v.coord.ForceCancel(ctx, "s-1", "x"); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("ForceCancel = %v", err)
	}
	if err := v.coord.ForceAssign(ctx, "s-1", "carol"); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("ForceAssign = %v", err)
	}
	if _, err := v.coord.Takeover(ctx, "s-1"); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Takeover = %v", err)
	}
	if n := b.CallCount("", ""); n != 0 {
		t.Errorf("%d requests sent by a non-admin", n)
	}
}

func TestForceCancelConfirms(t *testing.T) {
	b := testutil.NewBackend(t)
	b.AddSession(api.Session{SessionID: "s-1", OrderNumber: "SO1", InvoiceNumber: "I1", Status: api.StatusInProgress, CurrentOwner: "alice"})
	v := newView(t, b, "root", viewOpts{admin: true})
	ctx := context.Background()

	v.ui.answer = false
	if err := v.coord.ForceCancel(ctx, "s-1", "dup"); !errors.Is(err, errors.ErrDeclined) {
		t.Fatalf("declined = %v", err)
	}
	if b.CallCount(http.MethodPost, "/dashboard/sessions/s-1/force-cancel") != 0 {
		t.Fatal("declined force-cancel was sent")
	}

	v.ui.answer = true
	if err := v.coord.ForceCancel(ctx, "s-1", " duplicate order "); err != nil {
		t.Fatalf("ForceCancel: %v", err)
	}
	calls := b.Calls(http.MethodPost, "/dashboard/sessions/s-1/force-cancel")
	if len(calls) != 1 || calls[0].Body["reason"] != "duplicate order" {
		t.Errorf("calls = %+v", calls)
	}
	if s, _ := b.Session("s-1"); s.Status != api.StatusCancelled {
		t.Errorf("status = %s", s.Status)
	}
}

func TestForceAssignValidates(t *testing.T) {
	b := testutil.NewBackend(t)
	v := newView(t, b, "root", viewOpts{admin: true})
	err := v.coord.ForceAssign(context.Background(), "s-1", "  ")
	if errors.KindOf(err) != errors.KindValidation {
		t.Errorf("err = %v", err)
	}
	if len(v.ui.asked) != 0 {
		t.Error("prompted for invalid input")
	}
}

func TestTakeoverOpensSession(t *testing.T) {
	b := testutil.NewBackend(t)
	b.AddSession(api.Session{SessionID: "s-7", OrderNumber: "SO7", InvoiceNumber: "INV-7-C", Status: api.StatusInProgress, CurrentOwner: "alice"})
	v := newView(t, b, "root", viewOpts{admin: true})

	path, err := v.coord.Takeover(context.Background(), "s-7")
	if err != nil {
		t.Fatalf("Takeover: %v", err)
	}
	if path != "/inventory/order-fulfillment/session-SO7-INV-7-C" {
		t.Errorf("path = %q", path)
	}
	if v.ctrl.OpenSessionID() != "s-7" || v.token.Current() != "s-7" {
		t.Errorf("open = %q, token = %q", v.ctrl.OpenSessionID(), v.token.Current())
	}
	if s, _ := b.Session("s-7"); s.CurrentOwner != "root" {
		t.Errorf("owner = %q", s.CurrentOwner)
	}
}

func TestTakeoverRefusedWhileSessionOpen(t *testing.T) {
	b := testutil.NewBackend(t)
	v := newView(t, b, "amy", viewOpts{admin: true})
	sess := v.open(t, b, "SO1")
	b.AddSession(api.Session{SessionID: "z-1", OrderNumber: "SO5", InvoiceNumber: "INV-5", Status: api.StatusInProgress, CurrentOwner: "alice"})

	_, err := v.coord.Takeover(context.Background(), "z-1")
	var conflict *errors.ConflictError
	if !errors.As(err, &conflict) || conflict.Code != "session_open" {
		t.Fatalf("Takeover = %v, want session_open conflict", err)
	}
	if len(v.ui.asked) != 0 {
		t.Errorf("prompted %d times", len(v.ui.asked))
	}
	if b.CallCount(http.MethodPost, "/dashboard/sessions/z-1/takeover") != 0 {
		t.Error("takeover was sent while a session was open")
	}
	if s, _ := b.Session("z-1"); s.CurrentOwner != "alice" {
		t.Errorf("z-1 owner = %q", s.CurrentOwner)
	}
	if v.token.Current() != sess.SessionID {
		t.Errorf("token = %q, want %q", v.token.Current(), sess.SessionID)
	}
}

func TestForceCancelReachesOwnerView(t *testing.T) {
	tests := []struct {
		name    string
		reason  string
		wantMsg string
	}{
		{name: "reason shown", reason: "duplicate order", wantMsg: "This session was cancelled by an administrator: duplicate order"},
		{name: "no reason", wantMsg: "This session was cancelled by an administrator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testutil.NewBackend(t)
			owner := newView(t, b, "bob", viewOpts{realtime: true})
			sess := owner.open(t, b, "SO1")

			admin := newView(t, b, "root", viewOpts{admin: true})
			if err := admin.coord.ForceCancel(context.Background(), sess.SessionID, tt.reason); err != nil {
				t.Fatalf("ForceCancel: %v", err)
			}

			testutil.WaitFor(t, "owner view revoked", func() bool { return owner.ctrl.State() == fulfillment.StateRevoked })
			testutil.WaitFor(t, "revocation notice", func() bool { return strings.HasPrefix(owner.ui.lastNote(), "This session") })
			if got := owner.ui.lastNote(); got != tt.wantMsg {
				t.Errorf("notice = %q, want %q", got, tt.wantMsg)
			}
			if owner.ctrl.ScanEnabled() || owner.token.Active() {
				t.Error("owner view still offers scanning")
			}
		})
	}
}

func TestAssignmentRevokesOnlyLosers(t *testing.T) {
	b := testutil.NewBackend(t)
	owner := newView(t, b, "bob", viewOpts{realtime: true})
	sess := owner.open(t, b, "SO1")

	// The admin handing bob his own session changes nothing for him.
	owner.coord.Handle(mustSessionEvent(t, realtime.EventSessionAssigned, sess.SessionID, map[string]any{"target_user_id": "bob"}))
	if owner.ctrl.State() != fulfillment.StateInProgress {
		t.Fatalf("state = %s after assignment to self", owner.ctrl.State())
	}

	admin := newView(t, b, "root", viewOpts{admin: true})
	if err := admin.coord.ForceAssign(context.Background(), sess.SessionID, "carol"); err != nil {
		t.Fatalf("ForceAssign: %v", err)
	}
	testutil.WaitFor(t, "owner view revoked", func() bool { return owner.ctrl.State() == fulfillment.StateRevoked })
	if rev := owner.ctrl.Snapshot().Revocation; rev == nil || rev.Cause != event.RevokeAssigned || rev.NewOwner != "carol" {
		t.Errorf("revocation = %+v", rev)
	}
}

func TestNoticesForOtherSessionsIgnored(t *testing.T) {
	b := testutil.NewBackend(t)
	v := newView(t, b, "bob", viewOpts{})
	v.open(t, b, "SO1")
	revoked := 0
	v.bus.Subscribe(event.TypeSessionRevoked, func(event.Event) { revoked++ })

	v.coord.Handle(mustSessionEvent(t, realtime.EventSessionForcedCancel, "s-elsewhere", nil))
	v.coord.Handle(mustSessionEvent(t, realtime.EventSessionUpdated, v.ctrl.OpenSessionID(), nil))
	if revoked != 0 {
		t.Errorf("%d revocations published", revoked)
	}
}

type fakeEmitter struct {
	mu      sync.Mutex
	offline bool
	frames  []string
	last    map[string]any
}

func (f *fakeEmitter) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.offline
}

func (f *fakeEmitter) Emit(name string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, name)
	f.last, _ = payload.(map[string]any)
	return nil
}

func TestOfferWithoutAdmin(t *testing.T) {
	b := testutil.NewBackend(t)
	b.AddSession(api.Session{SessionID: "s-a", OrderNumber: "SO2", InvoiceNumber: "I2", Status: api.StatusInProgress, CurrentOwner: "alice"})

	plain := newView(t, b, "bob", viewOpts{})
	_, err := plain.ctrl.Open(context.Background(), "SO2", api.SessionPick)
	if !errors.Is(err, errors.ErrSessionOwnedByOther) {
		t.Fatalf("Open = %v", err)
	}

	em := &fakeEmitter{}
	neg := NewChannelNegotiator(em, realtime.Identity{UserID: "bob", Username: "Bob"})
	asking := newView(t, b, "bob", viewOpts{negotiator: neg})
	_, err = asking.ctrl.Open(context.Background(), "SO2", api.SessionPick)
	var conflict *errors.ConflictError
	if !errors.As(err, &conflict) || conflict.Code != "takeover_requested" {
		t.Fatalf("Open = %v, want takeover_requested conflict", err)
	}
	if len(em.frames) != 1 || em.frames[0] != realtime.EventTakeoverRequest || em.last["session_id"] != "s-a" {
		t.Errorf("emitted %v %v", em.frames, em.last)
	}
	if !neg.Pending(em.last["request_id"].(string)) {
		t.Error("request not tracked as pending")
	}
	if b.CallCount(http.MethodPost, "/dashboard/sessions/s-a/takeover") != 0 {
		t.Error("a non-admin forced a takeover")
	}
}

func TestRequestWhileOffline(t *testing.T) {
	b := testutil.NewBackend(t)
	b.AddSession(api.Session{SessionID: "s-a", OrderNumber: "SO2", InvoiceNumber: "I2", Status: api.StatusInProgress, CurrentOwner: "alice"})

	em := &fakeEmitter{offline: true}
	neg := NewChannelNegotiator(em, realtime.Identity{UserID: "bob", Username: "Bob"})
	if _, err := neg.Request(context.Background(), "s-a", ""); errors.KindOf(err) != errors.KindTransport {
		t.Fatalf("Request = %v, want a transport error", err)
	}

	asking := newView(t, b, "bob", viewOpts{negotiator: neg})
	_, err := asking.ctrl.Open(context.Background(), "SO2", api.SessionPick)
	if errors.KindOf(err) != errors.KindTransport {
		t.Fatalf("Open = %v, want a transport error", err)
	}
	if strings.Contains(err.Error(), "asked to hand it over") {
		t.Errorf("offline request reported as sent: %v", err)
	}
	if len(em.frames) != 0 {
		t.Errorf("emitted %v while offline", em.frames)
	}
}

func TestTakeoverRequestRoundTrip(t *testing.T) {
	b := testutil.NewBackend(t)

	owner := newView(t, b, "alice", viewOpts{realtime: true, negotiate: true})
	ownerNeg := owner.neg
	owner.open(t, b, "SO4")

	asker := newView(t, b, "bob", viewOpts{realtime: true, negotiate: true})
	askerNeg := asker.neg

	if _, err := asker.ctrl.Open(context.Background(), "SO4", api.SessionPick); errors.KindOf(err) != errors.KindConflict {
		t.Fatalf("Open = %v", err)
	}

	testutil.WaitFor(t, "request reaches owner", func() bool { return len(ownerNeg.Incoming()) == 1 })
	if got := owner.ui.lastNote(); got != "Bob asked to take over this session" {
		t.Errorf("owner notice = %q", got)
	}
	if owner.ctrl.State() != fulfillment.StateInProgress {
		t.Error("a request alone changed ownership")
	}

	req := ownerNeg.Incoming()[0]
	if err := ownerNeg.Respond(context.Background(), req, false, "almost done"); err != nil {
		t.Fatal(err)
	}
	testutil.WaitFor(t, "answer reaches asker", func() bool {
		return asker.ui.lastNote() == "alice declined the takeover request: almost done"
	})
	if askerNeg.Pending(req.RequestID) {
		t.Error("answered request still pending")
	}
}

func mustSessionEvent(t *testing.T, name, sessionID string, extra map[string]any) realtime.Event {
	t.Helper()
	data := map[string]any{"session_id": sessionID}
	for k, v := range extra {
		data[k] = v
	}
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	e, err := realtime.Decode(realtime.Frame{Event: name, Data: raw})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/Iron-Ham/packline/internal/api"
)

// Call is one REST request the backend received.
type Call struct {
	Method string
	Path   string // without the /api prefix
	User   string
	Body   map[string]any
}

type failure struct {
	status int
	body   string
}

// Backend is an in-process fake of the fulfillment backend. The bearer
// token on each request is taken as the caller's user id. Mutations push
// the matching session event to every realtime peer, like the real server.
type Backend struct {
	t      testing.TB
	server *httptest.Server

	mu       sync.Mutex
	seq      int
	sessions map[string]*api.Session
	created  []string
	invoices map[string]string
	items    map[string][]api.Item
	shipping map[string]string
	checks   map[string]api.CheckResult
	failures map[string]failure
	delays   map[string]time.Duration
	calls    []Call

	rt realtimeHub
}

// NewBackend starts a fake backend that is shut down when the test ends.
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		t:        t,
		sessions: make(map[string]*api.Session),
		invoices: make(map[string]string),
		items:    make(map[string][]api.Item),
		shipping: make(map[string]string),
		checks:   make(map[string]api.CheckResult),
		failures: make(map[string]failure),
		delays:   make(map[string]time.Duration),
	}
	b.rt.init()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Use(b.record)
		r.Get("/session/check/{order}", b.handleCheck)
		r.Post("/session/start", b.handleStart)
		r.Post("/sessions/{id}/claim", b.handleClaim)
		r.Post("/sessions/{id}/release", b.handleRelease)
		r.Post("/session/scan", b.handleScan)
		r.Get("/session/status/{id}", b.handleStatus)
		r.Post("/session/complete", b.handleComplete)
		r.Delete("/session/{id}", b.handleCancel)
		r.Get("/dashboard/sessions", b.handleDashboard)
		r.Post("/dashboard/sessions/{id}/force-cancel", b.handleForceCancel)
		r.Post("/dashboard/sessions/{id}/force-assign", b.handleForceAssign)
		r.Post("/dashboard/sessions/{id}/takeover", b.handleTakeover)
	})
	r.Get("/realtime", b.rt.handle)

	b.server = httptest.NewServer(r)
	t.Cleanup(b.Close)
	return b
}

// APIURL is the REST root to hand to api.NewClient.
func (b *Backend) APIURL() string {
	return b.server.URL + "/api"
}

// RealtimeURL is the websocket endpoint to hand to realtime.New.
func (b *Backend) RealtimeURL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + "/realtime"
}

// Close drops every realtime peer and stops the server.
func (b *Backend) Close() {
	b.rt.closeAll()
	b.server.Close()
}

// SetOrder registers the invoice, items, and shipping method a later
// session start for orderNumber receives.
func (b *Backend) SetOrder(orderNumber, invoiceNumber, shippingMethod string, items ...api.Item) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invoices[orderNumber] = invoiceNumber
	b.items[orderNumber] = slices.Clone(items)
	b.shipping[orderNumber] = shippingMethod
}

// AddSession stores s as if it had been created earlier.
func (b *Backend) AddSession(s api.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.SessionID == "" {
		b.seq++
		s.SessionID = fmt.Sprintf("s-%d", b.seq)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.Items = slices.Clone(s.Items)
	recount(&s)
	b.sessions[s.SessionID] = &s
	b.created = append(b.created, s.SessionID)
}

// Session returns a copy of the stored session.
func (b *Backend) Session(id string) (api.Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return api.Session{}, false
	}
	return *s, true
}

// SetCheck overrides the check answer for an order.
func (b *Backend) SetCheck(orderNumber string, res api.CheckResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checks[orderNumber] = res
}

// Fail makes every request to method+path answer status with body until
// cleared with Fail(method, path, 0, "").
func (b *Backend) Fail(method, path string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := method + " " + path
	if status == 0 {
		delete(b.failures, key)
		return
	}
	b.failures[key] = failure{status: status, body: body}
}

// Delay holds requests to method+path for d before answering.
func (b *Backend) Delay(method, path string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delays[method+" "+path] = d
}

// Calls returns recorded requests, optionally filtered by method and path.
func (b *Backend) Calls(method, path string) []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Call
	for _, c := range b.calls {
		if (method == "" || c.Method == method) && (path == "" || c.Path == path) {
			out = append(out, c)
		}
	}
	return out
}

// CallCount is len(Calls(method, path)).
func (b *Backend) CallCount(method, path string) int {
	return len(b.Calls(method, path))
}

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(raw))

		call := Call{
			Method: r.Method,
			Path:   strings.TrimPrefix(r.URL.Path, "/api"),
			User:   strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &call.Body)
		}

		b.mu.Lock()
		b.calls = append(b.calls, call)
		fail, failing := b.failures[call.Method+" "+call.Path]
		delay := b.delays[call.Method+" "+call.Path]
		b.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if failing {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(fail.status)
			_, _ = io.WriteString(w, fail.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func caller(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// recount restores the item counter invariants.
func recount(s *api.Session) {
	s.TotalItems = len(s.Items)
	s.CompletedItems = 0
	for _, it := range s.Items {
		if it.IsComplete {
			s.CompletedItems++
		}
	}
	if s.TotalItems > 0 {
		s.ProgressPercentage = decimal.NewFromInt(int64(s.CompletedItems * 100)).
			Div(decimal.NewFromInt(int64(s.TotalItems))).Round(1)
	} else {
		s.ProgressPercentage = decimal.Zero
	}
}

func (b *Backend) latestFor(orderNumber string) *api.Session {
	for i := len(b.created) - 1; i >= 0; i-- {
		if s := b.sessions[b.created[i]]; s.OrderNumber == orderNumber {
			return s
		}
	}
	return nil
}

// mutate applies fn to a stored session under the lock and returns a copy.
// The returned status is non-zero when the session is missing.
func (b *Backend) mutate(id, user, action string, fn func(s *api.Session) (int, string, string)) (api.Session, int, string, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return api.Session{}, http.StatusNotFound, "not_found", "session not found"
	}
	if status, code, msg := fn(s); status != 0 {
		return api.Session{}, status, code, msg
	}
	now := time.Now()
	s.LastModifiedBy = user
	s.LastModifiedAt = now
	s.AuditLogs = append(s.AuditLogs, api.AuditLogEntry{Timestamp: now, Action: action, User: user})
	recount(s)
	return *s, 0, "", ""
}

func (b *Backend) handleCheck(w http.ResponseWriter, r *http.Request) {
	order := chi.URLParam(r, "order")
	user := caller(r)

	b.mu.Lock()
	res, overridden := b.checks[order]
	if !overridden {
		res = api.CheckResult{Status: api.CheckNone}
		if s := b.latestFor(order); s != nil {
			res = api.CheckResult{Status: api.CheckStatus(s.Status), SessionID: s.SessionID, User: s.CurrentOwner}
			switch s.Status {
			case api.StatusDraft:
				res.CanClaim = true
			case api.StatusInProgress:
				res.CanClaim = s.CurrentOwner != user
			}
		}
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, res)
}

func (b *Backend) handleStart(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OrderNumber string          `json:"order_number"`
		SessionType api.SessionType `json:"session_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.OrderNumber == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid", "order_number is required")
		return
	}
	user := caller(r)

	b.mu.Lock()
	if s := b.latestFor(in.OrderNumber); s != nil && s.Status == api.StatusInProgress {
		b.mu.Unlock()
		writeError(w, http.StatusConflict, "in_progress", "session already in progress")
		return
	}
	b.seq++
	invoice := b.invoices[in.OrderNumber]
	if invoice == "" {
		invoice = "INV-" + in.OrderNumber
	}
	now := time.Now()
	s := &api.Session{
		SessionID:      fmt.Sprintf("s-%d", b.seq),
		OrderNumber:    in.OrderNumber,
		InvoiceNumber:  invoice,
		SessionType:    in.SessionType,
		Status:         api.StatusInProgress,
		CurrentOwner:   user,
		CreatedBy:      user,
		CreatedAt:      now,
		LastModifiedBy: user,
		LastModifiedAt: now,
		ShippingMethod: b.shipping[in.OrderNumber],
		Items:          slices.Clone(b.items[in.OrderNumber]),
		AuditLogs:      []api.AuditLogEntry{{Timestamp: now, Action: "started", User: user}},
	}
	recount(s)
	b.sessions[s.SessionID] = s
	b.created = append(b.created, s.SessionID)
	out := *s
	b.mu.Unlock()

	b.rt.pushSession("session_started", out, nil)
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleClaim(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user := caller(r)
	s, status, code, msg := b.mutate(id, user, "claimed", func(s *api.Session) (int, string, string) {
		if s.Status != api.StatusDraft {
			return http.StatusConflict, "not_draft", "only drafts can be claimed"
		}
		s.Status = api.StatusInProgress
		s.CurrentOwner = user
		return 0, "", ""
	})
	if status != 0 {
		writeError(w, status, code, msg)
		return
	}
	b.rt.pushSession("session_updated", s, nil)
	writeJSON(w, http.StatusOK, map[string]string{"session_id": s.SessionID})
}

func (b *Backend) handleRelease(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user := caller(r)
	drafted := false
	s, status, code, msg := b.mutate(id, user, "released", func(s *api.Session) (int, string, string) {
		if s.Status == api.StatusInProgress && s.CurrentOwner == user {
			s.Status = api.StatusDraft
			drafted = true
		}
		return 0, "", ""
	})
	if status != 0 {
		writeError(w, status, code, msg)
		return
	}
	if drafted {
		b.rt.pushSession("session_drafted", s, nil)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleScan(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SessionID string          `json:"session_id"`
		SKU       string          `json:"sku"`
		Quantity  decimal.Decimal `json:"quantity"`
		Field     string          `json:"field"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid", err.Error())
		return
	}
	user := caller(r)

	var overpicked, unknownSKU bool
	s, status, code, msg := b.mutate(in.SessionID, user, "scanned", func(s *api.Session) (int, string, string) {
		if s.Status != api.StatusInProgress {
			return http.StatusConflict, "not_in_progress", "session is not in progress"
		}
		if s.CurrentOwner != user {
			return http.StatusConflict, "not_owner", "session is owned by another user"
		}
		for i := range s.Items {
			it := &s.Items[i]
			if it.SKU != in.SKU {
				continue
			}
			it.QtyScanned = it.QtyScanned.Add(in.Quantity)
			it.IsComplete = it.QtyScanned.GreaterThanOrEqual(it.QtyInvoiced)
			overpicked = it.QtyScanned.GreaterThan(it.QtyInvoiced)
			return 0, "", ""
		}
		unknownSKU = true
		return 0, "", ""
	})
	if status != 0 {
		writeError(w, status, code, msg)
		return
	}
	if unknownSKU {
		writeJSON(w, http.StatusOK, api.ScanResult{Success: false, Message: "SKU " + in.SKU + " is not on this invoice"})
		return
	}
	b.rt.pushSession("session_updated", s, nil)
	writeJSON(w, http.StatusOK, api.ScanResult{Success: true, Message: "Scanned " + in.SKU, IsOverpicked: overpicked})
}

func (b *Backend) handleStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := b.Session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (b *Backend) handleComplete(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SessionID string `json:"session_id"`
		Force     bool   `json:"force_complete"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)
	user := caller(r)
	s, status, code, msg := b.mutate(in.SessionID, user, "completed", func(s *api.Session) (int, string, string) {
		switch {
		case s.Status == api.StatusCompleted:
			return http.StatusConflict, "already_completed", "session already completed"
		case s.Status != api.StatusInProgress:
			return http.StatusConflict, "not_in_progress", "session is not in progress"
		case !in.Force && s.CompletedItems != s.TotalItems:
			return http.StatusUnprocessableEntity, "incomplete", "all items must be scanned before completing"
		}
		s.Status = api.StatusCompleted
		return 0, "", ""
	})
	if status != 0 {
		writeError(w, status, code, msg)
		return
	}
	b.rt.pushSession("session_completed", s, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleCancel(w http.ResponseWriter, r *http.Request) {
	user := caller(r)
	s, status, code, msg := b.mutate(chi.URLParam(r, "id"), user, "cancelled", func(s *api.Session) (int, string, string) {
		if s.Status.Terminal() {
			return http.StatusConflict, "terminal", "session already " + string(s.Status)
		}
		s.Status = api.StatusCancelled
		return 0, "", ""
	})
	if status != 0 {
		writeError(w, status, code, msg)
		return
	}
	b.rt.pushSession("session_cancelled", s, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleDashboard(w http.ResponseWriter, r *http.Request) {
	includeCompleted := r.URL.Query().Get("include_completed") == "true"

	b.mu.Lock()
	sessions := make([]api.Session, 0, len(b.created))
	for _, id := range b.created {
		s := b.sessions[id]
		if s.Status.Terminal() && !includeCompleted {
			continue
		}
		sessions = append(sessions, *s)
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (b *Backend) handleForceCancel(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)
	user := caller(r)
	s, status, code, msg := b.mutate(chi.URLParam(r, "id"), user, "force_cancelled", func(s *api.Session) (int, string, string) {
		if s.Status.Terminal() {
			return http.StatusConflict, "terminal", "session already " + string(s.Status)
		}
		s.Status = api.StatusCancelled
		return 0, "", ""
	})
	if status != 0 {
		writeError(w, status, code, msg)
		return
	}
	extra := map[string]any{"user": user}
	if in.Reason != "" {
		extra["reason"] = in.Reason
	}
	b.rt.pushSession("session_forced_cancel", s, extra)
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleForceAssign(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Target string `json:"target_user_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)
	if in.Target == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid", "target_user_id is required")
		return
	}
	user := caller(r)
	var previous string
	s, status, code, msg := b.mutate(chi.URLParam(r, "id"), user, "force_assigned", func(s *api.Session) (int, string, string) {
		if s.Status.Terminal() {
			return http.StatusConflict, "terminal", "session already " + string(s.Status)
		}
		previous = s.CurrentOwner
		s.CurrentOwner = in.Target
		s.Status = api.StatusInProgress
		return 0, "", ""
	})
	if status != 0 {
		writeError(w, status, code, msg)
		return
	}
	b.rt.pushSession("session_assigned", s, map[string]any{
		"user": user, "previous_owner": previous, "target_user_id": in.Target, "new_owner": in.Target,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleTakeover(w http.ResponseWriter, r *http.Request) {
	user := caller(r)
	var previous string
	s, status, code, msg := b.mutate(chi.URLParam(r, "id"), user, "taken_over", func(s *api.Session) (int, string, string) {
		if s.Status.Terminal() {
			return http.StatusConflict, "terminal", "session already " + string(s.Status)
		}
		previous = s.CurrentOwner
		s.CurrentOwner = user
		s.Status = api.StatusInProgress
		return 0, "", ""
	})
	if status != 0 {
		writeError(w, status, code, msg)
		return
	}
	b.rt.pushSession("session_forced_takeover", s, map[string]any{
		"user": user, "previous_owner": previous, "new_owner": user,
	})
	writeJSON(w, http.StatusOK, api.TakeoverResult{OrderNumber: s.OrderNumber, InvoiceNumber: s.InvoiceNumber})
}

// upgrader accepts any origin; tests dial from the same process.
var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

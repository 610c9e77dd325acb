package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Iron-Ham/packline/internal/errors"
)

func newTestClient(t *testing.T, r http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/api/", append([]Option{WithToken("tok")}, opts...)...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "ftp://host", "/relative"} {
		if _, err := NewClient(raw); errors.KindOf(err) != errors.KindValidation {
			t.Errorf("NewClient(%q) err = %v, want validation", raw, err)
		}
	}
}

func TestCheckSession(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/session/check/{order}", func(w http.ResponseWriter, req *http.Request) {
		if got := req.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if req.Header.Get(RequestIDHeader) == "" {
			t.Error("missing request id header")
		}
		if chi.URLParam(req, "order") != "SO500" {
			t.Errorf("order = %q", chi.URLParam(req, "order"))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "draft", "user": "alice", "can_claim": true, "session_id": "s-500",
		})
	})
	r.Get("/api/session/check/SO1", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	c := newTestClient(t, r)

	res, err := c.CheckSession(context.Background(), "SO500")
	if err != nil {
		t.Fatalf("CheckSession: %v", err)
	}
	want := CheckResult{Status: CheckDraft, User: "alice", CanClaim: true, SessionID: "s-500"}
	if *res != want {
		t.Errorf("CheckSession = %+v, want %+v", *res, want)
	}

	res, err = c.CheckSession(context.Background(), "SO1")
	if err != nil {
		t.Fatalf("CheckSession: %v", err)
	}
	if res.Status != CheckNone {
		t.Errorf("empty status = %q, want none", res.Status)
	}
}

func TestScan(t *testing.T) {
	var body string
	r := chi.NewRouter()
	r.Post("/api/session/scan", func(w http.ResponseWriter, req *http.Request) {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
		var in map[string]any
		_ = json.Unmarshal(data, &in)
		if in["sku"] == "BAD" {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "unknown sku"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "ok", "is_overpicked": true})
	})
	c := newTestClient(t, r)

	res, err := c.Scan(context.Background(), ScanRequest{
		SessionID: "s-1", SKU: "SKU-1", Quantity: decimal.RequireFromString("1.5"), Field: "qty_scanned",
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !res.IsOverpicked {
		t.Error("expected overpicked flag to be surfaced")
	}
	if !strings.Contains(body, `"quantity":1.5`) {
		t.Errorf("quantity not sent as a bare number: %s", body)
	}

	_, err = c.Scan(context.Background(), ScanRequest{SessionID: "s-1", SKU: "BAD", Quantity: decimal.NewFromInt(1)})
	var conflict *errors.ConflictError
	if !errors.As(err, &conflict) || conflict.Message() != "unknown sku" {
		t.Errorf("success=false err = %v, want conflict 'unknown sku'", err)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   errors.Kind
		check  func(t *testing.T, err error)
	}{
		{
			name: "unauthorized", status: 401, body: `{"error":"token expired"}`, kind: errors.KindAuth,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, errors.ErrUnauthorized) {
					t.Errorf("want ErrUnauthorized, got %v", err)
				}
			},
		},
		{
			name: "forbidden", status: 403, body: `{"message":"admins only"}`, kind: errors.KindAuth,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, errors.ErrForbidden) {
					t.Errorf("want ErrForbidden, got %v", err)
				}
			},
		},
		{
			name: "conflict with code", status: 409, body: `{"error":"already completed","code":"already_completed"}`,
			kind: errors.KindConflict,
			check: func(t *testing.T, err error) {
				var c *errors.ConflictError
				if !errors.As(err, &c) || c.Code != "already_completed" || c.StatusCode != 409 {
					t.Errorf("conflict = %+v", c)
				}
			},
		},
		{name: "unprocessable", status: 422, body: `{}`, kind: errors.KindConflict},
		{
			name: "not found", status: 404, body: `not here`, kind: errors.KindConflict,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, errors.ErrSessionNotFound) {
					t.Errorf("want ErrSessionNotFound, got %v", err)
				}
			},
		},
		{
			name: "long text body", status: 502, body: strings.Repeat("x", 199) + "é" + strings.Repeat("y", 20), kind: errors.KindTransport,
			check: func(t *testing.T, err error) {
				var h *errors.HTTPError
				if !errors.As(err, &h) {
					t.Fatalf("want HTTPError, got %v", err)
				}
				if !utf8.ValidString(h.Message()) || h.Message() != strings.Repeat("x", 199) {
					t.Errorf("message = %q", h.Message())
				}
			},
		},
		{
			name: "server error", status: 503, body: `{"error":"maintenance"}`, kind: errors.KindTransport,
			check: func(t *testing.T, err error) {
				if !errors.IsRetryable(err) {
					t.Error("5xx should be retryable")
				}
				if !strings.Contains(err.Error(), "maintenance") {
					t.Errorf("message not decoded: %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Get("/api/session/status/{id}", func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			c := newTestClient(t, r)

			_, err := c.SessionStatus(context.Background(), "s-1")
			if got := errors.KindOf(err); got != tt.kind {
				t.Fatalf("KindOf(%v) = %q, want %q", err, got, tt.kind)
			}
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestTimeoutIsDistinct(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/session/status/{id}", func(w http.ResponseWriter, req *http.Request) {
		select {
		case <-req.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c := newTestClient(t, r, WithTimeout(50*time.Millisecond))

	_, err := c.SessionStatus(context.Background(), "s-1")
	var timeout *errors.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if timeout.Duration != 50*time.Millisecond {
		t.Errorf("Duration = %v", timeout.Duration)
	}
}

func TestCallerCancellation(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/session/status/{id}", func(w http.ResponseWriter, req *http.Request) {
		<-req.Context().Done()
	})
	c := newTestClient(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.SessionStatus(ctx, "s-1")
	if !errors.Is(err, errors.ErrCanceled) {
		t.Errorf("err = %v, want ErrCanceled", err)
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	err = c.Release(context.Background(), "s-1")
	if errors.KindOf(err) != errors.KindTransport {
		t.Errorf("KindOf(%v) = %q, want transport", err, errors.KindOf(err))
	}
}

func TestDashboardSessionsUsesBulkTimeout(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/dashboard/sessions", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("include_completed") == "true" {
			time.Sleep(100 * time.Millisecond)
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": []map[string]any{
			{"session_id": "s-1", "status": "in_progress", "shipping_method": "UPS"},
		}})
	})
	c := newTestClient(t, r, WithTimeout(50*time.Millisecond), WithBulkTimeout(2*time.Second))

	sessions, err := c.DashboardSessions(context.Background(), true)
	if err != nil {
		t.Fatalf("bulk listing should use the longer deadline: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ShippingMethod != "UPS" {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestAdminOperations(t *testing.T) {
	bodies := map[string]map[string]any{}
	record := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			in := map[string]any{}
			_ = json.NewDecoder(req.Body).Decode(&in)
			bodies[name] = in
			if name == "takeover" {
				writeJSON(w, http.StatusOK, map[string]any{"order_number": "SO1002", "invoice_number": "INV-44-B"})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}
	}
	r := chi.NewRouter()
	r.Post("/api/dashboard/sessions/{id}/force-cancel", record("cancel"))
	r.Post("/api/dashboard/sessions/{id}/force-assign", record("assign"))
	r.Post("/api/dashboard/sessions/{id}/takeover", record("takeover"))
	c := newTestClient(t, r)
	ctx := context.Background()

	if err := c.ForceCancel(ctx, "s-1", ""); err != nil {
		t.Fatalf("ForceCancel: %v", err)
	}
	if _, ok := bodies["cancel"]["reason"]; ok {
		t.Error("empty reason should be omitted")
	}
	if err := c.ForceCancel(ctx, "s-1", "duplicate order"); err != nil {
		t.Fatalf("ForceCancel: %v", err)
	}
	if bodies["cancel"]["reason"] != "duplicate order" {
		t.Errorf("reason = %v", bodies["cancel"]["reason"])
	}
	if err := c.ForceAssign(ctx, "s-1", "bob"); err != nil {
		t.Fatalf("ForceAssign: %v", err)
	}
	if bodies["assign"]["target_user_id"] != "bob" {
		t.Errorf("target = %v", bodies["assign"]["target_user_id"])
	}
	res, err := c.Takeover(ctx, "s-1")
	if err != nil {
		t.Fatalf("Takeover: %v", err)
	}
	if res.OrderNumber != "SO1002" || res.InvoiceNumber != "INV-44-B" {
		t.Errorf("Takeover = %+v", res)
	}
}

func TestSessionHelpers(t *testing.T) {
	s := Session{
		Items: []Item{
			{SKU: "A", QtyInvoiced: decimal.NewFromInt(2), QtyScanned: decimal.NewFromInt(3), IsComplete: true},
			{SKU: "B", QtyInvoiced: decimal.NewFromInt(1), QtyScanned: decimal.Zero},
		},
		CompletedItems: 1,
		TotalItems:     2,
	}
	if !s.Consistent() {
		t.Error("Consistent() = false")
	}
	if over := s.Overpicked(); len(over) != 1 || over[0].SKU != "A" {
		t.Errorf("Overpicked() = %+v", over)
	}
	if s.AllItemsComplete() {
		t.Error("AllItemsComplete() = true with one open item")
	}

	s.CompletedItems = 2
	if s.Consistent() {
		t.Error("Consistent() should catch counter drift")
	}
	if _, ok := s.Item("B"); !ok {
		t.Error("Item(B) not found")
	}
}

func TestSessionDecodesDecimalQuantities(t *testing.T) {
	raw := `{"session_id":"s-1","items":[{"sku":"W","qty_invoiced":2.25,"qty_scanned":"0.5"}],"total_items":1}`
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !s.Items[0].QtyInvoiced.Equal(decimal.RequireFromString("2.25")) {
		t.Errorf("QtyInvoiced = %s", s.Items[0].QtyInvoiced)
	}
	if !s.Items[0].QtyScanned.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("QtyScanned = %s", s.Items[0].QtyScanned)
	}
}

package deeplink

import (
	"context"
	"errors"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		order   string
		invoice string
		want    string
	}{
		{"hyphenated invoice", "", "SO1002", "INV-44-B", "/inventory/order-fulfillment/session-SO1002-INV-44-B"},
		{"plain invoice", DefaultBasePath, "SO500", "INV9", "/inventory/order-fulfillment/session-SO500-INV9"},
		{"custom base with slashes", "/wh/east/", "SO7", "A-B-C-D", "/wh/east/session-SO7-A-B-C-D"},
		{"invoice needing escape", "", "SO8", "INV 1", "/inventory/order-fulfillment/session-SO8-INV%201"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Generate(tt.base, tt.order, tt.invoice)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if p != tt.want {
				t.Errorf("Generate = %q, want %q", p, tt.want)
			}

			link, err := Parse(tt.base, p)
			if err != nil {
				t.Fatalf("Parse(%q): %v", p, err)
			}
			if link.OrderNumber != tt.order || link.InvoiceNumber != tt.invoice {
				t.Errorf("Parse = %+v, want order %q invoice %q", link, tt.order, tt.invoice)
			}
		})
	}
}

func TestGenerateRejects(t *testing.T) {
	tests := []struct {
		order, invoice string
	}{
		{"", "INV1"},
		{"SO-1", "INV1"},
		{"SO/1", "INV1"},
		{"SO1", ""},
		{"SO1", "INV/1"},
	}
	for _, tt := range tests {
		if _, err := Generate("", tt.order, tt.invoice); err == nil {
			t.Errorf("Generate(%q, %q) should fail", tt.order, tt.invoice)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Link
		wantErr bool
	}{
		{"full URL with query", "https://app.example.com/inventory/order-fulfillment/session-SO1-INV-2?tab=items#x", Link{"SO1", "INV-2"}, false},
		{"trailing slash", "/inventory/order-fulfillment/session-SO1-INV2/", Link{"SO1", "INV2"}, false},
		{"wrong base", "/other/session-SO1-INV2", Link{}, true},
		{"base only", "/inventory/order-fulfillment", Link{}, true},
		{"missing prefix", "/inventory/order-fulfillment/SO1-INV2", Link{}, true},
		{"missing invoice", "/inventory/order-fulfillment/session-SO1", Link{}, true},
		{"empty invoice", "/inventory/order-fulfillment/session-SO1-", Link{}, true},
		{"empty order", "/inventory/order-fulfillment/session--INV2", Link{}, true},
		{"nested", "/inventory/order-fulfillment/session-SO1-INV2/items", Link{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse("", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Parse(%q) = %+v, want error", tt.raw, got)
				}
				if IsSessionLink("", tt.raw) {
					t.Errorf("IsSessionLink(%q) = true", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestFollow(t *testing.T) {
	ctx := context.Background()

	t.Run("stays at start", func(t *testing.T) {
		got, err := Follow(ctx, "/a", 0, func(context.Context, string) (Step, error) { return Stay(), nil })
		if err != nil || got != "/a" {
			t.Errorf("Follow = %q, %v", got, err)
		}
	})

	t.Run("follows a chain", func(t *testing.T) {
		next := map[string]string{"/a": "/b", "/b": "/c"}
		got, err := Follow(ctx, "/a", 3, func(_ context.Context, p string) (Step, error) {
			if to, ok := next[p]; ok {
				return RedirectTo(to), nil
			}
			return Stay(), nil
		})
		if err != nil || got != "/c" {
			t.Errorf("Follow = %q, %v, want /c", got, err)
		}
	})

	t.Run("detects loops", func(t *testing.T) {
		next := map[string]string{"/a": "/b", "/b": "/a"}
		_, err := Follow(ctx, "/a", 10, func(_ context.Context, p string) (Step, error) {
			return RedirectTo(next[p]), nil
		})
		if !errors.Is(err, ErrRedirectLoop) {
			t.Errorf("err = %v, want ErrRedirectLoop", err)
		}
	})

	t.Run("bounds hops", func(t *testing.T) {
		n := 0
		_, err := Follow(ctx, "/0", 2, func(_ context.Context, p string) (Step, error) {
			n++
			return RedirectTo(p + "x"), nil
		})
		if !errors.Is(err, ErrTooManyRedirects) {
			t.Errorf("err = %v, want ErrTooManyRedirects", err)
		}
		if n != 3 {
			t.Errorf("resolver called %d times, want 3", n)
		}
	})

	t.Run("propagates resolver errors", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := Follow(ctx, "/a", 0, func(context.Context, string) (Step, error) { return Step{}, boom })
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want boom", err)
		}
	})

	t.Run("honors cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Follow(cctx, "/a", 0, func(context.Context, string) (Step, error) {
			t.Error("resolver should not run after cancel")
			return Stay(), nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

package dashboard

import (
	"testing"
	"time"

	"github.com/Iron-Ham/packline/internal/api"
)

func TestGroupBy(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sessions := []api.Session{
		{SessionID: "a", ShippingMethod: "ground", CreatedAt: base},
		{SessionID: "b", ShippingMethod: "", CreatedAt: base},
		{SessionID: "c", ShippingMethod: "express", CreatedAt: base},
		{SessionID: "d", ShippingMethod: "ground", CreatedAt: base.Add(time.Hour)},
	}

	groups := GroupBy(sessions, ByShippingMethod)

	want := []struct {
		key string
		ids []string
	}{
		{key: "express", ids: []string{"c"}},
		{key: "ground", ids: []string{"d", "a"}},
		{key: Unspecified, ids: []string{"b"}},
	}
	if len(groups) != len(want) {
		t.Fatalf("got %d groups, want %d", len(groups), len(want))
	}
	for i, w := range want {
		g := groups[i]
		if g.Key != w.key {
			t.Errorf("group %d key = %q, want %q", i, g.Key, w.key)
			continue
		}
		if len(g.Sessions) != len(w.ids) {
			t.Errorf("group %q has %d sessions, want %d", g.Key, len(g.Sessions), len(w.ids))
			continue
		}
		for j, id := range w.ids {
			if g.Sessions[j].SessionID != id {
				t.Errorf("group %q[%d] = %s, want %s", g.Key, j, g.Sessions[j].SessionID, id)
			}
		}
	}
}

func TestGroupByEmpty(t *testing.T) {
	if groups := GroupBy(nil, ByStatus); len(groups) != 0 {
		t.Errorf("groups = %v", groups)
	}
}

func TestGroupByOwner(t *testing.T) {
	groups := GroupBy([]api.Session{
		{SessionID: "a", CurrentOwner: "zed"},
		{SessionID: "b", CurrentOwner: "amy"},
	}, ByOwner)
	if len(groups) != 2 || groups[0].Key != "amy" || groups[1].Key != "zed" {
		t.Errorf("groups = %+v", groups)
	}
}

func TestKeyFuncFor(t *testing.T) {
	s := api.Session{ShippingMethod: "express", Status: api.StatusDraft, CurrentOwner: "amy"}
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{name: "", want: "express", ok: true},
		{name: "shipping_method", want: "express", ok: true},
		{name: "status", want: "draft", ok: true},
		{name: "owner", want: "amy", ok: true},
		{name: "warehouse", ok: false},
	}
	for _, tt := range tests {
		fn, ok := KeyFuncFor(tt.name)
		if ok != tt.ok {
			t.Errorf("KeyFuncFor(%q) ok = %v, want %v", tt.name, ok, tt.ok)
			continue
		}
		if ok && fn(s) != tt.want {
			t.Errorf("KeyFuncFor(%q)(s) = %q, want %q", tt.name, fn(s), tt.want)
		}
	}
}

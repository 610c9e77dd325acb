package dashboard

import (
	"cmp"
	"slices"

	"github.com/Iron-Ham/packline/internal/api"
)

// Unspecified labels sessions whose grouping key is empty.
const Unspecified = "Unspecified"

// Group is a display bucket of sessions sharing one key.
type Group struct {
	Key      string
	Sessions []api.Session
}

// KeyFunc picks the grouping key of a session.
type KeyFunc func(api.Session) string

// ByShippingMethod groups by shipping method.
func ByShippingMethod(s api.Session) string { return s.ShippingMethod }

// ByStatus groups by lifecycle status.
func ByStatus(s api.Session) string { return string(s.Status) }

// ByOwner groups by current owner.
func ByOwner(s api.Session) string { return s.CurrentOwner }

// KeyFuncFor returns the grouping named by a config value: "shipping_method",
// "status" or "owner".
func KeyFuncFor(name string) (KeyFunc, bool) {
	switch name {
	case "shipping_method", "":
		return ByShippingMethod, true
	case "status":
		return ByStatus, true
	case "owner":
		return ByOwner, true
	}
	return nil, false
}

// GroupBy buckets sessions by key. Groups are sorted by key with the
// Unspecified group last; sessions inside a group are newest first.
func GroupBy(sessions []api.Session, key KeyFunc) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, s := range sessions {
		k := key(s)
		if k == "" {
			k = Unspecified
		}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{Key: k})
		}
		groups[i].Sessions = append(groups[i].Sessions, s)
	}

	slices.SortFunc(groups, func(a, b Group) int {
		switch {
		case a.Key == b.Key:
			return 0
		case a.Key == Unspecified:
			return 1
		case b.Key == Unspecified:
			return -1
		}
		return cmp.Compare(a.Key, b.Key)
	})
	for i := range groups {
		slices.SortStableFunc(groups[i].Sessions, func(a, b api.Session) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		})
	}
	return groups
}

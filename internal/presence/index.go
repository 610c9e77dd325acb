package presence

import (
	"cmp"
	"slices"
	"sort"
)

// Cell addresses one editable field of one inventory row.
type Cell struct {
	SKU   string
	Field string
}

// IsZero reports whether c addresses nothing.
func (c Cell) IsZero() bool {
	return c.SKU == "" || c.Field == ""
}

// LockIndex maps cells to the users focused on them and users to the one
// cell each holds. Locks are advisory; they never block a write.
//
// Move is the only function that mutates the index, so the two directions
// cannot drift apart. LockIndex is not safe for concurrent use.
type LockIndex struct {
	byCell map[Cell]map[string]struct{}
	byUser map[string]Cell
}

// NewLockIndex returns an empty index.
func NewLockIndex() *LockIndex {
	return &LockIndex{
		byCell: make(map[Cell]map[string]struct{}),
		byUser: make(map[string]Cell),
	}
}

// Move puts userID on cell to, releasing whatever cell it held before. A
// zero cell releases without acquiring. It returns the previously held
// cell and whether anything changed.
func (x *LockIndex) Move(userID string, to Cell) (from Cell, changed bool) {
	if to.IsZero() {
		to = Cell{}
	}
	from, held := x.byUser[userID]
	if held && from == to {
		return from, false
	}
	if held {
		holders := x.byCell[from]
		delete(holders, userID)
		if len(holders) == 0 {
			delete(x.byCell, from)
		}
		delete(x.byUser, userID)
	}
	if !to.IsZero() {
		holders := x.byCell[to]
		if holders == nil {
			holders = make(map[string]struct{})
			x.byCell[to] = holders
		}
		holders[userID] = struct{}{}
		x.byUser[userID] = to
	}
	return from, held || !to.IsZero()
}

// Retain releases every user for which keep returns false.
func (x *LockIndex) Retain(keep func(userID string) bool) {
	for _, user := range x.Users() {
		if !keep(user) {
			x.Move(user, Cell{})
		}
	}
}

// Reset releases every lock.
func (x *LockIndex) Reset() {
	x.Retain(func(string) bool { return false })
}

// Holders returns the users focused on c, sorted.
func (x *LockIndex) Holders(c Cell) []string {
	holders := x.byCell[c]
	out := make([]string, 0, len(holders))
	for user := range holders {
		out = append(out, user)
	}
	sort.Strings(out)
	return out
}

// CellOf returns the cell userID holds.
func (x *LockIndex) CellOf(userID string) (Cell, bool) {
	c, ok := x.byUser[userID]
	return c, ok
}

// Users returns every user holding a lock, sorted.
func (x *LockIndex) Users() []string {
	out := make([]string, 0, len(x.byUser))
	for user := range x.byUser {
		out = append(out, user)
	}
	sort.Strings(out)
	return out
}

// Cells returns every locked cell, sorted by SKU then field.
func (x *LockIndex) Cells() []Cell {
	out := make([]Cell, 0, len(x.byCell))
	for c := range x.byCell {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Cell) int {
		if c := cmp.Compare(a.SKU, b.SKU); c != 0 {
			return c
		}
		return cmp.Compare(a.Field, b.Field)
	})
	return out
}

// Len returns the number of users holding a lock.
func (x *LockIndex) Len() int {
	return len(x.byUser)
}

package api

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionType is the kind of fulfillment work a session performs.
type SessionType string

const (
	SessionPick   SessionType = "pick"
	SessionReturn SessionType = "return"
)

// Valid reports whether t is a known session type.
func (t SessionType) Valid() bool {
	return t == SessionPick || t == SessionReturn
}

// Status is the server-side lifecycle status of a session.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CheckStatus is the answer to a pre-flight session check for an order.
// It extends Status with "none" (no session exists yet).
type CheckStatus string

const (
	CheckNone       CheckStatus = "none"
	CheckDraft      CheckStatus = "draft"
	CheckInProgress CheckStatus = "in_progress"
	CheckCompleted  CheckStatus = "completed"
	CheckCancelled  CheckStatus = "cancelled"
)

// Item is one invoice line inside a session. Quantities may be fractional
// for weighted units.
type Item struct {
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	QtyInvoiced decimal.Decimal `json:"qty_invoiced"`
	QtyScanned  decimal.Decimal `json:"qty_scanned"`
	IsComplete  bool            `json:"is_complete"`
}

// Overpicked reports whether more was scanned than invoiced.
func (i Item) Overpicked() bool {
	return i.QtyScanned.GreaterThan(i.QtyInvoiced)
}

// AuditLogEntry is one server-recorded action on a session.
type AuditLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	User      string    `json:"user"`
	Details   string    `json:"details,omitempty"`
}

// Session is the authoritative server view of a fulfillment session.
type Session struct {
	SessionID          string          `json:"session_id"`
	OrderNumber        string          `json:"order_number"`
	InvoiceNumber      string          `json:"invoice_number"`
	SessionType        SessionType     `json:"session_type"`
	Status             Status          `json:"status"`
	CurrentOwner       string          `json:"current_owner,omitempty"`
	CreatedBy          string          `json:"created_by,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	LastModifiedBy     string          `json:"last_modified_by,omitempty"`
	LastModifiedAt     time.Time       `json:"last_modified_at"`
	ShippingMethod     string          `json:"shipping_method,omitempty"`
	Items              []Item          `json:"items"`
	CompletedItems     int             `json:"completed_items"`
	TotalItems         int             `json:"total_items"`
	ProgressPercentage decimal.Decimal `json:"progress_percentage"`
	AuditLogs          []AuditLogEntry `json:"audit_logs,omitempty"`
}

// Consistent reports whether the item counters agree with the item list.
func (s *Session) Consistent() bool {
	if s.TotalItems != len(s.Items) {
		return false
	}
	complete := 0
	for _, it := range s.Items {
		if it.IsComplete {
			complete++
		}
	}
	return complete == s.CompletedItems
}

// Overpicked returns the items whose scanned quantity exceeds the invoice.
func (s *Session) Overpicked() []Item {
	var out []Item
	for _, it := range s.Items {
		if it.Overpicked() {
			out = append(out, it)
		}
	}
	return out
}

// AllItemsComplete mirrors the server's completion rule.
func (s *Session) AllItemsComplete() bool {
	return s.CompletedItems == s.TotalItems
}

// Item returns the line for sku, if present.
func (s *Session) Item(sku string) (Item, bool) {
	for _, it := range s.Items {
		if it.SKU == sku {
			return it, true
		}
	}
	return Item{}, false
}

// CheckResult is the response of GET session/check/{order_number}.
type CheckResult struct {
	Status    CheckStatus `json:"status"`
	User      string      `json:"user,omitempty"`
	CanClaim  bool        `json:"can_claim,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
}

// ScanRequest is the body of POST session/scan.
type ScanRequest struct {
	SessionID string
	SKU       string
	Quantity  decimal.Decimal
	Field     string
}

// ScanResult is the response of POST session/scan.
type ScanResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	IsOverpicked bool   `json:"is_overpicked"`
}

// TakeoverResult is the response of POST dashboard/sessions/{id}/takeover.
// Either field may be empty when the server does not know them.
type TakeoverResult struct {
	OrderNumber   string `json:"order_number,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
}

// Package deeplink builds and parses session-scoped URLs of the form
// {base_path}/session-{order_number}-{invoice_number}, and follows chains
// of fallback redirects with a bounded number of hops.
package deeplink

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Iron-Ham/packline/internal/errors"
)

// DefaultBasePath is where fulfillment pages live when none is configured.
const DefaultBasePath = "/inventory/order-fulfillment"

const segmentPrefix = "session-"

// Link identifies a session by the order and invoice it fulfills.
type Link struct {
	OrderNumber   string
	InvoiceNumber string
}

// NormalizeBase returns base with a leading slash and no trailing slash.
// An empty base yields DefaultBasePath.
func NormalizeBase(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return DefaultBasePath
	}
	base = "/" + strings.Trim(base, "/")
	if base == "/" {
		return ""
	}
	return base
}

// Generate returns the deep-link path for a session. The order number may
// not contain a hyphen, since parsing splits on the first one; the invoice
// number may.
func Generate(base, orderNumber, invoiceNumber string) (string, error) {
	switch {
	case orderNumber == "":
		return "", errors.NewValidationError("order number is required").WithField("order_number")
	case strings.ContainsAny(orderNumber, "-/"):
		return "", errors.NewValidationError("order number cannot contain '-' or '/'").
			WithField("order_number").
			WithValue(orderNumber)
	case invoiceNumber == "":
		return "", errors.NewValidationError("invoice number is required").WithField("invoice_number")
	case strings.Contains(invoiceNumber, "/"):
		return "", errors.NewValidationError("invoice number cannot contain '/'").
			WithField("invoice_number").
			WithValue(invoiceNumber)
	}
	segment := segmentPrefix + orderNumber + "-" + invoiceNumber
	return NormalizeBase(base) + "/" + url.PathEscape(segment), nil
}

// MustGenerate is Generate for values already known to be valid.
func MustGenerate(base, orderNumber, invoiceNumber string) string {
	p, err := Generate(base, orderNumber, invoiceNumber)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse extracts the order and invoice numbers from a deep link. raw may be
// a bare path or a full URL; query and fragment are ignored.
func Parse(base, raw string) (Link, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Link{}, errors.NewValidationError("malformed deep link").WithValue(raw).WithCause(err)
	}
	p := strings.TrimRight(u.EscapedPath(), "/")

	prefix := NormalizeBase(base) + "/"
	if !strings.HasPrefix(p, prefix) {
		return Link{}, errors.NewValidationError(fmt.Sprintf("deep link must start with %s", prefix)).WithValue(raw)
	}
	segment, err := url.PathUnescape(strings.TrimPrefix(p, prefix))
	if err != nil {
		return Link{}, errors.NewValidationError("malformed deep link").WithValue(raw).WithCause(err)
	}
	if strings.Contains(segment, "/") || !strings.HasPrefix(segment, segmentPrefix) {
		return Link{}, errors.NewValidationError("not a session deep link").WithValue(raw)
	}

	order, invoice, ok := strings.Cut(strings.TrimPrefix(segment, segmentPrefix), "-")
	if !ok || order == "" || invoice == "" {
		return Link{}, errors.NewValidationError("deep link must name an order and an invoice").WithValue(raw)
	}
	return Link{OrderNumber: order, InvoiceNumber: invoice}, nil
}

// IsSessionLink reports whether raw parses as a session deep link.
func IsSessionLink(base, raw string) bool {
	_, err := Parse(base, raw)
	return err == nil
}

// DefaultMaxHops bounds Follow when the caller passes zero.
const DefaultMaxHops = 5

var (
	// ErrTooManyRedirects is returned when Follow exhausts its hop budget.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrRedirectLoop is returned when a redirect revisits a path.
	ErrRedirectLoop = errors.New("redirect loop")
)

// Step is a Resolver's verdict on one path: stay, or redirect elsewhere.
type Step struct {
	Redirect string
}

// Stay ends the walk at the current path.
func Stay() Step { return Step{} }

// RedirectTo continues the walk at path.
func RedirectTo(path string) Step { return Step{Redirect: path} }

// Resolver decides what happens at a path.
type Resolver func(ctx context.Context, path string) (Step, error)

// Follow starts at start and applies resolve until it stays put, returning
// the final path. A path is never visited twice.
func Follow(ctx context.Context, start string, maxHops int, resolve Resolver) (string, error) {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	visited := map[string]bool{start: true}
	current := start
	for hop := 0; ; hop++ {
		if err := ctx.Err(); err != nil {
			return current, err
		}
		step, err := resolve(ctx, current)
		if err != nil {
			return current, err
		}
		if step.Redirect == "" {
			return current, nil
		}
		if hop >= maxHops {
			return current, fmt.Errorf("%w: gave up at %s after %d hops", ErrTooManyRedirects, step.Redirect, maxHops)
		}
		if visited[step.Redirect] {
			return current, fmt.Errorf("%w: %s -> %s", ErrRedirectLoop, current, step.Redirect)
		}
		visited[step.Redirect] = true
		current = step.Redirect
	}
}

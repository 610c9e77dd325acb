package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestSeverityString(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionError(t *testing.T) {
	t.Run("formats context", func(t *testing.T) {
		err := NewSessionError("cannot scan", ErrSessionRevoked).WithSessionID("s-1").WithOrder("SO1002")
		want := "session error [session=s-1, order=SO1002]: cannot scan: session revoked"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})

	t.Run("matches cause and type", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", NewSessionError("x", ErrSessionRevoked))
		if !Is(err, ErrSessionRevoked) {
			t.Error("expected Is(err, ErrSessionRevoked)")
		}
		var sessionErr *SessionError
		if !As(err, &sessionErr) {
			t.Error("expected As to find *SessionError")
		}
	})
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("quantity must be positive").WithField("quantity").WithValue("0")
	want := "validation error [field=quantity, value=0]: quantity must be positive"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !Is(err, ErrInvalidInput) {
		t.Error("ValidationError should match ErrInvalidInput")
	}
	if IsRetryable(err) {
		t.Error("ValidationError should not be retryable")
	}
}

func TestConflictError(t *testing.T) {
	err := NewConflictError("session already completed").WithCode("already_completed").WithStatus(409)
	if err.Error() != "conflict [already_completed]: session already completed" {
		t.Errorf("Error() = %q", err.Error())
	}
	if IsRetryable(err) {
		t.Error("ConflictError should not be retryable")
	}
	if err.StatusCode != 409 {
		t.Errorf("StatusCode = %d, want 409", err.StatusCode)
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("GET session/status/s-1", 60*time.Second)
	if err.Error() != "timeout error: GET session/status/s-1 (timeout: 1m0s)" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !Is(err, ErrTimeout) {
		t.Error("TimeoutError should match ErrTimeout")
	}
	if !IsRetryable(err) {
		t.Error("TimeoutError should be retryable")
	}
}

func TestHTTPErrorRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{500, true},
		{503, true},
		{429, true},
		{404, false},
		{400, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := NewHTTPError("GET x", tt.status, "boom")
			if got := err.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthError(t *testing.T) {
	if !Is(NewAuthError(401, ""), ErrUnauthorized) {
		t.Error("401 should wrap ErrUnauthorized")
	}
	if !Is(NewAuthError(403, "admin only"), ErrForbidden) {
		t.Error("403 should wrap ErrForbidden")
	}
	if GetSeverity(NewAuthError(401, "")) != SeverityCritical {
		t.Error("auth errors should be critical")
	}
}

func TestNotFoundErrorMatchesSessionSentinel(t *testing.T) {
	if !Is(NewNotFoundError("session", "s-9"), ErrSessionNotFound) {
		t.Error("session NotFoundError should match ErrSessionNotFound")
	}
	if Is(NewNotFoundError("order", "SO1"), ErrSessionNotFound) {
		t.Error("order NotFoundError should not match ErrSessionNotFound")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"validation", NewValidationError("x"), KindValidation},
		{"conflict", NewConflictError("x"), KindConflict},
		{"not found", NewNotFoundError("session", "s"), KindConflict},
		{"session", NewSessionError("x", ErrSessionReleased).WithSessionID("s-1"), KindConflict},
		{"timeout", NewTimeoutError("op", time.Second), KindTimeout},
		{"wrapped timeout", Wrap(NewTimeoutError("op", time.Second), "scan"), KindTimeout},
		{"transport", NewTransportError("op", New("reset")), KindTransport},
		{"http", NewHTTPError("op", 500, ""), KindTransport},
		{"auth", NewAuthError(401, ""), KindAuth},
		{"declined", Wrap(ErrDeclined, "cancel"), KindDeclined},
		{"plain", New("plain"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(NewConflictError("already completed").WithCode("x")); got != "already completed" {
		t.Errorf("UserMessage() = %q", got)
	}
	if got := UserMessage(Wrap(NewSessionError("This session was cancelled", ErrSessionCancelled).WithOrder("SO1"), "scan")); got != "This session was cancelled" {
		t.Errorf("UserMessage() = %q", got)
	}
	if got := UserMessage(New("internal")); got != "An unexpected error occurred" {
		t.Errorf("UserMessage() = %q", got)
	}
	if got := UserMessage(nil); got != "" {
		t.Errorf("UserMessage(nil) = %q", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	err := Wrapf(ErrBusy, "scan %s", "SKU-1")
	if err.Error() != "scan SKU-1: request already in progress" {
		t.Errorf("Wrapf() = %q", err.Error())
	}
	if !Is(err, ErrBusy) {
		t.Error("wrapped error should match ErrBusy")
	}
}

package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestToDomainErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"not found", fmt.Errorf("load ticket: %w", ErrRecordNotFound), CodeNotFound, http.StatusNotFound},
		{"conflict", ErrVersionConflict, CodeConflict, http.StatusConflict},
		{"closed", ErrStoreClosed, CodeUnavailable, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, CodeUnavailable, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			de := ToDomainError(tc.err)
			if de.Code != tc.code || de.HTTPStatus != tc.status {
				t.Fatalf("got %s/%d, want %s/%d", de.Code, de.HTTPStatus, tc.code, tc.status)
			}
		})
	}
	if ToDomainError(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestWrappedDomainErrorKeepsCode(t *testing.T) {
	err := fmt.Errorf("apply: %w", NewInvalidTransition("queue", "resolved", nil))
	if !HasCode(err, CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
	de := ToDomainError(err)
	if de.HTTPStatus != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status %d", de.HTTPStatus)
	}
	if de.Details["from"] != "queue" || de.Details["to"] != "resolved" {
		t.Fatalf("unexpected details %v", de.Details)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrVersionConflict) || !IsRetryable(NewUnavailable("down", nil)) {
		t.Fatalf("conflicts and unavailability are retryable")
	}
	if !IsRetryable(fmt.Errorf("update: %w", MapError(ErrVersionConflict))) {
		t.Fatalf("mapped concurrent modification must stay retryable")
	}
	if IsRetryable(NewForbidden("no")) || IsRetryable(nil) {
		t.Fatalf("forbidden and nil are not retryable")
	}
	if IsRetryable(NewConflict("separation already confirmed", nil)) {
		t.Fatalf("rule conflicts are final")
	}
}

func TestUnavailableUnwraps(t *testing.T) {
	cause := errors.New("dial tcp")
	err := NewUnavailable("storage unavailable", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to unwrap")
	}
	if err.Error() != "storage unavailable: dial tcp" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

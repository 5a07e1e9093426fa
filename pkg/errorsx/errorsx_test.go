package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonStreamRemote)
	if Reason(err) != ReasonStreamRemote {
		t.Fatalf("expected reason %s, got %s", ReasonStreamRemote, Reason(err))
	}
	if !HasReason(err, ReasonStreamRemote) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonChannelConnect)
	second := Wrap(first, ReasonChannelExhausted)
	if Reason(second) != ReasonChannelConnect {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestReasonSurvivesFmtWrapping(t *testing.T) {
	err := fmt.Errorf("session: %w", Wrap(assertErr{}, ReasonMicUnavailable))
	if !HasReason(err, ReasonMicUnavailable) {
		t.Fatalf("expected reason through fmt wrap, got %s", Reason(err))
	}
	var target assertErr
	if !errors.As(err, &target) {
		t.Fatalf("expected underlying error to unwrap")
	}
}

func TestNilAndPlainErrors(t *testing.T) {
	if Wrap(nil, ReasonStreamHTTP) != nil {
		t.Fatalf("wrap of nil must be nil")
	}
	if Reason(errors.New("plain")) != ReasonUnknown {
		t.Fatalf("plain errors have unknown reason")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

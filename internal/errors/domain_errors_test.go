package errors

import (
	stdErrors "errors"
	"testing"
)

func TestInvariantViolationClassification(t *testing.T) {
	iv := NewInvariantViolation("INV-AUTHORITY-ATOMIC-FRAME-TRANSFER-VIOLATED", "swap.commit", nil)
	if !IsInvariantViolation(iv) {
		t.Fatalf("expected IsInvariantViolation=true")
	}
	var typed *InvariantViolation
	if !stdErrors.As(iv, &typed) {
		t.Fatalf("expected errors.As to *InvariantViolation")
	}
	if typed.Tag != "INV-AUTHORITY-ATOMIC-FRAME-TRANSFER-VIOLATED" {
		t.Fatalf("unexpected tag: %s", typed.Tag)
	}
	if IsInvariantViolation(stdErrors.New("plain")) {
		t.Fatalf("plain error must not classify as invariant violation")
	}
}

func TestSpoolFullClassification(t *testing.T) {
	sf := NewSpoolFull("evidence.append", nil)
	if !IsSpoolFull(sf) {
		t.Fatalf("expected IsSpoolFull=true")
	}
	if IsSpoolFull(stdErrors.New("plain")) {
		t.Fatalf("plain error must not classify as spool full")
	}
}

func TestDomainErrorStringsNonEmpty(t *testing.T) {
	cases := []error{
		NewValidationError("plan.validate", nil),
		NewResourceError("ring.push", nil),
		NewDecodeError("producer.pump", nil),
		NewOpenError("producer.open", nil),
		NewSeekError("producer.seek", nil),
	}
	for _, err := range cases {
		if err.Error() == "" {
			t.Fatalf("empty error string for %T", err)
		}
	}
}

func TestDomainErrorsUnwrap(t *testing.T) {
	root := stdErrors.New("root cause")
	wrapped := NewDecodeError("producer.pump", root)
	if !stdErrors.Is(wrapped, root) {
		t.Fatalf("expected errors.Is to reach root cause through DecodeError")
	}
}

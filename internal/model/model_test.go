package model

import (
	"regexp"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []string{StateComplete, StateExecutorError, StateSystemError, StateCanceled}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = false, want true", s)
		}
	}
	active := []string{StateQueued, StateInitializing, StateRunning, StatePaused, StateCanceling, StateUnknown}
	for _, s := range active {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = true, want false", s)
		}
	}
}

func TestValidTransitionForwardOnly(t *testing.T) {
	allowed := []struct{ from, to string }{
		{StateQueued, StateInitializing},
		{StateQueued, StateCanceling},
		{StateQueued, StateSystemError},
		{StateInitializing, StateRunning},
		{StateInitializing, StateComplete},
		{StateRunning, StateComplete},
		{StateRunning, StatePaused},
		{StatePaused, StateRunning},
		{StateRunning, StateExecutorError},
		{StateCanceling, StateCanceled},
		{StateCanceling, StateComplete},
		// Out-of-band backend cancel: terminal report without CANCELING.
		{StateInitializing, StateCanceled},
		{StateRunning, StateCanceled},
		{StatePaused, StateCanceled},
	}
	for _, tr := range allowed {
		if !ValidTransition(tr.from, tr.to) {
			t.Errorf("ValidTransition(%q, %q) = false, want true", tr.from, tr.to)
		}
	}

	forbidden := []struct{ from, to string }{
		{StateRunning, StateQueued},
		{StateInitializing, StateQueued},
		{StateComplete, StateRunning},
		{StateCanceled, StateCanceling},
		{StateSystemError, StateQueued},
		{StateExecutorError, StateComplete},
		{StateCanceling, StateRunning},
		{StateQueued, StateUnknown},
		{StateRunning, StateUnknown},
		// Unsubmitted runs are finalized through CANCELING, never directly.
		{StateQueued, StateCanceled},
	}
	for _, tr := range forbidden {
		if ValidTransition(tr.from, tr.to) {
			t.Errorf("ValidTransition(%q, %q) = true, want false", tr.from, tr.to)
		}
	}
}

func TestNoTransitionOutOfTerminal(t *testing.T) {
	all := []string{
		StateQueued, StateInitializing, StateRunning, StatePaused, StateComplete,
		StateExecutorError, StateSystemError, StateCanceling, StateCanceled, StateUnknown,
	}
	for _, from := range all {
		if !IsTerminal(from) {
			continue
		}
		for _, to := range all {
			if ValidTransition(from, to) {
				t.Errorf("terminal state %q allows transition to %q", from, to)
			}
		}
	}
}

func TestCancelable(t *testing.T) {
	for _, s := range []string{StateQueued, StateInitializing, StateRunning, StatePaused} {
		if !Cancelable(s) {
			t.Errorf("Cancelable(%q) = false, want true", s)
		}
	}
	for _, s := range []string{StateCanceling, StateCanceled, StateComplete, StateSystemError, StateExecutorError} {
		if Cancelable(s) {
			t.Errorf("Cancelable(%q) = true, want false", s)
		}
	}
}

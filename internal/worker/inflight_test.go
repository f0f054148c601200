package worker

import (
	"testing"
	"time"
)

func TestInFlightDeduperAcquireRelease(t *testing.T) {
	d := NewInFlightDeduper(time.Minute, 4)

	if err := d.TryAcquire("step-1"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := d.TryAcquire("step-1"); err != ErrDuplicateInFlight {
		t.Fatalf("second acquire got=%v want=ErrDuplicateInFlight", err)
	}
	// other keys are unaffected
	if err := d.TryAcquire("step-2"); err != nil {
		t.Fatalf("independent key: %v", err)
	}

	d.Release("step-1")
	if err := d.TryAcquire("step-1"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestInFlightDeduperTTLExpiry(t *testing.T) {
	d := NewInFlightDeduper(10*time.Millisecond, 4)

	if err := d.TryAcquire("step-1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := d.TryAcquire("step-1"); err != nil {
		t.Fatalf("expired token must be reclaimable, got %v", err)
	}
}

func TestInFlightDeduperEmptyKey(t *testing.T) {
	d := NewInFlightDeduper(time.Minute, 4)
	if err := d.TryAcquire(""); err != nil {
		t.Fatalf("empty key is a no-op, got %v", err)
	}
	if err := d.TryAcquire(""); err != nil {
		t.Fatalf("empty key never dedups, got %v", err)
	}
}

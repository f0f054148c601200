package shutdown

import (
	"context"
	"testing"
	"time"
)

func TestShutdownRunsHooksInReverseOrder(t *testing.T) {
	m := NewManager()
	var order []string
	for _, name := range []string{"store", "server", "worker"} {
		n := name
		m.OnShutdown(n, func(ctx context.Context) error {
			order = append(order, n)
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Shutdown(ctx)

	want := []string{"worker", "server", "store"}
	if len(order) != len(want) {
		t.Fatalf("hooks run got=%d want=%d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order got=%v want=%v", order, want)
		}
	}
}

func TestShutdownSkipsRemainingAfterDeadline(t *testing.T) {
	m := NewManager()
	ran := false
	m.OnShutdown("never", func(ctx context.Context) error {
		ran = true
		return nil
	})
	m.OnShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	m.Shutdown(ctx)

	if ran {
		t.Fatal("hooks after the deadline must be skipped")
	}
}

func TestShutdownNilHookIgnored(t *testing.T) {
	m := NewManager()
	m.OnShutdown("nil", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Shutdown(ctx) // 不应 panic
}

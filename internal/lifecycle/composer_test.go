package lifecycle

import (
	"reflect"
	"testing"

	"github.com/futbot/gofut/internal/step"
)

func TestComposerAppendDoesNotMutate(t *testing.T) {
	base := NewComposer("trading").
		Append(step.Spec{Handler: "a"})

	one := base.Append(step.Spec{Handler: "b"})
	two := base.Append(step.Spec{Handler: "c"})

	if got := one.Steps(); len(got) != 2 || got[1].Handler != "b" {
		t.Fatalf("branch one got=%+v", got)
	}
	if got := two.Steps(); len(got) != 2 || got[1].Handler != "c" {
		t.Fatalf("branch two corrupted by branch one: %+v", got)
	}
	if got := base.Steps(); len(got) != 1 {
		t.Fatalf("base mutated: %+v", got)
	}
}

func TestComposerResolveIsLastAndTyped(t *testing.T) {
	c := NewComposer("trading").
		Append(step.Spec{Handler: "work"}).
		WithResolve(step.Spec{Handler: "compensate"}).
		Append(step.Spec{Handler: "more"})

	steps := c.Steps()
	if len(steps) != 3 {
		t.Fatalf("steps got=%d want=3", len(steps))
	}
	last := steps[len(steps)-1]
	if last.Handler != "compensate" || last.Type != step.TypeResolveException {
		t.Fatalf("resolve step got=%+v", last)
	}
	for _, s := range steps[:2] {
		if s.Type == step.TypeResolveException {
			t.Fatalf("normal step typed as resolve: %+v", s)
		}
	}
}

func TestComposerDefaultQueue(t *testing.T) {
	c := NewComposer("trading").
		Append(step.Spec{Handler: "a"}).
		Append(step.Spec{Handler: "b", Queue: "slow"})

	steps := c.Steps()
	if steps[0].Queue != "trading" {
		t.Fatalf("queue got=%s want=trading", steps[0].Queue)
	}
	if steps[1].Queue != "slow" {
		t.Fatalf("explicit queue overridden: got=%s", steps[1].Queue)
	}
}

func TestWorkflowsAreReferentiallyTransparent(t *testing.T) {
	p := WorkflowParams{
		PositionID: "pos-1",
		Venue:      "binance",
		AccountID:  "main",
		Levels:     5,
		StartBps:   10,
		EndBps:     40,
	}
	compose := []func(WorkflowParams) Composer{
		OpenWorkflow, CloseWorkflow, CancelWorkflow, ApplyWAPWorkflow,
	}
	for i, fn := range compose {
		a := fn(p).Steps()
		b := fn(p).Steps()
		if !reflect.DeepEqual(a, b) {
			t.Errorf("workflow %d: composing twice produced different steps", i)
		}
	}
}

func TestOpenWorkflowShape(t *testing.T) {
	steps := OpenWorkflow(WorkflowParams{
		PositionID: "pos-1", Venue: "bybit", AccountID: "main",
	}).Steps()

	wantHandlers := []string{
		"position.claim",
		"futures.set_leverage",
		"futures.set_margin_mode",
		"futures.place_entry_ladder",
		"futures.sync_fills",
		"futures.verify_filled",
		"position.finalize",
		"position.resolve_failure",
	}
	if len(steps) != len(wantHandlers) {
		t.Fatalf("steps got=%d want=%d", len(steps), len(wantHandlers))
	}
	for i, want := range wantHandlers {
		if steps[i].Handler != want {
			t.Errorf("step %d handler got=%s want=%s", i, steps[i].Handler, want)
		}
		if steps[i].Venue != "bybit" || steps[i].AccountID != "main" {
			t.Errorf("step %d missing venue/account: %+v", i, steps[i])
		}
	}
	if steps[len(steps)-1].Type != step.TypeResolveException {
		t.Fatal("last step must be the compensation step")
	}
}

func TestCloseWorkflowShape(t *testing.T) {
	steps := CloseWorkflow(WorkflowParams{
		PositionID: "pos-1", Venue: "binance", AccountID: "main",
	}).Steps()

	wantHandlers := []string{
		"position.claim",
		"futures.cancel_orders",
		"futures.close_position",
		"futures.verify_flat",
		"position.finalize",
		"position.resolve_failure",
	}
	if len(steps) != len(wantHandlers) {
		t.Fatalf("steps got=%d want=%d", len(steps), len(wantHandlers))
	}
	for i, want := range wantHandlers {
		if steps[i].Handler != want {
			t.Errorf("step %d handler got=%s want=%s", i, steps[i].Handler, want)
		}
	}
}

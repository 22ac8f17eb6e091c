package timeline

import "testing"

func TestReconcilerAccumulatesInOrder(t *testing.T) {
	var r Reconciler
	r.Start("m1")
	r.Append("Hi")
	r.Append(" there")

	if got := r.Buffer(); got != "Hi there" {
		t.Fatalf("expected buffer %q, got %q", "Hi there", got)
	}
	if got := r.Complete(); got != "Hi there" {
		t.Fatalf("expected final %q, got %q", "Hi there", got)
	}
	if r.Open() {
		t.Fatal("session should be closed after Complete")
	}
}

func TestReconcilerNoopWhenClosed(t *testing.T) {
	var r Reconciler
	r.Append("late chunk")
	if got := r.Complete(); got != "" {
		t.Fatalf("expected empty final, got %q", got)
	}

	r.Start("m1")
	r.Abort()
	r.Append("after abort")
	if got := r.Buffer(); got != "" {
		t.Fatalf("expected empty buffer after abort, got %q", got)
	}
}

func TestReconcilerStartSupersedesOpenSession(t *testing.T) {
	var r Reconciler
	r.Start("m1")
	r.Append("old")
	r.Start("m2")

	if got := r.Target(); got != "m2" {
		t.Fatalf("expected target m2, got %q", got)
	}
	if got := r.Buffer(); got != "" {
		t.Fatalf("expected previous buffer discarded, got %q", got)
	}
}

func TestReconcilerStartSameTargetKeepsBuffer(t *testing.T) {
	var r Reconciler
	r.Start("m1")
	r.Append("keep")
	r.Start("m1")
	if got := r.Buffer(); got != "keep" {
		t.Fatalf("expected buffer kept for same target, got %q", got)
	}
}

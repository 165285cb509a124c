package tracing

import (
	"context"
	"testing"
	"time"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "search", "trace-1")
	_, parse := StartChildSpan(ctx, "parse")
	parse.End()
	evalCtx, eval := StartChildSpan(ctx, "evaluate")
	_, inner := StartChildSpan(evalCtx, "hydrate")
	time.Sleep(time.Millisecond)
	inner.End()
	eval.SetAttr("total", 2)
	eval.End()
	root.End()

	if got := len(root.Children()); got != 2 {
		t.Fatalf("root children = %d, want 2", got)
	}
	if inner.TraceID != "trace-1" {
		t.Errorf("trace id not inherited: %q", inner.TraceID)
	}
	if v, ok := eval.Attr("total"); !ok || v != 2 {
		t.Errorf("attr = %v %v", v, ok)
	}
	stages := root.Stages()
	for _, name := range []string{"search", "parse", "evaluate", "hydrate"} {
		if _, ok := stages[name]; !ok {
			t.Errorf("missing stage %q", name)
		}
	}
	if stages["hydrate"] <= 0 {
		t.Errorf("hydrate duration = %v", stages["hydrate"])
	}
	root.Log(nil)
}

func TestEndIsIdempotent(t *testing.T) {
	_, s := StartSpan(context.Background(), "x", "")
	s.End()
	d := s.Duration
	time.Sleep(time.Millisecond)
	s.End()
	if s.Duration != d {
		t.Errorf("duration changed on second End: %v -> %v", d, s.Duration)
	}
}

func TestChildWithoutParent(t *testing.T) {
	ctx, s := StartChildSpan(context.Background(), "orphan")
	if FromContext(ctx) != s || s.TraceID != "" {
		t.Error("orphan span not stored")
	}
}

package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithRunID(ctx, "run")
	if got, ok := RunID(ctx); !ok || got != "run" {
		t.Fatalf("RunID mismatch: %v %v", got, ok)
	}

	ctx = WithWorkspaceID(ctx, "ws")
	if got, ok := WorkspaceID(ctx); !ok || got != "ws" {
		t.Fatalf("WorkspaceID mismatch: %v %v", got, ok)
	}

	ctx = WithAgentID(ctx, "agent")
	if got, ok := AgentID(ctx); !ok || got != "agent" {
		t.Fatalf("AgentID mismatch: %v %v", got, ok)
	}

	ctx = WithTaskID(ctx, "task")
	if got, ok := TaskID(ctx); !ok || got != "task" {
		t.Fatalf("TaskID mismatch: %v %v", got, ok)
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithRunID(context.Background(), "")
	if _, ok := RunID(ctx); ok {
		t.Fatalf("empty run id must report absent")
	}
	if _, ok := AgentID(context.Background()); ok {
		t.Fatalf("missing agent id must report absent")
	}
}

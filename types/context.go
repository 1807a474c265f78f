package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID     contextKey = "trace_id"
	keyRunID       contextKey = "run_id"
	keyWorkspaceID contextKey = "workspace_id"
	keyAgentID     contextKey = "agent_id"
	keyTaskID      contextKey = "task_id"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithRunID adds run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts run ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithWorkspaceID adds workspace ID to context.
func WithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, keyWorkspaceID, workspaceID)
}

// WorkspaceID extracts workspace ID from context.
func WorkspaceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyWorkspaceID).(string)
	return v, ok && v != ""
}

// WithAgentID adds agent ID to context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, keyAgentID, agentID)
}

// AgentID extracts agent ID from context.
func AgentID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyAgentID).(string)
	return v, ok && v != ""
}

// WithTaskID adds task ID to context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, keyTaskID, taskID)
}

// TaskID extracts task ID from context.
func TaskID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTaskID).(string)
	return v, ok && v != ""
}

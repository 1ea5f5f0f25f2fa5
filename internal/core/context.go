package core

import "context"

type contextKey string

const (
	ctxKeyClientIP  contextKey = "client_ip"
	ctxKeyUserAgent contextKey = "user_agent"
	ctxKeyTrigger   contextKey = "trigger"
)

// ContextWithClientIP records the caller address for ingestion logs.
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// ContextWithUserAgent records the caller User-Agent for ingestion logs.
func ContextWithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

// ContextWithTrigger records what started an ingestion: "http", "cli" or "inbox".
func ContextWithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, ctxKeyTrigger, trigger)
}

// ClientIPFromContext extracts the caller address.
func ClientIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyClientIP).(string); ok {
		return v
	}
	return ""
}

// UserAgentFromContext extracts the caller User-Agent.
func UserAgentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserAgent).(string); ok {
		return v
	}
	return ""
}

// TriggerFromContext extracts the ingestion trigger.
func TriggerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTrigger).(string); ok {
		return v
	}
	return ""
}

// requestAttrs returns the non-empty caller metadata as slog key/value pairs.
func requestAttrs(ctx context.Context) []any {
	var attrs []any
	if v := TriggerFromContext(ctx); v != "" {
		attrs = append(attrs, "trigger", v)
	}
	if v := ClientIPFromContext(ctx); v != "" {
		attrs = append(attrs, "client_ip", v)
	}
	if v := UserAgentFromContext(ctx); v != "" {
		attrs = append(attrs, "user_agent", v)
	}
	return attrs
}

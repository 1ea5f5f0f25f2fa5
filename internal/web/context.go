package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/salesstage/internal/core"
)

// WithRequestMetadata adds the caller address and User-Agent to ctx for
// ingestion logs.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithTrigger(ctx, "http")
	ctx = core.ContextWithClientIP(ctx, clientIP(r))
	ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
	return ctx
}

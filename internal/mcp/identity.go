package mcp

import (
	"context"
	"net/http"
)

type contextKey string

const callerContextKey contextKey = "mcp_caller"

// CallerIdentity is the opaque identity attached by the proxy's auth
// middleware before a request reaches this core. The gateway never
// validates credentials itself; it only resolves what the caller may reach.
type CallerIdentity struct {
	// TokenHash references the caller's key permission record.
	TokenHash string

	// TeamID references the caller's team permission record.
	TeamID string

	// SourceIP is the raw caller address used for visibility filtering.
	SourceIP string

	// AllowedTools optionally restricts the caller to specific tool
	// names (bare or prefixed), on top of server-level permissions.
	AllowedTools []string
}

// WithCaller attaches a caller identity to the context.
func WithCaller(ctx context.Context, caller CallerIdentity) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

// CallerFromContext extracts the caller identity placed by the auth
// middleware. The zero identity (no key, no team) is returned when absent.
func CallerFromContext(ctx context.Context) CallerIdentity {
	caller, _ := ctx.Value(callerContextKey).(CallerIdentity)
	return caller
}

// CallerFromRequest extracts the caller identity from a request, filling
// SourceIP from the connection when the middleware left it empty.
func CallerFromRequest(r *http.Request, classifier *IPClassifier) CallerIdentity {
	caller := CallerFromContext(r.Context())
	if caller.SourceIP == "" {
		caller.SourceIP = classifier.CallerIP(r)
	}
	return caller
}

package mcp

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/praxisllmlab/mcpgateway/internal/cache"
)

const (
	sessionKeyPrefix = "mcp:session:"

	// sessionTTL bounds how long an idle session id stays recognized.
	// Refreshed on every request that presents the id.
	sessionTTL = 30 * time.Minute
)

// SessionTracker records the transport session ids the gateway's MCP
// handler has issued, so stale ids from crashed clients or other replicas
// can be told apart from live ones. Backed by the shared cache: with Redis
// behind it, every replica sees every id.
type SessionTracker struct {
	cache cache.Cache
}

// NewSessionTracker creates a tracker over the given cache backend.
func NewSessionTracker(c cache.Cache) *SessionTracker {
	return &SessionTracker{cache: c}
}

// Track records a session id as live.
func (t *SessionTracker) Track(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := t.cache.Set(ctx, sessionKeyPrefix+id, []byte("1"), sessionTTL); err != nil {
		log.Printf("WARN: failed to track MCP session %s: %v", MaskSecret(id), err)
	}
}

// Known reports whether a session id is live, refreshing its TTL. Cache
// failures report unknown, which downgrades the request to stateless
// handling instead of serving possibly-stale session state.
func (t *SessionTracker) Known(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	data, err := t.cache.Get(ctx, sessionKeyPrefix+id)
	if err != nil {
		log.Printf("WARN: session lookup failed for %s: %v", MaskSecret(id), err)
		return false
	}
	if data == nil {
		return false
	}
	t.Track(ctx, id)
	return true
}

// Forget drops a session id after explicit client termination.
func (t *SessionTracker) Forget(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := t.cache.Delete(ctx, sessionKeyPrefix+id); err != nil {
		log.Printf("WARN: failed to forget MCP session %s: %v", MaskSecret(id), err)
	}
}

// SessionMiddleware wraps the MCP HTTP handler with session-id hygiene:
//
//   - A DELETE with an unknown session id gets a synthesized success.
//     Termination is idempotent; the client's goal (session gone) is
//     already met, and the handler would otherwise 404.
//   - Any other request with an unknown session id has the header stripped
//     so the handler treats it as a fresh stateless request instead of
//     failing on a session that died with another replica.
//   - New session ids appearing on responses are recorded.
//
// A panic inside the handler terminates that request with a 500 rather
// than the whole process.
func (t *SessionTracker) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("ERROR: panic in MCP handler: %v", rec)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()

		ctx := r.Context()
		sessionID := r.Header.Get(SessionIDHeader)

		if sessionID != "" && !t.Known(ctx, sessionID) {
			if r.Method == http.MethodDelete {
				w.WriteHeader(http.StatusOK)
				return
			}
			r.Header.Del(SessionIDHeader)
		}

		if sessionID != "" && r.Method == http.MethodDelete {
			t.Forget(ctx, sessionID)
		}

		rec := &sessionRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if issued := rec.Header().Get(SessionIDHeader); issued != "" {
			t.Track(ctx, issued)
		}
	})
}

// sessionRecorder defers nothing; it exists so the middleware can read
// response headers after the handler ran.
type sessionRecorder struct {
	http.ResponseWriter
	wroteHeader bool
}

func (r *sessionRecorder) WriteHeader(code int) {
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *sessionRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// Flush keeps SSE streaming working through the wrapper.
func (r *sessionRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

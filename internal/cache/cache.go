package cache

import (
	"context"
	"time"
)

// Cache defines the interface for the gateway's shared TTL caches
// (currently the MCP session-id registry).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

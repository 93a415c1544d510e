package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record does not exist. Callers must treat
// it differently from transport failures: absence is an answer, not an error.
var ErrNotFound = errors.New("store: not found")

// MCPServerRecord is a dynamically-registered upstream MCP server as
// persisted by the admin surface (which lives outside this core).
type MCPServerRecord struct {
	ServerID    string
	Alias       string
	Description string
	Transport   string // "stdio", "sse", "http"
	URL         string
	Command     string
	Args        []string

	AuthType  string
	AuthToken string

	OAuth2ClientID     string
	OAuth2ClientSecret string
	OAuth2TokenURL     string
	OAuth2Audience     string
	OAuth2Scopes       []string

	StaticHeaders   map[string]string
	AllowedTools    []string
	DisallowedTools []string
	AccessGroups    []string
	ExtraHeaders    []string

	AllowExternal  bool
	TimeoutSeconds int
}

// PermissionRecord holds the raw key- and team-level MCP grants for a caller.
// Found distinguishes "no record exists" (open-by-default fallback applies)
// from an explicit empty grant.
type PermissionRecord struct {
	Found bool

	KeyServers      []string
	KeyAccessGroups []string

	TeamServers      []string
	TeamAccessGroups []string
}

// Store is the narrow persisted-state interface this core depends on.
// Server definitions, access-group membership and permission records are
// owned by an external collaborator; the gateway only reads them.
type Store interface {
	GetMCPServer(ctx context.Context, id string) (MCPServerRecord, error)
	ListMCPServers(ctx context.Context) ([]MCPServerRecord, error)

	// GetPermissionRecord returns the key/team MCP grants for a caller.
	// A missing record is reported via Found=false, not an error.
	GetPermissionRecord(ctx context.Context, tokenHash, teamID string) (PermissionRecord, error)
}

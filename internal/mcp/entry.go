package mcp

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/praxisllmlab/mcpgateway/internal/config"
	"github.com/praxisllmlab/mcpgateway/internal/store"
)

// ToolSeparator is the default separator between server alias and tool name.
const ToolSeparator = "-"

// Transport kinds for upstream MCP servers.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// Auth types for upstream MCP servers.
const (
	AuthTypeNone          = "none"
	AuthTypeAPIKey        = "api_key"
	AuthTypeBearer        = "bearer_token"
	AuthTypeBasic         = "basic"
	AuthTypeAuthorization = "authorization"
	AuthTypeOAuth2        = "oauth2"
	AuthTypeTokenExchange = "oauth2_token_exchange"
)

// MCPServerEntry is the in-memory representation of an upstream MCP server,
// whether statically configured or mirrored from the external store.
type MCPServerEntry struct {
	ServerID    string
	Alias       string
	Description string

	Transport string
	URL       string
	Command   string
	Args      []string

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

	// Static entries come from process configuration and are read-only at
	// runtime; dynamic entries are owned by the external store.
	Static bool
}

// DisplayID is the identifier used for tool-name prefixing and in
// diagnostics: alias, else description, else server id.
func (e MCPServerEntry) DisplayID() string {
	if e.Alias != "" {
		return e.Alias
	}
	if e.Description != "" {
		return e.Description
	}
	return e.ServerID
}

// EntryFromConfig builds a static entry from a config block. The server id
// is a pure function of the defining fields, so reloading identical
// configuration yields the same id.
func EntryFromConfig(alias string, cfg config.MCPServerConfig) MCPServerEntry {
	entry := MCPServerEntry{
		Alias:              alias,
		Description:        cfg.Description,
		Transport:          cfg.Transport,
		URL:                cfg.URL,
		Command:            cfg.Command,
		Args:               cfg.Args,
		AuthType:           cfg.AuthType,
		AuthToken:          cfg.AuthToken,
		OAuth2ClientID:     cfg.OAuth2ClientID,
		OAuth2ClientSecret: cfg.OAuth2ClientSecret,
		OAuth2TokenURL:     cfg.OAuth2TokenURL,
		OAuth2Audience:     cfg.OAuth2Audience,
		OAuth2Scopes:       cfg.OAuth2Scopes,
		StaticHeaders:      cfg.StaticHeaders,
		AllowedTools:       cfg.AllowedTools,
		DisallowedTools:    cfg.DisallowedTools,
		AccessGroups:       cfg.AccessGroups,
		ExtraHeaders:       cfg.ExtraHeaders,
		AllowExternal:      cfg.AllowExternal,
		TimeoutSeconds:     cfg.TimeoutSeconds,
		Static:             true,
	}
	entry.ServerID = staticServerID(entry)
	return entry
}

// EntryFromRecord converts a store record into a dynamic entry.
func EntryFromRecord(rec store.MCPServerRecord) MCPServerEntry {
	return MCPServerEntry{
		ServerID:           rec.ServerID,
		Alias:              rec.Alias,
		Description:        rec.Description,
		Transport:          rec.Transport,
		URL:                rec.URL,
		Command:            rec.Command,
		Args:               rec.Args,
		AuthType:           rec.AuthType,
		AuthToken:          rec.AuthToken,
		OAuth2ClientID:     rec.OAuth2ClientID,
		OAuth2ClientSecret: rec.OAuth2ClientSecret,
		OAuth2TokenURL:     rec.OAuth2TokenURL,
		OAuth2Audience:     rec.OAuth2Audience,
		OAuth2Scopes:       rec.OAuth2Scopes,
		StaticHeaders:      rec.StaticHeaders,
		AllowedTools:       rec.AllowedTools,
		DisallowedTools:    rec.DisallowedTools,
		AccessGroups:       rec.AccessGroups,
		ExtraHeaders:       rec.ExtraHeaders,
		AllowExternal:      rec.AllowExternal,
		TimeoutSeconds:     rec.TimeoutSeconds,
	}
}

// staticServerID derives a deterministic id from an entry's defining fields.
func staticServerID(e MCPServerEntry) string {
	parts := []string{
		e.Alias, e.Transport, e.URL, e.Command,
		strings.Join(e.Args, "\x1f"),
		e.AuthType,
	}
	groups := append([]string(nil), e.AccessGroups...)
	sort.Strings(groups)
	parts = append(parts, strings.Join(groups, "\x1f"))

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1e")))
	return hex.EncodeToString(sum[:16])
}

// MCPTool is a callable tool discovered from an upstream MCP server.
type MCPTool struct {
	Name         string `json:"name"`
	PrefixedName string `json:"prefixed_name"`
	Description  string `json:"description"`
	InputSchema  any    `json:"inputSchema"`
	ServerID     string `json:"server_id"`
}

// MCPPrompt is a prompt discovered from an upstream MCP server.
type MCPPrompt struct {
	Name         string `json:"name"`
	PrefixedName string `json:"prefixed_name"`
	Description  string `json:"description"`
	ServerID     string `json:"server_id"`
}

// MCPResource is a resource discovered from an upstream MCP server.
type MCPResource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType,omitempty"`
	ServerID    string `json:"server_id"`
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[strings.TrimSpace(item)] = true
	}
	return s
}

package config

// GatewayConfig represents the top-level gateway_config.yaml structure.
type GatewayConfig struct {
	// MCP server configurations, keyed by server alias.
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers,omitempty"`

	GatewaySettings GatewaySettings `yaml:"gateway_settings"`

	EnvironmentVariables map[string]string `yaml:"environment_variables,omitempty"`

	// Overflow captures any unknown top-level YAML fields so that
	// configs written for newer gateway versions still parse.
	Overflow map[string]any `yaml:",inline"`
}

// GatewaySettings holds global gateway behavior settings.
type GatewaySettings struct {
	// Port the gateway listens on. Defaults to 4000.
	Port int `yaml:"port,omitempty"`

	DatabaseURL string `yaml:"database_url,omitempty"`

	// TrustedProxies lists CIDRs of proxies whose forwarded-address
	// headers may be honored when classifying caller IPs.
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`

	// ToolSeparator between server alias and tool name in prefixed names.
	// Defaults to "-".
	ToolSeparator string `yaml:"tool_separator,omitempty"`

	// DefaultTimeoutSeconds bounds every upstream MCP call unless the
	// server entry overrides it. Defaults to 60.
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds,omitempty"`

	// TokenCacheMaxEntries bounds the OAuth2 token cache (LRU eviction).
	// Defaults to 1000.
	TokenCacheMaxEntries int `yaml:"token_cache_max_entries,omitempty"`

	// TokenExpiryBufferSeconds is subtracted from provider-reported token
	// lifetimes before caching. Defaults to 60.
	TokenExpiryBufferSeconds int `yaml:"token_expiry_buffer_seconds,omitempty"`

	// UseRedisSessions enables the Redis-backed session registry so that
	// stale-session detection works across gateway replicas.
	UseRedisSessions bool `yaml:"use_redis_sessions,omitempty"`
}

// MCPServerConfig represents an upstream MCP server defined in mcp_servers config.
type MCPServerConfig struct {
	Transport   string `yaml:"transport"`             // "stdio", "sse", "http"
	URL         string `yaml:"url,omitempty"`         // Required for sse/http
	Command     string `yaml:"command,omitempty"`     // Required for stdio
	Args        []string `yaml:"args,omitempty"`      // Command arguments
	Description string `yaml:"description,omitempty"` // Display name

	// AuthType is one of "none", "api_key", "bearer_token", "basic",
	// "authorization", "oauth2", "oauth2_token_exchange".
	AuthType  string `yaml:"auth_type,omitempty"`
	AuthToken string `yaml:"authentication_token,omitempty"`

	// OAuth2 machine-credential / token-exchange configuration.
	OAuth2ClientID     string   `yaml:"oauth2_client_id,omitempty"`
	OAuth2ClientSecret string   `yaml:"oauth2_client_secret,omitempty"`
	OAuth2TokenURL     string   `yaml:"oauth2_token_url,omitempty"`
	OAuth2Audience     string   `yaml:"oauth2_audience,omitempty"`
	OAuth2Scopes       []string `yaml:"oauth2_scopes,omitempty"`

	StaticHeaders   map[string]string `yaml:"static_headers,omitempty"`
	AllowedTools    []string          `yaml:"allowed_tools,omitempty"`
	DisallowedTools []string          `yaml:"disallowed_tools,omitempty"`

	// AccessGroups names the groups this server belongs to. Permission
	// records and selector headers may reference groups instead of ids.
	AccessGroups []string `yaml:"access_groups,omitempty"`

	// AllowExternal exposes the server to callers outside the internal
	// network. Defaults to false: external callers never see it.
	AllowExternal bool `yaml:"allow_external,omitempty"`

	// ExtraHeaders names inbound request headers forwarded verbatim to
	// this server on every call.
	ExtraHeaders []string `yaml:"extra_headers,omitempty"`

	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a gateway_config.yaml file and returns a GatewayConfig
// with all environment variables resolved.
func Load(path string) (*GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse unmarshals raw YAML into a GatewayConfig, applies
// environment_variables entries, and resolves os.environ/ references.
func Parse(data []byte) (*GatewayConfig, error) {
	var cfg GatewayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	for k, v := range cfg.EnvironmentVariables {
		if os.Getenv(k) == "" {
			os.Setenv(k, ResolveEnvVar(v))
		}
	}

	resolveEnvVars(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveEnvVars(cfg *GatewayConfig) {
	cfg.GatewaySettings.DatabaseURL = ResolveEnvVar(cfg.GatewaySettings.DatabaseURL)

	for alias, srv := range cfg.MCPServers {
		srv.URL = ResolveEnvVar(srv.URL)
		srv.AuthToken = ResolveEnvVar(srv.AuthToken)
		srv.OAuth2ClientID = ResolveEnvVar(srv.OAuth2ClientID)
		srv.OAuth2ClientSecret = ResolveEnvVar(srv.OAuth2ClientSecret)
		srv.OAuth2TokenURL = ResolveEnvVar(srv.OAuth2TokenURL)
		for name, val := range srv.StaticHeaders {
			srv.StaticHeaders[name] = ResolveEnvVar(val)
		}
		cfg.MCPServers[alias] = srv
	}
}

func applyDefaults(cfg *GatewayConfig) {
	if cfg.GatewaySettings.Port <= 0 {
		cfg.GatewaySettings.Port = 4000
	}
	if cfg.GatewaySettings.ToolSeparator == "" {
		cfg.GatewaySettings.ToolSeparator = "-"
	}
	if cfg.GatewaySettings.DefaultTimeoutSeconds <= 0 {
		cfg.GatewaySettings.DefaultTimeoutSeconds = 60
	}
	if cfg.GatewaySettings.TokenCacheMaxEntries <= 0 {
		cfg.GatewaySettings.TokenCacheMaxEntries = 1000
	}
	if cfg.GatewaySettings.TokenExpiryBufferSeconds <= 0 {
		cfg.GatewaySettings.TokenExpiryBufferSeconds = 60
	}
}

func validate(cfg *GatewayConfig) error {
	for alias, srv := range cfg.MCPServers {
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("mcp server %s: stdio transport requires command", alias)
			}
		case "sse", "http":
			if srv.URL == "" {
				return fmt.Errorf("mcp server %s: %s transport requires url", alias, srv.Transport)
			}
		case "":
			return fmt.Errorf("mcp server %s: transport is required", alias)
		default:
			return fmt.Errorf("mcp server %s: unsupported transport %q", alias, srv.Transport)
		}

		switch srv.AuthType {
		case "oauth2", "oauth2_token_exchange":
			if srv.OAuth2ClientID == "" || srv.OAuth2ClientSecret == "" || srv.OAuth2TokenURL == "" {
				return fmt.Errorf("mcp server %s: auth_type %s requires oauth2_client_id, oauth2_client_secret and oauth2_token_url", alias, srv.AuthType)
			}
		}
	}
	return nil
}

package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/praxisllmlab/mcpgateway/internal/oauth"
)

// Auth sources, reported in diagnostics so operators can tell which cascade
// branch produced the upstream credential.
const (
	AuthSourceCallerHeader      = "caller-header"
	AuthSourceLegacyHeader      = "legacy-header"
	AuthSourceTokenExchange     = "token-exchange"
	AuthSourceClientCredentials = "client-credentials"
	AuthSourceStatic            = "static"
	AuthSourceNone              = "none"
)

// ResolvedAuth is the outcome of the credential cascade for one server:
// the headers to attach upstream and which branch produced them.
type ResolvedAuth struct {
	Headers map[string]string
	Source  string
}

// AuthResolver runs the per-server credential cascade. Precedence:
//
//  1. caller-supplied per-server headers (x-mcp-<alias>-authorization and
//     friends), or the legacy single x-mcp-auth header;
//  2. RFC 8693 token exchange, when the server is configured for it and the
//     caller supplied a subject token;
//  3. a cached client-credentials token, when OAuth2 config is present;
//  4. the statically configured token, formatted per the server's auth type;
//  5. nothing.
//
// Caller-supplied credentials always win so a user can override a server's
// service-account identity with their own.
type AuthResolver struct {
	tokens *oauth.TokenCache
}

// NewAuthResolver creates a resolver. tokens may be nil when no server uses
// OAuth2; the OAuth2 branches then report a configuration error.
func NewAuthResolver(tokens *oauth.TokenCache) *AuthResolver {
	return &AuthResolver{tokens: tokens}
}

// Resolve runs the cascade for one server. Non-credential per-server headers
// are carried in the result regardless of which branch supplies the
// credential itself.
func (a *AuthResolver) Resolve(ctx context.Context, entry MCPServerEntry, opts RequestOptions) (ResolvedAuth, error) {
	headers := map[string]string{}
	callerHeaders := opts.PerServerHeaders[strings.ToLower(entry.Alias)]
	for name, value := range callerHeaders {
		headers[name] = value
	}

	if hasCredential(callerHeaders) {
		return ResolvedAuth{Headers: headers, Source: AuthSourceCallerHeader}, nil
	}

	if opts.LegacyAuth != "" {
		for name, value := range formatCredential(entry.AuthType, opts.LegacyAuth) {
			headers[name] = value
		}
		return ResolvedAuth{Headers: headers, Source: AuthSourceLegacyHeader}, nil
	}

	if entry.AuthType == AuthTypeTokenExchange && opts.SubjectToken != "" {
		token, err := a.exchange(ctx, entry, opts.SubjectToken)
		if err != nil {
			return ResolvedAuth{}, err
		}
		headers["Authorization"] = "Bearer " + token
		return ResolvedAuth{Headers: headers, Source: AuthSourceTokenExchange}, nil
	}

	if entry.OAuth2TokenURL != "" {
		token, err := a.clientCredentials(ctx, entry)
		if err != nil {
			return ResolvedAuth{}, err
		}
		headers["Authorization"] = "Bearer " + token
		return ResolvedAuth{Headers: headers, Source: AuthSourceClientCredentials}, nil
	}

	if entry.AuthToken != "" {
		for name, value := range formatCredential(entry.AuthType, entry.AuthToken) {
			headers[name] = value
		}
		return ResolvedAuth{Headers: headers, Source: AuthSourceStatic}, nil
	}

	return ResolvedAuth{Headers: headers, Source: AuthSourceNone}, nil
}

func (a *AuthResolver) exchange(ctx context.Context, entry MCPServerEntry, subject string) (string, error) {
	if a.tokens == nil {
		return "", fmt.Errorf("%w: server %s requires token exchange but no token cache is configured",
			ErrConfiguration, entry.DisplayID())
	}
	return a.tokens.Exchange(ctx, entry.ServerID, oauthConfig(entry), subject)
}

func (a *AuthResolver) clientCredentials(ctx context.Context, entry MCPServerEntry) (string, error) {
	if a.tokens == nil {
		return "", fmt.Errorf("%w: server %s requires OAuth2 but no token cache is configured",
			ErrConfiguration, entry.DisplayID())
	}
	return a.tokens.Token(ctx, entry.ServerID, oauthConfig(entry))
}

func oauthConfig(entry MCPServerEntry) oauth.ClientConfig {
	return oauth.ClientConfig{
		ClientID:     entry.OAuth2ClientID,
		ClientSecret: entry.OAuth2ClientSecret,
		TokenURL:     entry.OAuth2TokenURL,
		Audience:     entry.OAuth2Audience,
		Scopes:       entry.OAuth2Scopes,
	}
}

// hasCredential reports whether a caller-supplied header set already carries
// an auth credential of its own.
func hasCredential(headers map[string]string) bool {
	for name := range headers {
		switch http.CanonicalHeaderKey(name) {
		case "Authorization", "X-Api-Key":
			return true
		}
	}
	return false
}

// formatCredential renders a raw token as the header the server's auth type
// expects. Values that already carry a scheme are passed through untouched.
func formatCredential(authType, value string) map[string]string {
	switch authType {
	case AuthTypeAPIKey:
		return map[string]string{"X-Api-Key": value}
	case AuthTypeBasic:
		if !strings.HasPrefix(value, "Basic ") {
			value = "Basic " + value
		}
		return map[string]string{"Authorization": value}
	case AuthTypeAuthorization:
		return map[string]string{"Authorization": value}
	case AuthTypeNone:
		return nil
	default:
		// bearer_token and anything unrecognized.
		if !strings.HasPrefix(value, "Bearer ") {
			value = "Bearer " + value
		}
		return map[string]string{"Authorization": value}
	}
}

package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/praxisllmlab/mcpgateway/internal/oauth"
)

// tokenEndpoint fakes an OAuth2 provider and records the grant types it saw.
func tokenEndpoint(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var grants []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		grants = append(grants, r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "provider-token",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &grants
}

func oauthEntry(t *testing.T, authType string) (MCPServerEntry, *[]string) {
	t.Helper()
	srv, grants := tokenEndpoint(t)
	return MCPServerEntry{
		ServerID:           "srv1",
		Alias:              "github",
		AuthType:           authType,
		OAuth2ClientID:     "client",
		OAuth2ClientSecret: "secret",
		OAuth2TokenURL:     srv.URL,
	}, grants
}

func TestCascadeCallerHeaderWinsOverEverything(t *testing.T) {
	entry, grants := oauthEntry(t, AuthTypeOAuth2)
	entry.AuthToken = "static-token"

	resolver := NewAuthResolver(oauth.NewTokenCache(oauth.Options{}))
	got, err := resolver.Resolve(context.Background(), entry, RequestOptions{
		LegacyAuth: "legacy-token",
		PerServerHeaders: map[string]map[string]string{
			"github": {"Authorization": "Bearer caller-token"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != AuthSourceCallerHeader {
		t.Fatalf("source = %s, want caller-header", got.Source)
	}
	if got.Headers["Authorization"] != "Bearer caller-token" {
		t.Fatalf("Authorization = %q", got.Headers["Authorization"])
	}
	if len(*grants) != 0 {
		t.Fatal("caller header should not trigger a token fetch")
	}
}

func TestCascadeLegacyHeaderBeatsOAuth(t *testing.T) {
	entry, grants := oauthEntry(t, AuthTypeOAuth2)

	resolver := NewAuthResolver(oauth.NewTokenCache(oauth.Options{}))
	got, err := resolver.Resolve(context.Background(), entry, RequestOptions{LegacyAuth: "legacy-token"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != AuthSourceLegacyHeader {
		t.Fatalf("source = %s, want legacy-header", got.Source)
	}
	if got.Headers["Authorization"] != "Bearer legacy-token" {
		t.Fatalf("Authorization = %q", got.Headers["Authorization"])
	}
	if len(*grants) != 0 {
		t.Fatal("legacy header should not trigger a token fetch")
	}
}

func TestCascadeTokenExchange(t *testing.T) {
	entry, grants := oauthEntry(t, AuthTypeTokenExchange)

	resolver := NewAuthResolver(oauth.NewTokenCache(oauth.Options{}))
	got, err := resolver.Resolve(context.Background(), entry, RequestOptions{SubjectToken: "subject-jwt"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != AuthSourceTokenExchange {
		t.Fatalf("source = %s, want token-exchange", got.Source)
	}
	if got.Headers["Authorization"] != "Bearer provider-token" {
		t.Fatalf("Authorization = %q", got.Headers["Authorization"])
	}
	if len(*grants) != 1 || (*grants)[0] != "urn:ietf:params:oauth:grant-type:token-exchange" {
		t.Fatalf("grants = %v", *grants)
	}
}

func TestCascadeExchangeFallsBackToClientCredentials(t *testing.T) {
	// Token-exchange server, but the caller supplied no subject token.
	entry, grants := oauthEntry(t, AuthTypeTokenExchange)

	resolver := NewAuthResolver(oauth.NewTokenCache(oauth.Options{}))
	got, err := resolver.Resolve(context.Background(), entry, RequestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != AuthSourceClientCredentials {
		t.Fatalf("source = %s, want client-credentials", got.Source)
	}
	if len(*grants) != 1 || (*grants)[0] != "client_credentials" {
		t.Fatalf("grants = %v", *grants)
	}
}

func TestCascadeClientCredentials(t *testing.T) {
	entry, _ := oauthEntry(t, AuthTypeOAuth2)

	resolver := NewAuthResolver(oauth.NewTokenCache(oauth.Options{}))
	got, err := resolver.Resolve(context.Background(), entry, RequestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != AuthSourceClientCredentials {
		t.Fatalf("source = %s, want client-credentials", got.Source)
	}
	if got.Headers["Authorization"] != "Bearer provider-token" {
		t.Fatalf("Authorization = %q", got.Headers["Authorization"])
	}
}

func TestCascadeStaticFormats(t *testing.T) {
	cases := []struct {
		authType string
		token    string
		header   string
		want     string
	}{
		{AuthTypeAPIKey, "key123", "X-Api-Key", "key123"},
		{AuthTypeBearer, "tok", "Authorization", "Bearer tok"},
		{AuthTypeBearer, "Bearer tok", "Authorization", "Bearer tok"},
		{AuthTypeBasic, "dXNlcjpwYXNz", "Authorization", "Basic dXNlcjpwYXNz"},
		{AuthTypeAuthorization, "Custom scheme-value", "Authorization", "Custom scheme-value"},
	}
	resolver := NewAuthResolver(nil)
	for _, tc := range cases {
		entry := MCPServerEntry{ServerID: "s", Alias: "a", AuthType: tc.authType, AuthToken: tc.token}
		got, err := resolver.Resolve(context.Background(), entry, RequestOptions{})
		if err != nil {
			t.Fatalf("%s: %v", tc.authType, err)
		}
		if got.Source != AuthSourceStatic {
			t.Fatalf("%s: source = %s", tc.authType, got.Source)
		}
		if got.Headers[tc.header] != tc.want {
			t.Fatalf("%s: %s = %q, want %q", tc.authType, tc.header, got.Headers[tc.header], tc.want)
		}
	}
}

func TestCascadeNone(t *testing.T) {
	resolver := NewAuthResolver(nil)
	got, err := resolver.Resolve(context.Background(), MCPServerEntry{ServerID: "s", Alias: "a"}, RequestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != AuthSourceNone {
		t.Fatalf("source = %s, want none", got.Source)
	}
	if len(got.Headers) != 0 {
		t.Fatalf("headers = %v, want none", got.Headers)
	}
}

func TestCascadeNonAuthPerServerHeadersCarried(t *testing.T) {
	// A per-server header that carries no credential rides along while the
	// cascade still resolves the real credential.
	resolver := NewAuthResolver(nil)
	entry := MCPServerEntry{ServerID: "s", Alias: "github", AuthType: AuthTypeBearer, AuthToken: "tok"}
	got, err := resolver.Resolve(context.Background(), entry, RequestOptions{
		PerServerHeaders: map[string]map[string]string{
			"github": {"X-Trace-Id": "abc"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != AuthSourceStatic {
		t.Fatalf("source = %s, want static", got.Source)
	}
	if got.Headers["X-Trace-Id"] != "abc" {
		t.Fatal("non-auth per-server header dropped")
	}
}

func TestCascadeOAuthWithoutTokenCache(t *testing.T) {
	resolver := NewAuthResolver(nil)
	entry := MCPServerEntry{ServerID: "s", Alias: "a", AuthType: AuthTypeOAuth2, OAuth2TokenURL: "https://idp/token"}
	if _, err := resolver.Resolve(context.Background(), entry, RequestOptions{}); err == nil {
		t.Fatal("expected configuration error")
	}
}

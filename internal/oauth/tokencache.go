// Package oauth implements the gateway's OAuth2 token cache for upstream
// MCP servers. Two flows share one cache shape: machine credentials
// (client_credentials) keyed by server id, and RFC 8693 token exchange
// keyed by (server id, subject token).
package oauth

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrTokenFetch indicates the token endpoint rejected a fetch or returned a
// malformed response. This is a configuration-class failure: callers must
// surface it, never silently retry.
var ErrTokenFetch = errors.New("oauth: token fetch failed")

const (
	grantClientCredentials = "client_credentials"
	grantTokenExchange     = "urn:ietf:params:oauth:grant-type:token-exchange"
	tokenTypeAccessToken   = "urn:ietf:params:oauth:token-type:access_token"

	// defaultExpiresIn is assumed when the provider omits or mangles
	// expires_in.
	defaultExpiresIn = time.Hour
)

// ClientConfig holds a server's OAuth2 client configuration.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Audience     string
	Scopes       []string
}

// Options configures a TokenCache.
type Options struct {
	// HTTPClient used for token endpoint calls. Defaults to a client with
	// a 10s timeout.
	HTTPClient *http.Client

	// ExpiryBuffer is subtracted from provider-reported lifetimes so a
	// token is never presented moments before it dies. Defaults to 60s.
	ExpiryBuffer time.Duration

	// MaxEntries bounds the cache; least-recently-used entries are
	// evicted beyond it. Defaults to 1000.
	MaxEntries int
}

// TokenCache caches upstream bearer tokens with per-key locking so that
// concurrent identical requests collapse into a single endpoint fetch.
type TokenCache struct {
	httpClient *http.Client
	buffer     time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*tokenEntry
	lru     *list.List // of cache keys, front = most recently used
}

type tokenEntry struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	elem      *list.Element
}

// NewTokenCache creates a TokenCache.
func NewTokenCache(opts Options) *TokenCache {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	buffer := opts.ExpiryBuffer
	if buffer <= 0 {
		buffer = 60 * time.Second
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &TokenCache{
		httpClient: client,
		buffer:     buffer,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]*tokenEntry),
		lru:        list.New(),
	}
}

// ClientCredentialsKey is the cache key for a server's machine-credential token.
func ClientCredentialsKey(serverID string) string {
	return "cc:" + serverID
}

// ExchangeKey is the cache key for an on-behalf-of token. The subject token
// is hashed so raw caller credentials never sit in cache keys.
func ExchangeKey(serverID, subjectToken string) string {
	sum := sha256.Sum256([]byte(subjectToken))
	return "ex:" + serverID + ":" + hex.EncodeToString(sum[:])
}

// Token returns a machine-credential (client_credentials) token for the
// server, fetching from the token endpoint on cache miss or expiry.
func (c *TokenCache) Token(ctx context.Context, serverID string, cfg ClientConfig) (string, error) {
	form := url.Values{
		"grant_type":    {grantClientCredentials},
		"client_id":     {cfg.ClientID},
		"client_secret": {cfg.ClientSecret},
	}
	if len(cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(cfg.Scopes, " "))
	}
	if cfg.Audience != "" {
		form.Set("audience", cfg.Audience)
	}
	return c.cachedFetch(ctx, ClientCredentialsKey(serverID), cfg.TokenURL, form)
}

// Exchange returns an on-behalf-of token for the server, exchanging the
// caller's subject token per RFC 8693 on cache miss or expiry.
func (c *TokenCache) Exchange(ctx context.Context, serverID string, cfg ClientConfig, subjectToken string) (string, error) {
	if subjectToken == "" {
		return "", fmt.Errorf("%w: subject token is required for token exchange", ErrTokenFetch)
	}
	form := url.Values{
		"grant_type":         {grantTokenExchange},
		"subject_token":      {subjectToken},
		"subject_token_type": {tokenTypeAccessToken},
		"client_id":          {cfg.ClientID},
		"client_secret":      {cfg.ClientSecret},
	}
	if len(cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(cfg.Scopes, " "))
	}
	if cfg.Audience != "" {
		form.Set("audience", cfg.Audience)
	}
	return c.cachedFetch(ctx, ExchangeKey(serverID, subjectToken), cfg.TokenURL, form)
}

// Invalidate drops a cached token. Callers invoke it after observing an
// upstream authorization failure with a cached token, then may retry once.
func (c *TokenCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.lru.Remove(e.elem)
		delete(c.entries, key)
	}
}

// Len reports the number of cached entries.
func (c *TokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TokenCache) cachedFetch(ctx context.Context, key, tokenURL string, form url.Values) (string, error) {
	e := c.entry(key)

	// Per-key lock: concurrent identical requests collapse into one fetch.
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.token != "" && c.now().Before(e.expiresAt) {
		return e.token, nil
	}

	token, expiresIn, err := c.fetch(ctx, tokenURL, form)
	if err != nil {
		return "", err
	}

	e.token = token
	e.expiresAt = c.now().Add(expiresIn - c.buffer)
	return token, nil
}

// entry returns the per-key entry, creating it and evicting the least
// recently used entries beyond the bound.
func (c *TokenCache) entry(key string) *tokenEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.lru.MoveToFront(e.elem)
		return e
	}

	e := &tokenEntry{}
	e.elem = c.lru.PushFront(key)
	c.entries[key] = e

	for len(c.entries) > c.maxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		oldKey := oldest.Value.(string)
		c.lru.Remove(oldest)
		delete(c.entries, oldKey)
	}
	return e
}

func (c *TokenCache) fetch(ctx context.Context, tokenURL string, form url.Values) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("%w: build request: %v", ErrTokenFetch, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrTokenFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, fmt.Errorf("%w: read response: %v", ErrTokenFetch, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, fmt.Errorf("%w: token endpoint returned %d", ErrTokenFetch, resp.StatusCode)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   any    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, fmt.Errorf("%w: decode response: %v", ErrTokenFetch, err)
	}
	if parsed.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: response has no access_token", ErrTokenFetch)
	}

	return parsed.AccessToken, parseExpiresIn(parsed.ExpiresIn), nil
}

// parseExpiresIn tolerates providers that send expires_in as a number, a
// numeric string, or not at all. Anything unusable falls back to the default.
func parseExpiresIn(v any) time.Duration {
	switch n := v.(type) {
	case float64:
		if n > 0 {
			return time.Duration(n) * time.Second
		}
	case string:
		if secs, err := json.Number(n).Int64(); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultExpiresIn
}

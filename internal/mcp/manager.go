package mcp

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/praxisllmlab/mcpgateway/internal/oauth"
)

// Manager is the gateway's fan-out engine: it resolves the caller's server
// scope, selects credentials per server, and runs list/call operations
// against upstream servers concurrently.
type Manager struct {
	registry       *Registry
	permissions    *PermissionResolver
	auth           *AuthResolver
	tokens         *oauth.TokenCache
	toolSeparator  string
	defaultTimeout time.Duration

	// dial is swapped in tests to avoid live upstream connections.
	dial dialer

	// discoveryGroup collapses concurrent tool-index rebuilds triggered by
	// unprefixed tool calls that miss the index.
	discoveryGroup singleflight.Group
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	ToolSeparator  string
	DefaultTimeout time.Duration
	TokenCache     *oauth.TokenCache
}

// NewManager wires the fan-out engine.
func NewManager(registry *Registry, permissions *PermissionResolver, opts ManagerOptions) *Manager {
	sep := opts.ToolSeparator
	if sep == "" {
		sep = ToolSeparator
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Manager{
		registry:       registry,
		permissions:    permissions,
		auth:           NewAuthResolver(opts.TokenCache),
		tokens:         opts.TokenCache,
		toolSeparator:  sep,
		defaultTimeout: timeout,
		dial:           sdkDial,
	}
}

// Registry exposes the underlying server registry.
func (m *Manager) Registry() *Registry { return m.registry }

// FanoutDiagnostics reports, per server alias, which auth branch fired and
// which URL was targeted, plus any branch failures. Emitted as masked
// response headers on debug opt-in.
type FanoutDiagnostics struct {
	AuthSources map[string]string
	TargetURLs  map[string]string
	Errors      []string
}

func newDiagnostics() FanoutDiagnostics {
	return FanoutDiagnostics{
		AuthSources: make(map[string]string),
		TargetURLs:  make(map[string]string),
	}
}

// ResolveScope computes the servers a request operates on: the permitted set
// intersected with visibility, further narrowed by any selector headers.
// A selector that names a visible server outside the caller's permissions is
// an authorization error, never a silent drop.
func (m *Manager) ResolveScope(ctx context.Context, caller CallerIdentity, opts RequestOptions) ([]MCPServerEntry, error) {
	perms := m.permissions.Resolve(ctx, caller)
	visible := m.registry.VisibleTo(caller.SourceIP)

	permitted := make([]MCPServerEntry, 0, len(visible))
	for _, e := range visible {
		if perms.Allows(e.ServerID) {
			permitted = append(permitted, e)
		}
	}

	if len(opts.Selectors) == 0 {
		return permitted, nil
	}

	permittedByID := make(map[string]MCPServerEntry, len(permitted))
	for _, e := range permitted {
		permittedByID[e.ServerID] = e
	}

	var scope []MCPServerEntry
	seen := map[string]bool{}
	for _, selector := range opts.Selectors {
		ids := m.registry.LookupByNameOrAlias(selector, caller.SourceIP)
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrServerNotFound, selector)
		}
		matchedAny := false
		for _, id := range ids {
			e, ok := permittedByID[id]
			if !ok {
				continue
			}
			matchedAny = true
			if !seen[id] {
				seen[id] = true
				scope = append(scope, e)
			}
		}
		if !matchedAny {
			return nil, fmt.Errorf("%w: not permitted to access %q", ErrAuthorization, selector)
		}
	}
	return scope, nil
}

// connect resolves credentials for one server and dials it. The returned
// session is owned by the caller and must be closed.
func (m *Manager) connect(ctx context.Context, entry MCPServerEntry, opts RequestOptions) (upstreamSession, ResolvedAuth, error) {
	auth, err := m.auth.Resolve(ctx, entry, opts)
	if err != nil {
		return nil, ResolvedAuth{}, err
	}
	session, err := m.dial(ctx, entry, outboundHeaders(entry, auth, opts))
	if err != nil {
		return nil, auth, err
	}
	return session, auth, nil
}

func (m *Manager) entryTimeout(entry MCPServerEntry) time.Duration {
	if entry.TimeoutSeconds > 0 {
		return time.Duration(entry.TimeoutSeconds) * time.Second
	}
	return m.defaultTimeout
}

// prefixName namespaces a tool or prompt name with the server's scope label.
// Names stay bare when only one server is in scope.
func (m *Manager) prefixName(label, name string, scopeSize int) string {
	if scopeSize <= 1 {
		return name
	}
	return label + m.toolSeparator + name
}

// scopeLabels assigns each server in scope the label used as its name
// prefix. Labels are display ids, except that servers sharing a display id
// each get a short id suffix so prefixed names stay unique within one
// response.
func (m *Manager) scopeLabels(scope []MCPServerEntry) map[string]string {
	counts := make(map[string]int, len(scope))
	for _, e := range scope {
		counts[e.DisplayID()]++
	}
	labels := make(map[string]string, len(scope))
	for _, e := range scope {
		label := e.DisplayID()
		if counts[label] > 1 {
			label = label + m.toolSeparator + shortID(e.ServerID)
		}
		labels[e.ServerID] = label
	}
	return labels
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// fanout runs fn against every server in scope concurrently, preserving
// scope order in the results. Branch failures are recorded, not fatal;
// an error is returned only when every branch failed.
func (m *Manager) fanout(ctx context.Context, scope []MCPServerEntry, opts RequestOptions, diags *FanoutDiagnostics,
	fn func(ctx context.Context, entry MCPServerEntry, session upstreamSession) error) error {

	var mu sync.Mutex
	errs := make([]error, len(scope))

	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range scope {
		g.Go(func() error {
			branchCtx, cancel := context.WithTimeout(gctx, m.entryTimeout(entry))
			defer cancel()

			session, auth, err := m.connect(branchCtx, entry, opts)

			mu.Lock()
			diags.AuthSources[entry.DisplayID()] = auth.Source
			if entry.URL != "" {
				diags.TargetURLs[entry.DisplayID()] = entry.URL
			}
			mu.Unlock()

			if err == nil {
				defer session.Close()
				err = fn(branchCtx, entry, session)
			}
			if err != nil {
				errs[i] = branchError{ServerID: entry.ServerID, Alias: entry.DisplayID(), Err: err}
				log.Printf("WARN: MCP server %s failed: %v", entry.DisplayID(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			diags.Errors = append(diags.Errors, err.Error())
		}
	}
	if len(scope) > 0 && failed == len(scope) {
		return fmt.Errorf("%w: all %d servers failed: %s", ErrUpstream, failed, strings.Join(diags.Errors, "; "))
	}
	return nil
}

// ListTools aggregates tools across the caller's scope. Tool names are
// prefixed with the server alias when more than one server is in scope, and
// filtered by server allow/deny lists and the caller's tool restrictions.
func (m *Manager) ListTools(ctx context.Context, caller CallerIdentity, opts RequestOptions) ([]MCPTool, FanoutDiagnostics, error) {
	scope, err := m.ResolveScope(ctx, caller, opts)
	if err != nil {
		return nil, FanoutDiagnostics{}, err
	}

	diags := newDiagnostics()
	perServer := make([][]MCPTool, len(scope))
	scopeIdx := indexOf(scope)
	labels := m.scopeLabels(scope)

	err = m.fanout(ctx, scope, opts, &diags, func(ctx context.Context, entry MCPServerEntry, session upstreamSession) error {
		tools, err := listAllTools(ctx, session)
		if err != nil {
			return err
		}

		allowed := toSet(entry.AllowedTools)
		disallowed := toSet(entry.DisallowedTools)
		callerAllowed := toSet(caller.AllowedTools)

		var out []MCPTool
		var bare []string
		for _, t := range tools {
			// Allow/deny entries may be written in bare or prefixed form.
			prefixed := m.prefixName(labels[entry.ServerID], t.Name, len(scope))
			if len(allowed) > 0 && !m.matchesTool(allowed, entry, t.Name, prefixed) {
				continue
			}
			if m.matchesTool(disallowed, entry, t.Name, prefixed) {
				continue
			}
			if len(callerAllowed) > 0 && !m.matchesTool(callerAllowed, entry, t.Name, prefixed) {
				continue
			}
			out = append(out, MCPTool{
				Name:         t.Name,
				PrefixedName: prefixed,
				Description:  t.Description,
				InputSchema:  t.InputSchema,
				ServerID:     entry.ServerID,
			})
			bare = append(bare, t.Name)
		}
		m.registry.UpdateToolIndex(entry.ServerID, bare)
		perServer[scopeIdx[entry.ServerID]] = out
		return nil
	})
	if err != nil {
		return nil, diags, err
	}

	var all []MCPTool
	for _, tools := range perServer {
		all = append(all, tools...)
	}
	return all, diags, nil
}

// ListPrompts aggregates prompts across the caller's scope, prefixed like
// tools.
func (m *Manager) ListPrompts(ctx context.Context, caller CallerIdentity, opts RequestOptions) ([]MCPPrompt, FanoutDiagnostics, error) {
	scope, err := m.ResolveScope(ctx, caller, opts)
	if err != nil {
		return nil, FanoutDiagnostics{}, err
	}

	diags := newDiagnostics()
	perServer := make([][]MCPPrompt, len(scope))
	scopeIdx := indexOf(scope)
	labels := m.scopeLabels(scope)

	err = m.fanout(ctx, scope, opts, &diags, func(ctx context.Context, entry MCPServerEntry, session upstreamSession) error {
		var out []MCPPrompt
		for cursor := ""; ; {
			res, err := session.ListPrompts(ctx, &sdk.ListPromptsParams{Cursor: cursor})
			if err != nil {
				return err
			}
			for _, p := range res.Prompts {
				out = append(out, MCPPrompt{
					Name:         p.Name,
					PrefixedName: m.prefixName(labels[entry.ServerID], p.Name, len(scope)),
					Description:  p.Description,
					ServerID:     entry.ServerID,
				})
			}
			if res.NextCursor == "" {
				break
			}
			cursor = res.NextCursor
		}
		perServer[scopeIdx[entry.ServerID]] = out
		return nil
	})
	if err != nil {
		return nil, diags, err
	}

	var all []MCPPrompt
	for _, prompts := range perServer {
		all = append(all, prompts...)
	}
	return all, diags, nil
}

// ListResources aggregates resources across the caller's scope. Resource
// URIs are globally meaningful and are never prefixed.
func (m *Manager) ListResources(ctx context.Context, caller CallerIdentity, opts RequestOptions) ([]MCPResource, FanoutDiagnostics, error) {
	scope, err := m.ResolveScope(ctx, caller, opts)
	if err != nil {
		return nil, FanoutDiagnostics{}, err
	}

	diags := newDiagnostics()
	perServer := make([][]MCPResource, len(scope))
	scopeIdx := indexOf(scope)

	err = m.fanout(ctx, scope, opts, &diags, func(ctx context.Context, entry MCPServerEntry, session upstreamSession) error {
		var out []MCPResource
		for cursor := ""; ; {
			res, err := session.ListResources(ctx, &sdk.ListResourcesParams{Cursor: cursor})
			if err != nil {
				return err
			}
			for _, r := range res.Resources {
				out = append(out, MCPResource{
					URI:         r.URI,
					Name:        r.Name,
					Description: r.Description,
					MimeType:    r.MIMEType,
					ServerID:    entry.ServerID,
				})
			}
			if res.NextCursor == "" {
				break
			}
			cursor = res.NextCursor
		}
		perServer[scopeIdx[entry.ServerID]] = out
		return nil
	})
	if err != nil {
		return nil, diags, err
	}

	var all []MCPResource
	for _, resources := range perServer {
		all = append(all, resources...)
	}
	return all, diags, nil
}

// CallTool routes a tool invocation to the owning server and runs it.
// Prefixed names route by alias; bare names route via the discovery index,
// rebuilding it once on a miss. Authorization is checked before any
// upstream dispatch.
func (m *Manager) CallTool(ctx context.Context, caller CallerIdentity, opts RequestOptions, name string, arguments map[string]any) (*sdk.CallToolResult, FanoutDiagnostics, error) {
	scope, err := m.ResolveScope(ctx, caller, opts)
	if err != nil {
		return nil, FanoutDiagnostics{}, err
	}
	if len(scope) == 0 {
		return nil, FanoutDiagnostics{}, fmt.Errorf("%w: no servers in scope", ErrAuthorization)
	}

	entry, bareName, err := m.routeTool(ctx, caller, opts, scope, name)
	if err != nil {
		return nil, FanoutDiagnostics{}, err
	}

	if err := m.checkToolAccess(caller, entry, bareName, name); err != nil {
		return nil, FanoutDiagnostics{}, err
	}

	diags := newDiagnostics()
	callCtx, cancel := context.WithTimeout(ctx, m.entryTimeout(entry))
	defer cancel()

	session, auth, err := m.connect(callCtx, entry, opts)
	diags.AuthSources[entry.DisplayID()] = auth.Source
	if entry.URL != "" {
		diags.TargetURLs[entry.DisplayID()] = entry.URL
	}
	if err != nil {
		return nil, diags, err
	}

	result, err := session.CallTool(callCtx, &sdk.CallToolParams{Name: bareName, Arguments: arguments})
	session.Close()
	if err != nil && m.invalidateCachedToken(entry, auth, opts) {
		// A cached token may have been revoked upstream; retry once fresh.
		session, auth, err = m.connect(callCtx, entry, opts)
		if err != nil {
			return nil, diags, err
		}
		diags.AuthSources[entry.DisplayID()] = auth.Source
		result, err = session.CallTool(callCtx, &sdk.CallToolParams{Name: bareName, Arguments: arguments})
		session.Close()
	}
	if err != nil {
		return nil, diags, fmt.Errorf("%w: %s: %v", ErrUpstream, entry.DisplayID(), err)
	}
	return result, diags, nil
}

// GetPrompt routes a prompt fetch the same way CallTool routes tools, except
// bare names on a multi-server scope are probed in scope order.
func (m *Manager) GetPrompt(ctx context.Context, caller CallerIdentity, opts RequestOptions, name string, arguments map[string]string) (*sdk.GetPromptResult, FanoutDiagnostics, error) {
	scope, err := m.ResolveScope(ctx, caller, opts)
	if err != nil {
		return nil, FanoutDiagnostics{}, err
	}
	if len(scope) == 0 {
		return nil, FanoutDiagnostics{}, fmt.Errorf("%w: no servers in scope", ErrAuthorization)
	}

	diags := newDiagnostics()

	if entry, bare, ok := m.splitPrefixed(scope, name); ok {
		res, err := m.getPromptFrom(ctx, entry, opts, bare, arguments, &diags)
		return res, diags, err
	}

	var lastErr error
	for _, entry := range scope {
		res, err := m.getPromptFrom(ctx, entry, opts, name, arguments, &diags)
		if err == nil {
			return res, diags, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: prompt %q", ErrServerNotFound, name)
	}
	return nil, diags, lastErr
}

func (m *Manager) getPromptFrom(ctx context.Context, entry MCPServerEntry, opts RequestOptions, name string, arguments map[string]string, diags *FanoutDiagnostics) (*sdk.GetPromptResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.entryTimeout(entry))
	defer cancel()

	session, auth, err := m.connect(callCtx, entry, opts)
	diags.AuthSources[entry.DisplayID()] = auth.Source
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.GetPrompt(callCtx, &sdk.GetPromptParams{Name: name, Arguments: arguments})
}

// ReadResource probes the caller's scope for the server owning the URI.
func (m *Manager) ReadResource(ctx context.Context, caller CallerIdentity, opts RequestOptions, uri string) (*sdk.ReadResourceResult, FanoutDiagnostics, error) {
	scope, err := m.ResolveScope(ctx, caller, opts)
	if err != nil {
		return nil, FanoutDiagnostics{}, err
	}
	if len(scope) == 0 {
		return nil, FanoutDiagnostics{}, fmt.Errorf("%w: no servers in scope", ErrAuthorization)
	}

	diags := newDiagnostics()
	var lastErr error
	for _, entry := range scope {
		callCtx, cancel := context.WithTimeout(ctx, m.entryTimeout(entry))
		session, auth, err := m.connect(callCtx, entry, opts)
		diags.AuthSources[entry.DisplayID()] = auth.Source
		if err != nil {
			cancel()
			lastErr = err
			continue
		}
		res, err := session.ReadResource(callCtx, &sdk.ReadResourceParams{URI: uri})
		session.Close()
		cancel()
		if err == nil {
			return res, diags, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: resource %q", ErrServerNotFound, uri)
	}
	return nil, diags, lastErr
}

// routeTool resolves a tool name to its owning server within scope.
func (m *Manager) routeTool(ctx context.Context, caller CallerIdentity, opts RequestOptions, scope []MCPServerEntry, name string) (MCPServerEntry, string, error) {
	if entry, bare, ok := m.splitPrefixed(scope, name); ok {
		return entry, bare, nil
	}

	if len(scope) == 1 {
		return scope[0], name, nil
	}

	if id, ok := m.registry.ServerForTool(name); ok {
		for _, entry := range scope {
			if entry.ServerID == id {
				return entry, name, nil
			}
		}
		return MCPServerEntry{}, "", fmt.Errorf("%w: tool %q belongs to a server outside the caller's scope", ErrAuthorization, name)
	}

	// Index miss: rebuild once via discovery, collapsing concurrent misses.
	_, _, _ = m.discoveryGroup.Do("tool-index", func() (any, error) {
		_, _, err := m.ListTools(ctx, caller, opts)
		return nil, err
	})

	if id, ok := m.registry.ServerForTool(name); ok {
		for _, entry := range scope {
			if entry.ServerID == id {
				return entry, name, nil
			}
		}
	}
	return MCPServerEntry{}, "", fmt.Errorf("%w: %q", ErrToolNotFound, name)
}

// splitPrefixed matches a prefixed name against scope labels, longest
// first, so labels containing the separator cannot shadow each other.
func (m *Manager) splitPrefixed(scope []MCPServerEntry, name string) (MCPServerEntry, string, bool) {
	labels := m.scopeLabels(scope)
	sorted := append([]MCPServerEntry(nil), scope...)
	sort.Slice(sorted, func(i, j int) bool {
		return len(labels[sorted[i].ServerID]) > len(labels[sorted[j].ServerID])
	})
	for _, entry := range sorted {
		prefix := labels[entry.ServerID] + m.toolSeparator
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			return entry, name[len(prefix):], true
		}
	}
	return MCPServerEntry{}, "", false
}

// matchesTool reports whether a tool allow/deny set names the tool in any
// accepted form: bare, as prefixed in the current scope, or with the
// server's canonical display-id prefix.
func (m *Manager) matchesTool(set map[string]bool, entry MCPServerEntry, bareName, prefixed string) bool {
	return set[bareName] || set[prefixed] || set[entry.DisplayID()+m.toolSeparator+bareName]
}

// checkToolAccess enforces server allow/deny lists and the caller's tool
// restrictions before dispatch. List entries match bare and prefixed forms.
func (m *Manager) checkToolAccess(caller CallerIdentity, entry MCPServerEntry, bareName, requestedName string) error {
	if allowed := toSet(entry.AllowedTools); len(allowed) > 0 &&
		!m.matchesTool(allowed, entry, bareName, requestedName) {
		return fmt.Errorf("%w: tool %q is not enabled on server %s", ErrAuthorization, bareName, entry.DisplayID())
	}
	if m.matchesTool(toSet(entry.DisallowedTools), entry, bareName, requestedName) {
		return fmt.Errorf("%w: tool %q is disabled on server %s", ErrAuthorization, bareName, entry.DisplayID())
	}
	if callerAllowed := toSet(caller.AllowedTools); len(callerAllowed) > 0 &&
		!m.matchesTool(callerAllowed, entry, bareName, requestedName) {
		return fmt.Errorf("%w: caller is not permitted to call tool %q", ErrAuthorization, bareName)
	}
	return nil
}

// invalidateCachedToken drops the cached OAuth2 token behind a failed call
// so the retry fetches fresh. Reports whether a retry is worthwhile.
func (m *Manager) invalidateCachedToken(entry MCPServerEntry, auth ResolvedAuth, opts RequestOptions) bool {
	if m.tokens == nil {
		return false
	}
	switch auth.Source {
	case AuthSourceClientCredentials:
		m.tokens.Invalidate(oauth.ClientCredentialsKey(entry.ServerID))
		return true
	case AuthSourceTokenExchange:
		m.tokens.Invalidate(oauth.ExchangeKey(entry.ServerID, opts.SubjectToken))
		return true
	}
	return false
}

// ServerHealth is one server's health probe outcome.
type ServerHealth struct {
	ServerID  string `json:"server_id"`
	Alias     string `json:"alias"`
	Healthy   bool   `json:"healthy"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

// Health probes every server in the caller's scope with a tool listing.
func (m *Manager) Health(ctx context.Context, caller CallerIdentity, opts RequestOptions) ([]ServerHealth, error) {
	scope, err := m.ResolveScope(ctx, caller, opts)
	if err != nil {
		return nil, err
	}

	diags := newDiagnostics()
	results := make([]ServerHealth, len(scope))
	scopeIdx := indexOf(scope)

	_ = m.fanout(ctx, scope, opts, &diags, func(ctx context.Context, entry MCPServerEntry, session upstreamSession) error {
		tools, err := listAllTools(ctx, session)
		health := ServerHealth{ServerID: entry.ServerID, Alias: entry.DisplayID()}
		if err != nil {
			health.Error = err.Error()
		} else {
			health.Healthy = true
			health.ToolCount = len(tools)
		}
		results[scopeIdx[entry.ServerID]] = health
		return err
	})

	// Branches that failed before fn ran still need a row.
	for i, entry := range scope {
		if results[i].ServerID == "" {
			results[i] = ServerHealth{ServerID: entry.ServerID, Alias: entry.DisplayID(), Error: "connection failed"}
		}
	}
	return results, nil
}

func listAllTools(ctx context.Context, session upstreamSession) ([]*sdk.Tool, error) {
	var tools []*sdk.Tool
	for cursor := ""; ; {
		res, err := session.ListTools(ctx, &sdk.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	return tools, nil
}

func indexOf(scope []MCPServerEntry) map[string]int {
	idx := make(map[string]int, len(scope))
	for i, e := range scope {
		idx[e.ServerID] = i
	}
	return idx
}

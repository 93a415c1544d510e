package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// GatewayServer exposes the gateway over the MCP protocol itself. Each
// inbound session gets its own protocol server whose tool, prompt and
// resource lists reflect that caller's permissions and visibility at
// session start.
type GatewayServer struct {
	manager    *Manager
	classifier *IPClassifier
	tracker    *SessionTracker
}

// NewGatewayServer wires the protocol surface.
func NewGatewayServer(manager *Manager, classifier *IPClassifier, tracker *SessionTracker) *GatewayServer {
	return &GatewayServer{manager: manager, classifier: classifier, tracker: tracker}
}

// Handler serves MCP over streamable HTTP, with session hygiene and debug
// headers applied around the SDK handler.
func (g *GatewayServer) Handler() http.Handler {
	h := sdk.NewStreamableHTTPHandler(func(r *http.Request) *sdk.Server {
		return g.serverFor(r)
	}, nil)
	return g.tracker.SessionMiddleware(g.debugAuthMiddleware(h))
}

// ScopedHandler serves the streamable endpoint with the request's path
// segment as the server selector, equivalent to sending x-mcp-servers.
// An explicit header still wins over the path.
func (g *GatewayServer) ScopedHandler() http.Handler {
	inner := g.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sel := chi.URLParam(r, "selector"); sel != "" && r.Header.Get(HeaderServers) == "" {
			r.Header.Set(HeaderServers, sel)
		}
		inner.ServeHTTP(w, r)
	})
}

// SSEHandler serves MCP over the legacy SSE transport.
func (g *GatewayServer) SSEHandler() http.Handler {
	h := sdk.NewSSEHandler(func(r *http.Request) *sdk.Server {
		return g.serverFor(r)
	}, nil)
	return g.tracker.SessionMiddleware(g.debugAuthMiddleware(h))
}

// serverFor builds the per-caller protocol server. Discovery failures leave
// the corresponding feature list empty rather than failing the handshake;
// partial upstream outage should not take down the whole gateway surface.
func (g *GatewayServer) serverFor(r *http.Request) *sdk.Server {
	ctx := r.Context()
	caller := CallerFromRequest(r, g.classifier)
	opts := OptionsFromRequest(r, g.aliases())

	server := sdk.NewServer(&sdk.Implementation{Name: "mcpgateway", Version: gatewayVersion}, nil)

	tools, _, err := g.manager.ListTools(ctx, caller, opts)
	if err != nil {
		log.Printf("WARN: tool discovery failed for session: %v", err)
	}
	for _, t := range tools {
		g.addTool(server, caller, opts, t)
	}

	prompts, _, err := g.manager.ListPrompts(ctx, caller, opts)
	if err != nil {
		log.Printf("WARN: prompt discovery failed for session: %v", err)
	}
	for _, p := range prompts {
		g.addPrompt(server, caller, opts, p)
	}

	resources, _, err := g.manager.ListResources(ctx, caller, opts)
	if err != nil {
		log.Printf("WARN: resource discovery failed for session: %v", err)
	}
	for _, res := range resources {
		g.addResource(server, caller, opts, res)
	}

	return server
}

func (g *GatewayServer) addTool(server *sdk.Server, caller CallerIdentity, opts RequestOptions, tool MCPTool) {
	inputSchema := tool.InputSchema
	if inputSchema == nil {
		inputSchema = json.RawMessage(`{"type":"object"}`)
	}
	server.AddTool(
		&sdk.Tool{
			Name:        tool.PrefixedName,
			Description: tool.Description,
			InputSchema: inputSchema,
		},
		func(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
			var args map[string]any
			if req.Params.Arguments != nil {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return &sdk.CallToolResult{
						Content: []sdk.Content{&sdk.TextContent{Text: fmt.Sprintf("invalid arguments: %v", err)}},
						IsError: true,
					}, nil
				}
			}
			result, _, err := g.manager.CallTool(ctx, caller, opts, tool.PrefixedName, args)
			if err != nil {
				return &sdk.CallToolResult{
					Content: []sdk.Content{&sdk.TextContent{Text: err.Error()}},
					IsError: true,
				}, nil
			}
			return result, nil
		},
	)
}

func (g *GatewayServer) addPrompt(server *sdk.Server, caller CallerIdentity, opts RequestOptions, prompt MCPPrompt) {
	server.AddPrompt(
		&sdk.Prompt{Name: prompt.PrefixedName, Description: prompt.Description},
		func(ctx context.Context, req *sdk.GetPromptRequest) (*sdk.GetPromptResult, error) {
			result, _, err := g.manager.GetPrompt(ctx, caller, opts, prompt.PrefixedName, req.Params.Arguments)
			return result, err
		},
	)
}

func (g *GatewayServer) addResource(server *sdk.Server, caller CallerIdentity, opts RequestOptions, resource MCPResource) {
	server.AddResource(
		&sdk.Resource{
			URI:         resource.URI,
			Name:        resource.Name,
			Description: resource.Description,
			MIMEType:    resource.MimeType,
		},
		func(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
			result, _, err := g.manager.ReadResource(ctx, caller, opts, req.Params.URI)
			return result, err
		},
	)
}

func (g *GatewayServer) aliases() []string {
	entries := g.manager.Registry().All()
	aliases := make([]string, 0, len(entries))
	for _, e := range entries {
		aliases = append(aliases, e.Alias)
	}
	return aliases
}

// debugAuthMiddleware emits, on explicit opt-in, response headers naming
// which cascade branch each in-scope server's credential came from and
// which URL the gateway targets. Credential values are masked.
func (g *GatewayServer) debugAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := CallerFromRequest(r, g.classifier)
		opts := OptionsFromRequest(r, g.aliases())
		if !opts.DebugAuth {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		scope, err := g.manager.ResolveScope(ctx, caller, opts)
		if err == nil {
			for _, entry := range scope {
				auth, err := g.manager.auth.Resolve(ctx, entry, opts)
				if err != nil {
					continue
				}
				value := auth.Source
				if cred := auth.Headers["Authorization"]; cred != "" {
					value = fmt.Sprintf("%s (%s)", auth.Source, MaskSecret(cred))
				}
				w.Header().Set(DebugAuthSourcePrefix+entry.DisplayID(), value)
				if entry.URL != "" {
					w.Header().Set(DebugTargetURLPrefix+entry.DisplayID(), entry.URL)
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

package mcp

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// upstreamSession is the subset of the SDK client session the fan-out engine
// uses. Tests substitute fakes; production code always passes
// *sdk.ClientSession.
type upstreamSession interface {
	ListTools(ctx context.Context, params *sdk.ListToolsParams) (*sdk.ListToolsResult, error)
	CallTool(ctx context.Context, params *sdk.CallToolParams) (*sdk.CallToolResult, error)
	ListPrompts(ctx context.Context, params *sdk.ListPromptsParams) (*sdk.ListPromptsResult, error)
	GetPrompt(ctx context.Context, params *sdk.GetPromptParams) (*sdk.GetPromptResult, error)
	ListResources(ctx context.Context, params *sdk.ListResourcesParams) (*sdk.ListResourcesResult, error)
	ReadResource(ctx context.Context, params *sdk.ReadResourceParams) (*sdk.ReadResourceResult, error)
	Close() error
}

// dialer establishes a session to one upstream server with the given
// outbound headers. Injectable so fan-out is testable without live servers.
type dialer func(ctx context.Context, entry MCPServerEntry, headers http.Header) (upstreamSession, error)

// sdkDial is the production dialer, connecting via the transport the entry
// declares.
func sdkDial(ctx context.Context, entry MCPServerEntry, headers http.Header) (upstreamSession, error) {
	transport, err := buildTransport(ctx, entry, headers)
	if err != nil {
		return nil, err
	}

	client := sdk.NewClient(&sdk.Implementation{Name: "mcpgateway", Version: gatewayVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrUpstream, entry.DisplayID(), err)
	}
	return session, nil
}

func buildTransport(ctx context.Context, entry MCPServerEntry, headers http.Header) (sdk.Transport, error) {
	switch entry.Transport {
	case TransportStdio:
		if entry.Command == "" {
			return nil, fmt.Errorf("%w: server %s has stdio transport but no command", ErrConfiguration, entry.DisplayID())
		}
		// Tie the subprocess to the dial context so a cancelled connect
		// kills the child instead of leaving it for Close to reap.
		return &sdk.CommandTransport{Command: exec.CommandContext(ctx, entry.Command, entry.Args...)}, nil
	case TransportSSE:
		return &sdk.SSEClientTransport{Endpoint: entry.URL, HTTPClient: headerClient(headers)}, nil
	case TransportHTTP, "":
		return &sdk.StreamableClientTransport{Endpoint: entry.URL, HTTPClient: headerClient(headers)}, nil
	default:
		return nil, fmt.Errorf("%w: server %s has unknown transport %q", ErrConfiguration, entry.DisplayID(), entry.Transport)
	}
}

// outboundHeaders assembles the header set for one upstream connection:
// server static headers, then passthrough headers the server declares, then
// resolved auth headers, which always win.
func outboundHeaders(entry MCPServerEntry, auth ResolvedAuth, opts RequestOptions) http.Header {
	h := make(http.Header)
	for name, value := range entry.StaticHeaders {
		h.Set(name, value)
	}
	for _, name := range entry.ExtraHeaders {
		if opts.Passthrough == nil {
			continue
		}
		if value := opts.Passthrough.Get(name); value != "" {
			h.Set(name, value)
		}
	}
	if opts.Passthrough != nil {
		if version := opts.Passthrough.Get(HeaderProtocolVersion); version != "" {
			h.Set(HeaderProtocolVersion, version)
		}
	}
	for name, value := range auth.Headers {
		h.Set(name, value)
	}
	return h
}

// headerClient wraps the default HTTP client so every request to the
// upstream carries the assembled headers. The SDK's HTTP transports accept a
// client but not per-request headers, so injection happens at the transport
// layer.
func headerClient(headers http.Header) *http.Client {
	if len(headers) == 0 {
		return http.DefaultClient
	}
	return &http.Client{Transport: &headerRoundTripper{headers: headers, next: http.DefaultTransport}}
}

type headerRoundTripper struct {
	headers http.Header
	next    http.RoundTripper
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for name, values := range t.headers {
		if clone.Header.Get(name) == "" {
			for _, v := range values {
				clone.Header.Add(name, v)
			}
		}
	}
	return t.next.RoundTrip(clone)
}

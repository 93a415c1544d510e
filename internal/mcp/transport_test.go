package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestOutboundHeadersPrecedence(t *testing.T) {
	entry := MCPServerEntry{
		Alias:         "github",
		StaticHeaders: map[string]string{"X-Env": "prod", "Authorization": "Bearer static"},
		ExtraHeaders:  []string{"X-Request-Id"},
	}
	passthrough := http.Header{}
	passthrough.Set("X-Request-Id", "req-42")
	passthrough.Set("X-Ignored", "nope")
	passthrough.Set(HeaderProtocolVersion, "2025-06-18")

	auth := ResolvedAuth{Headers: map[string]string{"Authorization": "Bearer resolved"}}
	h := outboundHeaders(entry, auth, RequestOptions{Passthrough: passthrough})

	if h.Get("X-Env") != "prod" {
		t.Fatalf("static header lost: %v", h)
	}
	if h.Get("X-Request-Id") != "req-42" {
		t.Fatalf("declared extra header not forwarded: %v", h)
	}
	if h.Get("X-Ignored") != "" {
		t.Fatal("undeclared header leaked upstream")
	}
	if h.Get(HeaderProtocolVersion) != "2025-06-18" {
		t.Fatal("protocol version not forwarded")
	}
	// Resolved auth wins over a static credential.
	if h.Get("Authorization") != "Bearer resolved" {
		t.Fatalf("Authorization = %q", h.Get("Authorization"))
	}
}

func TestHeaderClientInjectsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer tok")
	client := headerClient(headers)

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got.Get("Authorization") != "Bearer tok" {
		t.Fatalf("upstream saw %v", got)
	}
}

func TestBuildTransportValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := buildTransport(ctx, MCPServerEntry{Transport: TransportStdio}, nil); err == nil {
		t.Fatal("stdio without command should fail")
	}
	if _, err := buildTransport(ctx, MCPServerEntry{Transport: "grpc"}, nil); err == nil {
		t.Fatal("unknown transport should fail")
	}
	if _, err := buildTransport(ctx, MCPServerEntry{Transport: TransportHTTP, URL: "https://x/mcp"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := buildTransport(ctx, MCPServerEntry{Transport: TransportSSE, URL: "https://x/sse"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := buildTransport(ctx, MCPServerEntry{Transport: TransportStdio, Command: "echo"}, nil); err != nil {
		t.Fatal(err)
	}
}

func TestBuildTransportStdioBoundToContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr, err := buildTransport(ctx, MCPServerEntry{Transport: TransportStdio, Command: "cat"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ct, ok := tr.(*sdk.CommandTransport)
	if !ok {
		t.Fatalf("transport = %T, want *sdk.CommandTransport", tr)
	}
	// A context-bound command carries a cancel hook; a plain exec.Command
	// does not.
	if ct.Command.Cancel == nil {
		t.Fatal("subprocess not tied to the dial context")
	}
	cancel()
}

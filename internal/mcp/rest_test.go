package mcp

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/praxisllmlab/mcpgateway/internal/store"
)

func restFixture(t *testing.T) http.Handler {
	t.Helper()
	github := testEntry("github")
	jira := testEntry("jira")
	registry := NewRegistry([]MCPServerEntry{github, jira}, NewIPClassifier(nil))
	m := NewManager(registry, NewPermissionResolver(registry, nil), ManagerOptions{})
	m.dial = (&fakeUpstreams{
		sessions: map[string]*fakeSession{
			"github": {tools: []*sdk.Tool{tool("search")}},
			"jira":   {tools: []*sdk.Tool{tool("create_issue")}},
		},
		dialErr: map[string]error{},
	}).dial
	h := &RESTHandler{Manager: m, Classifier: NewIPClassifier(nil)}
	return h.Handler()
}

func TestRESTListTools(t *testing.T) {
	h := restFixture(t)
	r := httptest.NewRequest(http.MethodGet, "/tools/list", nil)
	r.RemoteAddr = "127.0.0.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Tools) != 2 {
		t.Fatalf("tools = %+v", resp.Tools)
	}
}

func TestRESTCallToolNotFound(t *testing.T) {
	h := restFixture(t)
	r := httptest.NewRequest(http.MethodPost, "/tools/call", strings.NewReader(`{"name":"nope"}`))
	r.RemoteAddr = "127.0.0.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestRESTCallTool(t *testing.T) {
	h := restFixture(t)
	r := httptest.NewRequest(http.MethodPost, "/tools/call", strings.NewReader(`{"name":"github-search"}`))
	r.RemoteAddr = "127.0.0.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
}

func TestRESTSelectorOutsidePermissionsForbidden(t *testing.T) {
	github := testEntry("github")
	jira := testEntry("jira")
	st := store.NewMemoryStore()
	st.PutKeyPermissions("hash1", []string{"jira"}, nil)

	registry := NewRegistry([]MCPServerEntry{github, jira}, NewIPClassifier(nil))
	m := NewManager(registry, NewPermissionResolver(registry, st), ManagerOptions{})
	m.dial = (&fakeUpstreams{sessions: map[string]*fakeSession{}, dialErr: map[string]error{}}).dial
	h := (&RESTHandler{Manager: m, Classifier: NewIPClassifier(nil)}).Handler()

	r := httptest.NewRequest(http.MethodGet, "/tools/list", nil)
	r.RemoteAddr = "127.0.0.1:1234"
	r.Header.Set(HeaderServers, "github")
	r = r.WithContext(WithCaller(r.Context(), CallerIdentity{TokenHash: "hash1", SourceIP: "127.0.0.1"}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", w.Code, w.Body.String())
	}
}

func TestRESTDebugFanoutErrorsHeader(t *testing.T) {
	github := testEntry("github")
	jira := testEntry("jira")
	registry := NewRegistry([]MCPServerEntry{github, jira}, NewIPClassifier(nil))
	m := NewManager(registry, NewPermissionResolver(registry, nil), ManagerOptions{})
	m.dial = (&fakeUpstreams{
		sessions: map[string]*fakeSession{"github": {tools: []*sdk.Tool{tool("search")}}},
		dialErr:  map[string]error{"jira": errors.New("connection refused")},
	}).dial
	h := (&RESTHandler{Manager: m, Classifier: NewIPClassifier(nil)}).Handler()

	r := httptest.NewRequest(http.MethodGet, "/tools/list", nil)
	r.RemoteAddr = "127.0.0.1:1234"
	r.Header.Set(HeaderDebugAuth, "true")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("partial failure should still answer, status = %d", w.Code)
	}
	if got := w.Header().Get(DebugFanoutErrorsHeader); !strings.Contains(got, "jira") {
		t.Fatalf("fanout errors header = %q, want the failed branch", got)
	}

	// Without debug opt-in the header stays absent.
	r = httptest.NewRequest(http.MethodGet, "/tools/list", nil)
	r.RemoteAddr = "127.0.0.1:1234"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Header().Get(DebugFanoutErrorsHeader) != "" {
		t.Fatal("fanout errors header emitted without debug opt-in")
	}
}

func TestRESTDebugAuthHeaders(t *testing.T) {
	h := restFixture(t)
	r := httptest.NewRequest(http.MethodGet, "/tools/list", nil)
	r.RemoteAddr = "127.0.0.1:1234"
	r.Header.Set(HeaderDebugAuth, "true")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get(DebugAuthSourcePrefix+"github") == "" {
		t.Fatalf("missing debug auth header, got %v", w.Header())
	}
}

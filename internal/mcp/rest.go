package mcp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// RESTHandler provides REST wrappers for MCP operations, for callers that
// want the gateway's aggregation without speaking the MCP protocol.
type RESTHandler struct {
	Manager    *Manager
	Classifier *IPClassifier
}

// Handler returns the REST routes.
func (h *RESTHandler) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/tools/list", h.ListTools)
	r.Post("/tools/call", h.CallTool)
	r.Get("/prompts/list", h.ListPrompts)
	r.Post("/prompts/get", h.GetPrompt)
	r.Get("/resources/list", h.ListResources)
	r.Post("/resources/read", h.ReadResource)
	r.Get("/health", h.Health)
	return r
}

func (h *RESTHandler) requestContext(r *http.Request) (CallerIdentity, RequestOptions) {
	caller := CallerFromRequest(r, h.Classifier)
	aliases := make([]string, 0)
	for _, e := range h.Manager.Registry().All() {
		aliases = append(aliases, e.Alias)
	}
	return caller, OptionsFromRequest(r, aliases)
}

// ListTools handles GET /tools/list.
func (h *RESTHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	caller, opts := h.requestContext(r)
	tools, diags, err := h.Manager.ListTools(r.Context(), caller, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeDiagnostics(w, opts, diags)

	type toolResponse struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		InputSchema any    `json:"inputSchema"`
		ServerID    string `json:"server_id"`
	}
	resp := struct {
		Tools []toolResponse `json:"tools"`
	}{Tools: make([]toolResponse, 0, len(tools))}
	for _, t := range tools {
		resp.Tools = append(resp.Tools, toolResponse{
			Name:        t.PrefixedName,
			Description: t.Description,
			InputSchema: t.InputSchema,
			ServerID:    t.ServerID,
		})
	}
	writeJSON(w, resp)
}

// CallTool handles POST /tools/call.
func (h *RESTHandler) CallTool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, `{"error":"name is required"}`, http.StatusBadRequest)
		return
	}

	caller, opts := h.requestContext(r)
	result, diags, err := h.Manager.CallTool(r.Context(), caller, opts, req.Name, req.Arguments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeDiagnostics(w, opts, diags)
	writeJSON(w, result)
}

// ListPrompts handles GET /prompts/list.
func (h *RESTHandler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	caller, opts := h.requestContext(r)
	prompts, diags, err := h.Manager.ListPrompts(r.Context(), caller, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeDiagnostics(w, opts, diags)

	resp := struct {
		Prompts []MCPPrompt `json:"prompts"`
	}{Prompts: prompts}
	if resp.Prompts == nil {
		resp.Prompts = []MCPPrompt{}
	}
	writeJSON(w, resp)
}

// GetPrompt handles POST /prompts/get.
func (h *RESTHandler) GetPrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, `{"error":"name is required"}`, http.StatusBadRequest)
		return
	}

	caller, opts := h.requestContext(r)
	result, diags, err := h.Manager.GetPrompt(r.Context(), caller, opts, req.Name, req.Arguments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeDiagnostics(w, opts, diags)
	writeJSON(w, result)
}

// ListResources handles GET /resources/list.
func (h *RESTHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	caller, opts := h.requestContext(r)
	resources, diags, err := h.Manager.ListResources(r.Context(), caller, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeDiagnostics(w, opts, diags)

	resp := struct {
		Resources []MCPResource `json:"resources"`
	}{Resources: resources}
	if resp.Resources == nil {
		resp.Resources = []MCPResource{}
	}
	writeJSON(w, resp)
}

// ReadResource handles POST /resources/read.
func (h *RESTHandler) ReadResource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URI string `json:"uri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.URI == "" {
		http.Error(w, `{"error":"uri is required"}`, http.StatusBadRequest)
		return
	}

	caller, opts := h.requestContext(r)
	result, diags, err := h.Manager.ReadResource(r.Context(), caller, opts, req.URI)
	if err != nil {
		writeError(w, err)
		return
	}
	writeDiagnostics(w, opts, diags)
	writeJSON(w, result)
}

// Health handles GET /health: per-server reachability within the caller's
// scope.
func (h *RESTHandler) Health(w http.ResponseWriter, r *http.Request) {
	caller, opts := h.requestContext(r)
	results, err := h.Manager.Health(r.Context(), caller, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []ServerHealth{}
	}
	writeJSON(w, struct {
		Servers []ServerHealth `json:"servers"`
	}{Servers: results})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeDiagnostics emits the masked per-server auth headers and any branch
// failures behind a partial result on debug opt-in.
func writeDiagnostics(w http.ResponseWriter, opts RequestOptions, diags FanoutDiagnostics) {
	if !opts.DebugAuth {
		return
	}
	for alias, source := range diags.AuthSources {
		w.Header().Set(DebugAuthSourcePrefix+alias, source)
	}
	for alias, url := range diags.TargetURLs {
		w.Header().Set(DebugTargetURLPrefix+alias, url)
	}
	if len(diags.Errors) > 0 {
		w.Header().Set(DebugFanoutErrorsHeader, strings.Join(diags.Errors, "; "))
	}
}

// writeError maps gateway error classes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrAuthorization):
		status = http.StatusForbidden
	case errors.Is(err, ErrServerNotFound), errors.Is(err, ErrToolNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUpstream):
		status = http.StatusBadGateway
	case errors.Is(err, ErrConfiguration):
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}

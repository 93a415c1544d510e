package mcp

import (
	"net/http"
	"sort"
	"strings"
)

// Inbound header conventions.
const (
	// HeaderServers selects target servers or groups, comma-separated.
	HeaderServers = "x-mcp-servers"

	// HeaderAccessGroups selects target access groups, comma-separated.
	HeaderAccessGroups = "x-mcp-access-groups"

	// HeaderLegacyAuth carries a single auth value applied to every
	// server that has no per-server header.
	HeaderLegacyAuth = "x-mcp-auth"

	// HeaderSubjectToken carries the caller's OAuth2 token for
	// on-behalf-of exchange.
	HeaderSubjectToken = "x-mcp-subject-token"

	// HeaderDebugAuth opts into masked auth-resolution response headers.
	HeaderDebugAuth = "x-mcp-debug-auth"

	// HeaderProtocolVersion is the MCP protocol version announced by the
	// client; forwarded to upstream servers as-is.
	HeaderProtocolVersion = "MCP-Protocol-Version"

	// SessionIDHeader is the MCP transport session identifier.
	SessionIDHeader = "Mcp-Session-Id"

	// perServerPrefix starts every per-server header:
	// x-mcp-<server-alias>-<header-name>.
	perServerPrefix = "x-mcp-"
)

// Response headers emitted on debug opt-in, suffixed with the server alias.
const (
	DebugAuthSourcePrefix = "x-mcp-auth-source-"
	DebugTargetURLPrefix  = "x-mcp-target-url-"
)

// DebugFanoutErrorsHeader carries the branch failures behind a best-effort
// partial result, emitted on debug opt-in.
const DebugFanoutErrorsHeader = "x-mcp-fanout-errors"

// reservedMCPHeaders are x-mcp-* headers that are gateway controls, never
// per-server credentials.
var reservedMCPHeaders = map[string]bool{
	HeaderServers:      true,
	HeaderAccessGroups: true,
	HeaderLegacyAuth:   true,
	HeaderSubjectToken: true,
	HeaderDebugAuth:    true,
}

// RequestOptions carries the per-request knobs parsed from inbound headers.
type RequestOptions struct {
	// Selectors restricts the call to specific servers or groups.
	Selectors []string

	// LegacyAuth is the single x-mcp-auth value, if present.
	LegacyAuth string

	// PerServerHeaders maps server alias (lowercased) to header name
	// (canonical form) to value.
	PerServerHeaders map[string]map[string]string

	// SubjectToken is the caller token available for on-behalf-of
	// exchange.
	SubjectToken string

	// Passthrough is the full inbound header set; servers declaring
	// extra_headers get the named ones copied verbatim.
	Passthrough http.Header

	// DebugAuth enables masked auth-resolution response headers.
	DebugAuth bool
}

// OptionsFromRequest parses the gateway's header conventions. knownAliases
// is needed to split per-server header names, since aliases may themselves
// contain dashes.
func OptionsFromRequest(r *http.Request, knownAliases []string) RequestOptions {
	opts := RequestOptions{
		LegacyAuth:       r.Header.Get(HeaderLegacyAuth),
		SubjectToken:     strings.TrimPrefix(r.Header.Get(HeaderSubjectToken), "Bearer "),
		Passthrough:      r.Header,
		DebugAuth:        r.Header.Get(HeaderDebugAuth) != "",
		PerServerHeaders: parsePerServerHeaders(r.Header, knownAliases),
	}

	for _, raw := range strings.Split(r.Header.Get(HeaderServers), ",") {
		if token := strings.TrimSpace(raw); token != "" {
			opts.Selectors = append(opts.Selectors, token)
		}
	}
	for _, raw := range strings.Split(r.Header.Get(HeaderAccessGroups), ",") {
		if token := strings.TrimSpace(raw); token != "" {
			opts.Selectors = append(opts.Selectors, token)
		}
	}
	return opts
}

// parsePerServerHeaders extracts the x-mcp-<alias>-<header> family. Aliases
// are matched longest-first so an alias containing dashes wins over a
// shorter alias that happens to be its prefix.
func parsePerServerHeaders(h http.Header, knownAliases []string) map[string]map[string]string {
	aliases := make([]string, 0, len(knownAliases))
	for _, a := range knownAliases {
		if a != "" {
			aliases = append(aliases, strings.ToLower(a))
		}
	}
	sort.Slice(aliases, func(i, j int) bool { return len(aliases[i]) > len(aliases[j]) })

	var out map[string]map[string]string
	for name, values := range h {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, perServerPrefix) || reservedMCPHeaders[lower] {
			continue
		}
		rest := lower[len(perServerPrefix):]
		for _, alias := range aliases {
			if !strings.HasPrefix(rest, alias+"-") {
				continue
			}
			headerName := rest[len(alias)+1:]
			if headerName == "" || len(values) == 0 {
				break
			}
			if out == nil {
				out = make(map[string]map[string]string)
			}
			if out[alias] == nil {
				out[alias] = make(map[string]string)
			}
			out[alias][http.CanonicalHeaderKey(headerName)] = values[0]
			break
		}
	}
	return out
}

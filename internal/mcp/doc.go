// Package mcp implements the multi-tenant MCP gateway core: the upstream
// server registry, per-caller permission resolution, credential selection,
// concurrent fan-out of list/call operations, and transport session
// lifecycle handling.
//
// Permission model. A caller's allowed server set is derived from its key-
// and team-level grants: a team grant narrows a key grant (intersection)
// when both exist, a key inherits the team grant when it has none of its
// own, and a key grant stands alone when the team has none. Grants may name
// servers directly or via access groups.
//
// Operator note: when a caller has no MCP permission record at all (as
// opposed to an explicit empty grant), the gateway falls back to exposing
// all registered servers. This open-by-default posture is deliberate so
// that deployments without per-key MCP grants keep working; lock it down by
// creating permission records for every key or team.
package mcp

// gatewayVersion is announced to upstream servers during the MCP handshake.
const gatewayVersion = "1.0.0"

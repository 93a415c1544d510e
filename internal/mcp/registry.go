package mcp

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/praxisllmlab/mcpgateway/internal/store"
)

// Registry holds the upstream MCP servers known to the gateway: statically
// configured servers (immutable at runtime) unioned with dynamically
// registered servers mirrored from the external store. Dynamic entries
// override static ones on id collision.
type Registry struct {
	classifier *IPClassifier

	mu      sync.RWMutex
	static  map[string]MCPServerEntry
	dynamic map[string]MCPServerEntry

	// toolIndex maps bare tool name -> server id, built from successful
	// discovery calls. Used to route unprefixed tool calls.
	toolIndex map[string]string
}

// NewRegistry creates a registry seeded with static entries.
func NewRegistry(static []MCPServerEntry, classifier *IPClassifier) *Registry {
	r := &Registry{
		classifier: classifier,
		static:     make(map[string]MCPServerEntry, len(static)),
		dynamic:    make(map[string]MCPServerEntry),
		toolIndex:  make(map[string]string),
	}
	for _, e := range static {
		e.Static = true
		r.static[e.ServerID] = e
	}
	return r
}

// Register upserts a dynamic server entry, minting an id when the entry has
// none yet. Returns the id the entry is registered under.
func (r *Registry) Register(entry MCPServerEntry) string {
	entry.Static = false
	if entry.ServerID == "" {
		entry.ServerID = uuid.NewString()
	}
	r.mu.Lock()
	r.dynamic[entry.ServerID] = entry
	r.mu.Unlock()
	return entry.ServerID
}

// Remove deletes a dynamic server entry. Static entries cannot be removed.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.dynamic, id)
	r.mu.Unlock()
}

// SyncFromStore replaces the dynamic set with the store's current view.
// Store failures leave the previous mirror untouched.
func (r *Registry) SyncFromStore(ctx context.Context, st store.Store) error {
	if st == nil {
		return nil
	}
	records, err := st.ListMCPServers(ctx)
	if err != nil {
		return fmt.Errorf("sync mcp servers: %w", err)
	}

	next := make(map[string]MCPServerEntry, len(records))
	for _, rec := range records {
		entry := EntryFromRecord(rec)
		if entry.ServerID == "" {
			log.Printf("WARN: skipping stored MCP server with empty id (alias=%s)", rec.Alias)
			continue
		}
		next[entry.ServerID] = entry
	}

	r.mu.Lock()
	r.dynamic = next
	r.mu.Unlock()
	return nil
}

// LookupByID returns the entry for a server id, dynamic entries first.
func (r *Registry) LookupByID(id string) (MCPServerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.dynamic[id]; ok {
		return e, true
	}
	e, ok := r.static[id]
	return e, ok
}

// All returns every registered server, dynamic overriding static on id
// collision, ordered by server id for stable iteration.
func (r *Registry) All() []MCPServerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mergedLocked()
}

func (r *Registry) mergedLocked() []MCPServerEntry {
	merged := make(map[string]MCPServerEntry, len(r.static)+len(r.dynamic))
	for id, e := range r.static {
		merged[id] = e
	}
	for id, e := range r.dynamic {
		merged[id] = e
	}
	entries := make([]MCPServerEntry, 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ServerID < entries[j].ServerID })
	return entries
}

// IDs returns every registered server id.
func (r *Registry) IDs() []string {
	entries := r.All()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ServerID
	}
	return ids
}

// LookupByNameOrAlias resolves a selector token to server ids, matching
// case-insensitively against alias, then description, then id. A token that
// matches no server is expanded as an access-group name. Servers not
// visible to callerIP are excluded.
func (r *Registry) LookupByNameOrAlias(token, callerIP string) []string {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	visible := r.VisibleTo(callerIP)

	for _, match := range []func(MCPServerEntry) string{
		func(e MCPServerEntry) string { return e.Alias },
		func(e MCPServerEntry) string { return e.Description },
		func(e MCPServerEntry) string { return e.ServerID },
	} {
		for _, e := range visible {
			if strings.EqualFold(match(e), token) {
				return []string{e.ServerID}
			}
		}
	}

	// No direct match: treat the token as an access-group name.
	var ids []string
	for _, e := range visible {
		for _, g := range e.AccessGroups {
			if strings.EqualFold(g, token) {
				ids = append(ids, e.ServerID)
				break
			}
		}
	}
	return ids
}

// ExpandAccessGroup returns the ids of all servers (static and dynamic)
// belonging to the named group.
func (r *Registry) ExpandAccessGroup(group string) []string {
	var ids []string
	for _, e := range r.All() {
		for _, g := range e.AccessGroups {
			if strings.EqualFold(g, group) {
				ids = append(ids, e.ServerID)
				break
			}
		}
	}
	return ids
}

// VisibleTo filters servers by caller address: internal callers see all
// servers, external callers only those marked allow_external.
func (r *Registry) VisibleTo(callerIP string) []MCPServerEntry {
	all := r.All()
	if r.classifier == nil || r.classifier.IsInternal(callerIP) {
		return all
	}
	visible := all[:0:0]
	for _, e := range all {
		if e.AllowExternal {
			visible = append(visible, e)
		}
	}
	return visible
}

// UpdateToolIndex records which server exposes which bare tool names,
// from a successful discovery call.
func (r *Registry) UpdateToolIndex(serverID string, toolNames []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range toolNames {
		r.toolIndex[name] = serverID
	}
}

// ServerForTool resolves an unprefixed tool name via the discovery index.
func (r *Registry) ServerForTool(bareName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.toolIndex[bareName]
	return id, ok
}

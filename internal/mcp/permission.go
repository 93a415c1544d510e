package mcp

import (
	"context"
	"log"
	"strings"

	"github.com/praxisllmlab/mcpgateway/internal/store"
)

// PermissionSet is the per-call result of permission resolution.
type PermissionSet struct {
	ServerIDs    []string
	AccessGroups []string
}

// Allows reports whether a server id is in the allowed set.
func (p PermissionSet) Allows(serverID string) bool {
	for _, id := range p.ServerIDs {
		if id == serverID {
			return true
		}
	}
	return false
}

// PermissionResolver computes a caller's allowed server set from its key-
// and team-level permission records.
type PermissionResolver struct {
	registry *Registry
	store    store.Store
}

// NewPermissionResolver creates a resolver. A nil store means no permission
// records exist anywhere, so every caller gets the open-by-default set.
func NewPermissionResolver(registry *Registry, st store.Store) *PermissionResolver {
	return &PermissionResolver{registry: registry, store: st}
}

// Resolve computes the caller's PermissionSet.
//
// Key and team grants are resolved independently (direct servers unioned
// with access-group expansions), then combined: a non-empty team grant
// narrows a non-empty key grant by intersection, a key with no grant of its
// own inherits the team grant, and a key grant stands alone when the team
// has none. Lookup failures degrade to an empty set — never grant on error.
//
// When no permission record exists at all, the caller is granted all
// registered servers (open-by-default; see the package doc).
func (p *PermissionResolver) Resolve(ctx context.Context, caller CallerIdentity) PermissionSet {
	if p.store == nil {
		return p.openDefault()
	}

	rec, err := p.store.GetPermissionRecord(ctx, caller.TokenHash, caller.TeamID)
	if err != nil {
		log.Printf("ERROR: permission lookup failed for key=%s team=%s: %v",
			MaskSecret(caller.TokenHash), caller.TeamID, err)
		return PermissionSet{}
	}

	if !rec.Found {
		// Absence of a record, not an explicit empty grant.
		return p.openDefault()
	}

	keyServers := p.expandGrant(rec.KeyServers, rec.KeyAccessGroups)
	teamServers := p.expandGrant(rec.TeamServers, rec.TeamAccessGroups)

	return PermissionSet{
		ServerIDs:    combineTwoTier(keyServers, teamServers),
		AccessGroups: combineTwoTier(rec.KeyAccessGroups, rec.TeamAccessGroups),
	}
}

func (p *PermissionResolver) openDefault() PermissionSet {
	var groups []string
	seen := map[string]bool{}
	for _, e := range p.registry.All() {
		for _, g := range e.AccessGroups {
			if !seen[g] {
				seen[g] = true
				groups = append(groups, g)
			}
		}
	}
	return PermissionSet{ServerIDs: p.registry.IDs(), AccessGroups: groups}
}

// expandGrant canonicalizes one tier's grant: entries may name a server by
// id, alias or description, and group names expand to their members. Only
// servers present in the registry survive.
func (p *PermissionResolver) expandGrant(servers, groups []string) []string {
	allowed := map[string]bool{}
	all := p.registry.All()

	for _, token := range servers {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		for _, e := range all {
			if e.ServerID == token ||
				strings.EqualFold(e.Alias, token) ||
				(e.Description != "" && strings.EqualFold(e.Description, token)) {
				allowed[e.ServerID] = true
			}
		}
	}
	for _, group := range groups {
		for _, id := range p.registry.ExpandAccessGroup(group) {
			allowed[id] = true
		}
	}

	// Preserve registry order for deterministic results.
	var ids []string
	for _, e := range all {
		if allowed[e.ServerID] {
			ids = append(ids, e.ServerID)
		}
	}
	return ids
}

// combineTwoTier applies the key/team inheritance rule to any grant kind.
func combineTwoTier(key, team []string) []string {
	if len(team) == 0 {
		return key
	}
	if len(key) == 0 {
		return team
	}
	teamSet := toSet(team)
	var both []string
	for _, v := range key {
		if teamSet[v] {
			both = append(both, v)
		}
	}
	return both
}

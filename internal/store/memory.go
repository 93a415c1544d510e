package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and by deployments that
// run without a database (static config only).
type MemoryStore struct {
	mu          sync.RWMutex
	servers     map[string]MCPServerRecord
	permissions map[string]PermissionRecord // keyed by tokenHash or "team:"+teamID
	err         error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		servers:     make(map[string]MCPServerRecord),
		permissions: make(map[string]PermissionRecord),
	}
}

var _ Store = (*MemoryStore)(nil)

// PutServer upserts a server record.
func (s *MemoryStore) PutServer(rec MCPServerRecord) {
	s.mu.Lock()
	s.servers[rec.ServerID] = rec
	s.mu.Unlock()
}

// DeleteServer removes a server record.
func (s *MemoryStore) DeleteServer(id string) {
	s.mu.Lock()
	delete(s.servers, id)
	s.mu.Unlock()
}

// PutKeyPermissions sets the key-level grants for a token hash.
func (s *MemoryStore) PutKeyPermissions(tokenHash string, servers, groups []string) {
	s.mu.Lock()
	rec := s.permissions[tokenHash]
	rec.Found = true
	rec.KeyServers = servers
	rec.KeyAccessGroups = groups
	s.permissions[tokenHash] = rec
	s.mu.Unlock()
}

// PutTeamPermissions sets the team-level grants for a team id.
func (s *MemoryStore) PutTeamPermissions(teamID string, servers, groups []string) {
	s.mu.Lock()
	rec := s.permissions["team:"+teamID]
	rec.Found = true
	rec.TeamServers = servers
	rec.TeamAccessGroups = groups
	s.permissions["team:"+teamID] = rec
	s.mu.Unlock()
}

// FailWith makes every subsequent call return err. Used to test degradation.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *MemoryStore) GetMCPServer(_ context.Context, id string) (MCPServerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return MCPServerRecord{}, s.err
	}
	rec, ok := s.servers[id]
	if !ok {
		return MCPServerRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ListMCPServers(_ context.Context) ([]MCPServerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	records := make([]MCPServerRecord, 0, len(s.servers))
	for _, rec := range s.servers {
		records = append(records, rec)
	}
	return records, nil
}

func (s *MemoryStore) GetPermissionRecord(_ context.Context, tokenHash, teamID string) (PermissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return PermissionRecord{}, s.err
	}

	var rec PermissionRecord
	if key, ok := s.permissions[tokenHash]; ok && tokenHash != "" {
		rec.Found = true
		rec.KeyServers = key.KeyServers
		rec.KeyAccessGroups = key.KeyAccessGroups
	}
	if team, ok := s.permissions["team:"+teamID]; ok && teamID != "" {
		rec.Found = true
		rec.TeamServers = team.TeamServers
		rec.TeamAccessGroups = team.TeamAccessGroups
	}
	return rec, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against the proxy's Postgres database.
// The schema is owned by the admin surface; this core only reads it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Compile-time check.
var _ Store = (*PostgresStore)(nil)

// Pool returns the underlying pool for health checks.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

const serverColumns = `server_id, alias, description, transport, url, command, args,
	auth_type, auth_token,
	oauth2_client_id, oauth2_client_secret, oauth2_token_url, oauth2_audience, oauth2_scopes,
	static_headers, allowed_tools, disallowed_tools, access_groups, extra_headers,
	allow_external, timeout_seconds`

func (s *PostgresStore) GetMCPServer(ctx context.Context, id string) (MCPServerRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+serverColumns+` FROM mcp_server_table WHERE server_id = $1`, id)
	rec, err := scanServer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return MCPServerRecord{}, ErrNotFound
	}
	if err != nil {
		return MCPServerRecord{}, fmt.Errorf("get mcp server %s: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresStore) ListMCPServers(ctx context.Context) ([]MCPServerRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+serverColumns+` FROM mcp_server_table ORDER BY server_id`)
	if err != nil {
		return nil, fmt.Errorf("list mcp servers: %w", err)
	}
	defer rows.Close()

	var records []MCPServerRecord
	for rows.Next() {
		rec, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mcp server: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) GetPermissionRecord(ctx context.Context, tokenHash, teamID string) (PermissionRecord, error) {
	var rec PermissionRecord

	keyFound := false
	if tokenHash != "" {
		err := s.pool.QueryRow(ctx,
			`SELECT mcp_servers, mcp_access_groups FROM verification_token WHERE token = $1`,
			tokenHash).Scan(&rec.KeyServers, &rec.KeyAccessGroups)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// no key record
		case err != nil:
			return PermissionRecord{}, fmt.Errorf("get key permissions: %w", err)
		default:
			keyFound = true
		}
	}

	teamFound := false
	if teamID != "" {
		err := s.pool.QueryRow(ctx,
			`SELECT mcp_servers, mcp_access_groups FROM team_table WHERE team_id = $1`,
			teamID).Scan(&rec.TeamServers, &rec.TeamAccessGroups)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// no team record
		case err != nil:
			return PermissionRecord{}, fmt.Errorf("get team permissions: %w", err)
		default:
			teamFound = true
		}
	}

	rec.Found = keyFound || teamFound
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (MCPServerRecord, error) {
	var rec MCPServerRecord
	var staticHeaders []byte
	err := row.Scan(
		&rec.ServerID, &rec.Alias, &rec.Description, &rec.Transport, &rec.URL,
		&rec.Command, &rec.Args,
		&rec.AuthType, &rec.AuthToken,
		&rec.OAuth2ClientID, &rec.OAuth2ClientSecret, &rec.OAuth2TokenURL,
		&rec.OAuth2Audience, &rec.OAuth2Scopes,
		&staticHeaders, &rec.AllowedTools, &rec.DisallowedTools,
		&rec.AccessGroups, &rec.ExtraHeaders,
		&rec.AllowExternal, &rec.TimeoutSeconds,
	)
	if err != nil {
		return MCPServerRecord{}, err
	}
	if len(staticHeaders) > 0 {
		if err := json.Unmarshal(staticHeaders, &rec.StaticHeaders); err != nil {
			return MCPServerRecord{}, fmt.Errorf("decode static_headers: %w", err)
		}
	}
	return rec, nil
}

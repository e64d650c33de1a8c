// Package tenancy resolves external identifiers to tenants (spec §4.C) and
// executes storage operations bound to one tenant's isolated scope
// (spec §4.D).
package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/ocx/ingestcore/internal/domain"
)

// ErrNotConnected is returned by GetSealedCredentials when a tenant has no
// active connection (spec §7 NOT_CONNECTED).
var ErrNotConnected = errors.New("tenancy: not connected")

// SealedCredentials is the narrow view GetSealedCredentials returns.
type SealedCredentials struct {
	SealedAccessToken   string
	SealedWebhookSecret string // may be empty: caller falls back to app secret
	Capabilities        []string
	ProtocolVersion     string
}

// Registry resolves external identifiers to tenants and manages
// connection/inbound-address rows (spec §4.C).
type Registry interface {
	ResolveByShop(ctx context.Context, hostname string) (tenantID string, ok bool, err error)
	ResolveByInboundAddress(ctx context.Context, address string) (*InboundResolution, bool, error)
	GetConnection(ctx context.Context, tenantID string) (*domain.Connection, bool, error)
	GetSealedCredentials(ctx context.Context, tenantID string) (*SealedCredentials, error)
	UpsertConnection(ctx context.Context, conn *domain.Connection) error
	MarkConnectionDisconnected(ctx context.Context, tenantID string) error
	MarkConnectionDeleted(ctx context.Context, tenantID string) error
	TouchLastInbound(ctx context.Context, tenantID string, at time.Time) error
}

// InboundResolution is what ResolveByInboundAddress returns.
type InboundResolution struct {
	TenantID   string
	TenantSlug string
	Purpose    domain.InboundPurpose
	AddressID  string
}

// PostgresRegistry implements Registry against the shared registry schema
// using database/sql + lib/pq.
type PostgresRegistry struct {
	db    *sql.DB
	cache *credentialCache
}

// NewPostgresRegistry wires a Registry with a process-local credential
// cache (TTL default 60s per spec §4.C).
func NewPostgresRegistry(db *sql.DB, credentialTTL time.Duration) *PostgresRegistry {
	if credentialTTL <= 0 {
		credentialTTL = 60 * time.Second
	}
	return &PostgresRegistry{db: db, cache: newCredentialCache(credentialTTL)}
}

func (r *PostgresRegistry) ResolveByShop(ctx context.Context, hostname string) (string, bool, error) {
	var tenantID string
	err := r.db.QueryRowContext(ctx, `
		SELECT tenant_id FROM connections
		WHERE external_id = $1 AND status = 'active'
		LIMIT 1`, strings.ToLower(hostname)).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("tenancy: resolve by shop: %w", err)
	}
	return tenantID, true, nil
}

func (r *PostgresRegistry) ResolveByInboundAddress(ctx context.Context, address string) (*InboundResolution, bool, error) {
	var res InboundResolution
	err := r.db.QueryRowContext(ctx, `
		SELECT ia.tenant_id, t.slug, ia.purpose, ia.address
		FROM inbound_addresses ia
		JOIN tenants t ON t.id = ia.tenant_id
		WHERE ia.address = $1 AND ia.enabled = true AND t.status = 'active'
		LIMIT 1`, strings.ToLower(address)).Scan(&res.TenantID, &res.TenantSlug, &res.Purpose, &res.AddressID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("tenancy: resolve by inbound address: %w", err)
	}
	return &res, true, nil
}

func (r *PostgresRegistry) GetConnection(ctx context.Context, tenantID string) (*domain.Connection, bool, error) {
	var c domain.Connection
	c.TenantID = tenantID
	err := r.db.QueryRowContext(ctx, `
		SELECT external_id, sealed_access_token, COALESCE(sealed_webhook_secret, ''),
		       capabilities, protocol_version, status, last_inbound_at, last_sync_at, installed_at
		FROM connections
		WHERE tenant_id = $1 AND status != 'disconnected'
		LIMIT 1`, tenantID).Scan(
		&c.ExternalID, &c.SealedAccessToken, &c.SealedWebhookSecret,
		pq.Array(&c.Capabilities), &c.ProtocolVersion, &c.Status,
		&c.LastInboundAt, &c.LastSyncAt, &c.InstalledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("tenancy: get connection: %w", err)
	}
	return &c, true, nil
}

func (r *PostgresRegistry) GetSealedCredentials(ctx context.Context, tenantID string) (*SealedCredentials, error) {
	if cached, ok := r.cache.get(tenantID); ok {
		return cached, nil
	}

	conn, ok, err := r.GetConnection(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotConnected
	}

	creds := &SealedCredentials{
		SealedAccessToken:   conn.SealedAccessToken,
		SealedWebhookSecret: conn.SealedWebhookSecret,
		Capabilities:        conn.Capabilities,
		ProtocolVersion:     conn.ProtocolVersion,
	}
	r.cache.put(tenantID, creds)
	return creds, nil
}

func (r *PostgresRegistry) UpsertConnection(ctx context.Context, conn *domain.Connection) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO connections (tenant_id, external_id, sealed_access_token, sealed_webhook_secret,
		                          capabilities, protocol_version, status, installed_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, now())
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
		  sealed_access_token = EXCLUDED.sealed_access_token,
		  sealed_webhook_secret = EXCLUDED.sealed_webhook_secret,
		  capabilities = EXCLUDED.capabilities,
		  protocol_version = EXCLUDED.protocol_version,
		  status = EXCLUDED.status`,
		conn.TenantID, strings.ToLower(conn.ExternalID), conn.SealedAccessToken, conn.SealedWebhookSecret,
		pq.Array(conn.Capabilities), conn.ProtocolVersion, conn.Status)
	if err != nil {
		return fmt.Errorf("tenancy: upsert connection: %w", err)
	}
	r.cache.invalidate(conn.TenantID)
	return nil
}

func (r *PostgresRegistry) MarkConnectionDisconnected(ctx context.Context, tenantID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE connections
		SET status = 'disconnected', sealed_access_token = NULL, sealed_webhook_secret = NULL
		WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("tenancy: mark disconnected: %w", err)
	}
	r.cache.invalidate(tenantID)
	return nil
}

func (r *PostgresRegistry) MarkConnectionDeleted(ctx context.Context, tenantID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE connections
		SET status = 'deleted', sealed_access_token = NULL, sealed_webhook_secret = NULL
		WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("tenancy: mark deleted: %w", err)
	}
	r.cache.invalidate(tenantID)
	return nil
}

// TouchLastInbound updates the connection's last-inbound timestamp. Spec
// §5 explicitly allows last-writer-wins semantics here.
func (r *PostgresRegistry) TouchLastInbound(ctx context.Context, tenantID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE connections SET last_inbound_at = $2 WHERE tenant_id = $1`, tenantID, at)
	if err != nil {
		return fmt.Errorf("tenancy: touch last inbound: %w", err)
	}
	return nil
}

package tenancy

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ocx/ingestcore/internal/domain"
)

// MemoryRegistry is an in-memory Registry fake used by unit tests across
// the ingress and handler packages, following the teacher's habit of
// hand-rolled in-memory fakes over a mocking framework
// (tests/governance_e2e_test.go: reputation.NewReputationWallet(nil)).
type MemoryRegistry struct {
	mu              sync.Mutex
	byShop          map[string]string // shop -> tenant id
	inboundAddrs    map[string]InboundResolution
	connections     map[string]*domain.Connection
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		byShop:       make(map[string]string),
		inboundAddrs: make(map[string]InboundResolution),
		connections:  make(map[string]*domain.Connection),
	}
}

func (m *MemoryRegistry) AddConnection(conn *domain.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn.TenantID] = conn
	if conn.Status == domain.ConnectionActive {
		m.byShop[strings.ToLower(conn.ExternalID)] = conn.TenantID
	}
}

func (m *MemoryRegistry) AddInboundAddress(addr string, res InboundResolution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inboundAddrs[strings.ToLower(addr)] = res
}

func (m *MemoryRegistry) ResolveByShop(_ context.Context, hostname string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byShop[strings.ToLower(hostname)]
	return id, ok, nil
}

func (m *MemoryRegistry) ResolveByInboundAddress(_ context.Context, address string) (*InboundResolution, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.inboundAddrs[strings.ToLower(address)]
	if !ok {
		return nil, false, nil
	}
	cp := res
	return &cp, true, nil
}

func (m *MemoryRegistry) GetConnection(_ context.Context, tenantID string) (*domain.Connection, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[tenantID]
	if !ok || conn.Status == domain.ConnectionDisconnected {
		return nil, false, nil
	}
	return conn, true, nil
}

func (m *MemoryRegistry) GetSealedCredentials(ctx context.Context, tenantID string) (*SealedCredentials, error) {
	conn, ok, err := m.GetConnection(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotConnected
	}
	return &SealedCredentials{
		SealedAccessToken:   conn.SealedAccessToken,
		SealedWebhookSecret: conn.SealedWebhookSecret,
		Capabilities:        conn.Capabilities,
		ProtocolVersion:     conn.ProtocolVersion,
	}, nil
}

func (m *MemoryRegistry) UpsertConnection(_ context.Context, conn *domain.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn.TenantID] = conn
	if conn.Status == domain.ConnectionActive {
		m.byShop[strings.ToLower(conn.ExternalID)] = conn.TenantID
	}
	return nil
}

func (m *MemoryRegistry) MarkConnectionDisconnected(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.connections[tenantID]; ok {
		conn.Status = domain.ConnectionDisconnected
		conn.SealedAccessToken = ""
		conn.SealedWebhookSecret = ""
		delete(m.byShop, strings.ToLower(conn.ExternalID))
	}
	return nil
}

func (m *MemoryRegistry) MarkConnectionDeleted(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.connections[tenantID]; ok {
		conn.Status = domain.ConnectionDeleted
		conn.SealedAccessToken = ""
		conn.SealedWebhookSecret = ""
		delete(m.byShop, strings.ToLower(conn.ExternalID))
	}
	return nil
}

func (m *MemoryRegistry) TouchLastInbound(_ context.Context, tenantID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.connections[tenantID]; ok {
		t := at
		conn.LastInboundAt = &t
	}
	return nil
}

var _ Registry = (*MemoryRegistry)(nil)

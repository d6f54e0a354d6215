package channel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/channelsync/engine/internal/domain/channel"
	"github.com/channelsync/engine/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// MockConnectionRepository is a mock implementation of ConnectionRepository
type MockConnectionRepository struct {
	mock.Mock
}

func (m *MockConnectionRepository) FindByTenantAndProvider(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode) (*channel.Connection, error) {
	args := m.Called(ctx, tenantID, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*channel.Connection), args.Error(1)
}

func (m *MockConnectionRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*channel.Connection, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*channel.Connection), args.Error(1)
}

func (m *MockConnectionRepository) FindByStatus(ctx context.Context, status channel.ConnectionStatus) ([]*channel.Connection, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*channel.Connection), args.Error(1)
}

func (m *MockConnectionRepository) Save(ctx context.Context, conn *channel.Connection) error {
	args := m.Called(ctx, conn)
	return args.Error(0)
}

func (m *MockConnectionRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to channel.ConnectionStatus) error {
	args := m.Called(ctx, id, from, to)
	return args.Error(0)
}

func (m *MockConnectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockSyncJobRepository is a mock implementation of SyncJobRepository
type MockSyncJobRepository struct {
	mock.Mock
}

func (m *MockSyncJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*channel.SyncJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*channel.SyncJob), args.Error(1)
}

func (m *MockSyncJobRepository) FindActive(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode) (*channel.SyncJob, error) {
	args := m.Called(ctx, tenantID, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*channel.SyncJob), args.Error(1)
}

func (m *MockSyncJobRepository) FindRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]*channel.SyncJob, error) {
	args := m.Called(ctx, tenantID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*channel.SyncJob), args.Error(1)
}

func (m *MockSyncJobRepository) Save(ctx context.Context, job *channel.SyncJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockSyncJobRepository) PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// MockVault is a mock implementation of Vault
type MockVault struct {
	mock.Mock
}

func (m *MockVault) Store(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode, bundle *channel.CredentialBundle) (uuid.UUID, error) {
	args := m.Called(ctx, tenantID, provider, bundle)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockVault) Fetch(ctx context.Context, handle uuid.UUID) (*channel.CredentialBundle, error) {
	args := m.Called(ctx, handle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*channel.CredentialBundle), args.Error(1)
}

func (m *MockVault) Refresh(ctx context.Context, handle uuid.UUID) (uuid.UUID, error) {
	args := m.Called(ctx, handle)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockVault) Delete(ctx context.Context, handle uuid.UUID) error {
	args := m.Called(ctx, handle)
	return args.Error(0)
}

// MockProviderAdapter is a mock implementation of ProviderAdapter
type MockProviderAdapter struct {
	mock.Mock
	code channel.ProviderCode
	caps channel.AdapterCapabilities
}

func (m *MockProviderAdapter) Provider() channel.ProviderCode { return m.code }

func (m *MockProviderAdapter) Capabilities() channel.AdapterCapabilities { return m.caps }

func (m *MockProviderAdapter) Authorize(ctx context.Context, init channel.AuthInit) (*channel.CredentialBundle, error) {
	args := m.Called(ctx, init)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*channel.CredentialBundle), args.Error(1)
}

func (m *MockProviderAdapter) Refresh(ctx context.Context, bundle *channel.CredentialBundle) (*channel.CredentialBundle, error) {
	args := m.Called(ctx, bundle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*channel.CredentialBundle), args.Error(1)
}

func (m *MockProviderAdapter) ListRemoteRecords(ctx context.Context, bundle *channel.CredentialBundle, cursor string) ([]channel.RemoteRecord, string, error) {
	args := m.Called(ctx, bundle, cursor)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]channel.RemoteRecord), args.String(1), args.Error(2)
}

func (m *MockProviderAdapter) ApplyRemoteMutation(ctx context.Context, bundle *channel.CredentialBundle, mutation channel.RemoteMutation) (*channel.Ack, error) {
	args := m.Called(ctx, bundle, mutation)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*channel.Ack), args.Error(1)
}

func (m *MockProviderAdapter) Revoke(ctx context.Context, bundle *channel.CredentialBundle) error {
	args := m.Called(ctx, bundle)
	return args.Error(0)
}

func (m *MockProviderAdapter) ParseWebhook(payload []byte) (channel.SyncKind, error) {
	args := m.Called(payload)
	return args.Get(0).(channel.SyncKind), args.Error(1)
}

// MockAdapterRegistry is a mock implementation of AdapterRegistry
type MockAdapterRegistry struct {
	mock.Mock
}

func (m *MockAdapterRegistry) Get(provider channel.ProviderCode) (channel.ProviderAdapter, error) {
	args := m.Called(provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(channel.ProviderAdapter), args.Error(1)
}

func (m *MockAdapterRegistry) List() []channel.ProviderAdapter {
	args := m.Called()
	return args.Get(0).([]channel.ProviderAdapter)
}

// MockEventPublisher is a mock implementation of shared.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type connectionFixture struct {
	connRepo *MockConnectionRepository
	jobRepo  *MockSyncJobRepository
	vault    *MockVault
	registry *MockAdapterRegistry
	adapter  *MockProviderAdapter
	events   *MockEventPublisher
	service  *ConnectionServiceImpl
}

func newConnectionFixture(provider channel.ProviderCode) *connectionFixture {
	f := &connectionFixture{
		connRepo: new(MockConnectionRepository),
		jobRepo:  new(MockSyncJobRepository),
		vault:    new(MockVault),
		registry: new(MockAdapterRegistry),
		adapter:  &MockProviderAdapter{code: provider, caps: channel.AdapterCapabilities{Import: true, Export: true, Webhooks: true}},
		events:   new(MockEventPublisher),
	}
	f.service = NewConnectionService(f.connRepo, f.jobRepo, f.vault, f.registry, f.events, zap.NewNop())
	return f
}

func connectedConn(t *testing.T, tenantID uuid.UUID, provider channel.ProviderCode) *channel.Connection {
	t.Helper()
	conn, err := channel.NewConnection(tenantID, provider)
	require.NoError(t, err)
	require.NoError(t, conn.CompleteAuthorize(uuid.New()))
	conn.ClearDomainEvents()
	return conn
}

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

func TestConnectionService_Connect(t *testing.T) {
	tenantID := uuid.New()
	f := newConnectionFixture(channel.ProviderShopify)
	bundle := &channel.CredentialBundle{AccessToken: "at", RefreshToken: "rt"}
	handle := uuid.New()

	f.registry.On("Get", channel.ProviderShopify).Return(f.adapter, nil)
	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderShopify).
		Return(nil, channel.ErrConnectionNotFound)
	f.adapter.On("Authorize", mock.Anything, mock.Anything).Return(bundle, nil)
	f.vault.On("Store", mock.Anything, tenantID, channel.ProviderShopify, bundle).Return(handle, nil)
	f.connRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
	f.events.On("Publish", mock.Anything, mock.Anything).Return(nil)

	resp, err := f.service.Connect(context.Background(), tenantID, ConnectRequest{
		Provider: channel.ProviderShopify,
		Code:     "auth-code",
	})

	require.NoError(t, err)
	assert.Equal(t, channel.StatusConnected, resp.Status)
	f.connRepo.AssertExpectations(t)
	f.vault.AssertExpectations(t)
}

func TestConnectionService_Connect_AlreadyConnected(t *testing.T) {
	tenantID := uuid.New()
	f := newConnectionFixture(channel.ProviderShopify)
	existing := connectedConn(t, tenantID, channel.ProviderShopify)

	f.registry.On("Get", channel.ProviderShopify).Return(f.adapter, nil)
	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderShopify).
		Return(existing, nil)

	_, err := f.service.Connect(context.Background(), tenantID, ConnectRequest{Provider: channel.ProviderShopify, Code: "c"})

	assert.ErrorIs(t, err, channel.ErrConnectionExists)
}

func TestConnectionService_Connect_ReauthorizesErroredConnection(t *testing.T) {
	tenantID := uuid.New()
	f := newConnectionFixture(channel.ProviderShopify)
	existing := connectedConn(t, tenantID, channel.ProviderShopify)
	require.NoError(t, existing.MarkError(channel.ErrorReasonAuthExpired, "expired"))
	existing.ClearDomainEvents()
	bundle := &channel.CredentialBundle{AccessToken: "at"}
	handle := uuid.New()

	f.registry.On("Get", channel.ProviderShopify).Return(f.adapter, nil)
	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderShopify).
		Return(existing, nil)
	f.adapter.On("Authorize", mock.Anything, mock.Anything).Return(bundle, nil)
	f.vault.On("Store", mock.Anything, tenantID, channel.ProviderShopify, bundle).Return(handle, nil)
	f.connRepo.On("Save", mock.Anything, existing).Return(nil)
	f.events.On("Publish", mock.Anything, mock.Anything).Return(nil)

	resp, err := f.service.Connect(context.Background(), tenantID, ConnectRequest{Provider: channel.ProviderShopify, Code: "c"})

	require.NoError(t, err)
	assert.Equal(t, channel.StatusConnected, resp.Status)
	assert.Equal(t, handle, existing.CredentialHandle)
	assert.Empty(t, resp.Reason)
}

func TestConnectionService_Connect_HandshakeDenied(t *testing.T) {
	tenantID := uuid.New()
	f := newConnectionFixture(channel.ProviderEtsy)
	f.adapter.code = channel.ProviderEtsy

	f.registry.On("Get", channel.ProviderEtsy).Return(f.adapter, nil)
	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderEtsy).
		Return(nil, channel.ErrConnectionNotFound)
	f.adapter.On("Authorize", mock.Anything, mock.Anything).Return(nil, channel.ErrAuthExpired)
	f.connRepo.On("Save", mock.Anything, mock.MatchedBy(func(c *channel.Connection) bool {
		return c.Status == channel.StatusDisconnected
	})).Return(nil)

	_, err := f.service.Connect(context.Background(), tenantID, ConnectRequest{Provider: channel.ProviderEtsy, Code: "bad"})

	assert.ErrorIs(t, err, channel.ErrAuthExpired)
	f.connRepo.AssertExpectations(t)
	f.vault.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// ---------------------------------------------------------------------------
// Disconnect
// ---------------------------------------------------------------------------

func TestConnectionService_Disconnect(t *testing.T) {
	tenantID := uuid.New()
	f := newConnectionFixture(channel.ProviderShopify)
	conn := connectedConn(t, tenantID, channel.ProviderShopify)
	handle := conn.CredentialHandle
	bundle := &channel.CredentialBundle{AccessToken: "at"}

	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderShopify).
		Return(conn, nil)
	f.jobRepo.On("FindActive", mock.Anything, tenantID, channel.ProviderShopify).
		Return(nil, channel.ErrJobNotFound)
	f.registry.On("Get", channel.ProviderShopify).Return(f.adapter, nil)
	f.vault.On("Fetch", mock.Anything, handle).Return(bundle, nil)
	f.adapter.On("Revoke", mock.Anything, bundle).Return(nil)
	f.vault.On("Delete", mock.Anything, handle).Return(nil)
	f.events.On("Publish", mock.Anything, mock.Anything).Return(nil)
	f.connRepo.On("Delete", mock.Anything, conn.ID).Return(nil)

	err := f.service.Disconnect(context.Background(), tenantID, channel.ProviderShopify)

	require.NoError(t, err)
	assert.Equal(t, channel.StatusDisconnected, conn.Status)
	f.vault.AssertExpectations(t)
	f.connRepo.AssertExpectations(t)
}

func TestConnectionService_Disconnect_DrainsRunningJobBeforeTeardown(t *testing.T) {
	tenantID := uuid.New()
	f := newConnectionFixture(channel.ProviderShopify)
	conn := connectedConn(t, tenantID, channel.ProviderShopify)
	job, err := channel.NewSyncJob(tenantID, channel.ProviderShopify, channel.SyncKindStock, channel.PriorityHigh)
	require.NoError(t, err)
	require.NoError(t, job.Start())

	// Snapshot of the stored row once the worker observed the cancel flag
	// and parked the job.
	drained := *job
	require.NoError(t, drained.CancelCooperative(channel.ResultSummary{Updated: 1}))

	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderShopify).
		Return(conn, nil)
	f.jobRepo.On("FindActive", mock.Anything, tenantID, channel.ProviderShopify).Return(job, nil)
	f.jobRepo.On("Save", mock.Anything, job).Return(nil)
	f.jobRepo.On("FindByID", mock.Anything, job.ID).Return(job, nil).Once()
	f.jobRepo.On("FindByID", mock.Anything, job.ID).Return(&drained, nil)
	f.registry.On("Get", channel.ProviderShopify).Return(f.adapter, nil)
	f.vault.On("Fetch", mock.Anything, mock.Anything).Return(nil, channel.ErrCredentialNotFound)
	f.vault.On("Delete", mock.Anything, mock.Anything).Return(nil)
	f.events.On("Publish", mock.Anything, mock.Anything).Return(nil)
	f.connRepo.On("Delete", mock.Anything, conn.ID).Return(nil)

	require.NoError(t, f.service.Disconnect(context.Background(), tenantID, channel.ProviderShopify))

	assert.True(t, job.CancelRequested)
	f.jobRepo.AssertNumberOfCalls(t, "FindByID", 2)
	f.connRepo.AssertCalled(t, "Delete", mock.Anything, conn.ID)
}

func TestConnectionService_Disconnect_AbortsWhenJobPollFails(t *testing.T) {
	tenantID := uuid.New()
	f := newConnectionFixture(channel.ProviderShopify)
	conn := connectedConn(t, tenantID, channel.ProviderShopify)
	job, err := channel.NewSyncJob(tenantID, channel.ProviderShopify, channel.SyncKindStock, channel.PriorityHigh)
	require.NoError(t, err)
	require.NoError(t, job.Start())

	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderShopify).
		Return(conn, nil)
	f.jobRepo.On("FindActive", mock.Anything, tenantID, channel.ProviderShopify).Return(job, nil)
	f.jobRepo.On("Save", mock.Anything, job).Return(nil)
	f.jobRepo.On("FindByID", mock.Anything, job.ID).Return(nil, shared.ErrInvalidInput)

	err = f.service.Disconnect(context.Background(), tenantID, channel.ProviderShopify)

	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	f.vault.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	f.connRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestConnectionService_Disconnect_ProceedsWhenRevokeFails(t *testing.T) {
	tenantID := uuid.New()
	f := newConnectionFixture(channel.ProviderShopify)
	conn := connectedConn(t, tenantID, channel.ProviderShopify)
	bundle := &channel.CredentialBundle{AccessToken: "at"}

	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderShopify).
		Return(conn, nil)
	f.jobRepo.On("FindActive", mock.Anything, tenantID, channel.ProviderShopify).
		Return(nil, channel.ErrJobNotFound)
	f.registry.On("Get", channel.ProviderShopify).Return(f.adapter, nil)
	f.vault.On("Fetch", mock.Anything, mock.Anything).Return(bundle, nil)
	f.adapter.On("Revoke", mock.Anything, bundle).Return(channel.ErrTransient)
	f.vault.On("Delete", mock.Anything, mock.Anything).Return(nil)
	f.events.On("Publish", mock.Anything, mock.Anything).Return(nil)
	f.connRepo.On("Delete", mock.Anything, conn.ID).Return(nil)

	assert.NoError(t, f.service.Disconnect(context.Background(), tenantID, channel.ProviderShopify))
	f.connRepo.AssertExpectations(t)
}

// ---------------------------------------------------------------------------
// Mappings
// ---------------------------------------------------------------------------

func TestConnectionService_UpdateMappings(t *testing.T) {
	tenantID := uuid.New()
	f := newConnectionFixture(channel.ProviderShopify)
	conn := connectedConn(t, tenantID, channel.ProviderShopify)
	mappings := json.RawMessage(`{"sku_field":"vendor_sku"}`)

	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderShopify).
		Return(conn, nil)
	f.connRepo.On("Save", mock.Anything, conn).Return(nil)

	resp, err := f.service.UpdateMappings(context.Background(), tenantID, channel.ProviderShopify, mappings)

	require.NoError(t, err)
	assert.Equal(t, mappings, resp.Mappings)
}

func TestConnectionService_UpdateMappings_LockedWhileSyncing(t *testing.T) {
	tenantID := uuid.New()
	f := newConnectionFixture(channel.ProviderShopify)
	conn := connectedConn(t, tenantID, channel.ProviderShopify)
	require.NoError(t, conn.BeginSync())

	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderShopify).
		Return(conn, nil)

	_, err := f.service.UpdateMappings(context.Background(), tenantID, channel.ProviderShopify, json.RawMessage(`{}`))

	assert.ErrorIs(t, err, channel.ErrMappingsLocked)
	f.connRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

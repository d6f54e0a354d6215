package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/channelsync/engine/internal/domain/channel"
	"github.com/channelsync/engine/internal/domain/shared"
	"github.com/channelsync/engine/internal/infrastructure/cache"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

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

type MockSyncStateRepository struct {
	mock.Mock
}

func (m *MockSyncStateRepository) ListForPair(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode) ([]*channel.SyncState, error) {
	args := m.Called(ctx, tenantID, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*channel.SyncState), args.Error(1)
}

func (m *MockSyncStateRepository) Save(ctx context.Context, state *channel.SyncState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockSyncStateRepository) ApplyInternal(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode, mut channel.InternalMutation) (bool, error) {
	args := m.Called(ctx, tenantID, provider, mut)
	return args.Bool(0), args.Error(1)
}

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

type MockProviderAdapter struct {
	mock.Mock
	code channel.ProviderCode
	caps channel.AdapterCapabilities
}

func (m *MockProviderAdapter) Provider() channel.ProviderCode            { return m.code }
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

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// MockExecutor is a canned executor for pool and scheduler tests
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, job *channel.SyncJob) (channel.ResultSummary, error) {
	args := m.Called(ctx, job)
	return args.Get(0).(channel.ResultSummary), args.Error(1)
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

var fullCaps = channel.AdapterCapabilities{Import: true, Export: true, ChangeCursor: true, Webhooks: true}

func connectedConn(t *testing.T, tenantID uuid.UUID, provider channel.ProviderCode) *channel.Connection {
	t.Helper()
	conn, err := channel.NewConnection(tenantID, provider)
	require.NoError(t, err)
	require.NoError(t, conn.CompleteAuthorize(uuid.New()))
	conn.ClearDomainEvents()
	return conn
}

// linkedState builds a sync state whose ancestor matches its snapshot
func linkedState(tenantID uuid.UUID, provider channel.ProviderCode, externalID string, stock, price int64, status string) *channel.SyncState {
	st := channel.NewSyncState(tenantID, provider, uuid.New(), channel.RecordKindProduct, "sku-"+externalID)
	st.ExternalID = externalID
	st.Stock = decimal.NewFromInt(stock)
	st.Price = decimal.NewFromInt(price)
	st.Status = status
	st.InternalUpdatedAt = time.Now().Add(-time.Hour)
	st.MarkSynced(st.InternalChecksum(), time.Now().Add(-time.Hour))
	return st
}

// remoteTwin mirrors a state as the provider would report it, unchanged
func remoteTwin(st *channel.SyncState) channel.RemoteRecord {
	return channel.RemoteRecord{
		ExternalID:     st.ExternalID,
		NaturalKey:     st.NaturalKey,
		Kind:           st.Kind,
		LastModifiedAt: time.Now().Add(-time.Hour),
		Stock:          st.Stock,
		Price:          st.Price,
		Status:         st.Status,
		Checksum:       channel.RemoteChecksum(st.Stock, st.Price, st.Status),
	}
}

type executorFixture struct {
	executor  *SyncExecutor
	connRepo  *MockConnectionRepository
	jobRepo   *MockSyncJobRepository
	stateRepo *MockSyncStateRepository
	vault     *MockVault
	registry  *MockAdapterRegistry
	adapter   *MockProviderAdapter
	applied   *cache.InMemoryIdempotencyStore
}

func newExecutorFixture(t *testing.T, provider channel.ProviderCode) *executorFixture {
	t.Helper()
	f := &executorFixture{
		connRepo:  new(MockConnectionRepository),
		jobRepo:   new(MockSyncJobRepository),
		stateRepo: new(MockSyncStateRepository),
		vault:     new(MockVault),
		registry:  new(MockAdapterRegistry),
		adapter:   &MockProviderAdapter{code: provider, caps: fullCaps},
		applied:   cache.NewInMemoryIdempotencyStore(),
	}
	t.Cleanup(func() { f.applied.Close() })
	f.registry.On("Get", provider).Return(f.adapter, nil)
	f.executor = NewSyncExecutor(f.connRepo, f.jobRepo, f.stateRepo, f.vault, f.registry, f.applied, zap.NewNop())
	return f
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSyncExecutor_Execute_AppliesBothSides(t *testing.T) {
	tenantID := uuid.New()
	f := newExecutorFixture(t, channel.ProviderShopify)

	conn := connectedConn(t, tenantID, channel.ProviderShopify)
	job, err := channel.NewSyncJob(tenantID, channel.ProviderShopify, channel.SyncKindStock, channel.PriorityHigh)
	require.NoError(t, err)

	// ext-a changed remotely, ext-b changed internally.
	stateA := linkedState(tenantID, channel.ProviderShopify, "ext-a", 5, 10, "active")
	remoteA := remoteTwin(stateA)
	remoteA.Stock = decimal.NewFromInt(8)
	remoteA.Checksum = channel.RemoteChecksum(remoteA.Stock, remoteA.Price, remoteA.Status)

	stateB := linkedState(tenantID, channel.ProviderShopify, "ext-b", 3, 20, "active")
	remoteB := remoteTwin(stateB)
	stateB.Stock = decimal.NewFromInt(9)

	bundle := &channel.CredentialBundle{AccessToken: "tok"}
	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderShopify).Return(conn, nil)
	f.vault.On("Fetch", mock.Anything, conn.CredentialHandle).Return(bundle, nil)
	f.adapter.On("ListRemoteRecords", mock.Anything, bundle, "").Return([]channel.RemoteRecord{remoteA, remoteB}, "", nil)
	f.stateRepo.On("ListForPair", mock.Anything, tenantID, channel.ProviderShopify).Return([]*channel.SyncState{stateA, stateB}, nil)
	f.jobRepo.On("FindByID", mock.Anything, job.ID).Return(job, nil)

	f.stateRepo.On("ApplyInternal", mock.Anything, tenantID, channel.ProviderShopify, mock.MatchedBy(func(m channel.InternalMutation) bool {
		return m.Op == channel.InternalOpUpdate && m.InternalID == stateA.InternalID && m.Stock.Equal(decimal.NewFromInt(8))
	})).Return(true, nil)

	f.adapter.On("ApplyRemoteMutation", mock.Anything, bundle, mock.MatchedBy(func(m channel.RemoteMutation) bool {
		return m.Op == channel.MutationOpUpdate && m.ExternalID == "ext-b" && m.Stock.Equal(decimal.NewFromInt(9))
	})).Return(&channel.Ack{ExternalID: "ext-b"}, nil)

	f.stateRepo.On("Save", mock.Anything, mock.Anything).Return(nil)

	summary, err := f.executor.Execute(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 0, summary.Errored)
	assert.Equal(t, 0, summary.Conflicts)

	// Both ancestors advance to the new shared checksum.
	f.stateRepo.AssertNumberOfCalls(t, "Save", 2)
	assert.Equal(t, remoteA.Checksum, stateA.LastSyncedChecksum)
	assert.Equal(t, stateB.InternalChecksum(), stateB.LastSyncedChecksum)
	f.adapter.AssertExpectations(t)
}

func TestSyncExecutor_Execute_RefreshesExpiredBundle(t *testing.T) {
	tenantID := uuid.New()
	f := newExecutorFixture(t, channel.ProviderEtsy)

	conn := connectedConn(t, tenantID, channel.ProviderEtsy)
	job, err := channel.NewSyncJob(tenantID, channel.ProviderEtsy, channel.SyncKindImport, channel.PriorityLow)
	require.NoError(t, err)

	stale := &channel.CredentialBundle{
		AccessToken:  "stale",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	fresh := &channel.CredentialBundle{
		AccessToken: "fresh",
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderEtsy).Return(conn, nil)
	f.vault.On("Fetch", mock.Anything, conn.CredentialHandle).Return(stale, nil).Once()
	f.vault.On("Refresh", mock.Anything, conn.CredentialHandle).Return(conn.CredentialHandle, nil).Once()
	f.vault.On("Fetch", mock.Anything, conn.CredentialHandle).Return(fresh, nil).Once()

	f.adapter.On("ListRemoteRecords", mock.Anything, fresh, "").Return([]channel.RemoteRecord{}, "", nil)
	f.stateRepo.On("ListForPair", mock.Anything, tenantID, channel.ProviderEtsy).Return([]*channel.SyncState{}, nil)

	_, err = f.executor.Execute(context.Background(), job)

	require.NoError(t, err)
	f.vault.AssertExpectations(t)
}

func TestSyncExecutor_Execute_PagesThroughCursor(t *testing.T) {
	tenantID := uuid.New()
	f := newExecutorFixture(t, channel.ProviderShopify)

	conn := connectedConn(t, tenantID, channel.ProviderShopify)
	job, err := channel.NewSyncJob(tenantID, channel.ProviderShopify, channel.SyncKindImport, channel.PriorityLow)
	require.NoError(t, err)

	r1 := channel.RemoteRecord{ExternalID: "ext-1", Kind: channel.RecordKindListing, Stock: decimal.NewFromInt(1), Checksum: "c1"}
	r2 := channel.RemoteRecord{ExternalID: "ext-2", Kind: channel.RecordKindListing, Stock: decimal.NewFromInt(2), Checksum: "c2"}

	bundle := &channel.CredentialBundle{AccessToken: "tok"}
	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderShopify).Return(conn, nil)
	f.vault.On("Fetch", mock.Anything, conn.CredentialHandle).Return(bundle, nil)
	f.adapter.On("ListRemoteRecords", mock.Anything, bundle, "").Return([]channel.RemoteRecord{r1}, "page-2", nil).Once()
	f.adapter.On("ListRemoteRecords", mock.Anything, bundle, "page-2").Return([]channel.RemoteRecord{r2}, "", nil).Once()
	f.stateRepo.On("ListForPair", mock.Anything, tenantID, channel.ProviderShopify).Return([]*channel.SyncState{}, nil)
	f.jobRepo.On("FindByID", mock.Anything, job.ID).Return(job, nil)
	f.stateRepo.On("ApplyInternal", mock.Anything, tenantID, channel.ProviderShopify, mock.Anything).Return(true, nil)

	summary, err := f.executor.Execute(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)
	f.adapter.AssertExpectations(t)
}

func TestSyncExecutor_Execute_ValidationFailureKeepsGoing(t *testing.T) {
	tenantID := uuid.New()
	f := newExecutorFixture(t, channel.ProviderShopify)

	conn := connectedConn(t, tenantID, channel.ProviderShopify)
	job, err := channel.NewSyncJob(tenantID, channel.ProviderShopify, channel.SyncKindExport, channel.PriorityHigh)
	require.NoError(t, err)

	// Both changed internally; the provider rejects ext-a and accepts ext-b.
	stateA := linkedState(tenantID, channel.ProviderShopify, "ext-a", 5, 10, "active")
	remoteA := remoteTwin(stateA)
	stateA.Price = decimal.NewFromInt(-1)

	stateB := linkedState(tenantID, channel.ProviderShopify, "ext-b", 3, 20, "active")
	remoteB := remoteTwin(stateB)
	stateB.Stock = decimal.NewFromInt(4)

	bundle := &channel.CredentialBundle{AccessToken: "tok"}
	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderShopify).Return(conn, nil)
	f.vault.On("Fetch", mock.Anything, conn.CredentialHandle).Return(bundle, nil)
	f.adapter.On("ListRemoteRecords", mock.Anything, bundle, "").Return([]channel.RemoteRecord{remoteA, remoteB}, "", nil)
	f.stateRepo.On("ListForPair", mock.Anything, tenantID, channel.ProviderShopify).Return([]*channel.SyncState{stateA, stateB}, nil)
	f.jobRepo.On("FindByID", mock.Anything, job.ID).Return(job, nil)

	f.adapter.On("ApplyRemoteMutation", mock.Anything, bundle, mock.MatchedBy(func(m channel.RemoteMutation) bool {
		return m.ExternalID == "ext-a"
	})).Return(nil, channel.ErrValidation)
	f.adapter.On("ApplyRemoteMutation", mock.Anything, bundle, mock.MatchedBy(func(m channel.RemoteMutation) bool {
		return m.ExternalID == "ext-b"
	})).Return(&channel.Ack{ExternalID: "ext-b"}, nil)

	f.stateRepo.On("Save", mock.Anything, stateB).Return(nil)

	summary, err := f.executor.Execute(context.Background(), job)

	require.NoError(t, err, "record-level rejection must not fail the job")
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Errored)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "ext-a", summary.Failures[0].RecordKey)

	// The rejected record keeps its old ancestor so the next run retries.
	f.stateRepo.AssertNotCalled(t, "Save", mock.Anything, stateA)
	assert.NotEqual(t, stateA.InternalChecksum(), stateA.LastSyncedChecksum)
}

func TestSyncExecutor_Execute_TransientFailureAbortsJob(t *testing.T) {
	tenantID := uuid.New()
	f := newExecutorFixture(t, channel.ProviderShopify)

	conn := connectedConn(t, tenantID, channel.ProviderShopify)
	job, err := channel.NewSyncJob(tenantID, channel.ProviderShopify, channel.SyncKindStock, channel.PriorityHigh)
	require.NoError(t, err)

	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderShopify).Return(conn, nil)
	f.vault.On("Fetch", mock.Anything, conn.CredentialHandle).Return(&channel.CredentialBundle{AccessToken: "tok"}, nil)
	f.adapter.On("ListRemoteRecords", mock.Anything, mock.Anything, "").Return(nil, "", channel.ErrTransient)

	_, err = f.executor.Execute(context.Background(), job)

	assert.ErrorIs(t, err, channel.ErrTransient)
}

func TestSyncExecutor_Execute_SkipsAlreadyAppliedTokens(t *testing.T) {
	tenantID := uuid.New()
	f := newExecutorFixture(t, channel.ProviderShopify)

	conn := connectedConn(t, tenantID, channel.ProviderShopify)
	job, err := channel.NewSyncJob(tenantID, channel.ProviderShopify, channel.SyncKindExport, channel.PriorityHigh)
	require.NoError(t, err)

	state := linkedState(tenantID, channel.ProviderShopify, "ext-a", 5, 10, "active")
	remote := remoteTwin(state)
	state.Stock = decimal.NewFromInt(6)

	// A previous partially-failed run already applied this write.
	_, err = f.applied.MarkProcessed(context.Background(), job.IdempotencyToken("ext-a"), time.Hour)
	require.NoError(t, err)

	bundle := &channel.CredentialBundle{AccessToken: "tok"}
	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderShopify).Return(conn, nil)
	f.vault.On("Fetch", mock.Anything, conn.CredentialHandle).Return(bundle, nil)
	f.adapter.On("ListRemoteRecords", mock.Anything, bundle, "").Return([]channel.RemoteRecord{remote}, "", nil)
	f.stateRepo.On("ListForPair", mock.Anything, tenantID, channel.ProviderShopify).Return([]*channel.SyncState{state}, nil)
	f.jobRepo.On("FindByID", mock.Anything, job.ID).Return(job, nil)
	f.stateRepo.On("Save", mock.Anything, state).Return(nil)

	summary, err := f.executor.Execute(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	f.adapter.AssertNotCalled(t, "ApplyRemoteMutation", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncExecutor_Execute_StopsBetweenRecordsOnCancel(t *testing.T) {
	tenantID := uuid.New()
	f := newExecutorFixture(t, channel.ProviderShopify)

	conn := connectedConn(t, tenantID, channel.ProviderShopify)
	job, err := channel.NewSyncJob(tenantID, channel.ProviderShopify, channel.SyncKindExport, channel.PriorityHigh)
	require.NoError(t, err)

	stateA := linkedState(tenantID, channel.ProviderShopify, "ext-a", 5, 10, "active")
	remoteA := remoteTwin(stateA)
	stateA.Stock = decimal.NewFromInt(6)

	stateB := linkedState(tenantID, channel.ProviderShopify, "ext-b", 3, 20, "active")
	remoteB := remoteTwin(stateB)
	stateB.Stock = decimal.NewFromInt(4)

	bundle := &channel.CredentialBundle{AccessToken: "tok"}
	f.connRepo.On("FindByTenantAndProvider", mock.Anything, tenantID, channel.ProviderShopify).Return(conn, nil)
	f.vault.On("Fetch", mock.Anything, conn.CredentialHandle).Return(bundle, nil)
	f.adapter.On("ListRemoteRecords", mock.Anything, bundle, "").Return([]channel.RemoteRecord{remoteA, remoteB}, "", nil)
	f.stateRepo.On("ListForPair", mock.Anything, tenantID, channel.ProviderShopify).Return([]*channel.SyncState{stateA, stateB}, nil)

	// The cancel flag flips after the first record's flag check.
	cancelled := &channel.SyncJob{}
	*cancelled = *job
	f.jobRepo.On("FindByID", mock.Anything, job.ID).Return(job, nil).Once()
	f.jobRepo.On("FindByID", mock.Anything, job.ID).Run(func(args mock.Arguments) {
		cancelled.CancelRequested = true
	}).Return(cancelled, nil)

	f.adapter.On("ApplyRemoteMutation", mock.Anything, bundle, mock.MatchedBy(func(m channel.RemoteMutation) bool {
		return m.ExternalID == "ext-a"
	})).Return(&channel.Ack{ExternalID: "ext-a"}, nil)

	summary, err := f.executor.Execute(context.Background(), job)

	assert.ErrorIs(t, err, ErrJobCancelled)
	assert.Equal(t, 1, summary.Updated, "first record applied before the stop")
	f.adapter.AssertNotCalled(t, "ApplyRemoteMutation", mock.Anything, bundle, mock.MatchedBy(func(m channel.RemoteMutation) bool {
		return m.ExternalID == "ext-b"
	}))
}

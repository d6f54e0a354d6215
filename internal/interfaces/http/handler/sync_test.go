package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	channelapp "github.com/channelsync/engine/internal/application/channel"
	"github.com/channelsync/engine/internal/domain/channel"
	"github.com/channelsync/engine/internal/infrastructure/scheduler"
	"github.com/channelsync/engine/internal/interfaces/http/dto"
)

type syncHandlerFixture struct {
	connRepo  *MockConnectionRepository
	jobRepo   *MockSyncJobRepository
	registry  *MockAdapterRegistry
	adapter   *MockProviderAdapter
	scheduler *MockJobScheduler
	router    *gin.Engine
}

func setupSyncHandler(provider channel.ProviderCode) *syncHandlerFixture {
	f := &syncHandlerFixture{
		connRepo:  new(MockConnectionRepository),
		jobRepo:   new(MockSyncJobRepository),
		registry:  new(MockAdapterRegistry),
		adapter:   &MockProviderAdapter{code: provider, caps: channel.AdapterCapabilities{Import: true, Export: true, Webhooks: true}},
		scheduler: new(MockJobScheduler),
	}
	service := channelapp.NewSyncService(f.connRepo, f.jobRepo, f.registry, f.scheduler, zap.NewNop())
	handler := NewSyncHandler(service)

	f.router = setupTestRouter()
	handler.RegisterRoutes(f.router.Group("/api/v1"))
	return f
}

func TestSyncHandler_RequestSync_Success(t *testing.T) {
	f := setupSyncHandler(channel.ProviderShopify)
	conn := connectedTestConnection(t, testTenantID, channel.ProviderShopify)

	f.connRepo.On("FindByTenantAndProvider", mock.Anything, testTenantID, channel.ProviderShopify).
		Return(conn, nil)
	f.scheduler.On("Enqueue", mock.Anything, mock.AnythingOfType("*channel.SyncJob")).
		Return(queuedTestJob(t, testTenantID, channel.ProviderShopify, channel.SyncKindImport), false, nil)

	body, _ := json.Marshal(RequestSyncRequest{Provider: "shopify", Kind: "import"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp APIResponse[channelapp.SyncJobResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, channel.JobStatusQueued, resp.Data.Status)
	assert.False(t, resp.Data.Coalesced)
	f.scheduler.AssertExpectations(t)
}

func TestSyncHandler_RequestSync_Coalesced(t *testing.T) {
	f := setupSyncHandler(channel.ProviderShopify)
	conn := connectedTestConnection(t, testTenantID, channel.ProviderShopify)
	existing := queuedTestJob(t, testTenantID, channel.ProviderShopify, channel.SyncKindImport)

	f.connRepo.On("FindByTenantAndProvider", mock.Anything, testTenantID, channel.ProviderShopify).
		Return(conn, nil)
	f.scheduler.On("Enqueue", mock.Anything, mock.AnythingOfType("*channel.SyncJob")).
		Return(existing, true, nil)

	body, _ := json.Marshal(RequestSyncRequest{Provider: "shopify", Kind: "import"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	// Coalesced requests return the existing job, not a new one
	assert.Equal(t, http.StatusOK, w.Code)

	var resp APIResponse[channelapp.SyncJobResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, existing.ID, resp.Data.ID)
	assert.True(t, resp.Data.Coalesced)
}

func TestSyncHandler_RequestSync_ConnectionNotReady(t *testing.T) {
	f := setupSyncHandler(channel.ProviderShopify)
	conn, err := channel.NewConnection(testTenantID, channel.ProviderShopify)
	require.NoError(t, err)

	f.connRepo.On("FindByTenantAndProvider", mock.Anything, testTenantID, channel.ProviderShopify).
		Return(conn, nil)

	body, _ := json.Marshal(RequestSyncRequest{Provider: "shopify", Kind: "import"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.ErrCodeConnectionNotReady, resp.Error.Code)
	f.scheduler.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestSyncHandler_RequestSync_QueueFull(t *testing.T) {
	f := setupSyncHandler(channel.ProviderShopify)
	conn := connectedTestConnection(t, testTenantID, channel.ProviderShopify)

	f.connRepo.On("FindByTenantAndProvider", mock.Anything, testTenantID, channel.ProviderShopify).
		Return(conn, nil)
	f.scheduler.On("Enqueue", mock.Anything, mock.AnythingOfType("*channel.SyncJob")).
		Return(nil, false, scheduler.ErrJobQueueFull)

	body, _ := json.Marshal(RequestSyncRequest{Provider: "shopify", Kind: "export"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.ErrCodeQueueFull, resp.Error.Code)
}

func TestSyncHandler_RequestSync_InvalidKind(t *testing.T) {
	f := setupSyncHandler(channel.ProviderShopify)

	body, _ := json.Marshal(RequestSyncRequest{Provider: "shopify", Kind: "full-dump"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.connRepo.AssertNotCalled(t, "FindByTenantAndProvider", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncHandler_GetJob_Success(t *testing.T) {
	f := setupSyncHandler(channel.ProviderShopify)
	job := queuedTestJob(t, testTenantID, channel.ProviderShopify, channel.SyncKindImport)

	f.jobRepo.On("FindByID", mock.Anything, job.ID).Return(job, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/jobs/"+job.ID.String(), nil)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp APIResponse[channelapp.SyncJobResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, job.ID, resp.Data.ID)
	assert.Equal(t, channel.SyncKindImport, resp.Data.Kind)
}

func TestSyncHandler_GetJob_WrongTenant(t *testing.T) {
	f := setupSyncHandler(channel.ProviderShopify)
	job := queuedTestJob(t, uuid.New(), channel.ProviderShopify, channel.SyncKindImport)

	f.jobRepo.On("FindByID", mock.Anything, job.ID).Return(job, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/jobs/"+job.ID.String(), nil)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	// A job belonging to another tenant is indistinguishable from a missing one
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncHandler_GetJob_InvalidID(t *testing.T) {
	f := setupSyncHandler(channel.ProviderShopify)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/jobs/not-a-uuid", nil)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.jobRepo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestSyncHandler_ListJobs_Success(t *testing.T) {
	f := setupSyncHandler(channel.ProviderShopify)
	jobs := []*channel.SyncJob{
		queuedTestJob(t, testTenantID, channel.ProviderShopify, channel.SyncKindImport),
		queuedTestJob(t, testTenantID, channel.ProviderEtsy, channel.SyncKindExport),
	}

	f.jobRepo.On("FindRecent", mock.Anything, testTenantID, 20).Return(jobs, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/jobs", nil)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp APIResponse[[]channelapp.SyncJobResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
}

func TestSyncHandler_ListJobs_CustomLimit(t *testing.T) {
	f := setupSyncHandler(channel.ProviderShopify)

	f.jobRepo.On("FindRecent", mock.Anything, testTenantID, 50).Return([]*channel.SyncJob{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/jobs?limit=50", nil)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	f.jobRepo.AssertExpectations(t)
}

func TestSyncHandler_ListJobs_InvalidLimit(t *testing.T) {
	f := setupSyncHandler(channel.ProviderShopify)

	for _, limit := range []string{"0", "201", "abc", "-5"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/jobs?limit="+limit, nil)
		w := httptest.NewRecorder()

		f.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", limit)
	}
	f.jobRepo.AssertNotCalled(t, "FindRecent", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncHandler_CancelJob_Queued(t *testing.T) {
	f := setupSyncHandler(channel.ProviderShopify)
	job := queuedTestJob(t, testTenantID, channel.ProviderShopify, channel.SyncKindImport)

	f.jobRepo.On("FindByID", mock.Anything, job.ID).Return(job, nil)
	f.scheduler.On("Cancel", mock.Anything, job.ID).Return(nil)
	f.jobRepo.On("Save", mock.Anything, job).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/jobs/"+job.ID.String()+"/cancel", nil)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp APIResponse[channelapp.SyncJobResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, channel.JobStatusCancelled, resp.Data.Status)
	f.scheduler.AssertExpectations(t)
	f.jobRepo.AssertExpectations(t)
}

func TestSyncHandler_CancelJob_Running(t *testing.T) {
	f := setupSyncHandler(channel.ProviderShopify)
	job := queuedTestJob(t, testTenantID, channel.ProviderShopify, channel.SyncKindImport)
	require.NoError(t, job.Start())

	f.jobRepo.On("FindByID", mock.Anything, job.ID).Return(job, nil)
	f.jobRepo.On("Save", mock.Anything, job).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/jobs/"+job.ID.String()+"/cancel", nil)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	// Running jobs keep running until the worker observes the flag
	assert.Equal(t, http.StatusOK, w.Code)

	var resp APIResponse[channelapp.SyncJobResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, channel.JobStatusRunning, resp.Data.Status)
	f.scheduler.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
}

func TestSyncHandler_CancelJob_AlreadyDone(t *testing.T) {
	f := setupSyncHandler(channel.ProviderShopify)
	job := queuedTestJob(t, testTenantID, channel.ProviderShopify, channel.SyncKindImport)
	require.NoError(t, job.Start())
	require.NoError(t, job.Complete(channel.ResultSummary{Updated: 3}))

	f.jobRepo.On("FindByID", mock.Anything, job.ID).Return(job, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/jobs/"+job.ID.String()+"/cancel", nil)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.ErrCodeInvalidState, resp.Error.Code)
}

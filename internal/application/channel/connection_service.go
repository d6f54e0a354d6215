package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelsync/engine/internal/domain/channel"
	"github.com/channelsync/engine/internal/domain/shared"
)

// Bounds on how long Disconnect waits for a cancelled job to drain before
// tearing the connection down. The worker honours the cancel flag between
// record-level mutations, so the wait is normally a fraction of a second.
const (
	jobStopTimeout      = 30 * time.Second
	jobStopPollInterval = 50 * time.Millisecond
)

// ConnectionServiceImpl manages the connection lifecycle: authorization
// handshakes, disconnects and mapping edits.
type ConnectionServiceImpl struct {
	connRepo channel.ConnectionRepository
	jobRepo  channel.SyncJobRepository
	vault    channel.Vault
	adapters channel.AdapterRegistry
	events   shared.EventPublisher
	logger   *zap.Logger
}

// NewConnectionService creates a new ConnectionServiceImpl
func NewConnectionService(
	connRepo channel.ConnectionRepository,
	jobRepo channel.SyncJobRepository,
	vault channel.Vault,
	adapters channel.AdapterRegistry,
	events shared.EventPublisher,
	logger *zap.Logger,
) *ConnectionServiceImpl {
	return &ConnectionServiceImpl{
		connRepo: connRepo,
		jobRepo:  jobRepo,
		vault:    vault,
		adapters: adapters,
		events:   events,
		logger:   logger,
	}
}

// ---------------------------------------------------------------------------
// Connect / Disconnect
// ---------------------------------------------------------------------------

// Connect runs the authorization handshake for a tenant/provider pair. A
// fresh pair gets a new connection; an errored pair is re-authorized in
// place. The credential bundle is vaulted before the connection becomes
// connected, so a connected connection always has a usable handle.
func (s *ConnectionServiceImpl) Connect(ctx context.Context, tenantID uuid.UUID, req ConnectRequest) (*ConnectionResponse, error) {
	adapter, err := s.adapters.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	conn, err := s.connRepo.FindByTenantAndProvider(ctx, tenantID, req.Provider)
	switch {
	case err == nil:
		if conn.Status != channel.StatusError {
			return nil, channel.ErrConnectionExists
		}
		if err := conn.Reconnect(); err != nil {
			return nil, err
		}
	case errors.Is(err, channel.ErrConnectionNotFound):
		conn, err = channel.NewConnection(tenantID, req.Provider)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	bundle, err := adapter.Authorize(ctx, channel.AuthInit{
		Code:        req.Code,
		ShopDomain:  req.ShopDomain,
		RedirectURI: req.RedirectURI,
	})
	if err != nil {
		// Denied or abandoned handshake: the connection falls back to
		// disconnected and the pair stays connectable.
		if abandonErr := conn.AbandonAuthorize(); abandonErr == nil {
			_ = s.connRepo.Save(ctx, conn)
		}
		s.logger.Warn("authorization handshake failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("provider", req.Provider.String()),
			zap.Error(err),
		)
		return nil, err
	}

	handle, err := s.vault.Store(ctx, tenantID, req.Provider, bundle)
	if err != nil {
		if abandonErr := conn.AbandonAuthorize(); abandonErr == nil {
			_ = s.connRepo.Save(ctx, conn)
		}
		return nil, err
	}

	if err := conn.CompleteAuthorize(handle); err != nil {
		return nil, err
	}
	if err := s.connRepo.Save(ctx, conn); err != nil {
		return nil, err
	}
	s.publishEvents(ctx, conn)

	s.logger.Info("provider connected",
		zap.String("tenant_id", tenantID.String()),
		zap.String("provider", req.Provider.String()),
	)
	return ToConnectionResponse(conn), nil
}

// Disconnect revokes a connection: the running job (if any) is asked to stop
// cooperatively and drained to a terminal state, then the credential is
// revoked on the provider side best-effort and both the vaulted bundle and
// the connection record are destroyed. The drain comes first because the
// worker still needs the credential to finish its in-flight mutation.
func (s *ConnectionServiceImpl) Disconnect(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode) error {
	conn, err := s.connRepo.FindByTenantAndProvider(ctx, tenantID, provider)
	if err != nil {
		return err
	}

	if active, err := s.jobRepo.FindActive(ctx, tenantID, provider); err == nil {
		if active.Status == channel.JobStatusRunning {
			active.RequestCancel()
			if err := s.jobRepo.Save(ctx, active); err != nil {
				return err
			}
			if err := s.waitForJobStop(ctx, active.ID); err != nil {
				return err
			}
		} else {
			_ = active.Cancel()
			if err := s.jobRepo.Save(ctx, active); err != nil {
				return err
			}
		}
	}

	if conn.CredentialHandle != uuid.Nil {
		s.revokeCredential(ctx, conn)
	}

	conn.Revoke()
	s.publishEvents(ctx, conn)

	if err := s.connRepo.Delete(ctx, conn.ID); err != nil {
		return err
	}

	s.logger.Info("provider disconnected",
		zap.String("tenant_id", tenantID.String()),
		zap.String("provider", provider.String()),
	)
	return nil
}

// waitForJobStop polls the job until the worker has observed the cancel flag
// and parked it in a terminal state. A job that vanishes counts as stopped.
func (s *ConnectionServiceImpl) waitForJobStop(ctx context.Context, jobID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, jobStopTimeout)
	defer cancel()

	ticker := time.NewTicker(jobStopPollInterval)
	defer ticker.Stop()

	for {
		job, err := s.jobRepo.FindByID(ctx, jobID)
		if errors.Is(err, channel.ErrJobNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("sync job %s did not stop before disconnect: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// revokeCredential revokes the bundle upstream and destroys it in the vault.
// Both steps are best effort: disconnect proceeds regardless.
func (s *ConnectionServiceImpl) revokeCredential(ctx context.Context, conn *channel.Connection) {
	adapter, err := s.adapters.Get(conn.Provider)
	if err == nil {
		if bundle, err := s.vault.Fetch(ctx, conn.CredentialHandle); err == nil {
			if err := adapter.Revoke(ctx, bundle); err != nil {
				s.logger.Warn("provider-side credential revocation failed",
					zap.String("provider", conn.Provider.String()),
					zap.Error(err),
				)
			}
		}
	}
	if err := s.vault.Delete(ctx, conn.CredentialHandle); err != nil {
		s.logger.Warn("vault delete failed",
			zap.String("provider", conn.Provider.String()),
			zap.Error(err),
		)
	}
}

// ---------------------------------------------------------------------------
// Queries and mapping edits
// ---------------------------------------------------------------------------

// GetConnection retrieves the connection for a tenant/provider pair
func (s *ConnectionServiceImpl) GetConnection(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode) (*ConnectionResponse, error) {
	conn, err := s.connRepo.FindByTenantAndProvider(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}
	return ToConnectionResponse(conn), nil
}

// ListConnections returns all of a tenant's connections
func (s *ConnectionServiceImpl) ListConnections(ctx context.Context, tenantID uuid.UUID) ([]*ConnectionResponse, error) {
	conns, err := s.connRepo.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	responses := make([]*ConnectionResponse, 0, len(conns))
	for _, conn := range conns {
		responses = append(responses, ToConnectionResponse(conn))
	}
	return responses, nil
}

// UpdateMappings replaces the provider field mapping blob. Rejected while a
// sync is running so a job never observes a half-edited mapping.
func (s *ConnectionServiceImpl) UpdateMappings(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode, mappings json.RawMessage) (*ConnectionResponse, error) {
	conn, err := s.connRepo.FindByTenantAndProvider(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}
	if err := conn.UpdateMappings(mappings); err != nil {
		return nil, err
	}
	if err := s.connRepo.Save(ctx, conn); err != nil {
		return nil, err
	}
	return ToConnectionResponse(conn), nil
}

// publishEvents publishes and clears the aggregate's pending domain events
func (s *ConnectionServiceImpl) publishEvents(ctx context.Context, conn *channel.Connection) {
	events := conn.GetDomainEvents()
	if len(events) == 0 {
		return
	}
	if err := s.events.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish connection events", zap.Error(err))
	}
	conn.ClearDomainEvents()
}

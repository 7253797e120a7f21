package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/storeforge/pkg/log"
	"github.com/cuemby/storeforge/pkg/metrics"
	"github.com/cuemby/storeforge/pkg/storage"
	"github.com/cuemby/storeforge/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrEngineDisabled is returned for engines that are known but not yet provisionable
	ErrEngineDisabled = errors.New("engine is not enabled")

	// ErrInvalidRequest is returned for malformed provisioning requests
	ErrInvalidRequest = errors.New("invalid provisioning request")

	// ErrAlreadyDeleted is returned when deleting a store that is already DELETED
	ErrAlreadyDeleted = errors.New("store already deleted")

	// ErrNotTerminal is returned when purging a status that is still being reconciled
	ErrNotTerminal = errors.New("status is not terminal")
)

// idLength is the number of UUID hex characters used as a store ID
const idLength = 8

// maxWriteAttempts bounds ID collisions and status conflicts
const maxWriteAttempts = 3

// Request asks for a new store
type Request struct {
	Name     string
	Engine   types.Engine
	Template string
}

// Service records provisioning and deletion requests. It only writes to
// the repository; the reconciler picks the changes up on its next pass.
type Service struct {
	store  storage.Store
	now    func() time.Time
	newID  func() string
	logger zerolog.Logger
}

// NewService creates a provisioning service
func NewService(store storage.Store) *Service {
	return &Service{
		store: store,
		now:   time.Now,
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:idLength]
		},
		logger: log.WithComponent("provision"),
	}
}

// RequestProvision creates a REQUESTED store and its create event
func (s *Service) RequestProvision(ctx context.Context, req Request) (*types.StoreRecord, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	engine := req.Engine
	if engine == "" {
		engine = types.EngineMedusa
	}
	if !engine.Valid() {
		return nil, fmt.Errorf("%w: unknown engine %q", ErrInvalidRequest, engine)
	}
	if !engine.Enabled() {
		return nil, fmt.Errorf("%w: %s", ErrEngineDisabled, engine)
	}
	template := req.Template
	if template == "" {
		template = types.DefaultTemplate
	}

	var rec *types.StoreRecord
	for attempt := 1; ; attempt++ {
		id := s.newID()
		now := s.now()
		rec = &types.StoreRecord{
			ID:        id,
			Name:      name,
			Engine:    engine,
			Template:  template,
			Namespace: types.NamespaceFor(id),
			Status:    types.StatusRequested,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := s.store.CreateStore(ctx, rec)
		if err == nil {
			break
		}
		if errors.Is(err, storage.ErrAlreadyExists) && attempt < maxWriteAttempts {
			continue
		}
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	metrics.StoresCreated.WithLabelValues(string(engine)).Inc()
	s.event(ctx, rec, types.ActionCreate, fmt.Sprintf("store %q requested with %s/%s", name, engine, template))

	s.logger.Info().
		Str("store_id", rec.ID).
		Str("engine", string(engine)).
		Str("template", template).
		Msg("Store requested")
	return rec, nil
}

// RequestDeletion moves a store to DELETING. Asking again while the store is
// DELETING returns it unchanged.
func (s *Service) RequestDeletion(ctx context.Context, id string) (*types.StoreRecord, error) {
	for attempt := 1; ; attempt++ {
		rec, err := s.store.GetStore(ctx, id)
		if err != nil {
			return nil, err
		}

		switch rec.Status {
		case types.StatusDeleting:
			return rec, nil
		case types.StatusDeleted:
			return nil, fmt.Errorf("%w: %s", ErrAlreadyDeleted, id)
		}

		updated, err := s.store.UpdateStatus(ctx, id, storage.StatusUpdate{
			Status: types.StatusDeleting,
			From:   rec.Status,
		})
		if errors.Is(err, storage.ErrConflict) && attempt < maxWriteAttempts {
			// The reconciler moved the store in the meantime; re-read it.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to request deletion: %w", err)
		}

		metrics.StoreTransitions.WithLabelValues(string(rec.Status), string(types.StatusDeleting)).Inc()
		s.event(ctx, updated, types.ActionDelete, fmt.Sprintf("deletion requested from %s", rec.Status))
		s.logger.Info().
			Str("store_id", id).
			Str("from", string(rec.Status)).
			Msg("Store deletion requested")
		return updated, nil
	}
}

// Purge removes store records in the given terminal statuses (FAILED when
// none are given). Their audit events are kept. It returns the purged IDs.
func (s *Service) Purge(ctx context.Context, statuses ...types.Status) ([]string, error) {
	if len(statuses) == 0 {
		statuses = []types.Status{types.StatusFailed}
	}
	for _, status := range statuses {
		if !status.Terminal() {
			return nil, fmt.Errorf("%w: %s", ErrNotTerminal, status)
		}
	}

	recs, err := s.store.ListStoresByStatus(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}

	purged := make([]string, 0, len(recs))
	for _, rec := range recs {
		if err := s.store.DeleteStore(ctx, rec.ID); err != nil {
			return purged, fmt.Errorf("failed to purge store %s: %w", rec.ID, err)
		}
		purged = append(purged, rec.ID)
	}

	if len(purged) > 0 {
		s.logger.Info().Int("count", len(purged)).Msg("Purged stores")
	}
	return purged, nil
}

func (s *Service) event(ctx context.Context, rec *types.StoreRecord, action types.Action, message string) {
	_, err := s.store.AppendEvent(ctx, &types.StoreEvent{
		StoreID:   rec.ID,
		Action:    action,
		Status:    rec.Status,
		Message:   message,
		Timestamp: s.now(),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("store_id", rec.ID).Msg("Failed to append store event")
	}
}

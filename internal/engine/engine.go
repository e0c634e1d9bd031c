// Package engine implements the local-first synchronization engine: it
// tracks which locally held records diverged from the remote table, pushes
// those divergences as batched create/update/delete operations with
// partial-failure recovery, promotes locally minted ids to server ids
// (rewriting dependent foreign keys), and merges remote snapshots and
// imported bundles back into the local store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/airtable"
	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/model"
	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/store"
)

// Config holds the engine's remote-table settings.
type Config struct {
	Table    string // remote table holding all entity rows
	View     string // optional view scoping lists and resets
	Typecast bool   // ask the server to coerce field values on create/update
}

// DefaultConfig returns the settings used by the app unless overridden.
func DefaultConfig(table string) Config {
	return Config{Table: table, Typecast: true}
}

// Engine owns one sync domain: a local store and a remote table. It is
// constructed once at startup with its dependencies injected; there is no
// shared global handle. Callers must serialize sync cycles — the engine
// deliberately has no internal locking, and two concurrent cycles race
// against the store.
type Engine struct {
	store  *store.Store
	remote *airtable.Client
	cfg    Config
	logger *slog.Logger
	now    func() int64
}

// New validates the configuration and returns an engine. A nil remote
// yields an offline engine: local operations work, Push and Pull fail
// immediately with a configuration error.
func New(st *store.Store, remote *airtable.Client, cfg Config, logger *slog.Logger) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store must be provided")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("config.Table must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		remote: remote,
		cfg:    cfg,
		logger: logger,
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Store exposes the local store for read paths (status, listing).
func (e *Engine) Store() *store.Store { return e.store }

// Save persists an entity write. A first save mints a local id and stamps
// creation; every save marks the record dirty so the next push picks it
// up.
func (e *Engine) Save(ctx context.Context, ent model.Entity) error {
	now := e.now()
	meta := ent.Meta()
	if meta.ID == "" {
		meta.ID = model.NewLocalID()
		meta.CreatedAt = now
		if meta.Provenance.CreatedBy == "" {
			meta.Provenance.CreatedBy = model.ActorHuman
		}
	}
	meta.Touch(now)
	if err := e.store.Put(ctx, ent); err != nil {
		return fmt.Errorf("failed to save %s: %w", ent.Type(), err)
	}
	return nil
}

// DeleteEntity removes a record. Remote-backed records become tombstones
// until the delete is acknowledged by the next push; records the server
// never saw are removed outright.
func (e *Engine) DeleteEntity(ctx context.Context, t model.EntityType, id string) error {
	ent, err := e.store.Get(ctx, t, id)
	if err != nil {
		return err
	}
	meta := ent.Meta()
	if meta.RemoteID == "" {
		return e.store.Delete(ctx, t, id)
	}
	meta.SyncState = model.StateDeleted
	meta.UpdatedAt = e.now()
	return e.store.Put(ctx, ent)
}

// MarkVerified records a human sign-off on an entity's current data.
func (e *Engine) MarkVerified(ctx context.Context, t model.EntityType, id string) error {
	return e.updateProvenance(ctx, t, id, model.MarkVerified)
}

// MarkNeedsReview re-flags an entity for human triage.
func (e *Engine) MarkNeedsReview(ctx context.Context, t model.EntityType, id string) error {
	return e.updateProvenance(ctx, t, id, model.MarkNeedsReview)
}

func (e *Engine) updateProvenance(ctx context.Context, t model.EntityType, id string, transition func(model.Provenance, int64) model.Provenance) error {
	ent, err := e.store.Get(ctx, t, id)
	if err != nil {
		return err
	}
	now := e.now()
	meta := ent.Meta()
	meta.Provenance = transition(meta.Provenance, now)
	meta.Touch(now)
	if err := e.store.Put(ctx, ent); err != nil {
		return fmt.Errorf("failed to persist provenance for %s %s: %w", t, id, err)
	}
	return nil
}

// SyncResult aggregates one full cycle.
type SyncResult struct {
	Push *PushResult `json:"push"`
	Pull *PullResult `json:"pull"`
}

// Sync runs one strictly sequential cycle: push fully completes (including
// per-record fallback passes) before pull begins. A cycle that fails
// partway leaves already-rekeyed entities clean and unprocessed entities
// dirty, so retrying the whole cycle is safe.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	pushRes, err := e.Push(ctx, ModeCommit)
	if err != nil {
		return nil, fmt.Errorf("push failed: %w", err)
	}
	pullRes, err := e.Pull(ctx)
	if err != nil {
		return &SyncResult{Push: pushRes}, fmt.Errorf("pull failed: %w", err)
	}
	return &SyncResult{Push: pushRes, Pull: pullRes}, nil
}

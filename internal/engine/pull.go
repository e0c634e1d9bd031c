package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/airtable"
	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/model"
	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/store"
)

// PullResult reports one completed pull.
type PullResult struct {
	OK       bool                     `json:"ok"`
	Counts   map[model.EntityType]int `json:"counts"`
	SyncedAt int64                    `json:"syncedAt"`
}

// Pull fetches the full remote snapshot, validates each row at the
// boundary, and writes every row into the local store tagged clean —
// unconditionally overwriting whatever was present locally for that id,
// including rows dirtied between push and pull (last-writer-wins by
// remote, preserved behavior).
func (e *Engine) Pull(ctx context.Context) (*PullResult, error) {
	if e.remote == nil {
		return nil, fmt.Errorf("remote client not configured")
	}
	rows, err := e.remote.ListAll(ctx, e.cfg.Table, airtable.ListOptions{View: e.cfg.View})
	if err != nil {
		return nil, err
	}

	counts := make(map[model.EntityType]int, len(model.AllTypes))
	entities := make([]model.Entity, 0, len(rows))
	for _, rec := range rows {
		ent, err := decodeRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to decode remote snapshot: %w", err)
		}
		entities = append(entities, ent)
		counts[ent.Type()]++
	}

	if err := e.store.BulkPut(ctx, entities); err != nil {
		return nil, fmt.Errorf("failed to merge remote snapshot: %w", err)
	}

	now := e.now()
	if err := e.store.PutMeta(ctx, store.MetaLastSyncAt, strconv.FormatInt(now, 10)); err != nil {
		return nil, err
	}
	if summary, err := json.Marshal(counts); err == nil {
		if err := e.store.PutMeta(ctx, store.MetaLastSyncSummary, string(summary)); err != nil {
			e.logger.Warn("failed to persist sync summary", "error", err)
		}
	}

	e.logger.Info("pull complete", "rows", len(rows))
	return &PullResult{OK: true, Counts: counts, SyncedAt: now}, nil
}

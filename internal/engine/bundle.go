package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/model"
	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/store"
)

// BundleVersion is the current export document version.
const BundleVersion = 1

// Bundle is the versioned JSON export/import document. It round-trips
// through Import, so entity envelopes (ids, remote ids, provenance) are
// preserved verbatim.
type Bundle struct {
	Version      int                  `json:"version"`
	ExportedAt   int64                `json:"exportedAt"`
	ExportMeta   map[string]string    `json:"exportMeta,omitempty"`
	Rooms        []*model.Room        `json:"rooms"`
	Measurements []*model.Measurement `json:"measurements"`
	Items        []*model.Item        `json:"items"`
	Options      []*model.Option      `json:"options"`
	SubItems     []*model.SubItem     `json:"subItems,omitempty"`
	Stores       []*model.Store       `json:"stores,omitempty"`
}

// ImportMode selects how a bundle lands on existing data.
type ImportMode string

const (
	// ImportMerge diffs each incoming entity against its local match and
	// flags meaningful changes for review.
	ImportMerge ImportMode = "merge"
	// ImportReplace swaps each collection wholesale for the bundle's
	// content, envelopes preserved as given.
	ImportReplace ImportMode = "replace"
)

// ImportResult tallies what a bundle import did.
type ImportResult struct {
	SessionID string `json:"sessionId"`
	Added     int    `json:"added"`
	Modified  int    `json:"modified"`
	Unchanged int    `json:"unchanged"`
}

// Export snapshots every collection into a bundle.
func (e *Engine) Export(ctx context.Context) (*Bundle, error) {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot store: %w", err)
	}
	b := &Bundle{
		Version:    BundleVersion,
		ExportedAt: e.now(),
	}
	for _, ent := range snap.Entities[model.TypeRoom] {
		b.Rooms = append(b.Rooms, ent.(*model.Room))
	}
	for _, ent := range snap.Entities[model.TypeMeasurement] {
		b.Measurements = append(b.Measurements, ent.(*model.Measurement))
	}
	for _, ent := range snap.Entities[model.TypeItem] {
		b.Items = append(b.Items, ent.(*model.Item))
	}
	for _, ent := range snap.Entities[model.TypeOption] {
		b.Options = append(b.Options, ent.(*model.Option))
	}
	for _, ent := range snap.Entities[model.TypeSubItem] {
		b.SubItems = append(b.SubItems, ent.(*model.SubItem))
	}
	for _, ent := range snap.Entities[model.TypeStore] {
		b.Stores = append(b.Stores, ent.(*model.Store))
	}
	return b, nil
}

func (b *Bundle) entities() []model.Entity {
	var out []model.Entity
	for _, r := range b.Rooms {
		out = append(out, r)
	}
	for _, s := range b.Stores {
		out = append(out, s)
	}
	for _, it := range b.Items {
		out = append(out, it)
	}
	for _, m := range b.Measurements {
		out = append(out, m)
	}
	for _, o := range b.Options {
		out = append(out, o)
	}
	for _, s := range b.SubItems {
		out = append(out, s)
	}
	return out
}

// Import applies a bundle. In merge mode, entities with no local match are
// created dirty and flagged needs_review; entities with a match are diffed
// over tracked business fields — a non-empty diff flags ai_modified with
// one changeLog entry per change, an empty diff leaves the local record
// completely untouched, so reimporting the same bundle is idempotent.
func (e *Engine) Import(ctx context.Context, b *Bundle, mode ImportMode, actor model.Actor) (*ImportResult, error) {
	if b.Version > BundleVersion {
		return nil, fmt.Errorf("unsupported bundle version %d", b.Version)
	}
	if actor == "" {
		actor = model.ActorImport
	}
	result := &ImportResult{SessionID: uuid.New().String()}
	now := e.now()

	switch mode {
	case ImportReplace:
		byType := make(map[model.EntityType][]model.Entity)
		for _, ent := range b.entities() {
			meta := ent.Meta()
			if meta.ID == "" {
				meta.ID = model.NewLocalID()
			}
			if meta.SyncState == "" {
				meta.SyncState = model.StateDirty
			}
			meta.Provenance = model.SanitizeProvenance(meta.Provenance)
			byType[ent.Type()] = append(byType[ent.Type()], ent)
			result.Added++
		}
		for _, t := range model.AllTypes {
			if err := e.store.ReplaceAll(ctx, t, byType[t]); err != nil {
				return nil, err
			}
		}
		return result, nil

	case ImportMerge:
		var writes []model.Entity
		for _, incoming := range b.entities() {
			meta := incoming.Meta()
			var existing model.Entity
			var err error
			if meta.ID != "" {
				existing, err = e.store.Get(ctx, incoming.Type(), meta.ID)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return nil, err
				}
			}

			if existing == nil {
				if meta.ID == "" {
					meta.ID = model.NewLocalID()
				}
				if meta.CreatedAt == 0 {
					meta.CreatedAt = now
				}
				meta.Provenance = model.ImportedNew(meta.Provenance, actor, now)
				meta.Touch(now)
				writes = append(writes, incoming)
				result.Added++
				continue
			}

			changes, err := model.TrackedDiff(existing, incoming)
			if err != nil {
				return nil, err
			}
			if len(changes) == 0 {
				result.Unchanged++
				continue
			}

			// Keep the stored envelope (key, remote id, creation, history);
			// take the incoming business fields.
			exMeta := existing.Meta()
			meta.ID = exMeta.ID
			meta.RemoteID = exMeta.RemoteID
			meta.CreatedAt = exMeta.CreatedAt
			meta.Provenance = model.ImportedChanged(exMeta.Provenance, changes, actor, now, result.SessionID)
			meta.Touch(now)
			writes = append(writes, incoming)
			result.Modified++
		}
		if err := e.store.BulkPut(ctx, writes); err != nil {
			return nil, err
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unknown import mode %q", mode)
	}
}

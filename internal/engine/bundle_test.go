package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/model"
	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/store"
)

// seedBundleFixture fills the store with a small deterministic data set
// spanning clean remote-backed rows and a dirty local-only one.
func seedBundleFixture(t *testing.T, eng *Engine) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, eng.store.Put(ctx, &model.Room{
		Envelope: model.Envelope{
			ID: "recRoom1", RemoteID: "recRoom1", SyncState: model.StateClean,
			CreatedAt: 1699000000000, UpdatedAt: 1699000000000,
			Provenance: model.Provenance{CreatedBy: model.ActorHuman},
		},
		Name: "Living room",
	}))
	require.NoError(t, eng.store.Put(ctx, &model.Item{
		Envelope: model.Envelope{
			ID: "recItem1", RemoteID: "recItem1", SyncState: model.StateClean,
			CreatedAt: 1699000000000, UpdatedAt: 1699500000000,
			Provenance: model.Provenance{
				CreatedBy:    model.ActorHuman,
				ReviewStatus: model.ReviewVerified,
				VerifiedAt:   1699500000000,
				VerifiedBy:   model.ActorHuman,
			},
		},
		Name:       "Sofa",
		RoomID:     "recRoom1",
		Category:   "seating",
		PriceCents: 120000,
		StoreName:  "IKEA",
		Tags:       []string{"blue", "velvet"},
		Specs:      map[string]string{"depth": "38 in", "width": "84 in"},
	}))
	require.NoError(t, eng.store.Put(ctx, &model.Option{
		Envelope: model.Envelope{
			ID: "recOpt1", RemoteID: "recOpt1", SyncState: model.StateClean,
			CreatedAt: 1699200000000, UpdatedAt: 1699200000000,
			Provenance: model.Provenance{CreatedBy: model.ActorAI, ReviewStatus: model.ReviewNeedsReview},
		},
		ItemID:     "recItem1",
		Name:       "Blue velvet",
		PriceCents: 110000,
		Selected:   true,
	}))
	require.NoError(t, eng.store.Put(ctx, &model.Measurement{
		Envelope: model.Envelope{
			ID: "tmp_11111111-1111-1111-1111-111111111111", SyncState: model.StateDirty,
			CreatedAt: 1699600000000, UpdatedAt: 1699600000000,
			Provenance: model.Provenance{CreatedBy: model.ActorHuman},
		},
		RoomID:  "recRoom1",
		Label:   "wall width",
		ValueIn: 144.5,
	}))
}

func TestExportGolden(t *testing.T) {
	eng := newTestEngine(t, nil)
	seedBundleFixture(t, eng)

	b, err := eng.Export(context.Background())
	require.NoError(t, err)
	require.Equal(t, BundleVersion, b.Version)
	require.Equal(t, testNow, b.ExportedAt)

	data, err := json.MarshalIndent(b, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "export_bundle", data)
}

func TestExportImportRoundTripIsIdempotent(t *testing.T) {
	eng := newTestEngine(t, nil)
	seedBundleFixture(t, eng)
	ctx := context.Background()

	b, err := eng.Export(ctx)
	require.NoError(t, err)

	result, err := eng.Import(ctx, b, ImportMerge, model.ActorAI)
	require.NoError(t, err)
	require.Zero(t, result.Added)
	require.Zero(t, result.Modified)
	require.Equal(t, 4, result.Unchanged)

	// Identical data leaves records completely untouched: the verified
	// sign-off survives and nothing is re-dirtied.
	got, err := eng.store.Get(ctx, model.TypeItem, "recItem1")
	require.NoError(t, err)
	require.Equal(t, model.ReviewVerified, got.Meta().Provenance.ReviewStatus)
	require.Equal(t, model.StateClean, got.Meta().SyncState)
}

func TestImportMergeFlagsChangedFields(t *testing.T) {
	eng := newTestEngine(t, nil)
	seedBundleFixture(t, eng)
	ctx := context.Background()

	b := &Bundle{
		Version: BundleVersion,
		Rooms: []*model.Room{{
			Envelope: model.Envelope{ID: "recRoom1"},
			Name:     "Living room",
		}},
		Items: []*model.Item{{
			Envelope:   model.Envelope{ID: "recItem1"},
			Name:       "Sofa",
			RoomID:     "recRoom1",
			Category:   "seating",
			PriceCents: 99000, // the only real change
			StoreName:  "IKEA",
			Tags:       []string{"velvet", "blue"}, // reorder only, not a change
			Specs:      map[string]string{"depth": "38 in", "width": "84 in"},
		}},
	}

	result, err := eng.Import(ctx, b, ImportMerge, model.ActorAI)
	require.NoError(t, err)
	require.Zero(t, result.Added)
	require.Equal(t, 1, result.Modified)
	require.Equal(t, 1, result.Unchanged)
	require.NotEmpty(t, result.SessionID)

	got, err := eng.store.Get(ctx, model.TypeItem, "recItem1")
	require.NoError(t, err)
	item := got.(*model.Item)
	require.Equal(t, int64(99000), item.PriceCents)
	// Envelope identity survives the merge.
	require.Equal(t, "recItem1", item.RemoteID)
	require.Equal(t, int64(1699000000000), item.CreatedAt)
	require.Equal(t, model.StateDirty, item.SyncState)

	prov := item.Provenance
	require.Equal(t, model.ReviewAIModified, prov.ReviewStatus)
	require.Equal(t, []string{"priceCents"}, prov.ModifiedFields)
	require.Zero(t, prov.VerifiedAt, "prior sign-off is dropped on modification")
	require.Len(t, prov.ChangeLog, 1)
	entry := prov.ChangeLog[0]
	require.Equal(t, "priceCents", entry.Field)
	// Values round-trip through the stored JSON document as float64.
	require.EqualValues(t, 120000, entry.From)
	require.EqualValues(t, 99000, entry.To)
	require.Equal(t, model.ActorAI, entry.By)
	require.Equal(t, result.SessionID, entry.SessionID)
}

func TestImportMergeAddsUnmatchedEntities(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	b := &Bundle{
		Version: BundleVersion,
		Rooms:   []*model.Room{{Name: "Bedroom"}},
	}
	result, err := eng.Import(ctx, b, ImportMerge, "")
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)

	rooms, err := eng.store.ListAll(ctx, model.TypeRoom)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	meta := rooms[0].Meta()
	require.True(t, model.IsLocalID(meta.ID))
	require.Equal(t, model.StateDirty, meta.SyncState)
	require.Equal(t, model.ReviewNeedsReview, meta.Provenance.ReviewStatus)
	require.Equal(t, model.ActorImport, meta.Provenance.CreatedBy, "empty actor defaults to import")
}

func TestImportReplaceSwapsCollections(t *testing.T) {
	eng := newTestEngine(t, nil)
	seedBundleFixture(t, eng)
	ctx := context.Background()

	b := &Bundle{
		Version: BundleVersion,
		Rooms: []*model.Room{{
			Envelope: model.Envelope{ID: "recRoomNew", RemoteID: "recRoomNew", SyncState: model.StateClean},
			Name:     "Office",
		}},
		Items: []*model.Item{{Name: "Desk"}},
	}
	result, err := eng.Import(ctx, b, ImportReplace, model.ActorHuman)
	require.NoError(t, err)
	require.Equal(t, 2, result.Added)

	// Old rows of the replaced collections are gone.
	_, err = eng.store.Get(ctx, model.TypeRoom, "recRoom1")
	require.ErrorIs(t, err, store.ErrNotFound)

	// A given envelope is preserved verbatim; a missing one is defaulted.
	room, err := eng.store.Get(ctx, model.TypeRoom, "recRoomNew")
	require.NoError(t, err)
	require.Equal(t, model.StateClean, room.Meta().SyncState)

	items, err := eng.store.ListAll(ctx, model.TypeItem)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, model.IsLocalID(items[0].Meta().ID))
	require.Equal(t, model.StateDirty, items[0].Meta().SyncState)

	// Collections absent from the bundle are emptied too.
	opts, err := eng.store.ListAll(ctx, model.TypeOption)
	require.NoError(t, err)
	require.Empty(t, opts)
}

func TestImportRejectsFutureVersion(t *testing.T) {
	eng := newTestEngine(t, nil)
	_, err := eng.Import(context.Background(), &Bundle{Version: BundleVersion + 1}, ImportMerge, "")
	require.Error(t, err)
}

func TestImportRejectsUnknownMode(t *testing.T) {
	eng := newTestEngine(t, nil)
	_, err := eng.Import(context.Background(), &Bundle{Version: BundleVersion}, ImportMode("sideways"), "")
	require.Error(t, err)
}

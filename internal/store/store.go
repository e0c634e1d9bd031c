// Package store provides durable keyed persistence for entity collections
// plus a small metadata map, backed by SQLite. Multi-entity mutations
// (bulk puts, rekeys, collection replacement) commit as single
// transactions so an interrupted process never leaves dangling foreign
// keys.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/model"
)

// ErrNotFound reports that no entity (or metadata key) exists for the
// given id. Distinct from decode and driver errors so callers can react
// differently.
var ErrNotFound = errors.New("not found")

// Well-known metadata keys.
const (
	MetaLastSyncAt      = "lastSyncAt"
	MetaLastSyncSummary = "lastSyncSummary"
	MetaMeasurementUnit = "measurementUnit"
)

// Store is the local persistence component. It is constructed once at
// startup and handed to the orchestrators; there is no process-wide
// singleton handle.
type Store struct {
	db       *sql.DB
	logger   *slog.Logger
	notifier *Notifier
}

// Open opens (or creates) the database at path and initializes the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s, err := New(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle and initializes the schema.
func New(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &Store{db: db, logger: logger, notifier: NewNotifier()}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Notifier returns the change broadcast used for cross-session cache
// invalidation. Advisory only, never a synchronization primitive.
func (s *Store) Notifier() *Notifier { return s.notifier }

func initializeDatabase(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			entity_type TEXT NOT NULL,
			id          TEXT NOT NULL,
			doc         TEXT NOT NULL,
			PRIMARY KEY (entity_type, id)
		)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Get loads one entity by type and id.
func (s *Store) Get(ctx context.Context, t model.EntityType, id string) (model.Entity, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM entities WHERE entity_type = ? AND id = ?`, string(t), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", t, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s %s: %w", t, id, err)
	}
	return model.DecodeEntity(t, doc)
}

// Put upserts one entity keyed by its current id.
func (s *Store) Put(ctx context.Context, e model.Entity) error {
	doc, err := model.EncodeEntity(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (entity_type, id, doc) VALUES (?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET doc = excluded.doc
	`, string(e.Type()), e.Meta().ID, doc)
	if err != nil {
		return fmt.Errorf("failed to put %s %s: %w", e.Type(), e.Meta().ID, err)
	}
	s.notifier.Broadcast(e.Type())
	return nil
}

// Delete physically removes one entity. Tombstoning (syncState=deleted) is
// the caller's concern; this is the final removal once a remote delete is
// acknowledged.
func (s *Store) Delete(ctx context.Context, t model.EntityType, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE entity_type = ? AND id = ?`, string(t), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", t, id, err)
	}
	s.notifier.Broadcast(t)
	return nil
}

// ListAll returns every entity of one type, ordered by id for determinism.
func (s *Store) ListAll(ctx context.Context, t model.EntityType) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM entities WHERE entity_type = ? ORDER BY id`, string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t, err)
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", t, err)
		}
		e, err := model.DecodeEntity(t, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", t, err)
	}
	return out, nil
}

// BulkPut upserts a batch of entities in a single transaction.
func (s *Store) BulkPut(ctx context.Context, entities []model.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entities {
		if err := putInTx(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bulk put: %w", err)
	}
	for _, t := range touchedTypes(entities) {
		s.notifier.Broadcast(t)
	}
	return nil
}

// ReplaceAll replaces one collection wholesale in a single transaction.
func (s *Store) ReplaceAll(ctx context.Context, t model.EntityType, entities []model.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = ?`, string(t)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", t, err)
	}
	for _, e := range entities {
		if e.Type() != t {
			return fmt.Errorf("replace %s: unexpected %s entity %s", t, e.Type(), e.Meta().ID)
		}
		if err := putInTx(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit replace of %s: %w", t, err)
	}
	s.notifier.Broadcast(t)
	return nil
}

// Rekey atomically replaces an entity's identifier with its freshly
// assigned server id: the old row disappears, the new row is clean, and
// every dependent entity's foreign key is rewritten in the same
// transaction. There is no interval where both ids exist.
func (s *Store) Rekey(ctx context.Context, t model.EntityType, oldID, newID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var doc []byte
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM entities WHERE entity_type = ? AND id = ?`, string(t), oldID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("rekey %s %s: %w", t, oldID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s %s for rekey: %w", t, oldID, err)
	}
	e, err := model.DecodeEntity(t, doc)
	if err != nil {
		return err
	}
	meta := e.Meta()
	meta.ID = newID
	meta.RemoteID = newID
	meta.SyncState = model.StateClean

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entities WHERE entity_type = ? AND id = ?`, string(t), oldID); err != nil {
		return fmt.Errorf("failed to remove old key %s %s: %w", t, oldID, err)
	}
	if err := putInTx(ctx, tx, e); err != nil {
		return err
	}
	if err := rewriteDependentsInTx(ctx, tx, oldID, newID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rekey of %s %s: %w", t, oldID, err)
	}
	s.notifier.BroadcastAll()
	return nil
}

// rewriteDependentsInTx scans every collection and swaps foreign keys that
// still point at oldID.
func rewriteDependentsInTx(ctx context.Context, tx *sql.Tx, oldID, newID string) error {
	for _, t := range model.AllTypes {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, doc FROM entities WHERE entity_type = ?`, string(t))
		if err != nil {
			return fmt.Errorf("failed to scan %s for fk rewrite: %w", t, err)
		}
		var updates []model.Entity
		for rows.Next() {
			var id string
			var doc []byte
			if err := rows.Scan(&id, &doc); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan %s row: %w", t, err)
			}
			e, err := model.DecodeEntity(t, doc)
			if err != nil {
				rows.Close()
				return err
			}
			if model.RewriteForeignKeys(e, oldID, newID) {
				updates = append(updates, e)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("error iterating %s rows: %w", t, err)
		}
		rows.Close()

		for _, u := range updates {
			if err := putInTx(ctx, tx, u); err != nil {
				return err
			}
		}
	}
	return nil
}

func putInTx(ctx context.Context, tx *sql.Tx, e model.Entity) error {
	doc, err := model.EncodeEntity(e)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (entity_type, id, doc) VALUES (?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET doc = excluded.doc
	`, string(e.Type()), e.Meta().ID, doc)
	if err != nil {
		return fmt.Errorf("failed to put %s %s: %w", e.Type(), e.Meta().ID, err)
	}
	return nil
}

func touchedTypes(entities []model.Entity) []model.EntityType {
	seen := make(map[model.EntityType]struct{})
	var out []model.EntityType
	for _, e := range entities {
		if _, ok := seen[e.Type()]; !ok {
			seen[e.Type()] = struct{}{}
			out = append(out, e.Type())
		}
	}
	return out
}

// Snapshot is a point-in-time copy of every collection plus the metadata
// map.
type Snapshot struct {
	Entities map[model.EntityType][]model.Entity
	Meta     map[string]string
}

// Snapshot reads all collections and metadata in one transaction.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	snap := &Snapshot{
		Entities: make(map[model.EntityType][]model.Entity),
		Meta:     make(map[string]string),
	}
	rows, err := tx.QueryContext(ctx, `SELECT entity_type, doc FROM entities ORDER BY entity_type, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	for rows.Next() {
		var typ string
		var doc []byte
		if err := rows.Scan(&typ, &doc); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		e, err := model.DecodeEntity(model.EntityType(typ), doc)
		if err != nil {
			rows.Close()
			return nil, err
		}
		snap.Entities[e.Type()] = append(snap.Entities[e.Type()], e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	rows.Close()

	metaRows, err := tx.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("failed to query meta: %w", err)
	}
	defer metaRows.Close()
	for metaRows.Next() {
		var k, v string
		if err := metaRows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan meta row: %w", err)
		}
		snap.Meta[k] = v
	}
	if err := metaRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating meta: %w", err)
	}
	return snap, tx.Commit()
}

// GetMeta reads one metadata value.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("meta %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query meta %s: %w", key, err)
	}
	return value, nil
}

// PutMeta upserts one metadata value.
func (s *Store) PutMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to put meta %s: %w", key, err)
	}
	return nil
}

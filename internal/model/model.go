// Package model defines the typed entity records tracked by the app,
// their sync/provenance envelope, and the pure helpers that operate on
// them (field-level diffing, review-status transitions).
package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EntityType discriminates the record collections, both locally and in the
// remote table's Type column.
type EntityType string

const (
	TypeItem        EntityType = "item"
	TypeOption      EntityType = "option"
	TypeSubItem     EntityType = "subitem"
	TypeMeasurement EntityType = "measurement"
	TypeRoom        EntityType = "room"
	TypeStore       EntityType = "store"
)

// AllTypes lists entity types in dependency order: parents before the
// records that reference them. Push processes creates/updates in this
// order so foreign keys resolve within a single cycle.
var AllTypes = []EntityType{TypeRoom, TypeStore, TypeItem, TypeMeasurement, TypeOption, TypeSubItem}

// SyncState tracks whether a local record has diverged from the remote store.
type SyncState string

const (
	StateClean   SyncState = "clean"
	StateDirty   SyncState = "dirty"
	StateDeleted SyncState = "deleted" // tombstone, removed once the remote delete is acknowledged
)

// Actor identifies who or what touched a record.
type Actor string

const (
	ActorHuman  Actor = "human"
	ActorAI     Actor = "ai"
	ActorImport Actor = "import"
	ActorSystem Actor = "system"
)

// DataSource records whether a value was measured or guessed.
type DataSource string

const (
	SourceConcrete  DataSource = "concrete"
	SourceEstimated DataSource = "estimated"
)

// ReviewStatus is the triage state for out-of-band edits.
type ReviewStatus string

const (
	ReviewNeedsReview ReviewStatus = "needs_review"
	ReviewAIModified  ReviewStatus = "ai_modified"
	ReviewVerified    ReviewStatus = "verified"
)

// ChangeLogEntry is one append-only record of a field mutation.
type ChangeLogEntry struct {
	Field     string `json:"field"`
	From      any    `json:"from"`
	To        any    `json:"to"`
	By        Actor  `json:"by"`
	At        int64  `json:"at"`
	SessionID string `json:"sessionId,omitempty"`
}

// Provenance records who last touched an entity and whether a human still
// needs to look at it.
type Provenance struct {
	CreatedBy      Actor            `json:"createdBy,omitempty"`
	LastEditedBy   Actor            `json:"lastEditedBy,omitempty"`
	LastEditedAt   int64            `json:"lastEditedAt,omitempty"`
	DataSource     DataSource       `json:"dataSource,omitempty"`
	ReviewStatus   ReviewStatus     `json:"reviewStatus,omitempty"`
	VerifiedAt     int64            `json:"verifiedAt,omitempty"`
	VerifiedBy     Actor            `json:"verifiedBy,omitempty"`
	ModifiedFields []string         `json:"modifiedFields,omitempty"`
	ChangeLog      []ChangeLogEntry `json:"changeLog,omitempty"`
}

// Envelope is the common bookkeeping carried by every entity. ID starts as
// a locally minted identifier and is atomically replaced by the
// server-assigned id after the first successful create push.
type Envelope struct {
	ID         string     `json:"id"`
	RemoteID   string     `json:"remoteId,omitempty"`
	SyncState  SyncState  `json:"syncState"`
	CreatedAt  int64      `json:"createdAt"`
	UpdatedAt  int64      `json:"updatedAt"`
	Provenance Provenance `json:"provenance"`
}

// Meta returns the embedded envelope for generic handling.
func (e *Envelope) Meta() *Envelope { return e }

// Touch marks the record dirty and bumps UpdatedAt.
func (e *Envelope) Touch(now int64) {
	e.SyncState = StateDirty
	e.UpdatedAt = now
}

// Entity is implemented by every record type.
type Entity interface {
	Meta() *Envelope
	Type() EntityType
}

// Item is a piece of furniture (or other tracked thing) being considered
// or owned.
type Item struct {
	Envelope
	Name             string            `json:"name"`
	RoomID           string            `json:"roomId,omitempty"`
	Category         string            `json:"category,omitempty"`
	PriceCents       int64             `json:"priceCents,omitempty"`
	StoreName        string            `json:"storeName,omitempty"` // soft reference by name
	SelectedOptionID string            `json:"selectedOptionId,omitempty"`
	URL              string            `json:"url,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	Specs            map[string]string `json:"specs,omitempty"`
}

func (*Item) Type() EntityType { return TypeItem }

// Option is a candidate product for an Item.
type Option struct {
	Envelope
	ItemID     string            `json:"itemId"`
	Name       string            `json:"name"`
	PriceCents int64             `json:"priceCents,omitempty"`
	StoreName  string            `json:"storeName,omitempty"`
	URL        string            `json:"url,omitempty"`
	Selected   bool              `json:"selected,omitempty"`
	Notes      string            `json:"notes,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Specs      map[string]string `json:"specs,omitempty"`
}

func (*Option) Type() EntityType { return TypeOption }

// SubItem is a component or accessory of an Option (e.g. a cushion set).
type SubItem struct {
	Envelope
	OptionID   string `json:"optionId"`
	Name       string `json:"name"`
	Quantity   int64  `json:"quantity,omitempty"`
	PriceCents int64  `json:"priceCents,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

func (*SubItem) Type() EntityType { return TypeSubItem }

// Measurement is a recorded dimension, optionally tied to an item or room.
type Measurement struct {
	Envelope
	ForItemID string  `json:"forItemId,omitempty"`
	RoomID    string  `json:"roomId,omitempty"`
	Category  string  `json:"category,omitempty"`
	Label     string  `json:"label,omitempty"`
	ValueIn   float64 `json:"valueIn,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}

func (*Measurement) Type() EntityType { return TypeMeasurement }

// Room is a physical location referenced by items and measurements.
type Room struct {
	Envelope
	Name  string `json:"name"`
	Notes string `json:"notes,omitempty"`
}

func (*Room) Type() EntityType { return TypeRoom }

// Store is a vendor, referenced by name (soft reference) from items and
// options.
type Store struct {
	Envelope
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

func (*Store) Type() EntityType { return TypeStore }

const localIDPrefix = "tmp_"

// NewLocalID mints a client-side identifier, replaced by the server id on
// the first successful create push.
func NewLocalID() string {
	return localIDPrefix + uuid.New().String()
}

// IsLocalID reports whether id was minted locally and has not yet been
// promoted to a server-assigned identifier.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// NewEntity returns a zero value of the given type, or an error for an
// unknown discriminator. Unknown discriminators are a decode error at the
// boundary, never a crash later.
func NewEntity(t EntityType) (Entity, error) {
	switch t {
	case TypeItem:
		return &Item{}, nil
	case TypeOption:
		return &Option{}, nil
	case TypeSubItem:
		return &SubItem{}, nil
	case TypeMeasurement:
		return &Measurement{}, nil
	case TypeRoom:
		return &Room{}, nil
	case TypeStore:
		return &Store{}, nil
	default:
		return nil, fmt.Errorf("unknown entity type %q", t)
	}
}

// EncodeEntity serializes an entity to its stored JSON document.
func EncodeEntity(e Entity) ([]byte, error) {
	doc, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", e.Type(), err)
	}
	return doc, nil
}

// DecodeEntity deserializes a stored JSON document into a typed entity.
func DecodeEntity(t EntityType, doc []byte) (Entity, error) {
	e, err := NewEntity(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doc, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s document: %w", t, err)
	}
	return e, nil
}

// RewriteForeignKeys replaces every reference to oldID with newID in the
// entity's foreign-key fields and reports whether anything changed. Callers
// persist the rewritten entity in the same transaction as the referenced
// entity's rekey so no dangling local ids survive a push cycle.
func RewriteForeignKeys(e Entity, oldID, newID string) bool {
	changed := false
	swap := func(field *string) {
		if *field == oldID {
			*field = newID
			changed = true
		}
	}
	switch v := e.(type) {
	case *Item:
		swap(&v.RoomID)
		swap(&v.SelectedOptionID)
	case *Option:
		swap(&v.ItemID)
	case *SubItem:
		swap(&v.OptionID)
	case *Measurement:
		swap(&v.ForItemID)
		swap(&v.RoomID)
	}
	return changed
}

// ParentLocalID returns the foreign key that must already be resolved to a
// server id before the entity itself can be pushed, or "" if the entity has
// no such dependency (or the parent is already remote). Soft references by
// name (StoreName) never block a push.
func ParentLocalID(e Entity) string {
	check := func(ids ...string) string {
		for _, id := range ids {
			if id != "" && IsLocalID(id) {
				return id
			}
		}
		return ""
	}
	switch v := e.(type) {
	case *Item:
		return check(v.RoomID)
	case *Option:
		return check(v.ItemID)
	case *SubItem:
		return check(v.OptionID)
	case *Measurement:
		return check(v.ForItemID, v.RoomID)
	}
	return ""
}

// DisplayName returns the human-facing title used in error reports.
func DisplayName(e Entity) string {
	switch v := e.(type) {
	case *Item:
		return v.Name
	case *Option:
		return v.Name
	case *SubItem:
		return v.Name
	case *Measurement:
		return v.Label
	case *Room:
		return v.Name
	case *Store:
		return v.Name
	}
	return ""
}

package model

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// FieldChange is one field-level difference between two versions of an
// entity. From/To carry the raw (un-normalized) values so reviewers see
// what was actually stored.
type FieldChange struct {
	Field string `json:"field"`
	From  any    `json:"from"`
	To    any    `json:"to"`
}

// Normalizer canonicalizes a field value before comparison. Normalizers
// never mutate their input.
type Normalizer func(v any) any

// FieldSpec describes one comparable field of an entity: a stable name, a
// getter, and an optional normalizer.
type FieldSpec[T any] struct {
	Name string
	Get  func(T) any
	Norm Normalizer
}

// NormString trims surrounding whitespace. Nil stays nil.
func NormString(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return strings.TrimSpace(s)
}

// NormNumber coerces numeric values to float64; non-finite values collapse
// to nil so NaN==NaN comparisons come out equal.
func NormNumber(v any) any {
	var f float64
	switch n := v.(type) {
	case nil:
		return nil
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	default:
		return v
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// NormBool coerces to truthiness.
func NormBool(v any) any {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != ""
	case int:
		return b != 0
	case int64:
		return b != 0
	case float64:
		return b != 0
	}
	return v != nil
}

// NormTags canonicalizes a string array: elements trimmed, empties dropped,
// sorted (case preserved, no dedupe) and joined, so order differences
// produce no change.
func NormTags(v any) any {
	tags, ok := v.([]string)
	if !ok {
		return v
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}

func normalize(v any, norm Normalizer) any {
	if norm == nil {
		return v
	}
	return norm(v)
}

func valuesEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Diff compares two versions of an entity field by field and returns the
// changes in spec declaration order. Pure function, no side effects.
func Diff[T any](existing, incoming T, specs []FieldSpec[T]) []FieldChange {
	var changes []FieldChange
	for _, spec := range specs {
		from := spec.Get(existing)
		to := spec.Get(incoming)
		if valuesEqual(normalize(from, spec.Norm), normalize(to, spec.Norm)) {
			continue
		}
		changes = append(changes, FieldChange{Field: spec.Name, From: from, To: to})
	}
	return changes
}

// DiffSpecMaps compares the free-form key/value spec maps per key over the
// union of both key sets, sorted by key for determinism. Field names are
// emitted as "specs.<key>".
func DiffSpecMaps(existing, incoming map[string]string) []FieldChange {
	keys := make(map[string]struct{}, len(existing)+len(incoming))
	for k := range existing {
		keys[k] = struct{}{}
	}
	for k := range incoming {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var changes []FieldChange
	for _, k := range sorted {
		from, fromOK := existing[k]
		to, toOK := incoming[k]
		var fromV, toV any
		if fromOK {
			fromV = from
		}
		if toOK {
			toV = to
		}
		if valuesEqual(normalize(fromV, NormString), normalize(toV, NormString)) {
			continue
		}
		changes = append(changes, FieldChange{Field: "specs." + k, From: fromV, To: toV})
	}
	return changes
}

// Tracked business fields per entity type. Bookkeeping fields (ids, sync
// state, timestamps, provenance) are deliberately excluded so import
// merges only flag meaningful edits.

func itemFields() []FieldSpec[*Item] {
	return []FieldSpec[*Item]{
		{Name: "name", Get: func(e *Item) any { return e.Name }, Norm: NormString},
		{Name: "roomId", Get: func(e *Item) any { return e.RoomID }, Norm: NormString},
		{Name: "category", Get: func(e *Item) any { return e.Category }, Norm: NormString},
		{Name: "priceCents", Get: func(e *Item) any { return e.PriceCents }, Norm: NormNumber},
		{Name: "storeName", Get: func(e *Item) any { return e.StoreName }, Norm: NormString},
		{Name: "url", Get: func(e *Item) any { return e.URL }, Norm: NormString},
		{Name: "notes", Get: func(e *Item) any { return e.Notes }, Norm: NormString},
		{Name: "tags", Get: func(e *Item) any { return e.Tags }, Norm: NormTags},
	}
}

func optionFields() []FieldSpec[*Option] {
	return []FieldSpec[*Option]{
		{Name: "itemId", Get: func(e *Option) any { return e.ItemID }, Norm: NormString},
		{Name: "name", Get: func(e *Option) any { return e.Name }, Norm: NormString},
		{Name: "priceCents", Get: func(e *Option) any { return e.PriceCents }, Norm: NormNumber},
		{Name: "storeName", Get: func(e *Option) any { return e.StoreName }, Norm: NormString},
		{Name: "url", Get: func(e *Option) any { return e.URL }, Norm: NormString},
		{Name: "selected", Get: func(e *Option) any { return e.Selected }, Norm: NormBool},
		{Name: "notes", Get: func(e *Option) any { return e.Notes }, Norm: NormString},
		{Name: "tags", Get: func(e *Option) any { return e.Tags }, Norm: NormTags},
	}
}

func subItemFields() []FieldSpec[*SubItem] {
	return []FieldSpec[*SubItem]{
		{Name: "optionId", Get: func(e *SubItem) any { return e.OptionID }, Norm: NormString},
		{Name: "name", Get: func(e *SubItem) any { return e.Name }, Norm: NormString},
		{Name: "quantity", Get: func(e *SubItem) any { return e.Quantity }, Norm: NormNumber},
		{Name: "priceCents", Get: func(e *SubItem) any { return e.PriceCents }, Norm: NormNumber},
		{Name: "notes", Get: func(e *SubItem) any { return e.Notes }, Norm: NormString},
	}
}

func measurementFields() []FieldSpec[*Measurement] {
	return []FieldSpec[*Measurement]{
		{Name: "forItemId", Get: func(e *Measurement) any { return e.ForItemID }, Norm: NormString},
		{Name: "roomId", Get: func(e *Measurement) any { return e.RoomID }, Norm: NormString},
		{Name: "category", Get: func(e *Measurement) any { return e.Category }, Norm: NormString},
		{Name: "label", Get: func(e *Measurement) any { return e.Label }, Norm: NormString},
		{Name: "valueIn", Get: func(e *Measurement) any { return e.ValueIn }, Norm: NormNumber},
		{Name: "notes", Get: func(e *Measurement) any { return e.Notes }, Norm: NormString},
	}
}

func roomFields() []FieldSpec[*Room] {
	return []FieldSpec[*Room]{
		{Name: "name", Get: func(e *Room) any { return e.Name }, Norm: NormString},
		{Name: "notes", Get: func(e *Room) any { return e.Notes }, Norm: NormString},
	}
}

func storeFields() []FieldSpec[*Store] {
	return []FieldSpec[*Store]{
		{Name: "name", Get: func(e *Store) any { return e.Name }, Norm: NormString},
		{Name: "website", Get: func(e *Store) any { return e.Website }, Norm: NormString},
		{Name: "notes", Get: func(e *Store) any { return e.Notes }, Norm: NormString},
	}
}

// TrackedDiff diffs two entities of the same type over their tracked
// business fields: fixed fields in declaration order, then sorted per-key
// spec-map changes.
func TrackedDiff(existing, incoming Entity) ([]FieldChange, error) {
	if existing.Type() != incoming.Type() {
		return nil, fmt.Errorf("cannot diff %s against %s", existing.Type(), incoming.Type())
	}
	switch a := existing.(type) {
	case *Item:
		b := incoming.(*Item)
		return append(Diff(a, b, itemFields()), DiffSpecMaps(a.Specs, b.Specs)...), nil
	case *Option:
		b := incoming.(*Option)
		return append(Diff(a, b, optionFields()), DiffSpecMaps(a.Specs, b.Specs)...), nil
	case *SubItem:
		return Diff(a, incoming.(*SubItem), subItemFields()), nil
	case *Measurement:
		return Diff(a, incoming.(*Measurement), measurementFields()), nil
	case *Room:
		return Diff(a, incoming.(*Room), roomFields()), nil
	case *Store:
		return Diff(a, incoming.(*Store), storeFields()), nil
	}
	return nil, fmt.Errorf("unsupported entity type %q", existing.Type())
}

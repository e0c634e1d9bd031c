package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/airtable"
	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/model"
)

// Remote column names. All entity collections live in one table,
// discriminated by the Type column.
const (
	fldType       = "Type"
	fldName       = "Name"
	fldNotes      = "Notes"
	fldCategory   = "Category"
	fldPriceCents = "PriceCents"
	fldStoreName  = "StoreName"
	fldURL        = "URL"
	fldTags       = "Tags"
	fldSpecs      = "Specs"
	fldRoomID     = "RoomId"
	fldItemID     = "ItemId"
	fldOptionID   = "OptionId"
	fldForItemID  = "ForItemId"
	fldSelOptID   = "SelectedOptionId"
	fldSelected   = "Selected"
	fldQuantity   = "Quantity"
	fldLabel      = "Label"
	fldValueIn    = "ValueIn"
	fldWebsite    = "Website"
	fldCreatedAt  = "CreatedAt"
	fldUpdatedAt  = "UpdatedAt"
	fldProvenance = "Provenance"
)

// errUnresolvedRef marks a payload whose parent entity has not yet been
// assigned a remote id this cycle. Push skips such records; they stay
// dirty and are retried on the next sync.
var errUnresolvedRef = errors.New("unresolved local reference")

// resolveFunc maps a foreign-key id through the push cycle's redirect map.
// It returns the (possibly promoted) id and whether the reference is
// usable: unresolved local ids are not.
type resolveFunc func(id string) (string, bool)

// encodeFields builds the remote field payload for an entity. Hard parent
// references must already be resolvable (push skips the record otherwise);
// best-effort references (an item's selected option) are omitted when
// still unresolved rather than leaking a local id to the server.
func encodeFields(e model.Entity, resolve resolveFunc) (map[string]any, error) {
	meta := e.Meta()
	provJSON, err := json.Marshal(meta.Provenance)
	if err != nil {
		return nil, fmt.Errorf("failed to encode provenance for %s %s: %w", e.Type(), meta.ID, err)
	}
	fields := map[string]any{
		fldType:       string(e.Type()),
		fldName:       model.DisplayName(e),
		fldCreatedAt:  meta.CreatedAt,
		fldUpdatedAt:  meta.UpdatedAt,
		fldProvenance: string(provJSON),
	}

	setRef := func(key, id string) error {
		if id == "" {
			return nil
		}
		resolved, ok := resolve(id)
		if !ok {
			return fmt.Errorf("%s references %s: %w", key, id, errUnresolvedRef)
		}
		fields[key] = resolved
		return nil
	}
	setSpecs := func(specs map[string]string) error {
		if len(specs) == 0 {
			return nil
		}
		data, err := json.Marshal(specs)
		if err != nil {
			return fmt.Errorf("failed to encode specs: %w", err)
		}
		fields[fldSpecs] = string(data)
		return nil
	}

	switch v := e.(type) {
	case *model.Item:
		if err := setRef(fldRoomID, v.RoomID); err != nil {
			return nil, err
		}
		// Best-effort: a selected option created in the same cycle may not
		// have a server id yet; drop the reference for this push.
		if v.SelectedOptionID != "" {
			if resolved, ok := resolve(v.SelectedOptionID); ok {
				fields[fldSelOptID] = resolved
			}
		}
		fields[fldCategory] = v.Category
		fields[fldPriceCents] = v.PriceCents
		fields[fldStoreName] = v.StoreName
		fields[fldURL] = v.URL
		fields[fldNotes] = v.Notes
		fields[fldTags] = strings.Join(v.Tags, ", ")
		if err := setSpecs(v.Specs); err != nil {
			return nil, err
		}
	case *model.Option:
		if err := setRef(fldItemID, v.ItemID); err != nil {
			return nil, err
		}
		fields[fldPriceCents] = v.PriceCents
		fields[fldStoreName] = v.StoreName
		fields[fldURL] = v.URL
		fields[fldSelected] = v.Selected
		fields[fldNotes] = v.Notes
		fields[fldTags] = strings.Join(v.Tags, ", ")
		if err := setSpecs(v.Specs); err != nil {
			return nil, err
		}
	case *model.SubItem:
		if err := setRef(fldOptionID, v.OptionID); err != nil {
			return nil, err
		}
		fields[fldQuantity] = v.Quantity
		fields[fldPriceCents] = v.PriceCents
		fields[fldNotes] = v.Notes
	case *model.Measurement:
		if err := setRef(fldForItemID, v.ForItemID); err != nil {
			return nil, err
		}
		if err := setRef(fldRoomID, v.RoomID); err != nil {
			return nil, err
		}
		fields[fldCategory] = v.Category
		fields[fldLabel] = v.Label
		fields[fldValueIn] = v.ValueIn
		fields[fldNotes] = v.Notes
	case *model.Room:
		fields[fldNotes] = v.Notes
	case *model.Store:
		fields[fldWebsite] = v.Website
		fields[fldNotes] = v.Notes
	default:
		return nil, fmt.Errorf("unsupported entity type %q", e.Type())
	}
	return fields, nil
}

// decodeRecord validates one remote row at the adapter boundary and turns
// it into a typed entity tagged clean. Unknown discriminators are a decode
// error, not a crash later.
func decodeRecord(rec airtable.Record) (model.Entity, error) {
	typ, _ := rec.Fields[fldType].(string)
	if typ == "" {
		return nil, fmt.Errorf("record %s has no %s discriminator", rec.ID, fldType)
	}
	e, err := model.NewEntity(model.EntityType(typ))
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}

	meta := e.Meta()
	meta.ID = rec.ID
	meta.RemoteID = rec.ID
	meta.SyncState = model.StateClean
	meta.CreatedAt = fieldInt64(rec.Fields, fldCreatedAt)
	meta.UpdatedAt = fieldInt64(rec.Fields, fldUpdatedAt)
	if provJSON := fieldString(rec.Fields, fldProvenance); provJSON != "" {
		var p model.Provenance
		if err := json.Unmarshal([]byte(provJSON), &p); err != nil {
			return nil, fmt.Errorf("record %s has malformed provenance: %w", rec.ID, err)
		}
		meta.Provenance = model.SanitizeProvenance(p)
	}

	name := fieldString(rec.Fields, fldName)
	switch v := e.(type) {
	case *model.Item:
		v.Name = name
		v.RoomID = fieldString(rec.Fields, fldRoomID)
		v.Category = fieldString(rec.Fields, fldCategory)
		v.PriceCents = fieldInt64(rec.Fields, fldPriceCents)
		v.StoreName = fieldString(rec.Fields, fldStoreName)
		v.SelectedOptionID = fieldString(rec.Fields, fldSelOptID)
		v.URL = fieldString(rec.Fields, fldURL)
		v.Notes = fieldString(rec.Fields, fldNotes)
		v.Tags = splitTags(fieldString(rec.Fields, fldTags))
		if v.Specs, err = fieldSpecs(rec.Fields); err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
	case *model.Option:
		v.Name = name
		v.ItemID = fieldString(rec.Fields, fldItemID)
		v.PriceCents = fieldInt64(rec.Fields, fldPriceCents)
		v.StoreName = fieldString(rec.Fields, fldStoreName)
		v.URL = fieldString(rec.Fields, fldURL)
		v.Selected = fieldBool(rec.Fields, fldSelected)
		v.Notes = fieldString(rec.Fields, fldNotes)
		v.Tags = splitTags(fieldString(rec.Fields, fldTags))
		if v.Specs, err = fieldSpecs(rec.Fields); err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
	case *model.SubItem:
		v.Name = name
		v.OptionID = fieldString(rec.Fields, fldOptionID)
		v.Quantity = fieldInt64(rec.Fields, fldQuantity)
		v.PriceCents = fieldInt64(rec.Fields, fldPriceCents)
		v.Notes = fieldString(rec.Fields, fldNotes)
	case *model.Measurement:
		v.Label = fieldString(rec.Fields, fldLabel)
		if v.Label == "" {
			v.Label = name
		}
		v.ForItemID = fieldString(rec.Fields, fldForItemID)
		v.RoomID = fieldString(rec.Fields, fldRoomID)
		v.Category = fieldString(rec.Fields, fldCategory)
		v.ValueIn = fieldFloat(rec.Fields, fldValueIn)
		v.Notes = fieldString(rec.Fields, fldNotes)
	case *model.Room:
		v.Name = name
		v.Notes = fieldString(rec.Fields, fldNotes)
	case *model.Store:
		v.Name = name
		v.Website = fieldString(rec.Fields, fldWebsite)
		v.Notes = fieldString(rec.Fields, fldNotes)
	}
	return e, nil
}

func fieldString(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func fieldInt64(fields map[string]any, key string) int64 {
	switch v := fields[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

func fieldFloat(fields map[string]any, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func fieldBool(fields map[string]any, key string) bool {
	b, _ := fields[key].(bool)
	return b
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var tags []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

func fieldSpecs(fields map[string]any) (map[string]string, error) {
	raw := fieldString(fields, fldSpecs)
	if raw == "" {
		return nil, nil
	}
	var specs map[string]string
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return nil, fmt.Errorf("malformed specs column: %w", err)
	}
	return specs, nil
}

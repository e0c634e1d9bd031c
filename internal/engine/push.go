package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/airtable"
	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/model"
	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/store"
)

// PushMode selects how a push treats the existing remote rows.
type PushMode string

const (
	// ModeCommit applies local divergences on top of the remote table.
	ModeCommit PushMode = "commit"
	// ModeReset deletes every remote row in the active view before
	// applying the payload.
	ModeReset PushMode = "reset"
)

// Counts tallies remote operations for one entity type.
type Counts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// PushError describes one unrecoverable per-record failure. Errors are
// data, not exceptions: the rest of the cycle proceeds unaffected.
type PushError struct {
	Entity  model.EntityType `json:"entity"`
	Action  string           `json:"action"`
	ID      string           `json:"id,omitempty"`
	Title   string           `json:"title,omitempty"`
	Message string           `json:"message"`
}

// PushResult reports one completed push cycle.
type PushResult struct {
	OK      bool                                   `json:"ok"`
	Created map[model.EntityType]map[string]string `json:"created"` // localId -> remoteId
	Counts  map[model.EntityType]*Counts           `json:"counts"`
	Errors  []PushError                            `json:"errors,omitempty"`
	Message string                                 `json:"message"`
}

// tombstone is a deleted entity awaiting remote acknowledgement.
type tombstone struct {
	typ      model.EntityType
	localKey string
	remoteID string
}

// pushCycle carries the per-cycle state: the redirect map of ids promoted
// so far, accumulated counts, and the deferred delete queue.
type pushCycle struct {
	engine    *Engine
	redirects map[string]string
	result    *PushResult
	deletes   []tombstone
}

// Push converts every entity whose syncState is not clean into remote
// operations. Entity types are processed in dependency order so parents
// receive server ids before their children are encoded; deletes run last
// across all types so ids still being resolved are never invalidated.
func (e *Engine) Push(ctx context.Context, mode PushMode) (*PushResult, error) {
	if e.remote == nil {
		return nil, fmt.Errorf("remote client not configured")
	}
	cycle := &pushCycle{
		engine:    e,
		redirects: make(map[string]string),
		result: &PushResult{
			Created: make(map[model.EntityType]map[string]string),
			Counts:  make(map[model.EntityType]*Counts),
		},
	}
	for _, t := range model.AllTypes {
		cycle.result.Created[t] = make(map[string]string)
		cycle.result.Counts[t] = &Counts{}
	}

	if mode == ModeReset {
		if err := cycle.resetRemote(ctx); err != nil {
			return nil, fmt.Errorf("reset failed: %w", err)
		}
	}

	for _, t := range model.AllTypes {
		entities, err := e.store.ListAll(ctx, t)
		if err != nil {
			return nil, err
		}
		var creates, updates []model.Entity
		for _, ent := range entities {
			meta := ent.Meta()
			switch meta.SyncState {
			case model.StateClean:
				continue
			case model.StateDeleted:
				if meta.RemoteID == "" {
					// Never reached the server; remove the tombstone outright.
					if err := e.store.Delete(ctx, t, meta.ID); err != nil {
						return nil, err
					}
					continue
				}
				cycle.deletes = append(cycle.deletes, tombstone{typ: t, localKey: meta.ID, remoteID: meta.RemoteID})
			case model.StateDirty:
				if meta.RemoteID == "" {
					creates = append(creates, ent)
				} else {
					updates = append(updates, ent)
				}
			}
		}
		if err := cycle.pushCreates(ctx, t, creates); err != nil {
			return nil, err
		}
		if err := cycle.pushUpdates(ctx, t, updates); err != nil {
			return nil, err
		}
	}

	if err := cycle.pushDeletes(ctx); err != nil {
		return nil, err
	}

	cycle.result.OK = true
	cycle.result.Message = cycle.summary()
	if err := e.store.PutMeta(ctx, store.MetaLastSyncSummary, cycle.result.Message); err != nil {
		e.logger.Warn("failed to persist sync summary", "error", err)
	}
	return cycle.result, nil
}

// resolve consults the cycle's redirect map: server ids pass through,
// local ids resolve only once their entity was promoted this cycle.
func (c *pushCycle) resolve(id string) (string, bool) {
	if !model.IsLocalID(id) {
		return id, true
	}
	if promoted, ok := c.redirects[id]; ok {
		return promoted, true
	}
	return "", false
}

// resetRemote deletes every row currently in the active view.
func (c *pushCycle) resetRemote(ctx context.Context) error {
	e := c.engine
	rows, err := e.remote.ListAll(ctx, e.cfg.Table, airtable.ListOptions{
		View:   e.cfg.View,
		Fields: []string{fldType},
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	typeByID := make(map[string]model.EntityType, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
		typeByID[r.ID] = model.EntityType(fieldString(r.Fields, fldType))
	}
	acked, err := e.remote.DeleteMany(ctx, e.cfg.Table, ids)
	if err != nil {
		return err
	}
	for _, ack := range acked {
		if counts, ok := c.result.Counts[typeByID[ack.ID]]; ok && ack.Deleted {
			counts.Deleted++
		}
	}
	return nil
}

// pushCreates pushes locally minted records of one type. The whole group
// is attempted as one batched call first; on failure the remainder falls
// back to one call per record so a single bad row cannot sink its
// neighbors.
func (c *pushCycle) pushCreates(ctx context.Context, t model.EntityType, group []model.Entity) error {
	e := c.engine
	var ready []model.Entity
	var payloads []map[string]any
	for _, ent := range group {
		fields, err := encodeFields(ent, c.resolve)
		if errors.Is(err, errUnresolvedRef) {
			// Parent not promoted this cycle; stays dirty, retried next sync.
			e.logger.Debug("skipping create with unresolved parent",
				"type", t, "id", ent.Meta().ID, "reason", err)
			continue
		}
		if err != nil {
			return err
		}
		ready = append(ready, ent)
		payloads = append(payloads, fields)
	}
	if len(ready) == 0 {
		return nil
	}

	created, batchErr := e.remote.CreateMany(ctx, e.cfg.Table, payloads, e.cfg.Typecast)
	// Whatever chunks succeeded before a failure are real; promote them.
	for i, rec := range created {
		if err := c.promote(ctx, t, ready[i].Meta().ID, rec.ID); err != nil {
			return err
		}
	}
	if batchErr == nil {
		return nil
	}

	e.logger.Warn("batched create failed, retrying per record",
		"type", t, "remaining", len(ready)-len(created), "error", batchErr)
	for i := len(created); i < len(ready); i++ {
		recs, err := e.remote.CreateMany(ctx, e.cfg.Table, payloads[i:i+1], e.cfg.Typecast)
		if err != nil {
			c.recordError(t, "create", ready[i], err)
			continue
		}
		if err := c.promote(ctx, t, ready[i].Meta().ID, recs[0].ID); err != nil {
			return err
		}
	}
	return nil
}

// pushUpdates pushes edits to remote-backed records. Update failures whose
// error is the remote reporting the row gone are reinterpreted as creates
// (the row was deleted out-of-band); the record's provenance and changeLog
// ride along through the rekey.
func (c *pushCycle) pushUpdates(ctx context.Context, t model.EntityType, group []model.Entity) error {
	e := c.engine
	var ready []model.Entity
	var records []airtable.Record
	for _, ent := range group {
		fields, err := encodeFields(ent, c.resolve)
		if errors.Is(err, errUnresolvedRef) {
			e.logger.Debug("skipping update with unresolved parent",
				"type", t, "id", ent.Meta().ID, "reason", err)
			continue
		}
		if err != nil {
			return err
		}
		ready = append(ready, ent)
		records = append(records, airtable.Record{ID: ent.Meta().RemoteID, Fields: fields})
	}
	if len(ready) == 0 {
		return nil
	}

	updated, batchErr := e.remote.UpdateMany(ctx, e.cfg.Table, records, e.cfg.Typecast)
	for i := range updated {
		if err := c.markClean(ctx, t, ready[i]); err != nil {
			return err
		}
	}
	if batchErr == nil {
		return nil
	}

	e.logger.Warn("batched update failed, retrying per record",
		"type", t, "remaining", len(ready)-len(updated), "error", batchErr)
	for i := len(updated); i < len(ready); i++ {
		_, err := e.remote.UpdateMany(ctx, e.cfg.Table, records[i:i+1], e.cfg.Typecast)
		if err == nil {
			if err := c.markClean(ctx, t, ready[i]); err != nil {
				return err
			}
			continue
		}
		if airtable.IsNotFound(err) {
			// The remote row was deleted out-of-band: recreate with the same
			// field payload and promote to the freshly minted id.
			recs, createErr := e.remote.CreateMany(ctx, e.cfg.Table, []map[string]any{records[i].Fields}, e.cfg.Typecast)
			if createErr != nil {
				c.recordError(t, "create", ready[i], createErr)
				continue
			}
			if err := c.promote(ctx, t, ready[i].Meta().ID, recs[0].ID); err != nil {
				return err
			}
			continue
		}
		c.recordError(t, "update", ready[i], err)
	}
	return nil
}

// pushDeletes acknowledges tombstones, strictly after all creates and
// updates of the cycle.
func (c *pushCycle) pushDeletes(ctx context.Context) error {
	if len(c.deletes) == 0 {
		return nil
	}
	e := c.engine
	byRemote := make(map[string]tombstone, len(c.deletes))
	ids := make([]string, 0, len(c.deletes))
	for _, tb := range c.deletes {
		byRemote[tb.remoteID] = tb
		ids = append(ids, tb.remoteID)
	}

	acked, batchErr := e.remote.DeleteMany(ctx, e.cfg.Table, ids)
	for _, ack := range acked {
		if err := c.finishDelete(ctx, byRemote[ack.ID]); err != nil {
			return err
		}
	}
	if batchErr == nil {
		return nil
	}

	e.logger.Warn("batched delete failed, retrying per record",
		"remaining", len(ids)-len(acked), "error", batchErr)
	for i := len(acked); i < len(ids); i++ {
		tb := byRemote[ids[i]]
		single, err := e.remote.DeleteMany(ctx, e.cfg.Table, ids[i:i+1])
		if err != nil {
			if airtable.IsNotFound(err) {
				// Already gone remotely; the tombstone served its purpose.
				if err := c.finishDelete(ctx, tb); err != nil {
					return err
				}
				continue
			}
			c.result.Errors = append(c.result.Errors, PushError{
				Entity: tb.typ, Action: "delete", ID: tb.localKey, Message: err.Error(),
			})
			continue
		}
		for range single {
			if err := c.finishDelete(ctx, tb); err != nil {
				return err
			}
		}
	}
	return nil
}

// promote rekeys a record to its server-assigned id: one transaction swaps
// the key, marks it clean, and rewrites dependent foreign keys; the
// redirect map makes the new id visible to payloads built later this
// cycle.
func (c *pushCycle) promote(ctx context.Context, t model.EntityType, localID, remoteID string) error {
	if err := c.engine.store.Rekey(ctx, t, localID, remoteID); err != nil {
		return fmt.Errorf("failed to rekey %s %s to %s: %w", t, localID, remoteID, err)
	}
	c.redirects[localID] = remoteID
	c.result.Created[t][localID] = remoteID
	c.result.Counts[t].Created++
	return nil
}

func (c *pushCycle) markClean(ctx context.Context, t model.EntityType, ent model.Entity) error {
	ent.Meta().SyncState = model.StateClean
	if err := c.engine.store.Put(ctx, ent); err != nil {
		return err
	}
	c.result.Counts[t].Updated++
	return nil
}

// finishDelete removes an acknowledged tombstone from the local store.
func (c *pushCycle) finishDelete(ctx context.Context, tb tombstone) error {
	if err := c.engine.store.Delete(ctx, tb.typ, tb.localKey); err != nil {
		return err
	}
	c.result.Counts[tb.typ].Deleted++
	return nil
}

func (c *pushCycle) recordError(t model.EntityType, action string, ent model.Entity, err error) {
	c.result.Errors = append(c.result.Errors, PushError{
		Entity:  t,
		Action:  action,
		ID:      ent.Meta().ID,
		Title:   model.DisplayName(ent),
		Message: err.Error(),
	})
}

// summary renders the user-visible outcome: counts plus the first error
// with a "+N more" suffix; the full error list stays in the result for
// diagnostics.
func (c *pushCycle) summary() string {
	var created, updated, deleted int
	for _, counts := range c.result.Counts {
		created += counts.Created
		updated += counts.Updated
		deleted += counts.Deleted
	}
	msg := fmt.Sprintf("push complete: %d created, %d updated, %d deleted", created, updated, deleted)
	if n := len(c.result.Errors); n > 0 {
		msg += fmt.Sprintf("; error: %s", c.result.Errors[0].Message)
		if n > 1 {
			msg += fmt.Sprintf(" (+%d more)", n-1)
		}
	}
	return msg
}

// MarshalSummary renders a result as compact JSON for the metadata map and
// CLI output.
func (r *PushResult) MarshalSummary() string {
	data, err := json.Marshal(r.Counts)
	if err != nil {
		return r.Message
	}
	return string(data)
}

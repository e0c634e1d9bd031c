package model

// Review-status transitions. All functions here are pure: they take the
// existing provenance (sanitized) plus a timestamp and return the next
// provenance value. Callers persist the result.

// SanitizeProvenance defaults malformed values so downstream transitions
// never trip over data written by older exports.
func SanitizeProvenance(p Provenance) Provenance {
	switch p.ReviewStatus {
	case ReviewNeedsReview, ReviewAIModified, ReviewVerified, "":
	default:
		p.ReviewStatus = ""
	}
	switch p.DataSource {
	case SourceConcrete, SourceEstimated, "":
	default:
		p.DataSource = ""
	}
	if len(p.ModifiedFields) == 0 {
		p.ModifiedFields = nil
	}
	return p
}

// ImportedNew marks a freshly imported entity with no local match: it
// needs a human look before it is trusted.
func ImportedNew(p Provenance, actor Actor, now int64) Provenance {
	p = SanitizeProvenance(p)
	p.ReviewStatus = ReviewNeedsReview
	p.VerifiedAt = 0
	p.VerifiedBy = ""
	if p.CreatedBy == "" {
		p.CreatedBy = actor
	}
	p.LastEditedBy = actor
	p.LastEditedAt = now
	return p
}

// ImportedChanged applies a non-empty import diff to an existing entity's
// provenance: flags it ai_modified, records the distinct changed field
// names, and appends one changeLog entry per change. An empty change list
// returns the provenance untouched so reimporting identical data is
// idempotent.
func ImportedChanged(p Provenance, changes []FieldChange, actor Actor, now int64, sessionID string) Provenance {
	if len(changes) == 0 {
		return p
	}
	p = SanitizeProvenance(p)
	p.ReviewStatus = ReviewAIModified
	p.VerifiedAt = 0
	p.VerifiedBy = ""
	p.LastEditedBy = actor
	p.LastEditedAt = now

	seen := make(map[string]struct{}, len(p.ModifiedFields))
	for _, f := range p.ModifiedFields {
		seen[f] = struct{}{}
	}
	for _, ch := range changes {
		if _, ok := seen[ch.Field]; !ok {
			seen[ch.Field] = struct{}{}
			p.ModifiedFields = append(p.ModifiedFields, ch.Field)
		}
		p.ChangeLog = append(p.ChangeLog, ChangeLogEntry{
			Field:     ch.Field,
			From:      ch.From,
			To:        ch.To,
			By:        actor,
			At:        now,
			SessionID: sessionID,
		})
	}
	return p
}

// MarkVerified records a human sign-off. ModifiedFields is cleared
// (verified implies nothing is pending review); the changeLog is history
// and stays.
func MarkVerified(p Provenance, now int64) Provenance {
	p = SanitizeProvenance(p)
	p.ReviewStatus = ReviewVerified
	p.VerifiedAt = now
	p.VerifiedBy = ActorHuman
	p.LastEditedBy = ActorHuman
	p.LastEditedAt = now
	p.ModifiedFields = nil
	return p
}

// MarkNeedsReview re-flags an entity for human triage, dropping any prior
// sign-off.
func MarkNeedsReview(p Provenance, now int64) Provenance {
	p = SanitizeProvenance(p)
	p.ReviewStatus = ReviewNeedsReview
	p.VerifiedAt = 0
	p.VerifiedBy = ""
	p.LastEditedBy = ActorHuman
	p.LastEditedAt = now
	return p
}

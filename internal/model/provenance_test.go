package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestImportedNewFlagsForReview(t *testing.T) {
	p := ImportedNew(Provenance{}, ActorImport, 1000)
	require.Equal(t, ReviewNeedsReview, p.ReviewStatus)
	require.Equal(t, ActorImport, p.CreatedBy)
	require.Equal(t, ActorImport, p.LastEditedBy)
	require.Equal(t, int64(1000), p.LastEditedAt)
	require.Zero(t, p.VerifiedAt)
	require.Empty(t, p.VerifiedBy)
}

func TestImportedNewKeepsExistingCreator(t *testing.T) {
	p := ImportedNew(Provenance{CreatedBy: ActorHuman}, ActorAI, 1000)
	require.Equal(t, ActorHuman, p.CreatedBy)
	require.Equal(t, ActorAI, p.LastEditedBy)
}

func TestImportedChangedRecordsFieldsAndChangeLog(t *testing.T) {
	changes := []FieldChange{
		{Field: "valueIn", From: 100.0, To: 101.0},
		{Field: "notes", From: "", To: "rechecked"},
	}
	p := ImportedChanged(Provenance{ReviewStatus: ReviewVerified, VerifiedAt: 500, VerifiedBy: ActorHuman},
		changes, ActorAI, 2000, "session-1")

	require.Equal(t, ReviewAIModified, p.ReviewStatus)
	require.Equal(t, []string{"valueIn", "notes"}, p.ModifiedFields)
	require.Zero(t, p.VerifiedAt)
	require.Empty(t, p.VerifiedBy)
	require.Len(t, p.ChangeLog, 2)
	require.Equal(t, "valueIn", p.ChangeLog[0].Field)
	require.Equal(t, 100.0, p.ChangeLog[0].From)
	require.Equal(t, 101.0, p.ChangeLog[0].To)
	require.Equal(t, ActorAI, p.ChangeLog[0].By)
	require.Equal(t, int64(2000), p.ChangeLog[0].At)
	require.Equal(t, "session-1", p.ChangeLog[0].SessionID)
}

func TestImportedChangedEmptyDiffIsNoop(t *testing.T) {
	orig := Provenance{ReviewStatus: ReviewVerified, VerifiedAt: 500, VerifiedBy: ActorHuman}
	p := ImportedChanged(orig, nil, ActorAI, 2000, "session-1")
	require.Equal(t, orig, p)
}

func TestImportedChangedDedupesModifiedFields(t *testing.T) {
	p := ImportedChanged(Provenance{ModifiedFields: []string{"notes"}},
		[]FieldChange{{Field: "notes", From: "a", To: "b"}, {Field: "name", From: "x", To: "y"}},
		ActorAI, 2000, "s")
	require.Equal(t, []string{"notes", "name"}, p.ModifiedFields)
	require.Len(t, p.ChangeLog, 2)
}

func TestMarkVerifiedClearsModifiedFieldsKeepsChangeLog(t *testing.T) {
	p := Provenance{
		ReviewStatus:   ReviewAIModified,
		ModifiedFields: []string{"priceCents"},
		ChangeLog:      []ChangeLogEntry{{Field: "priceCents", From: 1000, To: 1200}},
	}
	p = MarkVerified(p, 3000)
	require.Equal(t, ReviewVerified, p.ReviewStatus)
	require.Nil(t, p.ModifiedFields)
	require.Equal(t, int64(3000), p.VerifiedAt)
	require.Equal(t, ActorHuman, p.VerifiedBy)
	require.Equal(t, ActorHuman, p.LastEditedBy)
	require.Len(t, p.ChangeLog, 1, "changeLog is history and must survive verification")
}

func TestMarkNeedsReviewClearsSignoff(t *testing.T) {
	p := Provenance{ReviewStatus: ReviewVerified, VerifiedAt: 3000, VerifiedBy: ActorHuman}
	p = MarkNeedsReview(p, 4000)
	require.Equal(t, ReviewNeedsReview, p.ReviewStatus)
	require.Zero(t, p.VerifiedAt)
	require.Empty(t, p.VerifiedBy)
	require.Equal(t, int64(4000), p.LastEditedAt)
}

func TestSanitizeProvenanceDefaultsBadValues(t *testing.T) {
	p := SanitizeProvenance(Provenance{
		ReviewStatus:   "weird",
		DataSource:     "guessy",
		ModifiedFields: []string{},
	})
	require.Empty(t, p.ReviewStatus)
	require.Empty(t, p.DataSource)
	require.Nil(t, p.ModifiedFields)
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReindexSummary_Record(t *testing.T) {
	var s ReindexSummary
	for _, o := range []Outcome{
		OutcomeInserted, OutcomeInserted, OutcomeUpdated, OutcomeSkipped,
		OutcomeSkippedPartial, OutcomeDeleted, OutcomeFailed,
	} {
		s.Record(PathResult{Path: string(o), Outcome: o})
	}

	assert.Equal(t, 2, s.Indexed)
	assert.Equal(t, 1, s.Updated)
	assert.Equal(t, 2, s.Skipped)
	assert.Equal(t, 1, s.Partial)
	assert.Equal(t, 1, s.Deleted)
	assert.Equal(t, 1, s.Errors)
	assert.Len(t, s.Results, 7)
}

func TestReindexSummary_Merge(t *testing.T) {
	a := ReindexSummary{Indexed: 1, Skipped: 2}
	b := ReindexSummary{Indexed: 2, Errors: 1, Results: []PathResult{{Path: "/x", Outcome: OutcomeFailed}}}
	a.Merge(b)
	assert.Equal(t, 3, a.Indexed)
	assert.Equal(t, 2, a.Skipped)
	assert.Equal(t, 1, a.Errors)
	assert.Len(t, a.Results, 1)
}

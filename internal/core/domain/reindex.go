package domain

import "time"

// Outcome is the terminal state of reindexing one path.
type Outcome string

// Reindex outcomes.
const (
	OutcomeInserted       Outcome = "inserted"
	OutcomeUpdated        Outcome = "updated"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeSkippedPartial Outcome = "skipped-partial"
	OutcomeDeleted        Outcome = "deleted"
	OutcomeFailed         Outcome = "failed"
)

// ReindexOptions tune a reindex batch.
type ReindexOptions struct {
	// Force ignores the unchanged check and re-imports every path.
	Force bool
}

// PathResult records what happened to a single path.
type PathResult struct {
	Path    string  `json:"path"`
	Outcome Outcome `json:"outcome"`
	Chunks  int     `json:"chunks"`
	Error   string  `json:"error,omitempty"`
}

// ReindexSummary counts the outcomes of a batch.
// Skipped includes skipped-partial paths.
type ReindexSummary struct {
	Indexed  int           `json:"indexed"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Deleted  int           `json:"deleted"`
	Errors   int           `json:"errors"`
	Partial  int           `json:"partial"`
	Results  []PathResult  `json:"results,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Record adds a path result to the summary counts.
func (s *ReindexSummary) Record(r PathResult) {
	switch r.Outcome {
	case OutcomeInserted:
		s.Indexed++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeSkippedPartial:
		s.Skipped++
		s.Partial++
	case OutcomeDeleted:
		s.Deleted++
	case OutcomeFailed:
		s.Errors++
	}
	s.Results = append(s.Results, r)
}

// Merge folds another summary into this one.
func (s *ReindexSummary) Merge(o ReindexSummary) {
	s.Indexed += o.Indexed
	s.Updated += o.Updated
	s.Skipped += o.Skipped
	s.Deleted += o.Deleted
	s.Errors += o.Errors
	s.Partial += o.Partial
	s.Results = append(s.Results, o.Results...)
}

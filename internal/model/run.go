package model

import "time"

// RunMode is the way a run selects its documents.
type RunMode string

const (
	RunModeItem    RunMode = "item"
	RunModeFolder  RunMode = "folder"
	RunModeLibrary RunMode = "library"
)

// Outcome is what happened to a single document.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeErrored   Outcome = "errored"
)

// Failure records a document that could not be processed.
type Failure struct {
	Source  string `json:"source"`
	ItemKey string `json:"item_key,omitempty"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

// Summary aggregates the outcome of a run.
type Summary struct {
	Mode       RunMode   `json:"mode"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	DryRun     bool      `json:"dry_run"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Skipped    int       `json:"skipped"`
	Errored    int       `json:"errored"`
	Failures   []Failure `json:"failures,omitempty"`
	Usage      Usage     `json:"usage"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Record counts one outcome.
func (s *Summary) Record(o Outcome) {
	switch o {
	case OutcomeSucceeded:
		s.Succeeded++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeErrored:
		s.Errored++
	}
}

// Run is a stored summary of a completed run.
type Run struct {
	ID string `json:"id"`
	Summary
}

package domain

import (
	"encoding/json"
	"time"
)

type SyncScope string

const (
	SyncScopeFull  SyncScope = "full"
	SyncScopeDelta SyncScope = "delta"
	SyncScopeSet   SyncScope = "set"
)

// Async reports whether runs of this scope are handed to the background workers.
func (s SyncScope) Async() bool {
	return s == SyncScopeFull || s == SyncScopeDelta
}

func (s SyncScope) Valid() bool {
	switch s {
	case SyncScopeFull, SyncScopeDelta, SyncScopeSet:
		return true
	}
	return false
}

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// SyncRun is the append-only audit record of one pipeline invocation.
type SyncRun struct {
	ID           string          `json:"id" yaml:"id"`
	Scope        SyncScope       `json:"scope" yaml:"scope"`
	TargetID     string          `json:"target_id,omitempty" yaml:"target_id,omitempty"`
	Status       RunStatus       `json:"status" yaml:"status"`
	StartedAt    time.Time       `json:"started_at" yaml:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	ItemsChecked int             `json:"items_checked" yaml:"items_checked"`
	ItemsCreated int             `json:"items_created" yaml:"items_created"`
	ItemsUpdated int             `json:"items_updated" yaml:"items_updated"`
	ItemsFailed  int             `json:"items_failed" yaml:"items_failed"`
	ErrorMessage string          `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	Stats        json.RawMessage `json:"stats,omitempty" yaml:"-"`
}

const maxRecordedErrors = 100

type SyncStats struct {
	SeriesChecked  int      `json:"series_checked"`
	SeriesCreated  int      `json:"series_created"`
	SeriesUpdated  int      `json:"series_updated"`
	SetsChecked    int      `json:"sets_checked"`
	SetsCreated    int      `json:"sets_created"`
	SetsUpdated    int      `json:"sets_updated"`
	SetsSkipped    int      `json:"sets_skipped"`
	SetsFailed     int      `json:"sets_failed"`
	CardsChecked   int      `json:"cards_checked"`
	CardsCreated   int      `json:"cards_created"`
	CardsUpdated   int      `json:"cards_updated"`
	CardsUnchanged int      `json:"cards_unchanged"`
	CardsNotFound  int      `json:"cards_not_found"`
	CardsFailed    int      `json:"cards_failed"`
	PricesRecorded int      `json:"prices_recorded"`
	PricesFailed   int      `json:"prices_failed"`
	Errors         []string `json:"errors,omitempty"`
}

// AddError records err, keeping at most the first 100 messages.
func (s *SyncStats) AddError(msg string) {
	if len(s.Errors) >= maxRecordedErrors {
		return
	}
	s.Errors = append(s.Errors, msg)
}

// ErrorSummary joins the first five recorded errors.
func (s *SyncStats) ErrorSummary() string {
	n := min(len(s.Errors), 5)
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += "; "
		}
		out += s.Errors[i]
	}
	return out
}

// SyncRequest is the trigger body: {"type": "full"|"delta"|"set", "setId": "..."}.
type SyncRequest struct {
	Type  SyncScope `json:"type" validate:"required,scope"`
	SetID string    `json:"setId,omitempty" validate:"required_if=Type set,omitempty,setid"`
}

type SyncSummary struct {
	RunID    string    `json:"sync_id"`
	Scope    SyncScope `json:"scope"`
	TargetID string    `json:"target_id,omitempty"`
	Status   RunStatus `json:"status"`
	// Accepted is set when processing continues in a background worker.
	Accepted bool          `json:"accepted"`
	Stats    SyncStats     `json:"stats"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Job references a SyncRun whose processing was handed to the work queue.
type Job struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Scope      SyncScope `json:"scope"`
	TargetID   string    `json:"target_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}

package models

import (
	"database/sql"
	"time"
)

// ImportStatus is the lifecycle state of an import run.
type ImportStatus string

const (
	ImportRunning   ImportStatus = "running"
	ImportCompleted ImportStatus = "completed"
	ImportFailed    ImportStatus = "failed"
)

// ImportRun records one pass over a dump.
type ImportRun struct {
	ID            string       `json:"id"`
	Status        ImportStatus `json:"status"`
	Source        string       `json:"source"`
	UserID        *int64       `json:"user_id,omitempty"`
	PagesSeen     int          `json:"pages_seen"`
	PagesImported int          `json:"pages_imported"`
	PagesSkipped  int          `json:"pages_skipped"`
	PagesFailed   int          `json:"pages_failed"`
	Report        string       `json:"-"` // JSON encoded report and page log
	Error         string       `json:"error,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    sql.NullTime `json:"-"`
}

// Finished reports whether the run reached a terminal state.
func (r *ImportRun) Finished() bool {
	return r.Status == ImportCompleted || r.Status == ImportFailed
}

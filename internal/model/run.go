// Package model defines the data structures used throughout the application.
package model

import "time"

// RunStatus is the outcome of a finished job.
type RunStatus string

const (
	RunOK     RunStatus = "ok"
	RunFailed RunStatus = "failed"
)

// Run is one entry in the execution history.
//
// Only metadata is kept: the source text, stdin and stdout are NOT stored.
// Error holds the diagnostic of a failed job, which may quote the program.
type Run struct {
	ID          string    `json:"id"`
	JobID       string    `json:"jobId"`
	Language    string    `json:"language"`
	Status      RunStatus `json:"status"`
	Stage       string    `json:"stage,omitempty"` // build or run, failures only
	DurationMs  int64     `json:"durationMs"`
	CodeBytes   int       `json:"codeBytes"`
	OutputBytes int       `json:"outputBytes"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

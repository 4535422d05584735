package app

import "time"

// Operation tracks one CLI command for the log. Its ID is the start time,
// which tags every log line the command writes.
type Operation struct {
	ID      string
	Name    string
	Status  string // "success" or "error"
	Started time.Time
}

// NewOperation creates an operation that started at now.
func NewOperation(name string, now time.Time) *Operation {
	return &Operation{
		ID:      now.UTC().Format("20060102T150405Z"),
		Name:    name,
		Status:  "success",
		Started: now,
	}
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = "error"
}

// Elapsed returns the time since the operation started, rounded to the
// millisecond.
func (op *Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(op.Started).Round(time.Millisecond)
}

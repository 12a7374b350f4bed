package model

import "time"

// LogEntry mirrors one row of the append-only `activity_logs` table.  Rows
// are written once by the lifecycle coordinator and never updated.  The ID
// is assigned by the store at append time and grows with Timestamp.
type LogEntry struct {
	ID          uint64    `json:"id"`
	MAC         string    `json:"mac"`
	Hostname    string    `json:"hostname"`
	Action      string    `json:"action"`
	PerformedBy string    `json:"performed_by"`
	Timestamp   time.Time `json:"timestamp"`
}

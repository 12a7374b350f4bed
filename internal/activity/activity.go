// Package activity is the append-only audit trail of device changes.
// Entries are written inside the transaction of the change they describe
// and there is no code path that edits or removes them.
package activity

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/license-panel/internal/model"
	"github.com/iliyamo/license-panel/internal/repository"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Action texts written to the log.
const (
	IssueKey         = "issue key"
	GrantForever     = "grant license forever"
	ActivateDevice   = "activate device"
	DeactivateDevice = "deactivate device"
	DeleteDevice     = "delete device"
)

// Grant returns the text for a grant of days, or GrantForever.
func Grant(days int, forever bool) string {
	if forever {
		return GrantForever
	}
	return "grant license expiring in " + strconv.Itoa(days) + " days"
}

// Toggle returns the text for an enablement change to active.
func Toggle(active bool) string {
	if active {
		return ActivateDevice
	}
	return DeactivateDevice
}

// Log reads entries from a Store and appends through a Tx.
type Log struct {
	store repository.Store
}

func New(store repository.Store) *Log { return &Log{store: store} }

// Append records one action against device d, stamped at.  A zero at lets
// the store pick the time.
func (l *Log) Append(ctx context.Context, tx repository.Tx, d model.Device, action, performedBy string, at time.Time) (model.LogEntry, error) {
	e := model.LogEntry{
		MAC:         d.MAC,
		Hostname:    d.Hostname,
		Action:      action,
		PerformedBy: performedBy,
		Timestamp:   at,
	}
	if err := tx.AppendLog(ctx, &e); err != nil {
		return model.LogEntry{}, err
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]model.LogEntry, error) {
	return l.store.RecentLogs(ctx, ClampLimit(limit))
}

// Search matches term against mac, hostname, action and performer,
// ignoring case.
func (l *Log) Search(ctx context.Context, term string, limit int) ([]model.LogEntry, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return l.Recent(ctx, limit)
	}
	return l.store.SearchLogs(ctx, term, ClampLimit(limit))
}

// ClampLimit applies DefaultLimit to non-positive values and caps at
// MaxLimit.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}

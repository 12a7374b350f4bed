package repository

import (
	"context"

	"github.com/iliyamo/license-panel/internal/model"
)

// Store is the record store the service depends on.  Reads run outside
// any transaction; every device mutation goes through WithinTx so that it
// lands together with its activity log entry or not at all.
type Store interface {
	// DeviceByID returns ErrNotFound when no live device has the id.
	DeviceByID(ctx context.Context, id uint64) (model.Device, error)
	// DeviceByMAC expects a canonical MAC and returns ErrNotFound when absent.
	DeviceByMAC(ctx context.Context, mac string) (model.Device, error)
	// ListDevices returns all devices, newest first.
	ListDevices(ctx context.Context) ([]model.Device, error)
	// SearchDevices matches term case-insensitively as a substring of the
	// MAC, hostname or key code.
	SearchDevices(ctx context.Context, term string) ([]model.Device, error)
	// CountDevices returns the number of devices and how many are active.
	CountDevices(ctx context.Context) (total, active int, err error)

	// RecentLogs returns at most limit entries ordered newest first.
	RecentLogs(ctx context.Context, limit int) ([]model.LogEntry, error)
	// SearchLogs matches term case-insensitively against mac, hostname,
	// action and performed_by.
	SearchLogs(ctx context.Context, term string, limit int) ([]model.LogEntry, error)

	UserByUsername(ctx context.Context, username string) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	// CreateUser fills in ID and CreatedAt.  Returns ErrDuplicateUsername.
	CreateUser(ctx context.Context, u *model.User) error
	UpdateUserRole(ctx context.Context, username, role string) (model.User, error)
	CountUsers(ctx context.Context) (int, error)

	// WithinTx runs fn inside one transaction.  The transaction commits
	// when fn returns nil and rolls back otherwise; no effect of a failed
	// fn is ever visible.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error
}

// Tx is the set of writes allowed inside a unit of work.  Implementations
// must serialize units of work that touch the same device: once
// LockDevice returns, no other transaction can change that device until
// this one ends.
type Tx interface {
	// LockDevice loads the device and holds it for the rest of the
	// transaction.  Returns ErrNotFound when it does not exist.
	LockDevice(ctx context.Context, id uint64) (model.Device, error)
	// InsertDevice stores a new device and fills in its ID.  Returns
	// ErrDuplicateMac when the MAC is taken.
	InsertDevice(ctx context.Context, d *model.Device) error
	// UpdateDevice writes the license state of a locked device: Active,
	// ActivatedAt and ExpiresAt.  Identity fields are immutable and are
	// not written.
	UpdateDevice(ctx context.Context, d model.Device) error
	// DeleteDevice removes a locked device.
	DeleteDevice(ctx context.Context, id uint64) error
	// AppendLog stores a new activity entry and fills in its ID.  If
	// Timestamp is zero the store stamps the current time.  A timestamp
	// older than the newest stored entry is raised to match it.
	AppendLog(ctx context.Context, e *model.LogEntry) error
}

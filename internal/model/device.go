package model

import "time"

// Device status values derived for display.  They are never stored; the
// stored state is the Active flag plus the two timestamps.
const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusExpired = "expired"
)

// Device represents a registered machine as stored in the `devices` table.
// A device is identified by its MAC address and carries one license key
// for its whole life.
//
// Fields:
//
//	ID          – primary key, immutable.
//	MAC         – canonical upper-case colon separated MAC, unique among live rows.
//	Hostname    – free-form host name reported when the key was issued.
//	KeyCode     – license key string, immutable after creation.
//	Active      – enablement flag.
//	ActivatedAt – when the last grant happened (nil if never granted).
//	ExpiresAt   – end of the last grant (nil for a permanent grant).
//	AddedBy     – username that issued the key.
//	CreatedAt   – timestamp of creation.
type Device struct {
	ID          uint64     `json:"id"`
	MAC         string     `json:"mac"`
	Hostname    string     `json:"hostname"`
	KeyCode     string     `json:"key_code"`
	Active      bool       `json:"active"`
	ActivatedAt *time.Time `json:"activated_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
	AddedBy     string     `json:"added_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Pending reports whether the device has never been granted a license.
func (d Device) Pending() bool { return !d.Active && d.ActivatedAt == nil }

// Expired reports whether the last grant ended before now.  Expiry is
// informational only: an expired device keeps Active=true until someone
// resets it.
func (d Device) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && !d.ExpiresAt.After(now)
}

// Status returns the display status of the device at the given time.
func (d Device) Status(now time.Time) string {
	switch {
	case d.Active && d.Expired(now):
		return StatusExpired
	case d.Active:
		return StatusActive
	default:
		return StatusPending
	}
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iliyamo/license-panel/internal/model"
	"github.com/iliyamo/license-panel/internal/repository"
)

const (
	maxHostname = 255
	maxKeyCode  = 64
)

// NewDevice is the input of Create.  An empty KeyCode is replaced with a
// generated one.
type NewDevice struct {
	MAC       string
	Hostname  string
	KeyCode   string
	ExpiresAt *time.Time
	AddedBy   string
}

// Clock reports the current time.  Mutators call it once the device row
// is theirs, so every stamp is taken after the lock.
type Clock func() time.Time

// Registry reads devices from a Store and mutates them through the Tx of
// the caller's unit of work.
type Registry struct {
	store repository.Store
}

func New(store repository.Store) *Registry { return &Registry{store: store} }

// Create inserts a pending device.  The MAC is canonicalised first, so
// two spellings of one address collide with ErrDuplicateMac.
func (r *Registry) Create(ctx context.Context, tx repository.Tx, in NewDevice, now Clock) (model.Device, error) {
	mac, err := NormalizeMAC(in.MAC)
	if err != nil {
		return model.Device{}, err
	}
	host := strings.TrimSpace(in.Hostname)
	if utf8.RuneCountInString(host) > maxHostname {
		return model.Device{}, fmt.Errorf("%w: hostname longer than %d characters", ErrInvalidInput, maxHostname)
	}
	key := strings.TrimSpace(in.KeyCode)
	if key == "" {
		if key, err = GenerateKeyCode(); err != nil {
			return model.Device{}, err
		}
	}
	if len(key) > maxKeyCode {
		return model.Device{}, fmt.Errorf("%w: key code longer than %d characters", ErrInvalidInput, maxKeyCode)
	}

	d := model.Device{
		MAC:       mac,
		Hostname:  host,
		KeyCode:   key,
		ExpiresAt: utcPtr(in.ExpiresAt),
		AddedBy:   in.AddedBy,
		CreatedAt: now(),
	}
	if err := tx.InsertDevice(ctx, &d); err != nil {
		return model.Device{}, err
	}
	return d, nil
}

// Activate grants a license: active, activated now, expiring after dur.
func (r *Registry) Activate(ctx context.Context, tx repository.Tx, id uint64, dur Duration, now Clock) (model.Device, error) {
	if err := dur.validate(); err != nil {
		return model.Device{}, err
	}
	return r.transition(ctx, tx, id, ActionActivate, func(d *model.Device) error {
		at := now()
		exp := dur.ExpiresAt(at)
		if exp != nil && exp.Year() > maxYear {
			return fmt.Errorf("%w: license would expire after year %d", ErrInvalidInput, maxYear)
		}
		d.Active = true
		d.ActivatedAt = &at
		d.ExpiresAt = exp
		return nil
	})
}

// ToggleActive flips the enablement flag and keeps the grant history.  A
// device that was never granted gets activated_at stamped on its first
// enable, with no expiry.
func (r *Registry) ToggleActive(ctx context.Context, tx repository.Tx, id uint64, now Clock) (model.Device, error) {
	return r.transition(ctx, tx, id, ActionToggle, func(d *model.Device) error {
		d.Active = !d.Active
		if d.Active && d.ActivatedAt == nil {
			at := now()
			d.ActivatedAt = &at
		}
		return nil
	})
}

// Delete removes the device and returns it as it was.
func (r *Registry) Delete(ctx context.Context, tx repository.Tx, id uint64) (model.Device, error) {
	d, err := tx.LockDevice(ctx, id)
	if err != nil {
		return model.Device{}, err
	}
	if _, err := Next(StateOf(d), ActionDelete); err != nil {
		return model.Device{}, err
	}
	if err := tx.DeleteDevice(ctx, id); err != nil {
		return model.Device{}, err
	}
	return d, nil
}

func (r *Registry) transition(ctx context.Context, tx repository.Tx, id uint64, a Action, apply func(*model.Device) error) (model.Device, error) {
	d, err := tx.LockDevice(ctx, id)
	if err != nil {
		return model.Device{}, err
	}
	if _, err := Next(StateOf(d), a); err != nil {
		return model.Device{}, err
	}
	if err := apply(&d); err != nil {
		return model.Device{}, err
	}
	if err := tx.UpdateDevice(ctx, d); err != nil {
		return model.Device{}, err
	}
	return d, nil
}

// List returns every device, newest first.
func (r *Registry) List(ctx context.Context) ([]model.Device, error) {
	return r.store.ListDevices(ctx)
}

// FindByMac returns the device with the given MAC in any notation.  The
// boolean is false when no device has it.
func (r *Registry) FindByMac(ctx context.Context, mac string) (model.Device, bool, error) {
	canon, err := NormalizeMAC(mac)
	if err != nil {
		return model.Device{}, false, err
	}
	d, err := r.store.DeviceByMAC(ctx, canon)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Device{}, false, nil
	}
	if err != nil {
		return model.Device{}, false, err
	}
	return d, true, nil
}

// Search matches term against MAC, hostname and key code, ignoring case.
// An empty term lists everything.
func (r *Registry) Search(ctx context.Context, term string) ([]model.Device, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return r.List(ctx)
	}
	return r.store.SearchDevices(ctx, term)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

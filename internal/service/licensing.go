package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/license-panel/internal/activity"
	"github.com/iliyamo/license-panel/internal/logs"
	"github.com/iliyamo/license-panel/internal/model"
	"github.com/iliyamo/license-panel/internal/policy"
	"github.com/iliyamo/license-panel/internal/queue"
	"github.com/iliyamo/license-panel/internal/registry"
	"github.com/iliyamo/license-panel/internal/repository"
)

// EventPublisher receives one event per committed device change.
// queue.Publisher implements it.
type EventPublisher interface {
	PublishActivity(ctx context.Context, ev queue.ActivityEvent) error
}

// Options tunes a Licensing coordinator.  Zero values pick defaults.
type Options struct {
	Retry     RetryPolicy
	Publisher EventPublisher
	Now       func() time.Time
	// PublishTimeout bounds each background publish.
	PublishTimeout time.Duration
}

// Licensing is the license lifecycle coordinator.  It is safe for
// concurrent use.
type Licensing struct {
	store    repository.Store
	registry *registry.Registry
	log      *activity.Log
	retry    RetryPolicy
	pub      EventPublisher
	now      func() time.Time
	pubWait  time.Duration
	inflight sync.WaitGroup
}

func NewLicensing(store repository.Store, opts Options) *Licensing {
	l := &Licensing{
		store:    store,
		registry: registry.New(store),
		log:      activity.New(store),
		retry:    opts.Retry,
		pub:      opts.Publisher,
		now:      opts.Now,
		pubWait:  opts.PublishTimeout,
	}
	if l.retry.Attempts == 0 {
		l.retry = DefaultRetry
	}
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC() }
	}
	if l.pubWait <= 0 {
		l.pubWait = 5 * time.Second
	}
	return l
}

// Wait blocks until background event publishing has finished.
func (l *Licensing) Wait() { l.inflight.Wait() }

// gate checks actor against op.
func gate(actor *model.Identity, op policy.Operation) error {
	if actor == nil || actor.Username == "" {
		return ErrUnauthenticated
	}
	if !policy.Allowed(actor, op) {
		return fmt.Errorf("%w: role %q may not %s", ErrForbidden, actor.Role, op)
	}
	return nil
}

// change is the outcome of one committed unit of work.
type change struct {
	device model.Device
	entry  model.LogEntry
}

// stamp returns a clock that reads l.now on its first call and repeats
// that instant afterwards, so a device change and its log entry share one
// time taken after the device lock.
func (l *Licensing) stamp() registry.Clock {
	var at time.Time
	return func() time.Time {
		if at.IsZero() {
			at = l.now()
		}
		return at
	}
}

// mutate runs fn as one unit of work, retried on transient failures, and
// publishes the resulting event once it has committed.  Every attempt gets
// a fresh stamp.
func (l *Licensing) mutate(ctx context.Context, actor *model.Identity, op string, fn func(ctx context.Context, tx repository.Tx, now registry.Clock) (change, error)) (change, error) {
	if err := gate(actor, policy.ManageDevices); err != nil {
		return change{}, err
	}
	var out change
	err := l.retry.run(ctx, op, func() error {
		return l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			c, err := fn(ctx, tx, l.stamp())
			if err != nil {
				return err
			}
			out = c
			return nil
		})
	})
	if err != nil {
		return change{}, err
	}

	logs.With("licensing").WithFields(logrus.Fields{
		"operation": op,
		"device_id": out.device.ID,
		"mac":       out.device.MAC,
		"action":    out.entry.Action,
		"actor":     actor.Username,
	}).Info("device change committed")
	l.publish(ctx, out)
	return out, nil
}

func (l *Licensing) publish(ctx context.Context, c change) {
	if l.pub == nil {
		return
	}
	ev := queue.ActivityEvent{
		LogID:       c.entry.ID,
		DeviceID:    c.device.ID,
		MAC:         c.device.MAC,
		Hostname:    c.device.Hostname,
		Action:      c.entry.Action,
		PerformedBy: c.entry.PerformedBy,
		Active:      c.device.Active,
		OccurredAt:  c.entry.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if c.device.ExpiresAt != nil {
		s := c.device.ExpiresAt.UTC().Format(time.RFC3339)
		ev.ExpiresAt = &s
	}

	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.pubWait)
		defer cancel()
		if err := l.pub.PublishActivity(pctx, ev); err != nil {
			logs.With("licensing").WithError(err).WithField("log_id", ev.LogID).Warn("publish activity event failed")
		}
	}()
}

// IssueKeyInput is the input of Licensing.IssueKey.  An empty KeyCode gets a
// generated key.
type IssueKeyInput struct {
	MAC       string
	Hostname  string
	KeyCode   string
	ExpiresAt *time.Time
}

// IssueKey registers a new pending device.
func (l *Licensing) IssueKey(ctx context.Context, actor *model.Identity, in IssueKeyInput) (model.Device, error) {
	c, err := l.mutate(ctx, actor, "issue key", func(ctx context.Context, tx repository.Tx, now registry.Clock) (change, error) {
		d, err := l.registry.Create(ctx, tx, registry.NewDevice{
			MAC:       in.MAC,
			Hostname:  in.Hostname,
			KeyCode:   in.KeyCode,
			ExpiresAt: in.ExpiresAt,
			AddedBy:   actor.Username,
		}, now)
		if err != nil {
			return change{}, err
		}
		e, err := l.log.Append(ctx, tx, d, activity.IssueKey, actor.Username, now())
		if err != nil {
			return change{}, err
		}
		return change{device: d, entry: e}, nil
	})
	return c.device, err
}

// GrantLicense activates device id for dur starting now.
func (l *Licensing) GrantLicense(ctx context.Context, actor *model.Identity, id uint64, dur registry.Duration) (model.Device, error) {
	c, err := l.mutate(ctx, actor, "grant license", func(ctx context.Context, tx repository.Tx, now registry.Clock) (change, error) {
		d, err := l.registry.Activate(ctx, tx, id, dur, now)
		if err != nil {
			return change{}, err
		}
		e, err := l.log.Append(ctx, tx, d, activity.Grant(dur.DayCount(), dur.IsForever()), actor.Username, now())
		if err != nil {
			return change{}, err
		}
		return change{device: d, entry: e}, nil
	})
	return c.device, err
}

// ResetDevice flips the enablement flag of device id and keeps its grant
// history.
func (l *Licensing) ResetDevice(ctx context.Context, actor *model.Identity, id uint64) (model.Device, error) {
	c, err := l.mutate(ctx, actor, "reset device", func(ctx context.Context, tx repository.Tx, now registry.Clock) (change, error) {
		d, err := l.registry.ToggleActive(ctx, tx, id, now)
		if err != nil {
			return change{}, err
		}
		e, err := l.log.Append(ctx, tx, d, activity.Toggle(d.Active), actor.Username, now())
		if err != nil {
			return change{}, err
		}
		return change{device: d, entry: e}, nil
	})
	return c.device, err
}

// RemoveDevice deletes device id.  Deletion is final.
func (l *Licensing) RemoveDevice(ctx context.Context, actor *model.Identity, id uint64) error {
	_, err := l.remove(ctx, actor, id)
	return err
}

func (l *Licensing) remove(ctx context.Context, actor *model.Identity, id uint64) (model.Device, error) {
	c, err := l.mutate(ctx, actor, "remove device", func(ctx context.Context, tx repository.Tx, now registry.Clock) (change, error) {
		d, err := l.registry.Delete(ctx, tx, id)
		if err != nil {
			return change{}, err
		}
		e, err := l.log.Append(ctx, tx, d, activity.DeleteDevice, actor.Username, now())
		if err != nil {
			return change{}, err
		}
		return change{device: d, entry: e}, nil
	})
	return c.device, err
}

// Apply runs a lifecycle action by name.  dur is only read for
// registry.ActionActivate.  For a delete the returned device is the
// record as it was before removal.
func (l *Licensing) Apply(ctx context.Context, actor *model.Identity, id uint64, action registry.Action, dur registry.Duration) (model.Device, error) {
	switch action {
	case registry.ActionActivate:
		return l.GrantLicense(ctx, actor, id, dur)
	case registry.ActionToggle:
		return l.ResetDevice(ctx, actor, id)
	case registry.ActionDelete:
		return l.remove(ctx, actor, id)
	}
	if err := gate(actor, policy.ManageDevices); err != nil {
		return model.Device{}, err
	}
	return model.Device{}, fmt.Errorf("%w: %q", registry.ErrUnsupportedTransition, action)
}

// ListDevices returns the devices matching term, or all of them.
func (l *Licensing) ListDevices(ctx context.Context, actor *model.Identity, term string) ([]model.Device, error) {
	if err := gate(actor, policy.ViewDevices); err != nil {
		return nil, err
	}
	return l.registry.Search(ctx, term)
}

// GetDevice returns one device by id.
func (l *Licensing) GetDevice(ctx context.Context, actor *model.Identity, id uint64) (model.Device, error) {
	if err := gate(actor, policy.ViewDevices); err != nil {
		return model.Device{}, err
	}
	return l.store.DeviceByID(ctx, id)
}

// FindDeviceByMac looks a device up by MAC in any notation.
func (l *Licensing) FindDeviceByMac(ctx context.Context, actor *model.Identity, mac string) (model.Device, bool, error) {
	if err := gate(actor, policy.ViewDevices); err != nil {
		return model.Device{}, false, err
	}
	return l.registry.FindByMac(ctx, mac)
}

// ListLogs returns up to limit entries matching term, newest first.
func (l *Licensing) ListLogs(ctx context.Context, actor *model.Identity, limit int, term string) ([]model.LogEntry, error) {
	if err := gate(actor, policy.ViewLogs); err != nil {
		return nil, err
	}
	return l.log.Search(ctx, term, limit)
}

// Stats is the dashboard summary.
type Stats struct {
	TotalDevices  int              `json:"total_devices"`
	ActiveDevices int              `json:"active_devices"`
	TotalUsers    int              `json:"total_users"`
	RecentLogs    []model.LogEntry `json:"recent_logs"`
}

const dashboardLogs = 5

// Dashboard returns device and user counts plus the latest activity.
func (l *Licensing) Dashboard(ctx context.Context, actor *model.Identity) (Stats, error) {
	if err := gate(actor, policy.ViewDashboard); err != nil {
		return Stats{}, err
	}
	total, active, err := l.store.CountDevices(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count devices: %w", err)
	}
	users, err := l.store.CountUsers(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count users: %w", err)
	}
	recent, err := l.log.Recent(ctx, dashboardLogs)
	if err != nil {
		return Stats{}, fmt.Errorf("recent logs: %w", err)
	}
	return Stats{TotalDevices: total, ActiveDevices: active, TotalUsers: users, RecentLogs: recent}, nil
}

// Ping reports whether storage is reachable.
func (l *Licensing) Ping(ctx context.Context) error { return l.store.Ping(ctx) }

// Package registry owns device records: creation, license grants,
// enablement toggles and deletion, plus the lookups the panel needs.
// Writes always run inside a repository.Tx handed in by the caller so
// they can share a transaction with the matching activity log entry.
package registry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/license-panel/internal/model"
)

var (
	// ErrUnsupportedTransition is returned for an action the device's
	// current state does not allow, or an action that does not exist.
	ErrUnsupportedTransition = errors.New("unsupported transition")
	// ErrInvalidInput is returned for malformed MACs, negative durations
	// and oversized fields.
	ErrInvalidInput = errors.New("invalid input")
)

// State is a node of the device lifecycle.
type State string

const (
	StatePending State = "pending"
	StateActive  State = "active"
	StateGone    State = "gone"
)

// Action is an edge of the device lifecycle.
type Action string

const (
	ActionActivate Action = "activate"
	ActionToggle   Action = "toggle"
	ActionDelete   Action = "delete"
)

var transitions = map[State]map[Action]State{
	StatePending: {
		ActionActivate: StateActive,
		ActionToggle:   StateActive,
		ActionDelete:   StateGone,
	},
	StateActive: {
		ActionActivate: StateActive,
		ActionToggle:   StatePending,
		ActionDelete:   StateGone,
	},
}

// Next returns the state reached by applying a in state s.
func Next(s State, a Action) (State, error) {
	to, ok := transitions[s][a]
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", ErrUnsupportedTransition, a, s)
	}
	return to, nil
}

// StateOf maps a stored device onto the lifecycle.  A device that was
// reset after a grant is pending again.
func StateOf(d model.Device) State {
	if d.Active {
		return StateActive
	}
	return StatePending
}

// ParseAction converts user input into a known Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionActivate, ActionToggle, ActionDelete:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrUnsupportedTransition, s)
}

// Duration is the length of a license grant: a whole number of days or
// no end at all.
type Duration struct {
	days    int
	forever bool
}

// Forever is a grant with no expiry.
var Forever = Duration{forever: true}

// Days returns a grant of n days.  Negative values are rejected when the
// grant is applied.
func Days(n int) Duration { return Duration{days: n} }

// Presets are the durations offered by the panel.  Any day count from 0
// to MaxDays is accepted.
var Presets = []Duration{Days(1), Days(3), Days(30), Days(180), Days(730), Forever}

func (d Duration) IsForever() bool { return d.forever }
func (d Duration) DayCount() int   { return d.days }

const (
	// MaxDays is the longest finite grant, a little over 2700 years.
	MaxDays = 1_000_000
	// maxYear is the last year a DATETIME column can hold.
	maxYear = 9999
)

func (d Duration) validate() error {
	switch {
	case d.forever:
		return nil
	case d.days < 0:
		return fmt.Errorf("%w: negative duration %d", ErrInvalidInput, d.days)
	case d.days > MaxDays:
		return fmt.Errorf("%w: duration %d exceeds %d days", ErrInvalidInput, d.days, MaxDays)
	}
	return nil
}

// ExpiresAt returns the end of a grant starting at now, or nil.
func (d Duration) ExpiresAt(now time.Time) *time.Time {
	if d.forever {
		return nil
	}
	t := now.AddDate(0, 0, d.days)
	return &t
}

func (d Duration) String() string {
	if d.forever {
		return "forever"
	}
	return strconv.Itoa(d.days) + "d"
}

// ParseDuration accepts "forever" (or "unlimited") or a day count.
func ParseDuration(s string) (Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "forever", "unlimited", "permanent":
		return Forever, nil
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
	if err != nil {
		return Duration{}, fmt.Errorf("%w: duration %q", ErrInvalidInput, s)
	}
	d := Days(n)
	return d, d.validate()
}

// Package schedule decides whether a scheduled crawl should run today and
// persists the time of the last run.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// Custom errors for schedule operations
var (
	ErrCorruptState = errors.New("state file is unreadable")
)

// Policy runs on every invocation during recruitment peaks and otherwise
// waits OffPeakInterval between runs.
type Policy struct {
	PeakMonths      []time.Month
	OffPeakInterval time.Duration
}

// DefaultPolicy treats March, April, September and October as peak months
// and runs every third day outside them.
func DefaultPolicy() Policy {
	return Policy{
		PeakMonths:      []time.Month{time.March, time.April, time.September, time.October},
		OffPeakInterval: 72 * time.Hour,
	}
}

// IsPeak reports whether m is a peak month.
func (p Policy) IsPeak(m time.Month) bool {
	return slices.Contains(p.PeakMonths, m)
}

// Decision is the outcome of ShouldRun.
type Decision struct {
	Run    bool
	Peak   bool
	Reason string

	// NotBefore is the earliest time an off-peak run becomes due. Zero when
	// Run is true.
	NotBefore time.Time
}

// ShouldRun applies the policy to the current time and the saved state.
func (p Policy) ShouldRun(now time.Time, state State) Decision {
	if p.IsPeak(now.Month()) {
		return Decision{Run: true, Peak: true, Reason: "recruitment season, daily updates"}
	}

	if state.LastRun == nil {
		return Decision{Run: true, Reason: "no previous run recorded"}
	}

	due := state.LastRun.Add(p.OffPeakInterval)
	if !now.Before(due) {
		return Decision{Run: true, Reason: fmt.Sprintf("last run %s ago", now.Sub(*state.LastRun).Round(time.Minute))}
	}

	return Decision{
		Run:       false,
		Reason:    fmt.Sprintf("less than %s since last run", p.OffPeakInterval),
		NotBefore: due,
	}
}

// State is the persisted scheduler state.
type State struct {
	LastRun *time.Time
}

// legacyLayouts are ISO-8601 forms without a zone offset. They are read as
// local time.
var legacyLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

type stateFile struct {
	LastRun string `json:"last_run"`
}

// LoadState reads the state file. A missing file yields an empty state. An
// unreadable file also yields an empty state, together with ErrCorruptState
// so the caller can log it.
func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to read state file: %w", err)
	}

	var raw stateFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if raw.LastRun == "" {
		return State{}, nil
	}

	t, err := parseTimestamp(raw.LastRun)
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	return State{LastRun: &t}, nil
}

// SaveState records t as the last run.
func SaveState(path string, t time.Time) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	data, err := json.Marshal(stateFile{LastRun: t.Format(time.RFC3339Nano)})
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range legacyLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp: %s", s)
}

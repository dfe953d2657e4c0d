package store

import (
	"fmt"
	"time"
)

// StatusPatch is the outcome of a validated lifecycle transition: the new
// status plus any timestamps the transition sets. Nil timestamp fields leave
// the stored values untouched; StartedAt is additionally applied only when
// the visit has no start time yet (re-entering recording never rewinds it).
type StatusPatch struct {
	Status    VisitStatus
	StartedAt *time.Time
	EndedAt   *time.Time
}

// transitions is the set of permitted lifecycle edges. Generation always
// passes through processing; there is no edge that skips it.
var transitions = map[VisitStatus]map[VisitStatus]bool{
	StatusDraft:      {StatusRecording: true, StatusProcessing: true},
	StatusRecording:  {StatusProcessing: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true},
	StatusFailed:     {StatusProcessing: true},
	StatusCompleted:  {StatusProcessing: true},
}

// Transition validates the lifecycle edge current → target and returns the
// [StatusPatch] to persist. now is injected so the caller controls the
// clock. Timestamp policy:
//
//   - draft → recording stamps StartedAt.
//   - processing → completed stamps EndedAt.
//
// A visit that goes draft → processing → completed ends with EndedAt set and
// StartedAt unset; that is a valid path (the recording step never ran), not
// an error.
func Transition(current, target VisitStatus, now time.Time) (StatusPatch, error) {
	if !current.IsValid() {
		return StatusPatch{}, fmt.Errorf("store: unknown visit status %q", current)
	}
	if !target.IsValid() {
		return StatusPatch{}, fmt.Errorf("store: unknown visit status %q", target)
	}
	if !transitions[current][target] {
		return StatusPatch{}, fmt.Errorf("store: invalid visit transition %s → %s", current, target)
	}

	patch := StatusPatch{Status: target}
	switch {
	case current == StatusDraft && target == StatusRecording:
		patch.StartedAt = &now
	case target == StatusCompleted:
		patch.EndedAt = &now
	}
	return patch, nil
}

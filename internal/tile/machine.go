// Package tile holds the generation lifecycle of a tile: the legal status
// transitions, the live per-tile view with its fencing token, and the
// finalizer that turns a finished stream into a persisted update.
package tile

import (
	"errors"
	"fmt"

	"github.com/esnunes/prospector/internal/models"
)

var ErrIllegalTransition = errors.New("illegal tile transition")

type Event int

const (
	EventStart Event = iota
	EventComplete
	EventFail
	EventAbort
	EventContextChange
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventComplete:
		return "complete"
	case EventFail:
		return "fail"
	case EventAbort:
		return "abort"
	case EventContextChange:
		return "context_change"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Transition returns the status a tile moves to when ev happens in from.
// Starting while loading is legal: the new attempt supersedes the old one.
// A context change never moves status; staleness is derived from versions.
func Transition(from models.Status, ev Event) (models.Status, error) {
	switch ev {
	case EventStart:
		return models.StatusLoading, nil
	case EventContextChange:
		return from, nil
	}
	if from != models.StatusLoading {
		return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, from)
	}
	switch ev {
	case EventComplete:
		return models.StatusCompleted, nil
	case EventFail:
		return models.StatusError, nil
	case EventAbort:
		return models.StatusIdle, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, from)
}

// Stale reports whether t's answer was produced under an older context.
func Stale(t models.Tile, current int64) bool {
	return t.Stale(current)
}

// CanGenerate reports whether generation may start for t under company.
// Notes tiles, empty prompts and a missing company are silent no-ops.
func CanGenerate(t models.Tile, company *models.Company) bool {
	return company != nil && company.Name != "" && t.BasePrompt != "" && !t.IsNotes()
}

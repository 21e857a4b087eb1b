// Package plan turns classified publishing events into an ordered list of
// sync actions.
package plan

import (
	"errors"
	"fmt"

	"github.com/JaimeStill/pubsync/internal/publog"
)

// Operation is the work an Action asks for.
type Operation string

const (
	// OpUpload copies a local file to object storage.
	OpUpload Operation = "upload"
	// OpBuildAndUpload renders an identifier's PDF and then uploads it.
	OpBuildAndUpload Operation = "build+upload"
)

var (
	ErrEmptyTarget      = errors.New("action target is empty")
	ErrUnknownOperation = errors.New("unknown action operation")
)

// Action is one unit of sync work. Target is a local path for OpUpload and
// a versioned identifier for OpBuildAndUpload.
type Action struct {
	SubmissionID      string      `json:"submission_id"`
	Kind              publog.Kind `json:"kind"`
	IdentifierVersion string      `json:"idv"`
	Operation         Operation   `json:"operation"`
	Target            string      `json:"target"`
}

// NewUpload builds an upload action for path on behalf of ev.
func NewUpload(ev publog.Event, path string) (Action, error) {
	if path == "" {
		return Action{}, fmt.Errorf("upload for %s: %w", ev.Identifier.IDV(), ErrEmptyTarget)
	}
	return Action{
		SubmissionID:      ev.SubmissionID,
		Kind:              ev.Kind,
		IdentifierVersion: ev.Identifier.IDV(),
		Operation:         OpUpload,
		Target:            path,
	}, nil
}

// NewBuild builds a render-then-upload action for ev's identifier.
func NewBuild(ev publog.Event) (Action, error) {
	idv := ev.Identifier.IDV()
	if idv == "" {
		return Action{}, fmt.Errorf("build for submission %s: %w", ev.SubmissionID, ErrEmptyTarget)
	}
	return Action{
		SubmissionID:      ev.SubmissionID,
		Kind:              ev.Kind,
		IdentifierVersion: idv,
		Operation:         OpBuildAndUpload,
		Target:            idv,
	}, nil
}

// Validate checks the action's shape before it is routed to a worker.
func (a Action) Validate() error {
	if a.Target == "" {
		return ErrEmptyTarget
	}
	switch a.Operation {
	case OpUpload, OpBuildAndUpload:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, a.Operation)
	}
}

// SubmissionCount returns the number of distinct submissions in actions.
func SubmissionCount(actions []Action) int {
	seen := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		seen[a.SubmissionID] = struct{}{}
	}
	return len(seen)
}

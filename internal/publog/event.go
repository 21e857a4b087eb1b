// Package publog reads a publishing operations log: it segments the log into
// per-submission blocks and classifies each block into a submission event.
package publog

import (
	"errors"

	"github.com/JaimeStill/pubsync/pkg/identifier"
)

// Kind names the publishing event a submission block describes.
type Kind string

const (
	KindNew         Kind = "new"
	KindReplacement Kind = "rep"
	KindWithdrawal  Kind = "wdr"
	KindCross       Kind = "cross"
	KindJournalRef  Kind = "jref"
	KindTest        Kind = "test"
)

// ErrUnclassified indicates a block matching no event pattern.
var ErrUnclassified = errors.New("block matches no event pattern")

// Block is the raw text of one submission, bounded by its start and end markers.
// Text excludes the start line and includes the end line.
type Block struct {
	SubmissionID string
	Text         string
}

// Event is a classified submission block.
type Event struct {
	SubmissionID string
	Kind         Kind
	Identifier   identifier.Identifier
	Text         string
}

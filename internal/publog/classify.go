package publog

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/JaimeStill/pubsync/pkg/identifier"
)

type eventPattern struct {
	kind    Kind
	pattern *regexp.Regexp
	resolve func(m []string) (identifier.Identifier, error)
}

// eventPatterns is tested in order and the first match wins. The test marker
// comes first so a test submission is dropped whatever else it contains.
var eventPatterns = []eventPattern{
	{
		kind:    KindTest,
		pattern: regexp.MustCompile(` Test Submission\. Skipping\.`),
	},
	{
		kind:    KindNew,
		pattern: regexp.MustCompile(`(?m)^.* new submission\n.* paper_id: (.*)$`),
		resolve: func(m []string) (identifier.Identifier, error) {
			id, err := identifier.Parse(strings.TrimSpace(m[1]))
			if err != nil {
				return identifier.Identifier{}, err
			}
			return id.WithVersion(1), nil
		},
	},
	{
		kind:    KindReplacement,
		pattern: regexp.MustCompile(`(?m)^.* replacement for (.*)\n.*\n.* old version: (\d*)\n.* new version: (\d*)`),
		resolve: resolveVersioned,
	},
	{
		kind:    KindWithdrawal,
		pattern: regexp.MustCompile(`(?m)^.* withdrawal of (.*)\n.*\n.* old version: (\d*)\n.* new version: (\d*)`),
		resolve: resolveVersioned,
	},
	{
		kind:    KindCross,
		pattern: regexp.MustCompile(` cross for (.*)`),
		resolve: resolveDirect,
	},
	{
		kind:    KindJournalRef,
		pattern: regexp.MustCompile(` journal ref for (.*)`),
		resolve: resolveDirect,
	},
}

// resolveVersioned takes the base identifier from the first group and the
// effective version from the new-version group.
func resolveVersioned(m []string) (identifier.Identifier, error) {
	id, err := identifier.Parse(strings.TrimSpace(m[1]))
	if err != nil {
		return identifier.Identifier{}, err
	}
	v, err := strconv.Atoi(m[3])
	if err != nil || v < 1 {
		return identifier.Identifier{}, fmt.Errorf("%w: new version %q for %s", identifier.ErrInvalid, m[3], id.ID)
	}
	return id.WithVersion(v), nil
}

func resolveDirect(m []string) (identifier.Identifier, error) {
	return identifier.Parse(strings.TrimSpace(m[1]))
}

// Classify matches a block against the event patterns in priority order.
// It returns ErrUnclassified when no pattern matches. A test submission
// yields an Event of KindTest with a zero identifier.
func Classify(b Block) (Event, error) {
	for _, p := range eventPatterns {
		m := p.pattern.FindStringSubmatch(b.Text)
		if m == nil {
			continue
		}

		ev := Event{
			SubmissionID: b.SubmissionID,
			Kind:         p.kind,
			Text:         b.Text,
		}
		if p.resolve == nil {
			return ev, nil
		}

		id, err := p.resolve(m)
		if err != nil {
			return Event{}, fmt.Errorf("submission %s (%s): %w", b.SubmissionID, p.kind, err)
		}
		ev.Identifier = id
		return ev, nil
	}

	return Event{}, ErrUnclassified
}

// Events classifies every block and keeps the sync-relevant events in block
// order. Test submissions and unmatched blocks are dropped; identifier
// failures are logged and the submission skipped.
func Events(blocks []Block, logger *slog.Logger) []Event {
	events := make([]Event, 0, len(blocks))

	for _, b := range blocks {
		ev, err := Classify(b)
		switch {
		case errors.Is(err, ErrUnclassified):
			logger.Debug("submission not sync relevant", "submission", b.SubmissionID)
			continue
		case err != nil:
			logger.Error("classify submission failed", "submission", b.SubmissionID, "error", err)
			continue
		}

		if ev.Kind == KindTest {
			logger.Debug("test submission skipped", "submission", b.SubmissionID)
			continue
		}

		events = append(events, ev)
	}

	return events
}

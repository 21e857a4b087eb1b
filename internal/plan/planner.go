package plan

import (
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/JaimeStill/pubsync/internal/publog"
	"github.com/JaimeStill/pubsync/pkg/identifier"
)

// Planner derives sync actions from classified events.
type Planner struct {
	ftpRoot string
	logger  *slog.Logger
}

// New creates a Planner that resolves identifier-only abstract paths under ftpRoot.
func New(ftpRoot string, logger *slog.Logger) *Planner {
	return &Planner{
		ftpRoot: ftpRoot,
		logger:  logger.With("system", "plan"),
	}
}

// Build reads a publish log and returns its planned actions in discovery order.
func (p *Planner) Build(r io.Reader) ([]Action, error) {
	blocks, err := publog.Segment(r, p.logger)
	if err != nil {
		return nil, fmt.Errorf("segment log: %w", err)
	}
	events := publog.Events(blocks, p.logger)

	p.logger.Info(
		"publish log parsed",
		"blocks", len(blocks),
		"events", len(events),
	)

	return p.Plan(events), nil
}

// Plan returns the actions for events, preserving event order.
func (p *Planner) Plan(events []publog.Event) []Action {
	var actions []Action
	for _, ev := range events {
		actions = append(actions, p.Event(ev)...)
	}
	return actions
}

// Event returns the actions for a single event. Detection failures are
// logged and reduce the action set; they never abort planning.
func (p *Planner) Event(ev publog.Event) []Action {
	switch ev.Kind {
	case publog.KindNew:
		return p.sourceActions(ev)
	case publog.KindReplacement:
		return append(p.movedActions(ev), p.sourceActions(ev)...)
	case publog.KindWithdrawal:
		all := append(p.movedActions(ev), p.sourceActions(ev)...)
		actions := all[:0]
		for _, a := range all {
			if a.Operation != OpBuildAndUpload {
				actions = append(actions, a)
			}
		}
		return actions
	case publog.KindCross, publog.KindJournalRef:
		return p.abstractActions(ev)
	default:
		p.logger.Error("no plan for event kind", "submission", ev.SubmissionID, "kind", ev.Kind)
		return nil
	}
}

// AbstractPath returns the published abstract path for id under ftpRoot.
func AbstractPath(ftpRoot string, id identifier.Identifier) string {
	return path.Join(ftpRoot, id.PathArchive(), "papers", id.YearMonth, id.Filename+".abs")
}

func (p *Planner) abstractActions(ev publog.Event) []Action {
	a, err := NewUpload(ev, AbstractPath(p.ftpRoot, ev.Identifier))
	if err != nil {
		p.logger.Error("abstract action rejected", "submission", ev.SubmissionID, "error", err)
		return nil
	}
	return []Action{a}
}

func (p *Planner) movedActions(ev publog.Event) []Action {
	var actions []Action
	for _, target := range movedTargets(ev.Text) {
		a, err := NewUpload(ev, target)
		if err != nil {
			p.logger.Error("moved file action rejected", "submission", ev.SubmissionID, "error", err)
			continue
		}
		actions = append(actions, a)
	}
	return actions
}

func (p *Planner) sourceActions(ev publog.Event) []Action {
	var actions []Action
	add := func(a Action, err error) {
		if err != nil {
			p.logger.Error("action rejected", "submission", ev.SubmissionID, "error", err)
			return
		}
		actions = append(actions, a)
	}

	if abs, ok := detectAbsfile(ev.Text); ok {
		add(NewUpload(ev, abs))
	}

	typ, src, ok := DetectSource(ev.Text)
	if !ok {
		p.logger.Error(
			"could not determine source",
			"submission", ev.SubmissionID,
			"idv", ev.Identifier.IDV(),
		)
		return actions
	}

	add(NewUpload(ev, src))
	if typ == SourceTeX {
		add(NewBuild(ev))
	}

	return actions
}

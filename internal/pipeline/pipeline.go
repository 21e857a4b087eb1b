// Package pipeline executes planned sync actions with a host-affine build
// pool and a shared upload pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JaimeStill/pubsync/internal/ensure"
	"github.com/JaimeStill/pubsync/internal/outcome"
	"github.com/JaimeStill/pubsync/internal/plan"
	"github.com/JaimeStill/pubsync/internal/publog"
	"github.com/JaimeStill/pubsync/internal/upload"
	"github.com/JaimeStill/pubsync/pkg/identifier"
	"github.com/JaimeStill/pubsync/pkg/lifecycle"
	"github.com/JaimeStill/pubsync/pkg/workqueue"
)

const defaultDrainInterval = 200 * time.Millisecond

// Summary is the result of a run.
type Summary struct {
	// Records are sorted by identifier version.
	Records []outcome.Record
	// Dropped counts actions rejected by the router.
	Dropped int
	// Abandoned counts queued actions never taken because the run was stopped.
	Abandoned   int
	Interrupted bool
	Elapsed     time.Duration
}

// Pipeline runs one batch of actions.
type Pipeline struct {
	opts     Options
	open     StoreFactory
	observer Observer
	logger   *slog.Logger
}

// New creates a Pipeline. observer may be nil.
func New(opts Options, open StoreFactory, observer Observer, logger *slog.Logger) *Pipeline {
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = defaultDrainInterval
	}
	return &Pipeline{
		opts:     opts,
		open:     open,
		observer: observer,
		logger:   logger.With("system", "pipeline"),
	}
}

type run struct {
	*Pipeline
	lc        *lifecycle.Coordinator
	ctx       context.Context
	builds    *workqueue.Queue[plan.Action]
	uploads   *workqueue.Queue[plan.Action]
	results   *outcome.Aggregator
	buildDone chan struct{}
}

// Run routes actions to their queues, then runs both pools until the queues
// drain or lc is stopped. Workers check lc before every job and finish the
// job in hand when a stop arrives.
func (p *Pipeline) Run(lc *lifecycle.Coordinator, actions []plan.Action) Summary {
	start := time.Now()

	r := &run{
		Pipeline:  p,
		lc:        lc,
		ctx:       lc.Context(),
		results:   outcome.NewAggregator(),
		buildDone: make(chan struct{}),
	}

	dropped := r.route(actions)

	p.logger.Info(
		"pipeline starting",
		"builds", r.builds.Len(),
		"uploads", r.uploads.Len(),
		"build_workers", p.buildWorkers(),
		"upload_workers", p.opts.UploadWorkers,
	)

	var uploaders errgroup.Group
	for n := range p.opts.UploadWorkers {
		uploaders.Go(func() error {
			return r.uploadWorker(n)
		})
	}

	var builders errgroup.Group
	for _, h := range p.opts.Hosts {
		limiter := p.limiter()
		for n := range h.Workers {
			builders.Go(func() error {
				return r.buildWorker(h.Name, n, limiter)
			})
		}
	}

	if err := builders.Wait(); err != nil {
		p.logger.Error("build pool", "error", err)
	}
	close(r.buildDone)

	if err := uploaders.Wait(); err != nil {
		p.logger.Error("upload pool", "error", err)
	}

	summary := Summary{
		Records:     r.results.Sorted(),
		Dropped:     dropped,
		Abandoned:   r.builds.Len() + r.uploads.Len(),
		Interrupted: lc.Stopped(),
		Elapsed:     time.Since(start),
	}

	p.logger.Info(
		"pipeline finished",
		"records", len(summary.Records),
		"abandoned", summary.Abandoned,
		"interrupted", summary.Interrupted,
		"elapsed", summary.Elapsed,
	)

	return summary
}

// route places each action in its queue and returns the number rejected.
// The upload queue is sized for every planned upload plus one follow-on
// upload per build.
func (r *run) route(actions []plan.Action) int {
	var nBuild, nUpload int
	for _, a := range actions {
		switch a.Operation {
		case plan.OpBuildAndUpload:
			nBuild++
		case plan.OpUpload:
			nUpload++
		}
	}

	r.builds = workqueue.New[plan.Action](nBuild)
	r.uploads = workqueue.New[plan.Action](nUpload + nBuild)

	dropped := 0
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			r.logger.Error("skipping invalid action", "submission", a.SubmissionID, "idv", a.IdentifierVersion, "error", err)
			dropped++
			continue
		}

		q := r.uploads
		if a.Operation == plan.OpBuildAndUpload {
			q = r.builds
		}
		if err := q.Push(a); err != nil {
			r.logger.Error("skipping unqueueable action", "idv", a.IdentifierVersion, "error", err)
			dropped++
		}
	}
	return dropped
}

func (r *run) buildWorker(host string, n int, limiter *rate.Limiter) error {
	e := ensure.New(host, r.opts.Ensure, limiter, r.logger.With("worker", fmt.Sprintf("build-%s-%d", host, n)))
	defer e.Close()

	for !r.lc.Stopped() {
		a, ok := r.builds.TryPop()
		if !ok {
			return nil
		}
		r.build(e, a)
	}
	return nil
}

func (r *run) build(e *ensure.Ensurer, a plan.Action) {
	start := time.Now()
	rec := outcome.Record{
		IdentifierVersion: a.IdentifierVersion,
		Stage:             outcome.StageEnsurePDF,
	}

	id, err := identifier.Parse(a.Target)
	if err != nil {
		r.fail(rec, start, err)
		return
	}

	res, err := e.Ensure(r.ctx, id)
	if err != nil {
		r.logger.Error("ensure pdf failed", "idv", a.IdentifierVersion, "host", e.Host(), "error", err)
		r.fail(rec, start, err)
		return
	}

	rec.Status = outcome.Status(res.Status)
	rec.Duration = time.Since(start)
	rec.Detail = res.URL
	r.record(rec)

	ev := publog.Event{SubmissionID: a.SubmissionID, Kind: a.Kind, Identifier: id}
	next, err := plan.NewUpload(ev, res.Path)
	if err == nil {
		err = r.uploads.Push(next)
	}
	if err != nil {
		r.logger.Error("could not enqueue pdf upload", "idv", a.IdentifierVersion, "path", res.Path, "error", err)
	}
}

func (r *run) uploadWorker(n int) error {
	logger := r.logger.With("worker", fmt.Sprintf("upload-%d", n))

	store, err := r.open(r.ctx)
	if err != nil {
		logger.Error("open storage failed", "error", err)
		return fmt.Errorf("upload worker %d: %w", n, err)
	}
	defer store.Close()

	u := upload.New(store, r.opts.Upload, logger)

	for !r.lc.Stopped() {
		a, ok := r.uploads.TryPop()
		if ok {
			r.upload(u, a)
			continue
		}
		if r.buildsFinished() {
			return nil
		}
		r.idle()
	}
	return nil
}

func (r *run) upload(u *upload.Uploader, a plan.Action) {
	start := time.Now()
	rec := outcome.Record{
		IdentifierVersion: a.IdentifierVersion,
		Stage:             outcome.StageUpload,
	}

	res, err := u.Upload(r.ctx, a.Target)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, upload.ErrUnmappedPath) {
			level = slog.LevelWarn
		}
		r.logger.Log(r.ctx, level, "upload failed", "idv", a.IdentifierVersion, "path", a.Target, "error", err)
		r.fail(rec, start, err)
		return
	}

	rec.Status = outcome.Status(res.Status)
	rec.Duration = time.Since(start)
	rec.Detail = res.URL
	rec.Size = &res.Bytes
	r.record(rec)
}

// buildsFinished reports whether the build pool has joined, after which no
// new uploads can be enqueued.
func (r *run) buildsFinished() bool {
	select {
	case <-r.buildDone:
		return r.uploads.Empty()
	default:
		return false
	}
}

// idle waits one drain interval, returning early on stop.
func (r *run) idle() {
	t := time.NewTimer(r.opts.DrainInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-r.buildDone:
	case <-r.lc.Done():
	}
}

func (r *run) fail(rec outcome.Record, start time.Time, err error) {
	rec.Status = outcome.StatusFailed
	rec.Duration = time.Since(start)
	rec.Detail = err.Error()
	r.record(rec)
}

func (r *run) record(rec outcome.Record) {
	r.results.Add(rec)
	if r.observer != nil {
		r.observer.Observe(rec)
	}
}

func (p *Pipeline) limiter() *rate.Limiter {
	if p.opts.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(p.opts.RateLimit), 1)
}

func (p *Pipeline) buildWorkers() int {
	n := 0
	for _, h := range p.opts.Hosts {
		n += h.Workers
	}
	return n
}

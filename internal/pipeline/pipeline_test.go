package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JaimeStill/pubsync/internal/ensure"
	"github.com/JaimeStill/pubsync/internal/outcome"
	"github.com/JaimeStill/pubsync/internal/pipeline"
	"github.com/JaimeStill/pubsync/internal/plan"
	"github.com/JaimeStill/pubsync/internal/publog"
	"github.com/JaimeStill/pubsync/internal/upload"
	"github.com/JaimeStill/pubsync/pkg/identifier"
	"github.com/JaimeStill/pubsync/pkg/lifecycle"
	"github.com/JaimeStill/pubsync/pkg/retry"
	"github.com/JaimeStill/pubsync/pkg/storage"
)

type fixture struct {
	root      string
	ftpRoot   string
	cacheRoot string
	store     *storage.Memory
	hosts     []string
	opened    atomic.Int32
	closed    atomic.Int32
}

// newFixture serves a single render host that writes the requested PDF into
// the cache shortly after answering.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := newBareFixture(t)
	f.serve(t, f.renderer())
	return f
}

func newBareFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	return &fixture{
		root:      root,
		ftpRoot:   filepath.Join(root, "data", "ftp"),
		cacheRoot: filepath.Join(root, "cache", "ps_cache"),
		store:     storage.NewMemory(),
	}
}

// serve starts a TLS render host backed by h and registers it with the fixture.
func (f *fixture) serve(t *testing.T, h http.Handler) string {
	t.Helper()
	srv := httptest.NewTLSServer(h)
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "https://")
	f.hosts = append(f.hosts, host)
	return host
}

func (f *fixture) renderer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/pdf/"), ".pdf")
		id, err := identifier.Parse(name)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		path := ensure.CachePath(f.cacheRoot, id)
		go func() {
			time.Sleep(30 * time.Millisecond)
			os.MkdirAll(filepath.Dir(path), 0755)
			os.WriteFile(path+".tmp", []byte("%PDF-1.4 rendered"), 0644)
			os.Rename(path+".tmp", path)
		}()
	}
}

func (f *fixture) file(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(f.ftpRoot, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func (f *fixture) options() pipeline.Options {
	policy := retry.Policy{Attempts: 2, Initial: time.Millisecond, Max: 2 * time.Millisecond}

	hosts := make([]pipeline.Host, len(f.hosts))
	for i, h := range f.hosts {
		hosts[i] = pipeline.Host{Name: h, Workers: 2}
	}

	return pipeline.Options{
		Hosts:         hosts,
		UploadWorkers: 3,
		DrainInterval: 5 * time.Millisecond,
		Ensure: ensure.Options{
			CacheRoot:      f.cacheRoot,
			UserAgent:      "periodic-rebuild",
			SkipVerify:     true,
			MaxWait:        2 * time.Second,
			PollInterval:   5 * time.Millisecond,
			RequestTimeout: 5 * time.Second,
			Retry:          policy,
		},
		Upload: upload.Options{
			Roots: []upload.Root{
				{Local: filepath.Join(f.root, "cache") + "/", Key: ""},
				{Local: filepath.Join(f.root, "data") + "/", Key: ""},
			},
			Retry: policy,
		},
	}
}

// workerStore is one upload worker's handle on the shared in-memory bucket.
type workerStore struct {
	*storage.Memory
	f *fixture
}

func (s *workerStore) Close() error {
	s.f.closed.Add(1)
	return nil
}

func (f *fixture) open(ctx context.Context) (storage.System, error) {
	f.opened.Add(1)
	return &workerStore{Memory: f.store, f: f}, nil
}

func (f *fixture) pipeline(observer pipeline.Observer) *pipeline.Pipeline {
	return f.pipelineWith(f.options(), observer)
}

func (f *fixture) pipelineWith(opts pipeline.Options, observer pipeline.Observer) *pipeline.Pipeline {
	return pipeline.New(opts, f.open, observer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[outcome.Status]int
}

func (o *countingObserver) Observe(r outcome.Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[outcome.Status]int)
	}
	o.counts[r.Status]++
}

func action(sub string, kind publog.Kind, idv string, op plan.Operation, target string) plan.Action {
	return plan.Action{SubmissionID: sub, Kind: kind, IdentifierVersion: idv, Operation: op, Target: target}
}

func (f *fixture) actions(t *testing.T) []plan.Action {
	abs := f.file(t, "arxiv/papers/2201/2201.00001.abs", "abstract")
	src := f.file(t, "arxiv/papers/2201/2201.00001.tar.gz", "source archive")
	cross := f.file(t, "arxiv/papers/2201/2201.00555.abs", "cross abstract")

	return []plan.Action{
		action("4001", publog.KindNew, "2201.00001v1", plan.OpUpload, abs),
		action("4001", publog.KindNew, "2201.00001v1", plan.OpUpload, src),
		action("4001", publog.KindNew, "2201.00001v1", plan.OpBuildAndUpload, "2201.00001v1"),
		action("4002", publog.KindCross, "2201.00555v2", plan.OpUpload, cross),
		action("4003", publog.KindNew, "2201.00009v1", plan.OpUpload, filepath.Join(f.ftpRoot, "missing.pdf")),
		action("4004", publog.KindNew, "2201.00010v1", plan.OpUpload, ""),
	}
}

func statuses(records []outcome.Record) map[outcome.Stage]map[outcome.Status]int {
	got := make(map[outcome.Stage]map[outcome.Status]int)
	for _, r := range records {
		if got[r.Stage] == nil {
			got[r.Stage] = make(map[outcome.Status]int)
		}
		got[r.Stage][r.Status]++
	}
	return got
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	actions := f.actions(t)
	observer := &countingObserver{}

	lc := lifecycle.New(context.Background())
	summary := f.pipeline(observer).Run(lc, actions)

	if summary.Dropped != 1 {
		t.Errorf("dropped: got %d, want 1", summary.Dropped)
	}
	if summary.Abandoned != 0 || summary.Interrupted {
		t.Errorf("abandoned/interrupted: got %d/%v", summary.Abandoned, summary.Interrupted)
	}
	if len(summary.Records) != 6 {
		t.Fatalf("records: got %d, want 6", len(summary.Records))
	}

	got := statuses(summary.Records)
	if got[outcome.StageEnsurePDF][outcome.StatusGenerated] != 1 {
		t.Errorf("ensure records: got %v", got[outcome.StageEnsurePDF])
	}
	if got[outcome.StageUpload][outcome.StatusUploaded] != 4 {
		t.Errorf("uploaded records: got %v", got[outcome.StageUpload])
	}
	if got[outcome.StageUpload][outcome.StatusFailed] != 1 {
		t.Errorf("failed records: got %v", got[outcome.StageUpload])
	}

	if _, ct, ok := f.store.Object("ps_cache/arxiv/pdf/2201/2201.00001v1.pdf"); !ok || ct != "application/pdf" {
		t.Errorf("rendered pdf not uploaded (found %v, content type %q)", ok, ct)
	}
	if f.store.Uploads() != 4 {
		t.Errorf("transfers: got %d, want 4", f.store.Uploads())
	}

	for i := 1; i < len(summary.Records); i++ {
		if summary.Records[i-1].IdentifierVersion > summary.Records[i].IdentifierVersion {
			t.Errorf("records not sorted at %d", i)
		}
	}

	observer.mu.Lock()
	observed := 0
	for _, n := range observer.counts {
		observed += n
	}
	observer.mu.Unlock()
	if observed != len(summary.Records) {
		t.Errorf("observed: got %d, want %d", observed, len(summary.Records))
	}

	if n := f.opened.Load(); n != 3 {
		t.Errorf("stores opened: got %d, want one per upload worker (3)", n)
	}
	if f.closed.Load() != f.opened.Load() {
		t.Errorf("stores closed: got %d, want %d", f.closed.Load(), f.opened.Load())
	}
}

func TestRunEnsureFailure(t *testing.T) {
	f := newBareFixture(t)
	var requests atomic.Int32
	f.serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	actions := f.actions(t)

	summary := f.pipeline(nil).Run(lifecycle.New(context.Background()), actions)

	if len(summary.Records) != 5 {
		t.Fatalf("records: got %d, want 5", len(summary.Records))
	}

	got := statuses(summary.Records)
	if got[outcome.StageEnsurePDF][outcome.StatusFailed] != 1 {
		t.Errorf("ensure records: got %v", got[outcome.StageEnsurePDF])
	}
	if got[outcome.StageUpload][outcome.StatusUploaded] != 3 {
		t.Errorf("uploaded records: got %v", got[outcome.StageUpload])
	}
	if requests.Load() != 2 {
		t.Errorf("render requests: got %d, want 2 (one per attempt)", requests.Load())
	}

	if _, _, ok := f.store.Object("ps_cache/arxiv/pdf/2201/2201.00001v1.pdf"); ok {
		t.Error("pdf uploaded after a failed ensure")
	}
	if f.store.Uploads() != 3 {
		t.Errorf("transfers: got %d, want 3", f.store.Uploads())
	}
}

// TestRunHostAffinity holds each host's first request until every host has
// been contacted, so both hosts must each serve one build. With a shared
// limiter the second host's request would wait past the hold and fail.
func TestRunHostAffinity(t *testing.T) {
	f := newBareFixture(t)
	render := f.renderer()

	const hold = time.Second
	var (
		mu       sync.Mutex
		contacts = make(map[string]chan struct{})
		requests = make(map[string]*atomic.Int32)
	)

	for range 2 {
		arrived := make(chan struct{})
		var count atomic.Int32
		var once sync.Once
		var self string

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Host != self {
				t.Errorf("host %s received request for %s", self, r.Host)
			}
			count.Add(1)
			once.Do(func() { close(arrived) })

			mu.Lock()
			waits := make([]chan struct{}, 0, len(contacts))
			for _, c := range contacts {
				waits = append(waits, c)
			}
			mu.Unlock()

			deadline := time.After(hold)
			for _, c := range waits {
				select {
				case <-c:
				case <-deadline:
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
			}
			render(w, r)
		})

		self = f.serve(t, handler)
		mu.Lock()
		contacts[self] = arrived
		requests[self] = &count
		mu.Unlock()
	}

	id1 := "2201.00001v1"
	id2 := "2201.00002v1"
	actions := []plan.Action{
		action("5001", publog.KindNew, id1, plan.OpBuildAndUpload, id1),
		action("5002", publog.KindNew, id2, plan.OpBuildAndUpload, id2),
	}

	opts := f.options()
	for i := range opts.Hosts {
		opts.Hosts[i].Workers = 1
	}
	opts.RateLimit = 0.5
	opts.Ensure.Retry.Attempts = 1

	summary := f.pipelineWith(opts, nil).Run(lifecycle.New(context.Background()), actions)

	got := statuses(summary.Records)
	if got[outcome.StageEnsurePDF][outcome.StatusGenerated] != 2 {
		t.Fatalf("ensure records: got %v, records %+v", got[outcome.StageEnsurePDF], summary.Records)
	}
	if got[outcome.StageUpload][outcome.StatusUploaded] != 2 {
		t.Errorf("uploaded records: got %v", got[outcome.StageUpload])
	}

	served := make(map[string]int)
	for _, r := range summary.Records {
		if r.Stage != outcome.StageEnsurePDF {
			continue
		}
		u, err := url.Parse(r.Detail)
		if err != nil {
			t.Fatalf("parse detail %q: %v", r.Detail, err)
		}
		served[u.Host]++
	}

	for _, h := range f.hosts {
		if n := requests[h].Load(); n != 1 {
			t.Errorf("host %s: got %d requests, want 1", h, n)
		}
		if served[h] != 1 {
			t.Errorf("host %s: got %d ensure records naming it, want 1", h, served[h])
		}
	}
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	actions := f.actions(t)

	f.pipeline(nil).Run(lifecycle.New(context.Background()), actions)
	transfers := f.store.Uploads()

	summary := f.pipeline(nil).Run(lifecycle.New(context.Background()), actions)

	if f.store.Uploads() != transfers {
		t.Errorf("second run transferred %d objects", f.store.Uploads()-transfers)
	}

	got := statuses(summary.Records)
	if got[outcome.StageEnsurePDF][outcome.StatusAlreadyExists] != 1 {
		t.Errorf("ensure records: got %v", got[outcome.StageEnsurePDF])
	}
	if got[outcome.StageUpload][outcome.StatusAlreadyExists] != 4 {
		t.Errorf("upload records: got %v", got[outcome.StageUpload])
	}
	for _, r := range summary.Records {
		if r.Status == outcome.StatusAlreadyExists && r.Size != nil && *r.Size != 0 {
			t.Errorf("%s: already_exists reported %d bytes", r.IdentifierVersion, *r.Size)
		}
	}
}

func TestRunStoppedBeforeStart(t *testing.T) {
	f := newFixture(t)
	actions := f.actions(t)

	lc := lifecycle.New(context.Background())
	lc.Stop()

	summary := f.pipeline(nil).Run(lc, actions)

	if !summary.Interrupted {
		t.Error("summary not marked interrupted")
	}
	if len(summary.Records) != 0 {
		t.Errorf("records: got %d, want 0", len(summary.Records))
	}
	if summary.Abandoned != 5 {
		t.Errorf("abandoned: got %d, want 5", summary.Abandoned)
	}
	if f.store.Uploads() != 0 {
		t.Errorf("transfers: got %d, want 0", f.store.Uploads())
	}
}

func TestRunEmpty(t *testing.T) {
	f := newFixture(t)

	summary := f.pipeline(nil).Run(lifecycle.New(context.Background()), nil)

	if len(summary.Records) != 0 || summary.Dropped != 0 || summary.Abandoned != 0 {
		t.Errorf("summary: got %+v", summary)
	}
}

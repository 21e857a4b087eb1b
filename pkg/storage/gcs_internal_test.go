package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

func newTestGCS(t *testing.T, uploads *atomic.Int32) *googleStorage {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		if r.Method == http.MethodPost {
			uploads.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"bucket":"sync","name":"ps_cache/a.pdf","size":"7"}`)
	}))
	t.Cleanup(srv.Close)

	client, err := gcs.NewClient(context.Background(),
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return &googleStorage{
		client: client,
		bucket: "sync",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestGCSUploadCommits(t *testing.T) {
	var uploads atomic.Int32
	g := newTestGCS(t, &uploads)

	if err := g.Upload(context.Background(), "ps_cache/a.pdf", strings.NewReader("%PDF-1."), "application/pdf"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if uploads.Load() != 1 {
		t.Errorf("upload requests: got %d, want 1", uploads.Load())
	}
}

func TestGCSUploadAbandonsPartialObject(t *testing.T) {
	var uploads atomic.Int32
	g := newTestGCS(t, &uploads)

	errRead := errors.New("read failed")
	reader := io.MultiReader(strings.NewReader("%PDF-1."), iotest.ErrReader(errRead))

	err := g.Upload(context.Background(), "ps_cache/a.pdf", reader, "application/pdf")
	if !errors.Is(err, errRead) {
		t.Fatalf("Upload() error = %v, want %v", err, errRead)
	}

	time.Sleep(50 * time.Millisecond)
	if n := uploads.Load(); n != 0 {
		t.Errorf("upload requests: got %d, want 0 after a failed copy", n)
	}
}

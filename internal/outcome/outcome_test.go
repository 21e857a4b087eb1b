package outcome_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/JaimeStill/pubsync/internal/outcome"
)

func size(n int64) *int64 {
	return &n
}

func TestAggregatorConcurrentAdd(t *testing.T) {
	agg := outcome.NewAggregator()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			agg.Add(outcome.Record{
				IdentifierVersion: fmt.Sprintf("2201.%05dv1", i),
				Stage:             outcome.StageUpload,
				Status:            outcome.StatusUploaded,
			})
		})
	}
	wg.Wait()

	if agg.Len() != 50 {
		t.Fatalf("records: got %d, want 50", agg.Len())
	}

	sorted := agg.Sorted()
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].IdentifierVersion > sorted[i].IdentifierVersion {
			t.Fatalf("not sorted at %d: %s > %s", i, sorted[i-1].IdentifierVersion, sorted[i].IdentifierVersion)
		}
	}
}

func TestSortedIsStable(t *testing.T) {
	agg := outcome.NewAggregator()
	agg.Add(outcome.Record{IdentifierVersion: "2201.00002v1", Stage: outcome.StageUpload, Detail: "b"})
	agg.Add(outcome.Record{IdentifierVersion: "2201.00001v1", Stage: outcome.StageEnsurePDF, Detail: "first"})
	agg.Add(outcome.Record{IdentifierVersion: "2201.00001v1", Stage: outcome.StageUpload, Detail: "second"})

	var got []string
	for _, r := range agg.Sorted() {
		got = append(got, r.Detail)
	}

	want := []string{"first", "second", "b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteReport(t *testing.T) {
	records := []outcome.Record{
		{
			IdentifierVersion: "2201.00001v1",
			Stage:             outcome.StageEnsurePDF,
			Status:            outcome.StatusGenerated,
			Duration:          1500 * time.Millisecond,
			Detail:            "https://web5.arxiv.org/pdf/2201.00001v1.pdf?nocdn=1",
		},
		{
			IdentifierVersion: "2201.00001v1",
			Stage:             outcome.StageUpload,
			Status:            outcome.StatusUploaded,
			Duration:          42 * time.Millisecond,
			Detail:            "gs://arxiv-production-data/ps_cache/arxiv/pdf/2201/2201.00001v1.pdf",
			Size:              size(1024),
		},
		{
			IdentifierVersion: "2201.00002v1",
			Stage:             outcome.StageUpload,
			Status:            outcome.StatusFailed,
			Duration:          7 * time.Millisecond,
			Detail:            "after 4 attempts: boom, again",
		},
	}

	var b strings.Builder
	if err := outcome.WriteReport(&b, records); err != nil {
		t.Fatalf("write report: %v", err)
	}

	want := strings.Join([]string{
		"2201.00001v1,ensure_pdf,generated,1500,https://web5.arxiv.org/pdf/2201.00001v1.pdf?nocdn=1",
		"2201.00001v1,upload,uploaded,42,gs://arxiv-production-data/ps_cache/arxiv/pdf/2201/2201.00001v1.pdf,1024",
		`2201.00002v1,upload,failed,7,"after 4 attempts: boom, again"`,
	}, "\n") + "\n"

	if diff := cmp.Diff(want, b.String()); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize(t *testing.T) {
	totals := outcome.Summarize([]outcome.Record{
		{Status: outcome.StatusUploaded, Size: size(10)},
		{Status: outcome.StatusUploaded, Size: size(5)},
		{Status: outcome.StatusAlreadyExists, Size: size(0)},
		{Status: outcome.StatusFailed},
	})

	if totals.Bytes != 15 {
		t.Errorf("bytes: got %d, want 15", totals.Bytes)
	}
	if totals.ByStatus[outcome.StatusUploaded] != 2 || totals.Failed() != 1 {
		t.Errorf("by status: got %v", totals.ByStatus)
	}
}

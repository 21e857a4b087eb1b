package publog_test

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/JaimeStill/pubsync/internal/publog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSegmentFixture(t *testing.T) {
	f, err := os.Open("testdata/publish.log")
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer f.Close()

	blocks, err := publog.Segment(f, discardLogger())
	if err != nil {
		t.Fatalf("segment failed: %v", err)
	}

	var ids []string
	for _, b := range blocks {
		ids = append(ids, b.SubmissionID)
	}

	want := []string{"4001", "4002", "4003", "4004", "4005"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("submission ids mismatch (-want +got):\n%s", diff)
	}
}

func TestSegmentBlockText(t *testing.T) {
	log := "x submission 7\nx new submission\nx Finished processing submission 7\n"

	blocks, err := publog.Segment(strings.NewReader(log), discardLogger())
	if err != nil {
		t.Fatalf("segment failed: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("blocks: got %d, want 1", len(blocks))
	}

	want := "x new submission\nx Finished processing submission 7\n"
	if blocks[0].Text != want {
		t.Errorf("text: got %q, want %q", blocks[0].Text, want)
	}
}

func TestSegment(t *testing.T) {
	tests := []struct {
		name string
		log  string
		want []string
	}{
		{
			name: "empty",
			log:  "",
			want: nil,
		},
		{
			name: "no blocks",
			log:  "starting\nnothing to publish\n",
			want: nil,
		},
		{
			name: "lines outside blocks discarded",
			log:  "noise\nx submission 1\nx Finished processing submission 1\nnoise\nx submission 2\nx Finished processing submission 2\n",
			want: []string{"1", "2"},
		},
		{
			name: "unterminated block dropped",
			log:  "x submission 1\nx Finished processing submission 1\nx submission 2\nx new submission\n",
			want: []string{"1"},
		},
		{
			name: "start marker inside block is text",
			log:  "x submission 1\nx submission 2\nx Finished processing submission 1\n",
			want: []string{"1"},
		},
		{
			name: "no trailing newline",
			log:  "x submission 9\nx Finished processing submission 9",
			want: []string{"9"},
		},
		{
			name: "crlf line endings",
			log:  "x submission 3\r\nx Finished processing submission 3\r\n",
			want: []string{"3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks, err := publog.Segment(strings.NewReader(tt.log), discardLogger())
			if err != nil {
				t.Fatalf("segment failed: %v", err)
			}

			var got []string
			for _, b := range blocks {
				got = append(got, b.SubmissionID)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("submission ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

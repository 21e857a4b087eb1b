package publog_test

import (
	"errors"
	"os"
	"testing"

	"github.com/JaimeStill/pubsync/internal/publog"
	"github.com/JaimeStill/pubsync/pkg/identifier"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		kind    publog.Kind
		idv     string
		legacy  bool
		wantErr error
	}{
		{
			name: "new submission",
			text: "x new submission\nx paper_id: 2201.00001\nx Finished processing submission 1\n",
			kind: publog.KindNew,
			idv:  "2201.00001v1",
		},
		{
			name: "replacement takes new version",
			text: "x replacement for 2112.09999\nx paper_id: 2112.09999\nx old version: 1\nx new version: 2\n",
			kind: publog.KindReplacement,
			idv:  "2112.09999v2",
		},
		{
			name:   "withdrawal legacy identifier",
			text:   "x withdrawal of hep-th/9901001\nx paper_id: hep-th/9901001\nx old version: 3\nx new version: 4\n",
			kind:   publog.KindWithdrawal,
			idv:    "hep-th/9901001v4",
			legacy: true,
		},
		{
			name: "cross carries its own version",
			text: "x cross for 2201.00555v2\n",
			kind: publog.KindCross,
			idv:  "2201.00555v2",
		},
		{
			name: "journal ref",
			text: "x journal ref for 2105.01234v1\n",
			kind: publog.KindJournalRef,
			idv:  "2105.01234v1",
		},
		{
			name: "test marker wins over new",
			text: "x new submission\nx paper_id: 2201.00001\nx Test Submission. Skipping.\n",
			kind: publog.KindTest,
		},
		{
			name: "new wins over cross",
			text: "x new submission\nx paper_id: 2201.00002\nx cross for 2201.00555v2\n",
			kind: publog.KindNew,
			idv:  "2201.00002v1",
		},
		{
			name:    "unmatched",
			text:    "x metadata update only\n",
			wantErr: publog.ErrUnclassified,
		},
		{
			name:    "bad identifier",
			text:    "x new submission\nx paper_id: not-an-id\n",
			wantErr: identifier.ErrInvalid,
		},
		{
			name:    "missing new version",
			text:    "x replacement for 2112.09999\nx paper_id: 2112.09999\nx old version: 1\nx new version: \n",
			wantErr: identifier.ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := publog.Classify(publog.Block{SubmissionID: "1", Text: tt.text})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error: got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("classify failed: %v", err)
			}

			if ev.Kind != tt.kind {
				t.Errorf("kind: got %s, want %s", ev.Kind, tt.kind)
			}
			if ev.SubmissionID != "1" {
				t.Errorf("submission: got %s, want 1", ev.SubmissionID)
			}
			if tt.idv != "" && ev.Identifier.IDV() != tt.idv {
				t.Errorf("idv: got %s, want %s", ev.Identifier.IDV(), tt.idv)
			}
			if ev.Identifier.Legacy != tt.legacy {
				t.Errorf("legacy: got %v, want %v", ev.Identifier.Legacy, tt.legacy)
			}
		})
	}
}

func TestEventsFixture(t *testing.T) {
	f, err := os.Open("testdata/publish.log")
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer f.Close()

	blocks, err := publog.Segment(f, discardLogger())
	if err != nil {
		t.Fatalf("segment failed: %v", err)
	}

	events := publog.Events(blocks, discardLogger())

	want := []struct {
		sub  string
		kind publog.Kind
		idv  string
	}{
		{"4001", publog.KindNew, "2201.00001v1"},
		{"4002", publog.KindReplacement, "2112.09999v2"},
		{"4004", publog.KindCross, "math/0501001v3"},
	}

	if len(events) != len(want) {
		t.Fatalf("events: got %d, want %d", len(events), len(want))
	}
	for i, w := range want {
		ev := events[i]
		if ev.SubmissionID != w.sub || ev.Kind != w.kind || ev.Identifier.IDV() != w.idv {
			t.Errorf("event %d: got (%s, %s, %s), want (%s, %s, %s)",
				i, ev.SubmissionID, ev.Kind, ev.Identifier.IDV(), w.sub, w.kind, w.idv)
		}
	}
}

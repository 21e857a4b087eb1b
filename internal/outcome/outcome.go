package outcome

import (
	"cmp"
	"encoding/csv"
	"io"
	"slices"
	"strconv"
	"sync"
	"time"
)

// Stage names the pipeline step that produced a record.
type Stage string

const (
	StageEnsurePDF Stage = "ensure_pdf"
	StageUpload    Stage = "upload"
)

// Status is the terminal state of one action.
type Status string

const (
	StatusAlreadyExists Status = "already_exists"
	StatusGenerated     Status = "generated"
	StatusUploaded      Status = "uploaded"
	StatusFailed        Status = "failed"
)

// Record is the outcome of one completed action.
type Record struct {
	IdentifierVersion string
	Stage             Stage
	Status            Status
	Duration          time.Duration
	// Detail is the remote location on success or the error text on failure.
	Detail string
	// Size is set only for upload records.
	Size *int64
}

// DurationMs returns the record duration in whole milliseconds.
func (r Record) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// Aggregator is an append-only, concurrency-safe record collection.
type Aggregator struct {
	mu      sync.Mutex
	records []Record
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add appends r.
func (a *Aggregator) Add(r Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, r)
}

// Len returns the number of records added so far.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Sorted returns a copy of the records ordered by identifier version.
// Records with equal identifier versions keep their insertion order.
func (a *Aggregator) Sorted() []Record {
	a.mu.Lock()
	records := slices.Clone(a.records)
	a.mu.Unlock()

	slices.SortStableFunc(records, func(x, y Record) int {
		return cmp.Compare(x.IdentifierVersion, y.IdentifierVersion)
	})
	return records
}

// Totals summarizes a record set.
type Totals struct {
	ByStatus map[Status]int
	Bytes    int64
}

// Failed returns the number of failed records.
func (t Totals) Failed() int {
	return t.ByStatus[StatusFailed]
}

// Summarize counts records by status and sums uploaded bytes.
func Summarize(records []Record) Totals {
	t := Totals{ByStatus: make(map[Status]int)}
	for _, r := range records {
		t.ByStatus[r.Status]++
		if r.Size != nil {
			t.Bytes += *r.Size
		}
	}
	return t
}

// WriteReport writes one comma separated line per record:
// idv,stage,status,duration_ms,detail and, for uploads, size_bytes.
func WriteReport(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	for _, r := range records {
		row := []string{
			r.IdentifierVersion,
			string(r.Stage),
			string(r.Status),
			strconv.FormatInt(r.DurationMs(), 10),
			r.Detail,
		}
		if r.Size != nil {
			row = append(row, strconv.FormatInt(*r.Size, 10))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

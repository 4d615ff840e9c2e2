// Package hoplog archives the output of one experiment run: one CSV
// trajectory file per flow id, in the exact column format the
// experiment's analysis scripts consume, plus a run-level JSON result.
package hoplog

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
)

// Record is one observed hop of one flow. SwitchMask is only written
// out by masked-variant runs.
type Record struct {
	HopID      int
	TTL        uint8
	SwitchMask uint16
	Pint       uint16
	XorDegree  uint8
}

// The row types give gocsv the exact headers the analysis scripts
// expect; the mask column exists only in the masked variant's files.
type baseRow struct {
	HopID     int    `csv:"hopid"`
	TTL       int    `csv:"ttl"`
	Pint      uint16 `csv:"pint"`
	XorDegree int    `csv:"xor_degree"`
}

type maskedRow struct {
	HopID      int    `csv:"hopid"`
	TTL        int    `csv:"ttl"`
	SwitchMask uint16 `csv:"switch_mask"`
	Pint       uint16 `csv:"pint"`
	XorDegree  int    `csv:"xor_degree"`
}

// Run owns the output directory of one experiment run and the per-flow
// trajectories buffered inside it. It is not safe for concurrent use;
// the flow tracker appends from the single drain goroutine.
type Run struct {
	id     string
	dir    string
	masked bool
	start  time.Time
	flows  map[uint16][]Record
}

// NewRun provisions datadir/YYYY/MM/DD/<run-uuid>/ and returns a Run
// writing into it.
func NewRun(datadir string, masked bool) (*Run, error) {
	start := time.Now().UTC()
	id := uuid.NewString()
	dir := path.Join(datadir, start.Format("2006/01/02"), id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Run{
		id:     id,
		dir:    dir,
		masked: masked,
		start:  start,
		flows:  map[uint16][]Record{},
	}, nil
}

// ID returns the run's unique identifier.
func (r *Run) ID() string { return r.id }

// Dir returns the run's output directory.
func (r *Run) Dir() string { return r.dir }

// Append buffers one hop row for the flow. The rows are written out
// when the flow closes; a flow's trajectory is only useful complete.
func (r *Run) Append(flowID uint16, rec Record) error {
	r.flows[flowID] = append(r.flows[flowID], rec)
	return nil
}

// CloseFlow writes packet_<id>.csv for the flow and drops its buffer.
func (r *Run) CloseFlow(flowID uint16) error {
	recs, ok := r.flows[flowID]
	if !ok {
		return fmt.Errorf("hoplog: flow %d has no buffered records", flowID)
	}
	delete(r.flows, flowID)

	fp, err := os.Create(path.Join(r.dir, fmt.Sprintf("packet_%d.csv", flowID)))
	if err != nil {
		return err
	}
	defer fp.Close()

	if r.masked {
		rows := make([]maskedRow, 0, len(recs))
		for _, rec := range recs {
			rows = append(rows, maskedRow{
				HopID:      rec.HopID,
				TTL:        int(rec.TTL),
				SwitchMask: rec.SwitchMask,
				Pint:       rec.Pint,
				XorDegree:  int(rec.XorDegree),
			})
		}
		return gocsv.MarshalFile(&rows, fp)
	}
	rows := make([]baseRow, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, baseRow{
			HopID:     rec.HopID,
			TTL:       int(rec.TTL),
			Pint:      rec.Pint,
			XorDegree: int(rec.XorDegree),
		})
	}
	return gocsv.MarshalFile(&rows, fp)
}

// Flush writes out any flows still buffered, for runs that end before
// every flow reaches a terminal state. It returns the first error
// encountered but attempts every flow.
func (r *Run) Flush() error {
	var first error
	for id := range r.flows {
		if err := r.CloseFlow(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

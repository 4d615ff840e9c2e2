package hoplog

import (
	"encoding/json"
	"os"
	"path"
	"time"
)

// CurrentSchemaVersion is the current version of the Result struct
// below. It should be incremented for every structure change so that
// old result files stay parsable.
const CurrentSchemaVersion = 1

// FlowSummary is the per-flow portion of the run Result.
type FlowSummary struct {
	FlowID uint16
	// Hops is the number of hop records observed, including the
	// synthetic hop 0 emitted at injection time.
	Hops   int
	Done   bool
	Reason string `json:",omitempty"`
}

// Result is the JSON archival record of one run.
type Result struct {
	SchemaVersion int
	RunID         string
	StartTime     time.Time
	EndTime       time.Time

	Transport string
	FlowCount int
	MaxHops   int
	MaskSeq   []uint16 `json:",omitempty"`

	Flows []FlowSummary
}

// SaveResult writes result.json in the run directory, filling in the
// schema version, run id, and timestamps.
func (r *Run) SaveResult(res *Result) error {
	res.SchemaVersion = CurrentSchemaVersion
	res.RunID = r.id
	res.StartTime = r.start
	res.EndTime = time.Now().UTC()

	fp, err := os.Create(path.Join(r.dir, "result.json"))
	if err != nil {
		return err
	}
	defer fp.Close()
	return json.NewEncoder(fp).Encode(res)
}

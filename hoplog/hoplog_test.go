package hoplog_test

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-lab/go/rtx"
	"github.com/pintlab/recirc/hoplog"
)

func readLines(t *testing.T, name string) []string {
	t.Helper()
	b, err := os.ReadFile(name)
	rtx.Must(err, "Could not read %s", name)
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func findFile(t *testing.T, dir, name string) string {
	t.Helper()
	var found string
	filepath.Walk(dir, func(p string, info os.FileInfo, _ error) error {
		if info != nil && !info.IsDir() && info.Name() == name {
			found = p
		}
		return nil
	})
	if found == "" {
		t.Fatalf("%s not found under %s", name, dir)
	}
	return found
}

func TestBaseFlowCSV(t *testing.T) {
	dir := t.TempDir()
	run, err := hoplog.NewRun(dir, false)
	rtx.Must(err, "Could not create the run directory")

	rtx.Must(run.Append(3, hoplog.Record{HopID: 0, TTL: 255, Pint: 0, XorDegree: 0}), "append")
	rtx.Must(run.Append(3, hoplog.Record{HopID: 1, TTL: 254, Pint: 0, XorDegree: 1}), "append")
	rtx.Must(run.Append(3, hoplog.Record{HopID: 2, TTL: 253, Pint: 1, XorDegree: 1}), "append")
	rtx.Must(run.CloseFlow(3), "Could not close the flow")

	lines := readLines(t, path.Join(run.Dir(), "packet_3.csv"))
	want := []string{
		"hopid,ttl,pint,xor_degree",
		"0,255,0,0",
		"1,254,0,1",
		"2,253,1,1",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %q", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestMaskedFlowCSV(t *testing.T) {
	dir := t.TempDir()
	run, err := hoplog.NewRun(dir, true)
	rtx.Must(err, "Could not create the run directory")

	rtx.Must(run.Append(1, hoplog.Record{HopID: 0, TTL: 255, SwitchMask: 1}), "append")
	rtx.Must(run.Append(1, hoplog.Record{HopID: 1, TTL: 254, SwitchMask: 1, XorDegree: 1}), "append")
	rtx.Must(run.CloseFlow(1), "Could not close the flow")

	lines := readLines(t, path.Join(run.Dir(), "packet_1.csv"))
	if lines[0] != "hopid,ttl,switch_mask,pint,xor_degree" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "0,255,1,0,0" || lines[2] != "1,254,1,0,1" {
		t.Errorf("rows = %q", lines[1:])
	}
}

func TestCloseFlowWithoutRecords(t *testing.T) {
	run, err := hoplog.NewRun(t.TempDir(), false)
	rtx.Must(err, "Could not create the run directory")
	if err := run.CloseFlow(9); err == nil {
		t.Error("closing a flow with no records should fail")
	}
}

func TestFlushWritesLeftovers(t *testing.T) {
	dir := t.TempDir()
	run, err := hoplog.NewRun(dir, false)
	rtx.Must(err, "Could not create the run directory")

	rtx.Must(run.Append(1, hoplog.Record{HopID: 0, TTL: 255}), "append")
	rtx.Must(run.Append(2, hoplog.Record{HopID: 0, TTL: 255}), "append")
	rtx.Must(run.Flush(), "Could not flush")

	findFile(t, dir, "packet_1.csv")
	findFile(t, dir, "packet_2.csv")
	// A second flush has nothing left to write.
	rtx.Must(run.Flush(), "Empty flush failed")
}

func TestSaveResult(t *testing.T) {
	dir := t.TempDir()
	run, err := hoplog.NewRun(dir, false)
	rtx.Must(err, "Could not create the run directory")

	res := &hoplog.Result{
		Transport: "udp",
		FlowCount: 2,
		MaxHops:   15,
		Flows: []hoplog.FlowSummary{
			{FlowID: 1, Hops: 16, Done: true, Reason: "hop_ceiling"},
			{FlowID: 2, Hops: 1, Done: true, Reason: "send_failure"},
		},
	}
	rtx.Must(run.SaveResult(res), "Could not save the result")

	b, err := os.ReadFile(path.Join(run.Dir(), "result.json"))
	rtx.Must(err, "Could not read result.json")
	var got hoplog.Result
	rtx.Must(json.Unmarshal(b, &got), "Could not parse result.json")

	if got.SchemaVersion != hoplog.CurrentSchemaVersion {
		t.Errorf("schema version = %d", got.SchemaVersion)
	}
	if got.RunID != run.ID() || got.RunID == "" {
		t.Errorf("run id = %q, want %q", got.RunID, run.ID())
	}
	if len(got.Flows) != 2 || got.Flows[0].Reason != "hop_ceiling" {
		t.Errorf("flows = %+v", got.Flows)
	}
	if got.EndTime.Before(got.StartTime) {
		t.Error("end time precedes start time")
	}
}

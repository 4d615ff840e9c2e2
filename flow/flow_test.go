package flow_test

import (
	"net"
	"testing"

	"github.com/m-lab/go/rtx"
	"github.com/pintlab/recirc/flow"
	"github.com/pintlab/recirc/hoplog"
	"github.com/pintlab/recirc/wire"
)

var (
	hostMAC   = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	switchMAC = net.HardwareAddr{0x00, 0xaa, 0xbb, 0xcc, 0xdd, 0xee}
	srcIP     = net.ParseIP("10.0.0.1")
	dstIP     = net.ParseIP("10.0.0.2")
)

// fakeRecorder counts appends and closes so tests can assert that
// rejected frames leave no trace.
type fakeRecorder struct {
	rows   map[uint16][]hoplog.Record
	closed map[uint16]bool
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{rows: map[uint16][]hoplog.Record{}, closed: map[uint16]bool{}}
}

func (r *fakeRecorder) Append(flowID uint16, rec hoplog.Record) error {
	r.rows[flowID] = append(r.rows[flowID], rec)
	return nil
}

func (r *fakeRecorder) CloseFlow(flowID uint16) error {
	r.closed[flowID] = true
	return nil
}

func mkFrame(t *testing.T, flowID uint16, ttl uint8, tr wire.Trailer, layout wire.Layout) *wire.Frame {
	t.Helper()
	b := wire.Encode(switchMAC, hostMAC, flowID, ttl, srcIP, dstIP, tr, layout)
	f, err := wire.Decode(b, layout)
	rtx.Must(err, "Could not decode a test frame")
	return f
}

func TestStartInitialTrailer(t *testing.T) {
	rec := newFakeRecorder()
	tr := flow.NewTracker(flow.Config{FlowCount: 2, MaxHops: 15}, rec)
	if got := tr.Start(1); got != (wire.Trailer{}) {
		t.Errorf("base initial trailer = %+v, want zero", got)
	}
	if len(rec.rows[1]) != 1 || rec.rows[1][0].HopID != 0 || rec.rows[1][0].TTL != 255 {
		t.Errorf("hop-0 row = %+v", rec.rows[1])
	}

	rec = newFakeRecorder()
	mtr := flow.NewTracker(flow.Config{FlowCount: 2, MaxHops: 15, MaskSeq: flow.DefaultMaskSeq}, rec)
	if got := mtr.Start(1); got.SwitchMask != 1 {
		t.Errorf("masked initial trailer = %+v, want mask 1", got)
	}
}

func TestTerminationByHopCeiling(t *testing.T) {
	rec := newFakeRecorder()
	tr := flow.NewTracker(flow.Config{FlowCount: 1, MaxHops: 3}, rec)
	tr.Start(1)

	for hop := 1; hop <= 3; hop++ {
		f := mkFrame(t, 1, uint8(255-hop), wire.Trailer{}, wire.BaseLayout)
		d, reason := tr.Step(f)
		if hop < 3 && d != flow.Resend {
			t.Fatalf("hop %d: decision = %v (%s), want Resend", hop, d, reason)
		}
		if hop == 3 {
			if d != flow.Finished || reason != "hop_ceiling" {
				t.Fatalf("hop 3: decision = %v (%s), want Finished/hop_ceiling", d, reason)
			}
		}
	}
	if !tr.AllDone() || !rec.closed[1] {
		t.Error("flow not terminal after reaching the ceiling")
	}
	if got := len(rec.rows[1]); got != 4 {
		t.Errorf("rows = %d, want 4 (hop 0..3)", got)
	}
}

func TestTerminationByTTLZero(t *testing.T) {
	rec := newFakeRecorder()
	tr := flow.NewTracker(flow.Config{FlowCount: 1, MaxHops: 1000}, rec)
	tr.Start(1)

	f := mkFrame(t, 1, 0, wire.Trailer{}, wire.BaseLayout)
	if d, reason := tr.Step(f); d != flow.Finished || reason != "ttl_zero" {
		t.Errorf("decision = %v (%s), want Finished/ttl_zero", d, reason)
	}
	// The terminal frame itself is still recorded.
	if got := len(rec.rows[1]); got != 2 {
		t.Errorf("rows = %d, want 2", got)
	}
}

func TestMaskSequenceProgression(t *testing.T) {
	rec := newFakeRecorder()
	cfg := flow.Config{FlowCount: 1, MaxHops: 15, MaskSeq: flow.DefaultMaskSeq}
	tr := flow.NewTracker(cfg, rec)
	init := tr.Start(1)
	if init.SwitchMask != 1 {
		t.Fatalf("initial mask = %d, want 1", init.SwitchMask)
	}

	// Replies 1..5 re-inject with masks 3,7,10,11,13; reply 6 exhausts
	// the sequence.
	mask := init.SwitchMask
	var resent []uint16
	for hop := 1; hop <= 6; hop++ {
		f := mkFrame(t, 1, uint8(255-hop), wire.Trailer{SwitchMask: mask}, wire.MaskedLayout)
		d, reason := tr.Step(f)
		if hop < 6 {
			if d != flow.Resend {
				t.Fatalf("reply %d: decision = %v (%s), want Resend", hop, d, reason)
			}
			resent = append(resent, f.Trailer.SwitchMask)
			mask = f.Trailer.SwitchMask
			continue
		}
		if d != flow.Finished || reason != "mask_exhausted" {
			t.Fatalf("reply 6: decision = %v (%s), want Finished/mask_exhausted", d, reason)
		}
	}

	want := []uint16{3, 7, 10, 11, 13}
	if len(resent) != len(want) {
		t.Fatalf("resent masks = %v, want %v", resent, want)
	}
	for i := range want {
		if resent[i] != want[i] {
			t.Errorf("re-injection %d mask = %d, want %d", i+1, resent[i], want[i])
		}
	}
	if got := len(rec.rows[1]); got != 7 {
		t.Errorf("rows = %d, want 7 (hop 0 plus 6 replies)", got)
	}
}

func TestRejectionCausesNoMutation(t *testing.T) {
	rec := newFakeRecorder()
	tr := flow.NewTracker(flow.Config{FlowCount: 2, MaxHops: 15}, rec)
	tr.Start(1)
	tr.Start(2)

	for _, tt := range []struct {
		name string
		id   uint16
		want string
	}{
		{"flow id zero", 0, "out_of_range"},
		{"flow id out of range", 9, "out_of_range"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := mkFrame(t, tt.id, 250, wire.Trailer{}, wire.BaseLayout)
			d, reason := tr.Step(f)
			if d != flow.Rejected || reason != tt.want {
				t.Errorf("decision = %v (%s), want Rejected/%s", d, reason, tt.want)
			}
		})
	}

	// Terminate flow 1, then feed it another frame: no new rows, no
	// state change.
	tr.Step(mkFrame(t, 1, 0, wire.Trailer{}, wire.BaseLayout))
	before := len(rec.rows[1])
	if d, _ := tr.Step(mkFrame(t, 1, 240, wire.Trailer{}, wire.BaseLayout)); d != flow.Rejected {
		t.Error("terminal flow accepted a frame")
	}
	if len(rec.rows[1]) != before {
		t.Error("terminal flow gained a log row")
	}
	if len(rec.rows[9]) != 0 && len(rec.rows[0]) != 0 {
		t.Error("unknown flows gained log rows")
	}
}

func TestAbandon(t *testing.T) {
	rec := newFakeRecorder()
	tr := flow.NewTracker(flow.Config{FlowCount: 2, MaxHops: 15}, rec)
	tr.Start(1)
	tr.Start(2)

	tr.Abandon(1)
	if tr.AllDone() {
		t.Error("AllDone with a live flow")
	}
	tr.Abandon(2)
	if !tr.AllDone() {
		t.Error("not AllDone after abandoning every flow")
	}
	// Abandoning again or out of range is harmless.
	tr.Abandon(1)
	tr.Abandon(0)
	tr.Abandon(50)

	sum := tr.Summary()
	if len(sum) != 2 || sum[0].Reason != "send_failure" || !sum[0].Done {
		t.Errorf("summary = %+v", sum)
	}
	if sum[0].Hops != 1 {
		t.Errorf("hops = %d, want 1 (hop 0 only)", sum[0].Hops)
	}
}

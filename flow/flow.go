// Package flow tracks the per-flow state of a recirculation run: which
// flows are live, whether a received frame continues or terminates its
// flow, and what trailer mutation (if any) to apply before
// re-injection.
package flow

import (
	"github.com/apex/log"

	"github.com/pintlab/recirc/hoplog"
	"github.com/pintlab/recirc/logging"
	"github.com/pintlab/recirc/metrics"
	"github.com/pintlab/recirc/wire"
)

// DefaultMaskSeq is the fixed per-hop switch behavior sequence of the
// masked protocol variant, consumed one entry per injection.
var DefaultMaskSeq = []uint16{1, 3, 7, 10, 11, 13}

// Config bounds a run. A nil MaskSeq selects the base protocol, in
// which the device is the sole trailer mutator; a non-nil MaskSeq
// selects the masked variant, in which the tracker rewrites the
// switch_mask before every re-injection and retires the flow once the
// sequence is exhausted.
type Config struct {
	// FlowCount is the number of flows; valid flow ids are 1..FlowCount.
	FlowCount int
	// MaxHops is the hop ceiling: a flow whose received hop id reaches
	// it is retired.
	MaxHops int
	MaskSeq []uint16
}

// Layout returns the trailer layout this configuration speaks.
func (c Config) Layout() wire.Layout {
	if len(c.MaskSeq) > 0 {
		return wire.MaskedLayout
	}
	return wire.BaseLayout
}

// Recorder receives one row per observed frame and a close once the
// flow terminates. hoplog.Run implements it.
type Recorder interface {
	Append(flowID uint16, rec hoplog.Record) error
	CloseFlow(flowID uint16) error
}

// Decision tells the session driver what to do after a step.
type Decision int

const (
	// Rejected frames caused no state change and no log row.
	Rejected Decision = iota
	// Resend hands the frame (mask possibly rewritten) back for
	// re-transmission.
	Resend
	// Finished means the frame terminated its flow.
	Finished
)

// state is the bookkeeping for one flow. iterations counts mask
// entries consumed in the masked variant and re-injections in the
// base variant; hops counts observed hop records including hop 0.
type state struct {
	started    bool
	done       bool
	reason     string
	iterations int
	hops       int
}

// Tracker owns the flow table. It is not safe for concurrent use: the
// session driver calls it from its single drain goroutine, which is
// the only writer the protocol needs.
type Tracker struct {
	cfg   Config
	rec   Recorder
	flows []state // indexed by flow id; entry 0 is reserved
}

// NewTracker returns a Tracker for cfg recording into rec.
func NewTracker(cfg Config, rec Recorder) *Tracker {
	return &Tracker{
		cfg:   cfg,
		rec:   rec,
		flows: make([]state, cfg.FlowCount+1),
	}
}

func (t *Tracker) masked() bool { return len(t.cfg.MaskSeq) > 0 }

// Start registers flowID, records its synthetic hop-0 row, and returns
// the trailer for the initial frame. In the masked variant the first
// mask entry is consumed here, so a flow retires after len(MaskSeq)
// injections in total.
func (t *Tracker) Start(flowID uint16) wire.Trailer {
	s := &t.flows[flowID]
	s.started = true
	tr := wire.Trailer{}
	if t.masked() {
		tr.SwitchMask = t.cfg.MaskSeq[0]
		s.iterations = 1
	}
	s.hops = 1
	if err := t.rec.Append(flowID, hoplog.Record{
		HopID:      0,
		TTL:        wire.InitialTTL,
		SwitchMask: tr.SwitchMask,
	}); err != nil {
		logging.Logger.WithError(err).WithField("flow", flowID).Warn("tracker: could not record hop 0")
	}
	metrics.ActiveFlows.Inc()
	return tr
}

// Step applies one received, decoded frame to its flow and decides
// whether the flow continues. Rejected frames cause no state change
// and no log row. The returned string is the rejection or termination
// reason, empty for Resend.
func (t *Tracker) Step(f *wire.Frame) (Decision, string) {
	id := f.FlowID
	if id == 0 || int(id) > t.cfg.FlowCount {
		metrics.TrackerRejects.WithLabelValues("out_of_range").Inc()
		logging.Logger.WithField("flow", id).Debug("tracker: flow id out of range")
		return Rejected, "out_of_range"
	}
	s := &t.flows[id]
	if !s.started || s.done {
		metrics.TrackerRejects.WithLabelValues("terminal").Inc()
		logging.Logger.WithField("flow", id).Debug("tracker: frame for a terminal flow")
		return Rejected, "terminal"
	}

	s.hops++
	if err := t.rec.Append(id, hoplog.Record{
		HopID:      f.HopID(),
		TTL:        f.TTL,
		SwitchMask: f.Trailer.SwitchMask,
		Pint:       f.Trailer.Pint,
		XorDegree:  f.Trailer.XorDegree,
	}); err != nil {
		logging.Logger.WithError(err).WithField("flow", id).Warn("tracker: could not record hop")
	}

	switch {
	case f.TTL == 0:
		t.finish(id, "ttl_zero")
		return Finished, "ttl_zero"
	case f.HopID() >= t.cfg.MaxHops:
		t.finish(id, "hop_ceiling")
		return Finished, "hop_ceiling"
	case t.masked() && s.iterations >= len(t.cfg.MaskSeq):
		t.finish(id, "mask_exhausted")
		return Finished, "mask_exhausted"
	}

	if t.masked() {
		f.SetSwitchMask(t.cfg.MaskSeq[s.iterations])
	}
	s.iterations++
	return Resend, ""
}

// Abandon marks a flow terminal after a transport send failure. The
// flow is not retried; its partial trajectory is still archived.
func (t *Tracker) Abandon(flowID uint16) {
	if flowID == 0 || int(flowID) > t.cfg.FlowCount {
		return
	}
	if s := &t.flows[flowID]; !s.started || s.done {
		return
	}
	t.finish(flowID, "send_failure")
}

func (t *Tracker) finish(flowID uint16, reason string) {
	s := &t.flows[flowID]
	s.done = true
	s.reason = reason
	metrics.ActiveFlows.Dec()
	metrics.FlowsCompleted.WithLabelValues(reason).Inc()
	metrics.FlowHops.Observe(float64(s.hops))
	if err := t.rec.CloseFlow(flowID); err != nil {
		logging.Logger.WithError(err).WithField("flow", flowID).Warn("tracker: could not close the hop log")
	}
	logging.Logger.WithFields(log.Fields{"flow": flowID, "reason": reason, "hops": s.hops}).Info("tracker: flow done")
}

// AllDone reports whether every flow has reached a terminal state.
func (t *Tracker) AllDone() bool {
	for i := 1; i <= t.cfg.FlowCount; i++ {
		if !t.flows[i].done {
			return false
		}
	}
	return true
}

// Summary returns the per-flow archival summaries for the run record.
func (t *Tracker) Summary() []hoplog.FlowSummary {
	out := make([]hoplog.FlowSummary, 0, t.cfg.FlowCount)
	for i := 1; i <= t.cfg.FlowCount; i++ {
		s := t.flows[i]
		out = append(out, hoplog.FlowSummary{
			FlowID: uint16(i),
			Hops:   s.hops,
			Done:   s.done,
			Reason: s.reason,
		})
	}
	return out
}

// Package session drives one complete recirculation run: it fans out
// the initial frame of every flow, then drains replies back through
// the flow tracker until every flow has terminated.
package session

import (
	"context"
	"errors"
	"net"

	"github.com/apex/log"

	"github.com/pintlab/recirc/flow"
	"github.com/pintlab/recirc/logging"
	"github.com/pintlab/recirc/metrics"
	"github.com/pintlab/recirc/rawnet"
	"github.com/pintlab/recirc/wire"
)

// Addrs holds the addressing material stamped into every injected
// frame.
type Addrs struct {
	HostMAC   net.HardwareAddr
	SwitchMAC net.HardwareAddr
	SrcIP     net.IP
	DstIP     net.IP
}

// Driver runs one session on a transport. It owns the only goroutine
// that touches the tracker.
type Driver struct {
	cfg     flow.Config
	addrs   Addrs
	tr      rawnet.Transport
	tracker *flow.Tracker
}

// NewDriver wires a driver to its collaborators.
func NewDriver(cfg flow.Config, addrs Addrs, tr rawnet.Transport, tracker *flow.Tracker) *Driver {
	return &Driver{cfg: cfg, addrs: addrs, tr: tr, tracker: tracker}
}

// Run performs the whole session: fan-out, then the drain loop. It
// returns nil once every flow is terminal, or ctx.Err() if the run is
// canceled first.
func (d *Driver) Run(ctx context.Context) error {
	d.fanOut()
	return d.drain(ctx)
}

// fanOut injects the hop-0 frame of every flow. A flow whose initial
// send fails is abandoned on the spot; the run continues with the
// rest.
func (d *Driver) fanOut() {
	for id := 1; id <= d.cfg.FlowCount; id++ {
		flowID := uint16(id)
		tr := d.tracker.Start(flowID)
		frame := wire.Encode(d.addrs.HostMAC, d.addrs.SwitchMAC, flowID, wire.InitialTTL,
			d.addrs.SrcIP, d.addrs.DstIP, tr, d.cfg.Layout())
		if err := d.tr.Send(frame); err != nil {
			metrics.TransportErrors.WithLabelValues("send").Inc()
			logging.Logger.WithError(err).WithField("flow", flowID).Warn("session: initial send failed")
			d.tracker.Abandon(flowID)
			continue
		}
		metrics.FramesSent.WithLabelValues("fanout").Inc()
	}
}

// drain receives replies and steps the tracker until every flow is
// terminal. Receive timeouts are the loop's idle heartbeat and are not
// logged; other receive errors are logged and retried.
func (d *Driver) drain(ctx context.Context) error {
	layout := d.cfg.Layout()
	for !d.tracker.AllDone() {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := d.tr.Receive()
		if err != nil {
			if rawnet.IsTimeout(err) {
				continue
			}
			metrics.TransportErrors.WithLabelValues("receive").Inc()
			logging.Logger.WithError(err).Warn("session: receive failed")
			continue
		}
		metrics.FramesReceived.Inc()

		f, err := wire.Decode(raw, layout)
		if err != nil {
			reason := decodeReason(err)
			metrics.DecodeSkips.WithLabelValues(reason).Inc()
			logging.Logger.WithFields(log.Fields{"reason": reason, "bytes": len(raw)}).Debug("session: skipping frame")
			continue
		}

		decision, reason := d.tracker.Step(f)
		switch decision {
		case flow.Resend:
			f.RestampLink(d.addrs.HostMAC, d.addrs.SwitchMAC)
			if err := d.tr.Send(f.Bytes()); err != nil {
				metrics.TransportErrors.WithLabelValues("send").Inc()
				logging.Logger.WithError(err).WithField("flow", f.FlowID).Warn("session: re-injection failed")
				d.tracker.Abandon(f.FlowID)
				continue
			}
			metrics.FramesSent.WithLabelValues("reinject").Inc()
		case flow.Finished:
			logging.Logger.WithFields(log.Fields{"flow": f.FlowID, "reason": reason}).Info("session: flow finished")
		}
	}
	return nil
}

func decodeReason(err error) string {
	switch {
	case errors.Is(err, wire.ErrTooShort):
		return "too_short"
	case errors.Is(err, wire.ErrUnsupportedEtherType):
		return "ethertype"
	case errors.Is(err, wire.ErrUnsupportedProtocol):
		return "protocol"
	default:
		return "other"
	}
}

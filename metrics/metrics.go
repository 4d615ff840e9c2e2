// Package metrics contains the prometheus metrics exported by the
// recirc host.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recirc_frames_sent_total",
			Help: "Frames transmitted to the device, by phase (fanout or reinject).",
		},
		[]string{"phase"})
	FramesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recirc_frames_received_total",
			Help: "Frames read from the transport, including foreign ones.",
		})
	DecodeSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recirc_decode_skips_total",
			Help: "Received frames skipped because they failed to decode.",
		},
		[]string{"reason"})
	TrackerRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recirc_tracker_rejects_total",
			Help: "Decoded frames rejected by the flow tracker.",
		},
		[]string{"reason"})
	ActiveFlows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recirc_active_flows",
			Help: "Flows started and not yet terminal.",
		})
	FlowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recirc_flows_completed_total",
			Help: "Flows that reached a terminal state, by reason.",
		},
		[]string{"reason"})
	FlowHops = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recirc_flow_hops",
			Help:    "Hop records observed per completed flow, including the synthetic hop 0.",
			Buckets: prometheus.LinearBuckets(0, 8, 9),
		})
	TransportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recirc_transport_errors_total",
			Help: "Transport failures by operation (send or receive).",
		},
		[]string{"op"})
)

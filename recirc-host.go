// recirc-host drives a recirculation telemetry experiment from the
// host side: it injects one probe frame per flow, re-injects every
// reply the device echoes back, and archives the per-hop trailer
// trajectory of every flow.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"

	"github.com/apex/log"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/pintlab/recirc/flow"
	"github.com/pintlab/recirc/hoplog"
	"github.com/pintlab/recirc/logging"
	"github.com/pintlab/recirc/rawnet"
	"github.com/pintlab/recirc/session"
)

var (
	transport = flag.String("transport", "udp", "Frame transport: afpacket (raw interface) or udp (simulator)")
	iface     = flag.String("iface", "eth0", "Interface for the afpacket transport")
	simAddr   = flag.String("sim_addr", "127.0.0.1:9000", "Simulator address for the udp transport")
	hostMAC   = flag.String("host_mac", "02:00:00:00:00:01", "Source MAC stamped on injected frames")
	switchMAC = flag.String("switch_mac", "02:00:00:00:00:02", "Destination MAC stamped on injected frames")
	srcIP     = flag.String("src_ip", "10.0.0.1", "IPv4 source address of injected frames")
	dstIP     = flag.String("dst_ip", "10.0.0.2", "IPv4 destination address of injected frames")
	flows     = flag.Int("flows", 1, "Number of concurrent flows")
	maxHops   = flag.Int("max_hops", 15, "Hop ceiling after which a flow is retired")
	masked    = flag.Bool("masked", false, "Run the masked protocol variant")
	datadir   = flag.String("datadir", "/var/spool/recirc", "Directory in which to archive run data")

	// Context for the whole program. Tests reset it to verify shutdown.
	ctx, cancel = context.WithCancel(context.Background())
)

func makeTransport(a session.Addrs) (rawnet.Transport, error) {
	switch *transport {
	case "afpacket":
		return rawnet.NewAFPacket(*iface)
	case "udp":
		return rawnet.NewUDP(*simAddr, a.HostMAC, a.SwitchMAC)
	}
	return nil, fmt.Errorf("unknown transport %q", *transport)
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")

	promSrv := prometheusx.MustServeMetrics()
	defer promSrv.Close()

	hmac, err := net.ParseMAC(*hostMAC)
	rtx.Must(err, "Could not parse -host_mac")
	smac, err := net.ParseMAC(*switchMAC)
	rtx.Must(err, "Could not parse -switch_mac")
	src := net.ParseIP(*srcIP)
	dst := net.ParseIP(*dstIP)
	if src == nil || src.To4() == nil || dst == nil || dst.To4() == nil {
		rtx.Must(fmt.Errorf("src=%q dst=%q", *srcIP, *dstIP), "Addresses must be IPv4")
	}
	addrs := session.Addrs{HostMAC: hmac, SwitchMAC: smac, SrcIP: src, DstIP: dst}

	cfg := flow.Config{FlowCount: *flows, MaxHops: *maxHops}
	if *masked {
		cfg.MaskSeq = flow.DefaultMaskSeq
	}

	run, err := hoplog.NewRun(*datadir, *masked)
	rtx.Must(err, "Could not create the run directory")

	tr, err := makeTransport(addrs)
	rtx.Must(err, "Could not open the %s transport", *transport)
	defer tr.Close()

	tracker := flow.NewTracker(cfg, run)
	driver := session.NewDriver(cfg, addrs, tr, tracker)

	logging.Logger.WithFields(log.Fields{
		"run":       run.ID(),
		"transport": *transport,
		"flows":     *flows,
		"layout":    cfg.Layout().String(),
	}).Info("starting run")

	if err := driver.Run(ctx); err != nil {
		logging.Logger.WithError(err).Warn("run canceled before completion")
	}

	rtx.Must(run.Flush(), "Could not flush hop logs")
	rtx.Must(run.SaveResult(&hoplog.Result{
		Transport: *transport,
		FlowCount: *flows,
		MaxHops:   *maxHops,
		MaskSeq:   cfg.MaskSeq,
		Flows:     tracker.Summary(),
	}), "Could not save the run result")

	logging.Logger.WithField("dir", run.Dir()).Info("run archived")
}

// recirc-sim is a software stand-in for the switch: a UDP reflector
// that applies one emulated device pass to every datagram and echoes
// the result back, for developing against no hardware at all.
package main

import (
	"context"
	"flag"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/pintlab/recirc/logging"
	"github.com/pintlab/recirc/switchsim"
	"github.com/pintlab/recirc/wire"
)

var (
	listen = flag.String("listen", ":9000", "Address to reflect datagrams on")
	masked = flag.Bool("masked", false, "Expect the masked trailer layout")

	ctx = context.Background()
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")

	layout := wire.BaseLayout
	if *masked {
		layout = wire.MaskedLayout
	}
	refl, err := switchsim.NewReflector(*listen, layout)
	rtx.Must(err, "Could not bind %s", *listen)
	defer refl.Close()

	logging.Logger.WithField("addr", refl.Addr().String()).Info("reflecting")
	refl.Serve(ctx)
}

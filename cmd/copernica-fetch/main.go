// Command copernica-fetch requests one or more names from a broker over
// UDP and prints what came back, mirroring cmd/chassis-control's
// kingpin-driven, context-deadline-bounded request pattern.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/alecthomas/kingpin"
	"github.com/sirupsen/logrus"

	"github.com/sjmackenzie/copernica-go/pkg/copconfig"
	"github.com/sjmackenzie/copernica-go/pkg/link"
	"github.com/sjmackenzie/copernica-go/pkg/requestor"
	"github.com/sjmackenzie/copernica-go/pkg/wire"
)

var (
	argBroker  = kingpin.Arg("broker", "UDP address of the broker to fetch from.").Required().String()
	argNames   = kingpin.Arg("names", "publisher/name identifiers to request.").Required().Strings()
	flgTimeout = kingpin.Flag("timeout", "how long to wait for every name to resolve.").Default("5s").Duration()
)

func main() {
	kingpin.Parse()
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	remoteAddr, err := net.ResolveUDPAddr("udp", *argBroker)
	if err != nil {
		logrus.WithError(err).Fatal("invalid broker address")
	}
	localAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		logrus.WithError(err).Fatal("failed to resolve ephemeral local address")
	}

	id := link.Listen(wire.NewUDPReplyTo(localAddr)).WithRemote(wire.NewUDPReplyTo(remoteAddr))
	l, err := link.NewUdpIp(id)
	if err != nil {
		logrus.WithError(err).Fatal("failed to bind udp link")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *flgTimeout+time.Second)
	defer cancel()
	l.Run(ctx)

	req := requestor.New(l, copconfig.New(copconfig.WithRequestTimeout(*flgTimeout)))
	results := req.Request(*argNames, *flgTimeout)

	exitCode := 0
	for _, name := range *argNames {
		resp := results[name]
		if resp == nil {
			fmt.Fprintf(os.Stderr, "%s: timed out\n", name)
			exitCode = 1
			continue
		}
		fmt.Printf("%s: %d bytes (chunk %d/%d)\n", name, resp.Data.Len, resp.Offset+1, resp.Total)
	}
	os.Exit(exitCode)
}

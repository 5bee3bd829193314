// Command copernica-broker runs a standalone Copernica broker: it
// forwards requests toward producers and caches responses on the return
// path, across however many UDP peer links are configured.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sjmackenzie/copernica-go/pkg/broker"
	"github.com/sjmackenzie/copernica-go/pkg/contentstore"
	"github.com/sjmackenzie/copernica-go/pkg/copconfig"
	"github.com/sjmackenzie/copernica-go/pkg/link"
	"github.com/sjmackenzie/copernica-go/pkg/wire"
)

var (
	flgListen    = kingpin.Flag("listen", "UDP address this broker listens on, e.g. 127.0.0.1:50000.").Required().String()
	flgPeers     = kingpin.Flag("peer", "UDP address of a peer link; repeatable for several neighbors.").Strings()
	flgMetrics   = kingpin.Flag("metrics-addr", "address to serve Prometheus metrics on.").Default(":9090").String()
	flgVerbosity = kingpin.Flag("verbose", "enable trace-level logging.").Bool()
)

func main() {
	kingpin.Parse()
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *flgVerbosity {
		logrus.SetLevel(logrus.TraceLevel)
	}

	localAddr, err := net.ResolveUDPAddr("udp", *flgListen)
	if err != nil {
		logrus.WithError(err).Fatal("invalid --listen address")
	}

	store := contentstore.NewMemStore()
	b := broker.New(store, copconfig.New())

	var links []link.Link
	for _, peer := range *flgPeers {
		remoteAddr, err := net.ResolveUDPAddr("udp", peer)
		if err != nil {
			logrus.WithError(err).Fatalf("invalid --peer address %q", peer)
		}
		id := link.Listen(wire.NewUDPReplyTo(localAddr)).WithRemote(wire.NewUDPReplyTo(remoteAddr))
		l, err := link.NewUdpIp(id)
		if err != nil {
			logrus.WithError(err).Fatal("failed to bind udp link")
		}
		links = append(links, l)
		b.AddLink(l)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("shutting down")
		cancel()
	}()

	for _, l := range links {
		l.Run(ctx)
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		logrus.WithField("addr", *flgMetrics).Info("serving metrics")
		if err := http.ListenAndServe(*flgMetrics, nil); err != nil {
			logrus.WithError(err).Warn("metrics server stopped")
		}
	}()

	logrus.WithFields(logrus.Fields{"listen": *flgListen, "peers": len(links)}).Info("copernica broker running")
	b.Run(ctx)
}

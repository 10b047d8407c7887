// dpchand is the dataplane channel daemon. It loads a channel manifest,
// creates every channel it names, registers their statistics with
// Prometheus, and holds the regions open until terminated.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psaab/dpchan/pkg/channel"
	"github.com/psaab/dpchan/pkg/dpconfig"
	"github.com/psaab/dpchan/pkg/manager"
)

func main() {
	manifestFile := flag.String("manifest", "/etc/dpchan/channels.yaml", "channel manifest path")
	apiAddr := flag.String("api-addr", "127.0.0.1:9600", "Prometheus metrics listen address (empty to disable)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	m, err := dpconfig.Load(*manifestFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpchand: %v\n", err)
		os.Exit(1)
	}

	mgr := manager.New()
	for _, c := range m.Channels {
		if _, err := mgr.Create(c.Name, c.Params(), channel.Options{}); err != nil {
			fmt.Fprintf(os.Stderr, "dpchand: create channel %q: %v\n", c.Name, err)
			os.Exit(1)
		}
	}
	defer func() {
		for _, name := range mgr.Names() {
			if err := mgr.Release(name); err != nil {
				slog.Error("dpchand: release on shutdown failed", "name", name, "err", err)
			}
		}
	}()

	if *apiAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(mgr.Collector())
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *apiAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("dpchand: metrics server failed", "err", err)
			}
		}()
		defer srv.Close()
		slog.Info("dpchand: metrics listening", "addr", *apiAddr)
	}

	slog.Info("dpchand: channels ready", "count", mgr.Len(), "names", mgr.Names())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	slog.Info("dpchand: shutting down")
}


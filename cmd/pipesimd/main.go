// Package main provides pipesimd, the HTTP API server for the simulator.
package main

import (
	"flag"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/pipesim/server"
)

var (
	addr    = flag.String("addr", ":8080", "Listen address")
	verbose = flag.Bool("v", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	srv := server.New(logger)
	logger.WithField("addr", *addr).Info("pipesimd listening")
	if err := http.ListenAndServe(*addr, srv.Handler()); err != nil {
		logger.Fatalf("server stopped: %v", err)
	}
}

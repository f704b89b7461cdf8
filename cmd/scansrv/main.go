// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command scansrv implements the `server` CLI (spec.md §6): a process
// that holds running scan submissions in memory and answers
// get_record_id/ping over NATS so a separate process can poll a
// submission to completion. Flag parsing and .env/config bootstrap follow
// the same shape as the recorder daemon's entrypoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gops/agent"
	"github.com/scanrec/scanrec/internal/config"
	"github.com/scanrec/scanrec/internal/runtimeEnv"
	"github.com/scanrec/scanrec/internal/scansrv"
	"github.com/scanrec/scanrec/pkg/log"
)

func main() {
	var flagConfig, flagURL, flagLogLevel string
	var flagPort, flagTimeout int
	var flagGops bool
	flag.StringVar(&flagConfig, "config", "./config.json", "JSON config file, validated against the embedded schema")
	flag.StringVar(&flagURL, "url", "", "NATS server URL (overrides config's nats-url)")
	flag.IntVar(&flagPort, "port", 0, "scansrv subject port (overrides config's port)")
	flag.IntVar(&flagTimeout, "timeout", 0, "ping timeout in seconds for the idempotent-start handshake (overrides config's ping-timeout)")
	flag.StringVar(&flagLogLevel, "log-level", "", "overrides config's log-level")
	flag.BoolVar(&flagGops, "gops", false, "listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	if err := runtimeEnv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("scansrv: loading .env: %s", err.Error())
	}
	if err := config.Init(flagConfig); err != nil {
		log.Fatalf("scansrv: loading config: %s", err.Error())
	}

	if flagURL != "" {
		config.Keys.NatsURL = flagURL
	}
	if flagPort != 0 {
		config.Keys.Port = flagPort
	}
	if flagTimeout != 0 {
		config.Keys.PingTimeout = flagTimeout
	}
	if flagLogLevel != "" {
		config.Keys.LogLevel = flagLogLevel
	}
	log.SetLogLevel(config.Keys.LogLevel)

	if flagGops || config.Keys.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("scansrv: gops/agent.Listen: %s", err.Error())
		}
	}

	subject := fmt.Sprintf("scansrv.%d.request", config.Keys.Port)

	server, err := scansrv.New(config.Keys.NatsURL, subject)
	if err != nil {
		log.Fatalf("scansrv: %s", err.Error())
	}
	defer server.Close()

	if err := runtimeEnv.DropPrivileges(config.Keys.User, config.Keys.Group); err != nil {
		log.Fatalf("scansrv: dropping privileges: %s", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("scansrv: shutting down")
		runtimeEnv.SystemdNotifiy(false, "stopping")
		cancel()
	}()

	runtimeEnv.SystemdNotifiy(true, "serving "+subject)
	log.Infof("scansrv: serving %q on %s", subject, config.Keys.NatsURL)
	if err := server.Serve(ctx); err != nil && err != context.Canceled {
		log.Fatalf("scansrv: %s", err.Error())
	}
}

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command recorder implements the `record` CLI (spec.md §6): an
// idempotent recorder daemon start — if a live daemon already answers
// ping on the configured subject, this process exits 0 instead of
// double-serving.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/gorilla/mux"
	"github.com/scanrec/scanrec/internal/config"
	"github.com/scanrec/scanrec/internal/query"
	"github.com/scanrec/scanrec/internal/recorder"
	"github.com/scanrec/scanrec/internal/recorderdb"
	"github.com/scanrec/scanrec/internal/runtimeEnv"
	"github.com/scanrec/scanrec/internal/transport"
	"github.com/scanrec/scanrec/pkg/log"
	"github.com/scanrec/scanrec/pkg/lrucache"
	"github.com/scanrec/scanrec/pkg/metrics"
)

func main() {
	var flagConfig, flagDatapath, flagURL, flagLogLevel string
	var flagPort, flagTimeout int
	var flagGops bool
	flag.StringVar(&flagConfig, "config", "./config.json", "JSON config file, validated against the embedded schema")
	flag.StringVar(&flagDatapath, "datapath", "", "object store root (overrides config's datapath)")
	flag.StringVar(&flagURL, "url", "", "database file (overrides config's db)")
	flag.IntVar(&flagPort, "port", 0, "recorder subject port (overrides config's port)")
	flag.IntVar(&flagTimeout, "timeout", 0, "ping timeout in seconds for the idempotent-start handshake (overrides config's ping-timeout)")
	flag.StringVar(&flagLogLevel, "log-level", "", "overrides config's log-level")
	flag.BoolVar(&flagGops, "gops", false, "listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	if err := runtimeEnv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("recorder: loading .env: %s", err.Error())
	}
	if err := config.Init(flagConfig); err != nil {
		log.Fatalf("recorder: loading config: %s", err.Error())
	}

	if flagDatapath != "" {
		config.Keys.Datapath = flagDatapath
	}
	if flagURL != "" {
		config.Keys.DB = flagURL
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
			log.Fatalf("recorder: gops/agent.Listen: %s", err.Error())
		}
	}

	subject := fmt.Sprintf("recorder.%d.request", config.Keys.Port)
	pingTimeout := time.Duration(config.Keys.PingTimeout) * time.Second
	if pingTimeout <= 0 {
		pingTimeout = time.Second
	}

	shouldServe, err := transport.WatchOrSpawn(config.Keys.NatsURL, subject, pingTimeout)
	if err != nil {
		log.Fatalf("recorder: watch-or-spawn handshake: %s", err.Error())
	}
	if !shouldServe {
		return
	}

	dbDSN := config.Keys.DB
	if !filepath.IsAbs(dbDSN) {
		dbDSN = filepath.Join(config.Keys.Datapath, dbDSN)
	}

	daemon, err := recorder.NewDaemon(config.Keys.Datapath, dbDSN)
	if err != nil {
		log.Fatalf("recorder: %s", err.Error())
	}
	defer daemon.Close()

	server, err := transport.NewServer(config.Keys.NatsURL, subject)
	if err != nil {
		log.Fatalf("recorder: %s", err.Error())
	}
	defer server.Close()

	if err := runtimeEnv.DropPrivileges(config.Keys.User, config.Keys.Group); err != nil {
		log.Fatalf("recorder: dropping privileges: %s", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if config.Keys.MetricsAddr != "" {
		go serveMetricsAndQuery(config.Keys.Datapath, dbDSN, config.Keys.MetricsAddr)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("recorder: shutting down")
		runtimeEnv.SystemdNotifiy(false, "stopping")
		cancel()
	}()

	runtimeEnv.SystemdNotifiy(true, "serving "+subject)
	log.Infof("recorder: serving %q on %s (datapath=%s)", subject, config.Keys.NatsURL, config.Keys.Datapath)
	if err := server.Serve(ctx, daemon); err != nil && err != context.Canceled {
		log.Fatalf("recorder: %s", err.Error())
	}
}

// serveMetricsAndQuery exposes Prometheus metrics and a read-only HTTP
// mirror of query_record (spec.md §4.7's "operators who want curl-able
// introspection" ambient addition) cached through pkg/lrucache so a burst
// of identical listing requests does not repeatedly hit sqlite.
func serveMetricsAndQuery(datapath, dbDSN, addr string) {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.PathPrefix("/query").Handler(lrucache.NewHttpHandler(64<<20, 5*time.Second, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		handleQuery(w, req, datapath, dbDSN)
	})))

	log.Infof("recorder: serving metrics/query mirror on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Errorf("recorder: metrics server: %s", err.Error())
	}
}

func handleQuery(w http.ResponseWriter, req *http.Request, datapath, dbDSN string) {
	sess, err := query.OpenLocal(datapath, dbDSN)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer sess.Close()

	q := req.URL.Query()
	f := recorderdb.QueryFilter{App: q.Get("app")}
	res, err := sess.QueryRecord(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"total":%d,"records":%d}`, res.Total, len(res.Rows))
}

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics holds the recorder daemon's Prometheus counters,
// registered at package init against the default registry via
// client_golang/promauto, and exposed through a plain promhttp.Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanrec_records_created_total",
		Help: "Total records created by the recorder daemon.",
	})

	Appends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanrec_record_appends_total",
		Help: "Total record_append calls handled, by outcome.",
	}, []string{"outcome"})

	QueryRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanrec_query_requests_total",
		Help: "Total record_query requests handled.",
	})

	RecordsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanrec_records_deleted_total",
		Help: "Total records removed via record_delete.",
	})

	OpenRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scanrec_open_records",
		Help: "Records currently resident in the recorder's LRU.",
	})
)

// Handler serves the default Prometheus registry for scraping.
func Handler() http.Handler { return promhttp.Handler() }

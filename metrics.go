package main

import (
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	candidatesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_candidates_accepted_total",
		Help: "Unique listing records accepted by the aggregator.",
	})
	captureCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_capture_cycles_total",
		Help: "Reveal/drain cycles executed by the exploration controller.",
	})
	enrichedOK = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_enriched_total",
		Help: "Records whose detail fetch and parse succeeded.",
	})
	enrichFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_enrich_failures_total",
		Help: "Records persisted with detail_fetch_succeeded=false.",
	})
	batchesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_batches_persisted_total",
		Help: "Finalized batches pushed to the sink.",
	})
	rowsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_rows_persisted_total",
		Help: "Rows inserted by the sink across all batches.",
	})
)

// startMetrics serves /metrics and /debug/pprof/* on addr. Empty addr
// disables the server.
func startMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
}

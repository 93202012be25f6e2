// Copyright 2025 Palisade Chain
//
// Prometheus instrumentation for the node.

package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "node_chain_height",
		Help: "Latest committed block height",
	})
	MempoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "node_mempool_size",
		Help: "Pending transactions in the pool",
	})
	AdmissionResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "node_admission_results_total",
		Help: "Admission outcomes by result code",
	}, []string{"result"})
	ConsensusRound = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "node_consensus_round",
		Help: "Current consensus round",
	})
	ExecutedTxs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "node_executed_txs_total",
		Help: "Transactions executed in committed blocks",
	})
	BlockQuotaUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "node_block_quota_used",
		Help: "Quota consumed by the latest committed block",
	})
)

// Serve exposes /metrics on addr in a background goroutine.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			log.Printf("[METRICS] listener failed: %v", err)
		}
	}()
}

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Pipeline metrics, registered on the default registry at init
var (
	SubmissionsValidated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lcv_submissions_validated_total",
		Help: "Submissions that passed window and bounds filtering",
	})

	BatchesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lcv_batches_rejected_total",
		Help: "Submission batches rejected due to signature verification failure",
	})

	ConsensusSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcv_consensus_submissions_total",
		Help: "Consensus submissions received, labeled by outcome",
	}, []string{"outcome"})

	BlocksFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lcv_blocks_finalized_total",
		Help: "Blocks appended to the ledger",
	})

	LedgerHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lcv_ledger_height",
		Help: "Current number of blocks in the ledger",
	})

	PendingIntervals = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lcv_pending_intervals",
		Help: "Intervals currently accumulating consensus results",
	})

	RewardDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcv_reward_dispatches_total",
		Help: "Reward dispatch attempts, labeled by outcome",
	}, []string{"outcome"})

	RewardOutboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lcv_reward_outbox_depth",
		Help: "Owed reward records awaiting delivery",
	})

	ValidationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lcv_validation_duration_seconds",
		Help:    "Time spent validating and clustering one interval batch",
		Buckets: prometheus.DefBuckets,
	})
)

// Serve exposes the Prometheus endpoint on the given port. Blocks; run in a
// goroutine.
func Serve(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	log.Infof("Metrics endpoint listening on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("Metrics server stopped: %v", err)
	}
}

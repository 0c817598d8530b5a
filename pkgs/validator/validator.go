package validator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/bikera/location-consensus-validator/pkgs/clustering"
	"github.com/bikera/location-consensus-validator/pkgs/crypto"
	"github.com/bikera/location-consensus-validator/pkgs/metrics"
)

// IntervalValidator filters raw submission batches and reduces them to
// per-interval cluster winners. It holds no mutable state: every call is a
// pure read-only computation, safe to retry and cheap to repeat.
type IntervalValidator struct {
	clusterer        *clustering.Clusterer
	verifier         *crypto.BatchVerifier
	intervalDuration time.Duration
}

// NewIntervalValidator creates a validator delegating to the given clusterer
// and batch verifier.
func NewIntervalValidator(clusterer *clustering.Clusterer, verifier *crypto.BatchVerifier, intervalDuration time.Duration) *IntervalValidator {
	return &IntervalValidator{
		clusterer:        clusterer,
		verifier:         verifier,
		intervalDuration: intervalDuration,
	}
}

// Validate verifies the batch signature, drops submissions outside the
// interval's time window, deduplicates repeated UIDs and clusters the rest.
// Verification failure degrades to Valid=false with sentinel fields; it is
// never surfaced as an error.
func (v *IntervalValidator) Validate(intervalID uint64, subs []clustering.Submission, signature string) IntervalResult {
	if _, err := v.verifier.VerifyBatch(intervalID, subs, signature); err != nil {
		log.Warnf("Batch rejected for interval %d: %v", intervalID, err)
		metrics.BatchesRejected.Inc()
		return invalidResult(intervalID)
	}

	return v.process(intervalID, subs)
}

// process runs window filtering, dedup and clustering for one interval.
// Signature verification has already happened by the time this runs.
func (v *IntervalValidator) process(intervalID uint64, subs []clustering.Submission) IntervalResult {
	timer := prometheus.NewTimer(metrics.ValidationDuration)
	defer timer.ObserveDuration()

	windowStart, windowEnd := v.IntervalWindow(intervalID)

	filtered := make([]clustering.Submission, 0, len(subs))
	seen := make(map[uint64]bool, len(subs))
	for _, sub := range subs {
		if sub.Timestamp < windowStart || sub.Timestamp >= windowEnd {
			continue
		}
		// Raw collector feeds may repeat a rider's report; first occurrence wins
		if seen[sub.UID] {
			continue
		}
		seen[sub.UID] = true
		filtered = append(filtered, sub)
	}

	winners, merkleRoot := v.clusterer.Cluster(filtered)

	metrics.SubmissionsValidated.Add(float64(len(filtered)))
	log.Debugf("Validated interval %d: %d/%d submissions in window, %d winners, root %s",
		intervalID, len(filtered), len(subs), len(winners), merkleRoot)

	return IntervalResult{
		IntervalID:       intervalID,
		Valid:            true,
		MerkleRoot:       merkleRoot,
		ValidSubmissions: uint32(len(filtered)),
		Winners:          winners,
	}
}

// ValidateBatch validates several intervals submitted under one signature.
// A single interval is simply a batch of size one. The batch merkle root
// digests all winners across the batch in interval order.
func (v *IntervalValidator) ValidateBatch(req *BatchValidationRequest) BatchValidationResult {
	results := make([]IntervalResult, 0, len(req.IntervalIDs))

	if _, err := v.verifier.VerifyMultiBatch(req.IntervalIDs, req.SubmissionsBatch, req.Signature); err != nil {
		log.Warnf("Batch of %d intervals rejected: %v", len(req.IntervalIDs), err)
		metrics.BatchesRejected.Inc()
		for _, intervalID := range req.IntervalIDs {
			results = append(results, invalidResult(intervalID))
		}
		return BatchValidationResult{
			Results:         results,
			BatchMerkleRoot: clustering.EmptyMerkleRoot,
		}
	}

	allWinners := make([]clustering.ClusterWinner, 0)
	for i, intervalID := range req.IntervalIDs {
		var subs []clustering.Submission
		if i < len(req.SubmissionsBatch) {
			subs = req.SubmissionsBatch[i]
		}

		result := v.process(intervalID, subs)
		results = append(results, result)
		allWinners = append(allWinners, result.Winners...)
	}

	return BatchValidationResult{
		Results:         results,
		BatchMerkleRoot: clustering.ComputeMerkleRoot(allWinners),
	}
}

// IntervalWindow derives the half-open time window [start, end) in epoch
// milliseconds for an interval ID.
func (v *IntervalValidator) IntervalWindow(intervalID uint64) (uint64, uint64) {
	duration := uint64(v.intervalDuration.Milliseconds())
	start := intervalID * duration
	return start, start + duration
}

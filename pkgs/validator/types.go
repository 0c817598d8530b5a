package validator

import (
	"github.com/bikera/location-consensus-validator/pkgs/clustering"
)

// IntervalResult is the outcome of validating and clustering one interval's
// submission batch. It is produced once per (collector, interval) pair and
// consumed by the consensus aggregator.
type IntervalResult struct {
	IntervalID       uint64                     `json:"interval_id"`
	Valid            bool                       `json:"valid"`
	MerkleRoot       string                     `json:"merkle_root"`
	ValidSubmissions uint32                     `json:"valid_submissions"`
	Winners          []clustering.ClusterWinner `json:"cluster_winners"`
}

// BatchValidationRequest carries one or more intervals' submissions with a
// single collector signature over the whole payload.
type BatchValidationRequest struct {
	IntervalIDs      []uint64                   `json:"interval_ids"`
	SubmissionsBatch [][]clustering.Submission  `json:"submissions_batch"`
	Signature        string                     `json:"signature"`
}

// BatchValidationResult aggregates per-interval results with a digest over
// all winners in the batch.
type BatchValidationResult struct {
	Results         []IntervalResult `json:"results"`
	BatchMerkleRoot string           `json:"batch_merkle_root"`
}

// invalidResult is the degraded result returned for unverifiable batches
func invalidResult(intervalID uint64) IntervalResult {
	return IntervalResult{
		IntervalID:       intervalID,
		Valid:            false,
		MerkleRoot:       clustering.EmptyMerkleRoot,
		ValidSubmissions: 0,
		Winners:          nil,
	}
}

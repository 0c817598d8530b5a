package consensus

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/bikera/location-consensus-validator/pkgs/events"
	"github.com/bikera/location-consensus-validator/pkgs/ledger"
	"github.com/bikera/location-consensus-validator/pkgs/metrics"
	"github.com/bikera/location-consensus-validator/pkgs/rewards"
	"github.com/bikera/location-consensus-validator/pkgs/validator"
)

// Consensus failure modes surfaced to submit_consensus callers
var (
	ErrNoConsensusData    = errors.New("no consensus data")
	ErrNoWinningResult    = errors.New("no winning result found")
	ErrDuplicateCollector = errors.New("collector already submitted for this interval")
	ErrInvalidResult      = errors.New("validation result is not valid")
)

// Status of a consensus submission
type Status string

const (
	StatusPending   Status = "pending"
	StatusFinalized Status = "finalized"
)

// Outcome is the reply to one consensus submission. Collectors submitting
// before quorum see StatusPending; the collector completing quorum receives
// the finalized block reference.
type Outcome struct {
	Status     Status `json:"status"`
	BlockIndex uint64 `json:"block_index,omitempty"`
	BlockHash  string `json:"block_hash,omitempty"`
	Message    string `json:"message,omitempty"`
}

// pendingEntry preserves submission order so majority ties break toward the
// first-seen result.
type pendingEntry struct {
	collectorID string
	result      validator.IntervalResult
}

// Aggregator accumulates interval results from distinct collectors and
// finalizes an interval once quorum is reached: majority vote by merkle root,
// block append, owed-reward record, pending-state cleanup. All state mutation
// happens under one lock; reward delivery runs on a separate dispatcher loop
// so a slow or dead distributor can never block finalization.
type Aggregator struct {
	quorum   int
	ledger   *ledger.Ledger
	notifier *rewards.Notifier
	pub      *events.Publisher

	mu        sync.Mutex
	pending   map[uint64][]pendingEntry
	finalized map[uint64]uint64 // intervalID -> block index
}

// NewAggregator creates an aggregator finalizing after quorum distinct
// collectors agree on an interval.
func NewAggregator(quorum int, ldgr *ledger.Ledger, notifier *rewards.Notifier, pub *events.Publisher) *Aggregator {
	if quorum < 1 {
		quorum = 1
	}
	return &Aggregator{
		quorum:    quorum,
		ledger:    ldgr,
		notifier:  notifier,
		pub:       pub,
		pending:   make(map[uint64][]pendingEntry),
		finalized: make(map[uint64]uint64),
	}
}

// Submit records one collector's interval result. Reaching quorum finalizes
// the interval synchronously within this call. Each collector may submit at
// most one result per interval; a submission for an already finalized
// interval returns the existing block reference instead of opening a second
// finalization round.
func (a *Aggregator) Submit(intervalID uint64, result validator.IntervalResult, collectorID string) (Outcome, error) {
	if !result.Valid {
		metrics.ConsensusSubmissions.WithLabelValues("invalid").Inc()
		return Outcome{}, fmt.Errorf("%w: interval %d from collector %s", ErrInvalidResult, intervalID, collectorID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if blockIndex, done := a.finalized[intervalID]; done {
		metrics.ConsensusSubmissions.WithLabelValues("already_finalized").Inc()
		log.Debugf("Interval %d already finalized as block %d; ignoring submission from %s",
			intervalID, blockIndex, collectorID)
		block, _ := a.ledger.Get(blockIndex)
		return Outcome{
			Status:     StatusFinalized,
			BlockIndex: blockIndex,
			BlockHash:  block.Hash,
			Message:    fmt.Sprintf("Block %d already created", blockIndex),
		}, nil
	}

	entries := a.pending[intervalID]
	for _, entry := range entries {
		if entry.collectorID == collectorID {
			metrics.ConsensusSubmissions.WithLabelValues("duplicate").Inc()
			return Outcome{}, fmt.Errorf("%w: interval %d, collector %s", ErrDuplicateCollector, intervalID, collectorID)
		}
	}

	a.pending[intervalID] = append(entries, pendingEntry{collectorID: collectorID, result: result})
	metrics.PendingIntervals.Set(float64(len(a.pending)))

	if len(a.pending[intervalID]) < a.quorum {
		metrics.ConsensusSubmissions.WithLabelValues("pending").Inc()
		log.Debugf("Interval %d: %d/%d collectors reported", intervalID, len(a.pending[intervalID]), a.quorum)
		return Outcome{Status: StatusPending}, nil
	}

	outcome, err := a.finalizeLocked(intervalID)
	if err != nil {
		metrics.ConsensusSubmissions.WithLabelValues("error").Inc()
		return Outcome{}, err
	}

	metrics.ConsensusSubmissions.WithLabelValues("finalized").Inc()
	return outcome, nil
}

// finalizeLocked runs the majority vote and appends the canonical block.
// Caller holds the lock. The pending entry is removed exactly once, on
// success; the owed-reward record is written before the lock is released so
// finalization and reward accounting cannot diverge.
func (a *Aggregator) finalizeLocked(intervalID uint64) (Outcome, error) {
	entries := a.pending[intervalID]
	if len(entries) == 0 {
		return Outcome{}, fmt.Errorf("%w: interval %d", ErrNoConsensusData, intervalID)
	}

	winningRoot := tallyVotes(entries)

	// Canonical result: first stored result carrying the winning root
	var canonical *validator.IntervalResult
	for i := range entries {
		if entries[i].result.MerkleRoot == winningRoot {
			canonical = &entries[i].result
			break
		}
	}
	if canonical == nil {
		// Unreachable by construction of tallyVotes; handled defensively
		return Outcome{}, fmt.Errorf("%w: interval %d, root %s", ErrNoWinningResult, intervalID, winningRoot)
	}

	block, err := a.ledger.Append(intervalID, winningRoot, uint32(len(canonical.Winners)))
	if err != nil {
		// Ledger append is all-or-nothing; keep pending state so a retry can
		// finalize once the fault clears
		return Outcome{}, fmt.Errorf("failed to append block for interval %d: %w", intervalID, err)
	}

	a.notifier.Record(intervalID, block.Index, canonical.Winners)

	delete(a.pending, intervalID)
	a.finalized[intervalID] = block.Index
	metrics.PendingIntervals.Set(float64(len(a.pending)))
	metrics.BlocksFinalized.Inc()

	// Event publishing is an outbound call but strictly fire-and-forget with
	// its own timeout; finalization does not depend on it
	if a.pub != nil {
		a.pub.PublishBlockFinalized(block)
	}

	log.Infof("Finalized interval %d as block %d: %d collectors voted, winning root %s",
		intervalID, block.Index, len(entries), block.MerkleRoot)

	return Outcome{
		Status:     StatusFinalized,
		BlockIndex: block.Index,
		BlockHash:  block.Hash,
		Message:    fmt.Sprintf("Block %d created", block.Index),
	}, nil
}

// tallyVotes counts votes per merkle root in submission order and returns the
// root with the most votes. Ties resolve toward the root seen first.
func tallyVotes(entries []pendingEntry) string {
	votes := make(map[string]int)
	order := make([]string, 0, len(entries))

	for _, entry := range entries {
		root := entry.result.MerkleRoot
		if _, seen := votes[root]; !seen {
			order = append(order, root)
		}
		votes[root]++
	}

	winning := order[0]
	for _, root := range order[1:] {
		if votes[root] > votes[winning] {
			winning = root
		}
	}
	return winning
}

// PendingCount returns the number of results accumulated for an interval
func (a *Aggregator) PendingCount(intervalID uint64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending[intervalID])
}

// FinalizedBlock returns the block index an interval was finalized into
func (a *Aggregator) FinalizedBlock(intervalID uint64) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.finalized[intervalID]
	return idx, ok
}

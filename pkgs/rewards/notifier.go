package rewards

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/bikera/location-consensus-validator/pkgs/clustering"
	"github.com/bikera/location-consensus-validator/pkgs/events"
	"github.com/bikera/location-consensus-validator/pkgs/metrics"
	redislib "github.com/bikera/location-consensus-validator/pkgs/redis"
)

// Reward tiers by cluster size: denser clusters earn more (network effect)
const (
	TierSmall  uint64 = 100  // 2-5 participants
	TierMedium uint64 = 200  // 6-10 participants
	TierLarge  uint64 = 500  // 11-20 participants
	TierMax    uint64 = 1000 // 21+ participants
)

// CalculateReward returns the reward units owed to a cluster winner
func CalculateReward(participants uint32) uint64 {
	switch {
	case participants <= 5:
		return TierSmall
	case participants <= 10:
		return TierMedium
	case participants <= 20:
		return TierLarge
	default:
		return TierMax
	}
}

// OwedReward is one outbox record: rewards earned by an interval's winners
// that have not yet been delivered to the distributor.
type OwedReward struct {
	IntervalID  uint64                     `json:"interval_id"`
	BlockIndex  uint64                     `json:"block_index"`
	Winners     []clustering.ClusterWinner `json:"winners"`
	TotalAmount uint64                     `json:"total_amount"`
	RecordedAt  time.Time                  `json:"recorded_at"`
	Attempts    int                        `json:"attempts"`
}

// distributionRequest is the payload sent to the external reward distributor
type distributionRequest struct {
	IntervalID uint64                     `json:"interval_id"`
	BlockIndex uint64                     `json:"block_index"`
	Winners    []clustering.ClusterWinner `json:"winners"`
}

// Notifier decouples reward delivery from ledger finalization through an
// outbox. Finalization records what is owed; a dispatcher loop delivers it to
// the external distributor with retries. A delivery failure leaves the record
// in the outbox - it never unwinds a finalized block.
type Notifier struct {
	distributorURL string
	httpClient     *http.Client
	maxElapsed     time.Duration

	mu     sync.Mutex
	outbox []OwedReward

	redisClient *redis.Client
	keyBuilder  *redislib.KeyBuilder
	publisher   *events.Publisher
}

// NewNotifier creates a reward notifier. An empty distributorURL leaves
// records accumulating in the outbox until one is configured.
func NewNotifier(distributorURL string, timeout, maxElapsed time.Duration, redisClient *redis.Client, keyBuilder *redislib.KeyBuilder, publisher *events.Publisher) *Notifier {
	return &Notifier{
		distributorURL: distributorURL,
		httpClient:     &http.Client{Timeout: timeout},
		maxElapsed:     maxElapsed,
		outbox:         make([]OwedReward, 0),
		redisClient:    redisClient,
		keyBuilder:     keyBuilder,
		publisher:      publisher,
	}
}

// Record appends an owed-reward entry to the outbox. Called synchronously by
// the consensus aggregator right after the block is appended, so an owed
// record exists for every finalized interval even if delivery lags.
func (n *Notifier) Record(intervalID, blockIndex uint64, winners []clustering.ClusterWinner) {
	var total uint64
	for _, w := range winners {
		total += CalculateReward(w.Participants)
	}

	owed := OwedReward{
		IntervalID:  intervalID,
		BlockIndex:  blockIndex,
		Winners:     winners,
		TotalAmount: total,
		RecordedAt:  time.Now(),
	}

	n.mu.Lock()
	n.outbox = append(n.outbox, owed)
	depth := len(n.outbox)
	n.mu.Unlock()

	metrics.RewardOutboxDepth.Set(float64(depth))
	n.persistOwed(owed)

	log.Infof("Recorded %d reward units owed for interval %d (%d winners)",
		total, intervalID, len(winners))
}

// persistOwed mirrors the outbox record to Redis so owed rewards survive a
// restart. Best effort.
func (n *Notifier) persistOwed(owed OwedReward) {
	if n.redisClient == nil {
		return
	}

	data, err := json.Marshal(owed)
	if err != nil {
		log.Errorf("Failed to marshal owed reward for interval %d: %v", owed.IntervalID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := n.redisClient.RPush(ctx, n.keyBuilder.RewardOutbox(), data).Err(); err != nil {
		log.Errorf("Failed to persist owed reward for interval %d: %v", owed.IntervalID, err)
	}
}

// Run drains the outbox on a fixed interval until the context is cancelled
func (n *Notifier) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.DispatchPending(ctx)
		}
	}
}

// DispatchPending attempts delivery for every outbox record. Delivered
// records are removed; failed ones stay for the next cycle.
func (n *Notifier) DispatchPending(ctx context.Context) {
	n.mu.Lock()
	pending := make([]OwedReward, len(n.outbox))
	copy(pending, n.outbox)
	n.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	if n.distributorURL == "" {
		log.Debugf("No distributor configured; %d owed rewards held in outbox", len(pending))
		return
	}

	for _, owed := range pending {
		if err := n.deliver(ctx, owed); err != nil {
			metrics.RewardDispatches.WithLabelValues("failure").Inc()
			log.Errorf("Reward delivery failed for interval %d (attempt %d): %v",
				owed.IntervalID, owed.Attempts+1, err)
			n.bumpAttempts(owed.IntervalID)
			continue
		}

		metrics.RewardDispatches.WithLabelValues("success").Inc()
		n.markDelivered(owed)
	}
}

// deliver posts one distribution request with exponential backoff
func (n *Notifier) deliver(ctx context.Context, owed OwedReward) error {
	payload, err := json.Marshal(distributionRequest{
		IntervalID: owed.IntervalID,
		BlockIndex: owed.BlockIndex,
		Winners:    owed.Winners,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal distribution request: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.distributorURL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("distributor returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("distributor rejected request: %d", resp.StatusCode))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = n.maxElapsed

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

// markDelivered removes the record from the outbox and publishes the event
func (n *Notifier) markDelivered(owed OwedReward) {
	n.mu.Lock()
	for i, rec := range n.outbox {
		if rec.IntervalID == owed.IntervalID && rec.BlockIndex == owed.BlockIndex {
			n.outbox = append(n.outbox[:i], n.outbox[i+1:]...)
			break
		}
	}
	depth := len(n.outbox)
	n.mu.Unlock()

	metrics.RewardOutboxDepth.Set(float64(depth))

	if n.redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		n.redisClient.Set(ctx, n.keyBuilder.RewardDelivered(owed.IntervalID), owed.TotalAmount, 0)
	}

	if n.publisher != nil {
		n.publisher.PublishRewardDispatched(owed.IntervalID, len(owed.Winners), owed.TotalAmount)
	}

	log.Infof("Delivered %d reward units for interval %d to distributor",
		owed.TotalAmount, owed.IntervalID)
}

// bumpAttempts increments the attempt counter on a failed record
func (n *Notifier) bumpAttempts(intervalID uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.outbox {
		if n.outbox[i].IntervalID == intervalID {
			n.outbox[i].Attempts++
			return
		}
	}
}

// OutboxDepth returns the number of undelivered reward records
func (n *Notifier) OutboxDepth() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.outbox)
}

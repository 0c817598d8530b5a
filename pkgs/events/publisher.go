package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/bikera/location-consensus-validator/pkgs/ledger"
	redislib "github.com/bikera/location-consensus-validator/pkgs/redis"
)

// EventType identifies the kind of pipeline event
type EventType string

const (
	EventBlockFinalized   EventType = "block_finalized"
	EventRewardDispatched EventType = "reward_dispatched"
)

// Event is the envelope published to Redis pub/sub so downstream components
// can observe finalization without polling the block endpoints.
type Event struct {
	Type        EventType   `json:"type"`
	ValidatorID string      `json:"validator_id"`
	Timestamp   time.Time   `json:"timestamp"`
	Payload     interface{} `json:"payload"`
}

// BlockFinalizedPayload carries the finalized block reference
type BlockFinalizedPayload struct {
	BlockIndex  uint64 `json:"block_index"`
	IntervalID  uint64 `json:"interval_id"`
	MerkleRoot  string `json:"merkle_root"`
	WinnerCount uint32 `json:"winner_count"`
	BlockHash   string `json:"block_hash"`
}

// RewardDispatchedPayload records a delivered reward notification
type RewardDispatchedPayload struct {
	IntervalID  uint64 `json:"interval_id"`
	WinnerCount int    `json:"winner_count"`
	TotalAmount uint64 `json:"total_amount"`
}

// Publisher emits pipeline events over Redis pub/sub. Publishing is best
// effort: failures are logged and dropped, never propagated into the
// finalization path.
type Publisher struct {
	redisClient *redis.Client
	keyBuilder  *redislib.KeyBuilder
	validatorID string
	enabled     bool
}

// NewPublisher creates an event publisher. A nil client disables publishing.
func NewPublisher(redisClient *redis.Client, keyBuilder *redislib.KeyBuilder, validatorID string, enabled bool) *Publisher {
	return &Publisher{
		redisClient: redisClient,
		keyBuilder:  keyBuilder,
		validatorID: validatorID,
		enabled:     enabled && redisClient != nil,
	}
}

// PublishBlockFinalized announces a newly appended block
func (p *Publisher) PublishBlockFinalized(block ledger.Block) {
	p.publish(p.keyBuilder.BlockFinalizedChannel(), Event{
		Type:        EventBlockFinalized,
		ValidatorID: p.validatorID,
		Timestamp:   time.Now(),
		Payload: BlockFinalizedPayload{
			BlockIndex:  block.Index,
			IntervalID:  block.IntervalID,
			MerkleRoot:  block.MerkleRoot,
			WinnerCount: block.WinnerCount,
			BlockHash:   block.Hash,
		},
	})
}

// PublishRewardDispatched announces a delivered reward notification
func (p *Publisher) PublishRewardDispatched(intervalID uint64, winnerCount int, totalAmount uint64) {
	p.publish(p.keyBuilder.RewardDispatchedChannel(), Event{
		Type:        EventRewardDispatched,
		ValidatorID: p.validatorID,
		Timestamp:   time.Now(),
		Payload: RewardDispatchedPayload{
			IntervalID:  intervalID,
			WinnerCount: winnerCount,
			TotalAmount: totalAmount,
		},
	})
}

func (p *Publisher) publish(channel string, event Event) {
	if !p.enabled {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal %s event: %v", event.Type, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		log.Debugf("Failed to publish %s event: %v", event.Type, err)
	}
}

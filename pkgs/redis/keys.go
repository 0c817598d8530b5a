package redis

import (
	"fmt"
)

// KeyBuilder provides methods to generate namespaced Redis keys. All keys are
// prefixed by the network namespace so several deployments can share one
// Redis instance.
type KeyBuilder struct {
	Network string
}

// NewKeyBuilder creates a new KeyBuilder instance
func NewKeyBuilder(network string) *KeyBuilder {
	return &KeyBuilder{Network: network}
}

// Ledger Keys

// LedgerBlocks returns the list key mirroring the append-only block sequence
func (kb *KeyBuilder) LedgerBlocks() string {
	return fmt.Sprintf("%s:ledger:blocks", kb.Network)
}

// LedgerHead returns the key holding the latest block hash
func (kb *KeyBuilder) LedgerHead() string {
	return fmt.Sprintf("%s:ledger:head", kb.Network)
}

// Reward Outbox Keys

// RewardOutbox returns the list key for owed reward records awaiting delivery
func (kb *KeyBuilder) RewardOutbox() string {
	return fmt.Sprintf("%s:rewards:outbox", kb.Network)
}

// RewardDelivered returns the key recording a delivered interval's rewards
func (kb *KeyBuilder) RewardDelivered(intervalID uint64) string {
	return fmt.Sprintf("%s:rewards:delivered:%d", kb.Network, intervalID)
}

// Consensus Keys

// FinalizedInterval returns the key mapping a finalized interval to its block index
func (kb *KeyBuilder) FinalizedInterval(intervalID uint64) string {
	return fmt.Sprintf("%s:consensus:finalized:%d", kb.Network, intervalID)
}

// Event Channels

// BlockFinalizedChannel returns the pub/sub channel for finalization events
func (kb *KeyBuilder) BlockFinalizedChannel() string {
	return fmt.Sprintf("%s:events:block:finalized", kb.Network)
}

// RewardDispatchedChannel returns the pub/sub channel for reward delivery events
func (kb *KeyBuilder) RewardDispatchedChannel() string {
	return fmt.Sprintf("%s:events:reward:dispatched", kb.Network)
}

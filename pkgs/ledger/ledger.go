package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/bikera/location-consensus-validator/pkgs/metrics"
	redislib "github.com/bikera/location-consensus-validator/pkgs/redis"
)

// GenesisPrevHash seeds the hash chain for block 0
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Block is one finalized, immutable ledger entry recording an interval's
// canonical winners. Hash chains PrevHash, making the sequence tamper-evident.
type Block struct {
	Index       uint64 `json:"index"`
	IntervalID  uint64 `json:"interval_id"`
	MerkleRoot  string `json:"merkle_root"`
	WinnerCount uint32 `json:"winner_count"`
	Timestamp   uint64 `json:"timestamp"`
	PrevHash    string `json:"prev_hash"`
	Hash        string `json:"hash"`
}

// ComputeHash derives the block hash from all other fields
func (b *Block) ComputeHash() string {
	hasher := sha256.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], b.Index)
	hasher.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], b.IntervalID)
	hasher.Write(buf[:])
	hasher.Write([]byte(b.MerkleRoot))
	binary.BigEndian.PutUint64(buf[:], b.Timestamp)
	hasher.Write(buf[:])
	hasher.Write([]byte(b.PrevHash))

	return hex.EncodeToString(hasher.Sum(nil))
}

// Ledger is the append-only block sequence. It is a single-writer structure:
// all mutation happens through Append under the internal lock, and blocks are
// never modified or removed once appended. The in-memory slice is
// authoritative; Redis holds a best-effort mirror for external readers.
type Ledger struct {
	mu     sync.RWMutex
	blocks []Block

	redisClient *redis.Client
	keyBuilder  *redislib.KeyBuilder
	mirror      bool
}

// New creates an empty ledger. A nil redisClient or mirror=false disables the
// Redis mirror.
func New(redisClient *redis.Client, keyBuilder *redislib.KeyBuilder, mirror bool) *Ledger {
	return &Ledger{
		blocks:      make([]Block, 0),
		redisClient: redisClient,
		keyBuilder:  keyBuilder,
		mirror:      mirror && redisClient != nil,
	}
}

// Append assigns the next index, chains the previous hash, computes the block
// hash and appends. The block is fully committed or not at all: serialization
// is checked before any mutation. Returns the assigned index.
func (l *Ledger) Append(intervalID uint64, merkleRoot string, winnerCount uint32) (Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	block := Block{
		Index:       uint64(len(l.blocks)),
		IntervalID:  intervalID,
		MerkleRoot:  merkleRoot,
		WinnerCount: winnerCount,
		Timestamp:   uint64(time.Now().UnixMilli()),
		PrevHash:    l.headHashLocked(),
	}
	block.Hash = block.ComputeHash()

	// Serialize before mutating so a marshal failure cannot half-commit
	data, err := json.Marshal(block)
	if err != nil {
		return Block{}, fmt.Errorf("failed to serialize block %d: %w", block.Index, err)
	}

	l.blocks = append(l.blocks, block)
	metrics.LedgerHeight.Set(float64(len(l.blocks)))

	if l.mirror {
		l.mirrorBlock(block, data)
	}

	log.Infof("Appended block %d for interval %d (root %s, %d winners)",
		block.Index, intervalID, shortRoot(merkleRoot), winnerCount)

	return block, nil
}

// mirrorBlock writes the block to the Redis mirror. Mirror failures are
// logged, never fatal: the in-memory sequence remains the system of record.
func (l *Ledger) mirrorBlock(block Block, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipe := l.redisClient.Pipeline()
	pipe.RPush(ctx, l.keyBuilder.LedgerBlocks(), data)
	pipe.Set(ctx, l.keyBuilder.LedgerHead(), block.Hash, 0)
	pipe.Set(ctx, l.keyBuilder.FinalizedInterval(block.IntervalID), block.Index, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("Failed to mirror block %d to Redis: %v", block.Index, err)
	}
}

// headHashLocked returns the hash of the last block, or the genesis seed.
// Caller must hold the lock.
func (l *Ledger) headHashLocked() string {
	if len(l.blocks) == 0 {
		return GenesisPrevHash
	}
	return l.blocks[len(l.blocks)-1].Hash
}

// Len returns the current number of blocks
func (l *Ledger) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.blocks))
}

// Get returns the block at index, if present
func (l *Ledger) Get(index uint64) (Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index >= uint64(len(l.blocks)) {
		return Block{}, false
	}
	return l.blocks[index], true
}

// GetRange returns blocks in [start, start+count), clamped to the ledger
// length. An out-of-range start yields an empty slice, never a panic.
func (l *Ledger) GetRange(start, count uint64) []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	length := uint64(len(l.blocks))
	if start >= length || count == 0 {
		return []Block{}
	}

	end := start + count
	if end > length {
		end = length
	}

	out := make([]Block, end-start)
	copy(out, l.blocks[start:end])
	return out
}

// Latest returns the last count blocks, oldest first
func (l *Ledger) Latest(count uint64) []Block {
	l.mu.RLock()
	length := uint64(len(l.blocks))
	l.mu.RUnlock()

	if count >= length {
		return l.GetRange(0, length)
	}
	return l.GetRange(length-count, count)
}

// VerifyChain walks the full sequence and checks index continuity and hash
// linkage. Returns the index of the first corrupt block, or -1 if intact.
func (l *Ledger) VerifyChain() (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prevHash := GenesisPrevHash
	for i, block := range l.blocks {
		if block.Index != uint64(i) {
			return int64(i), fmt.Errorf("block %d carries index %d", i, block.Index)
		}
		if block.PrevHash != prevHash {
			return int64(i), fmt.Errorf("block %d prev hash mismatch", i)
		}
		if block.ComputeHash() != block.Hash {
			return int64(i), fmt.Errorf("block %d hash mismatch", i)
		}
		prevHash = block.Hash
	}

	return -1, nil
}

func shortRoot(root string) string {
	if len(root) > 16 {
		return root[:16] + "..."
	}
	return root
}

package ledger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger() *Ledger {
	return New(nil, nil, false)
}

func TestAppendAssignsSequentialIndices(t *testing.T) {
	l := newTestLedger()

	for i := 0; i < 5; i++ {
		block, err := l.Append(uint64(100+i), fmt.Sprintf("root-%d", i), 3)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), block.Index)
	}

	assert.Equal(t, uint64(5), l.Len())

	// No gaps, no reordering
	for i := uint64(0); i < 5; i++ {
		block, ok := l.Get(i)
		require.True(t, ok)
		assert.Equal(t, i, block.Index)
		assert.Equal(t, 100+i, block.IntervalID)
	}
}

func TestAppendChainsHashes(t *testing.T) {
	l := newTestLedger()

	first, err := l.Append(1, "root-a", 2)
	require.NoError(t, err)
	assert.Equal(t, GenesisPrevHash, first.PrevHash)
	assert.Equal(t, first.ComputeHash(), first.Hash)

	second, err := l.Append(2, "root-b", 4)
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestGetOutOfRange(t *testing.T) {
	l := newTestLedger()

	_, ok := l.Get(0)
	assert.False(t, ok)

	l.Append(1, "root", 1)
	_, ok = l.Get(1)
	assert.False(t, ok)
}

func TestGetRangeClamping(t *testing.T) {
	l := newTestLedger()
	for i := 0; i < 10; i++ {
		l.Append(uint64(i), fmt.Sprintf("root-%d", i), 1)
	}

	assert.Len(t, l.GetRange(0, 10), 10)
	assert.Len(t, l.GetRange(5, 100), 5)
	assert.Empty(t, l.GetRange(10, 5))
	assert.Empty(t, l.GetRange(500, 5))
	assert.Empty(t, l.GetRange(0, 0))

	mid := l.GetRange(3, 4)
	require.Len(t, mid, 4)
	assert.Equal(t, uint64(3), mid[0].Index)
	assert.Equal(t, uint64(6), mid[3].Index)
}

func TestLatestOldestFirst(t *testing.T) {
	l := newTestLedger()
	for i := 0; i < 7; i++ {
		l.Append(uint64(i), fmt.Sprintf("root-%d", i), 1)
	}

	latest := l.Latest(3)
	require.Len(t, latest, 3)
	assert.Equal(t, uint64(4), latest[0].Index)
	assert.Equal(t, uint64(6), latest[2].Index)

	// Asking for more than exists returns everything
	all := l.Latest(100)
	assert.Len(t, all, 7)
	assert.Equal(t, uint64(0), all[0].Index)
}

func TestVerifyChainIntact(t *testing.T) {
	l := newTestLedger()
	for i := 0; i < 20; i++ {
		l.Append(uint64(i), fmt.Sprintf("root-%d", i), 2)
	}

	corrupt, err := l.VerifyChain()
	assert.NoError(t, err)
	assert.Equal(t, int64(-1), corrupt)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	l := newTestLedger()
	for i := 0; i < 5; i++ {
		l.Append(uint64(i), fmt.Sprintf("root-%d", i), 2)
	}

	// Reach in and rewrite a finalized root
	l.mu.Lock()
	l.blocks[2].MerkleRoot = "forged"
	l.mu.Unlock()

	corrupt, err := l.VerifyChain()
	assert.Error(t, err)
	assert.Equal(t, int64(2), corrupt)
}

func TestComputeHashSensitivity(t *testing.T) {
	base := Block{Index: 1, IntervalID: 7, MerkleRoot: "root", Timestamp: 1000, PrevHash: GenesisPrevHash}

	altered := base
	altered.MerkleRoot = "other"
	assert.NotEqual(t, base.ComputeHash(), altered.ComputeHash())

	altered = base
	altered.Index = 2
	assert.NotEqual(t, base.ComputeHash(), altered.ComputeHash())

	altered = base
	altered.PrevHash = "ff"
	assert.NotEqual(t, base.ComputeHash(), altered.ComputeHash())
}

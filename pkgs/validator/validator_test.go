package validator

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikera/location-consensus-validator/pkgs/clustering"
	"github.com/bikera/location-consensus-validator/pkgs/crypto"
)

const testInterval = 10 * time.Minute

// newSignedValidator returns a validator trusting a freshly generated
// collector key, plus a signer for batch payloads.
func newSignedValidator(t *testing.T) (*IntervalValidator, func(digest []byte) string) {
	t.Helper()

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)

	verifier := crypto.NewBatchVerifier([]common.Address{addr}, false)
	clusterer := clustering.NewClusterer(clustering.DefaultGridCellSize, clustering.DefaultMaxWinners)
	v := NewIntervalValidator(clusterer, verifier, testInterval)

	sign := func(digest []byte) string {
		sig, err := ethcrypto.Sign(digest, key)
		require.NoError(t, err)
		return hex.EncodeToString(sig)
	}

	return v, sign
}

func newOpenValidator() *IntervalValidator {
	verifier := crypto.NewBatchVerifier(nil, true)
	clusterer := clustering.NewClusterer(clustering.DefaultGridCellSize, clustering.DefaultMaxWinners)
	return NewIntervalValidator(clusterer, verifier, testInterval)
}

func TestValidateSignedBatch(t *testing.T) {
	v, sign := newSignedValidator(t)

	subs := []clustering.Submission{
		{UID: 1, Lat: 10_000_000, Lon: 10_000_000, Timestamp: 0},
		{UID: 2, Lat: 10_000_100, Lon: 10_000_050, Timestamp: 0},
	}

	result := v.Validate(0, subs, sign(crypto.HashBatch(0, subs)))

	assert.True(t, result.Valid)
	assert.Equal(t, uint32(2), result.ValidSubmissions)
	require.Len(t, result.Winners, 1)
	assert.Equal(t, uint32(2), result.Winners[0].Participants)
}

func TestValidateBadSignatureDegrades(t *testing.T) {
	v, _ := newSignedValidator(t)

	subs := []clustering.Submission{
		{UID: 1, Lat: 10_000_000, Lon: 10_000_000, Timestamp: 0},
		{UID: 2, Lat: 10_000_100, Lon: 10_000_050, Timestamp: 0},
	}

	for _, sig := range []string{"", "deadbeef", "zz-not-hex"} {
		result := v.Validate(0, subs, sig)
		assert.False(t, result.Valid)
		assert.Equal(t, clustering.EmptyMerkleRoot, result.MerkleRoot)
		assert.Zero(t, result.ValidSubmissions)
		assert.Empty(t, result.Winners)
	}
}

func TestValidateUnregisteredSignerRejected(t *testing.T) {
	v, _ := newSignedValidator(t)

	// Sign with a key that is not in the registered set
	rogueKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	subs := []clustering.Submission{
		{UID: 1, Lat: 10_000_000, Lon: 10_000_000, Timestamp: 0},
		{UID: 2, Lat: 10_000_100, Lon: 10_000_050, Timestamp: 0},
	}

	sig, err := ethcrypto.Sign(crypto.HashBatch(0, subs), rogueKey)
	require.NoError(t, err)

	result := v.Validate(0, subs, hex.EncodeToString(sig))
	assert.False(t, result.Valid)
}

func TestValidateTimeWindowFiltering(t *testing.T) {
	v := newOpenValidator()

	duration := uint64(testInterval.Milliseconds())

	// Interval 3 covers [3*duration, 4*duration)
	subs := []clustering.Submission{
		{UID: 1, Lat: 10_000_000, Lon: 10_000_000, Timestamp: 3 * duration},        // in window
		{UID: 2, Lat: 10_000_100, Lon: 10_000_050, Timestamp: 4*duration - 1},      // last ms in window
		{UID: 3, Lat: 10_000_200, Lon: 10_000_060, Timestamp: 3*duration - 1},      // too early
		{UID: 4, Lat: 10_000_300, Lon: 10_000_070, Timestamp: 4 * duration},        // too late
		{UID: 5, Lat: 10_000_400, Lon: 10_000_080, Timestamp: 10 * duration},       // far future
	}

	result := v.Validate(3, subs, "")
	assert.True(t, result.Valid)
	assert.Equal(t, uint32(2), result.ValidSubmissions)
	require.Len(t, result.Winners, 1)
	assert.Equal(t, uint32(2), result.Winners[0].Participants)
}

func TestValidateDeduplicatesUIDs(t *testing.T) {
	v := newOpenValidator()

	subs := []clustering.Submission{
		{UID: 1, Lat: 10_000_000, Lon: 10_000_000, Timestamp: 0},
		{UID: 1, Lat: 10_000_000, Lon: 10_000_000, Timestamp: 0}, // repeat
		{UID: 1, Lat: 10_000_010, Lon: 10_000_010, Timestamp: 0}, // same rider, moved
		{UID: 2, Lat: 10_000_100, Lon: 10_000_050, Timestamp: 0},
	}

	result := v.Validate(0, subs, "")
	assert.Equal(t, uint32(2), result.ValidSubmissions)
	require.Len(t, result.Winners, 1)
	assert.Equal(t, uint32(2), result.Winners[0].Participants)
}

func TestValidateBatchMultipleIntervals(t *testing.T) {
	v, sign := newSignedValidator(t)

	duration := uint64(testInterval.Milliseconds())
	batches := [][]clustering.Submission{
		{
			{UID: 1, Lat: 10_000_000, Lon: 10_000_000, Timestamp: 0},
			{UID: 2, Lat: 10_000_100, Lon: 10_000_050, Timestamp: 0},
		},
		{
			{UID: 3, Lat: 20_000_000, Lon: 20_000_000, Timestamp: duration},
			{UID: 4, Lat: 20_000_100, Lon: 20_000_050, Timestamp: duration},
		},
	}
	intervalIDs := []uint64{0, 1}

	req := &BatchValidationRequest{
		IntervalIDs:      intervalIDs,
		SubmissionsBatch: batches,
		Signature:        sign(crypto.HashMultiBatch(intervalIDs, batches)),
	}

	result := v.ValidateBatch(req)
	require.Len(t, result.Results, 2)

	for i, res := range result.Results {
		assert.True(t, res.Valid, "interval %d", i)
		require.Len(t, res.Winners, 1)
	}

	// Batch root digests winners across both intervals, so it differs from both
	assert.NotEqual(t, result.Results[0].MerkleRoot, result.BatchMerkleRoot)
	assert.NotEqual(t, result.Results[1].MerkleRoot, result.BatchMerkleRoot)
	assert.NotEqual(t, clustering.EmptyMerkleRoot, result.BatchMerkleRoot)
}

func TestValidateBatchBadSignatureAllInvalid(t *testing.T) {
	v, _ := newSignedValidator(t)

	req := &BatchValidationRequest{
		IntervalIDs: []uint64{0, 1, 2},
		SubmissionsBatch: [][]clustering.Submission{
			{{UID: 1, Lat: 1, Lon: 1, Timestamp: 0}},
		},
		Signature: "deadbeef",
	}

	result := v.ValidateBatch(req)
	require.Len(t, result.Results, 3)
	for _, res := range result.Results {
		assert.False(t, res.Valid)
	}
	assert.Equal(t, clustering.EmptyMerkleRoot, result.BatchMerkleRoot)
}

func TestIntervalWindowDerivation(t *testing.T) {
	v := newOpenValidator()

	start, end := v.IntervalWindow(7)
	duration := uint64(testInterval.Milliseconds())
	assert.Equal(t, 7*duration, start)
	assert.Equal(t, 8*duration, end)
}

package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikera/location-consensus-validator/pkgs/clustering"
)

func testKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return key, ethcrypto.PubkeyToAddress(key.PublicKey)
}

func signHex(t *testing.T, digest []byte, key *ecdsa.PrivateKey) string {
	t.Helper()
	sig, err := ethcrypto.Sign(digest, key)
	require.NoError(t, err)
	return hex.EncodeToString(sig)
}

var testSubs = []clustering.Submission{
	{UID: 1, Lat: 10_000_000, Lon: 10_000_000, Timestamp: 1700000000000},
	{UID: 2, Lat: -45_000, Lon: 35_000, Timestamp: 1700000001000},
}

func TestVerifyBatchRoundTrip(t *testing.T) {
	key, addr := testKey(t)
	v := NewBatchVerifier([]common.Address{addr}, false)

	sig := signHex(t, HashBatch(42, testSubs), key)

	signer, err := v.VerifyBatch(42, testSubs, sig)
	require.NoError(t, err)
	assert.Equal(t, addr, signer)

	// Same signature with 0x prefix and with V in 27/28 form
	signer, err = v.VerifyBatch(42, testSubs, "0x"+sig)
	require.NoError(t, err)
	assert.Equal(t, addr, signer)

	raw, _ := hex.DecodeString(sig)
	raw[64] += 27
	signer, err = v.VerifyBatch(42, testSubs, hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, addr, signer)
}

func TestVerifyBatchRejectsUnregisteredSigner(t *testing.T) {
	key, _ := testKey(t)
	_, registered := testKey(t)
	v := NewBatchVerifier([]common.Address{registered}, false)

	sig := signHex(t, HashBatch(42, testSubs), key)

	_, err := v.VerifyBatch(42, testSubs, sig)
	assert.ErrorContains(t, err, "not a registered collector")
}

func TestVerifyBatchRejectsTamperedPayload(t *testing.T) {
	key, addr := testKey(t)
	v := NewBatchVerifier([]common.Address{addr}, false)

	sig := signHex(t, HashBatch(42, testSubs), key)

	// Signature was made over interval 42; recovery over a different digest
	// yields a different address which is not registered
	_, err := v.VerifyBatch(43, testSubs, sig)
	assert.Error(t, err)

	tampered := make([]clustering.Submission, len(testSubs))
	copy(tampered, testSubs)
	tampered[0].Lat++
	_, err = v.VerifyBatch(42, tampered, sig)
	assert.Error(t, err)
}

func TestVerifyBatchMalformedSignatures(t *testing.T) {
	_, addr := testKey(t)
	v := NewBatchVerifier([]common.Address{addr}, false)

	for _, sig := range []string{"", "zz", "deadbeef"} {
		_, err := v.VerifyBatch(42, testSubs, sig)
		assert.Error(t, err, "signature %q", sig)
	}
}

func TestVerifyBatchSkipMode(t *testing.T) {
	v := NewBatchVerifier(nil, true)

	_, err := v.VerifyBatch(42, testSubs, "not-even-hex")
	assert.NoError(t, err)
}

func TestHashBatchDeterministic(t *testing.T) {
	a := HashBatch(1, testSubs)
	b := HashBatch(1, testSubs)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	assert.NotEqual(t, a, HashBatch(2, testSubs))
}

func TestHashMultiBatchCoversAllSections(t *testing.T) {
	batches := [][]clustering.Submission{testSubs, {testSubs[0]}}

	base := HashMultiBatch([]uint64{1, 2}, batches)
	assert.Len(t, base, 32)

	// Reordering intervals or altering any section changes the digest
	assert.NotEqual(t, base, HashMultiBatch([]uint64{2, 1}, batches))
	assert.NotEqual(t, base, HashMultiBatch([]uint64{1, 2}, [][]clustering.Submission{testSubs, {testSubs[1]}}))
}

func TestVerifyMultiBatchRoundTrip(t *testing.T) {
	key, addr := testKey(t)
	v := NewBatchVerifier([]common.Address{addr}, false)

	intervalIDs := []uint64{1, 2}
	batches := [][]clustering.Submission{testSubs, {testSubs[0]}}

	sig := signHex(t, HashMultiBatch(intervalIDs, batches), key)

	signer, err := v.VerifyMultiBatch(intervalIDs, batches, sig)
	require.NoError(t, err)
	assert.Equal(t, addr, signer)
}

package federation

import (
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/auctionapi/parsing"
	"github.com/cloudx-io/dutchauction/core"
)

var localWin = core.Success("auction-Mona Lisa", "Mona Lisa", "curator-1", 900, 2)

func TestKeyManager_PublicKeyPEM(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)

	pemKey, err := km.PublicKeyPEM()
	assert.NoError(t, err)
	check.True(t, strings.HasPrefix(pemKey, "-----BEGIN PUBLIC KEY-----"))

	parsed, err := ParsePublicKeyPEM(pemKey)
	assert.NoError(t, err)
	check.True(t, parsed.Equal(km.PublicKey))

	_, err = ParsePublicKeyPEM("not a key")
	check.Error(t, err)
}

func TestSignReport_Verify(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)

	signed, err := SignReport(km, "zone-a", "federation-1", localWin)
	assert.NoError(t, err)

	so, err := VerifyReport(signed, km.PublicKey)
	assert.NoError(t, err)
	check.Equal(t, "zone-a", so.Delegate)
	check.Equal(t, "federation-1", so.Federation)
	check.Equal(t, localWin, so.Outcome)

	var peeked SignedOutcome
	assert.NoError(t, parsing.PeekOutcome(signed, &peeked))
	check.Equal(t, localWin, peeked.Outcome)
}

func TestVerifyReport_WrongKey(t *testing.T) {
	signer, err := NewKeyManager()
	assert.NoError(t, err)
	other, err := NewKeyManager()
	assert.NoError(t, err)

	signed, err := SignReport(signer, "zone-a", "federation-1", localWin)
	assert.NoError(t, err)

	_, err = VerifyReport(signed, other.PublicKey)
	check.True(t, errors.Is(err, ErrInvalidReport))
}

func TestVerifyReport_Tampered(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)
	signed, err := SignReport(km, "zone-a", "federation-1", localWin)
	assert.NoError(t, err)

	tampered := append([]byte(nil), signed...)
	tampered[len(tampered)-1] ^= 0xff

	_, err = VerifyReport(tampered, km.PublicKey)
	check.True(t, errors.Is(err, ErrInvalidReport))

	_, err = VerifyReport([]byte("garbage"), km.PublicKey)
	check.True(t, errors.Is(err, ErrInvalidReport))
}

func TestVerifyReport_HashMismatch(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)

	payload, err := auctionapi.Marshal(SignedOutcome{
		Delegate:   "zone-a",
		Federation: "federation-1",
		Outcome:    localWin,
		Hash:       core.ComputeOutcomeHash("another-federation", localWin),
	})
	assert.NoError(t, err)

	_, err = VerifyReport(signPayload(t, km, payload), km.PublicKey)
	check.True(t, errors.Is(err, ErrInvalidReport))
}

// signPayload signs arbitrary bytes the way SignReport signs an encoded outcome.
func signPayload(t *testing.T, km *KeyManager, payload []byte) []byte {
	t.Helper()
	signer, err := km.Signer()
	assert.NoError(t, err)
	signed, err := cose.Sign1(rand.Reader, signer, cose.Headers{
		Protected: cose.ProtectedHeader{cose.HeaderLabelAlgorithm: cose.AlgorithmES256},
	}, payload, nil)
	assert.NoError(t, err)
	return signed
}

func TestVerifyReport_AmbiguousEncoding(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)

	payload, err := auctionapi.Marshal(SignedOutcome{
		Delegate:   "zone-a",
		Federation: "federation-1",
		Outcome:    localWin,
		Hash:       core.ComputeOutcomeHash("federation-1", localWin),
	})
	assert.NoError(t, err)
	assert.Equal(t, byte(0xa4), payload[0])

	_, err = VerifyReport(signPayload(t, km, payload), km.PublicKey)
	assert.NoError(t, err)

	t.Run("duplicate key", func(t *testing.T) {
		key, err := auctionapi.Marshal("delegate")
		assert.NoError(t, err)
		value, err := auctionapi.Marshal("zone-b")
		assert.NoError(t, err)
		dup := append([]byte{0xa5}, payload[1:]...)
		dup = append(append(dup, key...), value...)

		_, err = VerifyReport(signPayload(t, km, dup), km.PublicKey)
		check.True(t, errors.Is(err, ErrInvalidReport))
		check.True(t, errors.Is(err, parsing.ErrMalformed))
	})

	t.Run("indefinite length", func(t *testing.T) {
		indef := append([]byte{0xbf}, payload[1:]...)
		indef = append(indef, 0xff)

		_, err := VerifyReport(signPayload(t, km, indef), km.PublicKey)
		check.True(t, errors.Is(err, ErrInvalidReport))
	})
}

package fair_test

import (
	"testing"

	"cardroll-backend/internal/fair"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRoundTrip(t *testing.T) {
	requester := common.HexToAddress("0x00000000000000000000000000000000deadbeef")

	c, err := fair.Generate("round-1", "ABC123", requester)
	require.NoError(t, err)

	assert.True(t, fair.Verify(c.Reveal, c.Commitment))

	// Recomputing from the secret must land on the same published pair.
	again := fair.FromSecret(c.Secret, "round-1", "ABC123", requester)
	assert.Equal(t, c.Reveal, again.Reveal)
	assert.Equal(t, c.Commitment, again.Commitment)
}

func TestBindingRejectsAlteredContext(t *testing.T) {
	requester := common.HexToAddress("0x00000000000000000000000000000000deadbeef")
	other := common.HexToAddress("0x00000000000000000000000000000000cafebabe")

	c, err := fair.Generate("round-1", "ABC123", requester)
	require.NoError(t, err)

	cases := map[string]common.Hash{
		"different round":     fair.DeriveReveal(c.Secret, "round-2", "ABC123", requester),
		"different session":   fair.DeriveReveal(c.Secret, "round-1", "XYZ789", requester),
		"different requester": fair.DeriveReveal(c.Secret, "round-1", "ABC123", other),
	}

	for name, reveal := range cases {
		assert.NotEqual(t, c.Reveal, reveal, name)
		assert.False(t, fair.Verify(reveal, c.Commitment), name)
	}

	var tampered [fair.SecretSize]byte
	copy(tampered[:], c.Secret[:])
	tampered[0] ^= 0xff
	assert.False(t, fair.Verify(fair.DeriveReveal(tampered, "round-1", "ABC123", requester), c.Commitment))
}

func TestSecretsAreUnique(t *testing.T) {
	requester := common.Address{}

	a, err := fair.Generate("r", "s", requester)
	require.NoError(t, err)
	b, err := fair.Generate("r", "s", requester)
	require.NoError(t, err)

	assert.NotEqual(t, a.Secret, b.Secret)
	assert.NotEqual(t, a.Commitment, b.Commitment)
}

func TestOutcomeRange(t *testing.T) {
	for i := byte(0); i < 64; i++ {
		var h common.Hash
		h[31] = i
		outcome := fair.Outcome(h, 6)
		assert.GreaterOrEqual(t, outcome, 1)
		assert.LessOrEqual(t, outcome, 6)
	}
}

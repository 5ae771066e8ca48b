package chain_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"cardroll-backend/internal/chain"
	"cardroll-backend/internal/fair"
	"cardroll-backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSecrets struct {
	mu      sync.Mutex
	secrets map[string]string
}

func newMemSecrets() *memSecrets {
	return &memSecrets{secrets: make(map[string]string)}
}

func (m *memSecrets) SetSecret(roundID, reveal string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[roundID] = reveal
	return nil
}

func (m *memSecrets) GetSecret(roundID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reveal, ok := m.secrets[roundID]
	if !ok {
		return "", errors.New("not found")
	}
	return reveal, nil
}

// flakyOracle fails request submission a configurable number of times.
type flakyOracle struct {
	*chain.DevOracle
	failures int
}

func (f *flakyOracle) RequestRandom(ctx context.Context, roundID, sessionCode string, commitment common.Hash, fee *big.Int) (string, error) {
	if f.failures > 0 {
		f.failures--
		return "", errors.New("rpc error: transaction reverted")
	}
	return f.DevOracle.RequestRandom(ctx, roundID, sessionCode, commitment, fee)
}

func TestBridgeSubmitAndFulfill(t *testing.T) {
	oracle := chain.NewDevOracle(10 * time.Millisecond)
	secrets := newMemSecrets()
	bridge := chain.NewBridge(oracle, secrets, common.Address{}, time.Hour)

	txRef, err := bridge.SubmitRequest(context.Background(), "ABC123", "round-1")
	require.NoError(t, err)
	assert.NotEmpty(t, txRef)

	// The reveal secret reached the side channel before the request.
	stored, err := secrets.GetSecret("round-1")
	require.NoError(t, err)
	assert.NotEmpty(t, stored)

	select {
	case ev := <-bridge.Rolled():
		assert.Equal(t, "round-1", ev.RoundID)
		assert.GreaterOrEqual(t, ev.Outcome, 1)
		assert.LessOrEqual(t, ev.Outcome, models.DieSides)
		assert.NotEmpty(t, ev.ProofRef)
	case <-time.After(2 * time.Second):
		t.Fatal("no fulfillment event")
	}

	fulfilled, outcome, _, err := bridge.Poll(context.Background(), "round-1")
	require.NoError(t, err)
	assert.True(t, fulfilled)
	assert.GreaterOrEqual(t, outcome, 1)
	assert.LessOrEqual(t, outcome, models.DieSides)
}

func TestBridgeSubmitFailureIsTyped(t *testing.T) {
	oracle := &flakyOracle{DevOracle: chain.NewDevOracle(time.Millisecond), failures: 1}
	bridge := chain.NewBridge(oracle, newMemSecrets(), common.Address{}, time.Hour)

	_, err := bridge.SubmitRequest(context.Background(), "ABC123", "round-1")
	assert.ErrorIs(t, err, models.ErrCommitmentSubmissionFailed)
}

func TestBridgeDuplicateRequestRejected(t *testing.T) {
	oracle := chain.NewDevOracle(time.Hour) // never fulfills during the test
	bridge := chain.NewBridge(oracle, newMemSecrets(), common.Address{}, time.Hour)

	_, err := bridge.SubmitRequest(context.Background(), "ABC123", "round-1")
	require.NoError(t, err)

	_, err = bridge.SubmitRequest(context.Background(), "ABC123", "round-1")
	assert.ErrorIs(t, err, models.ErrCommitmentSubmissionFailed)
}

func TestDevOracleRejectsBadReveal(t *testing.T) {
	oracle := chain.NewDevOracle(time.Millisecond)

	c, err := fair.Generate("round-1", "ABC123", common.Address{})
	require.NoError(t, err)

	_, err = oracle.RequestRandom(context.Background(), "round-1", "ABC123", c.Commitment, big.NewInt(0))
	require.NoError(t, err)

	err = oracle.Reveal(context.Background(), "round-1", common.HexToHash("0xbad"))
	assert.Error(t, err)

	require.NoError(t, oracle.Reveal(context.Background(), "round-1", c.Reveal))
}

func TestDevOracleUnknownRound(t *testing.T) {
	oracle := chain.NewDevOracle(time.Millisecond)

	err := oracle.Reveal(context.Background(), "nope", common.Hash{})
	assert.Error(t, err)

	fulfilled, _, _, err := oracle.GetResult(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, fulfilled)
}

func TestFallbackRevealFromSidechannel(t *testing.T) {
	oracle := chain.NewDevOracle(10 * time.Millisecond)
	secrets := newMemSecrets()
	bridge := chain.NewBridge(oracle, secrets, common.Address{}, time.Hour)

	c, err := fair.Generate("round-9", "ABC123", common.Address{})
	require.NoError(t, err)

	// Simulate a vanished submitter: request on chain, reveal only in the
	// side channel.
	_, err = oracle.RequestRandom(context.Background(), "round-9", "ABC123", c.Commitment, big.NewInt(0))
	require.NoError(t, err)
	require.NoError(t, secrets.SetSecret("round-9", c.Reveal.Hex(), time.Hour))

	require.NoError(t, bridge.RevealFromSidechannel(context.Background(), "round-9"))

	select {
	case ev := <-bridge.Rolled():
		assert.Equal(t, "round-9", ev.RoundID)
	case <-time.After(2 * time.Second):
		t.Fatal("fallback reveal did not trigger fulfillment")
	}
}

// Package chain mediates between the game engine and the on-chain
// randomness oracle. The contract is treated as an opaque asynchronous
// request/response service: request a roll with a commitment, disclose the
// reveal, and wait for the DiceRolled fulfillment.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// RolledEvent is one fulfillment delivered on the oracle's event channel.
type RolledEvent struct {
	RoundID  string
	Outcome  int
	ProofRef string
}

// Oracle is the contract surface the bridge depends on. EthOracle talks to
// a real chain; DevOracle fulfills in-process for local development and
// tests.
type Oracle interface {
	// EstimateFee returns the payable fee for one randomness request.
	EstimateFee(ctx context.Context) (*big.Int, error)

	// RequestRandom submits the commitment for a round and returns the
	// transaction reference once the submission is included.
	RequestRandom(ctx context.Context, roundID, sessionCode string, commitment common.Hash, fee *big.Int) (string, error)

	// Reveal discloses the reveal preimage, letting the provider combine
	// it with its own secret and fulfill the round.
	Reveal(ctx context.Context, roundID string, reveal common.Hash) error

	// GetResult reads the fulfillment state directly; the safety net when
	// no event arrives.
	GetResult(ctx context.Context, roundID string) (fulfilled bool, outcome int, proofRef string, err error)

	// Rolled delivers fulfillment events.
	Rolled() <-chan RolledEvent
}

// roundKey maps the opaque round id onto the contract's bytes32 key space.
func roundKey(roundID string) common.Hash {
	return crypto.Keccak256Hash([]byte(roundID))
}

// Package fair implements the commit-reveal binding scheme used to keep the
// on-chain die roll unbiased: the requester publishes Hash(reveal) before the
// randomness provider's contribution is known, and the reveal itself binds
// the secret to one specific round, session and requester.
package fair

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const SecretSize = 32

// Commitment holds one round's secret material. Only the commitment hash
// leaves the process at request time; the reveal goes to the side-channel
// store so a fallback fulfiller can finish the round.
type Commitment struct {
	Secret     [SecretSize]byte
	Reveal     common.Hash
	Commitment common.Hash
}

// Generate draws a fresh secret and derives the reveal and commitment
// hashes for the given round context.
func Generate(roundID, sessionCode string, requester common.Address) (*Commitment, error) {
	var secret [SecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, fmt.Errorf("failed to generate secret: %v", err)
	}
	return FromSecret(secret, roundID, sessionCode, requester), nil
}

// FromSecret derives the reveal and commitment deterministically, so a
// published reveal can be re-checked against a published commitment.
func FromSecret(secret [SecretSize]byte, roundID, sessionCode string, requester common.Address) *Commitment {
	reveal := DeriveReveal(secret, roundID, sessionCode, requester)
	return &Commitment{
		Secret:     secret,
		Reveal:     reveal,
		Commitment: CommitmentOf(reveal),
	}
}

// DeriveReveal computes Keccak256(secret || roundId || sessionCode ||
// requester). Folding the round context into the hash prevents replaying a
// commitment in a different round or session.
func DeriveReveal(secret [SecretSize]byte, roundID, sessionCode string, requester common.Address) common.Hash {
	return crypto.Keccak256Hash(
		secret[:],
		[]byte(roundID),
		[]byte(sessionCode),
		requester.Bytes(),
	)
}

// CommitmentOf is the second hash in the scheme.
func CommitmentOf(reveal common.Hash) common.Hash {
	return crypto.Keccak256Hash(reveal.Bytes())
}

// Verify reports whether a published reveal matches a published commitment.
func Verify(reveal, commitment common.Hash) bool {
	return CommitmentOf(reveal) == commitment
}

// Outcome reduces the provider's combined randomness onto the die range
// 1..sides.
func Outcome(combined common.Hash, sides int) int {
	n := new(big.Int).SetBytes(combined.Bytes())
	return int(new(big.Int).Mod(n, big.NewInt(int64(sides))).Int64()) + 1
}

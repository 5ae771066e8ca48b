package chain

import (
	"context"
	"fmt"
	"log"
	"time"

	"cardroll-backend/internal/fair"
	"cardroll-backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// SecretStore is the durable side channel for reveal secrets, keyed by
// round id with a bounded expiry. It lets a fallback fulfiller finish a
// round when the original submitter is gone.
type SecretStore interface {
	SetSecret(roundID, reveal string, ttl time.Duration) error
	GetSecret(roundID string) (string, error)
}

// Bridge runs the commit-reveal protocol against the oracle for one round
// at a time. Submission is synchronous up to request inclusion only;
// fulfillment arrives later via Rolled or the GetResult safety net.
type Bridge struct {
	oracle    Oracle
	secrets   SecretStore
	requester common.Address
	secretTTL time.Duration
}

func NewBridge(oracle Oracle, secrets SecretStore, requester common.Address, secretTTL time.Duration) *Bridge {
	return &Bridge{
		oracle:    oracle,
		secrets:   secrets,
		requester: requester,
		secretTTL: secretTTL,
	}
}

// SubmitRequest generates the round's commitment, parks the reveal in the
// side channel, pays the fee and submits the request, then discloses the
// reveal. Any failure is wrapped as ErrCommitmentSubmissionFailed so the
// state machine can take its recovery edge.
func (b *Bridge) SubmitRequest(ctx context.Context, sessionCode, roundID string) (string, error) {
	c, err := fair.Generate(roundID, sessionCode, b.requester)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrCommitmentSubmissionFailed, err)
	}

	// Persisted before the on-chain request so the secret is never only
	// in this process's memory once money moves.
	if err := b.secrets.SetSecret(roundID, c.Reveal.Hex(), b.secretTTL); err != nil {
		return "", fmt.Errorf("%w: storing reveal: %v", models.ErrCommitmentSubmissionFailed, err)
	}

	fee, err := b.oracle.EstimateFee(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: fee estimate: %v", models.ErrCommitmentSubmissionFailed, err)
	}

	txRef, err := b.oracle.RequestRandom(ctx, roundID, sessionCode, c.Commitment, fee)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrCommitmentSubmissionFailed, err)
	}

	if err := b.oracle.Reveal(ctx, roundID, c.Reveal); err != nil {
		return "", fmt.Errorf("%w: reveal: %v", models.ErrCommitmentSubmissionFailed, err)
	}

	return txRef, nil
}

// RevealFromSidechannel replays a stored reveal, the fallback path when the
// original submitter vanished after the request was included.
func (b *Bridge) RevealFromSidechannel(ctx context.Context, roundID string) error {
	stored, err := b.secrets.GetSecret(roundID)
	if err != nil {
		return fmt.Errorf("no stored reveal for round %s: %v", roundID, err)
	}
	return b.oracle.Reveal(ctx, roundID, common.HexToHash(stored))
}

// Poll reads the contract-side result directly.
func (b *Bridge) Poll(ctx context.Context, roundID string) (bool, int, string, error) {
	return b.oracle.GetResult(ctx, roundID)
}

// Rolled exposes the oracle's fulfillment stream.
func (b *Bridge) Rolled() <-chan RolledEvent {
	return b.oracle.Rolled()
}

// LogFee is a startup helper so operators see what a roll currently costs.
func (b *Bridge) LogFee(ctx context.Context) {
	fee, err := b.oracle.EstimateFee(ctx)
	if err != nil {
		log.Printf("Could not estimate oracle fee: %v", err)
		return
	}
	log.Printf("Oracle roll fee: %s wei", fee.String())
}

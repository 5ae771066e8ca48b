package chain

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"cardroll-backend/internal/fair"
	"cardroll-backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// DevOracle fulfills rolls in-process so the whole game loop runs without a
// chain. The provider-side contribution is an HMAC over the round id keyed
// by a per-process secret seed, which keeps dev rolls deterministic and
// auditable per round.
type DevOracle struct {
	providerSeed []byte
	fulfillDelay time.Duration

	mu      sync.Mutex
	pending map[string]common.Hash // round id -> published commitment
	results map[string]RolledEvent

	rolled chan RolledEvent
}

func NewDevOracle(fulfillDelay time.Duration) *DevOracle {
	seed := make([]byte, 32)
	rand.Read(seed)

	return &DevOracle{
		providerSeed: seed,
		fulfillDelay: fulfillDelay,
		pending:      make(map[string]common.Hash),
		results:      make(map[string]RolledEvent),
		rolled:       make(chan RolledEvent, 16),
	}
}

func (o *DevOracle) EstimateFee(ctx context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (o *DevOracle) RequestRandom(ctx context.Context, roundID, sessionCode string, commitment common.Hash, fee *big.Int) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.pending[roundID]; ok {
		return "", fmt.Errorf("roll already requested for round %s", roundID)
	}
	o.pending[roundID] = commitment
	return "dev:req:" + roundID, nil
}

// Reveal checks the reveal against the published commitment, then combines
// it with the provider seed and fulfills after the configured delay.
func (o *DevOracle) Reveal(ctx context.Context, roundID string, reveal common.Hash) error {
	o.mu.Lock()
	commitment, ok := o.pending[roundID]
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending request for round %s", roundID)
	}
	if !fair.Verify(reveal, commitment) {
		return fmt.Errorf("reveal does not match commitment for round %s", roundID)
	}

	time.AfterFunc(o.fulfillDelay, func() {
		o.fulfill(roundID, reveal)
	})
	return nil
}

func (o *DevOracle) fulfill(roundID string, reveal common.Hash) {
	h := hmac.New(sha256.New, o.providerSeed)
	h.Write([]byte(roundID))
	h.Write(reveal.Bytes())
	digest := h.Sum(nil)

	n := new(big.Int).SetBytes(digest)
	outcome := int(new(big.Int).Mod(n, big.NewInt(models.DieSides)).Int64()) + 1

	ev := RolledEvent{
		RoundID:  roundID,
		Outcome:  outcome,
		ProofRef: "dev:" + hex.EncodeToString(digest[:8]),
	}

	o.mu.Lock()
	delete(o.pending, roundID)
	o.results[roundID] = ev
	o.mu.Unlock()

	o.rolled <- ev
}

func (o *DevOracle) GetResult(ctx context.Context, roundID string) (bool, int, string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ev, ok := o.results[roundID]; ok {
		return true, ev.Outcome, ev.ProofRef, nil
	}
	return false, 0, "", nil
}

func (o *DevOracle) Rolled() <-chan RolledEvent {
	return o.rolled
}

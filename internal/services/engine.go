package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"cardroll-backend/internal/chain"
	"cardroll-backend/internal/config"
	"cardroll-backend/internal/game"
	"cardroll-backend/internal/models"

	"github.com/google/uuid"
)

// SessionStore is the slice of RedisService the engine needs; tests swap in
// an in-memory implementation.
type SessionStore interface {
	GetSession(code string) (*models.Session, error)
	SaveSession(session *models.Session) error
	UpdateSession(session *models.Session) error
	ActiveSessions() ([]string, error)
	RetireSession(code string) error
	RecordPlayerStats(playerID, displayName string, credits int) error
}

type Broadcaster interface {
	BroadcastSession(code string)
}

const casRetries = 3

// Engine drives game sessions: it owns the read-modify-CAS-write cycle
// around the pure state machine and hands the rolling phase off to the
// randomness bridge. Multiple engine instances may tick the same session;
// the store's versioned write makes each transition strictly-once.
type Engine struct {
	store       SessionStore
	bridge      *chain.Bridge
	broadcaster Broadcaster
	timings     game.Timings
	startDelay  time.Duration

	// Rounds this process has already driven or mapped, so a local state
	// refresh never re-submits and fulfillments find their session.
	mu            sync.Mutex
	ledRounds     map[string]string // session code -> last round id led here
	pendingRounds map[string]string // round id -> session code
}

func NewEngine(store SessionStore, bridge *chain.Bridge, cfg *config.Config) *Engine {
	return &Engine{
		store:  store,
		bridge: bridge,
		timings: game.Timings{
			CommitWindow:    cfg.CommitWindow,
			ResolveWindow:   cfg.ResolveWindow,
			FulfillWait:     cfg.FulfillWait,
			LeaseGrace:      cfg.LeaseGrace,
			MaxRollAttempts: cfg.MaxRollAttempts,
		},
		startDelay:    cfg.StartDelay,
		ledRounds:     make(map[string]string),
		pendingRounds: make(map[string]string),
	}
}

func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.broadcaster = b
}

func (e *Engine) broadcast(code string) {
	if e.broadcaster != nil {
		e.broadcaster.BroadcastSession(code)
	}
}

func (e *Engine) CreateSession(startDelay time.Duration) (*models.Session, error) {
	if startDelay <= 0 {
		startDelay = e.startDelay
	}

	session := game.NewSession(newSessionCode(), startDelay, time.Now())
	if err := e.store.SaveSession(session); err != nil {
		return nil, err
	}
	return session, nil
}

// newSessionCode derives a short shareable code from uuid entropy.
func newSessionCode() string {
	const charset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

	id := uuid.New()
	var b strings.Builder
	for i := 0; i < 6; i++ {
		b.WriteByte(charset[int(id[i])%len(charset)])
	}
	return b.String()
}

func (e *Engine) JoinSession(code string, info game.PlayerInfo) (*models.Player, error) {
	var joined *models.Player
	err := e.withSession(code, func(s *models.Session) error {
		p, err := game.Join(s, info, time.Now())
		if err != nil {
			return err
		}
		joined = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.broadcast(code)
	return joined, nil
}

func (e *Engine) SubmitCommitment(code, playerID string, choice models.Commitment) error {
	err := e.withSession(code, func(s *models.Session) error {
		return game.SubmitCommitment(s, playerID, choice)
	})
	if err != nil {
		return err
	}

	e.broadcast(code)
	return nil
}

func (e *Engine) MarkConnected(code, playerID string, connected bool) error {
	err := e.withSession(code, func(s *models.Session) error {
		p := s.FindPlayer(playerID)
		if p == nil {
			return models.ErrPlayerNotFound
		}
		p.Connected = connected
		return nil
	})
	if err != nil {
		return err
	}

	e.broadcast(code)
	return nil
}

func (e *Engine) GetPublicView(code, viewerID string) (*game.PublicView, error) {
	session, err := e.store.GetSession(code)
	if err != nil {
		return nil, err
	}

	view := game.Project(session, viewerID)
	return &view, nil
}

// Tick advances one session. actorID is the ticking player, or "" for the
// backend crank, which may always lead; players only drive the roll once
// the leader schedule says it is their turn. A lost CAS race is not an
// error: someone else performed the transition.
func (e *Engine) Tick(code, actorID string) error {
	now := time.Now()

	session, err := e.store.GetSession(code)
	if err != nil {
		return err
	}

	canLead := actorID == "" || game.ShouldLead(session, actorID, now, e.timings.LeaseGrace)

	event := game.Tick(session, now, e.timings, canLead)
	if event == game.TickNone {
		return nil
	}

	if event == game.TickRollNeeded {
		// Record who drove the roll; "" for the crank. If the attempt
		// times out, the lease rotates the schedule past this driver.
		session.LeaderID = actorID
	}

	if err := e.store.UpdateSession(session); err != nil {
		if err == models.ErrVersionConflict {
			return nil
		}
		return err
	}

	e.afterTick(code, session, event)
	e.broadcast(code)
	return nil
}

func (e *Engine) afterTick(code string, session *models.Session, event game.TickEvent) {
	switch event {
	case game.TickRollNeeded:
		roundID := session.CurrentRoundID
		e.rememberRound(code, roundID)
		// The oracle round trip happens out of band; tick returns now.
		go e.submitRoll(code, roundID)

	case game.TickRollRetried:
		log.Printf("Session %s: no fulfillment for round, retrying (attempt %d/%d)",
			code, session.RollAttempts, e.timings.MaxRollAttempts)

	case game.TickRollFailed:
		log.Printf("Session %s: roll abandoned after %d attempts", code, session.RollAttempts)
		e.finishSession(code)

	case game.TickEnded:
		e.recordStats(code)
		e.finishSession(code)
	}
}

func (e *Engine) alreadyLed(code, roundID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledRounds[code] == roundID
}

func (e *Engine) rememberRound(code, roundID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledRounds[code] = roundID
	e.pendingRounds[roundID] = code
}

func (e *Engine) sessionForRound(roundID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	code, ok := e.pendingRounds[roundID]
	return code, ok
}

func (e *Engine) forgetRound(roundID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pendingRounds, roundID)
}

// submitRoll runs the commit-reveal submission for one round. On failure
// the session takes the rolling -> commit recovery edge so a later tick can
// retry.
func (e *Engine) submitRoll(code, roundID string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timings.FulfillWait)
	defer cancel()

	txRef, err := e.bridge.SubmitRequest(ctx, code, roundID)
	if err != nil {
		log.Printf("Session %s: oracle submission failed: %v", code, err)
		e.forgetRound(roundID)

		recoverErr := e.withSession(code, func(s *models.Session) error {
			if s.CurrentRoundID != roundID {
				return nil
			}
			game.RecoverRoll(s, time.Now())
			return nil
		})
		if recoverErr != nil {
			log.Printf("Session %s: recovery edge failed: %v", code, recoverErr)
		}
		e.broadcast(code)
		return
	}

	log.Printf("Session %s: roll requested, tx %s", code, txRef)
}

// Run consumes oracle fulfillments until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.bridge.Rolled():
			e.handleRolled(ev)
		}
	}
}

func (e *Engine) handleRolled(ev chain.RolledEvent) {
	code, ok := e.sessionForRound(ev.RoundID)
	if !ok {
		// Not a round this process drove; the fallback poller on the
		// crank covers rounds whose submitter vanished.
		return
	}

	if err := e.applyOutcome(code, ev.RoundID, ev.Outcome, ev.ProofRef); err != nil {
		log.Printf("Session %s: dropping fulfillment for round %s: %v", code, ev.RoundID, err)
	}
	e.forgetRound(ev.RoundID)
}

func (e *Engine) applyOutcome(code, roundID string, outcome int, proofRef string) error {
	err := e.withSession(code, func(s *models.Session) error {
		return game.ResolveRound(s, roundID, outcome, proofRef, time.Now(), e.timings)
	})
	if err != nil {
		return err
	}

	e.broadcast(code)
	return nil
}

// Crank ticks every active session on a fixed interval and runs the
// fulfillment safety net for rounds stuck in rolling.
func (e *Engine) Crank(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		codes, err := e.store.ActiveSessions()
		if err != nil {
			log.Printf("Crank: failed to list sessions: %v", err)
			continue
		}

		for _, code := range codes {
			if err := e.Tick(code, ""); err != nil && err != models.ErrSessionNotFound {
				log.Printf("Crank: tick %s failed: %v", code, err)
			}
			e.pollFulfillment(ctx, code)
		}
	}
}

// pollFulfillment reads contract state directly when a rolling session has
// waited half the fulfillment window without an event.
func (e *Engine) pollFulfillment(ctx context.Context, code string) {
	session, err := e.store.GetSession(code)
	if err != nil {
		return
	}
	if session.Phase != models.PhaseRolling || session.CurrentRoundID == "" {
		return
	}
	if time.Since(session.RollSubmitted) < e.timings.FulfillWait/2 {
		return
	}

	fulfilled, outcome, proofRef, err := e.bridge.Poll(ctx, session.CurrentRoundID)
	if err != nil {
		log.Printf("Session %s: fallback poll failed: %v", code, err)
		return
	}
	if !fulfilled {
		// The request may be on chain with its submitter gone. Replay
		// the reveal from the side channel, once per round.
		if !e.alreadyLed(code, session.CurrentRoundID) {
			e.rememberRound(code, session.CurrentRoundID)
			if err := e.bridge.RevealFromSidechannel(ctx, session.CurrentRoundID); err != nil {
				log.Printf("Session %s: fallback reveal failed: %v", code, err)
			}
		}
		return
	}

	if proofRef == "" {
		proofRef = "poll:" + session.CurrentRoundID
	}
	if err := e.applyOutcome(code, session.CurrentRoundID, outcome, proofRef); err != nil {
		log.Printf("Session %s: fallback resolve dropped: %v", code, err)
	}
}

var errStatsDone = errors.New("stats already recorded")

// recordStats claims the statsRecorded flag through the versioned write
// first, so even with several instances finishing the same session the
// leaderboard is written at most once.
func (e *Engine) recordStats(code string) {
	var players []*models.Player
	err := e.withSession(code, func(s *models.Session) error {
		if s.StatsRecorded {
			return errStatsDone
		}
		s.StatsRecorded = true
		players = s.Players
		return nil
	})
	if err == errStatsDone {
		return
	}
	if err != nil {
		log.Printf("Session %s: failed to claim stats flag: %v", code, err)
		return
	}

	for _, p := range players {
		if err := e.store.RecordPlayerStats(p.ID, p.DisplayName, p.Credits); err != nil {
			log.Printf("Session %s: stats write failed for %s: %v", code, p.ID, err)
		}
	}
}

func (e *Engine) finishSession(code string) {
	if err := e.store.RetireSession(code); err != nil {
		log.Printf("Session %s: failed to retire: %v", code, err)
	}
}

// withSession runs one read-modify-write cycle, retrying a bounded number
// of times when a concurrent writer wins the version race. The mutation
// only sees in-memory state; nothing is persisted if it errors.
func (e *Engine) withSession(code string, mutate func(*models.Session) error) error {
	var lastErr error
	for i := 0; i < casRetries; i++ {
		session, err := e.store.GetSession(code)
		if err != nil {
			return err
		}

		if err := mutate(session); err != nil {
			return err
		}

		err = e.store.UpdateSession(session)
		if err == nil {
			return nil
		}
		if err != models.ErrVersionConflict {
			return err
		}
		lastErr = err
	}
	return lastErr
}

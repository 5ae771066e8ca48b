// Package game holds the session state machine. Every function here mutates
// a Session in memory only; persistence and the oracle handoff live in the
// services layer, so a failed validation never leaves a partial write.
package game

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"cardroll-backend/internal/models"

	"github.com/google/uuid"
)

// Timings carries the wall-clock knobs the machine transitions on.
type Timings struct {
	CommitWindow    time.Duration
	ResolveWindow   time.Duration
	FulfillWait     time.Duration
	LeaseGrace      time.Duration
	MaxRollAttempts int
}

// TickEvent tells the caller which transition fired, so it can run the
// matching side effect (oracle submission, broadcast, stats write) without
// the machine blocking on any of it.
type TickEvent string

const (
	TickNone        TickEvent = ""
	TickStarted     TickEvent = "started"
	TickRollNeeded  TickEvent = "roll_needed"
	TickRollRetried TickEvent = "roll_retried"
	TickRollFailed  TickEvent = "roll_failed"
	TickNextRound   TickEvent = "next_round"
	TickEnded       TickEvent = "ended"
)

type PlayerInfo struct {
	ID          string
	DisplayName string
	AvatarRef   string
}

func NewSession(code string, startDelay time.Duration, now time.Time) *models.Session {
	return &models.Session{
		Code:          code,
		Phase:         models.PhaseWaiting,
		Players:       []*models.Player{},
		Commitments:   map[string]models.Commitment{},
		StartDeadline: now.Add(startDelay),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Join adds a player during the waiting phase. Re-joining with a known id is
// idempotent: profile and liveness are refreshed, the hand stays as dealt.
func Join(s *models.Session, info PlayerInfo, now time.Time) (*models.Player, error) {
	if existing := s.FindPlayer(info.ID); existing != nil {
		existing.DisplayName = info.DisplayName
		if info.AvatarRef != "" {
			existing.AvatarRef = info.AvatarRef
		}
		existing.Connected = true
		return existing, nil
	}

	if s.Phase != models.PhaseWaiting {
		return nil, fmt.Errorf("%w: cannot join during %s", models.ErrInvalidPhase, s.Phase)
	}

	p := &models.Player{
		ID:          info.ID,
		DisplayName: info.DisplayName,
		AvatarRef:   info.AvatarRef,
		JoinOrder:   len(s.Players),
		Hand:        dealHand(),
		Connected:   true,
	}
	s.Players = append(s.Players, p)
	return p, nil
}

// dealHand draws HandSize distinct die values.
func dealHand() []models.Card {
	values := rand.Perm(models.DieSides)[:models.HandSize]
	sort.Ints(values)

	hand := make([]models.Card, 0, models.HandSize)
	for _, v := range values {
		hand = append(hand, models.Card{Value: v + 1})
	}
	return hand
}

// SubmitCommitment records a player's pick for the current round. All
// validation happens before any field is touched.
func SubmitCommitment(s *models.Session, playerID string, choice models.Commitment) error {
	if s.Phase == models.PhaseFailed {
		return fmt.Errorf("%w: no fulfillment after %d roll attempts", models.ErrFulfillmentTimeout, s.RollAttempts)
	}
	if s.Phase != models.PhaseCommit {
		return fmt.Errorf("%w: commitments only accepted during commit, not %s", models.ErrInvalidPhase, s.Phase)
	}

	player := s.FindPlayer(playerID)
	if player == nil {
		return models.ErrPlayerNotFound
	}

	if _, done := s.Commitments[playerID]; done {
		return models.ErrAlreadyCommitted
	}

	if !choice.Skip && !player.HasUnburned(choice.SelectedValue) {
		return fmt.Errorf("%w: value %d", models.ErrCardUnavailable, choice.SelectedValue)
	}

	s.Commitments[playerID] = choice
	return nil
}

// Tick is the idempotent deadline-driven advancer. It performs at most one
// transition per call; invoking it again with the same clock is a no-op.
// canLead gates the commit -> rolling edge so only the elected leader (or a
// fallback whose turn has come, see leader.go) starts a roll.
func Tick(s *models.Session, now time.Time, t Timings, canLead bool) TickEvent {
	switch s.Phase {
	case models.PhaseWaiting:
		// Join-gated: an empty session never auto-starts.
		if len(s.Players) == 0 || now.Before(s.StartDeadline) {
			return TickNone
		}
		enterCommit(s, now, t)
		return TickStarted

	case models.PhaseCommit:
		if now.Before(s.CommitDeadline) || !canLead {
			return TickNone
		}
		// Absent players sit the round out.
		for _, p := range s.Players {
			if _, ok := s.Commitments[p.ID]; !ok {
				s.Commitments[p.ID] = models.Commitment{Skip: true}
			}
		}
		s.Phase = models.PhaseRolling
		s.CurrentRoundID = uuid.New().String()
		s.RollRequested = true
		s.RollSubmitted = now
		s.RollAttempts++
		s.LeaseExpiry = now.Add(t.FulfillWait)
		return TickRollNeeded

	case models.PhaseRolling:
		if now.Before(s.RollSubmitted.Add(t.FulfillWait)) {
			return TickNone
		}
		if s.RollAttempts >= t.MaxRollAttempts {
			s.Phase = models.PhaseFailed
			s.RollRequested = false
			s.CurrentRoundID = ""
			return TickRollFailed
		}
		RecoverRoll(s, now)
		return TickRollRetried

	case models.PhaseResolve:
		if now.Before(s.ResolveDeadline) {
			return TickNone
		}
		s.Round++
		if CheckGameEnd(s) {
			s.Phase = models.PhaseEnded
			return TickEnded
		}
		enterCommit(s, now, t)
		return TickNextRound
	}

	return TickNone
}

func enterCommit(s *models.Session, now time.Time, t Timings) {
	s.Phase = models.PhaseCommit
	s.Commitments = map[string]models.Commitment{}
	s.CommitDeadline = now.Add(t.CommitWindow)
	s.RollAttempts = 0
	s.RollRetries = 0
	s.LeaderID = ""
	s.LeaseExpiry = time.Time{}
}

// RecoverRoll is the explicit rolling -> commit recovery edge, taken when
// the oracle submission fails or no fulfillment arrives in time. The round's
// commitments survive; only the roll request is retried.
func RecoverRoll(s *models.Session, now time.Time) {
	if s.Phase != models.PhaseRolling {
		return
	}
	s.Phase = models.PhaseCommit
	s.RollRequested = false
	s.CurrentRoundID = ""
	s.RollRetries++
	// Deadline already in the past: the next tick re-attempts immediately.
	s.CommitDeadline = now
}

// ResolveRound applies a fulfilled die outcome. The roundID guard drops late
// or duplicate fulfillments for a stale round; the tick/event edge calling
// this owns the at-most-once guarantee.
func ResolveRound(s *models.Session, roundID string, outcome int, proofRef string, now time.Time, t Timings) error {
	if s.Phase != models.PhaseRolling || !s.RollRequested {
		return fmt.Errorf("%w: no roll outstanding", models.ErrDuplicateRequest)
	}
	if roundID != s.CurrentRoundID {
		return fmt.Errorf("%w: stale round %s", models.ErrDuplicateRequest, roundID)
	}
	if outcome < 1 || outcome > models.DieSides {
		return fmt.Errorf("outcome %d outside die range", outcome)
	}

	for _, p := range s.Players {
		c, ok := s.Commitments[p.ID]
		if !ok || c.Skip {
			continue
		}
		if c.SelectedValue == outcome {
			p.Credits++
			if p.FirstCorrectRound == 0 {
				p.FirstCorrectRound = s.Round + 1
			}
		} else {
			burnCard(p, c.SelectedValue)
		}
	}

	s.LastRoll = outcome
	s.LastRollProof = proofRef
	s.Phase = models.PhaseResolve
	s.ResolveDeadline = now.Add(t.ResolveWindow)
	s.RollRequested = false
	s.CurrentRoundID = ""
	return nil
}

func burnCard(p *models.Player, value int) {
	for i := range p.Hand {
		if p.Hand[i].Value == value && !p.Hand[i].Burned {
			p.Hand[i].Burned = true
			return
		}
	}
}

// CheckGameEnd is true once the round cap is reached or nobody holds an
// unburned card.
func CheckGameEnd(s *models.Session) bool {
	if s.Round >= models.MaxRounds {
		return true
	}
	if len(s.Players) == 0 {
		return false
	}
	for _, p := range s.Players {
		if p.UnburnedCount() > 0 {
			return false
		}
	}
	return true
}

// DetermineWinner orders players by credits, then remaining cards, then
// earliest first win (players who never won sort last), stable by join
// order. Returns nil for an empty session.
func DetermineWinner(s *models.Session) *models.Player {
	if len(s.Players) == 0 {
		return nil
	}

	ranked := make([]*models.Player, len(s.Players))
	copy(ranked, s.Players)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Credits != b.Credits {
			return a.Credits > b.Credits
		}
		if au, bu := a.UnburnedCount(), b.UnburnedCount(); au != bu {
			return au > bu
		}
		return firstCorrectRank(a) < firstCorrectRank(b)
	})

	return ranked[0]
}

func firstCorrectRank(p *models.Player) int {
	if p.FirstCorrectRound == 0 {
		return models.MaxRounds + 1
	}
	return p.FirstCorrectRound
}

package models

import "time"

type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhaseCommit  Phase = "commit"
	PhaseRolling Phase = "rolling"
	PhaseResolve Phase = "resolve"
	PhaseEnded   Phase = "ended"
	PhaseFailed  Phase = "failed"
)

const (
	MaxRounds = 5
	HandSize  = 3
	DieSides  = 6
)

type Card struct {
	Value  int  `json:"value"`
	Burned bool `json:"burned"`
}

// Commitment is a player's choice for one round. Skip means the player sat
// the round out; otherwise SelectedValue names one of their unburned cards.
type Commitment struct {
	Skip          bool `json:"skip"`
	SelectedValue int  `json:"selected_value,omitempty"`
}

type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	JoinOrder   int    `json:"join_order"`

	Hand    []Card `json:"hand"`
	Credits int    `json:"credits"`

	// FirstCorrectRound is the 1-based round of the player's first win,
	// 0 while they have none. Used as a winner tiebreak.
	FirstCorrectRound int `json:"first_correct_round,omitempty"`

	Connected bool `json:"connected"`
}

func (p *Player) UnburnedCount() int {
	n := 0
	for _, c := range p.Hand {
		if !c.Burned {
			n++
		}
	}
	return n
}

func (p *Player) HasUnburned(value int) bool {
	for _, c := range p.Hand {
		if c.Value == value && !c.Burned {
			return true
		}
	}
	return false
}

type Session struct {
	Code  string `json:"code"`
	Phase Phase  `json:"phase"`

	// Round counts resolved rounds: 0 before the first resolution, capped
	// at MaxRounds. It increments only on the resolve -> commit/ended edge.
	Round int `json:"round"`

	Players     []*Player             `json:"players"`
	Commitments map[string]Commitment `json:"commitments"`

	StartDeadline   time.Time `json:"start_deadline"`
	CommitDeadline  time.Time `json:"commit_deadline"`
	ResolveDeadline time.Time `json:"resolve_deadline"`

	CurrentRoundID string    `json:"current_round_id,omitempty"`
	RollRequested  bool      `json:"roll_requested"`
	RollSubmitted  time.Time `json:"roll_submitted,omitempty"`
	RollAttempts   int       `json:"roll_attempts"`
	RollRetries    int       `json:"roll_retries"`

	LeaderID    string    `json:"leader_id,omitempty"`
	LeaseExpiry time.Time `json:"lease_expiry,omitempty"`

	LastRoll      int    `json:"last_roll,omitempty"`
	LastRollProof string `json:"last_roll_proof,omitempty"`

	StatsRecorded bool `json:"stats_recorded"`

	// Version backs the store's compare-and-set write. Incremented on
	// every successful update.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Session) FindPlayer(id string) *Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ConnectedPlayers preserves join order.
func (s *Session) ConnectedPlayers() []*Player {
	var out []*Player
	for _, p := range s.Players {
		if p.Connected {
			out = append(out, p)
		}
	}
	return out
}

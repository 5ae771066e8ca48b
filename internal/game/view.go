package game

import (
	"time"

	"cardroll-backend/internal/models"
)

// PublicView is the player-facing projection of a session. Other players'
// commitment values stay hidden until the phase permits reveal.
type PublicView struct {
	Code  string       `json:"code"`
	Phase models.Phase `json:"phase"`
	Round int          `json:"round"`

	Players []PublicPlayer `json:"players"`

	StartDeadline   time.Time `json:"start_deadline"`
	CommitDeadline  time.Time `json:"commit_deadline,omitempty"`
	ResolveDeadline time.Time `json:"resolve_deadline,omitempty"`

	LastRoll      int    `json:"last_roll,omitempty"`
	LastRollProof string `json:"last_roll_proof,omitempty"`

	RollRequested   bool   `json:"roll_requested"`
	RetryInProgress bool   `json:"retry_in_progress"`
	ExpectedLeader  string `json:"expected_leader,omitempty"`

	Winner *PublicPlayer `json:"winner,omitempty"`
}

type PublicPlayer struct {
	ID          string             `json:"id"`
	DisplayName string             `json:"display_name"`
	AvatarRef   string             `json:"avatar_ref,omitempty"`
	Credits     int                `json:"credits"`
	CardsLeft   int                `json:"cards_left"`
	Connected   bool               `json:"connected"`
	Committed   bool               `json:"committed"`
	Commitment  *models.Commitment `json:"commitment,omitempty"`
	Hand        []models.Card      `json:"hand,omitempty"`
}

// Project builds the view for one viewer. The viewer always sees their own
// hand and commitment; everyone's commitments become visible once the phase
// reaches resolve.
func Project(s *models.Session, viewerID string) PublicView {
	revealAll := s.Phase == models.PhaseResolve || s.Phase == models.PhaseEnded || s.Phase == models.PhaseFailed

	view := PublicView{
		Code:            s.Code,
		Phase:           s.Phase,
		Round:           s.Round,
		StartDeadline:   s.StartDeadline,
		CommitDeadline:  s.CommitDeadline,
		ResolveDeadline: s.ResolveDeadline,
		LastRoll:        s.LastRoll,
		LastRollProof:   s.LastRollProof,
		RollRequested:   s.RollRequested,
		RetryInProgress: s.RollRetries > 0 && s.Phase != models.PhaseResolve && s.Phase != models.PhaseEnded,
	}
	if s.Phase == models.PhaseCommit {
		view.ExpectedLeader = Leader(s)
	}

	for _, p := range s.Players {
		pp := PublicPlayer{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			AvatarRef:   p.AvatarRef,
			Credits:     p.Credits,
			CardsLeft:   p.UnburnedCount(),
			Connected:   p.Connected,
		}

		if c, ok := s.Commitments[p.ID]; ok {
			pp.Committed = true
			if revealAll || p.ID == viewerID {
				commitment := c
				pp.Commitment = &commitment
			}
		}

		if p.ID == viewerID {
			pp.Hand = p.Hand
		}

		view.Players = append(view.Players, pp)
	}

	if s.Phase == models.PhaseEnded {
		if w := DetermineWinner(s); w != nil {
			view.Winner = &PublicPlayer{
				ID:          w.ID,
				DisplayName: w.DisplayName,
				AvatarRef:   w.AvatarRef,
				Credits:     w.Credits,
				CardsLeft:   w.UnburnedCount(),
				Connected:   w.Connected,
			}
		}
	}

	return view
}

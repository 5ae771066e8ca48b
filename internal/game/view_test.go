package game_test

import (
	"testing"

	"cardroll-backend/internal/game"
	"cardroll-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectHidesOthersCommitmentsDuringCommit(t *testing.T) {
	s, now := newTestSession(t, 2)
	now = advanceToCommit(t, s, now)
	setHand(s, "alice", 1, 2, 3)
	setHand(s, "bob", 4, 5, 6)

	require.NoError(t, game.SubmitCommitment(s, "alice", models.Commitment{SelectedValue: 2}))
	require.NoError(t, game.SubmitCommitment(s, "bob", models.Commitment{SelectedValue: 4}))

	view := game.Project(s, "alice")

	var alice, bob *game.PublicPlayer
	for i := range view.Players {
		switch view.Players[i].ID {
		case "alice":
			alice = &view.Players[i]
		case "bob":
			bob = &view.Players[i]
		}
	}

	require.NotNil(t, alice)
	require.NotNil(t, bob)

	// The viewer sees their own pick and hand.
	assert.True(t, alice.Committed)
	require.NotNil(t, alice.Commitment)
	assert.Equal(t, 2, alice.Commitment.SelectedValue)
	assert.Len(t, alice.Hand, 3)

	// Bob shows only a committed flag.
	assert.True(t, bob.Committed)
	assert.Nil(t, bob.Commitment)
	assert.Empty(t, bob.Hand)
}

func TestProjectRevealsCommitmentsAfterResolve(t *testing.T) {
	s, now := newTestSession(t, 2)
	now = advanceToCommit(t, s, now)
	setHand(s, "alice", 1, 2, 3)
	require.NoError(t, game.SubmitCommitment(s, "alice", models.Commitment{SelectedValue: 2}))

	now = advanceToRolling(t, s, now)
	require.NoError(t, game.ResolveRound(s, s.CurrentRoundID, 2, "0xproof", now, testTimings))

	view := game.Project(s, "bob")
	for _, p := range view.Players {
		if p.Committed {
			assert.NotNil(t, p.Commitment, "resolve phase reveals all commitments")
		}
	}
	assert.Equal(t, 2, view.LastRoll)
	assert.Equal(t, "0xproof", view.LastRollProof)
}

func TestProjectExposesRetryFlag(t *testing.T) {
	s, now := newTestSession(t, 1)
	now = advanceToCommit(t, s, now)
	now = advanceToRolling(t, s, now)

	assert.False(t, game.Project(s, "alice").RetryInProgress)

	game.RecoverRoll(s, now)
	assert.True(t, game.Project(s, "alice").RetryInProgress)
}

func TestProjectWinnerOnlyWhenEnded(t *testing.T) {
	s, _ := newTestSession(t, 2)
	s.FindPlayer("alice").Credits = 2

	assert.Nil(t, game.Project(s, "alice").Winner)

	s.Phase = models.PhaseEnded
	winner := game.Project(s, "alice").Winner
	require.NotNil(t, winner)
	assert.Equal(t, "alice", winner.ID)
}

func TestProjectNeverLeaksHands(t *testing.T) {
	s, _ := newTestSession(t, 2)
	s.Phase = models.PhaseEnded

	view := game.Project(s, "alice")
	for _, p := range view.Players {
		if p.ID != "alice" {
			assert.Empty(t, p.Hand)
		}
	}
}

package models_test

import (
	"cardroll-backend/internal/models"
	"testing"
)

func TestPlayerCardHelpers(t *testing.T) {
	player := &models.Player{
		ID:          "p1",
		DisplayName: "P1",
		Hand: []models.Card{
			{Value: 1},
			{Value: 3, Burned: true},
			{Value: 5},
		},
	}

	if player.UnburnedCount() != 2 {
		t.Errorf("Expected 2 unburned cards, got %d", player.UnburnedCount())
	}

	if !player.HasUnburned(5) {
		t.Error("Player should hold an unburned 5")
	}

	if player.HasUnburned(3) {
		t.Error("Burned card should not count as available")
	}

	if player.HasUnburned(2) {
		t.Error("Player never held a 2")
	}
}

func TestSessionLookupHelpers(t *testing.T) {
	session := &models.Session{
		Code:  "ABC123",
		Phase: models.PhaseWaiting,
		Players: []*models.Player{
			{ID: "p1", Connected: true},
			{ID: "p2", Connected: false},
			{ID: "p3", Connected: true},
		},
	}

	if session.FindPlayer("p2") == nil {
		t.Error("FindPlayer should locate p2")
	}
	if session.FindPlayer("ghost") != nil {
		t.Error("FindPlayer should return nil for unknown ids")
	}

	connected := session.ConnectedPlayers()
	if len(connected) != 2 {
		t.Fatalf("Expected 2 connected players, got %d", len(connected))
	}
	if connected[0].ID != "p1" || connected[1].ID != "p3" {
		t.Error("ConnectedPlayers should preserve join order")
	}
}

func TestCommitRequestValidate(t *testing.T) {
	valid := &models.CommitRequest{Value: 4}
	if err := valid.Validate(); err != nil {
		t.Errorf("Valid commit failed validation: %v", err)
	}

	skip := &models.CommitRequest{Skip: true}
	if err := skip.Validate(); err != nil {
		t.Errorf("Skip commit failed validation: %v", err)
	}

	outOfRange := &models.CommitRequest{Value: 9}
	if err := outOfRange.Validate(); err == nil {
		t.Error("Out-of-range value should fail validation")
	}

	zero := &models.CommitRequest{}
	if err := zero.Validate(); err == nil {
		t.Error("Zero value without skip should fail validation")
	}
}

package game

import (
	"time"

	"cardroll-backend/internal/models"
)

// Leader election is deterministic: every client computes it locally from
// the same session snapshot, so no coordination messages are needed. The
// lowest connected join ordinal leads; if the leader stalls, followers
// become eligible one by one on a staggered schedule, so at most one new
// driver wakes up per grace period.

// Candidates lists connected player ids in join order.
func Candidates(s *models.Session) []string {
	var ids []string
	for _, p := range s.ConnectedPlayers() {
		ids = append(ids, p.ID)
	}
	return ids
}

// Leader returns the elected driver for the current round, or "" when no
// player is connected.
func Leader(s *models.Session) string {
	c := Candidates(s)
	if len(c) == 0 {
		return ""
	}
	return c[0]
}

// ShouldLead reports whether playerID may drive the commit -> rolling edge
// at the given time. The elected leader may act as soon as the commit
// deadline passes; the follower at ordinal n takes over once the roll is
// still not requested n grace periods later. A recorded leader whose lease
// has lapsed forfeits its slot for the retry and rotates to the back of the
// schedule.
func ShouldLead(s *models.Session, playerID string, now time.Time, grace time.Duration) bool {
	if s.Phase != models.PhaseCommit || s.RollRequested {
		return false
	}

	pos := -1
	for i, id := range schedule(s, now) {
		if id == playerID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false
	}

	eligible := s.CommitDeadline.Add(time.Duration(pos) * grace)
	return !now.Before(eligible)
}

// schedule orders the candidates for the current attempt. While the recorded
// lease is still live (a submission failure bounced the session straight back
// to commit) the recorded leader keeps its ordinal and retries first; once
// the lease has lapsed the next ordinal steps up immediately.
func schedule(s *models.Session, now time.Time) []string {
	c := Candidates(s)
	if s.LeaderID == "" || s.LeaseExpiry.IsZero() || now.Before(s.LeaseExpiry) {
		return c
	}

	for i, id := range c {
		if id == s.LeaderID {
			rotated := make([]string, 0, len(c))
			rotated = append(rotated, c[:i]...)
			rotated = append(rotated, c[i+1:]...)
			return append(rotated, id)
		}
	}
	return c
}

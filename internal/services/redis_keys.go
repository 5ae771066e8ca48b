package services

import "time"

const (
	KeySession        = "session:%s"
	KeyActiveSessions = "sessions:active"
	KeyRoundSecret    = "round:%s:secret"
	KeyLeaderboard    = "leaderboard:credits"
	KeyRateLimit      = "ratelimit:%s:%s"

	TTLSession = 24 * time.Hour

	DefaultRateLimitCommit = 30 // max 30 commits per minute
	DefaultRateLimitTick   = 120
)

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cardroll-backend/internal/config"
	"cardroll-backend/internal/models"

	"github.com/redis/go-redis/v9"
)

type RedisService struct {
	client     *redis.Client
	ctx        context.Context
	sessionTTL time.Duration
}

func NewRedisService(cfg *config.Config) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	ctx := context.Background()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %v", err)
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = TTLSession
	}

	return &RedisService{
		client:     client,
		ctx:        ctx,
		sessionTTL: ttl,
	}, nil
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

func (s *RedisService) GetSession(code string) (*models.Session, error) {
	key := fmt.Sprintf(KeySession, code)

	data, err := s.client.Get(s.ctx, key).Result()
	if err == redis.Nil {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %v", err)
	}

	var session models.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %v", err)
	}

	return &session, nil
}

// SaveSession writes a brand-new session and registers it with the crank's
// active set. The whole session expires after the retention window.
func (s *RedisService) SaveSession(session *models.Session) error {
	key := fmt.Sprintf(KeySession, session.Code)

	session.Version = 1
	session.UpdatedAt = time.Now()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %v", err)
	}

	if err := s.client.Set(s.ctx, key, data, s.sessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to save session: %v", err)
	}

	if err := s.client.SAdd(s.ctx, KeyActiveSessions, session.Code).Err(); err != nil {
		return fmt.Errorf("failed to register active session: %v", err)
	}
	s.client.Expire(s.ctx, KeyActiveSessions, s.sessionTTL)

	return nil
}

// updateSessionScript writes the session only if the stored version still
// matches the one the caller read. At most one concurrent writer wins per
// transition; losers get a conflict and re-read.
var updateSessionScript = redis.NewScript(`
	local key = KEYS[1]
	local expected = tonumber(ARGV[1])
	local payload = ARGV[2]
	local ttl = tonumber(ARGV[3])

	local data = redis.call("GET", key)
	if not data then
		return redis.error_reply("session not found")
	end

	local current = cjson.decode(data)
	if current.version ~= expected then
		return 0
	end

	redis.call("SET", key, payload, "EX", ttl)
	return 1
`)

// UpdateSession performs the versioned write. The session must carry the
// version it was read at; on success the stored copy has version+1.
func (s *RedisService) UpdateSession(session *models.Session) error {
	key := fmt.Sprintf(KeySession, session.Code)

	readVersion := session.Version
	session.Version++
	session.UpdatedAt = time.Now()

	data, err := json.Marshal(session)
	if err != nil {
		session.Version = readVersion
		return fmt.Errorf("failed to marshal session: %v", err)
	}

	res, err := updateSessionScript.Run(s.ctx, s.client, []string{key},
		readVersion, string(data), int64(s.sessionTTL.Seconds())).Int()
	if err != nil {
		session.Version = readVersion
		if err.Error() == "session not found" {
			return models.ErrSessionNotFound
		}
		return fmt.Errorf("failed to update session: %v", err)
	}
	if res == 0 {
		session.Version = readVersion
		return models.ErrVersionConflict
	}

	return nil
}

func (s *RedisService) DeleteSession(code string) error {
	key := fmt.Sprintf(KeySession, code)
	s.client.SRem(s.ctx, KeyActiveSessions, code)
	return s.client.Del(s.ctx, key).Err()
}

// ActiveSessions lists codes the crank should tick. Codes whose session has
// already expired are pruned on the way out.
func (s *RedisService) ActiveSessions() ([]string, error) {
	codes, err := s.client.SMembers(s.ctx, KeyActiveSessions).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %v", err)
	}

	var alive []string
	for _, code := range codes {
		exists, err := s.client.Exists(s.ctx, fmt.Sprintf(KeySession, code)).Result()
		if err != nil {
			continue
		}
		if exists == 0 {
			s.client.SRem(s.ctx, KeyActiveSessions, code)
			continue
		}
		alive = append(alive, code)
	}
	return alive, nil
}

func (s *RedisService) RetireSession(code string) error {
	return s.client.SRem(s.ctx, KeyActiveSessions, code).Err()
}

// Side-channel reveal secrets, bounded expiry.

func (s *RedisService) SetSecret(roundID, reveal string, ttl time.Duration) error {
	key := fmt.Sprintf(KeyRoundSecret, roundID)
	return s.client.Set(s.ctx, key, reveal, ttl).Err()
}

func (s *RedisService) GetSecret(roundID string) (string, error) {
	key := fmt.Sprintf(KeyRoundSecret, roundID)

	reveal, err := s.client.Get(s.ctx, key).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("no secret stored for round %s", roundID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get secret: %v", err)
	}
	return reveal, nil
}

// Leaderboard.

func (s *RedisService) RecordPlayerStats(playerID, displayName string, credits int) error {
	member := fmt.Sprintf("%s:%s", playerID, displayName)
	return s.client.ZIncrBy(s.ctx, KeyLeaderboard, float64(credits), member).Err()
}

type LeaderboardEntry struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Credits     int    `json:"credits"`
}

func (s *RedisService) Leaderboard(limit int64) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.client.ZRevRangeWithScores(s.ctx, KeyLeaderboard, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %v", err)
	}

	entries := make([]LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		member, _ := row.Member.(string)
		id, name := splitMember(member)
		entries = append(entries, LeaderboardEntry{
			PlayerID:    id,
			DisplayName: name,
			Credits:     int(row.Score),
		})
	}
	return entries, nil
}

func splitMember(member string) (string, string) {
	for i := 0; i < len(member); i++ {
		if member[i] == ':' {
			return member[:i], member[i+1:]
		}
	}
	return member, ""
}

func (s *RedisService) CheckRateLimit(playerID, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf(KeyRateLimit, playerID, action)

	count, err := s.client.Incr(s.ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %v", err)
	}

	if count == 1 {
		s.client.Expire(s.ctx, key, window)
	}

	return count <= int64(limit), nil
}

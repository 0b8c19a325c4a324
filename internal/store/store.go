// Package store owns every Redis key the backend touches and wraps the
// atomic single-key operations that all cross-invocation coordination
// relies on: conditional create for the daily reservation, and
// removal-with-count from the pending index as the group claim.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"wordmint/internal/domain"
)

const (
	keyPending  = "notif:groups:pending"
	keyPayload  = "notif:groups:payload"
	keyProgress = "notif:groups:progress"
	keyCounter  = "challenge:counter"
	keyOptIn    = "notif:optin"
	keyAudit    = "audit:events"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	rdb *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return &Store{rdb: rdb}, nil
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Close() error { return s.rdb.Close() }

func markerKey(day string) string { return "dailyMarker:" + day }
func claimKey(day string) string  { return "dailyMarker:claim:" + day }
func challengeKey(n int64) string { return fmt.Sprintf("challenge:%d", n) }

// GetDailyMarker loads the marker for a UTC calendar day (YYYY-MM-DD).
func (s *Store) GetDailyMarker(ctx context.Context, day string) (domain.DailyMarker, error) {
	var m domain.DailyMarker
	raw, err := s.rdb.Get(ctx, markerKey(day)).Result()
	if err == redis.Nil {
		return m, ErrNotFound
	}
	if err != nil {
		return m, fmt.Errorf("get daily marker %s: %w", day, err)
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return m, fmt.Errorf("decode daily marker %s: %w", day, err)
	}
	return m, nil
}

// PutDailyMarker writes the marker unconditionally; an override creating a
// second challenge for the same day supersedes the previous marker.
func (s *Store) PutDailyMarker(ctx context.Context, day string, m domain.DailyMarker) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode daily marker: %w", err)
	}
	if err := s.rdb.Set(ctx, markerKey(day), raw, 0).Err(); err != nil {
		return fmt.Errorf("put daily marker %s: %w", day, err)
	}
	return nil
}

// ReserveDay atomically claims the right to create a day's challenge.
// Returns false when another caller already holds the reservation. The TTL
// bounds how long a crashed holder can block the day.
func (s *Store) ReserveDay(ctx context.Context, day string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, claimKey(day), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve day %s: %w", day, err)
	}
	return ok, nil
}

// ReleaseDay drops the reservation after a failed creation attempt.
func (s *Store) ReleaseDay(ctx context.Context, day string) error {
	if err := s.rdb.Del(ctx, claimKey(day)).Err(); err != nil {
		return fmt.Errorf("release day %s: %w", day, err)
	}
	return nil
}

// NextChallengeNumber reserves the next monotonically assigned number.
func (s *Store) NextChallengeNumber(ctx context.Context) (int64, error) {
	n, err := s.rdb.Incr(ctx, keyCounter).Result()
	if err != nil {
		return 0, fmt.Errorf("next challenge number: %w", err)
	}
	return n, nil
}

func (s *Store) PutChallenge(ctx context.Context, c domain.Challenge) error {
	fields := map[string]any{
		"number":         c.Number,
		"word":           c.Word,
		"post_reference": c.PostReference,
		"created_at":     c.CreatedAt,
		"created_by":     c.CreatedBy,
		"total_players":  c.TotalPlayers,
		"total_solves":   c.TotalSolves,
	}
	if err := s.rdb.HSet(ctx, challengeKey(c.Number), fields).Err(); err != nil {
		return fmt.Errorf("put challenge %d: %w", c.Number, err)
	}
	return nil
}

func (s *Store) GetChallenge(ctx context.Context, number int64) (domain.Challenge, error) {
	var c domain.Challenge
	fields, err := s.rdb.HGetAll(ctx, challengeKey(number)).Result()
	if err != nil {
		return c, fmt.Errorf("get challenge %d: %w", number, err)
	}
	if len(fields) == 0 {
		return c, ErrNotFound
	}
	c.Number = number
	c.Word = fields["word"]
	c.PostReference = fields["post_reference"]
	c.CreatedAt = fields["created_at"]
	c.CreatedBy = fields["created_by"]
	c.TotalPlayers, _ = strconv.ParseInt(fields["total_players"], 10, 64)
	c.TotalSolves, _ = strconv.ParseInt(fields["total_solves"], 10, 64)
	return c, nil
}

// PutGroup persists a group payload and indexes it as pending at its due
// instant. The two writes are independent per bucket; a failure here must
// not block other buckets, so no transaction spans them.
func (s *Store) PutGroup(ctx context.Context, g domain.NotificationGroup) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode group %s: %w", g.ID, err)
	}
	if err := s.rdb.HSet(ctx, keyPayload, g.ID, raw).Err(); err != nil {
		return fmt.Errorf("put group %s: %w", g.ID, err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (domain.NotificationGroup, error) {
	var g domain.NotificationGroup
	raw, err := s.rdb.HGet(ctx, keyPayload, id).Result()
	if err == redis.Nil {
		return g, ErrNotFound
	}
	if err != nil {
		return g, fmt.Errorf("get group %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return g, fmt.Errorf("decode group %s: %w", id, err)
	}
	return g, nil
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	if err := s.rdb.HDel(ctx, keyPayload, id).Err(); err != nil {
		return fmt.Errorf("delete group %s: %w", id, err)
	}
	return nil
}

// EnqueuePending inserts (or re-inserts, on retry) a group into the due
// index at the given due instant.
func (s *Store) EnqueuePending(ctx context.Context, id string, dueAtMs int64) error {
	err := s.rdb.ZAdd(ctx, keyPending, redis.Z{Score: float64(dueAtMs), Member: id}).Err()
	if err != nil {
		return fmt.Errorf("enqueue pending %s: %w", id, err)
	}
	return nil
}

// ClaimPending removes the group from the due index. The removal count is
// the entire concurrency-safety mechanism: exactly one concurrent caller
// observes true, and membership in the index always implies "not claimed".
func (s *Store) ClaimPending(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.ZRem(ctx, keyPending, id).Result()
	if err != nil {
		return false, fmt.Errorf("claim pending %s: %w", id, err)
	}
	return n == 1, nil
}

// DuePending lists up to limit group ids due at or before now, soonest first.
func (s *Store) DuePending(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, keyPending, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list due pending: %w", err)
	}
	return ids, nil
}

// GetProgress returns the next unsent recipient index for a group, 0 when
// no checkpoint exists.
func (s *Store) GetProgress(ctx context.Context, id string) (int, error) {
	raw, err := s.rdb.HGet(ctx, keyProgress, id).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get progress %s: %w", id, err)
	}
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("decode progress %s: %w", id, err)
	}
	return idx, nil
}

// SetProgress checkpoints the next unsent index. Written only after a batch
// is confirmed accepted, so the index is monotonic.
func (s *Store) SetProgress(ctx context.Context, id string, next int) error {
	if err := s.rdb.HSet(ctx, keyProgress, id, next).Err(); err != nil {
		return fmt.Errorf("set progress %s: %w", id, err)
	}
	return nil
}

func (s *Store) ClearProgress(ctx context.Context, id string) error {
	if err := s.rdb.HDel(ctx, keyProgress, id).Err(); err != nil {
		return fmt.Errorf("clear progress %s: %w", id, err)
	}
	return nil
}

// OptedIn lists every username opted in to reminder notifications, sorted
// for deterministic scheduling runs.
func (s *Store) OptedIn(ctx context.Context) ([]string, error) {
	usernames, err := s.rdb.SMembers(ctx, keyOptIn).Result()
	if err != nil {
		return nil, fmt.Errorf("list opted-in users: %w", err)
	}
	sort.Strings(usernames)
	return usernames, nil
}

// SetOptIn adds or removes a username from the reminder opt-in set.
func (s *Store) SetOptIn(ctx context.Context, username string, optedIn bool) error {
	var err error
	if optedIn {
		err = s.rdb.SAdd(ctx, keyOptIn, username).Err()
	} else {
		err = s.rdb.SRem(ctx, keyOptIn, username).Err()
	}
	if err != nil {
		return fmt.Errorf("set opt-in %s: %w", username, err)
	}
	return nil
}

// Audit appends an entry to the audit stream. Best effort at call sites;
// audit failures never fail the operation being audited.
func (s *Store) Audit(ctx context.Context, values map[string]any) error {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{Stream: keyAudit, Values: values}).Err()
}

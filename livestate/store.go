// Package livestate implements the Ephemeral Live-State Store (C3): the
// per-session mutable game state held only while a session is ACTIVE
// (spec.md §4.3). Backed by redis/go-redis/v9, the driver the pack's
// real-time quiz backends (gokatarajesh/quiz-platform,
// dinhkhaphancs/real-time-quiz-backend) use for transient session state.
package livestate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quizarena/engine/domain"
	"github.com/redis/go-redis/v9"
)

const (
	statePrefix    = "live:"
	fffTimerPrefix = "ff_timer_job:"

	// defaultTTL bounds how long an orphaned key survives if a session's
	// owning goroutine dies without cleaning up explicitly.
	defaultTTL = 6 * time.Hour

	globalLeaderboardKey  = "leaderboard:global"
	userLeaderboardPrefix = "leaderboard:user:"
)

// Store is the Redis-backed LiveState repository.
type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Get loads the LiveState for a session, or domain.ErrNotFound if the
// session has no live state (not active, or already ended).
func (s *Store) Get(ctx context.Context, sessionID string) (*domain.LiveState, error) {
	raw, err := s.rdb.Get(ctx, statePrefix+sessionID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("livestate: session %q: %w", sessionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("livestate: get: %w", err)
	}

	var state domain.LiveState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("livestate: decode: %w", err)
	}
	return &state, nil
}

// Set persists the LiveState and resets the key's TTL on every write to
// defaultTTL or, if longer, the time until EndTime plus 10 minutes, so a
// long-running game never silently expires mid-play.
func (s *Store) Set(ctx context.Context, state *domain.LiveState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("livestate: encode: %w", err)
	}
	ttl := defaultTTL
	if !state.EndTime.IsZero() {
		if remaining := time.Until(state.EndTime) + 10*time.Minute; remaining > ttl {
			ttl = remaining
		}
	}
	if err := s.rdb.Set(ctx, statePrefix+state.SessionID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("livestate: set: %w", err)
	}
	return nil
}

// Delete removes the LiveState for a session (end-of-game cleanup).
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, statePrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("livestate: delete: %w", err)
	}
	return nil
}

// ListActiveSessionIDs scans every live-state key and returns the
// session ids. The Game Engine's crash-recovery path lists ACTIVE
// sessions from the Session Store instead and does not call this.
func (s *Store) ListActiveSessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, statePrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(statePrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("livestate: scan: %w", err)
	}
	return ids, nil
}

// SetFFFTimerJobID records the currently outstanding per-question timer
// job for a Fastest Finger First session, so the first correct answer
// can cancel that timer before it fires.
func (s *Store) SetFFFTimerJobID(ctx context.Context, sessionID, jobID string) error {
	if err := s.rdb.Set(ctx, fffTimerPrefix+sessionID, jobID, defaultTTL).Err(); err != nil {
		return fmt.Errorf("livestate: set fff timer job: %w", err)
	}
	return nil
}

// FFFTimerJobID returns the currently outstanding timer job id for a
// session, or "" if none is set.
func (s *Store) FFFTimerJobID(ctx context.Context, sessionID string) (string, error) {
	val, err := s.rdb.Get(ctx, fffTimerPrefix+sessionID).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("livestate: get fff timer job: %w", err)
	}
	return val, nil
}

// ClearFFFTimerJobID removes the per-question timer slot (end of game,
// or question resolved before the timer fired).
func (s *Store) ClearFFFTimerJobID(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, fffTimerPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("livestate: clear fff timer job: %w", err)
	}
	return nil
}

// InvalidateLeaderboards drops the global cached leaderboard and the
// per-user cached leaderboard projection for each given user id (spec.md
// §4.9.6 step 3: a rating update invalidates "global and per-user cached
// leaderboard projections"). The core only invalidates these keys; it
// never computes or reads a leaderboard itself.
func (s *Store) InvalidateLeaderboards(ctx context.Context, userIDs []string) error {
	keys := make([]string, 0, len(userIDs)+1)
	keys = append(keys, globalLeaderboardKey)
	for _, id := range userIDs {
		keys = append(keys, userLeaderboardPrefix+id)
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("livestate: invalidate leaderboards: %w", err)
	}
	return nil
}

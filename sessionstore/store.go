// Package sessionstore implements the Session Store (C2): the durable
// source of truth for Session and Participant records (spec.md §4.2).
// Backed by jackc/pgx/v5, matching the pack's quiz backends.
package sessionstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizarena/engine/domain"
)

// Store is the durable Session/Participant repository.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateParams configures a new session at creation time.
type CreateParams struct {
	Mode        domain.Mode
	Difficulty  domain.Tier
	DurationMin int
	UserIDs     []string
	BotCount    int
	HostID      string // GROUP_PLAY only
	RoomCode    string // GROUP_PLAY only
	MinPlayers  int
	MaxPlayers  int
	Status      domain.Status
}

// BotDefaultRating is the default rating assigned to synthesized bot
// participants (spec.md §6).
const BotDefaultRating = 1200

// Create provisions a session and one Participant per user plus botCount
// synthesized bot participants, atomically. Missing users or duplicate
// participants (by user ref) are rejected.
func (s *Store) Create(ctx context.Context, p CreateParams) (*domain.Session, []domain.Participant, error) {
	if err := validateUserIDs(p.UserIDs); err != nil {
		return nil, nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("sessionstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	status := p.Status
	if status == "" {
		status = domain.StatusWaiting
	}
	session := &domain.Session{
		ID:          uuid.NewString(),
		Mode:        p.Mode,
		Status:      status,
		Difficulty:  p.Difficulty,
		DurationMin: p.DurationMin,
		RoomCode:    p.RoomCode,
		HostID:      p.HostID,
		MinPlayers:  p.MinPlayers,
		MaxPlayers:  p.MaxPlayers,
		CreatedAt:   now,
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO sessions (id, mode, status, difficulty, duration_min, room_code, host_id, min_players, max_players, created_at)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),$8,$9,$10)`,
		session.ID, session.Mode, session.Status, session.Difficulty, session.DurationMin,
		session.RoomCode, session.HostID, session.MinPlayers, session.MaxPlayers, session.CreatedAt,
	); err != nil {
		return nil, nil, fmt.Errorf("sessionstore: insert session: %w", err)
	}

	participants := make([]domain.Participant, 0, len(p.UserIDs)+p.BotCount)
	for _, userID := range p.UserIDs {
		participants = append(participants, domain.Participant{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			UserID:    userID,
			IsBot:     false,
		})
	}
	for i := 0; i < p.BotCount; i++ {
		participants = append(participants, domain.Participant{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			UserID:    "bot-" + uuid.NewString(),
			IsBot:     true,
			Rating:    BotDefaultRating,
		})
	}

	batch := &pgx.Batch{}
	for _, part := range participants {
		batch.Queue(`
			INSERT INTO participants (id, session_id, user_id, is_bot, rating)
			VALUES ($1,$2,$3,$4,$5)`,
			part.ID, part.SessionID, part.UserID, part.IsBot, part.Rating)
	}
	results := tx.SendBatch(ctx, batch)
	for range participants {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return nil, nil, fmt.Errorf("sessionstore: insert participant: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return nil, nil, fmt.Errorf("sessionstore: close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("sessionstore: commit: %w", err)
	}

	return session, participants, nil
}

// validateUserIDs rejects a user list containing the same participant
// twice, per spec.md §4.2's duplicate-participant constraint.
func validateUserIDs(userIDs []string) error {
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("sessionstore: duplicate user %q: %w", id, domain.ErrStateConflict)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Activate transitions a session to ACTIVE.
func (s *Store) Activate(ctx context.Context, sessionID string) error {
	return s.setStatus(ctx, sessionID, domain.StatusActive)
}

// Cancel transitions a session to CANCELLED (terminal).
func (s *Store) Cancel(ctx context.Context, sessionID string) error {
	return s.setStatus(ctx, sessionID, domain.StatusCancelled)
}

func (s *Store) setStatus(ctx context.Context, sessionID string, status domain.Status) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sessions SET status = $2 WHERE id = $1`, sessionID, status)
	if err != nil {
		return fmt.Errorf("sessionstore: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sessionstore: session %q: %w", sessionID, domain.ErrNotFound)
	}
	return nil
}

// End marks a session FINISHED and persists each participant's final
// score, atomically.
func (s *Store) End(ctx context.Context, sessionID string, finalScores map[string]int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sessionstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `UPDATE sessions SET status = $2, finished_at = $3 WHERE id = $1`,
		sessionID, domain.StatusFinished, now)
	if err != nil {
		return fmt.Errorf("sessionstore: finish session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sessionstore: session %q: %w", sessionID, domain.ErrNotFound)
	}

	for participantID, score := range finalScores {
		if _, err := tx.Exec(ctx, `UPDATE participants SET final_score = $2 WHERE id = $1`, participantID, score); err != nil {
			return fmt.Errorf("sessionstore: persist score for %q: %w", participantID, err)
		}
	}

	return tx.Commit(ctx)
}

// UpdateRatings persists a rating update for one or more participants,
// applied inside a single transaction so the Elo zero-sum invariant is
// never partially visible (spec.md §5).
func (s *Store) UpdateRatings(ctx context.Context, ratings map[string]int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sessionstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for participantID, newRating := range ratings {
		if _, err := tx.Exec(ctx, `UPDATE participants SET rating = $2 WHERE id = $1`, participantID, newRating); err != nil {
			return fmt.Errorf("sessionstore: update rating for %q: %w", participantID, err)
		}
	}
	return tx.Commit(ctx)
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, mode, status, difficulty, duration_min, COALESCE(room_code,''), COALESCE(host_id,''),
		       min_players, max_players, created_at, finished_at
		FROM sessions WHERE id = $1`, sessionID)

	var sess domain.Session
	var finishedAt *time.Time
	if err := row.Scan(&sess.ID, &sess.Mode, &sess.Status, &sess.Difficulty, &sess.DurationMin,
		&sess.RoomCode, &sess.HostID, &sess.MinPlayers, &sess.MaxPlayers, &sess.CreatedAt, &finishedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("sessionstore: session %q: %w", sessionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("sessionstore: get session: %w", err)
	}
	if finishedAt != nil {
		sess.FinishedAt = *finishedAt
	}
	return &sess, nil
}

// ListParticipants returns every participant of a session.
func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, user_id, is_bot, rating, final_score
		FROM participants WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list participants: %w", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.SessionID, &p.UserID, &p.IsBot, &p.Rating, &p.FinalScore); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListActiveSessionIDs returns every session currently ACTIVE, used by the
// crash-recovery rebuild path (spec.md §5).
func (s *Store) ListActiveSessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM sessions WHERE status = $1`, domain.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list active sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddParticipant inserts a single participant (used by Lobby join).
func (s *Store) AddParticipant(ctx context.Context, sessionID, userID string, isBot bool, rating int) (*domain.Participant, error) {
	p := &domain.Participant{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		IsBot:     isBot,
		Rating:    rating,
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO participants (id, session_id, user_id, is_bot, rating)
		VALUES ($1,$2,$3,$4,$5)`, p.ID, p.SessionID, p.UserID, p.IsBot, p.Rating); err != nil {
		return nil, fmt.Errorf("sessionstore: add participant: %w", err)
	}
	return p, nil
}

// RemoveParticipant deletes a single participant (used by Lobby leave).
func (s *Store) RemoveParticipant(ctx context.Context, participantID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM participants WHERE id = $1`, participantID); err != nil {
		return fmt.Errorf("sessionstore: remove participant: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its participants (used by lobby
// dissolution).
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sessionstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM participants WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("sessionstore: delete participants: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("sessionstore: delete session: %w", err)
	}
	return tx.Commit(ctx)
}

// SetRoomCode clears or sets the room code column (cleared on
// READY_COUNTDOWN -> ACTIVE per spec.md §4.8).
func (s *Store) SetRoomCode(ctx context.Context, sessionID, roomCode string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE sessions SET room_code = NULLIF($2,'') WHERE id = $1`, sessionID, roomCode); err != nil {
		return fmt.Errorf("sessionstore: set room code: %w", err)
	}
	return nil
}

// SetStatus is the general-purpose status transition used by the Lobby
// Controller (LOBBY <-> READY_COUNTDOWN).
func (s *Store) SetStatus(ctx context.Context, sessionID string, status domain.Status) error {
	return s.setStatus(ctx, sessionID, status)
}

// RoomCodeExists reports whether a room code is already in use by a
// non-terminal session, for the Lobby Controller's rejection-resampling.
func (s *Store) RoomCodeExists(ctx context.Context, roomCode string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM sessions WHERE room_code = $1 AND status IN ($2,$3))`,
		roomCode, domain.StatusLobby, domain.StatusReadyCountdown).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sessionstore: room code lookup: %w", err)
	}
	return exists, nil
}

// GetByRoomCode finds the LOBBY/READY_COUNTDOWN session for a room code.
func (s *Store) GetByRoomCode(ctx context.Context, roomCode string) (*domain.Session, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM sessions WHERE room_code = $1 AND status IN ($2,$3)`,
		roomCode, domain.StatusLobby, domain.StatusReadyCountdown).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("sessionstore: room %q: %w", roomCode, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("sessionstore: get by room code: %w", err)
	}
	return s.Get(ctx, id)
}

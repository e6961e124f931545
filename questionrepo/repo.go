// Package questionrepo implements the Question Repository (C1): fetching
// tier/category-filtered question batches from the durable relational
// store (spec.md §4.1). Storage is jackc/pgx/v5, the same driver used by
// the pack's quiz backends (gokatarajesh/quiz-platform,
// dinhkhaphancs/real-time-quiz-backend).
package questionrepo

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizarena/engine/domain"
)

// Source is the contract the Game Engine depends on;
// Repository and MemoryStore both implement it.
type Source interface {
	FetchBatch(ctx context.Context, tier domain.Tier, categoryTags []string, count int) ([]domain.Question, error)
}

// Repository fetches question batches filtered by tier and category.
type Repository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// New wraps an existing pgx pool.
func New(pool *pgxpool.Pool, log *slog.Logger) *Repository {
	return &Repository{pool: pool, log: log}
}

// FetchBatch returns an ordered, bounded slice of questions matching tier
// (and, if non-empty, intersecting categoryTags). When the filtered pool
// exceeds count, a uniformly random contiguous offset is chosen and count
// questions are taken from there; otherwise the whole filtered pool is
// returned. An empty result is a setup failure the caller must handle.
func (r *Repository) FetchBatch(ctx context.Context, tier domain.Tier, categoryTags []string, count int) ([]domain.Question, error) {
	ids, err := r.filteredIDsOrdered(ctx, tier, categoryTags)
	if err != nil {
		return nil, fmt.Errorf("questionrepo: filter questions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	selected := ids
	if count > 0 && len(ids) > count {
		offset := rand.IntN(len(ids) - count + 1)
		selected = ids[offset : offset+count]
	}

	return r.loadQuestions(ctx, selected)
}

// DifficultyFromRating maps a numeric rating to a Tier (spec.md §4.1).
func DifficultyFromRating(rating int) domain.Tier {
	return domain.DifficultyFromRating(rating)
}

func (r *Repository) filteredIDsOrdered(ctx context.Context, tier domain.Tier, categoryTags []string) ([]string, error) {
	var rows pgx.Rows
	var err error

	if len(categoryTags) == 0 {
		rows, err = r.pool.Query(ctx, `
			SELECT q.id
			FROM questions q
			WHERE q.difficulty = $1
			ORDER BY q.created_at, q.id`, string(tier))
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT q.id
			FROM questions q
			WHERE q.difficulty = $1
			  AND EXISTS (
			      SELECT 1
			      FROM question_categories qc
			      JOIN categories c ON c.id = qc.category_id
			      WHERE qc.question_id = q.id AND c.tag = ANY($2)
			  )
			ORDER BY q.created_at, q.id`, string(tier), categoryTags)
	}
	if err != nil {
		return nil, err
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

func (r *Repository) loadQuestions(ctx context.Context, ids []string) ([]domain.Question, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT q.id, q.prompt, q.correct_option_id, q.explanation, q.learning_tip, q.created_at
		FROM questions q
		WHERE q.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]*domain.Question, len(ids))
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.Prompt, &q.CorrectOptionID, &q.Explanation, &q.LearningTip, &q.CreatedAt); err != nil {
			return nil, err
		}
		byID[q.ID] = &q
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	optRows, err := r.pool.Query(ctx, `
		SELECT question_id, id, text
		FROM question_options
		WHERE question_id = ANY($1)
		ORDER BY question_id, ordinal`, ids)
	if err != nil {
		return nil, err
	}
	defer optRows.Close()
	for optRows.Next() {
		var questionID string
		var opt domain.Option
		if err := optRows.Scan(&questionID, &opt.ID, &opt.Text); err != nil {
			return nil, err
		}
		if q, ok := byID[questionID]; ok {
			q.Options = append(q.Options, opt)
		}
	}
	if err := optRows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			out = append(out, *q)
		}
	}
	return out, nil
}

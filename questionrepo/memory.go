package questionrepo

import (
	"context"
	"math/rand/v2"
	"sort"

	"github.com/quizarena/engine/domain"
)

// MemoryStore is an in-memory Repository substitute used by tests; the
// quizarenad process always uses Repository. It implements the same
// selection semantics as Repository.FetchBatch.
type MemoryStore struct {
	byTier map[domain.Tier][]domain.Question
}

// NewMemoryStore files every given question under domain.TierEasy,
// preserving insertion order as the "created then id" ordering; use
// NewMemoryStoreByTier to populate other tiers.
func NewMemoryStore(questions []domain.Question) *MemoryStore {
	m := &MemoryStore{byTier: make(map[domain.Tier][]domain.Question)}
	for _, q := range questions {
		tier := domain.TierEasy
		m.byTier[tier] = append(m.byTier[tier], q)
	}
	return m
}

// NewMemoryStoreByTier builds a MemoryStore from a pre-bucketed map.
func NewMemoryStoreByTier(byTier map[domain.Tier][]domain.Question) *MemoryStore {
	return &MemoryStore{byTier: byTier}
}

func (m *MemoryStore) FetchBatch(_ context.Context, tier domain.Tier, categoryTags []string, count int) ([]domain.Question, error) {
	pool := m.byTier[tier]
	if len(categoryTags) > 0 {
		filtered := make([]domain.Question, 0, len(pool))
		want := make(map[string]struct{}, len(categoryTags))
		for _, t := range categoryTags {
			want[t] = struct{}{}
		}
		for _, q := range pool {
			if hasAnyTag(q.CategoryTags, want) {
				filtered = append(filtered, q)
			}
		}
		pool = filtered
	}

	sorted := make([]domain.Question, len(pool))
	copy(sorted, pool)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	if count <= 0 || len(sorted) <= count {
		return sorted, nil
	}

	offset := rand.IntN(len(sorted) - count + 1)
	return sorted[offset : offset+count], nil
}

func hasAnyTag(tags []string, want map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := want[t]; ok {
			return true
		}
	}
	return false
}

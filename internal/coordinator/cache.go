package coordinator

import (
	"encoding/json"
	"time"

	"github.com/coocood/freecache"
	"github.com/google/uuid"

	"github.com/djlord-it/wichtel/internal/domain"
)

// outcomeCache keeps the assignment sets of completed events. Entries never
// expire because a completed event is immutable.
type outcomeCache struct {
	cache *freecache.Cache
}

type cachedPair struct {
	Giver     uuid.UUID `json:"g"`
	Recipient uuid.UUID `json:"r"`
	CreatedAt time.Time `json:"t"`
}

func newOutcomeCache(sizeBytes int) *outcomeCache {
	if sizeBytes <= 0 {
		return nil
	}
	return &outcomeCache{cache: freecache.NewCache(sizeBytes)}
}

func (c *outcomeCache) get(id uuid.UUID) ([]domain.Assignment, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.cache.Get(id[:])
	if err != nil {
		return nil, false
	}
	var pairs []cachedPair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, false
	}
	out := make([]domain.Assignment, len(pairs))
	for i, p := range pairs {
		out[i] = domain.Assignment{EventID: id, GiverID: p.Giver, RecipientID: p.Recipient, CreatedAt: p.CreatedAt}
	}
	return out, true
}

func (c *outcomeCache) put(id uuid.UUID, assignments []domain.Assignment) {
	if c == nil || len(assignments) == 0 {
		return
	}
	pairs := make([]cachedPair, len(assignments))
	for i, a := range assignments {
		pairs[i] = cachedPair{Giver: a.GiverID, Recipient: a.RecipientID, CreatedAt: a.CreatedAt}
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return
	}
	// Entries larger than 1/1024 of the cache are rejected; callers fall back to the store.
	_ = c.cache.Set(id[:], data, 0)
}

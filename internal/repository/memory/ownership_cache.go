package memory

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// OwnershipCache remembers which user owns which chat session so the relay
// does not hit the database for the same check on every turn. Entries expire
// so a deleted session falls out within the TTL.
type OwnershipCache struct {
	cache *cache.Cache
}

func NewOwnershipCache() *OwnershipCache {
	// Default expiration of 1 hour, purge expired entries every 10 minutes
	c := cache.New(1*time.Hour, 10*time.Minute)
	return &OwnershipCache{
		cache: c,
	}
}

func (r *OwnershipCache) Save(sessionID, userID uuid.UUID) {
	r.cache.Set(sessionID.String(), userID, cache.DefaultExpiration)
}

func (r *OwnershipCache) Get(sessionID uuid.UUID) (uuid.UUID, bool) {
	if x, found := r.cache.Get(sessionID.String()); found {
		return x.(uuid.UUID), true
	}
	return uuid.Nil, false
}

func (r *OwnershipCache) Delete(sessionID uuid.UUID) {
	r.cache.Delete(sessionID.String())
}

package store

import (
	"context"
	"time"

	"github.com/maypok86/otter"
)

// prefCache is a bounded TTL cache in front of Preferences reads. Every
// write path calls invalidate so cached rows never outlive an update made
// through this Store.
type prefCache struct {
	cache otter.Cache[int64, Preferences]
}

// EnablePreferenceCache turns on read caching for Preferences. A
// non-positive size or TTL leaves caching off.
func (s *Store) EnablePreferenceCache(maxEntries int, ttl time.Duration) error {
	if maxEntries <= 0 || ttl <= 0 {
		return nil
	}
	cache, err := otter.MustBuilder[int64, Preferences](maxEntries).
		Cost(func(int64, Preferences) uint32 { return 1 }).
		WithTTL(ttl).
		Build()
	if err != nil {
		return err
	}
	s.prefs = &prefCache{cache: cache}
	return nil
}

func (s *Store) cachedPreferences(ctx context.Context, userID int64) (Preferences, error) {
	if s.prefs != nil {
		if prefs, ok := s.prefs.cache.Get(userID); ok {
			return prefs, nil
		}
	}
	prefs, err := s.Preferences(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}
	if s.prefs != nil {
		s.prefs.cache.Set(userID, prefs)
	}
	return prefs, nil
}

func (s *Store) invalidate(userID int64) {
	if s.prefs != nil {
		s.prefs.cache.Delete(userID)
	}
}

func (s *Store) closeCache() {
	if s.prefs != nil {
		s.prefs.cache.Close()
		s.prefs = nil
	}
}

package testsupport

import (
	"context"
	"testing"

	"autorename/internal/config"
	"autorename/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// SetTemplate configures a rename template for userID.
func SetTemplate(t testing.TB, s *store.Store, userID int64, template string) {
	t.Helper()

	if err := s.SetTemplate(context.Background(), userID, template); err != nil {
		t.Fatalf("store.SetTemplate: %v", err)
	}
}

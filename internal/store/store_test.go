package store

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"autorename/internal/ledger"
)

func openTestStore(t *testing.T, credits int64) *Store {
	t.Helper()
	s, err := OpenPath(filepath.Join(t.TempDir(), "autorename.db"), credits)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t, 5)
	version, dirty, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != 2 || dirty {
		t.Fatalf("schema = %d dirty=%v, want 2 clean", version, dirty)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autorename.db")
	s, err := OpenPath(path, 5)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	ctx := context.Background()
	if err := s.SetTemplate(ctx, 7, "Show S01E{episode}"); err != nil {
		t.Fatalf("SetTemplate: %v", err)
	}
	_ = s.Close()

	s, err = OpenPath(path, 5)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	prefs, err := s.Preferences(ctx, 7)
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	if prefs.Template != "Show S01E{episode}" {
		t.Fatalf("template = %q", prefs.Template)
	}
}

func TestPreferencesDefaults(t *testing.T) {
	s := openTestStore(t, 5)
	prefs, err := s.Preferences(context.Background(), 42)
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	want := Preferences{UserID: 42}
	if diff := cmp.Diff(want, prefs); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
	if prefs.HasTemplate() {
		t.Fatal("new user should have no template")
	}
}

func TestPreferenceSetters(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()
	steps := []func() error{
		func() error { return s.SetTemplate(ctx, 1, "Ep {episode} [{quality}]") },
		func() error { return s.SetMediaPreference(ctx, 1, "video") },
		func() error { return s.SetMetadataEnabled(ctx, 1, true) },
		func() error { return s.SetMetadataField(ctx, 1, "title", "My Title") },
		func() error { return s.SetMetadataField(ctx, 1, "custom_tag", "tag") },
		func() error { return s.SetCaption(ctx, 1, "{filename} ({filesize})") },
		func() error { return s.SetThumbnail(ctx, 1, "thumb.jpg") },
		func() error { return s.RecordRename(ctx, 1) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	got, err := s.Preferences(ctx, 1)
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	want := Preferences{
		UserID:          1,
		Template:        "Ep {episode} [{quality}]",
		MediaPreference: "video",
		Metadata:        MetadataTags{Enabled: true, Title: "My Title", CustomTag: "tag"},
		Caption:         "{filename} ({filesize})",
		Thumbnail:       "thumb.jpg",
		RenameCount:     1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("preferences mismatch (-want +got):\n%s", diff)
	}
}

func TestSettersRejectUnknownValues(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()
	if err := s.SetMediaPreference(ctx, 1, "audio"); err == nil {
		t.Fatal("expected error for audio preference")
	}
	if err := s.SetMetadataField(ctx, 1, "credits", "999"); err == nil {
		t.Fatal("expected error for non-metadata column")
	}
	if err := s.setColumn(ctx, 1, "credits", 999); err == nil {
		t.Fatal("expected error for non-settable column")
	}
}

func TestListUsers(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()
	for _, id := range []int64{9, 2, 5} {
		if _, err := s.Preferences(ctx, id); err != nil {
			t.Fatalf("provision %d: %v", id, err)
		}
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	var ids []int64
	for _, u := range users {
		ids = append(ids, u.UserID)
		if u.Credits != 3 {
			t.Fatalf("user %d credits = %d, want 3", u.UserID, u.Credits)
		}
	}
	if diff := cmp.Diff([]int64{2, 5, 9}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestPreferenceCacheInvalidatesOnWrite(t *testing.T) {
	s := openTestStore(t, 5)
	if err := s.EnablePreferenceCache(16, time.Minute); err != nil {
		t.Fatalf("EnablePreferenceCache: %v", err)
	}
	ctx := context.Background()
	if err := s.SetTemplate(ctx, 1, "first"); err != nil {
		t.Fatalf("SetTemplate: %v", err)
	}
	prefs, err := s.CachedPreferences(ctx, 1)
	if err != nil || prefs.Template != "first" {
		t.Fatalf("CachedPreferences = %q, %v", prefs.Template, err)
	}
	if err := s.SetTemplate(ctx, 1, "second"); err != nil {
		t.Fatalf("SetTemplate: %v", err)
	}
	prefs, err = s.CachedPreferences(ctx, 1)
	if err != nil || prefs.Template != "second" {
		t.Fatalf("after write CachedPreferences = %q, %v", prefs.Template, err)
	}
}

func TestPreferenceCacheDisabled(t *testing.T) {
	s := openTestStore(t, 5)
	if err := s.EnablePreferenceCache(0, time.Minute); err != nil {
		t.Fatalf("EnablePreferenceCache: %v", err)
	}
	if s.prefs != nil {
		t.Fatal("cache should stay off for zero size")
	}
	if _, err := s.CachedPreferences(context.Background(), 1); err != nil {
		t.Fatalf("CachedPreferences: %v", err)
	}
}

func TestCheckAndReserveSpendsCredits(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	want := []ledger.Reservation{
		{Decision: ledger.DecisionCredit, Credits: 1},
		{Decision: ledger.DecisionCredit, Credits: 0},
		{Decision: ledger.DecisionDenied, Credits: 0},
	}
	for i, w := range want {
		got, err := s.CheckAndReserve(ctx, 11, now)
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if diff := cmp.Diff(w, got); diff != "" {
			t.Fatalf("reserve %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestCheckAndReservePremium(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	expiry := now.Add(time.Hour)
	if err := s.SetPremium(ctx, 3, &expiry); err != nil {
		t.Fatalf("SetPremium: %v", err)
	}

	got, err := s.CheckAndReserve(ctx, 3, now)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !got.Premium() || got.Downgraded || got.Credits != 0 {
		t.Fatalf("active premium reservation = %+v", got)
	}

	later := expiry.Add(time.Second)
	got, err = s.CheckAndReserve(ctx, 3, later)
	if err != nil {
		t.Fatalf("reserve after expiry: %v", err)
	}
	if got.Decision != ledger.DecisionDenied || !got.Downgraded {
		t.Fatalf("expired premium reservation = %+v", got)
	}

	got, err = s.CheckAndReserve(ctx, 3, later)
	if err != nil {
		t.Fatalf("reserve in the downgrade second: %v", err)
	}
	if got.Downgraded {
		t.Fatal("downgrade reported again within the same second")
	}

	got, err = s.CheckAndReserve(ctx, 3, later.Add(time.Second))
	if err != nil {
		t.Fatalf("second reserve after expiry: %v", err)
	}
	if got.Downgraded {
		t.Fatal("downgrade should be reported once")
	}

	acct, err := s.Account(ctx, 3)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acct.Premium || acct.PremiumExpiry != nil {
		t.Fatalf("account after downgrade = %+v", acct)
	}
}

func TestCheckAndReservePermanentPremium(t *testing.T) {
	s := openTestStore(t, 1)
	ctx := context.Background()
	if err := s.SetPremium(ctx, 4, nil); err != nil {
		t.Fatalf("SetPremium: %v", err)
	}
	for i := 0; i < 3; i++ {
		got, err := s.CheckAndReserve(ctx, 4, time.Now())
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if !got.Premium() || got.Credits != 1 {
			t.Fatalf("reservation %d = %+v", i, got)
		}
	}
	if err := s.RevokePremium(ctx, 4); err != nil {
		t.Fatalf("RevokePremium: %v", err)
	}
	got, err := s.CheckAndReserve(ctx, 4, time.Now())
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got.Decision != ledger.DecisionCredit || got.Credits != 0 {
		t.Fatalf("after revoke = %+v", got)
	}
}

func TestRevokePremiumUnknownUser(t *testing.T) {
	s := openTestStore(t, 1)
	if err := s.RevokePremium(context.Background(), 404); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestGrant(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	acct, err := s.Grant(ctx, 8, 10)
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if acct.Credits != 12 {
		t.Fatalf("credits = %d, want 12", acct.Credits)
	}
	acct, err = s.Grant(ctx, 8, -50)
	if err != nil {
		t.Fatalf("Grant negative: %v", err)
	}
	if acct.Credits != 0 {
		t.Fatalf("credits = %d, want clamp at 0", acct.Credits)
	}
}

func TestCheckAndReserveConcurrentNeverOverspends(t *testing.T) {
	const credits = 10
	s := openTestStore(t, credits)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		granted atomic.Int64
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.CheckAndReserve(ctx, 99, time.Now())
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if res.Allowed() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	if granted.Load() != credits {
		t.Fatalf("granted %d reservations, want %d", granted.Load(), credits)
	}
	acct, err := s.Account(ctx, 99)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acct.Credits != 0 {
		t.Fatalf("remaining credits = %d", acct.Credits)
	}
}

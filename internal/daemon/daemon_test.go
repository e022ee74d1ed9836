package daemon_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"autorename/internal/config"
	"autorename/internal/daemon"
	"autorename/internal/pipeline"
	"autorename/internal/testsupport"
	"autorename/internal/transport"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	d, err := daemon.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func startDaemon(t *testing.T, d *daemon.Daemon) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	waitFor(t, "daemon running", func() bool { return d.Status().Running })
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
	return cancel, done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDaemonRunAndShutdown(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMuxDisabled())
	d := newDaemon(t, cfg)

	if status, err := daemon.Probe(cfg); err != nil || status.Running {
		t.Fatalf("probe before start = %+v, %v", status, err)
	}
	cancel, done := startDaemon(t, d)

	status, err := daemon.Probe(cfg)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !status.Running {
		t.Fatal("expected probe to see the held lock")
	}
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("expected second Run to fail")
	}
	if err := d.Ready(context.Background()); err != nil {
		t.Fatalf("Ready: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
	if status, _ := daemon.Probe(cfg); status.Running {
		t.Fatal("lock still held after shutdown")
	}
}

func TestSecondInstanceIsRefused(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMuxDisabled())
	first := newDaemon(t, cfg)
	startDaemon(t, first)

	second := newDaemon(t, cfg)
	err := second.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("second instance err = %v", err)
	}
}

func TestRenameDeliversFile(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMuxDisabled(), testsupport.WithCredits(2))
	d := newDaemon(t, cfg)
	testsupport.SetTemplate(t, d.Store(), 7, "Show S01E{episode} [{quality}]")

	src := filepath.Join(testsupport.BaseDir(cfg), "Show.S01E05.1080p.mkv")
	testsupport.WriteFile(t, src, 64)

	outcome, err := d.Rename(context.Background(), 7, transport.KindDocument, src)
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if outcome != pipeline.OutcomeDelivered {
		t.Fatalf("outcome = %s", outcome)
	}
	delivered := filepath.Join(cfg.Paths.OutboxDir, "7", "documents", "Show S01E05 [1080p].mkv")
	if _, err := os.Stat(delivered); err != nil {
		t.Fatalf("delivery missing: %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source file should be left in place: %v", err)
	}
	acct, err := d.Ledger().Account(context.Background(), 7)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acct.Credits != 1 {
		t.Fatalf("credits = %d, want 1", acct.Credits)
	}
}

func TestRenameRejectsDirectories(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMuxDisabled())
	d := newDaemon(t, cfg)
	if _, err := d.Rename(context.Background(), 7, transport.KindDocument, t.TempDir()); err == nil {
		t.Fatal("expected directory to be rejected")
	}
	if _, err := d.Rename(context.Background(), 7, transport.KindDocument, " "); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
}

func TestInboxFilesAreRenamed(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMuxDisabled())
	cfg.Inbox.SettleMillis = 50
	cfg.API.Enabled = false
	d := newDaemon(t, cfg)
	testsupport.SetTemplate(t, d.Store(), 11, "Ep {episode}")
	if err := os.MkdirAll(filepath.Join(cfg.Paths.InboxDir, "11"), 0o755); err != nil {
		t.Fatalf("mkdir inbox: %v", err)
	}
	startDaemon(t, d)

	testsupport.WriteFile(t, filepath.Join(cfg.Paths.InboxDir, "11", "Show - E03.mkv"), 32)

	// Inbox files are classified by extension, so an .mkv goes back as video.
	delivered := filepath.Join(cfg.Paths.OutboxDir, "11", "videos", "Ep 03.mkv")
	waitFor(t, "inbox delivery", func() bool {
		_, err := os.Stat(delivered)
		return err == nil
	})

	if err := d.Store().SetMediaPreference(context.Background(), 11, "document"); err != nil {
		t.Fatalf("SetMediaPreference: %v", err)
	}
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.InboxDir, "11", "Show - E04.mkv"), 48)
	asDocument := filepath.Join(cfg.Paths.OutboxDir, "11", "documents", "Ep 04.mkv")
	waitFor(t, "inbox delivery as document", func() bool {
		_, err := os.Stat(asDocument)
		return err == nil
	})
}

func TestDaemonPublishesLifecycleAlerts(t *testing.T) {
	var (
		mu     sync.Mutex
		titles []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		titles = append(titles, r.Header.Get("Title"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithMuxDisabled())
	cfg.API.Enabled = false
	cfg.Notifications.NtfyTopic = srv.URL + "/autorename"
	d := newDaemon(t, cfg)

	cancel, done := startDaemon(t, d)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"autorename - Started", "autorename - Stopped"}
	if strings.Join(titles, "|") != strings.Join(want, "|") {
		t.Fatalf("alerts = %q, want %q", titles, want)
	}
}

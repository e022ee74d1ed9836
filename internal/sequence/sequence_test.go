package sequence

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"autorename/internal/transport"
	"autorename/internal/transport/localfs"
)

const (
	user = int64(7)
	chat = transport.ChatID(7)
)

type retractFails struct {
	*localfs.Transport
}

func (retractFails) Retract(context.Context, transport.ChatID, ...transport.MessageID) error {
	return errors.New("MESSAGE_DELETE_FORBIDDEN")
}

func newLocal(t *testing.T) *localfs.Transport {
	t.Helper()
	base := t.TempDir()
	tr, err := localfs.New(localfs.Options{BlobDir: filepath.Join(base, "blobs"), OutboxDir: filepath.Join(base, "outbox")})
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	return tr
}

func ingest(t *testing.T, tr *localfs.Transport, name string) transport.FileEvent {
	t.Helper()
	id, size, err := tr.Ingest(strings.NewReader("content " + name))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return transport.FileEvent{UserID: user, ChatID: chat, FileID: id, FileName: name, Kind: transport.KindVideo, Size: size}
}

func messagesByOp(t *testing.T, tr *localfs.Transport, op string) []localfs.Message {
	t.Helper()
	msgs, err := tr.Messages(chat)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	var out []localfs.Message
	for _, m := range msgs {
		if m.Op == op {
			out = append(out, m)
		}
	}
	return out
}

func TestOrder(t *testing.T) {
	entries := []Entry{
		{FileName: "Show_1080p.mkv"},
		{FileName: "Show_480p.mkv"},
		{FileName: "Show_720p.mkv"},
		{FileName: "Show_Unknown.mkv"},
		{FileName: "Another_720p.mkv"},
		{FileName: "A_Unknown.mkv"},
	}
	var got []string
	for _, e := range Order(entries) {
		got = append(got, e.FileName)
	}
	want := []string{
		"Show_480p.mkv",
		"Another_720p.mkv",
		"Show_720p.mkv",
		"Show_1080p.mkv",
		"A_Unknown.mkv",
		"Show_Unknown.mkv",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if entries[0].FileName != "Show_1080p.mkv" {
		t.Fatal("Order must not reorder its input")
	}
}

func TestSequenceFlushOrderAndRetraction(t *testing.T) {
	tr := newLocal(t)
	agg := New(tr, nil, nil)
	ctx := context.Background()

	if err := agg.Start(ctx, user, chat); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, name := range []string{"Show_1080p.mkv", "Show_480p.mkv", "Show_720p.mkv", "Show_Unknown.mkv"} {
		if !agg.Add(ctx, ingest(t, tr, name)) {
			t.Fatalf("Add(%s) not buffered", name)
		}
	}
	if agg.Len(user) != 4 {
		t.Fatalf("buffered = %d", agg.Len(user))
	}

	delivered, err := agg.End(ctx, user, chat)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if delivered != 4 {
		t.Fatalf("delivered = %d", delivered)
	}
	if agg.Active(user) {
		t.Fatal("session should be closed")
	}

	var got []string
	for _, m := range messagesByOp(t, tr, "document") {
		got = append(got, m.FileName)
		if m.Text != "**"+m.FileName+"**" {
			t.Fatalf("caption = %q", m.Text)
		}
	}
	want := []string{"Show_480p.mkv", "Show_720p.mkv", "Show_1080p.mkv", "Show_Unknown.mkv"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("delivery order mismatch (-want +got):\n%s", diff)
	}

	replies := messagesByOp(t, tr, "reply")
	var ackIDs []int64
	for _, r := range replies {
		if r.Text == StartedMessage || r.Text == ReceivedMessage {
			ackIDs = append(ackIDs, int64(r.ID))
		}
	}
	if len(ackIDs) != 5 {
		t.Fatalf("acks = %d, want 5", len(ackIDs))
	}
	retracts := messagesByOp(t, tr, "retract")
	if len(retracts) != 1 {
		t.Fatalf("retract ops = %d", len(retracts))
	}
	if diff := cmp.Diff(ackIDs, retracts[0].Targets); diff != "" {
		t.Fatalf("retracted ids mismatch (-want +got):\n%s", diff)
	}
	if last := replies[len(replies)-1].Text; last != "Sequence ended! Sending 4 files back..." {
		t.Fatalf("end message = %q", last)
	}
}

func TestStartTwice(t *testing.T) {
	tr := newLocal(t)
	agg := New(tr, nil, nil)
	ctx := context.Background()
	if err := agg.Start(ctx, user, chat); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := agg.Start(ctx, user, chat); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Start err = %v", err)
	}
	replies := messagesByOp(t, tr, "reply")
	if replies[len(replies)-1].Text != AlreadyActiveMessage {
		t.Fatalf("last reply = %q", replies[len(replies)-1].Text)
	}
	if agg.Sessions() != 1 {
		t.Fatalf("sessions = %d", agg.Sessions())
	}
}

func TestEndWithoutSession(t *testing.T) {
	tr := newLocal(t)
	agg := New(tr, nil, nil)
	if _, err := agg.End(context.Background(), user, chat); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v", err)
	}
	replies := messagesByOp(t, tr, "reply")
	if len(replies) != 1 || replies[0].Text != NoSessionMessage {
		t.Fatalf("replies = %+v", replies)
	}
}

func TestEndEmptySession(t *testing.T) {
	tr := newLocal(t)
	agg := New(tr, nil, nil)
	ctx := context.Background()
	_ = agg.Start(ctx, user, chat)
	n, err := agg.End(ctx, user, chat)
	if err != nil || n != 0 {
		t.Fatalf("End = %d, %v", n, err)
	}
	replies := messagesByOp(t, tr, "reply")
	if replies[len(replies)-1].Text != EmptyMessage {
		t.Fatalf("last reply = %q", replies[len(replies)-1].Text)
	}
	if len(messagesByOp(t, tr, "retract")) != 1 {
		t.Fatal("start ack should be retracted")
	}
}

func TestAddWithoutSession(t *testing.T) {
	tr := newLocal(t)
	agg := New(tr, nil, nil)
	if agg.Add(context.Background(), ingest(t, tr, "Show_720p.mkv")) {
		t.Fatal("file buffered without a session")
	}
	if len(messagesByOp(t, tr, "reply")) != 0 {
		t.Fatal("no acknowledgement expected")
	}
}

func TestRetractFailureIsNotFatal(t *testing.T) {
	tr := newLocal(t)
	agg := New(retractFails{tr}, nil, nil)
	ctx := context.Background()
	_ = agg.Start(ctx, user, chat)
	agg.Add(ctx, ingest(t, tr, "Show_720p.mkv"))
	n, err := agg.End(ctx, user, chat)
	if err != nil || n != 1 {
		t.Fatalf("End = %d, %v", n, err)
	}
}

func TestUnknownFileIsSkipped(t *testing.T) {
	tr := newLocal(t)
	agg := New(tr, nil, nil)
	ctx := context.Background()
	_ = agg.Start(ctx, user, chat)
	agg.Add(ctx, ingest(t, tr, "Show_720p.mkv"))
	agg.Add(ctx, transport.FileEvent{UserID: user, ChatID: chat, FileID: "gone", FileName: "Show_480p.mkv"})
	n, err := agg.End(ctx, user, chat)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
}

func TestSweepClosesIdleSessions(t *testing.T) {
	tr := newLocal(t)
	var mu sync.Mutex
	now := time.Unix(1_800_000_000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	agg := New(tr, nil, clock)
	ctx := context.Background()
	_ = agg.Start(ctx, user, chat)
	_ = agg.Start(ctx, 8, transport.ChatID(8))

	mu.Lock()
	now = now.Add(30 * time.Minute)
	mu.Unlock()
	agg.Add(ctx, ingest(t, tr, "Show_720p.mkv"))

	if n := agg.Sweep(ctx, clock().Add(31*time.Minute), time.Hour); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if !agg.Active(user) || agg.Active(8) {
		t.Fatal("only the idle session should be closed")
	}
	if n := agg.Sweep(ctx, clock(), 0); n != 0 {
		t.Fatal("zero idle disables sweeping")
	}
}

// Package localfs implements the transport contract on top of plain
// directories: inbound files live in a content-addressed blob store,
// deliveries are written atomically under outbox/<chat>/, and chat messages
// are appended to outbox/<chat>/messages.jsonl.
package localfs

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"
	"github.com/zeebo/xxh3"
	"golang.org/x/time/rate"

	"autorename/internal/fileutil"
	"autorename/internal/logging"
	"autorename/internal/textutil"
	"autorename/internal/transport"
)

const messagesFile = "messages.jsonl"

// Options configures a Transport.
type Options struct {
	BlobDir       string
	OutboxDir     string
	RatePerSecond float64
	Burst         int
	Logger        *slog.Logger
}

// Transport is a filesystem-backed transport.Transport.
type Transport struct {
	blobDir   string
	outboxDir string
	limiter   *rate.Limiter
	logger    *slog.Logger
	nextID    atomic.Int64

	mu sync.Mutex // serializes messages.jsonl appends
}

// Message is one line of a chat's messages.jsonl.
type Message struct {
	ID        transport.MessageID `json:"id"`
	Op        string              `json:"op"`
	Text      string              `json:"text,omitempty"`
	FileName  string              `json:"file_name,omitempty"`
	Thumbnail string              `json:"thumbnail,omitempty"`
	Targets   []int64             `json:"targets,omitempty"`
	At        time.Time           `json:"at"`
}

// New constructs a Transport, creating its directories.
func New(opts Options) (*Transport, error) {
	if opts.BlobDir == "" || opts.OutboxDir == "" {
		return nil, errors.New("localfs: blob and outbox directories are required")
	}
	for _, dir := range []string{opts.BlobDir, opts.OutboxDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("localfs: create %s: %w", dir, err)
		}
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	t := &Transport{
		blobDir:   opts.BlobDir,
		outboxDir: opts.OutboxDir,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logging.NewComponentLogger(opts.Logger, "transport"),
	}
	t.nextID.Store(time.Now().UnixMilli())
	return t, nil
}

// Ingest stores r in the blob store and returns its content-derived file ID
// and size. Identical content always yields the same ID.
func (t *Transport) Ingest(r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(t.blobDir, ".ingest-*")
	if err != nil {
		return "", 0, fmt.Errorf("create blob temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	hasher := xxh3.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", 0, fmt.Errorf("write blob: %w", err)
	}

	sum := hasher.Sum128()
	var raw [16]byte
	binary.LittleEndian.PutUint64(raw[:8], sum.Lo)
	binary.LittleEndian.PutUint64(raw[8:], sum.Hi)
	id := hex.EncodeToString(raw[:])

	dst := t.blobPath(id)
	if _, err := os.Stat(dst); err == nil {
		return id, size, nil
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", 0, fmt.Errorf("commit blob: %w", err)
	}
	return id, size, nil
}

// IngestFile moves path into the blob store.
func (t *Transport) IngestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return t.Ingest(f)
}

// HasBlob reports whether fileID is stored.
func (t *Transport) HasBlob(fileID string) bool {
	_, err := os.Stat(t.blobPath(fileID))
	return err == nil
}

// Download copies the referenced blob to dst.
func (t *Transport) Download(ctx context.Context, ev transport.FileEvent, dst string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src := t.blobPath(ev.FileID)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", transport.ErrUnknownFile, ev.FileID)
		}
		return "", err
	}
	if err := fileutil.CopyFile(src, dst); err != nil {
		return "", fmt.Errorf("copy blob: %w", err)
	}
	return dst, nil
}

// DeliverDocument writes the delivery under outbox/<chat>/documents.
func (t *Transport) DeliverDocument(ctx context.Context, chat transport.ChatID, d transport.Delivery) error {
	return t.deliver(ctx, chat, "documents", "document", d)
}

// DeliverVideo writes the delivery under outbox/<chat>/videos.
func (t *Transport) DeliverVideo(ctx context.Context, chat transport.ChatID, d transport.Delivery) error {
	return t.deliver(ctx, chat, "videos", "video", d)
}

func (t *Transport) deliver(ctx context.Context, chat transport.ChatID, folder, op string, d transport.Delivery) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	src := d.Path
	if src == "" {
		if d.FileID == "" {
			return errors.New("delivery has neither path nor file id")
		}
		src = t.blobPath(d.FileID)
	}
	name := textutil.SanitizeFileName(d.FileName)
	if name == "" {
		name = filepath.Base(src)
	}

	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && d.Path == "" {
			return fmt.Errorf("%w: %s", transport.ErrUnknownFile, d.FileID)
		}
		return err
	}
	defer in.Close()

	dir := filepath.Join(t.chatDir(chat), folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create delivery directory: %w", err)
	}
	pending, err := renameio.NewPendingFile(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("create pending delivery: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			t.logger.Debug("cleanup pending delivery", logging.Error(err))
		}
	}()
	if _, err := io.Copy(pending, in); err != nil {
		return fmt.Errorf("write delivery: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit delivery: %w", err)
	}

	_, err = t.appendMessage(chat, Message{Op: op, Text: d.Caption, FileName: name, Thumbnail: d.Thumbnail})
	return err
}

// Reply appends a text message.
func (t *Transport) Reply(ctx context.Context, chat transport.ChatID, text string) (transport.MessageID, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return t.appendMessage(chat, Message{Op: "reply", Text: text})
}

// Edit records a replacement text for an earlier message.
func (t *Transport) Edit(ctx context.Context, chat transport.ChatID, id transport.MessageID, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := t.appendMessage(chat, Message{Op: "edit", Text: text, Targets: []int64{int64(id)}})
	return err
}

// Retract records the deletion of earlier messages.
func (t *Transport) Retract(ctx context.Context, chat transport.ChatID, ids ...transport.MessageID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	targets := make([]int64, len(ids))
	for i, id := range ids {
		targets[i] = int64(id)
	}
	_, err := t.appendMessage(chat, Message{Op: "retract", Targets: targets})
	return err
}

// Messages reads back the message log of chat.
func (t *Transport) Messages(chat transport.ChatID) ([]Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.Open(filepath.Join(t.chatDir(chat), messagesFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var out []Message
	dec := json.NewDecoder(f)
	for {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("decode message log: %w", err)
		}
		out = append(out, msg)
	}
}

func (t *Transport) appendMessage(chat transport.ChatID, msg Message) (transport.MessageID, error) {
	msg.ID = transport.MessageID(t.nextID.Add(1))
	msg.At = time.Now().UTC()
	line, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	line = append(line, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	dir := t.chatDir(chat)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create chat directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, messagesFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (t *Transport) blobPath(fileID string) string {
	return filepath.Join(t.blobDir, filepath.Base(fileID))
}

func (t *Transport) chatDir(chat transport.ChatID) string {
	return filepath.Join(t.outboxDir, strconv.FormatInt(int64(chat), 10))
}

var _ transport.Transport = (*Transport)(nil)

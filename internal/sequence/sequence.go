// Package sequence buffers a user's files between start and end commands
// and delivers them back ordered by quality rank and name.
package sequence

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"autorename/internal/cascade"
	"autorename/internal/logging"
	"autorename/internal/metrics"
	"autorename/internal/naming"
	"autorename/internal/services"
	"autorename/internal/transport"
)

const (
	AlreadyActiveMessage = "A sequence is already active! Use /esequence to end it."
	StartedMessage       = "Sequence started! Send your files."
	NoSessionMessage     = "No active sequence found!"
	EmptyMessage         = "No files were sent in this sequence!"
	ReceivedMessage      = "File received in sequence..."
	ExpiredMessage       = "Your sequence was closed after a long period of inactivity. Use /ssequence to start a new one."
	endedFormat          = "Sequence ended! Sending %d files back..."
)

var (
	// ErrSessionActive is returned by Start when a session is already open.
	ErrSessionActive = errors.New("sequence already active")
	// ErrNoSession is returned by End when no session is open.
	ErrNoSession = errors.New("no active sequence")
)

// Entry is one buffered file.
type Entry struct {
	FileID   string
	FileName string
	Kind     transport.MediaKind
	Size     int64
}

type session struct {
	chat    transport.ChatID
	entries []Entry
	acks    []transport.MessageID
	started time.Time
	touched time.Time
}

// Aggregator holds one buffering session per user.
type Aggregator struct {
	sessions  *xsync.Map[int64, *session]
	transport transport.Transport
	now       func() time.Time
	logger    *slog.Logger
}

// New constructs an Aggregator. A nil now uses time.Now.
func New(t transport.Transport, logger *slog.Logger, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		sessions:  xsync.NewMap[int64, *session](),
		transport: t,
		now:       now,
		logger:    logging.NewComponentLogger(logger, "sequence"),
	}
}

// Start opens a session for userID. When one is already open the user is
// told so and ErrSessionActive is returned.
func (a *Aggregator) Start(ctx context.Context, userID int64, chat transport.ChatID) error {
	now := a.now()
	created := false
	a.sessions.Compute(userID, func(cur *session, loaded bool) (*session, xsync.ComputeOp) {
		if loaded {
			return cur, xsync.CancelOp
		}
		created = true
		return &session{chat: chat, started: now, touched: now}, xsync.UpdateOp
	})
	if !created {
		a.reply(ctx, chat, AlreadyActiveMessage)
		return ErrSessionActive
	}
	metrics.ActiveSequences.Inc()
	logging.WithContext(services.WithUserID(ctx, userID), a.logger).Info("sequence started",
		logging.String(logging.FieldEventType, "sequence_started"),
	)
	if id, ok := a.reply(ctx, chat, StartedMessage); ok {
		a.recordAck(ctx, userID, chat, id)
	}
	return nil
}

// Active reports whether userID has an open session.
func (a *Aggregator) Active(userID int64) bool {
	_, ok := a.sessions.Load(userID)
	return ok
}

// Len reports how many files userID has buffered.
func (a *Aggregator) Len(userID int64) int {
	n := 0
	a.sessions.Compute(userID, func(cur *session, loaded bool) (*session, xsync.ComputeOp) {
		if loaded {
			n = len(cur.entries)
		}
		return cur, xsync.CancelOp
	})
	return n
}

// Sessions reports how many sessions are open.
func (a *Aggregator) Sessions() int {
	return a.sessions.Size()
}

// Add buffers ev when its user has an open session and reports whether it
// did. Buffered files never reach the rename pipeline.
func (a *Aggregator) Add(ctx context.Context, ev transport.FileEvent) bool {
	name := ev.FileName
	if name == "" {
		name = "Unknown"
	}
	entry := Entry{FileID: ev.FileID, FileName: name, Kind: ev.Kind, Size: ev.Size}
	buffered := false
	a.sessions.Compute(ev.UserID, func(cur *session, loaded bool) (*session, xsync.ComputeOp) {
		if !loaded {
			return cur, xsync.CancelOp
		}
		cur.entries = append(cur.entries, entry)
		cur.touched = a.now()
		buffered = true
		return cur, xsync.UpdateOp
	})
	if !buffered {
		return false
	}
	if id, ok := a.reply(ctx, ev.ChatID, ReceivedMessage); ok {
		a.recordAck(ctx, ev.UserID, ev.ChatID, id)
	}
	return true
}

// recordAck attaches an acknowledgement to the open session. If the session
// ended while the ack was in flight, the ack is retracted right away.
func (a *Aggregator) recordAck(ctx context.Context, userID int64, chat transport.ChatID, id transport.MessageID) {
	attached := false
	a.sessions.Compute(userID, func(cur *session, loaded bool) (*session, xsync.ComputeOp) {
		if !loaded {
			return cur, xsync.CancelOp
		}
		cur.acks = append(cur.acks, id)
		attached = true
		return cur, xsync.UpdateOp
	})
	if !attached {
		a.retract(ctx, userID, chat, []transport.MessageID{id})
	}
}

// End closes the session of userID and delivers its files in flush order.
// It returns how many files were delivered.
func (a *Aggregator) End(ctx context.Context, userID int64, chat transport.ChatID) (int, error) {
	sess, ok := a.sessions.LoadAndDelete(userID)
	if !ok {
		a.reply(ctx, chat, NoSessionMessage)
		return 0, ErrNoSession
	}
	metrics.ActiveSequences.Dec()
	logger := logging.WithContext(services.WithUserID(ctx, userID), a.logger)

	if len(sess.entries) == 0 {
		a.reply(ctx, chat, EmptyMessage)
		a.retract(ctx, userID, chat, sess.acks)
		return 0, nil
	}

	ordered := Order(sess.entries)
	a.reply(ctx, chat, fmt.Sprintf(endedFormat, len(ordered)))

	delivered := 0
	for _, entry := range ordered {
		err := a.transport.DeliverDocument(ctx, chat, transport.Delivery{
			FileID:   entry.FileID,
			FileName: entry.FileName,
			Caption:  naming.BoldCaption(entry.FileName),
		})
		if err != nil {
			logging.WarnWithContext(logger, "sequence delivery failed", "sequence_delivery_failed",
				logging.String(logging.FieldFileID, entry.FileID),
				logging.String("file_name", entry.FileName),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file missing from the flushed batch"),
				logging.String(logging.FieldErrorHint, "resend the file"),
			)
			continue
		}
		delivered++
	}
	a.retract(ctx, userID, chat, sess.acks)

	metrics.RecordSequenceFlush(delivered)
	logger.Info("sequence flushed",
		logging.String(logging.FieldEventType, "sequence_flushed"),
		logging.Int("buffered", len(ordered)),
		logging.Int("delivered", delivered),
		logging.Duration("open_for", a.now().Sub(sess.started)),
	)
	return delivered, nil
}

// Sweep closes sessions untouched for idle or longer, retracting their
// acknowledgements. Buffered files are dropped. It returns the number of
// sessions closed.
func (a *Aggregator) Sweep(ctx context.Context, now time.Time, idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	type expired struct {
		userID int64
		sess   *session
	}
	var closed []expired
	a.sessions.Range(func(userID int64, _ *session) bool {
		a.sessions.Compute(userID, func(cur *session, loaded bool) (*session, xsync.ComputeOp) {
			if loaded && now.Sub(cur.touched) >= idle {
				closed = append(closed, expired{userID: userID, sess: cur})
				return cur, xsync.DeleteOp
			}
			return cur, xsync.CancelOp
		})
		return true
	})
	for _, c := range closed {
		metrics.ActiveSequences.Dec()
		a.retract(ctx, c.userID, c.sess.chat, c.sess.acks)
		a.reply(ctx, c.sess.chat, ExpiredMessage)
		logging.WithContext(services.WithUserID(ctx, c.userID), a.logger).Info("sequence abandoned",
			logging.String(logging.FieldEventType, "sequence_expired"),
			logging.Int("dropped_files", len(c.sess.entries)),
		)
	}
	return len(closed)
}

// Order returns entries sorted by quality rank, then name. Ties keep their
// arrival order.
func Order(entries []Entry) []Entry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(x, y Entry) int {
		if c := cmp.Compare(cascade.QualityRank(x.FileName), cascade.QualityRank(y.FileName)); c != 0 {
			return c
		}
		return cmp.Compare(x.FileName, y.FileName)
	})
	return out
}

func (a *Aggregator) reply(ctx context.Context, chat transport.ChatID, text string) (transport.MessageID, bool) {
	id, err := a.transport.Reply(ctx, chat, text)
	if err != nil {
		a.logger.Debug("send sequence message", logging.Error(err))
		return 0, false
	}
	return id, true
}

func (a *Aggregator) retract(ctx context.Context, userID int64, chat transport.ChatID, ids []transport.MessageID) {
	if len(ids) == 0 {
		return
	}
	if err := a.transport.Retract(ctx, chat, ids...); err != nil {
		logging.WarnWithContext(logging.WithContext(services.WithUserID(ctx, userID), a.logger),
			"retract sequence acknowledgements", "sequence_retract_failed",
			logging.Error(err),
			logging.Int("messages", len(ids)),
			logging.String(logging.FieldImpact, "acknowledgement messages remain in the chat"),
		)
	}
}

// Package transport defines the boundary between the rename pipeline and the
// messaging system that supplies files and receives deliveries.
package transport

import (
	"context"
	"errors"
)

// MediaKind is how a file was sent or should be delivered.
type MediaKind string

const (
	KindDocument MediaKind = "document"
	KindVideo    MediaKind = "video"
	KindAudio    MediaKind = "audio"
)

// ParseMediaKind maps free text onto a MediaKind, defaulting to document.
func ParseMediaKind(value string) MediaKind {
	switch MediaKind(value) {
	case KindVideo, KindAudio:
		return MediaKind(value)
	default:
		return KindDocument
	}
}

// ChatID addresses a conversation. Private chats share the user's ID.
type ChatID int64

// MessageID addresses one message inside a chat.
type MessageID int64

// FileEvent is an inbound file.
type FileEvent struct {
	UserID   int64
	ChatID   ChatID
	FileID   string
	FileName string
	Kind     MediaKind
	Size     int64
}

// Delivery is an outbound file. Path sends a local file; FileID re-sends a
// file the transport already holds.
type Delivery struct {
	Path      string
	FileID    string
	FileName  string
	Caption   string
	Thumbnail string
}

// ErrUnknownFile is returned when a file reference cannot be resolved.
var ErrUnknownFile = errors.New("unknown file")

// Transport moves files and messages. Implementations must be safe for
// concurrent use.
type Transport interface {
	// Download writes the referenced file to dst and returns the written path.
	Download(ctx context.Context, ev FileEvent, dst string) (string, error)
	DeliverDocument(ctx context.Context, chat ChatID, d Delivery) error
	DeliverVideo(ctx context.Context, chat ChatID, d Delivery) error
	Reply(ctx context.Context, chat ChatID, text string) (MessageID, error)
	Edit(ctx context.Context, chat ChatID, id MessageID, text string) error
	// Retract deletes messages. Callers treat failures as best effort.
	Retract(ctx context.Context, chat ChatID, ids ...MessageID) error
}

// Deliver dispatches d through the method matching kind.
func Deliver(ctx context.Context, t Transport, chat ChatID, kind MediaKind, d Delivery) error {
	if kind == KindVideo {
		return t.DeliverVideo(ctx, chat, d)
	}
	return t.DeliverDocument(ctx, chat, d)
}

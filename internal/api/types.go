package api

import (
	"time"

	"autorename/internal/store"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// FileAccepted acknowledges an upload.
type FileAccepted struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	Kind     string `json:"kind"`
	Route    string `json:"route"`
}

// SequenceResponse reports the state of a user's sequence after a command.
type SequenceResponse struct {
	Active  bool `json:"active"`
	Flushed int  `json:"flushed"`
}

// Metadata mirrors store.MetadataTags.
type Metadata struct {
	Enabled   bool   `json:"enabled"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Artist    string `json:"artist"`
	Audio     string `json:"audio"`
	Subtitle  string `json:"subtitle"`
	Video     string `json:"video"`
	EncodedBy string `json:"encodedBy"`
	CustomTag string `json:"customTag"`
}

// Preferences is the wire form of store.Preferences.
type Preferences struct {
	UserID          int64    `json:"userId"`
	Template        string   `json:"template"`
	MediaPreference string   `json:"mediaPreference"`
	Caption         string   `json:"caption"`
	Thumbnail       string   `json:"thumbnail"`
	RenameCount     int64    `json:"renameCount"`
	Metadata        Metadata `json:"metadata"`
}

// FromPreferences converts the stored form.
func FromPreferences(p store.Preferences) Preferences {
	return Preferences{
		UserID:          p.UserID,
		Template:        p.Template,
		MediaPreference: p.MediaPreference,
		Caption:         p.Caption,
		Thumbnail:       p.Thumbnail,
		RenameCount:     p.RenameCount,
		Metadata: Metadata{
			Enabled:   p.Metadata.Enabled,
			Title:     p.Metadata.Title,
			Author:    p.Metadata.Author,
			Artist:    p.Metadata.Artist,
			Audio:     p.Metadata.Audio,
			Subtitle:  p.Metadata.Subtitle,
			Video:     p.Metadata.Video,
			EncodedBy: p.Metadata.EncodedBy,
			CustomTag: p.Metadata.CustomTag,
		},
	}
}

// MetadataPatch carries the metadata fields a PATCH may change.
type MetadataPatch struct {
	Enabled   *bool   `json:"enabled"`
	Title     *string `json:"title" validate:"omitempty,max=256"`
	Author    *string `json:"author" validate:"omitempty,max=256"`
	Artist    *string `json:"artist" validate:"omitempty,max=256"`
	Audio     *string `json:"audio" validate:"omitempty,max=256"`
	Subtitle  *string `json:"subtitle" validate:"omitempty,max=256"`
	Video     *string `json:"video" validate:"omitempty,max=256"`
	EncodedBy *string `json:"encodedBy" validate:"omitempty,max=256"`
	CustomTag *string `json:"customTag" validate:"omitempty,max=256"`
}

// PreferencesPatch is the PATCH body. Absent fields are left unchanged; an
// empty string clears a field.
type PreferencesPatch struct {
	Template        *string        `json:"template" validate:"omitempty,max=512"`
	MediaPreference *string        `json:"mediaPreference" validate:"omitempty,oneof='' document video"`
	Caption         *string        `json:"caption" validate:"omitempty,max=1024"`
	Thumbnail       *string        `json:"thumbnail" validate:"omitempty,max=512"`
	Metadata        *MetadataPatch `json:"metadata"`
}

// Account is the wire form of a ledger balance.
type Account struct {
	UserID        int64      `json:"userId"`
	Credits       int64      `json:"credits"`
	Premium       bool       `json:"premium"`
	PremiumActive bool       `json:"premiumActive"`
	PremiumExpiry *time.Time `json:"premiumExpiry,omitempty"`
	Role          string     `json:"role"`
	Capacity      int        `json:"capacity"`
	InFlight      int        `json:"inFlight"`
}

// Health is the /healthz body.
type Health struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

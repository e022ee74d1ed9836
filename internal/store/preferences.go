package store

import (
	"context"
	"fmt"
)

// MetadataTags are the values written by the metadata mux step.
type MetadataTags struct {
	Enabled   bool
	Title     string
	Author    string
	Artist    string
	Audio     string
	Subtitle  string
	Video     string
	EncodedBy string
	CustomTag string
}

// Preferences holds everything the pipeline reads about a user.
type Preferences struct {
	UserID          int64
	Template        string
	MediaPreference string
	Metadata        MetadataTags
	Caption         string
	Thumbnail       string
	RenameCount     int64
}

// HasTemplate reports whether a rename template is configured.
func (p Preferences) HasTemplate() bool {
	return p.Template != ""
}

type userRow struct {
	ID                  int64  `db:"id"`
	FormatTemplate      string `db:"format_template"`
	MediaType           string `db:"media_type"`
	MetadataEnabled     bool   `db:"metadata_enabled"`
	Title               string `db:"title"`
	Author              string `db:"author"`
	Artist              string `db:"artist"`
	Audio               string `db:"audio"`
	Subtitle            string `db:"subtitle"`
	Video               string `db:"video"`
	EncodedBy           string `db:"encoded_by"`
	CustomTag           string `db:"custom_tag"`
	Caption             string `db:"caption"`
	Thumbnail           string `db:"thumbnail"`
	Credits             int64  `db:"credits"`
	IsPremium           bool   `db:"is_premium"`
	PremiumExpiry       *int64 `db:"premium_expiry"`
	PremiumDowngradedAt *int64 `db:"premium_downgraded_at"`
	LastAdmission       string `db:"last_admission"`
	LastDowngraded      bool   `db:"last_downgraded"`
	RenameCount         int64  `db:"rename_count"`
	CreatedAt           int64  `db:"created_at"`
	UpdatedAt           int64  `db:"updated_at"`
}

func (r userRow) preferences() Preferences {
	return Preferences{
		UserID:          r.ID,
		Template:        r.FormatTemplate,
		MediaPreference: r.MediaType,
		Metadata: MetadataTags{
			Enabled:   r.MetadataEnabled,
			Title:     r.Title,
			Author:    r.Author,
			Artist:    r.Artist,
			Audio:     r.Audio,
			Subtitle:  r.Subtitle,
			Video:     r.Video,
			EncodedBy: r.EncodedBy,
			CustomTag: r.CustomTag,
		},
		Caption:     r.Caption,
		Thumbnail:   r.Thumbnail,
		RenameCount: r.RenameCount,
	}
}

func (s *Store) loadUser(ctx context.Context, userID int64) (userRow, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return userRow{}, err
	}
	var row userRow
	err := retryOnBusy(ctx, func() error {
		return s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE id = ?`, userID)
	})
	if err != nil {
		return userRow{}, fmt.Errorf("load user %d: %w", userID, err)
	}
	return row, nil
}

// CachedPreferences is Preferences behind the read cache, when enabled.
func (s *Store) CachedPreferences(ctx context.Context, userID int64) (Preferences, error) {
	return s.cachedPreferences(ctx, userID)
}

// Preferences returns the stored preferences for userID, provisioning a
// default row on first use.
func (s *Store) Preferences(ctx context.Context, userID int64) (Preferences, error) {
	row, err := s.loadUser(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}
	return row.preferences(), nil
}

// MetadataFields lists the tag names accepted by SetMetadataField.
var MetadataFields = []string{"title", "author", "artist", "audio", "subtitle", "video", "encoded_by", "custom_tag"}

// settableColumns maps user-facing setting names to columns. It doubles as
// the allow-list that keeps column names out of reach of callers.
var settableColumns = map[string]string{
	"template":         "format_template",
	"media_type":       "media_type",
	"metadata_enabled": "metadata_enabled",
	"caption":          "caption",
	"thumbnail":        "thumbnail",
	"title":            "title",
	"author":           "author",
	"artist":           "artist",
	"audio":            "audio",
	"subtitle":         "subtitle",
	"video":            "video",
	"encoded_by":       "encoded_by",
	"custom_tag":       "custom_tag",
}

func (s *Store) setColumn(ctx context.Context, userID int64, setting string, value any) error {
	column, ok := settableColumns[setting]
	if !ok {
		return fmt.Errorf("unknown setting %q", setting)
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return err
	}
	_, err := s.execWithRetry(ctx,
		`UPDATE users SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		value, s.now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update %s for user %d: %w", setting, userID, err)
	}
	s.invalidate(userID)
	return nil
}

// SetTemplate stores the rename template. An empty template clears it.
func (s *Store) SetTemplate(ctx context.Context, userID int64, template string) error {
	return s.setColumn(ctx, userID, "template", template)
}

// SetMediaPreference stores "document", "video", or "" to follow the input.
func (s *Store) SetMediaPreference(ctx context.Context, userID int64, kind string) error {
	switch kind {
	case "", "document", "video":
	default:
		return fmt.Errorf("unsupported media preference %q", kind)
	}
	return s.setColumn(ctx, userID, "media_type", kind)
}

// SetMetadataEnabled toggles the metadata mux step.
func (s *Store) SetMetadataEnabled(ctx context.Context, userID int64, enabled bool) error {
	return s.setColumn(ctx, userID, "metadata_enabled", enabled)
}

// SetMetadataField stores one metadata tag.
func (s *Store) SetMetadataField(ctx context.Context, userID int64, field, value string) error {
	for _, allowed := range MetadataFields {
		if field == allowed {
			return s.setColumn(ctx, userID, field, value)
		}
	}
	return fmt.Errorf("unknown metadata field %q", field)
}

// SetCaption stores the caption template.
func (s *Store) SetCaption(ctx context.Context, userID int64, caption string) error {
	return s.setColumn(ctx, userID, "caption", caption)
}

// SetThumbnail stores the thumbnail reference sent with uploads.
func (s *Store) SetThumbnail(ctx context.Context, userID int64, ref string) error {
	return s.setColumn(ctx, userID, "thumbnail", ref)
}

// RecordRename bumps the delivered-file counter.
func (s *Store) RecordRename(ctx context.Context, userID int64) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE users SET rename_count = rename_count + 1, updated_at = ? WHERE id = ?`,
		s.now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("record rename for user %d: %w", userID, err)
	}
	s.invalidate(userID)
	return nil
}

// UserSummary is one line of ListUsers.
type UserSummary struct {
	UserID      int64  `db:"id"`
	Template    string `db:"format_template"`
	Credits     int64  `db:"credits"`
	Premium     bool   `db:"is_premium"`
	RenameCount int64  `db:"rename_count"`
}

// ListUsers returns every known user ordered by ID.
func (s *Store) ListUsers(ctx context.Context) ([]UserSummary, error) {
	var users []UserSummary
	err := retryOnBusy(ctx, func() error {
		users = users[:0]
		return s.db.SelectContext(ctx, &users,
			`SELECT id, format_template, credits, is_premium, rename_count FROM users ORDER BY id`)
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

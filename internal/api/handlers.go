package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"autorename/internal/dispatch"
	"autorename/internal/logging"
	"autorename/internal/sequence"
	"autorename/internal/services"
	"autorename/internal/transport"
)

// userID parses the {userID} path parameter.
func userID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, Health{Status: "unavailable", Detail: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, Health{Status: "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx := services.WithUserID(r.Context(), uid)
	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	}
	reader, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "expected multipart/form-data body")
		return
	}

	ev := transport.FileEvent{
		UserID: uid,
		ChatID: transport.ChatID(uid),
		Kind:   transport.ParseMediaKind(r.URL.Query().Get("kind")),
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.writeUploadError(w, r, err)
			return
		}
		switch part.FormName() {
		case "kind":
			value, err := io.ReadAll(io.LimitReader(part, 64))
			if err != nil {
				s.writeUploadError(w, r, err)
				return
			}
			ev.Kind = transport.ParseMediaKind(strings.TrimSpace(string(value)))
		case "file":
			if ev.FileID != "" {
				s.writeError(w, r, http.StatusBadRequest, "only one file per request")
				return
			}
			name := filepath.Base(part.FileName())
			if name == "." || name == string(filepath.Separator) || name == "" {
				s.writeError(w, r, http.StatusBadRequest, "file part has no file name")
				return
			}
			fileID, size, err := s.opts.Ingester.Ingest(part)
			if err != nil {
				s.writeUploadError(w, r, err)
				return
			}
			ev.FileID, ev.FileName, ev.Size = fileID, name, size
		}
		_ = part.Close()
	}
	if ev.FileID == "" {
		s.writeError(w, r, http.StatusBadRequest, `missing "file" part`)
		return
	}

	ctx = services.WithFileID(ctx, ev.FileID)
	route, err := s.opts.Dispatcher.HandleFile(ctx, ev)
	if err != nil {
		if errors.Is(err, dispatch.ErrClosed) {
			s.writeError(w, r, http.StatusServiceUnavailable, "shutting down")
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	logging.WithContext(ctx, s.logger).Info("file accepted",
		logging.String("file_name", ev.FileName),
		logging.Int64("size", ev.Size),
		logging.String("route", string(route)),
	)
	writeJSON(w, http.StatusAccepted, FileAccepted{
		FileID:   ev.FileID,
		FileName: ev.FileName,
		Size:     ev.Size,
		Kind:     string(ev.Kind),
		Route:    string(route),
	})
}

func (s *Server) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		return
	}
	s.writeError(w, r, http.StatusBadRequest, err.Error())
}

func (s *Server) handleSequenceStart(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx := services.WithUserID(r.Context(), uid)
	err = s.opts.Dispatcher.StartSequence(ctx, uid, transport.ChatID(uid))
	switch {
	case errors.Is(err, sequence.ErrSessionActive):
		s.writeError(w, r, http.StatusConflict, err.Error())
	case err != nil:
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, SequenceResponse{Active: true})
	}
}

func (s *Server) handleSequenceEnd(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx := services.WithUserID(r.Context(), uid)
	n, err := s.opts.Dispatcher.EndSequence(ctx, uid, transport.ChatID(uid))
	switch {
	case errors.Is(err, sequence.ErrNoSession):
		s.writeError(w, r, http.StatusNotFound, err.Error())
	case err != nil:
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, SequenceResponse{Active: false, Flushed: n})
	}
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	prefs, err := s.opts.Preferences.Preferences(r.Context(), uid)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, FromPreferences(prefs))
}

func (s *Server) handlePatchPreferences(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var patch PreferencesPatch
	decoder := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&patch); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err))
		return
	}
	if err := s.validate.Struct(patch); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid body: %s failed %q", verrs[0].Namespace(), verrs[0].Tag()))
			return
		}
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err))
		return
	}
	if err := s.applyPatch(r, uid, patch); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	prefs, err := s.opts.Preferences.Preferences(r.Context(), uid)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, FromPreferences(prefs))
}

func (s *Server) applyPatch(r *http.Request, uid int64, patch PreferencesPatch) error {
	ctx := r.Context()
	p := s.opts.Preferences
	if patch.Template != nil {
		if err := p.SetTemplate(ctx, uid, strings.TrimSpace(*patch.Template)); err != nil {
			return err
		}
	}
	if patch.MediaPreference != nil {
		if err := p.SetMediaPreference(ctx, uid, *patch.MediaPreference); err != nil {
			return err
		}
	}
	if patch.Caption != nil {
		if err := p.SetCaption(ctx, uid, *patch.Caption); err != nil {
			return err
		}
	}
	if patch.Thumbnail != nil {
		if err := p.SetThumbnail(ctx, uid, *patch.Thumbnail); err != nil {
			return err
		}
	}
	m := patch.Metadata
	if m == nil {
		return nil
	}
	if m.Enabled != nil {
		if err := p.SetMetadataEnabled(ctx, uid, *m.Enabled); err != nil {
			return err
		}
	}
	fields := []struct {
		name  string
		value *string
	}{
		{"title", m.Title},
		{"author", m.Author},
		{"artist", m.Artist},
		{"audio", m.Audio},
		{"subtitle", m.Subtitle},
		{"video", m.Video},
		{"encoded_by", m.EncodedBy},
		{"custom_tag", m.CustomTag},
	}
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		if err := p.SetMetadataField(ctx, uid, f.name, *f.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := s.opts.Ledger.Account(r.Context(), uid)
	if err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, err.Error())
		return
	}
	active := acct.ActivePremium(s.opts.Now())
	resp := Account{
		UserID:        uid,
		Credits:       acct.Credits,
		Premium:       acct.Premium,
		PremiumActive: active,
		PremiumExpiry: acct.PremiumExpiry,
	}
	if s.opts.Limits != nil {
		resp.Role = string(s.opts.Limits.Role(uid, active))
		resp.Capacity = s.opts.Limits.CapacityFor(uid, active)
		resp.InFlight = s.opts.Limits.InFlight(uid)
	}
	writeJSON(w, http.StatusOK, resp)
}

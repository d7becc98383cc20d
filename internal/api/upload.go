package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ashureev/jobmato-assistant/internal/agent"
	"github.com/ashureev/jobmato-assistant/internal/gateway"
	"github.com/ashureev/jobmato-assistant/internal/session"
)

// Multipart framing and the text fields ride on top of the file itself.
const uploadFormSlack = 1 << 20

// ResumeUpload accepts a résumé file and forwards it to the backend.
func (h *Handler) ResumeUpload(w http.ResponseWriter, r *http.Request) {
	limit := h.upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, limit+uploadFormSlack)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			Error(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Debug("Failed to remove multipart temp files", "error", err)
		}
	}()

	claims, ok := h.authenticate(w, r, r.FormValue("token"))
	if !ok {
		return
	}

	file, header, err := formFile(r, "resume", "file")
	if err != nil {
		Error(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !slices.Contains(h.upload.AllowedExtensions, ext) {
		Error(w, http.StatusBadRequest, "unsupported file type, allowed: "+strings.Join(h.upload.AllowedExtensions, ", "))
		return
	}
	if header.Size > limit {
		Error(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	content, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		Error(w, http.StatusBadRequest, "could not read file")
		return
	}
	if int64(len(content)) > limit {
		Error(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if len(content) == 0 {
		Error(w, http.StatusBadRequest, "file is empty")
		return
	}

	sessionID := r.FormValue("sessionId")
	if sessionID == "" {
		sessionID = r.FormValue("session_id")
	}
	if sessionID != "" {
		if _, err := h.registry.GetOwned(r.Context(), sessionID, claims.UserID); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				Error(w, http.StatusNotFound, "session not found")
				return
			}
			slog.Error("Failed to resolve session", "session_id", sessionID, "error", err)
			Error(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
	}

	upload := agent.Upload{
		Filename:    header.Filename,
		ContentType: gateway.ContentTypeFor(header.Filename),
		Content:     content,
	}
	turn := agent.Turn{SessionID: sessionID, UserID: claims.UserID, Claims: claims}
	inv, err := h.agent.UploadResume(context.WithoutCancel(r.Context()), turn, upload)

	if sessionID != "" && h.notifier != nil {
		h.notifier.NotifyUpload(sessionID, string(inv.Status), upload.Filename)
	}

	if err != nil {
		slog.Warn("Resume upload failed", "user_id", claims.UserID, "filename", upload.Filename, "error", err)
		JSON(w, http.StatusBadGateway, map[string]any{
			"status":   inv.Status,
			"filename": upload.Filename,
			"error":    inv.Error,
		})
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"status":    inv.Status,
		"filename":  upload.Filename,
		"sessionId": sessionID,
		"result":    inv.Result,
	})
}

func formFile(r *http.Request, fields ...string) (multipart.File, *multipart.FileHeader, error) {
	var lastErr error
	for _, field := range fields {
		file, header, err := r.FormFile(field)
		if err == nil {
			return file, header, nil
		}
		lastErr = err
	}
	return nil, nil, lastErr
}

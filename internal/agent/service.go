package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/jobmato-assistant/internal/classifier"
	"github.com/ashureev/jobmato-assistant/internal/conversation"
	"github.com/ashureev/jobmato-assistant/internal/domain"
)

// Service runs one conversational turn end to end.
type Service struct {
	memory     *conversation.Manager
	classifier classifier.Classifier
	dispatcher *Dispatcher
	composer   *Composer
	cfg        Config
}

// NewService wires the turn pipeline.
func NewService(cfg Config, memory *conversation.Manager, cls classifier.Classifier, dispatcher *Dispatcher, composer *Composer) *Service {
	return &Service{
		memory:     memory,
		classifier: cls,
		dispatcher: dispatcher,
		composer:   composer,
		cfg:        cfg.withDefaults(),
	}
}

// Validate checks a user message and returns it trimmed.
func (s *Service) Validate(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > s.cfg.MaxMessageLength {
		return "", fmt.Errorf("%w: limit is %d characters", ErrMessageTooLong, s.cfg.MaxMessageLength)
	}
	return text, nil
}

// Respond classifies the message, runs the tools, composes the answer and
// records both turns. The turn runs to completion even if ctx is cancelled;
// a persistence failure is logged and the reply is still returned.
func (s *Service) Respond(ctx context.Context, turn Turn) (*Reply, error) {
	text, err := s.Validate(turn.Text)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TurnTimeout)
	defer cancel()

	started := time.Now()
	userMsg := &domain.Message{Role: domain.RoleUser, Text: text, Timestamp: started}

	history, err := s.memory.Window(ctx, turn.SessionID)
	if err != nil {
		slog.Warn("Context window unavailable", "session_id", turn.SessionID, "error", err)
	}

	verdict, err := s.classifier.Classify(ctx, text, history)
	if err != nil {
		slog.Warn("Classification failed, treating as general chat", "session_id", turn.SessionID, "error", err)
		verdict = domain.Classification{Category: domain.CategoryGeneralChat, Confidence: 0.5, Source: classifier.SourceRules}
	}

	req := Request{Text: text, Classification: verdict, Claims: turn.Claims}
	invs := s.dispatcher.Dispatch(ctx, req)
	answer := s.composer.Compose(ctx, req, history, invs)

	reply := &Reply{Text: answer, Category: verdict.Category, ToolInvocations: invs}
	assistantMsg := &domain.Message{
		Role:            domain.RoleAssistant,
		Text:            answer,
		Timestamp:       time.Now(),
		Category:        verdict.Category,
		ToolInvocations: invs,
	}
	if err := s.memory.Append(ctx, turn.SessionID, turn.UserID, userMsg, assistantMsg); err != nil {
		var perr *conversation.PersistenceError
		if errors.As(err, &perr) {
			slog.Error("Turn not persisted, retry scheduled", "session_id", turn.SessionID, "error", perr.Err)
		} else {
			slog.Error("Turn not persisted", "session_id", turn.SessionID, "error", err)
		}
	}

	slog.Info("Turn complete",
		"session_id", turn.SessionID,
		"user_id", turn.UserID,
		"category", verdict.Category,
		"source", verdict.Source,
		"tools", len(invs),
		"duration_ms", time.Since(started).Milliseconds())
	return reply, nil
}

// UploadResume forwards a résumé to the backend and records a system entry
// in the session's history. The upload runs to completion even if ctx is
// cancelled.
func (s *Service) UploadResume(ctx context.Context, turn Turn, upload Upload) (domain.ToolInvocation, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TurnTimeout)
	defer cancel()

	req := Request{
		Text:           "upload resume " + upload.Filename,
		Classification: domain.Classification{Category: domain.CategoryResumeUpload, Confidence: 1, Source: classifier.SourceRules},
		Claims:         turn.Claims,
		Upload:         &upload,
	}
	invs := s.dispatcher.Dispatch(ctx, req)

	inv := domain.ToolInvocation{ToolName: domain.ToolResumeUpload, Status: domain.ToolStatusSkipped, Error: "no upload step"}
	for _, candidate := range invs {
		if candidate.ToolName == domain.ToolResumeUpload {
			inv = candidate
			break
		}
	}

	text := fmt.Sprintf("Resume uploaded: %s", upload.Filename)
	if !inv.OK() {
		text = fmt.Sprintf("Resume upload failed: %s", upload.Filename)
	}
	msg := &domain.Message{
		Role:            domain.RoleSystem,
		Text:            text,
		Category:        domain.CategoryResumeUpload,
		ToolInvocations: []domain.ToolInvocation{inv},
	}
	if turn.SessionID != "" {
		if err := s.memory.Append(ctx, turn.SessionID, turn.UserID, msg); err != nil {
			slog.Error("Upload notice not persisted", "session_id", turn.SessionID, "error", err)
		}
	}

	if !inv.OK() {
		return inv, fmt.Errorf("%w: %s", ErrUploadFailed, inv.Error)
	}
	slog.Info("Resume uploaded", "session_id", turn.SessionID, "user_id", turn.UserID, "filename", upload.Filename)
	return inv, nil
}

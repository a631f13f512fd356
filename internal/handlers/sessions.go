package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Brownie44l1/fer-lens/internal/domain"
)

type SessionService interface {
	Start(ctx context.Context, userID string) (*domain.Session, error)
	RecordEmotions(ctx context.Context, id string, samples []domain.EmotionSample) error
	RecordEvent(ctx context.Context, id, eventType string, detail any) error
	End(ctx context.Context, id string) (*domain.SessionSummary, error)
	Summary(ctx context.Context, id string) (*domain.SessionSummary, error)
}

// Session payloads carry timestamps as Unix milliseconds.

type emotionSample struct {
	Emotion string `json:"emotion"`
	TS      int64  `json:"ts"`
}

type eventRequest struct {
	Type   string `json:"type"`
	Detail any    `json:"detail"`
}

type eventJSON struct {
	Type    string `json:"type"`
	Emotion string `json:"emotion,omitempty"`
	Detail  any    `json:"detail,omitempty"`
	TS      int64  `json:"ts"`
}

type sessionJSON struct {
	ID            string              `json:"id"`
	UserID        string              `json:"userId"`
	StartAt       int64               `json:"startAt"`
	EndAt         *int64              `json:"endAt"`
	EmotionCounts map[string]int      `json:"emotionCounts"`
	Events        []eventJSON         `json:"events"`
	Stats         domain.SessionStats `json:"stats"`
}

func toSessionJSON(s *domain.SessionSummary) sessionJSON {
	out := sessionJSON{
		ID:            s.ID,
		UserID:        s.UserID,
		StartAt:       s.StartAt.UnixMilli(),
		EmotionCounts: s.EmotionCounts,
		Events:        make([]eventJSON, 0, len(s.Events)),
		Stats:         s.Stats,
	}
	if s.EndAt != nil {
		end := s.EndAt.UnixMilli()
		out.EndAt = &end
	}
	for _, ev := range s.Events {
		out.Events = append(out.Events, eventJSON{
			Type:    ev.Type,
			Emotion: ev.Emotion,
			Detail:  ev.Detail,
			TS:      ev.At.UnixMilli(),
		})
	}
	return out
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := decodeOptional(w, r, h.maxUpload, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	sess, err := h.sessions.Start(r.Context(), req.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "sessionId": sess.ID})
}

// RecordEmotion accepts a single sample object or an array of them.
func (h *Handler) RecordEmotion(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, r, bodyError(err))
		return
	}

	var items []emotionSample
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &items)
	} else {
		var one emotionSample
		err = json.Unmarshal(trimmed, &one)
		items = []emotionSample{one}
	}
	if err != nil {
		h.respondError(w, r, bodyError(err))
		return
	}

	samples := make([]domain.EmotionSample, 0, len(items))
	for _, it := range items {
		s := domain.EmotionSample{Emotion: it.Emotion}
		if it.TS > 0 {
			s.At = time.UnixMilli(it.TS)
		}
		samples = append(samples, s)
	}

	if err := h.sessions.RecordEmotions(r.Context(), r.PathValue("id"), samples); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeOptional(w, r, h.maxUpload, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.sessions.RecordEvent(r.Context(), r.PathValue("id"), req.Type, req.Detail); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sessions.End(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "session": toSessionJSON(summary)})
}

func (h *Handler) SessionSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sessions.Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "session": toSessionJSON(summary)})
}

// decodeOptional decodes a JSON body into v, treating an empty body as {}.
func decodeOptional(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return bodyError(err)
}

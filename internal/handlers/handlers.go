package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/Brownie44l1/fer-lens/internal/domain"
	"github.com/Brownie44l1/fer-lens/internal/emotion"
	"github.com/Brownie44l1/fer-lens/internal/imaging"
	"github.com/Brownie44l1/fer-lens/internal/metrics"
	"github.com/Brownie44l1/fer-lens/internal/model"
)

const defaultMaxUpload = 10 << 20

type EmotionService interface {
	Detect(ctx context.Context, data []byte) (*emotion.Result, error)
	Classify(ctx context.Context, input []float32) (*model.Prediction, error)
}

type StatsSource interface {
	Snapshot() map[string]metrics.StageLatency
}

type Handler struct {
	emotions  EmotionService
	sessions  SessionService
	stats     StatsSource
	maxUpload int64
	logger    *slog.Logger
}

func NewHandler(emotions EmotionService, sessions SessionService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		emotions:  emotions,
		sessions:  sessions,
		maxUpload: defaultMaxUpload,
		logger:    logger,
	}
}

func (h *Handler) WithStats(s StatsSource) *Handler {
	h.stats = s
	return h
}

func (h *Handler) WithMaxUpload(n int64) *Handler {
	if n > 0 {
		h.maxUpload = n
	}
	return h
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /api/stats", h.Stats)
	mux.HandleFunc("POST /api/detect", h.Detect)
	mux.HandleFunc("POST /api/predict", h.Predict)
	mux.HandleFunc("POST /api/predict/image", h.PredictFromImage)
	mux.HandleFunc("POST /detect-emotion", h.DetectEmotionUpload)

	mux.HandleFunc("POST /session/start", h.StartSession)
	mux.HandleFunc("POST /session/{id}/emotion", h.RecordEmotion)
	mux.HandleFunc("POST /session/{id}/event", h.RecordEvent)
	mux.HandleFunc("POST /session/{id}/end", h.EndSession)
	mux.HandleFunc("GET /session/{id}/summary", h.SessionSummary)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Flask API running fine!",
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stages := map[string]metrics.StageLatency{}
	if h.stats != nil {
		stages = h.stats.Snapshot()
	}
	respondJSON(w, http.StatusOK, map[string]any{"stages": stages})
}

type detectRequest struct {
	Image *string `json:"image"`
}

// Detect classifies a base64 encoded frame.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, bodyError(err))
		return
	}
	if req.Image == nil || *req.Image == "" {
		h.respondError(w, r, domain.ErrNoImage)
		return
	}

	data, err := imaging.DecodeBase64(*req.Image)
	if err != nil {
		h.respondError(w, r, domain.ErrInvalidImage.WithError(err))
		return
	}

	res, err := h.emotions.Detect(r.Context(), data)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"emotion": res.Emotion})
}

// Predict runs the classifier on a caller-built tensor.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	var req model.PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, bodyError(err))
		return
	}

	result, err := h.emotions.Classify(r.Context(), req.Image)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// PredictFromImage runs the detect pipeline on a multipart upload and returns
// the full result with scores and the face box.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	data, err := h.readUpload(w, r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	res, err := h.emotions.Detect(r.Context(), data)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// DetectEmotionUpload is the multipart variant used by browser clients.
func (h *Handler) DetectEmotionUpload(w http.ResponseWriter, r *http.Request) {
	data, err := h.readUpload(w, r)
	if err == nil {
		var res *emotion.Result
		res, err = h.emotions.Detect(r.Context(), data)
		if err == nil {
			respondJSON(w, http.StatusOK, map[string]any{"success": true, "emotion": res.Emotion})
			return
		}
	}

	h.logError(r, err)
	respondJSON(w, domain.StatusOf(err), map[string]any{"success": false, "error": errorMessage(err)})
}

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		if tooLarge(err) {
			return nil, domain.ErrImageTooLarge.WithError(err)
		}
		return nil, domain.ErrBadRequest.WithError(err)
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, domain.ErrNoImage.WithError(err)
	}
	defer file.Close()

	h.logger.DebugContext(r.Context(), "received upload",
		slog.String("filename", header.Filename),
		slog.Int64("size", header.Size),
	)
	return readFile(file)
}

func readFile(f multipart.File) ([]byte, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, domain.ErrBadRequest.WithError(err)
	}
	return data, nil
}

func bodyError(err error) error {
	if tooLarge(err) {
		return domain.ErrImageTooLarge.WithError(err)
	}
	return &domain.AppError{
		Code:       domain.ErrBadRequest.Code,
		Message:    "Invalid JSON",
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || errors.Is(err, multipart.ErrMessageTooLarge)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	h.logError(r, err)
	respondJSON(w, domain.StatusOf(err), map[string]string{"error": errorMessage(err)})
}

func (h *Handler) logError(r *http.Request, err error) {
	status := domain.StatusOf(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
}

// errorMessage is the client-facing text: the AppError message when there is
// one, the error itself otherwise.
func errorMessage(err error) string {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

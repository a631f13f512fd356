// Package emotion implements the detect pipeline: decode, locate the face,
// crop, resize, normalise, classify.
package emotion

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/Brownie44l1/fer-lens/internal/domain"
	"github.com/Brownie44l1/fer-lens/internal/explain"
	"github.com/Brownie44l1/fer-lens/internal/facedetect"
	"github.com/Brownie44l1/fer-lens/internal/imaging"
	"github.com/Brownie44l1/fer-lens/internal/metrics"
	"github.com/Brownie44l1/fer-lens/internal/model"
)

type Classifier interface {
	Predict(ctx context.Context, input []float32) (*model.Prediction, error)
}

type GradientSource interface {
	Gradients(ctx context.Context, input []float32, classIndex int, layer string) (*explain.LayerGradients, error)
	Layers() []string
}

type Timings struct {
	Decode     time.Duration `json:"decode"`
	Detect     time.Duration `json:"detect"`
	Preprocess time.Duration `json:"preprocess"`
	Inference  time.Duration `json:"inference"`
	Total      time.Duration `json:"total"`
}

// Box is a face location in frame pixels.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func NewBox(r image.Rectangle) *Box {
	return &Box{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

type Result struct {
	Emotion     string             `json:"emotion"`
	Confidence  float32            `json:"confidence,omitempty"`
	Predictions map[string]float32 `json:"predictions,omitempty"`
	Face        *Box               `json:"face,omitempty"`
	Timings     Timings            `json:"-"`
}

type Service struct {
	detector   facedetect.Detector
	classifier Classifier
	meta       model.Metadata
	offsetX    int
	offsetY    int
	latency    *metrics.LatencyTracker
	explainer  GradientSource
	logger     *slog.Logger
}

func NewService(detector facedetect.Detector, classifier Classifier, meta model.Metadata, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		detector:   detector,
		classifier: classifier,
		meta:       meta,
		offsetX:    20,
		offsetY:    40,
		logger:     logger,
	}
}

func (s *Service) WithOffsets(x, y int) *Service {
	s.offsetX, s.offsetY = x, y
	return s
}

func (s *Service) WithLatency(t *metrics.LatencyTracker) *Service {
	s.latency = t
	return s
}

func (s *Service) WithExplainer(e GradientSource) *Service {
	s.explainer = e
	return s
}

// faceInput is a located, cropped and normalised face ready for the network.
type faceInput struct {
	box    image.Rectangle
	crop   *image.Gray
	tensor []float32
}

// Detect classifies the first face in an encoded image. A frame without a
// face yields the no_face_detected label and a nil error.
func (s *Service) Detect(ctx context.Context, data []byte) (*Result, error) {
	start := time.Now()
	var timings Timings

	face, err := s.prepare(ctx, data, &timings)
	if errors.Is(err, domain.ErrNoFace) {
		timings.Total = time.Since(start)
		return &Result{Emotion: domain.NoFaceLabel, Timings: timings}, nil
	}
	if err != nil {
		return nil, err
	}

	t := time.Now()
	pred, err := s.classifier.Predict(ctx, face.tensor)
	timings.Inference = time.Since(t)
	s.latency.Observe(metrics.StageInference, timings.Inference, err)
	if err != nil {
		return nil, fmt.Errorf("classify face: %w", err)
	}
	timings.Total = time.Since(start)

	s.logger.DebugContext(ctx, "emotion detected",
		slog.String("emotion", pred.Class),
		slog.Float64("confidence", float64(pred.Confidence)),
		slog.Duration("total", timings.Total),
	)

	return &Result{
		Emotion:     pred.Class,
		Confidence:  pred.Confidence,
		Predictions: pred.Predictions,
		Face:        NewBox(face.box),
		Timings:     timings,
	}, nil
}

// Classify runs the network on a caller-built input tensor.
func (s *Service) Classify(ctx context.Context, input []float32) (*model.Prediction, error) {
	t := time.Now()
	pred, err := s.classifier.Predict(ctx, input)
	s.latency.Observe(metrics.StageInference, time.Since(t), err)
	return pred, err
}

func (s *Service) prepare(ctx context.Context, data []byte, timings *Timings) (*faceInput, error) {
	if len(data) == 0 {
		return nil, domain.ErrNoImage
	}

	t := time.Now()
	img, format, err := imaging.Decode(data)
	if err == nil && (img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0) {
		err = imaging.ErrEmptyImage
	}
	timings.Decode = time.Since(t)
	s.latency.Observe(metrics.StageDecode, timings.Decode, err)
	if err != nil {
		return nil, domain.ErrInvalidImage.WithError(err)
	}
	gray := imaging.ToGray(img)

	t = time.Now()
	faces, err := s.detector.Detect(ctx, gray)
	timings.Detect = time.Since(t)
	s.latency.Observe(metrics.StageDetect, timings.Detect, err)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	if len(faces) == 0 {
		s.logger.DebugContext(ctx, "no face in frame",
			slog.String("format", format),
			slog.Int("width", gray.Bounds().Dx()),
			slog.Int("height", gray.Bounds().Dy()),
		)
		return nil, domain.ErrNoFace
	}

	t = time.Now()
	box := faces[0]
	crop, err := imaging.Crop(gray, imaging.ApplyOffsets(box, s.offsetX, s.offsetY))
	if err != nil {
		s.latency.ObserveError(metrics.StagePreprocess, time.Since(t))
		return nil, fmt.Errorf("crop face: %w", err)
	}
	w, h := s.meta.InputSize()
	crop = imaging.Resize(crop, w, h)
	tensor, err := imaging.Tensor(imaging.Normalize(crop, s.meta.Scaled), w, h, s.meta.Layout, s.meta.Channels())
	timings.Preprocess = time.Since(t)
	s.latency.Observe(metrics.StagePreprocess, timings.Preprocess, err)
	if err != nil {
		return nil, fmt.Errorf("build input tensor: %w", err)
	}

	return &faceInput{box: box, crop: crop, tensor: tensor}, nil
}

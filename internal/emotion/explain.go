package emotion

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/Brownie44l1/fer-lens/internal/explain"
	"github.com/Brownie44l1/fer-lens/internal/metrics"
	"github.com/Brownie44l1/fer-lens/internal/model"
)

// PredictedClass asks Explain to target the class the network picked.
const PredictedClass = -1

var ErrExplainUnavailable = errors.New("explain model not loaded")

type ExplainRequest struct {
	Image []byte
	Layer string
	// Class is the target class index, or PredictedClass.
	Class int
	// Size is the edge of the square output maps; zero keeps the model input size.
	Size int
}

type Explanation struct {
	Face       *image.Gray
	Box        image.Rectangle
	Prediction *model.Prediction
	Target     string
	Layer      string
	Maps       *explain.Maps
}

// Explain locates and classifies the face like Detect, then computes the
// Grad-CAM, saliency and guided maps for the requested layer and class.
func (s *Service) Explain(ctx context.Context, req ExplainRequest) (*Explanation, error) {
	if s.explainer == nil {
		return nil, ErrExplainUnavailable
	}

	var timings Timings
	face, err := s.prepare(ctx, req.Image, &timings)
	if err != nil {
		return nil, err
	}

	pred, err := s.Classify(ctx, face.tensor)
	if err != nil {
		return nil, fmt.Errorf("classify face: %w", err)
	}

	target := req.Class
	if target == PredictedClass {
		target = pred.Index
	}
	if target < 0 || target >= len(s.meta.Classes) {
		return nil, fmt.Errorf("target class %d out of range [0,%d)", target, len(s.meta.Classes))
	}

	t := time.Now()
	lg, err := s.explainer.Gradients(ctx, face.tensor, target, req.Layer)
	s.latency.Observe(metrics.StageExplain, time.Since(t), err)
	if err != nil {
		return nil, err
	}

	w, h := s.meta.InputSize()
	if req.Size > 0 {
		w, h = req.Size, req.Size
	}
	maps, err := explain.Compute(lg, w, h)
	if err != nil {
		return nil, err
	}

	return &Explanation{
		Face:       face.crop,
		Box:        face.box,
		Prediction: pred,
		Target:     s.meta.Classes[target],
		Layer:      lg.Layer,
		Maps:       maps,
	}, nil
}

func (s *Service) Layers() []string {
	if s.explainer == nil {
		return nil
	}
	return s.explainer.Layers()
}

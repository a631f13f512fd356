// Package cascade wraps the OpenCV Haar cascade face detector.
package cascade

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/Brownie44l1/fer-lens/internal/facedetect"
)

type Params struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      image.Point
}

// DefaultParams mirrors the detectMultiScale(gray, 1.3, 5) call the
// classifier was tuned against.
func DefaultParams() Params {
	return Params{ScaleFactor: 1.3, MinNeighbors: 5}
}

// Detector is a Haar cascade face detector. The underlying classifier is not
// safe for concurrent use.
type Detector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	params     Params
}

var _ facedetect.Detector = (*Detector)(nil)

func New(path string, params Params) (*Detector, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load face cascade classifier from %s", path)
	}
	return &Detector{classifier: classifier, params: params}, nil
}

func (c *Detector) Detect(ctx context.Context, frame *image.Gray) ([]image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageGrayToMatGray(frame)
	if err != nil {
		return nil, fmt.Errorf("frame to mat: %w", err)
	}
	defer mat.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	rects := c.classifier.DetectMultiScaleWithParams(mat,
		c.params.ScaleFactor, c.params.MinNeighbors, 0,
		c.params.MinSize, image.Point{})
	return rects, nil
}

func (c *Detector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classifier.Close()
}

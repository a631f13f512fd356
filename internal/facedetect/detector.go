// Package facedetect locates faces in greyscale frames.
package facedetect

import (
	"context"
	"image"
)

// Detector returns face boxes in frame coordinates. An empty result with a
// nil error means the frame holds no face.
type Detector interface {
	Detect(ctx context.Context, frame *image.Gray) ([]image.Rectangle, error)
	Close() error
}

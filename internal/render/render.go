// Package render draws explain maps with OpenCV.
package render

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/Brownie44l1/fer-lens/internal/explain"
)

// Heatmap colours a [0,1] map with the JET palette. The caller closes the Mat.
func Heatmap(p explain.Plane) (gocv.Mat, error) {
	gray, err := gocv.ImageGrayToMatGray(explain.ToGray(p))
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("heatmap to mat: %w", err)
	}
	defer gray.Close()

	colored := gocv.NewMat()
	gocv.ApplyColorMap(gray, &colored, gocv.ColormapJet)
	return colored, nil
}

// Overlay blends the JET heatmap over the min-max normalised face crop, half
// and half. The heatmap is resampled to the crop size first.
func Overlay(face *image.Gray, heatmap explain.Plane) (gocv.Mat, error) {
	w, h := face.Bounds().Dx(), face.Bounds().Dy()
	heat, err := Heatmap(explain.ResizePlane(heatmap, w, h))
	if err != nil {
		return gocv.NewMat(), err
	}
	defer heat.Close()

	base, err := GrayToBGR(normalizeGray(face))
	if err != nil {
		return gocv.NewMat(), err
	}
	defer base.Close()

	out := gocv.NewMat()
	gocv.AddWeighted(heat, 0.5, base, 0.5, 0, &out)
	return out, nil
}

// GrayToBGR replicates a grey image into three channels.
func GrayToBGR(img *image.Gray) (gocv.Mat, error) {
	gray, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("gray to mat: %w", err)
	}
	defer gray.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(gray, &bgr, gocv.ColorGrayToBGR)
	return bgr, nil
}

func normalizeGray(img *image.Gray) *image.Gray {
	lo, hi := uint8(255), uint8(0)
	for _, p := range img.Pix {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if hi == lo {
		return img
	}
	out := image.NewGray(img.Rect)
	span := float64(hi - lo)
	for i, p := range img.Pix {
		out.Pix[i] = uint8(float64(p-lo) / span * 255)
	}
	return out
}

// Write encodes mat to path, the format following the file extension.
func Write(path string, mat gocv.Mat) error {
	if mat.Empty() {
		return fmt.Errorf("refusing to write empty image to %s", path)
	}
	if ok := gocv.IMWrite(path, mat); !ok {
		return fmt.Errorf("failed to write %s", path)
	}
	return nil
}

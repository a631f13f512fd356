// Package explain turns conv-layer activations and gradients into Grad-CAM,
// saliency and guided Grad-CAM maps.
package explain

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// Volume is a single H×W×C feature map stored channel-last.
type Volume struct {
	H, W, C int
	Data    []float32
}

func (v Volume) At(y, x, c int) float32 {
	return v.Data[(y*v.W+x)*v.C+c]
}

func (v Volume) valid() error {
	if v.H <= 0 || v.W <= 0 || v.C <= 0 || len(v.Data) != v.H*v.W*v.C {
		return fmt.Errorf("volume %dx%dx%d holds %d values", v.H, v.W, v.C, len(v.Data))
	}
	return nil
}

// Plane is a single H×W map, row-major.
type Plane struct {
	H, W int
	Data []float32
}

func NewPlane(h, w int) Plane {
	return Plane{H: h, W: w, Data: make([]float32, h*w)}
}

func (p Plane) At(y, x int) float32 {
	return p.Data[y*p.W+x]
}

func (p Plane) Max() float32 {
	m := float32(math.Inf(-1))
	for _, v := range p.Data {
		if v > m {
			m = v
		}
	}
	return m
}

func (p Plane) Min() float32 {
	m := float32(math.Inf(1))
	for _, v := range p.Data {
		if v < m {
			m = v
		}
	}
	return m
}

var ErrShapeMismatch = errors.New("activation and gradient shapes differ")

// ChannelWeights global-average-pools gradients over the spatial dims.
func ChannelWeights(grads Volume) []float32 {
	weights := make([]float32, grads.C)
	n := float32(grads.H * grads.W)
	for y := 0; y < grads.H; y++ {
		for x := 0; x < grads.W; x++ {
			for c := 0; c < grads.C; c++ {
				weights[c] += grads.At(y, x, c)
			}
		}
	}
	for c := range weights {
		weights[c] /= n
	}
	return weights
}

// GradCAM weights each activation channel by its pooled gradient, sums,
// rectifies and scales the result so its maximum is 1. An all-zero map stays zero.
func GradCAM(activations, grads Volume) (Plane, error) {
	if err := activations.valid(); err != nil {
		return Plane{}, err
	}
	if activations.H != grads.H || activations.W != grads.W || activations.C != grads.C {
		return Plane{}, fmt.Errorf("%w: %dx%dx%d vs %dx%dx%d", ErrShapeMismatch,
			activations.H, activations.W, activations.C, grads.H, grads.W, grads.C)
	}
	if err := grads.valid(); err != nil {
		return Plane{}, err
	}

	weights := ChannelWeights(grads)
	cam := NewPlane(activations.H, activations.W)
	for y := 0; y < activations.H; y++ {
		for x := 0; x < activations.W; x++ {
			var sum float32
			for c, w := range weights {
				sum += w * activations.At(y, x, c)
			}
			if sum > 0 {
				cam.Data[y*cam.W+x] = sum
			}
		}
	}

	if m := cam.Max(); m != 0 {
		for i := range cam.Data {
			cam.Data[i] /= m
		}
	}
	return cam, nil
}

// Saliency is the largest absolute input gradient across channels per pixel.
func Saliency(inputGrads Volume) (Plane, error) {
	if err := inputGrads.valid(); err != nil {
		return Plane{}, err
	}
	out := NewPlane(inputGrads.H, inputGrads.W)
	for y := 0; y < inputGrads.H; y++ {
		for x := 0; x < inputGrads.W; x++ {
			var m float32
			for c := 0; c < inputGrads.C; c++ {
				if v := float32(math.Abs(float64(inputGrads.At(y, x, c)))); v > m {
					m = v
				}
			}
			out.Data[y*out.W+x] = m
		}
	}
	return out, nil
}

// MinMax rescales p to [0,1]. A flat map becomes all zeros.
func MinMax(p Plane) Plane {
	out := NewPlane(p.H, p.W)
	lo, hi := p.Min(), p.Max()
	if hi == lo {
		return out
	}
	span := hi - lo
	for i, v := range p.Data {
		out.Data[i] = (v - lo) / span
	}
	return out
}

// Guided multiplies a normalised saliency map by a Grad-CAM heatmap after
// resampling both to w×h.
func Guided(saliency, heatmap Plane, w, h int) Plane {
	s := ResizePlane(MinMax(saliency), w, h)
	hm := ResizePlane(heatmap, w, h)
	out := NewPlane(h, w)
	for i := range out.Data {
		out.Data[i] = s.Data[i] * hm.Data[i]
	}
	return out
}

// ResizePlane resamples p to w×h with bilinear interpolation on pixel centres.
func ResizePlane(p Plane, w, h int) Plane {
	if p.W == w && p.H == h {
		out := NewPlane(h, w)
		copy(out.Data, p.Data)
		return out
	}
	out := NewPlane(h, w)
	sx := float64(p.W) / float64(w)
	sy := float64(p.H) / float64(h)
	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)*sy - 0.5
		y0, y1, ty := neighbours(fy, p.H)
		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)*sx - 0.5
			x0, x1, tx := neighbours(fx, p.W)
			top := float64(p.At(y0, x0))*(1-tx) + float64(p.At(y0, x1))*tx
			bottom := float64(p.At(y1, x0))*(1-tx) + float64(p.At(y1, x1))*tx
			out.Data[y*w+x] = float32(top*(1-ty) + bottom*ty)
		}
	}
	return out
}

func neighbours(f float64, n int) (int, int, float64) {
	if f <= 0 {
		return 0, 0, 0
	}
	if f >= float64(n-1) {
		return n - 1, n - 1, 0
	}
	i := int(math.Floor(f))
	return i, i + 1, f - float64(i)
}

// Deprocess standardises p and maps it into a viewable 8-bit image.
func Deprocess(p Plane) *image.Gray {
	var mean float64
	for _, v := range p.Data {
		mean += float64(v)
	}
	mean /= float64(len(p.Data))

	var variance float64
	for _, v := range p.Data {
		d := float64(v) - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(p.Data)))

	out := image.NewGray(image.Rect(0, 0, p.W, p.H))
	for i, v := range p.Data {
		x := (float64(v) - mean) / (std + 1e-5)
		x = x*0.1 + 0.5
		out.Pix[i] = uint8(clamp01(x) * 255)
	}
	return out
}

// ToGray maps a [0,1] plane to 8-bit grey.
func ToGray(p Plane) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, p.W, p.H))
	for i, v := range p.Data {
		out.Pix[i] = uint8(clamp01(float64(v)) * 255)
	}
	return out
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

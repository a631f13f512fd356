package imaging

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

type Layout string

const (
	LayoutNHWC Layout = "nhwc"
	LayoutNCHW Layout = "nchw"
)

// ApplyOffsets grows a face box by dx on the left and right and dy on the top
// and bottom. The result may extend past the frame; Crop clamps it.
func ApplyOffsets(r image.Rectangle, dx, dy int) image.Rectangle {
	return image.Rect(r.Min.X-dx, r.Min.Y-dy, r.Max.X+dx, r.Max.Y+dy)
}

// Crop copies the part of g inside r into a new image anchored at (0,0).
func Crop(g *image.Gray, r image.Rectangle) (*image.Gray, error) {
	r = r.Intersect(g.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("crop %v lies outside frame %v", r, g.Bounds())
	}
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		src := g.Pix[g.PixOffset(r.Min.X, r.Min.Y+y):]
		copy(out.Pix[y*out.Stride:y*out.Stride+r.Dx()], src[:r.Dx()])
	}
	return out, nil
}

func Resize(g *image.Gray, width, height int) *image.Gray {
	if g.Bounds().Dx() == width && g.Bounds().Dy() == height {
		return g
	}
	resized := resize.Resize(uint(width), uint(height), g, resize.Bilinear)
	if out, ok := resized.(*image.Gray); ok {
		return out
	}
	return ToGray(resized)
}

// Normalize maps pixels to [0,1], or to [-1,1] when scaled is set.
func Normalize(g *image.Gray, scaled bool) []float32 {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	out := make([]float32, 0, w*h)
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for _, p := range row {
			v := float32(p) / 255.0
			if scaled {
				v = (v - 0.5) * 2.0
			}
			out = append(out, v)
		}
	}
	return out
}

// Tensor packs a normalised w*h plane into a batch-of-one input tensor. A
// single grey plane is replicated when the model expects three channels.
func Tensor(plane []float32, w, h int, layout Layout, channels int) ([]float32, error) {
	if len(plane) != w*h {
		return nil, fmt.Errorf("plane has %d values, want %dx%d", len(plane), w, h)
	}
	if channels == 1 {
		return plane, nil
	}
	if channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}

	out := make([]float32, 3*w*h)
	switch layout {
	case LayoutNCHW:
		for c := 0; c < 3; c++ {
			copy(out[c*w*h:], plane)
		}
	case LayoutNHWC:
		for i, v := range plane {
			out[3*i] = v
			out[3*i+1] = v
			out[3*i+2] = v
		}
	default:
		return nil, fmt.Errorf("unknown layout %q", layout)
	}
	return out, nil
}

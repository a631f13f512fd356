package explain

import "fmt"

// LayerGradients is what the explain graph returns for one conv layer and one
// target class.
type LayerGradients struct {
	Layer       string
	ClassIndex  int
	Activations Volume
	Gradients   Volume
	// InputGrads is the gradient of the layer's summed channel maxima with
	// respect to the input image.
	InputGrads Volume
}

type Maps struct {
	// Heatmap is the Grad-CAM map resampled to the output size, in [0,1].
	Heatmap  Plane
	Saliency Plane
	Guided   Plane
}

// Compute derives all three maps at w×h.
func Compute(lg *LayerGradients, w, h int) (*Maps, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid output size %dx%d", w, h)
	}
	cam, err := GradCAM(lg.Activations, lg.Gradients)
	if err != nil {
		return nil, fmt.Errorf("layer %s: grad-cam: %w", lg.Layer, err)
	}
	sal, err := Saliency(lg.InputGrads)
	if err != nil {
		return nil, fmt.Errorf("layer %s: saliency: %w", lg.Layer, err)
	}

	heatmap := ResizePlane(cam, w, h)
	return &Maps{
		Heatmap:  heatmap,
		Saliency: ResizePlane(MinMax(sal), w, h),
		Guided:   Guided(sal, heatmap, w, h),
	}, nil
}

package model

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/fer-lens/internal/domain"
	"github.com/Brownie44l1/fer-lens/internal/explain"
	"github.com/Brownie44l1/fer-lens/internal/imaging"
)

// Output name suffixes of the explain graph. For every instrumented conv
// layer L the graph exposes L/activation, L/gradient and L/saliency.
const (
	suffixActivation = "/activation"
	suffixGradient   = "/gradient"
	suffixSaliency   = "/saliency"

	classMaskInput = "class_mask"
)

type layerOutputs struct {
	activation ort.InputOutputInfo
	gradient   ort.InputOutputInfo
	saliency   ort.InputOutputInfo
}

// Explainer runs the gradient graph exported alongside the classifier.
type Explainer struct {
	mu       sync.Mutex
	path     string
	Metadata Metadata
	layers   map[string]layerOutputs
	order    []string
	sessions map[string]*ort.DynamicAdvancedSession
}

func OpenExplainer(path string, meta Metadata, libraryPath string) (*Explainer, error) {
	if err := acquireEnvironment(libraryPath); err != nil {
		return nil, err
	}

	_, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("failed to inspect explain model: %w", err)
	}

	layers, order := groupLayerOutputs(outputs)
	if len(order) == 0 {
		releaseEnvironment()
		return nil, fmt.Errorf("explain model %s exposes no layer outputs", path)
	}

	return &Explainer{
		path:     path,
		Metadata: meta,
		layers:   layers,
		order:    order,
		sessions: make(map[string]*ort.DynamicAdvancedSession),
	}, nil
}

func groupLayerOutputs(outputs []ort.InputOutputInfo) (map[string]layerOutputs, []string) {
	partial := make(map[string]*layerOutputs)
	var seen []string
	for _, o := range outputs {
		var layer string
		for _, suffix := range []string{suffixActivation, suffixGradient, suffixSaliency} {
			if strings.HasSuffix(o.Name, suffix) {
				layer = strings.TrimSuffix(o.Name, suffix)
			}
		}
		if layer == "" {
			continue
		}
		lo, ok := partial[layer]
		if !ok {
			lo = &layerOutputs{}
			partial[layer] = lo
			seen = append(seen, layer)
		}
		switch {
		case strings.HasSuffix(o.Name, suffixActivation):
			lo.activation = o
		case strings.HasSuffix(o.Name, suffixGradient):
			lo.gradient = o
		default:
			lo.saliency = o
		}
	}

	layers := make(map[string]layerOutputs)
	var order []string
	for _, name := range seen {
		lo := partial[name]
		if lo.activation.Name == "" || lo.gradient.Name == "" || lo.saliency.Name == "" {
			continue
		}
		layers[name] = *lo
		order = append(order, name)
	}
	return layers, order
}

// Layers lists the instrumented layers in graph order.
func (e *Explainer) Layers() []string {
	return append([]string(nil), e.order...)
}

// ResolveLayer finds a layer by exact name, falling back to the last layer
// whose name contains name.
func (e *Explainer) ResolveLayer(name string) (string, error) {
	return resolveLayer(e.order, name)
}

func resolveLayer(order []string, name string) (string, error) {
	for _, l := range order {
		if l == name {
			return l, nil
		}
	}
	for i := len(order) - 1; i >= 0; i-- {
		if name != "" && strings.Contains(order[i], name) {
			return order[i], nil
		}
	}
	return "", domain.ErrLayerNotFound.WithError(
		fmt.Errorf("layer %q not in %s", name, strings.Join(sortedCopy(order), ", ")))
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

// Gradients runs the graph for one input, target class and layer.
func (e *Explainer) Gradients(ctx context.Context, input []float32, classIndex int, layer string) (*explain.LayerGradients, error) {
	if len(input) != e.Metadata.InputLen() {
		return nil, domain.ErrModelInput.WithError(
			fmt.Errorf("expected %d values, got %d", e.Metadata.InputLen(), len(input)))
	}
	numClasses := len(e.Metadata.Classes)
	if classIndex < 0 || classIndex >= numClasses {
		return nil, fmt.Errorf("class index %d out of range [0,%d)", classIndex, numClasses)
	}
	resolved, err := e.ResolveLayer(layer)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	outs := e.layers[resolved]

	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := e.sessionFor(resolved, outs)
	if err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(e.Metadata.InputShape...), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	mask := make([]float32, numClasses)
	mask[classIndex] = 1
	maskTensor, err := ort.NewTensor(ort.NewShape(1, int64(numClasses)), mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create class mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	infos := []ort.InputOutputInfo{outs.activation, outs.gradient, outs.saliency}
	outputs := make([]*ort.Tensor[float32], len(infos))
	for i, info := range infos {
		t, err := ort.NewEmptyTensor[float32](concreteShape(info.Dimensions))
		if err != nil {
			destroyAll(outputs)
			return nil, fmt.Errorf("failed to allocate %s: %w", info.Name, err)
		}
		outputs[i] = t
	}
	defer destroyAll(outputs)

	err = session.Run(
		[]ort.ArbitraryTensor{inputTensor, maskTensor},
		[]ort.ArbitraryTensor{outputs[0], outputs[1], outputs[2]},
	)
	if err != nil {
		return nil, fmt.Errorf("explain inference failed: %w", err)
	}

	act, err := toVolume(outputs[0], e.Metadata.Layout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", outs.activation.Name, err)
	}
	grads, err := toVolume(outputs[1], e.Metadata.Layout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", outs.gradient.Name, err)
	}
	sal, err := toVolume(outputs[2], e.Metadata.Layout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", outs.saliency.Name, err)
	}

	return &explain.LayerGradients{
		Layer:       resolved,
		ClassIndex:  classIndex,
		Activations: act,
		Gradients:   grads,
		InputGrads:  sal,
	}, nil
}

func (e *Explainer) sessionFor(layer string, outs layerOutputs) (*ort.DynamicAdvancedSession, error) {
	if s, ok := e.sessions[layer]; ok {
		return s, nil
	}
	s, err := ort.NewDynamicAdvancedSession(e.path,
		[]string{e.Metadata.InputName, classMaskInput},
		[]string{outs.activation.Name, outs.gradient.Name, outs.saliency.Name},
		nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create explain session for %s: %w", layer, err)
	}
	e.sessions[layer] = s
	return s, nil
}

func (e *Explainer) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, s := range e.sessions {
		s.Destroy()
		delete(e.sessions, name)
	}
	releaseEnvironment()
}

// concreteShape replaces a symbolic batch dimension with 1.
func concreteShape(dims ort.Shape) ort.Shape {
	out := make([]int64, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = 1
		}
		out[i] = d
	}
	return ort.NewShape(out...)
}

func destroyAll(tensors []*ort.Tensor[float32]) {
	for _, t := range tensors {
		if t != nil {
			t.Destroy()
		}
	}
}

func toVolume(t *ort.Tensor[float32], layout imaging.Layout) (explain.Volume, error) {
	data := make([]float32, len(t.GetData()))
	copy(data, t.GetData())
	return volumeFromShape([]int64(t.GetShape()), data, layout)
}

// volumeFromShape strips the batch dim of a rank-4 tensor and returns it
// channel-last.
func volumeFromShape(shape []int64, data []float32, layout imaging.Layout) (explain.Volume, error) {
	if len(shape) != 4 || shape[0] != 1 {
		return explain.Volume{}, fmt.Errorf("expected a [1,_,_,_] tensor, got %v", shape)
	}
	if layout != imaging.LayoutNCHW {
		return explain.Volume{H: int(shape[1]), W: int(shape[2]), C: int(shape[3]), Data: data}, nil
	}

	c, h, w := int(shape[1]), int(shape[2]), int(shape[3])
	hwc := make([]float32, len(data))
	for k := 0; k < c; k++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				hwc[(y*w+x)*c+k] = data[(k*h+y)*w+x]
			}
		}
	}
	return explain.Volume{H: h, W: w, C: c, Data: hwc}, nil
}

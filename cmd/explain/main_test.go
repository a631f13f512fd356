package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Brownie44l1/fer-lens/internal/explain"
)

func TestOptionsValidate(t *testing.T) {
	valid := options{image: "face.jpg", layer: "conv2d_7", class: -1, mode: modeGuided, size: 128}

	tests := []struct {
		name    string
		mutate  func(*options)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*options) {}},
		{name: "gradcam", mutate: func(o *options) { o.mode = modeGradCAM }},
		{name: "contrast", mutate: func(o *options) { o.mode = modeContrast }},
		{name: "explicit class", mutate: func(o *options) { o.class = 3 }},
		{name: "unknown mode", mutate: func(o *options) { o.mode = "heat" }, wantErr: true},
		{name: "zero size", mutate: func(o *options) { o.size = 0 }, wantErr: true},
		{name: "negative class", mutate: func(o *options) { o.class = -2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid
			tt.mutate(&o)
			err := o.validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRootCmdDefaults(t *testing.T) {
	cmd := newRootCmd()

	layer, err := cmd.Flags().GetString("layer")
	assert.NoError(t, err)
	assert.Equal(t, "conv2d_7", layer)

	out, err := cmd.Flags().GetString("out")
	assert.NoError(t, err)
	assert.Equal(t, "guided_gradCAM.jpg", out)

	class, err := cmd.Flags().GetInt("class")
	assert.NoError(t, err)
	assert.Equal(t, -1, class)

	sub, _, err := cmd.Find([]string{"layers"})
	assert.NoError(t, err)
	assert.Equal(t, "layers", sub.Name())
}

func guidedMaps(saliency, heat []float32) *explain.Maps {
	sal := explain.Plane{H: 2, W: 2, Data: saliency}
	hm := explain.Plane{H: 2, W: 2, Data: heat}
	return &explain.Maps{
		Heatmap:  hm,
		Saliency: explain.MinMax(sal),
		Guided:   explain.Guided(sal, hm, 2, 2),
	}
}

func TestGrayModeGuidedPixels(t *testing.T) {
	tests := []struct {
		name string
		heat []float32
		want []uint8
	}{
		{name: "unit heatmap", heat: []float32{1, 1, 1, 1}, want: []uint8{0, 63, 127, 255}},
		{name: "zero heatmap stays black", heat: []float32{0, 0, 0, 0}, want: []uint8{0, 0, 0, 0}},
		{name: "half heatmap", heat: []float32{0.5, 0.5, 0.5, 0.5}, want: []uint8{0, 31, 63, 127}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := grayMode(modeGuided, guidedMaps([]float32{0, 1, 2, 4}, tt.heat))
			assert.Equal(t, tt.want, img.Pix)
		})
	}
}

func TestGrayModeSaliencyAndContrast(t *testing.T) {
	maps := guidedMaps([]float32{0, 1, 2, 4}, []float32{1, 1, 1, 1})

	assert.Equal(t, []uint8{0, 63, 127, 255}, grayMode(modeSaliency, maps).Pix)

	flat := guidedMaps([]float32{0, 1, 2, 4}, []float32{0, 0, 0, 0})
	assert.Equal(t, []uint8{127, 127, 127, 127}, grayMode(modeContrast, flat).Pix)
}

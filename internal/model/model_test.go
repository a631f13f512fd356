package model

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/fer-lens/internal/domain"
	"github.com/Brownie44l1/fer-lens/internal/imaging"
)

func writeMetadata(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLabels(t *testing.T) {
	fer, err := Labels("fer2013")
	require.NoError(t, err)
	assert.Equal(t, []string{"angry", "disgust", "fear", "happy", "sad", "surprise", "neutral"}, fer)

	fer[0] = "changed"
	again, _ := Labels("fer2013")
	assert.Equal(t, "angry", again[0])

	kdef, err := Labels("KDEF")
	require.NoError(t, err)
	assert.Len(t, kdef, 7)

	_, err = Labels("affectnet")
	assert.Error(t, err)
}

func TestArgmax(t *testing.T) {
	idx, val := Argmax([]float32{0.1, 0.7, 0.2})
	assert.Equal(t, 1, idx)
	assert.InDelta(t, 0.7, val, 1e-6)

	idx, _ = Argmax([]float32{0.5, 0.5})
	assert.Equal(t, 0, idx)

	idx, _ = Argmax(nil)
	assert.Equal(t, -1, idx)
}

func TestLoadMetadata_Defaults(t *testing.T) {
	path := writeMetadata(t, `{"input_shape":[1,64,64,1],"output_shape":[1,7]}`)

	meta, err := LoadMetadata(path)
	require.NoError(t, err)

	assert.Equal(t, imaging.LayoutNHWC, meta.Layout)
	assert.Equal(t, "input", meta.InputName)
	assert.Equal(t, "output", meta.OutputName)
	assert.True(t, meta.Scaled)
	assert.Len(t, meta.Classes, 7)
	assert.Equal(t, 1, meta.Channels())
	assert.Equal(t, 64*64, meta.InputLen())

	w, h := meta.InputSize()
	assert.Equal(t, 64, w)
	assert.Equal(t, 64, h)
}

func TestLoadMetadata_NCHW(t *testing.T) {
	path := writeMetadata(t, `{
		"input_shape":[1,3,48,40],
		"output_shape":[1,2],
		"dataset":"imdb",
		"layout":"nchw",
		"scaled":false
	}`)

	meta, err := LoadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"woman", "man"}, meta.Classes)
	assert.Equal(t, 3, meta.Channels())
	assert.False(t, meta.Scaled)

	w, h := meta.InputSize()
	assert.Equal(t, 40, w)
	assert.Equal(t, 48, h)
}

func TestLoadMetadata_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"rank 3 input", `{"input_shape":[64,64,1],"output_shape":[1,7]}`},
		{"batch of two", `{"input_shape":[2,64,64,1],"output_shape":[1,7]}`},
		{"class count mismatch", `{"input_shape":[1,64,64,1],"output_shape":[1,5]}`},
		{"four channels", `{"input_shape":[1,64,64,4],"output_shape":[1,7]}`},
		{"unknown layout", `{"input_shape":[1,64,64,1],"output_shape":[1,7],"layout":"hwcn"}`},
		{"missing output", `{"input_shape":[1,64,64,1]}`},
		{"image size mismatch", `{"input_shape":[1,64,64,1],"output_shape":[1,7],"image_size":48}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMetadata(writeMetadata(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadMetadata(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadMetadata_UnknownDataset(t *testing.T) {
	_, err := LoadMetadata(writeMetadata(t, `{"input_shape":[1,64,64,1],"output_shape":[1,7],"dataset":"affectnet"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid dataset name "affectnet"`)
}

func TestLoadMetadata_ImageSizeMatchesInput(t *testing.T) {
	meta, err := LoadMetadata(writeMetadata(t, `{"input_shape":[1,64,64,1],"output_shape":[1,7],"image_size":64}`))
	require.NoError(t, err)
	assert.Equal(t, 64, meta.ImageSize)
}

func TestNewPrediction(t *testing.T) {
	classes := []string{"angry", "happy", "neutral"}

	p, err := NewPrediction([]float32{0.1, 0.6, 0.3}, classes)
	require.NoError(t, err)
	assert.Equal(t, "happy", p.Class)
	assert.Equal(t, 1, p.Index)
	assert.InDelta(t, 0.6, p.Confidence, 1e-6)
	assert.Len(t, p.Predictions, 3)
	assert.InDelta(t, 0.3, p.Predictions["neutral"], 1e-6)

	_, err = NewPrediction([]float32{0.1}, classes)
	assert.Error(t, err)

	_, err = NewPrediction([]float32{0.1}, nil)
	assert.Error(t, err)
}

func TestGroupLayerOutputs(t *testing.T) {
	outputs := []ort.InputOutputInfo{
		{Name: "output"},
		{Name: "conv2d_6/activation", Dimensions: ort.NewShape(-1, 8, 8, 64)},
		{Name: "conv2d_6/gradient", Dimensions: ort.NewShape(-1, 8, 8, 64)},
		{Name: "conv2d_6/saliency", Dimensions: ort.NewShape(-1, 64, 64, 1)},
		{Name: "conv2d_7/activation"},
		{Name: "conv2d_7/gradient"},
		{Name: "conv2d_7/saliency"},
		{Name: "conv2d_9/activation"},
	}

	layers, order := groupLayerOutputs(outputs)
	assert.Equal(t, []string{"conv2d_6", "conv2d_7"}, order)
	assert.Equal(t, "conv2d_6/gradient", layers["conv2d_6"].gradient.Name)
	assert.NotContains(t, layers, "conv2d_9")
}

func TestResolveLayer(t *testing.T) {
	order := []string{"conv2d_1", "conv2d_6", "conv2d_7", "separable_conv2d_7"}

	tests := []struct {
		name    string
		query   string
		want    string
		wantErr bool
	}{
		{"exact", "conv2d_7", "conv2d_7", false},
		{"substring picks last", "separable", "separable_conv2d_7", false},
		{"substring prefers later layers", "conv2d_", "separable_conv2d_7", false},
		{"missing", "dense", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveLayer(order, tt.query)
			if tt.wantErr {
				assert.True(t, errors.Is(err, domain.ErrLayerNotFound))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConcreteShape(t *testing.T) {
	assert.Equal(t, ort.NewShape(1, 8, 8, 64), concreteShape(ort.NewShape(-1, 8, 8, 64)))
}

func TestVolumeFromShape(t *testing.T) {
	t.Run("nhwc passes through", func(t *testing.T) {
		data := []float32{1, 2, 3, 4}
		v, err := volumeFromShape([]int64{1, 2, 1, 2}, data, imaging.LayoutNHWC)
		require.NoError(t, err)
		assert.Equal(t, 2, v.H)
		assert.Equal(t, 1, v.W)
		assert.Equal(t, 2, v.C)
		assert.Equal(t, data, v.Data)
	})

	t.Run("nchw transposed to channel last", func(t *testing.T) {
		// two channels of a 1x2 map: c0 = [1 2], c1 = [3 4]
		v, err := volumeFromShape([]int64{1, 2, 1, 2}, []float32{1, 2, 3, 4}, imaging.LayoutNCHW)
		require.NoError(t, err)
		assert.Equal(t, 1, v.H)
		assert.Equal(t, 2, v.W)
		assert.Equal(t, 2, v.C)
		assert.Equal(t, []float32{1, 3, 2, 4}, v.Data)
	})

	t.Run("rank 2 rejected", func(t *testing.T) {
		_, err := volumeFromShape([]int64{1, 7}, make([]float32, 7), imaging.LayoutNHWC)
		assert.Error(t, err)
	})
}

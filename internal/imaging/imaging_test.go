package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeBase64(t *testing.T) {
	raw := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00}

	tests := []struct {
		name  string
		input string
	}{
		{"standard", base64.StdEncoding.EncodeToString(raw)},
		{"raw standard", base64.RawStdEncoding.EncodeToString(raw)},
		{"url safe", base64.URLEncoding.EncodeToString(raw)},
		{"data url", "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)},
		{"surrounding whitespace", "  " + base64.StdEncoding.EncodeToString(raw) + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBase64(tt.input)
			require.NoError(t, err)
			assert.Equal(t, raw, got)
		})
	}
}

func TestDecodeBase64_Errors(t *testing.T) {
	_, err := DecodeBase64("")
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = DecodeBase64("data:image/png;base64,")
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = DecodeBase64("not base64 at all!")
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	data := encodePNG(t, img)

	got, format, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 4, got.Bounds().Dx())
	assert.Equal(t, 3, got.Bounds().Dy())

	_, _, err = Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, _, err = Decode([]byte("garbage"))
	assert.Error(t, err)
}

func TestToGray_NormalisesOrigin(t *testing.T) {
	img := image.NewRGBA(image.Rect(10, 10, 14, 12))
	img.Set(10, 10, color.RGBA{255, 255, 255, 255})

	gray := ToGray(img)
	assert.Equal(t, image.Rect(0, 0, 4, 2), gray.Bounds())
	assert.Equal(t, uint8(255), gray.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), gray.GrayAt(1, 0).Y)
}

func TestApplyOffsets(t *testing.T) {
	face := image.Rect(50, 60, 110, 120)
	got := ApplyOffsets(face, 20, 40)
	assert.Equal(t, image.Rect(30, 20, 130, 160), got)
}

func TestCrop(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			g.SetGray(x, y, color.Gray{Y: uint8(y*8 + x)})
		}
	}

	t.Run("inside", func(t *testing.T) {
		out, err := Crop(g, image.Rect(2, 3, 5, 6))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 3, 3), out.Bounds())
		assert.Equal(t, uint8(3*8+2), out.GrayAt(0, 0).Y)
		assert.Equal(t, uint8(5*8+4), out.GrayAt(2, 2).Y)
	})

	t.Run("clamped to frame", func(t *testing.T) {
		out, err := Crop(g, ApplyOffsets(image.Rect(1, 1, 7, 7), 20, 40))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 8, 8), out.Bounds())
	})

	t.Run("outside frame", func(t *testing.T) {
		_, err := Crop(g, image.Rect(20, 20, 30, 30))
		assert.Error(t, err)
	})
}

func TestResize(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 128, 96))
	out := Resize(g, 64, 64)
	assert.Equal(t, image.Rect(0, 0, 64, 64), out.Bounds())

	same := Resize(out, 64, 64)
	assert.Same(t, out, same)
}

func TestNormalize(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 3, 1))
	g.SetGray(0, 0, color.Gray{Y: 0})
	g.SetGray(1, 0, color.Gray{Y: 255})
	g.SetGray(2, 0, color.Gray{Y: 51})

	plain := Normalize(g, false)
	assert.InDeltaSlice(t, []float32{0, 1, 0.2}, plain, 1e-6)

	scaled := Normalize(g, true)
	assert.InDeltaSlice(t, []float32{-1, 1, -0.6}, scaled, 1e-6)
}

func TestTensor(t *testing.T) {
	plane := []float32{1, 2, 3, 4}

	single, err := Tensor(plane, 2, 2, LayoutNHWC, 1)
	require.NoError(t, err)
	assert.Equal(t, plane, single)

	nchw, err := Tensor(plane, 2, 2, LayoutNCHW, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 1, 2, 3, 4, 1, 2, 3, 4}, nchw)

	nhwc, err := Tensor(plane, 2, 2, LayoutNHWC, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 1, 2, 2, 2, 3, 3, 3, 4, 4, 4}, nhwc)

	_, err = Tensor(plane, 3, 3, LayoutNHWC, 1)
	assert.Error(t, err)

	_, err = Tensor(plane, 2, 2, LayoutNHWC, 4)
	assert.Error(t, err)

	_, err = Tensor(plane, 2, 2, Layout("hwcn"), 3)
	assert.Error(t, err)
}

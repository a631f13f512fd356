package model

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Brownie44l1/fer-lens/internal/imaging"
)

type Metadata struct {
	InputShape  []int64        `json:"input_shape"`
	OutputShape []int64        `json:"output_shape"`
	Classes     []string       `json:"classes"`
	Dataset     string         `json:"dataset"`
	ImageSize   int            `json:"image_size"`
	Layout      imaging.Layout `json:"layout"`
	InputName   string         `json:"input_name"`
	OutputName  string         `json:"output_name"`
	// Scaled selects [-1,1] input normalisation instead of [0,1].
	Scaled bool `json:"scaled"`
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type Prediction struct {
	Class       string             `json:"class"`
	Index       int                `json:"index"`
	Confidence  float32            `json:"confidence"`
	Predictions map[string]float32 `json:"predictions"`
}

// LoadMetadata reads the JSON sidecar written next to the exported model and
// fills in the defaults of a fer2013 mini-Xception export.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	meta := Metadata{Scaled: true}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := meta.applyDefaults(); err != nil {
		return Metadata{}, err
	}

	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (m *Metadata) applyDefaults() error {
	if m.Layout == "" {
		m.Layout = imaging.LayoutNHWC
	}
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if len(m.Classes) == 0 {
		dataset := m.Dataset
		if dataset == "" {
			dataset = "fer2013"
		}
		classes, err := Labels(dataset)
		if err != nil {
			return fmt.Errorf("metadata has no classes: %w", err)
		}
		m.Classes = classes
	}
	return nil
}

func (m Metadata) Validate() error {
	if len(m.InputShape) != 4 {
		return fmt.Errorf("input_shape must have 4 dims, got %v", m.InputShape)
	}
	if m.InputShape[0] != 1 {
		return fmt.Errorf("input_shape batch must be 1, got %d", m.InputShape[0])
	}
	for _, d := range m.InputShape {
		if d <= 0 {
			return fmt.Errorf("input_shape has non-positive dim: %v", m.InputShape)
		}
	}
	if m.Layout != imaging.LayoutNHWC && m.Layout != imaging.LayoutNCHW {
		return fmt.Errorf("unknown layout %q", m.Layout)
	}
	if c := m.Channels(); c != 1 && c != 3 {
		return fmt.Errorf("unsupported channel count %d", c)
	}
	if w, h := m.InputSize(); m.ImageSize > 0 && (m.ImageSize != w || m.ImageSize != h) {
		return fmt.Errorf("image_size %d does not match input %dx%d", m.ImageSize, w, h)
	}
	if len(m.OutputShape) == 0 {
		return fmt.Errorf("output_shape is empty")
	}
	if n := m.OutputLen(); n != len(m.Classes) {
		return fmt.Errorf("model has %d outputs but %d classes", n, len(m.Classes))
	}
	return nil
}

// InputSize returns the width and height the face crop is resized to.
func (m Metadata) InputSize() (int, int) {
	if m.Layout == imaging.LayoutNCHW {
		return int(m.InputShape[3]), int(m.InputShape[2])
	}
	return int(m.InputShape[2]), int(m.InputShape[1])
}

func (m Metadata) Channels() int {
	if m.Layout == imaging.LayoutNCHW {
		return int(m.InputShape[1])
	}
	return int(m.InputShape[3])
}

func (m Metadata) InputLen() int {
	n := 1
	for _, d := range m.InputShape {
		n *= int(d)
	}
	return n
}

func (m Metadata) OutputLen() int {
	n := 1
	for _, d := range m.OutputShape {
		n *= int(d)
	}
	return n
}

package model

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/fer-lens/internal/domain"
)

// Classifier runs the emotion network. Input and output tensors are allocated
// once and shared, so runs are serialised.
type Classifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func NewClassifier(modelPath string, meta Metadata, libraryPath string) (*Classifier, error) {
	if err := acquireEnvironment(libraryPath); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		releaseEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		releaseEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Classifier{
		session:      session,
		Metadata:     meta,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (c *Classifier) Predict(ctx context.Context, input []float32) (*Prediction, error) {
	if len(input) != c.Metadata.InputLen() {
		return nil, domain.ErrModelInput.WithError(
			fmt.Errorf("expected %d values, got %d", c.Metadata.InputLen(), len(input)))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	copy(c.inputTensor.GetData(), input)
	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := make([]float32, len(c.outputTensor.GetData()))
	copy(scores, c.outputTensor.GetData())
	return NewPrediction(scores, c.Metadata.Classes)
}

func (c *Classifier) Close() {
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
	if c.session != nil {
		c.session.Destroy()
	}
	releaseEnvironment()
}

// NewPrediction labels raw network scores.
func NewPrediction(scores []float32, classes []string) (*Prediction, error) {
	if len(classes) == 0 || len(scores) < len(classes) {
		return nil, fmt.Errorf("model returned %d scores for %d classes", len(scores), len(classes))
	}

	predictions := make(map[string]float32, len(classes))
	for i, name := range classes {
		predictions[name] = scores[i]
	}
	idx, val := Argmax(scores[:len(classes)])

	return &Prediction{
		Class:       classes[idx],
		Index:       idx,
		Confidence:  val,
		Predictions: predictions,
	}, nil
}

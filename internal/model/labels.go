package model

import "fmt"

var datasetLabels = map[string][]string{
	"fer2013": {"angry", "disgust", "fear", "happy", "sad", "surprise", "neutral"},
	"imdb":    {"woman", "man"},
	"KDEF":    {"AN", "DI", "AF", "HA", "SA", "SU", "NE"},
}

// Labels returns the class names, in output order, of models trained on dataset.
func Labels(dataset string) ([]string, error) {
	labels, ok := datasetLabels[dataset]
	if !ok {
		return nil, fmt.Errorf("invalid dataset name %q", dataset)
	}
	return append([]string(nil), labels...), nil
}

// Argmax returns the index and value of the largest score. Ties keep the first.
func Argmax(scores []float32) (int, float32) {
	if len(scores) == 0 {
		return -1, 0
	}
	maxIdx, maxVal := 0, scores[0]
	for i, v := range scores[1:] {
		if v > maxVal {
			maxIdx, maxVal = i+1, v
		}
	}
	return maxIdx, maxVal
}

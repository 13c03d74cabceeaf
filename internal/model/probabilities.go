package model

import (
	"fmt"
	"math"
)

// Distribution turns a raw classifier output into a probability vector that
// sums to 1. Values outside [0,1] are treated as logits.
func Distribution(raw []float32) ([]float64, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty output")
	}

	probs := make([]float64, len(raw))
	logits := false
	sum := 0.0
	for i, v := range raw {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("output[%d] is not finite", i)
		}
		if f < 0 || f > 1 {
			logits = true
		}
		probs[i] = f
		sum += f
	}

	if logits {
		return softmax(probs), nil
	}
	if sum == 0 {
		return nil, fmt.Errorf("output sums to zero")
	}
	if math.Abs(sum-1) > 1e-6 {
		for i := range probs {
			probs[i] /= sum
		}
	}
	return probs, nil
}

func softmax(logits []float64) []float64 {
	top := logits[0]
	for _, v := range logits[1:] {
		if v > top {
			top = v
		}
	}

	out := make([]float64, len(logits))
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - top)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the first index holding the largest value.
func Argmax(values []float64) int {
	maxIdx := 0
	for i, v := range values {
		if v > values[maxIdx] {
			maxIdx = i
		}
	}
	return maxIdx
}

// Classify maps a raw model output onto labels.
func Classify(role Role, labels []string, raw []float32) (*PredictionResult, error) {
	if len(raw) != len(labels) {
		return nil, &InferenceError{
			Role: role,
			Err:  fmt.Errorf("model returned %d scores for %d classes", len(raw), len(labels)),
		}
	}

	if label, ok := duplicateLabel(labels); ok {
		return nil, &InferenceError{Role: role, Err: fmt.Errorf("duplicate class label %q", label)}
	}

	probs, err := Distribution(raw)
	if err != nil {
		return nil, &InferenceError{Role: role, Err: err}
	}

	predictions := make(map[string]float64, len(labels))
	for i, label := range labels {
		predictions[label] = probs[i]
	}

	idx := Argmax(probs)
	return &PredictionResult{
		Role:          role,
		Label:         labels[idx],
		Confidence:    probs[idx],
		Labels:        labels,
		Probabilities: predictions,
	}, nil
}

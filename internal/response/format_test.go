package response

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/damage-api/internal/model"
)

func fixedFormatter() *Formatter {
	f := NewFormatter("1.0.0")
	f.Now = func() time.Time { return time.Unix(1700000000, 500000000) }
	return f
}

func severityResult() *model.PredictionResult {
	return &model.PredictionResult{
		Role:       model.RoleClassification,
		Label:      "severe",
		Confidence: 0.876543,
		Labels:     []string{"minor", "moderate", "severe"},
		Probabilities: map[string]float64{
			"minor":    0.1,
			"moderate": 0.023457,
			"severe":   0.876543,
		},
	}
}

func locationResult() *model.PredictionResult {
	return &model.PredictionResult{
		Role:       model.RoleLocation,
		Label:      "rear",
		Confidence: 0.5,
		Labels:     []string{"front", "rear"},
		Probabilities: map[string]float64{
			"front": 0.5,
			"rear":  0.5,
		},
	}
}

// toMap round-trips v through JSON so tests assert on the wire shape.
func toMap(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestRoundAndPercentage(t *testing.T) {
	assert.Equal(t, 0.8765, Round(0.876543))
	assert.Equal(t, "87.7%", Percentage(0.876543))
	assert.Equal(t, "100.0%", Percentage(1))
	assert.Equal(t, "0.0%", Percentage(0))
}

func TestPrediction(t *testing.T) {
	f := fixedFormatter()

	body := toMap(t, f.Prediction(severityResult(), false))
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "severe", data["predicted_class"])
	assert.Equal(t, 0.8765, data["confidence"])
	assert.Equal(t, "87.7%", data["confidence_percentage"])
	assert.NotContains(t, data, "all_probabilities")

	meta := body["metadata"].(map[string]any)
	assert.Equal(t, "1.0.0", meta["model_version"])
	assert.Equal(t, 1700000000.5, meta["timestamp"])
	assert.NotContains(t, meta, "models_used")
}

func TestPrediction_WithProbabilities(t *testing.T) {
	body := toMap(t, fixedFormatter().Prediction(severityResult(), true))

	probs := body["data"].(map[string]any)["all_probabilities"].(map[string]any)
	assert.Len(t, probs, 3)
	assert.Equal(t, 0.876543, probs["severe"])
}

func TestPrediction_Location(t *testing.T) {
	body := toMap(t, fixedFormatter().Prediction(locationResult(), false))

	data := body["data"].(map[string]any)
	assert.Equal(t, "rear", data["predicted_location"])
	assert.NotContains(t, data, "predicted_class")
	assert.Equal(t, "50.0%", data["confidence_percentage"])
}

func TestFeatures(t *testing.T) {
	result := &model.FeatureResult{Features: []float32{0.25, 0.5, 1}}

	data := toMap(t, fixedFormatter().Features(result, false))["data"].(map[string]any)
	assert.Equal(t, float64(3), data["feature_count"])
	assert.Equal(t, true, data["extracted"])
	assert.NotContains(t, data, "raw_features")

	data = toMap(t, fixedFormatter().Features(result, true))["data"].(map[string]any)
	assert.Equal(t, []any{0.25, 0.5, float64(1)}, data["raw_features"])
}

func TestAnalysis(t *testing.T) {
	overall := (0.876543 + 0.5) / 2
	result := &model.AnalysisResult{
		Predictions: map[model.Role]*model.PredictionResult{
			model.RoleClassification: severityResult(),
			model.RoleLocation:       locationResult(),
		},
		Features:          &model.FeatureResult{Features: []float32{1, 2}},
		OverallConfidence: &overall,
	}

	body := toMap(t, fixedFormatter().Analysis(result, true))
	data := body["data"].(map[string]any)

	severity := data["damage_severity"].(map[string]any)
	assert.Equal(t, "severe", severity["predicted_class"])
	assert.Contains(t, severity, "all_probabilities")

	location := data["damage_location"].(map[string]any)
	assert.Equal(t, "rear", location["predicted_location"])

	features := data["features"].(map[string]any)
	assert.Equal(t, float64(2), features["feature_count"])
	assert.Contains(t, features, "raw_features")

	overallBlock := data["overall_confidence"].(map[string]any)
	assert.Equal(t, 0.6883, overallBlock["score"])
	assert.Equal(t, "68.8%", overallBlock["percentage"])

	meta := body["metadata"].(map[string]any)
	assert.Equal(t, []any{"damage_classification", "damage_location", "features"}, meta["models_used"])
}

func TestAnalysis_Empty(t *testing.T) {
	result := &model.AnalysisResult{Predictions: map[model.Role]*model.PredictionResult{}}

	body := toMap(t, fixedFormatter().Analysis(result, false))
	assert.Empty(t, body["data"])
	assert.NotContains(t, body["metadata"], "models_used")
}

func TestError(t *testing.T) {
	body := toMap(t, fixedFormatter().Error(CodeBadRequest, "File type not supported"))

	assert.Equal(t, false, body["success"])
	detail := body["error"].(map[string]any)
	assert.Equal(t, "BAD_REQUEST", detail["code"])
	assert.Equal(t, "File type not supported", detail["message"])
	assert.Equal(t, 1700000000.5, detail["timestamp"])
	assert.NotContains(t, detail, "max_size_mb")
}

package response

import (
	"fmt"
	"math"
	"time"

	"github.com/Brownie44l1/damage-api/internal/model"
)

// Keys under which comprehensive analysis reports each role in models_used.
var resultKeys = map[model.Role]string{
	model.RoleClassification: "damage_classification",
	model.RoleLocation:       "damage_location",
	model.RoleFeatures:       "features",
}

type Envelope struct {
	Success  bool     `json:"success"`
	Data     any      `json:"data"`
	Metadata Metadata `json:"metadata"`
}

type Metadata struct {
	ModelVersion string   `json:"model_version"`
	Timestamp    float64  `json:"timestamp"`
	ModelsUsed   []string `json:"models_used,omitempty"`
}

type ClassificationData struct {
	PredictedClass       string             `json:"predicted_class"`
	Confidence           float64            `json:"confidence"`
	ConfidencePercentage string             `json:"confidence_percentage"`
	AllProbabilities     map[string]float64 `json:"all_probabilities,omitempty"`
}

type LocationData struct {
	PredictedLocation    string             `json:"predicted_location"`
	Confidence           float64            `json:"confidence"`
	ConfidencePercentage string             `json:"confidence_percentage"`
	AllProbabilities     map[string]float64 `json:"all_probabilities,omitempty"`
}

type FeatureData struct {
	FeatureCount int       `json:"feature_count"`
	Extracted    bool      `json:"extracted"`
	RawFeatures  []float32 `json:"raw_features,omitempty"`
}

type OverallConfidence struct {
	Score      float64 `json:"score"`
	Percentage string  `json:"percentage"`
}

type AnalysisData struct {
	DamageSeverity    *ClassificationData `json:"damage_severity,omitempty"`
	DamageLocation    *LocationData       `json:"damage_location,omitempty"`
	Features          *FeatureData        `json:"features,omitempty"`
	OverallConfidence *OverallConfidence  `json:"overall_confidence,omitempty"`
}

// Formatter shapes inference results into the API's JSON contract.
type Formatter struct {
	ModelVersion string
	Now          func() time.Time
}

func NewFormatter(modelVersion string) *Formatter {
	return &Formatter{ModelVersion: modelVersion, Now: time.Now}
}

// Round rounds v to 4 decimal places.
func Round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Percentage renders a [0,1] score as a percentage with one decimal.
func Percentage(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// Timestamp is t in fractional unix seconds.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func (f *Formatter) metadata(modelsUsed []string) Metadata {
	return Metadata{
		ModelVersion: f.ModelVersion,
		Timestamp:    Timestamp(f.Now()),
		ModelsUsed:   modelsUsed,
	}
}

// Prediction formats a single classifier result. Location results are keyed
// predicted_location, everything else predicted_class.
func (f *Formatter) Prediction(result *model.PredictionResult, includeProbabilities bool) Envelope {
	var data any
	if result.Role == model.RoleLocation {
		data = locationData(result, includeProbabilities)
	} else {
		data = classificationData(result, includeProbabilities)
	}
	return Envelope{Success: true, Data: data, Metadata: f.metadata(nil)}
}

// Features formats a feature extraction result.
func (f *Formatter) Features(result *model.FeatureResult, includeRaw bool) Envelope {
	return Envelope{Success: true, Data: featureData(result, includeRaw), Metadata: f.metadata(nil)}
}

// Analysis formats a comprehensive analysis. includeProbabilities also adds
// the raw feature vector.
func (f *Formatter) Analysis(result *model.AnalysisResult, includeProbabilities bool) Envelope {
	data := AnalysisData{}
	var modelsUsed []string

	if p, ok := result.Predictions[model.RoleClassification]; ok && p != nil {
		data.DamageSeverity = classificationData(p, includeProbabilities)
		modelsUsed = append(modelsUsed, resultKeys[model.RoleClassification])
	}
	if p, ok := result.Predictions[model.RoleLocation]; ok && p != nil {
		data.DamageLocation = locationData(p, includeProbabilities)
		modelsUsed = append(modelsUsed, resultKeys[model.RoleLocation])
	}
	if result.Features != nil {
		data.Features = featureData(result.Features, includeProbabilities)
		modelsUsed = append(modelsUsed, resultKeys[model.RoleFeatures])
	}
	if result.OverallConfidence != nil {
		data.OverallConfidence = &OverallConfidence{
			Score:      Round(*result.OverallConfidence),
			Percentage: Percentage(*result.OverallConfidence),
		}
	}

	return Envelope{Success: true, Data: data, Metadata: f.metadata(modelsUsed)}
}

func classificationData(p *model.PredictionResult, includeProbabilities bool) *ClassificationData {
	data := &ClassificationData{
		PredictedClass:       p.Label,
		Confidence:           Round(p.Confidence),
		ConfidencePercentage: Percentage(p.Confidence),
	}
	if includeProbabilities {
		data.AllProbabilities = p.Probabilities
	}
	return data
}

func locationData(p *model.PredictionResult, includeProbabilities bool) *LocationData {
	data := &LocationData{
		PredictedLocation:    p.Label,
		Confidence:           Round(p.Confidence),
		ConfidencePercentage: Percentage(p.Confidence),
	}
	if includeProbabilities {
		data.AllProbabilities = p.Probabilities
	}
	return data
}

func featureData(r *model.FeatureResult, includeRaw bool) *FeatureData {
	data := &FeatureData{
		FeatureCount: len(r.Features),
		Extracted:    true,
	}
	if includeRaw {
		data.RawFeatures = r.Features
	}
	return data
}

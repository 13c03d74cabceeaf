package inference

import (
	"fmt"
	"image"
	"time"

	"github.com/apex/log"

	"github.com/Brownie44l1/damage-api/internal/imaging"
	"github.com/Brownie44l1/damage-api/internal/metrics"
	"github.com/Brownie44l1/damage-api/internal/model"
)

// Service runs the registry's models against uploaded images.
type Service struct {
	registry *model.Registry
	opts     imaging.Options
}

func NewService(registry *model.Registry, opts imaging.Options) *Service {
	return &Service{
		registry: registry,
		opts:     opts,
	}
}

// Registry exposes the models the service runs.
func (s *Service) Registry() *model.Registry {
	return s.registry
}

// lookup returns the model for role or the reason it cannot run.
func (s *Service) lookup(role model.Role) (model.Model, error) {
	if !s.registry.FrameworkAvailable() {
		return nil, model.ErrFrameworkUnavailable
	}
	m, ok := s.registry.Get(role)
	if !ok {
		return nil, &model.ModelNotLoadedError{Role: role}
	}
	return m, nil
}

// Predict classifies an already normalized tensor with the model for role.
func (s *Service) Predict(role model.Role, tensor *imaging.Tensor) (*model.PredictionResult, error) {
	if role == model.RoleFeatures {
		return nil, fmt.Errorf("%s model does not produce class predictions", role)
	}
	m, err := s.lookup(role)
	if err != nil {
		return nil, err
	}

	raw, err := s.run(role, m, tensor)
	if err != nil {
		return nil, err
	}

	result, err := model.Classify(role, s.registry.Config(role).Labels, raw)
	observe(role, err)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"role":       role.String(),
		"label":      result.Label,
		"confidence": result.Confidence,
	}).Debug("Prediction")
	return result, nil
}

// PredictImage normalizes data to the role's input size and classifies it.
func (s *Service) PredictImage(role model.Role, data []byte) (*model.PredictionResult, error) {
	m, err := s.lookup(role)
	if err != nil {
		return nil, err
	}

	tensor, err := s.normalize(data, m.InputSize())
	if err != nil {
		return nil, err
	}
	return s.Predict(role, tensor)
}

// ExtractFeatures returns the feature extractor's flattened output for data.
func (s *Service) ExtractFeatures(data []byte) (*model.FeatureResult, error) {
	m, err := s.lookup(model.RoleFeatures)
	if err != nil {
		return nil, err
	}

	tensor, err := s.normalize(data, m.InputSize())
	if err != nil {
		return nil, err
	}
	return s.features(m, tensor)
}

func (s *Service) features(m model.Model, tensor *imaging.Tensor) (*model.FeatureResult, error) {
	raw, err := s.run(model.RoleFeatures, m, tensor)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		err = &model.InferenceError{Role: model.RoleFeatures, Err: fmt.Errorf("empty feature vector")}
	}
	observe(model.RoleFeatures, err)
	if err != nil {
		return nil, err
	}
	return &model.FeatureResult{Features: raw}, nil
}

// Analyze runs every requested role whose model is loaded against one image.
// Roles without a model are left out of the result. The overall confidence
// is the mean of the classifier confidences present; feature extraction
// never contributes to it.
func (s *Service) Analyze(data []byte, roles []model.Role) (*model.AnalysisResult, error) {
	if !s.registry.FrameworkAvailable() {
		return nil, model.ErrFrameworkUnavailable
	}

	result := &model.AnalysisResult{Predictions: make(map[model.Role]*model.PredictionResult)}

	var img image.Image
	tensors := make(map[imaging.Size]*imaging.Tensor)

	for _, role := range roles {
		m, ok := s.registry.Get(role)
		if !ok {
			log.Debugf("Skipping %s: model not loaded", role)
			continue
		}

		if img == nil {
			decoded, err := s.decode(data)
			if err != nil {
				return nil, err
			}
			img = decoded
		}

		size := m.InputSize()
		tensor, ok := tensors[size]
		if !ok {
			start := time.Now()
			tensor = imaging.FromImage(img, size)
			metrics.PreprocessDurationSeconds.Observe(time.Since(start).Seconds())
			tensors[size] = tensor
		}

		if role == model.RoleFeatures {
			features, err := s.features(m, tensor)
			if err != nil {
				return nil, err
			}
			result.Features = features
			continue
		}

		prediction, err := s.Predict(role, tensor)
		if err != nil {
			return nil, err
		}
		result.Predictions[role] = prediction
	}

	result.OverallConfidence = OverallConfidence(result.Predictions)
	return result, nil
}

// OverallConfidence is the unweighted mean of the classification and location
// confidences present in predictions, or nil if neither is.
func OverallConfidence(predictions map[model.Role]*model.PredictionResult) *float64 {
	var total float64
	var n int
	for _, role := range []model.Role{model.RoleClassification, model.RoleLocation} {
		if p, ok := predictions[role]; ok && p != nil {
			total += p.Confidence
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := total / float64(n)
	return &mean
}

func (s *Service) decode(data []byte) (image.Image, error) {
	img, format, err := imaging.Decode(data, s.opts)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	log.Debugf("Original image size: %dx%d, format: %s", b.Dx(), b.Dy(), format)
	return img, nil
}

func (s *Service) normalize(data []byte, size imaging.Size) (*imaging.Tensor, error) {
	start := time.Now()
	img, err := s.decode(data)
	if err != nil {
		return nil, err
	}
	tensor := imaging.FromImage(img, size)
	metrics.PreprocessDurationSeconds.Observe(time.Since(start).Seconds())
	return tensor, nil
}

func (s *Service) run(role model.Role, m model.Model, tensor *imaging.Tensor) ([]float32, error) {
	start := time.Now()
	raw, err := m.Run(tensor)
	metrics.InferenceDurationSeconds.WithLabelValues(role.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		err = &model.InferenceError{Role: role, Err: err}
		observe(role, err)
		return nil, err
	}
	return raw, nil
}

func observe(role model.Role, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.InferenceTotal.WithLabelValues(role.String(), result).Inc()
}

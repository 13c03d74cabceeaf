package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/damage-api/internal/config"
	"github.com/Brownie44l1/damage-api/internal/imaging"
	"github.com/Brownie44l1/damage-api/internal/inference"
	"github.com/Brownie44l1/damage-api/internal/metrics"
	"github.com/Brownie44l1/damage-api/internal/middleware"
	"github.com/Brownie44l1/damage-api/internal/model"
	"github.com/Brownie44l1/damage-api/internal/response"
	"github.com/Brownie44l1/damage-api/internal/version"
)

const (
	EndPointRoot                  = "/"
	EndPointHealth                = "/health"
	EndPointMetrics               = "/metrics"
	EndPointPredictDamage         = "/predict-damage"
	EndPointPredictLocation       = "/predict-location"
	EndPointExtractFeatures       = "/extract-features"
	EndPointComprehensiveAnalysis = "/comprehensive-analysis"
)

var predictionEndpoints = []string{
	EndPointPredictDamage,
	EndPointPredictLocation,
	EndPointExtractFeatures,
	EndPointComprehensiveAnalysis,
}

type Handler struct {
	service   *inference.Service
	formatter *response.Formatter
	cfg       *config.Config
}

func NewHandler(service *inference.Service, cfg *config.Config) *Handler {
	return &Handler{
		service:   service,
		formatter: response.NewFormatter(cfg.AppVersion),
		cfg:       cfg,
	}
}

func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "Welcome to " + h.cfg.AppName,
		"version":   h.cfg.AppVersion,
		"status":    "healthy",
		"timestamp": response.Timestamp(time.Now()),
		"build":     version.Get(h.cfg.AppName, h.cfg.AppVersion),
	})
}

func (h *Handler) Health(c *gin.Context) {
	registry := h.service.Registry()

	loaded := registry.Loaded()
	available := make([]string, 0, len(loaded))
	for _, role := range loaded {
		available = append(available, role.String())
	}

	body := gin.H{
		"status":              "healthy",
		"framework_available": registry.FrameworkAvailable(),
		"models_loaded":       len(loaded),
		"available_models":    available,
		"available_endpoints": predictionEndpoints,
		"timestamp":           response.Timestamp(time.Now()),
	}

	if !registry.FrameworkAvailable() {
		body["status"] = "degraded"
		body["warnings"] = []string{
			"ONNX Runtime not available - ML prediction endpoints will not work",
			"Check that the onnxruntime shared library is installed or set ONNXRUNTIME_LIB",
			"API is running but ML functionality is disabled",
		}
	}

	c.JSON(http.StatusOK, body)
}

func (h *Handler) PredictDamage(c *gin.Context) {
	h.predict(c, EndPointPredictDamage, model.RoleClassification)
}

func (h *Handler) PredictLocation(c *gin.Context) {
	h.predict(c, EndPointPredictLocation, model.RoleLocation)
}

func (h *Handler) predict(c *gin.Context, endpoint string, role model.Role) {
	includeProbabilities, apiErr := queryBool(c, "include_probabilities")
	if apiErr != nil {
		h.reject(c, endpoint, apiErr)
		return
	}

	up, apiErr := h.readUpload(c)
	if apiErr != nil {
		h.reject(c, endpoint, apiErr)
		return
	}
	metrics.UploadBytes.Observe(float64(len(up.data)))

	result, err := h.service.PredictImage(role, up.data)
	if err != nil {
		h.fail(c, endpoint, response.CodePredictionError, up, err)
		return
	}

	middleware.Logger(c).WithFields(log.Fields{
		"role":       role.String(),
		"label":      result.Label,
		"confidence": response.Percentage(result.Confidence),
	}).Info("Prediction completed")

	h.respond(c, endpoint, h.formatter.Prediction(result, includeProbabilities))
}

func (h *Handler) ExtractFeatures(c *gin.Context) {
	endpoint := EndPointExtractFeatures

	includeRaw, apiErr := queryBool(c, "include_raw_features")
	if apiErr != nil {
		h.reject(c, endpoint, apiErr)
		return
	}

	up, apiErr := h.readUpload(c)
	if apiErr != nil {
		h.reject(c, endpoint, apiErr)
		return
	}
	metrics.UploadBytes.Observe(float64(len(up.data)))

	result, err := h.service.ExtractFeatures(up.data)
	if err != nil {
		h.fail(c, endpoint, response.CodeExtractionError, up, err)
		return
	}

	middleware.Logger(c).Infof("Feature extraction completed: %d features extracted", len(result.Features))

	h.respond(c, endpoint, h.formatter.Features(result, includeRaw))
}

func (h *Handler) ComprehensiveAnalysis(c *gin.Context) {
	endpoint := EndPointComprehensiveAnalysis

	includeProbabilities, apiErr := queryBool(c, "include_probabilities")
	if apiErr != nil {
		h.reject(c, endpoint, apiErr)
		return
	}

	roles, err := model.ParseRoles(c.DefaultQuery("models", "all"))
	if err != nil {
		h.reject(c, endpoint, badRequest("%v", err))
		return
	}

	up, apiErr := h.readUpload(c)
	if apiErr != nil {
		h.reject(c, endpoint, apiErr)
		return
	}
	metrics.UploadBytes.Observe(float64(len(up.data)))

	result, err := h.service.Analyze(up.data, roles)
	if err != nil {
		h.fail(c, endpoint, response.CodeAnalysisError, up, err)
		return
	}

	ran := len(result.Predictions)
	if result.Features != nil {
		ran++
	}
	middleware.Logger(c).Infof("Comprehensive analysis completed using %d models", ran)

	h.respond(c, endpoint, h.formatter.Analysis(result, includeProbabilities))
}

// RateLimited writes the 429 envelope for the rate limit middleware.
func (h *Handler) RateLimited(c *gin.Context) {
	h.reject(c, c.FullPath(), &apiError{
		status:  http.StatusTooManyRequests,
		code:    response.CodeRateLimited,
		message: "Rate limit exceeded",
	})
}

func (h *Handler) respond(c *gin.Context, endpoint string, body response.Envelope) {
	metrics.RequestsTotal.WithLabelValues(endpoint, "OK").Inc()
	c.JSON(http.StatusOK, body)
}

func (h *Handler) reject(c *gin.Context, endpoint string, apiErr *apiError) {
	metrics.RequestsTotal.WithLabelValues(endpoint, apiErr.code).Inc()

	body := h.formatter.Error(apiErr.code, apiErr.message)
	if apiErr.code == response.CodeFileTooLarge {
		body.Error.MaxSizeMB = h.maxSizeMB()
	}
	c.JSON(apiErr.status, body)
}

// fail maps an inference error to a response. Missing capabilities are 503
// with the reason; anything else is logged and reported generically.
func (h *Handler) fail(c *gin.Context, endpoint, code string, up *upload, err error) {
	entry := middleware.Logger(c).WithError(err).WithField("filename", up.filename)

	if model.IsUnavailable(err) {
		entry.Warn("Model error")
		h.reject(c, endpoint, &apiError{
			status:  http.StatusServiceUnavailable,
			code:    response.CodeModelError,
			message: err.Error(),
		})
		return
	}

	message := "Prediction failed"
	var decodeErr *imaging.DecodeError
	var inferenceErr *model.InferenceError
	switch {
	case errors.Is(err, imaging.ErrTooManyPixels):
		message = "Image dimensions too large"
	case errors.As(err, &decodeErr):
		message = "Could not decode image"
	case errors.As(err, &inferenceErr):
		entry = entry.WithField("role", inferenceErr.Role.String())
		message = "Inference failed"
	}
	entry.Error("Prediction error")

	h.reject(c, endpoint, &apiError{
		status:  http.StatusInternalServerError,
		code:    code,
		message: message,
	})
}

func queryBool(c *gin.Context, name string) (bool, *apiError) {
	value := c.Query(name)
	if value == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, badRequest("Invalid value for %s: %q", name, value)
	}
	return b, nil
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	AppName      string
	AppVersion   string
	Debug        bool
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Model configuration
	ModelDir             string
	ClassificationModel  string
	LocationModel        string
	FeatureModel         string
	ClassificationLabels []string
	LocationLabels       []string
	DefaultInputSize     int
	ONNXRuntimeLib       string
	CorrectOrientation   bool
	MaxImagePixels       int64

	// Upload limits
	MaxFileSize       int64
	AllowedExtensions []string

	// HTTP policy
	AllowedOrigins     []string
	RateLimitPerMinute int
}

func Load() *Config {
	// .env is optional
	_ = godotenv.Load()

	return &Config{
		AppName:      getEnv("APP_NAME", "Car Damage Detection API"),
		AppVersion:   getEnv("APP_VERSION", "1.0.0"),
		Debug:        getBool("DEBUG", false),
		Port:         getEnv("PORT", "8000"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 60*time.Second),

		ModelDir:             getEnv("MODEL_DIR", "./models"),
		ClassificationModel:  getEnv("CLASSIFICATION_MODEL", "car_damage_classification_model.onnx"),
		LocationModel:        getEnv("LOCATION_MODEL", "ft_model_locn.onnx"),
		FeatureModel:         getEnv("FEATURE_MODEL", "ft_model.onnx"),
		ClassificationLabels: getList("CLASSIFICATION_LABELS", []string{"minor", "moderate", "severe"}),
		LocationLabels:       getList("LOCATION_LABELS", []string{"front", "rear", "side", "top"}),
		DefaultInputSize:     getInt("DEFAULT_INPUT_SIZE", 256),
		ONNXRuntimeLib:       getEnv("ONNXRUNTIME_LIB", ""),
		CorrectOrientation:   getBool("CORRECT_ORIENTATION", false),
		MaxImagePixels:       int64(getInt("MAX_IMAGE_PIXELS", 89_478_485)),

		MaxFileSize:       int64(getInt("MAX_FILE_SIZE", 10*1024*1024)),
		AllowedExtensions: lower(getList("ALLOWED_EXTENSIONS", []string{"jpg", "jpeg", "png", "webp"})),

		AllowedOrigins:     getList("ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warnf("Invalid %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Warnf("Invalid %s=%q, using %t", key, value, defaultValue)
		return defaultValue
	}
	return b
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warnf("Invalid %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func lower(items []string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = strings.ToLower(strings.TrimPrefix(item, "."))
	}
	return out
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/damage-api/internal/config"
	"github.com/Brownie44l1/damage-api/internal/handlers"
	"github.com/Brownie44l1/damage-api/internal/imaging"
	"github.com/Brownie44l1/damage-api/internal/inference"
	"github.com/Brownie44l1/damage-api/internal/metrics"
	"github.com/Brownie44l1/damage-api/internal/model"
)

func main() {
	cfg := config.Load()

	if cfg.Debug {
		log.SetHandler(text.New(os.Stderr))
		log.SetLevel(log.DebugLevel)
		gin.SetMode(gin.DebugMode)
	} else {
		log.SetHandler(json.New(os.Stderr))
		log.SetLevel(log.InfoLevel)
		gin.SetMode(gin.ReleaseMode)
	}

	metrics.Register()

	modelDir := resolveModelDir(cfg.ModelDir)
	log.WithField("dir", modelDir).Info("Loading models")

	registry := model.Load(model.LoadOptions{
		Dir: modelDir,
		Files: map[model.Role]string{
			model.RoleClassification: cfg.ClassificationModel,
			model.RoleLocation:       cfg.LocationModel,
			model.RoleFeatures:       cfg.FeatureModel,
		},
		Labels: map[model.Role][]string{
			model.RoleClassification: cfg.ClassificationLabels,
			model.RoleLocation:       cfg.LocationLabels,
		},
		DefaultSize: imaging.Size{Width: cfg.DefaultInputSize, Height: cfg.DefaultInputSize},
		LibraryPath: cfg.ONNXRuntimeLib,
	})
	defer registry.Close()

	metrics.FrameworkAvailable.Set(metrics.Bool(registry.FrameworkAvailable()))
	for _, role := range model.Roles {
		_, ok := registry.Get(role)
		metrics.ModelLoaded.WithLabelValues(role.String()).Set(metrics.Bool(ok))
	}

	service := inference.NewService(registry, imaging.Options{
		CorrectOrientation: cfg.CorrectOrientation,
		MaxPixels:          cfg.MaxImagePixels,
	})
	router := handlers.NewRouter(handlers.NewHandler(service, cfg))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		log.Infof("%s v%s starting on port %s", cfg.AppName, cfg.AppVersion, cfg.Port)
		log.Info("Endpoints:")
		log.Info("  GET  /                       - Service info")
		log.Info("  GET  /health                 - Health check")
		log.Info("  GET  /metrics                - Prometheus metrics")
		log.Info("  POST /predict-damage         - Damage severity")
		log.Info("  POST /predict-location       - Damage location")
		log.Info("  POST /extract-features       - Feature vector")
		log.Info("  POST /comprehensive-analysis - All models")
		log.Infof("Upload test: curl -X POST -F \"file=@car.jpg\" http://localhost:%s/comprehensive-analysis", cfg.Port)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exited")
}

// resolveModelDir anchors a relative model directory at the project root
// when the binary is run from cmd/server.
func resolveModelDir(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	wd, err := os.Getwd()
	if err != nil {
		log.WithError(err).Warn("Failed to get working directory")
		return dir
	}
	if filepath.Base(wd) == "server" {
		wd = filepath.Join(wd, "../..")
	}
	return filepath.Join(wd, dir)
}

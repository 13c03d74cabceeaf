package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"

	"github.com/Brownie44l1/damage-api/internal/imaging"
)

// Model is a loaded inference graph.
type Model interface {
	InputSize() imaging.Size
	// OutputSize is the number of values Run returns, or 0 if unknown.
	OutputSize() int
	Run(t *imaging.Tensor) ([]float32, error)
	Close() error
}

// Opener loads the model stored at path.
type Opener func(path string, fallback imaging.Size) (Model, error)

// LoadOptions controls how Load populates a Registry.
type LoadOptions struct {
	Dir         string
	Files       map[Role]string
	Labels      map[Role][]string
	DefaultSize imaging.Size
	LibraryPath string

	// InitRuntime and Open default to the ONNX Runtime implementations.
	InitRuntime func(libraryPath string) error
	Open        Opener
}

// Registry holds the models loaded at startup. It is never mutated after
// construction and is safe for concurrent use.
type Registry struct {
	frameworkErr error
	models       [roleCount]Model
	configs      [roleCount]Config
	shutdown     func() error
}

// NewRegistry builds a registry from already loaded models. A non-nil
// frameworkErr marks the inference framework unavailable.
func NewRegistry(frameworkErr error, models map[Role]Model, labels map[Role][]string) *Registry {
	r := &Registry{frameworkErr: frameworkErr}
	for _, role := range Roles {
		r.configs[role] = Config{Role: role, Labels: labels[role]}
		if frameworkErr != nil {
			continue
		}
		if m, ok := models[role]; ok && m != nil {
			r.models[role] = m
			r.configs[role].Size = m.InputSize()
		}
	}
	return r
}

// Load initializes the runtime and opens every configured model. Missing or
// broken models are logged and skipped; Load never fails.
func Load(opts LoadOptions) *Registry {
	initRuntime, destroyRuntime := InitRuntime, DestroyRuntime
	if opts.InitRuntime != nil {
		initRuntime, destroyRuntime = opts.InitRuntime, nil
	}
	open := opts.Open
	if open == nil {
		open = func(path string, fallback imaging.Size) (Model, error) {
			return NewSession(path, fallback)
		}
	}

	if err := initRuntime(opts.LibraryPath); err != nil {
		log.WithError(err).Error("Inference framework not available - ML models will not be loaded")
		return NewRegistry(err, nil, opts.Labels)
	}

	models := make(map[Role]Model, roleCount)
	labels := make(map[Role][]string, roleCount)
	for role, l := range opts.Labels {
		labels[role] = l
	}

	for _, role := range Roles {
		file, ok := opts.Files[role]
		if !ok || file == "" {
			log.Warnf("No %s model configured", role)
			continue
		}
		path := filepath.Join(opts.Dir, file)
		ctx := log.WithFields(log.Fields{"role": role.String(), "path": path})

		if _, err := os.Stat(path); err != nil {
			ctx.Warn("Model not found")
			continue
		}

		size := opts.DefaultSize
		if meta, err := readMetadata(path); err != nil {
			ctx.WithError(err).Warn("Ignoring unreadable model metadata")
		} else if meta != nil {
			if len(meta.Classes) > 0 {
				labels[role] = meta.Classes
			}
			if meta.ImageSize > 0 {
				size = imaging.Size{Width: meta.ImageSize, Height: meta.ImageSize}
			}
		}

		m, err := open(path, size)
		if err != nil {
			ctx.WithError(err).Error("Failed to load model")
			continue
		}
		if role != RoleFeatures {
			if err := checkLabels(labels[role], m.OutputSize()); err != nil {
				ctx.WithError(err).Error("Model labels do not match its output")
				m.Close()
				continue
			}
		}

		models[role] = m
		ctx.WithField("input_size", m.InputSize().String()).Info("Model loaded")
	}

	r := NewRegistry(nil, models, labels)
	r.shutdown = destroyRuntime
	log.Infof("Successfully loaded %d models", len(models))
	return r
}

// checkLabels rejects label sets a classifier cannot be mapped onto.
func checkLabels(labels []string, outputSize int) error {
	if len(labels) == 0 {
		return errors.New("no class labels configured")
	}
	if label, ok := duplicateLabel(labels); ok {
		return fmt.Errorf("duplicate class label %q", label)
	}
	if outputSize > 0 && outputSize != len(labels) {
		return fmt.Errorf("model outputs %d scores for %d classes", outputSize, len(labels))
	}
	return nil
}

func duplicateLabel(labels []string) (string, bool) {
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		if _, ok := seen[label]; ok {
			return label, true
		}
		seen[label] = struct{}{}
	}
	return "", false
}

// readMetadata reads the optional <model>.json next to a model file.
func readMetadata(modelPath string) (*Metadata, error) {
	metadataPath := strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".json"
	metaFile, err := os.ReadFile(metadataPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &metadata, nil
}

// Get returns the model for role, or false if it is not loaded.
func (r *Registry) Get(role Role) (Model, bool) {
	if !role.Valid() || r.models[role] == nil {
		return nil, false
	}
	return r.models[role], true
}

// Config returns the configuration of role.
func (r *Registry) Config(role Role) Config {
	if !role.Valid() {
		return Config{Role: role}
	}
	return r.configs[role]
}

// FrameworkAvailable reports whether the inference runtime initialized.
func (r *Registry) FrameworkAvailable() bool {
	return r.frameworkErr == nil
}

// FrameworkError is the runtime initialization failure, if any.
func (r *Registry) FrameworkError() error {
	return r.frameworkErr
}

// Loaded lists the roles with a model, in analysis order.
func (r *Registry) Loaded() []Role {
	var roles []Role
	for _, role := range Roles {
		if r.models[role] != nil {
			roles = append(roles, role)
		}
	}
	return roles
}

// Close releases every model and the runtime.
func (r *Registry) Close() {
	for _, role := range Roles {
		if m := r.models[role]; m != nil {
			if err := m.Close(); err != nil {
				log.WithError(err).Warnf("Failed to close %s model", role)
			}
		}
	}
	if r.shutdown != nil {
		if err := r.shutdown(); err != nil {
			log.WithError(err).Warn("Failed to destroy ONNX environment")
		}
	}
}

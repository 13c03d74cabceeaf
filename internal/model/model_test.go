package model_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/damage-api/internal/imaging"
	"github.com/Brownie44l1/damage-api/internal/model"
	"github.com/Brownie44l1/damage-api/internal/model/modeltest"
)

var (
	severity  = []string{"minor", "moderate", "severe"}
	locations = []string{"front", "rear", "side", "top"}
)

func sum(m map[string]float64) float64 {
	total := 0.0
	for _, v := range m {
		total += v
	}
	return total
}

func TestParseRoles(t *testing.T) {
	roles, err := model.ParseRoles("all")
	require.NoError(t, err)
	assert.Equal(t, model.Roles, roles)

	roles, err = model.ParseRoles("")
	require.NoError(t, err)
	assert.Equal(t, model.Roles, roles)

	roles, err = model.ParseRoles(" location , classification,location ")
	require.NoError(t, err)
	assert.Equal(t, []model.Role{model.RoleClassification, model.RoleLocation}, roles)

	_, err = model.ParseRoles("classification,wheels")
	assert.Error(t, err)

	_, err = model.ParseRoles(" , ")
	assert.Error(t, err)
}

func TestParseRoles_DoesNotAliasRoles(t *testing.T) {
	roles, err := model.ParseRoles("all")
	require.NoError(t, err)
	roles[0] = model.RoleFeatures
	assert.Equal(t, model.RoleClassification, model.Roles[0])
}

func TestRoleString(t *testing.T) {
	for _, role := range model.Roles {
		parsed, err := model.ParseRole(role.String())
		require.NoError(t, err)
		assert.Equal(t, role, parsed)
	}
	assert.False(t, model.Role(7).Valid())
}

func TestClassify_Probabilities(t *testing.T) {
	outputs := [][]float32{
		{0.1, 0.7, 0.2},
		{0.2, 0.2, 0.2},
		{2.5, -1.0, 0.3},
		{0, 0, 3},
		{0.5, 0.5, 0.5},
	}

	for _, raw := range outputs {
		result, err := model.Classify(model.RoleClassification, severity, raw)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sum(result.Probabilities), 1e-4, "raw %v", raw)
		assert.Len(t, result.Probabilities, len(severity))
		for _, label := range severity {
			assert.Contains(t, result.Probabilities, label)
		}
		assert.Equal(t, result.Probabilities[result.Label], result.Confidence)
	}
}

func TestClassify_Argmax(t *testing.T) {
	result, err := model.Classify(model.RoleLocation, locations, []float32{0.1, 0.2, 0.6, 0.1})
	require.NoError(t, err)
	assert.Equal(t, "side", result.Label)
	assert.InDelta(t, 0.6, result.Confidence, 1e-6)
}

func TestClassify_TieBreaksOnFirstIndex(t *testing.T) {
	result, err := model.Classify(model.RoleLocation, locations, []float32{0.1, 0.4, 0.4, 0.1})
	require.NoError(t, err)
	assert.Equal(t, "rear", result.Label)
}

func TestClassify_LogitsAreSoftmaxed(t *testing.T) {
	result, err := model.Classify(model.RoleClassification, severity, []float32{1, 2, 3})
	require.NoError(t, err)

	denom := math.Exp(1) + math.Exp(2) + math.Exp(3)
	assert.InDelta(t, math.Exp(3)/denom, result.Confidence, 1e-9)
	assert.Equal(t, "severe", result.Label)
}

func TestClassify_ShapeMismatch(t *testing.T) {
	_, err := model.Classify(model.RoleClassification, severity, []float32{0.5, 0.5})
	require.Error(t, err)

	var inferenceErr *model.InferenceError
	require.True(t, errors.As(err, &inferenceErr))
	assert.Equal(t, model.RoleClassification, inferenceErr.Role)
}

func TestDistribution_Rejects(t *testing.T) {
	_, err := model.Distribution(nil)
	assert.Error(t, err)

	_, err = model.Distribution([]float32{0, 0})
	assert.Error(t, err)

	_, err = model.Distribution([]float32{float32(math.NaN()), 0.5})
	assert.Error(t, err)
}

func TestIsUnavailable(t *testing.T) {
	assert.True(t, model.IsUnavailable(model.ErrFrameworkUnavailable))
	assert.True(t, model.IsUnavailable(&model.ModelNotLoadedError{Role: model.RoleLocation}))
	assert.False(t, model.IsUnavailable(errors.New("boom")))
	assert.False(t, model.IsUnavailable(&model.InferenceError{Role: model.RoleLocation, Err: errors.New("bad")}))
}

func touch(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func loadOptions(dir string, opened map[string]*modeltest.Fake) model.LoadOptions {
	return model.LoadOptions{
		Dir: dir,
		Files: map[model.Role]string{
			model.RoleClassification: "classification.onnx",
			model.RoleLocation:       "location.onnx",
			model.RoleFeatures:       "features.onnx",
		},
		Labels: map[model.Role][]string{
			model.RoleClassification: severity,
			model.RoleLocation:       locations,
		},
		DefaultSize: imaging.Size{Width: 256, Height: 256},
		InitRuntime: func(string) error { return nil },
		Open: func(path string, fallback imaging.Size) (model.Model, error) {
			fake := &modeltest.Fake{Size: fallback}
			opened[filepath.Base(path)] = fake
			return fake, nil
		},
	}
}

func TestLoad_MissingFilesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "classification.onnx", "graph")

	opened := map[string]*modeltest.Fake{}
	reg := model.Load(loadOptions(dir, opened))

	assert.True(t, reg.FrameworkAvailable())
	assert.Equal(t, []model.Role{model.RoleClassification}, reg.Loaded())

	_, ok := reg.Get(model.RoleLocation)
	assert.False(t, ok)

	m, ok := reg.Get(model.RoleClassification)
	require.True(t, ok)
	assert.Equal(t, imaging.Size{Width: 256, Height: 256}, m.InputSize())
	assert.Equal(t, severity, reg.Config(model.RoleClassification).Labels)
	assert.Equal(t, imaging.Size{Width: 256, Height: 256}, reg.Config(model.RoleClassification).Size)

	reg.Close()
	assert.True(t, opened["classification.onnx"].Closed())
}

func TestLoad_OpenFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "classification.onnx", "graph")
	touch(t, dir, "location.onnx", "graph")

	opts := loadOptions(dir, map[string]*modeltest.Fake{})
	open := opts.Open
	opts.Open = func(path string, fallback imaging.Size) (model.Model, error) {
		if filepath.Base(path) == "location.onnx" {
			return nil, errors.New("corrupt graph")
		}
		return open(path, fallback)
	}

	reg := model.Load(opts)
	assert.Equal(t, []model.Role{model.RoleClassification}, reg.Loaded())
}

func TestLoad_MetadataOverridesLabelsAndSize(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "location.onnx", "graph")
	touch(t, dir, "location.json", `{"classes": ["left", "right"], "image_size": 224}`)

	reg := model.Load(loadOptions(dir, map[string]*modeltest.Fake{}))

	cfg := reg.Config(model.RoleLocation)
	assert.Equal(t, []string{"left", "right"}, cfg.Labels)
	assert.Equal(t, imaging.Size{Width: 224, Height: 224}, cfg.Size)
}

func TestLoad_RuntimeUnavailable(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "classification.onnx", "graph")

	opened := map[string]*modeltest.Fake{}
	opts := loadOptions(dir, opened)
	opts.InitRuntime = func(string) error { return errors.New("libonnxruntime.so: cannot open shared object file") }

	reg := model.Load(opts)
	assert.False(t, reg.FrameworkAvailable())
	assert.Error(t, reg.FrameworkError())
	assert.Empty(t, reg.Loaded())
	assert.Empty(t, opened)
}

func TestNewRegistry_FrameworkErrorDropsModels(t *testing.T) {
	reg := model.NewRegistry(errors.New("no runtime"),
		map[model.Role]model.Model{model.RoleClassification: modeltest.New(8, 1, 0, 0)},
		map[model.Role][]string{model.RoleClassification: severity})

	_, ok := reg.Get(model.RoleClassification)
	assert.False(t, ok)
	assert.Equal(t, severity, reg.Config(model.RoleClassification).Labels)
}

func TestClassify_RejectsDuplicateLabels(t *testing.T) {
	_, err := model.Classify(model.RoleClassification, []string{"minor", "minor", "severe"}, []float32{0.5, 0.3, 0.2})
	require.Error(t, err)

	var inferenceErr *model.InferenceError
	assert.ErrorAs(t, err, &inferenceErr)
}

func TestLoad_DuplicateLabelsLeaveRoleUnloaded(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "classification.onnx", "graph")
	touch(t, dir, "location.onnx", "graph")
	touch(t, dir, "location.json", `{"classes": ["front", "rear", "front"]}`)

	opened := map[string]*modeltest.Fake{}
	opts := loadOptions(dir, opened)
	opts.Labels[model.RoleClassification] = []string{"minor", "minor", "severe"}

	reg := model.Load(opts)
	assert.Empty(t, reg.Loaded())
	assert.True(t, opened["classification.onnx"].Closed())
	assert.True(t, opened["location.onnx"].Closed())
}

func TestLoad_OutputSizeMustMatchLabels(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "classification.onnx", "graph")
	touch(t, dir, "location.onnx", "graph")
	touch(t, dir, "features.onnx", "graph")

	outputs := map[string]int{
		"classification.onnx": 2,
		"location.onnx":       len(locations),
		"features.onnx":       512,
	}
	opened := map[string]*modeltest.Fake{}
	opts := loadOptions(dir, opened)
	opts.Open = func(path string, fallback imaging.Size) (model.Model, error) {
		name := filepath.Base(path)
		fake := &modeltest.Fake{Size: fallback, Output: make([]float32, outputs[name])}
		opened[name] = fake
		return fake, nil
	}

	reg := model.Load(opts)
	assert.Equal(t, []model.Role{model.RoleLocation, model.RoleFeatures}, reg.Loaded())
	assert.True(t, opened["classification.onnx"].Closed())
}

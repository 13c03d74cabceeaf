package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/damage-api/internal/imaging"
)

// InitRuntime loads the ONNX Runtime shared library and initializes its
// environment. An empty libraryPath uses the onnxruntime_go default.
func InitRuntime(libraryPath string) error {
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if ort.IsInitialized() {
		return nil
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// DestroyRuntime releases the ONNX Runtime environment.
func DestroyRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Session runs a single-input ONNX graph with pre-allocated tensors.
// Runs are serialized because the tensors are shared between calls.
type Session struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensor  *ort.Tensor[float32]
	size          imaging.Size
	outputSize    int
	channelsFirst bool
}

type inputLayout struct {
	size          imaging.Size
	channelsFirst bool
}

// NewSession opens modelPath. The input size is read from the graph; fallback
// fills in any spatial dimension the graph leaves dynamic.
func NewSession(modelPath string, fallback imaging.Size) (*Session, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model inputs: %w", err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 model input, got %d", len(inputs))
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("model has no outputs")
	}

	layout, err := resolveInput(inputs[0].Dimensions, fallback)
	if err != nil {
		return nil, err
	}
	outputDims, err := resolveOutput(outputs[0].Dimensions)
	if err != nil {
		return nil, err
	}

	inputShape := ort.NewShape(1, int64(layout.size.Height), int64(layout.size.Width), imaging.Channels)
	if layout.channelsFirst {
		inputShape = ort.NewShape(1, imaging.Channels, int64(layout.size.Height), int64(layout.size.Width))
	}

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outputDims...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Session{
		session:       session,
		inputTensor:   inputTensor,
		outputTensor:  outputTensor,
		size:          layout.size,
		outputSize:    int(ort.NewShape(outputDims...).FlattenedSize()),
		channelsFirst: layout.channelsFirst,
	}, nil
}

// InputSize is the image size the graph expects.
func (s *Session) InputSize() imaging.Size {
	return s.size
}

// OutputSize is the number of values in the graph's output.
func (s *Session) OutputSize() int {
	return s.outputSize
}

// Run feeds one normalized image through the graph and returns a copy of the
// flattened output.
func (s *Session) Run(t *imaging.Tensor) ([]float32, error) {
	if t.Width != s.size.Width || t.Height != s.size.Height {
		return nil, fmt.Errorf("tensor is %dx%d, model expects %s", t.Width, t.Height, s.size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fillInput(s.inputTensor.GetData(), t, s.channelsFirst)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	outputData := s.outputTensor.GetData()
	out := make([]float32, len(outputData))
	copy(out, outputData)
	return out, nil
}

func (s *Session) Close() error {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}

// resolveInput accepts NHWC (1,H,W,3) and NCHW (1,3,H,W) image inputs.
func resolveInput(dims []int64, fallback imaging.Size) (inputLayout, error) {
	if len(dims) != 4 {
		return inputLayout{}, fmt.Errorf("expected a 4-D image input, got shape %v", dims)
	}

	var h, w int64
	var channelsFirst bool
	switch {
	case dims[3] == imaging.Channels:
		h, w = dims[1], dims[2]
	case dims[1] == imaging.Channels:
		h, w = dims[2], dims[3]
		channelsFirst = true
	default:
		return inputLayout{}, fmt.Errorf("input shape %v has no 3-channel axis", dims)
	}

	size := fallback
	if h > 0 {
		size.Height = int(h)
	}
	if w > 0 {
		size.Width = int(w)
	}
	return inputLayout{size: size, channelsFirst: channelsFirst}, nil
}

// resolveOutput binds a dynamic batch dimension to 1.
func resolveOutput(dims []int64) ([]int64, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("model output has no dimensions")
	}
	out := make([]int64, len(dims))
	copy(out, dims)
	if out[0] <= 0 {
		out[0] = 1
	}
	for i, d := range out[1:] {
		if d <= 0 {
			return nil, fmt.Errorf("output dimension %d is dynamic in shape %v", i+1, dims)
		}
	}
	return out, nil
}

// fillInput copies an NHWC tensor into dst, converting to planar NCHW when
// the graph is channels-first.
func fillInput(dst []float32, t *imaging.Tensor, channelsFirst bool) {
	if !channelsFirst {
		copy(dst, t.Data)
		return
	}

	plane := t.Width * t.Height
	for i := 0; i < plane; i++ {
		dst[i] = t.Data[i*imaging.Channels]
		dst[plane+i] = t.Data[i*imaging.Channels+1]
		dst[2*plane+i] = t.Data[i*imaging.Channels+2]
	}
}

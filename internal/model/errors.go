package model

import (
	"errors"
	"fmt"
)

// ErrFrameworkUnavailable is returned by every inference call when the ONNX
// Runtime environment failed to initialize at startup.
var ErrFrameworkUnavailable = errors.New("inference framework not available: ONNX Runtime failed to initialize")

// ModelNotLoadedError reports a role whose model is not loaded.
type ModelNotLoadedError struct {
	Role Role
}

func (e *ModelNotLoadedError) Error() string {
	return fmt.Sprintf("%s model not loaded", e.Role)
}

// InferenceError wraps a failed forward pass or an unusable model output.
type InferenceError struct {
	Role Role
	Err  error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference: %v", e.Role, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err means a capability is missing rather than
// that a request failed.
func IsUnavailable(err error) bool {
	var notLoaded *ModelNotLoadedError
	return errors.Is(err, ErrFrameworkUnavailable) || errors.As(err, &notLoaded)
}

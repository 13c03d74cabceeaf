package response

// Error codes returned in the error envelope.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeModelError      = "MODEL_ERROR"
	CodePredictionError = "PREDICTION_ERROR"
	CodeExtractionError = "EXTRACTION_ERROR"
	CodeAnalysisError   = "ANALYSIS_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
)

type ErrorEnvelope struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string  `json:"code"`
	Message   string  `json:"message"`
	MaxSizeMB int64   `json:"max_size_mb,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

// Error builds a failure envelope.
func (f *Formatter) Error(code, message string) ErrorEnvelope {
	return ErrorEnvelope{
		Success: false,
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Timestamp: Timestamp(f.Now()),
		},
	}
}

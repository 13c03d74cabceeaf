package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/damage-api/internal/response"
)

const (
	formFileField = "file"
	// Room for multipart boundaries and headers on top of the file itself.
	multipartOverhead = 1 << 20
)

// apiError is a request rejected before inference.
type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) Error() string { return e.message }

func badRequest(format string, args ...any) *apiError {
	return &apiError{status: http.StatusBadRequest, code: response.CodeBadRequest, message: fmt.Sprintf(format, args...)}
}

// upload is a validated image file.
type upload struct {
	filename string
	data     []byte
}

// readUpload enforces the filename, extension and size limits before
// anything tries to decode the file.
func (h *Handler) readUpload(c *gin.Context) (*upload, *apiError) {
	maxSize := h.cfg.MaxFileSize
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize+multipartOverhead)

	fileHeader, err := c.FormFile(formFileField)
	if err != nil {
		if isBodyTooLarge(err) {
			return nil, h.tooLarge()
		}
		if errors.Is(err, http.ErrMissingFile) {
			return nil, badRequest("No file provided. Use '%s' as the form field name", formFileField)
		}
		return nil, badRequest("Failed to parse form: %v", err)
	}

	if fileHeader.Filename == "" {
		return nil, badRequest("No filename provided")
	}
	if !h.allowedExtension(fileHeader.Filename) {
		return nil, badRequest("File type not supported. Allowed: %s", strings.Join(h.cfg.AllowedExtensions, ", "))
	}
	if fileHeader.Size > maxSize {
		return nil, h.tooLarge()
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, badRequest("Failed to read file")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return nil, badRequest("Failed to read file")
	}
	if int64(len(data)) > maxSize {
		return nil, h.tooLarge()
	}
	if len(data) == 0 {
		return nil, badRequest("Uploaded file is empty")
	}

	return &upload{filename: fileHeader.Filename, data: data}, nil
}

func (h *Handler) allowedExtension(filename string) bool {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return false
	}
	ext := strings.ToLower(filename[idx+1:])
	for _, allowed := range h.cfg.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (h *Handler) tooLarge() *apiError {
	return &apiError{
		status:  http.StatusRequestEntityTooLarge,
		code:    response.CodeFileTooLarge,
		message: fmt.Sprintf("File too large. Maximum size: %dMB", h.maxSizeMB()),
	}
}

func (h *Handler) maxSizeMB() int64 {
	return h.cfg.MaxFileSize / (1024 * 1024)
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	// mime/multipart does not always wrap the reader error.
	return strings.Contains(err.Error(), "request body too large")
}

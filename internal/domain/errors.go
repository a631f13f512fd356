package domain

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on Code so that a WithError copy still compares equal to its sentinel.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Err:        err,
	}
}

// ErrNoFace is returned by face locators when the frame holds no face.
// The detect pipeline reports it as the no_face_detected label, not as a failure.
var ErrNoFace = errors.New("no face detected")

// Pre-defined errors
var (
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		StatusCode: http.StatusInternalServerError,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrNoImage = &AppError{
		Code:       "NO_IMAGE",
		Message:    "No image provided",
		StatusCode: http.StatusBadRequest,
	}

	ErrInvalidImage = &AppError{
		Code:       "INVALID_IMAGE",
		Message:    "Invalid image format or corrupted file",
		StatusCode: http.StatusBadRequest,
	}

	ErrImageTooLarge = &AppError{
		Code:       "IMAGE_TOO_LARGE",
		Message:    "Image exceeds the upload limit",
		StatusCode: http.StatusRequestEntityTooLarge,
	}

	ErrModelInput = &AppError{
		Code:       "MODEL_INPUT_MISMATCH",
		Message:    "Input does not match the model input shape",
		StatusCode: http.StatusBadRequest,
	}

	ErrLayerNotFound = &AppError{
		Code:       "LAYER_NOT_FOUND",
		Message:    "Layer not found in explain model",
		StatusCode: http.StatusNotFound,
	}

	ErrSessionNotFound = &AppError{
		Code:       "SESSION_NOT_FOUND",
		Message:    "session not found",
		StatusCode: http.StatusNotFound,
	}
)

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

package models

import "errors"

// Common validation errors for models.
var (
	// ErrVideoNameRequired indicates a required video name field is empty.
	ErrVideoNameRequired = errors.New("video_original_name is required")

	// ErrLanguageRequired indicates a required language tag is empty.
	ErrLanguageRequired = errors.New("language is required")

	// ErrInvalidStage indicates an unknown pipeline stage.
	ErrInvalidStage = errors.New("invalid stage")
)

// Domain error kinds. HTTP handlers translate these onto status codes;
// everything else wraps them with context.
var (
	// ErrTaskNotFound indicates the task does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrConflict indicates a conflicting operation is already in flight.
	ErrConflict = errors.New("conflict")

	// ErrWorkerUnavailable indicates the stage's external runtime is missing
	// or its binary is not executable.
	ErrWorkerUnavailable = errors.New("worker unavailable")

	// ErrWorkerFailed indicates the worker exited non-zero or produced an
	// unparseable result.
	ErrWorkerFailed = errors.New("worker failed")

	// ErrTimeout indicates a stage exceeded its wall-clock limit.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled indicates a stage was cancelled by a stop request.
	ErrCancelled = errors.New("cancelled")
)

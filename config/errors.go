package config

import "errors"

// Sentinel errors for the pipeline failure taxonomy. Fatal kinds surface to
// the caller as wrapped Go errors; spoof kinds become structured verdicts
// carrying the matching failure reason.
var (
	ErrInvalidImage    = errors.New("invalid image")
	ErrModelLoadFailed = errors.New("model loading failed")
	ErrModelNotFound   = errors.New("model not found")
	ErrNoFaceDetected  = errors.New("no face detected")
	ErrInferenceFailed = errors.New("inference failed")
)

// Failure reasons attached to Spoof verdicts.
const (
	ReasonBlurry        = "Image is blurry"
	ReasonTooBlurry     = "Image is too blurry"
	ReasonAlbedoSpoof   = "Albedo check failed: Image is spoof"
	ReasonLivenessSpoof = "Liveness check failed"
	ReasonNoFace        = "No face detected in the image"
)

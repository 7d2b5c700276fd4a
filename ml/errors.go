package ml

import "errors"

var (
	ErrUnknownCategory      = errors.New("unknown category")
	ErrSchemaMismatch       = errors.New("schema mismatch")
	ErrNotFitted            = errors.New("model not fitted")
	ErrInsufficientSamples  = errors.New("insufficient samples")
	ErrIncompatibleArtifact = errors.New("incompatible model artifact")
)

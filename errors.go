package goftircore

import "errors"

// Failure taxonomy. Every error returned by this module wraps exactly one of
// these, so callers branch with errors.Is.
var (
	// ErrFormat reports a malformed persisted spectrum file.
	ErrFormat = errors.New("format error")
	// ErrInvalidParameter reports lambda, p or a configuration value out of domain.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInsufficientData reports too few samples for the requested operation.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvalidInput reports non-finite or otherwise unusable sample values.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlignment reports spectra with no usable common grid.
	ErrAlignment = errors.New("alignment error")
	// ErrSourceConversion reports a failure of the instrument file parser.
	ErrSourceConversion = errors.New("source conversion error")
)

package model

import (
	"errors"
	"fmt"
)

// Classifier scores one preprocessed image. Classify must not modify input and
// returns one score per class. A Classifier is not safe for concurrent use
// unless the implementation says otherwise.
type Classifier interface {
	Classify(input []float32) ([]float32, error)
	Close() error
}

var ErrClassifierClosed = errors.New("classifier is closed")

// LoadError reports a model or label asset that could not be loaded.
type LoadError struct {
	Asset string
	Path  string
	Err   error
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to load %s from %s: %v", e.Asset, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to load %s: %v", e.Asset, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

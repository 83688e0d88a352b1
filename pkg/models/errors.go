package models

import "fmt"

// InsufficientDataError reports a training call with too few samples. The
// model keeps whatever state it had before the call.
type InsufficientDataError struct {
	Required int
	Got      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient training data: need %d samples, got %d", e.Required, e.Got)
}

// FeatureSchemaMismatchError reports a persisted model whose feature columns
// no longer match the extractor's output. Predictions against such a model
// would be silently wrong, so the load fails closed.
type FeatureSchemaMismatchError struct {
	Want []string
	Got  []string
}

func (e *FeatureSchemaMismatchError) Error() string {
	return fmt.Sprintf("feature schema mismatch: extractor has %d columns, artifact has %d", len(e.Want), len(e.Got))
}

// ModelLoadError reports missing or corrupt model artifacts.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model from %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

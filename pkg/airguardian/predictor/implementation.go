package predictor

import (
	"context"
	"fmt"
)

// Implementation is a regression function from a feature vector to the next
// value of the smoke proxy channel.
type Implementation interface {
	// Predict returns the forecast for one feature vector
	Predict(ctx context.Context, features []float64) (float64, error)

	// Dimension is the feature vector length the implementation was built for
	Dimension() int
}

// ModelContractError reports a mismatch between a predictor artifact and the
// feature layout. It is a startup-time configuration error: a pipeline must
// refuse to run with an artifact that raises it.
type ModelContractError struct {
	Source string
	Reason string
}

func (e *ModelContractError) Error() string {
	return fmt.Sprintf("model contract violation (%s): %s", e.Source, e.Reason)
}

func contractErrorf(source, format string, args ...interface{}) error {
	return &ModelContractError{Source: source, Reason: fmt.Sprintf(format, args...)}
}

// CheckDimension fails with ModelContractError when impl does not accept
// vectors of length want.
func CheckDimension(impl Implementation, want int) error {
	if got := impl.Dimension(); got != want {
		return contractErrorf(fmt.Sprintf("%T", impl), "predictor expects %d features, extractor produces %d", got, want)
	}
	return nil
}

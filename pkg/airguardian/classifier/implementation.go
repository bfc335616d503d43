package classifier

import (
	"context"
	"fmt"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// Implementation identifies the likely pollution source of a reading
type Implementation interface {
	// Classify returns the source classification for one reading
	Classify(ctx context.Context, reading types.Reading) (types.Classification, error)
}

// ClassifierFailure wraps any error raised by a classifier backend. The
// pipeline never propagates it: it substitutes an unknown classification.
type ClassifierFailure struct {
	Backend string
	Err     error
}

func (e *ClassifierFailure) Error() string {
	return fmt.Sprintf("classifier %s failed: %v", e.Backend, e.Err)
}

func (e *ClassifierFailure) Unwrap() error {
	return e.Err
}

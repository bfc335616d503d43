package mock

import (
	"context"
	"fmt"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/classifier"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// MockClassifier implements classifier.Implementation with a fixed verdict
type MockClassifier struct {
	result    types.Classification
	errorMode bool
}

// New creates a mock classifier that always returns label with confidence
func New(label types.Label, confidence float64) classifier.Implementation {
	return &MockClassifier{
		result: types.Classification{Label: label, Confidence: confidence, Reasoning: "mock classification"},
	}
}

// NewWithError creates a mock classifier that always fails
func NewWithError() classifier.Implementation {
	return &MockClassifier{errorMode: true}
}

// Classify returns the configured classification
func (m *MockClassifier) Classify(ctx context.Context, r types.Reading) (types.Classification, error) {
	if m.errorMode {
		return types.Classification{}, &classifier.ClassifierFailure{Backend: "mock", Err: fmt.Errorf("classifier error (mock)")}
	}
	return m.result, nil
}

// MockClassifierImplementation gives tests full control over Classify
type MockClassifierImplementation struct {
	ClassifyFunc func(ctx context.Context, r types.Reading) (types.Classification, error)
}

// Classify delegates to the mock function
func (m *MockClassifierImplementation) Classify(ctx context.Context, r types.Reading) (types.Classification, error) {
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, r)
	}
	return types.UnknownClassification("mock"), nil
}

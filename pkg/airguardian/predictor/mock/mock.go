package mock

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/features"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/predictor"
)

// MockPredictor implements predictor.Implementation with a fixed output
type MockPredictor struct {
	value     float64
	errorMode bool
	calls     atomic.Int64
}

// New creates a mock predictor that always returns value
func New(value float64) *MockPredictor {
	return &MockPredictor{value: value}
}

// NewWithError creates a mock predictor that always fails
func NewWithError() *MockPredictor {
	return &MockPredictor{errorMode: true}
}

// Predict returns the configured value
func (m *MockPredictor) Predict(ctx context.Context, x []float64) (float64, error) {
	m.calls.Add(1)
	if m.errorMode {
		return 0, fmt.Errorf("predictor error (mock)")
	}
	return m.value, nil
}

// Dimension matches the feature extractor
func (m *MockPredictor) Dimension() int {
	return features.Length
}

// Calls returns how many times Predict was invoked
func (m *MockPredictor) Calls() int {
	return int(m.calls.Load())
}

// MockPredictorImplementation gives tests full control over each method
type MockPredictorImplementation struct {
	PredictFunc   func(ctx context.Context, x []float64) (float64, error)
	DimensionFunc func() int
}

// Predict delegates to the mock function
func (m *MockPredictorImplementation) Predict(ctx context.Context, x []float64) (float64, error) {
	if m.PredictFunc != nil {
		return m.PredictFunc(ctx, x)
	}
	return 0, nil
}

// Dimension delegates to the mock function
func (m *MockPredictorImplementation) Dimension() int {
	if m.DimensionFunc != nil {
		return m.DimensionFunc()
	}
	return features.Length
}

var (
	_ predictor.Implementation = &MockPredictor{}
	_ predictor.Implementation = &MockPredictorImplementation{}
)

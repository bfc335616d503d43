package predictor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/features"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/metrics"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// Fallback reasons recorded on degraded forecasts
const (
	FallbackShortWindow = "short_window"
	FallbackTimeout     = "timeout"
	FallbackError       = "error"
)

// Forecaster turns a reading window into a Forecast, falling back to naive
// carry-forward of the primary channel (co) when the window is short or the
// predictor does not answer in time.
type Forecaster struct {
	impl       Implementation
	windowSize int
	timeout    time.Duration
}

// NewForecaster validates impl against the feature layout and wraps it
func NewForecaster(impl Implementation, windowSize int, timeout time.Duration) (*Forecaster, error) {
	if impl == nil {
		return nil, fmt.Errorf("predictor implementation is required")
	}
	if err := CheckDimension(impl, features.Length); err != nil {
		return nil, err
	}
	if windowSize <= 0 {
		windowSize = common.WindowSize
	}
	if timeout <= 0 {
		timeout = common.DefaultPredictorTimeout
	}
	return &Forecaster{impl: impl, windowSize: windowSize, timeout: timeout}, nil
}

// WindowSize returns the number of readings a full window holds
func (f *Forecaster) WindowSize() int {
	return f.windowSize
}

// Forecast predicts the next value of the smoke proxy for a device window
func (f *Forecaster) Forecast(ctx context.Context, window []types.Reading) types.Forecast {
	if len(window) == 0 {
		return types.Forecast{
			Confidence: common.ConfidenceBaseline,
			Reasoning:  "No readings available.",
			Degraded:   true,
		}
	}

	last := window[len(window)-1]
	if len(window) < f.windowSize {
		metrics.PredictorFallbacks.WithLabelValues(FallbackShortWindow).Inc()
		return Derive(last.CO, last.CO, FallbackShortWindow)
	}
	if len(window) > f.windowSize {
		window = window[len(window)-f.windowSize:]
	}

	vec := features.Extract(window)
	value, err := f.predict(ctx, vec)
	if err != nil {
		reason := FallbackError
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			reason = FallbackTimeout
		}
		klog.V(2).InfoS("Predictor failed, using naive carry-forward",
			"device", last.DeviceID,
			"reason", reason,
			"error", err)
		metrics.PredictorFallbacks.WithLabelValues(reason).Inc()
		return Derive(last.CO, last.CO, reason)
	}

	fc := Derive(value, last.CO, "")
	klog.V(3).InfoS("Forecast computed",
		"device", last.DeviceID,
		"prediction", value,
		"willPeak", fc.WillPeak,
		"confidence", fc.Confidence)
	return fc
}

// predict bounds a single predictor call by the forecaster timeout even if the
// implementation ignores its context.
func (f *Forecaster) predict(ctx context.Context, vec features.Vector) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	type result struct {
		value float64
		err   error
	}
	done := make(chan result, 1)
	start := time.Now()

	go func() {
		v, err := f.impl.Predict(callCtx, vec)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			metrics.PredictorLatency.WithLabelValues("error").Observe(time.Since(start).Seconds())
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return 0, context.DeadlineExceeded
			}
			return 0, r.err
		}
		metrics.PredictorLatency.WithLabelValues("ok").Observe(time.Since(start).Seconds())
		return r.value, nil
	case <-callCtx.Done():
		metrics.PredictorLatency.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, context.DeadlineExceeded
	}
}

// Derive builds a Forecast from a point estimate and the last observed value
// of the primary channel. fallback is empty for model-backed forecasts.
func Derive(point, lastPrimary float64, fallback string) types.Forecast {
	willPeak := point > lastPrimary*common.PeakRiseFactor && point > common.PeakFloor

	confidence := common.ConfidenceBaseline
	switch {
	case point > common.HighForecastValue:
		confidence = common.ConfidenceHighForecast
	case willPeak:
		confidence = common.ConfidencePeak
	}

	reasoning := fmt.Sprintf("Predicted MQ2 level: %.2f. ", point)
	if willPeak {
		reasoning += "Rising trend predicted based on multivariate analysis."
	} else {
		reasoning += "Stable or decreasing trend."
	}
	if fallback != "" {
		reasoning += fmt.Sprintf(" (naive carry-forward: %s)", fallback)
	}

	return types.Forecast{
		PointEstimate: point,
		WillPeak:      willPeak,
		Confidence:    confidence,
		Reasoning:     reasoning,
		Degraded:      fallback != "",
	}
}

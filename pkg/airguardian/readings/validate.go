package readings

import (
	"fmt"
	"math"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// ValidationError reports a malformed reading. Readings that fail validation
// never enter the pipeline.
type ValidationError struct {
	DeviceID string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.DeviceID == "" {
		return fmt.Sprintf("invalid reading: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid reading from %s: %s %s", e.DeviceID, e.Field, e.Reason)
}

// Validate checks that a reading is well-formed: it names a device, carries a
// timestamp and every numeric channel present is finite.
func Validate(r types.Reading) error {
	if r.DeviceID == "" {
		return &ValidationError{Field: "device_id", Reason: "is empty"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{DeviceID: r.DeviceID, Field: "timestamp", Reason: "is not set"}
	}

	required := []struct {
		name  string
		value float64
	}{
		{"pm25", r.PM25},
		{"co2", r.CO2},
		{"co", r.CO},
		{"voc", r.VOC},
	}
	for _, f := range required {
		if !isFinite(f.value) {
			return &ValidationError{DeviceID: r.DeviceID, Field: f.name, Reason: "is not finite"}
		}
	}

	optional := []struct {
		name  string
		value *float64
	}{
		{"mq2_raw", r.MQ2Raw},
		{"temperature", r.Temperature},
		{"humidity", r.Humidity},
	}
	for _, f := range optional {
		if f.value != nil && !isFinite(*f.value) {
			return &ValidationError{DeviceID: r.DeviceID, Field: f.name, Reason: "is not finite"}
		}
	}

	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

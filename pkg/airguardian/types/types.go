package types

import (
	"strings"
	"time"
)

// Reading is a single multivariate sample reported by a sensor node.
// Units: pm25 µg/m³, co2 ppm, co ppm, voc ppb. Optional channels are nil when
// the node does not carry the sensor.
type Reading struct {
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"timestamp"`
	PM25        float64   `json:"pm25"`
	CO2         float64   `json:"co2"`
	CO          float64   `json:"co"`
	VOC         float64   `json:"voc"`
	MQ2Raw      *float64  `json:"mq2_raw,omitempty"`     // Raw gas sensor ADC value (0-1023)
	Temperature *float64  `json:"temperature,omitempty"` // Celsius
	Humidity    *float64  `json:"humidity,omitempty"`    // Relative humidity in %
}

// Forecast is the predicted near-term value of the smoke proxy channel.
type Forecast struct {
	PointEstimate float64 `json:"point_estimate"`
	WillPeak      bool    `json:"will_peak"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
	Degraded      bool    `json:"degraded"` // Naive carry-forward instead of a model call
}

// Label identifies the likely pollution source.
type Label string

const (
	LabelCigarette Label = "cigarette"
	LabelVehicle   Label = "vehicle"
	LabelCooking   Label = "cooking"
	LabelChemical  Label = "chemical"
	LabelClean     Label = "clean"
	LabelUnknown   Label = "unknown"
)

var knownLabels = map[Label]bool{
	LabelCigarette: true,
	LabelVehicle:   true,
	LabelCooking:   true,
	LabelChemical:  true,
	LabelClean:     true,
	LabelUnknown:   true,
}

// ParseLabel maps free text onto a Label. Anything outside the known set
// becomes LabelUnknown.
func ParseLabel(s string) Label {
	l := Label(strings.ToLower(strings.TrimSpace(s)))
	if knownLabels[l] {
		return l
	}
	return LabelUnknown
}

// Classification is the source classifier's verdict for one reading.
type Classification struct {
	Label      Label   `json:"air_type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// UnknownClassification is substituted when the classifier cannot answer.
func UnknownClassification(reason string) Classification {
	return Classification{Label: LabelUnknown, Confidence: 0, Reasoning: reason}
}

// FanIntensity is a discrete fan duty level in percent.
type FanIntensity int

const (
	FanOff    FanIntensity = 0
	FanLow    FanIntensity = 25
	FanMedium FanIntensity = 50
	FanHigh   FanIntensity = 75
	FanMax    FanIntensity = 100
)

// FanLevels lists every allowed intensity in ascending order.
var FanLevels = []FanIntensity{FanOff, FanLow, FanMedium, FanHigh, FanMax}

// Decision is the fan-control action for one reading.
type Decision struct {
	FanOn          bool         `json:"fan_on"`
	FanIntensity   FanIntensity `json:"fan_intensity"`
	Reasoning      string       `json:"reasoning"`
	OverrideReason *string      `json:"override_reason"`
}

// FaultType classifies a sensor fault.
type FaultType string

const (
	FaultStuckSensor FaultType = "stuck_sensor"
	FaultSpike       FaultType = "spike"
	FaultOutOfRange  FaultType = "out_of_range"
)

// Fault describes a suspected sensor malfunction and the healing action taken.
type Fault struct {
	Type           FaultType `json:"fault_type"`
	AffectedSensor string    `json:"affected_sensor"`
	Severity       string    `json:"severity"`
	Details        string    `json:"details"`
	HealingAction  string    `json:"healing_action"`
	IgnoredSensors []string  `json:"ignored_sensors"`
	DetectedAt     time.Time `json:"detected_at"`
}

// DeviceSnapshot is the latest materialized pipeline output for a device.
type DeviceSnapshot struct {
	Reading        Reading        `json:"reading"`
	Forecast       Forecast       `json:"forecast"`
	Classification Classification `json:"classification"`
	Decision       Decision       `json:"decision"`
	Fault          *Fault         `json:"fault,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so callers never share pointer fields.
func (s DeviceSnapshot) Clone() DeviceSnapshot {
	out := s
	out.Reading = s.Reading.Clone()
	if s.Decision.OverrideReason != nil {
		reason := *s.Decision.OverrideReason
		out.Decision.OverrideReason = &reason
	}
	if s.Fault != nil {
		f := *s.Fault
		f.IgnoredSensors = append([]string(nil), s.Fault.IgnoredSensors...)
		out.Fault = &f
	}
	return out
}

// Clone returns a copy of the reading with its optional channels copied.
func (r Reading) Clone() Reading {
	out := r
	out.MQ2Raw = cloneFloat(r.MQ2Raw)
	out.Temperature = cloneFloat(r.Temperature)
	out.Humidity = cloneFloat(r.Humidity)
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

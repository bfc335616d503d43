package faults

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"

	ActionIgnoreSensor = "ignore_sensor"
	ActionMonitor      = "monitor"
	ActionFlagReading  = "flag_reading"

	// DefaultSpikeZScore is the z-score above which the latest value is a spike
	DefaultSpikeZScore = 4.0
)

type channel struct {
	name  string
	value func(types.Reading) float64
}

var (
	requiredChannels = []channel{
		{"pm25", func(r types.Reading) float64 { return r.PM25 }},
		{"co2", func(r types.Reading) float64 { return r.CO2 }},
		{"co", func(r types.Reading) float64 { return r.CO }},
		{"voc", func(r types.Reading) float64 { return r.VOC }},
	}
	stuckChannels = []channel{requiredChannels[0], requiredChannels[2], requiredChannels[3]}
)

// Detector looks for sensor malfunctions in a device's window. Faults are
// informational and never change a control decision.
type Detector struct {
	windowSize  int
	spikeZScore float64
}

// NewDetector creates a detector for windows of windowSize readings
func NewDetector(windowSize int) *Detector {
	if windowSize <= 0 {
		windowSize = common.WindowSize
	}
	return &Detector{windowSize: windowSize, spikeZScore: DefaultSpikeZScore}
}

// Detect returns the first fault found in the window, or nil. Range checks
// only need the latest reading; stuck and spike checks need a full window.
func (d *Detector) Detect(window []types.Reading) *types.Fault {
	if len(window) == 0 {
		return nil
	}
	latest := window[len(window)-1]

	if f := outOfRange(latest); f != nil {
		return f
	}
	if len(window) < d.windowSize {
		return nil
	}
	window = window[len(window)-d.windowSize:]

	if f := stuck(window); f != nil {
		return f
	}
	return d.spike(window)
}

func outOfRange(r types.Reading) *types.Fault {
	for _, ch := range requiredChannels {
		if v := ch.value(r); v < 0 {
			return &types.Fault{
				Type:           types.FaultOutOfRange,
				AffectedSensor: ch.name,
				Severity:       SeverityHigh,
				Details:        fmt.Sprintf("%s reported negative value %.2f", ch.name, v),
				HealingAction:  ActionFlagReading,
				IgnoredSensors: []string{ch.name},
				DetectedAt:     r.Timestamp,
			}
		}
	}
	return nil
}

func stuck(window []types.Reading) *types.Fault {
	latest := window[len(window)-1]
	for _, ch := range stuckChannels {
		first := ch.value(window[0])
		if first == 0 {
			continue
		}
		identical := true
		for _, r := range window[1:] {
			if ch.value(r) != first {
				identical = false
				break
			}
		}
		if identical {
			return &types.Fault{
				Type:           types.FaultStuckSensor,
				AffectedSensor: ch.name,
				Severity:       SeverityMedium,
				Details:        fmt.Sprintf("%s stuck at %.2f for %d readings", ch.name, first, len(window)),
				HealingAction:  ActionIgnoreSensor,
				IgnoredSensors: []string{ch.name},
				DetectedAt:     latest.Timestamp,
			}
		}
	}
	return nil
}

func (d *Detector) spike(window []types.Reading) *types.Fault {
	latest := window[len(window)-1]
	preceding := window[:len(window)-1]
	if len(preceding) < 2 {
		return nil
	}

	values := make([]float64, len(preceding))
	for _, ch := range requiredChannels {
		for i, r := range preceding {
			values[i] = ch.value(r)
		}
		mean, std := stat.MeanStdDev(values, nil)
		if std == 0 || math.IsNaN(std) {
			continue
		}
		z := (ch.value(latest) - mean) / std
		if math.Abs(z) > d.spikeZScore {
			return &types.Fault{
				Type:           types.FaultSpike,
				AffectedSensor: ch.name,
				Severity:       SeverityLow,
				Details:        fmt.Sprintf("%s jumped to %.2f (z-score %.1f against mean %.2f)", ch.name, ch.value(latest), z, mean),
				HealingAction:  ActionMonitor,
				IgnoredSensors: []string{},
				DetectedAt:     latest.Timestamp,
			}
		}
	}
	return nil
}

package control

import (
	"fmt"
	"math"
	"strings"

	"k8s.io/utils/ptr"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

const noActionReasoning = "No critical conditions detected. Fan off."

// Decide folds a reading, its forecast and its classification into a fan
// command. It has no side effects and is deterministic.
func Decide(r types.Reading, f types.Forecast, c types.Classification) types.Decision {
	in := Input{Reading: r, Forecast: f, Classification: c}

	var (
		intensity types.FanIntensity
		messages  []string
	)
	for _, rule := range safetyRules {
		if !rule.Applies(in) {
			continue
		}
		intensity = maxIntensity(intensity, rule.Intensity)
		messages = append(messages, rule.Message(in))
	}

	if len(messages) > 0 {
		return types.Decision{
			FanOn:          true,
			FanIntensity:   SnapIntensity(float64(intensity)),
			Reasoning:      strings.Join(messages, "; "),
			OverrideReason: ptr.To(common.SafetyOverrideLabel),
		}
	}

	if !comfortTriggered(r) {
		return types.Decision{
			FanOn:        false,
			FanIntensity: types.FanOff,
			Reasoning:    noActionReasoning,
		}
	}

	return comfortDecision(in)
}

func comfortTriggered(r types.Reading) bool {
	return r.PM25 > common.ComfortPM25 || r.CO > common.ComfortCO || r.VOC > common.ComfortVOC
}

// Severity is the worst of the normalized comfort channels
func Severity(r types.Reading) float64 {
	return math.Max(r.PM25/common.SeverityRefPM25, math.Max(r.CO/common.SeverityRefCO, r.VOC/common.SeverityRefVOC))
}

func severityLevel(severity float64) types.FanIntensity {
	switch {
	case severity >= 0.8:
		return types.FanMax
	case severity >= 0.6:
		return types.FanHigh
	case severity >= 0.4:
		return types.FanMedium
	default:
		return types.FanLow
	}
}

func labelFloor(label types.Label, severity float64) types.FanIntensity {
	switch label {
	case types.LabelChemical:
		return types.FanMax
	case types.LabelCigarette, types.LabelVehicle:
		if severity > 0.8 {
			return types.FanMax
		}
		return types.FanHigh
	case types.LabelCooking:
		if severity > 0.6 {
			return types.FanHigh
		}
		return types.FanMedium
	}
	return types.FanOff
}

func comfortDecision(in Input) types.Decision {
	severity := Severity(in.Reading)
	level := severityLevel(severity)
	reasons := []string{fmt.Sprintf("Air quality degraded (severity %.2f).", severity)}

	if floor := labelFloor(in.Classification.Label, severity); floor > level {
		level = floor
		reasons = append(reasons, fmt.Sprintf("Source %s raises intensity.", in.Classification.Label))
	}

	if in.Forecast.WillPeak && in.Forecast.Confidence > common.ComfortBoostMinConf {
		level = minIntensity(level+25, types.FanMax)
		reasons = append(reasons, "Rising trend predicted, boosting fan.")
	}

	return types.Decision{
		FanOn:        true,
		FanIntensity: SnapIntensity(float64(level)),
		Reasoning:    strings.Join(reasons, " "),
	}
}

// SnapIntensity maps v to the nearest allowed fan level. Values outside
// [0,100] are clamped and a value halfway between two levels rounds up.
func SnapIntensity(v float64) types.FanIntensity {
	if math.IsNaN(v) || v <= 0 {
		return types.FanOff
	}
	if v >= float64(types.FanMax) {
		return types.FanMax
	}
	step := float64(types.FanLow)
	return types.FanIntensity(math.Floor(v/step+0.5) * step)
}

func maxIntensity(a, b types.FanIntensity) types.FanIntensity {
	if a > b {
		return a
	}
	return b
}

func minIntensity(a, b types.FanIntensity) types.FanIntensity {
	if a < b {
		return a
	}
	return b
}

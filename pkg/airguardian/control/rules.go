package control

import (
	"fmt"

	"k8s.io/utils/ptr"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// Input is everything a rule may look at
type Input struct {
	Reading        types.Reading
	Forecast       types.Forecast
	Classification types.Classification
}

// Rule is a single safety escalation. Triggered rules are folded with max,
// so adding a rule can only raise the resulting intensity.
type Rule struct {
	Name      string
	Applies   func(in Input) bool
	Intensity types.FanIntensity
	Message   func(in Input) string
}

func staticMessage(msg string) func(Input) string {
	return func(Input) string { return msg }
}

var safetyRules = []Rule{
	{
		Name: "critical_gas",
		Applies: func(in Input) bool {
			return in.Reading.CO > common.CriticalCO || ptr.Deref(in.Reading.MQ2Raw, 0) > common.CriticalMQ2
		},
		Intensity: types.FanMax,
		Message:   staticMessage("CRITICAL: High Smoke/CO levels detected."),
	},
	{
		Name: "preemptive_peak",
		Applies: func(in Input) bool {
			return in.Forecast.WillPeak && in.Forecast.Confidence > common.PreemptiveMinConf
		},
		Intensity: types.FanMax,
		Message: func(in Input) string {
			return fmt.Sprintf("PRE-EMPTIVE: Smoke peak predicted (%.0f).", in.Forecast.PointEstimate)
		},
	},
	{
		Name: "pm25_hazardous",
		Applies: func(in Input) bool {
			return in.Reading.PM25 > common.HazardousPM25
		},
		Intensity: types.FanMax,
		Message:   staticMessage("Hazardous PM2.5 levels."),
	},
	{
		Name: "pm25_unhealthy",
		Applies: func(in Input) bool {
			return in.Reading.PM25 > common.UnhealthyPM25 && in.Reading.PM25 <= common.HazardousPM25
		},
		Intensity: types.FanHigh,
		Message:   staticMessage("Unhealthy PM2.5 levels."),
	},
}

// Rules returns the ordered safety rules
func Rules() []Rule {
	out := make([]Rule, len(safetyRules))
	copy(out, safetyRules)
	return out
}

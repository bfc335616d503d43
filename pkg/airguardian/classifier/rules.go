package classifier

import (
	"context"
	"fmt"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// RuleClassifier is a local deterministic approximation of the generative
// classifier, matching characteristic sensor signatures in a fixed order.
type RuleClassifier struct{}

// NewRuleClassifier creates a rule-based classifier
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Classify never fails
func (RuleClassifier) Classify(ctx context.Context, r types.Reading) (types.Classification, error) {
	pm25, co2, co, voc := r.PM25, r.CO2, r.CO, r.VOC

	switch {
	case pm25 < 35 && co < 10 && voc < 100:
		return types.Classification{
			Label:      types.LabelClean,
			Confidence: 0.9,
			Reasoning:  fmt.Sprintf("All values low: PM2.5=%.1f, CO=%.1f, VOC=%.1f", pm25, co, voc),
		}, nil
	case pm25 > 100 && co > 20 && co < 60 && voc > 200:
		return types.Classification{
			Label:      types.LabelCigarette,
			Confidence: 0.85,
			Reasoning:  fmt.Sprintf("Pattern matches cigarette: High PM2.5=%.1f, moderate CO=%.1f, high VOC=%.1f", pm25, co, voc),
		}, nil
	case pm25 > 80 && co > 50 && co2 > 600:
		return types.Classification{
			Label:      types.LabelVehicle,
			Confidence: 0.8,
			Reasoning:  fmt.Sprintf("Pattern matches vehicle: PM2.5=%.1f, high CO=%.1f, elevated CO2=%.1f", pm25, co, co2),
		}, nil
	case pm25 > 150 && voc > 250:
		return types.Classification{
			Label:      types.LabelCooking,
			Confidence: 0.75,
			Reasoning:  fmt.Sprintf("Pattern matches cooking: Very high PM2.5=%.1f, high VOC=%.1f", pm25, voc),
		}, nil
	case pm25 < 50 && voc > 400:
		return types.Classification{
			Label:      types.LabelChemical,
			Confidence: 0.7,
			Reasoning:  fmt.Sprintf("Pattern matches chemical fumes: Low PM2.5=%.1f, very high VOC=%.1f", pm25, voc),
		}, nil
	}

	return types.Classification{
		Label:      types.LabelUnknown,
		Confidence: 0.5,
		Reasoning:  "Sensor pattern does not match a known pollution source",
	}, nil
}

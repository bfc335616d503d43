package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

type rawClassification struct {
	AirType    string   `json:"air_type"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// StripCodeFence removes a surrounding markdown code fence ("```json" or
// "```") that generative backends often wrap JSON in.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "```json"):
		s = s[len("```json"):]
	case strings.HasPrefix(s, "```"):
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseResponse coerces a raw generative response into a Classification.
// Invalid labels become unknown; only undecodable JSON is an error.
func ParseResponse(raw string) (types.Classification, error) {
	var rc rawClassification
	if err := json.Unmarshal([]byte(StripCodeFence(raw)), &rc); err != nil {
		return types.Classification{}, fmt.Errorf("invalid JSON response: %v", err)
	}

	label := types.ParseLabel(rc.AirType)
	if label == types.LabelUnknown && rc.AirType != "" && !strings.EqualFold(strings.TrimSpace(rc.AirType), string(types.LabelUnknown)) {
		klog.V(2).InfoS("Invalid air type from classifier, defaulting to unknown", "airType", rc.AirType)
	}

	confidence := 0.0
	if rc.Confidence != nil {
		confidence = *rc.Confidence
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	reasoning := rc.Reasoning
	if reasoning == "" {
		reasoning = "No reasoning provided"
	}

	return types.Classification{Label: label, Confidence: confidence, Reasoning: reasoning}, nil
}

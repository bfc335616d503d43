package pipeline

import (
	"time"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/ledger"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

const dashboardLedgerLogs = 10

// ControlStatus is the fan state reported to dashboards
type ControlStatus struct {
	FanOn          bool               `json:"fan_on"`
	FanIntensity   types.FanIntensity `json:"fan_intensity"`
	Reasoning      string             `json:"reasoning"`
	OverrideReason *string            `json:"override_reason"`
	Timestamp      time.Time          `json:"timestamp"`
	AgeSeconds     float64            `json:"age_seconds"`
}

// SystemHealth summarizes the pipeline's backends
type SystemHealth struct {
	Status string `json:"status"`
	AIMode string `json:"ai_mode"`
	Ledger string `json:"ledger"`
}

// Dashboard is the read model served for a single device
type Dashboard struct {
	DeviceID       string               `json:"device_id"`
	CurrentReading types.Reading        `json:"current_reading"`
	Prediction     types.Forecast       `json:"prediction"`
	Classification types.Classification `json:"classification"`
	ControlStatus  ControlStatus        `json:"control_status"`
	RecentFaults   []types.Fault        `json:"recent_faults"`
	RecentLogs     []ledger.Entry       `json:"recent_logs"`
	SystemHealth   SystemHealth         `json:"system_health"`
}

// Dashboard assembles the read model for a device from its latest snapshot.
// It reports false when the device has no snapshot yet.
func (o *Orchestrator) Dashboard(deviceID string) (Dashboard, bool) {
	snap, ok := o.cache.Get(deviceID)
	if !ok {
		return Dashboard{}, false
	}

	status := "healthy"
	if snap.Forecast.Degraded {
		status = "degraded"
	}

	return Dashboard{
		DeviceID:       deviceID,
		CurrentReading: snap.Reading,
		Prediction:     snap.Forecast,
		Classification: snap.Classification,
		ControlStatus: ControlStatus{
			FanOn:          snap.Decision.FanOn,
			FanIntensity:   snap.Decision.FanIntensity,
			Reasoning:      snap.Decision.Reasoning,
			OverrideReason: snap.Decision.OverrideReason,
			Timestamp:      snap.Reading.Timestamp,
			AgeSeconds:     o.clock.Since(snap.Reading.Timestamp).Seconds(),
		},
		RecentFaults: o.faultsFor(deviceID),
		RecentLogs:   o.ledger.Journal().ByDevice(deviceID, dashboardLedgerLogs),
		SystemHealth: SystemHealth{
			Status: status,
			AIMode: o.aiMode,
			Ledger: o.ledger.Status(),
		},
	}, true
}

// faultsFor returns the device's recent faults, newest first
func (o *Orchestrator) faultsFor(deviceID string) []types.Fault {
	o.stateMutex.Lock()
	defer o.stateMutex.Unlock()

	recent := o.recentFaults[deviceID]
	out := make([]types.Fault, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		out = append(out, recent[i])
	}
	return out
}

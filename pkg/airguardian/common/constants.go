package common

import "time"

// Constants shared across the air-guardian pipeline
const (
	// WindowSize is the number of readings a prediction window holds. Trained
	// artifacts declare the same value and are rejected on mismatch.
	WindowSize = 10

	// ----------------------------------------
	// Feature defaults for optional channels
	// ----------------------------------------

	DefaultTemperature = 25.0
	DefaultHumidity    = 50.0

	// ----------------------------------------
	// Forecast derivation
	// ----------------------------------------

	// A forecast is a peak when it rises more than PeakRiseFactor over the last
	// primary value and clears PeakFloor.
	PeakRiseFactor = 1.05
	PeakFloor      = 250.0

	HighForecastValue      = 400.0
	ConfidenceHighForecast = 0.95
	ConfidencePeak         = 0.85
	ConfidenceBaseline     = 0.60

	// ----------------------------------------
	// Safety thresholds
	// ----------------------------------------

	CriticalCO          = 200.0 // ppm
	CriticalMQ2         = 400.0 // raw ADC
	PreemptiveMinConf   = 0.8
	HazardousPM25       = 150.0 // µg/m³
	UnhealthyPM25       = 75.0  // µg/m³
	SafetyOverrideLabel = "Safety Protocol Activated"

	// ----------------------------------------
	// Comfort tier
	// ----------------------------------------

	ComfortPM25 = 35.0
	ComfortCO   = 50.0
	ComfortVOC  = 200.0

	// Severity references (value at which a pollutant counts as severity 1.0)
	SeverityRefPM25 = 150.0
	SeverityRefCO   = 100.0
	SeverityRefVOC  = 500.0

	ComfortBoostMinConf = 0.6

	// ----------------------------------------
	// Ledger
	// ----------------------------------------

	EventTypeDecision = "decision"
	EventTypeFault    = "fault"

	LedgerStatusConnected = "connected"
	LedgerStatusSimulated = "simulated"

	// DefaultJournalSize bounds the in-memory ledger journal
	DefaultJournalSize = 1000

	// ----------------------------------------
	// Transport
	// ----------------------------------------

	DefaultReadingTopic = "sensors/+/readings"
	DefaultCommandTopic = "devices/{device_id}/fan"
	DeviceIDPlaceholder = "{device_id}"

	RedisKeyPrefix  = "airguardian:"
	RedisDevicesKey = RedisKeyPrefix + "devices"

	// ----------------------------------------
	// Timeouts
	// ----------------------------------------

	DefaultPredictorTimeout  = 2 * time.Second
	DefaultClassifierTimeout = 5 * time.Second
	DefaultLedgerTimeout     = 5 * time.Second
)

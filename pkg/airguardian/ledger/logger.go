package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/clock"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/metrics"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// Logger turns decisions and faults into ledger events. A nil client runs in
// simulated mode where every entry carries a local content hash.
type Logger struct {
	client  Client
	journal *Journal
	timeout time.Duration
	clock   clock.Clock

	degraded atomic.Bool
}

// LoggerOption customizes a Logger
type LoggerOption func(*Logger)

// WithJournal sets the journal entries are recorded in
func WithJournal(j *Journal) LoggerOption {
	return func(l *Logger) {
		l.journal = j
	}
}

// WithTimeout bounds every append
func WithTimeout(d time.Duration) LoggerOption {
	return func(l *Logger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithClock sets the clock used for event timestamps
func WithClock(c clock.Clock) LoggerOption {
	return func(l *Logger) {
		l.clock = c
	}
}

// NewLogger creates a ledger logger around client, which may be nil
func NewLogger(client Client, opts ...LoggerOption) *Logger {
	l := &Logger{
		client:  client,
		timeout: common.DefaultLedgerTimeout,
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.journal == nil {
		l.journal = NewJournal(common.DefaultJournalSize)
	}
	return l
}

// Journal returns the logger's journal
func (l *Logger) Journal() *Journal {
	return l.journal
}

// Status reports "connected" while the ledger accepts appends and
// "simulated" when running without one or after a failed append.
func (l *Logger) Status() string {
	if l.client == nil || l.degraded.Load() {
		return common.LedgerStatusSimulated
	}
	return common.LedgerStatusConnected
}

// LogDecision records a fan-control decision with the forecast behind it
func (l *Logger) LogDecision(ctx context.Context, deviceID string, d types.Decision, f types.Forecast) Entry {
	var override interface{}
	if d.OverrideReason != nil {
		override = *d.OverrideReason
	}
	data := map[string]interface{}{
		"fan_on":                d.FanOn,
		"fan_intensity":         int(d.FanIntensity),
		"reasoning":             d.Reasoning,
		"override_reason":       override,
		"predicted_smoke_peak":  f.PointEstimate,
		"prediction_confidence": f.Confidence,
	}
	return l.log(ctx, common.EventTypeDecision, deviceID, data)
}

// LogFault records a detected sensor fault
func (l *Logger) LogFault(ctx context.Context, deviceID string, f types.Fault) Entry {
	ignored := f.IgnoredSensors
	if ignored == nil {
		ignored = []string{}
	}
	data := map[string]interface{}{
		"fault_type":      string(f.Type),
		"affected_sensor": f.AffectedSensor,
		"severity":        f.Severity,
		"details":         f.Details,
		"healing_action":  f.HealingAction,
		"ignored_sensors": ignored,
	}
	return l.log(ctx, common.EventTypeFault, deviceID, data)
}

func (l *Logger) log(ctx context.Context, eventType, deviceID string, data map[string]interface{}) Entry {
	event := Event{
		ID:        uuid.NewString(),
		EventType: eventType,
		Timestamp: l.clock.Now(),
		DeviceID:  deviceID,
		Data:      data,
	}
	entry := Entry{
		ID:        event.ID,
		EventType: eventType,
		Timestamp: event.Timestamp,
		DeviceID:  deviceID,
		Data:      data,
	}

	var outcome string
	if l.client == nil {
		entry.Hash = LocalHash(event)
		entry.Simulated = true
		outcome = "simulated"
	} else {
		txID, err := l.append(ctx, event)
		if err != nil {
			failure := &LedgerFailure{EventType: eventType, DeviceID: deviceID, Err: err}
			klog.ErrorS(failure, "Ledger append failed, substituting local hash", "eventID", event.ID)
			l.degraded.Store(true)
			entry.Hash = LocalHash(event)
			entry.Simulated = true
			outcome = "fallback"
		} else {
			l.degraded.Store(false)
			entry.Hash = txID
			outcome = "committed"
		}
	}

	l.journal.Add(entry)
	metrics.LedgerAppends.WithLabelValues(eventType, outcome).Inc()

	klog.V(2).InfoS("Logged ledger event",
		"device", deviceID,
		"eventType", eventType,
		"hash", entry.Hash,
		"simulated", entry.Simulated)
	return entry
}

type appendResult struct {
	txID string
	err  error
}

// append bounds the client call by the logger timeout even when the client
// ignores its context
func (l *Logger) append(ctx context.Context, event Event) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	done := make(chan appendResult, 1)
	go func() {
		txID, err := l.client.Append(ctx, event)
		done <- appendResult{txID: txID, err: err}
	}()

	select {
	case res := <-done:
		return res.txID, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("append timed out after %v: %v", l.timeout, ctx.Err())
	}
}

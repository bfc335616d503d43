package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/classifier"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/clock"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/control"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/faults"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/ledger"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/metrics"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/predictor"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/readings"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/snapshot"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

const maxRecentFaults = 10

// ReadingArchive persists raw readings and serves them back for warm starts
type ReadingArchive interface {
	StoreReading(ctx context.Context, r types.Reading) error
	RecentReadings(ctx context.Context, deviceID string, n int) ([]types.Reading, error)
	Devices(ctx context.Context) ([]string, error)
}

// SnapshotSink receives every snapshot the pipeline produces
type SnapshotSink interface {
	WriteSnapshot(ctx context.Context, snap types.DeviceSnapshot) error
}

// CommandPublisher delivers fan commands to devices
type CommandPublisher interface {
	PublishDecision(ctx context.Context, deviceID string, d types.Decision) error
}

// Orchestrator runs each reading through store, forecaster, classifier,
// control engine and fault detector, then caches the resulting snapshot.
// Work for one device is serialized; different devices run in parallel.
type Orchestrator struct {
	store      *readings.Store
	forecaster *predictor.Forecaster
	classifier classifier.Implementation
	cache      *snapshot.Cache
	ledger     *ledger.Logger
	detector   *faults.Detector
	clock      clock.Clock

	classifierTimeout time.Duration
	aiMode            string

	archive   ReadingArchive
	sink      SnapshotSink
	publisher CommandPublisher

	locks      map[string]*sync.Mutex
	locksMutex sync.RWMutex

	stateMutex   sync.Mutex
	lastFanOn    map[string]bool
	loggedFaults map[string]map[types.FaultType]bool
	recentFaults map[string][]types.Fault
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithClassifierTimeout bounds every classifier call
func WithClassifierTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.classifierTimeout = d
		}
	}
}

// WithArchive stores every accepted reading and enables WarmStart
func WithArchive(a ReadingArchive) Option {
	return func(o *Orchestrator) {
		o.archive = a
	}
}

// WithSnapshotSink forwards every snapshot after it is cached
func WithSnapshotSink(s SnapshotSink) Option {
	return func(o *Orchestrator) {
		o.sink = s
	}
}

// WithPublisher sends fan commands before they are logged to the ledger
func WithPublisher(p CommandPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithDetector overrides the default fault detector
func WithDetector(d *faults.Detector) Option {
	return func(o *Orchestrator) {
		o.detector = d
	}
}

// WithClock sets the clock used for snapshot timestamps
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithAIMode names the active prediction backend in health reports
func WithAIMode(mode string) Option {
	return func(o *Orchestrator) {
		o.aiMode = mode
	}
}

// New creates an orchestrator over its required collaborators
func New(store *readings.Store, forecaster *predictor.Forecaster, cls classifier.Implementation,
	cache *snapshot.Cache, logger *ledger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:             store,
		forecaster:        forecaster,
		classifier:        cls,
		cache:             cache,
		ledger:            logger,
		clock:             clock.RealClock{},
		classifierTimeout: common.DefaultClassifierTimeout,
		aiMode:            "artifact",
		locks:             make(map[string]*sync.Mutex),
		lastFanOn:         make(map[string]bool),
		loggedFaults:      make(map[string]map[types.FaultType]bool),
		recentFaults:      make(map[string][]types.Fault),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.detector == nil {
		o.detector = faults.NewDetector(forecaster.WindowSize())
	}
	return o
}

func (o *Orchestrator) deviceLock(deviceID string) *sync.Mutex {
	o.locksMutex.RLock()
	lock, ok := o.locks[deviceID]
	o.locksMutex.RUnlock()
	if ok {
		return lock
	}

	o.locksMutex.Lock()
	defer o.locksMutex.Unlock()
	if lock, ok = o.locks[deviceID]; !ok {
		lock = &sync.Mutex{}
		o.locks[deviceID] = lock
	}
	return lock
}

// Process runs one reading through the pipeline and returns the resulting
// decision and forecast. Only a ValidationError is returned; every other
// collaborator failure degrades in place.
func (o *Orchestrator) Process(ctx context.Context, r types.Reading) (types.Decision, types.Forecast, error) {
	if err := validate(r); err != nil {
		return types.Decision{}, types.Forecast{}, err
	}

	lock := o.deviceLock(r.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := o.processLocked(ctx, r)
	if err != nil {
		return types.Decision{}, types.Forecast{}, err
	}
	return snap.Decision, snap.Forecast, nil
}

func validate(r types.Reading) error {
	if err := readings.Validate(r); err != nil {
		metrics.ReadingsProcessed.WithLabelValues("invalid").Inc()
		return err
	}
	return nil
}

// processLocked runs the pipeline for one reading. The caller holds the
// device lock.
func (o *Orchestrator) processLocked(ctx context.Context, r types.Reading) (types.DeviceSnapshot, error) {
	start := time.Now()

	if err := o.store.Append(r); err != nil {
		metrics.ReadingsProcessed.WithLabelValues("invalid").Inc()
		return types.DeviceSnapshot{}, err
	}

	window := o.store.Window(r.DeviceID)
	forecast := o.forecaster.Forecast(ctx, window)
	cls := o.classify(ctx, r)
	decision := control.Decide(r, forecast, cls)
	fault := o.detector.Detect(window)

	snap := types.DeviceSnapshot{
		Reading:        r,
		Forecast:       forecast,
		Classification: cls,
		Decision:       decision,
		Fault:          fault,
		UpdatedAt:      o.clock.Now(),
	}
	o.cache.Put(r.DeviceID, snap)
	if fault != nil {
		o.recordFault(r.DeviceID, *fault)
	}

	metrics.ReadingsProcessed.WithLabelValues("ok").Inc()
	metrics.ProcessingLatency.Observe(time.Since(start).Seconds())
	metrics.Decisions.WithLabelValues(strconv.FormatBool(decision.FanOn), strconv.FormatBool(decision.OverrideReason != nil)).Inc()
	metrics.FanIntensity.WithLabelValues(r.DeviceID).Set(float64(decision.FanIntensity))

	klog.V(3).InfoS("Processed reading",
		"device", r.DeviceID,
		"fanOn", decision.FanOn,
		"fanIntensity", decision.FanIntensity,
		"airType", cls.Label,
		"prediction", forecast.PointEstimate,
		"degraded", forecast.Degraded)

	o.forward(ctx, snap)
	return snap, nil
}

// classify bounds the classifier by its timeout and substitutes unknown on
// any failure
func (o *Orchestrator) classify(ctx context.Context, r types.Reading) types.Classification {
	callCtx, cancel := context.WithTimeout(ctx, o.classifierTimeout)
	defer cancel()

	type result struct {
		cls types.Classification
		err error
	}
	done := make(chan result, 1)
	go func() {
		cls, err := o.classifier.Classify(callCtx, r)
		done <- result{cls, err}
	}()

	var err error
	select {
	case res := <-done:
		if res.err == nil {
			return res.cls
		}
		err = res.err
	case <-callCtx.Done():
		err = fmt.Errorf("classifier timed out after %v: %v", o.classifierTimeout, callCtx.Err())
	}

	reason := "error"
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		reason = "timeout"
	}
	var failure *classifier.ClassifierFailure
	if !errors.As(err, &failure) {
		failure = &classifier.ClassifierFailure{Backend: "unknown", Err: err}
	}
	klog.ErrorS(failure, "Classifier failed, substituting unknown", "device", r.DeviceID, "reason", reason)
	metrics.ClassifierFailures.WithLabelValues(reason).Inc()
	return types.UnknownClassification(fmt.Sprintf("Classification unavailable: %v", failure.Err))
}

func (o *Orchestrator) recordFault(deviceID string, f types.Fault) {
	metrics.FaultsDetected.WithLabelValues(string(f.Type)).Inc()

	o.stateMutex.Lock()
	defer o.stateMutex.Unlock()

	recent := append(o.recentFaults[deviceID], f)
	if len(recent) > maxRecentFaults {
		recent = recent[len(recent)-maxRecentFaults:]
	}
	o.recentFaults[deviceID] = recent
}

// forward hands the processed reading to the optional sinks. Failures are
// logged only.
func (o *Orchestrator) forward(ctx context.Context, snap types.DeviceSnapshot) {
	if o.archive != nil {
		if err := o.archive.StoreReading(ctx, snap.Reading); err != nil {
			klog.ErrorS(err, "Failed to archive reading", "device", snap.Reading.DeviceID)
		}
	}
	if o.sink != nil {
		if err := o.sink.WriteSnapshot(ctx, snap); err != nil {
			klog.ErrorS(err, "Failed to write snapshot to sink", "device", snap.Reading.DeviceID)
		}
	}
}

// LogToLedger forwards a decision and its forecast to the ledger. It never
// fails: an unreachable ledger yields a locally hashed entry.
func (o *Orchestrator) LogToLedger(ctx context.Context, deviceID string, d types.Decision, f types.Forecast) ledger.Entry {
	return o.ledger.LogDecision(ctx, deviceID, d, f)
}

// Result is the outcome of ProcessAndLog
type Result struct {
	Decision       types.Decision       `json:"decision"`
	Forecast       types.Forecast       `json:"forecast"`
	Classification types.Classification `json:"classification"`
	Fault          *types.Fault         `json:"fault,omitempty"`
	Logged         []ledger.Entry       `json:"ledger_entries,omitempty"`
}

// ProcessAndLog processes a reading, publishes the fan command and then logs
// to the ledger when the fan state changed, a safety override fired, or a
// fault type is seen for the first time on the device. Commands for one
// device are published in processing order; ledger appends run after the
// device lock is released.
func (o *Orchestrator) ProcessAndLog(ctx context.Context, r types.Reading) (Result, error) {
	if err := validate(r); err != nil {
		return Result{}, err
	}

	lock := o.deviceLock(r.DeviceID)
	lock.Lock()
	snap, err := o.processLocked(ctx, r)
	if err != nil {
		lock.Unlock()
		return Result{}, err
	}

	if o.publisher != nil {
		if err := o.publisher.PublishDecision(ctx, r.DeviceID, snap.Decision); err != nil {
			klog.ErrorS(err, "Failed to publish fan command", "device", r.DeviceID)
		}
	}
	logDecision, logFault := o.shouldLog(r.DeviceID, snap)
	lock.Unlock()

	res := Result{
		Decision:       snap.Decision,
		Forecast:       snap.Forecast,
		Classification: snap.Classification,
		Fault:          snap.Fault,
	}
	if logDecision {
		res.Logged = append(res.Logged, o.LogToLedger(ctx, r.DeviceID, snap.Decision, snap.Forecast))
	}
	if logFault {
		res.Logged = append(res.Logged, o.ledger.LogFault(ctx, r.DeviceID, *snap.Fault))
	}
	return res, nil
}

func (o *Orchestrator) shouldLog(deviceID string, snap types.DeviceSnapshot) (decision, fault bool) {
	o.stateMutex.Lock()
	defer o.stateMutex.Unlock()

	previous := o.lastFanOn[deviceID]
	o.lastFanOn[deviceID] = snap.Decision.FanOn
	decision = previous != snap.Decision.FanOn || snap.Decision.OverrideReason != nil

	if snap.Fault != nil {
		seen := o.loggedFaults[deviceID]
		if seen == nil {
			seen = make(map[types.FaultType]bool)
			o.loggedFaults[deviceID] = seen
		}
		if !seen[snap.Fault.Type] {
			seen[snap.Fault.Type] = true
			fault = true
		}
	}
	return decision, fault
}

// Snapshot returns the latest snapshot for a device
func (o *Orchestrator) Snapshot(deviceID string) (types.DeviceSnapshot, bool) {
	return o.cache.Get(deviceID)
}

// Devices lists every device with readings in the store
func (o *Orchestrator) Devices() []string {
	return o.store.ListDevices()
}

// Ledger returns the ledger logger
func (o *Orchestrator) Ledger() *ledger.Logger {
	return o.ledger
}

// WarmStart restores each archived device's window so forecasts are not
// degraded right after a restart. It returns the number of devices restored.
func (o *Orchestrator) WarmStart(ctx context.Context) (int, error) {
	if o.archive == nil {
		return 0, nil
	}

	devices, err := o.archive.Devices(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list archived devices: %v", err)
	}

	restored := 0
	for _, id := range devices {
		history, err := o.archive.RecentReadings(ctx, id, o.store.Capacity())
		if err != nil {
			klog.ErrorS(err, "Failed to load archived readings", "device", id)
			continue
		}
		if n := o.store.Restore(id, history); n > 0 {
			restored++
			klog.V(2).InfoS("Restored device window", "device", id, "readings", n)
		}
	}
	return restored, nil
}

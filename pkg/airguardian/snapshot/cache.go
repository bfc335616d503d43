package snapshot

import (
	"context"
	"sort"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/metrics"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// Mirror replicates snapshots to an external store for other processes
type Mirror interface {
	Store(ctx context.Context, snap types.DeviceSnapshot) error
	Load(ctx context.Context, deviceID string) (types.DeviceSnapshot, bool, error)
}

// Cache holds the latest snapshot per device. Snapshots are copied on the
// way in and on the way out, so a reader never observes a snapshot that is
// still being written.
type Cache struct {
	data    map[string]*cacheEntry
	mutex   sync.RWMutex
	metrics *cacheMetrics

	mirror        Mirror
	mirrorTimeout time.Duration

	// Mirror writes are queued per device and drained by at most one
	// goroutine per device, so the mirror always ends on the latest snapshot.
	mirrorMutex  sync.Mutex
	mirrorIdle   *sync.Cond
	queued       map[string]types.DeviceSnapshot
	draining     map[string]bool
	mirrorClosed bool
}

type cacheEntry struct {
	snapshot types.DeviceSnapshot
	storedAt time.Time
	hits     int64
}

type cacheMetrics struct {
	hits   int64
	misses int64
	mutex  sync.RWMutex
}

// Option customizes a Cache
type Option func(*Cache)

// WithMirror replicates every Put to m, bounded by timeout
func WithMirror(m Mirror, timeout time.Duration) Option {
	return func(c *Cache) {
		c.mirror = m
		if timeout > 0 {
			c.mirrorTimeout = timeout
		}
	}
}

// New creates an empty snapshot cache
func New(opts ...Option) *Cache {
	c := &Cache{
		data:          make(map[string]*cacheEntry),
		metrics:       &cacheMetrics{},
		mirrorTimeout: 2 * time.Second,
		queued:        make(map[string]types.DeviceSnapshot),
		draining:      make(map[string]bool),
	}
	c.mirrorIdle = sync.NewCond(&c.mirrorMutex)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the latest snapshot for a device
func (c *Cache) Get(deviceID string) (types.DeviceSnapshot, bool) {
	c.mutex.Lock()
	entry, exists := c.data[deviceID]
	if exists {
		entry.hits++
	}
	c.mutex.Unlock()

	if !exists {
		c.recordMiss()
		return types.DeviceSnapshot{}, false
	}
	c.recordHit()
	return entry.snapshot.Clone(), true
}

// Put replaces the snapshot for a device as a whole
func (c *Cache) Put(deviceID string, snap types.DeviceSnapshot) {
	stored := snap.Clone()
	stored.Reading.DeviceID = deviceID

	c.mutex.Lock()
	c.data[deviceID] = &cacheEntry{
		snapshot: stored,
		storedAt: time.Now(),
	}
	c.mutex.Unlock()

	klog.V(4).InfoS("Cached device snapshot",
		"device", deviceID,
		"fanOn", stored.Decision.FanOn,
		"fanIntensity", stored.Decision.FanIntensity,
		"timestamp", stored.Reading.Timestamp)

	if c.mirror != nil {
		c.enqueueMirror(deviceID, stored.Clone())
	}
}

// enqueueMirror replaces any snapshot still waiting for the device and starts
// a drainer when none is running
func (c *Cache) enqueueMirror(deviceID string, snap types.DeviceSnapshot) {
	c.mirrorMutex.Lock()
	defer c.mirrorMutex.Unlock()

	if c.mirrorClosed {
		return
	}
	c.queued[deviceID] = snap
	if !c.draining[deviceID] {
		c.draining[deviceID] = true
		go c.drain(deviceID)
	}
}

// drain writes the device's queued snapshots one at a time until none is left
func (c *Cache) drain(deviceID string) {
	for {
		c.mirrorMutex.Lock()
		snap, ok := c.queued[deviceID]
		if !ok {
			delete(c.draining, deviceID)
			c.mirrorIdle.Broadcast()
			c.mirrorMutex.Unlock()
			return
		}
		delete(c.queued, deviceID)
		c.mirrorMutex.Unlock()

		c.replicate(snap)
	}
}

func (c *Cache) replicate(snap types.DeviceSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), c.mirrorTimeout)
	defer cancel()

	if err := c.mirror.Store(ctx, snap); err != nil {
		klog.ErrorS(err, "Failed to mirror snapshot", "device", snap.Reading.DeviceID)
	}
}

// Flush waits until every queued mirror write has been attempted
func (c *Cache) Flush() {
	c.mirrorMutex.Lock()
	defer c.mirrorMutex.Unlock()
	for len(c.draining) > 0 {
		c.mirrorIdle.Wait()
	}
}

// Close stops mirroring and waits for queued writes. Later Puts are still
// cached locally.
func (c *Cache) Close() {
	c.mirrorMutex.Lock()
	c.mirrorClosed = true
	c.mirrorMutex.Unlock()
	c.Flush()
}

// Devices returns the ids of all cached devices, sorted
func (c *Cache) Devices() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	devices := make([]string, 0, len(c.data))
	for id := range c.data {
		devices = append(devices, id)
	}
	sort.Strings(devices)
	return devices
}

// Size returns the number of cached devices
func (c *Cache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.data)
}

// GetMetrics returns cache performance metrics
func (c *Cache) GetMetrics() (hits, misses int64) {
	c.metrics.mutex.RLock()
	defer c.metrics.mutex.RUnlock()
	return c.metrics.hits, c.metrics.misses
}

func (c *Cache) recordHit() {
	c.metrics.mutex.Lock()
	c.metrics.hits++
	c.metrics.mutex.Unlock()
	metrics.CacheRequests.WithLabelValues("hit").Inc()
}

func (c *Cache) recordMiss() {
	c.metrics.mutex.Lock()
	c.metrics.misses++
	c.metrics.mutex.Unlock()
	metrics.CacheRequests.WithLabelValues("miss").Inc()
}

package readings

import (
	"sort"
	"sync"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// Store keeps a bounded, time-ordered history of readings per device.
//
// Each device owns its own record with its own lock; the outer lock only
// guards the map of records, so appends for one device never wait on
// another device's history.
type Store struct {
	devices  map[string]*deviceHistory
	mutex    sync.RWMutex
	capacity int
}

// deviceHistory is a fixed-capacity ring buffer of readings
type deviceHistory struct {
	mutex  sync.Mutex
	buf    []types.Reading
	head   int // index of the oldest reading
	count  int
	latest types.Reading
}

// NewStore creates a store holding at most capacity readings per device
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = common.WindowSize
	}
	return &Store{
		devices:  make(map[string]*deviceHistory),
		capacity: capacity,
	}
}

// Capacity returns the per-device window size
func (s *Store) Capacity() int {
	return s.capacity
}

// Append validates the reading and adds it to its device's history, evicting
// the oldest reading once the window is full. Readings must arrive in strictly
// increasing timestamp order per device.
func (s *Store) Append(r types.Reading) error {
	if err := Validate(r); err != nil {
		return err
	}

	h := s.history(r.DeviceID, true)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.count > 0 && !r.Timestamp.After(h.latest.Timestamp) {
		return &ValidationError{
			DeviceID: r.DeviceID,
			Field:    "timestamp",
			Reason:   "is not after the previous reading",
		}
	}

	h.push(r.Clone(), s.capacity)

	klog.V(4).InfoS("Appended reading",
		"device", r.DeviceID,
		"timestamp", r.Timestamp,
		"windowLen", h.count)
	return nil
}

// Window returns up to capacity most recent readings for a device, oldest
// first. Unknown devices yield an empty window.
func (s *Store) Window(deviceID string) []types.Reading {
	h := s.history(deviceID, false)
	if h == nil {
		return []types.Reading{}
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.snapshot()
}

// Latest returns the most recent reading for a device
func (s *Store) Latest(deviceID string) (types.Reading, bool) {
	h := s.history(deviceID, false)
	if h == nil {
		return types.Reading{}, false
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.count == 0 {
		return types.Reading{}, false
	}
	return h.latest.Clone(), true
}

// ListDevices returns every device that has reported at least once
func (s *Store) ListDevices() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	devices := make([]string, 0, len(s.devices))
	for id := range s.devices {
		devices = append(devices, id)
	}
	sort.Strings(devices)
	return devices
}

// Restore replaces a device's history with the newest readings from an
// archive. Invalid readings are skipped.
func (s *Store) Restore(deviceID string, history []types.Reading) int {
	valid := make([]types.Reading, 0, len(history))
	for _, r := range history {
		if r.DeviceID != deviceID {
			continue
		}
		if err := Validate(r); err != nil {
			klog.V(3).InfoS("Skipping invalid archived reading", "device", deviceID, "error", err)
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return 0
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Timestamp.Before(valid[j].Timestamp)
	})
	if len(valid) > s.capacity {
		valid = valid[len(valid)-s.capacity:]
	}

	h := s.history(deviceID, true)
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.buf = make([]types.Reading, s.capacity)
	h.head, h.count = 0, 0
	restored := 0
	for _, r := range valid {
		if h.count > 0 && !r.Timestamp.After(h.latest.Timestamp) {
			continue
		}
		h.push(r.Clone(), s.capacity)
		restored++
	}

	klog.V(2).InfoS("Restored reading window", "device", deviceID, "readings", restored)
	return restored
}

func (s *Store) history(deviceID string, create bool) *deviceHistory {
	s.mutex.RLock()
	h, exists := s.devices[deviceID]
	s.mutex.RUnlock()
	if exists || !create {
		return h
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if h, exists = s.devices[deviceID]; !exists {
		h = &deviceHistory{buf: make([]types.Reading, s.capacity)}
		s.devices[deviceID] = h
	}
	return h
}

func (h *deviceHistory) push(r types.Reading, capacity int) {
	if h.count < capacity {
		h.buf[(h.head+h.count)%capacity] = r
		h.count++
	} else {
		h.buf[h.head] = r
		h.head = (h.head + 1) % capacity
	}
	h.latest = r
}

func (h *deviceHistory) snapshot() []types.Reading {
	out := make([]types.Reading, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.buf[(h.head+i)%len(h.buf)].Clone()
	}
	return out
}

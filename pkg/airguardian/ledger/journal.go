package ledger

import (
	"sync"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
)

// Journal is a bounded in-memory record of logged entries
type Journal struct {
	mutex   sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewJournal creates a journal keeping the last size entries
func NewJournal(size int) *Journal {
	if size <= 0 {
		size = common.DefaultJournalSize
	}
	return &Journal{entries: make([]Entry, size)}
}

// Add records an entry, overwriting the oldest when full
func (j *Journal) Add(e Entry) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	j.entries[j.next] = e
	j.next = (j.next + 1) % len(j.entries)
	if j.next == 0 {
		j.full = true
	}
}

// Count returns the number of entries currently held
func (j *Journal) Count() int {
	j.mutex.RLock()
	defer j.mutex.RUnlock()
	return j.countLocked()
}

func (j *Journal) countLocked() int {
	if j.full {
		return len(j.entries)
	}
	return j.next
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns everything held.
func (j *Journal) Recent(limit int) []Entry {
	return j.collect(limit, func(Entry) bool { return true })
}

// ByDevice returns up to limit entries for one device, newest first
func (j *Journal) ByDevice(deviceID string, limit int) []Entry {
	return j.collect(limit, func(e Entry) bool { return e.DeviceID == deviceID })
}

func (j *Journal) collect(limit int, keep func(Entry) bool) []Entry {
	j.mutex.RLock()
	defer j.mutex.RUnlock()

	n := j.countLocked()
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Entry, 0, limit)
	for i := 1; i <= n && len(out) < limit; i++ {
		idx := (j.next - i + len(j.entries)) % len(j.entries)
		if keep(j.entries[idx]) {
			out = append(out, j.entries[idx])
		}
	}
	return out
}

package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Event is a payload handed to the external ledger
type Event struct {
	ID        string                 `json:"id"`
	EventType string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	DeviceID  string                 `json:"device_id"`
	Data      map[string]interface{} `json:"data"`
}

// Entry is the journaled result of logging an event. Hash is the ledger
// transaction id, or the local content hash when the ledger was skipped or
// unreachable.
type Entry struct {
	ID        string                 `json:"id"`
	EventType string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	DeviceID  string                 `json:"device_id"`
	Data      map[string]interface{} `json:"data"`
	Hash      string                 `json:"tx_hash"`
	Simulated bool                   `json:"simulated"`
}

// Client appends events to an external ledger
type Client interface {
	// Append stores the event and returns the ledger's transaction id
	Append(ctx context.Context, event Event) (string, error)
}

// LedgerFailure is logged whenever an append fails or times out. It never
// reaches the decision path.
type LedgerFailure struct {
	EventType string
	DeviceID  string
	Err       error
}

func (e *LedgerFailure) Error() string {
	return fmt.Sprintf("ledger append of %s event for %s failed: %v", e.EventType, e.DeviceID, e.Err)
}

func (e *LedgerFailure) Unwrap() error {
	return e.Err
}

// LocalHash returns "0x" followed by the hex sha256 of the event's canonical
// JSON: keys sorted, timestamp in RFC3339Nano UTC. The event id is not part
// of the content.
func LocalHash(event Event) string {
	canonical := map[string]interface{}{
		"data":       event.Data,
		"device_id":  event.DeviceID,
		"event_type": event.EventType,
		"timestamp":  event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	// encoding/json writes map keys in sorted order at every level
	payload, err := json.Marshal(canonical)
	if err != nil {
		payload = []byte(fmt.Sprintf("%s|%s|%s|%v", event.EventType, event.DeviceID, canonical["timestamp"], event.Data))
	}
	sum := sha256.Sum256(payload)
	return "0x" + hex.EncodeToString(sum[:])
}

package crdt

import (
	"encoding/json"
	"fmt"
)

// AwarenessEntry is one client's presence record.
type AwarenessEntry struct {
	Clock uint32          `json:"clock"`
	State json.RawMessage `json:"state"` // nil or JSON null means "logged off"
}

// AwarenessUpdate is the wire encoding of a batch of awareness changes,
// keyed by ClientId.
type AwarenessUpdate map[uint64]AwarenessEntry

// Awareness is the per-Hub presence table.
type Awareness struct {
	entries map[uint64]AwarenessEntry
}

// NewAwareness returns an empty awareness table.
func NewAwareness() *Awareness {
	return &Awareness{entries: make(map[uint64]AwarenessEntry)}
}

// Merge applies an incoming update entry-by-entry, accepting an entry only
// if its clock is strictly greater than what is already stored (or the
// ClientId is new). It returns the set of ClientIds actually changed so the
// caller can compute a minimal broadcast/removal set.
func (a *Awareness) Merge(update AwarenessUpdate) (changed []uint64, removed []uint64) {
	for clientID, entry := range update {
		existing, ok := a.entries[clientID]
		if ok && entry.Clock <= existing.Clock {
			continue
		}
		// A decoded JSON null arrives as the raw bytes "null", not as nil.
		if entry.State == nil || string(entry.State) == "null" {
			delete(a.entries, clientID)
			removed = append(removed, clientID)
			continue
		}
		a.entries[clientID] = entry
		changed = append(changed, clientID)
	}
	return changed, removed
}

// Remove deletes the given ClientIds unconditionally, used when a client
// disconnects and its awareness entries must be retracted regardless of
// clock ordering.
func (a *Awareness) Remove(clientIDs ...uint64) AwarenessUpdate {
	update := make(AwarenessUpdate, len(clientIDs))
	for _, id := range clientIDs {
		if _, ok := a.entries[id]; ok {
			delete(a.entries, id)
		}
		update[id] = AwarenessEntry{Clock: 0, State: nil}
	}
	return update
}

// Snapshot returns the full current table, suitable for sending to a newly
// registered client.
func (a *Awareness) Snapshot() AwarenessUpdate {
	out := make(AwarenessUpdate, len(a.entries))
	for id, entry := range a.entries {
		out[id] = entry
	}
	return out
}

// Len reports the number of live entries.
func (a *Awareness) Len() int { return len(a.entries) }

// EncodeAwarenessUpdate serializes an update for the wire.
func EncodeAwarenessUpdate(update AwarenessUpdate) ([]byte, error) {
	b, err := json.Marshal(update)
	if err != nil {
		return nil, fmt.Errorf("encode awareness update: %w", err)
	}
	return b, nil
}

// DecodeAwarenessUpdate parses an update received over the wire.
func DecodeAwarenessUpdate(b []byte) (AwarenessUpdate, error) {
	var update AwarenessUpdate
	if err := json.Unmarshal(b, &update); err != nil {
		return nil, fmt.Errorf("decode awareness update: %w", err)
	}
	return update, nil
}

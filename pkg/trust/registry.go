package trust

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lesaloon/taric/pkg/contracts"
)

// Event types in the registry's key lifecycle log.
const (
	EventKeyAdded   = "KEY_ADDED"
	EventKeyRevoked = "KEY_REVOKED"
	EventKeyRotated = "KEY_ROTATED"
)

// Event is a key lifecycle record. A KEY_REVOKED event with an empty KeyID
// revokes the whole device.
type Event struct {
	EventType string `json:"event_type"`
	DeviceID  string `json:"device_id"`
	KeyID     string `json:"key_id,omitempty"`
	Algo      string `json:"algo,omitempty"`
	PublicKey []byte `json:"public_key,omitempty"`
}

// Registry is an event-sourced device key registry. State is derived
// exclusively from applied events; revocations leave tombstones so a revoked
// key answers IsRevoked=true instead of merely disappearing.
type Registry struct {
	mu     sync.RWMutex
	events []Event
	// Materialized view: device → key_id → key material.
	keys map[string]map[string]*contracts.VerifyingKey
	// Tombstones: device → key_id → revoked. The empty key id marks a
	// device-wide revocation.
	revoked map[string]map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		keys:    make(map[string]map[string]*contracts.VerifyingKey),
		revoked: make(map[string]map[string]bool),
	}
}

// Apply processes one lifecycle event, updating the materialized view.
func (r *Registry) Apply(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.EventType {
	case EventKeyAdded, EventKeyRotated:
		if len(event.PublicKey) == 0 {
			return fmt.Errorf("trust: %s event must include public_key", event.EventType)
		}
		if event.Algo == "" {
			return fmt.Errorf("trust: %s event must include algo", event.EventType)
		}
		if r.keys[event.DeviceID] == nil {
			r.keys[event.DeviceID] = make(map[string]*contracts.VerifyingKey)
		}
		keyID := event.KeyID
		vk := &contracts.VerifyingKey{
			Algo: event.Algo,
			Key:  append([]byte(nil), event.PublicKey...),
		}
		if keyID != "" {
			vk.KeyID = contracts.StringPtr(keyID)
		}
		r.keys[event.DeviceID][keyID] = vk
		// Adding or rotating a key clears its tombstone.
		if t := r.revoked[event.DeviceID]; t != nil {
			delete(t, keyID)
		}

	case EventKeyRevoked:
		if r.revoked[event.DeviceID] == nil {
			r.revoked[event.DeviceID] = make(map[string]bool)
		}
		r.revoked[event.DeviceID][event.KeyID] = true

	default:
		return fmt.Errorf("trust: unknown event type: %s", event.EventType)
	}

	r.events = append(r.events, event)
	return nil
}

// GetKey resolves the key for (device, key id). With a nil key id the
// registry picks the device's active key: the lexicographically last key id,
// matching the convention that the latest-provisioned key sorts last.
func (r *Registry) GetKey(deviceID string, keyID *string) (*contracts.VerifyingKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.keys[deviceID]
	if !ok || len(device) == 0 {
		return nil, false
	}

	if keyID != nil {
		vk, ok := device[*keyID]
		if !ok {
			return nil, false
		}
		return vk.Clone(), true
	}

	ids := make([]string, 0, len(device))
	for id := range device {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return device[ids[len(ids)-1]].Clone(), true
}

// IsRevoked reports whether the addressed key, or the whole device, carries
// a revocation tombstone.
func (r *Registry) IsRevoked(deviceID string, keyID *string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.revoked[deviceID]
	if !ok {
		return false
	}
	if t[""] {
		return true
	}
	if keyID == nil {
		return false
	}
	return t[*keyID]
}

// Events returns a copy of the applied event log, oldest first.
func (r *Registry) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Event(nil), r.events...)
}

var _ DeviceTrust = (*Registry)(nil)

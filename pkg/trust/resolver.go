// Package trust maps devices to verifying keys and answers revocation
// queries. The verifier depends only on the DeviceTrust contract;
// implementations here cover static single-key trust, an event-sourced
// registry with fixture loading, and a policy decorator.
package trust

import "github.com/lesaloon/taric/pkg/contracts"

// DeviceTrust resolves verifying keys for devices. Both operations must be
// safe to invoke from many goroutines concurrently; the verifier treats the
// resolver as read-only.
type DeviceTrust interface {
	// GetKey returns the verifying key for a device and optional key id, or
	// false if the device or key is unknown.
	GetKey(deviceID string, keyID *string) (*contracts.VerifyingKey, bool)
	// IsRevoked reports whether the key must not be trusted, even
	// transiently.
	IsRevoked(deviceID string, keyID *string) bool
}

// Static trusts exactly one key for every device it is asked about. Used in
// tests and single-device demo deployments where the fixture is reloaded
// out-of-band.
type Static struct {
	Key     contracts.VerifyingKey
	Revoked bool
}

func (s *Static) GetKey(deviceID string, keyID *string) (*contracts.VerifyingKey, bool) {
	return s.Key.Clone(), true
}

func (s *Static) IsRevoked(deviceID string, keyID *string) bool { return s.Revoked }

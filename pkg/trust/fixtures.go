package trust

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeviceFixture is the on-disk provisioning record for one device key.
type DeviceFixture struct {
	DeviceID     string `json:"device_id" yaml:"device_id"`
	Algo         string `json:"algo" yaml:"algo"`
	KeyID        string `json:"key_id" yaml:"key_id"`
	PubkeyBase64 string `json:"pubkey_base64" yaml:"pubkey_base64"`
	Revoked      bool   `json:"revoked,omitempty" yaml:"revoked,omitempty"`
}

// TrustProfile is a YAML bundle of device fixtures for bulk provisioning.
type TrustProfile struct {
	Devices []DeviceFixture `yaml:"devices"`
}

// LoadFixtureFile reads a single JSON device fixture.
func LoadFixtureFile(path string) (*DeviceFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("trust: read fixture %q: %w", path, err)
	}
	var f DeviceFixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("trust: parse fixture %q: %w", path, err)
	}
	return &f, nil
}

// LoadFixtureDir loads every *.json fixture in dir into the registry.
// Returns the number of fixtures applied.
func LoadFixtureDir(r *Registry, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("trust: read fixture dir %q: %w", dir, err)
	}
	applied := 0
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		f, err := LoadFixtureFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			return applied, err
		}
		if err := applyFixture(r, f); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// LoadProfile loads a YAML trust profile into the registry.
func LoadProfile(r *Registry, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("trust: read profile %q: %w", path, err)
	}
	var p TrustProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return 0, fmt.Errorf("trust: parse profile %q: %w", path, err)
	}
	for i := range p.Devices {
		if err := applyFixture(r, &p.Devices[i]); err != nil {
			return i, err
		}
	}
	return len(p.Devices), nil
}

func applyFixture(r *Registry, f *DeviceFixture) error {
	if f.DeviceID == "" {
		return fmt.Errorf("trust: fixture missing device_id")
	}
	pub, err := base64.StdEncoding.DecodeString(f.PubkeyBase64)
	if err != nil {
		return fmt.Errorf("trust: fixture %q pubkey base64: %w", f.DeviceID, err)
	}
	if err := r.Apply(Event{
		EventType: EventKeyAdded,
		DeviceID:  f.DeviceID,
		KeyID:     f.KeyID,
		Algo:      f.Algo,
		PublicKey: pub,
	}); err != nil {
		return err
	}
	if f.Revoked {
		return r.Apply(Event{
			EventType: EventKeyRevoked,
			DeviceID:  f.DeviceID,
			KeyID:     f.KeyID,
		})
	}
	return nil
}

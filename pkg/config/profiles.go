package config

import (
	"fmt"
	"strings"
)

// DefaultSignature is the hello type of the stock firmware
const DefaultSignature = "pico-macropad-backend"

// DefaultProfileNames are the binding profiles offered out of the box
var DefaultProfileNames = []string{"Default", "Gaming", "Editing"}

// DeviceMatch selects a device profile from a hello message
type DeviceMatch struct {
	Type string `toml:"type" yaml:"type" json:"type"`
}

// DeviceUI lists the selectors a device exposes
type DeviceUI struct {
	Keys     []string `toml:"keys" yaml:"keys" json:"keys"`
	Encoders []string `toml:"encoders" yaml:"encoders" json:"encoders"`
}

// DeviceProfile describes one kind of macropad
type DeviceProfile struct {
	ID    string      `toml:"device_id" yaml:"device_id" json:"device_id"`
	Name  string      `toml:"name" yaml:"name" json:"name"`
	Match DeviceMatch `toml:"match" yaml:"match" json:"match"`
	UI    DeviceUI    `toml:"ui" yaml:"ui" json:"ui"`
}

// KeyCount returns the number of keys the profile lays out
func (p DeviceProfile) KeyCount() int {
	return len(p.UI.Keys)
}

// DeviceSection holds the known device profiles
type DeviceSection struct {
	DefaultID string          `toml:"default_device_id" yaml:"default_device_id" json:"default_device_id"`
	Profiles  []DeviceProfile `toml:"devices" yaml:"devices" json:"devices"`
}

// DefaultDeviceSection describes the stock 12-key, one-encoder pad
func DefaultDeviceSection() DeviceSection {
	keys := make([]string, 12)
	for i := range keys {
		keys[i] = fmt.Sprintf("K%d", i+1)
	}
	return DeviceSection{
		DefaultID: "pico_macropad",
		Profiles: []DeviceProfile{{
			ID:    "pico_macropad",
			Name:  "Pico Macropad",
			Match: DeviceMatch{Type: DefaultSignature},
			UI:    DeviceUI{Keys: keys, Encoders: []string{"E0"}},
		}},
	}
}

// Validate checks profile ids are unique and the default exists
func (d DeviceSection) Validate() error {
	seen := make(map[string]bool, len(d.Profiles))
	for _, p := range d.Profiles {
		if p.ID == "" {
			return fmt.Errorf("device profile %q has no device_id", p.Name)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate device_id %q", p.ID)
		}
		seen[p.ID] = true
	}
	if d.DefaultID != "" && !seen[d.DefaultID] {
		return fmt.Errorf("default_device_id %q not found in devices", d.DefaultID)
	}
	return nil
}

// DefaultProfile returns the profile named by default_device_id, or the
// first profile
func (d DeviceSection) DefaultProfile() (DeviceProfile, bool) {
	for _, p := range d.Profiles {
		if p.ID == d.DefaultID {
			return p, true
		}
	}
	if len(d.Profiles) > 0 {
		return d.Profiles[0], true
	}
	return DeviceProfile{}, false
}

// MatchProfile returns the profile whose match.type equals helloType
func (d DeviceSection) MatchProfile(helloType string) (DeviceProfile, bool) {
	for _, p := range d.Profiles {
		if p.Match.Type != "" && p.Match.Type == helloType {
			return p, true
		}
	}
	return DeviceProfile{}, false
}

// Signature returns the hello type discovery should look for
func (d DeviceSection) Signature() string {
	if p, ok := d.DefaultProfile(); ok {
		return p.Match.Type
	}
	return DefaultSignature
}

// ProfileNames returns DefaultProfileNames followed by every name in extra
// whose id is not already listed
func ProfileNames(extra ...string) []string {
	names := append([]string(nil), DefaultProfileNames...)
	seen := make(map[string]bool, len(names)+len(extra))
	for _, n := range names {
		seen[ProfileID(n)] = true
	}
	for _, n := range extra {
		if id := ProfileID(n); !seen[id] {
			seen[id] = true
			names = append(names, n)
		}
	}
	return names
}

// ProfileID turns a display name into a stable id: "Video Editing" becomes
// "video_editing" and an empty name becomes "default"
func ProfileID(display string) string {
	slug := strings.ToLower(strings.TrimSpace(display))
	if slug == "" {
		return "default"
	}
	return strings.ReplaceAll(slug, " ", "_")
}

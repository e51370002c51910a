package codec

import (
	"maps"

	"github.com/pelletier/go-toml/v2"

	"github.com/starford/dragonden/internal/apperr"
)

// ManifestLocation is where the lair manifest lives, relative to the root.
const ManifestLocation = "lair.toml"

// UserEntry is one known user, keyed by email in the manifest.
type UserEntry struct {
	Name  string `toml:"name"`
	Color string `toml:"color"`
}

// Manifest lists the roots of a lair and its user directory.
type Manifest struct {
	ID        string               `toml:"ID"`
	Name      string               `toml:"name"`
	Libraries []string             `toml:"libraries"`
	Buckets   map[string]string    `toml:"buckets"`
	Users     map[string]UserEntry `toml:"users"`
}

// NewManifest returns an empty manifest.
func NewManifest(id, name string) Manifest {
	return Manifest{
		ID:        id,
		Name:      name,
		Libraries: []string{},
		Buckets:   map[string]string{},
		Users:     map[string]UserEntry{},
	}
}

// MarshalManifest renders the manifest.
func MarshalManifest(m Manifest) ([]byte, error) {
	data, err := toml.Marshal(m)
	if err != nil {
		return nil, apperr.Invalid("codec: marshal manifest: %v", err)
	}
	return data, nil
}

// UnmarshalManifest parses the manifest, filling absent sections.
func UnmarshalManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return Manifest{}, apperr.Invalid("codec: parse manifest: %v", err)
	}
	if m.Libraries == nil {
		m.Libraries = []string{}
	}
	if m.Buckets == nil {
		m.Buckets = map[string]string{}
	}
	if m.Users == nil {
		m.Users = map[string]UserEntry{}
	}
	return m, nil
}

// Clone returns a deep copy.
func (m Manifest) Clone() Manifest {
	c := m
	c.Libraries = append([]string{}, m.Libraries...)
	c.Buckets = maps.Clone(m.Buckets)
	c.Users = maps.Clone(m.Users)
	return c
}

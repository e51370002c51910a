package codec

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/starford/dragonden/internal/apperr"
	"github.com/starford/dragonden/internal/storage"
)

// Store reads and writes records through a storage.Provider.
type Store struct {
	files storage.Provider
}

// NewStore wraps files.
func NewStore(files storage.Provider) *Store {
	return &Store{files: files}
}

// Files exposes the underlying provider.
func (s *Store) Files() storage.Provider { return s.files }

func (s *Store) read(loc string) ([]byte, error) {
	data, err := s.files.Read(loc)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.NotFound("record file %s", loc)
	}
	if err != nil {
		return nil, apperr.IO("codec: read "+loc, err)
	}
	return data, nil
}

// Read loads and parses the record at loc.
func (s *Store) Read(loc string) (Document, error) {
	data, err := s.read(loc)
	if err != nil {
		return Document{}, err
	}
	doc, err := Unmarshal(data)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", loc, err)
	}
	return doc, nil
}

// Write persists doc at loc and returns the checksum of what was written.
func (s *Store) Write(doc Document, loc string) (string, error) {
	data, err := Marshal(doc)
	if err != nil {
		return "", err
	}
	if err := s.files.Write(loc, data); err != nil {
		return "", apperr.IO("codec: write "+loc, err)
	}
	return storage.Checksum(data), nil
}

// Remove deletes the record file at loc. A missing file is not an error.
func (s *Store) Remove(loc string) error {
	if err := s.files.Delete(loc); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.IO("codec: delete "+loc, err)
	}
	return nil
}

// ReadManifest loads the lair manifest. ok is false when none exists yet.
func (s *Store) ReadManifest() (m Manifest, ok bool, err error) {
	data, err := s.read(ManifestLocation)
	if errors.Is(err, apperr.ErrNotFound) {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, err
	}
	m, err = UnmarshalManifest(data)
	if err != nil {
		return Manifest{}, false, err
	}
	return m, true, nil
}

// WriteManifest persists m and returns the checksum written.
func (s *Store) WriteManifest(m Manifest) (string, error) {
	data, err := MarshalManifest(m)
	if err != nil {
		return "", err
	}
	if err := s.files.Write(ManifestLocation, data); err != nil {
		return "", apperr.IO("codec: write manifest", err)
	}
	return storage.Checksum(data), nil
}

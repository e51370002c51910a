// Package storage defines the lair file-system abstraction.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// FileInfo describes one file found by List.
type FileInfo struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for lair file operations. Every path is
// slash-separated and relative to the lair root.
type Provider interface {
	// List returns every file under dir whose name ends in one of exts
	// (all files when exts is empty).
	List(dir string, exts ...string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Exists reports whether path names an existing file or directory.
	Exists(path string) (bool, error)
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
}

// Checksum returns the hex-encoded SHA-256 digest of data.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

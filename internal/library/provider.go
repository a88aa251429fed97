// Package library stores the model documents (framework definitions) as
// YAML files under a configured root directory.
package library

import "time"

// DocInfo is the metadata of one model document in the library.
type DocInfo struct {
	Path      string
	Checksum  string
	UpdatedAt time.Time
}

// Provider is the interface for model document operations.
type Provider interface {
	// List returns metadata for every model document under dir (relative
	// to the library root).
	List(dir string) ([]DocInfo, error)
	// Read returns the raw bytes of the document at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the document at path.
	Delete(path string) error
	// Move renames oldPath to newPath within the library.
	Move(oldPath, newPath string) error
}

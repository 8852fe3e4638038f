// Package models defines the domain types shared by the vault, the index and the editor.
package models

import (
	"path"
	"strings"
	"time"
)

// Identity is the stable key of a note: its vault-relative path without the
// file extension, slash separated (e.g. "projects/alpha").
type Identity string

// String implements fmt.Stringer.
func (id Identity) String() string { return string(id) }

// Valid reports whether id is a usable, clean, vault-relative key.
func (id Identity) Valid() bool {
	s := string(id)
	if s == "" || strings.HasPrefix(s, "/") || strings.Contains(s, "\\") {
		return false
	}
	return path.Clean(s) == s && s != "." && !strings.HasPrefix(s, "../") && s != ".."
}

// Fingerprint is a cheap proxy for content identity: second-resolution
// modification time plus byte length. Two notes may share a fingerprint
// without being byte-identical.
type Fingerprint struct {
	Identity Identity `json:"identity"`
	Modified int64    `json:"modified"` // unix seconds
	Size     int64    `json:"size"`     // bytes
}

// NewFingerprint builds a fingerprint, truncating modified to whole seconds.
func NewFingerprint(id Identity, modified time.Time, size int64) Fingerprint {
	return Fingerprint{Identity: id, Modified: modified.Unix(), Size: size}
}

// ModifiedTime returns Modified as a UTC time.
func (f Fingerprint) ModifiedTime() time.Time {
	return time.Unix(f.Modified, 0).UTC()
}

// Note is a decoded note file.
type Note struct {
	Identity    Identity          `json:"identity"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	ContentType string            `json:"content_type,omitempty"`
	Created     time.Time         `json:"created"`
	Modified    time.Time         `json:"modified"`
	Headers     map[string]string `json:"headers,omitempty"` // unrecognised header pairs
}

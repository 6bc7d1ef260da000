// Package storage defines the persistence slot abstraction.
//
// The note collection is persisted as one JSON document in a single named
// slot. A Backend only moves raw bytes; encoding and validation live in the
// store layer.
package storage

import "errors"

// ErrSlotEmpty is returned by Load when the slot has never been written.
var ErrSlotEmpty = errors.New("storage: slot is empty")

// Backend is the interface for slot persistence.
type Backend interface {
	// Load returns the current slot contents, or ErrSlotEmpty.
	Load() ([]byte, error)
	// Save atomically replaces the slot contents.
	Save(data []byte) error
}

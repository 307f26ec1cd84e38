// Package storage persists finished videos on local disk and optionally in
// S3.
package storage

import (
	"context"
	"errors"
)

// ErrInvalidName is returned for empty names or names that escape the
// output directory.
var ErrInvalidName = errors.New("invalid output name")

// Storage saves a finished video under a caller-chosen name.
type Storage interface {
	// Save stores data and returns where it can be found: a file path, or a
	// URL when the object was uploaded.
	Save(ctx context.Context, name, contentType string, data []byte) (location string, err error)
}

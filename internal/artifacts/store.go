// Package artifacts provides storage backends for generated media.
package artifacts

import (
	"context"
	"errors"
)

// ErrArtifactNotFound is returned when an artifact does not exist.
var ErrArtifactNotFound = errors.New("artifact not found")

// Store persists generated artifacts per project. The name is a
// relative filename, typically "<jobID>.png" or "<jobID>.mp4".
type Store interface {
	// Save writes one artifact, overwriting any existing one.
	Save(ctx context.Context, projectID, name string, data []byte) error

	// Open reads one artifact back. Returns ErrArtifactNotFound if it
	// does not exist.
	Open(ctx context.Context, projectID, name string) ([]byte, error)
}

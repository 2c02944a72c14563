// Package uuid issues crawl identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 crawl IDs, so IDs sort by start time.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate crawl id: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether id has the shape of an ID issued by Generator.
func Valid(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.Version() == 7
}

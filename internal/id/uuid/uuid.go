// Package uuid provides ID generation helpers for tasks, chat messages, and
// requests served by the mock backend.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 strings.
type Generator struct {
	prefix string
}

// New creates a Generator producing bare UUIDs.
func New() *Generator {
	return &Generator{}
}

// WithPrefix creates a Generator whose IDs read "<prefix>-<uuid>", e.g. "task-0190...".
func WithPrefix(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a UUID7 string, prefixed when the generator carries one.
func (g Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	if g.prefix == "" {
		return id.String(), nil
	}
	return g.prefix + "-" + id.String(), nil
}

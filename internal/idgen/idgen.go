// Package idgen generates the short origin IDs that tag durable storage
// writes with the execution context that made them.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// ContextPrefix is prepended to every execution context ID.
const ContextPrefix = "ctx-"

const (
	alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	length   = 12
)

// NewContextID returns a fresh execution context ID such as "ctx-k3v9q0a1x2mz".
func NewContextID() (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return ContextPrefix + id, nil
}

// MustContextID is NewContextID for initialization paths where the system
// random source failing is not recoverable.
func MustContextID() string {
	id, err := NewContextID()
	if err != nil {
		panic(err)
	}
	return id
}

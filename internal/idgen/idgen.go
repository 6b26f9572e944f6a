// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for each record kind.
const (
	ConfigPrefix = "cfg-"
	RulePrefix   = "rul-"
	DraftPrefix  = "drf-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

func ConfigID() (string, error) { return GenerateWithPrefix(ConfigPrefix) }

func RuleID() (string, error) { return GenerateWithPrefix(RulePrefix) }

func DraftID() (string, error) { return GenerateWithPrefix(DraftPrefix) }

// RequestID returns a random identifier for correlating one request across
// log lines.
func RequestID() string {
	return uuid.NewString()
}

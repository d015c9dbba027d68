// Package domain contains entities without logic, just meta-data.
package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const MaxNameLen = 36

// Member is one display name inside one room. At most one member per
// (room, name) pair exists at any instant; a second claim on the same name
// goes through conflict resolution, never a silent overwrite.
type Member struct {
	Name          string
	ConnectionID  string
	JoinedAt      time.Time
	LastSeen      time.Time
	SharingScreen bool
}

// CleanName trims and bounds a display or room name. The bound is in
// runes so a multi-byte name is never cut mid-rune. Empty result means
// the input was unusable.
func CleanName(raw string) string {
	name := strings.TrimSpace(raw)
	if utf8.RuneCountInString(name) > MaxNameLen {
		name = string([]rune(name)[:MaxNameLen])
	}
	return name
}

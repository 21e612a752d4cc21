package domain

import "strings"

// Mode selects the service that handles a user's next message group.
type Mode string

const (
	ModeNote Mode = "note"
	ModeAsk  Mode = "ask"
	ModeTask Mode = "task"
)

// ParseMode maps user input to a Mode. Returns false for unknown values.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "note":
		return ModeNote, true
	case "ask":
		return ModeAsk, true
	case "task", "agent":
		return ModeTask, true
	}
	return "", false
}

// Valid reports whether m is one of the three known modes.
func (m Mode) Valid() bool {
	return m == ModeNote || m == ModeAsk || m == ModeTask
}

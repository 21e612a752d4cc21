package service

import (
	"strings"
	"sync"
)

// historyDepth bounds the per-user conversation ring. Older exchanges fall
// off the front; the agent only ever sees the recent tail.
const historyDepth = 6

type exchange struct {
	user      string
	assistant string
}

// history is the per-user conversation ring fed into ask and task prompts.
type history struct {
	mu      sync.Mutex
	entries []exchange
}

func (h *history) add(user, assistant string) {
	user = strings.TrimSpace(user)
	assistant = strings.TrimSpace(assistant)
	if user == "" && assistant == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, exchange{user: user, assistant: assistant})
	if len(h.entries) > historyDepth {
		h.entries = h.entries[len(h.entries)-historyDepth:]
	}
}

// render formats the ring for prompt inclusion, oldest first. Empty ring
// renders empty.
func (h *history) render() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range h.entries {
		if e.user != "" {
			b.WriteString("User: " + e.user + "\n")
		}
		if e.assistant != "" {
			b.WriteString("Assistant: " + e.assistant + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

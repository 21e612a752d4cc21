package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// ContentType classifies an incoming chat event.
type ContentType string

const (
	ContentText      ContentType = "text"
	ContentPhoto     ContentType = "photo"
	ContentDocument  ContentType = "document"
	ContentForwarded ContentType = "forwarded"
	ContentOther     ContentType = "other"
)

// Media is a single attachment carried by an event. FileHandle is opaque;
// only the chat adapter knows how to resolve it into bytes.
type Media struct {
	Kind       string `json:"kind"` // "photo", "document"
	FileHandle string `json:"file_handle"`
	Caption    string `json:"caption,omitempty"`
	Filename   string `json:"filename,omitempty"`
	// LocalPath is set once the adapter has downloaded the attachment.
	LocalPath string `json:"local_path,omitempty"`
	// Digest is a stable content digest (file handle + filename fallback)
	// used for fingerprinting media-only events.
	Digest string `json:"digest,omitempty"`
}

// ForwardSource identifies the origin of a forwarded post.
type ForwardSource struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// IncomingEvent is the platform-neutral DTO produced at the chat boundary.
// Immutable once constructed.
type IncomingEvent struct {
	EventID     int64
	ChatID      int64
	UserID      int64
	Text        string
	ContentType ContentType
	Timestamp   time.Time
	Forward     *ForwardSource
	Media       []Media
	// MediaGroupID is the platform media-group identifier, when present.
	// Events sharing an id flush together on the last-seen event.
	MediaGroupID string
}

// MessageGroup is a coalesced batch of events from one user, emitted by the
// aggregator. Never mutated after creation.
type MessageGroup struct {
	UserID        int64
	ChatID        int64
	Events        []IncomingEvent
	CombinedText  string
	Media         []Media
	ForwardSource *ForwardSource
	LastEventAt   time.Time
}

// NewMessageGroup builds a group from an ordered event slice.
func NewMessageGroup(events []IncomingEvent) MessageGroup {
	g := MessageGroup{}
	if len(events) == 0 {
		return g
	}
	g.UserID = events[0].UserID
	g.ChatID = events[0].ChatID
	g.Events = events

	var parts []string
	for _, ev := range events {
		if t := strings.TrimSpace(ev.Text); t != "" {
			parts = append(parts, t)
		}
		for _, m := range ev.Media {
			if c := strings.TrimSpace(m.Caption); c != "" {
				parts = append(parts, c)
			}
			g.Media = append(g.Media, m)
		}
		if ev.Forward != nil && g.ForwardSource == nil {
			g.ForwardSource = ev.Forward
		}
		if ev.Timestamp.After(g.LastEventAt) {
			g.LastEventAt = ev.Timestamp
		}
	}
	g.CombinedText = strings.Join(parts, "\n\n")
	return g
}

// MediaDigest returns the stable digest for a media item, falling back to a
// hash of the handle and filename when no explicit digest was set.
func (m Media) MediaDigest() string {
	if m.Digest != "" {
		return m.Digest
	}
	sum := sha256.Sum256([]byte(m.Kind + "\x00" + m.FileHandle + "\x00" + m.Filename))
	return hex.EncodeToString(sum[:])
}

// Fingerprint computes the deterministic dedup key for the group:
// SHA-256 over the canonicalized combined text, the sorted media digests,
// and the forward source identifier when present.
func (g MessageGroup) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(canonicalText(g.CombinedText)))

	digests := make([]string, 0, len(g.Media))
	for _, m := range g.Media {
		digests = append(digests, m.MediaDigest())
	}
	sort.Strings(digests)
	for _, d := range digests {
		h.Write([]byte("\x00m:" + d))
	}

	if g.ForwardSource != nil {
		h.Write([]byte("\x00f:" + g.ForwardSource.Title))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalText normalizes line endings and trims outer whitespace so that
// re-parsing the same content yields the same fingerprint.
func canonicalText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(s)
}

// Preview returns a short single-line summary of the group for log entries
// and the dedup record.
func (g MessageGroup) Preview() string {
	s := strings.TrimSpace(strings.ReplaceAll(g.CombinedText, "\n", " "))
	if s == "" && len(g.Media) > 0 {
		s = "(media only)"
	}
	if len(s) > 80 {
		s = s[:80] + "..."
	}
	return s
}

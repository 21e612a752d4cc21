package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/lockfile"
)

// MemoryEntry is one remembered fact, scoped to a user and a category.
type MemoryEntry struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryStore keeps per-user memory files under dir/user_<id>/memory.json.
type MemoryStore struct {
	dir string
}

// NewMemoryStore returns a store rooted at dir.
func NewMemoryStore(dir string) *MemoryStore {
	return &MemoryStore{dir: dir}
}

var memLockWait = 5 * time.Second

func (s *MemoryStore) userFile(userID int64) string {
	return filepath.Join(s.dir, "user_"+strconv.FormatInt(userID, 10), "memory.json")
}

// Store appends one entry and returns its generated ID.
func (s *MemoryStore) Store(ctx context.Context, userID int64, category, content string) (string, error) {
	category = strings.TrimSpace(category)
	content = strings.TrimSpace(content)
	if category == "" || content == "" {
		return "", domain.Errf(domain.KindInputRejected, "category and content are required")
	}

	path := s.userFile(userID)
	lockCtx, cancel := context.WithTimeout(ctx, memLockWait)
	defer cancel()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", domain.E(domain.KindInternal, "creating memory directory", err)
	}
	lock, err := lockfile.Acquire(lockCtx, path+".lock")
	if err != nil {
		return "", domain.E(domain.KindInternal, "locking memory store", err)
	}
	defer lock.Unlock()

	entries, err := readMemory(path)
	if err != nil {
		return "", err
	}
	entry := MemoryEntry{
		ID:        domain.NewUUID(),
		Category:  category,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	entries = append(entries, entry)
	if err := writeMemory(path, entries); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// Retrieve returns entries newest first, optionally filtered by category
// and case-insensitive substring query. limit <= 0 means all.
func (s *MemoryStore) Retrieve(userID int64, category, query string, limit int) ([]MemoryEntry, error) {
	entries, err := readMemory(s.userFile(userID))
	if err != nil {
		return nil, err
	}

	category = strings.TrimSpace(category)
	query = strings.ToLower(strings.TrimSpace(query))
	var out []MemoryEntry
	for _, e := range entries {
		if category != "" && !strings.EqualFold(e.Category, category) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(e.Content), query) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Categories returns category names with entry counts, sorted by name.
func (s *MemoryStore) Categories(userID int64) (map[string]int, error) {
	entries, err := readMemory(s.userFile(userID))
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, e := range entries {
		counts[e.Category]++
	}
	return counts, nil
}

func readMemory(path string) ([]MemoryEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, domain.E(domain.KindInternal, "reading memory store", err)
	}
	var entries []MemoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, domain.E(domain.KindInternal, "parsing memory store", err)
	}
	return entries, nil
}

func writeMemory(path string, entries []MemoryEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return domain.E(domain.KindInternal, "creating memory directory", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return domain.E(domain.KindInternal, "encoding memory store", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return domain.E(domain.KindInternal, "writing memory store", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return domain.E(domain.KindInternal, "replacing memory store", err)
	}
	return nil
}

// FormatEntries renders entries for tool output.
func FormatEntries(entries []MemoryEntry) string {
	if len(entries) == 0 {
		return "No memories found."
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s (%s)", e.Category, e.Content, e.CreatedAt.Format("2006-01-02"))
	}
	return b.String()
}

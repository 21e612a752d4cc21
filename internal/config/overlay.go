package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/lockfile"
)

// lockWait bounds how long overlay writers wait for the cross-process lock.
var lockWait = 5 * time.Second

// Store resolves effective settings per user. Base settings come from
// defaults plus the yaml file; user overlays sit on top; KNOWD_* environment
// variables win over everything.
type Store struct {
	mu   sync.Mutex
	base Settings
	path string
}

// NewStore creates a settings store persisting overlays at path
// (data/user_settings_overrides.json).
func NewStore(base Settings, path string) *Store {
	return &Store{base: base, path: path}
}

// overlayDoc is the on-disk shape: user id -> setting name -> raw value.
// Values are stored in their canonical string form so the registry parsers
// stay the single source of truth for typing.
type overlayDoc map[string]map[string]string

// Effective returns the settings a user sees after overlay and environment
// are applied. Overlay entries that no longer parse are skipped; they were
// validated when written, so a skip means the registry changed shape.
func (st *Store) Effective(userID int64) Settings {
	st.mu.Lock()
	eff := st.base
	st.mu.Unlock()

	doc, err := readOverlay(st.path)
	if err == nil {
		for name, raw := range doc[userKey(userID)] {
			if f, ok := FieldByName(name); ok {
				if err := f.Set(&eff, raw); err != nil {
					fmt.Fprintf(os.Stderr, "config: stale overlay %s for user %d: %v\n", name, userID, err)
				}
			}
		}
	}

	applyEnv(&eff)
	return eff
}

// Base returns the process settings with no user overlay applied.
func (st *Store) Base() Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.base
}

// SetUserOverride validates and persists one per-user override.
// Readonly and secret settings cannot be changed from chat.
func (st *Store) SetUserOverride(ctx context.Context, userID int64, name, raw string) error {
	f, ok := FieldByName(name)
	if !ok {
		return domain.Errf(domain.KindInputRejected, "unknown setting: %s", name)
	}
	if f.Readonly {
		return domain.Errf(domain.KindInputRejected, "setting %s is read-only", f.Name)
	}
	if f.Secret {
		return domain.Errf(domain.KindInputRejected, "setting %s holds a secret; use /creds instead", f.Name)
	}

	// Parse into a scratch copy first so a bad value never reaches disk.
	scratch := st.Base()
	if err := f.Set(&scratch, raw); err != nil {
		return domain.E(domain.KindInputRejected, fmt.Sprintf("invalid value for %s", f.Name), err)
	}
	canonical := f.Get(&scratch)

	return st.update(ctx, func(doc overlayDoc) {
		key := userKey(userID)
		if doc[key] == nil {
			doc[key] = map[string]string{}
		}
		doc[key][f.Name] = canonical
	})
}

// ResetUserOverride removes one per-user override. Resetting a setting that
// was never overridden is not an error.
func (st *Store) ResetUserOverride(ctx context.Context, userID int64, name string) error {
	f, ok := FieldByName(name)
	if !ok {
		return domain.Errf(domain.KindInputRejected, "unknown setting: %s", name)
	}
	return st.update(ctx, func(doc overlayDoc) {
		key := userKey(userID)
		delete(doc[key], f.Name)
		if len(doc[key]) == 0 {
			delete(doc, key)
		}
	})
}

// Overrides returns a copy of one user's overrides.
func (st *Store) Overrides(userID int64) map[string]string {
	doc, err := readOverlay(st.path)
	if err != nil {
		return nil
	}
	src := doc[userKey(userID)]
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// update performs a read-modify-write of the overlay document under the
// cross-process lock.
func (st *Store) update(ctx context.Context, mutate func(overlayDoc)) error {
	ctx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()

	lk, err := lockfile.Acquire(ctx, st.path+".lock")
	if err != nil {
		return domain.E(domain.KindInternal, "settings store busy", err)
	}
	defer lk.Unlock()

	doc, err := readOverlay(st.path)
	if err != nil {
		return err
	}
	mutate(doc)
	return writeOverlay(st.path, doc)
}

func readOverlay(path string) (overlayDoc, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return overlayDoc{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	doc := overlayDoc{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse overrides: %w", err)
	}
	return doc, nil
}

// writeOverlay writes atomically via a temp file in the same directory.
func writeOverlay(path string, doc overlayDoc) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal overrides: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write overrides: %w", err)
	}
	return os.Rename(tmp, path)
}

func userKey(userID int64) string { return strconv.FormatInt(userID, 10) }

// SettingEntry is one line of /viewsettings output.
type SettingEntry struct {
	Name        string
	Value       string
	Description string
	Overridden  bool
	Readonly    bool
	Secret      bool
}

// SettingGroup is one category of /viewsettings output.
type SettingGroup struct {
	Category string
	Entries  []SettingEntry
}

// View renders the effective settings for a user, grouped by category,
// with secrets masked and overridden values flagged.
func (st *Store) View(userID int64) []SettingGroup {
	eff := st.Effective(userID)
	over := st.Overrides(userID)

	byCat := map[string][]SettingEntry{}
	for _, f := range Fields {
		_, overridden := over[f.Name]
		byCat[f.Category] = append(byCat[f.Category], SettingEntry{
			Name:        f.Name,
			Value:       f.Display(&eff),
			Description: f.Description,
			Overridden:  overridden,
			Readonly:    f.Readonly,
			Secret:      f.Secret,
		})
	}

	var groups []SettingGroup
	for _, cat := range Categories() {
		groups = append(groups, SettingGroup{Category: cat, Entries: byCat[cat]})
	}
	return groups
}

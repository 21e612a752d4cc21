// Package kb manages knowledge-base bindings and the Markdown note format.
// Each user binds at most one KB; a KB is a git working tree under the
// knowledge_bases directory.
package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/gitdrv"
	"github.com/batalabs/knowd/internal/lockfile"
)

var lockWait = 5 * time.Second

// Binding records which KB a user writes to.
type Binding struct {
	KB        string    `json:"kb"`
	RemoteURL string    `json:"remote_url,omitempty"`
	BoundAt   time.Time `json:"bound_at"`
}

// kbNameRe constrains KB directory names to slug-safe characters.
var kbNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Manager owns the binding table (data/kb_bindings.json) and the working
// trees beneath root.
type Manager struct {
	path   string
	root   string
	author gitdrv.Author
}

// NewManager creates a binding manager persisting at path with working
// trees under root.
func NewManager(path, root string, author gitdrv.Author) *Manager {
	return &Manager{path: path, root: root, author: author}
}

// Dir returns the working tree for a binding.
func (m *Manager) Dir(b Binding) string { return filepath.Join(m.root, b.KB) }

// Get returns the user's current binding.
func (m *Manager) Get(userID int64) (Binding, bool, error) {
	doc, err := m.read()
	if err != nil {
		return Binding{}, false, err
	}
	b, ok := doc[userKey(userID)]
	return b, ok, nil
}

// Bind attaches a user to a KB, replacing any previous binding. A missing
// working tree is created: cloned when a remote is given, otherwise
// initialized with a seed README so the first pull has a HEAD to move.
func (m *Manager) Bind(ctx context.Context, userID int64, name string, remote *gitdrv.Remote) (Binding, error) {
	if !kbNameRe.MatchString(name) {
		return Binding{}, domain.Errf(domain.KindInputRejected,
			"invalid KB name %q: use lowercase letters, digits, - and _", name)
	}

	dir := filepath.Join(m.root, name)
	_, statErr := os.Stat(dir)
	switch {
	case os.IsNotExist(statErr) && remote != nil:
		if _, err := gitdrv.Clone(ctx, *remote, dir); err != nil {
			return Binding{}, err
		}
	case os.IsNotExist(statErr):
		if err := m.initLocal(ctx, dir, name); err != nil {
			return Binding{}, err
		}
	case statErr != nil:
		return Binding{}, domain.E(domain.KindInternal, "inspect KB directory", statErr)
	default:
		// Existing tree: configure the remote if one was given.
		if remote != nil {
			if err := gitdrv.NewRepo(dir).ConfigureRemote(ctx, *remote); err != nil {
				return Binding{}, err
			}
		}
	}

	b := Binding{KB: name, BoundAt: time.Now().UTC()}
	if remote != nil {
		b.RemoteURL = remote.URL
	}
	if err := m.update(ctx, func(doc map[string]Binding) {
		doc[userKey(userID)] = b
	}); err != nil {
		return Binding{}, err
	}
	return b, nil
}

// Unbind detaches the user. The working tree stays on disk.
func (m *Manager) Unbind(ctx context.Context, userID int64) error {
	return m.update(ctx, func(doc map[string]Binding) {
		delete(doc, userKey(userID))
	})
}

func (m *Manager) initLocal(ctx context.Context, dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.E(domain.KindInternal, "create KB directory", err)
	}
	repo := gitdrv.NewRepo(dir)
	if err := repo.Init(ctx); err != nil {
		return err
	}
	readme := filepath.Join(dir, "README.md")
	if err := os.WriteFile(readme, []byte("# "+name+"\n"), 0o644); err != nil {
		return domain.E(domain.KindInternal, "seed KB", err)
	}
	if _, err := repo.Commit(ctx, []string{"README.md"}, "init knowledge base", m.author); err != nil {
		return err
	}
	return nil
}

func (m *Manager) update(ctx context.Context, mutate func(map[string]Binding)) error {
	ctx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	lk, err := lockfile.Acquire(ctx, m.path+".lock")
	if err != nil {
		return domain.E(domain.KindInternal, "binding store busy", err)
	}
	defer lk.Unlock()

	doc, err := m.read()
	if err != nil {
		return err
	}
	mutate(doc)

	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bindings: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write bindings: %w", err)
	}
	return os.Rename(tmp, m.path)
}

func (m *Manager) read() (map[string]Binding, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return map[string]Binding{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bindings: %w", err)
	}
	doc := map[string]Binding{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse bindings: %w", err)
	}
	return doc, nil
}

func userKey(userID int64) string { return strconv.FormatInt(userID, 10) }

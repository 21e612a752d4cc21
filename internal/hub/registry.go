package hub

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/mcp"
)

// registryNameRe constrains server names to safe filename material.
var registryNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Registry manages the shared MCP server specs on disk, one JSON file
// per server under the servers directory. Per-user specs are read-only
// from the hub's point of view.
type Registry struct {
	mu  sync.Mutex
	dir string
}

// NewRegistry returns a registry over dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// List returns the shared-scope specs sorted by name.
func (r *Registry) List() ([]mcp.ServerSpec, error) {
	return mcp.LoadDir(r.dir)
}

// Get returns one spec by name.
func (r *Registry) Get(name string) (mcp.ServerSpec, error) {
	specs, err := r.List()
	if err != nil {
		return mcp.ServerSpec{}, err
	}
	for _, s := range specs {
		if s.Name == name {
			return s, nil
		}
	}
	return mcp.ServerSpec{}, domain.Errf(domain.KindInputRejected, "no MCP server named %q", name)
}

// Add writes a new spec. An existing name is rejected.
func (r *Registry) Add(spec mcp.ServerSpec) error {
	if !registryNameRe.MatchString(spec.Name) {
		return domain.Errf(domain.KindInputRejected,
			"invalid server name %q: use lowercase letters, digits, - and _", spec.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.specPath(spec.Name)
	if _, err := os.Stat(path); err == nil {
		return domain.Errf(domain.KindInputRejected, "MCP server %q already exists", spec.Name)
	}
	return r.write(path, spec)
}

// SetEnabled flips the enabled flag of an existing spec.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	spec, err := r.Get(name)
	if err != nil {
		return err
	}
	spec.Enabled = &enabled
	return r.write(r.specPath(name), spec)
}

// Delete removes a spec file. Unknown names are rejected.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !registryNameRe.MatchString(name) {
		return domain.Errf(domain.KindInputRejected, "invalid server name %q", name)
	}
	err := os.Remove(r.specPath(name))
	if os.IsNotExist(err) {
		return domain.Errf(domain.KindInputRejected, "no MCP server named %q", name)
	}
	return err
}

func (r *Registry) specPath(name string) string {
	return filepath.Join(r.dir, name+".json")
}

func (r *Registry) write(path string, spec mcp.ServerSpec) error {
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return domain.E(domain.KindInternal, "creating servers directory", err)
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return domain.E(domain.KindInternal, "encoding server spec", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return domain.E(domain.KindInternal, "writing server spec", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return domain.E(domain.KindInternal, "replacing server spec", err)
	}
	return nil
}

package tools

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/batalabs/knowd/internal/domain"
)

// ResolveUnder resolves a tool-supplied path against the working directory
// and guarantees the result stays inside it. Absolute paths, .. escapes,
// and symlinks pointing out of the subtree all come back as InvalidPath,
// and no I/O has happened on the target.
func ResolveUnder(workdir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", domain.Errf(domain.KindInvalidPath, "path is empty")
	}
	if filepath.IsAbs(p) {
		return "", domain.Errf(domain.KindInvalidPath, "absolute paths are not allowed: %s", p)
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", domain.Errf(domain.KindInvalidPath, "path escapes the working tree: %s", p)
	}

	rootReal, err := filepath.EvalSymlinks(workdir)
	if err != nil {
		return "", domain.E(domain.KindInvalidPath, "working directory unavailable", err)
	}
	full := filepath.Join(rootReal, clean)

	// Symlinks on the already-existing part of the path must not lead out.
	real, err := resolveExisting(full)
	if err != nil {
		return "", domain.E(domain.KindInvalidPath, "cannot resolve path", err)
	}
	rel, err := filepath.Rel(rootReal, real)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.Errf(domain.KindInvalidPath, "path escapes the working tree: %s", p)
	}
	return full, nil
}

// resolveExisting evaluates symlinks for the deepest existing ancestor of
// path and rejoins the not-yet-existing tail.
func resolveExisting(path string) (string, error) {
	existing := path
	var tail []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		tail = append([]string{filepath.Base(existing)}, tail...)
		existing = parent
	}
	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{real}, tail...)...), nil
}

// IsRoot reports whether the resolved path is the working directory itself.
func IsRoot(workdir, resolved string) bool {
	rootReal, err := filepath.EvalSymlinks(workdir)
	if err != nil {
		return false
	}
	return filepath.Clean(resolved) == filepath.Clean(rootReal)
}

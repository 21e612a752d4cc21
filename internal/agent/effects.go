package agent

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/batalabs/knowd/internal/gitdrv"
	"github.com/batalabs/knowd/internal/kb"
	"github.com/batalabs/knowd/internal/kbsync"
)

// ChangeOp describes what happened to a file during a run.
type ChangeOp string

const (
	OpCreated  ChangeOp = "created"
	OpModified ChangeOp = "modified"
	OpDeleted  ChangeOp = "deleted"
	OpRenamed  ChangeOp = "renamed"
)

// FileChange is one file-level effect of an agent run, derived from the
// working tree's status against HEAD.
type FileChange struct {
	Path    string
	From    string // previous path, renames only
	Op      ChangeOp
	Added   int      // characters inserted relative to HEAD
	Removed int      // characters deleted relative to HEAD
	Links   []string // [[wiki link]] targets, Markdown files only
}

// Effects summarizes the working-tree mutations an agent run produced.
type Effects struct {
	Changes []FileChange
}

// Mutated reports whether the run touched any file.
func (e Effects) Mutated() bool { return len(e.Changes) > 0 }

// Paths returns every affected path, renames contributing both sides.
// Sorted so callers stage a deterministic set.
func (e Effects) Paths() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range e.Changes {
		for _, p := range []string{c.Path, c.From} {
			if p != "" && !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Describe renders a short per-file change list for status messages and
// commit bodies, e.g. "created notes/2026-08-26-foo.md (+312)".
func (e Effects) Describe() string {
	var b strings.Builder
	for i, c := range e.Changes {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(c.Op))
		b.WriteByte(' ')
		if c.Op == OpRenamed {
			b.WriteString(c.From)
			b.WriteString(" to ")
		}
		b.WriteString(c.Path)
		if c.Added > 0 || c.Removed > 0 {
			b.WriteString(" (")
			if c.Added > 0 {
				b.WriteString("+")
				b.WriteString(strconv.Itoa(c.Added))
			}
			if c.Removed > 0 {
				if c.Added > 0 {
					b.WriteByte(' ')
				}
				b.WriteString("-")
				b.WriteString(strconv.Itoa(c.Removed))
			}
			b.WriteString(")")
		}
	}
	return b.String()
}

// CollectEffects diffs the working tree against HEAD after a run. The
// knowledge base is pulled clean before every run, so anything status
// reports is attributable to the agent.
func CollectEffects(ctx context.Context, repo *gitdrv.Repo) (Effects, error) {
	entries, err := repo.Status(ctx)
	if err != nil {
		return Effects{}, err
	}
	var eff Effects
	dmp := diffmatchpatch.New()
	for _, ent := range entries {
		// The sync lockfile lives inside the tree while a run holds it;
		// it is infrastructure, never an agent effect.
		if ent.Path == kbsync.LockFileName {
			continue
		}
		c := FileChange{Path: ent.Path, Op: opFor(ent.Code)}
		if c.Op == OpRenamed {
			// Status parsing already resolved "old -> new" to the new
			// path; recover the old side from the rename pair.
			c.From = ent.OldPath
		}
		if c.Op != OpDeleted {
			before := repo.ShowHead(ctx, headPath(c))
			after := readTree(repo.Dir, ent.Path)
			c.Added, c.Removed = diffStats(dmp, before, after)
			if strings.HasSuffix(ent.Path, ".md") {
				c.Links = kb.WikiLinks(after)
			}
		}
		eff.Changes = append(eff.Changes, c)
	}
	return eff, nil
}

func headPath(c FileChange) string {
	if c.From != "" {
		return c.From
	}
	return c.Path
}

func opFor(code string) ChangeOp {
	switch {
	case strings.Contains(code, "R"):
		return OpRenamed
	case strings.Contains(code, "D"):
		return OpDeleted
	case code == "??" || strings.Contains(code, "A"):
		return OpCreated
	default:
		return OpModified
	}
}

func readTree(dir, rel string) string {
	b, err := os.ReadFile(filepath.Join(dir, rel))
	if err != nil {
		return ""
	}
	return string(b)
}

func diffStats(dmp *diffmatchpatch.DiffMatchPatch, before, after string) (added, removed int) {
	diffs := dmp.DiffMain(before, after, false)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += len(d.Text)
		}
	}
	return added, removed
}

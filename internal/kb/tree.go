package kb

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	treeMaxDepth   = 3
	treeMaxEntries = 200
)

// TreeHint renders a bounded directory snapshot of a KB for inclusion in
// agent prompts. Hidden entries and git internals are skipped; output is
// capped so a huge KB cannot blow up the prompt.
func TreeHint(root string) string {
	var b strings.Builder
	count := 0
	walk(&b, root, "", 0, &count)
	if count >= treeMaxEntries {
		b.WriteString("... (truncated)\n")
	}
	return b.String()
}

func walk(b *strings.Builder, dir, prefix string, depth int, count *int) {
	if depth >= treeMaxDepth || *count >= treeMaxEntries {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		// Directories first, then files, each alphabetical.
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if *count >= treeMaxEntries {
			return
		}
		*count++
		if e.IsDir() {
			b.WriteString(prefix + name + "/\n")
			walk(b, filepath.Join(dir, name), prefix+"  ", depth+1, count)
		} else {
			b.WriteString(prefix + name + "\n")
		}
	}
}

// Topics lists the top-level directories of a KB. With KB_TOPICS_ONLY set
// the agent must file notes under one of these.
func Topics(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

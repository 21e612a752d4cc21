package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/batalabs/knowd/internal/provider"
)

// ---------------------------------------------------------------------------
// file_create
// ---------------------------------------------------------------------------

func fileCreateTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "file_create",
			Description: "Create a new file inside the knowledge base. Fails if the file already exists; use file_edit to change an existing file. Parent folders are created automatically.",
			Properties: map[string]provider.ToolProp{
				"path":    {Type: "string", Description: "Path relative to the KB root, e.g. 'databases/2026-08-26-postgres-tuning.md'"},
				"content": {Type: "string", Description: "Full file content"},
			},
			Required: []string{"path", "content"},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			rel, err := strArg(input, "path")
			if err != nil {
				return "", err
			}
			content := optStrArg(input, "content")

			full, err := ResolveUnder(tc.Workdir, rel)
			if err != nil {
				return "", err
			}
			if tc.TopicsOnly {
				if err := checkTopic(tc.Workdir, rel); err != nil {
					return "", err
				}
			}
			if _, err := os.Lstat(full); err == nil {
				return "", fmt.Errorf("file already exists: %s (use file_edit)", rel)
			}
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return "", fmt.Errorf("creating parent folders: %w", err)
			}
			if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("writing file: %w", err)
			}
			tc.logf("tool file_create %s (%d bytes)", rel, len(content))
			return fmt.Sprintf("Created %s (%d bytes)", rel, len(content)), nil
		},
	}
}

// checkTopic enforces KB_TOPICS_ONLY: a note lives either directly at the
// root of the topics tree or inside an existing topic folder.
func checkTopic(workdir, rel string) error {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(rel)), "/")
	if len(parts) < 2 {
		return nil
	}
	topic := parts[0]
	info, err := os.Stat(filepath.Join(workdir, topic))
	if err != nil || !info.IsDir() {
		return fmt.Errorf("topic folder %q does not exist; choose one of the existing topics or create it first", topic)
	}
	return nil
}

// ---------------------------------------------------------------------------
// file_edit
// ---------------------------------------------------------------------------

func fileEditTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "file_edit",
			Description: "Replace the full content of an existing file. Read it first with kb_read so no content is lost unintentionally.",
			Properties: map[string]provider.ToolProp{
				"path":    {Type: "string", Description: "Path relative to the KB root"},
				"content": {Type: "string", Description: "New full file content"},
			},
			Required: []string{"path", "content"},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			rel, err := strArg(input, "path")
			if err != nil {
				return "", err
			}
			content := optStrArg(input, "content")

			full, err := ResolveUnder(tc.Workdir, rel)
			if err != nil {
				return "", err
			}
			info, err := os.Lstat(full)
			if err != nil {
				return "", fmt.Errorf("file does not exist: %s (use file_create)", rel)
			}
			if info.IsDir() {
				return "", fmt.Errorf("%s is a folder", rel)
			}
			if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("writing file: %w", err)
			}
			tc.logf("tool file_edit %s (%d bytes)", rel, len(content))
			return fmt.Sprintf("Updated %s (%d bytes)", rel, len(content)), nil
		},
	}
}

// ---------------------------------------------------------------------------
// file_delete
// ---------------------------------------------------------------------------

func fileDeleteTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "file_delete",
			Description: "Delete a file from the knowledge base.",
			Properties: map[string]provider.ToolProp{
				"path": {Type: "string", Description: "Path relative to the KB root"},
			},
			Required: []string{"path"},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			rel, err := strArg(input, "path")
			if err != nil {
				return "", err
			}
			full, err := ResolveUnder(tc.Workdir, rel)
			if err != nil {
				return "", err
			}
			info, err := os.Lstat(full)
			if err != nil {
				return "", fmt.Errorf("file does not exist: %s", rel)
			}
			if info.IsDir() {
				return "", fmt.Errorf("%s is a folder (use folder_delete)", rel)
			}
			if err := os.Remove(full); err != nil {
				return "", fmt.Errorf("deleting file: %w", err)
			}
			tc.logf("tool file_delete %s", rel)
			return fmt.Sprintf("Deleted %s", rel), nil
		},
	}
}

// ---------------------------------------------------------------------------
// file_move
// ---------------------------------------------------------------------------

func fileMoveTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "file_move",
			Description: "Move or rename a file within the knowledge base. Destination parent folders are created automatically.",
			Properties: map[string]provider.ToolProp{
				"src": {Type: "string", Description: "Current path relative to the KB root"},
				"dst": {Type: "string", Description: "New path relative to the KB root"},
			},
			Required: []string{"src", "dst"},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			return moveEntry(input, tc, false)
		},
	}
}

func moveEntry(input map[string]any, tc *ToolContext, wantDir bool) (string, error) {
	src, err := strArg(input, "src")
	if err != nil {
		return "", err
	}
	dst, err := strArg(input, "dst")
	if err != nil {
		return "", err
	}
	fullSrc, err := ResolveUnder(tc.Workdir, src)
	if err != nil {
		return "", err
	}
	fullDst, err := ResolveUnder(tc.Workdir, dst)
	if err != nil {
		return "", err
	}
	info, err := os.Lstat(fullSrc)
	if err != nil {
		return "", fmt.Errorf("source does not exist: %s", src)
	}
	if info.IsDir() != wantDir {
		if wantDir {
			return "", fmt.Errorf("%s is a file (use file_move)", src)
		}
		return "", fmt.Errorf("%s is a folder (use folder_move)", src)
	}
	if IsRoot(tc.Workdir, fullSrc) {
		return "", fmt.Errorf("the KB root cannot be moved")
	}
	if _, err := os.Lstat(fullDst); err == nil {
		return "", fmt.Errorf("destination already exists: %s", dst)
	}
	if err := os.MkdirAll(filepath.Dir(fullDst), 0o755); err != nil {
		return "", fmt.Errorf("creating destination folders: %w", err)
	}
	if err := os.Rename(fullSrc, fullDst); err != nil {
		return "", fmt.Errorf("moving: %w", err)
	}
	tc.logf("tool move %s -> %s", src, dst)
	return fmt.Sprintf("Moved %s to %s", src, dst), nil
}

// ---------------------------------------------------------------------------
// folder tools
// ---------------------------------------------------------------------------

func folderCreateTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "folder_create",
			Description: "Create a folder (and any missing parents) inside the knowledge base.",
			Properties: map[string]provider.ToolProp{
				"path": {Type: "string", Description: "Path relative to the KB root"},
			},
			Required: []string{"path"},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			rel, err := strArg(input, "path")
			if err != nil {
				return "", err
			}
			full, err := ResolveUnder(tc.Workdir, rel)
			if err != nil {
				return "", err
			}
			if err := os.MkdirAll(full, 0o755); err != nil {
				return "", fmt.Errorf("creating folder: %w", err)
			}
			tc.logf("tool folder_create %s", rel)
			return fmt.Sprintf("Created folder %s", rel), nil
		},
	}
}

func folderDeleteTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "folder_delete",
			Description: "Delete a folder and everything inside it. The KB root itself cannot be deleted.",
			Properties: map[string]provider.ToolProp{
				"path": {Type: "string", Description: "Path relative to the KB root"},
			},
			Required: []string{"path"},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			rel, err := strArg(input, "path")
			if err != nil {
				return "", err
			}
			full, err := ResolveUnder(tc.Workdir, rel)
			if err != nil {
				return "", err
			}
			if IsRoot(tc.Workdir, full) {
				return "", fmt.Errorf("the KB root cannot be deleted")
			}
			info, err := os.Lstat(full)
			if err != nil {
				return "", fmt.Errorf("folder does not exist: %s", rel)
			}
			if !info.IsDir() {
				return "", fmt.Errorf("%s is a file (use file_delete)", rel)
			}
			if err := os.RemoveAll(full); err != nil {
				return "", fmt.Errorf("deleting folder: %w", err)
			}
			tc.logf("tool folder_delete %s", rel)
			return fmt.Sprintf("Deleted folder %s", rel), nil
		},
	}
}

func folderMoveTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "folder_move",
			Description: "Move or rename a folder within the knowledge base.",
			Properties: map[string]provider.ToolProp{
				"src": {Type: "string", Description: "Current path relative to the KB root"},
				"dst": {Type: "string", Description: "New path relative to the KB root"},
			},
			Required: []string{"src", "dst"},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			return moveEntry(input, tc, true)
		},
	}
}

// ---------------------------------------------------------------------------
// kb_read / kb_list
// ---------------------------------------------------------------------------

const maxReadBytes = 256 * 1024

func kbReadTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "kb_read",
			Description: "Read a file from the knowledge base.",
			Properties: map[string]provider.ToolProp{
				"path": {Type: "string", Description: "Path relative to the KB root"},
			},
			Required: []string{"path"},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			rel, err := strArg(input, "path")
			if err != nil {
				return "", err
			}
			full, err := ResolveUnder(tc.Workdir, rel)
			if err != nil {
				return "", err
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return "", fmt.Errorf("reading file: %w", err)
			}
			if len(data) > maxReadBytes {
				data = data[:maxReadBytes]
			}
			return string(data), nil
		},
	}
}

func kbListTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "kb_list",
			Description: "List the entries of a knowledge base folder. Folders end with '/'.",
			Properties: map[string]provider.ToolProp{
				"dir": {Type: "string", Description: "Folder relative to the KB root (default: the root)"},
			},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			rel := optStrArg(input, "dir")
			if rel == "" {
				rel = "."
			}
			full, err := ResolveUnder(tc.Workdir, rel)
			if err != nil {
				return "", err
			}
			entries, err := os.ReadDir(full)
			if err != nil {
				return "", fmt.Errorf("listing folder: %w", err)
			}
			var names []string
			for _, e := range entries {
				if strings.HasPrefix(e.Name(), ".") {
					continue
				}
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			if len(names) == 0 {
				return "(empty)", nil
			}
			return strings.Join(names, "\n"), nil
		},
	}
}

package config

import (
	"path/filepath"
	"strconv"
)

// Paths holds the on-disk layout. The structure below each root is fixed;
// the three roots themselves move with DATA_DIR, KB_ROOT_DIR and LOG_DIR.
type Paths struct {
	Base string

	// Root overrides. Empty means the default directory under Base.
	Data string
	KBs  string
	Logs string
}

// NewPaths returns the default layout under the given base directory
// ("." by default).
func NewPaths(base string) Paths {
	if base == "" {
		base = "."
	}
	return Paths{Base: base}
}

// NewPathsFromSettings returns the layout with the roots taken from the
// effective settings.
func NewPathsFromSettings(s Settings) Paths {
	return Paths{Base: ".", Data: s.DataDir, KBs: s.KBRootDir, Logs: s.LogDir}
}

// root keeps an absolute override intact; defaults nest under Base.
func (p Paths) root(override, def string) string {
	if override != "" {
		return override
	}
	return filepath.Join(p.Base, def)
}

// DataDir is data/.
func (p Paths) DataDir() string { return p.root(p.Data, "data") }

// ProcessedLog is the dedup log file.
func (p Paths) ProcessedLog() string { return filepath.Join(p.DataDir(), "processed.json") }

// OverridesFile is the per-user settings overlay document.
func (p Paths) OverridesFile() string {
	return filepath.Join(p.DataDir(), "user_settings_overrides.json")
}

// CredentialsFile is the encrypted per-user secret store.
func (p Paths) CredentialsFile() string { return filepath.Join(p.DataDir(), "credentials.json") }

// BindingsFile maps users to KB bindings.
func (p Paths) BindingsFile() string { return filepath.Join(p.DataDir(), "kb_bindings.json") }

// MemoryDir holds per-user memory stores.
func (p Paths) MemoryDir() string { return filepath.Join(p.DataDir(), "memory") }

// UserMemoryDir is the memory root for one user.
func (p Paths) UserMemoryDir(userID int64) string {
	return filepath.Join(p.MemoryDir(), userDirName(userID))
}

// VectorDB is the hub's sqlite document index.
func (p Paths) VectorDB() string { return filepath.Join(p.MemoryDir(), "vectors.db") }

// MCPServersDir holds shared MCP server specs.
func (p Paths) MCPServersDir() string { return filepath.Join(p.DataDir(), "mcp_servers") }

// UserMCPServersDir holds one user's MCP server specs.
func (p Paths) UserMCPServersDir(userID int64) string {
	return filepath.Join(p.MCPServersDir(), userDirName(userID))
}

// DownloadsDir holds media fetched from the chat platform.
func (p Paths) DownloadsDir() string { return filepath.Join(p.DataDir(), "downloads") }

// BotLockfile is the single-instance lock for the bot process.
func (p Paths) BotLockfile() string { return filepath.Join(p.DataDir(), "knowd.lock") }

// HubLockfile records the running hub's pid and port.
func (p Paths) HubLockfile() string { return filepath.Join(p.DataDir(), "mcp_hub.lock") }

// KBRoot is the parent of all KB working trees.
func (p Paths) KBRoot() string { return p.root(p.KBs, "knowledge_bases") }

// KBDir is one KB's working tree.
func (p Paths) KBDir(name string) string { return filepath.Join(p.KBRoot(), name) }

// LogDir is logs/.
func (p Paths) LogDir() string { return p.root(p.Logs, "logs") }

// BotLog is the bot process log file.
func (p Paths) BotLog() string { return filepath.Join(p.LogDir(), "bot.log") }

// HubLog is the MCP hub log file.
func (p Paths) HubLog() string { return filepath.Join(p.LogDir(), "mcp_hub.log") }

func userDirName(userID int64) string {
	return "user_" + strconv.FormatInt(userID, 10)
}

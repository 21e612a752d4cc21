package config

import (
	"path/filepath"
	"testing"
)

func TestPaths_DefaultLayout(t *testing.T) {
	p := NewPaths("")
	if got := p.DataDir(); got != "data" {
		t.Errorf("DataDir = %q", got)
	}
	if got := p.KBRoot(); got != "knowledge_bases" {
		t.Errorf("KBRoot = %q", got)
	}
	if got := p.BotLog(); got != filepath.Join("logs", "bot.log") {
		t.Errorf("BotLog = %q", got)
	}
}

// DATA_DIR, KB_ROOT_DIR and LOG_DIR move the roots; the layout below each
// root stays fixed.
func TestPaths_SettingsMoveTheRoots(t *testing.T) {
	s := DefaultSettings()
	s.DataDir = "/var/lib/knowd"
	s.KBRootDir = "/srv/kbs"
	s.LogDir = "/var/log/knowd"

	p := NewPathsFromSettings(s)
	if got := p.ProcessedLog(); got != filepath.Join("/var/lib/knowd", "processed.json") {
		t.Errorf("ProcessedLog = %q", got)
	}
	if got := p.KBDir("garden"); got != filepath.Join("/srv/kbs", "garden") {
		t.Errorf("KBDir = %q", got)
	}
	if got := p.HubLog(); got != filepath.Join("/var/log/knowd", "mcp_hub.log") {
		t.Errorf("HubLog = %q", got)
	}
}

// Defaults in the settings resolve to the same layout as a bare NewPaths.
func TestPaths_SettingsDefaultsMatchBareLayout(t *testing.T) {
	bare := NewPaths("")
	fromSettings := NewPathsFromSettings(DefaultSettings())
	if bare.DataDir() != fromSettings.DataDir() {
		t.Errorf("DataDir: %q vs %q", bare.DataDir(), fromSettings.DataDir())
	}
	if bare.KBRoot() != fromSettings.KBRoot() {
		t.Errorf("KBRoot: %q vs %q", bare.KBRoot(), fromSettings.KBRoot())
	}
	if bare.LogDir() != fromSettings.LogDir() {
		t.Errorf("LogDir: %q vs %q", bare.LogDir(), fromSettings.LogDir())
	}
}

package mcp

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSpec(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestDiscover_SharedAndUserScope(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "github.json",
		`{"name":"github","transport":{"type":"stdio","command":"gh-mcp"}}`)
	writeSpec(t, dir, "search.json",
		`{"name":"search","transport":{"type":"sse","url":"http://localhost:9000/sse/"}}`)
	// User scope replaces the shared github entry wholesale.
	writeSpec(t, filepath.Join(dir, "user_42"), "github.json",
		`{"name":"github","description":"mine","transport":{"type":"stdio","command":"my-gh"}}`)

	specs, err := Discover(dir, 42)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("specs = %d, want 2: %+v", len(specs), specs)
	}
	if specs[0].Name != "github" || specs[0].Transport.Command != "my-gh" || specs[0].Description != "mine" {
		t.Errorf("user spec did not replace shared: %+v", specs[0])
	}
	if specs[1].Name != "search" || specs[1].Transport.Type != "sse" {
		t.Errorf("specs[1] = %+v", specs[1])
	}
}

func TestDiscover_OtherUsersNotVisible(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, filepath.Join(dir, "user_1"), "private.json",
		`{"transport":{"type":"stdio","command":"x"}}`)

	specs, err := Discover(dir, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 0 {
		t.Errorf("user 2 sees user 1's servers: %+v", specs)
	}
}

func TestDiscover_NameDefaultsToFilename(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "files.json", `{"transport":{"type":"stdio","command":"x"}}`)

	specs, err := Discover(dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 1 || specs[0].Name != "files" {
		t.Errorf("specs = %+v", specs)
	}
}

func TestDiscover_MissingDir(t *testing.T) {
	specs, err := Discover(filepath.Join(t.TempDir(), "absent"), 1)
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if len(specs) != 0 {
		t.Errorf("specs = %+v", specs)
	}
}

func TestDiscover_InvalidTransport(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"stdio without command", `{"transport":{"type":"stdio"}}`, "requires 'command'"},
		{"sse without url", `{"transport":{"type":"sse"}}`, "requires 'url'"},
		{"unknown type", `{"transport":{"type":"carrier-pigeon"}}`, "unknown transport"},
		{"malformed json", `{nope`, "parsing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeSpec(t, dir, "bad.json", tt.content)
			_, err := Discover(dir, 1)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	orig := lookupEnvFunc
	defer func() { lookupEnvFunc = orig }()
	lookupEnvFunc = func(key string) (string, bool) {
		if key == "TOKEN" {
			return "secret-value", true
		}
		return "", false
	}

	tests := []struct {
		in, want string
	}{
		{"${TOKEN}", "secret-value"},
		{"prefix-${TOKEN}-suffix", "prefix-secret-value-suffix"},
		{"${MISSING:-fallback}", "fallback"},
		{"${MISSING}", ""},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDiscover_ExpandsEnvInTransport(t *testing.T) {
	orig := lookupEnvFunc
	defer func() { lookupEnvFunc = orig }()
	lookupEnvFunc = func(key string) (string, bool) {
		if key == "GH_TOKEN" {
			return "tok123", true
		}
		return "", false
	}

	dir := t.TempDir()
	writeSpec(t, dir, "gh.json",
		`{"transport":{"type":"stdio","command":"gh-mcp","env":{"GITHUB_TOKEN":"${GH_TOKEN}"}}}`)

	specs, err := Discover(dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	if specs[0].Transport.Env["GITHUB_TOKEN"] != "tok123" {
		t.Errorf("env not expanded: %+v", specs[0].Transport.Env)
	}
}

func TestServerSpec_IsEnabled(t *testing.T) {
	on, off := true, false
	if !(ServerSpec{}).IsEnabled() {
		t.Error("nil Enabled should mean enabled")
	}
	if !(ServerSpec{Enabled: &on}).IsEnabled() {
		t.Error("true Enabled")
	}
	if (ServerSpec{Enabled: &off}).IsEnabled() {
		t.Error("false Enabled")
	}
}

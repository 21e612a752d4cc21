package mcp

import "testing"

func TestNamespacedName(t *testing.T) {
	tests := []struct {
		server string
		tool   string
		want   string
	}{
		{"fs", "read_file", "mcp__fs__read_file"},
		{"MyServer", "do_thing", "mcp__myserver__do_thing"},
		{"my.server_name", "list", "mcp__my-server-name__list"},
		{"my-db", "query", "mcp__my-db__query"},
	}
	for _, tt := range tests {
		if got := NamespacedName(tt.server, tt.tool); got != tt.want {
			t.Errorf("NamespacedName(%q, %q) = %q, want %q", tt.server, tt.tool, got, tt.want)
		}
	}
}

func TestParseNamespacedName(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantServer string
		wantTool   string
		wantOK     bool
	}{
		{"well formed", "mcp__fs__read_file", "fs", "read_file", true},
		{"builtin tool name", "file_read", "", "", false},
		{"prefix only", "mcp__", "", "", false},
		{"no tool part", "mcp__server", "", "", false},
		{"empty server", "mcp____tool", "", "", false},
		{"empty tool", "mcp__server__", "", "", false},
		{"underscores inside tool", "mcp__db__get__item", "db", "get__item", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, tool, ok := ParseNamespacedName(tt.input)
			if ok != tt.wantOK || server != tt.wantServer || tool != tt.wantTool {
				t.Errorf("ParseNamespacedName(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.input, server, tool, ok, tt.wantServer, tt.wantTool, tt.wantOK)
			}
		})
	}
}

func TestIsMCPTool(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"mcp__fs__read", true},
		{"file_read", false},
		{"mcp_tool", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsMCPTool(tt.input); got != tt.want {
			t.Errorf("IsMCPTool(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNamespacedName_RoundTrip(t *testing.T) {
	name := NamespacedName("my-server", "do_thing")
	server, tool, ok := ParseNamespacedName(name)
	if !ok {
		t.Fatalf("ParseNamespacedName(%q) returned ok=false", name)
	}
	if server != "my-server" || tool != "do_thing" {
		t.Errorf("round trip gave (%q, %q)", server, tool)
	}
}

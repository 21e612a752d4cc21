package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Transport describes how to reach an MCP server.
type Transport struct {
	Type    string            `json:"type"`              // "stdio", "sse" or "http"
	Command string            `json:"command,omitempty"` // stdio: executable
	Args    []string          `json:"args,omitempty"`    // stdio: arguments
	Env     map[string]string `json:"env,omitempty"`     // stdio: extra env vars
	URL     string            `json:"url,omitempty"`     // sse/http: endpoint
}

// ServerSpec is one registered MCP server, loaded from a JSON file under
// the servers directory. A nil Enabled means enabled.
type ServerSpec struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Enabled     *bool     `json:"enabled,omitempty"`
	Transport   Transport `json:"transport"`
}

// IsEnabled reports whether the server should be connected.
func (s ServerSpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Discover loads server specs from dir/*.json plus dir/user_<id>/*.json.
// A user-scoped spec fully replaces a shared spec of the same name.
// Missing directories yield an empty list; a malformed file is an error.
func Discover(dir string, userID int64) ([]ServerSpec, error) {
	merged := map[string]ServerSpec{}

	if err := loadSpecDir(dir, merged); err != nil {
		return nil, err
	}
	userDir := filepath.Join(dir, "user_"+strconv.FormatInt(userID, 10))
	if err := loadSpecDir(userDir, merged); err != nil {
		return nil, err
	}

	specs := make([]ServerSpec, 0, len(merged))
	for _, s := range merged {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

// LoadDir loads only the specs directly inside dir, ignoring user
// subdirectories. The hub registry manages the shared scope this way.
func LoadDir(dir string) ([]ServerSpec, error) {
	merged := map[string]ServerSpec{}
	if err := loadSpecDir(dir, merged); err != nil {
		return nil, err
	}
	specs := make([]ServerSpec, 0, len(merged))
	for _, s := range merged {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

func loadSpecDir(dir string, into map[string]ServerSpec) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		spec, err := loadSpecFile(path)
		if err != nil {
			return err
		}
		into[spec.Name] = spec
	}
	return nil
}

func loadSpecFile(path string) (ServerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServerSpec{}, err
	}
	var spec ServerSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return ServerSpec{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if spec.Name == "" {
		spec.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	spec.Transport = expandTransport(spec.Transport)
	if err := validateSpec(spec); err != nil {
		return ServerSpec{}, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

func expandTransport(tr Transport) Transport {
	tr.Command = expandEnvVars(tr.Command)
	tr.URL = expandEnvVars(tr.URL)
	for i, arg := range tr.Args {
		tr.Args[i] = expandEnvVars(arg)
	}
	for k, v := range tr.Env {
		tr.Env[k] = expandEnvVars(v)
	}
	return tr
}

func validateSpec(spec ServerSpec) error {
	switch spec.Transport.Type {
	case "stdio", "":
		if spec.Transport.Command == "" {
			return fmt.Errorf("MCP server %q: stdio transport requires 'command'", spec.Name)
		}
	case "sse", "http":
		if spec.Transport.URL == "" {
			return fmt.Errorf("MCP server %q: %s transport requires 'url'", spec.Name, spec.Transport.Type)
		}
	default:
		return fmt.Errorf("MCP server %q: unknown transport type %q (expected 'stdio', 'sse' or 'http')", spec.Name, spec.Transport.Type)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// lookupEnvFunc returns (value, exists) for an environment variable.
// Override in tests to control the environment.
var lookupEnvFunc = os.LookupEnv

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		if len(groups) >= 3 {
			defaultVal = groups[2]
		}
		val, exists := lookupEnvFunc(varName)
		if exists {
			return val
		}
		return strings.TrimSpace(defaultVal)
	})
}

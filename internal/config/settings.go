package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings holds every runtime knob. Persisted form is config.yaml at the
// base directory; KNOWD_<NAME> environment variables override everything,
// including per-user overlays.
type Settings struct {
	// Chat pipeline
	MessageGroupTimeout int    `yaml:"message_group_timeout"`
	ChatMode            string `yaml:"chat_mode"`

	// Knowledge base
	KBTopicsOnly  bool `yaml:"kb_topics_only"`
	KBLockTimeout int  `yaml:"kb_lock_timeout"`

	// Agent
	AgentTimeout       int    `yaml:"agent_timeout"`
	AgentMaxIterations int    `yaml:"agent_max_iterations"`
	AgentDriver        string `yaml:"agent_driver"`
	AgentModel         string `yaml:"agent_model"`
	AgentBaseURL       string `yaml:"agent_base_url"`
	AgentAPIKey        string `yaml:"agent_api_key,omitempty"`
	AgentCLICommand    string `yaml:"agent_cli_command,omitempty"`

	// HTTP and rate limiting
	HTTPTimeout     int     `yaml:"http_timeout"`
	RateLimitPerMin float64 `yaml:"rate_limit_per_min"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`

	// Telegram
	TelegramBotToken string  `yaml:"telegram_bot_token,omitempty"`
	AllowedUserIDs   []int64 `yaml:"allowed_user_ids,omitempty"`

	// MCP hub
	MCPHubURL     string `yaml:"mcp_hub_url,omitempty"`
	MCPHubPort    int    `yaml:"mcp_hub_port"`
	MCPSSETimeout int    `yaml:"mcp_sse_timeout"`

	// Git
	GitPushRetries int    `yaml:"git_push_retries"`
	GitAuthorName  string `yaml:"git_author_name"`
	GitAuthorEmail string `yaml:"git_author_email"`

	// External service keys
	BraveAPIKey string `yaml:"brave_api_key,omitempty"`
	GitHubToken string `yaml:"github_token,omitempty"`

	// Credential store key. Never read from yaml or overlay, env only.
	CredKey string `yaml:"-"`

	// Layout (relative to the base directory unless absolute)
	DataDir   string `yaml:"data_dir"`
	KBRootDir string `yaml:"kb_root_dir"`
	LogDir    string `yaml:"log_dir"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		MessageGroupTimeout: 30,
		ChatMode:            "note",
		KBTopicsOnly:        true,
		KBLockTimeout:       300,
		AgentTimeout:        300,
		AgentMaxIterations:  10,
		AgentDriver:         "loop",
		AgentModel:          "",
		AgentBaseURL:        "https://api.openai.com/v1",
		HTTPTimeout:         30,
		RateLimitPerMin:     6,
		RateLimitBurst:      3,
		MCPHubPort:          8765,
		MCPSSETimeout:       10,
		GitPushRetries:      3,
		GitAuthorName:       "knowd",
		GitAuthorEmail:      "knowd@localhost",
		DataDir:             "data",
		KBRootDir:           "knowledge_bases",
		LogDir:              "logs",
	}
}

// LoadSettings builds the process-wide settings: defaults, then the yaml
// file (if present), then KNOWD_* environment variables. A missing file is
// not an error; a malformed one is.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &s); err != nil {
				return s, fmt.Errorf("parse %s: %w", path, err)
			}
			warnInsecurePermissions(path)
		case os.IsNotExist(err):
			// defaults apply
		default:
			return s, fmt.Errorf("read %s: %w", path, err)
		}
	}

	applyEnv(&s)
	s.CredKey = strings.TrimSpace(os.Getenv("KNOWD_CRED_KEY"))
	return s, nil
}

// applyEnv overlays KNOWD_<NAME> environment variables onto s. Values that
// fail validation are reported to stderr and skipped; a typo in the
// environment must not silently zero a setting.
func applyEnv(s *Settings) {
	for _, f := range Fields {
		val, ok := os.LookupEnv(EnvVar(f.Name))
		if !ok || strings.TrimSpace(val) == "" {
			continue
		}
		if err := f.set(s, val); err != nil {
			fmt.Fprintf(os.Stderr, "config: ignoring %s: %v\n", EnvVar(f.Name), err)
		}
	}
}

// EnvVar returns the environment variable name for a setting.
func EnvVar(name string) string { return "KNOWD_" + name }

// Validate checks cross-field constraints that the per-field parsers cannot.
func (s Settings) Validate() error {
	if s.AgentDriver == "loop" && s.AgentModel == "" && s.AgentCLICommand == "" {
		// Tolerated at load time: the bot refuses agent work, not startup.
		return nil
	}
	if s.MCPHubPort < 1 || s.MCPHubPort > 65535 {
		return fmt.Errorf("mcp_hub_port out of range: %d", s.MCPHubPort)
	}
	return nil
}

// HubBundled reports whether the bot should run the hub in-process.
// An explicit hub URL means an external hub owns the memory stores.
func (s Settings) HubBundled() bool { return strings.TrimSpace(s.MCPHubURL) == "" }

// EffectiveHubURL returns the URL the bot's hub client should dial.
func (s Settings) EffectiveHubURL() string {
	if !s.HubBundled() {
		return strings.TrimRight(strings.TrimSpace(s.MCPHubURL), "/")
	}
	return "http://127.0.0.1:" + strconv.Itoa(s.MCPHubPort)
}

// UserAllowed reports whether a Telegram user may talk to the bot.
// An empty allowlist denies everyone; the bot is private by default.
func (s Settings) UserAllowed(userID int64) bool {
	for _, id := range s.AllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// warnInsecurePermissions prints a warning to stderr if the config file is
// readable by group or others. On Windows, file permission bits don't map
// to ACLs, so the check is skipped.
func warnInsecurePermissions(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		fmt.Fprintf(os.Stderr, "WARNING: %s is readable by others (mode %o). Run: chmod 600 %s\n",
			path, info.Mode().Perm(), path)
	}
}

// SanitizeValue strips null bytes, ASCII control characters (< 32 except
// \n and \t), and DEL (0x7F) from a string value and trims surrounding
// whitespace. Secrets should never contain control characters; these
// typically sneak in through clipboard paste artifacts.
func SanitizeValue(s string) string {
	return strings.Map(func(r rune) rune {
		if (r < 32 && r != '\n' && r != '\t') || r == 0x7F {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// MaskKey masks a secret for display, showing only the last 4 characters.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// ParseBoolish parses a boolean-like string value.
func ParseBoolish(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on", "yes", "1":
		return true, nil
	case "false", "off", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s (use true/false, on/off, yes/no)", s)
	}
}

// ParseUserIDs parses a comma-separated list of int64 user IDs.
func ParseUserIDs(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FormatUserIDs renders the allowlist in its canonical comma-joined form.
func FormatUserIDs(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

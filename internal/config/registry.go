package config

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldType classifies a setting for parsing and display.
type FieldType string

const (
	TypeBool    FieldType = "bool"
	TypeInt     FieldType = "int"
	TypeFloat   FieldType = "float"
	TypeString  FieldType = "string"
	TypeEnum    FieldType = "enum"
	TypeIntList FieldType = "int_list"
	TypePath    FieldType = "path"
)

// Field describes one setting: how to parse it, whether chat commands may
// change it, and how it renders. Readonly fields change only via yaml or
// environment; secret fields additionally never echo their value.
type Field struct {
	Name        string
	Type        FieldType
	Category    string
	Description string
	Readonly    bool
	Secret      bool
	Enum        []string
	Min, Max    int

	get func(*Settings) string
	set func(*Settings, string) error
}

// Get returns the canonical string form of the field's current value.
func (f Field) Get(s *Settings) string { return f.get(s) }

// Set parses raw and assigns the field, enforcing type and range.
func (f Field) Set(s *Settings, raw string) error { return f.set(s, raw) }

// Display returns the value for user-facing output, masking secrets.
func (f Field) Display(s *Settings) string {
	v := f.get(s)
	if f.Secret {
		return MaskKey(v)
	}
	if v == "" {
		return "(not set)"
	}
	return v
}

func intField(min, max int, get func(*Settings) *int) (func(*Settings) string, func(*Settings, string) error) {
	return func(s *Settings) string { return strconv.Itoa(*get(s)) },
		func(s *Settings, raw string) error {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("not an integer: %s", raw)
			}
			if n < min || n > max {
				return fmt.Errorf("value %d out of range [%d, %d]", n, min, max)
			}
			*get(s) = n
			return nil
		}
}

func floatField(min, max float64, get func(*Settings) *float64) (func(*Settings) string, func(*Settings, string) error) {
	return func(s *Settings) string { return strconv.FormatFloat(*get(s), 'g', -1, 64) },
		func(s *Settings, raw string) error {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return fmt.Errorf("not a number: %s", raw)
			}
			if v < min || v > max {
				return fmt.Errorf("value %g out of range [%g, %g]", v, min, max)
			}
			*get(s) = v
			return nil
		}
}

func boolField(get func(*Settings) *bool) (func(*Settings) string, func(*Settings, string) error) {
	return func(s *Settings) string { return strconv.FormatBool(*get(s)) },
		func(s *Settings, raw string) error {
			b, err := ParseBoolish(raw)
			if err != nil {
				return err
			}
			*get(s) = b
			return nil
		}
}

func stringField(get func(*Settings) *string) (func(*Settings) string, func(*Settings, string) error) {
	return func(s *Settings) string { return *get(s) },
		func(s *Settings, raw string) error {
			*get(s) = SanitizeValue(raw)
			return nil
		}
}

func enumField(values []string, get func(*Settings) *string) (func(*Settings) string, func(*Settings, string) error) {
	return func(s *Settings) string { return *get(s) },
		func(s *Settings, raw string) error {
			v := strings.ToLower(strings.TrimSpace(raw))
			for _, allowed := range values {
				if v == allowed {
					*get(s) = v
					return nil
				}
			}
			return fmt.Errorf("invalid value %q (use %s)", raw, strings.Join(values, "|"))
		}
}

// Fields is the full setting registry, in display order.
var Fields = buildFields()

func buildFields() []Field {
	var fields []Field
	add := func(f Field, get func(*Settings) string, set func(*Settings, string) error) {
		f.get, f.set = get, set
		fields = append(fields, f)
	}

	g, s := intField(1, 3600, func(c *Settings) *int { return &c.MessageGroupTimeout })
	add(Field{Name: "MESSAGE_GROUP_TIMEOUT", Type: TypeInt, Category: "chat", Min: 1, Max: 3600,
		Description: "seconds of silence before buffered messages are flushed"}, g, s)

	eg, es := enumField([]string{"note", "ask", "task"}, func(c *Settings) *string { return &c.ChatMode })
	add(Field{Name: "CHAT_MODE", Type: TypeEnum, Category: "chat", Enum: []string{"note", "ask", "task"},
		Description: "how incoming messages are handled"}, eg, es)

	bg, bs := boolField(func(c *Settings) *bool { return &c.KBTopicsOnly })
	add(Field{Name: "KB_TOPICS_ONLY", Type: TypeBool, Category: "kb",
		Description: "restrict note placement to existing topic folders"}, bg, bs)

	g, s = intField(1, 3600, func(c *Settings) *int { return &c.KBLockTimeout })
	add(Field{Name: "KB_LOCK_TIMEOUT", Type: TypeInt, Category: "kb", Min: 1, Max: 3600,
		Description: "seconds to wait for the KB sync lock"}, g, s)

	g, s = intField(1, 3600, func(c *Settings) *int { return &c.AgentTimeout })
	add(Field{Name: "AGENT_TIMEOUT", Type: TypeInt, Category: "agent", Min: 1, Max: 3600,
		Description: "seconds before an agent run is cancelled"}, g, s)

	g, s = intField(1, 100, func(c *Settings) *int { return &c.AgentMaxIterations })
	add(Field{Name: "AGENT_MAX_ITERATIONS", Type: TypeInt, Category: "agent", Min: 1, Max: 100,
		Description: "tool-call round trips allowed per agent run"}, g, s)

	eg, es = enumField([]string{"loop", "subprocess"}, func(c *Settings) *string { return &c.AgentDriver })
	add(Field{Name: "AGENT_DRIVER", Type: TypeEnum, Category: "agent", Enum: []string{"loop", "subprocess"},
		Description: "how agent runs execute"}, eg, es)

	sg, ss := stringField(func(c *Settings) *string { return &c.AgentModel })
	add(Field{Name: "AGENT_MODEL", Type: TypeString, Category: "agent",
		Description: "model name sent to the provider"}, sg, ss)

	sg, ss = stringField(func(c *Settings) *string { return &c.AgentBaseURL })
	add(Field{Name: "AGENT_BASE_URL", Type: TypeString, Category: "agent",
		Description: "OpenAI-compatible API base URL"}, sg, ss)

	sg, ss = stringField(func(c *Settings) *string { return &c.AgentAPIKey })
	add(Field{Name: "AGENT_API_KEY", Type: TypeString, Category: "agent", Secret: true,
		Description: "provider API key"}, sg, ss)

	sg, ss = stringField(func(c *Settings) *string { return &c.AgentCLICommand })
	add(Field{Name: "AGENT_CLI_COMMAND", Type: TypeString, Category: "agent",
		Description: "external CLI invoked by the subprocess driver"}, sg, ss)

	g, s = intField(1, 600, func(c *Settings) *int { return &c.HTTPTimeout })
	add(Field{Name: "HTTP_TIMEOUT", Type: TypeInt, Category: "http", Min: 1, Max: 600,
		Description: "seconds for outbound HTTP requests"}, g, s)

	fg, fs := floatField(0.1, 600, func(c *Settings) *float64 { return &c.RateLimitPerMin })
	add(Field{Name: "RATE_LIMIT_PER_MIN", Type: TypeFloat, Category: "limits",
		Description: "agent invocations allowed per user per minute"}, fg, fs)

	g, s = intField(1, 100, func(c *Settings) *int { return &c.RateLimitBurst })
	add(Field{Name: "RATE_LIMIT_BURST", Type: TypeInt, Category: "limits", Min: 1, Max: 100,
		Description: "rate limiter burst size"}, g, s)

	sg, ss = stringField(func(c *Settings) *string { return &c.TelegramBotToken })
	add(Field{Name: "TELEGRAM_BOT_TOKEN", Type: TypeString, Category: "telegram", Secret: true, Readonly: true,
		Description: "bot API token"}, sg, ss)

	add(Field{Name: "ALLOWED_USER_IDS", Type: TypeIntList, Category: "telegram", Readonly: true,
		Description: "comma-separated user allowlist"},
		func(c *Settings) string { return FormatUserIDs(c.AllowedUserIDs) },
		func(c *Settings, raw string) error {
			ids, err := ParseUserIDs(raw)
			if err != nil {
				return err
			}
			c.AllowedUserIDs = ids
			return nil
		})

	sg, ss = stringField(func(c *Settings) *string { return &c.MCPHubURL })
	add(Field{Name: "MCP_HUB_URL", Type: TypeString, Category: "mcp", Readonly: true,
		Description: "external hub URL; empty runs the bundled hub"}, sg, ss)

	g, s = intField(1, 65535, func(c *Settings) *int { return &c.MCPHubPort })
	add(Field{Name: "MCP_HUB_PORT", Type: TypeInt, Category: "mcp", Readonly: true, Min: 1, Max: 65535,
		Description: "bundled hub listen port"}, g, s)

	g, s = intField(1, 600, func(c *Settings) *int { return &c.MCPSSETimeout })
	add(Field{Name: "MCP_SSE_TIMEOUT", Type: TypeInt, Category: "mcp", Min: 1, Max: 600,
		Description: "seconds to wait for SSE session establishment"}, g, s)

	g, s = intField(0, 10, func(c *Settings) *int { return &c.GitPushRetries })
	add(Field{Name: "GIT_PUSH_RETRIES", Type: TypeInt, Category: "git", Min: 0, Max: 10,
		Description: "push attempts before giving up"}, g, s)

	sg, ss = stringField(func(c *Settings) *string { return &c.GitAuthorName })
	add(Field{Name: "GIT_AUTHOR_NAME", Type: TypeString, Category: "git",
		Description: "commit author name"}, sg, ss)

	sg, ss = stringField(func(c *Settings) *string { return &c.GitAuthorEmail })
	add(Field{Name: "GIT_AUTHOR_EMAIL", Type: TypeString, Category: "git",
		Description: "commit author email"}, sg, ss)

	sg, ss = stringField(func(c *Settings) *string { return &c.BraveAPIKey })
	add(Field{Name: "BRAVE_API_KEY", Type: TypeString, Category: "keys", Secret: true,
		Description: "Brave Search API key for web_search"}, sg, ss)

	sg, ss = stringField(func(c *Settings) *string { return &c.GitHubToken })
	add(Field{Name: "GITHUB_TOKEN", Type: TypeString, Category: "keys", Secret: true,
		Description: "default GitHub token for github_api and remotes"}, sg, ss)

	sg, ss = stringField(func(c *Settings) *string { return &c.DataDir })
	add(Field{Name: "DATA_DIR", Type: TypePath, Category: "paths", Readonly: true,
		Description: "state directory"}, sg, ss)

	sg, ss = stringField(func(c *Settings) *string { return &c.KBRootDir })
	add(Field{Name: "KB_ROOT_DIR", Type: TypePath, Category: "paths", Readonly: true,
		Description: "parent directory of KB working trees"}, sg, ss)

	sg, ss = stringField(func(c *Settings) *string { return &c.LogDir })
	add(Field{Name: "LOG_DIR", Type: TypePath, Category: "paths", Readonly: true,
		Description: "log directory"}, sg, ss)

	return fields
}

// FieldByName returns the registry entry for name, or false if unknown.
func FieldByName(name string) (Field, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, f := range Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Categories returns the distinct categories in display order.
func Categories() []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range Fields {
		if !seen[f.Category] {
			seen[f.Category] = true
			out = append(out, f.Category)
		}
	}
	return out
}

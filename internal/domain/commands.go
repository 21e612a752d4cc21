package domain

// CommandDef describes a slash command available to the user.
type CommandDef struct {
	Name        string
	Description string
	Group       string // display group for /help
}

// CommandDefs is the single source of truth for all slash commands.
var CommandDefs = []CommandDef{
	// General
	{Name: "/start", Description: "welcome message", Group: "general"},
	{Name: "/help", Description: "show this help", Group: "general"},
	{Name: "/status", Description: "show mode, KB binding, and hub state", Group: "general"},
	// Mode
	{Name: "/note", Description: "switch to note mode (messages become notes)", Group: "mode"},
	{Name: "/ask", Description: "switch to ask mode (questions over your KB)", Group: "mode"},
	{Name: "/agent", Description: "switch to agent mode (free-form KB tasks)", Group: "mode"},
	// Knowledge base
	{Name: "/setkb", Description: "bind a KB by name or remote URL", Group: "kb"},
	{Name: "/kb", Description: "show the current KB binding", Group: "kb"},
	{Name: "/unsetkb", Description: "remove the current KB binding", Group: "kb"},
	// Settings
	{Name: "/settings", Description: "list setting categories", Group: "settings"},
	{Name: "/viewsettings", Description: "show effective settings [category]", Group: "settings"},
	{Name: "/setsetting", Description: "override a setting: NAME VALUE", Group: "settings"},
	{Name: "/resetsetting", Description: "drop a per-user override: NAME", Group: "settings"},
	// Credentials
	{Name: "/creds", Description: "set|show|clear Git credentials", Group: "creds"},
	// MCP
	{Name: "/mcp", Description: "list|add|enable|disable|remove tool servers", Group: "mcp"},
}

// CommandHelp returns all commands in display order.
func CommandHelp() []CommandDef {
	return CommandDefs
}

// CommandGroups defines the display order and labels for help groups.
var CommandGroups = []struct {
	Key   string
	Label string
}{
	{"general", "General"},
	{"mode", "Mode"},
	{"kb", "Knowledge base"},
	{"settings", "Settings"},
	{"creds", "Credentials"},
	{"mcp", "MCP"},
}

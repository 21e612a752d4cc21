package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/batalabs/knowd/internal/aggregate"
	"github.com/batalabs/knowd/internal/config"
	"github.com/batalabs/knowd/internal/creds"
	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/gitdrv"
	"github.com/batalabs/knowd/internal/kb"
	"github.com/batalabs/knowd/internal/mcp"
	"github.com/batalabs/knowd/internal/router"
)

// Deps are the services the command surface operates on. The message
// pipeline itself never sees commands; they are resolved at this edge.
type Deps struct {
	Router *router.Router
	Agg    *aggregate.Aggregator
	KBs    *kb.Manager
	Creds  *creds.Store
	MCP    *mcp.Manager
	MCPDir string
	HubURL string

	Version string
}

func (ta *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID
	text := strings.TrimSpace(msg.Text)

	parts := strings.Fields(text)
	cmd := strings.ToLower(parts[0])
	// Commands may carry the @botname suffix even in private chats.
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	args := parts[1:]

	switch cmd {
	case "/start":
		ta.reply(chatID, "Welcome to knowd, your chat-driven knowledge base.\n\n"+
			"Send me anything and I'll file it as a note. Switch with /ask to query "+
			"your knowledge base or /agent for free-form tasks. Bind a KB first "+
			"with /setkb <name>. See /help for everything else.")

	case "/help":
		ta.reply(chatID, helpText())

	case "/status":
		ta.reply(chatID, ta.statusText(userID))

	case "/note", "/ask", "/agent":
		ta.cmdMode(ctx, chatID, userID, cmd)

	case "/setkb":
		ta.cmdSetKB(ctx, chatID, userID, args)

	case "/kb":
		ta.cmdShowKB(chatID, userID)

	case "/unsetkb":
		if err := ta.deps.KBs.Unbind(ctx, userID); err != nil {
			ta.replyErr(chatID, err)
			return
		}
		ta.reply(chatID, "Knowledge base unbound. Messages are rejected until you /setkb again.")

	case "/settings":
		ta.cmdSettings(chatID, userID)

	case "/viewsettings":
		ta.cmdViewSettings(chatID, userID, args)

	case "/setsetting":
		ta.cmdSetSetting(ctx, chatID, userID, args)

	case "/resetsetting":
		ta.cmdResetSetting(ctx, chatID, userID, args)

	case "/creds":
		ta.cmdCreds(ctx, msg, args)

	case "/mcp":
		ta.cmdMCP(ctx, chatID, userID, text, args)

	default:
		ta.reply(chatID, "Unknown command. See /help.")
	}
}

func helpText() string {
	byGroup := map[string][]domain.CommandDef{}
	for _, c := range domain.CommandHelp() {
		byGroup[c.Group] = append(byGroup[c.Group], c)
	}
	var b strings.Builder
	for _, g := range domain.CommandGroups {
		defs := byGroup[g.Key]
		if len(defs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", g.Label)
		for _, c := range defs {
			fmt.Fprintf(&b, "  %s - %s\n", c.Name, c.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (ta *Adapter) statusText(userID int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "knowd %s\n", ta.deps.Version)
	fmt.Fprintf(&b, "Mode: %s\n", ta.deps.Router.Mode(userID))

	binding, ok, err := ta.deps.KBs.Get(userID)
	switch {
	case err != nil:
		fmt.Fprintf(&b, "KB: error reading bindings\n")
	case !ok:
		b.WriteString("KB: not bound (use /setkb <name>)\n")
	case binding.RemoteURL != "":
		fmt.Fprintf(&b, "KB: %s (synced with %s)\n", binding.KB, binding.RemoteURL)
	default:
		fmt.Fprintf(&b, "KB: %s (local only)\n", binding.KB)
	}

	if ta.deps.HubURL != "" {
		fmt.Fprintf(&b, "Hub: %s\n", ta.deps.HubURL)
	}
	if ta.deps.MCP != nil {
		statuses := ta.deps.MCP.ServerStatuses()
		if len(statuses) > 0 {
			names := make([]string, 0, len(statuses))
			for name := range statuses {
				names = append(names, name)
			}
			sort.Strings(names)
			b.WriteString("MCP servers:\n")
			for _, name := range names {
				fmt.Fprintf(&b, "  %s: %s\n", name, statuses[name])
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (ta *Adapter) cmdMode(ctx context.Context, chatID, userID int64, cmd string) {
	var mode domain.Mode
	switch cmd {
	case "/note":
		mode = domain.ModeNote
	case "/ask":
		mode = domain.ModeAsk
	case "/agent":
		mode = domain.ModeTask
	}
	if err := ta.deps.Router.SetMode(ctx, userID, mode); err != nil {
		ta.replyErr(chatID, err)
		return
	}
	// Buffered messages should be handled under the mode the user just
	// picked, not sit out the rest of the idle window.
	if ta.deps.Agg != nil {
		ta.deps.Agg.Flush(userID)
	}
	switch mode {
	case domain.ModeNote:
		ta.reply(chatID, "Note mode. Messages become notes in your knowledge base.")
	case domain.ModeAsk:
		ta.reply(chatID, "Ask mode. Messages are answered from your knowledge base, read-only.")
	case domain.ModeTask:
		ta.reply(chatID, "Agent mode. Messages run free-form tasks against your knowledge base.")
	}
}

func (ta *Adapter) cmdSetKB(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) == 0 {
		ta.reply(chatID, "Usage: /setkb <name> or /setkb <remote-url>")
		return
	}
	arg := args[0]

	var (
		name   string
		remote *gitdrv.Remote
	)
	if strings.Contains(arg, "://") || strings.HasPrefix(arg, "git@") {
		name = kb.Slugify(strings.TrimSuffix(path.Base(arg), ".git"))
		remote = &gitdrv.Remote{URL: arg, Token: ta.gitToken(userID)}
	} else {
		name = arg
	}

	binding, err := ta.deps.KBs.Bind(ctx, userID, name, remote)
	if err != nil {
		ta.replyErr(chatID, err)
		return
	}
	if binding.RemoteURL != "" {
		ta.reply(chatID, fmt.Sprintf("Bound to %s, synced with %s.", binding.KB, binding.RemoteURL))
		return
	}
	ta.reply(chatID, fmt.Sprintf("Bound to local knowledge base %s.", binding.KB))
}

// gitToken resolves the token used for KB remotes: the user's stored
// credential first, the process-wide GitHub token as fallback. An empty
// result means unauthenticated access.
func (ta *Adapter) gitToken(userID int64) string {
	if tok, err := ta.deps.Creds.Get(userID, creds.GitToken); err == nil && tok != "" {
		return tok
	}
	return ta.settings.Effective(userID).GitHubToken
}

func (ta *Adapter) cmdShowKB(chatID, userID int64) {
	binding, ok, err := ta.deps.KBs.Get(userID)
	if err != nil {
		ta.replyErr(chatID, err)
		return
	}
	if !ok {
		ta.reply(chatID, "No knowledge base bound. Use /setkb <name>.")
		return
	}
	line := fmt.Sprintf("Knowledge base: %s\nBound: %s", binding.KB, binding.BoundAt.Format("2006-01-02 15:04"))
	if binding.RemoteURL != "" {
		line += "\nRemote: " + binding.RemoteURL
	}
	ta.reply(chatID, line)
}

func (ta *Adapter) cmdSettings(chatID, userID int64) {
	var b strings.Builder
	b.WriteString("Setting categories:\n")
	for _, g := range ta.settings.View(userID) {
		fmt.Fprintf(&b, "  %s (%d settings)\n", g.Category, len(g.Entries))
	}
	b.WriteString("\nUse /viewsettings <category> to inspect, /setsetting NAME VALUE to override.")
	ta.reply(chatID, b.String())
}

func (ta *Adapter) cmdViewSettings(chatID, userID int64, args []string) {
	filter := ""
	if len(args) > 0 {
		filter = strings.ToLower(args[0])
	}
	var b strings.Builder
	for _, g := range ta.settings.View(userID) {
		if filter != "" && g.Category != filter {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", g.Category)
		for _, e := range g.Entries {
			mark := ""
			if e.Overridden {
				mark = " *"
			}
			if e.Readonly {
				mark += " (read-only)"
			}
			fmt.Fprintf(&b, "  %s = %s%s\n", e.Name, e.Value, mark)
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		ta.reply(chatID, "Unknown category. See /settings.")
		return
	}
	ta.reply(chatID, strings.TrimRight(b.String(), "\n")+"\n\n* = your override")
}

func (ta *Adapter) cmdSetSetting(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) < 2 {
		ta.reply(chatID, "Usage: /setsetting NAME VALUE")
		return
	}
	name := strings.ToUpper(args[0])
	value := strings.Join(args[1:], " ")
	if err := ta.settings.SetUserOverride(ctx, userID, name, value); err != nil {
		ta.replyErr(chatID, err)
		return
	}
	eff := ta.settings.Effective(userID)
	if f, ok := config.FieldByName(name); ok {
		ta.reply(chatID, fmt.Sprintf("%s = %s", f.Name, f.Display(&eff)))
		return
	}
	ta.reply(chatID, name+" updated.")
}

func (ta *Adapter) cmdResetSetting(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) != 1 {
		ta.reply(chatID, "Usage: /resetsetting NAME")
		return
	}
	name := strings.ToUpper(args[0])
	if err := ta.settings.ResetUserOverride(ctx, userID, name); err != nil {
		ta.replyErr(chatID, err)
		return
	}
	ta.reply(chatID, name+" reset to default.")
}

// cmdCreds manages the encrypted credential store. Values are never
// echoed back, and the message carrying a secret is deleted.
func (ta *Adapter) cmdCreds(ctx context.Context, msg *tgbotapi.Message, args []string) {
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if len(args) == 0 {
		ta.reply(chatID, "Usage: /creds set <name> <value> | /creds show | /creds clear <name>\n\n"+
			"Use the name "+creds.GitToken+" for the token that authenticates KB remotes.")
		return
	}

	switch args[0] {
	case "set":
		if len(args) != 3 {
			ta.reply(chatID, "Usage: /creds set <name> <value>")
			return
		}
		name := args[1]
		if err := ta.deps.Creds.Set(ctx, userID, name, args[2]); err != nil {
			ta.replyErr(chatID, err)
			return
		}
		deleted := ""
		if err := ta.Delete(ctx, chatID, msg.MessageID); err == nil {
			deleted = " Your message was deleted."
		}
		ta.reply(chatID, fmt.Sprintf("Stored credential %s.%s", name, deleted))

	case "show", "list":
		names, err := ta.deps.Creds.List(userID)
		if err != nil {
			ta.replyErr(chatID, err)
			return
		}
		if len(names) == 0 {
			ta.reply(chatID, "No credentials stored.")
			return
		}
		ta.reply(chatID, "Stored credentials (values are never shown):\n  "+strings.Join(names, "\n  "))

	case "clear":
		if len(args) != 2 {
			ta.reply(chatID, "Usage: /creds clear <name>")
			return
		}
		if err := ta.deps.Creds.Delete(ctx, userID, args[1]); err != nil {
			ta.replyErr(chatID, err)
			return
		}
		ta.reply(chatID, "Cleared credential "+args[1]+".")

	default:
		ta.reply(chatID, "Unknown subcommand. Use set, show, or clear.")
	}
}

// cmdMCP manages user-scoped MCP server specs. Changes to the set of
// servers take effect on the next start; agents pick up the merged view.
func (ta *Adapter) cmdMCP(ctx context.Context, chatID, userID int64, rawText string, args []string) {
	if len(args) == 0 {
		ta.reply(chatID, "Usage: /mcp list | add <name> <transport-json> | enable <name> | disable <name> | remove <name>")
		return
	}

	switch args[0] {
	case "list":
		specs, err := mcp.Discover(ta.deps.MCPDir, userID)
		if err != nil {
			ta.replyErr(chatID, err)
			return
		}
		if len(specs) == 0 {
			ta.reply(chatID, "No MCP servers registered.")
			return
		}
		var statuses map[string]string
		if ta.deps.MCP != nil {
			statuses = ta.deps.MCP.ServerStatuses()
		}
		var b strings.Builder
		for _, s := range specs {
			state := "disabled"
			if s.IsEnabled() {
				state = "enabled"
			}
			line := fmt.Sprintf("%s [%s, %s]", s.Name, s.Transport.Type, state)
			if st, ok := statuses[s.Name]; ok {
				line += " " + st
			}
			if s.Description != "" {
				line += "\n  " + s.Description
			}
			b.WriteString(line + "\n")
		}
		ta.reply(chatID, strings.TrimRight(b.String(), "\n"))

	case "add":
		// The transport JSON may contain spaces; take everything after the name.
		fields := strings.SplitN(rawText, " ", 4)
		if len(fields) < 4 {
			ta.reply(chatID, `Usage: /mcp add <name> {"type":"http","url":"..."}`)
			return
		}
		name := fields[2]
		var tr mcp.Transport
		if err := json.Unmarshal([]byte(fields[3]), &tr); err != nil {
			ta.reply(chatID, "Invalid transport JSON: "+err.Error())
			return
		}
		spec := mcp.ServerSpec{Name: name, Transport: tr}
		if err := ta.writeUserSpec(userID, spec); err != nil {
			ta.replyErr(chatID, err)
			return
		}
		ta.reply(chatID, fmt.Sprintf("Registered MCP server %s. It connects on the next start.", name))

	case "enable", "disable":
		if len(args) != 2 {
			ta.reply(chatID, "Usage: /mcp "+args[0]+" <name>")
			return
		}
		enabled := args[0] == "enable"
		if err := ta.toggleMCP(userID, args[1], enabled); err != nil {
			ta.replyErr(chatID, err)
			return
		}
		ta.reply(chatID, fmt.Sprintf("Server %s %sd. Applies on the next start.", args[1], args[0]))

	case "remove":
		if len(args) != 2 {
			ta.reply(chatID, "Usage: /mcp remove <name>")
			return
		}
		p := ta.userSpecPath(userID, args[1])
		if err := os.Remove(p); err != nil {
			if os.IsNotExist(err) {
				ta.reply(chatID, "No user-scoped server by that name. Shared servers can only be disabled.")
				return
			}
			ta.replyErr(chatID, err)
			return
		}
		ta.reply(chatID, "Removed server "+args[1]+".")

	default:
		ta.reply(chatID, "Unknown subcommand. Use list, add, enable, disable, or remove.")
	}
}

// toggleMCP flips a server's enabled flag by writing a user-scoped copy.
// User specs shadow shared specs of the same name, so disabling a shared
// server never touches the shared file.
func (ta *Adapter) toggleMCP(userID int64, name string, enabled bool) error {
	specs, err := mcp.Discover(ta.deps.MCPDir, userID)
	if err != nil {
		return err
	}
	for _, s := range specs {
		if s.Name == name {
			s.Enabled = &enabled
			return ta.writeUserSpec(userID, s)
		}
	}
	return domain.Errf(domain.KindInputRejected, "no MCP server named %s", name)
}

func (ta *Adapter) userSpecPath(userID int64, name string) string {
	return filepath.Join(ta.deps.MCPDir, fmt.Sprintf("user_%d", userID), name+".json")
}

func (ta *Adapter) writeUserSpec(userID int64, spec mcp.ServerSpec) error {
	switch spec.Transport.Type {
	case "stdio":
		if spec.Transport.Command == "" {
			return domain.Errf(domain.KindInputRejected, "stdio transport needs a command")
		}
	case "sse", "http":
		if spec.Transport.URL == "" {
			return domain.Errf(domain.KindInputRejected, "%s transport needs a url", spec.Transport.Type)
		}
	default:
		return domain.Errf(domain.KindInputRejected, "unknown transport type %q", spec.Transport.Type)
	}

	p := ta.userSpecPath(userID, spec.Name)
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return domain.E(domain.KindInternal, "creating server spec dir", err)
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return domain.E(domain.KindInternal, "encoding server spec", err)
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return domain.E(domain.KindInternal, "writing server spec", err)
	}
	return nil
}

func (ta *Adapter) replyErr(chatID int64, err error) {
	ta.logf("telegram: command error: %v", err)
	ta.reply(chatID, domain.UserMessage(err))
}

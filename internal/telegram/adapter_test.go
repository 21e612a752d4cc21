package telegram

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/batalabs/knowd/internal/config"
	"github.com/batalabs/knowd/internal/creds"
	"github.com/batalabs/knowd/internal/dedup"
	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/gitdrv"
	"github.com/batalabs/knowd/internal/kb"
	"github.com/batalabs/knowd/internal/mcp"
	"github.com/batalabs/knowd/internal/router"
)

// newTestAdapter builds an adapter without a live bot connection; only
// methods that never touch the API are exercised.
func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	dir := t.TempDir()

	store := config.NewStore(config.DefaultSettings(), filepath.Join(dir, "overrides.json"))
	logger := config.NewLogger(filepath.Join(dir, "bot.log"))
	t.Cleanup(logger.Close)

	credStore := creds.NewStore(filepath.Join(dir, "creds.json"), "test-passphrase")
	kbs := kb.NewManager(filepath.Join(dir, "bindings.json"), filepath.Join(dir, "kb"),
		gitdrv.Author{Name: "test", Email: "test@example.com"})
	return &Adapter{
		settings:  store,
		logger:    logger,
		downloads: filepath.Join(dir, "downloads"),
		deps: Deps{
			Router: router.New(store, dedup.NewLog(filepath.Join(dir, "processed.json")), nil, nil),
			KBs:    kbs,
			Creds:  credStore,
			MCPDir: filepath.Join(dir, "mcp_servers"),
		},
	}
}

func privateMessage(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 100,
		From:      &tgbotapi.User{ID: 42, UserName: "tester"},
		Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
		Text:      text,
		Date:      int(time.Now().Unix()),
	}
}

func TestToEvent_text(t *testing.T) {
	ta := newTestAdapter(t)
	msg := privateMessage("  remember the milk  ")
	ev := ta.toEvent(msg)

	if ev.Text != "remember the milk" {
		t.Errorf("Text = %q, want trimmed input", ev.Text)
	}
	if ev.ContentType != domain.ContentText {
		t.Errorf("ContentType = %q, want text", ev.ContentType)
	}
	if ev.UserID != 42 || ev.ChatID != 42 {
		t.Errorf("UserID/ChatID = %d/%d, want 42/42", ev.UserID, ev.ChatID)
	}
	if ev.EventID != 100 {
		t.Errorf("EventID = %d, want 100", ev.EventID)
	}
}

func TestToEvent_photoPicksLargest(t *testing.T) {
	ta := newTestAdapter(t)
	msg := privateMessage("")
	msg.Caption = "sunset over the garden"
	msg.Photo = []tgbotapi.PhotoSize{
		{FileID: "small", FileUniqueID: "u-small", Width: 90},
		{FileID: "large", FileUniqueID: "u-large", Width: 1280},
	}

	ev := ta.toEvent(msg)
	if ev.ContentType != domain.ContentPhoto {
		t.Fatalf("ContentType = %q, want photo", ev.ContentType)
	}
	if len(ev.Media) != 1 {
		t.Fatalf("expected 1 media item, got %d", len(ev.Media))
	}
	m := ev.Media[0]
	if m.FileHandle != "large" {
		t.Errorf("FileHandle = %q, want the largest resolution", m.FileHandle)
	}
	if m.Digest != "u-large" {
		t.Errorf("Digest = %q, want file unique id", m.Digest)
	}
	if m.Caption != "sunset over the garden" {
		t.Errorf("Caption = %q", m.Caption)
	}
}

func TestToEvent_document(t *testing.T) {
	ta := newTestAdapter(t)
	msg := privateMessage("")
	msg.Document = &tgbotapi.Document{FileID: "doc-1", FileUniqueID: "u-doc", FileName: "notes.pdf"}

	ev := ta.toEvent(msg)
	if ev.ContentType != domain.ContentDocument {
		t.Fatalf("ContentType = %q, want document", ev.ContentType)
	}
	if len(ev.Media) != 1 || ev.Media[0].Filename != "notes.pdf" {
		t.Fatalf("media = %+v, want one document notes.pdf", ev.Media)
	}
}

func TestToEvent_forwardedChannel(t *testing.T) {
	ta := newTestAdapter(t)
	msg := privateMessage("quoted wisdom")
	msg.ForwardFromChat = &tgbotapi.Chat{ID: -1001, Title: "Gardening Daily", Type: "channel"}

	ev := ta.toEvent(msg)
	if ev.ContentType != domain.ContentForwarded {
		t.Fatalf("ContentType = %q, want forwarded", ev.ContentType)
	}
	if ev.Forward == nil || ev.Forward.Title != "Gardening Daily" {
		t.Fatalf("Forward = %+v, want channel title", ev.Forward)
	}
}

func TestToEvent_forwardedUserFallsBackToUsername(t *testing.T) {
	ta := newTestAdapter(t)
	msg := privateMessage("hi")
	msg.ForwardFrom = &tgbotapi.User{ID: 7, UserName: "friend"}

	ev := ta.toEvent(msg)
	if ev.Forward == nil || ev.Forward.Title != "friend" {
		t.Fatalf("Forward = %+v, want username fallback", ev.Forward)
	}
}

func TestIsPrivateChat(t *testing.T) {
	tests := []struct {
		name     string
		chatType string
		want     bool
	}{
		{"private chat", "private", true},
		{"group chat", "group", false},
		{"supergroup chat", "supergroup", false},
		{"channel", "channel", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &tgbotapi.Chat{Type: tt.chatType}
			got := IsPrivateChat(chat)
			if got != tt.want {
				t.Errorf("IsPrivateChat(type=%q) = %v, want %v", tt.chatType, got, tt.want)
			}
		})
	}

	t.Run("nil chat returns false", func(t *testing.T) {
		if IsPrivateChat(nil) {
			t.Error("expected false for nil chat")
		}
	})
}

func TestHelpText_coversAllCommands(t *testing.T) {
	help := helpText()
	for _, c := range domain.CommandHelp() {
		if !strings.Contains(help, c.Name) {
			t.Errorf("help text missing %s", c.Name)
		}
	}
	for _, g := range domain.CommandGroups {
		if !strings.Contains(help, g.Label+":") {
			t.Errorf("help text missing group %s", g.Label)
		}
	}
}

func TestStatusText_unbound(t *testing.T) {
	ta := newTestAdapter(t)
	status := ta.statusText(42)

	if !strings.Contains(status, "Mode: note") {
		t.Errorf("status missing default mode: %q", status)
	}
	if !strings.Contains(status, "not bound") {
		t.Errorf("status should report unbound KB: %q", status)
	}
}

func TestGitToken_prefersUserCredential(t *testing.T) {
	ta := newTestAdapter(t)

	if got := ta.gitToken(42); got != "" {
		t.Fatalf("expected empty token with no credential, got %q", got)
	}

	if err := ta.deps.Creds.Set(context.Background(), 42, creds.GitToken, "ghp_usertoken"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := ta.gitToken(42); got != "ghp_usertoken" {
		t.Errorf("gitToken = %q, want the stored credential", got)
	}
}

func TestWriteUserSpec_validatesTransport(t *testing.T) {
	ta := newTestAdapter(t)

	err := ta.writeUserSpec(42, mcp.ServerSpec{Name: "bad", Transport: mcp.Transport{Type: "carrier-pigeon"}})
	if err == nil {
		t.Fatal("expected rejection of unknown transport type")
	}
	err = ta.writeUserSpec(42, mcp.ServerSpec{Name: "bad", Transport: mcp.Transport{Type: "stdio"}})
	if err == nil {
		t.Fatal("expected rejection of stdio transport without command")
	}

	spec := mcp.ServerSpec{Name: "browser", Transport: mcp.Transport{Type: "http", URL: "http://localhost:9000/mcp"}}
	if err := ta.writeUserSpec(42, spec); err != nil {
		t.Fatalf("writeUserSpec: %v", err)
	}

	data, err := os.ReadFile(ta.userSpecPath(42, "browser"))
	if err != nil {
		t.Fatalf("reading spec file: %v", err)
	}
	var got mcp.ServerSpec
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("parsing spec file: %v", err)
	}
	if got.Name != "browser" || got.Transport.URL != "http://localhost:9000/mcp" {
		t.Errorf("round-tripped spec = %+v", got)
	}
}

func TestToggleMCP_shadowsSharedSpec(t *testing.T) {
	ta := newTestAdapter(t)

	// A shared spec lives directly in the servers dir.
	shared := mcp.ServerSpec{Name: "search", Transport: mcp.Transport{Type: "http", URL: "http://hub/mcp"}}
	if err := os.MkdirAll(ta.deps.MCPDir, 0o700); err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(shared)
	if err := os.WriteFile(filepath.Join(ta.deps.MCPDir, "search.json"), data, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := ta.toggleMCP(42, "search", false); err != nil {
		t.Fatalf("toggleMCP: %v", err)
	}

	specs, err := mcp.Discover(ta.deps.MCPDir, 42)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(specs) != 1 || specs[0].IsEnabled() {
		t.Fatalf("expected single disabled spec, got %+v", specs)
	}

	// The shared file itself is untouched.
	sharedSpecs, err := mcp.LoadDir(ta.deps.MCPDir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(sharedSpecs) != 1 || !sharedSpecs[0].IsEnabled() {
		t.Fatalf("shared spec should remain enabled, got %+v", sharedSpecs)
	}

	if err := ta.toggleMCP(42, "missing", false); err == nil {
		t.Fatal("expected error for unknown server")
	}
}

func TestTelegramBotLogger_nilSafety(t *testing.T) {
	// nil logger should not panic
	var logger *telegramBotLogger
	logger.Println("test")
	logger.Printf("test %d", 42)

	// nil adapter should not panic
	logger2 := &telegramBotLogger{adapter: nil}
	logger2.Println("test")
	logger2.Printf("test %d", 42)
}

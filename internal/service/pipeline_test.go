package service

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/batalabs/knowd/internal/agent"
	"github.com/batalabs/knowd/internal/config"
	"github.com/batalabs/knowd/internal/creds"
	"github.com/batalabs/knowd/internal/dedup"
	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/gitdrv"
	"github.com/batalabs/knowd/internal/kb"
	"github.com/batalabs/knowd/internal/kbsync"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// fakePort records everything the pipeline sends, keyed by message ID.
type fakePort struct {
	mu     sync.Mutex
	nextID int
	texts  map[int]string // latest text per message ID
	order  []int
}

func newFakePort() *fakePort {
	return &fakePort{texts: map[int]string{}}
}

func (f *fakePort) SendText(_ context.Context, _ int64, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.texts[f.nextID] = text
	f.order = append(f.order, f.nextID)
	return f.nextID, nil
}

func (f *fakePort) EditText(_ context.Context, _ int64, messageID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[messageID] = text
	return nil
}

func (f *fakePort) SendDocument(context.Context, int64, string, []byte, string) error { return nil }
func (f *fakePort) Delete(context.Context, int64, int) error                          { return nil }
func (f *fakePort) Events() <-chan domain.IncomingEvent                               { return nil }

// lastText returns the final text of the first (status) message.
func (f *fakePort) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.order) == 0 {
		return ""
	}
	return f.texts[f.order[0]]
}

// fakeDriver runs fn instead of a model.
type fakeDriver struct {
	fn func(ctx context.Context, inv agent.Invocation) (agent.Result, error)
}

func (d *fakeDriver) Run(ctx context.Context, inv agent.Invocation, _ agent.EventFunc) (agent.Result, error) {
	return d.fn(ctx, inv)
}

type testEnv struct {
	pipeline *Pipeline
	port     *fakePort
	kbDir    string
	store    *config.Store
	dedup    *dedup.Log
}

// newTestEnv builds a pipeline bound to a fresh local KB for user 42.
func newTestEnv(t *testing.T, fn func(ctx context.Context, inv agent.Invocation) (agent.Result, error)) *testEnv {
	t.Helper()
	requireGit(t)

	base := t.TempDir()
	paths := config.NewPaths(base)
	settings := config.DefaultSettings()
	logger := config.NewLogger(paths.BotLog())
	t.Cleanup(logger.Close)

	store := config.NewStore(settings, paths.OverridesFile())
	kbs := kb.NewManager(paths.BindingsFile(), paths.KBRoot(), gitdrv.Author{Name: "test", Email: "test@localhost"})
	log := dedup.NewLog(paths.ProcessedLog())
	port := newFakePort()

	p := New(store, creds.NewStore(paths.CredentialsFile(), ""), kbs, kbsync.NewManager(), log, port, logger)
	p.newDriver = func(config.Settings) agent.Driver { return &fakeDriver{fn: fn} }

	b, err := kbs.Bind(context.Background(), 42, "garden", nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	return &testEnv{pipeline: p, port: port, kbDir: kbs.Dir(b), store: store, dedup: log}
}

func group(text string) domain.MessageGroup {
	return domain.NewMessageGroup([]domain.IncomingEvent{{
		EventID: 1, ChatID: 42, UserID: 42, Text: text, ContentType: domain.ContentText,
	}})
}

func gitLog(t *testing.T, dir string) string {
	t.Helper()
	cmd := exec.Command("git", "-C", dir, "log", "--format=%s")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git log: %v: %s", err, out)
	}
	return string(out)
}

func TestPipeline_NoteCommitsAgentFile(t *testing.T) {
	env := newTestEnv(t, func(_ context.Context, inv agent.Invocation) (agent.Result, error) {
		dir := filepath.Join(inv.WorkingDir, "plants")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return agent.Result{}, err
		}
		file := filepath.Join(dir, "2026-08-26-tomatoes.md")
		if err := os.WriteFile(file, []byte("---\ntitle: Tomatoes\ncategory: plants\ncreated_at: 2026-08-26\n---\n\nPlanted today. See [[beds]].\n"), 0o644); err != nil {
			return agent.Result{}, err
		}
		return agent.Result{Summary: "Stored a note about tomatoes under plants.", Iterations: 2}, nil
	})

	g := group("planted tomatoes in the east bed today")
	if err := env.pipeline.Handle(context.Background(), g, domain.ModeNote); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	log := gitLog(t, env.kbDir)
	wantPrefix := "knowd: note " + g.Fingerprint()[:12]
	if !strings.Contains(log, wantPrefix) {
		t.Errorf("commit message missing %q in:\n%s", wantPrefix, log)
	}
	if _, err := os.Stat(filepath.Join(env.kbDir, "topics", "plants", "2026-08-26-tomatoes.md")); err != nil {
		t.Errorf("note file missing: %v", err)
	}
	if got := env.port.lastText(); !strings.HasPrefix(got, "✅ Noted.") {
		t.Errorf("final status = %q", got)
	}

	done, err := env.dedup.IsProcessed(g.Fingerprint())
	if err != nil || !done {
		t.Errorf("fingerprint not recorded (done=%v err=%v)", done, err)
	}
}

func TestPipeline_NoteFallbackRendersFile(t *testing.T) {
	env := newTestEnv(t, func(context.Context, agent.Invocation) (agent.Result, error) {
		return agent.Result{Summary: "Tomatoes were planted in the east bed.", Iterations: 1}, nil
	})

	g := group("planted tomatoes")
	if err := env.pipeline.Handle(context.Background(), g, domain.ModeNote); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	inbox := filepath.Join(env.kbDir, "topics", "inbox")
	entries, err := os.ReadDir(inbox)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one inbox note, got %v (err %v)", entries, err)
	}
	data, err := os.ReadFile(filepath.Join(inbox, entries[0].Name()))
	if err != nil {
		t.Fatalf("read note: %v", err)
	}
	note, err := kb.ParseNote(data)
	if err != nil {
		t.Fatalf("ParseNote: %v", err)
	}
	if note.Meta.Category != "inbox" || note.Meta.Title == "" {
		t.Errorf("bad front-matter: %+v", note.Meta)
	}
	if !strings.Contains(gitLog(t, env.kbDir), "knowd: note") {
		t.Error("fallback note was not committed")
	}
}

func TestPipeline_NoteWithoutContentFails(t *testing.T) {
	env := newTestEnv(t, func(context.Context, agent.Invocation) (agent.Result, error) {
		return agent.Result{Summary: "", Iterations: 1}, nil
	})

	err := env.pipeline.Handle(context.Background(), group("hello"), domain.ModeNote)
	if domain.KindOf(err) != domain.KindAgentToolFailed {
		t.Fatalf("expected AgentToolFailed, got %v", err)
	}
	if got := env.port.lastText(); !strings.HasPrefix(got, "❌") {
		t.Errorf("final status = %q", got)
	}
}

func TestPipeline_AskAnswersWithoutCommit(t *testing.T) {
	env := newTestEnv(t, func(context.Context, agent.Invocation) (agent.Result, error) {
		return agent.Result{Summary: "You planted tomatoes on 2026-08-26.", Iterations: 3}, nil
	})

	before := gitLog(t, env.kbDir)
	if err := env.pipeline.Handle(context.Background(), group("when did I plant tomatoes?"), domain.ModeAsk); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if after := gitLog(t, env.kbDir); after != before {
		t.Error("ask run produced a commit")
	}
	if got := env.port.lastText(); got != "You planted tomatoes on 2026-08-26." {
		t.Errorf("final status = %q", got)
	}
}

func TestPipeline_AskRejectsMutations(t *testing.T) {
	// A misbehaving subprocess CLI can write despite the whitelist.
	env := newTestEnv(t, func(_ context.Context, inv agent.Invocation) (agent.Result, error) {
		if err := os.WriteFile(filepath.Join(inv.WorkingDir, "rogue.md"), []byte("x"), 0o644); err != nil {
			return agent.Result{}, err
		}
		return agent.Result{Summary: "done"}, nil
	})

	err := env.pipeline.Handle(context.Background(), group("question"), domain.ModeAsk)
	if domain.KindOf(err) != domain.KindAgentToolFailed {
		t.Fatalf("expected AgentToolFailed, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(env.kbDir, "topics", "rogue.md")); !os.IsNotExist(statErr) {
		t.Error("rogue file survived the discard")
	}
	if strings.Contains(gitLog(t, env.kbDir), "knowd: ask") {
		t.Error("rejected mutations were committed")
	}
}

func TestPipeline_UnboundKB(t *testing.T) {
	env := newTestEnv(t, func(context.Context, agent.Invocation) (agent.Result, error) {
		t.Fatal("driver must not run without a binding")
		return agent.Result{}, nil
	})

	g := domain.NewMessageGroup([]domain.IncomingEvent{{
		EventID: 1, ChatID: 7, UserID: 7, Text: "hello", ContentType: domain.ContentText,
	}})
	err := env.pipeline.Handle(context.Background(), g, domain.ModeNote)
	if domain.KindOf(err) != domain.KindKBUnbound {
		t.Fatalf("expected KBUnbound, got %v", err)
	}
}

func TestPipeline_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(context.Context, agent.Invocation) (agent.Result, error) {
		return agent.Result{Summary: "answer"}, nil
	})
	// One request allowed, effectively no refill within the test.
	base := env.pipeline.Settings.Base()
	base.RateLimitPerMin = 0.1
	base.RateLimitBurst = 1
	env.pipeline.Settings = config.NewStore(base, filepath.Join(t.TempDir(), "overrides.json"))

	if err := env.pipeline.Handle(context.Background(), group("first"), domain.ModeAsk); err != nil {
		t.Fatalf("first run: %v", err)
	}
	err := env.pipeline.Handle(context.Background(), group("second"), domain.ModeAsk)
	if domain.KindOf(err) != domain.KindRateLimited {
		t.Fatalf("expected RateLimited, got %v", err)
	}
}

func TestPipeline_TaskCommitsAndReportsSummary(t *testing.T) {
	env := newTestEnv(t, func(_ context.Context, inv agent.Invocation) (agent.Result, error) {
		if err := os.WriteFile(filepath.Join(inv.WorkingDir, "renamed.md"), []byte("content\n"), 0o644); err != nil {
			return agent.Result{}, err
		}
		return agent.Result{Summary: "Reorganized one file.", Iterations: 4}, nil
	})

	if err := env.pipeline.Handle(context.Background(), group("tidy up my notes"), domain.ModeTask); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(gitLog(t, env.kbDir), "knowd: task") {
		t.Error("task commit missing")
	}
	got := env.port.lastText()
	if !strings.HasPrefix(got, "✅ Done.") || !strings.Contains(got, "Reorganized one file.") {
		t.Errorf("final status = %q", got)
	}
}

func TestPipeline_FailedRunDiscardsChanges(t *testing.T) {
	env := newTestEnv(t, func(_ context.Context, inv agent.Invocation) (agent.Result, error) {
		os.WriteFile(filepath.Join(inv.WorkingDir, "partial.md"), []byte("half"), 0o644)
		return agent.Result{}, domain.Errf(domain.KindAgentTimeout, "agent run timed out")
	})

	err := env.pipeline.Handle(context.Background(), group("note this"), domain.ModeNote)
	if domain.KindOf(err) != domain.KindAgentTimeout {
		t.Fatalf("expected AgentTimeout, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(env.kbDir, "topics", "partial.md")); !os.IsNotExist(statErr) {
		t.Error("partial file survived the failed run")
	}
}

func TestCommitMessage(t *testing.T) {
	fp := strings.Repeat("ab", 32)
	got := commitMessage(domain.ModeNote, fp, "Stored a note.\nSecond line ignored.")
	want := "knowd: note abababababab — Stored a note."
	if got != want {
		t.Errorf("commitMessage = %q, want %q", got, want)
	}

	if got := commitMessage(domain.ModeTask, fp, ""); !strings.HasSuffix(got, "— update") {
		t.Errorf("empty summary fallback = %q", got)
	}
}

func TestNoteTitle(t *testing.T) {
	g := group("# Planted tomatoes\nmore detail")
	if got := noteTitle(g, "body"); got != "Planted tomatoes" {
		t.Errorf("noteTitle = %q", got)
	}
	empty := domain.NewMessageGroup([]domain.IncomingEvent{{EventID: 1, UserID: 42, ChatID: 42}})
	if got := noteTitle(empty, ""); got != "untitled" {
		t.Errorf("noteTitle fallback = %q", got)
	}
}

func TestHistoryRing(t *testing.T) {
	h := &history{}
	for i := 0; i < historyDepth+3; i++ {
		h.add("q", "a")
	}
	if n := strings.Count(h.render(), "User: q"); n != historyDepth {
		t.Errorf("ring holds %d entries, want %d", n, historyDepth)
	}
	if (&history{}).render() != "" {
		t.Error("empty ring must render empty")
	}
}

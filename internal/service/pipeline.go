// Package service runs the KB pipeline: one message group in, one git
// commit (or answer) out. All three modes share the same state machine and
// differ only in the agent whitelist and how a no-mutation result is
// treated.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/batalabs/knowd/internal/agent"
	"github.com/batalabs/knowd/internal/chat"
	"github.com/batalabs/knowd/internal/config"
	"github.com/batalabs/knowd/internal/creds"
	"github.com/batalabs/knowd/internal/dedup"
	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/gitdrv"
	"github.com/batalabs/knowd/internal/kb"
	"github.com/batalabs/knowd/internal/kbsync"
	"github.com/batalabs/knowd/internal/mcp"
	"github.com/batalabs/knowd/internal/provider"
	"github.com/batalabs/knowd/internal/tools"
)

// Pipeline executes message groups against a user's KB. One Pipeline
// serves all users; per-user state lives in keyed maps.
type Pipeline struct {
	Settings *config.Store
	Creds    *creds.Store
	KBs      *kb.Manager
	Locks    *kbsync.Manager
	Dedup    *dedup.Log
	Port     chat.Port
	Logger   *config.Logger

	// MCP and Hub are nil when the respective backend is not connected;
	// the pipeline degrades to built-in tools only.
	MCP *mcp.Manager
	Hub tools.HubAPI

	// newDriver builds the agent driver for one run. Swappable for tests.
	newDriver func(s config.Settings) agent.Driver

	mu        sync.Mutex
	limiters  map[int64]*rate.Limiter
	histories map[int64]*history
}

// New wires a pipeline. Optional fields (MCP, Hub) are set directly on the
// returned value.
func New(settings *config.Store, cr *creds.Store, kbs *kb.Manager, locks *kbsync.Manager, log *dedup.Log, port chat.Port, logger *config.Logger) *Pipeline {
	return &Pipeline{
		Settings:  settings,
		Creds:     cr,
		KBs:       kbs,
		Locks:     locks,
		Dedup:     log,
		Port:      port,
		Logger:    logger,
		newDriver: defaultDriver,
		limiters:  make(map[int64]*rate.Limiter),
		histories: make(map[int64]*history),
	}
}

func defaultDriver(s config.Settings) agent.Driver {
	if s.AgentDriver == "subprocess" {
		return &agent.SubprocessDriver{Command: s.AgentCLICommand}
	}
	return &agent.LoopDriver{Client: &provider.Client{
		BaseURL: s.AgentBaseURL,
		APIKey:  s.AgentAPIKey,
		Model:   s.AgentModel,
	}}
}

// Handle processes one group in the given mode. It posts a status message
// immediately and rewrites it through the pipeline phases; the returned
// error has already been reported to the user.
func (p *Pipeline) Handle(ctx context.Context, g domain.MessageGroup, mode domain.Mode) error {
	s := p.Settings.Effective(g.UserID)
	status := chat.Begin(ctx, p.Port, g.ChatID, "⏳ Queued...")

	err := p.run(ctx, g, mode, s, status)
	if err != nil {
		p.Logger.Printf("service: %s run failed for user %d: %v", mode, g.UserID, err)
		status.Set(ctx, "❌ "+domain.UserMessage(err))
	}
	return err
}

func (p *Pipeline) run(ctx context.Context, g domain.MessageGroup, mode domain.Mode, s config.Settings, status chat.StatusMessage) error {
	binding, bound, err := p.KBs.Get(g.UserID)
	if err != nil {
		return err
	}
	if !bound {
		return domain.Errf(domain.KindKBUnbound, "no knowledge base is bound; use /setkb <name>")
	}
	kbRoot := p.KBs.Dir(binding)

	lockCtx, cancel := context.WithTimeout(ctx, time.Duration(s.KBLockTimeout)*time.Second)
	handle, err := p.Locks.WithLock(lockCtx, kbRoot)
	cancel()
	if err != nil {
		return err
	}
	defer handle.Release()

	repo := gitdrv.NewRepo(kbRoot)
	remote, hasRemote := p.remote(g.UserID, binding, s)
	if hasRemote {
		status.Set(ctx, "⬇️ Syncing knowledge base...")
		if err := repo.ConfigureRemote(ctx, remote); err != nil {
			return err
		}
		if err := repo.Pull(ctx, remote); err != nil {
			return err
		}
	}

	workdir := kbRoot
	if s.KBTopicsOnly {
		workdir = filepath.Join(kbRoot, "topics")
		if err := os.MkdirAll(workdir, 0o755); err != nil {
			return domain.E(domain.KindInternal, "create topics dir", err)
		}
	}

	if !p.limiter(g.UserID, s).Allow() {
		return domain.Errf(domain.KindRateLimited, "too many requests; wait a minute and try again")
	}

	status.Set(ctx, "🤖 Working...")
	res, runErr := p.invoke(ctx, g, mode, s, binding.KB, workdir, status)

	effects, effErr := agent.CollectEffects(ctx, repo)
	if runErr != nil {
		// A failed run must not leave half-written files for the next
		// run to sweep into its commit.
		if effErr == nil && effects.Mutated() {
			if rerr := repo.ResetWorktree(ctx); rerr != nil {
				p.Logger.Printf("service: discard after failed run: %v", rerr)
			}
		}
		return runErr
	}
	if effErr != nil {
		return effErr
	}

	switch mode {
	case domain.ModeAsk:
		if effects.Mutated() {
			if rerr := repo.ResetWorktree(ctx); rerr != nil {
				p.Logger.Printf("service: discard ask mutations: %v", rerr)
			}
			return domain.Errf(domain.KindAgentToolFailed, "the answer run tried to modify the knowledge base; changes were discarded")
		}
	case domain.ModeNote:
		if !effects.Mutated() {
			effects, err = p.renderNoteFallback(ctx, g, res, repo, workdir)
			if err != nil {
				return err
			}
		}
	}

	fp := g.Fingerprint()
	if effects.Mutated() {
		msg := commitMessage(mode, fp, res.Summary)
		committed, err := repo.Commit(ctx, effects.Paths(), msg, gitdrv.Author{Name: s.GitAuthorName, Email: s.GitAuthorEmail})
		if err != nil {
			return err
		}
		if committed && hasRemote {
			status.Set(ctx, "⬆️ Pushing changes...")
			if err := repo.Push(ctx, remote, s.GitPushRetries); err != nil {
				return err
			}
		}
	}

	if _, err := p.Dedup.Record(ctx, dedup.Entry{
		Fingerprint: fp,
		UserID:      g.UserID,
		Mode:        string(mode),
		Summary:     g.Preview(),
	}); err != nil {
		p.Logger.Printf("service: record fingerprint %s: %v", fp[:12], err)
	}

	if mode != domain.ModeNote {
		p.historyFor(g.UserID).add(g.CombinedText, res.Summary)
	}

	status.Set(ctx, finalText(mode, res, effects))
	return nil
}

// invoke runs the agent driver with the mode whitelist and deadline.
func (p *Pipeline) invoke(ctx context.Context, g domain.MessageGroup, mode domain.Mode, s config.Settings, kbID, workdir string, status chat.StatusMessage) (agent.Result, error) {
	tc := &tools.ToolContext{
		UserID:      g.UserID,
		KBID:        kbID,
		TopicsOnly:  s.KBTopicsOnly,
		HTTPTimeout: time.Duration(s.HTTPTimeout) * time.Second,
		BraveAPIKey: s.BraveAPIKey,
		GitHubToken: s.GitHubToken,
		Hub:         p.Hub,
		Todos:       &tools.TodoList{},
		Logger:      p.Logger,
	}
	if p.MCP != nil {
		tc.MCP = p.MCP
	}

	inv := agent.Invocation{
		Mode:          mode,
		Prompt:        buildPrompt(g, mode, p.historyFor(g.UserID)),
		System:        systemPrompt(mode, workdir),
		WorkingDir:    workdir,
		UserID:        g.UserID,
		MaxIterations: s.AgentMaxIterations,
		Tools:         tc,
	}
	if mode == domain.ModeTask && p.MCP != nil {
		inv.ExtraTools = p.MCP.ToolDefs()
	}

	onEvent := func(e agent.Event) {
		switch e.Kind {
		case agent.EventTool:
			status.Set(ctx, "🔧 "+e.Tool+"...")
		case agent.EventRetrying:
			status.Set(ctx, "🤖 "+e.Message)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(s.AgentTimeout)*time.Second)
	defer cancel()
	return p.newDriver(s).Run(runCtx, inv, onEvent)
}

// renderNoteFallback writes the note file itself when a note run returned
// markdown but called no tools. Small models do this constantly; the
// content is still worth keeping.
func (p *Pipeline) renderNoteFallback(ctx context.Context, g domain.MessageGroup, res agent.Result, repo *gitdrv.Repo, workdir string) (agent.Effects, error) {
	body := strings.TrimSpace(res.Summary)
	if body == "" {
		return agent.Effects{}, domain.Errf(domain.KindAgentToolFailed, "the note run produced no file and no content")
	}

	title := noteTitle(g, body)
	now := time.Now()
	note := kb.Note{
		Meta: kb.FrontMatter{
			Title:     title,
			Category:  "inbox",
			CreatedAt: now.Format(time.RFC3339),
			Agent:     "knowd",
		},
		Body: body,
	}
	data, err := note.Render()
	if err != nil {
		return agent.Effects{}, domain.E(domain.KindInternal, "render note", err)
	}

	dir := filepath.Join(workdir, "inbox")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return agent.Effects{}, domain.E(domain.KindInternal, "create inbox dir", err)
	}
	path := filepath.Join(dir, kb.NoteFilename(now, title))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return agent.Effects{}, domain.E(domain.KindInternal, "write note", err)
	}

	return agent.CollectEffects(ctx, repo)
}

// noteTitle derives a title from the group text, falling back to the first
// line of the rendered body.
func noteTitle(g domain.MessageGroup, body string) string {
	src := strings.TrimSpace(g.CombinedText)
	if src == "" {
		src = body
	}
	line := src
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimLeft(strings.TrimSpace(line), "# ")
	if len(line) > 60 {
		line = line[:60]
	}
	if line == "" {
		return "untitled"
	}
	return line
}

// remote resolves the push target for a bound KB. The token comes from the
// user's stored git credential when present, else the global GitHub token.
// Token resolution failures degrade to an unauthenticated remote; the push
// will fail with a clean auth error rather than a confusing creds error.
func (p *Pipeline) remote(userID int64, b kb.Binding, s config.Settings) (gitdrv.Remote, bool) {
	if b.RemoteURL == "" {
		return gitdrv.Remote{}, false
	}
	token := s.GitHubToken
	if p.Creds != nil && p.Creds.Unlocked() {
		if t, err := p.Creds.Get(userID, creds.GitToken); err == nil {
			token = t
		}
	}
	return gitdrv.Remote{URL: b.RemoteURL, Token: token}, true
}

// limiter returns the user's token bucket, kept in step with the effective
// settings on every call so overrides apply without restart.
func (p *Pipeline) limiter(userID int64, s config.Settings) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	lim, ok := p.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.RateLimitPerMin/60), s.RateLimitBurst)
		p.limiters[userID] = lim
	} else {
		lim.SetLimit(rate.Limit(s.RateLimitPerMin / 60))
		lim.SetBurst(s.RateLimitBurst)
	}
	return lim
}

func (p *Pipeline) historyFor(userID int64) *history {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.histories[userID]
	if !ok {
		h = &history{}
		p.histories[userID] = h
	}
	return h
}

// commitMessage includes the fingerprint prefix so a replayed group is
// detectable from git log alone, even if the processed ledger is lost.
func commitMessage(mode domain.Mode, fp, summary string) string {
	summary = strings.TrimSpace(summary)
	if i := strings.IndexByte(summary, '\n'); i >= 0 {
		summary = summary[:i]
	}
	if len(summary) > 72 {
		summary = summary[:72]
	}
	if summary == "" {
		summary = "update"
	}
	return fmt.Sprintf("knowd: %s %s — %s", mode, fp[:12], summary)
}

func finalText(mode domain.Mode, res agent.Result, effects agent.Effects) string {
	switch mode {
	case domain.ModeAsk:
		if strings.TrimSpace(res.Summary) == "" {
			return "I found nothing to answer with."
		}
		return res.Summary
	case domain.ModeNote:
		return "✅ Noted.\n" + effects.Describe()
	default:
		text := "✅ Done."
		if s := strings.TrimSpace(res.Summary); s != "" {
			text += "\n" + s
		}
		if effects.Mutated() {
			text += "\n" + effects.Describe()
		}
		return text
	}
}

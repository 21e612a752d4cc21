// Package gitdrv drives the git CLI for knowledge-base working trees.
// Credentials live only in memory: the configured remote always holds the
// clean URL, and authenticated URLs are passed per invocation and scrubbed
// from every error before it leaves this package.
package gitdrv

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/batalabs/knowd/internal/domain"
)

// retryBackoff is the delay before each push retry.
var retryBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Author identifies the committer for KB mutations.
type Author struct {
	Name  string
	Email string
}

// Remote pairs a clean remote URL with an optional access token. The token
// never reaches the on-disk git config.
type Remote struct {
	URL   string
	Token string
}

// authURL injects the token into an https remote URL.
func (r Remote) authURL() string {
	if r.Token == "" {
		return r.URL
	}
	u, err := url.Parse(r.URL)
	if err != nil || u.Scheme != "https" {
		return r.URL
	}
	u.User = url.UserPassword("x-access-token", r.Token)
	return u.String()
}

// secrets lists the strings that must never appear in errors.
func (r Remote) secrets() []string {
	var s []string
	if r.Token != "" {
		s = append(s, r.authURL(), r.Token)
	}
	return s
}

// StatusEntry is one line of porcelain status output.
type StatusEntry struct {
	Code    string // two-letter XY code, e.g. " M", "??", "A "
	Path    string
	OldPath string // renames only, the pre-move path
}

// Repo is a handle on one working tree.
type Repo struct {
	Dir string
}

// NewRepo returns a handle on the working tree at dir.
func NewRepo(dir string) *Repo { return &Repo{Dir: dir} }

// run executes git inside the working tree and returns trimmed stdout.
// Stderr is captured separately so warnings don't corrupt the result.
// Any string in redact is scrubbed from the returned error.
func (r *Repo) run(ctx context.Context, redact []string, args ...string) (string, error) {
	full := append([]string{"-C", r.Dir}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	if err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = out
		}
		errMsg = scrub(errMsg, redact)
		return out, fmt.Errorf("git %s: %s: %w", args[0], errMsg, err)
	}
	return out, nil
}

func scrub(s string, redact []string) string {
	for _, secret := range redact {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "***")
		}
	}
	return s
}

// Init creates a fresh repository with main as the initial branch.
func (r *Repo) Init(ctx context.Context) error {
	if _, err := r.run(ctx, nil, "init", "-b", "main"); err != nil {
		return domain.E(domain.KindInternal, "init repository", err)
	}
	return nil
}

// Clone clones remote into the working tree, then resets the stored remote
// URL to the credential-free form.
func Clone(ctx context.Context, remote Remote, dir string) (*Repo, error) {
	cmd := exec.CommandContext(ctx, "git", "clone", remote.authURL(), dir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := scrub(strings.TrimSpace(stderr.String()), remote.secrets())
		return nil, classify(msg, fmt.Errorf("git clone: %s: %w", msg, err))
	}
	r := NewRepo(dir)
	if err := r.ConfigureRemote(ctx, remote); err != nil {
		return nil, err
	}
	return r, nil
}

// ConfigureRemote points origin at the clean URL. Idempotent.
func (r *Repo) ConfigureRemote(ctx context.Context, remote Remote) error {
	if _, err := r.run(ctx, remote.secrets(), "remote", "set-url", "origin", remote.URL); err != nil {
		if _, err := r.run(ctx, remote.secrets(), "remote", "add", "origin", remote.URL); err != nil {
			return domain.E(domain.KindInternal, "configure remote", err)
		}
	}
	return nil
}

// Pull fast-forwards the current branch from the remote. A divergent
// history is a conflict, never an automatic merge.
func (r *Repo) Pull(ctx context.Context, remote Remote) error {
	redact := remote.secrets()
	if _, err := r.run(ctx, redact, "fetch", remote.authURL()); err != nil {
		return classify(err.Error(), err)
	}
	if _, err := r.run(ctx, redact, "merge", "--ff-only", "FETCH_HEAD"); err != nil {
		lower := strings.ToLower(err.Error())
		if strings.Contains(lower, "not possible to fast-forward") ||
			strings.Contains(lower, "unrelated histories") ||
			strings.Contains(lower, "diverg") {
			return domain.E(domain.KindGitConflict, "local and remote history diverged", err)
		}
		return classify(err.Error(), err)
	}
	return nil
}

// Status returns the porcelain status of the working tree.
func (r *Repo) Status(ctx context.Context) ([]StatusEntry, error) {
	out, err := r.run(ctx, nil, "status", "--porcelain", "-uall")
	if err != nil {
		return nil, domain.E(domain.KindInternal, "git status", err)
	}
	var entries []StatusEntry
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		code, path := line[:2], strings.TrimSpace(line[3:])
		// Renames show as "old -> new"; the new path is the live one.
		var old string
		if i := strings.Index(path, " -> "); i >= 0 {
			old = strings.Trim(path[:i], `"`)
			path = path[i+4:]
		}
		path = strings.Trim(path, `"`)
		entries = append(entries, StatusEntry{Code: code, Path: path, OldPath: old})
	}
	return entries, nil
}

// Commit stages exactly the listed paths and commits them under the given
// author. Returns false without error when the staged diff is empty.
func (r *Repo) Commit(ctx context.Context, paths []string, message string, author Author) (bool, error) {
	if len(paths) == 0 {
		return false, nil
	}
	args := append([]string{"add", "--all", "--"}, paths...)
	if _, err := r.run(ctx, nil, args...); err != nil {
		return false, domain.E(domain.KindInternal, "stage changes", err)
	}

	// Exit status 1 means the index differs from HEAD.
	if _, err := r.run(ctx, nil, "diff", "--cached", "--quiet"); err == nil {
		return false, nil
	}

	_, err := r.run(ctx, nil,
		"-c", "user.name="+author.Name,
		"-c", "user.email="+author.Email,
		"commit", "-m", message)
	if err != nil {
		return false, domain.E(domain.KindInternal, "commit", err)
	}
	return true, nil
}

// Push sends the current branch to the remote, retrying transient network
// failures with backoff. Auth failures and rejected pushes fail fast.
func (r *Repo) Push(ctx context.Context, remote Remote, retries int) error {
	if retries < 1 {
		retries = 1
	}
	redact := remote.secrets()
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoff[min(attempt-1, len(retryBackoff)-1)]
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return domain.E(domain.KindGitNetwork, "push cancelled", ctx.Err())
			}
		}
		_, err := r.run(ctx, redact, "push", remote.authURL(), "HEAD")
		if err == nil {
			return nil
		}
		lastErr = classify(err.Error(), err)
		if domain.KindOf(lastErr) != domain.KindGitNetwork {
			return lastErr
		}
	}
	return lastErr
}

// HeadSHA returns the current HEAD commit, or empty in an unborn repo.
func (r *Repo) HeadSHA(ctx context.Context) string {
	out, err := r.run(ctx, nil, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return out
}

// ShowHead returns the committed content of path at HEAD. Paths absent
// from HEAD (newly created files) return empty content without error.
func (r *Repo) ShowHead(ctx context.Context, path string) string {
	out, err := r.run(ctx, nil, "show", "HEAD:"+path)
	if err != nil {
		return ""
	}
	return out
}

// ResetWorktree discards every uncommitted change, tracked and untracked.
// The sync lockfile lives in the tree root and must survive the clean.
func (r *Repo) ResetWorktree(ctx context.Context) error {
	if r.HeadSHA(ctx) != "" {
		if _, err := r.run(ctx, nil, "checkout", "--", "."); err != nil {
			return domain.E(domain.KindInternal, "discard changes", err)
		}
	}
	if _, err := r.run(ctx, nil, "clean", "-fd", "--exclude=.sync.lock"); err != nil {
		return domain.E(domain.KindInternal, "discard untracked files", err)
	}
	return nil
}

// IsRepo reports whether the working tree is a git repository.
func (r *Repo) IsRepo(ctx context.Context) bool {
	_, err := r.run(ctx, nil, "rev-parse", "--git-dir")
	return err == nil
}

// classify maps git stderr text onto the error taxonomy.
func classify(msg string, err error) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "authentication failed"),
		strings.Contains(lower, "invalid username or password"),
		strings.Contains(lower, "403"),
		strings.Contains(lower, "401"),
		strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "access denied"):
		return domain.E(domain.KindGitAuthFailed, "remote rejected credentials", err)
	case strings.Contains(lower, "non-fast-forward"),
		strings.Contains(lower, "fetch first"),
		strings.Contains(lower, "rejected"):
		return domain.E(domain.KindGitConflict, "remote has newer commits", err)
	case strings.Contains(lower, "could not resolve host"),
		strings.Contains(lower, "connection"),
		strings.Contains(lower, "timed out"),
		strings.Contains(lower, "unable to access"),
		strings.Contains(lower, "early eof"),
		strings.Contains(lower, "network"):
		return domain.E(domain.KindGitNetwork, "remote unreachable", err)
	default:
		return domain.E(domain.KindInternal, "git operation failed", err)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

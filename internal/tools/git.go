package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/batalabs/knowd/internal/provider"
)

// gitReadOnly lists the git subcommands the agent may run. Anything that
// writes history or touches remotes stays with the service layer.
var gitReadOnly = map[string]bool{
	"status": true,
	"log":    true,
	"diff":   true,
	"show":   true,
	"branch": true,
	"remote": true,
}

func gitCommandTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "git_command",
			Description: "Run a read-only git command inside the knowledge base. Allowed subcommands: status, log, diff, show, branch, remote. Commits and pushes happen automatically after the run.",
			Properties: map[string]provider.ToolProp{
				"cmd": {Type: "string", Description: "Subcommand with arguments, e.g. 'log --oneline -5' or 'diff HEAD'"},
			},
			Required: []string{"cmd"},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			raw, err := strArg(input, "cmd")
			if err != nil {
				return "", err
			}
			args := strings.Fields(raw)
			if len(args) == 0 {
				return "", fmt.Errorf("cmd is empty")
			}
			if !gitReadOnly[args[0]] {
				return "", fmt.Errorf("git subcommand %q is not allowed (read-only: status, log, diff, show, branch, remote)", args[0])
			}
			for _, a := range args[1:] {
				// Flag injection like --output or --exec can write.
				if strings.HasPrefix(a, "--output") || strings.HasPrefix(a, "--exec") {
					return "", fmt.Errorf("argument %q is not allowed", a)
				}
			}

			full := append([]string{"-C", tc.Workdir, "-c", "core.pager=cat"}, args...)
			cmd := exec.CommandContext(tc.context(), "git", full...)
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			if err := cmd.Run(); err != nil {
				msg := strings.TrimSpace(stderr.String())
				if msg == "" {
					msg = strings.TrimSpace(stdout.String())
				}
				return "", fmt.Errorf("git %s: %s", args[0], msg)
			}
			out := strings.TrimSpace(stdout.String())
			if out == "" {
				out = "(no output)"
			}
			return truncate(out, maxReadBytes), nil
		},
	}
}

// ---------------------------------------------------------------------------
// github_api
// ---------------------------------------------------------------------------

// githubBaseURL is overridable in tests.
var githubBaseURL = "https://api.github.com"

func githubAPITool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "github_api",
			Description: "Call the GitHub REST API with the configured token. Use paths like '/repos/{owner}/{repo}/issues'. Returns the JSON response body.",
			Properties: map[string]provider.ToolProp{
				"method": {Type: "string", Description: "HTTP method (default: GET)", Enum: []string{"GET", "POST", "PATCH", "PUT", "DELETE"}},
				"path":   {Type: "string", Description: "API path starting with '/', e.g. '/user/repos'"},
				"body":   {Type: "string", Description: "JSON request body for POST/PATCH/PUT"},
			},
			Required: []string{"path"},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			path, err := strArg(input, "path")
			if err != nil {
				return "", err
			}
			if !strings.HasPrefix(path, "/") {
				return "", fmt.Errorf("path must start with '/'")
			}
			if tc.GitHubToken == "" {
				return "", fmt.Errorf("no GitHub token configured (set GITHUB_TOKEN or store a github_token credential)")
			}
			method := strings.ToUpper(optStrArg(input, "method"))
			if method == "" {
				method = http.MethodGet
			}
			switch method {
			case http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
			default:
				return "", fmt.Errorf("unsupported method: %s", method)
			}

			var body io.Reader
			if raw := optStrArg(input, "body"); raw != "" {
				if !json.Valid([]byte(raw)) {
					return "", fmt.Errorf("body is not valid JSON")
				}
				body = strings.NewReader(raw)
			}

			req, err := http.NewRequestWithContext(tc.context(), method, githubBaseURL+path, body)
			if err != nil {
				return "", fmt.Errorf("creating request: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+tc.GitHubToken)
			req.Header.Set("Accept", "application/vnd.github+json")
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			client := &http.Client{Timeout: tc.httpTimeout()}
			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("github request failed: %w", err)
			}
			defer resp.Body.Close()
			data, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
			if resp.StatusCode >= 400 {
				return "", fmt.Errorf("github API %s %s: HTTP %d: %s", method, path, resp.StatusCode, truncate(string(data), 500))
			}
			tc.logf("tool github_api %s %s -> %d", method, path, resp.StatusCode)
			return fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, truncate(string(data), maxReadBytes)), nil
		},
	}
}

func (tc *ToolContext) httpTimeout() time.Duration {
	if tc != nil && tc.HTTPTimeout > 0 {
		return tc.HTTPTimeout
	}
	return 30 * time.Second
}

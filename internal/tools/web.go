package tools

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"github.com/batalabs/knowd/internal/provider"
)

// ---------------------------------------------------------------------------
// web_search -- Brave Search API
// ---------------------------------------------------------------------------

// braveSearchURL is the base URL for the Brave Search API. Override in tests.
var braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

func webSearchTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "web_search",
			Description: "Search the web using the Brave Search API. Returns results with title, URL, and snippet. Use this to find current information beyond the knowledge base.",
			Properties: map[string]provider.ToolProp{
				"query": {Type: "string", Description: "Search query"},
				"count": {Type: "integer", Description: "Number of results to return (default: 5, max: 20)"},
			},
			Required: []string{"query"},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			query, err := strArg(input, "query")
			if err != nil {
				return "", err
			}
			count := intArg(input, "count", 5, 20)
			if tc.BraveAPIKey == "" {
				return "", fmt.Errorf("web search unavailable: no Brave API key configured")
			}

			req, err := http.NewRequestWithContext(tc.context(), http.MethodGet, braveSearchURL, nil)
			if err != nil {
				return "", fmt.Errorf("creating request: %w", err)
			}
			q := req.URL.Query()
			q.Set("q", query)
			q.Set("count", fmt.Sprintf("%d", count))
			req.URL.RawQuery = q.Encode()
			req.Header.Set("Accept", "application/json")
			req.Header.Set("X-Subscription-Token", tc.BraveAPIKey)

			client := &http.Client{Timeout: tc.httpTimeout()}
			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("search request failed: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("search API returned HTTP %d", resp.StatusCode)
			}

			var result struct {
				Web struct {
					Results []struct {
						Title       string `json:"title"`
						URL         string `json:"url"`
						Description string `json:"description"`
					} `json:"results"`
				} `json:"web"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				return "", fmt.Errorf("parsing search response: %w", err)
			}
			if len(result.Web.Results) == 0 {
				return "No results found.", nil
			}

			var b strings.Builder
			for i, r := range result.Web.Results {
				if i >= count {
					break
				}
				fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Description)
			}
			tc.logf("tool web_search %q -> %d results", query, len(result.Web.Results))
			return b.String(), nil
		},
	}
}

// ---------------------------------------------------------------------------
// web_fetch
// ---------------------------------------------------------------------------

const maxFetchBytes = 2 * 1024 * 1024

func webFetchTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "web_fetch",
			Description: "Fetch a web page and return its readable text content. HTML markup, scripts, and styles are stripped.",
			Properties: map[string]provider.ToolProp{
				"url": {Type: "string", Description: "Full URL to fetch, e.g. 'https://example.com/article'"},
			},
			Required: []string{"url"},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			rawURL, err := strArg(input, "url")
			if err != nil {
				return "", err
			}
			if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
				return "", fmt.Errorf("url must be http or https")
			}

			req, err := http.NewRequestWithContext(tc.context(), http.MethodGet, rawURL, nil)
			if err != nil {
				return "", fmt.Errorf("creating request: %w", err)
			}
			req.Header.Set("User-Agent", "knowd/1.0")

			client := &http.Client{Timeout: tc.httpTimeout()}
			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("fetch failed: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return "", fmt.Errorf("fetch returned HTTP %d", resp.StatusCode)
			}

			body := io.LimitReader(resp.Body, maxFetchBytes)
			ct := resp.Header.Get("Content-Type")
			if strings.Contains(ct, "text/html") || ct == "" {
				text, err := extractText(body)
				if err != nil {
					return "", fmt.Errorf("parsing page: %w", err)
				}
				tc.logf("tool web_fetch %s (%d chars)", rawURL, len(text))
				return truncate(text, maxReadBytes), nil
			}
			data, err := io.ReadAll(body)
			if err != nil {
				return "", fmt.Errorf("reading body: %w", err)
			}
			return truncate(string(data), maxReadBytes), nil
		},
	}
}

// extractText walks the HTML tree collecting visible text, skipping
// script, style, and markup-only nodes.
func extractText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "head", "iframe", "svg":
				return
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "article", "section":
				b.WriteString("\n")
			}
		case html.TextNode:
			text := strings.TrimSpace(n.Data)
			if text != "" {
				b.WriteString(text)
				b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	// Collapse blank-line runs.
	lines := strings.Split(b.String(), "\n")
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n"), nil
}

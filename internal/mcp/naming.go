package mcp

import "strings"

// Hub tools reach the agent under "mcp__<server>__<tool>" so a call can be
// routed back to the connection that owns it.
const toolPrefix = "mcp__"

// NamespacedName builds the agent-facing name for a server's tool. The
// server part is folded to lowercase alphanumerics and hyphens.
func NamespacedName(serverName, toolName string) string {
	return toolPrefix + sanitizeServer(serverName) + "__" + toolName
}

// ParseNamespacedName recovers the server and tool parts of a namespaced
// name. ok is false for anything that is not a well-formed namespaced name.
func ParseNamespacedName(name string) (server, tool string, ok bool) {
	rest, found := strings.CutPrefix(name, toolPrefix)
	if !found {
		return "", "", false
	}
	server, tool, found = strings.Cut(rest, "__")
	if !found || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// IsMCPTool reports whether name carries the namespace prefix.
func IsMCPTool(name string) bool {
	return strings.HasPrefix(name, toolPrefix)
}

func sanitizeServer(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, name)
}

package tools

import (
	"fmt"
	"strings"
	"sync"

	"github.com/batalabs/knowd/internal/provider"
)

// TodoList holds the advisory plan the agent announces during a run. It
// has no effect beyond logs and the status message.
type TodoList struct {
	mu    sync.Mutex
	items []string
}

// Set replaces the plan.
func (t *TodoList) Set(items []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = items
}

// Items returns a copy of the current plan.
func (t *TodoList) Items() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.items))
	copy(out, t.items)
	return out
}

func planTodoTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "plan_todo",
			Description: "Announce the plan for this run as a short list of steps. Advisory only; call again to replace the plan as it evolves.",
			Properties: map[string]provider.ToolProp{
				"items": {
					Type:        "array",
					Description: "Planned steps, in order",
					Items:       &provider.ToolProp{Type: "string"},
				},
			},
			Required: []string{"items"},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			raw, ok := input["items"].([]any)
			if !ok || len(raw) == 0 {
				return "", fmt.Errorf("items is required")
			}
			items := make([]string, 0, len(raw))
			for _, v := range raw {
				s, ok := v.(string)
				if !ok || strings.TrimSpace(s) == "" {
					continue
				}
				items = append(items, strings.TrimSpace(s))
			}
			if len(items) == 0 {
				return "", fmt.Errorf("items must contain non-empty strings")
			}
			if tc.Todos != nil {
				tc.Todos.Set(items)
			}
			tc.logf("tool plan_todo: %s", strings.Join(items, " | "))
			return fmt.Sprintf("Plan recorded (%d steps)", len(items)), nil
		},
	}
}

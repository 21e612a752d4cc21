package mcp

import (
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/batalabs/knowd/internal/provider"
)

// ToToolSpec maps an MCP tool definition onto the provider tool schema,
// namespacing its name by the server it came from. Input schemas arrive as
// generic JSON maps; anything else yields a spec without parameters.
func ToToolSpec(serverName string, tool *mcpsdk.Tool) provider.ToolSpec {
	spec := provider.ToolSpec{
		Name:        NamespacedName(serverName, tool.Name),
		Description: tool.Description,
	}
	if schema, ok := tool.InputSchema.(map[string]any); ok {
		spec.Properties = propsFrom(schema)
		spec.Required = requiredFrom(schema)
	}
	return spec
}

func propsFrom(schema map[string]any) map[string]provider.ToolProp {
	raw, _ := schema["properties"].(map[string]any)
	props := make(map[string]provider.ToolProp, len(raw))
	for name, v := range raw {
		if m, ok := v.(map[string]any); ok {
			props[name] = propFrom(m)
		}
	}
	return props
}

func requiredFrom(schema map[string]any) []string {
	list, _ := schema["required"].([]any)
	var required []string
	for _, v := range list {
		if s, ok := v.(string); ok {
			required = append(required, s)
		}
	}
	return required
}

// propFrom converts one JSON Schema property. Composite schemas without a
// plain type tag (oneOf and friends) are treated as objects.
func propFrom(m map[string]any) provider.ToolProp {
	tp := provider.ToolProp{Type: "object"}
	if t, ok := m["type"].(string); ok {
		tp.Type = t
	}
	if d, ok := m["description"].(string); ok {
		tp.Description = d
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			tp.Enum = append(tp.Enum, fmt.Sprint(e))
		}
	}

	switch tp.Type {
	case "array":
		if items, ok := m["items"].(map[string]any); ok {
			p := propFrom(items)
			tp.Items = &p
		}
	case "object":
		if _, ok := m["properties"]; ok {
			tp.Properties = propsFrom(m)
		}
		tp.Required = requiredFrom(m)
	}
	return tp
}

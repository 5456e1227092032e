package classifier

import (
	"fmt"
	"strings"

	"github.com/rendis/cortex/internal/catalog"
)

// BuildToolsContext renders the catalog into the context block the oracle
// receives alongside the query: one entry per tool with description,
// capabilities, parameters, and few-shot example prompts.
func BuildToolsContext(cat *catalog.Catalog) string {
	defs := cat.All()
	if len(defs) == 0 {
		return "No tools available"
	}

	var b strings.Builder
	for i, def := range defs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Tool: %s\n", def.Name)
		fmt.Fprintf(&b, "Description: %s\n", def.Description)
		fmt.Fprintf(&b, "Capabilities: %s\n", strings.Join(def.Capabilities, ", "))
		fmt.Fprintf(&b, "Parameters (Required): %s\n", joinOrNone(def.Parameters.Required))
		fmt.Fprintf(&b, "Parameters (Optional): %s\n", joinOrNone(def.Parameters.Optional))
		for _, ex := range def.Examples {
			fmt.Fprintf(&b, "Example: %q", ex.Prompt)
			if ex.Reasoning != "" {
				fmt.Fprintf(&b, " (%s)", ex.Reasoning)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}

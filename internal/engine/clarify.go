package engine

import (
	"fmt"
	"strings"

	"github.com/rendis/cortex/internal/catalog"
	"github.com/rendis/cortex/pkg/schema"
)

// maxClarifyOptions bounds how many candidates a clarification question lists.
const maxClarifyOptions = 3

// SynthesizeQuestion builds a deterministic clarification question from the
// classifier's candidates. Candidates that resolve in the catalog are offered
// by description; sentinels and unknown names are skipped.
func SynthesizeQuestion(candidates []schema.SelectedTool, cat *catalog.Catalog) string {
	var options []string
	for _, c := range candidates {
		if len(options) >= maxClarifyOptions {
			break
		}
		if c.Name.IsSentinel() {
			continue
		}
		def, err := cat.Lookup(c.Name)
		if err != nil {
			continue
		}
		options = append(options, fmt.Sprintf("- %s: %s", def.Name, def.Description))
	}

	if len(options) == 0 {
		return "I want to make sure I understand your request correctly. " +
			"Could you add a bit more detail about what you need?"
	}

	var b strings.Builder
	b.WriteString("I want to make sure I help with the right thing. Your request could relate to:\n")
	b.WriteString(strings.Join(options, "\n"))
	b.WriteString("\nCould you confirm which of these you need, or add more detail?")
	return b.String()
}

// MergeClarification combines the original ambiguous query with the user's
// follow-up answer so the classifier sees both.
func MergeClarification(pending, answer string) string {
	pending = strings.TrimSpace(pending)
	answer = strings.TrimSpace(answer)
	if pending == "" {
		return answer
	}
	if answer == "" {
		return pending
	}
	return fmt.Sprintf("%s (clarification: %s)", pending, answer)
}

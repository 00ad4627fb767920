package engine

import (
	"strings"

	"github.com/vkuzn/agentflow/internal/model"
)

// Route resolves a produced outcome label against a task's condition map.
// Matching is exact and case-sensitive. A missing label yields a
// *RoutingError; an empty mapped list is a valid result and, for loop
// tasks, terminates the loop.
func Route(task *model.Task, label string) ([]string, error) {
	next, ok := task.Condition[label]
	if !ok {
		return nil, &RoutingError{Task: task.Name, Label: label}
	}
	return next, nil
}

// outcomeLabel extracts the routing label from an agent output. A
// structured label wins; otherwise the raw text is used with surrounding
// whitespace stripped. Matching against the condition map stays exact and
// case-sensitive; an empty label simply fails to match any key and
// surfaces as a RoutingError.
func outcomeLabel(out model.AgentOutput) string {
	if out.Label != "" {
		return out.Label
	}
	return strings.TrimSpace(out.Raw)
}

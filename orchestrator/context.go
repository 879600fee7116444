package orchestrator

import (
	"fmt"
	"strings"

	"loom/db"
	"loom/providers"
)

const (
	historyWindow       = 5
	similarWindow       = 3
	contextSnippetLimit = 300
)

const traceInstruction = `You are an autonomous agent. Work the objective below as a short ordered trace.
Respond with ONLY a JSON array of steps. Each step is an object with:
  "thought": your rationale for this step (string, required)
  "action": {"skill": "<capability name>", "args": {...}} to invoke a capability (optional)
  "final_answer": the concluding answer once no further action is needed (optional)
To register a new capability, use the action skill "create_skill" with args
{"name", "description", "kind", "endpoint"}. The last step should carry a final_answer.`

// buildMessages assembles the bounded context bundle for the reasoning call:
// the selected task, the full plan, a window of recent history, similar
// experiences, and the capabilities currently available.
func buildMessages(objective, input string, task *db.Task, plan *db.Plan,
	history []*db.Execution, similar []*db.Experience, capabilities []string) []providers.Message {

	var b strings.Builder

	b.WriteString("Objective: " + objective + "\n")
	if input != "" {
		b.WriteString("Input: " + snippet(input) + "\n")
	}

	if task != nil {
		fmt.Fprintf(&b, "\nCurrent task (%s priority): %s\n", task.Priority, task.Description)
	}

	if plan != nil && len(plan.Tasks) > 0 {
		b.WriteString("\nPlan \"" + plan.Title + "\":\n")
		for _, t := range plan.Tasks {
			fmt.Fprintf(&b, "  %d. [%s] %s\n", t.Position, t.Status, snippet(t.Description))
		}
	}

	if len(history) > 0 {
		b.WriteString("\nRecent executions:\n")
		for i, e := range history {
			if i >= historyWindow {
				break
			}
			fmt.Fprintf(&b, "  - (%s) %s", e.Status, snippet(e.Objective))
			if e.Output != "" {
				b.WriteString(" -> " + snippet(e.Output))
			}
			b.WriteString("\n")
		}
	}

	if len(similar) > 0 {
		b.WriteString("\nRelevant past experiences:\n")
		for i, exp := range similar {
			if i >= similarWindow {
				break
			}
			fmt.Fprintf(&b, "  - [%s] %s\n", exp.Type, snippet(exp.Inputs))
		}
	}

	if len(capabilities) > 0 {
		b.WriteString("\nAvailable capabilities: " + strings.Join(capabilities, ", ") + "\n")
	}

	return []providers.Message{
		{Role: "system", Content: traceInstruction},
		{Role: "user", Content: b.String()},
	}
}

func snippet(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if len(s) > contextSnippetLimit {
		return s[:contextSnippetLimit] + "..."
	}
	return s
}

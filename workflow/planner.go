package workflow

import "strings"

// Step is one planned unit of work: a required capability tag, the arguments
// to pass to whichever admitted tool is selected for it, and an optional
// post-condition substring the step's output must contain.
type Step struct {
	Tag    string
	Args   map[string]any
	Expect string
}

// Planner turns a task description into an ordered plan. Implementations must
// be deterministic for the same input so resumed sessions re-derive the same
// plan.
type Planner interface {
	Plan(task string) []Step
}

type rule struct {
	tag      string
	keywords []string
}

// RulePlanner maps task keywords onto capability tags. Rules are evaluated in
// order and each tag contributes at most one step.
type RulePlanner struct {
	rules []rule
}

// NewRulePlanner returns a planner with the default keyword table.
func NewRulePlanner() *RulePlanner {
	return &RulePlanner{
		rules: []rule{
			{tag: "notification", keywords: []string{"slack", "notify", "notification", "alert", "remind"}},
			{tag: "http", keywords: []string{"fetch", "http", "download", "crawl", "url", "webhook"}},
			{tag: "search", keywords: []string{"search", "find", "lookup"}},
			{tag: "data", keywords: []string{"parse", "convert", "transform", "extract"}},
			{tag: "report", keywords: []string{"summarize", "summary", "report", "analyze"}},
		},
	}
}

// Plan derives the ordered steps for a task. A task matching no rule yields a
// single step with the catch-all "general" tag.
func (p *RulePlanner) Plan(task string) []Step {
	lower := strings.ToLower(task)

	var steps []Step
	for _, r := range p.rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				steps = append(steps, Step{Tag: r.tag, Args: map[string]any{"task": task}})
				break
			}
		}
	}

	if len(steps) == 0 {
		steps = append(steps, Step{Tag: "general", Args: map[string]any{"task": task}})
	}
	return steps
}

var _ Planner = (*RulePlanner)(nil)

package content

import "fmt"

// ToolChoiceMode controls how a model is permitted to use the tools attached
// to a request.
type ToolChoiceMode string

const (
	// ToolChoiceNone disables tool use for the request.
	ToolChoiceNone ToolChoiceMode = "none"

	// ToolChoiceAuto lets the model decide whether to call a tool.
	ToolChoiceAuto ToolChoiceMode = "auto"

	// ToolChoiceRequired forces the model to call some tool.
	ToolChoiceRequired ToolChoiceMode = "required"

	// ToolChoiceSpecific forces the model to call the tool named in
	// ToolChoice.Name.
	ToolChoiceSpecific ToolChoiceMode = "specific"

	// ToolChoiceImplicit lets the provider adapter pick a mode appropriate
	// for the surrounding JSON-mode/tool configuration (used by the Json
	// function path when output is expressed as a synthetic tool call).
	ToolChoiceImplicit ToolChoiceMode = "implicit"
)

type (
	// ToolFunction describes a single callable tool exposed to the model.
	ToolFunction struct {
		Name        string
		Description string

		// Parameters is a JSON Schema object (draft 7+) describing the tool's
		// input, typically a map[string]any. Provider adapters marshal this
		// directly into their native tool envelope.
		Parameters any
		Strict     bool
	}

	// ToolChoice selects how the model is allowed to use ToolConfig.Tools.
	ToolChoice struct {
		Mode ToolChoiceMode
		Name string
	}

	// ToolConfig bundles the tool list and selection policy for a request.
	ToolConfig struct {
		Tools []ToolFunction

		Choice ToolChoice

		// AllowedTools restricts Tools to this subset when non-empty. Tool
		// names not present in Tools are skipped by Allowed; Validate does
		// not check them.
		AllowedTools []string

		ParallelToolCalls bool
	}
)

// Validate enforces the invariant that ToolChoiceSpecific must name a tool
// present in Tools.
func (c ToolConfig) Validate() error {
	if c.Choice.Mode != ToolChoiceSpecific {
		return nil
	}
	for _, t := range c.Tools {
		if t.Name == c.Choice.Name {
			return nil
		}
	}
	return fmt.Errorf("content: tool_choice names %q which is not in the tool list", c.Choice.Name)
}

// Allowed returns the subset of Tools permitted by AllowedTools. When
// AllowedTools is empty, every configured tool is allowed.
func (c ToolConfig) Allowed() []ToolFunction {
	if len(c.AllowedTools) == 0 {
		return c.Tools
	}
	allow := make(map[string]struct{}, len(c.AllowedTools))
	for _, n := range c.AllowedTools {
		allow[n] = struct{}{}
	}
	out := make([]ToolFunction, 0, len(c.Tools))
	for _, t := range c.Tools {
		if _, ok := allow[t.Name]; ok {
			out = append(out, t)
		}
	}
	return out
}

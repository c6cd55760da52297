// Package template renders named, schema-validated templates over
// structured JSON arguments into final text messages. Templates use Go's
// text/template engine rather than a third-party Jinja implementation; no
// Jinja engine appears anywhere in the retrieved example corpus, and the
// teacher repo itself reaches for text/template for exactly this kind of
// prompt rendering (runtime/agent/runtime/{hints,tool_result_reminders,
// confirmation_workflow,agent_tools}.go), so this follows the pack's own
// idiom rather than inventing one.
package template

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tensorzero/inference-core/inference/ierrors"
)

// Reserved template names that drive the best-of-n / mixture-of-n variants,
// per spec.md §4.5.
const (
	BestOfNEvaluatorSystem     = "t0:best_of_n_evaluator_system"
	BestOfNEvaluatorCandidates = "t0:best_of_n_evaluator_candidates"
	MixtureOfNFuserSystem      = "t0:mixture_of_n_fuser_system"
	MixtureOfNFuserCandidates  = "t0:mixture_of_n_fuser_candidates"
)

// Def is one registered template: its body text and an optional compiled
// JSON Schema validating the arguments object passed to Render.
type Def struct {
	Name   string
	Body   string
	Schema *jsonschema.Schema
}

// Renderer holds the compiled template set for a loaded config. It is
// read-only after construction and safe for concurrent use, matching the
// "config is read-only after load" guarantee in spec.md §5.
type Renderer struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	schemas   map[string]*jsonschema.Schema
}

// NewRenderer compiles every definition in defs. A definition whose Body
// fails to parse as a text/template is a configuration error and aborts
// construction entirely: a bad template should never be discovered lazily
// mid-request. A Def's Schema arrives already compiled.
func NewRenderer(defs []Def) (*Renderer, error) {
	r := &Renderer{
		templates: make(map[string]*template.Template, len(defs)),
		schemas:   make(map[string]*jsonschema.Schema, len(defs)),
	}
	for _, d := range defs {
		t, err := template.New(d.Name).Option("missingkey=error").Parse(d.Body)
		if err != nil {
			return nil, fmt.Errorf("template: compile %q: %w", d.Name, err)
		}
		r.templates[d.Name] = t
		if d.Schema != nil {
			r.schemas[d.Name] = d.Schema
		}
	}
	return r, nil
}

// Render validates args against the named template's schema (if any) and
// renders the template body against args.
func (r *Renderer) Render(name string, args map[string]any) (string, error) {
	r.mu.RLock()
	t, ok := r.templates[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return "", ierrors.New(ierrors.KindTemplateRender, fmt.Sprintf("unknown template %q", name))
	}

	if schema != nil {
		if err := schema.Validate(toValidatable(args)); err != nil {
			return "", ierrors.Wrap(ierrors.KindJSONSchemaValidation, err, fmt.Sprintf("template %q arguments failed schema validation", name))
		}
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, args); err != nil {
		return "", ierrors.Wrap(ierrors.KindTemplateRender, err, fmt.Sprintf("render template %q", name))
	}
	return buf.String(), nil
}

// toValidatable converts a map[string]any into the any-typed document shape
// jsonschema/v6 expects (it validates against decoded JSON values, and
// map[string]any already satisfies that for object-shaped arguments).
func toValidatable(args map[string]any) any {
	return map[string]any(args)
}

// CompileSchema compiles a decoded JSON Schema document (e.g. the output of
// json.Unmarshal into an any) for use as a Def.Schema.
func CompileSchema(name string, schemaDoc any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	resource := name + "#schema"
	if err := c.AddResource(resource, schemaDoc); err != nil {
		return nil, fmt.Errorf("template: add schema resource for %q: %w", name, err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("template: compile schema for %q: %w", name, err)
	}
	return schema, nil
}

package template_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/inference-core/inference/template"
)

func TestNewRenderer_RejectsBadTemplateSyntax(t *testing.T) {
	_, err := template.NewRenderer([]template.Def{
		{Name: "broken", Body: "{{ .Unterminated"},
	})
	require.Error(t, err)
}

func TestRender_SubstitutesArguments(t *testing.T) {
	r, err := template.NewRenderer([]template.Def{
		{Name: "greeting", Body: "hello {{ .name }}"},
	})
	require.NoError(t, err)

	out, err := r.Render("greeting", map[string]any{"name": "world"})
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
}

func TestRender_UnknownTemplateErrors(t *testing.T) {
	r, err := template.NewRenderer(nil)
	require.NoError(t, err)

	_, err = r.Render("missing", map[string]any{})
	require.Error(t, err)
}

func TestRender_MissingKeyErrors(t *testing.T) {
	r, err := template.NewRenderer([]template.Def{
		{Name: "greeting", Body: "hello {{ .name }}"},
	})
	require.NoError(t, err)

	_, err = r.Render("greeting", map[string]any{})
	require.Error(t, err, "missingkey=error should reject an args map lacking a referenced key")
}

func TestRender_ValidatesArgumentsAgainstSchema(t *testing.T) {
	schemaDoc := map[string]any{
		"type":                 "object",
		"required":             []any{"name"},
		"additionalProperties": false,
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	}
	schema, err := template.CompileSchema("greeting", schemaDoc)
	require.NoError(t, err)

	r, err := template.NewRenderer([]template.Def{
		{Name: "greeting", Body: "hello {{ .name }}", Schema: schema},
	})
	require.NoError(t, err)

	_, err = r.Render("greeting", map[string]any{"age": 5})
	require.Error(t, err, "arguments missing the required \"name\" property should fail schema validation")

	out, err := r.Render("greeting", map[string]any{"name": "ada"})
	require.NoError(t, err)
	require.Equal(t, "hello ada", out)
}

func TestCompileSchema_RejectsInvalidSchemaDocument(t *testing.T) {
	_, err := template.CompileSchema("bad", map[string]any{"type": "not-a-real-type"})
	require.Error(t, err)
}

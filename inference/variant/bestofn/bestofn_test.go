package bestofn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/ierrors"
	"github.com/tensorzero/inference-core/inference/provider/dummy"
	"github.com/tensorzero/inference-core/inference/provider/registry"
	"github.com/tensorzero/inference-core/inference/router"
	"github.com/tensorzero/inference-core/inference/template"
	"github.com/tensorzero/inference-core/inference/variant"
	"github.com/tensorzero/inference-core/inference/variant/bestofn"
	"github.com/tensorzero/inference-core/inference/variant/chat"
)

// stubResolver resolves every candidate name to a chat variant over the
// dummy model of the same name, mirroring how dispatch's variantRegistry
// resolves best-of-n/mixture-of-n siblings by name.
type stubResolver struct {
	deps variant.Deps
}

func (r *stubResolver) Variant(_ string, variantName string) (variant.Variant, error) {
	return chat.New(variantName, config.ChatCompletionParams{Model: "dummy::" + variantName}, r.deps), nil
}

func testDeps(t *testing.T, behaviors map[string]string) (variant.Deps, *stubResolver) {
	t.Helper()

	dummyBehaviors := registry.DummyBehaviors{}
	for name, text := range behaviors {
		dummyBehaviors[name] = dummy.Behavior{Text: text}
	}
	reg := registry.New(dummyBehaviors)

	renderer, err := template.NewRenderer([]template.Def{
		{Name: template.BestOfNEvaluatorSystem, Body: "choose the best"},
		{Name: template.BestOfNEvaluatorCandidates, Body: "{{range .candidates}}{{.}}\n{{end}}"},
	})
	require.NoError(t, err)

	deps := variant.Deps{
		Models:    config.NewModelTable(map[string]config.ModelConfig{}),
		Router:    router.New(reg),
		Templates: renderer,
	}
	return deps, &stubResolver{deps: deps}
}

func req() *variant.Request {
	return &variant.Request{
		FunctionName: "f",
		Messages: []content.Message{
			{Role: content.RoleUser, Parts: []content.Part{content.TextPart{Text: "hi"}}},
		},
	}
}

func TestInfer_PicksEvaluatorChoice(t *testing.T) {
	deps, resolver := testDeps(t, map[string]string{
		"a":         "candidate A",
		"b":         "candidate B",
		"evaluator": `{"answer_choice":1}`,
	})
	v := bestofn.New("bon", "f", config.BestOfNParams{
		Candidates:     []config.CandidateVariant{{Name: "a"}, {Name: "b"}},
		EvaluatorModel: "dummy::evaluator",
	}, deps, resolver)

	res, err := v.Infer(context.Background(), req())
	require.NoError(t, err)
	require.Equal(t, "best_of_n:b", res.ProviderName)
	// Two candidates plus the evaluator call itself.
	require.Len(t, res.ModelInferenceResults, 3)
}

func TestInfer_EvaluatorFailureFallsBackToRandomCandidate(t *testing.T) {
	deps, resolver := testDeps(t, map[string]string{
		"a": "candidate A",
		"b": "candidate B",
		// No "evaluator" behavior configured: the evaluator call itself fails.
	})
	v := bestofn.New("bon", "f", config.BestOfNParams{
		Candidates:     []config.CandidateVariant{{Name: "a"}, {Name: "b"}},
		EvaluatorModel: "dummy::evaluator",
	}, deps, resolver)

	res, err := v.Infer(context.Background(), req())
	require.NoError(t, err, "a judge failure must not fail the whole variant")
	require.Contains(t, []string{"best_of_n:a", "best_of_n:b"}, res.ProviderName)
	// No evaluator ModelInferenceResult since that call never succeeded.
	require.Len(t, res.ModelInferenceResults, 2)
}

func TestInfer_AllCandidatesFailReturnsAllVariantsFailed(t *testing.T) {
	deps, resolver := testDeps(t, map[string]string{})
	v := bestofn.New("bon", "f", config.BestOfNParams{
		Candidates:     []config.CandidateVariant{{Name: "a"}, {Name: "b"}},
		EvaluatorModel: "dummy::evaluator",
	}, deps, resolver)

	_, err := v.Infer(context.Background(), req())
	require.Error(t, err)
	var allFailed *ierrors.AllVariantsFailed
	require.ErrorAs(t, err, &allFailed)
	require.Len(t, allFailed.Errors, 2)
}

func TestInferStream_Unsupported(t *testing.T) {
	deps, resolver := testDeps(t, map[string]string{"a": "x", "evaluator": `{"answer_choice":0}`})
	v := bestofn.New("bon", "f", config.BestOfNParams{
		Candidates:     []config.CandidateVariant{{Name: "a"}},
		EvaluatorModel: "dummy::evaluator",
	}, deps, resolver)

	_, err := v.InferStream(context.Background(), req())
	require.Error(t, err)
}

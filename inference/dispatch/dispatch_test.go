package dispatch_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/dispatch"
	"github.com/tensorzero/inference-core/inference/provider/dummy"
	"github.com/tensorzero/inference-core/inference/provider/registry"
	"github.com/tensorzero/inference-core/inference/router"
	"github.com/tensorzero/inference-core/inference/variant"
)

func newDispatcher(t *testing.T, functions map[string]config.FunctionConfig, behaviors map[string]string) *dispatch.Dispatcher {
	t.Helper()
	dummyBehaviors := registry.DummyBehaviors{}
	for name, text := range behaviors {
		dummyBehaviors[name] = dummy.Behavior{Text: text}
	}
	reg := registry.New(dummyBehaviors)
	deps := variant.Deps{
		Models: config.NewModelTable(map[string]config.ModelConfig{}),
		Router: router.New(reg),
	}
	return dispatch.New(functions, deps, nil, nil, nil)
}

func weight(f float64) *float64 { return &f }

func chatFunction(variants map[string]config.VariantConfig) config.FunctionConfig {
	return config.FunctionConfig{Name: "f", Kind: config.FunctionChat, Variants: variants}
}

func baseRequest() *dispatch.Request {
	return &dispatch.Request{
		FunctionName: "f",
		Messages: []content.Message{
			{Role: content.RoleUser, Parts: []content.Part{content.TextPart{Text: "hi"}}},
		},
	}
}

func TestInfer_ModelNameRequestSynthesizesDefaultFunction(t *testing.T) {
	d := newDispatcher(t, nil, map[string]string{"good": "hello"})
	req := &dispatch.Request{
		ModelName: "dummy::good",
		Messages: []content.Message{
			{Role: content.RoleUser, Parts: []content.Part{content.TextPart{Text: "hi"}}},
		},
	}
	resp, err := d.Infer(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, dispatch.DefaultFunctionName, resp.FunctionName)
	require.Len(t, resp.ModelInferenceResults, 1)
}

func TestInfer_FunctionNameAndModelNameIsInvalid(t *testing.T) {
	d := newDispatcher(t, nil, nil)
	req := baseRequest()
	req.ModelName = "dummy::good"
	_, err := d.Infer(context.Background(), req)
	require.Error(t, err)
}

func TestInfer_UnknownFunctionErrors(t *testing.T) {
	d := newDispatcher(t, nil, nil)
	_, err := d.Infer(context.Background(), baseRequest())
	require.Error(t, err)
}

func TestInfer_FallsBackToNextVariantOnFailure(t *testing.T) {
	functions := map[string]config.FunctionConfig{
		"f": chatFunction(map[string]config.VariantConfig{
			"broken": {Name: "broken", Kind: config.VariantChatCompletion, Weight: weight(1), Chat: &config.ChatCompletionParams{Model: "dummy::missing"}},
			"good":   {Name: "good", Kind: config.VariantChatCompletion, Weight: weight(1), Chat: &config.ChatCompletionParams{Model: "dummy::good"}},
		}),
	}
	d := newDispatcher(t, functions, map[string]string{"good": "it worked"})

	resp, err := d.Infer(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Equal(t, "good", resp.VariantName)
}

func TestInfer_AllVariantsFailReturnsAllVariantsFailed(t *testing.T) {
	functions := map[string]config.FunctionConfig{
		"f": chatFunction(map[string]config.VariantConfig{
			"broken": {Name: "broken", Kind: config.VariantChatCompletion, Weight: weight(1), Chat: &config.ChatCompletionParams{Model: "dummy::missing"}},
		}),
	}
	d := newDispatcher(t, functions, nil)

	_, err := d.Infer(context.Background(), baseRequest())
	require.Error(t, err)
}

func TestInfer_PinnedVariantBypassesWeightedSelection(t *testing.T) {
	functions := map[string]config.FunctionConfig{
		"f": chatFunction(map[string]config.VariantConfig{
			"rare": {Name: "rare", Kind: config.VariantChatCompletion, Weight: nil, Chat: &config.ChatCompletionParams{Model: "dummy::good"}},
			"common": {Name: "common", Kind: config.VariantChatCompletion, Weight: weight(1000), Chat: &config.ChatCompletionParams{Model: "dummy::good"}},
		}),
	}
	d := newDispatcher(t, functions, map[string]string{"good": "it worked"})

	req := baseRequest()
	req.VariantName = "rare"
	resp, err := d.Infer(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "rare", resp.VariantName, "a pin must be selectable even with a nil (unweighted) Weight")
}

func TestInfer_UnknownPinnedVariantErrors(t *testing.T) {
	functions := map[string]config.FunctionConfig{
		"f": chatFunction(map[string]config.VariantConfig{
			"good": {Name: "good", Kind: config.VariantChatCompletion, Weight: weight(1), Chat: &config.ChatCompletionParams{Model: "dummy::good"}},
		}),
	}
	d := newDispatcher(t, functions, map[string]string{"good": "it worked"})

	req := baseRequest()
	req.VariantName = "nonexistent"
	_, err := d.Infer(context.Background(), req)
	require.Error(t, err)
}

func TestInfer_WeightedSelectionIsStablePerEpisode(t *testing.T) {
	functions := map[string]config.FunctionConfig{
		"f": chatFunction(map[string]config.VariantConfig{
			"a": {Name: "a", Kind: config.VariantChatCompletion, Weight: weight(1), Chat: &config.ChatCompletionParams{Model: "dummy::a"}},
			"b": {Name: "b", Kind: config.VariantChatCompletion, Weight: weight(1), Chat: &config.ChatCompletionParams{Model: "dummy::b"}},
		}),
	}
	d := newDispatcher(t, functions, map[string]string{"a": "from a", "b": "from b"})

	episodeID, err := uuid.NewV7()
	require.NoError(t, err)

	req := baseRequest()
	req.EpisodeID = episodeID.String()

	first, err := d.Infer(context.Background(), req)
	require.NoError(t, err)

	req2 := baseRequest()
	req2.EpisodeID = episodeID.String()
	second, err := d.Infer(context.Background(), req2)
	require.NoError(t, err)

	require.Equal(t, first.VariantName, second.VariantName, "same episode must deterministically pick the same variant")
}

func TestInfer_RejectsReservedTagPrefix(t *testing.T) {
	functions := map[string]config.FunctionConfig{
		"f": chatFunction(map[string]config.VariantConfig{
			"good": {Name: "good", Kind: config.VariantChatCompletion, Weight: weight(1), Chat: &config.ChatCompletionParams{Model: "dummy::good"}},
		}),
	}
	d := newDispatcher(t, functions, map[string]string{"good": "ok"})

	req := baseRequest()
	req.Tags = map[string]string{"tensorzero::internal": "x"}
	_, err := d.Infer(context.Background(), req)
	require.Error(t, err)
}

func TestInfer_MalformedEpisodeIDRejected(t *testing.T) {
	functions := map[string]config.FunctionConfig{
		"f": chatFunction(map[string]config.VariantConfig{
			"good": {Name: "good", Kind: config.VariantChatCompletion, Weight: weight(1), Chat: &config.ChatCompletionParams{Model: "dummy::good"}},
		}),
	}
	d := newDispatcher(t, functions, map[string]string{"good": "ok"})

	req := baseRequest()
	req.EpisodeID = "not-a-uuid"
	_, err := d.Infer(context.Background(), req)
	require.Error(t, err)
}

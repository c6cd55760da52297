package chat_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/provider/registry"
	"github.com/tensorzero/inference-core/inference/router"
	"github.com/tensorzero/inference-core/inference/variant"
	"github.com/tensorzero/inference-core/inference/variant/chat"
)

func deps(t *testing.T) variant.Deps {
	t.Helper()
	reg := registry.New(registry.DummyBehaviors{
		"good": {Text: "hello there"},
	})
	return variant.Deps{
		Models: config.NewModelTable(map[string]config.ModelConfig{}),
		Router: router.New(reg),
	}
}

func req() *variant.Request {
	return &variant.Request{
		FunctionName: "f",
		FunctionKind: config.FunctionChat,
		Messages: []content.Message{
			{Role: content.RoleUser, Parts: []content.Part{content.TextPart{Text: "hi"}}},
		},
	}
}

func TestInfer_PopulatesModelInferenceResults(t *testing.T) {
	v := chat.New("default", config.ChatCompletionParams{Model: "dummy::good"}, deps(t))

	res, err := v.Infer(context.Background(), req())
	require.NoError(t, err)
	require.Len(t, res.ModelInferenceResults, 1, "chat makes exactly one underlying provider call")
	require.Equal(t, "dummy::good", res.ModelInferenceResults[0].ModelName)
	require.Equal(t, res.Usage, res.ModelInferenceResults[0].Usage)
	require.Equal(t, "shorthand", res.ModelInferenceResults[0].ProviderName)
}

func TestInfer_PropagatesProviderFailure(t *testing.T) {
	v := chat.New("default", config.ChatCompletionParams{Model: "dummy::missing"}, deps(t))

	_, err := v.Infer(context.Background(), req())
	require.Error(t, err)
}

func TestInfer_UnknownModelErrors(t *testing.T) {
	v := chat.New("default", config.ChatCompletionParams{Model: "not-a-shorthand"}, deps(t))

	_, err := v.Infer(context.Background(), req())
	require.Error(t, err)
}

func TestInferStream_ReturnsDummyChunks(t *testing.T) {
	v := chat.New("default", config.ChatCompletionParams{Model: "dummy::good"}, deps(t))

	st, err := v.InferStream(context.Background(), req())
	require.NoError(t, err)
	defer st.Close()

	var gotText string
	for {
		c, err := st.Recv()
		if err != nil {
			break
		}
		gotText += c.Text
	}
	require.Contains(t, gotText, "hello")
}

package dicl_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/variant"
	"github.com/tensorzero/inference-core/inference/variant/dicl"
)

func TestInfer_UnknownModelErrorsBeforeTouchingStore(t *testing.T) {
	deps := variant.Deps{Models: config.NewModelTable(map[string]config.ModelConfig{})}
	// store/embedder are left nil: an unknown model must fail before either
	// is ever dereferenced.
	v := dicl.New("dicl", config.DICLParams{Model: "not-a-shorthand", EmbeddingModel: "also-not-a-shorthand", K: 3}, deps, nil, nil)

	req := &variant.Request{
		Messages: []content.Message{
			{Role: content.RoleUser, Parts: []content.Part{content.TextPart{Text: "hi"}}},
		},
	}
	_, err := v.Infer(context.Background(), req)
	require.Error(t, err)
}

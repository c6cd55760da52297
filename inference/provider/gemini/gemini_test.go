package gemini_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/inference-core/inference/provider/gemini"
)

func TestNew_BuildsAdapterAgainstOpenAICompatibleEndpoint(t *testing.T) {
	adapter, err := gemini.New(gemini.Options{
		DefaultModel: "gemini-2.5-pro",
		Endpoint:     "https://us-central1-aiplatform.googleapis.com/v1beta1/publishers/google/models",
		APIKey:       "test-token",
	})
	require.NoError(t, err)
	require.NotNil(t, adapter)
}

func TestNew_RequiresDefaultModel(t *testing.T) {
	_, err := gemini.New(gemini.Options{APIKey: "test-token"})
	require.Error(t, err)
}

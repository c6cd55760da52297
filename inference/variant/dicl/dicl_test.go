package dicl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/variant"
)

func TestCurrentInputText_UsesLastUserMessage(t *testing.T) {
	v := &Variant{}
	req := &variant.Request{
		Messages: []content.Message{
			{Role: content.RoleUser, Parts: []content.Part{content.TextPart{Text: "first question"}}},
			{Role: content.RoleAssistant, Parts: []content.Part{content.TextPart{Text: "an answer"}}},
			{Role: content.RoleUser, Parts: []content.Part{content.TextPart{Text: "second question"}}},
		},
	}
	require.Equal(t, "second question", v.currentInputText(req))
}

func TestCurrentInputText_NoUserMessageReturnsEmpty(t *testing.T) {
	v := &Variant{}
	req := &variant.Request{
		Messages: []content.Message{
			{Role: content.RoleAssistant, Parts: []content.Part{content.TextPart{Text: "an answer"}}},
		},
	}
	require.Equal(t, "", v.currentInputText(req))
}

package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/chat"
)

func TestHeuristicTokenizer(t *testing.T) {
	tok := NewHeuristicTokenizer()
	assert.False(t, tok.IsPrecise())
	assert.Zero(t, tok.CountText(""))
	assert.Positive(t, tok.CountText("Hello world"))
	assert.Greater(t, tok.CountText("안녕하세요"), tok.CountText("hello"))
	assert.Positive(t, tok.Count([]chat.Message{{Role: chat.RoleUser, Content: "hi"}}))
}

func TestModelToEncoding(t *testing.T) {
	tests := []struct {
		model    string
		expected string
	}{
		{"openai/gpt-4o", "o200k_base"},
		{"openai/gpt-4o-mini", "o200k_base"},
		{"openai/gpt-5-chat", "o200k_base"},
		{"o3-mini", "o200k_base"},
		{"google/gemini-2.5-flash", "cl100k_base"},
		{"", "cl100k_base"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, modelToEncoding(tt.model), tt.model)
	}
}

func TestValidate(t *testing.T) {
	v := NewValidator(NewHeuristicTokenizer(), 50)

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"ok chat", Request{Kind: chat.KindChat, SessionKind: chat.KindChat, Prompt: "hi", Model: chat.DefaultChatModel}, ""},
		{"ok image", Request{Kind: chat.KindImage, SessionKind: chat.KindImage, Prompt: "a cat", AspectRatio: "9:16"}, ""},
		{"custom model", Request{Kind: chat.KindChat, SessionKind: chat.KindChat, Prompt: "hi", Model: "acme/llm"}, ""},
		{"empty", Request{Kind: chat.KindChat, SessionKind: chat.KindChat, Prompt: "  \n"}, "prompt"},
		{"too long", Request{Kind: chat.KindChat, SessionKind: chat.KindChat, Prompt: strings.Repeat("word ", 200)}, "prompt"},
		{"wrong model kind", Request{Kind: chat.KindChat, SessionKind: chat.KindChat, Prompt: "hi", Model: chat.DefaultImageModel}, "model"},
		{"bad ratio", Request{Kind: chat.KindImage, SessionKind: chat.KindImage, Prompt: "x", AspectRatio: "2:1"}, "aspect_ratio"},
		{"mismatch", Request{Kind: chat.KindChat, SessionKind: chat.KindImage, Prompt: "hi"}, "session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.req)
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			var ve *chat.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.ErrorIs(t, v.Validate(Request{Kind: chat.KindChat, SessionKind: chat.KindImage, Prompt: "x"}), chat.ErrKindMismatch)
}

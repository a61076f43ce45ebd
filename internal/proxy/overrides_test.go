package proxy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestResolveOverrides(t *testing.T) {
	defaults := Overrides{Enabled: true, TopK: 2, SystemPrompt: "default"}

	tests := []struct {
		name    string
		inline  *inlineRAG
		headers map[string]string
		want    Overrides
	}{
		{name: "defaults", want: defaults},
		{
			name:   "inline",
			inline: &inlineRAG{Enabled: ptr(false), TopK: ptr(7), SystemPrompt: ptr("inline"), FileContains: ptr("notes")},
			want:   Overrides{Enabled: false, TopK: 7, SystemPrompt: "inline", FileContains: "notes"},
		},
		{
			name:   "inline top_k clamped",
			inline: &inlineRAG{TopK: ptr(0)},
			want:   Overrides{Enabled: true, TopK: 1, SystemPrompt: "default"},
		},
		{
			name:    "headers win over inline",
			inline:  &inlineRAG{TopK: ptr(7), FileContains: ptr("notes")},
			headers: map[string]string{HeaderTopK: "3", HeaderFileContains: "specs"},
			want:    Overrides{Enabled: true, TopK: 3, SystemPrompt: "default", FileContains: "specs"},
		},
		{
			name:    "header top_k clamped high",
			headers: map[string]string{HeaderTopK: "500"},
			want:    Overrides{Enabled: true, TopK: 50, SystemPrompt: "default"},
		},
		{
			name:    "header top_k clamped low",
			headers: map[string]string{HeaderTopK: "-4"},
			want:    Overrides{Enabled: true, TopK: 1, SystemPrompt: "default"},
		},
		{
			name:    "non-numeric top_k ignored",
			headers: map[string]string{HeaderTopK: "many"},
			want:    defaults,
		},
		{
			name:    "header re-enables",
			inline:  &inlineRAG{Enabled: ptr(false)},
			headers: map[string]string{HeaderEnabled: "yes"},
			want:    defaults,
		},
		{
			name:    "header disables",
			headers: map[string]string{HeaderEnabled: " OFF "},
			want:    Overrides{Enabled: false, TopK: 2, SystemPrompt: "default"},
		},
		{
			name:    "header system prompt",
			headers: map[string]string{HeaderSystemPrompt: "be brief"},
			want:    Overrides{Enabled: true, TopK: 2, SystemPrompt: "be brief"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, ResolveOverrides(defaults, tt.inline, h))
		})
	}
}

func TestValidateBody(t *testing.T) {
	assert.NoError(t, validateBody(chatSchema, []byte(`{"messages":[{"role":"user","content":"q"}],"rag":null}`)))
	assert.ErrorIs(t, validateBody(chatSchema, []byte(`{"messages":[]`)), ErrInvalidBody)
	assert.ErrorIs(t, validateBody(completionSchema, []byte(`{"prompt":42}`)), ErrInvalidBody)
	assert.NoError(t, validateBody(completionSchema, []byte(`{"prompt":["a","b"]}`)))
	assert.NoError(t, validateBody(completionSchema, []byte(`{}`)))
}

package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "valid json unchanged",
			input: `{"text":"hello","page_number":2}`,
			want:  `{"text":"hello","page_number":2}`,
		},
		{
			name:  "missing opening quote on key",
			input: `{"text":"hello", file_name":"a.pdf"}`,
			want:  `{"text":"hello", "file_name":"a.pdf"}`,
		},
		{
			name:  "missing quote on first key",
			input: `{text":"hello"}`,
			want:  `{"text":"hello"}`,
		},
		{
			name:  "trailing comma",
			input: `{"text":"hello","score":0.5,}`,
			want:  `{"text":"hello","score":0.5}`,
		},
		{
			name:  "string contents untouched",
			input: `{"text":"a, b\": {c, }"}`,
			want:  `{"text":"a, b\": {c, }"}`,
		},
		{
			name:  "bare literals in arrays untouched",
			input: `{"flags":[true, false, null]}`,
			want:  `{"flags":[true, false, null]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := repairJSON(tt.input)
			assert.Equal(t, tt.want, got)
			assert.True(t, json.Valid([]byte(got)), "repaired output should be valid JSON")
		})
	}
}

func TestCleanJSON(t *testing.T) {
	got := cleanJSON("```json\n{\"text\":\"hi\"}\n```")
	require.Equal(t, `{"text":"hi"}`, got)
}

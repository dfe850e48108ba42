package llm

import "testing"

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "bare object",
			content: `{"decision": "no_sql_needed"}`,
			want:    `{"decision": "no_sql_needed"}`,
		},
		{
			name:    "fenced json block",
			content: "```json\n{\"decision\": \"refuse\"}\n```",
			want:    `{"decision": "refuse"}`,
		},
		{
			name:    "fence without language tag",
			content: "```\n{\"a\": 1}\n```",
			want:    `{"a": 1}`,
		},
		{
			name:    "leading prose",
			content: "Here is the plan:\n{\"decision\": \"run_selects\"}\nHope that helps!",
			want:    `{"decision": "run_selects"}`,
		},
		{
			name:    "json tag prefix",
			content: "json {\"a\": 1}",
			want:    `{"a": 1}`,
		},
		{
			name:    "trailing comma removed",
			content: `{"items": [1, 2,], "b": {"c": 3,}}`,
			want:    `{"items": [1, 2], "b": {"c": 3}}`,
		},
		{
			name:    "no object",
			content: "I cannot answer that.",
			want:    "",
		},
		{
			name:    "empty",
			content: "",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.content); got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

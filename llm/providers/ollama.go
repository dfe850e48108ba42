package providers

import (
	"net/http"
	"os"
	"strings"

	"github.com/atlasdata/atlasrag/llm"
)

// OllamaProvider implements the OpenAI-compatible API exposed by Ollama,
// vLLM and similar local endpoints. It shares the OpenAI request/response
// format but defaults to a local URL and optional auth.
type OllamaProvider struct {
	OpenAIProvider // Embed for shared request/response format
}

func init() {
	llm.RegisterProvider(&OllamaProvider{})
}

// Name returns the provider identifier.
func (o *OllamaProvider) Name() string {
	return "ollama"
}

// BuildURL constructs the chat completions endpoint.
func (o *OllamaProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}

	return baseURL + "/chat/completions"
}

// SetHeaders adds auth headers only when a key is configured; local
// endpoints typically run unauthenticated.
func (o *OllamaProvider) SetHeaders(req *http.Request, apiKey string) {
	if env := os.Getenv("OPENAI_API_KEY"); env != "" {
		apiKey = env
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

package llm

import (
	"os"
	"strings"
)

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
)

// ParseModelString parses a model string into provider and model name.
//
// Supported formats:
//
//	"ollama/llama3.2"           → (ollama, "llama3.2")
//	"openai/gpt-4o"             → (openai, "gpt-4o")
//	"claude-3-5-haiku-20241022" → (anthropic, "claude-3-5-haiku-20241022")
//	"gpt-4o"                    → (openai, "gpt-4o")
//	"llama3.2"                  → (anthropic, "llama3.2") fallback
func ParseModelString(model string) (Provider, string) {
	if i := strings.Index(model, "/"); i > 0 {
		prefix := strings.ToLower(model[:i])
		name := model[i+1:]
		switch prefix {
		case "ollama":
			return ProviderOllama, name
		case "openai":
			return ProviderOpenAI, name
		case "anthropic":
			return ProviderAnthropic, name
		}
	}

	lower := strings.ToLower(model)
	if strings.HasPrefix(lower, "claude") {
		return ProviderAnthropic, model
	}
	if strings.HasPrefix(lower, "gpt-") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3") || strings.HasPrefix(lower, "o4") {
		return ProviderOpenAI, model
	}

	if os.Getenv("OLLAMA_HOST") != "" {
		return ProviderOllama, model
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return ProviderOpenAI, model
	}

	return ProviderAnthropic, model
}

// Credentials carries the provider secrets and endpoints used by NewClientForModel.
// Empty fields fall back to the provider SDK's own environment lookup.
type Credentials struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OllamaHost      string
}

// CredentialsFromEnv reads provider credentials from the environment.
//
//	ANTHROPIC_API_KEY  Anthropic API key
//	OPENAI_API_KEY     OpenAI API key
//	OPENAI_BASE_URL    Custom OpenAI-compatible base URL
//	OLLAMA_HOST        Ollama server address (default: http://localhost:11434)
func CredentialsFromEnv() Credentials {
	return Credentials{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		OllamaHost:      os.Getenv("OLLAMA_HOST"),
	}
}

// NewClientForModel creates the appropriate instrumented LLM client for the
// model string and returns it with the bare model name.
func NewClientForModel(model string, creds Credentials) (Client, string) {
	provider, modelName := ParseModelString(model)

	var client Client
	switch provider {
	case ProviderOllama:
		client = NewOllamaClient(creds.OllamaHost)
	case ProviderOpenAI:
		if creds.OpenAIBaseURL != "" {
			client = NewOpenAICompatibleClient(creds.OpenAIBaseURL, creds.OpenAIAPIKey)
		} else {
			client = NewOpenAIClient(creds.OpenAIAPIKey)
		}
	default:
		if creds.AnthropicAPIKey != "" {
			client = NewAnthropicClientWithKey(creds.AnthropicAPIKey)
		} else {
			client = NewAnthropicClient()
		}
	}

	return Instrument(client, provider), modelName
}

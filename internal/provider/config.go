package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that the fields required by the selected backend are set.
// Every missing variable is reported at once.
func (c *Config) Validate() error {
	var errs []error
	require := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required for %s backend", name, c.Backend))
		}
	}

	switch c.Backend {
	case BackendOllama:
		require(c.Ollama.Host, "OLLAMA_HOST")
		require(c.Ollama.Model, "OLLAMA_MODEL")
	case BackendOpenAI:
		require(c.OpenAI.APIKey, "OPENAI_API_KEY")
		require(c.OpenAI.Model, "OPENAI_MODEL")
	case BackendAzure:
		require(c.AzureOpenAI.APIKey, "AZURE_OPENAI_API_KEY")
		require(c.AzureOpenAI.Endpoint, "AZURE_OPENAI_ENDPOINT")
		require(c.AzureOpenAI.Deployment, "AZURE_OPENAI_DEPLOYMENT")
	case BackendArk:
		require(c.Ark.APIKey, "ARK_API_KEY")
		require(c.Ark.Model, "ARK_MODEL")
	case BackendGemini:
		require(c.Gemini.APIKey, "GOOGLE_API_KEY")
		require(c.Gemini.Model, "GEMINI_MODEL")
	default:
		return fmt.Errorf("provider: unknown backend %q (valid: ollama, openai, azure, ark, gemini)", c.Backend)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("provider: invalid config: %w", err)
	}
	return nil
}

// isAzureReasoningModel reports whether an Azure deployment name refers to an
// o-series or codex reasoning model. Those reject temperature and max_tokens.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, prefix := range []string{"o1", "o3", "o4", "codex"} {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}

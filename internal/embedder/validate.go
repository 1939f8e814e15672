package embedder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/54b3r/concierge-go/internal/config"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama-3",
	"mistral",
	"mixtral",
	"gemma",
	"phi3",
	"claude",
	"gemini-",
	"deepseek",
	"qwen",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate is a pre-flight check of the three embedding channels. It returns
// every hard misconfiguration at once (missing keys, missing multimodal
// endpoint, missing sparse model) so operators fix them in one pass, and
// warns when a configured model name looks like a chat model.
func Validate(log *slog.Logger) error {
	var errs []error

	switch backend := Backend(); backend {
	case "ollama":
	case "openai":
		if config.First("EMBEDDING_API_KEY", "OPENAI_API_KEY") == "" {
			errs = append(errs, fmt.Errorf("embedder: no OpenAI API key found, set OPENAI_API_KEY or EMBEDDING_API_KEY"))
		}
	case "azure":
		if config.First("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY") == "" {
			errs = append(errs, fmt.Errorf("embedder: no Azure API key found, set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY"))
		}
		if config.First("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT") == "" {
			errs = append(errs, fmt.Errorf("embedder: no Azure endpoint found, set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT"))
		}
	default:
		errs = append(errs, fmt.Errorf("embedder: unsupported EMBEDDING_PROVIDER %q (valid values: ollama, openai, azure)", backend))
	}

	if os.Getenv("MM_EMBEDDING_ENDPOINT") == "" || os.Getenv("MM_EMBEDDING_MODEL") == "" {
		errs = append(errs, fmt.Errorf("embedder: MM_EMBEDDING_ENDPOINT and MM_EMBEDDING_MODEL must be set for multimodal search"))
	}
	if os.Getenv("SPARSE_VOCAB_PATH") == "" {
		errs = append(errs, fmt.Errorf("embedder: SPARSE_VOCAB_PATH must point to a fitted TF-IDF model"))
	}

	for _, key := range []string{"EMBEDDING_MODEL", "MM_EMBEDDING_MODEL"} {
		if model := os.Getenv(key); model != "" && looksLikeChatModel(model) {
			log.Warn("embedder: model name looks like a chat model, not an embedding model",
				slog.String("key", key),
				slog.String("model", model),
			)
		}
	}

	return errors.Join(errs...)
}

// Package provider selects and constructs the chat model used for category
// generation. Supported backends: Ollama, OpenAI, Azure OpenAI, Volcengine
// Ark and Google Gemini.
package provider

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects Volcengine Ark.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama configures the Ollama backend.
type ProviderOllama struct {
	// Host is the Ollama base URL.
	Host string
	// Model is the local model tag, e.g. "llama3".
	Model string
}

// ProviderOpenAI configures the OpenAI backend.
type ProviderOpenAI struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the model name, e.g. "gpt-4o".
	Model string
}

// ProviderAzureOpenAI configures the Azure OpenAI backend.
type ProviderAzureOpenAI struct {
	// APIKey is the Azure OpenAI key.
	APIKey string
	// Endpoint is the resource endpoint, e.g. https://my.openai.azure.com.
	Endpoint string
	// Deployment is the deployment name used as the model.
	Deployment string
	// APIVersion is the REST API version.
	APIVersion string
}

// ProviderArk configures the Volcengine Ark backend.
type ProviderArk struct {
	// APIKey is the Ark API key.
	APIKey string
	// Model is the Ark endpoint ID or model name.
	Model string
	// BaseURL overrides the regional Ark endpoint.
	BaseURL string
}

// ProviderGemini configures the Gemini backend.
type ProviderGemini struct {
	// APIKey is the Google AI Studio key.
	APIKey string
	// Model is the model name, e.g. "gemini-2.0-flash".
	Model string
}

// SharedTuning holds generation settings applied to every backend that
// supports them.
type SharedTuning struct {
	// MaxTokens caps the number of tokens generated per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Config holds provider configuration resolved from environment variables
// or explicit caller-supplied values. Only the block matching Backend is
// read.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend
	// Ollama configures BackendOllama.
	Ollama ProviderOllama
	// OpenAI configures BackendOpenAI.
	OpenAI ProviderOpenAI
	// AzureOpenAI configures BackendAzure.
	AzureOpenAI ProviderAzureOpenAI
	// Ark configures BackendArk.
	Ark ProviderArk
	// Gemini configures BackendGemini.
	Gemini ProviderGemini
	// Tuning holds shared generation settings.
	Tuning SharedTuning
}

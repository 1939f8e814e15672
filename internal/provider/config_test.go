package provider

import (
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr []string
	}{
		// ── Ollama ────────────────────────────────────────────────────────────
		{
			name: "ollama/valid",
			cfg:  Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: "http://localhost:11434", Model: "llama3"}},
		},
		{
			name:    "ollama/missing model",
			cfg:     Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: "http://localhost:11434"}},
			wantErr: []string{"OLLAMA_MODEL"},
		},

		// ── OpenAI ────────────────────────────────────────────────────────────
		{
			name: "openai/valid",
			cfg:  Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{APIKey: "sk-test", Model: "gpt-4o"}},
		},
		{
			name:    "openai/missing everything",
			cfg:     Config{Backend: BackendOpenAI},
			wantErr: []string{"OPENAI_API_KEY", "OPENAI_MODEL"},
		},

		// ── Azure ─────────────────────────────────────────────────────────────
		{
			name: "azure/valid",
			cfg: Config{Backend: BackendAzure, AzureOpenAI: ProviderAzureOpenAI{
				APIKey: "key", Endpoint: "https://my.openai.azure.com", Deployment: "gpt-4o", APIVersion: "2024-02-01",
			}},
		},
		{
			name: "azure/missing endpoint and deployment",
			cfg: Config{Backend: BackendAzure, AzureOpenAI: ProviderAzureOpenAI{
				APIKey: "key",
			}},
			wantErr: []string{"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT"},
		},

		// ── Ark ───────────────────────────────────────────────────────────────
		{
			name: "ark/valid",
			cfg:  Config{Backend: BackendArk, Ark: ProviderArk{APIKey: "ak", Model: "ep-2024"}},
		},
		{
			name:    "ark/missing model",
			cfg:     Config{Backend: BackendArk, Ark: ProviderArk{APIKey: "ak"}},
			wantErr: []string{"ARK_MODEL"},
		},

		// ── Gemini ────────────────────────────────────────────────────────────
		{
			name: "gemini/valid",
			cfg:  Config{Backend: BackendGemini, Gemini: ProviderGemini{APIKey: "AIza-test", Model: "gemini-2.0-flash"}},
		},
		{
			name:    "gemini/blank api key",
			cfg:     Config{Backend: BackendGemini, Gemini: ProviderGemini{APIKey: "  ", Model: "gemini-2.0-flash"}},
			wantErr: []string{"GOOGLE_API_KEY"},
		},

		// ── Unknown backend ───────────────────────────────────────────────────
		{
			name:    "unknown backend",
			cfg:     Config{Backend: "bedrock"},
			wantErr: []string{"unknown backend"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if len(tc.wantErr) == 0 {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tc.wantErr)
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Validate() error = %q, want substring %q", err.Error(), want)
				}
			}
		})
	}
}

func TestIsAzureReasoningModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		deployment string
		want       bool
	}{
		{"o1", true},
		{"o1-preview", true},
		{"o3-mini", true},
		{"o4-mini", true},
		{"O3-Mini", true},
		{"codex-mini", true},
		{"gpt-5.2-codex", false},
		{"gpt-4o", false},
		{"gpt-4.1", false},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(tc.deployment, func(t *testing.T) {
			t.Parallel()
			if got := isAzureReasoningModel(tc.deployment); got != tc.want {
				t.Errorf("isAzureReasoningModel(%q) = %v, want %v", tc.deployment, got, tc.want)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "gemini")
	t.Setenv("GOOGLE_API_KEY", "AIza-test")
	t.Setenv("GEMINI_MODEL", "")
	t.Setenv("MODEL_TEMPERATURE", "not-a-number")

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendGemini {
		t.Errorf("backend: %q", cfg.Backend)
	}
	if cfg.Gemini.Model != "gemini-2.0-flash" {
		t.Errorf("default gemini model: %q", cfg.Gemini.Model)
	}
	if cfg.Tuning.Temperature != 0.2 {
		t.Errorf("unparseable temperature should fall back, got %v", cfg.Tuning.Temperature)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

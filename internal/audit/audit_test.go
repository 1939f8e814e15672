package audit

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSanitiseKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key, value, want string
	}{
		{"OPENAI_API_KEY", "sk-abc123", "set"},
		{"OPENAI_API_KEY", "", "unset"},
		{"REDIS_PASSWORD", "hunter2", "set"},
		{"CONCIERGE_API_KEY", "tok", "set"},
		{"MODEL_PROVIDER", "ark", "ark"},
		{"MODEL_PROVIDER", "", "unset"},
		{"QDRANT_COLLECTION", "catalog", "catalog"},
	}
	for _, tc := range tests {
		if got := SanitiseKey(tc.key, tc.value); got != tc.want {
			t.Errorf("SanitiseKey(%q, %q) = %q, want %q", tc.key, tc.value, got, tc.want)
		}
	}
}

func TestSecretKeysAreAudited(t *testing.T) {
	t.Parallel()

	for _, k := range []string{"ARK_API_KEY", "RERANK_API_KEY", "MM_EMBEDDING_API_KEY", "QDRANT_API_KEY", "LANGFUSE_SECRET_KEY"} {
		if !secretEnvKeys[k] {
			t.Errorf("%s should be treated as secret", k)
		}
	}
	if secretEnvKeys["REDIS_ADDR"] {
		t.Error("REDIS_ADDR is not a secret")
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("RERANK_API_KEY", "rk-very-secret")
	t.Setenv("QDRANT_COLLECTION", "catalog")

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	LogCommandStart(context.Background(), log, "serve", "")

	out := buf.String()
	if strings.Contains(out, "rk-very-secret") {
		t.Fatalf("secret value leaked: %s", out)
	}
	for _, want := range []string{"command=serve", "config_file=none", "RERANK_API_KEY=set", "QDRANT_COLLECTION=catalog"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %s", want, out)
		}
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.concierge/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.concierge/config.yaml" {
			t.Errorf("expected '~/.concierge/config.yaml', got %q", got)
		}
	}
}

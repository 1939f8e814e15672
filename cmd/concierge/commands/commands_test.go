package commands

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/concierge-go/internal/embedder"
	"github.com/54b3r/concierge-go/internal/version"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()
	want := []string{"serve", "search", "research", "ingest", "version"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered (err=%v)", name, err)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--config", filepath.Join(t.TempDir(), "missing.yaml")})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != version.String() {
		t.Errorf("output = %q, want %q", got, version.String())
	}
}

func TestSearchCmd_RequiresQuery(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"search", "beach wedding", "--config", filepath.Join(t.TempDir(), "missing.yaml")})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "--query") {
		t.Fatalf("expected missing --query error, got %v", err)
	}
}

func TestIngestCmd_RequiresFile(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"ingest", "--config", filepath.Join(t.TempDir(), "missing.yaml")})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "--file") {
		t.Fatalf("expected missing --file error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestFitSparseModel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	export := filepath.Join(dir, "catalog.jsonl")
	content := `{"id":"1","name":"Linen shirt","description":"relaxed summer fit"}
not json
{"id":"2","name":"Wool coat","description":"warm winter layer"}
`
	if err := os.WriteFile(export, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "models", "sparse.json")

	got, err := fitSparseModel(export, out, slog.Default())
	if err != nil {
		t.Fatalf("fitSparseModel: %v", err)
	}
	if got != out {
		t.Errorf("path = %q, want %q", got, out)
	}
	enc, err := embedder.LoadTFIDFFile(out)
	if err != nil {
		t.Fatalf("saved model does not load: %v", err)
	}
	if enc.VocabularySize() == 0 {
		t.Error("expected a non-empty vocabulary")
	}
}

func TestFitSparseModel_EmptyExport(t *testing.T) {
	t.Parallel()

	export := filepath.Join(t.TempDir(), "empty.jsonl")
	if err := os.WriteFile(export, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := fitSparseModel(export, filepath.Join(t.TempDir(), "sparse.json"), slog.Default()); err == nil {
		t.Fatal("expected error for an export with no records")
	}
}

func TestReadImage(t *testing.T) {
	t.Parallel()

	img, err := readImage("")
	if err != nil || img != nil {
		t.Errorf("empty path: got (%v, %v), want (nil, nil)", img, err)
	}

	p := filepath.Join(t.TempDir(), "ref.jpg")
	if err := os.WriteFile(p, []byte{0xff, 0xd8, 0xff}, 0o644); err != nil {
		t.Fatal(err)
	}
	img, err = readImage(p)
	if err != nil || len(img) != 3 {
		t.Errorf("readImage = (%v, %v)", img, err)
	}

	if _, err := readImage(filepath.Join(t.TempDir(), "missing.jpg")); err == nil {
		t.Error("expected error for a missing file")
	}
}

package relevance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/genai"
)

// fakeGenerator is a test double for contentGenerator.
type fakeGenerator struct {
	// reply is the text returned in the single candidate.
	reply string
	// err is returned instead of a response when non-nil.
	err error
	// model is the last model name received.
	model string
	// contents is the last contents received.
	contents []*genai.Content
	// config is the last config received.
	config *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: f.reply}},
			},
		}},
	}, nil
}

func TestGeminiJudge_SelectMatches(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: `{"item_numbers": ["1", "#4"]}`}
	j := newGeminiJudge(gen, "")

	got, err := j.SelectMatches(context.Background(), JudgeRequest{
		Prompt: "pick",
		Board:  []byte{0xff, 0xd8, 0xff},
	})
	if err != nil {
		t.Fatalf("SelectMatches: %v", err)
	}
	if strings.Join(got, ",") != "1,#4" {
		t.Errorf("labels: got %v", got)
	}
	if gen.model != DefaultJudgeModel {
		t.Errorf("model: want %q, got %q", DefaultJudgeModel, gen.model)
	}
	if gen.config.ResponseMIMEType != "application/json" || gen.config.ResponseSchema == nil {
		t.Errorf("config must request schema-constrained JSON: %+v", gen.config)
	}
	if n := len(gen.contents[0].Parts); n != 2 {
		t.Errorf("want prompt + board parts, got %d", n)
	}
}

func TestGeminiJudge_AddsReferencePart(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: `{"item_numbers": []}`}
	j := newGeminiJudge(gen, "gemini-test")

	_, err := j.SelectMatches(context.Background(), JudgeRequest{
		Prompt:         "pick",
		Board:          []byte{1},
		ReferenceImage: []byte("\x89PNG\r\n\x1a\n0000"),
	})
	if err != nil {
		t.Fatalf("SelectMatches: %v", err)
	}
	parts := gen.contents[0].Parts
	if len(parts) != 3 {
		t.Fatalf("want 3 parts, got %d", len(parts))
	}
	if parts[2].InlineData == nil || parts[2].InlineData.MIMEType != "image/png" {
		t.Errorf("reference part: got %+v", parts[2].InlineData)
	}
}

func TestGeminiJudge_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("quota")
	if _, err := newGeminiJudge(&fakeGenerator{err: boom}, "").SelectMatches(context.Background(), JudgeRequest{}); !errors.Is(err, boom) {
		t.Errorf("want wrapped generate error, got %v", err)
	}
	if _, err := newGeminiJudge(&fakeGenerator{reply: "not json"}, "").SelectMatches(context.Background(), JudgeRequest{}); err == nil {
		t.Error("want decode error for malformed reply")
	}
}

func TestParseJudgeAnswer_CodeFence(t *testing.T) {
	t.Parallel()

	got, err := parseJudgeAnswer("```json\n{\"item_numbers\": [\"0\"]}\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 1 || got[0] != "0" {
		t.Errorf("got %v", got)
	}
}

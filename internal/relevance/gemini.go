package relevance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// DefaultJudgeModel is the Gemini model used when none is configured.
const DefaultJudgeModel = "gemini-2.0-flash"

// contentGenerator is the subset of *genai.Models used by GeminiJudge.
// Tests inject a fake.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig holds the settings for constructing a GeminiJudge.
type GeminiConfig struct {
	// APIKey is the Google AI Studio API key.
	APIKey string
	// Model is the Gemini model name. Defaults to DefaultJudgeModel.
	Model string
}

// GeminiJudge implements VisionJudge with a Gemini multimodal model and a
// JSON response schema. It is safe for concurrent use.
type GeminiJudge struct {
	// models issues GenerateContent calls.
	models contentGenerator
	// model is the Gemini model name.
	model string
}

// NewGeminiJudge constructs a GeminiJudge backed by the Gemini API.
func NewGeminiJudge(ctx context.Context, cfg *GeminiConfig) (*GeminiJudge, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("relevance: GOOGLE_API_KEY is required for the gemini judge")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("relevance: failed to create Gemini client: %w", err)
	}
	return newGeminiJudge(client.Models, cfg.Model), nil
}

// newGeminiJudge wires a GeminiJudge around an existing generator.
func newGeminiJudge(models contentGenerator, model string) *GeminiJudge {
	if model == "" {
		model = DefaultJudgeModel
	}
	return &GeminiJudge{models: models, model: model}
}

// judgeSchema constrains the judge to {"item_numbers": [string]}.
var judgeSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"item_numbers": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
	},
	Required: []string{"item_numbers"},
}

// judgeAnswer is the decoded judge response.
type judgeAnswer struct {
	ItemNumbers []string `json:"item_numbers"`
}

// SelectMatches implements VisionJudge.
func (j *GeminiJudge) SelectMatches(ctx context.Context, req JudgeRequest) ([]string, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(req.Prompt),
		genai.NewPartFromBytes(req.Board, "image/jpeg"),
	}
	if len(req.ReferenceImage) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.ReferenceImage, http.DetectContentType(req.ReferenceImage)))
	}

	temperature := float32(0)
	resp, err := j.models.GenerateContent(ctx, j.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:      &temperature,
			ResponseMIMEType: "application/json",
			ResponseSchema:   judgeSchema,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini judge: generate: %w", err)
	}

	return parseJudgeAnswer(resp.Text())
}

// parseJudgeAnswer decodes the judge's JSON reply. Code fences are tolerated.
func parseJudgeAnswer(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var ans judgeAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &ans); err != nil {
		return nil, fmt.Errorf("gemini judge: decode answer: %w", err)
	}
	return ans.ItemNumbers, nil
}

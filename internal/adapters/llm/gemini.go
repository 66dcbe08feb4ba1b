package llm

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

// GeminiConfig selects the genai backend. Project set means Vertex AI,
// otherwise APIKey is used against the Gemini API.
type GeminiConfig struct {
	Project   string
	Location  string
	APIKey    string
	ModelName string
}

type GeminiClient struct {
	client    *genai.Client
	modelName string
}

// NewGeminiClient creates a domain.ModelClient backed by genai.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.Project != "":
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	case cfg.APIKey != "":
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	default:
		return nil, fmt.Errorf("gemini client needs a GCP project or an API key")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	modelName := cfg.ModelName
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	return &GeminiClient{
		client:    client,
		modelName: modelName,
	}, nil
}

// GenerateStream implements domain.ModelClient using GenerateContentStream.
func (g *GeminiClient) GenerateStream(ctx context.Context, req domain.ModelRequest) iter.Seq2[*domain.ModelResponse, error] {
	return func(yield func(*domain.ModelResponse, error) bool) {
		model := req.Model
		if model == "" {
			model = g.modelName
		}

		temp := float32(0.7)
		cfg := &genai.GenerateContentConfig{
			Temperature:     &temp,
			MaxOutputTokens: int32(8192),
		}
		if req.SystemInstruction != "" {
			// According to official examples, the role here is usually RoleUser, not "system"
			cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
		}
		if len(req.Tools) > 0 {
			cfg.Tools = []*genai.Tool{{FunctionDeclarations: toFunctionDeclarations(req.Tools)}}
		}

		for res, err := range g.client.Models.GenerateContentStream(ctx, model, toGenaiContents(req.Contents), cfg) {
			if err != nil {
				yield(nil, fmt.Errorf("genai generate content stream: %w", err))
				return
			}
			chunk := fromGenaiResponse(res)
			if chunk.Text == "" && len(chunk.FunctionCalls) == 0 {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// fromGenaiResponse extracts text and function calls from the first candidate.
// Thought parts are skipped.
func fromGenaiResponse(res *genai.GenerateContentResponse) *domain.ModelResponse {
	out := &domain.ModelResponse{}
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return out
	}
	for _, p := range res.Candidates[0].Content.Parts {
		switch {
		case p == nil || p.Thought:
		case p.FunctionCall != nil:
			out.FunctionCalls = append(out.FunctionCalls, domain.FunctionCall{
				ID:        p.FunctionCall.ID,
				Name:      p.FunctionCall.Name,
				Args:      p.FunctionCall.Args,
				Signature: p.ThoughtSignature,
			})
		default:
			out.Text += p.Text
		}
	}
	return out
}

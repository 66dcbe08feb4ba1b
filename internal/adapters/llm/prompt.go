package llm

import (
	"google.golang.org/genai"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

func toGenaiContents(contents []domain.Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(contents))
	for _, c := range contents {
		role := genai.RoleUser
		if c.Role == domain.RoleModel {
			role = genai.RoleModel
		}

		parts := make([]*genai.Part, 0, len(c.Parts))
		for _, p := range c.Parts {
			switch {
			case p.FunctionCall != nil:
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   p.FunctionCall.ID,
						Name: p.FunctionCall.Name,
						Args: p.FunctionCall.Args,
					},
					ThoughtSignature: p.FunctionCall.Signature,
				})
			case p.FunctionResponse != nil:
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       p.FunctionResponse.ID,
						Name:     p.FunctionResponse.Name,
						Response: p.FunctionResponse.Response,
					},
				})
			default:
				parts = append(parts, &genai.Part{Text: p.Text})
			}
		}
		out = append(out, genai.NewContentFromParts(parts, genai.Role(role)))
	}
	return out
}

func toFunctionDeclarations(specs []domain.ToolSpec) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		props := make(map[string]*genai.Schema, len(s.Parameters))
		for name, p := range s.Parameters {
			props[name] = &genai.Schema{Type: schemaType(p.Type), Description: p.Description}
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   s.Required,
			},
		})
	}
	return out
}

func schemaType(t string) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

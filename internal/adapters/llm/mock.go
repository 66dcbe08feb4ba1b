package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

// Responder produces the complete answer of the mock model for one request.
type Responder func(req domain.ModelRequest) (*domain.ModelResponse, error)

// MockModel is a deterministic domain.ModelClient for local runs and tests.
// Answers are scripted per agent name and streamed in fixed-size chunks.
type MockModel struct {
	mu         sync.RWMutex
	responders map[string]Responder
	chunkSize  int
}

func NewMockModel() *MockModel {
	return &MockModel{
		responders: map[string]Responder{
			"JobInterpreterAgent":      mockInterpreter,
			"SimpleDeckArchitectAgent": mockArchitect,
			"analyst_agent":            mockAnalyst,
			"script_agent":             mockScript,
			"visualizer":               mockVisualizer,
		},
		chunkSize: 64,
	}
}

// WithResponder replaces the scripted answer for agent.
func (m *MockModel) WithResponder(agent string, r Responder) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responders[agent] = r
	return m
}

// WithText makes agent always answer text.
func (m *MockModel) WithText(agent, text string) *MockModel {
	return m.WithResponder(agent, func(domain.ModelRequest) (*domain.ModelResponse, error) {
		return &domain.ModelResponse{Text: text}, nil
	})
}

func (m *MockModel) GenerateStream(ctx context.Context, req domain.ModelRequest) iter.Seq2[*domain.ModelResponse, error] {
	return func(yield func(*domain.ModelResponse, error) bool) {
		m.mu.RLock()
		r, ok := m.responders[req.Agent]
		m.mu.RUnlock()
		if !ok {
			r = mockEcho
		}

		res, err := r(req)
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			yield(nil, err)
			return
		}
		if len(res.FunctionCalls) > 0 {
			yield(res, nil)
			return
		}

		text := res.Text
		for len(text) > 0 {
			n := min(m.chunkSize, len(text))
			if !yield(&domain.ModelResponse{Text: text[:n]}, nil) {
				return
			}
			text = text[n:]
		}
	}
}

func lastUserText(req domain.ModelRequest) string {
	for i := len(req.Contents) - 1; i >= 0; i-- {
		c := req.Contents[i]
		if c.Role != domain.RoleUser {
			continue
		}
		var parts []string
		for _, p := range c.Parts {
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	return ""
}

func lastFunctionResponse(req domain.ModelRequest) *domain.FunctionResponse {
	if len(req.Contents) == 0 {
		return nil
	}
	last := req.Contents[len(req.Contents)-1]
	for _, p := range last.Parts {
		if p.FunctionResponse != nil {
			return p.FunctionResponse
		}
	}
	return nil
}

func hasTool(req domain.ModelRequest, name string) bool {
	for _, t := range req.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func mockEcho(req domain.ModelRequest) (*domain.ModelResponse, error) {
	return &domain.ModelResponse{Text: fmt.Sprintf("mock reply: %q", lastUserText(req))}, nil
}

func mockInterpreter(req domain.ModelRequest) (*domain.ModelResponse, error) {
	return &domain.ModelResponse{Text: "```json\n" + `{
  "job_plan": {
    "interpretation": "Build a short data-driven deck answering the request.",
    "audience_strategies": {
      "executives": "Lead with the headline numbers and keep detail out of the main slides."
    }
  }
}` + "\n```"}, nil
}

// The architect answer has no common root and a bare ampersand, which the
// XML recovery has to repair.
func mockArchitect(req domain.ModelRequest) (*domain.ModelResponse, error) {
	return &domain.ModelResponse{Text: "```xml\n" + `<SlideIdea id="1">
  <Title>Revenue & Growth</Title>
  <ContentDescription>How revenue evolved over the last year.</ContentDescription>
  <DataInsights>Sum invoice totals per month.</DataInsights>
</SlideIdea>
<SlideIdea id="2">
  <Title>Top Customers</Title>
  <ContentDescription>Which customers drive most of the revenue.</ContentDescription>
  <DataInsights>Rank customers by total spend.</DataInsights>
</SlideIdea>` + "\n```"}, nil
}

func mockAnalyst(req domain.ModelRequest) (*domain.ModelResponse, error) {
	return &domain.ModelResponse{Text: "SlideId: from input\nComponentType: Text\nInstructionsForContent: list the tables of the database.\n---"}, nil
}

// mockScript queries the database once when the SQL tool is offered, then
// writes the slide.
func mockScript(req domain.ModelRequest) (*domain.ModelResponse, error) {
	if hasTool(req, "execute_sql_query") && lastFunctionResponse(req) == nil {
		return &domain.ModelResponse{FunctionCalls: []domain.FunctionCall{{
			Name: "execute_sql_query",
			Args: map[string]any{"query": "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name"},
		}}}, nil
	}

	detail := "No data available."
	if fr := lastFunctionResponse(req); fr != nil {
		if n, ok := fr.Response["row_count"]; ok {
			detail = fmt.Sprintf("The database exposes %v tables.", n)
		}
	}
	return &domain.ModelResponse{Text: `<Slide id="generated" classes="bg-white py-8 px-16">
  <Text tag="p"><Content>` + detail + `</Content></Text>
</Slide>`}, nil
}

func mockVisualizer(req domain.ModelRequest) (*domain.ModelResponse, error) {
	return &domain.ModelResponse{Text: `{"type":"bar","title":"Generated chart","data":[]}`}, nil
}

// Package model defines the opaque text-generation collaborator used by the
// tool generator and the diagnostic advisor. The core never depends on a
// concrete provider; adapters for Anthropic and OpenAI live in subpackages.
package model

import "context"

// Request carries a single-turn generation request.
type Request struct {
	// Instructions is the system-level steering text.
	Instructions string `json:"instructions"`
	// Prompt is the user-facing request body.
	Prompt string `json:"prompt"`
}

// Response is the completed generation.
type Response struct {
	Text string `json:"text"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required to drive text generation.
type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests and examples.
// Responses are returned in order; when exhausted the last one repeats.
type MockModel struct {
	Responses []string
	Err       error

	calls int
}

// Generate returns the next canned response or the configured error.
func (m *MockModel) Generate(_ context.Context, _ Request) (Response, error) {
	if m.Err != nil {
		return Response{}, m.Err
	}
	if len(m.Responses) == 0 {
		return Response{Text: ""}, nil
	}
	idx := m.calls
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.calls++
	return Response{Text: m.Responses[idx]}, nil
}

// Info identifies the mock.
func (m *MockModel) Info() Info { return Info{Name: "mock", Provider: "mock"} }

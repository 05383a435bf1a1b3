// Package model defines the language-model completion boundary the
// orchestrator drives. Adapters live in subpackages.
package model

import (
	"context"

	"github.com/agentforge/engine/internal/domain"
)

// ToolSchema is the wire description of one bound tool, handed to the
// model so it can emit tool-call requests against it.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// CompletionRequest is one model call: the rendered system prompt
// prepended to the (compacted) message list, plus the bound tool set.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	Messages     []domain.Message
	Tools        []ToolSchema

	// JSONResponse forces a JSON object response, used for structured
	// side calls like title derivation.
	JSONResponse bool
}

// Provider produces one AI message per completion call. The returned
// message carries zero or more tool-call requests and, when the backend
// reports it, token-usage metadata.
type Provider interface {
	Complete(ctx context.Context, req *CompletionRequest) (*domain.Message, error)
}

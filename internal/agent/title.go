package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentforge/engine/internal/domain"
	"github.com/agentforge/engine/internal/model"
)

const titlePrompt = `You must determine a short title of a chat based on its first message.
Respond with a JSON object of the form {"title": "..."}.`

// DeriveChatTitle asks the model for a short chat title based on the
// first message. Callers treat failure as non-fatal.
func DeriveChatTitle(ctx context.Context, provider model.Provider, modelName, firstMessage string) (string, error) {
	reply, err := provider.Complete(ctx, &model.CompletionRequest{
		Model:        modelName,
		SystemPrompt: titlePrompt,
		Messages:     []domain.Message{domain.NewHumanMessage(firstMessage)},
		JSONResponse: true,
	})
	if err != nil {
		return "", fmt.Errorf("deriving chat title: %w", err)
	}

	var out struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(reply.Content), &out); err != nil {
		return "", fmt.Errorf("decoding chat title response: %w", err)
	}
	if out.Title == "" {
		return "", fmt.Errorf("model returned an empty chat title")
	}
	return out.Title, nil
}

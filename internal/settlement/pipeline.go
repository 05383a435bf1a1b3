// Package settlement runs one full user turn: load state, orchestrate
// the model, and commit the outcome atomically.
package settlement

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agentforge/engine/internal/agent"
	"github.com/agentforge/engine/internal/domain"
	"github.com/agentforge/engine/internal/model"
	"github.com/agentforge/engine/internal/storage"
	"github.com/agentforge/engine/internal/tool"
)

var tracer = otel.Tracer("github.com/agentforge/engine/internal/settlement")

// Pipeline executes turns against a store and a model provider. It is
// safe for concurrent use; per-turn state lives on the stack.
type Pipeline struct {
	store       storage.Store
	provider    model.Provider
	estimator   agent.UsageEstimator
	maxRounds   int
	logger      *slog.Logger
	toolOptions []tool.Option
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithEstimator sets the token-usage fallback estimator passed to the
// orchestrator.
func WithEstimator(e agent.UsageEstimator) Option {
	return func(p *Pipeline) { p.estimator = e }
}

// WithMaxRounds overrides the orchestrator's round bound.
func WithMaxRounds(n int) Option {
	return func(p *Pipeline) { p.maxRounds = n }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithToolOptions sets options applied to every bound tool invoker.
func WithToolOptions(opts ...tool.Option) Option {
	return func(p *Pipeline) { p.toolOptions = opts }
}

// New creates a pipeline over the given store and provider.
func New(store storage.Store, provider model.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TurnResult is the observable outcome of one settled turn.
type TurnResult struct {
	// Chat is the freshly reloaded chat, reflecting the settled
	// message list, revision, and title.
	Chat *domain.Chat

	// Reply is the model's final answer.
	Reply domain.Message

	// Title is set when this turn derived a title for the chat.
	Title string

	// Usage is the summed token usage across all rounds.
	Usage domain.Usage

	// Cost is the credits debited for the turn.
	Cost int64
}

// HandleUserMessage runs one turn for the given chat. On any error the
// chat, balance, and royalty ledger are left exactly as they were.
func (p *Pipeline) HandleUserMessage(ctx context.Context, chatID, text string) (*TurnResult, error) {
	ctx, span := tracer.Start(ctx, "settlement.turn")
	defer span.End()
	span.SetAttributes(attribute.String("chat.id", chatID))

	chat, err := p.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	agentDef, err := p.store.GetAgent(ctx, chat.AgentID)
	if err != nil {
		return nil, err
	}
	user, err := p.store.GetUser(ctx, chat.UserID)
	if err != nil {
		return nil, err
	}

	firstExchange := len(chat.Messages) == 0 && chat.Title == ""

	human := domain.NewHumanMessage(text)
	seq := append(append([]domain.Message(nil), chat.Messages...), human)

	// The title write is the one mutation outside the settlement
	// transaction. It is best effort and carries no cost.
	var title string
	if firstExchange {
		title, err = agent.DeriveChatTitle(ctx, p.provider, agentDef.Model, text)
		if err != nil {
			p.logger.Warn("chat title derivation failed",
				slog.String("chat_id", chatID),
				slog.String("error", err.Error()),
			)
			title = ""
		} else if err := p.store.SetTitle(ctx, chatID, title); err != nil {
			p.logger.Warn("chat title write failed",
				slog.String("chat_id", chatID),
				slog.String("error", err.Error()),
			)
		}
	}

	orch, err := agent.New(agent.Config{
		Provider:    p.provider,
		Agent:       agentDef,
		MaxRounds:   p.maxRounds,
		Estimator:   p.estimator,
		Logger:      p.logger,
		ToolOptions: p.toolOptions,
	})
	if err != nil {
		return nil, err
	}

	result, err := orch.Run(ctx, seq)
	if err != nil {
		return nil, err
	}

	cost := int64(result.Usage.TotalTokens)
	if cost > user.Credits {
		return nil, domain.ErrInsufficientCredits(cost, user.Credits)
	}

	err = p.store.Settle(ctx, &storage.Settlement{
		ChatID:       chat.ID,
		ChatRevision: chat.Revision,
		Messages:     result.Messages,
		UserID:       user.ID,
		CreatorID:    agentDef.CreatorID,
		Cost:         cost,
	})
	if err != nil {
		return nil, err
	}

	updated, err := p.store.GetChat(ctx, chat.ID)
	if err != nil {
		return nil, err
	}

	p.logger.Info("turn settled",
		slog.String("chat_id", chat.ID),
		slog.String("agent_id", agentDef.ID),
		slog.Int("total_tokens", result.Usage.TotalTokens),
		slog.Int64("cost", cost),
	)
	span.SetAttributes(attribute.Int64("turn.cost", cost))

	return &TurnResult{
		Chat:  updated,
		Reply: result.Final,
		Title: title,
		Usage: result.Usage,
		Cost:  cost,
	}, nil
}

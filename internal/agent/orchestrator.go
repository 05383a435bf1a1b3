// Package agent owns the conversation orchestrator: the system prompt,
// the bound tool set, and the "ask model, execute requested tools, ask
// model again" protocol that runs until the model produces a final
// answer with no further tool requests.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agentforge/engine/internal/domain"
	"github.com/agentforge/engine/internal/model"
	"github.com/agentforge/engine/internal/tool"
)

// outdatedSentinel replaces stale tool-message content before each
// model call to bound prompt growth across rounds. Message count and
// order are preserved.
const outdatedSentinel = "outdated"

// DefaultMaxRounds bounds the tool-calling loop against a model that
// never stops requesting tools.
const DefaultMaxRounds = 8

var tracer = otel.Tracer("github.com/agentforge/engine/internal/agent")

// UsageEstimator approximates a usage report for rounds where the
// backend reported none.
type UsageEstimator interface {
	EstimateUsage(systemPrompt string, messages []domain.Message, reply *domain.Message) domain.Usage
}

// Config assembles an orchestrator for one agent definition.
type Config struct {
	Provider  model.Provider
	Agent     *domain.AgentDefinition
	MaxRounds int
	Estimator UsageEstimator
	Logger    *slog.Logger

	// ToolOptions are applied to every bound tool invoker.
	ToolOptions []tool.Option
}

// Result is the outcome of one completed orchestration run.
type Result struct {
	// Final is the model's terminal answer, with no tool requests.
	Final domain.Message

	// Messages is the full extended sequence, including intermediate
	// AI tool-request messages and tool responses, ending with Final.
	Messages []domain.Message

	// Usage is the summed token usage across all rounds of the turn.
	Usage domain.Usage
}

// Orchestrator drives the recursive tool-calling protocol as an
// explicit iterative loop. It is built once per turn from a fresh agent
// definition and is not safe for concurrent runs.
type Orchestrator struct {
	provider     model.Provider
	modelName    string
	systemPrompt string
	invokers     map[string]*tool.Invoker
	schemas      []model.ToolSchema
	maxRounds    int
	estimator    UsageEstimator
	logger       *slog.Logger
}

// New binds the agent's tool set (compiling each arguments schema) and
// renders the system prompt.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("orchestrator requires a model provider")
	}
	if cfg.Agent == nil {
		return nil, fmt.Errorf("orchestrator requires an agent definition")
	}

	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		provider:     cfg.Provider,
		modelName:    cfg.Agent.Model,
		systemPrompt: RenderSystemPrompt(cfg.Agent),
		invokers:     make(map[string]*tool.Invoker, len(cfg.Agent.Tools)),
		maxRounds:    maxRounds,
		estimator:    cfg.Estimator,
		logger:       logger,
	}

	for _, def := range cfg.Agent.Tools {
		inv, err := tool.New(def, cfg.ToolOptions...)
		if err != nil {
			return nil, fmt.Errorf("binding tool %s: %w", def.Name, err)
		}
		o.invokers[def.Name] = inv
		o.schemas = append(o.schemas, model.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.ArgumentsSchema,
		})
	}

	return o, nil
}

// Run executes the orchestration protocol over messages until the model
// produces an answer with no tool requests, or a bounded number of
// rounds is exceeded. The input slice is not mutated; the returned
// Result owns the extended sequence.
func (o *Orchestrator) Run(ctx context.Context, messages []domain.Message) (*Result, error) {
	if len(messages) == 0 {
		return nil, domain.ErrProtocolViolation("message list is empty")
	}
	switch last := messages[len(messages)-1]; last.Role {
	case domain.RoleHuman, domain.RoleTool:
	case domain.RoleAI:
		return nil, domain.ErrProtocolViolation("last message must be a human or tool message, got ai")
	default:
		return nil, domain.ErrProtocolViolation(fmt.Sprintf("unknown message role %q", last.Role))
	}

	ctx, span := tracer.Start(ctx, "agent.run")
	defer span.End()

	seq := make([]domain.Message, len(messages))
	copy(seq, messages)

	var total domain.Usage
	for round := 0; round < o.maxRounds; round++ {
		compact(seq)

		reply, err := o.provider.Complete(ctx, &model.CompletionRequest{
			Model:        o.modelName,
			SystemPrompt: o.systemPrompt,
			Messages:     seq,
			Tools:        o.schemas,
		})
		if err != nil {
			return nil, fmt.Errorf("model call failed on round %d: %w", round, err)
		}

		total.Add(o.roundUsage(seq, reply))

		if len(reply.ToolCalls) == 0 {
			span.SetAttributes(
				attribute.Int("agent.rounds", round+1),
				attribute.Int("agent.total_tokens", total.TotalTokens),
			)
			seq = append(seq, *reply)
			return &Result{Final: *reply, Messages: seq, Usage: total}, nil
		}

		seq = append(seq, *reply)

		for _, call := range reply.ToolCalls {
			inv, ok := o.invokers[call.Name]
			if !ok {
				return nil, domain.ErrToolNotFound(call.Name)
			}

			result, err := inv.Invoke(ctx, call.Args)
			if err != nil {
				return nil, err
			}

			encoded, err := json.Marshal(result)
			if err != nil {
				return nil, domain.WrapError(domain.CodeToolExecution, "encoding tool result", err)
			}
			seq = append(seq, domain.NewToolMessage(call.ID, call.Name, string(encoded)))

			o.logger.Info("tool round completed",
				slog.Int("round", round),
				slog.String("tool", call.Name),
			)
		}
	}

	return nil, domain.NewError(domain.CodeMaxToolRounds,
		fmt.Sprintf("model did not produce a final answer within %d rounds", o.maxRounds))
}

// roundUsage prefers the backend's reported usage and falls back to the
// estimator when nothing was reported.
func (o *Orchestrator) roundUsage(seq []domain.Message, reply *domain.Message) domain.Usage {
	if reply.Usage != nil && reply.Usage.TotalTokens > 0 {
		return *reply.Usage
	}
	if o.estimator != nil {
		return o.estimator.EstimateUsage(o.systemPrompt, seq, reply)
	}
	return domain.Usage{}
}

// compact replaces the content of every tool message that precedes the
// most recent AI message with the outdated sentinel. Messages after the
// last AI message are untouched.
func compact(messages []domain.Message) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != domain.RoleAI {
			continue
		}
		for j := 0; j < i; j++ {
			if messages[j].Role == domain.RoleTool {
				messages[j].Content = outdatedSentinel
			}
		}
		return
	}
}

// Package tool wraps one externally-described HTTP action: it validates
// caller-supplied arguments against the tool's JSON-Schema contract,
// fills the URL/query/header/body templates from the arguments plus the
// tool's private environment, executes the HTTP call, and returns the
// parsed JSON response. It persists nothing; retry policy, if any,
// belongs to the caller.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agentforge/engine/internal/domain"
	"github.com/agentforge/engine/internal/template"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const defaultTimeout = 30 * time.Second

var tracer = otel.Tracer("github.com/agentforge/engine/internal/tool")

// Option configures an Invoker.
type Option func(*Invoker)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(i *Invoker) {
		i.httpClient = client
	}
}

// WithTimeout bounds each remote call. Timeouts surface as
// tool_execution_error.
func WithTimeout(d time.Duration) Option {
	return func(i *Invoker) {
		i.timeout = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Invoker) {
		i.logger = logger
	}
}

// Invoker executes one tool definition. The arguments schema is
// compiled once at construction and reused for every call.
type Invoker struct {
	def        domain.ToolDefinition
	schema     *jsonschema.Schema
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// New compiles the tool's arguments schema and returns a ready invoker.
func New(def domain.ToolDefinition, opts ...Option) (*Invoker, error) {
	// Round-trip the schema through JSON so hand-built maps with native
	// Go numbers compile the same as schemas decoded from storage.
	raw, err := json.Marshal(def.ArgumentsSchema)
	if err != nil {
		return nil, fmt.Errorf("encoding arguments schema for tool %s: %w", def.Name, err)
	}
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding arguments schema for tool %s: %w", def.Name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool://"+def.Name+"/arguments", schemaDoc); err != nil {
		return nil, fmt.Errorf("adding arguments schema for tool %s: %w", def.Name, err)
	}
	schema, err := compiler.Compile("tool://" + def.Name + "/arguments")
	if err != nil {
		return nil, fmt.Errorf("compiling arguments schema for tool %s: %w", def.Name, err)
	}

	inv := &Invoker{
		def:        def,
		schema:     schema,
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv, nil
}

// Name returns the tool's bound name.
func (i *Invoker) Name() string {
	return i.def.Name
}

// Definition returns the wrapped tool definition.
func (i *Invoker) Definition() domain.ToolDefinition {
	return i.def
}

// Invoke validates args, resolves the request templates, executes the
// HTTP call, and returns the decoded JSON response body. Validation
// failure never issues a network call.
func (i *Invoker) Invoke(ctx context.Context, args map[string]any) (any, error) {
	ctx, span := tracer.Start(ctx, "tool.invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", i.def.Name),
		attribute.String("tool.method", string(i.def.Method)),
	)

	if err := i.schema.Validate(normalize(args)); err != nil {
		return nil, domain.WrapError(domain.CodeInvalidArguments,
			fmt.Sprintf("arguments for tool %s failed validation", i.def.Name), err)
	}

	// Caller args first, environment last: a caller-supplied key can
	// never override a secret of the same name.
	subst := make(map[string]any, len(args)+len(i.def.Environment))
	for k, v := range args {
		subst[k] = v
	}
	for k, v := range i.def.Environment {
		subst[k] = v
	}

	reqURL, err := i.resolveURL(subst)
	if err != nil {
		return nil, err
	}

	headers, err := template.FillTree(i.def.HeadersTemplate, subst)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if i.def.Method == domain.MethodPost {
		filledBody, err := template.FillTree(i.def.BodyTemplate, subst)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(filledBody)
		if err != nil {
			return nil, domain.WrapError(domain.CodeToolExecution, "encoding request body", err)
		}
		body = bytes.NewReader(encoded)
	}

	callCtx := ctx
	if i.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(callCtx, string(i.def.Method), reqURL, body)
	if err != nil {
		return nil, domain.WrapError(domain.CodeToolExecution, "building request", err)
	}
	for key, value := range headers {
		s, err := template.Stringify(value)
		if err != nil {
			return nil, err
		}
		req.Header.Set(key, s)
	}
	if i.def.Method == domain.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.CodeToolExecution,
			fmt.Sprintf("calling tool %s", i.def.Name), err)
	}
	defer resp.Body.Close()

	// Resolved URLs and headers may carry environment secrets; log only
	// the tool name and outcome.
	i.logger.Info("tool call completed",
		slog.String("tool", i.def.Name),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.WrapError(domain.CodeToolExecution, "reading response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.NewError(domain.CodeToolExecution,
			fmt.Sprintf("tool %s returned status %d", i.def.Name, resp.StatusCode))
	}

	var result any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, domain.WrapError(domain.CodeToolExecution,
			fmt.Sprintf("tool %s returned non-JSON response", i.def.Name), err)
	}
	return result, nil
}

// resolveURL fills the URL template and appends the resolved query
// parameters, stringified regardless of their original type.
func (i *Invoker) resolveURL(subst map[string]any) (string, error) {
	filled, err := template.FillString(i.def.URLTemplate, subst)
	if err != nil {
		return "", err
	}
	rawURL, err := template.Stringify(filled)
	if err != nil {
		return "", err
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", domain.WrapError(domain.CodeToolExecution,
			fmt.Sprintf("tool %s resolved to an invalid URL", i.def.Name), err)
	}

	query, err := template.FillTree(i.def.QueryTemplate, subst)
	if err != nil {
		return "", err
	}
	values := url.Values{}
	for key, value := range query {
		s, err := template.Stringify(value)
		if err != nil {
			return "", err
		}
		values.Add(key, s)
	}
	if len(values) > 0 {
		parsed.RawQuery = values.Encode()
	}
	return parsed.String(), nil
}

// normalize rewrites Go-native argument values into the shapes the
// schema validator expects for decoded JSON (numbers as float64).
func normalize(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = normalizeValue(item)
		}
		return items
	case map[string]any:
		return normalize(t)
	default:
		return v
	}
}

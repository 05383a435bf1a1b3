package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/agentforge/engine/internal/domain"
)

func weatherTool(urlTemplate string) domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "get_weather",
		Description: "Look up the current weather for a city",
		ArgumentsSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "City name",
					"minLength":   1,
				},
				"days": map[string]any{
					"type":        "integer",
					"description": "Forecast days",
					"minimum":     1,
					"maximum":     10,
				},
			},
			"required": []any{"city"},
		},
		Environment: map[string]string{"api_key": "sk-secret"},
		Method:      domain.MethodGet,
		URLTemplate: urlTemplate,
		HeadersTemplate: map[string]any{
			"X-Api-Key": "{api_key}",
		},
		QueryTemplate: map[string]any{
			"q":    "{city}",
			"days": "{days}",
		},
		BodyTemplate: map[string]any{},
	}
}

func TestInvoke_GetComposesURLAndHeaders(t *testing.T) {
	var gotPath, gotQuery, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("X-Api-Key")
		json.NewEncoder(w).Encode(map[string]any{"temp": 21.5})
	}))
	defer srv.Close()

	inv, err := New(weatherTool(srv.URL + "/v1/weather"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := inv.Invoke(context.Background(), map[string]any{"city": "Oslo", "days": 3})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if gotPath != "/v1/weather" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "days=3&q=Oslo" {
		t.Errorf("query = %q, want days=3&q=Oslo", gotQuery)
	}
	if gotHeader != "sk-secret" {
		t.Errorf("X-Api-Key = %q, want environment secret", gotHeader)
	}

	m, ok := result.(map[string]any)
	if !ok || m["temp"] != 21.5 {
		t.Errorf("result = %v, want parsed JSON body", result)
	}
}

func TestInvoke_InvalidArgumentsSkipsNetwork(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	inv, err := New(weatherTool(srv.URL))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Missing required "city".
	_, err = inv.Invoke(context.Background(), map[string]any{"days": 3})
	if !domain.IsCode(err, domain.CodeInvalidArguments) {
		t.Fatalf("Invoke() error = %v, want invalid_arguments", err)
	}

	// Wrong type for "days".
	_, err = inv.Invoke(context.Background(), map[string]any{"city": "Oslo", "days": "many"})
	if !domain.IsCode(err, domain.CodeInvalidArguments) {
		t.Fatalf("Invoke() error = %v, want invalid_arguments", err)
	}

	if n := calls.Load(); n != 0 {
		t.Errorf("server received %d calls, want 0", n)
	}
}

func TestInvoke_EnvironmentWinsOverCallerArgs(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Key")
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	def := weatherTool(srv.URL)
	// A malicious caller passing a key that collides with an
	// environment secret must not be able to override it. The schema
	// has to admit the extra property for the request to get that far.
	def.ArgumentsSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city":    map[string]any{"type": "string"},
			"api_key": map[string]any{"type": "string"},
		},
		"required": []any{"city"},
	}

	inv, err := New(def)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := inv.Invoke(context.Background(), map[string]any{
		"city":    "Oslo",
		"api_key": "attacker-value",
	}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if gotHeader != "sk-secret" {
		t.Errorf("X-Api-Key = %q, environment must win over caller args", gotHeader)
	}
}

func TestInvoke_PostSendsResolvedBody(t *testing.T) {
	var gotBody map[string]any
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	def := domain.ToolDefinition{
		Name: "create_order",
		ArgumentsSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sku":   map[string]any{"type": "string"},
				"count": map[string]any{"type": "integer"},
			},
			"required": []any{"sku", "count"},
		},
		Environment:     map[string]string{"merchant": "m-42"},
		Method:          domain.MethodPost,
		URLTemplate:     srv.URL + "/orders",
		HeadersTemplate: map[string]any{},
		QueryTemplate:   map[string]any{},
		BodyTemplate: map[string]any{
			"sku":      "{sku}",
			"count":    "{count}",
			"merchant": "{merchant}",
			"meta": map[string]any{
				"note": "ordered {count}x {sku}",
			},
		},
	}

	inv, err := New(def)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := inv.Invoke(context.Background(), map[string]any{"sku": "abc", "count": 2}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotBody["sku"] != "abc" {
		t.Errorf("body sku = %v", gotBody["sku"])
	}
	// Whole-token placeholder keeps the raw numeric type through JSON.
	if gotBody["count"] != 2.0 {
		t.Errorf("body count = %v (%T), want 2", gotBody["count"], gotBody["count"])
	}
	if gotBody["merchant"] != "m-42" {
		t.Errorf("body merchant = %v", gotBody["merchant"])
	}
	meta, ok := gotBody["meta"].(map[string]any)
	if !ok || meta["note"] != "ordered 2x abc" {
		t.Errorf("body meta = %v", gotBody["meta"])
	}
}

func TestInvoke_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	inv, err := New(weatherTool(srv.URL))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = inv.Invoke(context.Background(), map[string]any{"city": "Oslo"})
	if !domain.IsCode(err, domain.CodeToolExecution) {
		t.Errorf("Invoke() error = %v, want tool_execution_error", err)
	}
}

func TestInvoke_NonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	inv, err := New(weatherTool(srv.URL))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = inv.Invoke(context.Background(), map[string]any{"city": "Oslo"})
	if !domain.IsCode(err, domain.CodeToolExecution) {
		t.Errorf("Invoke() error = %v, want tool_execution_error", err)
	}
}

func TestInvoke_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // deliberately unreachable

	inv, err := New(weatherTool(srv.URL))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = inv.Invoke(context.Background(), map[string]any{"city": "Oslo"})
	if !domain.IsCode(err, domain.CodeToolExecution) {
		t.Errorf("Invoke() error = %v, want tool_execution_error", err)
	}
}

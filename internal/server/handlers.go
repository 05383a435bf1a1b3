package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agentforge/engine/internal/domain"
	"github.com/agentforge/engine/internal/settlement"
	"github.com/agentforge/engine/internal/storage"
)

// Handlers routes API requests to the store and the turn pipeline.
type Handlers struct {
	store    storage.Store
	pipeline *settlement.Pipeline
	logger   *slog.Logger
}

func NewHandlers(store storage.Store, pipeline *settlement.Pipeline, logger *slog.Logger) *Handlers {
	return &Handlers{store: store, pipeline: pipeline, logger: logger}
}

func (h *Handlers) Mount(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/users", h.createUser)
		r.Get("/users/{userID}", h.getUser)
		r.Post("/users/{userID}/credits", h.addCredits)
		r.Get("/users/{userID}/royalties", h.listRoyalties)

		r.Post("/agents", h.createAgent)
		r.Get("/agents/{agentID}", h.getAgent)

		r.Post("/chats", h.createChat)
		r.Get("/chats/{chatID}", h.getChat)
		r.Post("/chats/{chatID}/messages", h.postMessage)
	})
}

type createUserRequest struct {
	WalletAddress string `json:"wallet_address"`
	Name          string `json:"name"`
	Credits       int64  `json:"credits"`
}

func (h *Handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.WrapError(domain.CodeInvalidArguments, "decoding request body", err))
		return
	}
	if req.WalletAddress == "" {
		writeError(w, r, domain.NewError(domain.CodeInvalidArguments, "wallet_address is required"))
		return
	}

	user := &domain.User{
		ID:            uuid.NewString(),
		WalletAddress: req.WalletAddress,
		Name:          req.Name,
		Credits:       req.Credits,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handlers) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type addCreditsRequest struct {
	Amount int64 `json:"amount"`
}

func (h *Handlers) addCredits(w http.ResponseWriter, r *http.Request) {
	var req addCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.WrapError(domain.CodeInvalidArguments, "decoding request body", err))
		return
	}
	if req.Amount <= 0 {
		writeError(w, r, domain.NewError(domain.CodeInvalidArguments, "amount must be positive"))
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := h.store.AddCredits(r.Context(), userID, req.Amount); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handlers) listRoyalties(w http.ResponseWriter, r *http.Request) {
	royalties, err := h.store.ListRoyalties(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if royalties == nil {
		royalties = []domain.Royalty{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"royalties": royalties})
}

// toolPayload accepts the tool environment on input. The domain type
// never serializes it, so secrets cannot leak back out through reads.
type toolPayload struct {
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	ArgumentsSchema map[string]any    `json:"arguments_schema"`
	Environment     map[string]string `json:"environment"`
	Method          string            `json:"method"`
	URLTemplate     string            `json:"url_template"`
	HeadersTemplate map[string]any    `json:"headers_template"`
	QueryTemplate   map[string]any    `json:"query_template"`
	BodyTemplate    map[string]any    `json:"body_template"`
}

type createAgentRequest struct {
	CreatorID string        `json:"creator_id"`
	Name      string        `json:"name"`
	Biography string        `json:"biography"`
	Directive string        `json:"directive"`
	Rules     []string      `json:"rules"`
	Model     string        `json:"model"`
	Tools     []toolPayload `json:"tools"`
}

func (h *Handlers) createAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.WrapError(domain.CodeInvalidArguments, "decoding request body", err))
		return
	}
	if req.Name == "" || req.Model == "" || req.CreatorID == "" {
		writeError(w, r, domain.NewError(domain.CodeInvalidArguments, "name, model, and creator_id are required"))
		return
	}
	if _, err := h.store.GetUser(r.Context(), req.CreatorID); err != nil {
		writeError(w, r, err)
		return
	}

	def := &domain.AgentDefinition{
		ID:        uuid.NewString(),
		CreatorID: req.CreatorID,
		Name:      req.Name,
		Biography: req.Biography,
		Directive: req.Directive,
		Rules:     req.Rules,
		Model:     req.Model,
	}
	for _, t := range req.Tools {
		method := domain.HTTPMethod(t.Method)
		if method != domain.MethodGet && method != domain.MethodPost {
			writeError(w, r, domain.NewError(domain.CodeInvalidArguments,
				"tool method must be GET or POST"))
			return
		}
		def.Tools = append(def.Tools, domain.ToolDefinition{
			Name:            t.Name,
			Description:     t.Description,
			ArgumentsSchema: t.ArgumentsSchema,
			Environment:     t.Environment,
			Method:          method,
			URLTemplate:     t.URLTemplate,
			HeadersTemplate: t.HeadersTemplate,
			QueryTemplate:   t.QueryTemplate,
			BodyTemplate:    t.BodyTemplate,
		})
	}

	if err := h.store.CreateAgent(r.Context(), def); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (h *Handlers) getAgent(w http.ResponseWriter, r *http.Request) {
	def, err := h.store.GetAgent(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

type createChatRequest struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
}

func (h *Handlers) createChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.WrapError(domain.CodeInvalidArguments, "decoding request body", err))
		return
	}
	if _, err := h.store.GetUser(r.Context(), req.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.store.GetAgent(r.Context(), req.AgentID); err != nil {
		writeError(w, r, err)
		return
	}

	chat := &domain.Chat{
		ID:      uuid.NewString(),
		UserID:  req.UserID,
		AgentID: req.AgentID,
	}
	if err := h.store.CreateChat(r.Context(), chat); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *Handlers) getChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.store.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

type postMessageRequest struct {
	Content string `json:"content"`
}

type postMessageResponse struct {
	Chat  *domain.Chat   `json:"chat"`
	Reply domain.Message `json:"reply"`
	Title string         `json:"title,omitempty"`
	Usage domain.Usage   `json:"usage"`
	Cost  int64          `json:"cost"`
}

func (h *Handlers) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.WrapError(domain.CodeInvalidArguments, "decoding request body", err))
		return
	}
	if req.Content == "" {
		writeError(w, r, domain.NewError(domain.CodeInvalidArguments, "content is required"))
		return
	}

	chatID := chi.URLParam(r, "chatID")
	AddLogField(r.Context(), "chat_id", chatID)

	result, err := h.pipeline.HandleUserMessage(r.Context(), chatID, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, postMessageResponse{
		Chat:  result.Chat,
		Reply: result.Reply,
		Title: result.Title,
		Usage: result.Usage,
		Cost:  result.Cost,
	})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	status := http.StatusInternalServerError
	body := errorBody{Code: "internal_error", Message: "internal error"}

	var de *domain.Error
	if errors.As(err, &de) {
		status = de.HTTPStatusCode()
		body = errorBody{Code: string(de.Code), Message: de.Message}
	}

	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

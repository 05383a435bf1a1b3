package domain

// HTTPMethod is the restricted method set a tool may use.
type HTTPMethod string

const (
	MethodGet  HTTPMethod = "GET"
	MethodPost HTTPMethod = "POST"
)

// ToolDefinition describes one externally-hosted HTTP action an agent
// may invoke. It is pure data: a JSON-Schema contract for the caller's
// arguments plus templates for the request parts. Environment holds
// secret key/value pairs that are merged into the substitution map but
// never exposed to the model or to callers.
type ToolDefinition struct {
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	ArgumentsSchema map[string]any    `json:"arguments_schema"`
	Environment     map[string]string `json:"-"`
	Method          HTTPMethod        `json:"method"`
	URLTemplate     string            `json:"url_template"`
	HeadersTemplate map[string]any    `json:"headers_template"`
	QueryTemplate   map[string]any    `json:"query_template"`
	BodyTemplate    map[string]any    `json:"body_template"`
}

// AgentDefinition is the full agent record, private fields included.
// It is immutable for the duration of one orchestration run and is
// fetched fresh at the start of each turn.
type AgentDefinition struct {
	ID        string           `json:"id"`
	CreatorID string           `json:"creator_id"`
	Name      string           `json:"name"`
	Biography string           `json:"biography"`
	Directive string           `json:"directive"`
	Rules     []string         `json:"rules"`
	Model     string           `json:"model"`
	Tools     []ToolDefinition `json:"tools"`
}

// User carries the prepaid credit balance metered by settlement.
type User struct {
	ID            string `json:"id"`
	WalletAddress string `json:"wallet_address"`
	Name          string `json:"name,omitempty"`
	Credits       int64  `json:"credits"`
}

// Royalty is one pending payout owed to an agent's creator,
// appended once per settled turn.
type Royalty struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	CreatorID string `json:"creator_id"`
	Amount    int64  `json:"amount"`
}

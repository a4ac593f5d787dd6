package envelope

// Typed payload variants for each intent. Context stays a string-keyed map
// on the wire (for interop with external processes), but handler code
// should decode into one of these via Envelope.UnmarshalContext rather
// than walking the map by hand.

// SearchQueryPayload is the Context shape of a SEARCH QUERY.
type SearchQueryPayload struct {
	Query      string                 `json:"query"`
	MaxResults int                    `json:"max_results"`
	Filters    map[string]interface{} `json:"filters,omitempty"`
}

// SearchResponsePayload is the Context shape of a SEARCH RESPONSE.
type SearchResponsePayload struct {
	Results []interface{} `json:"results"`
	Total   int           `json:"total"`
	AgentID string        `json:"agent_id"`
	Domain  string        `json:"domain"`
}

// StatusResponsePayload is the Context shape of a STATUS RESPONSE.
type StatusResponsePayload struct {
	AgentID        string         `json:"agent_id"`
	Domain         string         `json:"domain"`
	Silo           string         `json:"silo"`
	State          string         `json:"state"`
	QueriesHandled int64          `json:"queries_handled"`
	GrantsIndexed  int64          `json:"grants_indexed"`
	Errors         int64          `json:"errors"`
	Capabilities   []string       `json:"capabilities"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// FetchQueryPayload is the Context shape of a FETCH QUERY.
type FetchQueryPayload struct {
	Limit int `json:"limit"`
}

// FetchResponsePayload is the Context shape of a FETCH RESPONSE.
type FetchResponsePayload struct {
	Records []map[string]interface{} `json:"records"`
}

// AnalyzeQueryPayload is the Context shape of an ANALYZE QUERY (used for
// the orchestrator's expert-hints pass and domain eligibility checks).
type AnalyzeQueryPayload struct {
	Query   string                 `json:"query"`
	Filters map[string]interface{} `json:"filters,omitempty"`
}

// AnalyzeResponsePayload is the Context shape of an ANALYZE RESPONSE.
type AnalyzeResponsePayload struct {
	Hint string `json:"hint"`
}

// ValidateQueryPayload is the Context shape of a VALIDATE QUERY.
type ValidateQueryPayload struct {
	GrantID string `json:"grant_id"`
}

// ValidateResponsePayload is the Context shape of a VALIDATE RESPONSE.
type ValidateResponsePayload struct {
	GrantID string   `json:"grant_id"`
	Valid   bool     `json:"valid"`
	Reasons []string `json:"reasons,omitempty"`
}

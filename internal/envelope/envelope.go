// Package envelope provides the wire-level message record exchanged between
// the orchestrator and the domain agents of the grant-search mesh.
//
// Every cross-component call carries an Envelope or returns one; no
// component mutates another's state. Envelopes are treated as immutable
// after construction — Reply and Fail build new envelopes rather than
// mutating the one they respond to.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an envelope's role in the request/response protocol.
type Kind string

const (
	KindQuery        Kind = "QUERY"
	KindResponse     Kind = "RESPONSE"
	KindCommand      Kind = "COMMAND"
	KindNotification Kind = "NOTIFICATION"
	KindError        Kind = "ERROR"
)

// Intent names the operation an envelope requests. Each intent has a fixed
// payload schema, carried as JSON under Context (see payloads.go).
type Intent string

const (
	IntentSearch   Intent = "SEARCH"
	IntentAnalyze  Intent = "ANALYZE"
	IntentValidate Intent = "VALIDATE"
	IntentFetch    Intent = "FETCH"
	IntentUpdate   Intent = "UPDATE"
	IntentStatus   Intent = "STATUS"
	IntentScrape   Intent = "SCRAPE"
)

// ErrorCode enumerates the error kinds carried by ERROR envelopes.
type ErrorCode string

const (
	ErrInvalidMessage      ErrorCode = "INVALID_MESSAGE"
	ErrNoHandler           ErrorCode = "NO_HANDLER"
	ErrProcessingError     ErrorCode = "PROCESSING_ERROR"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
)

// ProtocolVersion is the version string stamped on every envelope produced
// by this module and copied verbatim into every reply.
const ProtocolVersion = "grantmesh/1"

// Envelope is the immutable message record for all inter-agent traffic.
type Envelope struct {
	Version       string                 `json:"version"`
	Kind          Kind                   `json:"kind"`
	Sender        string                 `json:"sender"`
	Receiver      string                 `json:"receiver,omitempty"`
	Intent        Intent                 `json:"intent"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Embedding     []float32              `json:"embedding,omitempty"`
	CorrelationID string                 `json:"correlation_id"`
	CreatedAt     time.Time              `json:"created_at"`
	TTLSeconds    int64                  `json:"ttl_seconds,omitempty"`
	Priority      int                    `json:"priority,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// New constructs a QUERY/COMMAND/NOTIFICATION envelope with a freshly
// generated correlation id. Use Reply/Fail to build responses that share
// the correlation id of a prior envelope.
func New(kind Kind, sender, receiver string, intent Intent, context map[string]interface{}) *Envelope {
	if context == nil {
		context = make(map[string]interface{})
	}
	return &Envelope{
		Version:       ProtocolVersion,
		Kind:          kind,
		Sender:        sender,
		Receiver:      receiver,
		Intent:        intent,
		Context:       context,
		CorrelationID: uuid.New().String(),
		CreatedAt:     time.Now(),
		TTLSeconds:    0,
		Priority:      1,
		Metadata:      make(map[string]interface{}),
	}
}

// NewSearchQuery builds a SEARCH QUERY envelope addressed to receiver
// (empty receiver means "route by intent/strategy").
func NewSearchQuery(sender, receiver, query string, maxResults int, filters map[string]interface{}) *Envelope {
	return New(KindQuery, sender, receiver, IntentSearch, map[string]interface{}{
		"query":       query,
		"max_results": maxResults,
		"filters":     filters,
	})
}

// NewStatusQuery builds a STATUS QUERY envelope.
func NewStatusQuery(sender, receiver string) *Envelope {
	return New(KindQuery, sender, receiver, IntentStatus, nil)
}

// NewScrapeCommand builds a SCRAPE COMMAND envelope.
func NewScrapeCommand(sender, receiver, sourceURL string) *Envelope {
	return New(KindCommand, sender, receiver, IntentScrape, map[string]interface{}{
		"source_url": sourceURL,
	})
}

// NewAnalyzeQuery builds an ANALYZE QUERY envelope, used for the
// expert-hints pass and domain-specific eligibility analysis.
func NewAnalyzeQuery(sender, receiver, query string, filters map[string]interface{}) *Envelope {
	return New(KindQuery, sender, receiver, IntentAnalyze, map[string]interface{}{
		"query":   query,
		"filters": filters,
	})
}

// NewValidateQuery builds a VALIDATE QUERY envelope.
func NewValidateQuery(sender, receiver, grantID string) *Envelope {
	return New(KindQuery, sender, receiver, IntentValidate, map[string]interface{}{
		"grant_id": grantID,
	})
}

// NewFetchQuery builds a FETCH QUERY envelope.
func NewFetchQuery(sender, receiver string, limit int) *Envelope {
	return New(KindQuery, sender, receiver, IntentFetch, map[string]interface{}{
		"limit": limit,
	})
}

// NewUpdateCommand builds an UPDATE COMMAND envelope carrying a grant to
// be re-ingested.
func NewUpdateCommand(sender, receiver string, grant interface{}) *Envelope {
	data, _ := json.Marshal(grant)
	var ctx map[string]interface{}
	_ = json.Unmarshal(data, &ctx)
	return New(KindCommand, sender, receiver, IntentUpdate, ctx)
}

// Reply builds a RESPONSE envelope: sender/receiver swapped, same
// correlation id, version and priority copied verbatim.
func (e *Envelope) Reply(context map[string]interface{}) *Envelope {
	if context == nil {
		context = make(map[string]interface{})
	}
	return &Envelope{
		Version:       e.Version,
		Kind:          KindResponse,
		Sender:        e.Receiver,
		Receiver:      e.Sender,
		Intent:        e.Intent,
		Context:       context,
		CorrelationID: e.CorrelationID,
		CreatedAt:     time.Now(),
		TTLSeconds:    e.TTLSeconds,
		Priority:      e.Priority,
		Metadata:      make(map[string]interface{}),
	}
}

// Fail builds an ERROR envelope: sender/receiver swapped, same correlation
// id, original context preserved under "original_context".
func (e *Envelope) Fail(message string, code ErrorCode) *Envelope {
	return &Envelope{
		Version:  e.Version,
		Kind:     KindError,
		Sender:   e.Receiver,
		Receiver: e.Sender,
		Intent:   e.Intent,
		Context: map[string]interface{}{
			"message":          message,
			"code":             string(code),
			"original_context": e.Context,
		},
		CorrelationID: e.CorrelationID,
		CreatedAt:     time.Now(),
		TTLSeconds:    e.TTLSeconds,
		Priority:      e.Priority,
		Metadata:      make(map[string]interface{}),
	}
}

// Validate rejects an envelope missing required fields or whose TTL has
// elapsed.
func (e *Envelope) Validate() error {
	if e.Sender == "" {
		return &ValidationError{Field: "sender", Message: "sender is required"}
	}
	if e.Intent == "" {
		return &ValidationError{Field: "intent", Message: "intent is required"}
	}
	if e.Kind == "" {
		return &ValidationError{Field: "kind", Message: "kind is required"}
	}
	if e.IsExpired() {
		return &ValidationError{Field: "ttl_seconds", Message: "envelope has expired"}
	}
	return nil
}

// IsExpired reports whether created_at + ttl_seconds has passed. A
// TTLSeconds of zero means no expiry.
func (e *Envelope) IsExpired() bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return time.Now().After(e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// ValidationError represents an envelope validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ToJSON serializes the envelope to JSON.
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an envelope from JSON.
func FromJSON(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// UnmarshalContext re-marshals Context and unmarshals it into v, letting
// handlers decode the typed payload for their intent.
func (e *Envelope) UnmarshalContext(v interface{}) error {
	data, err := json.Marshal(e.Context)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

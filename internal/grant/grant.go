// Package grant defines the grant-funding record owned by a single agent
// and the flattening convention used to store its nested fields in a
// vector backend that only accepts primitive metadata values.
package grant

import (
	"encoding/json"
	"strings"
	"time"
)

// AmountRange is a numeric funding-amount range.
type AmountRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Eligibility is a structured sub-record of eligibility rules.
type Eligibility struct {
	Countries      []string `json:"countries,omitempty"`
	OrgTypes       []string `json:"org_types,omitempty"`
	MinTRL         int      `json:"min_trl,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

// Grant is a single funding opportunity, owned by exactly one agent's
// collection. grant_id is unique within that collection; the same id may
// appear in another agent's collection when the same source is mirrored
// across silos.
type Grant struct {
	GrantID              string                 `json:"grant_id"`
	Title                string                 `json:"title"`
	Description          string                 `json:"description"`
	Provider             string                 `json:"provider"`
	Silo                 string                 `json:"silo"`
	Domain               string                 `json:"domain"`
	Currency             string                 `json:"currency"`
	Amount               AmountRange            `json:"amount"`
	Deadline             time.Time              `json:"deadline"`
	Sectors              []string               `json:"sectors"`
	Eligibility          Eligibility            `json:"eligibility"`
	SourceURL            string                 `json:"source_url"`
	SupplementaryURLs    []string               `json:"supplementary_urls,omitempty"`
	SupportingDocumentURLs []string             `json:"supporting_document_urls,omitempty"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`

	// Derived fields, attached at index time.
	OwningAgentID string    `json:"owning_agent_id,omitempty"`
	IndexedAt     time.Time `json:"indexed_at,omitempty"`
}

// Scored is a Grant annotated with the scores the hybrid search and the
// orchestrator's re-ranking pass attach before returning it.
type Scored struct {
	Grant
	SemanticScore   float64 `json:"semantic_score"`
	KeywordScore    float64 `json:"keyword_score"`
	CombinedScore   float64 `json:"combined_score"`
	RelevanceScore  float64 `json:"relevance_score"`
	AgentSource     string  `json:"agent_source"`
}

// BuildDocument assembles the canonical text document a grant is embedded
// from: title, description, sector tags, and eligibility text. Domain
// agents may override this via Agent.BuildDocument to fold in
// funding-body-specific fields.
func BuildDocument(g Grant) string {
	var b strings.Builder
	b.WriteString(g.Title)
	b.WriteString(". ")
	b.WriteString(g.Description)
	if len(g.Sectors) > 0 {
		b.WriteString(". Sectors: ")
		b.WriteString(strings.Join(g.Sectors, ", "))
	}
	if g.Eligibility.Notes != "" {
		b.WriteString(". Eligibility: ")
		b.WriteString(g.Eligibility.Notes)
	}
	if len(g.Eligibility.Countries) > 0 {
		b.WriteString(". Countries: ")
		b.WriteString(strings.Join(g.Eligibility.Countries, ", "))
	}
	return b.String()
}

// Tokenize lowercases s and splits it into a set of word tokens, used for
// the lexical half of hybrid search.
func Tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

// FlattenMetadata produces the flat, primitive-valued map stored alongside
// a grant's embedding in the vector backend. Structured fields (sectors,
// eligibility, amount range, URL lists, nested metadata) are serialized to
// JSON text; nil values are dropped. This is the write side of the
// nested-metadata round-trip described in spec.md §9.
func FlattenMetadata(g Grant) map[string]interface{} {
	flat := map[string]interface{}{
		"grant_id":          g.GrantID,
		"title":             g.Title,
		"description":       g.Description,
		"provider":          g.Provider,
		"silo":              g.Silo,
		"domain":            g.Domain,
		"currency":          g.Currency,
		"source_url":        g.SourceURL,
		"owning_agent_id":   g.OwningAgentID,
		"amount_min":        g.Amount.Min,
		"amount_max":        g.Amount.Max,
		"sectors":           encodeNested(g.Sectors),
		"eligibility":       encodeNested(g.Eligibility),
		"supplementary_urls": encodeNested(g.SupplementaryURLs),
		"supporting_document_urls": encodeNested(g.SupportingDocumentURLs),
	}
	for _, k := range []string{"sectors", "supplementary_urls", "supporting_document_urls"} {
		if flat[k] == "null" {
			delete(flat, k)
		}
	}
	if !g.Deadline.IsZero() {
		flat["deadline"] = g.Deadline.Format(time.RFC3339)
	}
	if !g.IndexedAt.IsZero() {
		flat["indexed_at"] = g.IndexedAt.Format(time.RFC3339)
	}
	for k, v := range g.Metadata {
		if v == nil {
			continue
		}
		switch v.(type) {
		case string, bool, int, int64, float32, float64:
			flat["meta_"+k] = v
		default:
			flat["meta_"+k] = encodeNested(v)
		}
	}
	return flat
}

// encodeNested serializes a composite value to its JSON text form so it
// can be stored as a primitive metadata value.
func encodeNested(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// UnflattenMetadata reconstructs a Grant from the flat metadata map a
// vector backend returns. Any value whose text starts with '[' or '{' is
// parsed back into its structured form; parse failures fall back to the
// raw string, per spec.md §9.
func UnflattenMetadata(flat map[string]interface{}) Grant {
	var g Grant
	g.GrantID = str(flat["grant_id"])
	g.Title = str(flat["title"])
	g.Description = str(flat["description"])
	g.Provider = str(flat["provider"])
	g.Silo = str(flat["silo"])
	g.Domain = str(flat["domain"])
	g.Currency = str(flat["currency"])
	g.SourceURL = str(flat["source_url"])
	g.OwningAgentID = str(flat["owning_agent_id"])
	g.Amount = AmountRange{Min: num(flat["amount_min"]), Max: num(flat["amount_max"])}

	if s := str(flat["deadline"]); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			g.Deadline = t
		}
	}
	if s := str(flat["indexed_at"]); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			g.IndexedAt = t
		}
	}

	decodeNestedInto(str(flat["sectors"]), &g.Sectors)
	decodeNestedInto(str(flat["eligibility"]), &g.Eligibility)
	decodeNestedInto(str(flat["supplementary_urls"]), &g.SupplementaryURLs)
	decodeNestedInto(str(flat["supporting_document_urls"]), &g.SupportingDocumentURLs)

	meta := make(map[string]interface{})
	for k, v := range flat {
		if !strings.HasPrefix(k, "meta_") {
			continue
		}
		key := strings.TrimPrefix(k, "meta_")
		if s, ok := v.(string); ok && looksNested(s) {
			var parsed interface{}
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				meta[key] = parsed
				continue
			}
		}
		meta[key] = v
	}
	if len(meta) > 0 {
		g.Metadata = meta
	}

	return g
}

func looksNested(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{")
}

func decodeNestedInto(s string, out interface{}) {
	if s == "" || !looksNested(s) {
		return
	}
	_ = json.Unmarshal([]byte(s), out)
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func num(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

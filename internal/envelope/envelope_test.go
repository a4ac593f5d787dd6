package envelope

import (
	"testing"
	"time"
)

func TestReplySwapsEndpointsAndKeepsCorrelation(t *testing.T) {
	q := NewSearchQuery("orchestrator", "IUK", "AI funding", 10, nil)

	resp := q.Reply(map[string]interface{}{"total": 1})

	if resp.CorrelationID != q.CorrelationID {
		t.Fatalf("correlation id mismatch: got %s want %s", resp.CorrelationID, q.CorrelationID)
	}
	if resp.Sender != q.Receiver || resp.Receiver != q.Sender {
		t.Fatalf("endpoints not swapped: sender=%s receiver=%s", resp.Sender, resp.Receiver)
	}
	if resp.Version != q.Version {
		t.Fatalf("version not copied verbatim")
	}
	if resp.Kind != KindResponse {
		t.Fatalf("expected RESPONSE kind, got %s", resp.Kind)
	}
}

func TestFailPreservesOriginalContext(t *testing.T) {
	q := NewSearchQuery("orchestrator", "NIHR", "clinical trials", 10, nil)
	errEnv := q.Fail("boom", ErrProcessingError)

	if errEnv.Kind != KindError {
		t.Fatalf("expected ERROR kind")
	}
	if errEnv.CorrelationID != q.CorrelationID {
		t.Fatalf("correlation id mismatch")
	}
	orig, ok := errEnv.Context["original_context"]
	if !ok {
		t.Fatalf("expected original_context to be preserved")
	}
	origMap, ok := orig.(map[string]interface{})
	if !ok || origMap["query"] != "clinical trials" {
		t.Fatalf("original_context not preserved correctly: %v", orig)
	}
	if errEnv.Context["code"] != string(ErrProcessingError) {
		t.Fatalf("error code not set")
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	e := &Envelope{Kind: KindQuery, Intent: IntentSearch}
	if err := e.Validate(); err == nil {
		t.Fatalf("expected validation error for missing sender")
	}

	e.Sender = "orchestrator"
	e.Intent = ""
	if err := e.Validate(); err == nil {
		t.Fatalf("expected validation error for missing intent")
	}
}

func TestValidateRejectsExpiredEnvelope(t *testing.T) {
	e := NewSearchQuery("orchestrator", "IUK", "q", 10, nil)
	e.TTLSeconds = 1
	e.CreatedAt = time.Now().Add(-2 * time.Second)

	if err := e.Validate(); err == nil {
		t.Fatalf("expected expired envelope to fail validation")
	}
}

func TestJSONRoundTripPreservesFields(t *testing.T) {
	e := NewSearchQuery("orchestrator", "", "AI funding", 10, map[string]interface{}{"silos": []interface{}{"UK"}})
	e.Priority = 3
	e.Embedding = []float32{0.1, 0.2, 0.3}
	e.Metadata["sme_context"] = "hint text"

	data, err := e.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	restored, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}

	if restored.CorrelationID != e.CorrelationID || restored.Priority != e.Priority {
		t.Fatalf("round trip lost fields: %+v vs %+v", restored, e)
	}
	if restored.Metadata["sme_context"] != "hint text" {
		t.Fatalf("metadata side channel not preserved")
	}
	if len(restored.Embedding) != 3 {
		t.Fatalf("embedding not preserved")
	}
}

func TestRingBufferFIFOEviction(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Append(NewStatusQuery("orchestrator", "IUK"))
	}

	last := rb.Last(10)
	if len(last) != 3 {
		t.Fatalf("expected capacity-bounded history of 3, got %d", len(last))
	}
}

func TestRingBufferByCorrelation(t *testing.T) {
	rb := NewRingBuffer(10)
	q := NewSearchQuery("orchestrator", "IUK", "q", 10, nil)
	resp := q.Reply(nil)

	rb.Append(q)
	rb.Append(NewStatusQuery("orchestrator", "NIHR"))
	rb.Append(resp)

	matches := rb.ByCorrelation(q.CorrelationID)
	if len(matches) != 2 {
		t.Fatalf("expected 2 envelopes sharing correlation id, got %d", len(matches))
	}
}

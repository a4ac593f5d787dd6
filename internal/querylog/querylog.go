// Package querylog provides an append-only record of every query the
// orchestrator serves, for offline analysis of routing decisions, latency,
// and cache behavior — never consulted by the query path itself.
package querylog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Filters mirrors the silo/domain narrowing a query was run with, kept as
// its own type here rather than imported from public/orchestrator so this
// package has no dependency on the orchestrator it serves.
type Filters struct {
	Silos   []string `json:"silos,omitempty"`
	Domains []string `json:"domains,omitempty"`
}

// Record captures one orchestrated query per spec.md §6's query-log row:
// query text, filters, which agents it was routed to, the result count,
// total latency, whether it was served from cache, the routing strategy in
// effect, the cache's running hit rate, and the orchestrator version —
// spec.md §6's mandated minimum field set.
type Record struct {
	Timestamp     time.Time `json:"timestamp"`
	Query         string    `json:"query"`
	Filters       Filters   `json:"filters"`
	AgentsQueried []string  `json:"agents_queried"`
	ResultCount   int       `json:"result_count"`
	LatencyMS     int64     `json:"latency_ms"`
	CacheHit      bool      `json:"cache_hit"`
	Error         string    `json:"error,omitempty"`

	RoutingStrategy     string  `json:"routing_strategy"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
	OrchestratorVersion string  `json:"orchestrator_version"`
}

// Logger owns a single writer goroutine fed by a buffered channel (see
// Open for the buffer size). Append does not block the calling query while
// the buffer has room, blocks until there is room once it is full, and
// never fails the request. Grounded on atomic/logging.SessionLogger's mutex-guarded
// file-handle shape, adapted to be channel-fed instead of directly
// mutex-guarded since exactly one goroutine (not many callers) ever
// touches the file here.
type Logger struct {
	records chan Record
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Open creates (or appends to) the JSONL file at path and starts the
// writer goroutine. A non-positive buffer size defaults to 1024 pending
// records before Append starts blocking the caller — unbounded in
// practice for the mesh's expected query volume.
func Open(path string, bufferSize int) (*Logger, error) {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("querylog: open %s: %w", path, err)
	}

	l := &Logger{
		records: make(chan Record, bufferSize),
	}
	l.wg.Add(1)
	go l.run(f)
	return l, nil
}

func (l *Logger) run(f *os.File) {
	defer l.wg.Done()
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	enc := json.NewEncoder(w)
	for rec := range l.records {
		if err := enc.Encode(rec); err != nil {
			fmt.Fprintf(os.Stderr, "querylog: encode record: %v\n", err)
			continue
		}
		w.Flush()
	}
}

// Append enqueues rec for writing. Non-blocking under normal load; if the
// buffer is full it still writes (blocking briefly) rather than dropping,
// since spec.md §7 only promises query-serving never fails on a log
// error, not that logging itself may silently lose records.
func (l *Logger) Append(rec Record) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	rec.Timestamp = rec.Timestamp.UTC()
	select {
	case l.records <- rec:
	default:
		// Buffer momentarily full: still deliver, just no longer non-blocking.
		l.records <- rec
	}
}

// Close signals the writer goroutine to drain and stop, and waits for it.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.records)
	l.wg.Wait()
	return nil
}

// enrichment_store.go provides thread-safe storage for per-run enrichment data
// that correlates hooks with errors captured at the runner boundary.

package agentssdk

import "sync"

// Enrichment contains per-run context captured from hooks.
// It becomes tags and extra data on captured events.
type Enrichment struct {
	// AgentName is the name of the agent that was running.
	AgentName string

	// Model is the LLM model being used.
	Model string

	// ToolName is the name of the tool being called.
	ToolName string

	// ToolCallID is the unique ID of the tool call.
	ToolCallID string

	// Operation indicates what type of operation was in progress (tool, llm).
	Operation string

	// OperationID is an identifier for the specific operation.
	OperationID string

	// PanicReported is set once a hook panic has been captured, so the
	// runner boundary does not report the same panic again.
	PanicReported bool

	historySize      int
	operationHistory *operationHistoryBuffer
}

// RecordOperation appends rec to the run's operation history.
func (e *Enrichment) RecordOperation(rec OperationRecord) {
	if e.operationHistory == nil {
		e.operationHistory = newOperationHistoryBuffer(e.historySize)
	}
	e.operationHistory.Add(rec)
}

// UpdateLastOperation applies fn to the most recent operation of kind.
func (e *Enrichment) UpdateLastOperation(kind string, fn func(*OperationRecord)) bool {
	if e.operationHistory == nil {
		return false
	}
	return e.operationHistory.UpdateLast(kind, fn)
}

// GetOperationHistory returns the recorded operations, oldest first. It never
// returns nil.
func (e *Enrichment) GetOperationHistory() []OperationRecord {
	if e.operationHistory == nil {
		return []OperationRecord{}
	}
	return e.operationHistory.GetAll()
}

// EnrichmentStore provides thread-safe storage for per-run enrichment data.
// Implementations must be safe for concurrent use.
type EnrichmentStore interface {
	// Update applies fn to the enrichment for runID, creating it if needed.
	// fn runs under the store lock and must not call back into the store.
	Update(runID string, fn func(e *Enrichment))

	// Get returns a copy of the enrichment for runID.
	// Returns zero value and false if not found.
	Get(runID string) (Enrichment, bool)

	// Delete removes the enrichment for runID.
	Delete(runID string)
}

// EnrichmentStoreOption configures the in-memory store.
type EnrichmentStoreOption func(*inMemoryEnrichmentStore)

// WithHistorySize bounds the operation history kept per run
// (default: DefaultHistorySize).
func WithHistorySize(n int) EnrichmentStoreOption {
	return func(s *inMemoryEnrichmentStore) {
		if n > 0 {
			s.historySize = n
		}
	}
}

// inMemoryEnrichmentStore is the default EnrichmentStore implementation.
type inMemoryEnrichmentStore struct {
	mu          sync.RWMutex
	data        map[string]*Enrichment
	historySize int
}

// NewEnrichmentStore creates a new in-memory enrichment store.
func NewEnrichmentStore(opts ...EnrichmentStoreOption) EnrichmentStore {
	s := &inMemoryEnrichmentStore{
		data:        make(map[string]*Enrichment),
		historySize: DefaultHistorySize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update applies fn to the enrichment for runID, creating it if needed.
func (s *inMemoryEnrichmentStore) Update(runID string, fn func(e *Enrichment)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[runID]
	if !ok {
		e = &Enrichment{historySize: s.historySize}
		s.data[runID] = e
	}
	fn(e)
}

// Get returns a copy of the enrichment for runID, history included.
func (s *inMemoryEnrichmentStore) Get(runID string) (Enrichment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[runID]
	if !ok {
		return Enrichment{}, false
	}
	c := *e
	c.operationHistory = e.operationHistory.clone()
	return c, true
}

// Delete removes the enrichment for runID.
func (s *inMemoryEnrichmentStore) Delete(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, runID)
}

// Package mock provides in-memory test doubles for the memory layer interfaces.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	idx := &mock.FactIndex{}
//	idx.SearchResult = []memory.Fact{{Content: "The smith owes the innkeeper."}}
//
//	// inject idx into the system under test …
//
//	if got := idx.CallCount("SearchFacts"); got != 1 {
//	    t.Errorf("expected 1 SearchFacts call, got %d", got)
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.FactIndex    = (*FactIndex)(nil)
	_ memory.HistoryStore = (*HistoryStore)(nil)
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// recorder is the shared call log.
type recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recorder) record(method string, args ...any) {
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// CallCount returns how many times the named method was invoked.
func (r *recorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// FactIndex is a configurable test double for [memory.FactIndex]. Indexed
// facts are kept in Indexed.
type FactIndex struct {
	recorder

	// Indexed holds every fact passed to IndexFact.
	Indexed []memory.Fact

	// IndexErr is returned by [FactIndex.IndexFact] when non-nil.
	IndexErr error

	// SearchResult is returned by [FactIndex.SearchFacts]. When nil,
	// SearchFacts returns an empty non-nil slice.
	SearchResult []memory.Fact

	// SearchErr is returned by [FactIndex.SearchFacts] when non-nil.
	SearchErr error
}

// IndexFact implements [memory.FactIndex].
func (m *FactIndex) IndexFact(_ context.Context, fact memory.Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("IndexFact", fact)
	if m.IndexErr != nil {
		return m.IndexErr
	}
	m.Indexed = append(m.Indexed, fact)
	return nil
}

// SearchFacts implements [memory.FactIndex].
func (m *FactIndex) SearchFacts(_ context.Context, q memory.FactQuery) ([]memory.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SearchFacts", q)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if m.SearchResult == nil {
		return []memory.Fact{}, nil
	}
	return slices.Clone(m.SearchResult), nil
}

// HistoryStore is an in-memory [memory.HistoryStore] that also records
// calls.
type HistoryStore struct {
	recorder

	lines map[string][]memory.Line

	// AppendErr is returned by [HistoryStore.Append] when non-nil.
	AppendErr error

	// RecentErr is returned by [HistoryStore.Recent] when non-nil.
	RecentErr error
}

// Append implements [memory.HistoryStore].
func (m *HistoryStore) Append(_ context.Context, conversationID string, lines ...memory.Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Append", conversationID, slices.Clone(lines))
	if m.AppendErr != nil {
		return m.AppendErr
	}
	if m.lines == nil {
		m.lines = make(map[string][]memory.Line)
	}
	m.lines[conversationID] = append(m.lines[conversationID], lines...)
	return nil
}

// Recent implements [memory.HistoryStore].
func (m *HistoryStore) Recent(_ context.Context, conversationID string, n int) ([]memory.Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Recent", conversationID, n)
	if m.RecentErr != nil {
		return nil, m.RecentErr
	}
	all := m.lines[conversationID]
	if n <= 0 {
		return []memory.Line{}, nil
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return slices.Clone(all), nil
}

// Lines returns every stored line of conversationID.
func (m *HistoryStore) Lines(conversationID string) []memory.Line {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.lines[conversationID])
}

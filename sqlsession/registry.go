// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"fmt"
	"sync"
	"time"
)

// outcome is the single value handed to a waiting statement.
type outcome struct {
	state        QueryState
	stream       *ResultStream
	stored       *StoreResult
	err          error
	payloadBytes int64
	compression  DataCompression
}

// queryRecord is one in-flight statement. Records are never mutated after
// they are stored; transitions replace them.
type queryRecord struct {
	executionID string
	sql         string
	state       QueryState
	store       *Store
	submitted   time.Time
	failTimer   *time.Timer

	// waiter has capacity one and receives exactly one outcome.
	waiter chan outcome
}

func newQueryRecord(id, sql string, store *Store) *queryRecord {
	return &queryRecord{
		executionID: id,
		sql:         sql,
		state:       QueryPending,
		store:       store,
		submitted:   time.Now(),
		waiter:      make(chan outcome, 1),
	}
}

// registry maps execution ids to in-flight records.
type registry struct {
	mu      sync.RWMutex
	queries map[string]*queryRecord
}

func newRegistry() *registry {
	return &registry{queries: make(map[string]*queryRecord)}
}

func (r *registry) register(rec *queryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queries[rec.executionID]; ok {
		return fmt.Errorf("execution id %s is already registered", rec.executionID)
	}
	r.queries[rec.executionID] = rec
	return nil
}

func (r *registry) get(id string) (*queryRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.queries[id]
	return rec, ok
}

// update replaces the record for id with a modified copy and returns it.
func (r *registry) update(id string, fn func(*queryRecord)) (*queryRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.queries[id]
	if !ok {
		return nil, false
	}
	next := *cur
	fn(&next)
	r.queries[id] = &next
	return &next, true
}

// advances reports whether moving from one state to another keeps states
// monotonic: pending, then running, then one terminal state.
func advances(from, to QueryState) bool {
	return stateRank(to) >= stateRank(from) && !from.terminal()
}

func stateRank(s QueryState) int {
	switch s {
	case QueryPending:
		return 0
	case QueryRunning:
		return 1
	default:
		return 2
	}
}

func (r *registry) transition(id string, state QueryState) (*queryRecord, bool) {
	return r.update(id, func(rec *queryRecord) { rec.state = state })
}

// remove deletes and returns the record and stops its failed-query
// fallback. Only the caller that gets ok may deliver to its waiter.
func (r *registry) remove(id string) (*queryRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.queries[id]
	if !ok {
		return nil, false
	}
	delete(r.queries, id)
	if rec.failTimer != nil {
		rec.failTimer.Stop()
	}
	return rec, true
}

// drain removes and returns every record.
func (r *registry) drain() []*queryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := make([]*queryRecord, 0, len(r.queries))
	for id, rec := range r.queries {
		recs = append(recs, rec)
		delete(r.queries, id)
	}
	return recs
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queries)
}

// resolve hands out to the record's waiter after it has been removed.
func (rec *queryRecord) resolve(out outcome) {
	if rec.failTimer != nil {
		rec.failTimer.Stop()
	}
	rec.waiter <- out
}

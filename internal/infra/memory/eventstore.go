// Package memory provides an in-process EventStore, used by tests, benchmarks
// and the estimate path where events are not persisted.
package memory

import (
	"context"
	"sync"

	"github.com/chrisconley/tally/internal"
	aggerrors "github.com/chrisconley/tally/internal/errors"
	"github.com/chrisconley/tally/specs"
)

// EventStore keeps events in ingestion order. Inserted events are never
// modified.
type EventStore struct {
	mu     sync.RWMutex
	events []internal.Event
	byTx   map[txKey]int
}

type txKey struct {
	organizationID string
	transactionID  string
}

var (
	_ internal.EventStore  = (*EventStore)(nil)
	_ internal.Snapshotter = (*EventStore)(nil)
)

func NewEventStore() *EventStore {
	return &EventStore{byTx: make(map[txKey]int)}
}

// Insert appends events. A transaction ID already stored for the same
// organization is rejected and nothing from the batch is kept.
func (s *EventStore) Insert(events ...internal.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[txKey]bool, len(events))
	for _, e := range events {
		key := keyOf(e.OrganizationID, e.TransactionID)
		if _, exists := s.byTx[key]; exists || batch[key] {
			return aggerrors.Newf(aggerrors.TypeInvalidRequest,
				"duplicate transaction %q", e.TransactionID.ToString())
		}
		batch[key] = true
	}

	for _, e := range events {
		s.byTx[keyOf(e.OrganizationID, e.TransactionID)] = len(s.events)
		s.events = append(s.events, e)
	}
	return nil
}

// InsertSpecs validates and inserts events given in their spec form.
func (s *EventStore) InsertSpecs(eventSpecs ...specs.EventSpec) error {
	events := make([]internal.Event, len(eventSpecs))
	for i, spec := range eventSpecs {
		e, err := internal.NewEvent(spec)
		if err != nil {
			return aggerrors.Wrap(aggerrors.TypeInvalidRequest, "invalid event", err).
				WithContext("index", i)
		}
		events[i] = e
	}
	return s.Insert(events...)
}

func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Snapshot holds the read lock for the duration of fn.
func (s *EventStore) Snapshot(ctx context.Context, fn func(internal.EventStore) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.view())
}

func (s *EventStore) view() view {
	return view{events: s.events, byTx: s.byTx}
}

func (s *EventStore) Count(ctx context.Context, q internal.EventQuery) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Count(ctx, q)
}

func (s *EventStore) GroupedCount(ctx context.Context, q internal.EventQuery) ([]internal.GroupCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GroupedCount(ctx, q)
}

func (s *EventStore) Sum(ctx context.Context, q internal.EventQuery) (internal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Sum(ctx, q)
}

func (s *EventStore) GroupedSum(ctx context.Context, q internal.EventQuery) ([]internal.GroupValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GroupedSum(ctx, q)
}

func (s *EventStore) UniqueCount(ctx context.Context, q internal.EventQuery) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().UniqueCount(ctx, q)
}

func (s *EventStore) GroupedUniqueCount(ctx context.Context, q internal.EventQuery) ([]internal.GroupCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GroupedUniqueCount(ctx, q)
}

func (s *EventStore) ActiveUniqueCount(ctx context.Context, q internal.EventQuery) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ActiveUniqueCount(ctx, q)
}

func (s *EventStore) GroupedActiveUniqueCount(ctx context.Context, q internal.EventQuery) ([]internal.GroupCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GroupedActiveUniqueCount(ctx, q)
}

func (s *EventStore) Max(ctx context.Context, q internal.EventQuery) (internal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Max(ctx, q)
}

func (s *EventStore) GroupedMax(ctx context.Context, q internal.EventQuery) ([]internal.GroupValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GroupedMax(ctx, q)
}

func (s *EventStore) Latest(ctx context.Context, q internal.EventQuery) (internal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Latest(ctx, q)
}

func (s *EventStore) GroupedLatest(ctx context.Context, q internal.EventQuery) ([]internal.GroupValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GroupedLatest(ctx, q)
}

func (s *EventStore) EventValues(ctx context.Context, q internal.EventQuery) ([]internal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().EventValues(ctx, q)
}

func (s *EventStore) LastEvent(ctx context.Context, q internal.EventQuery) (*internal.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().LastEvent(ctx, q)
}

func (s *EventStore) Event(ctx context.Context, organizationID internal.OrganizationID, transactionID internal.EventTransactionID) (*internal.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Event(ctx, organizationID, transactionID)
}

func keyOf(organizationID internal.OrganizationID, transactionID internal.EventTransactionID) txKey {
	return txKey{organizationID: organizationID.ToString(), transactionID: transactionID.ToString()}
}

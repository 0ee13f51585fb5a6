package outbox

import (
	"context"
	"sync"
	"time"

	appoutbox "guildchat/internal/app/outbox"
)

const (
	stateNew     = "NEW"
	stateClaimed = "CLAIMED"
	stateSent    = "SENT"
	stateFailed  = "FAILED"
)

// EventDocument is a stored outbox entry with delivery bookkeeping.
type EventDocument struct {
	ID            string
	Name          string
	Payload       []byte
	OccurredAt    time.Time
	Aggregate     string
	Headers       map[string]string
	State         string
	Attempts      int
	NextAttemptAt time.Time
	ClaimedBy     string
	LastError     string
}

// Store keeps outbox entries in memory in arrival order. The worker claims
// one at a time; entries survive process lifetime only, durability for chat
// data itself lives in the message stores.
type Store struct {
	mu   sync.Mutex
	docs []*EventDocument
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// Add implements the app outbox.
func (s *Store) Add(ctx context.Context, record appoutbox.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, &EventDocument{
		ID:            record.ID,
		Name:          record.Name,
		Payload:       record.Payload,
		OccurredAt:    record.OccurredAt,
		Aggregate:     record.Aggregate,
		Headers:       record.Headers,
		State:         stateNew,
		NextAttemptAt: s.now().UTC(),
	})
	return nil
}

// Claim hands the oldest due entry to the worker, or nil when none is due.
func (s *Store) Claim(ctx context.Context, workerID string) (*EventDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for _, doc := range s.docs {
		due := doc.State == stateNew || (doc.State == stateFailed && !doc.NextAttemptAt.After(now))
		if !due {
			continue
		}
		doc.State = stateClaimed
		doc.ClaimedBy = workerID
		doc.Attempts++
		copy := *doc
		return &copy, nil
	}
	return nil, nil
}

func (s *Store) MarkSent(ctx context.Context, id string) error {
	return s.transition(id, stateSent, time.Time{}, "")
}

func (s *Store) MarkFailed(ctx context.Context, id string, nextAttempt time.Time, reason string) error {
	return s.transition(id, stateFailed, nextAttempt, reason)
}

// Pending reports entries not yet published, for readiness probes and tests.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, doc := range s.docs {
		if doc.State != stateSent {
			n++
		}
	}
	return n
}

func (s *Store) transition(id, state string, nextAttempt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.docs {
		if doc.ID != id {
			continue
		}
		doc.State = state
		doc.NextAttemptAt = nextAttempt
		doc.LastError = reason
		doc.ClaimedBy = ""
		return nil
	}
	return nil
}

var _ appoutbox.Outbox = (*Store)(nil)

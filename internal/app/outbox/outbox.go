package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"guildchat/internal/domain/chat"
)

// EventRecord is the stored form of a domain event awaiting publication.
type EventRecord struct {
	ID         string
	Name       string
	Payload    []byte
	OccurredAt time.Time
	Aggregate  string
	Headers    map[string]string
}

// Outbox buffers event records until a worker publishes them.
type Outbox interface {
	Add(ctx context.Context, record EventRecord) error
}

// EventEncoder turns a domain event into its stored record.
type EventEncoder interface {
	Encode(ev chat.DomainEvent) (EventRecord, error)
}

// JSONEventEncoder marshals the event struct as-is.
type JSONEventEncoder struct {
	IDGenerator func() string
}

func (e JSONEventEncoder) Encode(ev chat.DomainEvent) (EventRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRecord{}, err
	}
	idGen := e.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	return EventRecord{
		ID:         idGen(),
		Name:       ev.EventName(),
		Payload:    payload,
		OccurredAt: ev.OccurredAt(),
		Aggregate:  ev.AggregateID(),
		Headers:    map[string]string{},
	}, nil
}

// Recorder adapts an Outbox to the pipeline's event sink.
type Recorder struct {
	Box     Outbox
	Encoder EventEncoder
}

func (r Recorder) Record(ctx context.Context, events ...chat.DomainEvent) error {
	if r.Box == nil || len(events) == 0 {
		return nil
	}
	encoder := r.Encoder
	if encoder == nil {
		encoder = JSONEventEncoder{}
	}
	for _, ev := range events {
		rec, err := encoder.Encode(ev)
		if err != nil {
			return err
		}
		if err := r.Box.Add(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

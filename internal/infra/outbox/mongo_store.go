package outbox

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	appoutbox "guildchat/internal/app/outbox"
)

// MongoStore persists outbox entries so a crash between commit and publish
// loses no event. Claiming is a findOneAndUpdate, safe across worker replicas.
type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	col := db.Collection("chat_outbox")
	idx := mongo.IndexModel{Keys: bson.D{{Key: "state", Value: 1}, {Key: "next_attempt_at", Value: 1}}}
	_, _ = col.Indexes().CreateOne(context.Background(), idx)
	return &MongoStore{col: col}
}

func (s *MongoStore) Add(ctx context.Context, record appoutbox.EventRecord) error {
	now := time.Now().UTC()
	doc := bson.M{
		"_id":             record.ID,
		"name":            record.Name,
		"payload":         record.Payload,
		"occurred_at":     record.OccurredAt,
		"aggregate":       record.Aggregate,
		"headers":         record.Headers,
		"state":           stateNew,
		"attempts":        0,
		"next_attempt_at": now,
		"created_at":      now,
	}
	_, err := s.col.InsertOne(ctx, doc)
	return err
}

func (s *MongoStore) Claim(ctx context.Context, workerID string) (*EventDocument, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"state":           bson.M{"$in": []string{stateNew, stateFailed}},
		"next_attempt_at": bson.M{"$lte": now},
	}
	update := bson.M{
		"$set": bson.M{"state": stateClaimed, "claimed_by": workerID, "claimed_at": now},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc mongoEventDocument
	if err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.toDocument(), nil
}

func (s *MongoStore) MarkSent(ctx context.Context, id string) error {
	_, err := s.col.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{"state": stateSent, "sent_at": time.Now().UTC()},
	})
	return err
}

func (s *MongoStore) MarkFailed(ctx context.Context, id string, nextAttempt time.Time, reason string) error {
	_, err := s.col.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{
			"state":           stateFailed,
			"next_attempt_at": nextAttempt,
			"last_error":      reason,
			"claimed_by":      "",
		},
	})
	return err
}

type mongoEventDocument struct {
	ID          string            `bson:"_id"`
	Name        string            `bson:"name"`
	Payload     []byte            `bson:"payload"`
	OccurredAt  time.Time         `bson:"occurred_at"`
	Aggregate   string            `bson:"aggregate"`
	Headers     map[string]string `bson:"headers"`
	State       string            `bson:"state"`
	Attempts    int               `bson:"attempts"`
	NextAttempt time.Time         `bson:"next_attempt_at"`
	ClaimedBy   string            `bson:"claimed_by"`
	LastError   string            `bson:"last_error"`
}

func (d mongoEventDocument) toDocument() *EventDocument {
	return &EventDocument{
		ID:            d.ID,
		Name:          d.Name,
		Payload:       d.Payload,
		OccurredAt:    d.OccurredAt,
		Aggregate:     d.Aggregate,
		Headers:       d.Headers,
		State:         d.State,
		Attempts:      d.Attempts,
		NextAttemptAt: d.NextAttempt,
		ClaimedBy:     d.ClaimedBy,
		LastError:     d.LastError,
	}
}

var (
	_ appoutbox.Outbox = (*MongoStore)(nil)
	_ Queue            = (*MongoStore)(nil)
	_ Queue            = (*Store)(nil)
)

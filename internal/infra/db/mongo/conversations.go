package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"guildchat/internal/app/pipeline"
	"guildchat/internal/domain/chat"
)

// ConversationStore keeps conversation aggregates in a single collection.
// The direct_key unique index serializes concurrent creates of the same
// direct pair.
type ConversationStore struct {
	col *mongo.Collection
}

func NewConversationStore(db *mongo.Database) *ConversationStore {
	return &ConversationStore{col: db.Collection("conversations")}
}

// EnsureIndexes creates the lookup indexes. Call once at startup.
func (s *ConversationStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "direct_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "participant_ids", Value: 1}, {Key: "last_activity_at", Value: -1}},
		},
	})
	return err
}

func (s *ConversationStore) ByID(ctx context.Context, id string) (*chat.Conversation, error) {
	var doc conversationDocument
	if err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, chat.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (s *ConversationStore) FindDirectBetween(ctx context.Context, userA, userB string) (*chat.Conversation, error) {
	var doc conversationDocument
	filter := bson.M{"direct_key": chat.DirectKey(userA, userB), "active": true}
	if err := s.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, chat.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (s *ConversationStore) Create(ctx context.Context, conv *chat.Conversation) error {
	if _, err := s.col.InsertOne(ctx, newConversationDocument(conv)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return pipeline.ErrDirectExists
		}
		return err
	}
	return nil
}

func (s *ConversationStore) ListForUser(ctx context.Context, userID string, page, limit int) ([]*chat.Conversation, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	filter := bson.M{"participant_ids": userID, "active": true}
	opts := options.Find().
		SetSort(bson.D{{Key: "last_activity_at", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*chat.Conversation
	for cur.Next(ctx) {
		var doc conversationDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toAggregate())
	}
	return out, cur.Err()
}

func (s *ConversationStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	var doc struct {
		ParticipantIDs []string `bson:"participant_ids"`
	}
	opts := options.FindOne().SetProjection(bson.M{"participant_ids": 1})
	if err := s.col.FindOne(ctx, bson.M{"_id": conversationID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, chat.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.ParticipantIDs, nil
}

func (s *ConversationStore) UpdateLastMessage(ctx context.Context, conversationID string, summary chat.MessageSummary) error {
	sentAt := summary.SentAt.UTC().UnixMilli()
	filter := bson.M{
		"_id": conversationID,
		"$or": bson.A{
			bson.M{"last_message": nil},
			bson.M{"last_message.sent_at": bson.M{"$lt": sentAt}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"last_message":     newSummaryDocument(&summary),
			"last_activity_at": sentAt,
		},
		"$inc": bson.M{"version": 1},
	}
	// A missed match means a newer message already holds the cache; that is
	// not an error.
	_, err := s.col.UpdateOne(ctx, filter, update)
	return err
}

func (s *ConversationStore) ReplaceLastMessage(ctx context.Context, conversationID string, summary *chat.MessageSummary, expectVersion int64) error {
	activity := int64(0)
	if summary != nil {
		activity = summary.SentAt.UTC().UnixMilli()
	} else {
		var doc struct {
			CreatedAt int64 `bson:"created_at"`
		}
		opts := options.FindOne().SetProjection(bson.M{"created_at": 1})
		if err := s.col.FindOne(ctx, bson.M{"_id": conversationID}, opts).Decode(&doc); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return chat.ErrConversationNotFound
			}
			return err
		}
		activity = doc.CreatedAt
	}
	filter := bson.M{"_id": conversationID, "version": expectVersion}
	update := bson.M{
		"$set": bson.M{
			"last_message":     newSummaryDocument(summary),
			"last_activity_at": activity,
		},
		"$inc": bson.M{"version": 1},
	}
	res, err := s.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return pipeline.ErrVersionConflict
	}
	return nil
}

// Deactivate hides the conversation from listings without removing it.
func (s *ConversationStore) Deactivate(ctx context.Context, conversationID string) error {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"active": false}, "$inc": bson.M{"version": 1}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrConversationNotFound
	}
	return nil
}

type conversationDocument struct {
	ID             string                `bson:"_id"`
	Type           string                `bson:"type"`
	Title          string                `bson:"title,omitempty"`
	Participants   []participantDocument `bson:"participants"`
	ParticipantIDs []string              `bson:"participant_ids"`
	DirectKey      string                `bson:"direct_key,omitempty"`
	Active         bool                  `bson:"active"`
	CreatedAt      int64                 `bson:"created_at"`
	LastMessage    *summaryDocument      `bson:"last_message"`
	LastActivityAt int64                 `bson:"last_activity_at"`
	Version        int64                 `bson:"version"`
}

type participantDocument struct {
	UserID   string `bson:"user_id"`
	JoinedAt int64  `bson:"joined_at"`
}

type summaryDocument struct {
	MessageID string `bson:"message_id"`
	SenderID  string `bson:"sender_id"`
	Preview   string `bson:"preview"`
	SentAt    int64  `bson:"sent_at"`
}

func newConversationDocument(c *chat.Conversation) conversationDocument {
	participants := make([]participantDocument, 0, len(c.Participants))
	for _, p := range c.Participants {
		participants = append(participants, participantDocument{
			UserID:   p.UserID,
			JoinedAt: p.JoinedAt.UnixMilli(),
		})
	}
	doc := conversationDocument{
		ID:             c.ID,
		Type:           string(c.Type),
		Title:          c.Title,
		Participants:   participants,
		ParticipantIDs: c.ParticipantIDs(),
		Active:         c.Active,
		CreatedAt:      c.CreatedAt.UnixMilli(),
		LastMessage:    newSummaryDocument(c.LastMessage),
		LastActivityAt: c.LastActivity().UnixMilli(),
		Version:        c.Version,
	}
	if c.Type == chat.TypeDirect {
		ids := c.ParticipantIDs()
		doc.DirectKey = chat.DirectKey(ids[0], ids[1])
	}
	return doc
}

func newSummaryDocument(s *chat.MessageSummary) *summaryDocument {
	if s == nil {
		return nil
	}
	return &summaryDocument{
		MessageID: s.MessageID,
		SenderID:  s.SenderID,
		Preview:   s.Preview,
		SentAt:    s.SentAt.UTC().UnixMilli(),
	}
}

func (d conversationDocument) toAggregate() *chat.Conversation {
	participants := make([]chat.Participant, 0, len(d.Participants))
	for _, p := range d.Participants {
		participants = append(participants, chat.Participant{
			UserID:   p.UserID,
			JoinedAt: millisToTime(p.JoinedAt),
		})
	}
	conv := &chat.Conversation{
		ID:           d.ID,
		Type:         chat.ConversationType(d.Type),
		Title:        d.Title,
		Participants: participants,
		Active:       d.Active,
		CreatedAt:    millisToTime(d.CreatedAt),
		Version:      d.Version,
	}
	if d.LastMessage != nil {
		conv.LastMessage = &chat.MessageSummary{
			MessageID: d.LastMessage.MessageID,
			SenderID:  d.LastMessage.SenderID,
			Preview:   d.LastMessage.Preview,
			SentAt:    millisToTime(d.LastMessage.SentAt),
		}
	}
	return conv
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var _ pipeline.ConversationStore = (*ConversationStore)(nil)

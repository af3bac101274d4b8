package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/taskpulse/taskpulse/backend/internal/model/chat"
)

type messageDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Sender    string             `bson:"sender"`
	Receiver  string             `bson:"receiver"`
	Content   string             `bson:"content"`
	Type      string             `bson:"type"`
	FileURL   string             `bson:"fileUrl,omitempty"`
	IsRead    bool               `bson:"isRead"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

func (d messageDoc) model() chat.Message {
	return chat.Message{
		ID:        d.ID.Hex(),
		Sender:    d.Sender,
		Receiver:  d.Receiver,
		Content:   d.Content,
		Type:      chat.Kind(d.Type),
		FileURL:   d.FileURL,
		IsRead:    d.IsRead,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// conversationFilter matches both directions of a direct conversation.
func conversationFilter(a, b string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"sender": a, "receiver": b},
		bson.M{"sender": b, "receiver": a},
	}}
}

// MessageStore implements chat.Store.
type MessageStore struct {
	coll *mongo.Collection
}

// Create inserts m as an unread message.
func (s *MessageStore) Create(ctx context.Context, m chat.Message) (chat.Message, error) {
	now := time.Now().UTC()
	doc := messageDoc{
		ID:        primitive.NewObjectID(),
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Content:   m.Content,
		Type:      string(m.Type),
		FileURL:   m.FileURL,
		IsRead:    false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return chat.Message{}, err
	}
	return doc.model(), nil
}

// FindByID looks a message up; malformed ids are reported as not found.
func (s *MessageStore) FindByID(ctx context.Context, id string) (chat.Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return chat.Message{}, chat.ErrMessageNotFound
	}
	var doc messageDoc
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Message{}, chat.ErrMessageNotFound
	}
	if err != nil {
		return chat.Message{}, err
	}
	return doc.model(), nil
}

// Save persists the mutable part of a message: its read flag.
func (s *MessageStore) Save(ctx context.Context, m chat.Message) (chat.Message, error) {
	oid, err := primitive.ObjectIDFromHex(m.ID)
	if err != nil {
		return chat.Message{}, chat.ErrMessageNotFound
	}
	m.UpdatedAt = time.Now().UTC()
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
		"isRead":    m.IsRead,
		"updatedAt": m.UpdatedAt,
	}})
	if err != nil {
		return chat.Message{}, err
	}
	if res.MatchedCount == 0 {
		return chat.Message{}, chat.ErrMessageNotFound
	}
	return m, nil
}

// Conversation returns the latest limit messages between a and b, oldest first.
func (s *MessageStore) Conversation(ctx context.Context, a, b string, limit int) ([]chat.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, conversationFilter(a, b), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]chat.Message, 0)
	for cur.Next(ctx) {
		var doc messageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.model())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

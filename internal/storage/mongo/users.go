package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/taskpulse/taskpulse/backend/internal/model/user"
)

type userDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Name      string             `bson:"name"`
	Email     string             `bson:"email"`
	Password  string             `bson:"password"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

func (d userDoc) model() user.User {
	return user.User{
		ID:           d.ID.Hex(),
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.Password,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// UserStore implements user.Store.
type UserStore struct {
	coll *mongo.Collection
}

// FindByID resolves a hex ObjectID. Malformed ids are reported as not found.
func (s *UserStore) FindByID(ctx context.Context, id string) (user.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return user.User{}, user.ErrNotFound
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

// FindByEmail looks a user up by normalized email.
func (s *UserStore) FindByEmail(ctx context.Context, email string) (user.User, error) {
	return s.findOne(ctx, bson.M{"email": user.NormalizeEmail(email)})
}

func (s *UserStore) findOne(ctx context.Context, filter bson.M) (user.User, error) {
	var doc userDoc
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return user.User{}, user.ErrNotFound
	}
	if err != nil {
		return user.User{}, err
	}
	return doc.model(), nil
}

// Create inserts a new user; the unique email index turns races into ErrEmailTaken.
func (s *UserStore) Create(ctx context.Context, u user.User) (user.User, error) {
	now := time.Now().UTC()
	doc := userDoc{
		ID:        primitive.NewObjectID(),
		Name:      u.Name,
		Email:     user.NormalizeEmail(u.Email),
		Password:  u.PasswordHash,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.FindByEmail(ctx, doc.Email); err == nil {
		return user.User{}, user.ErrEmailTaken
	} else if !errors.Is(err, user.ErrNotFound) {
		return user.User{}, err
	}

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return user.User{}, user.ErrEmailTaken
		}
		return user.User{}, err
	}
	return doc.model(), nil
}

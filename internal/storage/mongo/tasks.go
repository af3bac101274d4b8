package mongo

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/taskpulse/taskpulse/backend/internal/model/task"
)

type taskDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Title       string             `bson:"title"`
	Description string             `bson:"description"`
	Status      string             `bson:"status"`
	Category    string             `bson:"category"`
	Tags        []string           `bson:"tags"`
	Priority    string             `bson:"priority"`
	DueDate     *time.Time         `bson:"dueDate,omitempty"`
	User        string             `bson:"user"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

func newTaskDoc(t task.Task) taskDoc {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return taskDoc{
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Category:    string(t.Category),
		Tags:        tags,
		Priority:    string(t.Priority),
		DueDate:     t.DueDate,
		User:        t.User,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func (d taskDoc) model() task.Task {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return task.Task{
		ID:          d.ID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		Status:      task.Status(d.Status),
		Category:    task.Category(d.Category),
		Tags:        tags,
		Priority:    task.Priority(d.Priority),
		DueDate:     d.DueDate,
		User:        d.User,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// taskFilter translates a listing filter into a query document.
func taskFilter(f task.Filter) bson.M {
	q := bson.M{"user": f.User}
	if f.Status != "" {
		q["status"] = string(f.Status)
	}
	if f.Category != "" {
		q["category"] = string(f.Category)
	}
	if f.Search != "" {
		q["title"] = primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
	}
	return q
}

// updateSet builds the $set document for a partial update.
func updateSet(u task.Update, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	if u.Title != nil {
		set["title"] = *u.Title
	}
	if u.Description != nil {
		set["description"] = *u.Description
	}
	if u.Status != nil {
		set["status"] = string(*u.Status)
	}
	if u.Category != nil {
		set["category"] = string(*u.Category)
	}
	if u.Tags != nil {
		set["tags"] = u.Tags
	}
	if u.Priority != nil {
		set["priority"] = string(*u.Priority)
	}
	if u.DueDate != nil {
		set["dueDate"] = *u.DueDate
	}
	return set
}

// ownedTask matches a task id owned by userID. ok is false for malformed ids.
func ownedTask(id, userID string) (bson.M, bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, false
	}
	return bson.M{"_id": oid, "user": userID}, true
}

// TaskStore implements task.Store.
type TaskStore struct {
	coll *mongo.Collection
}

// Create inserts t with fresh timestamps.
func (s *TaskStore) Create(ctx context.Context, t task.Task) (task.Task, error) {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	doc := newTaskDoc(t)
	doc.ID = primitive.NewObjectID()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return task.Task{}, err
	}
	return doc.model(), nil
}

// Find lists tasks matching filter, newest first.
func (s *TaskStore) Find(ctx context.Context, filter task.Filter) ([]task.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cur, err := s.coll.Find(ctx, taskFilter(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]task.Task, 0)
	for cur.Next(ctx) {
		var doc taskDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.model())
	}
	return out, cur.Err()
}

// FindByID returns an owned task.
func (s *TaskStore) FindByID(ctx context.Context, id, userID string) (task.Task, error) {
	q, ok := ownedTask(id, userID)
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	var doc taskDoc
	err := s.coll.FindOne(ctx, q).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, err
	}
	return doc.model(), nil
}

// Update applies a partial update and returns the stored result.
func (s *TaskStore) Update(ctx context.Context, id, userID string, update task.Update) (task.Task, error) {
	q, ok := ownedTask(id, userID)
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc taskDoc
	err := s.coll.FindOneAndUpdate(ctx, q, bson.M{"$set": updateSet(update, time.Now().UTC())}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, err
	}
	return doc.model(), nil
}

// Delete removes an owned task.
func (s *TaskStore) Delete(ctx context.Context, id, userID string) (task.Task, error) {
	q, ok := ownedTask(id, userID)
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	var doc taskDoc
	err := s.coll.FindOneAndDelete(ctx, q).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, err
	}
	return doc.model(), nil
}

// Stats counts the user's tasks and groups them by category and priority.
func (s *TaskStore) Stats(ctx context.Context, userID string) (task.Stats, error) {
	var stats task.Stats

	total, err := s.coll.CountDocuments(ctx, bson.M{"user": userID})
	if err != nil {
		return stats, err
	}
	completed, err := s.coll.CountDocuments(ctx, bson.M{"user": userID, "status": string(task.StatusCompleted)})
	if err != nil {
		return stats, err
	}
	pending, err := s.coll.CountDocuments(ctx, bson.M{"user": userID, "status": string(task.StatusPending)})
	if err != nil {
		return stats, err
	}

	stats.TotalTasks = int(total)
	stats.CompletedTasks = int(completed)
	stats.PendingTasks = int(pending)
	stats.CompletionRate = task.CompletionRate(stats.CompletedTasks, stats.TotalTasks)

	if stats.TasksByCategory, err = s.groupBy(ctx, userID, "$category"); err != nil {
		return stats, err
	}
	if stats.TasksByPriority, err = s.groupBy(ctx, userID, "$priority"); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *TaskStore) groupBy(ctx context.Context, userID, field string) ([]task.Bucket, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "user", Value: userID}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: field},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []struct {
		Key   string `bson:"_id"`
		Count int    `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]task.Bucket, 0, len(rows))
	for _, r := range rows {
		out = append(out, task.Bucket{Key: r.Key, Count: r.Count})
	}
	return out, nil
}

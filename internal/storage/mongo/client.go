// Package mongo implements the user, task and message stores on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	usersCollection    = "users"
	tasksCollection    = "tasks"
	messagesCollection = "messages"
)

// Config describes how to reach the document store.
type Config struct {
	URI         string
	Database    string
	MaxPoolSize uint64
	MaxRetry    int
	Timeout     time.Duration
}

func (c *Config) norm() error {
	if c.URI == "" {
		return errors.New("mongo uri is required")
	}
	if c.Database == "" {
		c.Database = "taskpulse"
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return nil
}

// Client owns the driver connection and hands out the stores.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB, retrying with backoff until it answers a ping or the
// retry budget is spent.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.norm(); err != nil {
		return nil, err
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.Timeout)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetry; attempt++ {
		cli, err := connect(ctx, opts, cfg.Timeout)
		if err == nil {
			logger.Info("connected to mongo", zap.String("database", cfg.Database), zap.Int("attempt", attempt))
			return &Client{client: cli, db: cli.Database(cfg.Database)}, nil
		}
		lastErr = err
		logger.Warn("mongo connect failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt == cfg.MaxRetry {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("connect to mongo: %w", lastErr)
}

func connect(ctx context.Context, opts *options.ClientOptions, timeout time.Duration) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := cli.Ping(pingCtx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}

// EnsureIndexes creates the indexes the stores rely on. It is idempotent.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		tasksCollection: {
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		messagesCollection: {
			{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "receiver", Value: 1}}},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := c.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", coll, err)
		}
	}
	return nil
}

// Users returns the user directory backed by this client.
func (c *Client) Users() *UserStore {
	return &UserStore{coll: c.db.Collection(usersCollection)}
}

// Tasks returns the task store backed by this client.
func (c *Client) Tasks() *TaskStore {
	return &TaskStore{coll: c.db.Collection(tasksCollection)}
}

// Messages returns the message gateway backed by this client.
func (c *Client) Messages() *MessageStore {
	return &MessageStore{coll: c.db.Collection(messagesCollection)}
}

// Close disconnects from the server.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

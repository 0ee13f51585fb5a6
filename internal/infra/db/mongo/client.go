package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const connectTimeout = 10 * time.Second

// Client holds the handle to the conversation database. Message bodies live
// in Scylla; Mongo only keeps conversation documents and the outbox.
type Client struct {
	DB *mongo.Database
}

// New connects with retryable writes on and verifies the deployment is
// reachable before handing the database out.
func New(uri, database string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	conn, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetRetryWrites(true))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := conn.Ping(ctx, nil); err != nil {
		_ = conn.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Client{DB: conn.Database(database)}, nil
}

// Ping backs the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.DB.Client().Ping(ctx, nil)
}

func (c *Client) Close(ctx context.Context) error {
	return c.DB.Client().Disconnect(ctx)
}

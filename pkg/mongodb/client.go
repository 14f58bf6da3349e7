package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Collection names.
const (
	CollectionCampaigns = "campaigns"
	CollectionPolls     = "polls"
	CollectionEvidence  = "evidence"
)

// ErrNoDocuments is re-exported so stores can match it without importing the driver twice.
var ErrNoDocuments = mongo.ErrNoDocuments

// Client wraps a connected mongo client and the application database.
type Client struct {
	*mongo.Client
	DB     *mongo.Database
	logger *zap.Logger
}

// NewClient connects to MongoDB and verifies connectivity.
func NewClient(ctx context.Context, uri, database string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	logger.Info("MongoDB client connected", zap.String("database", database))
	return &Client{Client: client, DB: client.Database(database), logger: logger}, nil
}

// Check pings the primary; used by the health endpoint.
func (c *Client) Check(ctx context.Context) error {
	if err := c.Client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (c *Client) Close(ctx context.Context) error {
	return c.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the stores rely on. Safe to run on every start.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		CollectionCampaigns: {
			{Keys: bson.D{{Key: "isPublic", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "createdBy", Value: 1}}},
			{Keys: bson.D{{Key: "teamMembers.userId", Value: 1}}},
		},
		CollectionPolls: {
			{Keys: bson.D{{Key: "campaign", Value: 1}, {Key: "isPublic", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		CollectionEvidence: {
			{Keys: bson.D{{Key: "campaign", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
	}
	for coll, models := range specs {
		if _, err := c.DB.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	c.logger.Info("MongoDB indexes ensured")
	return nil
}

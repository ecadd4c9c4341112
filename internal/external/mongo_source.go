package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fjod/trophythreads/internal/domain"
)

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(20)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

// MongoSource serves external products kept in a document collection,
// one document per product keyed by "ref".
type MongoSource struct {
	collection *mongo.Collection
}

func NewMongoSource(db *mongo.Database) *MongoSource {
	return &MongoSource{collection: db.Collection("external_products")}
}

func (m *MongoSource) CreateIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "ref", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *MongoSource) Lookup(ctx context.Context, ref string) (*domain.ExternalSnapshot, error) {
	var snap domain.ExternalSnapshot
	err := m.collection.FindOne(ctx, bson.M{"ref": ref}).Decode(&snap)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find external product: %w", err)
	}
	return &snap, nil
}

// Upsert is used by feed importers and tests.
func (m *MongoSource) Upsert(ctx context.Context, snap domain.ExternalSnapshot) error {
	_, err := m.collection.UpdateOne(ctx,
		bson.M{"ref": snap.Ref},
		bson.M{"$set": snap},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert external product: %w", err)
	}
	return nil
}

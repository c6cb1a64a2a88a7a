// mongodb.go - Recognition history: MongoDB when configured, in memory otherwise

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Record is one finished recognition.
type Record struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	JobID      string             `bson:"job_id" json:"job_id"`
	Source     string             `bson:"source" json:"source"`
	PromptType string             `bson:"prompt_type" json:"prompt_type"`
	Provider   string             `bson:"provider" json:"provider"`
	Text       string             `bson:"text" json:"text"`
	Truncated  bool               `bson:"truncated" json:"truncated"`
	Cached     bool               `bson:"cached" json:"cached"`
	DurationMS int64              `bson:"duration_ms" json:"duration_ms"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}

// History stores finished recognitions for the "recent results" view.
type History interface {
	Save(ctx context.Context, rec Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close(ctx context.Context) error
}

// MongoHistory keeps records in a MongoDB collection.
type MongoHistory struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoHistory connects, pings and makes sure the created_at index exists.
func NewMongoHistory(ctx context.Context, uri, database, collection string) (*MongoHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create history index: %w", err)
	}

	h := newMongoHistory(coll)
	h.client = client
	return h, nil
}

func newMongoHistory(coll *mongo.Collection) *MongoHistory {
	return &MongoHistory{collection: coll}
}

// Save inserts one record.
func (h *MongoHistory) Save(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, err := h.collection.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert history record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (h *MongoHistory) Recent(ctx context.Context, limit int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := h.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer cursor.Close(ctx)

	results := []Record{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return results, nil
}

// Close closes MongoDB connection
func (h *MongoHistory) Close(ctx context.Context) error {
	if h.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return h.client.Disconnect(ctx)
}

// MemoryHistory keeps the last N records in process memory.
type MemoryHistory struct {
	mu      sync.Mutex
	records []Record
	max     int
}

// NewMemoryHistory creates a history holding at most max records.
func NewMemoryHistory(max int) *MemoryHistory {
	if max <= 0 {
		max = 100
	}
	return &MemoryHistory{max: max}
}

// Save appends a record, dropping the oldest past capacity.
func (h *MemoryHistory) Save(_ context.Context, rec Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	h.records = append(h.records, rec)
	if over := len(h.records) - h.max; over > 0 {
		h.records = append([]Record(nil), h.records[over:]...)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (h *MemoryHistory) Recent(_ context.Context, limit int) ([]Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > len(h.records) {
		limit = len(h.records)
	}
	out := make([]Record, 0, limit)
	for i := len(h.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.records[i])
	}
	return out, nil
}

// Close is a no-op.
func (h *MemoryHistory) Close(context.Context) error {
	return nil
}

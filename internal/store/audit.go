package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ally/internal/event"
	"ally/pkg/metrics"
)

// MongoAuditTrail keeps the raw envelope of every delivered event. It is
// written before any business logic runs, so a permanently failing event
// is still recoverable from here.
type MongoAuditTrail struct {
	collection *mongo.Collection
}

func NewMongoAuditTrail(db *mongo.Database, collectionName string) *MongoAuditTrail {
	return &MongoAuditTrail{collection: db.Collection(collectionName)}
}

// EnsureIndexes creates the unique index the idempotency guarantee rests
// on. Safe to call on every startup.
func (a *MongoAuditTrail) EnsureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("idx_audit_idempotency_key"),
	})
	if err != nil {
		return fmt.Errorf("failed to create audit index: %w", err)
	}
	return nil
}

func (a *MongoAuditTrail) SaveEventRaw(ctx context.Context, env *event.Envelope) error {
	doc := bson.M{
		"idempotency_key": env.IdempotencyKey,
		"version":         env.Version,
		"project_id":      env.ProjectID,
		"platform":        env.Platform,
		"type":            env.Type,
		"ts":              env.TS,
		"source":          env.Source,
		"payload":         string(env.Payload),
		"received_at":     time.Now(),
	}

	_, err := a.collection.InsertOne(ctx, doc)
	if err != nil {
		// A redelivered envelope hits the unique index; that is the
		// expected dedup path, not an error.
		if mongo.IsDuplicateKeyError(err) {
			metrics.AuditWritesTotal.WithLabelValues("duplicate").Inc()
			return nil
		}
		metrics.AuditWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to save raw event: %w", err)
	}

	metrics.AuditWritesTotal.WithLabelValues("inserted").Inc()
	return nil
}

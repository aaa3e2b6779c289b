package repository

import (
	"context"
	"fmt"
	"time"

	apptErrors "clinicops/internal/appointments/errors"
	"clinicops/pkg/config"
	"clinicops/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	LockCollectionName = "Slot_locks"
)

// SlotLockRepository provides advisory locks over booking scopes. A lock
// is a document whose _id is the scope key; the unique index on _id makes
// acquisition atomic, and the TTL index on expires_at reclaims locks
// abandoned by a crashed process.
type SlotLockRepository interface {
	// Acquire inserts the lock document. Returns ErrLockHeld when another
	// request already owns the scope.
	Acquire(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type mongoSlotLockRepository struct {
	collection *mongo.Collection
}

func NewMongoSlotLockRepository(cfg *config.Config) SlotLockRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoSlotLockRepository{
		collection: db.Collection(LockCollectionName),
	}
}

func (r *mongoSlotLockRepository) Acquire(ctx context.Context, key string, ttl time.Duration) error {
	now := time.Now().UTC()
	lock := &model.SlotLock{
		ID:        key,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	if _, err := r.collection.InsertOne(ctx, lock); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apptErrors.ErrLockHeld
		}
		return fmt.Errorf("failed to acquire slot lock: %w", err)
	}

	return nil
}

func (r *mongoSlotLockRepository) Release(ctx context.Context, key string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to release slot lock: %w", err)
	}
	return nil
}

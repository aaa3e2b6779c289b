package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	holderrors "clinicops/internal/reservations/errors"
	"clinicops/pkg/config"
	mongotx "clinicops/pkg/db/mongo"
	"clinicops/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "Holds"
)

type HoldRepository interface {
	// Create inserts a pending hold. The partial unique index on
	// (vet_id, date, start_time, status=pending) rejects a second live
	// claim on the slot with holderrors.ErrSlotClaimed.
	Create(ctx context.Context, hold *model.Hold) error
	FindByID(ctx context.Context, id string) (*model.Hold, error)
	// FindLiveBySlot returns the pending unexpired hold claiming the exact
	// slot, or holderrors.ErrNotFound.
	FindLiveBySlot(ctx context.Context, vetID, date, startTime string, now time.Time) (*model.Hold, error)
	// FindLiveByRoom returns every pending unexpired hold for a (vet, date) room.
	FindLiveByRoom(ctx context.Context, vetID, date string, now time.Time) ([]*model.Hold, error)
	FindPendingBySession(ctx context.Context, sessionID string) ([]*model.Hold, error)
	// UpdateExpiry pushes ExpiresAt forward; matches only pending holds
	// owned by the session.
	UpdateExpiry(ctx context.Context, id, sessionID string, newExpiry time.Time) error
	// Transition moves a pending hold owned by the session into a terminal
	// status. The status filter makes racing transitions land exactly once.
	Transition(ctx context.Context, id, sessionID, newStatus string, at time.Time) error
	// ReleaseAllForSession bulk-releases the session's pending holds.
	ReleaseAllForSession(ctx context.Context, sessionID string, at time.Time) (int64, error)
	// ExpireLapsed flips any lapsed pending hold on the slot so the
	// unique live-hold index does not count a dead claim against a new one.
	ExpireLapsed(ctx context.Context, vetID, date, startTime string, now time.Time) error
	// FindOverduePending lists pending holds whose TTL lapsed.
	FindOverduePending(ctx context.Context, now time.Time, limit int) ([]*model.Hold, error)
	// ExpireByIDs is the sweeper's conditional bulk update: only holds
	// still pending flip to expired.
	ExpireByIDs(ctx context.Context, ids []string) (int64, error)
	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

type mongoHoldRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
	txManager  mongotx.TransactionManager
}

func NewMongoHoldRepository(cfg *config.Config) HoldRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoHoldRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
		txManager:  mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

// withTimeout bounds a single store operation. Inside a transaction the
// session context is returned untouched; wrapping it would break
// transaction semantics.
func (r *mongoHoldRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		return context.WithTimeout(ctx, time.Until(deadline))
	}

	return context.WithTimeout(ctx, timeout)
}

func (r *mongoHoldRepository) Create(ctx context.Context, hold *model.Hold) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	hold.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	if _, err := r.collection.InsertOne(ctx, hold); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return holderrors.ErrSlotClaimed
		}
		return fmt.Errorf("failed to create hold: %w", err)
	}
	return nil
}

func (r *mongoHoldRepository) FindByID(ctx context.Context, id string) (*model.Hold, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var hold model.Hold
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&hold)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, holderrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find hold: %w", err)
	}

	return &hold, nil
}

func (r *mongoHoldRepository) FindLiveBySlot(ctx context.Context, vetID, date, startTime string, now time.Time) (*model.Hold, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"vet_id":     vetID,
		"date":       date,
		"start_time": startTime,
		"status":     model.HoldPending,
		"expires_at": bson.M{"$gt": now},
	}

	var hold model.Hold
	err := r.collection.FindOne(ctx, filter).Decode(&hold)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, holderrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find live hold: %w", err)
	}

	return &hold, nil
}

func (r *mongoHoldRepository) FindLiveByRoom(ctx context.Context, vetID, date string, now time.Time) ([]*model.Hold, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"vet_id":     vetID,
		"date":       date,
		"status":     model.HoldPending,
		"expires_at": bson.M{"$gt": now},
	}

	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find live holds: %w", err)
	}
	defer cursor.Close(ctx)

	var holds []*model.Hold
	if err = cursor.All(ctx, &holds); err != nil {
		return nil, fmt.Errorf("failed to decode holds: %w", err)
	}

	return holds, nil
}

func (r *mongoHoldRepository) FindPendingBySession(ctx context.Context, sessionID string) ([]*model.Hold, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"session_id": sessionID,
		"status":     model.HoldPending,
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find session holds: %w", err)
	}
	defer cursor.Close(ctx)

	var holds []*model.Hold
	if err = cursor.All(ctx, &holds); err != nil {
		return nil, fmt.Errorf("failed to decode holds: %w", err)
	}

	return holds, nil
}

func (r *mongoHoldRepository) UpdateExpiry(ctx context.Context, id, sessionID string, newExpiry time.Time) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"_id":        id,
		"session_id": sessionID,
		"status":     model.HoldPending,
	}
	update := bson.M{"$set": bson.M{"expires_at": newExpiry}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to extend hold: %w", err)
	}
	if result.MatchedCount == 0 {
		return holderrors.ErrNotFound
	}

	return nil
}

func (r *mongoHoldRepository) Transition(ctx context.Context, id, sessionID, newStatus string, at time.Time) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"_id":    id,
		"status": model.HoldPending,
	}
	if sessionID != "" {
		filter["session_id"] = sessionID
	}

	set := bson.M{"status": newStatus}
	switch newStatus {
	case model.HoldConfirmed:
		set["confirmed_at"] = at
	case model.HoldReleased:
		set["released_at"] = at
	}

	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to transition hold: %w", err)
	}
	if result.MatchedCount == 0 {
		return holderrors.ErrNotFound
	}

	return nil
}

func (r *mongoHoldRepository) ReleaseAllForSession(ctx context.Context, sessionID string, at time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"session_id": sessionID,
		"status":     model.HoldPending,
	}
	update := bson.M{"$set": bson.M{
		"status":      model.HoldReleased,
		"released_at": at,
	}}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to release session holds: %w", err)
	}

	return result.ModifiedCount, nil
}

func (r *mongoHoldRepository) FindOverduePending(ctx context.Context, now time.Time, limit int) ([]*model.Hold, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"status":     model.HoldPending,
		"expires_at": bson.M{"$lte": now},
	}

	opts := options.Find().SetLimit(int64(limit)).SetSort(bson.D{{Key: "expires_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find overdue holds: %w", err)
	}
	defer cursor.Close(ctx)

	var holds []*model.Hold
	if err = cursor.All(ctx, &holds); err != nil {
		return nil, fmt.Errorf("failed to decode overdue holds: %w", err)
	}

	return holds, nil
}

func (r *mongoHoldRepository) ExpireLapsed(ctx context.Context, vetID, date, startTime string, now time.Time) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"vet_id":     vetID,
		"date":       date,
		"start_time": startTime,
		"status":     model.HoldPending,
		"expires_at": bson.M{"$lte": now},
	}
	update := bson.M{"$set": bson.M{"status": model.HoldExpired}}

	if _, err := r.collection.UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to expire lapsed hold: %w", err)
	}
	return nil
}

func (r *mongoHoldRepository) ExpireByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	// The status guard makes this safe to run concurrently with confirm
	// and release: whichever write lands first wins, the other matches
	// zero rows.
	filter := bson.M{
		"_id":    bson.M{"$in": ids},
		"status": model.HoldPending,
	}
	update := bson.M{"$set": bson.M{"status": model.HoldExpired}}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue holds: %w", err)
	}

	return result.ModifiedCount, nil
}

func (r *mongoHoldRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}

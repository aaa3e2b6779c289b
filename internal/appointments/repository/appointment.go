package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	apptErrors "clinicops/internal/appointments/errors"
	"clinicops/pkg/config"
	mongotx "clinicops/pkg/db/mongo"
	"clinicops/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "Appointments"
)

type AppointmentRepository interface {
	Create(ctx context.Context, appointment *model.Appointment) error
	FindByID(ctx context.Context, id string) (*model.Appointment, error)
	// FindActiveByVetAndDate returns every non-cancelled appointment for
	// the vet on the date, sorted by start time.
	FindActiveByVetAndDate(ctx context.Context, vetID, date string) ([]*model.Appointment, error)
	// Cancel flips scheduled to cancelled; already-terminal appointments
	// match zero documents and return ErrNotFound.
	Cancel(ctx context.Context, id string) error
	// SlotTaken reports whether any non-cancelled appointment overlaps
	// the given slot.
	SlotTaken(ctx context.Context, vetID, date, startTime string, durationMin int) (bool, error)
	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

type mongoAppointmentRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
	txManager  mongotx.TransactionManager
}

func NewMongoAppointmentRepository(cfg *config.Config) AppointmentRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoAppointmentRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
		txManager:  mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

func (r *mongoAppointmentRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		return context.WithTimeout(ctx, time.Until(deadline))
	}

	return context.WithTimeout(ctx, timeout)
}

func (r *mongoAppointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	appointment.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	if _, err := r.collection.InsertOne(ctx, appointment); err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *mongoAppointmentRepository) FindByID(ctx context.Context, id string) (*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var appointment model.Appointment
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&appointment)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apptErrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find appointment: %w", err)
	}

	return &appointment, nil
}

func (r *mongoAppointmentRepository) FindActiveByVetAndDate(ctx context.Context, vetID, date string) ([]*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"vet_id": vetID,
		"date":   date,
		"status": bson.M{"$ne": model.AppointmentCancelled},
	}

	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find appointments: %w", err)
	}
	defer cursor.Close(ctx)

	var appointments []*model.Appointment
	if err = cursor.All(ctx, &appointments); err != nil {
		return nil, fmt.Errorf("failed to decode appointments: %w", err)
	}

	return appointments, nil
}

func (r *mongoAppointmentRepository) Cancel(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"_id":    id,
		"status": model.AppointmentScheduled,
	}
	update := bson.M{"$set": bson.M{"status": model.AppointmentCancelled}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to cancel appointment: %w", err)
	}
	if result.MatchedCount == 0 {
		return apptErrors.ErrNotFound
	}

	return nil
}

// SlotTaken loads the day's active appointments and checks interval
// overlap in memory; a day holds few enough entries that this beats
// expressing the arithmetic in a Mongo query.
func (r *mongoAppointmentRepository) SlotTaken(ctx context.Context, vetID, date, startTime string, durationMin int) (bool, error) {
	startMin, err := model.ParseClock(startTime)
	if err != nil {
		return false, err
	}

	appointments, err := r.FindActiveByVetAndDate(ctx, vetID, date)
	if err != nil {
		return false, err
	}

	for _, appt := range appointments {
		otherStart, err := model.ParseClock(appt.StartTime)
		if err != nil {
			continue
		}
		if model.Overlaps(startMin, durationMin, otherStart, appt.DurationMin) {
			return true, nil
		}
	}

	return false, nil
}

func (r *mongoAppointmentRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}

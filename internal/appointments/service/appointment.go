package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	apptErrors "clinicops/internal/appointments/errors"
	"clinicops/internal/appointments/repository"
	"clinicops/internal/appointments/validator"
	"clinicops/pkg/config"
	mongodb "clinicops/pkg/db/mongo"
	apperrors "clinicops/pkg/errors"
	"clinicops/pkg/model"
	"clinicops/pkg/sanitizer"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
)

// lockRetryInterval is how often a blocked booking attempt re-tries the
// advisory lock within the bounded wait window.
const lockRetryInterval = 100 * time.Millisecond

// EventPublisher receives booking facts for fan-out to room watchers.
type EventPublisher interface {
	SlotBooked(appointment *model.Appointment)
	SlotCancelled(appointment *model.Appointment)
}

// Notifier forwards booking facts to the downstream notification
// pipeline. Failures are logged, never propagated: a broken broker must
// not roll back a successful booking.
type Notifier interface {
	AppointmentBooked(ctx context.Context, appointment *model.Appointment) error
	AppointmentCancelled(ctx context.Context, appointment *model.Appointment) error
}

// HoldReader is the slice of the reservations repository the coordinator
// re-validates against.
type HoldReader interface {
	FindLiveByRoom(ctx context.Context, vetID, date string, now time.Time) ([]*model.Hold, error)
}

type noopPublisher struct{}

func (noopPublisher) SlotBooked(*model.Appointment)    {}
func (noopPublisher) SlotCancelled(*model.Appointment) {}

type noopNotifier struct{}

func (noopNotifier) AppointmentBooked(context.Context, *model.Appointment) error    { return nil }
func (noopNotifier) AppointmentCancelled(context.Context, *model.Appointment) error { return nil }

type AppointmentService interface {
	Create(ctx context.Context, req *model.AppointmentRequest) (*model.Appointment, error)
	CreateBatch(ctx context.Context, reqs []*model.AppointmentRequest) (*model.BatchResult, error)
	Cancel(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*model.Appointment, error)
	ListByVetAndDate(ctx context.Context, vetID, date string) ([]*model.Appointment, error)
}

type appointmentService struct {
	repo      repository.AppointmentRepository
	lockRepo  repository.SlotLockRepository
	holds     HoldReader
	validator *validator.AppointmentValidator
	publisher EventPublisher
	notifier  Notifier
	cfg       *config.Config
}

func NewAppointmentService(
	repo repository.AppointmentRepository,
	lockRepo repository.SlotLockRepository,
	holds HoldReader,
	validator *validator.AppointmentValidator,
	publisher EventPublisher,
	notifier Notifier,
	cfg *config.Config,
) AppointmentService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &appointmentService{
		repo:      repo,
		lockRepo:  lockRepo,
		holds:     holds,
		validator: validator,
		publisher: publisher,
		notifier:  notifier,
		cfg:       cfg,
	}
}

// Create books one appointment. The advisory lock serializes attempts on
// the same vet/date; the snapshot transaction is the correctness
// backstop when the lock expires mid-flight, with store-level write
// conflicts surfacing as SLOT_CONFLICT.
func (s *appointmentService) Create(ctx context.Context, req *model.AppointmentRequest) (*model.Appointment, error) {
	s.sanitizeRequest(req)

	now := time.Now().UTC()
	if err := s.validator.ValidateRequest(req, now); err != nil {
		s.cfg.Log.Warn("Appointment validation failed", "vet_id", req.VetID, "error", err)
		return nil, apperrors.Validation("Invalid appointment input", map[string]any{"error": err.Error()})
	}

	lockKey := lockKeyFor(req.VetID, req.Date)
	if err := s.acquireLock(ctx, lockKey); err != nil {
		return nil, err
	}
	defer func() {
		if releaseErr := s.lockRepo.Release(context.Background(), lockKey); releaseErr != nil {
			s.cfg.Log.Warn("Failed to release slot lock", "lock_key", lockKey, "error", releaseErr)
		}
	}()

	appointment := s.buildAppointment(req)

	txnCtx, cancel := context.WithTimeout(ctx, s.cfg.TransactionTimeout)
	defer cancel()

	err := s.repo.ExecuteTransaction(txnCtx, func(sessCtx mongo.SessionContext) error {
		if conflictErr := s.checkConflicts(sessCtx, req, nil); conflictErr != nil {
			return conflictErr
		}
		if err := s.repo.Create(sessCtx, appointment); err != nil {
			return apperrors.Internal("Failed to create appointment", err)
		}
		return nil
	})
	if err != nil {
		if mapped := mapStoreConflict(err); mapped != nil {
			return nil, mapped
		}
		s.cfg.Log.Error("Failed to create appointment", "vet_id", req.VetID, "error", err)
		return nil, err
	}

	s.publisher.SlotBooked(appointment)
	s.notifyBooked(appointment)

	s.cfg.Log.Info("Appointment created",
		"id", appointment.ID,
		"vet_id", appointment.VetID,
		"date", appointment.Date,
		"start_time", appointment.StartTime,
	)
	return appointment, nil
}

// CreateBatch books entries sequentially within one transaction. Each
// entry is checked against existing data plus the entries already
// accepted in this batch; conflicting entries are skipped with a reason
// instead of failing the whole batch.
func (s *appointmentService) CreateBatch(ctx context.Context, reqs []*model.AppointmentRequest) (*model.BatchResult, error) {
	if len(reqs) == 0 {
		return nil, apperrors.InvalidInput("Batch cannot be empty")
	}

	now := time.Now().UTC()
	result := &model.BatchResult{
		Created: []*model.Appointment{},
		Skipped: []model.SkippedEntry{},
	}

	valid := make(map[int]*model.AppointmentRequest, len(reqs))
	lockKeys := make(map[string]struct{})
	for i, req := range reqs {
		s.sanitizeRequest(req)
		if err := s.validator.ValidateRequest(req, now); err != nil {
			result.Skipped = append(result.Skipped, skippedEntry(i, req, err.Error()))
			continue
		}
		valid[i] = req
		lockKeys[lockKeyFor(req.VetID, req.Date)] = struct{}{}
	}

	if len(valid) == 0 {
		return result, nil
	}

	// Lock every room the batch touches, in sorted order so two batches
	// over the same rooms cannot deadlock each other.
	acquired, err := s.acquireLocks(ctx, sortedKeys(lockKeys))
	defer func() {
		for _, key := range acquired {
			if releaseErr := s.lockRepo.Release(context.Background(), key); releaseErr != nil {
				s.cfg.Log.Warn("Failed to release slot lock", "lock_key", key, "error", releaseErr)
			}
		}
	}()
	if err != nil {
		return nil, err
	}

	txnCtx, cancel := context.WithTimeout(ctx, s.cfg.TransactionTimeout)
	defer cancel()

	err = s.repo.ExecuteTransaction(txnCtx, func(sessCtx mongo.SessionContext) error {
		var accepted []*model.Appointment

		for i := 0; i < len(reqs); i++ {
			req, ok := valid[i]
			if !ok {
				continue
			}

			if conflictErr := s.checkConflicts(sessCtx, req, accepted); conflictErr != nil {
				result.Skipped = append(result.Skipped, skippedEntry(i, req, conflictErr.Message))
				continue
			}

			appointment := s.buildAppointment(req)
			if err := s.repo.Create(sessCtx, appointment); err != nil {
				return apperrors.Internal("Failed to create appointment", err)
			}
			accepted = append(accepted, appointment)
			result.Created = append(result.Created, appointment)
		}

		return nil
	})
	if err != nil {
		if mapped := mapStoreConflict(err); mapped != nil {
			return nil, mapped
		}
		s.cfg.Log.Error("Failed to create batch", "entries", len(reqs), "error", err)
		return nil, err
	}

	for _, appointment := range result.Created {
		s.publisher.SlotBooked(appointment)
		s.notifyBooked(appointment)
	}

	s.cfg.Log.Info("Batch booking processed",
		"created", len(result.Created),
		"skipped", len(result.Skipped),
	)
	return result, nil
}

func (s *appointmentService) Cancel(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.InvalidInput("Appointment ID cannot be empty")
	}

	appointment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, apptErrors.ErrNotFound) {
			return apperrors.NotFoundWithID("Appointment", id)
		}
		return apperrors.Internal("Failed to retrieve appointment", err)
	}

	if err := s.repo.Cancel(ctx, id); err != nil {
		if errors.Is(err, apptErrors.ErrNotFound) {
			// already completed or cancelled
			return apperrors.Conflict("Appointment is no longer scheduled")
		}
		return apperrors.Internal("Failed to cancel appointment", err)
	}

	appointment.Status = model.AppointmentCancelled
	s.publisher.SlotCancelled(appointment)
	go func() {
		notifyCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		defer cancel()
		if err := s.notifier.AppointmentCancelled(notifyCtx, appointment); err != nil {
			s.cfg.Log.Warn("Failed to notify appointment cancellation", "id", appointment.ID, "error", err)
		}
	}()

	s.cfg.Log.Info("Appointment cancelled", "id", id, "vet_id", appointment.VetID)
	return nil
}

func (s *appointmentService) GetByID(ctx context.Context, id string) (*model.Appointment, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Appointment ID cannot be empty")
	}

	appointment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, apptErrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Appointment", id)
		}
		return nil, apperrors.Internal("Failed to retrieve appointment", err)
	}

	return appointment, nil
}

func (s *appointmentService) ListByVetAndDate(ctx context.Context, vetID, date string) ([]*model.Appointment, error) {
	if vetID == "" || date == "" {
		return nil, apperrors.InvalidInput("Vet ID and date are required")
	}

	appointments, err := s.repo.FindActiveByVetAndDate(ctx, vetID, date)
	if err != nil {
		return nil, apperrors.Internal("Failed to list appointments", err)
	}

	return appointments, nil
}

// checkConflicts is the in-transaction re-validation: overlap against
// non-cancelled appointments (SLOT_CONFLICT), then against live holds
// owned by other sessions (SLOT_RESERVED). batchAccepted carries the
// entries already accepted earlier in the same batch.
func (s *appointmentService) checkConflicts(ctx context.Context, req *model.AppointmentRequest, batchAccepted []*model.Appointment) *apperrors.AppError {
	startMin, err := model.ParseClock(req.StartTime)
	if err != nil {
		return apperrors.InvalidInput("Invalid start time")
	}

	existing, err := s.repo.FindActiveByVetAndDate(ctx, req.VetID, req.Date)
	if err != nil {
		return apperrors.Internal("Failed to re-read appointments", err)
	}

	for _, other := range append(existing, batchAccepted...) {
		if other.VetID != req.VetID || other.Date != req.Date {
			continue
		}
		otherStart, err := model.ParseClock(other.StartTime)
		if err != nil {
			continue
		}
		if model.Overlaps(startMin, req.DurationMin, otherStart, other.DurationMin) {
			return apperrors.SlotConflict(fmt.Sprintf(
				"Slot overlaps an existing appointment at %s", other.StartTime,
			))
		}
	}

	now := time.Now().UTC()
	holds, err := s.holds.FindLiveByRoom(ctx, req.VetID, req.Date, now)
	if err != nil {
		return apperrors.Internal("Failed to re-read holds", err)
	}

	for _, hold := range holds {
		if hold.SessionID == req.SessionID {
			continue
		}
		holdStart, err := model.ParseClock(hold.StartTime)
		if err != nil {
			continue
		}
		if model.Overlaps(startMin, req.DurationMin, holdStart, hold.DurationMin) {
			return apperrors.SlotReserved()
		}
	}

	return nil
}

// acquireLock retries the non-blocking advisory lock until it succeeds
// or the bounded wait window closes.
func (s *appointmentService) acquireLock(ctx context.Context, key string) error {
	deadline := time.Now().Add(s.cfg.LockWaitTimeout)

	for {
		err := s.lockRepo.Acquire(ctx, key, s.cfg.SlotLockTTL)
		if err == nil {
			return nil
		}
		if !errors.Is(err, apptErrors.ErrLockHeld) {
			return apperrors.Internal("Failed to acquire slot lock", err)
		}

		if time.Now().After(deadline) {
			return apperrors.Timeout("Timed out waiting for the slot to become available")
		}

		select {
		case <-ctx.Done():
			return apperrors.Timeout("Booking attempt cancelled while waiting for the slot")
		case <-time.After(lockRetryInterval):
		}
	}
}

func (s *appointmentService) acquireLocks(ctx context.Context, keys []string) ([]string, error) {
	var acquired []string
	for _, key := range keys {
		if err := s.acquireLock(ctx, key); err != nil {
			return acquired, err
		}
		acquired = append(acquired, key)
	}
	return acquired, nil
}

func (s *appointmentService) buildAppointment(req *model.AppointmentRequest) *model.Appointment {
	return &model.Appointment{
		ID:          uuid.NewString(),
		VetID:       req.VetID,
		Date:        req.Date,
		StartTime:   req.StartTime,
		DurationMin: req.DurationMin,
		Status:      model.AppointmentScheduled,
		ClientName:  req.ClientName,
		PetName:     req.PetName,
		Reason:      req.Reason,
		// Client-originated bookings start in the staff review queue;
		// the marker rides in the same transaction as the insert.
		PendingApproval: true,
	}
}

func (s *appointmentService) notifyBooked(appointment *model.Appointment) {
	go func() {
		notifyCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		defer cancel()
		if err := s.notifier.AppointmentBooked(notifyCtx, appointment); err != nil {
			s.cfg.Log.Warn("Failed to notify appointment booking", "id", appointment.ID, "error", err)
		}
	}()
}

func (s *appointmentService) sanitizeRequest(req *model.AppointmentRequest) {
	req.VetID = sanitizer.TrimAndNormalize(req.VetID)
	req.Date = sanitizer.TrimAndNormalize(req.Date)
	req.StartTime = sanitizer.TrimAndNormalize(req.StartTime)
	req.ClientName = sanitizer.SanitizeName(req.ClientName)
	req.PetName = sanitizer.SanitizeName(req.PetName)
	req.Reason = sanitizer.SanitizeNote(req.Reason, 500)
}

func lockKeyFor(vetID, date string) string {
	return "slot_lock_" + model.RoomKey(vetID, date)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func skippedEntry(index int, req *model.AppointmentRequest, reason string) model.SkippedEntry {
	return model.SkippedEntry{
		Index:  index,
		VetID:  req.VetID,
		Date:   req.Date,
		Start:  req.StartTime,
		Reason: reason,
	}
}

// mapStoreConflict turns store-level serialization failures into the
// same typed conflict an explicit check would have produced. The
// write-conflict check runs first and sees through AppError wrappers,
// so a transient store error raised mid-transaction still maps to
// SLOT_CONFLICT rather than an internal failure.
func mapStoreConflict(err error) *apperrors.AppError {
	if mongodb.IsWriteConflict(err) {
		return apperrors.SlotConflict("Concurrent booking detected, please retry")
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	apptErrors "clinicops/internal/appointments/errors"
	"clinicops/internal/appointments/validator"
	"clinicops/pkg/config"
	mongotx "clinicops/pkg/db/mongo"
	apperrors "clinicops/pkg/errors"
	"clinicops/pkg/logger"
	"clinicops/pkg/model"

	"go.mongodb.org/mongo-driver/mongo"
)

type fakeAppointmentRepo struct {
	mu           sync.Mutex
	txMu         sync.Mutex
	appointments map[string]*model.Appointment

	// txErr, when set, is returned instead of running the transaction,
	// in the wrapped shape the real transaction manager produces.
	txErr error
}

func newFakeAppointmentRepo() *fakeAppointmentRepo {
	return &fakeAppointmentRepo{appointments: make(map[string]*model.Appointment)}
}

func (f *fakeAppointmentRepo) Create(_ context.Context, appointment *model.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *appointment
	copied.CreatedAt = time.Now().UTC()
	f.appointments[appointment.ID] = &copied
	return nil
}

func (f *fakeAppointmentRepo) FindByID(_ context.Context, id string) (*model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appointment, ok := f.appointments[id]
	if !ok {
		return nil, apptErrors.ErrNotFound
	}
	copied := *appointment
	return &copied, nil
}

func (f *fakeAppointmentRepo) FindActiveByVetAndDate(_ context.Context, vetID, date string) ([]*model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Appointment
	for _, appointment := range f.appointments {
		if appointment.VetID == vetID && appointment.Date == date && appointment.Blocks() {
			copied := *appointment
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeAppointmentRepo) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	appointment, ok := f.appointments[id]
	if !ok || appointment.Status != model.AppointmentScheduled {
		return apptErrors.ErrNotFound
	}
	appointment.Status = model.AppointmentCancelled
	return nil
}

func (f *fakeAppointmentRepo) SlotTaken(ctx context.Context, vetID, date, startTime string, durationMin int) (bool, error) {
	startMin, err := model.ParseClock(startTime)
	if err != nil {
		return false, err
	}
	appointments, err := f.FindActiveByVetAndDate(ctx, vetID, date)
	if err != nil {
		return false, err
	}
	for _, appt := range appointments {
		otherStart, _ := model.ParseClock(appt.StartTime)
		if model.Overlaps(startMin, durationMin, otherStart, appt.DurationMin) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAppointmentRepo) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()
	if f.txErr != nil {
		return f.txErr
	}
	return fn(mongo.NewSessionContext(ctx, nil))
}

type fakeLockRepo struct {
	mu    sync.Mutex
	locks map[string]bool
}

func newFakeLockRepo() *fakeLockRepo {
	return &fakeLockRepo{locks: make(map[string]bool)}
}

func (f *fakeLockRepo) Acquire(_ context.Context, key string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[key] {
		return apptErrors.ErrLockHeld
	}
	f.locks[key] = true
	return nil
}

func (f *fakeLockRepo) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, key)
	return nil
}

type fakeHoldReader struct {
	holds []*model.Hold
}

func (f *fakeHoldReader) FindLiveByRoom(_ context.Context, vetID, date string, now time.Time) ([]*model.Hold, error) {
	var out []*model.Hold
	for _, hold := range f.holds {
		if hold.VetID == vetID && hold.Date == date && hold.IsLive(now) {
			out = append(out, hold)
		}
	}
	return out, nil
}

type recordingBookingPublisher struct {
	mu        sync.Mutex
	booked    []*model.Appointment
	cancelled []*model.Appointment
}

func (p *recordingBookingPublisher) SlotBooked(appointment *model.Appointment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.booked = append(p.booked, appointment)
}

func (p *recordingBookingPublisher) SlotCancelled(appointment *model.Appointment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, appointment)
}

func bookingConfig() *config.Config {
	return &config.Config{
		Log: logger.New(logger.Config{
			Level:   "error",
			Format:  logger.JSON,
			Service: "test",
		}),
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		LockWaitTimeout:    2 * time.Second,
		TransactionTimeout: 5 * time.Second,
		SlotLockTTL:        10 * time.Second,
	}
}

func newBookingService(repo *fakeAppointmentRepo, locks *fakeLockRepo, holds *fakeHoldReader, pub EventPublisher) *appointmentService {
	cfg := bookingConfig()
	if holds == nil {
		holds = &fakeHoldReader{}
	}
	if pub == nil {
		pub = noopPublisher{}
	}
	return &appointmentService{
		repo:      repo,
		lockRepo:  locks,
		holds:     holds,
		validator: validator.NewAppointmentValidator(cfg.Log),
		publisher: pub,
		notifier:  noopNotifier{},
		cfg:       cfg,
	}
}

func bookingRequest(start string) *model.AppointmentRequest {
	return &model.AppointmentRequest{
		VetID:       "vet-1",
		Date:        "2030-06-10",
		StartTime:   start,
		DurationMin: 30,
		ClientName:  "Dana Levi",
		PetName:     "Rex",
		SessionID:   "sess-a",
	}
}

func TestCreate_Success(t *testing.T) {
	repo := newFakeAppointmentRepo()
	locks := newFakeLockRepo()
	pub := &recordingBookingPublisher{}
	svc := newBookingService(repo, locks, nil, pub)

	appointment, err := svc.Create(context.Background(), bookingRequest("10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if appointment.Status != model.AppointmentScheduled {
		t.Errorf("expected scheduled, got %s", appointment.Status)
	}
	if !appointment.PendingApproval {
		t.Error("client bookings must start pending approval")
	}
	if len(pub.booked) != 1 {
		t.Errorf("expected 1 slot-booked event, got %d", len(pub.booked))
	}

	locks.mu.Lock()
	held := len(locks.locks)
	locks.mu.Unlock()
	if held != 0 {
		t.Errorf("lock must be released after booking, %d still held", held)
	}
}

func TestCreate_OverlapConflict(t *testing.T) {
	repo := newFakeAppointmentRepo()
	svc := newBookingService(repo, newFakeLockRepo(), nil, nil)

	if _, err := svc.Create(context.Background(), bookingRequest("10:00")); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}

	// Partial overlap with the 10:00-10:30 appointment.
	_, err := svc.Create(context.Background(), bookingRequest("10:15"))
	if !apperrors.IsCode(err, apperrors.CodeSlotConflict) {
		t.Fatalf("expected SLOT_CONFLICT, got %v", err)
	}
}

func TestCreate_ForeignHoldBlocks(t *testing.T) {
	repo := newFakeAppointmentRepo()
	holds := &fakeHoldReader{holds: []*model.Hold{{
		VetID:       "vet-1",
		Date:        "2030-06-10",
		StartTime:   "10:00",
		DurationMin: 30,
		Status:      model.HoldPending,
		SessionID:   "sess-other",
		ExpiresAt:   time.Now().UTC().Add(time.Minute),
	}}}
	svc := newBookingService(repo, newFakeLockRepo(), holds, nil)

	_, err := svc.Create(context.Background(), bookingRequest("10:00"))
	if !apperrors.IsCode(err, apperrors.CodeSlotReserved) {
		t.Fatalf("expected SLOT_RESERVED, got %v", err)
	}
}

func TestCreate_OwnHoldDoesNotBlock(t *testing.T) {
	repo := newFakeAppointmentRepo()
	holds := &fakeHoldReader{holds: []*model.Hold{{
		VetID:       "vet-1",
		Date:        "2030-06-10",
		StartTime:   "10:00",
		DurationMin: 30,
		Status:      model.HoldPending,
		SessionID:   "sess-a",
		ExpiresAt:   time.Now().UTC().Add(time.Minute),
	}}}
	svc := newBookingService(repo, newFakeLockRepo(), holds, nil)

	if _, err := svc.Create(context.Background(), bookingRequest("10:00")); err != nil {
		t.Fatalf("own hold must not block booking, got %v", err)
	}
}

func TestCreate_ConcurrentAttemptsOneWins(t *testing.T) {
	repo := newFakeAppointmentRepo()
	svc := newBookingService(repo, newFakeLockRepo(), nil, nil)

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := bookingRequest("10:00")
			req.SessionID = ""
			_, results[i] = svc.Create(context.Background(), req)
		}(i)
	}
	wg.Wait()

	var won, conflicted int
	for _, err := range results {
		switch {
		case err == nil:
			won++
		case apperrors.IsCode(err, apperrors.CodeSlotConflict):
			conflicted++
		case apperrors.IsCode(err, apperrors.CodeTimeout):
			conflicted++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if won != 1 {
		t.Errorf("expected exactly 1 successful booking, got %d", won)
	}

	stored, err := repo.FindActiveByVetAndDate(context.Background(), "vet-1", "2030-06-10")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("expected exactly 1 stored appointment, got %d", len(stored))
	}
}

// A write conflict surfacing from the store, in the wrapped shape the
// transaction manager produces, must map to SLOT_CONFLICT rather than
// an internal failure.
func TestCreate_StoreWriteConflictMapsToSlotConflict(t *testing.T) {
	repo := newFakeAppointmentRepo()
	repo.txErr = fmt.Errorf("transaction failed: %w", mongo.CommandError{
		Name:   "WriteConflict",
		Labels: []string{"TransientTransactionError"},
	})
	svc := newBookingService(repo, newFakeLockRepo(), nil, nil)

	_, err := svc.Create(context.Background(), bookingRequest("10:00"))
	if !apperrors.IsCode(err, apperrors.CodeSlotConflict) {
		t.Fatalf("expected SLOT_CONFLICT, got %v", err)
	}
}

// The same conflict raised mid-transaction gets wrapped in an internal
// AppError by the transaction body; the mapping must see through it.
func TestCreate_WrappedWriteConflictMapsToSlotConflict(t *testing.T) {
	repo := newFakeAppointmentRepo()
	repo.txErr = apperrors.Internal("Failed to create appointment", mongo.CommandError{
		Name: "WriteConflict",
	})
	svc := newBookingService(repo, newFakeLockRepo(), nil, nil)

	_, err := svc.Create(context.Background(), bookingRequest("10:00"))
	if !apperrors.IsCode(err, apperrors.CodeSlotConflict) {
		t.Fatalf("expected SLOT_CONFLICT, got %v", err)
	}
}

func TestCreateBatch_SkipsConflictingEntries(t *testing.T) {
	repo := newFakeAppointmentRepo()
	svc := newBookingService(repo, newFakeLockRepo(), nil, nil)

	reqs := []*model.AppointmentRequest{
		bookingRequest("10:00"),
		bookingRequest("10:15"), // overlaps entry 0
		bookingRequest("11:00"),
	}

	result, err := svc.CreateBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	if len(result.Created) != 2 {
		t.Fatalf("expected 2 created, got %d", len(result.Created))
	}
	if len(result.Skipped) != 1 {
		t.Fatalf("expected 1 skipped, got %d", len(result.Skipped))
	}

	skipped := result.Skipped[0]
	if skipped.Index != 1 {
		t.Errorf("expected entry 1 skipped, got %d", skipped.Index)
	}
	if skipped.Reason == "" {
		t.Error("skipped entry must carry a human-readable reason")
	}

	if result.Created[0].StartTime != "10:00" || result.Created[1].StartTime != "11:00" {
		t.Errorf("wrong entries created: %s, %s", result.Created[0].StartTime, result.Created[1].StartTime)
	}
}

func TestCreateBatch_InvalidEntrySkippedNotFatal(t *testing.T) {
	repo := newFakeAppointmentRepo()
	svc := newBookingService(repo, newFakeLockRepo(), nil, nil)

	bad := bookingRequest("10:00")
	bad.ClientName = ""

	result, err := svc.CreateBatch(context.Background(), []*model.AppointmentRequest{
		bad,
		bookingRequest("11:00"),
	})
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	if len(result.Created) != 1 || len(result.Skipped) != 1 {
		t.Fatalf("expected 1 created / 1 skipped, got %d / %d", len(result.Created), len(result.Skipped))
	}
	if result.Skipped[0].Index != 0 {
		t.Errorf("expected entry 0 skipped, got %d", result.Skipped[0].Index)
	}
}

func TestCancel(t *testing.T) {
	repo := newFakeAppointmentRepo()
	pub := &recordingBookingPublisher{}
	svc := newBookingService(repo, newFakeLockRepo(), nil, pub)

	appointment, err := svc.Create(context.Background(), bookingRequest("10:00"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := svc.Cancel(context.Background(), appointment.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if err := svc.Cancel(context.Background(), appointment.ID); !apperrors.IsCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected CONFLICT on repeat cancel, got %v", err)
	}

	pub.mu.Lock()
	cancelled := len(pub.cancelled)
	pub.mu.Unlock()
	if cancelled != 1 {
		t.Errorf("expected 1 slot-cancelled event, got %d", cancelled)
	}

	// the freed slot can be booked again
	if _, err := svc.Create(context.Background(), bookingRequest("10:00")); err != nil {
		t.Fatalf("rebooking a cancelled slot failed: %v", err)
	}
}

func TestCancel_NotFound(t *testing.T) {
	svc := newBookingService(newFakeAppointmentRepo(), newFakeLockRepo(), nil, nil)

	err := svc.Cancel(context.Background(), "missing-id")
	if !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	holderrors "clinicops/internal/reservations/errors"
	"clinicops/internal/reservations/validator"
	"clinicops/pkg/config"
	mongotx "clinicops/pkg/db/mongo"
	apperrors "clinicops/pkg/errors"
	"clinicops/pkg/logger"
	"clinicops/pkg/model"

	"go.mongodb.org/mongo-driver/mongo"
)

// In-memory hold store modeling the two store behaviors the service
// leans on: the partial unique index on live pending holds (Create
// rejects a second claim), and snapshot reads that can miss a
// concurrent insert. Mongo snapshot transactions do not conflict on
// inserts of distinct documents, so the index, not the transaction, is
// what picks a single winner.
type fakeHoldRepo struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	holds map[string]*model.Hold

	// While positive, FindLiveBySlot reports an empty snapshot and
	// decrements, modeling claims that read before a racing insert
	// becomes visible.
	snapshotMisses int32
}

func newFakeHoldRepo() *fakeHoldRepo {
	return &fakeHoldRepo{holds: make(map[string]*model.Hold)}
}

func (f *fakeHoldRepo) Create(_ context.Context, hold *model.Hold) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.holds {
		if existing.VetID == hold.VetID && existing.Date == hold.Date &&
			existing.StartTime == hold.StartTime && existing.Status == model.HoldPending {
			return holderrors.ErrSlotClaimed
		}
	}
	copied := *hold
	copied.CreatedAt = time.Now().UTC()
	f.holds[hold.ID] = &copied
	return nil
}

func (f *fakeHoldRepo) FindByID(_ context.Context, id string) (*model.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hold, ok := f.holds[id]
	if !ok {
		return nil, holderrors.ErrNotFound
	}
	copied := *hold
	return &copied, nil
}

func (f *fakeHoldRepo) FindLiveBySlot(_ context.Context, vetID, date, startTime string, now time.Time) (*model.Hold, error) {
	if atomic.AddInt32(&f.snapshotMisses, -1) >= 0 {
		return nil, holderrors.ErrNotFound
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, hold := range f.holds {
		if hold.VetID == vetID && hold.Date == date && hold.StartTime == startTime && hold.IsLive(now) {
			copied := *hold
			return &copied, nil
		}
	}
	return nil, holderrors.ErrNotFound
}

func (f *fakeHoldRepo) FindLiveByRoom(_ context.Context, vetID, date string, now time.Time) ([]*model.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Hold
	for _, hold := range f.holds {
		if hold.VetID == vetID && hold.Date == date && hold.IsLive(now) {
			copied := *hold
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeHoldRepo) FindPendingBySession(_ context.Context, sessionID string) ([]*model.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Hold
	for _, hold := range f.holds {
		if hold.SessionID == sessionID && hold.Status == model.HoldPending {
			copied := *hold
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeHoldRepo) UpdateExpiry(_ context.Context, id, sessionID string, newExpiry time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	hold, ok := f.holds[id]
	if !ok || hold.SessionID != sessionID || hold.Status != model.HoldPending {
		return holderrors.ErrNotFound
	}
	hold.ExpiresAt = newExpiry
	return nil
}

func (f *fakeHoldRepo) Transition(_ context.Context, id, sessionID, newStatus string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	hold, ok := f.holds[id]
	if !ok || hold.Status != model.HoldPending {
		return holderrors.ErrNotFound
	}
	if sessionID != "" && hold.SessionID != sessionID {
		return holderrors.ErrNotFound
	}
	hold.Status = newStatus
	switch newStatus {
	case model.HoldConfirmed:
		hold.ConfirmedAt = &at
	case model.HoldReleased:
		hold.ReleasedAt = &at
	}
	return nil
}

func (f *fakeHoldRepo) ReleaseAllForSession(_ context.Context, sessionID string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, hold := range f.holds {
		if hold.SessionID == sessionID && hold.Status == model.HoldPending {
			hold.Status = model.HoldReleased
			hold.ReleasedAt = &at
			n++
		}
	}
	return n, nil
}

func (f *fakeHoldRepo) FindOverduePending(_ context.Context, now time.Time, limit int) ([]*model.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Hold
	for _, hold := range f.holds {
		if hold.Status == model.HoldPending && !hold.ExpiresAt.After(now) {
			copied := *hold
			out = append(out, &copied)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeHoldRepo) ExpireLapsed(_ context.Context, vetID, date, startTime string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, hold := range f.holds {
		if hold.VetID == vetID && hold.Date == date && hold.StartTime == startTime &&
			hold.Status == model.HoldPending && !hold.ExpiresAt.After(now) {
			hold.Status = model.HoldExpired
		}
	}
	return nil
}

func (f *fakeHoldRepo) ExpireByIDs(_ context.Context, ids []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if hold, ok := f.holds[id]; ok && hold.Status == model.HoldPending {
			hold.Status = model.HoldExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeHoldRepo) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()
	return fn(mongo.NewSessionContext(ctx, nil))
}

type fakeAppointmentChecker struct {
	taken bool
	err   error
}

func (f *fakeAppointmentChecker) SlotTaken(context.Context, string, string, string, int) (bool, error) {
	return f.taken, f.err
}

type recordingPublisher struct {
	mu       sync.Mutex
	created  []*model.Hold
	released []*model.Hold
	reasons  []string
}

func (p *recordingPublisher) HoldCreated(hold *model.Hold) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, hold)
}

func (p *recordingPublisher) HoldReleased(hold *model.Hold, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, hold)
	p.reasons = append(p.reasons, reason)
}

func testConfig() *config.Config {
	log := logger.New(logger.Config{
		Level:     "error",
		Format:    logger.JSON,
		AddSource: false,
		Service:   "test",
	})
	return &config.Config{
		Log:          log,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		HoldTTL:      5 * time.Minute,
	}
}

func newTestService(repo *fakeHoldRepo, checker AppointmentChecker, pub EventPublisher, cfg *config.Config) *reservationService {
	if checker == nil {
		checker = &fakeAppointmentChecker{}
	}
	if pub == nil {
		pub = noopPublisher{}
	}
	return &reservationService{
		repo:         repo,
		appointments: checker,
		validator:    validator.NewHoldValidator(cfg.Log),
		publisher:    pub,
		cfg:          cfg,
	}
}

func holdRequest(sessionID string) *model.HoldRequest {
	return &model.HoldRequest{
		VetID:       "vet-1",
		Date:        "2030-06-10",
		StartTime:   "10:00",
		DurationMin: 30,
		SessionID:   sessionID,
	}
}

func TestCreateHold_Success(t *testing.T) {
	repo := newFakeHoldRepo()
	pub := &recordingPublisher{}
	svc := newTestService(repo, nil, pub, testConfig())

	before := time.Now().UTC()
	hold, err := svc.CreateHold(context.Background(), holdRequest("sess-a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if hold.Status != model.HoldPending {
		t.Errorf("expected pending status, got %s", hold.Status)
	}
	if hold.ID == "" {
		t.Error("expected generated hold ID")
	}

	wantExpiry := before.Add(5 * time.Minute)
	if hold.ExpiresAt.Before(wantExpiry) || hold.ExpiresAt.After(wantExpiry.Add(2*time.Second)) {
		t.Errorf("expiry not anchored to creation time: %v", hold.ExpiresAt)
	}

	if len(pub.created) != 1 {
		t.Errorf("expected 1 hold-created event, got %d", len(pub.created))
	}
}

func TestCreateHold_OtherSessionBlocked(t *testing.T) {
	repo := newFakeHoldRepo()
	svc := newTestService(repo, nil, nil, testConfig())

	if _, err := svc.CreateHold(context.Background(), holdRequest("sess-a")); err != nil {
		t.Fatalf("first hold failed: %v", err)
	}

	_, err := svc.CreateHold(context.Background(), holdRequest("sess-b"))
	if !apperrors.IsCode(err, apperrors.CodeSlotBeingReserved) {
		t.Fatalf("expected SLOT_BEING_RESERVED, got %v", err)
	}

	appErr := apperrors.AsAppError(err)
	remaining, ok := appErr.Details["remaining_seconds"].(int)
	if !ok {
		t.Fatalf("expected remaining_seconds detail, got %v", appErr.Details)
	}
	if remaining <= 0 || remaining > 300 {
		t.Errorf("remaining_seconds out of range: %d", remaining)
	}
}

func TestCreateHold_SameSessionRefreshes(t *testing.T) {
	repo := newFakeHoldRepo()
	pub := &recordingPublisher{}
	svc := newTestService(repo, nil, pub, testConfig())

	first, err := svc.CreateHold(context.Background(), holdRequest("sess-a"))
	if err != nil {
		t.Fatalf("first hold failed: %v", err)
	}

	second, err := svc.CreateHold(context.Background(), holdRequest("sess-a"))
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("expected same hold refreshed, got new ID %s", second.ID)
	}
	if second.ExpiresAt.Before(first.ExpiresAt) {
		t.Error("refresh did not move expiry forward")
	}
	if len(repo.holds) != 1 {
		t.Errorf("expected 1 stored hold, got %d", len(repo.holds))
	}
	if len(pub.created) != 1 {
		t.Errorf("refresh must not re-publish hold-created, got %d events", len(pub.created))
	}
}

func TestCreateHold_SlotAlreadyBooked(t *testing.T) {
	repo := newFakeHoldRepo()
	svc := newTestService(repo, &fakeAppointmentChecker{taken: true}, nil, testConfig())

	_, err := svc.CreateHold(context.Background(), holdRequest("sess-a"))
	if !apperrors.IsCode(err, apperrors.CodeSlotAlreadyBooked) {
		t.Fatalf("expected SLOT_ALREADY_BOOKED, got %v", err)
	}
}

func TestCreateHold_ConcurrentSessions(t *testing.T) {
	repo := newFakeHoldRepo()
	svc := newTestService(repo, nil, nil, testConfig())

	const sessions = 10
	var wg sync.WaitGroup
	results := make([]error, sessions)

	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := holdRequest("sess-" + string(rune('a'+i)))
			_, results[i] = svc.CreateHold(context.Background(), req)
		}(i)
	}
	wg.Wait()

	var won, blocked int
	for _, err := range results {
		switch {
		case err == nil:
			won++
		case apperrors.IsCode(err, apperrors.CodeSlotBeingReserved):
			blocked++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if won != 1 {
		t.Errorf("expected exactly 1 winner, got %d", won)
	}
	if blocked != sessions-1 {
		t.Errorf("expected %d blocked sessions, got %d", sessions-1, blocked)
	}
}

// Two sessions whose transactions both read an empty snapshot must not
// both end up holding the slot: the unique live-hold index rejects the
// second insert and the loser is told who won.
func TestCreateHold_SnapshotReadsMissRacingInsert(t *testing.T) {
	repo := newFakeHoldRepo()
	repo.snapshotMisses = 2
	svc := newTestService(repo, nil, nil, testConfig())

	winner, err := svc.CreateHold(context.Background(), holdRequest("sess-a"))
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	_, err = svc.CreateHold(context.Background(), holdRequest("sess-b"))
	if !apperrors.IsCode(err, apperrors.CodeSlotBeingReserved) {
		t.Fatalf("expected SLOT_BEING_RESERVED, got %v", err)
	}
	appErr := apperrors.AsAppError(err)
	remaining, ok := appErr.Details["remaining_seconds"].(int)
	if !ok || remaining <= 0 {
		t.Errorf("expected positive remaining_seconds, got %v", appErr.Details["remaining_seconds"])
	}

	repo.mu.Lock()
	var pending int
	for _, hold := range repo.holds {
		if hold.Status == model.HoldPending {
			pending++
		}
	}
	repo.mu.Unlock()
	if pending != 1 {
		t.Errorf("expected exactly 1 pending hold, got %d", pending)
	}
	if winner.SessionID != "sess-a" {
		t.Errorf("wrong winner session: %s", winner.SessionID)
	}
}

// The same race from the same session must hand back the already-won
// hold instead of a conflict.
func TestCreateHold_SnapshotRaceSameSessionGetsExistingHold(t *testing.T) {
	repo := newFakeHoldRepo()
	repo.snapshotMisses = 2
	svc := newTestService(repo, nil, nil, testConfig())

	first, err := svc.CreateHold(context.Background(), holdRequest("sess-a"))
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	second, err := svc.CreateHold(context.Background(), holdRequest("sess-a"))
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the winning hold back, got %s vs %s", second.ID, first.ID)
	}
}

// A lapsed pending hold the sweeper has not reached yet must not block
// a new claim on the slot.
func TestCreateHold_LapsedHoldDoesNotBlock(t *testing.T) {
	repo := newFakeHoldRepo()
	svc := newTestService(repo, nil, nil, testConfig())

	stale, err := svc.CreateHold(context.Background(), holdRequest("sess-a"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	repo.mu.Lock()
	repo.holds[stale.ID].ExpiresAt = time.Now().UTC().Add(-time.Minute)
	repo.mu.Unlock()

	fresh, err := svc.CreateHold(context.Background(), holdRequest("sess-b"))
	if err != nil {
		t.Fatalf("claim on lapsed slot failed: %v", err)
	}
	if fresh.SessionID != "sess-b" {
		t.Errorf("wrong owner: %s", fresh.SessionID)
	}

	stored, err := repo.FindByID(context.Background(), stale.ID)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if stored.Status != model.HoldExpired {
		t.Errorf("lapsed hold must be expired, got %s", stored.Status)
	}
}

func TestConfirmHold(t *testing.T) {
	repo := newFakeHoldRepo()
	svc := newTestService(repo, nil, nil, testConfig())

	hold, err := svc.CreateHold(context.Background(), holdRequest("sess-a"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	confirmed, err := svc.ConfirmHold(context.Background(), hold.ID, "sess-a")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if confirmed.Status != model.HoldConfirmed {
		t.Errorf("expected confirmed, got %s", confirmed.Status)
	}
	if confirmed.ConfirmedAt == nil {
		t.Error("expected confirmed_at to be set")
	}
}

func TestConfirmHold_WrongSessionLooksMissing(t *testing.T) {
	repo := newFakeHoldRepo()
	svc := newTestService(repo, nil, nil, testConfig())

	hold, err := svc.CreateHold(context.Background(), holdRequest("sess-a"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err = svc.ConfirmHold(context.Background(), hold.ID, "sess-b")
	if !apperrors.IsCode(err, apperrors.CodeReservationNotFound) {
		t.Fatalf("expected RESERVATION_NOT_FOUND for foreign session, got %v", err)
	}
}

func TestConfirmHold_Expired(t *testing.T) {
	repo := newFakeHoldRepo()
	svc := newTestService(repo, nil, nil, testConfig())

	hold, err := svc.CreateHold(context.Background(), holdRequest("sess-a"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	repo.mu.Lock()
	repo.holds[hold.ID].ExpiresAt = time.Now().UTC().Add(-time.Second)
	repo.mu.Unlock()

	_, err = svc.ConfirmHold(context.Background(), hold.ID, "sess-a")
	if !apperrors.IsCode(err, apperrors.CodeReservationExpired) {
		t.Fatalf("expected RESERVATION_EXPIRED, got %v", err)
	}
}

func TestExtendHold_CountsFromExtensionTime(t *testing.T) {
	repo := newFakeHoldRepo()
	svc := newTestService(repo, nil, nil, testConfig())

	hold, err := svc.CreateHold(context.Background(), holdRequest("sess-a"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Simulate a hold created a while ago with little TTL left.
	repo.mu.Lock()
	repo.holds[hold.ID].ExpiresAt = time.Now().UTC().Add(10 * time.Second)
	repo.mu.Unlock()

	before := time.Now().UTC()
	extended, err := svc.ExtendHold(context.Background(), hold.ID, "sess-a")
	if err != nil {
		t.Fatalf("extend failed: %v", err)
	}

	wantExpiry := before.Add(5 * time.Minute)
	if extended.ExpiresAt.Before(wantExpiry) || extended.ExpiresAt.After(wantExpiry.Add(2*time.Second)) {
		t.Errorf("extension not anchored to extension time: %v", extended.ExpiresAt)
	}
}

func TestReleaseHold_Idempotent(t *testing.T) {
	repo := newFakeHoldRepo()
	pub := &recordingPublisher{}
	svc := newTestService(repo, nil, pub, testConfig())

	hold, err := svc.CreateHold(context.Background(), holdRequest("sess-a"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := svc.ReleaseHold(context.Background(), hold.ID, "sess-a"); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	if err := svc.ReleaseHold(context.Background(), hold.ID, "sess-a"); err != nil {
		t.Fatalf("repeat release should succeed, got %v", err)
	}

	if len(pub.released) != 1 {
		t.Errorf("expected 1 hold-released event, got %d", len(pub.released))
	}
}

func TestReleaseAllForSession(t *testing.T) {
	repo := newFakeHoldRepo()
	pub := &recordingPublisher{}
	svc := newTestService(repo, nil, pub, testConfig())

	reqA := holdRequest("sess-a")
	if _, err := svc.CreateHold(context.Background(), reqA); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	reqA2 := holdRequest("sess-a")
	reqA2.StartTime = "11:00"
	if _, err := svc.CreateHold(context.Background(), reqA2); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	reqB := holdRequest("sess-b")
	reqB.StartTime = "12:00"
	other, err := svc.CreateHold(context.Background(), reqB)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	released, err := svc.ReleaseAllForSession(context.Background(), "sess-a")
	if err != nil {
		t.Fatalf("release all failed: %v", err)
	}
	if len(released) != 2 {
		t.Fatalf("expected 2 released holds, got %d", len(released))
	}

	for _, reason := range pub.reasons {
		if reason != "session-closed" && reason != "released" {
			t.Errorf("unexpected release reason: %s", reason)
		}
	}

	stored, err := repo.FindByID(context.Background(), other.ID)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if stored.Status != model.HoldPending {
		t.Errorf("other session's hold must stay pending, got %s", stored.Status)
	}
}

func TestExpireOverdue(t *testing.T) {
	repo := newFakeHoldRepo()
	pub := &recordingPublisher{}
	svc := newTestService(repo, nil, pub, testConfig())

	overdue, err := svc.CreateHold(context.Background(), holdRequest("sess-a"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	fresh := holdRequest("sess-b")
	fresh.StartTime = "14:00"
	live, err := svc.CreateHold(context.Background(), fresh)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	repo.mu.Lock()
	repo.holds[overdue.ID].ExpiresAt = time.Now().UTC().Add(-time.Minute)
	repo.mu.Unlock()

	expired, count, err := svc.ExpireOverdue(context.Background())
	if err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	if count != 1 || len(expired) != 1 {
		t.Fatalf("expected 1 expired hold, got count=%d len=%d", count, len(expired))
	}
	if expired[0].ID != overdue.ID {
		t.Errorf("wrong hold expired: %s", expired[0].ID)
	}

	stored, err := repo.FindByID(context.Background(), live.ID)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if stored.Status != model.HoldPending {
		t.Errorf("live hold must stay pending, got %s", stored.Status)
	}

	if len(pub.reasons) != 1 || pub.reasons[0] != "expired" {
		t.Errorf("expected one 'expired' event, got %v", pub.reasons)
	}
}

// A backlog larger than one find/expire page must still broadcast a
// release for every reclaimed hold.
func TestExpireOverdue_DrainsBeyondBatchSize(t *testing.T) {
	oldBatch := expireBatchSize
	expireBatchSize = 2
	defer func() { expireBatchSize = oldBatch }()

	repo := newFakeHoldRepo()
	pub := &recordingPublisher{}
	svc := newTestService(repo, nil, pub, testConfig())

	const backlog = 5
	for i := 0; i < backlog; i++ {
		req := holdRequest(fmt.Sprintf("sess-%d", i))
		req.StartTime = fmt.Sprintf("%02d:00", 9+i)
		hold, err := svc.CreateHold(context.Background(), req)
		if err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
		repo.mu.Lock()
		repo.holds[hold.ID].ExpiresAt = time.Now().UTC().Add(-time.Minute)
		repo.mu.Unlock()
	}

	expired, count, err := svc.ExpireOverdue(context.Background())
	if err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	if count != backlog || len(expired) != backlog {
		t.Fatalf("expected %d expired holds, got count=%d len=%d", backlog, count, len(expired))
	}

	pub.mu.Lock()
	events := len(pub.released)
	pub.mu.Unlock()
	if events != backlog {
		t.Errorf("expected %d hold-released events, got %d", backlog, events)
	}
	for _, reason := range pub.reasons {
		if reason != "expired" {
			t.Errorf("unexpected reason %q", reason)
		}
	}
}

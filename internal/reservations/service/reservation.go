package service

import (
	"context"
	"errors"
	"time"

	holderrors "clinicops/internal/reservations/errors"
	"clinicops/internal/reservations/repository"
	"clinicops/internal/reservations/validator"
	"clinicops/pkg/config"
	apperrors "clinicops/pkg/errors"
	"clinicops/pkg/model"
	"clinicops/pkg/sanitizer"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
)

// expireBatchSize caps how many overdue holds one find/expire round
// handles; the sweep loops until the backlog is drained.
var expireBatchSize = 500

// EventPublisher receives hold lifecycle events for fan-out to watchers.
// The realtime dispatcher implements it.
type EventPublisher interface {
	HoldCreated(hold *model.Hold)
	HoldReleased(hold *model.Hold, reason string)
}

type noopPublisher struct{}

func (noopPublisher) HoldCreated(*model.Hold)          {}
func (noopPublisher) HoldReleased(*model.Hold, string) {}

// AppointmentChecker answers whether a slot is already taken by a
// scheduled appointment. Implemented by the appointments repository.
type AppointmentChecker interface {
	SlotTaken(ctx context.Context, vetID, date, startTime string, durationMin int) (bool, error)
}

type ReservationService interface {
	CreateHold(ctx context.Context, req *model.HoldRequest) (*model.Hold, error)
	ConfirmHold(ctx context.Context, id, sessionID string) (*model.Hold, error)
	ReleaseHold(ctx context.Context, id, sessionID string) error
	ExtendHold(ctx context.Context, id, sessionID string) (*model.Hold, error)
	ReleaseAllForSession(ctx context.Context, sessionID string) ([]*model.Hold, error)
	LiveHolds(ctx context.Context, vetID, date string) ([]*model.Hold, error)
	ExpireOverdue(ctx context.Context) ([]*model.Hold, int64, error)
}

type reservationService struct {
	repo         repository.HoldRepository
	appointments AppointmentChecker
	validator    *validator.HoldValidator
	publisher    EventPublisher
	cfg          *config.Config
}

func NewReservationService(
	repo repository.HoldRepository,
	appointments AppointmentChecker,
	validator *validator.HoldValidator,
	publisher EventPublisher,
	cfg *config.Config,
) ReservationService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &reservationService{
		repo:         repo,
		appointments: appointments,
		validator:    validator,
		publisher:    publisher,
		cfg:          cfg,
	}
}

// CreateHold places a TTL claim on a slot. A second request from the
// same session for the same slot refreshes the existing hold instead of
// stacking a new one; a request from another session is rejected with
// the seconds left on the winner's TTL.
func (s *reservationService) CreateHold(ctx context.Context, req *model.HoldRequest) (*model.Hold, error) {
	s.sanitizeRequest(req)

	now := time.Now().UTC()
	if err := s.validator.ValidateRequest(req, now); err != nil {
		s.cfg.Log.Warn("Hold validation failed", "vet_id", req.VetID, "error", err)
		return nil, apperrors.Validation("Invalid hold input", map[string]any{"error": err.Error()})
	}

	hold := &model.Hold{
		ID:          uuid.NewString(),
		VetID:       req.VetID,
		Date:        req.Date,
		StartTime:   req.StartTime,
		DurationMin: req.DurationMin,
		Status:      model.HoldPending,
		SessionID:   req.SessionID,
		ClientID:    req.ClientID,
		ExpiresAt:   now.Add(s.cfg.HoldTTL),
	}

	var refreshed *model.Hold
	err := s.repo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		existing, err := s.repo.FindLiveBySlot(sessCtx, req.VetID, req.Date, req.StartTime, now)
		if err != nil && !errors.Is(err, holderrors.ErrNotFound) {
			return apperrors.Internal("Failed to check slot holds", err)
		}

		if existing != nil {
			if existing.SessionID != req.SessionID {
				return apperrors.SlotBeingReserved(existing.Remaining(now))
			}
			newExpiry := now.Add(s.cfg.HoldTTL)
			if err := s.repo.UpdateExpiry(sessCtx, existing.ID, existing.SessionID, newExpiry); err != nil {
				return apperrors.Internal("Failed to refresh hold", err)
			}
			existing.ExpiresAt = newExpiry
			refreshed = existing
			return nil
		}

		taken, err := s.appointments.SlotTaken(sessCtx, req.VetID, req.Date, req.StartTime, req.DurationMin)
		if err != nil {
			return apperrors.Internal("Failed to check slot availability", err)
		}
		if taken {
			return apperrors.SlotAlreadyBooked()
		}

		// A lapsed hold the sweeper has not reached yet still occupies
		// the unique live-hold index; clear it before claiming.
		if err := s.repo.ExpireLapsed(sessCtx, req.VetID, req.Date, req.StartTime, now); err != nil {
			return apperrors.Internal("Failed to clear lapsed hold", err)
		}

		if err := s.repo.Create(sessCtx, hold); err != nil {
			if errors.Is(err, holderrors.ErrSlotClaimed) {
				return err
			}
			return apperrors.Internal("Failed to create hold", err)
		}
		return nil
	})
	if err != nil {
		// The snapshot read sees no live hold when two sessions claim a
		// slot at the same instant; the unique index picks the winner
		// and the loser lands here.
		if errors.Is(err, holderrors.ErrSlotClaimed) {
			return s.lostClaimRace(ctx, req)
		}
		return nil, err
	}

	if refreshed != nil {
		s.cfg.Log.Info("Hold refreshed",
			"id", refreshed.ID,
			"vet_id", refreshed.VetID,
			"date", refreshed.Date,
			"start_time", refreshed.StartTime,
		)
		return refreshed, nil
	}

	s.publisher.HoldCreated(hold)
	s.cfg.Log.Info("Hold created",
		"id", hold.ID,
		"vet_id", hold.VetID,
		"date", hold.Date,
		"start_time", hold.StartTime,
		"expires_at", hold.ExpiresAt,
	)
	return hold, nil
}

// lostClaimRace re-reads the winning hold after the unique index
// rejected ours. A same-session winner is returned as the caller's own
// hold; any other session gets the seconds left on the winner's TTL.
func (s *reservationService) lostClaimRace(ctx context.Context, req *model.HoldRequest) (*model.Hold, error) {
	now := time.Now().UTC()
	winner, err := s.repo.FindLiveBySlot(ctx, req.VetID, req.Date, req.StartTime, now)
	if err != nil {
		if errors.Is(err, holderrors.ErrNotFound) {
			// winner released between the abort and this read
			return nil, apperrors.SlotBeingReserved(0)
		}
		return nil, apperrors.Internal("Failed to check slot holds", err)
	}

	if winner.SessionID == req.SessionID {
		return winner, nil
	}
	return nil, apperrors.SlotBeingReserved(winner.Remaining(now))
}

// ConfirmHold moves a pending hold to confirmed so the booking
// coordinator can redeem it. Only the owning session may confirm; other
// sessions see the same not-found as a missing hold.
func (s *reservationService) ConfirmHold(ctx context.Context, id, sessionID string) (*model.Hold, error) {
	hold, err := s.loadOwnedHold(ctx, id, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.checkPending(hold, now); err != nil {
		return nil, err
	}

	if err := s.repo.Transition(ctx, id, sessionID, model.HoldConfirmed, now); err != nil {
		if errors.Is(err, holderrors.ErrNotFound) {
			// lost the race to the sweeper or a concurrent release
			return nil, apperrors.ReservationExpired(id)
		}
		return nil, apperrors.Internal("Failed to confirm hold", err)
	}

	hold.Status = model.HoldConfirmed
	hold.ConfirmedAt = &now
	s.cfg.Log.Info("Hold confirmed", "id", id, "vet_id", hold.VetID)
	return hold, nil
}

// ReleaseHold frees a slot early. Releasing an already-released or
// expired hold succeeds without effect.
func (s *reservationService) ReleaseHold(ctx context.Context, id, sessionID string) error {
	hold, err := s.loadOwnedHold(ctx, id, sessionID)
	if err != nil {
		return err
	}

	if hold.Status != model.HoldPending {
		return nil
	}

	now := time.Now().UTC()
	if err := s.repo.Transition(ctx, id, sessionID, model.HoldReleased, now); err != nil {
		if errors.Is(err, holderrors.ErrNotFound) {
			return nil
		}
		return apperrors.Internal("Failed to release hold", err)
	}

	hold.Status = model.HoldReleased
	hold.ReleasedAt = &now
	s.publisher.HoldReleased(hold, "released")
	s.cfg.Log.Info("Hold released", "id", id, "vet_id", hold.VetID)
	return nil
}

// ExtendHold resets the TTL countdown from the moment of the extension,
// not from the hold's original creation.
func (s *reservationService) ExtendHold(ctx context.Context, id, sessionID string) (*model.Hold, error) {
	hold, err := s.loadOwnedHold(ctx, id, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.checkPending(hold, now); err != nil {
		return nil, err
	}

	newExpiry := now.Add(s.cfg.HoldTTL)
	if err := s.repo.UpdateExpiry(ctx, id, sessionID, newExpiry); err != nil {
		if errors.Is(err, holderrors.ErrNotFound) {
			return nil, apperrors.ReservationExpired(id)
		}
		return nil, apperrors.Internal("Failed to extend hold", err)
	}

	hold.ExpiresAt = newExpiry
	s.cfg.Log.Info("Hold extended", "id", id, "expires_at", newExpiry)
	return hold, nil
}

// ReleaseAllForSession frees everything a disconnected session still
// held and returns the released holds so watchers can be notified.
func (s *reservationService) ReleaseAllForSession(ctx context.Context, sessionID string) ([]*model.Hold, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("Session ID cannot be empty")
	}

	holds, err := s.repo.FindPendingBySession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Internal("Failed to list session holds", err)
	}
	if len(holds) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	released, err := s.repo.ReleaseAllForSession(ctx, sessionID, now)
	if err != nil {
		return nil, apperrors.Internal("Failed to release session holds", err)
	}

	for _, hold := range holds {
		hold.Status = model.HoldReleased
		hold.ReleasedAt = &now
		s.publisher.HoldReleased(hold, "session-closed")
	}

	s.cfg.Log.Info("Session holds released", "session_id", sessionID, "count", released)
	return holds, nil
}

func (s *reservationService) LiveHolds(ctx context.Context, vetID, date string) ([]*model.Hold, error) {
	if vetID == "" || date == "" {
		return nil, apperrors.InvalidInput("Vet ID and date are required")
	}

	holds, err := s.repo.FindLiveByRoom(ctx, vetID, date, time.Now().UTC())
	if err != nil {
		return nil, apperrors.Internal("Failed to list live holds", err)
	}
	return holds, nil
}

// ExpireOverdue is the sweeper's entry point: conditional bulk updates
// flip every lapsed pending hold to expired, one page at a time so each
// expired hold also gets its broadcast. The status guard in the update
// means a concurrent confirm or release always wins.
func (s *reservationService) ExpireOverdue(ctx context.Context) ([]*model.Hold, int64, error) {
	now := time.Now().UTC()

	var (
		expired []*model.Hold
		total   int64
	)
	for {
		overdue, err := s.repo.FindOverduePending(ctx, now, expireBatchSize)
		if err != nil {
			return expired, total, apperrors.Internal("Failed to find overdue holds", err)
		}
		if len(overdue) == 0 {
			return expired, total, nil
		}

		ids := make([]string, len(overdue))
		for i, hold := range overdue {
			ids[i] = hold.ID
		}
		n, err := s.repo.ExpireByIDs(ctx, ids)
		if err != nil {
			return expired, total, apperrors.Internal("Failed to expire holds", err)
		}
		total += n

		for _, hold := range overdue {
			hold.Status = model.HoldExpired
			s.publisher.HoldReleased(hold, "expired")
			expired = append(expired, hold)
		}

		if len(overdue) < expireBatchSize {
			return expired, total, nil
		}
	}
}

func (s *reservationService) loadOwnedHold(ctx context.Context, id, sessionID string) (*model.Hold, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Reservation ID cannot be empty")
	}
	if sessionID == "" {
		return nil, apperrors.InvalidInput("Session ID cannot be empty")
	}

	hold, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, holderrors.ErrNotFound) {
			return nil, apperrors.ReservationNotFound(id)
		}
		return nil, apperrors.Internal("Failed to retrieve hold", err)
	}

	// Ownership failures are reported as not-found so one session
	// cannot probe another's reservations.
	if hold.SessionID != sessionID {
		return nil, apperrors.ReservationNotFound(id)
	}

	return hold, nil
}

func (s *reservationService) checkPending(hold *model.Hold, now time.Time) error {
	switch hold.Status {
	case model.HoldPending:
		if !hold.ExpiresAt.After(now) {
			return apperrors.ReservationExpired(hold.ID)
		}
		return nil
	case model.HoldExpired:
		return apperrors.ReservationExpired(hold.ID)
	default:
		return apperrors.Conflict("Reservation is no longer pending")
	}
}

func (s *reservationService) sanitizeRequest(req *model.HoldRequest) {
	req.VetID = sanitizer.TrimAndNormalize(req.VetID)
	req.Date = sanitizer.TrimAndNormalize(req.Date)
	req.StartTime = sanitizer.TrimAndNormalize(req.StartTime)
	req.ClientID = sanitizer.TrimAndNormalize(req.ClientID)
}

package participation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joinup-app/backend/internal/models"
)

// maxDenials is the number of organizer denials (reject or exclude) after
// which a user is blocked from the activity for good.
const maxDenials = 2

var (
	// ErrNotOrganizer is returned when a non-organizer calls an organizer-only operation.
	ErrNotOrganizer = errors.New("only the organizer can perform this action")
	// ErrCreatorCannotRequest is returned when the activity creator tries to request participation.
	ErrCreatorCannotRequest = errors.New("organizer cannot request participation in own activity")
	// ErrCannotParticipate is returned when a blocked user tries to request participation.
	ErrCannotParticipate = errors.New("user can no longer participate in this activity")
	// ErrCapacityExceeded is returned when approving would exceed the activity capacity.
	ErrCapacityExceeded = errors.New("activity capacity exceeded")
	// ErrNotApproved is returned when excluding a participant who is not approved.
	ErrNotApproved = errors.New("participant is not approved")
)

// Store persists participations.
type Store interface {
	Get(ctx context.Context, activityID, userID uuid.UUID) (*models.Participation, error)
	Create(ctx context.Context, p *models.Participation) error
	Update(ctx context.Context, p *models.Participation) error
	// ApproveWithinCapacity atomically approves the participation unless the
	// number of approved participants has already reached the activity
	// capacity, in which case it returns ErrCapacityExceeded.
	ApproveWithinCapacity(ctx context.Context, activityID, userID uuid.UUID, now time.Time) (*models.Participation, error)
	ListByStatus(ctx context.Context, activityID uuid.UUID, status models.ParticipationStatus) ([]models.ParticipantView, error)
	ListApprovedActivities(ctx context.Context, userID uuid.UUID) ([]models.Activity, error)
}

// ActivityStore resolves activities.
type ActivityStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Activity, error)
}

// Notifier is told about participation events. Implementations must not block.
type Notifier interface {
	RequestReceived(ctx context.Context, activity *models.Activity, requesterID uuid.UUID)
	Decision(ctx context.Context, activity *models.Activity, userID uuid.UUID, status models.ParticipationStatus)
}

type noopNotifier struct{}

func (noopNotifier) RequestReceived(context.Context, *models.Activity, uuid.UUID)                 {}
func (noopNotifier) Decision(context.Context, *models.Activity, uuid.UUID, models.ParticipationStatus) {}

// Service implements the participation lifecycle.
type Service struct {
	store      Store
	activities ActivityStore
	notifier   Notifier
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService creates a participation service. notifier may be nil.
func NewService(store Store, activities ActivityStore, notifier Notifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		activities: activities,
		notifier:   notifier,
		clock:      time.Now,
		logger:     logger,
	}
}

// Request asks to join an activity. A first request creates a PENDING
// participation. Re-requesting while PENDING or APPROVED is a no-op. A user
// denied twice is blocked and cannot request again.
func (s *Service) Request(ctx context.Context, activityID, userID uuid.UUID) (*models.Participation, error) {
	activity, err := s.activities.GetByID(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity.CreatedBy == userID {
		return nil, ErrCreatorCannotRequest
	}

	p, err := s.store.Get(ctx, activityID, userID)
	if errors.Is(err, models.ErrNotFound) {
		p = &models.Participation{
			ActivityID:  activityID,
			UserID:      userID,
			Status:      models.ParticipationPending,
			RequestedAt: s.clock(),
		}
		if err := s.store.Create(ctx, p); err != nil {
			return nil, err
		}
		s.notifier.RequestReceived(ctx, activity, userID)
		return p, nil
	}
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case models.ParticipationPending, models.ParticipationApproved:
		return p, nil
	case models.ParticipationBlocked:
		return nil, ErrCannotParticipate
	}

	// REJECTED or EXCLUDED. Blocked for good once the denial limit is hit.
	if p.Denials() >= maxDenials {
		p.Status = models.ParticipationBlocked
		if err := s.store.Update(ctx, p); err != nil {
			return nil, err
		}
		return nil, ErrCannotParticipate
	}

	// Rows from before the counter existed carry it only implicitly in the
	// status. Persist the inferred value before PENDING stops implying it.
	if p.DenialCount == nil {
		d := p.Denials()
		p.DenialCount = &d
	}
	p.Status = models.ParticipationPending
	p.RequestedAt = s.clock()
	p.RespondedAt = nil
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	s.notifier.RequestReceived(ctx, activity, userID)
	return p, nil
}

// Approve accepts a pending request. Organizer only. Approving an already
// approved participant is a no-op. Fails with ErrCapacityExceeded when the
// activity is full.
func (s *Service) Approve(ctx context.Context, activityID, userID, organizerID uuid.UUID) (*models.Participation, error) {
	activity, err := s.requireOrganizer(ctx, activityID, organizerID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.Get(ctx, activityID, userID)
	if err != nil {
		return nil, err
	}
	if p.Status == models.ParticipationApproved {
		return p, nil
	}
	approved, err := s.store.ApproveWithinCapacity(ctx, activityID, userID, s.clock())
	if err != nil {
		return nil, err
	}
	s.notifier.Decision(ctx, activity, userID, models.ParticipationApproved)
	return approved, nil
}

// Reject denies a request. Organizer only. Rejecting an already rejected or
// blocked participant is a no-op. The second denial escalates to BLOCKED.
func (s *Service) Reject(ctx context.Context, activityID, userID, organizerID uuid.UUID) (*models.Participation, error) {
	activity, err := s.requireOrganizer(ctx, activityID, organizerID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.Get(ctx, activityID, userID)
	if err != nil {
		return nil, err
	}
	if p.Status == models.ParticipationRejected || p.Status == models.ParticipationBlocked {
		return p, nil
	}

	denials := p.Denials() + 1
	p.DenialCount = &denials
	if denials >= maxDenials {
		p.Status = models.ParticipationBlocked
	} else {
		p.Status = models.ParticipationRejected
	}
	now := s.clock()
	p.RespondedAt = &now
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	s.notifier.Decision(ctx, activity, userID, p.Status)
	return p, nil
}

// Exclude removes an approved participant. Organizer only. The second denial
// escalates to BLOCKED.
func (s *Service) Exclude(ctx context.Context, activityID, userID, organizerID uuid.UUID) (*models.Participation, error) {
	activity, err := s.requireOrganizer(ctx, activityID, organizerID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.Get(ctx, activityID, userID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.ParticipationApproved {
		return nil, ErrNotApproved
	}

	denials := p.Denials() + 1
	p.DenialCount = &denials
	if denials >= maxDenials {
		p.Status = models.ParticipationBlocked
	} else {
		p.Status = models.ParticipationExcluded
	}
	now := s.clock()
	p.RespondedAt = &now
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	s.notifier.Decision(ctx, activity, userID, p.Status)
	return p, nil
}

// CanRequest reports whether the user may request participation right now.
func (s *Service) CanRequest(ctx context.Context, activityID, userID uuid.UUID) (bool, error) {
	activity, err := s.activities.GetByID(ctx, activityID)
	if err != nil {
		return false, err
	}
	if activity.CreatedBy == userID {
		return false, nil
	}
	p, err := s.store.Get(ctx, activityID, userID)
	if errors.Is(err, models.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	switch p.Status {
	case models.ParticipationPending, models.ParticipationApproved, models.ParticipationBlocked:
		return false, nil
	}
	return p.Denials() < maxDenials, nil
}

// Status returns the user's participation status for an activity. The
// organizer is always APPROVED. Returns models.ErrNotFound when the user has
// no participation.
func (s *Service) Status(ctx context.Context, activityID, userID uuid.UUID) (models.ParticipationStatus, error) {
	activity, err := s.activities.GetByID(ctx, activityID)
	if err != nil {
		return "", err
	}
	if activity.CreatedBy == userID {
		return models.ParticipationApproved, nil
	}
	p, err := s.store.Get(ctx, activityID, userID)
	if err != nil {
		return "", err
	}
	return p.Status, nil
}

// CanAccessChat reports whether the user may join the activity chat: the
// organizer and approved participants only.
func (s *Service) CanAccessChat(ctx context.Context, activityID, userID uuid.UUID) (bool, error) {
	status, err := s.Status(ctx, activityID, userID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == models.ParticipationApproved, nil
}

// PendingRequests lists pending requests in request order. Organizer only;
// other callers get an empty list.
func (s *Service) PendingRequests(ctx context.Context, activityID, callerID uuid.UUID) ([]models.ParticipantView, error) {
	return s.listForOrganizer(ctx, activityID, callerID, models.ParticipationPending)
}

// ApprovedParticipants lists approved participants in request order. Organizer
// only; other callers get an empty list.
func (s *Service) ApprovedParticipants(ctx context.Context, activityID, callerID uuid.UUID) ([]models.ParticipantView, error) {
	return s.listForOrganizer(ctx, activityID, callerID, models.ParticipationApproved)
}

// ApprovedParticipantsForViewer lists approved participants for anyone with
// chat access, so participants can see who else is in. Callers without
// access get an empty list.
func (s *Service) ApprovedParticipantsForViewer(ctx context.Context, activityID, callerID uuid.UUID) ([]models.ParticipantView, error) {
	ok, err := s.CanAccessChat(ctx, activityID, callerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.ParticipantView{}, nil
	}
	return s.store.ListByStatus(ctx, activityID, models.ParticipationApproved)
}

// ApprovedActivities lists activities the user was approved for, most recent
// request first.
func (s *Service) ApprovedActivities(ctx context.Context, userID uuid.UUID) ([]models.Activity, error) {
	return s.store.ListApprovedActivities(ctx, userID)
}

func (s *Service) listForOrganizer(ctx context.Context, activityID, callerID uuid.UUID, status models.ParticipationStatus) ([]models.ParticipantView, error) {
	activity, err := s.activities.GetByID(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity.CreatedBy != callerID {
		return []models.ParticipantView{}, nil
	}
	return s.store.ListByStatus(ctx, activityID, status)
}

func (s *Service) requireOrganizer(ctx context.Context, activityID, callerID uuid.UUID) (*models.Activity, error) {
	activity, err := s.activities.GetByID(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity.CreatedBy != callerID {
		return nil, ErrNotOrganizer
	}
	return activity, nil
}

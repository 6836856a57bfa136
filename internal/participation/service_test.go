package participation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joinup-app/backend/internal/models"
)

type fakeStore struct {
	mu   sync.Mutex
	rows map[string]*models.Participation
	// approvals needed for capacity checks in ApproveWithinCapacity
	capacities map[uuid.UUID]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:       make(map[string]*models.Participation),
		capacities: make(map[uuid.UUID]int),
	}
}

func key(activityID, userID uuid.UUID) string {
	return activityID.String() + "/" + userID.String()
}

func (f *fakeStore) Get(_ context.Context, activityID, userID uuid.UUID) (*models.Participation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[key(activityID, userID)]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) Create(_ context.Context, p *models.Participation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = uuid.New()
	cp := *p
	f.rows[key(p.ActivityID, p.UserID)] = &cp
	return nil
}

func (f *fakeStore) Update(_ context.Context, p *models.Participation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.rows[key(p.ActivityID, p.UserID)] = &cp
	return nil
}

func (f *fakeStore) ApproveWithinCapacity(_ context.Context, activityID, userID uuid.UUID, now time.Time) (*models.Participation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[key(activityID, userID)]
	if !ok {
		return nil, models.ErrNotFound
	}
	// Already approved rows pass through untouched, mirroring the row-level
	// re-check the SQL transaction does.
	if p.Status == models.ParticipationApproved {
		cp := *p
		return &cp, nil
	}
	capacity, ok := f.capacities[activityID]
	if !ok {
		return nil, models.ErrNotFound
	}
	approved := 0
	for _, row := range f.rows {
		if row.ActivityID == activityID && row.Status == models.ParticipationApproved {
			approved++
		}
	}
	if approved >= capacity {
		return nil, ErrCapacityExceeded
	}
	p.Status = models.ParticipationApproved
	p.RespondedAt = &now
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ListByStatus(_ context.Context, activityID uuid.UUID, status models.ParticipationStatus) ([]models.ParticipantView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	views := []models.ParticipantView{}
	for _, p := range f.rows {
		if p.ActivityID == activityID && p.Status == status {
			views = append(views, models.ParticipantView{
				ID:          p.ID,
				ActivityID:  p.ActivityID,
				UserID:      p.UserID,
				Status:      p.Status,
				RequestedAt: p.RequestedAt,
			})
		}
	}
	return views, nil
}

func (f *fakeStore) ListApprovedActivities(_ context.Context, userID uuid.UUID) ([]models.Activity, error) {
	return nil, nil
}

type fakeActivities struct {
	activities map[uuid.UUID]*models.Activity
}

func (f *fakeActivities) GetByID(_ context.Context, id uuid.UUID) (*models.Activity, error) {
	a, ok := f.activities[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return a, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	requests  int
	decisions []models.ParticipationStatus
}

func (n *recordingNotifier) RequestReceived(context.Context, *models.Activity, uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests++
}

func (n *recordingNotifier) Decision(_ context.Context, _ *models.Activity, _ uuid.UUID, status models.ParticipationStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decisions = append(n.decisions, status)
}

type fixture struct {
	svc       *Service
	store     *fakeStore
	notifier  *recordingNotifier
	activity  uuid.UUID
	organizer uuid.UUID
	now       time.Time
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	organizer := uuid.New()
	activityID := uuid.New()
	store := newFakeStore()
	store.capacities[activityID] = capacity
	acts := &fakeActivities{activities: map[uuid.UUID]*models.Activity{
		activityID: {ID: activityID, Title: "hike", Capacity: capacity, CreatedBy: organizer},
	}}
	notifier := &recordingNotifier{}
	svc := NewService(store, acts, notifier, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }
	return &fixture{svc: svc, store: store, notifier: notifier, activity: activityID, organizer: organizer, now: now}
}

func TestRequestCreatesPending(t *testing.T) {
	fx := newFixture(t, 10)
	user := uuid.New()

	p, err := fx.svc.Request(context.Background(), fx.activity, user)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if p.Status != models.ParticipationPending {
		t.Fatalf("status = %s, want PENDING", p.Status)
	}
	if !p.RequestedAt.Equal(fx.now) {
		t.Fatalf("requestedAt = %v, want %v", p.RequestedAt, fx.now)
	}
	if p.RespondedAt != nil {
		t.Fatalf("respondedAt should be nil on a new request")
	}
	if fx.notifier.requests != 1 {
		t.Fatalf("notifier requests = %d, want 1", fx.notifier.requests)
	}
}

func TestRequestByOrganizerFails(t *testing.T) {
	fx := newFixture(t, 10)
	if _, err := fx.svc.Request(context.Background(), fx.activity, fx.organizer); !errors.Is(err, ErrCreatorCannotRequest) {
		t.Fatalf("err = %v, want ErrCreatorCannotRequest", err)
	}
}

func TestRequestIsIdempotentWhilePending(t *testing.T) {
	fx := newFixture(t, 10)
	user := uuid.New()

	first, err := fx.svc.Request(context.Background(), fx.activity, user)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	second, err := fx.svc.Request(context.Background(), fx.activity, user)
	if err != nil {
		t.Fatalf("second Request: %v", err)
	}
	if second.ID != first.ID || second.Status != models.ParticipationPending {
		t.Fatalf("second request changed participation: %+v", second)
	}
	if fx.notifier.requests != 1 {
		t.Fatalf("notifier requests = %d, want 1 (no duplicate)", fx.notifier.requests)
	}
}

func TestApproveAndIdempotence(t *testing.T) {
	fx := newFixture(t, 10)
	user := uuid.New()
	mustRequest(t, fx, user)

	p, err := fx.svc.Approve(context.Background(), fx.activity, user, fx.organizer)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if p.Status != models.ParticipationApproved {
		t.Fatalf("status = %s, want APPROVED", p.Status)
	}
	if p.RespondedAt == nil || !p.RespondedAt.Equal(fx.now) {
		t.Fatalf("respondedAt = %v, want %v", p.RespondedAt, fx.now)
	}

	again, err := fx.svc.Approve(context.Background(), fx.activity, user, fx.organizer)
	if err != nil {
		t.Fatalf("second Approve: %v", err)
	}
	if again.Status != models.ParticipationApproved {
		t.Fatalf("second approve status = %s", again.Status)
	}
	if len(fx.notifier.decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(fx.notifier.decisions))
	}
}

func TestApproveRequiresOrganizer(t *testing.T) {
	fx := newFixture(t, 10)
	user := uuid.New()
	mustRequest(t, fx, user)

	if _, err := fx.svc.Approve(context.Background(), fx.activity, user, uuid.New()); !errors.Is(err, ErrNotOrganizer) {
		t.Fatalf("err = %v, want ErrNotOrganizer", err)
	}
}

func TestApproveRespectsCapacity(t *testing.T) {
	fx := newFixture(t, 1)
	first, second := uuid.New(), uuid.New()
	mustRequest(t, fx, first)
	mustRequest(t, fx, second)

	if _, err := fx.svc.Approve(context.Background(), fx.activity, first, fx.organizer); err != nil {
		t.Fatalf("Approve first: %v", err)
	}
	if _, err := fx.svc.Approve(context.Background(), fx.activity, second, fx.organizer); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
}

func TestConcurrentApprovalsNeverExceedCapacity(t *testing.T) {
	const capacity = 3
	const requesters = 20
	fx := newFixture(t, capacity)

	users := make([]uuid.UUID, requesters)
	for i := range users {
		users[i] = uuid.New()
		mustRequest(t, fx, users[i])
	}

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u uuid.UUID) {
			defer wg.Done()
			_, _ = fx.svc.Approve(context.Background(), fx.activity, u, fx.organizer)
		}(u)
	}
	wg.Wait()

	approved := 0
	fx.store.mu.Lock()
	for _, p := range fx.store.rows {
		if p.Status == models.ParticipationApproved {
			approved++
		}
	}
	fx.store.mu.Unlock()
	if approved != capacity {
		t.Fatalf("approved = %d, want %d", approved, capacity)
	}
}

func TestRejectThenReRequestKeepsDenialCount(t *testing.T) {
	fx := newFixture(t, 10)
	user := uuid.New()
	mustRequest(t, fx, user)

	p, err := fx.svc.Reject(context.Background(), fx.activity, user, fx.organizer)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if p.Status != models.ParticipationRejected || p.Denials() != 1 {
		t.Fatalf("after reject: status=%s denials=%d", p.Status, p.Denials())
	}

	p, err = fx.svc.Request(context.Background(), fx.activity, user)
	if err != nil {
		t.Fatalf("re-request: %v", err)
	}
	if p.Status != models.ParticipationPending {
		t.Fatalf("status = %s, want PENDING", p.Status)
	}
	if p.RespondedAt != nil {
		t.Fatalf("respondedAt should reset on re-request")
	}
	if p.Denials() != 1 {
		t.Fatalf("denials = %d, want 1 (preserved across re-request)", p.Denials())
	}
}

func TestSecondRejectionBlocks(t *testing.T) {
	fx := newFixture(t, 10)
	user := uuid.New()
	mustRequest(t, fx, user)

	if _, err := fx.svc.Reject(context.Background(), fx.activity, user, fx.organizer); err != nil {
		t.Fatalf("first Reject: %v", err)
	}
	if _, err := fx.svc.Request(context.Background(), fx.activity, user); err != nil {
		t.Fatalf("re-request: %v", err)
	}
	p, err := fx.svc.Reject(context.Background(), fx.activity, user, fx.organizer)
	if err != nil {
		t.Fatalf("second Reject: %v", err)
	}
	if p.Status != models.ParticipationBlocked {
		t.Fatalf("status = %s, want BLOCKED", p.Status)
	}

	if _, err := fx.svc.Request(context.Background(), fx.activity, user); !errors.Is(err, ErrCannotParticipate) {
		t.Fatalf("blocked re-request err = %v, want ErrCannotParticipate", err)
	}
}

func TestRejectIsIdempotent(t *testing.T) {
	fx := newFixture(t, 10)
	user := uuid.New()
	mustRequest(t, fx, user)

	if _, err := fx.svc.Reject(context.Background(), fx.activity, user, fx.organizer); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	p, err := fx.svc.Reject(context.Background(), fx.activity, user, fx.organizer)
	if err != nil {
		t.Fatalf("second Reject: %v", err)
	}
	if p.Denials() != 1 {
		t.Fatalf("denials = %d, want 1 (repeat reject must not double count)", p.Denials())
	}
}

func TestExcludeRequiresApproved(t *testing.T) {
	fx := newFixture(t, 10)
	user := uuid.New()
	mustRequest(t, fx, user)

	if _, err := fx.svc.Exclude(context.Background(), fx.activity, user, fx.organizer); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("err = %v, want ErrNotApproved", err)
	}
}

func TestRejectThenExcludeBlocks(t *testing.T) {
	fx := newFixture(t, 10)
	user := uuid.New()
	mustRequest(t, fx, user)

	if _, err := fx.svc.Reject(context.Background(), fx.activity, user, fx.organizer); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if _, err := fx.svc.Request(context.Background(), fx.activity, user); err != nil {
		t.Fatalf("re-request: %v", err)
	}
	if _, err := fx.svc.Approve(context.Background(), fx.activity, user, fx.organizer); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	p, err := fx.svc.Exclude(context.Background(), fx.activity, user, fx.organizer)
	if err != nil {
		t.Fatalf("Exclude: %v", err)
	}
	if p.Status != models.ParticipationBlocked {
		t.Fatalf("status = %s, want BLOCKED (reject + exclude = 2 denials)", p.Status)
	}
}

func TestExcludeFirstTimeSetsExcluded(t *testing.T) {
	fx := newFixture(t, 10)
	user := uuid.New()
	mustRequest(t, fx, user)

	if _, err := fx.svc.Approve(context.Background(), fx.activity, user, fx.organizer); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	p, err := fx.svc.Exclude(context.Background(), fx.activity, user, fx.organizer)
	if err != nil {
		t.Fatalf("Exclude: %v", err)
	}
	if p.Status != models.ParticipationExcluded || p.Denials() != 1 {
		t.Fatalf("after exclude: status=%s denials=%d", p.Status, p.Denials())
	}
}

func TestLegacyNullDenialCountInferredFromStatus(t *testing.T) {
	fx := newFixture(t, 10)
	user := uuid.New()

	// Row written before the denial counter existed.
	fx.store.rows[key(fx.activity, user)] = &models.Participation{
		ID:          uuid.New(),
		ActivityID:  fx.activity,
		UserID:      user,
		Status:      models.ParticipationRejected,
		RequestedAt: fx.now.Add(-time.Hour),
	}

	p, err := fx.svc.Request(context.Background(), fx.activity, user)
	if err != nil {
		t.Fatalf("re-request: %v", err)
	}
	if p.Status != models.ParticipationPending {
		t.Fatalf("status = %s, want PENDING", p.Status)
	}
	p, err = fx.svc.Reject(context.Background(), fx.activity, user, fx.organizer)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if p.Status != models.ParticipationBlocked {
		t.Fatalf("status = %s, want BLOCKED (legacy row counts as one denial)", p.Status)
	}
}

func TestCanRequest(t *testing.T) {
	fx := newFixture(t, 10)
	user := uuid.New()

	ok, err := fx.svc.CanRequest(context.Background(), fx.activity, user)
	if err != nil || !ok {
		t.Fatalf("fresh user: ok=%v err=%v, want true", ok, err)
	}

	ok, _ = fx.svc.CanRequest(context.Background(), fx.activity, fx.organizer)
	if ok {
		t.Fatalf("organizer should not be able to request")
	}

	mustRequest(t, fx, user)
	ok, _ = fx.svc.CanRequest(context.Background(), fx.activity, user)
	if ok {
		t.Fatalf("pending user should not be able to re-request")
	}

	if _, err := fx.svc.Reject(context.Background(), fx.activity, user, fx.organizer); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	ok, _ = fx.svc.CanRequest(context.Background(), fx.activity, user)
	if !ok {
		t.Fatalf("once-rejected user should be able to re-request")
	}

	if _, err := fx.svc.Request(context.Background(), fx.activity, user); err != nil {
		t.Fatalf("re-request: %v", err)
	}
	if _, err := fx.svc.Reject(context.Background(), fx.activity, user, fx.organizer); err != nil {
		t.Fatalf("second Reject: %v", err)
	}
	ok, _ = fx.svc.CanRequest(context.Background(), fx.activity, user)
	if ok {
		t.Fatalf("blocked user should not be able to request")
	}
}

func TestStatusForOrganizerIsApproved(t *testing.T) {
	fx := newFixture(t, 10)
	status, err := fx.svc.Status(context.Background(), fx.activity, fx.organizer)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != models.ParticipationApproved {
		t.Fatalf("organizer status = %s, want APPROVED", status)
	}
}

func TestStatusUnknownUser(t *testing.T) {
	fx := newFixture(t, 10)
	if _, err := fx.svc.Status(context.Background(), fx.activity, uuid.New()); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListsOnlyForOrganizer(t *testing.T) {
	fx := newFixture(t, 10)
	user := uuid.New()
	mustRequest(t, fx, user)

	views, err := fx.svc.PendingRequests(context.Background(), fx.activity, fx.organizer)
	if err != nil {
		t.Fatalf("PendingRequests: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("organizer pending = %d, want 1", len(views))
	}

	views, err = fx.svc.PendingRequests(context.Background(), fx.activity, user)
	if err != nil {
		t.Fatalf("PendingRequests as non-organizer: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("non-organizer pending = %d, want 0", len(views))
	}
}

func TestParticipantsVisibleWithChatAccess(t *testing.T) {
	fx := newFixture(t, 10)
	member, outsider := uuid.New(), uuid.New()
	mustRequest(t, fx, member)
	if _, err := fx.svc.Approve(context.Background(), fx.activity, member, fx.organizer); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	views, err := fx.svc.ApprovedParticipantsForViewer(context.Background(), fx.activity, member)
	if err != nil {
		t.Fatalf("ApprovedParticipantsForViewer as member: %v", err)
	}
	if len(views) != 1 || views[0].UserID != member {
		t.Fatalf("member sees %d participants, want themselves", len(views))
	}

	views, err = fx.svc.ApprovedParticipantsForViewer(context.Background(), fx.activity, fx.organizer)
	if err != nil {
		t.Fatalf("ApprovedParticipantsForViewer as organizer: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("organizer sees %d participants, want 1", len(views))
	}

	views, err = fx.svc.ApprovedParticipantsForViewer(context.Background(), fx.activity, outsider)
	if err != nil {
		t.Fatalf("ApprovedParticipantsForViewer as outsider: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("outsider sees %d participants, want 0", len(views))
	}
}

// staleGetStore returns a canned row from the first Get, standing in for a
// read that raced with a concurrent approval of the same user.
type staleGetStore struct {
	*fakeStore
	staleMu sync.Mutex
	stale   *models.Participation
}

func (s *staleGetStore) Get(ctx context.Context, activityID, userID uuid.UUID) (*models.Participation, error) {
	s.staleMu.Lock()
	p := s.stale
	s.stale = nil
	s.staleMu.Unlock()
	if p != nil {
		cp := *p
		return &cp, nil
	}
	return s.fakeStore.Get(ctx, activityID, userID)
}

func TestApproveRacingDuplicateIsNoOp(t *testing.T) {
	fx := newFixture(t, 1)
	user := uuid.New()
	mustRequest(t, fx, user)
	if _, err := fx.svc.Approve(context.Background(), fx.activity, user, fx.organizer); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// The duplicate read the row before the first approval committed, so it
	// skips the no-op shortcut and reaches the store at full capacity.
	row, err := fx.store.Get(context.Background(), fx.activity, user)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	stale := *row
	stale.Status = models.ParticipationPending
	stale.RespondedAt = nil

	svc := NewService(&staleGetStore{fakeStore: fx.store, stale: &stale}, fx.svc.activities, nil, nil)
	svc.clock = fx.svc.clock

	p, err := svc.Approve(context.Background(), fx.activity, user, fx.organizer)
	if err != nil {
		t.Fatalf("racing duplicate approve: %v", err)
	}
	if p.Status != models.ParticipationApproved {
		t.Fatalf("status = %s, want APPROVED", p.Status)
	}
}

func TestChatAccess(t *testing.T) {
	fx := newFixture(t, 10)
	user := uuid.New()

	ok, err := fx.svc.CanAccessChat(context.Background(), fx.activity, fx.organizer)
	if err != nil || !ok {
		t.Fatalf("organizer access: ok=%v err=%v", ok, err)
	}

	ok, err = fx.svc.CanAccessChat(context.Background(), fx.activity, user)
	if err != nil || ok {
		t.Fatalf("stranger access: ok=%v err=%v, want false", ok, err)
	}

	mustRequest(t, fx, user)
	ok, _ = fx.svc.CanAccessChat(context.Background(), fx.activity, user)
	if ok {
		t.Fatalf("pending user should not have chat access")
	}

	if _, err := fx.svc.Approve(context.Background(), fx.activity, user, fx.organizer); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	ok, _ = fx.svc.CanAccessChat(context.Background(), fx.activity, user)
	if !ok {
		t.Fatalf("approved user should have chat access")
	}
}

func mustRequest(t *testing.T, fx *fixture, user uuid.UUID) {
	t.Helper()
	if _, err := fx.svc.Request(context.Background(), fx.activity, user); err != nil {
		t.Fatalf("Request(%s): %v", user, err)
	}
}

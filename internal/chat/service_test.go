package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joinup-app/backend/internal/models"
)

type fakeChatStore struct {
	mu        sync.Mutex
	messages  map[uuid.UUID]*models.Message
	order     []uuid.UUID
	delivered map[uuid.UUID]map[uuid.UUID]time.Time
	seen      map[uuid.UUID]map[uuid.UUID]time.Time
	reactions map[uuid.UUID]map[uuid.UUID]models.Reaction
	names     map[uuid.UUID]string
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{
		messages:  make(map[uuid.UUID]*models.Message),
		delivered: make(map[uuid.UUID]map[uuid.UUID]time.Time),
		seen:      make(map[uuid.UUID]map[uuid.UUID]time.Time),
		reactions: make(map[uuid.UUID]map[uuid.UUID]models.Reaction),
		names:     make(map[uuid.UUID]string),
	}
}

func (f *fakeChatStore) InsertMessage(_ context.Context, m *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = uuid.New()
	if name, ok := f.names[m.SenderID]; ok {
		m.SenderName = name
	}
	cp := *m
	f.messages[m.ID] = &cp
	f.order = append(f.order, m.ID)
	return nil
}

func (f *fakeChatStore) GetMessage(_ context.Context, messageID uuid.UUID) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeChatStore) ListRecent(_ context.Context, activityID uuid.UUID, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for i := len(f.order) - 1; i >= 0 && len(out) < limit; i-- {
		m := f.messages[f.order[i]]
		if m.ActivityID == activityID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeChatStore) MessagesByIDs(_ context.Context, activityID uuid.UUID, ids []uuid.UUID) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, id := range ids {
		if m, ok := f.messages[id]; ok && m.ActivityID == activityID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeChatStore) MarkDelivered(_ context.Context, messageID, userID uuid.UUID, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertAck(f.delivered, messageID, userID, at), nil
}

func (f *fakeChatStore) MarkSeen(_ context.Context, messageID, userID uuid.UUID, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertAck(f.delivered, messageID, userID, at)
	return f.insertAck(f.seen, messageID, userID, at), nil
}

func (f *fakeChatStore) insertAck(acks map[uuid.UUID]map[uuid.UUID]time.Time, messageID, userID uuid.UUID, at time.Time) bool {
	if acks[messageID] == nil {
		acks[messageID] = make(map[uuid.UUID]time.Time)
	}
	if _, exists := acks[messageID][userID]; exists {
		return false
	}
	acks[messageID][userID] = at
	return true
}

func (f *fakeChatStore) CountAcks(_ context.Context, messageIDs []uuid.UUID) (map[uuid.UUID]AckCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]AckCounts)
	for _, id := range messageIDs {
		m, ok := f.messages[id]
		if !ok {
			continue
		}
		var c AckCounts
		for u := range f.delivered[id] {
			if u != m.SenderID {
				c.Delivered++
			}
		}
		for u := range f.seen[id] {
			if u != m.SenderID {
				c.Seen++
			}
		}
		out[id] = c
	}
	return out, nil
}

func (f *fakeChatStore) ToggleReaction(_ context.Context, messageID, userID uuid.UUID, reaction models.ReactionType, at time.Time) (*models.ReactionType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reactions[messageID] == nil {
		f.reactions[messageID] = make(map[uuid.UUID]models.Reaction)
	}
	current, exists := f.reactions[messageID][userID]
	if exists && current.ReactionType == reaction {
		delete(f.reactions[messageID], userID)
		return nil, nil
	}
	f.reactions[messageID][userID] = models.Reaction{
		MessageID:    messageID,
		UserID:       userID,
		ReactionType: reaction,
		ReactedAt:    at,
	}
	return &reaction, nil
}

func (f *fakeChatStore) CountReactions(_ context.Context, messageIDs []uuid.UUID) (map[uuid.UUID]map[models.ReactionType]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]map[models.ReactionType]int)
	for _, id := range messageIDs {
		for _, r := range f.reactions[id] {
			if out[id] == nil {
				out[id] = make(map[models.ReactionType]int)
			}
			out[id][r.ReactionType]++
		}
	}
	return out, nil
}

func (f *fakeChatStore) ViewerReactions(_ context.Context, messageIDs []uuid.UUID, viewerID uuid.UUID) (map[uuid.UUID]models.ReactionType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]models.ReactionType)
	for _, id := range messageIDs {
		if r, ok := f.reactions[id][viewerID]; ok {
			out[id] = r.ReactionType
		}
	}
	return out, nil
}

func (f *fakeChatStore) SeenUsers(_ context.Context, messageID uuid.UUID) ([]models.SeenUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return nil, models.ErrNotFound
	}
	seen := []models.SeenUser{}
	for u, at := range f.seen[messageID] {
		if u == m.SenderID {
			continue
		}
		seen = append(seen, models.SeenUser{UserID: u, FullName: f.names[u], SeenAt: at})
	}
	for i := 0; i < len(seen); i++ {
		for j := i + 1; j < len(seen); j++ {
			if seen[j].SeenAt.Before(seen[i].SeenAt) {
				seen[i], seen[j] = seen[j], seen[i]
			}
		}
	}
	return seen, nil
}

type fakeGate struct {
	allowed map[uuid.UUID]bool
}

func (g *fakeGate) CanAccessChat(_ context.Context, _ uuid.UUID, userID uuid.UUID) (bool, error) {
	return g.allowed[userID], nil
}

type recordedEvent struct {
	activityID uuid.UUID
	event      string
	payload    interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, activityID uuid.UUID, event string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{activityID: activityID, event: event, payload: payload})
	return nil
}

func (p *recordingPublisher) byName(event string) []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []recordedEvent
	for _, e := range p.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type chatFixture struct {
	svc      *Service
	store    *fakeChatStore
	gate     *fakeGate
	pub      *recordingPublisher
	activity uuid.UUID
	sender   uuid.UUID
	reader   uuid.UUID
	now      time.Time
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	store := newFakeChatStore()
	sender, reader := uuid.New(), uuid.New()
	store.names[sender] = "Ada"
	store.names[reader] = "Grace"
	gate := &fakeGate{allowed: map[uuid.UUID]bool{sender: true, reader: true}}
	pub := &recordingPublisher{}
	svc := NewService(store, gate, pub, nil)

	fx := &chatFixture{
		svc:      svc,
		store:    store,
		gate:     gate,
		pub:      pub,
		activity: uuid.New(),
		sender:   sender,
		reader:   reader,
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	// Each clock read advances one second so orderings are deterministic.
	svc.clock = func() time.Time {
		fx.now = fx.now.Add(time.Second)
		return fx.now
	}
	return fx
}

func (fx *chatFixture) send(t *testing.T, content string) *MessageView {
	t.Helper()
	view, err := fx.svc.SendMessage(context.Background(), fx.activity, fx.sender, content)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	return view
}

func TestSendMessageTrimsAndFansOut(t *testing.T) {
	fx := newChatFixture(t)

	view := fx.send(t, "  hello there  ")
	if view.Content != "hello there" {
		t.Fatalf("content = %q, want trimmed", view.Content)
	}
	if view.SenderName != "Ada" {
		t.Fatalf("senderName = %q, want Ada", view.SenderName)
	}
	if view.DeliveredCount != 0 || view.SeenCount != 0 || len(view.Reactions) != 0 {
		t.Fatalf("new message must have zero counts and no reactions: %+v", view)
	}
	if got := fx.pub.byName(EventChatMessage); len(got) != 1 {
		t.Fatalf("chat_message events = %d, want 1", len(got))
	}
}

func TestSendMessageValidation(t *testing.T) {
	fx := newChatFixture(t)

	if _, err := fx.svc.SendMessage(context.Background(), fx.activity, fx.sender, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("blank err = %v, want ErrEmptyMessage", err)
	}
	long := strings.Repeat("x", models.MaxMessageLength+1)
	if _, err := fx.svc.SendMessage(context.Background(), fx.activity, fx.sender, long); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("long err = %v, want ErrMessageTooLong", err)
	}
	// Exactly at the limit is fine.
	if _, err := fx.svc.SendMessage(context.Background(), fx.activity, fx.sender, strings.Repeat("y", models.MaxMessageLength)); err != nil {
		t.Fatalf("limit-length message: %v", err)
	}
}

func TestSendMessageRequiresAccess(t *testing.T) {
	fx := newChatFixture(t)
	stranger := uuid.New()
	if _, err := fx.svc.SendMessage(context.Background(), fx.activity, stranger, "hi"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestMarkDeliveredIsIdempotent(t *testing.T) {
	fx := newChatFixture(t)
	msg := fx.send(t, "hello")

	ack, err := fx.svc.MarkDelivered(context.Background(), fx.activity, msg.ID, fx.reader)
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if ack.DeliveredCount != 1 || ack.SeenCount != 0 {
		t.Fatalf("ack = %+v, want delivered=1 seen=0", ack)
	}

	again, err := fx.svc.MarkDelivered(context.Background(), fx.activity, msg.ID, fx.reader)
	if err != nil {
		t.Fatalf("repeat MarkDelivered: %v", err)
	}
	if again.DeliveredCount != 1 {
		t.Fatalf("repeat ack delivered = %d, want 1", again.DeliveredCount)
	}
}

func TestMarkDeliveredFansOutCounts(t *testing.T) {
	fx := newChatFixture(t)
	msg := fx.send(t, "hello")

	if _, err := fx.svc.MarkDelivered(context.Background(), fx.activity, msg.ID, fx.reader); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	got := fx.pub.byName(EventSeenUpdate)
	if len(got) != 1 {
		t.Fatalf("status events after delivered = %d, want 1", len(got))
	}
	ack, ok := got[0].payload.(*AckView)
	if !ok {
		t.Fatalf("payload type = %T, want *AckView", got[0].payload)
	}
	if ack.DeliveredCount != 1 || ack.SeenCount != 0 {
		t.Fatalf("published ack = %+v, want delivered=1 seen=0", ack)
	}

	// Repeat acks stay silent.
	if _, err := fx.svc.MarkDelivered(context.Background(), fx.activity, msg.ID, fx.reader); err != nil {
		t.Fatalf("repeat MarkDelivered: %v", err)
	}
	if got := fx.pub.byName(EventSeenUpdate); len(got) != 1 {
		t.Fatalf("repeat delivered produced extra events: %d", len(got))
	}
}

func TestSenderAckDoesNotCount(t *testing.T) {
	fx := newChatFixture(t)
	msg := fx.send(t, "hello")

	ack, err := fx.svc.MarkSeen(context.Background(), fx.activity, msg.ID, fx.sender)
	if err != nil {
		t.Fatalf("MarkSeen by sender: %v", err)
	}
	if ack.DeliveredCount != 0 || ack.SeenCount != 0 {
		t.Fatalf("sender ack counted: %+v", ack)
	}
}

func TestMarkSeenImpliesDelivered(t *testing.T) {
	fx := newChatFixture(t)
	msg := fx.send(t, "hello")

	ack, err := fx.svc.MarkSeen(context.Background(), fx.activity, msg.ID, fx.reader)
	if err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if ack.DeliveredCount != 1 || ack.SeenCount != 1 {
		t.Fatalf("ack = %+v, want delivered=1 seen=1", ack)
	}
	if got := fx.pub.byName(EventSeenUpdate); len(got) != 1 {
		t.Fatalf("seen_update events = %d, want 1", len(got))
	}

	// Repeat ack publishes nothing new.
	if _, err := fx.svc.MarkSeen(context.Background(), fx.activity, msg.ID, fx.reader); err != nil {
		t.Fatalf("repeat MarkSeen: %v", err)
	}
	if got := fx.pub.byName(EventSeenUpdate); len(got) != 1 {
		t.Fatalf("repeat seen produced extra events: %d", len(got))
	}
}

func TestAckRejectsForeignMessage(t *testing.T) {
	fx := newChatFixture(t)
	msg := fx.send(t, "hello")

	otherActivity := uuid.New()
	fx.gate.allowed[fx.reader] = true
	if _, err := fx.svc.MarkSeen(context.Background(), otherActivity, msg.ID, fx.reader); !errors.Is(err, ErrMessageNotInActivity) {
		t.Fatalf("err = %v, want ErrMessageNotInActivity", err)
	}
}

func TestToggleReactionCycle(t *testing.T) {
	fx := newChatFixture(t)
	msg := fx.send(t, "hello")

	upd, err := fx.svc.ToggleReaction(context.Background(), fx.activity, msg.ID, fx.reader, "like")
	if err != nil {
		t.Fatalf("toggle add: %v", err)
	}
	if upd.ActorReactionType == nil || *upd.ActorReactionType != models.ReactionLike {
		t.Fatalf("actor reaction = %v, want LIKE", upd.ActorReactionType)
	}
	if len(upd.Reactions) != len(models.SupportedReactions) {
		t.Fatalf("reactions = %d entries, want %d (all types always present)", len(upd.Reactions), len(models.SupportedReactions))
	}
	assertReaction(t, upd, models.ReactionLike, 1, true)

	upd, err = fx.svc.ToggleReaction(context.Background(), fx.activity, msg.ID, fx.reader, "LOVE")
	if err != nil {
		t.Fatalf("toggle replace: %v", err)
	}
	assertReaction(t, upd, models.ReactionLike, 0, false)
	assertReaction(t, upd, models.ReactionLove, 1, true)

	upd, err = fx.svc.ToggleReaction(context.Background(), fx.activity, msg.ID, fx.reader, "LOVE")
	if err != nil {
		t.Fatalf("toggle remove: %v", err)
	}
	if upd.ActorReactionType != nil {
		t.Fatalf("actor reaction after removal = %v, want nil", *upd.ActorReactionType)
	}
	assertReaction(t, upd, models.ReactionLove, 0, false)

	if got := fx.pub.byName(EventReactionUpdate); len(got) != 3 {
		t.Fatalf("reaction_update events = %d, want 3", len(got))
	}
}

func TestToggleReactionRejectsUnknownType(t *testing.T) {
	fx := newChatFixture(t)
	msg := fx.send(t, "hello")

	if _, err := fx.svc.ToggleReaction(context.Background(), fx.activity, msg.ID, fx.reader, "DISLIKE"); !errors.Is(err, ErrInvalidReaction) {
		t.Fatalf("err = %v, want ErrInvalidReaction", err)
	}
}

func TestConcurrentTogglesLeaveAtMostOneReaction(t *testing.T) {
	fx := newChatFixture(t)
	msg := fx.send(t, "hello")

	var wg sync.WaitGroup
	kinds := []string{"LIKE", "LOVE", "LAUGH", "WOW"}
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(kind string) {
			defer wg.Done()
			_, _ = fx.svc.ToggleReaction(context.Background(), fx.activity, msg.ID, fx.reader, kind)
		}(kinds[i%len(kinds)])
	}
	wg.Wait()

	fx.store.mu.Lock()
	count := len(fx.store.reactions[msg.ID])
	fx.store.mu.Unlock()
	if count > 1 {
		t.Fatalf("user has %d reactions on one message, want at most 1", count)
	}
}

func TestRecentMessagesChronologicalWithViewerState(t *testing.T) {
	fx := newChatFixture(t)
	first := fx.send(t, "first")
	second := fx.send(t, "second")
	third := fx.send(t, "third")

	if _, err := fx.svc.MarkSeen(context.Background(), fx.activity, first.ID, fx.reader); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if _, err := fx.svc.ToggleReaction(context.Background(), fx.activity, second.ID, fx.reader, "WOW"); err != nil {
		t.Fatalf("ToggleReaction: %v", err)
	}

	views, err := fx.svc.RecentMessages(context.Background(), fx.activity, fx.reader, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("views = %d, want 3", len(views))
	}
	if views[0].ID != first.ID || views[1].ID != second.ID || views[2].ID != third.ID {
		t.Fatalf("views out of order: %v %v %v", views[0].Content, views[1].Content, views[2].Content)
	}
	if views[0].SeenCount != 1 || views[0].DeliveredCount != 1 {
		t.Fatalf("first message counts = %+v", views[0])
	}
	assertViewReaction(t, views[1], models.ReactionWow, 1, true)
}

func TestRecentMessagesLimitClamped(t *testing.T) {
	fx := newChatFixture(t)
	for i := 0; i < 5; i++ {
		fx.send(t, "msg")
	}

	views, err := fx.svc.RecentMessages(context.Background(), fx.activity, fx.reader, 2)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("views = %d, want 2", len(views))
	}

	views, err = fx.svc.RecentMessages(context.Background(), fx.activity, fx.reader, -5)
	if err != nil {
		t.Fatalf("RecentMessages with bad limit: %v", err)
	}
	if len(views) != 5 {
		t.Fatalf("views = %d, want all 5 under default limit", len(views))
	}
}

func TestSeenUsersExcludesSender(t *testing.T) {
	fx := newChatFixture(t)
	msg := fx.send(t, "hello")

	other := uuid.New()
	fx.store.names[other] = "Edsger"
	fx.gate.allowed[other] = true

	if _, err := fx.svc.MarkSeen(context.Background(), fx.activity, msg.ID, fx.reader); err != nil {
		t.Fatalf("MarkSeen reader: %v", err)
	}
	if _, err := fx.svc.MarkSeen(context.Background(), fx.activity, msg.ID, other); err != nil {
		t.Fatalf("MarkSeen other: %v", err)
	}
	if _, err := fx.svc.MarkSeen(context.Background(), fx.activity, msg.ID, fx.sender); err != nil {
		t.Fatalf("MarkSeen sender: %v", err)
	}

	seen, err := fx.svc.SeenUsers(context.Background(), fx.activity, msg.ID, fx.sender)
	if err != nil {
		t.Fatalf("SeenUsers: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("seen = %d, want 2 (sender excluded)", len(seen))
	}
	if seen[0].UserID != fx.reader || seen[1].UserID != other {
		t.Fatalf("seen order wrong: %v then %v", seen[0].FullName, seen[1].FullName)
	}
}

func TestSeenSummariesSkipsForeignIDs(t *testing.T) {
	fx := newChatFixture(t)
	first := fx.send(t, "first")
	second := fx.send(t, "second")

	if _, err := fx.svc.MarkSeen(context.Background(), fx.activity, second.ID, fx.reader); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}

	ids := []uuid.UUID{second.ID, uuid.New(), first.ID}
	summaries, err := fx.svc.SeenSummaries(context.Background(), fx.activity, ids, fx.sender)
	if err != nil {
		t.Fatalf("SeenSummaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("summaries = %d, want 2 (unknown id skipped)", len(summaries))
	}
	if summaries[0].MessageID != first.ID || summaries[1].MessageID != second.ID {
		t.Fatalf("summaries out of message order")
	}
	if len(summaries[0].SeenBy) != 0 || len(summaries[1].SeenBy) != 1 {
		t.Fatalf("seenBy counts wrong: %d and %d", len(summaries[0].SeenBy), len(summaries[1].SeenBy))
	}
}

func assertReaction(t *testing.T, upd *ReactionUpdate, rt models.ReactionType, count int, byViewer bool) {
	t.Helper()
	for _, r := range upd.Reactions {
		if r.Type != rt {
			continue
		}
		if r.Count != count || r.ReactedByCurrentUser != byViewer {
			t.Fatalf("%s: count=%d byViewer=%v, want count=%d byViewer=%v", rt, r.Count, r.ReactedByCurrentUser, count, byViewer)
		}
		if r.Emoji == "" {
			t.Fatalf("%s: missing emoji", rt)
		}
		return
	}
	t.Fatalf("reaction %s not present in update", rt)
}

func assertViewReaction(t *testing.T, view MessageView, rt models.ReactionType, count int, byViewer bool) {
	t.Helper()
	for _, r := range view.Reactions {
		if r.Type != rt {
			continue
		}
		if r.Count != count || r.ReactedByCurrentUser != byViewer {
			t.Fatalf("%s: count=%d byViewer=%v, want count=%d byViewer=%v", rt, r.Count, r.ReactedByCurrentUser, count, byViewer)
		}
		return
	}
	t.Fatalf("reaction %s not present on message", rt)
}

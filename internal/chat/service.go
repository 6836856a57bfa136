package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joinup-app/backend/internal/models"
)

// Realtime event names published on activity channels.
const (
	EventChatMessage    = "chat_message"
	EventSeenUpdate     = "seen_update"
	EventReactionUpdate = "reaction_update"
)

// Default and maximum page size for recent message history.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

var (
	// ErrAccessDenied is returned when the user is not an approved participant
	// or the organizer of the activity.
	ErrAccessDenied = errors.New("chat access denied")
	// ErrEmptyMessage is returned when the message content is blank after trimming.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrMessageTooLong is returned when the message exceeds the length limit.
	ErrMessageTooLong = errors.New("message content exceeds maximum length")
	// ErrInvalidReaction is returned for an unsupported reaction type.
	ErrInvalidReaction = errors.New("unsupported reaction type")
	// ErrMessageNotInActivity is returned when the message belongs to a different activity.
	ErrMessageNotInActivity = errors.New("message does not belong to this activity")
)

// AckCounts holds delivery acknowledgement counts for a message, excluding
// the sender's own acks.
type AckCounts struct {
	Delivered int
	Seen      int
}

// ReactionView is one reaction type's aggregate on a message.
type ReactionView struct {
	Type                 models.ReactionType `json:"type"`
	Emoji                string              `json:"emoji"`
	Count                int                 `json:"count"`
	ReactedByCurrentUser bool                `json:"reacted_by_current_user"`
}

// MessageView is a message with counts and reaction aggregates for a viewer.
type MessageView struct {
	ID             uuid.UUID      `json:"id"`
	ActivityID     uuid.UUID      `json:"activity_id"`
	SenderID       uuid.UUID      `json:"sender_id"`
	SenderName     string         `json:"sender_name"`
	Content        string         `json:"content"`
	CreatedAt      time.Time      `json:"created_at"`
	DeliveredCount int            `json:"delivered_count"`
	SeenCount      int            `json:"seen_count"`
	Reactions      []ReactionView `json:"reactions"`
}

// AckView is the result of a delivered/seen acknowledgement.
type AckView struct {
	MessageID      uuid.UUID `json:"message_id"`
	DeliveredCount int       `json:"delivered_count"`
	SeenCount      int       `json:"seen_count"`
}

// ReactionUpdate describes the reaction state of a message after a toggle.
type ReactionUpdate struct {
	MessageID         uuid.UUID            `json:"message_id"`
	Reactions         []ReactionView       `json:"reactions"`
	ActorUserID       uuid.UUID            `json:"actor_user_id"`
	ActorReactionType *models.ReactionType `json:"actor_reaction_type,omitempty"`
}

// MessageSeenSummary lists who has seen one message.
type MessageSeenSummary struct {
	MessageID uuid.UUID         `json:"message_id"`
	SeenBy    []models.SeenUser `json:"seen_by"`
}

// Store persists chat messages, acknowledgements and reactions.
type Store interface {
	// InsertMessage stores the message and fills ID, CreatedAt and SenderName.
	InsertMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, messageID uuid.UUID) (*models.Message, error)
	// ListRecent returns up to limit messages for the activity, newest first.
	ListRecent(ctx context.Context, activityID uuid.UUID, limit int) ([]models.Message, error)
	// MarkDelivered records a delivery ack if absent. Reports whether a row was inserted.
	MarkDelivered(ctx context.Context, messageID, userID uuid.UUID, at time.Time) (bool, error)
	// MarkSeen records delivery and seen acks if absent. Reports whether the seen row was inserted.
	MarkSeen(ctx context.Context, messageID, userID uuid.UUID, at time.Time) (bool, error)
	// CountAcks returns delivery acknowledgement counts excluding the message sender.
	CountAcks(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID]AckCounts, error)
	// ToggleReaction applies the toggle semantics atomically per (message, user):
	// no reaction inserts, the same type removes, a different type replaces.
	// Returns the user's reaction after the toggle, nil when removed.
	ToggleReaction(ctx context.Context, messageID, userID uuid.UUID, reaction models.ReactionType, at time.Time) (*models.ReactionType, error)
	CountReactions(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID]map[models.ReactionType]int, error)
	// ViewerReactions returns the viewer's own reaction per message, if any.
	ViewerReactions(ctx context.Context, messageIDs []uuid.UUID, viewerID uuid.UUID) (map[uuid.UUID]models.ReactionType, error)
	// SeenUsers returns non-sender seen acks with user names, earliest first.
	SeenUsers(ctx context.Context, messageID uuid.UUID) ([]models.SeenUser, error)
	// MessagesByIDs returns messages matching ids that belong to the activity.
	MessagesByIDs(ctx context.Context, activityID uuid.UUID, ids []uuid.UUID) ([]models.Message, error)
}

// AccessGate decides who may use an activity's chat.
type AccessGate interface {
	CanAccessChat(ctx context.Context, activityID, userID uuid.UUID) (bool, error)
}

// Publisher fans events out to connected clients of an activity.
type Publisher interface {
	Publish(ctx context.Context, activityID uuid.UUID, event string, payload interface{}) error
}

// Service implements activity chat: messages, delivery/seen acks and reactions.
type Service struct {
	store  Store
	gate   AccessGate
	events Publisher
	clock  func() time.Time
	logger *zap.Logger
}

// NewService creates a chat service. events may be nil.
func NewService(store Store, gate AccessGate, events Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		gate:   gate,
		events: events,
		clock:  time.Now,
		logger: logger,
	}
}

// CanAccess reports whether the user may use the activity chat.
func (s *Service) CanAccess(ctx context.Context, activityID, userID uuid.UUID) (bool, error) {
	return s.gate.CanAccessChat(ctx, activityID, userID)
}

// SendMessage validates and stores a message, then fans it out. The returned
// view has zero counts and no reactions: the message is brand new.
func (s *Service) SendMessage(ctx context.Context, activityID, senderID uuid.UUID, content string) (*MessageView, error) {
	if err := s.requireAccess(ctx, activityID, senderID); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if len([]rune(content)) > models.MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	m := &models.Message{
		ActivityID: activityID,
		SenderID:   senderID,
		Content:    content,
		CreatedAt:  s.clock(),
	}
	if err := s.store.InsertMessage(ctx, m); err != nil {
		return nil, err
	}

	view := &MessageView{
		ID:         m.ID,
		ActivityID: m.ActivityID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		Reactions:  []ReactionView{},
	}
	s.publish(ctx, activityID, EventChatMessage, view)
	return view, nil
}

// MarkDelivered records a delivery ack for a non-sender, fans out the updated
// counts and returns them. Repeated acks are absorbed.
func (s *Service) MarkDelivered(ctx context.Context, activityID, messageID, userID uuid.UUID) (*AckView, error) {
	return s.ack(ctx, activityID, messageID, userID, false)
}

// MarkSeen records seen (and implied delivery) for a non-sender and returns
// the updated counts. Repeated acks are absorbed.
func (s *Service) MarkSeen(ctx context.Context, activityID, messageID, userID uuid.UUID) (*AckView, error) {
	return s.ack(ctx, activityID, messageID, userID, true)
}

func (s *Service) ack(ctx context.Context, activityID, messageID, userID uuid.UUID, seen bool) (*AckView, error) {
	if err := s.requireAccess(ctx, activityID, userID); err != nil {
		return nil, err
	}
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.ActivityID != activityID {
		return nil, ErrMessageNotInActivity
	}

	inserted := false
	if m.SenderID != userID {
		now := s.clock()
		if seen {
			inserted, err = s.store.MarkSeen(ctx, messageID, userID, now)
		} else {
			inserted, err = s.store.MarkDelivered(ctx, messageID, userID, now)
		}
		if err != nil {
			return nil, err
		}
	}

	counts, err := s.store.CountAcks(ctx, []uuid.UUID{messageID})
	if err != nil {
		return nil, err
	}
	ack := &AckView{
		MessageID:      messageID,
		DeliveredCount: counts[messageID].Delivered,
		SeenCount:      counts[messageID].Seen,
	}
	// Fan out the recomputed counters whenever either ack row is new, so
	// connected clients converge delivered and seen counts without polling.
	if inserted {
		s.publish(ctx, activityID, EventSeenUpdate, ack)
	}
	return ack, nil
}

// ToggleReaction applies the viewer's reaction toggle and fans out the
// resulting reaction state of the message.
func (s *Service) ToggleReaction(ctx context.Context, activityID, messageID, userID uuid.UUID, raw string) (*ReactionUpdate, error) {
	if err := s.requireAccess(ctx, activityID, userID); err != nil {
		return nil, err
	}
	reaction, ok := models.ParseReactionType(raw)
	if !ok {
		return nil, ErrInvalidReaction
	}
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.ActivityID != activityID {
		return nil, ErrMessageNotInActivity
	}

	actorReaction, err := s.store.ToggleReaction(ctx, messageID, userID, reaction, s.clock())
	if err != nil {
		return nil, err
	}

	ids := []uuid.UUID{messageID}
	counts, err := s.store.CountReactions(ctx, ids)
	if err != nil {
		return nil, err
	}
	viewer, err := s.store.ViewerReactions(ctx, ids, userID)
	if err != nil {
		return nil, err
	}

	upd := &ReactionUpdate{
		MessageID:         messageID,
		Reactions:         buildReactionViews(counts[messageID], viewer[messageID]),
		ActorUserID:       userID,
		ActorReactionType: actorReaction,
	}
	s.publish(ctx, activityID, EventReactionUpdate, upd)
	return upd, nil
}

// RecentMessages returns up to limit messages in chronological order with
// ack counts and the viewer's reaction state.
func (s *Service) RecentMessages(ctx context.Context, activityID, viewerID uuid.UUID, limit int) ([]MessageView, error) {
	if err := s.requireAccess(ctx, activityID, viewerID); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	messages, err := s.store.ListRecent(ctx, activityID, limit)
	if err != nil {
		return nil, err
	}
	// Newest-first from the store; present oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	ids := make([]uuid.UUID, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}

	views := make([]MessageView, 0, len(messages))
	if len(ids) == 0 {
		return views, nil
	}

	acks, err := s.store.CountAcks(ctx, ids)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountReactions(ctx, ids)
	if err != nil {
		return nil, err
	}
	viewer, err := s.store.ViewerReactions(ctx, ids, viewerID)
	if err != nil {
		return nil, err
	}

	for _, m := range messages {
		var viewerReaction models.ReactionType
		if r, ok := viewer[m.ID]; ok {
			viewerReaction = r
		}
		views = append(views, MessageView{
			ID:             m.ID,
			ActivityID:     m.ActivityID,
			SenderID:       m.SenderID,
			SenderName:     m.SenderName,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
			DeliveredCount: acks[m.ID].Delivered,
			SeenCount:      acks[m.ID].Seen,
			Reactions:      buildReactionViews(counts[m.ID], viewerReaction),
		})
	}
	return views, nil
}

// SeenUsers lists who has seen a message, earliest ack first. The sender's
// own ack is never included.
func (s *Service) SeenUsers(ctx context.Context, activityID, messageID, callerID uuid.UUID) ([]models.SeenUser, error) {
	if err := s.requireAccess(ctx, activityID, callerID); err != nil {
		return nil, err
	}
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.ActivityID != activityID {
		return nil, ErrMessageNotInActivity
	}
	return s.store.SeenUsers(ctx, messageID)
}

// SeenSummaries returns per-message seen lists for the requested messages in
// message order. IDs that do not resolve to a message of this activity are
// skipped.
func (s *Service) SeenSummaries(ctx context.Context, activityID uuid.UUID, messageIDs []uuid.UUID, callerID uuid.UUID) ([]MessageSeenSummary, error) {
	if err := s.requireAccess(ctx, activityID, callerID); err != nil {
		return nil, err
	}
	if len(messageIDs) == 0 {
		return []MessageSeenSummary{}, nil
	}

	messages, err := s.store.MessagesByIDs(ctx, activityID, messageIDs)
	if err != nil {
		return nil, err
	}
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID.String() < messages[j].ID.String()
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	summaries := make([]MessageSeenSummary, 0, len(messages))
	for _, m := range messages {
		seenBy, err := s.store.SeenUsers(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, MessageSeenSummary{MessageID: m.ID, SeenBy: seenBy})
	}
	return summaries, nil
}

func (s *Service) requireAccess(ctx context.Context, activityID, userID uuid.UUID) error {
	ok, err := s.gate.CanAccessChat(ctx, activityID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccessDenied
	}
	return nil
}

func (s *Service) publish(ctx context.Context, activityID uuid.UUID, event string, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, activityID, event, payload); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("event", event),
			zap.String("activity_id", activityID.String()),
			zap.Error(err),
		)
	}
}

// buildReactionViews returns one view per supported reaction type, in display
// order, including zero counts.
func buildReactionViews(counts map[models.ReactionType]int, viewerReaction models.ReactionType) []ReactionView {
	views := make([]ReactionView, 0, len(models.SupportedReactions))
	for _, rt := range models.SupportedReactions {
		views = append(views, ReactionView{
			Type:                 rt,
			Emoji:                rt.Emoji(),
			Count:                counts[rt],
			ReactedByCurrentUser: viewerReaction == rt,
		})
	}
	return views
}

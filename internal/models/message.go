package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxMessageLength is the maximum chat message length after trimming.
const MaxMessageLength = 1500

// ReactionType is one of the fixed chat reaction kinds.
type ReactionType string

const (
	ReactionLike  ReactionType = "LIKE"
	ReactionLove  ReactionType = "LOVE"
	ReactionLaugh ReactionType = "LAUGH"
	ReactionWow   ReactionType = "WOW"
)

// SupportedReactions lists the reaction types in display order.
var SupportedReactions = []ReactionType{ReactionLike, ReactionLove, ReactionLaugh, ReactionWow}

var reactionEmojis = map[ReactionType]string{
	ReactionLike:  "👍",
	ReactionLove:  "❤️",
	ReactionLaugh: "😂",
	ReactionWow:   "😮",
}

// Emoji returns the display emoji for the reaction type.
func (t ReactionType) Emoji() string {
	return reactionEmojis[t]
}

// ParseReactionType returns the reaction type for a raw value, or false if the
// value is not one of the supported kinds.
func ParseReactionType(value string) (ReactionType, bool) {
	t := ReactionType(strings.ToUpper(strings.TrimSpace(value)))
	_, ok := reactionEmojis[t]
	return t, ok
}

// Message is a chat message in an activity's chat. Immutable once created.
type Message struct {
	ID         uuid.UUID `json:"id"`
	ActivityID uuid.UUID `json:"activity_id"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Reaction is a user's single reaction on a message. Re-reacting with the same
// type removes it; a different type replaces it.
type Reaction struct {
	MessageID    uuid.UUID    `json:"message_id"`
	UserID       uuid.UUID    `json:"user_id"`
	ReactionType ReactionType `json:"reaction_type"`
	ReactedAt    time.Time    `json:"reacted_at"`
}

// SeenUser is a non-sender user who has seen a message.
type SeenUser struct {
	UserID   uuid.UUID `json:"user_id"`
	FullName string    `json:"full_name"`
	SeenAt   time.Time `json:"seen_at"`
}

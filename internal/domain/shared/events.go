package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened in the engine and is published after the state change is durable.
const (
	// Learner events
	EventLearnerRegistered EventType = "learner.registered"

	// Progress events
	EventXPGained        EventType = "progress.xp_gained"
	EventLessonCompleted EventType = "progress.lesson_completed"
	EventLessonUnlocked  EventType = "progress.lesson_unlocked"

	// Reward events
	EventDailyRewardClaimed EventType = "reward.daily_claimed"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"

	// Session events
	EventSessionAbandoned EventType = "session.abandoned"
)

// XP sources carried by XPGainedEvent.
const (
	XPSourceLesson      = "lesson_completion"
	XPSourceDailyReward = "daily_reward"
)

// Event - доменное событие. Публикуется только после того, как изменение
// состояния сохранено.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID - ученик, а для событий сессии - сессия.
	AggregateID() string
}

// BaseEvent реализует Event; конкретные события встраивают его.
type BaseEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Aggregate string    `json:"aggregate_id"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.Aggregate }

// NewBaseEvent ставит текущее время в UTC.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{Type: eventType, Timestamp: time.Now().UTC(), Aggregate: aggregateID}
}

// ═══════════════════════════════════════════════════════════════════════════
// Learner Events
// ═══════════════════════════════════════════════════════════════════════════

// LearnerRegisteredEvent is emitted when a zero position is created for a user.
type LearnerRegisteredEvent struct {
	BaseEvent
	UserID string `json:"user_id"`
}

// NewLearnerRegisteredEvent creates a new LearnerRegisteredEvent.
func NewLearnerRegisteredEvent(userID string) LearnerRegisteredEvent {
	return LearnerRegisteredEvent{
		BaseEvent: NewBaseEvent(EventLearnerRegistered, userID),
		UserID:    userID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// XPGainedEvent is emitted when a learner's XP total grows.
type XPGainedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	Amount   int    `json:"amount"`
	NewTotal int    `json:"new_total"`
	Source   string `json:"source"` // XPSourceLesson or XPSourceDailyReward
}

// NewXPGainedEvent creates a new XPGainedEvent.
func NewXPGainedEvent(userID string, amount, newTotal int, source string) XPGainedEvent {
	return XPGainedEvent{
		BaseEvent: NewBaseEvent(EventXPGained, userID),
		UserID:    userID,
		Amount:    amount,
		NewTotal:  newTotal,
		Source:    source,
	}
}

// LessonCompletedEvent is emitted once per finalized lesson session.
type LessonCompletedEvent struct {
	BaseEvent
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id"`
	LessonID       string `json:"lesson_id"`
	LessonIndex    int    `json:"lesson_index"`
	AttentionScore int    `json:"attention_score"`
	MemoryScore    int    `json:"memory_score"`
	SpeedScore     int    `json:"speed_score"`
	XPEarned       int    `json:"xp_earned"`
	Replay         bool   `json:"replay"`
}

// NewLessonCompletedEvent creates a LessonCompletedEvent.
func NewLessonCompletedEvent(userID, sessionID, lessonID string, lessonIndex, attention, memory, speed, xp int, replay bool) LessonCompletedEvent {
	return LessonCompletedEvent{
		BaseEvent:      NewBaseEvent(EventLessonCompleted, userID),
		UserID:         userID,
		SessionID:      sessionID,
		LessonID:       lessonID,
		LessonIndex:    lessonIndex,
		AttentionScore: attention,
		MemoryScore:    memory,
		SpeedScore:     speed,
		XPEarned:       xp,
		Replay:         replay,
	}
}

// LessonUnlockedEvent is emitted when the current lesson index moves forward.
type LessonUnlockedEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	PreviousIndex int    `json:"previous_index"`
	NewIndex      int    `json:"new_index"`
}

// NewLessonUnlockedEvent creates a new LessonUnlockedEvent.
func NewLessonUnlockedEvent(userID string, previousIndex, newIndex int) LessonUnlockedEvent {
	return LessonUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventLessonUnlocked, userID),
		UserID:        userID,
		PreviousIndex: previousIndex,
		NewIndex:      newIndex,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Reward & Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// DailyRewardClaimedEvent is emitted after a successful daily claim.
type DailyRewardClaimedEvent struct {
	BaseEvent
	UserID    string    `json:"user_id"`
	Amount    int       `json:"amount"`
	NewTotal  int       `json:"new_total"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// NewDailyRewardClaimedEvent creates a new DailyRewardClaimedEvent.
func NewDailyRewardClaimedEvent(userID string, amount, newTotal int, claimedAt time.Time) DailyRewardClaimedEvent {
	return DailyRewardClaimedEvent{
		BaseEvent: NewBaseEvent(EventDailyRewardClaimed, userID),
		UserID:    userID,
		Amount:    amount,
		NewTotal:  newTotal,
		ClaimedAt: claimedAt,
	}
}

// AchievementUnlockedEvent is emitted when a re-evaluation earns a badge
// that the previous evaluation did not. Nothing is persisted for it.
type AchievementUnlockedEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	AchievementID string `json:"achievement_id"`
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(userID, achievementID string) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, userID),
		UserID:        userID,
		AchievementID: achievementID,
	}
}

// SessionAbandonedEvent is emitted when an unfinished session is discarded.
type SessionAbandonedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	LessonIndex int    `json:"lesson_index"`
	StepIndex   int    `json:"step_index"`
	EventCount  int    `json:"event_count"`
	Reason      string `json:"reason"` // "abandoned" или "expired"
}

// NewSessionAbandonedEvent creates a new SessionAbandonedEvent.
func NewSessionAbandonedEvent(sessionID, userID string, lessonIndex, stepIndex, eventCount int, reason string) SessionAbandonedEvent {
	return SessionAbandonedEvent{
		BaseEvent:   NewBaseEvent(EventSessionAbandoned, sessionID),
		UserID:      userID,
		LessonIndex: lessonIndex,
		StepIndex:   stepIndex,
		EventCount:  eventCount,
		Reason:      reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NoopPublisher drops every event. Useful when no bus is configured.
type NoopPublisher struct{}

// Publish implements EventPublisher.
func (NoopPublisher) Publish(Event) error { return nil }

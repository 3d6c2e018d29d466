package queue

import (
	"time"

	"github.com/rcliao/profile-sync/internal/model"
)

// EventType names a queue event.
type EventType string

// Queue events.
const (
	EventEnqueued     EventType = "enqueued"
	EventSynced       EventType = "synced"
	EventRetryLater   EventType = "retry_scheduled"
	EventDeadLettered EventType = "dead_lettered"
	EventRequeued     EventType = "requeued"
	EventExpiring     EventType = "dead_letter_expiring"
	EventPurged       EventType = "dead_letter_purged"
	EventOnline       EventType = "online"
	EventOffline      EventType = "offline"
)

// Event reports a queue state change to the caller.
type Event struct {
	Type       EventType
	Operations []model.QueuedOperation
	// DeadLetters is set for the expiring and purged events.
	DeadLetters []model.DeadLetterEntry
	Err         error
	// RetryAt is set for EventRetryLater.
	RetryAt time.Time
}

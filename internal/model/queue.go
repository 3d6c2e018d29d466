package model

import (
	"encoding/json"
	"time"
)

// OperationType is the kind of local mutation being synchronized.
type OperationType string

// Operation types.
const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// ValidOperationTypes are the allowed operation types.
var ValidOperationTypes = map[OperationType]bool{
	OpCreate: true,
	OpUpdate: true,
	OpDelete: true,
}

// OperationStatus is the lifecycle state of a queued operation.
type OperationStatus string

// Operation statuses. Success removes the operation, so there is no
// "synced" status.
const (
	StatusPending    OperationStatus = "pending"
	StatusProcessing OperationStatus = "processing"
	StatusFailed     OperationStatus = "failed"
	StatusDead       OperationStatus = "dead"
)

// QueuedOperation is a local mutation waiting to reach the remote store.
type QueuedOperation struct {
	ID          string          `json:"id"`
	Type        OperationType   `json:"type"`
	Entity      EntityType      `json:"entity"`
	EntityID    string          `json:"entityId"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	RetryCount  int             `json:"retryCount"`
	NextRetryAt time.Time       `json:"nextRetryAt"`
	Status      OperationStatus `json:"status"`
}

// DeadLetterEntry is an operation that exhausted its retry budget.
type DeadLetterEntry struct {
	Operation QueuedOperation `json:"operation"`
	LastError string          `json:"lastError"`
	FailedAt  time.Time       `json:"failedAt"`
	PurgeAt   time.Time       `json:"purgeAt"`
}

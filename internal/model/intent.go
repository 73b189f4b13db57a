package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// UpdateValue carries the proposed new value of an intent. Exactly one
// field is meaningful, shaped by the component's workflow type.
type UpdateValue struct {
	IsCompleted     *bool    `json:"is_completed,omitempty"`
	PercentageValue *float64 `json:"percentage_value,omitempty"`
	QuantityValue   *int     `json:"quantity_value,omitempty"`
}

// UpdateIntent is a single proposed milestone change originated by a
// user action. It is consumed and discarded once its optimistic record
// resolves.
type UpdateIntent struct {
	IntentID      string      `json:"intent_id"`
	MilestoneID   string      `json:"milestone_id"`
	ComponentID   string      `json:"component_id"`
	Value         UpdateValue `json:"value"`
	UserID        string      `json:"user_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	RetryCount    int         `json:"retry_count"`
	TransactionID string      `json:"transaction_id,omitempty"`
}

// NewIntentID generates a random identifier for an update intent.
func NewIntentID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// OperationStatus is the lifecycle state of an optimistic record.
type OperationStatus string

const (
	StatusIdle     OperationStatus = "idle"
	StatusPending  OperationStatus = "pending"
	StatusSuccess  OperationStatus = "success"
	StatusError    OperationStatus = "error"
	StatusConflict OperationStatus = "conflict"
)

// OptimisticRecord tracks one milestone with in-flight or recently
// resolved activity. At most one pending intent exists per milestone;
// a newer intent supersedes the previous one.
type OptimisticRecord struct {
	MilestoneID      string
	ServerValue      Milestone
	SpeculativeValue *Milestone
	Status           OperationStatus
	PendingIntent    *UpdateIntent
	RetryCount       int
}

// ConflictRecord is raised when the server's truth moved out from
// under an unconfirmed local edit.
type ConflictRecord struct {
	MilestoneID string    `json:"milestone_id"`
	Local       Milestone `json:"local"`
	Remote      Milestone `json:"remote"`
	DetectedAt  time.Time `json:"detected_at"`
}

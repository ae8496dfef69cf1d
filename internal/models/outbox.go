package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusProcessed  OutboxStatus = "PROCESSED"
)

const (
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
	EventTransferCompleted    = "transfer.completed"
)

// OutboxEvent is written in the same database transaction as the ledger change it describes.
type OutboxEvent struct {
	ID        string
	Type      string
	Key       string
	Payload   []byte
	Status    OutboxStatus
	CreatedAt time.Time
}

// LedgerEvent is the payload published for every balance-affecting change.
type LedgerEvent struct {
	Type          string    `json:"type"`
	TransactionID string    `json:"transaction_id,omitempty"`
	UserIDs       []string  `json:"user_ids"`
	Amount        int64     `json:"amount"`
	Provider      Provider  `json:"provider,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func NewOutboxEvent(event LedgerEvent) (*OutboxEvent, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	key := ""
	if len(event.UserIDs) > 0 {
		key = event.UserIDs[0]
	}
	return &OutboxEvent{
		ID:        uuid.NewString(),
		Type:      event.Type,
		Key:       key,
		Payload:   payload,
		Status:    OutboxStatusPending,
		CreatedAt: event.OccurredAt,
	}, nil
}

package models

import "time"

type User struct {
	ID                  string    `json:"id" db:"id"`
	Username            string    `json:"username" db:"username"`
	SolcitosBalance     int64     `json:"solcitos_balance" db:"solcitos_balance"`
	TotalSolcitosEarned int64     `json:"total_solcitos_earned" db:"total_solcitos_earned"`
	IsPrime             bool      `json:"is_prime" db:"is_prime"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}

// TransferResult is returned to the sender after a peer transfer.
type TransferResult struct {
	SenderID         string `json:"sender_id"`
	RecipientID      string `json:"recipient_id"`
	Amount           int64  `json:"amount"`
	NewSenderBalance int64  `json:"new_balance"`
}

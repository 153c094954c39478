package models

import (
	"time"

	"gorm.io/datatypes"
)

// Callback outcomes recorded in the audit log.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeUnknown   = "unknown"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
)

// CallbackLog is an append-only audit row per received provider callback.
type CallbackLog struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	CheckoutRequestID string         `gorm:"type:varchar(191);index" json:"checkout_request_id"`
	MerchantRequestID string         `gorm:"type:varchar(191)" json:"merchant_request_id"`
	ResultCode        *int           `json:"result_code,omitempty"`
	Outcome           string         `gorm:"type:varchar(16);not null" json:"outcome"`
	Payload           datatypes.JSON `json:"payload"`
	CreatedAt         time.Time      `json:"created_at"`
}

func (CallbackLog) TableName() string {
	return "mpesa_callback_logs"
}

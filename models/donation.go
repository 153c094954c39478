package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	PaymentMethodMpesa = "mpesa"
)

type Donation struct {
	ID                string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	ProjectID         string         `gorm:"type:varchar(36);not null;index" json:"project_id"`
	Amount            int64          `gorm:"not null" json:"amount"`
	DonorName         *string        `gorm:"type:varchar(191)" json:"donor_name,omitempty"`
	DonorPhone        string         `gorm:"type:varchar(32);not null" json:"donor_phone"`
	DonorEmail        *string        `gorm:"type:varchar(191)" json:"donor_email,omitempty"`
	Message           *string        `gorm:"type:text" json:"message,omitempty"`
	IsAnonymous       bool           `gorm:"default:false" json:"is_anonymous"`
	Status            string         `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	CheckoutRequestID *string        `gorm:"type:varchar(191);uniqueIndex" json:"checkout_request_id,omitempty"`
	PaymentReference  *string        `gorm:"type:varchar(64)" json:"payment_reference,omitempty"`
	PaymentMethod     *string        `gorm:"type:varchar(16)" json:"payment_method,omitempty"`
	PaymentDate       *time.Time     `json:"payment_date,omitempty"`
	PaymentDetails    datatypes.JSON `json:"payment_details,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (Donation) TableName() string {
	return "donations"
}

// Terminal reports whether the donation has left pending.
func (d *Donation) Terminal() bool {
	return d.Status == StatusCompleted || d.Status == StatusFailed
}

// Details decodes PaymentDetails; an empty blob yields a zero value.
func (d *Donation) Details() PaymentDetails {
	var pd PaymentDetails
	if len(d.PaymentDetails) > 0 {
		_ = json.Unmarshal(d.PaymentDetails, &pd)
	}
	return pd
}

// PaymentDetails is the provider detail blob stored with a donation.
type PaymentDetails struct {
	MerchantRequestID string   `json:"merchant_request_id,omitempty"`
	CheckoutRequestID string   `json:"checkout_request_id,omitempty"`
	CustomerMessage   string   `json:"customer_message,omitempty"`
	ReceiptNumber     string   `json:"receipt_number,omitempty"`
	TransactionDate   string   `json:"transaction_date,omitempty"`
	PhoneNumber       string   `json:"phone_number,omitempty"`
	Amount            *int64   `json:"amount,omitempty"`
	ResultCode        *int     `json:"result_code,omitempty"`
	Error             string   `json:"error,omitempty"`
	MissingFields     []string `json:"missing_fields,omitempty"`
}

// JSON encodes the details for a datatypes.JSON column.
func (p PaymentDetails) JSON() datatypes.JSON {
	b, _ := json.Marshal(p)
	return datatypes.JSON(b)
}

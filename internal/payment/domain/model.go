package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	crdomain "github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	"gorm.io/datatypes"
)

const CurrencyUSD = "USD"

// PaymentDetails is everything the processor needs for one capture attempt.
type PaymentDetails struct {
	ID          snowflake.ID        `json:"id" validate:"required"`
	Amount      decimal.Decimal     `json:"amount"`
	Currency    string              `json:"currency" validate:"required,len=3"`
	Description string              `json:"description" validate:"required"`
	Name        string              `json:"name" validate:"required"`
	ReferenceID string              `json:"reference_id" validate:"required,max=40"`
	RequestID   string              `json:"request_id" validate:"required,uuid"`
	ChangeType  crdomain.ChangeType `json:"change_type" validate:"required"`
	TeamID      string              `json:"team_id,omitempty"`
	RequestedBy string              `json:"requested_by,omitempty"`
	ItemID      string              `json:"item_id" validate:"required"`
	NewValue    string              `json:"new_value,omitempty"`
	OldValue    string              `json:"old_value,omitempty"`
	EventID     string              `json:"event_id,omitempty"`
	PlayerIDs   []string            `json:"player_ids,omitempty"`
	NewOwnerID  string              `json:"new_owner_id,omitempty"`
}

// IsZero reports whether d was never built.
func (d PaymentDetails) IsZero() bool {
	return d.ID == 0 && d.RequestID == "" && d.Amount.IsZero()
}

// MinorUnits converts the amount to cents for the processor.
func (d PaymentDetails) MinorUnits() int64 {
	return d.Amount.Shift(2).Round(0).IntPart()
}

// NormalizedPaymentResult is the processor-independent capture outcome.
type NormalizedPaymentResult struct {
	Success    bool   `json:"success"`
	PaymentID  string `json:"payment_id,omitempty"`
	Status     string `json:"status,omitempty"`
	ReceiptURL string `json:"receipt_url,omitempty"`
	Error      string `json:"error,omitempty"`
	Simulated  bool   `json:"simulated,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
}

// CaptureRequest is the input to a gateway capture call.
type CaptureRequest struct {
	SourceID       string
	IdempotencyKey string
	Details        PaymentDetails
}

type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentRecord stores the outcome of every capture call.
type PaymentRecord struct {
	ID                 snowflake.ID  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	RequestID          string        `json:"request_id" gorm:"type:varchar(36);not null;index"`
	ReferenceID        string        `json:"reference_id" gorm:"type:text;not null"`
	IdempotencyKey     string        `json:"idempotency_key" gorm:"type:text;not null;uniqueIndex:ux_payments_idempotency_key"`
	Amount             string        `json:"amount" gorm:"type:text;not null"`
	Currency           string        `json:"currency" gorm:"type:text;not null"`
	Status             PaymentStatus `json:"status" gorm:"type:text;not null"`
	ProcessorPaymentID string        `json:"processor_payment_id,omitempty" gorm:"type:text;index"`
	ReceiptURL         string        `json:"receipt_url,omitempty" gorm:"type:text"`
	Endpoint           string        `json:"endpoint,omitempty" gorm:"type:text"`
	Simulated          bool          `json:"simulated" gorm:"not null;default:false"`
	Error              string        `json:"error,omitempty" gorm:"type:text"`
	CreatedAt          time.Time     `json:"created_at" gorm:"not null"`
}

func (PaymentRecord) TableName() string { return "payments" }

// EventRecord dedupes processor webhook deliveries.
type EventRecord struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider          string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	ProviderEventID   string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	EventType         string         `json:"event_type" gorm:"type:text;not null"`
	ProviderPaymentID string         `json:"provider_payment_id" gorm:"type:text"`
	ReferenceID       string         `json:"reference_id" gorm:"type:text"`
	Payload           datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt        time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt       *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypePaymentPending   = "payment_pending"
)

// PaymentEvent is the canonical payment event parsed by adapters.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	ProviderPaymentID string
	ReferenceID       string
	Type              string
	Status            string
	ReceiptURL        string
	Amount            int64
	Currency          string
	OccurredAt        time.Time
	RawPayload        []byte
}

type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/rosterpay/internal/payment/domain"
)

const (
	provider        = "square"
	signatureHeader = "x-square-hmacsha256-signature"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return provider
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	key, ok := readString(cfg.Config, "signature_key")
	if !ok || strings.TrimSpace(key) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	notificationURL, ok := readString(cfg.Config, "notification_url")
	if !ok || strings.TrimSpace(notificationURL) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	return &Adapter{
		signatureKey:    strings.TrimSpace(key),
		notificationURL: strings.TrimSpace(notificationURL),
	}, nil
}

type Adapter struct {
	signatureKey    string
	notificationURL string
}

// Verify checks the base64 HMAC-SHA256 of notification URL + body.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(signatureHeader))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	expected := Sign(a.signatureKey, a.notificationURL, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

// Sign returns the signature Square would send for payload.
func Sign(key, notificationURL string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	_, _ = mac.Write([]byte(notificationURL))
	_, _ = mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event squareEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.EventID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment.created", "payment.updated":
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	var object squarePaymentObject
	if err := json.Unmarshal(event.Data.Object, &object); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	payment := object.Payment
	if strings.TrimSpace(payment.ID) == "" {
		payment.ID = strings.TrimSpace(event.Data.ID)
	}
	if payment.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	status := strings.ToUpper(strings.TrimSpace(payment.Status))
	return &paymentdomain.PaymentEvent{
		Provider:          provider,
		ProviderEventID:   event.EventID,
		ProviderPaymentID: payment.ID,
		ReferenceID:       strings.TrimSpace(payment.ReferenceID),
		Type:              eventType(status),
		Status:            status,
		ReceiptURL:        strings.TrimSpace(payment.ReceiptURL),
		Amount:            payment.AmountMoney.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(payment.AmountMoney.Currency)),
		OccurredAt:        occurredAt(payment.UpdatedAt, event.CreatedAt),
		RawPayload:        payload,
	}, nil
}

type squareEvent struct {
	MerchantID string          `json:"merchant_id"`
	Type       string          `json:"type"`
	EventID    string          `json:"event_id"`
	CreatedAt  string          `json:"created_at"`
	Data       squareEventData `json:"data"`
}

type squareEventData struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Object json.RawMessage `json:"object"`
}

type squarePaymentObject struct {
	Payment squarePayment `json:"payment"`
}

type squarePayment struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	ReferenceID string      `json:"reference_id"`
	ReceiptURL  string      `json:"receipt_url"`
	UpdatedAt   string      `json:"updated_at"`
	AmountMoney squareMoney `json:"amount_money"`
}

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func eventType(status string) string {
	switch status {
	case "COMPLETED":
		return paymentdomain.EventTypePaymentSucceeded
	case "FAILED", "CANCELED":
		return paymentdomain.EventTypePaymentFailed
	default:
		return paymentdomain.EventTypePaymentPending
	}
}

func occurredAt(values ...string) time.Time {
	for _, value := range values {
		if parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value)); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	cast, ok := value.(string)
	return cast, ok
}

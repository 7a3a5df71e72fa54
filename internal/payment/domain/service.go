package domain

import (
	"context"
	"net/http"
)

// WebhookService ingests processor notifications.
type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

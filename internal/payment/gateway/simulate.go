package gateway

import (
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/rosterpay/internal/payment/domain"
)

const simulatedReceiptBase = "https://sandbox.invalid/receipts/"

// simulate synthesizes a completed payment. Callers must only use it outside
// production after every endpoint has failed.
func simulate() domain.NormalizedPaymentResult {
	id := "sim_" + ulid.Make().String()
	return domain.NormalizedPaymentResult{
		Success:    true,
		PaymentID:  id,
		Status:     "COMPLETED",
		ReceiptURL: simulatedReceiptBase + id,
		Simulated:  true,
	}
}

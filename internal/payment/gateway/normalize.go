package gateway

import (
	"encoding/json"
	"strings"

	"github.com/smallbiznis/rosterpay/internal/payment/domain"
)

var successStatuses = map[string]struct{}{
	"COMPLETED": {},
	"APPROVED":  {},
	"CAPTURED":  {},
	"SUCCEEDED": {},
	"SUCCESS":   {},
	"PAID":      {},
}

// Normalize maps any processor response body onto NormalizedPaymentResult.
// The body may wrap the payment in a "payment" object or be the payment itself.
func Normalize(body []byte) domain.NormalizedPaymentResult {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return domain.NormalizedPaymentResult{Error: "invalid processor response"}
	}

	payment := root
	if nested, ok := root["payment"].(map[string]any); ok {
		payment = nested
	}

	result := domain.NormalizedPaymentResult{
		PaymentID:  firstString(payment, "id", "payment_id", "paymentId"),
		Status:     strings.ToUpper(firstString(payment, "status", "payment_status", "paymentStatus", "state")),
		ReceiptURL: firstString(payment, "receiptUrl", "receipt_url"),
	}

	if _, ok := successStatuses[result.Status]; ok {
		result.Success = true
	} else if result.Status == "" && result.PaymentID != "" {
		result.Success = true
	}

	if !result.Success {
		result.Error = errorText(root)
		if result.Error == "" && payment != nil {
			result.Error = errorText(payment)
		}
		if result.Error == "" {
			result.Error = "payment not completed"
			if result.Status != "" {
				result.Error = "payment status " + result.Status
			}
		}
	}
	return result
}

func errorText(obj map[string]any) string {
	if list, ok := obj["errors"].([]any); ok && len(list) > 0 {
		if first, ok := list[0].(map[string]any); ok {
			if detail := firstString(first, "detail", "message", "code"); detail != "" {
				return detail
			}
		}
	}
	return firstString(obj, "error", "message")
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return strings.TrimSpace(jsonNumber(v))
		}
	}
	return ""
}

func jsonNumber(v float64) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Package details assembles validated payment details for a change request.
package details

import (
	"errors"
	"reflect"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	crdomain "github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	"github.com/smallbiznis/rosterpay/internal/payment/domain"
	"github.com/smallbiznis/rosterpay/internal/reference"
)

// Options carries the typed inputs a change request was submitted with.
type Options struct {
	RequestID      string
	TeamID         string
	RequestedBy    string
	ItemID         string
	Name           string
	NewValue       string
	OldValue       string
	EventID        string
	PlayerIDs      []string
	NewOwnerID     string
	FallbackAmount decimal.Decimal
}

// requiredByType lists, per change type, the fields that must be non-empty.
var requiredByType = map[crdomain.ChangeType][]string{
	crdomain.ChangeTypeTeamRebrand:            {"team_id", "requested_by", "new_value"},
	crdomain.ChangeTypeRosterChange:           {"team_id", "requested_by", "player_ids"},
	crdomain.ChangeTypeTeamTransfer:           {"team_id", "requested_by", "new_owner_id"},
	crdomain.ChangeTypeOnlineIDChange:         {"requested_by", "new_value"},
	crdomain.ChangeTypeLeagueRegistration:     {"team_id", "requested_by", "event_id"},
	crdomain.ChangeTypeTournamentRegistration: {"team_id", "requested_by", "event_id"},
	crdomain.ChangeTypeTeamCreation:           {"requested_by", "new_value"},
}

type Builder struct {
	node     *snowflake.Node
	validate *validator.Validate
}

func NewBuilder(node *snowflake.Node) *Builder {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	v.RegisterStructValidation(validateDetails, domain.PaymentDetails{})
	return &Builder{node: node, validate: v}
}

// Build returns validated details for one submission. A zero amount falls
// back to opts.FallbackAmount; no other field has a default.
func (b *Builder) Build(changeType crdomain.ChangeType, amount decimal.Decimal, description string, opts Options) (domain.PaymentDetails, error) {
	requestID := strings.TrimSpace(opts.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if amount.IsZero() && opts.FallbackAmount.IsPositive() {
		amount = opts.FallbackAmount
	}

	itemID := strings.TrimSpace(opts.ItemID)
	details := domain.PaymentDetails{
		ID:          b.node.Generate(),
		Amount:      amount,
		Currency:    domain.CurrencyUSD,
		Description: strings.TrimSpace(description),
		Name:        strings.TrimSpace(opts.Name),
		ReferenceID: reference.Encode(itemID, requestID),
		RequestID:   requestID,
		ChangeType:  changeType,
		TeamID:      strings.TrimSpace(opts.TeamID),
		RequestedBy: strings.TrimSpace(opts.RequestedBy),
		ItemID:      itemID,
		NewValue:    strings.TrimSpace(opts.NewValue),
		OldValue:    strings.TrimSpace(opts.OldValue),
		EventID:     strings.TrimSpace(opts.EventID),
		PlayerIDs:   cleanList(opts.PlayerIDs),
		NewOwnerID:  strings.TrimSpace(opts.NewOwnerID),
	}

	if err := b.validate.Struct(details); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return domain.PaymentDetails{}, toValidationErrors(verrs)
		}
		return domain.PaymentDetails{}, err
	}
	return details, nil
}

func validateDetails(sl validator.StructLevel) {
	d := sl.Current().Interface().(domain.PaymentDetails)

	if !d.Amount.IsPositive() {
		sl.ReportError(d.Amount, "amount", "Amount", "gt_zero", "")
	} else if !d.Amount.Equal(d.Amount.Round(2)) {
		sl.ReportError(d.Amount, "amount", "Amount", "max_two_decimals", "")
	}

	if strings.Contains(d.ItemID, "-") {
		sl.ReportError(d.ItemID, "item_id", "ItemID", "no_dash", "")
	}

	required, ok := requiredByType[d.ChangeType]
	if !ok {
		sl.ReportError(d.ChangeType, "change_type", "ChangeType", "oneof", "")
		return
	}
	values := map[string]bool{
		"team_id":      d.TeamID != "",
		"requested_by": d.RequestedBy != "",
		"new_value":    d.NewValue != "",
		"player_ids":   len(d.PlayerIDs) > 0,
		"new_owner_id": d.NewOwnerID != "",
		"event_id":     d.EventID != "",
	}
	for _, field := range required {
		if !values[field] {
			sl.ReportError("", field, field, "required", "")
		}
	}
}

func toValidationErrors(verrs validator.ValidationErrors) domain.ValidationErrors {
	out := make(domain.ValidationErrors, 0, len(verrs))
	seen := map[string]struct{}{}
	for _, fe := range verrs {
		field := fe.Field()
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		out = append(out, domain.FieldError{Field: field, Rule: fe.Tag()})
	}
	return out
}

// cleanList trims and copies ids so the result never aliases the caller's slice.
func cleanList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

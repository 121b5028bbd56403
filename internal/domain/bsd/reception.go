package bsd

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ValidateReception checks acceptance facts before a reception signature is
// recorded. Quantities use decimal arithmetic.
func ValidateReception(r Reception) error {
	if err := validateQuantities(r); err != nil {
		return err
	}
	reason := strings.TrimSpace(r.RefusalReason)
	switch r.AcceptationStatus {
	case "":
		return Validation("acceptation status is required")
	case AcceptationRefused:
		if !r.QuantityReceived.IsZero() {
			return Validation("a refused reception must have a received quantity of 0")
		}
		if reason == "" {
			return Validation("a refusal reason is required when the waste is refused")
		}
	case AcceptationPartiallyRefused:
		if !r.QuantityReceived.IsPositive() {
			return Validation("a partially refused reception requires a received quantity greater than 0")
		}
		if reason == "" {
			return Validation("a refusal reason is required when the waste is partially refused")
		}
		if r.QuantityRefused.GreaterThan(r.QuantityReceived) {
			return Validation("refused quantity cannot exceed received quantity")
		}
	case AcceptationAccepted:
		if !r.QuantityReceived.IsPositive() {
			return Validation("an accepted reception requires a received quantity greater than 0")
		}
		if reason != "" {
			return Validation("a refusal reason must be empty when the waste is accepted")
		}
		if !r.QuantityRefused.IsZero() {
			return Validation("refused quantity must be 0 when the waste is accepted")
		}
	default:
		return Validation("unknown acceptation status %q", r.AcceptationStatus)
	}
	return nil
}

// ValidatePendingReception checks a reception signed before its acceptation
// status is known: refusal facts wait for the acceptance.
func ValidatePendingReception(r Reception) error {
	if err := validateQuantities(r); err != nil {
		return err
	}
	if !r.QuantityRefused.IsZero() || strings.TrimSpace(r.RefusalReason) != "" {
		return Validation("a refusal requires an acceptation status")
	}
	return nil
}

func validateQuantities(r Reception) error {
	if r.QuantityReceived.IsNegative() {
		return Validation("received quantity cannot be negative")
	}
	if r.QuantityRefused.IsNegative() {
		return Validation("refused quantity cannot be negative")
	}
	return nil
}

// AcceptedQuantity is the quantity carried forward after reception.
func (r Reception) AcceptedQuantity() decimal.Decimal {
	switch r.AcceptationStatus {
	case AcceptationRefused:
		return decimal.Zero
	case AcceptationPartiallyRefused:
		return r.QuantityReceived.Sub(r.QuantityRefused)
	}
	return r.QuantityReceived
}

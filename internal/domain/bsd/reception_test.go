package bsd

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateReception(t *testing.T) {
	tests := []struct {
		name      string
		reception Reception
		wantErr   bool
	}{
		{
			name:      "refused with zero quantity",
			reception: Reception{AcceptationStatus: AcceptationRefused, QuantityReceived: decimal.Zero, RefusalReason: "non conforme"},
		},
		{
			name:      "refused with a quantity",
			reception: Reception{AcceptationStatus: AcceptationRefused, QuantityReceived: decimal.RequireFromString("0.001"), RefusalReason: "non conforme"},
			wantErr:   true,
		},
		{
			name:      "refused without reason",
			reception: Reception{AcceptationStatus: AcceptationRefused, QuantityReceived: decimal.Zero},
			wantErr:   true,
		},
		{
			name:      "accepted with positive quantity",
			reception: Reception{AcceptationStatus: AcceptationAccepted, QuantityReceived: decimal.NewFromInt(11)},
		},
		{
			name:      "accepted with zero quantity",
			reception: Reception{AcceptationStatus: AcceptationAccepted, QuantityReceived: decimal.Zero},
			wantErr:   true,
		},
		{
			name:      "accepted with refusal reason",
			reception: Reception{AcceptationStatus: AcceptationAccepted, QuantityReceived: decimal.NewFromInt(1), RefusalReason: "why"},
			wantErr:   true,
		},
		{
			name: "partially refused",
			reception: Reception{
				AcceptationStatus: AcceptationPartiallyRefused,
				QuantityReceived:  decimal.RequireFromString("2.5"),
				QuantityRefused:   decimal.RequireFromString("0.5"),
				RefusalReason:     "partially wet",
			},
		},
		{
			name:      "partially refused with zero quantity",
			reception: Reception{AcceptationStatus: AcceptationPartiallyRefused, QuantityReceived: decimal.Zero, RefusalReason: "x"},
			wantErr:   true,
		},
		{
			name:      "negative quantity",
			reception: Reception{AcceptationStatus: AcceptationAccepted, QuantityReceived: decimal.NewFromInt(-1)},
			wantErr:   true,
		},
		{
			name:      "missing acceptation status",
			reception: Reception{QuantityReceived: decimal.NewFromInt(1)},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateReception(tt.reception)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			de, ok := AsError(err)
			assert.True(t, ok)
			assert.Equal(t, CodeBadUserInput, de.Code)
		})
	}
}

func TestAcceptedQuantityUsesDecimalArithmetic(t *testing.T) {
	r := Reception{
		AcceptationStatus: AcceptationPartiallyRefused,
		QuantityReceived:  decimal.RequireFromString("0.3"),
		QuantityRefused:   decimal.RequireFromString("0.1"),
	}
	assert.True(t, r.AcceptedQuantity().Equal(decimal.RequireFromString("0.2")))
}

func TestOperationCodes(t *testing.T) {
	assert.True(t, IsFinalOperationCode("R 1"))
	assert.True(t, IsFinalOperationCode("r1"))
	assert.True(t, IsFinalOperationCode("D9F"))
	assert.False(t, IsFinalOperationCode("D 9"))
	assert.False(t, IsFinalOperationCode("R 13"))
	assert.True(t, ValidOperationCode("R 13"))
	assert.False(t, ValidOperationCode("X 1"))
	assert.Equal(t, "D 9 F", NormalizeOperationCode(" d 9 f "))
}

func TestValidatePendingReception(t *testing.T) {
	assert.NoError(t, ValidatePendingReception(Reception{QuantityReceived: decimal.RequireFromString("10.5")}))
	assert.NoError(t, ValidatePendingReception(Reception{}))
	assert.Error(t, ValidatePendingReception(Reception{QuantityReceived: decimal.NewFromInt(-1)}))
	assert.Error(t, ValidatePendingReception(Reception{QuantityReceived: decimal.NewFromInt(5), RefusalReason: "non conforme"}))
	assert.Error(t, ValidatePendingReception(Reception{QuantityReceived: decimal.NewFromInt(5), QuantityRefused: decimal.NewFromInt(1)}))
}

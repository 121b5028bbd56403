package bsd

import (
	"time"

	"github.com/shopspring/decimal"
)

// Packaging is one physical container. NextPackagingID points to the
// container it was repackaged into on a downstream document.
type Packaging struct {
	ID              string          `json:"id"`
	DocumentID      string          `json:"documentId"`
	Type            string          `json:"type,omitempty"`
	Number          string          `json:"number,omitempty"`
	Volume          decimal.Decimal `json:"volume"`
	Weight          decimal.Decimal `json:"weight"`
	NextPackagingID string          `json:"nextPackagingId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// DocumentSummary is what traceability lookups return for a related
// document: enough to aggregate quantities for display.
type DocumentSummary struct {
	ID           string          `json:"id"`
	Family       Family          `json:"family"`
	Status       Status          `json:"status"`
	EmitterSiret string          `json:"emitterSiret,omitempty"`
	WasteCode    string          `json:"wasteCode,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	Weight       decimal.Decimal `json:"weight"`
	Volume       decimal.Decimal `json:"volume"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type Totals struct {
	Count    int             `json:"count"`
	Quantity decimal.Decimal `json:"quantity"`
	Weight   decimal.Decimal `json:"weight"`
	Volume   decimal.Decimal `json:"volume"`
}

// Summarize builds the summary of doc. Weight and volume are the sums over
// its packagings; quantity is the accepted quantity once received.
func Summarize(doc Document, packagings []Packaging) DocumentSummary {
	quantity := doc.Waste.Quantity
	if doc.Signatures.Reception != nil || (doc.Signatures.Operation != nil && doc.Reception.AcceptationStatus != "") {
		quantity = doc.Reception.AcceptedQuantity()
	}
	summary := DocumentSummary{
		ID:           doc.ID,
		Family:       doc.Family,
		Status:       doc.Status,
		EmitterSiret: doc.Emitter.Siret,
		WasteCode:    doc.Waste.Code,
		Quantity:     quantity,
		Weight:       decimal.Zero,
		Volume:       decimal.Zero,
		CreatedAt:    doc.CreatedAt,
	}
	for _, p := range packagings {
		summary.Weight = summary.Weight.Add(p.Weight)
		summary.Volume = summary.Volume.Add(p.Volume)
	}
	return summary
}

func SumTotals(summaries []DocumentSummary) Totals {
	totals := Totals{Quantity: decimal.Zero, Weight: decimal.Zero, Volume: decimal.Zero}
	for _, s := range summaries {
		totals.Count++
		totals.Quantity = totals.Quantity.Add(s.Quantity)
		totals.Weight = totals.Weight.Add(s.Weight)
		totals.Volume = totals.Volume.Add(s.Volume)
	}
	return totals
}

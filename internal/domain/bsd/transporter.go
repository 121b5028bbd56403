package bsd

import (
	"sort"
	"strings"
	"time"
)

const (
	MaxTransporters = 5
	MaxPlates       = 2
)

type TransporterReceipt struct {
	Number     string     `json:"number,omitempty"`
	Department string     `json:"department,omitempty"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`
	IsExempted bool       `json:"isExempted,omitempty"`
}

// Leg is one transporter segment of a shipment. Number is 0 while the leg is
// not attached to a document.
type Leg struct {
	ID            string             `json:"id"`
	DocumentID    string             `json:"documentId,omitempty"`
	Number        int                `json:"number"`
	Company       Company            `json:"company"`
	Receipt       TransporterReceipt `json:"receipt"`
	TransportMode string             `json:"transportMode,omitempty"`
	Plates        []string           `json:"plates,omitempty"`
	TakenOverAt   *time.Time         `json:"takenOverAt,omitempty"`
	Signature     *Signature         `json:"signature,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

func (l Leg) Signed() bool {
	return l.Signature != nil
}

func (l Leg) Clone() Leg {
	out := l
	out.Plates = cloneStrings(l.Plates)
	out.TakenOverAt = cloneTime(l.TakenOverAt)
	out.Receipt.ValidUntil = cloneTime(l.Receipt.ValidUntil)
	out.Signature = cloneSignature(l.Signature)
	return out
}

// ValidateLegInput checks the fields a leg carries independently of its
// position.
func ValidateLegInput(l Leg) error {
	if len(l.Plates) > MaxPlates {
		return Validation("a transporter can declare at most %d plates", MaxPlates)
	}
	for _, plate := range l.Plates {
		if strings.TrimSpace(plate) == "" {
			return Validation("transporter plates cannot be empty")
		}
	}
	return nil
}

// ValidateForTransport lists what a leg needs before its transport signature.
func (l Leg) ValidateForTransport() error {
	missing := l.Company.MissingContactFields("transporter.company")
	if !l.Receipt.IsExempted && strings.TrimSpace(l.Receipt.Number) == "" {
		missing = append(missing, "transporter.receipt.number")
	}
	if len(missing) > 0 {
		return Validation("missing required fields for transport: %s", strings.Join(missing, ", "))
	}
	return ValidateLegInput(l)
}

// SortLegs orders legs by number.
func SortLegs(legs []Leg) {
	sort.SliceStable(legs, func(i, j int) bool { return legs[i].Number < legs[j].Number })
}

// NumberLegs assigns numbers by list position starting at 1.
func NumberLegs(documentID string, legs []Leg) ([]Leg, error) {
	if len(legs) > MaxTransporters {
		return nil, Validation("a document can have at most %d transporters", MaxTransporters)
	}
	out := make([]Leg, len(legs))
	for i, leg := range legs {
		if err := ValidateLegInput(leg); err != nil {
			return nil, err
		}
		leg = leg.Clone()
		leg.DocumentID = documentID
		leg.Number = i + 1
		out[i] = leg
	}
	return out, nil
}

// NextLegNumber is max(existing numbers) + 1.
func NextLegNumber(legs []Leg) int {
	highest := 0
	for _, leg := range legs {
		if leg.Number > highest {
			highest = leg.Number
		}
	}
	return highest + 1
}

// RemoveLeg drops the leg with id and shifts every later leg down by one.
// The returned slice holds the legs whose number changed.
func RemoveLeg(legs []Leg, id string) (remaining []Leg, renumbered []Leg, err error) {
	removed := -1
	for _, leg := range legs {
		if leg.ID == id {
			removed = leg.Number
			break
		}
	}
	if removed < 0 {
		return nil, nil, NotFound("transporter", id)
	}
	remaining = make([]Leg, 0, len(legs)-1)
	for _, leg := range legs {
		if leg.ID == id {
			continue
		}
		if leg.Number > removed {
			leg = leg.Clone()
			leg.Number--
			renumbered = append(renumbered, leg)
		}
		remaining = append(remaining, leg)
	}
	SortLegs(remaining)
	return remaining, renumbered, nil
}

// ValidateLegs checks numbers are unique and contiguous from 1.
func ValidateLegs(legs []Leg) error {
	if len(legs) > MaxTransporters {
		return Validation("a document can have at most %d transporters", MaxTransporters)
	}
	sorted := make([]Leg, len(legs))
	copy(sorted, legs)
	SortLegs(sorted)
	for i, leg := range sorted {
		if leg.Number != i+1 {
			return Invariant("transporter numbers are not contiguous: expected %d, got %d", i+1, leg.Number)
		}
	}
	return nil
}

// CurrentLeg is the highest-numbered leg that signed its transport.
func CurrentLeg(legs []Leg) *Leg {
	var current *Leg
	for i := range legs {
		if !legs[i].Signed() {
			continue
		}
		if current == nil || legs[i].Number > current.Number {
			current = &legs[i]
		}
	}
	return current
}

// NextLeg is the lowest-numbered leg that has not signed yet.
func NextLeg(legs []Leg) *Leg {
	var next *Leg
	for i := range legs {
		if legs[i].Signed() {
			continue
		}
		if next == nil || legs[i].Number < next.Number {
			next = &legs[i]
		}
	}
	return next
}

func FirstLeg(legs []Leg) *Leg {
	for i := range legs {
		if legs[i].Number == 1 {
			return &legs[i]
		}
	}
	return nil
}

// SyncTransporterSirets refreshes the denormalized current/next transporter
// identifiers and the transport signature mirrored from leg 1.
func SyncTransporterSirets(doc *Document, legs []Leg) {
	doc.CurrentTransporterSiret = ""
	doc.NextTransporterSiret = ""
	if current := CurrentLeg(legs); current != nil {
		doc.CurrentTransporterSiret = current.Company.Siret
	}
	if next := NextLeg(legs); next != nil {
		doc.NextTransporterSiret = next.Company.Siret
	}
	if first := FirstLeg(legs); first != nil && first.Signature != nil {
		doc.Signatures.Transport = cloneSignature(first.Signature)
	} else {
		doc.Signatures.Transport = nil
	}
}

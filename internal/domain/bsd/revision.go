package bsd

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type RevisionStatus string

const (
	RevisionPending  RevisionStatus = "PENDING"
	RevisionApproved RevisionStatus = "APPROVED"
	RevisionRefused  RevisionStatus = "REFUSED"
	RevisionCanceled RevisionStatus = "CANCELED"
)

func (s RevisionStatus) Terminal() bool {
	return s != RevisionPending
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalAccepted ApprovalStatus = "ACCEPTED"
	ApprovalRefused  ApprovalStatus = "REFUSED"
	ApprovalCanceled ApprovalStatus = "CANCELED"
)

// RevisionPatch is the correction proposed on a signed document. Nil fields
// are left untouched.
type RevisionPatch struct {
	WasteCode            *string          `json:"wasteCode,omitempty"`
	WasteDescription     *string          `json:"wasteDescription,omitempty"`
	WastePop             *bool            `json:"wastePop,omitempty"`
	Quantity             *decimal.Decimal `json:"quantity,omitempty"`
	QuantityReceived     *decimal.Decimal `json:"quantityReceived,omitempty"`
	OperationCode        *string          `json:"operationCode,omitempty"`
	OperationMode        *string          `json:"operationMode,omitempty"`
	OperationDescription *string          `json:"operationDescription,omitempty"`
	Broker               *Company         `json:"broker,omitempty"`
	Trader               *Company         `json:"trader,omitempty"`
	DestinationCap       *string          `json:"destinationCap,omitempty"`
	PickupSite           *string          `json:"pickupSite,omitempty"`
	IsCanceled           *bool            `json:"isCanceled,omitempty"`
}

func (p RevisionPatch) Empty() bool {
	return p.WasteCode == nil && p.WasteDescription == nil && p.WastePop == nil &&
		p.Quantity == nil && p.QuantityReceived == nil && p.OperationCode == nil &&
		p.OperationMode == nil && p.OperationDescription == nil && p.Broker == nil &&
		p.Trader == nil && p.DestinationCap == nil && p.PickupSite == nil && p.IsCanceled == nil
}

// Validate checks the patch content against the target document.
func (p RevisionPatch) Validate(doc Document) error {
	if p.Empty() {
		return Validation("a revision request must change at least one field")
	}
	if p.IsCanceled != nil && *p.IsCanceled {
		rules, err := RulesFor(doc.Family)
		if err != nil {
			return err
		}
		if !rules.Cancelable {
			return Validation("%s documents cannot be canceled", doc.Family)
		}
		if !p.onlyCancels() {
			return Validation("a cancellation request cannot change other fields")
		}
		if doc.Signatures.Operation != nil {
			return Forbidden("a processed document cannot be canceled")
		}
	}
	if p.OperationCode != nil {
		if !ValidOperationCode(*p.OperationCode) {
			return Validation("unknown operation code %q", *p.OperationCode)
		}
		if doc.Signatures.Operation == nil {
			return Validation("the operation code can only be revised once the operation is signed")
		}
	}
	if p.Quantity != nil && !p.Quantity.IsPositive() {
		return Validation("waste quantity must be greater than 0")
	}
	if p.QuantityReceived != nil {
		if doc.Signatures.Reception == nil && doc.Reception.AcceptationStatus == "" {
			return Validation("the received quantity can only be revised once the waste is received")
		}
		reception := doc.Reception
		reception.QuantityReceived = *p.QuantityReceived
		if err := ValidateReception(reception); err != nil {
			return err
		}
	}
	if p.PickupSite != nil {
		if _, ok := doc.Details.(*BsdasriDetails); !ok {
			return Validation("pickup site can only be revised on %s documents", FamilyBSDASRI)
		}
	}
	if p.DestinationCap != nil {
		switch doc.Details.(type) {
		case *BsdaDetails, *BsddDetails:
		default:
			return Validation("destination CAP cannot be revised on %s documents", doc.Family)
		}
	}
	return nil
}

func (p RevisionPatch) onlyCancels() bool {
	other := p
	other.IsCanceled = nil
	return other.Empty()
}

// Apply copies every non-nil field of the patch onto doc.
func (p RevisionPatch) Apply(doc *Document) {
	if p.WasteCode != nil {
		doc.Waste.Code = *p.WasteCode
	}
	if p.WasteDescription != nil {
		doc.Waste.Description = *p.WasteDescription
	}
	if p.WastePop != nil {
		doc.Waste.Pop = *p.WastePop
	}
	if p.Quantity != nil {
		doc.Waste.Quantity = *p.Quantity
	}
	if p.QuantityReceived != nil {
		doc.Reception.QuantityReceived = *p.QuantityReceived
	}
	if p.OperationCode != nil {
		doc.Operation.Code = NormalizeOperationCode(*p.OperationCode)
	}
	if p.OperationMode != nil {
		doc.Operation.Mode = *p.OperationMode
	}
	if p.OperationDescription != nil {
		doc.Operation.Description = *p.OperationDescription
	}
	if p.Broker != nil {
		doc.Broker = *p.Broker
	}
	if p.Trader != nil {
		doc.Trader = *p.Trader
	}
	if p.DestinationCap != nil {
		switch d := doc.Details.(type) {
		case *BsdaDetails:
			if d.DestinationNextSiret != "" {
				d.DestinationNextCap = *p.DestinationCap
			} else {
				d.DestinationCap = *p.DestinationCap
			}
		case *BsddDetails:
			d.RecipientCap = *p.DestinationCap
		}
	}
	if p.PickupSite != nil {
		if d, ok := doc.Details.(*BsdasriDetails); ok {
			d.EmitterPickupSite = *p.PickupSite
		}
	}
	if p.IsCanceled != nil {
		doc.IsCanceled = *p.IsCanceled
	}
}

type RevisionApproval struct {
	ID                string         `json:"id"`
	RevisionRequestID string         `json:"revisionRequestId"`
	ApproverSiret     string         `json:"approverSiret"`
	Status            ApprovalStatus `json:"status"`
	Comment           string         `json:"comment,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

type RevisionRequest struct {
	ID             string             `json:"id"`
	DocumentID     string             `json:"documentId"`
	Family         Family             `json:"family"`
	AuthoringSiret string             `json:"authoringSiret"`
	Patch          RevisionPatch      `json:"patch"`
	Comment        string             `json:"comment,omitempty"`
	Status         RevisionStatus     `json:"status"`
	Approvals      []RevisionApproval `json:"approvals"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

func (r RevisionRequest) PendingApprovals() int {
	n := 0
	for _, a := range r.Approvals {
		if a.Status == ApprovalPending {
			n++
		}
	}
	return n
}

func (r RevisionRequest) Clone() RevisionRequest {
	out := r
	out.Approvals = make([]RevisionApproval, len(r.Approvals))
	copy(out.Approvals, r.Approvals)
	return out
}

// RevisionApprovers returns the parties that must approve a revision authored
// by authoringSiret: every party of the document except the author, empty
// identifiers and a private individual emitter.
func RevisionApprovers(doc Document, authoringSiret string) []string {
	author := strings.TrimSpace(authoringSiret)
	candidates := []string{doc.EcoOrganisme.Siret, doc.Worker.Siret, doc.Destination.Siret, doc.Broker.Siret, doc.Trader.Siret}
	if !doc.EmitterIsPrivateIndividual {
		candidates = append(candidates, doc.Emitter.Siret)
	}
	out := make([]string, 0, len(candidates))
	for _, siret := range uniqueSorted(candidates) {
		if siret == author {
			continue
		}
		out = append(out, siret)
	}
	return out
}

// CanRequestRevision reports whether a revision can target doc in its
// current state.
func CanRequestRevision(doc Document, rules FamilyRules) error {
	if doc.IsDeleted {
		return NotFound("document", doc.ID)
	}
	if doc.IsDraft || doc.Status == rules.DraftStatus || doc.Status == rules.InitialStatus {
		return Forbidden("the document is not signed yet, modify it directly")
	}
	switch doc.Status {
	case StatusRefused:
		return Forbidden("a refused document cannot be revised")
	case StatusCanceled:
		return Forbidden("a canceled document cannot be revised")
	}
	return nil
}

// MirroredApprover returns the party whose approval is implied by the
// approval of siret: the emitter and its eco-organisme answer for each other.
func MirroredApprover(doc Document, siret string) string {
	if doc.Emitter.Siret == "" || doc.EcoOrganisme.Siret == "" {
		return ""
	}
	switch siret {
	case doc.Emitter.Siret:
		return doc.EcoOrganisme.Siret
	case doc.EcoOrganisme.Siret:
		return doc.Emitter.Siret
	}
	return ""
}

package bsd

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Company identifies one party of a document.
type Company struct {
	Siret   string `json:"siret,omitempty"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Contact string `json:"contact,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Mail    string `json:"mail,omitempty"`
}

func (c Company) IsZero() bool {
	return c == Company{}
}

// MissingContactFields lists the contact fields a signing party must fill.
func (c Company) MissingContactFields(prefix string) []string {
	var missing []string
	if strings.TrimSpace(c.Siret) == "" {
		missing = append(missing, prefix+".siret")
	}
	if strings.TrimSpace(c.Name) == "" {
		missing = append(missing, prefix+".name")
	}
	if strings.TrimSpace(c.Contact) == "" {
		missing = append(missing, prefix+".contact")
	}
	return missing
}

type Waste struct {
	Code          string          `json:"code,omitempty"`
	Description   string          `json:"description,omitempty"`
	PhysicalState string          `json:"physicalState,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	Pop           bool            `json:"pop,omitempty"`
}

type AcceptationStatus string

const (
	AcceptationAccepted         AcceptationStatus = "ACCEPTED"
	AcceptationRefused          AcceptationStatus = "REFUSED"
	AcceptationPartiallyRefused AcceptationStatus = "PARTIALLY_REFUSED"
)

func ParseAcceptationStatus(value string) (AcceptationStatus, error) {
	switch AcceptationStatus(strings.ToUpper(strings.TrimSpace(value))) {
	case "":
		return "", nil
	case AcceptationAccepted:
		return AcceptationAccepted, nil
	case AcceptationRefused:
		return AcceptationRefused, nil
	case AcceptationPartiallyRefused:
		return AcceptationPartiallyRefused, nil
	}
	return "", Validation("unknown acceptation status %q", value)
}

type Reception struct {
	AcceptationStatus AcceptationStatus `json:"acceptationStatus,omitempty"`
	QuantityReceived  decimal.Decimal   `json:"quantityReceived"`
	QuantityRefused   decimal.Decimal   `json:"quantityRefused"`
	RefusalReason     string            `json:"refusalReason,omitempty"`
	Date              *time.Time        `json:"date,omitempty"`
}

type Operation struct {
	Code           string     `json:"code,omitempty"`
	Mode           string     `json:"mode,omitempty"`
	Description    string     `json:"description,omitempty"`
	Date           *time.Time `json:"date,omitempty"`
	NoTraceability bool       `json:"noTraceability,omitempty"`
	// FinalizedByID is the downstream document whose final operation
	// completed this document's intermediate operation.
	FinalizedByID string `json:"finalizedById,omitempty"`
}

func (o Operation) IsFinal() bool {
	return IsFinalOperationCode(o.Code)
}

// Document is one waste-tracking form. Mutations go through the usecase
// services so status, leg numbering and events stay consistent.
type Document struct {
	ID         string `json:"id"`
	Family     Family `json:"family"`
	Status     Status `json:"status"`
	IsDraft    bool   `json:"isDraft"`
	IsDeleted  bool   `json:"isDeleted"`
	IsCanceled bool   `json:"isCanceled"`

	Emitter                    Company `json:"emitter"`
	EmitterIsPrivateIndividual bool    `json:"emitterIsPrivateIndividual,omitempty"`
	EcoOrganisme               Company `json:"ecoOrganisme"`
	Worker                     Company `json:"worker"`
	Destination                Company `json:"destination"`
	Broker                     Company `json:"broker"`
	Trader                     Company `json:"trader"`

	Waste      Waste     `json:"waste"`
	Signatures Ledger    `json:"signatures"`
	Reception  Reception `json:"reception"`
	Operation  Operation `json:"operation"`

	CanAccessDraftOrgIDs    []string `json:"canAccessDraftOrgIds,omitempty"`
	CurrentTransporterSiret string   `json:"currentTransporterSiret,omitempty"`
	NextTransporterSiret    string   `json:"nextTransporterSiret,omitempty"`

	GroupedInID         string   `json:"groupedInId,omitempty"`
	SynthesizedInID     string   `json:"synthesizedInId,omitempty"`
	ForwardingID        string   `json:"forwardingId,omitempty"`
	OriginEmitterSirets []string `json:"originEmitterSirets,omitempty"`

	Details Details `json:"details,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"-"`
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := d
	out.Signatures = d.Signatures.Clone()
	out.CanAccessDraftOrgIDs = cloneStrings(d.CanAccessDraftOrgIDs)
	out.OriginEmitterSirets = cloneStrings(d.OriginEmitterSirets)
	out.Reception.Date = cloneTime(d.Reception.Date)
	out.Operation.Date = cloneTime(d.Operation.Date)
	out.Details = cloneDetails(d.Details)
	return out
}

// PartySirets returns every non-empty company identifier referenced by the
// document, transporters excluded.
func (d Document) PartySirets() []string {
	return uniqueSorted([]string{
		d.Emitter.Siret,
		d.EcoOrganisme.Siret,
		d.Worker.Siret,
		d.Destination.Siret,
		d.Broker.Siret,
		d.Trader.Siret,
	})
}

// DraftAccessOrgIDs is the organization list allowed to read a draft.
func (d Document) DraftAccessOrgIDs(legs []Leg) []string {
	values := d.PartySirets()
	for _, leg := range legs {
		values = append(values, leg.Company.Siret)
	}
	return uniqueSorted(values)
}

// HasAnySignature reports whether at least one stage is signed.
func (d Document) HasAnySignature() bool {
	return !d.Signatures.Empty()
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// UniqueSorted trims, deduplicates and sorts values, dropping empties.
func UniqueSorted(values []string) []string {
	return uniqueSorted(values)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

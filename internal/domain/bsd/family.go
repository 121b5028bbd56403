package bsd

import "strings"

type Family string

const (
	FamilyBSDD    Family = "BSDD"
	FamilyBSDA    Family = "BSDA"
	FamilyBSDASRI Family = "BSDASRI"
	FamilyBSVHU   Family = "BSVHU"
	FamilyBSFF    Family = "BSFF"
)

var families = []Family{FamilyBSDD, FamilyBSDA, FamilyBSDASRI, FamilyBSVHU, FamilyBSFF}

func Families() []Family {
	out := make([]Family, len(families))
	copy(out, families)
	return out
}

func ParseFamily(value string) (Family, error) {
	candidate := Family(strings.ToUpper(strings.TrimSpace(value)))
	for _, f := range families {
		if f == candidate {
			return f, nil
		}
	}
	return "", Validation("unknown document family %q", value)
}

// EventPrefix is the family prefix used on event type tags, e.g. "Bsda".
func (f Family) EventPrefix() string {
	s := string(f)
	if s == "" {
		return ""
	}
	return s[:1] + strings.ToLower(s[1:])
}

type Status string

const (
	StatusDraft                   Status = "DRAFT"
	StatusSealed                  Status = "SEALED"
	StatusInitial                 Status = "INITIAL"
	StatusSignedByProducer        Status = "SIGNED_BY_PRODUCER"
	StatusSignedByEmitter         Status = "SIGNED_BY_EMITTER"
	StatusSignedByWorker          Status = "SIGNED_BY_WORKER"
	StatusSent                    Status = "SENT"
	StatusReceived                Status = "RECEIVED"
	StatusAccepted                Status = "ACCEPTED"
	StatusPartiallyRefused        Status = "PARTIALLY_REFUSED"
	StatusProcessed               Status = "PROCESSED"
	StatusAwaitingGroup           Status = "AWAITING_GROUP"
	StatusAwaitingChild           Status = "AWAITING_CHILD"
	StatusIntermediatelyProcessed Status = "INTERMEDIATELY_PROCESSED"
	StatusNoTraceability          Status = "NO_TRACEABILITY"
	StatusRefused                 Status = "REFUSED"
	StatusCanceled                Status = "CANCELED"
)

type Stage string

const (
	StageEmission  Stage = "EMISSION"
	StageWork      Stage = "WORK"
	StageTransport Stage = "TRANSPORT"
	StageReception Stage = "RECEPTION"
	StageOperation Stage = "OPERATION"
)

func ParseStage(value string) (Stage, error) {
	switch Stage(strings.ToUpper(strings.TrimSpace(value))) {
	case StageEmission:
		return StageEmission, nil
	case StageWork:
		return StageWork, nil
	case StageTransport:
		return StageTransport, nil
	case StageReception:
		return StageReception, nil
	case StageOperation:
		return StageOperation, nil
	}
	return "", Validation("unknown signature stage %q", value)
}

// StageRule binds one lifecycle stage to the status it yields once signed.
// Skip reports whether the stage does not apply to a given document.
type StageRule struct {
	Stage  Stage
	Status Status
	Skip   func(doc *Document) bool
}

// FamilyRules is the per-family table consumed by ComputeStatus.
type FamilyRules struct {
	Family          Family
	DraftStatus     Status
	InitialStatus   Status
	Stages          []StageRule
	AcceptanceStage Stage
	// ReceivedStatus is used on the acceptance stage when no acceptation
	// status was recorded; empty means the stage rule status applies.
	ReceivedStatus Status
	// PartialStatus overrides the acceptance stage status on a partial
	// refusal; empty means the stage rule status applies.
	PartialStatus      Status
	IntermediateStatus Status
	NoTraceability     Status
	Cancelable         bool
	TracksPackagings   bool
}

// ActiveStages returns the stage rules applying to doc, in lifecycle order.
func (r FamilyRules) ActiveStages(doc *Document) []StageRule {
	out := make([]StageRule, 0, len(r.Stages))
	for _, rule := range r.Stages {
		if rule.Skip != nil && rule.Skip(doc) {
			continue
		}
		out = append(out, rule)
	}
	return out
}

func (r FamilyRules) HasStage(doc *Document, stage Stage) bool {
	for _, rule := range r.ActiveStages(doc) {
		if rule.Stage == stage {
			return true
		}
	}
	return false
}

// AwaitsAcceptance reports whether doc was received without an acceptation
// status on a family that records the acceptance after the reception.
// Later stages stay closed until the acceptance is recorded.
func (r FamilyRules) AwaitsAcceptance(doc *Document) bool {
	return r.ReceivedStatus != "" &&
		doc.Signatures.Signed(r.AcceptanceStage) &&
		doc.Reception.AcceptationStatus == ""
}

func RulesFor(family Family) (FamilyRules, error) {
	switch family {
	case FamilyBSDD:
		return bsddRules, nil
	case FamilyBSDA:
		return bsdaRules, nil
	case FamilyBSDASRI:
		return bsdasriRules, nil
	case FamilyBSVHU:
		return bsvhuRules, nil
	case FamilyBSFF:
		return bsffRules, nil
	}
	return FamilyRules{}, Validation("unknown document family %q", family)
}

var bsddRules = FamilyRules{
	Family:        FamilyBSDD,
	DraftStatus:   StatusDraft,
	InitialStatus: StatusSealed,
	Stages: []StageRule{
		{Stage: StageEmission, Status: StatusSignedByProducer},
		{Stage: StageTransport, Status: StatusSent},
		{Stage: StageReception, Status: StatusAccepted},
		{Stage: StageOperation, Status: StatusProcessed},
	},
	AcceptanceStage:    StageReception,
	ReceivedStatus:     StatusReceived,
	IntermediateStatus: StatusAwaitingGroup,
	NoTraceability:     StatusNoTraceability,
	Cancelable:         true,
}

var bsdaRules = FamilyRules{
	Family:        FamilyBSDA,
	DraftStatus:   StatusInitial,
	InitialStatus: StatusInitial,
	Stages: []StageRule{
		{Stage: StageEmission, Status: StatusSignedByProducer},
		{Stage: StageWork, Status: StatusSignedByWorker, Skip: bsdaSkipsWork},
		{Stage: StageTransport, Status: StatusSent, Skip: bsdaSkipsTransport},
		{Stage: StageOperation, Status: StatusProcessed},
	},
	AcceptanceStage:    StageOperation,
	IntermediateStatus: StatusAwaitingChild,
	Cancelable:         true,
}

var bsdasriRules = FamilyRules{
	Family:        FamilyBSDASRI,
	DraftStatus:   StatusInitial,
	InitialStatus: StatusInitial,
	Stages: []StageRule{
		{Stage: StageEmission, Status: StatusSignedByProducer},
		{Stage: StageTransport, Status: StatusSent},
		{Stage: StageReception, Status: StatusReceived},
		{Stage: StageOperation, Status: StatusProcessed},
	},
	AcceptanceStage:    StageReception,
	IntermediateStatus: StatusProcessed,
	Cancelable:         true,
}

var bsvhuRules = FamilyRules{
	Family:        FamilyBSVHU,
	DraftStatus:   StatusInitial,
	InitialStatus: StatusInitial,
	Stages: []StageRule{
		{Stage: StageEmission, Status: StatusSignedByProducer},
		{Stage: StageTransport, Status: StatusSent},
		{Stage: StageReception, Status: StatusReceived},
		{Stage: StageOperation, Status: StatusProcessed},
	},
	AcceptanceStage:    StageReception,
	IntermediateStatus: StatusProcessed,
	Cancelable:         true,
}

var bsffRules = FamilyRules{
	Family:        FamilyBSFF,
	DraftStatus:   StatusInitial,
	InitialStatus: StatusInitial,
	Stages: []StageRule{
		{Stage: StageEmission, Status: StatusSignedByEmitter},
		{Stage: StageTransport, Status: StatusSent},
		{Stage: StageReception, Status: StatusAccepted},
		{Stage: StageOperation, Status: StatusProcessed},
	},
	AcceptanceStage:    StageReception,
	ReceivedStatus:     StatusReceived,
	PartialStatus:      StatusPartiallyRefused,
	IntermediateStatus: StatusIntermediatelyProcessed,
	TracksPackagings:   true,
}

func bsdaSkipsWork(doc *Document) bool {
	details, ok := doc.Details.(*BsdaDetails)
	if !ok || details == nil {
		return false
	}
	return details.WorkerIsDisabled || details.Type == BsdaTypeCollection2710
}

func bsdaSkipsTransport(doc *Document) bool {
	details, ok := doc.Details.(*BsdaDetails)
	if !ok || details == nil {
		return false
	}
	return details.Type == BsdaTypeCollection2710
}

package bsd

import (
	"strings"
)

// ValidateForStage checks the fields the signer of stage must have filled.
func ValidateForStage(doc Document, stage Stage) error {
	var missing []string
	switch stage {
	case StageEmission:
		if doc.EmitterIsPrivateIndividual {
			if strings.TrimSpace(doc.Emitter.Name) == "" {
				missing = append(missing, "emitter.name")
			}
		} else {
			missing = append(missing, doc.Emitter.MissingContactFields("emitter")...)
		}
		if strings.TrimSpace(doc.Destination.Siret) == "" {
			missing = append(missing, "destination.siret")
		}
		if strings.TrimSpace(doc.Waste.Code) == "" {
			missing = append(missing, "waste.code")
		}
	case StageWork:
		missing = append(missing, doc.Worker.MissingContactFields("worker")...)
	case StageReception:
		missing = append(missing, doc.Destination.MissingContactFields("destination")...)
	case StageOperation:
		missing = append(missing, doc.Destination.MissingContactFields("destination")...)
		if strings.TrimSpace(doc.Operation.Code) == "" {
			missing = append(missing, "operation.code")
		}
	}
	if len(missing) > 0 {
		return Validation("missing required fields for %s: %s", strings.ToLower(string(stage)), strings.Join(missing, ", "))
	}
	if stage == StageOperation && !ValidOperationCode(doc.Operation.Code) {
		return Validation("unknown operation code %q", doc.Operation.Code)
	}
	return nil
}

// Field groups locked by a stage signature.
const (
	FieldEmitter      = "emitter"
	FieldEcoOrganisme = "ecoOrganisme"
	FieldWaste        = "waste"
	FieldWorker       = "worker"
	FieldDestination  = "destination"
	FieldBroker       = "broker"
	FieldTrader       = "trader"
	FieldDetails      = "details"
	FieldReception    = "reception"
	FieldOperation    = "operation"
)

var sealedBy = map[string]Stage{
	FieldEmitter:      StageEmission,
	FieldEcoOrganisme: StageEmission,
	FieldWaste:        StageEmission,
	FieldDetails:      StageEmission,
	FieldWorker:       StageWork,
	FieldBroker:       StageTransport,
	FieldTrader:       StageTransport,
	FieldDestination:  StageReception,
	FieldReception:    StageReception,
	FieldOperation:    StageOperation,
}

// SealedFieldsIn returns the fields of changed that a present signature
// locks. Without a work stage the worker is sealed by the emission; without a
// reception stage the destination is sealed by the operation. A reception
// still awaiting its acceptance stays open.
func SealedFieldsIn(doc Document, rules FamilyRules, changed []string) []string {
	var sealed []string
	for _, field := range changed {
		stage, ok := sealedBy[field]
		if !ok {
			continue
		}
		if field == FieldReception && rules.AwaitsAcceptance(&doc) {
			continue
		}
		if field == FieldWorker && !rules.HasStage(&doc, StageWork) {
			stage = StageEmission
		}
		if (field == FieldDestination || field == FieldReception) && !rules.HasStage(&doc, StageReception) {
			stage = StageOperation
		}
		if doc.Signatures.Signed(stage) {
			sealed = append(sealed, field)
		}
	}
	return sealed
}

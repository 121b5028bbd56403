package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bordereau/internal/domain/bsd"
)

// DocumentService runs the document lifecycle: creation, edition, deletion
// and stage signatures.
type DocumentService struct {
	Runner  *TxRunner
	Policy  SignaturePolicy
	Logger  logrus.FieldLogger
	Metrics Metrics
	Clock   Clock
}

func NewDocumentService(runner *TxRunner, policy SignaturePolicy, logger logrus.FieldLogger, metrics Metrics) *DocumentService {
	return &DocumentService{
		Runner:  runner,
		Policy:  policy,
		Logger:  logger,
		Metrics: metrics,
		Clock:   time.Now,
	}
}

type CreateInput struct {
	Family                     bsd.Family
	IsDraft                    bool
	Emitter                    bsd.Company
	EmitterIsPrivateIndividual bool
	EcoOrganisme               bsd.Company
	Worker                     bsd.Company
	Destination                bsd.Company
	Broker                     bsd.Company
	Trader                     bsd.Company
	Waste                      bsd.Waste
	Details                    bsd.Details
	// Transporters are numbered by their position, starting at 1.
	Transporters []bsd.Leg
	Packagings   []bsd.Packaging
	Actor        Actor
}

// UpdateInput is a partial patch; nil fields are left untouched.
type UpdateInput struct {
	ID                         string
	Emitter                    *bsd.Company
	EmitterIsPrivateIndividual *bool
	EcoOrganisme               *bsd.Company
	Worker                     *bsd.Company
	Destination                *bsd.Company
	Broker                     *bsd.Company
	Trader                     *bsd.Company
	Waste                      *bsd.Waste
	Details                    bsd.Details
	Reception                  *bsd.Reception
	Operation                  *bsd.Operation
	Actor                      Actor
}

type SignInput struct {
	DocumentID string
	Stage      bsd.Stage
	// Author defaults to the actor id.
	Author string
	// Date defaults to the service clock.
	Date *time.Time
	// Reception is recorded with the acceptance stage signature.
	Reception *bsd.Reception
	// Operation is recorded with the operation signature.
	Operation *bsd.Operation
	// Plates and TakenOverAt complete the signing leg on transport.
	Plates      []string
	TakenOverAt *time.Time
	Actor       Actor
}

func (s *DocumentService) Create(ctx context.Context, input CreateInput) (bsd.Document, error) {
	return runTx(ctx, s.Runner, func(tx Tx) (bsd.Document, []Effect, error) {
		return s.CreateTx(ctx, tx, input)
	})
}

func (s *DocumentService) CreateTx(ctx context.Context, tx Tx, input CreateInput) (bsd.Document, []Effect, error) {
	family, err := bsd.ParseFamily(string(input.Family))
	if err != nil {
		return bsd.Document{}, nil, err
	}
	rules, err := bsd.RulesFor(family)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	details := input.Details
	if details == nil {
		if details, err = bsd.NewDetails(family); err != nil {
			return bsd.Document{}, nil, err
		}
	} else if details.Family() != family {
		return bsd.Document{}, nil, bsd.Validation("%s details cannot be used on a %s document", details.Family(), family)
	}
	if err := validateWaste(input.Waste); err != nil {
		return bsd.Document{}, nil, err
	}
	if len(input.Packagings) > 0 && !rules.TracksPackagings {
		return bsd.Document{}, nil, bsd.Validation("%s documents do not track packagings", family)
	}

	now := s.Clock.now()
	doc := bsd.Document{
		ID:                         uuid.NewString(),
		Family:                     family,
		IsDraft:                    input.IsDraft,
		Emitter:                    input.Emitter,
		EmitterIsPrivateIndividual: input.EmitterIsPrivateIndividual,
		EcoOrganisme:               input.EcoOrganisme,
		Worker:                     input.Worker,
		Destination:                input.Destination,
		Broker:                     input.Broker,
		Trader:                     input.Trader,
		Waste:                      input.Waste,
		Details:                    details,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
	legs, err := bsd.NumberLegs(doc.ID, input.Transporters)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	for i := range legs {
		legs[i].ID = uuid.NewString()
		legs[i].Signature = nil
		legs[i].CreatedAt = now
		legs[i].UpdatedAt = now
	}
	if err := requireMember(input.Actor, doc.DraftAccessOrgIDs(legs), "create it"); err != nil {
		return bsd.Document{}, nil, err
	}
	bsd.SyncTransporterSirets(&doc, legs)
	if doc.IsDraft {
		doc.CanAccessDraftOrgIDs = doc.DraftAccessOrgIDs(legs)
	}
	if doc.Status, err = bsd.ComputeStatus(doc, rules); err != nil {
		return bsd.Document{}, nil, err
	}

	created, err := tx.Documents().Insert(ctx, doc)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	for _, leg := range legs {
		if _, err := tx.Transporters().Insert(ctx, leg); err != nil {
			return bsd.Document{}, nil, err
		}
	}
	for _, p := range input.Packagings {
		if p.Weight.IsNegative() || p.Volume.IsNegative() {
			return bsd.Document{}, nil, bsd.Validation("packaging weight and volume cannot be negative")
		}
		p.ID = uuid.NewString()
		p.DocumentID = created.ID
		p.NextPackagingID = ""
		p.CreatedAt = now
		if _, err := tx.Packagings().Insert(ctx, p); err != nil {
			return bsd.Document{}, nil, err
		}
	}
	payload, err := documentPayload(created)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	if err := appendEvent(ctx, tx, documentEvent(created, bsd.EventCreated, input.Actor, payload)); err != nil {
		return bsd.Document{}, nil, err
	}
	return created, []Effect{effectFor(EffectCreated, created)}, nil
}

func (s *DocumentService) Update(ctx context.Context, input UpdateInput) (bsd.Document, error) {
	return runTx(ctx, s.Runner, func(tx Tx) (bsd.Document, []Effect, error) {
		return s.UpdateTx(ctx, tx, input)
	})
}

func (s *DocumentService) UpdateTx(ctx context.Context, tx Tx, input UpdateInput) (bsd.Document, []Effect, error) {
	doc, rules, err := loadDocument(ctx, tx, input.ID)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	legs, err := tx.Transporters().ListByDocument(ctx, doc.ID)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	if err := requireMember(input.Actor, documentMembers(doc, legs), "update it"); err != nil {
		return bsd.Document{}, nil, err
	}
	if doc.IsCanceled {
		return bsd.Document{}, nil, bsd.Forbidden("a canceled document cannot be updated")
	}

	after := doc.Clone()
	changed, err := applyUpdate(&after, input)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	if len(changed) == 0 {
		return doc, nil, nil
	}
	if sealed := bsd.SealedFieldsIn(doc, rules, changed); len(sealed) > 0 {
		return bsd.Document{}, nil, bsd.SealedFields(sealed)
	}
	if after.IsDraft {
		after.CanAccessDraftOrgIDs = after.DraftAccessOrgIDs(legs)
	}
	now := s.Clock.now()
	var effects []Effect
	if rules.AwaitsAcceptance(&doc) && slices.Contains(changed, bsd.FieldReception) {
		if effects, err = recordAcceptance(ctx, tx, doc, &after, rules, input.Actor, now); err != nil {
			return bsd.Document{}, nil, err
		}
	}
	saved, effect, err := saveDocument(ctx, tx, doc, after, input.Actor, now, nil)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	return saved, append(effects, effect), nil
}

// recordAcceptance completes a reception signed without an acceptation
// status. Only the destination may record it, and a refusal releases the
// documents the refused one aggregated.
func recordAcceptance(ctx context.Context, tx Tx, doc bsd.Document, after *bsd.Document, rules bsd.FamilyRules, actor Actor, now time.Time) ([]Effect, error) {
	if err := requireMember(actor, bsd.AuthorizedSirets(doc, rules.AcceptanceStage, nil), "record the acceptance"); err != nil {
		return nil, err
	}
	if err := bsd.ValidateReception(after.Reception); err != nil {
		return nil, err
	}
	if after.Reception.AcceptationStatus != bsd.AcceptationRefused {
		return nil, nil
	}
	effects, err := releaseSources(ctx, tx, *after, actor, now)
	if err != nil {
		return nil, err
	}
	after.ForwardingID = ""
	after.OriginEmitterSirets = nil
	return effects, nil
}

// applyUpdate copies the set fields of input onto doc and returns the field
// groups whose value changed.
func applyUpdate(doc *bsd.Document, input UpdateInput) ([]string, error) {
	var changed []string
	company := func(field string, target *bsd.Company, value *bsd.Company) {
		if value != nil && *target != *value {
			*target = *value
			changed = append(changed, field)
		}
	}
	company(bsd.FieldEmitter, &doc.Emitter, input.Emitter)
	company(bsd.FieldEcoOrganisme, &doc.EcoOrganisme, input.EcoOrganisme)
	company(bsd.FieldWorker, &doc.Worker, input.Worker)
	company(bsd.FieldDestination, &doc.Destination, input.Destination)
	company(bsd.FieldBroker, &doc.Broker, input.Broker)
	company(bsd.FieldTrader, &doc.Trader, input.Trader)
	if v := input.EmitterIsPrivateIndividual; v != nil && *v != doc.EmitterIsPrivateIndividual {
		doc.EmitterIsPrivateIndividual = *v
		changed = append(changed, bsd.FieldEmitter)
	}
	if input.Waste != nil {
		if err := validateWaste(*input.Waste); err != nil {
			return nil, err
		}
		if !sameJSON(doc.Waste, *input.Waste) {
			doc.Waste = *input.Waste
			changed = append(changed, bsd.FieldWaste)
		}
	}
	if input.Details != nil {
		if input.Details.Family() != doc.Family {
			return nil, bsd.Validation("%s details cannot be used on a %s document", input.Details.Family(), doc.Family)
		}
		if !sameJSON(doc.Details, input.Details) {
			doc.Details = input.Details
			changed = append(changed, bsd.FieldDetails)
		}
	}
	if input.Reception != nil && !sameJSON(doc.Reception, *input.Reception) {
		if _, err := bsd.ParseAcceptationStatus(string(input.Reception.AcceptationStatus)); err != nil {
			return nil, err
		}
		doc.Reception = *input.Reception
		changed = append(changed, bsd.FieldReception)
	}
	if input.Operation != nil {
		operation := *input.Operation
		operation.Code = bsd.NormalizeOperationCode(operation.Code)
		operation.FinalizedByID = doc.Operation.FinalizedByID
		if operation.Code != "" && !bsd.ValidOperationCode(operation.Code) {
			return nil, bsd.Validation("unknown operation code %q", input.Operation.Code)
		}
		if !sameJSON(doc.Operation, operation) {
			doc.Operation = operation
			changed = append(changed, bsd.FieldOperation)
		}
	}
	return bsd.UniqueSorted(changed), nil
}

func validateWaste(w bsd.Waste) error {
	if w.Quantity.IsNegative() {
		return bsd.Validation("waste quantity cannot be negative")
	}
	return nil
}

func sameJSON(a, b any) bool {
	left, errA := json.Marshal(a)
	right, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(left) == string(right)
}

// Delete soft-deletes a document that carries no signature and releases the
// documents it aggregated.
func (s *DocumentService) Delete(ctx context.Context, id string, actor Actor) error {
	_, err := runTx(ctx, s.Runner, func(tx Tx) (struct{}, []Effect, error) {
		effects, err := s.DeleteTx(ctx, tx, id, actor)
		return struct{}{}, effects, err
	})
	return err
}

func (s *DocumentService) DeleteTx(ctx context.Context, tx Tx, id string, actor Actor) ([]Effect, error) {
	doc, _, err := loadDocument(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	legs, err := tx.Transporters().ListByDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if err := requireMember(actor, documentMembers(doc, legs), "delete it"); err != nil {
		return nil, err
	}
	if doc.HasAnySignature() || bsd.CurrentLeg(legs) != nil {
		return nil, bsd.Forbidden("only documents without any signature can be deleted")
	}
	now := s.Clock.now()
	effects, err := releaseSources(ctx, tx, doc, actor, now)
	if err != nil {
		return nil, err
	}
	after := doc.Clone()
	after.IsDeleted = true
	after.ForwardingID = ""
	after.UpdatedAt = now
	saved, err := tx.Documents().Update(ctx, after)
	if err != nil {
		return nil, err
	}
	if err := appendEvent(ctx, tx, documentEvent(saved, bsd.EventDeleted, actor, nil)); err != nil {
		return nil, err
	}
	return append(effects, effectFor(EffectDeleted, saved)), nil
}

func (s *DocumentService) Sign(ctx context.Context, input SignInput) (bsd.Document, error) {
	return runTx(ctx, s.Runner, func(tx Tx) (bsd.Document, []Effect, error) {
		return s.SignTx(ctx, tx, input)
	})
}

func (s *DocumentService) SignTx(ctx context.Context, tx Tx, input SignInput) (bsd.Document, []Effect, error) {
	stage, err := bsd.ParseStage(string(input.Stage))
	if err != nil {
		return bsd.Document{}, nil, err
	}
	doc, rules, err := loadDocument(ctx, tx, input.DocumentID)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	if doc.IsCanceled {
		return bsd.Document{}, nil, bsd.InvalidTransition("a canceled document cannot be signed")
	}
	if !rules.HasStage(&doc, stage) {
		return bsd.Document{}, nil, bsd.InvalidTransition("stage %s does not apply to this %s document", stage, doc.Family)
	}
	if doc.IsDraft && stage != bsd.StageEmission {
		return bsd.Document{}, nil, bsd.InvalidTransition("a draft must be signed by the emitter first")
	}
	legs, err := tx.Transporters().ListByDocument(ctx, doc.ID)
	if err != nil {
		return bsd.Document{}, nil, err
	}

	var next *bsd.Leg
	if stage == bsd.StageTransport {
		if len(legs) == 0 {
			return bsd.Document{}, nil, bsd.Validation("no transporter is attached to this document")
		}
		if next = bsd.NextLeg(legs); next == nil {
			return bsd.Document{}, nil, bsd.AlreadySigned(stage)
		}
		if next.Number > 1 && (doc.Signatures.Reception != nil || doc.Signatures.Operation != nil) {
			return bsd.Document{}, nil, bsd.InvalidTransition("the waste was already received")
		}
	} else if doc.Signatures.Signed(stage) {
		return bsd.Document{}, nil, bsd.AlreadySigned(stage)
	}
	if err := s.authorize(ctx, doc, stage, next, input.Actor); err != nil {
		return bsd.Document{}, nil, err
	}

	after := doc.Clone()
	if stage == rules.AcceptanceStage && input.Reception != nil {
		after.Reception = *input.Reception
	}
	if stage == bsd.StageOperation && input.Operation != nil {
		operation := *input.Operation
		operation.Code = bsd.NormalizeOperationCode(operation.Code)
		operation.FinalizedByID = ""
		after.Operation = operation
	}
	if stage == rules.AcceptanceStage {
		validate := bsd.ValidateReception
		if after.Reception.AcceptationStatus == "" && rules.ReceivedStatus != "" {
			validate = bsd.ValidatePendingReception
		}
		if err := validate(after.Reception); err != nil {
			return bsd.Document{}, nil, err
		}
	}
	if err := bsd.ValidateForStage(after, stage); err != nil {
		return bsd.Document{}, nil, err
	}

	date := s.Clock.now()
	if input.Date != nil {
		date = input.Date.UTC()
	}
	author := strings.TrimSpace(input.Author)
	if author == "" {
		author = input.Actor.ID
	}
	signature := &bsd.Signature{Author: author, Date: date}
	metadata := map[string]any{"stage": string(stage)}

	if stage == bsd.StageTransport {
		leg := next.Clone()
		if input.Plates != nil {
			leg.Plates = input.Plates
		}
		if input.TakenOverAt != nil {
			leg.TakenOverAt = input.TakenOverAt
		}
		if err := leg.ValidateForTransport(); err != nil {
			return bsd.Document{}, nil, err
		}
		leg.Signature = signature
		leg.UpdatedAt = date
		if err := tx.Transporters().Update(ctx, leg); err != nil {
			return bsd.Document{}, nil, err
		}
		for i := range legs {
			if legs[i].ID == leg.ID {
				legs[i] = leg
			}
		}
		bsd.SyncTransporterSirets(&after, legs)
		metadata["transporterId"] = leg.ID
		metadata["transporterNumber"] = leg.Number
	} else {
		after.Signatures.Set(stage, signature)
	}
	if stage == bsd.StageEmission && after.IsDraft {
		after.IsDraft = false
		after.CanAccessDraftOrgIDs = nil
	}

	status, err := bsd.ComputeStatus(after, rules)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	now := s.Clock.now()
	var effects []Effect
	if status == bsd.StatusRefused {
		released, err := releaseSources(ctx, tx, after, input.Actor, now)
		if err != nil {
			return bsd.Document{}, nil, err
		}
		effects = append(effects, released...)
		after.ForwardingID = ""
		after.OriginEmitterSirets = nil
	}
	if stage == bsd.StageOperation {
		if legs, err = pruneUnsignedLegs(ctx, tx, legs); err != nil {
			return bsd.Document{}, nil, err
		}
		bsd.SyncTransporterSirets(&after, legs)
	}

	after.Status = status
	after.UpdatedAt = now
	diff, err := documentDiff(doc, after)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	saved, err := tx.Documents().Update(ctx, after)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	rec := documentEvent(saved, bsd.EventSigned, input.Actor, diff)
	for k, v := range metadata {
		rec.Metadata[k] = v
	}
	if err := appendEvent(ctx, tx, rec); err != nil {
		return bsd.Document{}, nil, err
	}
	effects = append(effects, effectFor(EffectUpdated, saved))

	if stage == bsd.StageOperation && saved.Operation.IsFinal() {
		finalized, err := finalizeSources(ctx, tx, saved, now)
		if err != nil {
			return bsd.Document{}, nil, err
		}
		effects = append(effects, finalized...)
	}

	s.metrics().SignatureRecorded(saved.Family, stage)
	s.logger().WithFields(logrus.Fields{
		"document_id": saved.ID,
		"family":      saved.Family,
		"stage":       stage,
		"status":      saved.Status,
	}).Info("document signed")
	return saved, effects, nil
}

func (s *DocumentService) authorize(ctx context.Context, doc bsd.Document, stage bsd.Stage, next *bsd.Leg, actor Actor) error {
	policy := s.Policy
	if policy == nil {
		policy = OrgSignaturePolicy{}
	}
	allowed, err := policy.AllowSignature(ctx, SignatureRequest{
		DocumentID:      doc.ID,
		Family:          doc.Family,
		Stage:           stage,
		AuthorizedOrgs:  bsd.AuthorizedSirets(doc, stage, next),
		ActorOrgs:       actor.Orgs,
		ActorRoles:      actor.Roles,
		ActorID:         actor.ID,
		DocumentIsDraft: doc.IsDraft,
	})
	if err != nil {
		return err
	}
	if !allowed {
		return bsd.Forbidden("you are not allowed to sign the %s stage of this document", strings.ToLower(string(stage)))
	}
	return nil
}

// pruneUnsignedLegs removes the legs that never signed once the waste is
// processed. Signed legs are always the lowest numbers so the remaining ones
// stay contiguous.
func pruneUnsignedLegs(ctx context.Context, tx Tx, legs []bsd.Leg) ([]bsd.Leg, error) {
	kept := make([]bsd.Leg, 0, len(legs))
	for _, leg := range legs {
		if leg.Signed() {
			kept = append(kept, leg)
			continue
		}
		if err := tx.Transporters().Delete(ctx, leg.ID); err != nil {
			return nil, err
		}
	}
	if err := bsd.ValidateLegs(kept); err != nil {
		return nil, err
	}
	return kept, nil
}

func (s *DocumentService) Get(ctx context.Context, id string) (bsd.Document, error) {
	return readTx(ctx, s.Runner, func(tx Tx) (bsd.Document, error) {
		doc, _, err := loadDocument(ctx, tx, id)
		return doc, err
	})
}

// GetFor returns the document if actor may read it: admins, companies of the
// document and its transporters, or the draft access list of a draft.
func (s *DocumentService) GetFor(ctx context.Context, id string, actor Actor) (bsd.Document, error) {
	return readTx(ctx, s.Runner, func(tx Tx) (bsd.Document, error) {
		doc, _, err := loadDocument(ctx, tx, id)
		if err != nil {
			return bsd.Document{}, err
		}
		legs, err := tx.Transporters().ListByDocument(ctx, id)
		if err != nil {
			return bsd.Document{}, err
		}
		if err := requireMember(actor, documentMembers(doc, legs), "read this document"); err != nil {
			return bsd.Document{}, err
		}
		return doc, nil
	})
}

func (s *DocumentService) List(ctx context.Context, filter FindDocumentsFilter) ([]bsd.Document, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	return readTx(ctx, s.Runner, func(tx Tx) ([]bsd.Document, error) {
		return tx.Documents().List(ctx, filter)
	})
}

// Packagings lists the containers of a document.
func (s *DocumentService) Packagings(ctx context.Context, documentID string) ([]bsd.Packaging, error) {
	return readTx(ctx, s.Runner, func(tx Tx) ([]bsd.Packaging, error) {
		if _, _, err := loadDocument(ctx, tx, documentID); err != nil {
			return nil, err
		}
		return tx.Packagings().ListByDocument(ctx, documentID)
	})
}

func (s *DocumentService) logger() logrus.FieldLogger {
	if s.Logger != nil {
		return s.Logger
	}
	return discardLogger
}

func (s *DocumentService) metrics() Metrics {
	if s.Metrics != nil {
		return s.Metrics
	}
	return NopMetrics{}
}

func isNotFound(err error) bool {
	return errors.Is(err, bsd.ErrNotFound)
}

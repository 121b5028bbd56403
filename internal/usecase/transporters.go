package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"bordereau/internal/domain/bsd"
)

// TransporterService keeps the transporter legs of a document numbered
// 1..n and the denormalized current/next transporter identifiers in sync.
type TransporterService struct {
	Runner *TxRunner
	Clock  Clock
}

func NewTransporterService(runner *TxRunner) *TransporterService {
	return &TransporterService{Runner: runner, Clock: time.Now}
}

type LegInput struct {
	Company       bsd.Company
	Receipt       bsd.TransporterReceipt
	TransportMode string
	Plates        []string
	TakenOverAt   *time.Time
	Actor         Actor
}

type DisconnectInput struct {
	DocumentID string
	LegIDs     []string
	Actor      Actor
}

// CreateTransporter registers a leg that is not attached to any document yet.
func (s *TransporterService) CreateTransporter(ctx context.Context, input LegInput) (bsd.Leg, error) {
	now := s.Clock.now()
	leg := bsd.Leg{
		ID:            uuid.NewString(),
		Company:       input.Company,
		Receipt:       input.Receipt,
		TransportMode: input.TransportMode,
		Plates:        input.Plates,
		TakenOverAt:   input.TakenOverAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if strings.TrimSpace(leg.Company.Siret) == "" {
		return bsd.Leg{}, bsd.Validation("transporter company siret is required")
	}
	if err := bsd.ValidateLegInput(leg); err != nil {
		return bsd.Leg{}, err
	}
	return runTx(ctx, s.Runner, func(tx Tx) (bsd.Leg, []Effect, error) {
		created, err := tx.Transporters().Insert(ctx, leg)
		return created, nil, err
	})
}

// Connect attaches an existing leg to a document and returns its number.
func (s *TransporterService) Connect(ctx context.Context, documentID, legID string, actor Actor) (int, error) {
	return runTx(ctx, s.Runner, func(tx Tx) (int, []Effect, error) {
		return s.ConnectTx(ctx, tx, documentID, legID, actor)
	})
}

func (s *TransporterService) ConnectTx(ctx context.Context, tx Tx, documentID, legID string, actor Actor) (int, []Effect, error) {
	doc, rules, err := loadDocument(ctx, tx, documentID)
	if err != nil {
		return 0, nil, err
	}
	legs, err := tx.Transporters().ListByDocument(ctx, doc.ID)
	if err != nil {
		return 0, nil, err
	}
	if err := requireMember(actor, documentMembers(doc, legs), "change its transporters"); err != nil {
		return 0, nil, err
	}
	if err := ensureLegsEditable(doc, rules); err != nil {
		return 0, nil, err
	}
	leg, err := tx.Transporters().Get(ctx, legID)
	if err != nil {
		return 0, nil, err
	}
	switch leg.DocumentID {
	case "":
	case doc.ID:
		return 0, nil, bsd.Conflict("transporter %s is already connected to this document", leg.ID)
	default:
		return 0, nil, bsd.Conflict("transporter %s is connected to another document", leg.ID)
	}
	if len(legs) >= bsd.MaxTransporters {
		return 0, nil, bsd.Validation("a document can have at most %d transporters", bsd.MaxTransporters)
	}

	now := s.Clock.now()
	leg.DocumentID = doc.ID
	leg.Number = bsd.NextLegNumber(legs)
	leg.Signature = nil
	leg.UpdatedAt = now
	if err := tx.Transporters().Update(ctx, leg); err != nil {
		return 0, nil, err
	}
	legs = append(legs, leg)
	if err := bsd.ValidateLegs(legs); err != nil {
		return 0, nil, err
	}

	after := doc.Clone()
	bsd.SyncTransporterSirets(&after, legs)
	if after.IsDraft {
		after.CanAccessDraftOrgIDs = after.DraftAccessOrgIDs(legs)
	}
	_, effect, err := saveDocument(ctx, tx, doc, after, actor, now, map[string]any{
		"transporterId":     leg.ID,
		"transporterNumber": leg.Number,
		"action":            "connect",
	})
	if err != nil {
		return 0, nil, err
	}
	return leg.Number, []Effect{effect}, nil
}

// Disconnect detaches exactly one unsigned leg and shifts the later legs
// down by one.
func (s *TransporterService) Disconnect(ctx context.Context, input DisconnectInput) error {
	_, err := runTx(ctx, s.Runner, func(tx Tx) (struct{}, []Effect, error) {
		effects, err := s.DisconnectTx(ctx, tx, input)
		return struct{}{}, effects, err
	})
	return err
}

func (s *TransporterService) DisconnectTx(ctx context.Context, tx Tx, input DisconnectInput) ([]Effect, error) {
	switch len(input.LegIDs) {
	case 0:
		return nil, bsd.Validation("a transporter id is required")
	case 1:
	default:
		return nil, bsd.Invariant("only one transporter can be disconnected at a time, got %d", len(input.LegIDs))
	}
	legID := input.LegIDs[0]
	doc, rules, err := loadDocument(ctx, tx, input.DocumentID)
	if err != nil {
		return nil, err
	}
	legs, err := tx.Transporters().ListByDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if err := requireMember(input.Actor, documentMembers(doc, legs), "change its transporters"); err != nil {
		return nil, err
	}
	if err := ensureLegsEditable(doc, rules); err != nil {
		return nil, err
	}
	var target *bsd.Leg
	for i := range legs {
		if legs[i].ID == legID {
			target = &legs[i]
		}
	}
	if target == nil {
		return nil, bsd.NotFound("transporter", legID)
	}
	if target.Signed() {
		return nil, bsd.Forbidden("a transporter that already signed cannot be disconnected")
	}
	remaining, renumbered, err := bsd.RemoveLeg(legs, legID)
	if err != nil {
		return nil, err
	}
	if err := bsd.ValidateLegs(remaining); err != nil {
		return nil, err
	}

	now := s.Clock.now()
	detached := target.Clone()
	detached.DocumentID = ""
	detached.Number = 0
	detached.UpdatedAt = now
	if err := tx.Transporters().Update(ctx, detached); err != nil {
		return nil, err
	}
	for _, leg := range renumbered {
		leg.UpdatedAt = now
		if err := tx.Transporters().Update(ctx, leg); err != nil {
			return nil, err
		}
	}

	after := doc.Clone()
	bsd.SyncTransporterSirets(&after, remaining)
	if after.IsDraft {
		after.CanAccessDraftOrgIDs = after.DraftAccessOrgIDs(remaining)
	}
	_, effect, err := saveDocument(ctx, tx, doc, after, input.Actor, now, map[string]any{
		"transporterId":     legID,
		"transporterNumber": target.Number,
		"action":            "disconnect",
	})
	if err != nil {
		return nil, err
	}
	return []Effect{effect}, nil
}

func ensureLegsEditable(doc bsd.Document, rules bsd.FamilyRules) error {
	switch {
	case doc.IsCanceled:
		return bsd.Forbidden("a canceled document cannot be modified")
	case doc.Signatures.Operation != nil:
		return bsd.Forbidden("transporters cannot change once the operation is signed")
	case doc.Status == bsd.StatusRefused:
		return bsd.Forbidden("transporters cannot change on a refused document")
	case doc.Signatures.Signed(rules.AcceptanceStage):
		return bsd.Forbidden("transporters cannot change once the waste is received")
	}
	return nil
}

// Legs returns the document legs ordered by number.
func (s *TransporterService) Legs(ctx context.Context, documentID string) ([]bsd.Leg, error) {
	return readTx(ctx, s.Runner, func(tx Tx) ([]bsd.Leg, error) {
		if _, _, err := loadDocument(ctx, tx, documentID); err != nil {
			return nil, err
		}
		return tx.Transporters().ListByDocument(ctx, documentID)
	})
}

// CurrentTransporter is the last leg that signed, nil before the first
// transport signature.
func (s *TransporterService) CurrentTransporter(ctx context.Context, documentID string) (*bsd.Leg, error) {
	legs, err := s.Legs(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return bsd.CurrentLeg(legs), nil
}

// NextTransporter is the first leg still expected to sign.
func (s *TransporterService) NextTransporter(ctx context.Context, documentID string) (*bsd.Leg, error) {
	legs, err := s.Legs(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return bsd.NextLeg(legs), nil
}

package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bordereau/internal/domain/bsd"
)

const autoApprovalComment = "Auto approval"

// RevisionService runs the correction requests on signed documents. A
// request is applied once every counter-party accepted it; one refusal
// rejects it.
type RevisionService struct {
	Runner  *TxRunner
	Logger  logrus.FieldLogger
	Metrics Metrics
	Clock   Clock
}

func NewRevisionService(runner *TxRunner, logger logrus.FieldLogger, metrics Metrics) *RevisionService {
	return &RevisionService{Runner: runner, Logger: logger, Metrics: metrics, Clock: time.Now}
}

type CreateRevisionInput struct {
	DocumentID     string
	AuthoringSiret string
	Patch          bsd.RevisionPatch
	Comment        string
	Actor          Actor
}

func (s *RevisionService) Create(ctx context.Context, input CreateRevisionInput) (bsd.RevisionRequest, error) {
	return runTx(ctx, s.Runner, func(tx Tx) (bsd.RevisionRequest, []Effect, error) {
		return s.CreateTx(ctx, tx, input)
	})
}

func (s *RevisionService) CreateTx(ctx context.Context, tx Tx, input CreateRevisionInput) (bsd.RevisionRequest, []Effect, error) {
	doc, rules, err := loadDocument(ctx, tx, input.DocumentID)
	if err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	if err := bsd.CanRequestRevision(doc, rules); err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	author := input.AuthoringSiret
	if !contains(doc.PartySirets(), author) {
		return bsd.RevisionRequest{}, nil, bsd.Forbidden("%q is not a party of this document", author)
	}
	if !input.Actor.IsAdmin() && !input.Actor.BelongsTo(author) {
		return bsd.RevisionRequest{}, nil, bsd.Forbidden("you do not belong to %q", author)
	}
	if err := input.Patch.Validate(doc); err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	if pending, err := tx.Revisions().FindPending(ctx, doc.ID); err == nil {
		return bsd.RevisionRequest{}, nil, bsd.Conflict("revision request %s is still pending on this document", pending.ID)
	} else if !isNotFound(err) {
		return bsd.RevisionRequest{}, nil, err
	}

	now := s.Clock.now()
	mirrored := bsd.MirroredApprover(doc, author)
	req := bsd.RevisionRequest{
		ID:             uuid.NewString(),
		DocumentID:     doc.ID,
		Family:         doc.Family,
		AuthoringSiret: author,
		Patch:          input.Patch,
		Comment:        input.Comment,
		Status:         bsd.RevisionPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, siret := range bsd.RevisionApprovers(doc, author) {
		if siret == mirrored {
			continue
		}
		req.Approvals = append(req.Approvals, bsd.RevisionApproval{
			ID:                uuid.NewString(),
			RevisionRequestID: req.ID,
			ApproverSiret:     siret,
			Status:            bsd.ApprovalPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	created, err := tx.Revisions().Insert(ctx, req)
	if err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	patch, err := patchPayload(created.Patch)
	if err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	approvers := make([]string, 0, len(created.Approvals))
	for _, a := range created.Approvals {
		approvers = append(approvers, a.ApproverSiret)
	}
	if err := appendEvent(ctx, tx, revisionEvent(created, bsd.EventRevisionRequestCreated, input.Actor, map[string]any{
		"documentId":     created.DocumentID,
		"authoringSiret": created.AuthoringSiret,
		"comment":        created.Comment,
		"patch":          patch,
		"approvers":      approvers,
	})); err != nil {
		return bsd.RevisionRequest{}, nil, err
	}

	if len(created.Approvals) == 0 {
		if err := appendEvent(ctx, tx, revisionEvent(created, bsd.EventRevisionRequestAccepted, systemActor, map[string]any{
			"reason": "no approval required",
		})); err != nil {
			return bsd.RevisionRequest{}, nil, err
		}
		return s.apply(ctx, tx, created, doc, input.Actor, now)
	}
	effect, err := touchDocument(ctx, tx, doc, now)
	if err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	return created, []Effect{effect}, nil
}

// Approve accepts one approval and applies the request once none is left
// pending.
func (s *RevisionService) Approve(ctx context.Context, approvalID, comment string, actor Actor) (bsd.RevisionRequest, error) {
	return runTx(ctx, s.Runner, func(tx Tx) (bsd.RevisionRequest, []Effect, error) {
		return s.ApproveTx(ctx, tx, approvalID, comment, actor)
	})
}

func (s *RevisionService) ApproveTx(ctx context.Context, tx Tx, approvalID, comment string, actor Actor) (bsd.RevisionRequest, []Effect, error) {
	req, idx, doc, err := s.loadApproval(ctx, tx, approvalID, actor)
	if err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	now := s.Clock.now()
	approval := &req.Approvals[idx]
	approval.Status = bsd.ApprovalAccepted
	approval.Comment = comment
	approval.UpdatedAt = now
	if err := appendEvent(ctx, tx, revisionEvent(req, bsd.EventRevisionRequestAccepted, actor, approvalPayload(*approval))); err != nil {
		return bsd.RevisionRequest{}, nil, err
	}

	if mirrored := bsd.MirroredApprover(doc, approval.ApproverSiret); mirrored != "" {
		for i := range req.Approvals {
			other := &req.Approvals[i]
			if other.ApproverSiret != mirrored || other.Status != bsd.ApprovalPending {
				continue
			}
			other.Status = bsd.ApprovalAccepted
			other.Comment = autoApprovalComment
			other.UpdatedAt = now
			if err := appendEvent(ctx, tx, revisionEvent(req, bsd.EventRevisionRequestAccepted, systemActor, approvalPayload(*other))); err != nil {
				return bsd.RevisionRequest{}, nil, err
			}
		}
	}

	if req.PendingApprovals() == 0 {
		return s.apply(ctx, tx, req, doc, actor, now)
	}
	req.UpdatedAt = now
	if err := tx.Revisions().Update(ctx, req); err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	effect, err := touchDocument(ctx, tx, doc, now)
	if err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	return req, []Effect{effect}, nil
}

// Refuse rejects the request: the refusing approval vetoes it and every
// other pending approval is canceled.
func (s *RevisionService) Refuse(ctx context.Context, approvalID, comment string, actor Actor) (bsd.RevisionRequest, error) {
	return runTx(ctx, s.Runner, func(tx Tx) (bsd.RevisionRequest, []Effect, error) {
		return s.RefuseTx(ctx, tx, approvalID, comment, actor)
	})
}

func (s *RevisionService) RefuseTx(ctx context.Context, tx Tx, approvalID, comment string, actor Actor) (bsd.RevisionRequest, []Effect, error) {
	req, idx, doc, err := s.loadApproval(ctx, tx, approvalID, actor)
	if err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	now := s.Clock.now()
	for i := range req.Approvals {
		approval := &req.Approvals[i]
		switch {
		case i == idx:
			approval.Status = bsd.ApprovalRefused
			approval.Comment = comment
			approval.UpdatedAt = now
		case approval.Status == bsd.ApprovalPending:
			approval.Status = bsd.ApprovalCanceled
			approval.UpdatedAt = now
		}
	}
	req.Status = bsd.RevisionRefused
	req.UpdatedAt = now
	if err := tx.Revisions().Update(ctx, req); err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	if err := appendEvent(ctx, tx, revisionEvent(req, bsd.EventRevisionRequestRefused, actor, approvalPayload(req.Approvals[idx]))); err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	effect, err := touchDocument(ctx, tx, doc, now)
	if err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	s.resolved(req)
	return req, []Effect{effect}, nil
}

// CancelPending withdraws a pending request. Only its author can do so.
func (s *RevisionService) CancelPending(ctx context.Context, requestID string, actor Actor) (bsd.RevisionRequest, error) {
	return runTx(ctx, s.Runner, func(tx Tx) (bsd.RevisionRequest, []Effect, error) {
		return s.CancelPendingTx(ctx, tx, requestID, actor)
	})
}

func (s *RevisionService) CancelPendingTx(ctx context.Context, tx Tx, requestID string, actor Actor) (bsd.RevisionRequest, []Effect, error) {
	req, err := tx.Revisions().Get(ctx, requestID)
	if err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	if req.Status.Terminal() {
		return bsd.RevisionRequest{}, nil, bsd.Conflict("revision request %s is already %s", req.ID, req.Status)
	}
	if !actor.IsAdmin() && !actor.BelongsTo(req.AuthoringSiret) {
		return bsd.RevisionRequest{}, nil, bsd.Forbidden("only the author of a revision request can cancel it")
	}
	doc, _, err := loadDocument(ctx, tx, req.DocumentID)
	if err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	now := s.Clock.now()
	for i := range req.Approvals {
		if req.Approvals[i].Status == bsd.ApprovalPending {
			req.Approvals[i].Status = bsd.ApprovalCanceled
			req.Approvals[i].UpdatedAt = now
		}
	}
	req.Status = bsd.RevisionCanceled
	req.UpdatedAt = now
	if err := tx.Revisions().Update(ctx, req); err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	if err := appendEvent(ctx, tx, revisionEvent(req, bsd.EventRevisionRequestCanceled, actor, nil)); err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	effect, err := touchDocument(ctx, tx, doc, now)
	if err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	s.resolved(req)
	return req, []Effect{effect}, nil
}

func (s *RevisionService) Get(ctx context.Context, id string) (bsd.RevisionRequest, error) {
	return readTx(ctx, s.Runner, func(tx Tx) (bsd.RevisionRequest, error) {
		return tx.Revisions().Get(ctx, id)
	})
}

func (s *RevisionService) ListForDocument(ctx context.Context, documentID string) ([]bsd.RevisionRequest, error) {
	return readTx(ctx, s.Runner, func(tx Tx) ([]bsd.RevisionRequest, error) {
		if _, _, err := loadDocument(ctx, tx, documentID); err != nil {
			return nil, err
		}
		return tx.Revisions().ListByDocument(ctx, documentID)
	})
}

// loadApproval returns the pending request holding approvalID, the index of
// that approval and the target document.
func (s *RevisionService) loadApproval(ctx context.Context, tx Tx, approvalID string, actor Actor) (bsd.RevisionRequest, int, bsd.Document, error) {
	req, err := tx.Revisions().GetByApproval(ctx, approvalID)
	if err != nil {
		return bsd.RevisionRequest{}, 0, bsd.Document{}, err
	}
	if req.Status.Terminal() {
		return bsd.RevisionRequest{}, 0, bsd.Document{}, bsd.Conflict("revision request %s is already %s", req.ID, req.Status)
	}
	idx := -1
	for i, a := range req.Approvals {
		if a.ID == approvalID {
			idx = i
		}
	}
	if idx < 0 {
		return bsd.RevisionRequest{}, 0, bsd.Document{}, bsd.NotFound("approval", approvalID)
	}
	approval := req.Approvals[idx]
	if approval.Status != bsd.ApprovalPending {
		return bsd.RevisionRequest{}, 0, bsd.Document{}, bsd.Conflict("approval %s is already %s", approval.ID, approval.Status)
	}
	if !actor.IsAdmin() && !actor.BelongsTo(approval.ApproverSiret) {
		return bsd.RevisionRequest{}, 0, bsd.Document{}, bsd.Forbidden("you do not belong to %q", approval.ApproverSiret)
	}
	doc, _, err := loadDocument(ctx, tx, req.DocumentID)
	if err != nil {
		return bsd.RevisionRequest{}, 0, bsd.Document{}, err
	}
	return req, idx, doc, nil
}

// apply writes the patch onto the document and closes the request in the
// same transaction.
func (s *RevisionService) apply(ctx context.Context, tx Tx, req bsd.RevisionRequest, doc bsd.Document, actor Actor, now time.Time) (bsd.RevisionRequest, []Effect, error) {
	if err := req.Patch.Validate(doc); err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	after := doc.Clone()
	req.Patch.Apply(&after)
	var effects []Effect
	if after.IsCanceled {
		released, err := releaseSources(ctx, tx, doc, systemActor, now)
		if err != nil {
			return bsd.RevisionRequest{}, nil, err
		}
		effects = append(effects, released...)
	}
	_, effect, err := saveDocument(ctx, tx, doc, after, actor, now, map[string]any{"revisionRequestId": req.ID})
	if err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	effects = append(effects, effect)
	req.Status = bsd.RevisionApproved
	req.UpdatedAt = now
	if err := tx.Revisions().Update(ctx, req); err != nil {
		return bsd.RevisionRequest{}, nil, err
	}
	s.resolved(req)
	return req, effects, nil
}

func (s *RevisionService) resolved(req bsd.RevisionRequest) {
	metrics := s.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}
	metrics.RevisionResolved(req.Family, req.Status)
	logger := s.Logger
	if logger == nil {
		logger = discardLogger
	}
	logger.WithFields(logrus.Fields{
		"revision_request_id": req.ID,
		"document_id":         req.DocumentID,
		"family":              req.Family,
		"status":              req.Status,
	}).Info("revision request resolved")
}

// touchDocument bumps UpdatedAt so the document resurfaces in listings.
func touchDocument(ctx context.Context, tx Tx, doc bsd.Document, now time.Time) (Effect, error) {
	doc.UpdatedAt = now
	saved, err := tx.Documents().Update(ctx, doc)
	if err != nil {
		return Effect{}, err
	}
	return effectFor(EffectUpdated, saved), nil
}

func revisionEvent(req bsd.RevisionRequest, kind bsd.EventKind, actor Actor, payload map[string]any) eventRecord {
	meta := actor.metadata()
	meta["documentId"] = req.DocumentID
	return eventRecord{
		StreamID: req.ID,
		Actor:    actor.ID,
		Type:     bsd.EventType(req.Family, kind),
		Payload:  payload,
		Metadata: meta,
	}
}

func approvalPayload(a bsd.RevisionApproval) map[string]any {
	return map[string]any{
		"approvalId":    a.ID,
		"approverSiret": a.ApproverSiret,
		"status":        string(a.Status),
		"comment":       a.Comment,
	}
}

func contains(values []string, v string) bool {
	if v == "" {
		return false
	}
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

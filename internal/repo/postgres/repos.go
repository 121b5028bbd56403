package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/usecase"
)

type documentRepo struct{ db *gorm.DB }

func (r documentRepo) Get(ctx context.Context, id string) (bsd.Document, error) {
	var m DocumentModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return bsd.Document{}, notFound(err, "document", id)
	}
	return documentFromModel(m)
}

func (r documentRepo) Insert(ctx context.Context, doc bsd.Document) (bsd.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.Version = 1
	m, err := documentModelFromDomain(doc)
	if err != nil {
		return bsd.Document{}, err
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return bsd.Document{}, classifyError(err)
	}
	return doc, nil
}

func (r documentRepo) Update(ctx context.Context, doc bsd.Document) (bsd.Document, error) {
	expected := doc.Version
	doc.Version++
	m, err := documentModelFromDomain(doc)
	if err != nil {
		return bsd.Document{}, err
	}
	res := r.db.WithContext(ctx).Model(&DocumentModel{}).
		Where("id = ? AND version = ?", doc.ID, expected).
		Updates(map[string]any{
			"status":            m.Status,
			"is_draft":          m.IsDraft,
			"is_deleted":        m.IsDeleted,
			"emitter_siret":     m.EmitterSiret,
			"destination_siret": m.DestinationSiret,
			"party_sirets":      m.PartySirets,
			"waste_code":        m.WasteCode,
			"waste_quantity":    m.WasteQuantity,
			"grouped_in_id":     m.GroupedInID,
			"synthesized_in_id": m.SynthesizedInID,
			"forwarding_id":     m.ForwardingID,
			"details":           m.Details,
			"data":              m.Data,
			"version":           m.Version,
			"updated_at":        m.UpdatedAt,
		})
	if res.Error != nil {
		return bsd.Document{}, classifyError(res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&DocumentModel{}).Where("id = ?", doc.ID).Count(&count).Error; err != nil {
			return bsd.Document{}, classifyError(err)
		}
		if count == 0 {
			return bsd.Document{}, bsd.NotFound("document", doc.ID)
		}
		return bsd.Document{}, bsd.TxConflict(errors.New("stale document version"))
	}
	return doc, nil
}

func (r documentRepo) List(ctx context.Context, filter usecase.FindDocumentsFilter) ([]bsd.Document, error) {
	q := r.db.WithContext(ctx).Model(&DocumentModel{})
	if !filter.IncludeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	if filter.Family != "" {
		q = q.Where("family = ?", string(filter.Family))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		q = q.Where("created_at <= ?", *filter.CreatedBefore)
	}
	if filter.Siret != "" {
		q = q.Where(
			"(jsonb_exists(party_sirets, ?) OR EXISTS (SELECT 1 FROM transporter_legs l WHERE l.document_id = documents.id AND l.company_siret = ?))",
			filter.Siret, filter.Siret,
		)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	return r.find(q.Order("created_at DESC, id ASC"))
}

func (r documentRepo) ListGroupedIn(ctx context.Context, id string) ([]bsd.Document, error) {
	return r.find(r.db.WithContext(ctx).Where("grouped_in_id = ?", id).Order("created_at ASC, id ASC"))
}

func (r documentRepo) ListSynthesizedIn(ctx context.Context, id string) ([]bsd.Document, error) {
	return r.find(r.db.WithContext(ctx).Where("synthesized_in_id = ?", id).Order("created_at ASC, id ASC"))
}

func (r documentRepo) FindForwarding(ctx context.Context, id string) (bsd.Document, error) {
	var m DocumentModel
	err := r.db.WithContext(ctx).
		Where("forwarding_id = ?", id).
		Order("is_deleted ASC, created_at ASC, id ASC").
		First(&m).Error
	if err != nil {
		return bsd.Document{}, notFound(err, "forwarding document of", id)
	}
	return documentFromModel(m)
}

func (r documentRepo) find(q *gorm.DB) ([]bsd.Document, error) {
	var models []DocumentModel
	if err := q.Find(&models).Error; err != nil {
		return nil, classifyError(err)
	}
	out := make([]bsd.Document, 0, len(models))
	for _, m := range models {
		doc, err := documentFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

type legRepo struct{ db *gorm.DB }

func (r legRepo) Get(ctx context.Context, id string) (bsd.Leg, error) {
	var m LegModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return bsd.Leg{}, notFound(err, "transporter", id)
	}
	return legFromModel(m)
}

func (r legRepo) Insert(ctx context.Context, leg bsd.Leg) (bsd.Leg, error) {
	if leg.ID == "" {
		leg.ID = uuid.NewString()
	}
	m, err := legModelFromDomain(leg)
	if err != nil {
		return bsd.Leg{}, err
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return bsd.Leg{}, classifyError(err)
	}
	return leg, nil
}

func (r legRepo) Update(ctx context.Context, leg bsd.Leg) error {
	m, err := legModelFromDomain(leg)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&LegModel{}).
		Where("id = ?", leg.ID).
		Updates(map[string]any{
			"document_id":   m.DocumentID,
			"number":        m.Number,
			"company_siret": m.CompanySiret,
			"signed":        m.Signed,
			"data":          m.Data,
			"updated_at":    m.UpdatedAt,
		})
	if res.Error != nil {
		return classifyError(res.Error)
	}
	if res.RowsAffected == 0 {
		return bsd.NotFound("transporter", leg.ID)
	}
	return nil
}

func (r legRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&LegModel{}, "id = ?", id)
	if res.Error != nil {
		return classifyError(res.Error)
	}
	if res.RowsAffected == 0 {
		return bsd.NotFound("transporter", id)
	}
	return nil
}

func (r legRepo) ListByDocument(ctx context.Context, documentID string) ([]bsd.Leg, error) {
	var models []LegModel
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("number ASC").
		Find(&models).Error; err != nil {
		return nil, classifyError(err)
	}
	out := make([]bsd.Leg, 0, len(models))
	for _, m := range models {
		leg, err := legFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, leg)
	}
	return out, nil
}

type packagingRepo struct{ db *gorm.DB }

func (r packagingRepo) Get(ctx context.Context, id string) (bsd.Packaging, error) {
	var m PackagingModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return bsd.Packaging{}, notFound(err, "packaging", id)
	}
	return packagingFromModel(m), nil
}

func (r packagingRepo) Insert(ctx context.Context, p bsd.Packaging) (bsd.Packaging, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m := packagingModelFromDomain(p)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return bsd.Packaging{}, classifyError(err)
	}
	return p, nil
}

func (r packagingRepo) Update(ctx context.Context, p bsd.Packaging) error {
	m := packagingModelFromDomain(p)
	res := r.db.WithContext(ctx).Model(&PackagingModel{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"type":              m.Type,
			"number":            m.Number,
			"volume":            m.Volume,
			"weight":            m.Weight,
			"next_packaging_id": m.NextPackagingID,
		})
	if res.Error != nil {
		return classifyError(res.Error)
	}
	if res.RowsAffected == 0 {
		return bsd.NotFound("packaging", p.ID)
	}
	return nil
}

func (r packagingRepo) ListByDocument(ctx context.Context, documentID string) ([]bsd.Packaging, error) {
	return r.find(r.db.WithContext(ctx).Where("document_id = ?", documentID))
}

func (r packagingRepo) ListPrevious(ctx context.Context, ids []string) ([]bsd.Packaging, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.find(r.db.WithContext(ctx).Where("next_packaging_id IN ?", ids))
}

func (r packagingRepo) find(q *gorm.DB) ([]bsd.Packaging, error) {
	var models []PackagingModel
	if err := q.Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, classifyError(err)
	}
	out := make([]bsd.Packaging, 0, len(models))
	for _, m := range models {
		out = append(out, packagingFromModel(m))
	}
	return out, nil
}

type revisionRepo struct{ db *gorm.DB }

func (r revisionRepo) Insert(ctx context.Context, req bsd.RevisionRequest) (bsd.RevisionRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	m, err := revisionModelFromDomain(req)
	if err != nil {
		return bsd.RevisionRequest{}, err
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return bsd.RevisionRequest{}, classifyError(err)
	}
	approvals := make([]RevisionApprovalModel, 0, len(req.Approvals))
	for i := range req.Approvals {
		if req.Approvals[i].ID == "" {
			req.Approvals[i].ID = uuid.NewString()
		}
		req.Approvals[i].RevisionRequestID = req.ID
		approvals = append(approvals, approvalModelFromDomain(req.Approvals[i], i))
	}
	if len(approvals) > 0 {
		if err := r.db.WithContext(ctx).Create(&approvals).Error; err != nil {
			return bsd.RevisionRequest{}, classifyError(err)
		}
	}
	return req, nil
}

func (r revisionRepo) Get(ctx context.Context, id string) (bsd.RevisionRequest, error) {
	var m RevisionRequestModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return bsd.RevisionRequest{}, notFound(err, "revision request", id)
	}
	return r.load(ctx, m)
}

func (r revisionRepo) GetByApproval(ctx context.Context, approvalID string) (bsd.RevisionRequest, error) {
	var a RevisionApprovalModel
	if err := r.db.WithContext(ctx).First(&a, "id = ?", approvalID).Error; err != nil {
		return bsd.RevisionRequest{}, notFound(err, "approval", approvalID)
	}
	return r.Get(ctx, a.RevisionRequestID)
}

func (r revisionRepo) FindPending(ctx context.Context, documentID string) (bsd.RevisionRequest, error) {
	var m RevisionRequestModel
	err := r.db.WithContext(ctx).
		Where("document_id = ? AND status = ?", documentID, string(bsd.RevisionPending)).
		First(&m).Error
	if err != nil {
		return bsd.RevisionRequest{}, notFound(err, "pending revision request for", documentID)
	}
	return r.load(ctx, m)
}

func (r revisionRepo) ListByDocument(ctx context.Context, documentID string) ([]bsd.RevisionRequest, error) {
	var models []RevisionRequestModel
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, classifyError(err)
	}
	if len(models) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	var approvals []RevisionApprovalModel
	if err := r.db.WithContext(ctx).
		Where("revision_request_id IN ?", ids).
		Order("position ASC").
		Find(&approvals).Error; err != nil {
		return nil, classifyError(err)
	}
	byRequest := make(map[string][]RevisionApprovalModel, len(models))
	for _, a := range approvals {
		byRequest[a.RevisionRequestID] = append(byRequest[a.RevisionRequestID], a)
	}
	out := make([]bsd.RevisionRequest, 0, len(models))
	for _, m := range models {
		req, err := revisionFromModel(m, byRequest[m.ID])
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (r revisionRepo) Update(ctx context.Context, req bsd.RevisionRequest) error {
	m, err := revisionModelFromDomain(req)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&RevisionRequestModel{}).
		Where("id = ?", req.ID).
		Updates(map[string]any{
			"patch":      m.Patch,
			"comment":    m.Comment,
			"status":     m.Status,
			"updated_at": m.UpdatedAt,
		})
	if res.Error != nil {
		return classifyError(res.Error)
	}
	if res.RowsAffected == 0 {
		return bsd.NotFound("revision request", req.ID)
	}
	for _, a := range req.Approvals {
		err := r.db.WithContext(ctx).Model(&RevisionApprovalModel{}).
			Where("id = ? AND revision_request_id = ?", a.ID, req.ID).
			Updates(map[string]any{
				"status":     string(a.Status),
				"comment":    a.Comment,
				"updated_at": a.UpdatedAt,
			}).Error
		if err != nil {
			return classifyError(err)
		}
	}
	return nil
}

func (r revisionRepo) load(ctx context.Context, m RevisionRequestModel) (bsd.RevisionRequest, error) {
	var approvals []RevisionApprovalModel
	if err := r.db.WithContext(ctx).
		Where("revision_request_id = ?", m.ID).
		Order("position ASC").
		Find(&approvals).Error; err != nil {
		return bsd.RevisionRequest{}, classifyError(err)
	}
	return revisionFromModel(m, approvals)
}

type eventRepo struct {
	db    *gorm.DB
	clock func() time.Time
}

func (r eventRepo) Append(ctx context.Context, event bsd.Event) (bsd.Event, error) {
	if event.StreamID == "" {
		return bsd.Event{}, bsd.Validation("event stream id is required")
	}
	seq, err := nextStreamSeq(ctx, r.db, event.StreamID)
	if err != nil {
		return bsd.Event{}, classifyError(err)
	}
	event.ID = uuid.NewString()
	event.Seq = seq
	event.CreatedAt = r.clock().UTC()
	m, err := eventModelFromDomain(event)
	if err != nil {
		return bsd.Event{}, err
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return bsd.Event{}, classifyError(err)
	}
	return event, nil
}

func (r eventRepo) ListByStream(ctx context.Context, streamID string) ([]bsd.Event, error) {
	var models []EventModel
	if err := r.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, classifyError(err)
	}
	out := make([]bsd.Event, 0, len(models))
	for _, m := range models {
		event, err := eventFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}

// nextStreamSeq hands out the next number of a stream. The row lock
// serializes concurrent appenders of the same stream.
func nextStreamSeq(ctx context.Context, db *gorm.DB, streamID string) (int64, error) {
	db = db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&EventStreamSeqModel{StreamID: streamID}).Error; err != nil {
		return 0, err
	}
	var counter EventStreamSeqModel
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&counter, "stream_id = ?", streamID).Error; err != nil {
		return 0, err
	}
	next := counter.Seq + 1
	if err := db.Model(&EventStreamSeqModel{}).
		Where("stream_id = ?", streamID).
		Update("seq", next).Error; err != nil {
		return 0, err
	}
	return next, nil
}

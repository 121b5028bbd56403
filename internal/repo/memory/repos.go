package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/usecase"
)

type documentRepo struct{ t *tx }

func (r documentRepo) Get(_ context.Context, id string) (bsd.Document, error) {
	r.t.read(key(kindDocument, id))
	doc, ok := r.t.data.documents[id]
	if !ok {
		return bsd.Document{}, bsd.NotFound("document", id)
	}
	return doc.Clone(), nil
}

func (r documentRepo) Insert(_ context.Context, doc bsd.Document) (bsd.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if _, exists := r.t.data.documents[doc.ID]; exists {
		return bsd.Document{}, bsd.Conflict("document %s already exists", doc.ID)
	}
	doc.Version = 1
	r.t.data.documents[doc.ID] = doc.Clone()
	r.t.write(key(kindDocument, doc.ID))
	return doc, nil
}

func (r documentRepo) Update(_ context.Context, doc bsd.Document) (bsd.Document, error) {
	stored, ok := r.t.data.documents[doc.ID]
	if !ok {
		return bsd.Document{}, bsd.NotFound("document", doc.ID)
	}
	if stored.Version != doc.Version {
		return bsd.Document{}, bsd.TxConflict(nil)
	}
	doc.Version++
	r.t.data.documents[doc.ID] = doc.Clone()
	r.t.write(key(kindDocument, doc.ID))
	return doc, nil
}

func (r documentRepo) List(_ context.Context, filter usecase.FindDocumentsFilter) ([]bsd.Document, error) {
	var out []bsd.Document
	for _, doc := range r.t.data.documents {
		if !r.matches(doc, filter) {
			continue
		}
		out = append(out, doc.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	for _, doc := range out {
		r.t.read(key(kindDocument, doc.ID))
	}
	return out, nil
}

func (r documentRepo) matches(doc bsd.Document, filter usecase.FindDocumentsFilter) bool {
	if doc.IsDeleted && !filter.IncludeDeleted {
		return false
	}
	if filter.Family != "" && doc.Family != filter.Family {
		return false
	}
	if filter.Status != "" && doc.Status != filter.Status {
		return false
	}
	if filter.CreatedAfter != nil && doc.CreatedAt.Before(*filter.CreatedAfter) {
		return false
	}
	if filter.CreatedBefore != nil && doc.CreatedAt.After(*filter.CreatedBefore) {
		return false
	}
	if filter.Siret == "" {
		return true
	}
	for _, siret := range doc.PartySirets() {
		if siret == filter.Siret {
			return true
		}
	}
	for _, leg := range r.t.data.legs {
		if leg.DocumentID == doc.ID && leg.Company.Siret == filter.Siret {
			return true
		}
	}
	return false
}

func (r documentRepo) ListGroupedIn(_ context.Context, id string) ([]bsd.Document, error) {
	return r.collect(func(doc bsd.Document) bool { return doc.GroupedInID == id }), nil
}

func (r documentRepo) ListSynthesizedIn(_ context.Context, id string) ([]bsd.Document, error) {
	return r.collect(func(doc bsd.Document) bool { return doc.SynthesizedInID == id }), nil
}

func (r documentRepo) FindForwarding(_ context.Context, id string) (bsd.Document, error) {
	found := r.collect(func(doc bsd.Document) bool { return doc.ForwardingID == id })
	for _, doc := range found {
		if !doc.IsDeleted {
			return doc, nil
		}
	}
	if len(found) > 0 {
		return found[0], nil
	}
	return bsd.Document{}, bsd.NotFound("forwarding document of", id)
}

func (r documentRepo) collect(match func(bsd.Document) bool) []bsd.Document {
	var out []bsd.Document
	for _, doc := range r.t.data.documents {
		if match(doc) {
			out = append(out, doc.Clone())
			r.t.read(key(kindDocument, doc.ID))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type legRepo struct{ t *tx }

func (r legRepo) Get(_ context.Context, id string) (bsd.Leg, error) {
	r.t.read(key(kindLeg, id))
	leg, ok := r.t.data.legs[id]
	if !ok {
		return bsd.Leg{}, bsd.NotFound("transporter", id)
	}
	return leg.Clone(), nil
}

func (r legRepo) Insert(_ context.Context, leg bsd.Leg) (bsd.Leg, error) {
	if leg.ID == "" {
		leg.ID = uuid.NewString()
	}
	if _, exists := r.t.data.legs[leg.ID]; exists {
		return bsd.Leg{}, bsd.Conflict("transporter %s already exists", leg.ID)
	}
	if err := r.checkNumber(leg); err != nil {
		return bsd.Leg{}, err
	}
	r.t.data.legs[leg.ID] = leg.Clone()
	r.t.write(key(kindLeg, leg.ID))
	return leg, nil
}

func (r legRepo) Update(_ context.Context, leg bsd.Leg) error {
	if _, ok := r.t.data.legs[leg.ID]; !ok {
		return bsd.NotFound("transporter", leg.ID)
	}
	if err := r.checkNumber(leg); err != nil {
		return err
	}
	r.t.data.legs[leg.ID] = leg.Clone()
	r.t.write(key(kindLeg, leg.ID))
	return nil
}

// checkNumber mirrors the unique (document_id, number) index.
func (r legRepo) checkNumber(leg bsd.Leg) error {
	if leg.DocumentID == "" {
		return nil
	}
	for id, other := range r.t.data.legs {
		if id != leg.ID && other.DocumentID == leg.DocumentID && other.Number == leg.Number {
			return bsd.Conflict("transporter number %d is already used on document %s", leg.Number, leg.DocumentID)
		}
	}
	return nil
}

func (r legRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.t.data.legs[id]; !ok {
		return bsd.NotFound("transporter", id)
	}
	delete(r.t.data.legs, id)
	r.t.write(key(kindLeg, id))
	return nil
}

func (r legRepo) ListByDocument(_ context.Context, documentID string) ([]bsd.Leg, error) {
	var out []bsd.Leg
	for _, leg := range r.t.data.legs {
		if leg.DocumentID == documentID {
			out = append(out, leg.Clone())
			r.t.read(key(kindLeg, leg.ID))
		}
	}
	bsd.SortLegs(out)
	return out, nil
}

type packagingRepo struct{ t *tx }

func (r packagingRepo) Get(_ context.Context, id string) (bsd.Packaging, error) {
	r.t.read(key(kindPackaging, id))
	p, ok := r.t.data.packagings[id]
	if !ok {
		return bsd.Packaging{}, bsd.NotFound("packaging", id)
	}
	return p, nil
}

func (r packagingRepo) Insert(_ context.Context, p bsd.Packaging) (bsd.Packaging, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, exists := r.t.data.packagings[p.ID]; exists {
		return bsd.Packaging{}, bsd.Conflict("packaging %s already exists", p.ID)
	}
	r.t.data.packagings[p.ID] = p
	r.t.write(key(kindPackaging, p.ID))
	return p, nil
}

func (r packagingRepo) Update(_ context.Context, p bsd.Packaging) error {
	if _, ok := r.t.data.packagings[p.ID]; !ok {
		return bsd.NotFound("packaging", p.ID)
	}
	r.t.data.packagings[p.ID] = p
	r.t.write(key(kindPackaging, p.ID))
	return nil
}

func (r packagingRepo) ListByDocument(_ context.Context, documentID string) ([]bsd.Packaging, error) {
	return r.collect(func(p bsd.Packaging) bool { return p.DocumentID == documentID }), nil
}

func (r packagingRepo) ListPrevious(_ context.Context, ids []string) ([]bsd.Packaging, error) {
	targets := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		targets[id] = struct{}{}
	}
	return r.collect(func(p bsd.Packaging) bool {
		_, ok := targets[p.NextPackagingID]
		return ok && p.NextPackagingID != ""
	}), nil
}

func (r packagingRepo) collect(match func(bsd.Packaging) bool) []bsd.Packaging {
	var out []bsd.Packaging
	for _, p := range r.t.data.packagings {
		if match(p) {
			out = append(out, p)
			r.t.read(key(kindPackaging, p.ID))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type revisionRepo struct{ t *tx }

func (r revisionRepo) Insert(_ context.Context, req bsd.RevisionRequest) (bsd.RevisionRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if _, exists := r.t.data.revisions[req.ID]; exists {
		return bsd.RevisionRequest{}, bsd.Conflict("revision request %s already exists", req.ID)
	}
	if req.Status == bsd.RevisionPending {
		for _, other := range r.t.data.revisions {
			if other.DocumentID == req.DocumentID && other.Status == bsd.RevisionPending {
				return bsd.RevisionRequest{}, bsd.Conflict("document %s already has a pending revision request", req.DocumentID)
			}
		}
	}
	for i := range req.Approvals {
		if req.Approvals[i].ID == "" {
			req.Approvals[i].ID = uuid.NewString()
		}
		req.Approvals[i].RevisionRequestID = req.ID
	}
	r.t.data.revisions[req.ID] = req.Clone()
	r.t.write(key(kindRevision, req.ID))
	return req, nil
}

func (r revisionRepo) Get(_ context.Context, id string) (bsd.RevisionRequest, error) {
	r.t.read(key(kindRevision, id))
	req, ok := r.t.data.revisions[id]
	if !ok {
		return bsd.RevisionRequest{}, bsd.NotFound("revision request", id)
	}
	return req.Clone(), nil
}

func (r revisionRepo) GetByApproval(_ context.Context, approvalID string) (bsd.RevisionRequest, error) {
	for _, req := range r.t.data.revisions {
		for _, a := range req.Approvals {
			if a.ID == approvalID {
				r.t.read(key(kindRevision, req.ID))
				return req.Clone(), nil
			}
		}
	}
	return bsd.RevisionRequest{}, bsd.NotFound("approval", approvalID)
}

func (r revisionRepo) FindPending(_ context.Context, documentID string) (bsd.RevisionRequest, error) {
	for _, req := range r.t.data.revisions {
		if req.DocumentID == documentID && req.Status == bsd.RevisionPending {
			r.t.read(key(kindRevision, req.ID))
			return req.Clone(), nil
		}
	}
	return bsd.RevisionRequest{}, bsd.NotFound("pending revision request for", documentID)
}

func (r revisionRepo) ListByDocument(_ context.Context, documentID string) ([]bsd.RevisionRequest, error) {
	var out []bsd.RevisionRequest
	for _, req := range r.t.data.revisions {
		if req.DocumentID == documentID {
			out = append(out, req.Clone())
			r.t.read(key(kindRevision, req.ID))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r revisionRepo) Update(_ context.Context, req bsd.RevisionRequest) error {
	if _, ok := r.t.data.revisions[req.ID]; !ok {
		return bsd.NotFound("revision request", req.ID)
	}
	r.t.data.revisions[req.ID] = req.Clone()
	r.t.write(key(kindRevision, req.ID))
	return nil
}

type eventRepo struct{ t *tx }

func (r eventRepo) Append(_ context.Context, event bsd.Event) (bsd.Event, error) {
	if event.StreamID == "" {
		return bsd.Event{}, bsd.Validation("event stream id is required")
	}
	stream := r.t.data.streams[event.StreamID]
	event.ID = uuid.NewString()
	event.Seq = int64(len(stream)) + 1
	event.CreatedAt = r.t.clock().UTC()
	r.t.data.streams[event.StreamID] = append(stream, event)
	r.t.write(key(kindStream, event.StreamID))
	return event, nil
}

func (r eventRepo) ListByStream(_ context.Context, streamID string) ([]bsd.Event, error) {
	r.t.read(key(kindStream, streamID))
	events := r.t.data.streams[streamID]
	return append([]bsd.Event{}, events...), nil
}

package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bordereau/internal/domain/bsd"
)

// DocumentModel keeps the full document as JSON in Data; the other columns
// are the ones queries filter or join on.
type DocumentModel struct {
	ID               string          `gorm:"type:uuid;primaryKey"`
	Family           string          `gorm:"index;not null"`
	Status           string          `gorm:"index;not null"`
	IsDraft          bool            `gorm:"not null"`
	IsDeleted        bool            `gorm:"index;not null"`
	EmitterSiret     string          `gorm:"index"`
	DestinationSiret string          `gorm:"index"`
	PartySirets      []byte          `gorm:"type:jsonb;not null"`
	WasteCode        string          `gorm:"index"`
	WasteQuantity    decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	GroupedInID      *string         `gorm:"type:uuid;index"`
	SynthesizedInID  *string         `gorm:"type:uuid;index"`
	ForwardingID     *string         `gorm:"type:uuid;index"`
	Details          []byte          `gorm:"type:jsonb;not null"`
	Data             []byte          `gorm:"type:jsonb;not null"`
	Version          int64           `gorm:"not null"`
	CreatedAt        time.Time       `gorm:"index;not null"`
	UpdatedAt        time.Time       `gorm:"not null"`
}

func (DocumentModel) TableName() string { return "documents" }

// LegModel is a transporter leg. DocumentID is NULL while detached.
type LegModel struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	DocumentID   *string   `gorm:"type:uuid;uniqueIndex:idx_legs_document_number"`
	Number       int       `gorm:"uniqueIndex:idx_legs_document_number;not null"`
	CompanySiret string    `gorm:"index"`
	Signed       bool      `gorm:"not null"`
	Data         []byte    `gorm:"type:jsonb;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (LegModel) TableName() string { return "transporter_legs" }

type PackagingModel struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	DocumentID      string `gorm:"type:uuid;index;not null"`
	Type            string
	Number          string
	Volume          decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Weight          decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	NextPackagingID *string         `gorm:"type:uuid;index"`
	CreatedAt       time.Time       `gorm:"index;not null"`
}

func (PackagingModel) TableName() string { return "packagings" }

type RevisionRequestModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	DocumentID     string `gorm:"type:uuid;index;not null"`
	Family         string `gorm:"not null"`
	AuthoringSiret string `gorm:"not null"`
	Patch          []byte `gorm:"type:jsonb;not null"`
	Comment        string
	Status         string    `gorm:"index;not null"`
	CreatedAt      time.Time `gorm:"index;not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (RevisionRequestModel) TableName() string { return "revision_requests" }

type RevisionApprovalModel struct {
	ID                string `gorm:"type:uuid;primaryKey"`
	RevisionRequestID string `gorm:"type:uuid;index;not null"`
	Position          int    `gorm:"not null"`
	ApproverSiret     string `gorm:"index;not null"`
	Status            string `gorm:"not null"`
	Comment           string
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (RevisionApprovalModel) TableName() string { return "revision_approvals" }

type EventModel struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	StreamID  string    `gorm:"uniqueIndex:idx_events_stream_seq;not null"`
	Seq       int64     `gorm:"uniqueIndex:idx_events_stream_seq;not null"`
	Actor     string    `gorm:"not null"`
	Type      string    `gorm:"index;not null"`
	Payload   []byte    `gorm:"type:jsonb;not null"`
	Metadata  []byte    `gorm:"type:jsonb;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (EventModel) TableName() string { return "events" }

// EventStreamSeqModel holds the last sequence number handed out per stream.
type EventStreamSeqModel struct {
	StreamID string `gorm:"primaryKey"`
	Seq      int64  `gorm:"not null"`
}

func (EventStreamSeqModel) TableName() string { return "event_stream_seq" }

func nullable(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func deref(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

func documentModelFromDomain(doc bsd.Document) (DocumentModel, error) {
	details, err := bsd.MarshalDetails(doc.Details)
	if err != nil {
		return DocumentModel{}, fmt.Errorf("encode details: %w", err)
	}
	body := doc
	body.Details = nil
	data, err := json.Marshal(body)
	if err != nil {
		return DocumentModel{}, fmt.Errorf("encode document: %w", err)
	}
	parties, err := json.Marshal(doc.PartySirets())
	if err != nil {
		return DocumentModel{}, err
	}
	return DocumentModel{
		ID:               doc.ID,
		Family:           string(doc.Family),
		Status:           string(doc.Status),
		IsDraft:          doc.IsDraft,
		IsDeleted:        doc.IsDeleted,
		EmitterSiret:     doc.Emitter.Siret,
		DestinationSiret: doc.Destination.Siret,
		PartySirets:      parties,
		WasteCode:        doc.Waste.Code,
		WasteQuantity:    doc.Waste.Quantity,
		GroupedInID:      nullable(doc.GroupedInID),
		SynthesizedInID:  nullable(doc.SynthesizedInID),
		ForwardingID:     nullable(doc.ForwardingID),
		Details:          details,
		Data:             data,
		Version:          doc.Version,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}, nil
}

func documentFromModel(m DocumentModel) (bsd.Document, error) {
	var doc bsd.Document
	if err := json.Unmarshal(m.Data, &doc); err != nil {
		return bsd.Document{}, fmt.Errorf("decode document %s: %w", m.ID, err)
	}
	details, err := bsd.UnmarshalDetails(bsd.Family(m.Family), m.Details)
	if err != nil {
		return bsd.Document{}, err
	}
	doc.ID = m.ID
	doc.Details = details
	doc.Version = m.Version
	return doc, nil
}

func legModelFromDomain(leg bsd.Leg) (LegModel, error) {
	data, err := json.Marshal(leg)
	if err != nil {
		return LegModel{}, fmt.Errorf("encode transporter: %w", err)
	}
	return LegModel{
		ID:           leg.ID,
		DocumentID:   nullable(leg.DocumentID),
		Number:       leg.Number,
		CompanySiret: leg.Company.Siret,
		Signed:       leg.Signed(),
		Data:         data,
		CreatedAt:    leg.CreatedAt,
		UpdatedAt:    leg.UpdatedAt,
	}, nil
}

func legFromModel(m LegModel) (bsd.Leg, error) {
	var leg bsd.Leg
	if err := json.Unmarshal(m.Data, &leg); err != nil {
		return bsd.Leg{}, fmt.Errorf("decode transporter %s: %w", m.ID, err)
	}
	leg.ID = m.ID
	leg.DocumentID = deref(m.DocumentID)
	leg.Number = m.Number
	return leg, nil
}

func packagingModelFromDomain(p bsd.Packaging) PackagingModel {
	return PackagingModel{
		ID:              p.ID,
		DocumentID:      p.DocumentID,
		Type:            p.Type,
		Number:          p.Number,
		Volume:          p.Volume,
		Weight:          p.Weight,
		NextPackagingID: nullable(p.NextPackagingID),
		CreatedAt:       p.CreatedAt,
	}
}

func packagingFromModel(m PackagingModel) bsd.Packaging {
	return bsd.Packaging{
		ID:              m.ID,
		DocumentID:      m.DocumentID,
		Type:            m.Type,
		Number:          m.Number,
		Volume:          m.Volume,
		Weight:          m.Weight,
		NextPackagingID: deref(m.NextPackagingID),
		CreatedAt:       m.CreatedAt,
	}
}

func revisionModelFromDomain(req bsd.RevisionRequest) (RevisionRequestModel, error) {
	patch, err := json.Marshal(req.Patch)
	if err != nil {
		return RevisionRequestModel{}, fmt.Errorf("encode revision patch: %w", err)
	}
	return RevisionRequestModel{
		ID:             req.ID,
		DocumentID:     req.DocumentID,
		Family:         string(req.Family),
		AuthoringSiret: req.AuthoringSiret,
		Patch:          patch,
		Comment:        req.Comment,
		Status:         string(req.Status),
		CreatedAt:      req.CreatedAt,
		UpdatedAt:      req.UpdatedAt,
	}, nil
}

func revisionFromModel(m RevisionRequestModel, approvals []RevisionApprovalModel) (bsd.RevisionRequest, error) {
	req := bsd.RevisionRequest{
		ID:             m.ID,
		DocumentID:     m.DocumentID,
		Family:         bsd.Family(m.Family),
		AuthoringSiret: m.AuthoringSiret,
		Comment:        m.Comment,
		Status:         bsd.RevisionStatus(m.Status),
		Approvals:      make([]bsd.RevisionApproval, 0, len(approvals)),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if err := json.Unmarshal(m.Patch, &req.Patch); err != nil {
		return bsd.RevisionRequest{}, fmt.Errorf("decode revision patch %s: %w", m.ID, err)
	}
	for _, a := range approvals {
		req.Approvals = append(req.Approvals, bsd.RevisionApproval{
			ID:                a.ID,
			RevisionRequestID: a.RevisionRequestID,
			ApproverSiret:     a.ApproverSiret,
			Status:            bsd.ApprovalStatus(a.Status),
			Comment:           a.Comment,
			CreatedAt:         a.CreatedAt,
			UpdatedAt:         a.UpdatedAt,
		})
	}
	return req, nil
}

func approvalModelFromDomain(a bsd.RevisionApproval, position int) RevisionApprovalModel {
	return RevisionApprovalModel{
		ID:                a.ID,
		RevisionRequestID: a.RevisionRequestID,
		Position:          position,
		ApproverSiret:     a.ApproverSiret,
		Status:            string(a.Status),
		Comment:           a.Comment,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func eventModelFromDomain(event bsd.Event) (EventModel, error) {
	payload, err := marshalMap(event.Payload)
	if err != nil {
		return EventModel{}, fmt.Errorf("encode event payload: %w", err)
	}
	metadata, err := marshalMap(event.Metadata)
	if err != nil {
		return EventModel{}, fmt.Errorf("encode event metadata: %w", err)
	}
	return EventModel{
		ID:        event.ID,
		StreamID:  event.StreamID,
		Seq:       event.Seq,
		Actor:     event.Actor,
		Type:      event.Type,
		Payload:   payload,
		Metadata:  metadata,
		CreatedAt: event.CreatedAt,
	}, nil
}

func eventFromModel(m EventModel) (bsd.Event, error) {
	event := bsd.Event{
		ID:        m.ID,
		StreamID:  m.StreamID,
		Seq:       m.Seq,
		Actor:     m.Actor,
		Type:      m.Type,
		CreatedAt: m.CreatedAt,
	}
	if err := json.Unmarshal(m.Payload, &event.Payload); err != nil {
		return bsd.Event{}, fmt.Errorf("decode event payload %s: %w", m.ID, err)
	}
	if err := json.Unmarshal(m.Metadata, &event.Metadata); err != nil {
		return bsd.Event{}, fmt.Errorf("decode event metadata %s: %w", m.ID, err)
	}
	return event, nil
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

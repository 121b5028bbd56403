package usecase

import (
	"context"
	"time"

	"bordereau/internal/domain/bsd"
)

type DocumentRepository interface {
	Get(ctx context.Context, id string) (bsd.Document, error)
	Insert(ctx context.Context, doc bsd.Document) (bsd.Document, error)
	// Update persists doc if its Version still matches the stored one and
	// returns it with the next version. A stale version is ErrTxConflict.
	Update(ctx context.Context, doc bsd.Document) (bsd.Document, error)
	List(ctx context.Context, filter FindDocumentsFilter) ([]bsd.Document, error)
	ListGroupedIn(ctx context.Context, id string) ([]bsd.Document, error)
	ListSynthesizedIn(ctx context.Context, id string) ([]bsd.Document, error)
	// FindForwarding returns the document whose ForwardingID is id.
	FindForwarding(ctx context.Context, id string) (bsd.Document, error)
}

type TransporterRepository interface {
	Get(ctx context.Context, id string) (bsd.Leg, error)
	Insert(ctx context.Context, leg bsd.Leg) (bsd.Leg, error)
	Update(ctx context.Context, leg bsd.Leg) error
	Delete(ctx context.Context, id string) error
	// ListByDocument returns the document legs ordered by number.
	ListByDocument(ctx context.Context, documentID string) ([]bsd.Leg, error)
}

type PackagingRepository interface {
	Get(ctx context.Context, id string) (bsd.Packaging, error)
	Insert(ctx context.Context, p bsd.Packaging) (bsd.Packaging, error)
	Update(ctx context.Context, p bsd.Packaging) error
	ListByDocument(ctx context.Context, documentID string) ([]bsd.Packaging, error)
	// ListPrevious returns the packagings whose NextPackagingID is in ids.
	ListPrevious(ctx context.Context, ids []string) ([]bsd.Packaging, error)
}

type RevisionRepository interface {
	Insert(ctx context.Context, req bsd.RevisionRequest) (bsd.RevisionRequest, error)
	Get(ctx context.Context, id string) (bsd.RevisionRequest, error)
	GetByApproval(ctx context.Context, approvalID string) (bsd.RevisionRequest, error)
	// FindPending returns ErrNotFound when the document has no open request.
	FindPending(ctx context.Context, documentID string) (bsd.RevisionRequest, error)
	ListByDocument(ctx context.Context, documentID string) ([]bsd.RevisionRequest, error)
	Update(ctx context.Context, req bsd.RevisionRequest) error
}

// EventRepository is append-only: Append assigns ID, Seq and CreatedAt.
type EventRepository interface {
	Append(ctx context.Context, event bsd.Event) (bsd.Event, error)
	ListByStream(ctx context.Context, streamID string) ([]bsd.Event, error)
}

// Tx is the handle of one atomic unit of work. Reads observe the writes made
// earlier through the same handle.
type Tx interface {
	Documents() DocumentRepository
	Transporters() TransporterRepository
	Packagings() PackagingRepository
	Revisions() RevisionRepository
	Events() EventRepository
}

// Store commits everything fn wrote when fn returns nil and discards it
// otherwise. Losing a write race surfaces as bsd.ErrTxConflict.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Queue receives best-effort side effects once a transaction committed.
type Queue interface {
	Enqueue(ctx context.Context, effect Effect) error
}

type SignatureRequest struct {
	DocumentID      string
	Family          bsd.Family
	Stage           bsd.Stage
	AuthorizedOrgs  []string
	ActorOrgs       []string
	ActorRoles      []string
	ActorID         string
	DocumentIsDraft bool
}

// SignaturePolicy decides whether an actor may sign a stage.
type SignaturePolicy interface {
	AllowSignature(ctx context.Context, req SignatureRequest) (bool, error)
}

type Metrics interface {
	SignatureRecorded(family bsd.Family, stage bsd.Stage)
	EffectExecuted(kind EffectKind)
	EffectFailed(kind EffectKind)
	TxConflict()
	RevisionResolved(family bsd.Family, status bsd.RevisionStatus)
}

type NopMetrics struct{}

func (NopMetrics) SignatureRecorded(bsd.Family, bsd.Stage)         {}
func (NopMetrics) EffectExecuted(EffectKind)                       {}
func (NopMetrics) EffectFailed(EffectKind)                         {}
func (NopMetrics) TxConflict()                                     {}
func (NopMetrics) RevisionResolved(bsd.Family, bsd.RevisionStatus) {}

type FindDocumentsFilter struct {
	Siret          string
	Family         bsd.Family
	Status         bsd.Status
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
	IncludeDeleted bool
	Limit          int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Normalize applies the default and maximum page size.
func (f FindDocumentsFilter) Normalize() (FindDocumentsFilter, error) {
	if f.Family != "" {
		if _, err := bsd.ParseFamily(string(f.Family)); err != nil {
			return f, err
		}
	}
	if f.CreatedAfter != nil && f.CreatedBefore != nil && f.CreatedAfter.After(*f.CreatedBefore) {
		return f, bsd.Validation("createdAfter must not be later than createdBefore")
	}
	switch {
	case f.Limit < 0:
		return f, bsd.Validation("limit must be positive")
	case f.Limit == 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	return f, nil
}

// Actor is the identity a mutation is performed for.
type Actor struct {
	ID       string
	Type     string
	AuthType string
	Orgs     []string
	Roles    []string
}

const AdminRole = "bsd_admin"

func (a Actor) IsAdmin() bool {
	for _, role := range a.Roles {
		if role == AdminRole {
			return true
		}
	}
	return false
}

func (a Actor) BelongsTo(siret string) bool {
	if siret == "" {
		return false
	}
	for _, org := range a.Orgs {
		if org == siret {
			return true
		}
	}
	return false
}

func (a Actor) metadata() map[string]any {
	meta := map[string]any{}
	if a.AuthType != "" {
		meta["authType"] = a.AuthType
	}
	if a.Type != "" {
		meta["actorType"] = a.Type
	}
	return meta
}

type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

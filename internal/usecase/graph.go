package usecase

import (
	"context"
	"strings"
	"time"

	"bordereau/internal/domain/bsd"
)

// DefaultMaxHops bounds traversals when the caller does not.
const DefaultMaxHops = 256

// GraphService answers traceability lookups across packagings and documents
// and maintains the grouping, synthesis and forwarding links.
type GraphService struct {
	Runner  *TxRunner
	Clock   Clock
	MaxHops int
}

func NewGraphService(runner *TxRunner, maxHops int) *GraphService {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &GraphService{Runner: runner, Clock: time.Now, MaxHops: maxHops}
}

// bound turns a caller hop count into the enforced one: negative means the
// configured default and nothing exceeds that default.
func (s *GraphService) bound(maxHops int) int {
	limit := s.MaxHops
	if limit <= 0 {
		limit = DefaultMaxHops
	}
	if maxHops < 0 || maxHops > limit {
		return limit
	}
	return maxHops
}

// Forward follows NextPackagingID links from packagingID and returns the
// downstream packagings, nearest first.
func (s *GraphService) Forward(ctx context.Context, packagingID string, maxHops int) ([]bsd.Packaging, error) {
	hops := s.bound(maxHops)
	return readTx(ctx, s.Runner, func(tx Tx) ([]bsd.Packaging, error) {
		start, err := tx.Packagings().Get(ctx, packagingID)
		if err != nil {
			return nil, err
		}
		return forwardFrom(ctx, tx.Packagings(), start, hops, map[string]struct{}{start.ID: {}})
	})
}

func forwardFrom(ctx context.Context, repo PackagingRepository, from bsd.Packaging, hops int, visited map[string]struct{}) ([]bsd.Packaging, error) {
	if hops == 0 || from.NextPackagingID == "" {
		return []bsd.Packaging{}, nil
	}
	if _, seen := visited[from.NextPackagingID]; seen {
		return []bsd.Packaging{}, nil
	}
	next, err := repo.Get(ctx, from.NextPackagingID)
	if err != nil {
		if isNotFound(err) {
			return []bsd.Packaging{}, nil
		}
		return nil, err
	}
	visited[next.ID] = struct{}{}
	rest, err := forwardFrom(ctx, repo, next, hops-1, visited)
	if err != nil {
		return nil, err
	}
	return append([]bsd.Packaging{next}, rest...), nil
}

// Backward returns every packaging that was repackaged, directly or not,
// into one of packagingIDs. The most distant packagings come first.
func (s *GraphService) Backward(ctx context.Context, packagingIDs []string, maxHops int) ([]bsd.Packaging, error) {
	hops := s.bound(maxHops)
	ids := bsd.UniqueSorted(packagingIDs)
	if len(ids) == 0 {
		return nil, bsd.Validation("at least one packaging id is required")
	}
	return readTx(ctx, s.Runner, func(tx Tx) ([]bsd.Packaging, error) {
		visited := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			visited[id] = struct{}{}
		}
		return backwardFrom(ctx, tx.Packagings(), ids, hops, visited)
	})
}

func backwardFrom(ctx context.Context, repo PackagingRepository, ids []string, hops int, visited map[string]struct{}) ([]bsd.Packaging, error) {
	if hops == 0 || len(ids) == 0 {
		return []bsd.Packaging{}, nil
	}
	previous, err := repo.ListPrevious(ctx, ids)
	if err != nil {
		return nil, err
	}
	level := make([]bsd.Packaging, 0, len(previous))
	levelIDs := make([]string, 0, len(previous))
	for _, p := range previous {
		if _, seen := visited[p.ID]; seen {
			continue
		}
		visited[p.ID] = struct{}{}
		level = append(level, p)
		levelIDs = append(levelIDs, p.ID)
	}
	deeper, err := backwardFrom(ctx, repo, levelIDs, hops-1, visited)
	if err != nil {
		return nil, err
	}
	return append(deeper, level...), nil
}

// GroupingOf summarizes the documents grouped into id.
func (s *GraphService) GroupingOf(ctx context.Context, id string) ([]bsd.DocumentSummary, error) {
	return s.summaries(ctx, id, func(tx Tx) ([]bsd.Document, error) {
		return tx.Documents().ListGroupedIn(ctx, id)
	})
}

// SynthesizingOf summarizes the documents synthesized into id.
func (s *GraphService) SynthesizingOf(ctx context.Context, id string) ([]bsd.DocumentSummary, error) {
	return s.summaries(ctx, id, func(tx Tx) ([]bsd.Document, error) {
		return tx.Documents().ListSynthesizedIn(ctx, id)
	})
}

func (s *GraphService) summaries(ctx context.Context, id string, list func(tx Tx) ([]bsd.Document, error)) ([]bsd.DocumentSummary, error) {
	return readTx(ctx, s.Runner, func(tx Tx) ([]bsd.DocumentSummary, error) {
		if _, _, err := loadDocument(ctx, tx, id); err != nil {
			return nil, err
		}
		docs, err := list(tx)
		if err != nil {
			return nil, err
		}
		out := make([]bsd.DocumentSummary, 0, len(docs))
		for _, doc := range docs {
			if doc.IsDeleted {
				continue
			}
			packagings, err := tx.Packagings().ListByDocument(ctx, doc.ID)
			if err != nil {
				return nil, err
			}
			out = append(out, bsd.Summarize(doc, packagings))
		}
		return out, nil
	})
}

// ForwardedBy returns the document that continues id after temporary storage.
func (s *GraphService) ForwardedBy(ctx context.Context, id string) (bsd.Document, error) {
	return readTx(ctx, s.Runner, func(tx Tx) (bsd.Document, error) {
		if _, _, err := loadDocument(ctx, tx, id); err != nil {
			return bsd.Document{}, err
		}
		doc, err := tx.Documents().FindForwarding(ctx, id)
		if err != nil {
			return bsd.Document{}, err
		}
		if doc.IsDeleted {
			return bsd.Document{}, bsd.NotFound("forwarding document of", id)
		}
		return doc, nil
	})
}

type RelationInput struct {
	DocumentID string
	SourceIDs  []string
	Actor      Actor
}

type relationKind int

const (
	relationGroup relationKind = iota
	relationSynthesis
)

// Group makes DocumentID the aggregate of SourceIDs, replacing any previous
// grouping.
func (s *GraphService) Group(ctx context.Context, input RelationInput) (bsd.Document, error) {
	return runTx(ctx, s.Runner, func(tx Tx) (bsd.Document, []Effect, error) {
		return s.linkTx(ctx, tx, input, relationGroup)
	})
}

func (s *GraphService) GroupTx(ctx context.Context, tx Tx, input RelationInput) (bsd.Document, []Effect, error) {
	return s.linkTx(ctx, tx, input, relationGroup)
}

// Synthesize makes DocumentID the synthesis of SourceIDs, replacing any
// previous synthesis.
func (s *GraphService) Synthesize(ctx context.Context, input RelationInput) (bsd.Document, error) {
	return runTx(ctx, s.Runner, func(tx Tx) (bsd.Document, []Effect, error) {
		return s.linkTx(ctx, tx, input, relationSynthesis)
	})
}

func (s *GraphService) SynthesizeTx(ctx context.Context, tx Tx, input RelationInput) (bsd.Document, []Effect, error) {
	return s.linkTx(ctx, tx, input, relationSynthesis)
}

func (s *GraphService) linkTx(ctx context.Context, tx Tx, input RelationInput, kind relationKind) (bsd.Document, []Effect, error) {
	aggregate, _, err := loadDocument(ctx, tx, input.DocumentID)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	legs, err := tx.Transporters().ListByDocument(ctx, aggregate.ID)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	if err := requireMember(input.Actor, documentMembers(aggregate, legs), "link documents to it"); err != nil {
		return bsd.Document{}, nil, err
	}
	if err := checkAggregate(aggregate, kind); err != nil {
		return bsd.Document{}, nil, err
	}
	if aggregate.Signatures.Emission != nil {
		return bsd.Document{}, nil, bsd.SealedFields([]string{relationField(kind)})
	}
	ids := bsd.UniqueSorted(input.SourceIDs)
	if len(ids) == 0 {
		return bsd.Document{}, nil, bsd.Validation("at least one source document is required")
	}

	now := s.Clock.now()
	var effects []Effect
	wanted := make(map[string]struct{}, len(ids))
	var sources []bsd.Document
	for _, id := range ids {
		wanted[id] = struct{}{}
		source, err := s.checkSource(ctx, tx, aggregate, id, kind)
		if err != nil {
			return bsd.Document{}, nil, err
		}
		sources = append(sources, source)
	}

	current, err := linkedSources(ctx, tx, aggregate.ID, kind)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	for _, previous := range current {
		if _, keep := wanted[previous.ID]; keep {
			continue
		}
		after := previous.Clone()
		setRelation(&after, kind, "")
		_, effect, err := saveDocument(ctx, tx, previous, after, input.Actor, now, map[string]any{"unlinkedFrom": aggregate.ID})
		if err != nil {
			return bsd.Document{}, nil, err
		}
		effects = append(effects, effect)
	}

	emitters := make([]string, 0, len(sources))
	for _, source := range sources {
		emitters = append(emitters, source.Emitter.Siret)
		if relationOf(source, kind) == aggregate.ID {
			continue
		}
		after := source.Clone()
		setRelation(&after, kind, aggregate.ID)
		_, effect, err := saveDocument(ctx, tx, source, after, input.Actor, now, map[string]any{"linkedTo": aggregate.ID})
		if err != nil {
			return bsd.Document{}, nil, err
		}
		effects = append(effects, effect)
	}

	after := aggregate.Clone()
	after.OriginEmitterSirets = bsd.UniqueSorted(emitters)
	saved, effect, err := saveDocument(ctx, tx, aggregate, after, input.Actor, now, map[string]any{relationField(kind): ids})
	if err != nil {
		return bsd.Document{}, nil, err
	}
	return saved, append(effects, effect), nil
}

func checkAggregate(aggregate bsd.Document, kind relationKind) error {
	dasri, isDasri := aggregate.Details.(*bsd.BsdasriDetails)
	switch kind {
	case relationGroup:
		if aggregate.Family == bsd.FamilyBSVHU {
			return bsd.Validation("%s documents cannot group other documents", aggregate.Family)
		}
		if isDasri && dasri.Type != bsd.BsdasriTypeGrouping {
			return bsd.Validation("only %s documents of type %s can group other documents", bsd.FamilyBSDASRI, bsd.BsdasriTypeGrouping)
		}
	case relationSynthesis:
		if !isDasri || dasri.Type != bsd.BsdasriTypeSynthesis {
			return bsd.Validation("only %s documents of type %s can synthesize other documents", bsd.FamilyBSDASRI, bsd.BsdasriTypeSynthesis)
		}
	}
	return nil
}

func (s *GraphService) checkSource(ctx context.Context, tx Tx, aggregate bsd.Document, id string, kind relationKind) (bsd.Document, error) {
	if id == aggregate.ID {
		return bsd.Document{}, bsd.Validation("a document cannot be linked to itself")
	}
	source, _, err := loadDocument(ctx, tx, id)
	if err != nil {
		return bsd.Document{}, err
	}
	if source.Family != aggregate.Family {
		return bsd.Document{}, bsd.Validation("document %s is a %s, expected %s", source.ID, source.Family, aggregate.Family)
	}
	if source.IsCanceled || source.Status == bsd.StatusRefused {
		return bsd.Document{}, bsd.Validation("document %s is %s and cannot be linked", source.ID, strings.ToLower(string(source.Status)))
	}
	switch kind {
	case relationGroup:
		if source.Signatures.Operation == nil || source.Operation.IsFinal() || source.Operation.FinalizedByID != "" {
			return bsd.Document{}, bsd.Validation("document %s must be awaiting a downstream treatment to be grouped", source.ID)
		}
		if aggregate.Emitter.Siret != "" && source.Destination.Siret != aggregate.Emitter.Siret {
			return bsd.Document{}, bsd.Validation("the emitter of the grouping document must be the destination of %s", source.ID)
		}
	case relationSynthesis:
		if source.Signatures.Transport == nil || source.Signatures.Reception != nil {
			return bsd.Document{}, bsd.Validation("document %s must be in transit to be synthesized", source.ID)
		}
	}
	if linked := source.GroupedInID + source.SynthesizedInID; linked != "" && linked != aggregate.ID {
		return bsd.Document{}, bsd.Conflict("document %s is already linked to %s", source.ID, linked)
	}
	forwarding, err := tx.Documents().FindForwarding(ctx, source.ID)
	switch {
	case err == nil && !forwarding.IsDeleted:
		return bsd.Document{}, bsd.Conflict("document %s is already forwarded by %s", source.ID, forwarding.ID)
	case err != nil && !isNotFound(err):
		return bsd.Document{}, err
	}
	return source, nil
}

// ForwardDocument records that documentID continues forwardedID after
// temporary storage.
func (s *GraphService) ForwardDocument(ctx context.Context, documentID, forwardedID string, actor Actor) (bsd.Document, error) {
	return runTx(ctx, s.Runner, func(tx Tx) (bsd.Document, []Effect, error) {
		return s.ForwardDocumentTx(ctx, tx, documentID, forwardedID, actor)
	})
}

func (s *GraphService) ForwardDocumentTx(ctx context.Context, tx Tx, documentID, forwardedID string, actor Actor) (bsd.Document, []Effect, error) {
	doc, _, err := loadDocument(ctx, tx, documentID)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	legs, err := tx.Transporters().ListByDocument(ctx, doc.ID)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	if err := requireMember(actor, documentMembers(doc, legs), "link documents to it"); err != nil {
		return bsd.Document{}, nil, err
	}
	if doc.Family == bsd.FamilyBSDASRI || doc.Family == bsd.FamilyBSVHU {
		return bsd.Document{}, nil, bsd.Validation("%s documents cannot forward other documents", doc.Family)
	}
	if doc.Signatures.Emission != nil {
		return bsd.Document{}, nil, bsd.SealedFields([]string{"forwarding"})
	}
	if doc.ForwardingID != "" && doc.ForwardingID != forwardedID {
		return bsd.Document{}, nil, bsd.Conflict("document %s already forwards %s", doc.ID, doc.ForwardingID)
	}
	if doc.ForwardingID == forwardedID {
		return doc, nil, nil
	}
	source, err := s.checkSource(ctx, tx, doc, forwardedID, relationGroup)
	if err != nil {
		return bsd.Document{}, nil, err
	}
	after := doc.Clone()
	after.ForwardingID = source.ID
	after.OriginEmitterSirets = bsd.UniqueSorted([]string{source.Emitter.Siret})
	saved, effect, err := saveDocument(ctx, tx, doc, after, actor, s.Clock.now(), map[string]any{"forwarding": source.ID})
	if err != nil {
		return bsd.Document{}, nil, err
	}
	return saved, []Effect{effect}, nil
}

// LinkPackaging records that packagingID was repackaged into
// nextPackagingID. The target must belong to another document created no
// earlier, and the link must not close a cycle.
func (s *GraphService) LinkPackaging(ctx context.Context, packagingID, nextPackagingID string, actor Actor) (bsd.Packaging, error) {
	return runTx(ctx, s.Runner, func(tx Tx) (bsd.Packaging, []Effect, error) {
		return s.LinkPackagingTx(ctx, tx, packagingID, nextPackagingID, actor)
	})
}

func (s *GraphService) LinkPackagingTx(ctx context.Context, tx Tx, packagingID, nextPackagingID string, actor Actor) (bsd.Packaging, []Effect, error) {
	packaging, err := tx.Packagings().Get(ctx, packagingID)
	if err != nil {
		return bsd.Packaging{}, nil, err
	}
	next, err := tx.Packagings().Get(ctx, nextPackagingID)
	if err != nil {
		return bsd.Packaging{}, nil, err
	}
	if packaging.NextPackagingID == next.ID {
		return packaging, nil, nil
	}
	if packaging.NextPackagingID != "" {
		return bsd.Packaging{}, nil, bsd.Conflict("packaging %s is already repackaged into %s", packaging.ID, packaging.NextPackagingID)
	}
	if packaging.DocumentID == next.DocumentID {
		return bsd.Packaging{}, nil, bsd.Validation("a packaging cannot be repackaged into its own document")
	}
	origin, _, err := loadDocument(ctx, tx, packaging.DocumentID)
	if err != nil {
		return bsd.Packaging{}, nil, err
	}
	target, _, err := loadDocument(ctx, tx, next.DocumentID)
	if err != nil {
		return bsd.Packaging{}, nil, err
	}
	legs, err := tx.Transporters().ListByDocument(ctx, target.ID)
	if err != nil {
		return bsd.Packaging{}, nil, err
	}
	if err := requireMember(actor, documentMembers(target, legs), "repackage into it"); err != nil {
		return bsd.Packaging{}, nil, err
	}
	if target.CreatedAt.Before(origin.CreatedAt) {
		return bsd.Packaging{}, nil, bsd.Validation("packaging %s cannot be repackaged into an earlier document", packaging.ID)
	}
	downstream, err := forwardFrom(ctx, tx.Packagings(), next, s.bound(-1), map[string]struct{}{next.ID: {}})
	if err != nil {
		return bsd.Packaging{}, nil, err
	}
	for _, p := range downstream {
		if p.ID == packaging.ID {
			return bsd.Packaging{}, nil, bsd.Validation("linking %s to %s would create a cycle", packaging.ID, next.ID)
		}
	}

	packaging.NextPackagingID = next.ID
	if err := tx.Packagings().Update(ctx, packaging); err != nil {
		return bsd.Packaging{}, nil, err
	}
	origin.UpdatedAt = s.Clock.now()
	touched, err := tx.Documents().Update(ctx, origin)
	if err != nil {
		return bsd.Packaging{}, nil, err
	}
	rec := documentEvent(touched, bsd.EventUpdated, actor, map[string]any{
		"packagings": []any{map[string]any{"id": packaging.ID, "nextPackagingId": next.ID}},
	})
	if err := appendEvent(ctx, tx, rec); err != nil {
		return bsd.Packaging{}, nil, err
	}
	return packaging, []Effect{effectFor(EffectUpdated, touched)}, nil
}

func relationField(kind relationKind) string {
	if kind == relationSynthesis {
		return "synthesizing"
	}
	return "grouping"
}

func relationOf(doc bsd.Document, kind relationKind) string {
	if kind == relationSynthesis {
		return doc.SynthesizedInID
	}
	return doc.GroupedInID
}

func setRelation(doc *bsd.Document, kind relationKind, id string) {
	if kind == relationSynthesis {
		doc.SynthesizedInID = id
		return
	}
	doc.GroupedInID = id
}

func linkedSources(ctx context.Context, tx Tx, id string, kind relationKind) ([]bsd.Document, error) {
	if kind == relationSynthesis {
		return tx.Documents().ListSynthesizedIn(ctx, id)
	}
	return tx.Documents().ListGroupedIn(ctx, id)
}

// directSources lists the documents doc aggregates or continues.
func directSources(ctx context.Context, tx Tx, doc bsd.Document) ([]bsd.Document, error) {
	grouped, err := tx.Documents().ListGroupedIn(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	synthesized, err := tx.Documents().ListSynthesizedIn(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	out := append(grouped, synthesized...)
	if doc.ForwardingID != "" {
		forwarded, err := tx.Documents().Get(ctx, doc.ForwardingID)
		switch {
		case err == nil:
			out = append(out, forwarded)
		case !isNotFound(err):
			return nil, err
		}
	}
	live := out[:0]
	for _, source := range out {
		if !source.IsDeleted {
			live = append(live, source)
		}
	}
	return live, nil
}

// releaseSources unlinks the documents grouped or synthesized into doc.
func releaseSources(ctx context.Context, tx Tx, doc bsd.Document, actor Actor, now time.Time) ([]Effect, error) {
	var effects []Effect
	for _, kind := range []relationKind{relationGroup, relationSynthesis} {
		sources, err := linkedSources(ctx, tx, doc.ID, kind)
		if err != nil {
			return nil, err
		}
		for _, source := range sources {
			after := source.Clone()
			setRelation(&after, kind, "")
			_, effect, err := saveDocument(ctx, tx, source, after, actor, now, map[string]any{"unlinkedFrom": doc.ID})
			if err != nil {
				return nil, err
			}
			effects = append(effects, effect)
		}
	}
	return effects, nil
}

// finalizeSources marks every upstream document still awaiting a treatment
// as finalized by doc, walking the aggregation links up to DefaultMaxHops
// levels.
func finalizeSources(ctx context.Context, tx Tx, doc bsd.Document, now time.Time) ([]Effect, error) {
	var effects []Effect
	visited := map[string]struct{}{doc.ID: {}}
	frontier := []bsd.Document{doc}
	for hop := 0; hop < DefaultMaxHops && len(frontier) > 0; hop++ {
		var next []bsd.Document
		for _, current := range frontier {
			sources, err := directSources(ctx, tx, current)
			if err != nil {
				return nil, err
			}
			for _, source := range sources {
				if _, seen := visited[source.ID]; seen {
					continue
				}
				visited[source.ID] = struct{}{}
				if source.Signatures.Operation == nil || source.Operation.IsFinal() || source.Operation.FinalizedByID != "" {
					continue
				}
				after := source.Clone()
				after.Operation.FinalizedByID = doc.ID
				saved, effect, err := saveDocument(ctx, tx, source, after, systemActor, now, map[string]any{"finalizedBy": doc.ID})
				if err != nil {
					return nil, err
				}
				effects = append(effects, effect)
				next = append(next, saved)
			}
		}
		frontier = next
	}
	return effects, nil
}

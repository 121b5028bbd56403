package usecase_test

import (
	"context"
	"testing"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/usecase"
)

func (h *harness) createBsff(t *testing.T, packagings int) (bsd.Document, []bsd.Packaging) {
	t.Helper()
	ctx := context.Background()
	input := usecase.CreateInput{
		Family:      bsd.FamilyBSFF,
		Emitter:     company(emitterSiret, "Emitter"),
		Destination: company(destinationSiret, "Destination"),
		Waste:       bsd.Waste{Code: "14 06 01*", Quantity: quantity("2")},
		Actor:       actorOf(emitterSiret),
	}
	for i := 0; i < packagings; i++ {
		input.Packagings = append(input.Packagings, bsd.Packaging{Type: "BOUTEILLE", Weight: quantity("1"), Volume: quantity("0.5")})
	}
	doc, err := h.docs.Create(ctx, input)
	if err != nil {
		t.Fatalf("create bsff: %v", err)
	}
	created, err := h.docs.Packagings(ctx, doc.ID)
	if err != nil {
		t.Fatalf("packagings: %v", err)
	}
	if len(created) != packagings {
		t.Fatalf("expected %d packagings, got %d", packagings, len(created))
	}
	return doc, created
}

func (h *harness) link(t *testing.T, from, to bsd.Packaging) {
	t.Helper()
	if _, err := h.graph.LinkPackaging(context.Background(), from.ID, to.ID, actorOf(emitterSiret)); err != nil {
		t.Fatalf("link %s -> %s: %v", from.ID, to.ID, err)
	}
}

func ids(packagings []bsd.Packaging) []string {
	out := make([]string, len(packagings))
	for i, p := range packagings {
		out[i] = p.ID
	}
	return out
}

func sameIDs(got []bsd.Packaging, want ...bsd.Packaging) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i].ID != want[i].ID {
			return false
		}
	}
	return true
}

func TestPackagingTraversal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, a := h.createBsff(t, 1)
	_, b := h.createBsff(t, 1)
	_, c := h.createBsff(t, 1)
	h.link(t, a[0], b[0])
	h.link(t, b[0], c[0])

	forward, err := h.graph.Forward(ctx, a[0].ID, -1)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !sameIDs(forward, b[0], c[0]) {
		t.Fatalf("forward should be nearest first, got %v", ids(forward))
	}
	backward, err := h.graph.Backward(ctx, []string{c[0].ID}, -1)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	if !sameIDs(backward, a[0], b[0]) {
		t.Fatalf("backward should be most distant first, got %v", ids(backward))
	}

	for _, p := range []bsd.Packaging{a[0], b[0], c[0]} {
		down, err := h.graph.Forward(ctx, p.ID, -1)
		if err != nil {
			t.Fatalf("forward %s: %v", p.ID, err)
		}
		for _, q := range down {
			up, err := h.graph.Backward(ctx, []string{q.ID}, -1)
			if err != nil {
				t.Fatalf("backward %s: %v", q.ID, err)
			}
			found := false
			for _, r := range up {
				found = found || r.ID == p.ID
			}
			if !found {
				t.Fatalf("%s is downstream of %s but not the other way round", q.ID, p.ID)
			}
		}
	}

	none, err := h.graph.Forward(ctx, a[0].ID, 0)
	if err != nil || len(none) != 0 {
		t.Fatalf("zero hops must return nothing, got %v err=%v", ids(none), err)
	}
	one, err := h.graph.Forward(ctx, a[0].ID, 1)
	if err != nil || !sameIDs(one, b[0]) {
		t.Fatalf("one hop should stop at the next packaging, got %v err=%v", ids(one), err)
	}
	none, err = h.graph.Backward(ctx, []string{c[0].ID}, 0)
	if err != nil || len(none) != 0 {
		t.Fatalf("zero hops must return nothing, got %v err=%v", ids(none), err)
	}

	_, err = h.graph.Backward(ctx, nil, -1)
	expectCode(t, err, bsd.ErrValidation, bsd.CodeBadUserInput)
	_, err = h.graph.Forward(ctx, "missing", -1)
	expectCode(t, err, bsd.ErrNotFound, bsd.CodeNotFound)
}

func TestBackwardFanIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, sources := h.createBsff(t, 2)
	_, middle := h.createBsff(t, 1)
	_, last := h.createBsff(t, 1)
	h.link(t, sources[0], middle[0])
	h.link(t, sources[1], middle[0])
	h.link(t, middle[0], last[0])

	backward, err := h.graph.Backward(ctx, []string{last[0].ID, last[0].ID}, -1)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	if len(backward) != 3 {
		t.Fatalf("expected 3 packagings, got %v", ids(backward))
	}
	if backward[2].ID != middle[0].ID {
		t.Fatalf("direct predecessor should come last, got %v", ids(backward))
	}
	seen := map[string]bool{backward[0].ID: true, backward[1].ID: true}
	if !seen[sources[0].ID] || !seen[sources[1].ID] {
		t.Fatalf("both sources expected first, got %v", ids(backward))
	}
}

func TestTraversalTerminatesOnCycles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, a := h.createBsff(t, 1)
	_, b := h.createBsff(t, 1)
	_, c := h.createBsff(t, 1)
	h.link(t, a[0], b[0])
	h.link(t, b[0], c[0])

	// Links are validated on write, so the cycle is forced through the store.
	err := h.store.WithinTx(ctx, func(tx usecase.Tx) error {
		p, err := tx.Packagings().Get(ctx, c[0].ID)
		if err != nil {
			return err
		}
		p.NextPackagingID = a[0].ID
		return tx.Packagings().Update(ctx, p)
	})
	if err != nil {
		t.Fatalf("force cycle: %v", err)
	}

	forward, err := h.graph.Forward(ctx, a[0].ID, -1)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !sameIDs(forward, b[0], c[0]) {
		t.Fatalf("unexpected forward walk %v", ids(forward))
	}
	backward, err := h.graph.Backward(ctx, []string{a[0].ID}, -1)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	if !sameIDs(backward, b[0], c[0]) {
		t.Fatalf("unexpected backward walk %v", ids(backward))
	}
}

func TestLinkPackagingRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	emitter := actorOf(emitterSiret)
	_, a := h.createBsff(t, 2)
	bDoc, b := h.createBsff(t, 1)
	_, c := h.createBsff(t, 1)

	_, err := h.graph.LinkPackaging(ctx, a[0].ID, a[1].ID, emitter)
	expectCode(t, err, bsd.ErrValidation, bsd.CodeBadUserInput)

	_, err = h.graph.LinkPackaging(ctx, a[0].ID, b[0].ID, actorOf(outletSiret))
	expectCode(t, err, bsd.ErrForbidden, bsd.CodeForbidden)

	before := h.streamLen(t, bDoc.ID)
	h.link(t, a[0], b[0])
	if _, err := h.graph.LinkPackaging(ctx, a[0].ID, b[0].ID, emitter); err != nil {
		t.Fatalf("relinking to the same target is a no-op: %v", err)
	}
	if n := h.streamLen(t, bDoc.ID); n != before {
		t.Fatalf("linking records the event on the origin document only, got %d events", n)
	}
	_, err = h.graph.LinkPackaging(ctx, a[0].ID, c[0].ID, emitter)
	expectCode(t, err, bsd.ErrConflict, bsd.CodeConflict)

	_, err = h.graph.LinkPackaging(ctx, c[0].ID, a[1].ID, emitter)
	expectCode(t, err, bsd.ErrValidation, bsd.CodeBadUserInput)
}

func (h *harness) processedDasri(t *testing.T) bsd.Document {
	t.Helper()
	doc := h.signThroughTransport(t, h.createDocument(t, bsd.FamilyBSDASRI, leg(transporter1Siret)))
	h.sign(t, usecase.SignInput{DocumentID: doc.ID, Stage: bsd.StageReception, Reception: accepted("11"), Actor: actorOf(destinationSiret)})
	return h.sign(t, usecase.SignInput{DocumentID: doc.ID, Stage: bsd.StageOperation, Operation: operation("R 12"), Actor: actorOf(destinationSiret)})
}

func (h *harness) dasriAggregate(t *testing.T, kind bsd.BsdasriType, emitter string) bsd.Document {
	t.Helper()
	doc, err := h.docs.Create(context.Background(), usecase.CreateInput{
		Family:       bsd.FamilyBSDASRI,
		Emitter:      company(emitter, "Aggregate emitter"),
		Destination:  company(outletSiret, "Outlet"),
		Waste:        bsd.Waste{Code: "18 01 03*", Quantity: quantity("11")},
		Details:      &bsd.BsdasriDetails{Type: kind},
		Transporters: []bsd.Leg{leg(transporter1Siret)},
		Actor:        actorOf(emitter),
	})
	if err != nil {
		t.Fatalf("create aggregate: %v", err)
	}
	return doc
}

func TestGroupRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	destination := actorOf(destinationSiret)
	first := h.processedDasri(t)
	second := h.processedDasri(t)
	aggregate := h.dasriAggregate(t, bsd.BsdasriTypeGrouping, destinationSiret)

	if _, err := h.graph.Group(ctx, usecase.RelationInput{DocumentID: aggregate.ID, SourceIDs: []string{first.ID}, Actor: destination}); err != nil {
		t.Fatalf("group: %v", err)
	}
	other := h.dasriAggregate(t, bsd.BsdasriTypeGrouping, destinationSiret)
	_, err := h.graph.Group(ctx, usecase.RelationInput{DocumentID: other.ID, SourceIDs: []string{first.ID}, Actor: destination})
	expectCode(t, err, bsd.ErrConflict, bsd.CodeConflict)

	// Regrouping replaces the previous set.
	if _, err := h.graph.Group(ctx, usecase.RelationInput{DocumentID: aggregate.ID, SourceIDs: []string{second.ID}, Actor: destination}); err != nil {
		t.Fatalf("regroup: %v", err)
	}
	released, err := h.docs.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if released.GroupedInID != "" {
		t.Fatalf("first source should be released, still grouped in %s", released.GroupedInID)
	}
	summaries, err := h.graph.GroupingOf(ctx, aggregate.ID)
	if err != nil || len(summaries) != 1 || summaries[0].ID != second.ID {
		t.Fatalf("unexpected grouping %+v err=%v", summaries, err)
	}

	_, err = h.graph.Group(ctx, usecase.RelationInput{DocumentID: aggregate.ID, SourceIDs: []string{aggregate.ID}, Actor: destination})
	expectCode(t, err, bsd.ErrValidation, bsd.CodeBadUserInput)

	pending := h.createDocument(t, bsd.FamilyBSDASRI, leg(transporter1Siret))
	_, err = h.graph.Group(ctx, usecase.RelationInput{DocumentID: aggregate.ID, SourceIDs: []string{pending.ID}, Actor: destination})
	expectCode(t, err, bsd.ErrValidation, bsd.CodeBadUserInput)

	simple := h.dasriAggregate(t, bsd.BsdasriTypeSimple, destinationSiret)
	_, err = h.graph.Group(ctx, usecase.RelationInput{DocumentID: simple.ID, SourceIDs: []string{first.ID}, Actor: destination})
	expectCode(t, err, bsd.ErrValidation, bsd.CodeBadUserInput)

	h.sign(t, usecase.SignInput{DocumentID: aggregate.ID, Stage: bsd.StageEmission, Actor: destination})
	_, err = h.graph.Group(ctx, usecase.RelationInput{DocumentID: aggregate.ID, SourceIDs: []string{first.ID, second.ID}, Actor: destination})
	expectCode(t, err, bsd.ErrForbidden, bsd.CodeSealedFields)
}

func TestSynthesisOfDocumentsInTransit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	carrier := actorOf(transporter1Siret)
	inTransit := h.signThroughTransport(t, h.createDocument(t, bsd.FamilyBSDASRI, leg(transporter1Siret)))
	synthesis := h.dasriAggregate(t, bsd.BsdasriTypeSynthesis, transporter1Siret)

	grouping := h.dasriAggregate(t, bsd.BsdasriTypeGrouping, transporter1Siret)
	_, err := h.graph.Synthesize(ctx, usecase.RelationInput{DocumentID: grouping.ID, SourceIDs: []string{inTransit.ID}, Actor: carrier})
	expectCode(t, err, bsd.ErrValidation, bsd.CodeBadUserInput)

	saved, err := h.graph.Synthesize(ctx, usecase.RelationInput{DocumentID: synthesis.ID, SourceIDs: []string{inTransit.ID}, Actor: carrier})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(saved.OriginEmitterSirets) != 1 || saved.OriginEmitterSirets[0] != emitterSiret {
		t.Fatalf("unexpected origin emitters %v", saved.OriginEmitterSirets)
	}
	summaries, err := h.graph.SynthesizingOf(ctx, synthesis.ID)
	if err != nil || len(summaries) != 1 || summaries[0].ID != inTransit.ID {
		t.Fatalf("unexpected synthesis %+v err=%v", summaries, err)
	}
}

func TestForwardDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	destination := actorOf(destinationSiret)

	doc := h.signThroughTransport(t, h.createDocument(t, bsd.FamilyBSDD, leg(transporter1Siret)))
	h.sign(t, usecase.SignInput{DocumentID: doc.ID, Stage: bsd.StageReception, Reception: accepted("11"), Actor: destination})
	doc = h.sign(t, usecase.SignInput{DocumentID: doc.ID, Stage: bsd.StageOperation, Operation: operation("R 13"), Actor: destination})
	if doc.Status != bsd.StatusAwaitingGroup {
		t.Fatalf("expected AWAITING_GROUP, got %s", doc.Status)
	}

	forwarding, err := h.docs.Create(ctx, usecase.CreateInput{
		Family:       bsd.FamilyBSDD,
		Emitter:      company(destinationSiret, "Destination"),
		Destination:  company(outletSiret, "Outlet"),
		Waste:        bsd.Waste{Code: "18 01 03*", Quantity: quantity("11")},
		Transporters: []bsd.Leg{leg(transporter2Siret)},
		Actor:        destination,
	})
	if err != nil {
		t.Fatalf("create forwarding document: %v", err)
	}
	forwarding, err = h.graph.ForwardDocument(ctx, forwarding.ID, doc.ID, destination)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if forwarding.ForwardingID != doc.ID {
		t.Fatalf("unexpected forwarding id %q", forwarding.ForwardingID)
	}
	found, err := h.graph.ForwardedBy(ctx, doc.ID)
	if err != nil || found.ID != forwarding.ID {
		t.Fatalf("unexpected forwarding document %s err=%v", found.ID, err)
	}

	aggregate, err := h.docs.Create(ctx, usecase.CreateInput{
		Family:      bsd.FamilyBSDD,
		Emitter:     company(destinationSiret, "Destination"),
		Destination: company(outletSiret, "Outlet"),
		Actor:       destination,
	})
	if err != nil {
		t.Fatalf("create aggregate: %v", err)
	}
	_, err = h.graph.Group(ctx, usecase.RelationInput{DocumentID: aggregate.ID, SourceIDs: []string{doc.ID}, Actor: destination})
	expectCode(t, err, bsd.ErrConflict, bsd.CodeConflict)

	if err := h.docs.Delete(ctx, forwarding.ID, destination); err != nil {
		t.Fatalf("delete forwarding document: %v", err)
	}
	_, err = h.graph.ForwardedBy(ctx, doc.ID)
	expectCode(t, err, bsd.ErrNotFound, bsd.CodeNotFound)
}

func TestGroupComposesInOneTransaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	destination := actorOf(destinationSiret)
	source := h.processedDasri(t)
	pending := h.createDocument(t, bsd.FamilyBSDASRI, leg(transporter1Siret))
	aggregateInput := usecase.CreateInput{
		Family:       bsd.FamilyBSDASRI,
		Emitter:      company(destinationSiret, "Destination"),
		Destination:  company(outletSiret, "Outlet"),
		Waste:        bsd.Waste{Code: "18 01 03*", Quantity: quantity("11")},
		Details:      &bsd.BsdasriDetails{Type: bsd.BsdasriTypeGrouping},
		Transporters: []bsd.Leg{leg(transporter1Siret)},
		Actor:        destination,
	}
	outletDocs := func() []bsd.Document {
		docs, err := h.docs.List(ctx, usecase.FindDocumentsFilter{Siret: outletSiret, Family: bsd.FamilyBSDASRI})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		return docs
	}

	enqueued := len(h.queue.recorded())
	err := h.runner.Run(ctx, func(tx usecase.Tx) ([]usecase.Effect, error) {
		aggregate, created, err := h.docs.CreateTx(ctx, tx, aggregateInput)
		if err != nil {
			return nil, err
		}
		_, grouped, err := h.graph.GroupTx(ctx, tx, usecase.RelationInput{DocumentID: aggregate.ID, SourceIDs: []string{pending.ID}, Actor: destination})
		return append(created, grouped...), err
	})
	expectCode(t, err, bsd.ErrValidation, bsd.CodeBadUserInput)
	if docs := outletDocs(); len(docs) != 0 {
		t.Fatalf("the aggregate must be rolled back with the failed group, got %d", len(docs))
	}
	if n := len(h.queue.recorded()); n != enqueued {
		t.Fatalf("a rolled back transaction must not enqueue effects, got %d -> %d", enqueued, n)
	}

	var aggregateID string
	err = h.runner.Run(ctx, func(tx usecase.Tx) ([]usecase.Effect, error) {
		aggregate, created, err := h.docs.CreateTx(ctx, tx, aggregateInput)
		if err != nil {
			return nil, err
		}
		aggregateID = aggregate.ID
		_, grouped, err := h.graph.GroupTx(ctx, tx, usecase.RelationInput{DocumentID: aggregate.ID, SourceIDs: []string{source.ID}, Actor: destination})
		return append(created, grouped...), err
	})
	if err != nil {
		t.Fatalf("create and group: %v", err)
	}
	grouped, err := h.docs.Get(ctx, source.ID)
	if err != nil || grouped.GroupedInID != aggregateID {
		t.Fatalf("source should be grouped in %s, got %q err=%v", aggregateID, grouped.GroupedInID, err)
	}
	summaries, err := h.graph.GroupingOf(ctx, aggregateID)
	if err != nil || len(summaries) != 1 || summaries[0].ID != source.ID {
		t.Fatalf("unexpected grouping %+v err=%v", summaries, err)
	}
	if totals := bsd.SumTotals(summaries); totals.Count != 1 || !totals.Quantity.Equal(quantity("11")) {
		t.Fatalf("unexpected totals %+v", totals)
	}
}

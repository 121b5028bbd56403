package usecase_test

import (
	"context"
	"testing"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/usecase"
)

func TestDisconnectRenumbersFollowingLegs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.createDocument(t, bsd.FamilyBSDD, leg(transporter1Siret), leg(transporter2Siret), leg(transporter3Siret))
	legs, err := h.transporters.Legs(ctx, doc.ID)
	if err != nil {
		t.Fatalf("legs: %v", err)
	}

	if err := h.transporters.Disconnect(ctx, usecase.DisconnectInput{
		DocumentID: doc.ID,
		LegIDs:     []string{legs[1].ID},
		Actor:      actorOf(emitterSiret),
	}); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	remaining, err := h.transporters.Legs(ctx, doc.ID)
	if err != nil {
		t.Fatalf("legs: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(remaining))
	}
	for i, l := range remaining {
		if l.Number != i+1 {
			t.Fatalf("leg %d has number %d", i, l.Number)
		}
	}
	if remaining[1].Company.Siret != transporter3Siret {
		t.Fatalf("third transporter should now be second, got %s", remaining[1].Company.Siret)
	}

	listed, err := h.docs.List(ctx, usecase.FindDocumentsFilter{Siret: transporter2Siret})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("disconnected transporter should no longer see the document, got %d", len(listed))
	}

	n, err := h.transporters.Connect(ctx, doc.ID, legs[1].ID, actorOf(emitterSiret))
	if err != nil {
		t.Fatalf("reconnect detached leg: %v", err)
	}
	if n != 3 {
		t.Fatalf("reconnected leg should be appended as 3, got %d", n)
	}
}

func TestDisconnectRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.createDocument(t, bsd.FamilyBSDD, leg(transporter1Siret), leg(transporter2Siret))
	legs, err := h.transporters.Legs(ctx, doc.ID)
	if err != nil {
		t.Fatalf("legs: %v", err)
	}
	before := h.streamLen(t, doc.ID)

	err = h.transporters.Disconnect(ctx, usecase.DisconnectInput{
		DocumentID: doc.ID,
		LegIDs:     []string{legs[0].ID, legs[1].ID},
		Actor:      actorOf(emitterSiret),
	})
	expectCode(t, err, bsd.ErrInvariant, bsd.CodeInvariant)

	err = h.transporters.Disconnect(ctx, usecase.DisconnectInput{DocumentID: doc.ID, Actor: actorOf(emitterSiret)})
	expectCode(t, err, bsd.ErrValidation, bsd.CodeBadUserInput)

	err = h.transporters.Disconnect(ctx, usecase.DisconnectInput{
		DocumentID: doc.ID,
		LegIDs:     []string{"missing"},
		Actor:      actorOf(emitterSiret),
	})
	expectCode(t, err, bsd.ErrNotFound, bsd.CodeNotFound)

	h.signThroughTransport(t, doc)
	err = h.transporters.Disconnect(ctx, usecase.DisconnectInput{
		DocumentID: doc.ID,
		LegIDs:     []string{legs[0].ID},
		Actor:      actorOf(emitterSiret),
	})
	expectCode(t, err, bsd.ErrForbidden, bsd.CodeForbidden)

	// Two signatures were recorded in between; nothing else.
	if n := h.streamLen(t, doc.ID); n != before+2 {
		t.Fatalf("expected %d events, got %d", before+2, n)
	}
}

func TestConnectRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.createDocument(t, bsd.FamilyBSDA)
	other := h.createDocument(t, bsd.FamilyBSDA)
	emitter := actorOf(emitterSiret)

	first := h.newTransporter(t, transporter1Siret)
	if n, err := h.transporters.Connect(ctx, doc.ID, first.ID, emitter); err != nil || n != 1 {
		t.Fatalf("connect: n=%d err=%v", n, err)
	}
	_, err := h.transporters.Connect(ctx, doc.ID, first.ID, emitter)
	expectCode(t, err, bsd.ErrConflict, bsd.CodeConflict)
	_, err = h.transporters.Connect(ctx, other.ID, first.ID, emitter)
	expectCode(t, err, bsd.ErrConflict, bsd.CodeConflict)

	stranger := h.newTransporter(t, transporter2Siret)
	_, err = h.transporters.Connect(ctx, doc.ID, stranger.ID, actorOf(outletSiret))
	expectCode(t, err, bsd.ErrForbidden, bsd.CodeForbidden)

	for i := 2; i <= bsd.MaxTransporters; i++ {
		l := h.newTransporter(t, transporter2Siret)
		n, err := h.transporters.Connect(ctx, doc.ID, l.ID, emitter)
		if err != nil || n != i {
			t.Fatalf("connect #%d: n=%d err=%v", i, n, err)
		}
	}
	extra := h.newTransporter(t, transporter3Siret)
	_, err = h.transporters.Connect(ctx, doc.ID, extra.ID, emitter)
	expectCode(t, err, bsd.ErrValidation, bsd.CodeBadUserInput)
}

func TestCurrentAndNextTransporter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.createDocument(t, bsd.FamilyBSDD, leg(transporter1Siret), leg(transporter2Siret))

	current, err := h.transporters.CurrentTransporter(ctx, doc.ID)
	if err != nil || current != nil {
		t.Fatalf("no leg signed yet, got %+v err=%v", current, err)
	}
	h.signThroughTransport(t, doc)

	current, err = h.transporters.CurrentTransporter(ctx, doc.ID)
	if err != nil || current == nil || current.Company.Siret != transporter1Siret {
		t.Fatalf("unexpected current transporter %+v err=%v", current, err)
	}
	next, err := h.transporters.NextTransporter(ctx, doc.ID)
	if err != nil || next == nil || next.Company.Siret != transporter2Siret {
		t.Fatalf("unexpected next transporter %+v err=%v", next, err)
	}

	doc = h.sign(t, usecase.SignInput{DocumentID: doc.ID, Stage: bsd.StageTransport, Actor: actorOf(transporter2Siret)})
	if doc.CurrentTransporterSiret != transporter2Siret || doc.NextTransporterSiret != "" {
		t.Fatalf("unexpected transporter sirets current=%s next=%s", doc.CurrentTransporterSiret, doc.NextTransporterSiret)
	}
	_, err = h.docs.Sign(ctx, usecase.SignInput{DocumentID: doc.ID, Stage: bsd.StageTransport, Actor: actorOf(transporter2Siret)})
	expectCode(t, err, bsd.ErrConflict, bsd.CodeAlreadySigned)
}

func TestTransportSignatureRequiresNextTransporter(t *testing.T) {
	h := newHarness(t)
	doc := h.createDocument(t, bsd.FamilyBSDD, leg(transporter1Siret), leg(transporter2Siret))
	h.sign(t, usecase.SignInput{DocumentID: doc.ID, Stage: bsd.StageEmission, Actor: actorOf(emitterSiret)})

	_, err := h.docs.Sign(context.Background(), usecase.SignInput{
		DocumentID: doc.ID,
		Stage:      bsd.StageTransport,
		Actor:      actorOf(transporter2Siret),
	})
	expectCode(t, err, bsd.ErrForbidden, bsd.CodeForbidden)
}

func TestLegsFrozenOnceReceived(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	destination := actorOf(destinationSiret)
	doc := h.createDocument(t, bsd.FamilyBSDD, leg(transporter1Siret), leg(transporter2Siret))
	doc = h.signThroughTransport(t, doc)
	legs, err := h.transporters.Legs(ctx, doc.ID)
	if err != nil || len(legs) != 2 {
		t.Fatalf("legs: %+v err=%v", legs, err)
	}

	h.sign(t, usecase.SignInput{DocumentID: doc.ID, Stage: bsd.StageReception, Reception: accepted("11"), Actor: destination})

	late := h.newTransporter(t, transporter3Siret)
	_, err = h.transporters.Connect(ctx, doc.ID, late.ID, destination)
	expectCode(t, err, bsd.ErrForbidden, bsd.CodeForbidden)
	err = h.transporters.Disconnect(ctx, usecase.DisconnectInput{DocumentID: doc.ID, LegIDs: []string{legs[1].ID}, Actor: destination})
	expectCode(t, err, bsd.ErrForbidden, bsd.CodeForbidden)

	next, err := h.transporters.NextTransporter(ctx, doc.ID)
	if err != nil || next == nil || next.ID != legs[1].ID {
		t.Fatalf("connect must not change the pending leg, got %+v err=%v", next, err)
	}
}

package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/repo/memory"
	"bordereau/internal/usecase"
)

const (
	emitterSiret      = "11111111111111"
	destinationSiret  = "22222222222222"
	workerSiret       = "33333333333333"
	transporter1Siret = "44444444444444"
	transporter2Siret = "55555555555555"
	transporter3Siret = "66666666666666"
	brokerSiret       = "77777777777777"
	ecoSiret          = "88888888888888"
	outletSiret       = "99999999999999"
)

// tickingClock returns a clock advancing one second per call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

type recordingQueue struct {
	mu      sync.Mutex
	effects []usecase.Effect
	failFor map[string]error
}

func (q *recordingQueue) Enqueue(_ context.Context, effect usecase.Effect) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.failFor[effect.DocumentID]; err != nil {
		return err
	}
	q.effects = append(q.effects, effect)
	return nil
}

func (q *recordingQueue) recorded() []usecase.Effect {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]usecase.Effect(nil), q.effects...)
}

type harness struct {
	store        *memory.Store
	queue        *recordingQueue
	runner       *usecase.TxRunner
	docs         *usecase.DocumentService
	transporters *usecase.TransporterService
	graph        *usecase.GraphService
	revisions    *usecase.RevisionService
	events       *usecase.EventLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := tickingClock()
	store := memory.NewWithClock(clock)
	queue := &recordingQueue{failFor: map[string]error{}}
	runner := usecase.NewTxRunner(store, queue, nil, nil)

	docs := usecase.NewDocumentService(runner, nil, nil, nil)
	docs.Clock = clock
	transporters := usecase.NewTransporterService(runner)
	transporters.Clock = clock
	graph := usecase.NewGraphService(runner, 0)
	graph.Clock = clock
	revisions := usecase.NewRevisionService(runner, nil, nil)
	revisions.Clock = clock

	return &harness{
		store:        store,
		queue:        queue,
		runner:       runner,
		docs:         docs,
		transporters: transporters,
		graph:        graph,
		revisions:    revisions,
		events:       usecase.NewEventLog(runner),
	}
}

func actorOf(orgs ...string) usecase.Actor {
	return usecase.Actor{ID: "user-" + orgs[0], Type: "user", AuthType: "header", Orgs: orgs}
}

func company(siret, name string) bsd.Company {
	return bsd.Company{Siret: siret, Name: name, Contact: "Contact " + name, Phone: "0102030405"}
}

func leg(siret string) bsd.Leg {
	return bsd.Leg{
		Company: company(siret, "Transporter "+siret),
		Receipt: bsd.TransporterReceipt{Number: "REC-" + siret},
		Plates:  []string{"AB-123-CD"},
	}
}

func quantity(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// createDocument creates a published document with emitter, destination and
// the given legs.
func (h *harness) createDocument(t *testing.T, family bsd.Family, legs ...bsd.Leg) bsd.Document {
	t.Helper()
	input := usecase.CreateInput{
		Family:       family,
		Emitter:      company(emitterSiret, "Emitter"),
		Destination:  company(destinationSiret, "Destination"),
		Waste:        bsd.Waste{Code: "18 01 03*", Quantity: quantity("11")},
		Transporters: legs,
		Actor:        actorOf(emitterSiret),
	}
	doc, err := h.docs.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("create %s: %v", family, err)
	}
	return doc
}

func (h *harness) sign(t *testing.T, input usecase.SignInput) bsd.Document {
	t.Helper()
	doc, err := h.docs.Sign(context.Background(), input)
	if err != nil {
		t.Fatalf("sign %s: %v", input.Stage, err)
	}
	return doc
}

func (h *harness) signThroughTransport(t *testing.T, doc bsd.Document) bsd.Document {
	t.Helper()
	doc = h.sign(t, usecase.SignInput{DocumentID: doc.ID, Stage: bsd.StageEmission, Actor: actorOf(emitterSiret)})
	return h.sign(t, usecase.SignInput{DocumentID: doc.ID, Stage: bsd.StageTransport, Actor: actorOf(transporter1Siret)})
}

func (h *harness) streamLen(t *testing.T, streamID string) int {
	t.Helper()
	events, err := h.events.Stream(context.Background(), streamID)
	if err != nil {
		t.Fatalf("stream %s: %v", streamID, err)
	}
	return len(events)
}

func accepted(v string) *bsd.Reception {
	return &bsd.Reception{AcceptationStatus: bsd.AcceptationAccepted, QuantityReceived: quantity(v)}
}

func operation(code string) *bsd.Operation {
	return &bsd.Operation{Code: code, Mode: "VALORISATION_ENERGETIQUE"}
}

func expectCode(t *testing.T, err error, sentinel error, code string) {
	t.Helper()
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected %v, got %v", sentinel, err)
	}
	if code == "" {
		return
	}
	de, ok := bsd.AsError(err)
	if !ok || de.Code != code {
		t.Fatalf("expected code %s, got %v", code, err)
	}
}

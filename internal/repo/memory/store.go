package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/usecase"
)

// Store keeps every record in memory. Each transaction works on a private
// copy; commit fails with bsd.ErrTxConflict when a record the transaction
// read or wrote was committed by someone else in the meantime.
type Store struct {
	mu       sync.Mutex
	data     *dataset
	commit   int64
	modified map[string]int64
	clock    func() time.Time
}

func New() *Store {
	return NewWithClock(time.Now)
}

func NewWithClock(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		data:     newDataset(),
		modified: make(map[string]int64),
		clock:    clock,
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx usecase.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	t := &tx{
		data:   s.data.clone(),
		start:  s.commit,
		reads:  make(map[string]struct{}),
		writes: make(map[string]struct{}),
		clock:  s.clock,
	}
	s.mu.Unlock()

	if err := fn(t); err != nil {
		return err
	}
	if len(t.writes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, keys := range []map[string]struct{}{t.reads, t.writes} {
		for key := range keys {
			if s.modified[key] > t.start {
				return bsd.TxConflict(fmt.Errorf("%s was modified concurrently", key))
			}
		}
	}
	s.commit++
	for key := range t.writes {
		s.data.copyKey(t.data, key)
		s.modified[key] = s.commit
	}
	return nil
}

type tx struct {
	data   *dataset
	start  int64
	reads  map[string]struct{}
	writes map[string]struct{}
	clock  func() time.Time
}

func (t *tx) read(key string)  { t.reads[key] = struct{}{} }
func (t *tx) write(key string) { t.writes[key] = struct{}{} }

func (t *tx) Documents() usecase.DocumentRepository       { return documentRepo{t} }
func (t *tx) Transporters() usecase.TransporterRepository { return legRepo{t} }
func (t *tx) Packagings() usecase.PackagingRepository     { return packagingRepo{t} }
func (t *tx) Revisions() usecase.RevisionRepository       { return revisionRepo{t} }
func (t *tx) Events() usecase.EventRepository             { return eventRepo{t} }

const (
	kindDocument  = "document"
	kindLeg       = "leg"
	kindPackaging = "packaging"
	kindRevision  = "revision"
	kindStream    = "stream"
)

func key(kind, id string) string {
	return kind + ":" + id
}

type dataset struct {
	documents  map[string]bsd.Document
	legs       map[string]bsd.Leg
	packagings map[string]bsd.Packaging
	revisions  map[string]bsd.RevisionRequest
	streams    map[string][]bsd.Event
}

func newDataset() *dataset {
	return &dataset{
		documents:  make(map[string]bsd.Document),
		legs:       make(map[string]bsd.Leg),
		packagings: make(map[string]bsd.Packaging),
		revisions:  make(map[string]bsd.RevisionRequest),
		streams:    make(map[string][]bsd.Event),
	}
}

func (d *dataset) clone() *dataset {
	out := newDataset()
	for id, doc := range d.documents {
		out.documents[id] = doc.Clone()
	}
	for id, leg := range d.legs {
		out.legs[id] = leg.Clone()
	}
	for id, p := range d.packagings {
		out.packagings[id] = p
	}
	for id, req := range d.revisions {
		out.revisions[id] = req.Clone()
	}
	for id, events := range d.streams {
		out.streams[id] = append([]bsd.Event(nil), events...)
	}
	return out
}

// copyKey makes the record named by k in src the committed one.
func (d *dataset) copyKey(src *dataset, k string) {
	kind, id, _ := strings.Cut(k, ":")
	switch kind {
	case kindDocument:
		d.documents[id] = src.documents[id]
	case kindLeg:
		if leg, ok := src.legs[id]; ok {
			d.legs[id] = leg
		} else {
			delete(d.legs, id)
		}
	case kindPackaging:
		d.packagings[id] = src.packagings[id]
	case kindRevision:
		d.revisions[id] = src.revisions[id]
	case kindStream:
		d.streams[id] = src.streams[id]
	}
}

package bsd

import (
	"strings"
	"time"
)

// Signature records who signed a stage and when.
type Signature struct {
	Author string    `json:"author"`
	Date   time.Time `json:"date"`
}

// Ledger holds one optional signature per stage. Transport mirrors the
// signature of the first transporter leg.
type Ledger struct {
	Emission  *Signature `json:"emission,omitempty"`
	Work      *Signature `json:"work,omitempty"`
	Transport *Signature `json:"transport,omitempty"`
	Reception *Signature `json:"reception,omitempty"`
	Operation *Signature `json:"operation,omitempty"`
}

func (l Ledger) Get(stage Stage) *Signature {
	switch stage {
	case StageEmission:
		return l.Emission
	case StageWork:
		return l.Work
	case StageTransport:
		return l.Transport
	case StageReception:
		return l.Reception
	case StageOperation:
		return l.Operation
	}
	return nil
}

func (l *Ledger) Set(stage Stage, sig *Signature) {
	switch stage {
	case StageEmission:
		l.Emission = sig
	case StageWork:
		l.Work = sig
	case StageTransport:
		l.Transport = sig
	case StageReception:
		l.Reception = sig
	case StageOperation:
		l.Operation = sig
	}
}

func (l Ledger) Signed(stage Stage) bool {
	return l.Get(stage) != nil
}

func (l Ledger) Empty() bool {
	return l.Emission == nil && l.Work == nil && l.Transport == nil && l.Reception == nil && l.Operation == nil
}

// Validate checks every recorded signature carries an author and a date.
func (l Ledger) Validate() error {
	for _, stage := range []Stage{StageEmission, StageWork, StageTransport, StageReception, StageOperation} {
		sig := l.Get(stage)
		if sig == nil {
			continue
		}
		if strings.TrimSpace(sig.Author) == "" {
			return Validation("signature author is required for stage %s", stage)
		}
		if sig.Date.IsZero() {
			return Validation("signature date is required for stage %s", stage)
		}
	}
	return nil
}

func (l Ledger) Clone() Ledger {
	return Ledger{
		Emission:  cloneSignature(l.Emission),
		Work:      cloneSignature(l.Work),
		Transport: cloneSignature(l.Transport),
		Reception: cloneSignature(l.Reception),
		Operation: cloneSignature(l.Operation),
	}
}

func cloneSignature(s *Signature) *Signature {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

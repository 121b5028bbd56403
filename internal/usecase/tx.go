package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"bordereau/internal/domain/bsd"
)

type EffectKind string

const (
	EffectCreated EffectKind = "created"
	EffectUpdated EffectKind = "updated"
	EffectDeleted EffectKind = "deleted"
)

// Effect is a side effect to run once the transaction that produced it has
// committed.
type Effect struct {
	Kind       EffectKind `json:"kind"`
	DocumentID string     `json:"documentId"`
	Family     bsd.Family `json:"family"`
}

func effectFor(kind EffectKind, doc bsd.Document) Effect {
	return Effect{Kind: kind, DocumentID: doc.ID, Family: doc.Family}
}

// TxRunner runs units of work inside Store transactions and executes their
// effects after commit. Effect failures are logged and counted; they never
// fail the call that produced them.
type TxRunner struct {
	Store   Store
	Queue   Queue
	Logger  logrus.FieldLogger
	Metrics Metrics
}

func NewTxRunner(store Store, queue Queue, logger logrus.FieldLogger, metrics Metrics) *TxRunner {
	return &TxRunner{Store: store, Queue: queue, Logger: logger, Metrics: metrics}
}

func (r *TxRunner) Run(ctx context.Context, fn func(tx Tx) ([]Effect, error)) error {
	if r == nil || r.Store == nil {
		return errors.New("store is required")
	}
	if fn == nil {
		return errors.New("transaction function is required")
	}
	var effects []Effect
	err := r.Store.WithinTx(ctx, func(tx Tx) error {
		out, err := fn(tx)
		if err != nil {
			return err
		}
		effects = out
		return nil
	})
	if err != nil {
		r.observeFailure(err)
		return err
	}
	r.execute(context.WithoutCancel(ctx), effects)
	return nil
}

// Read runs fn in a transaction that is not expected to produce effects.
func (r *TxRunner) Read(ctx context.Context, fn func(tx Tx) error) error {
	return r.Run(ctx, func(tx Tx) ([]Effect, error) {
		return nil, fn(tx)
	})
}

func (r *TxRunner) execute(ctx context.Context, effects []Effect) {
	for _, effect := range dedupeEffects(effects) {
		entry := r.logger().WithFields(logrus.Fields{
			"effect_kind": effect.Kind,
			"document_id": effect.DocumentID,
			"family":      effect.Family,
		})
		if r.Queue == nil {
			entry.Debug("no queue configured, effect dropped")
			continue
		}
		if err := r.enqueue(ctx, effect); err != nil {
			r.metrics().EffectFailed(effect.Kind)
			entry.WithError(err).Error("after-commit effect failed")
			continue
		}
		r.metrics().EffectExecuted(effect.Kind)
	}
}

func (r *TxRunner) enqueue(ctx context.Context, effect Effect) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("effect panicked: %v", p)
		}
	}()
	return r.Queue.Enqueue(ctx, effect)
}

func (r *TxRunner) observeFailure(err error) {
	switch {
	case errors.Is(err, bsd.ErrTxConflict):
		r.metrics().TxConflict()
		r.logger().WithError(err).Warn("transaction conflict")
	case errors.Is(err, bsd.ErrInvariant):
		r.logger().WithError(err).Error("invariant violation")
	}
}

func (r *TxRunner) logger() logrus.FieldLogger {
	if r.Logger != nil {
		return r.Logger
	}
	return discardLogger
}

func (r *TxRunner) metrics() Metrics {
	if r.Metrics != nil {
		return r.Metrics
	}
	return NopMetrics{}
}

var discardLogger = func() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}()

// dedupeEffects keeps the first occurrence of each (kind, document) pair.
func dedupeEffects(effects []Effect) []Effect {
	seen := make(map[Effect]struct{}, len(effects))
	out := make([]Effect, 0, len(effects))
	for _, effect := range effects {
		if effect.DocumentID == "" {
			continue
		}
		if _, ok := seen[effect]; ok {
			continue
		}
		seen[effect] = struct{}{}
		out = append(out, effect)
	}
	return out
}

// runTx runs fn through runner and returns its value once committed.
func runTx[T any](ctx context.Context, runner *TxRunner, fn func(tx Tx) (T, []Effect, error)) (T, error) {
	var out T
	err := runner.Run(ctx, func(tx Tx) ([]Effect, error) {
		value, effects, err := fn(tx)
		if err != nil {
			return nil, err
		}
		out = value
		return effects, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// readTx runs fn through runner without effects.
func readTx[T any](ctx context.Context, runner *TxRunner, fn func(tx Tx) (T, error)) (T, error) {
	return runTx(ctx, runner, func(tx Tx) (T, []Effect, error) {
		value, err := fn(tx)
		return value, nil, err
	})
}

package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/repo/memory"
	"bordereau/internal/usecase"
)

type countingMetrics struct {
	usecase.NopMetrics
	mu        sync.Mutex
	executed  int
	failed    int
	conflicts int
}

func (m *countingMetrics) EffectExecuted(usecase.EffectKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed++
}

func (m *countingMetrics) EffectFailed(usecase.EffectKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *countingMetrics) TxConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

type panickingQueue struct{}

func (panickingQueue) Enqueue(context.Context, usecase.Effect) error {
	panic("index unavailable")
}

func TestRunExecutesEffectsAfterCommit(t *testing.T) {
	store := memory.New()
	queue := &recordingQueue{failFor: map[string]error{}}
	metrics := &countingMetrics{}
	runner := usecase.NewTxRunner(store, queue, nil, metrics)

	err := runner.Run(context.Background(), func(tx usecase.Tx) ([]usecase.Effect, error) {
		doc, err := tx.Documents().Insert(context.Background(), bsd.Document{ID: "doc-1", Family: bsd.FamilyBSDD})
		if err != nil {
			return nil, err
		}
		require.Empty(t, queue.recorded(), "effects must wait for the commit")
		return []usecase.Effect{
			{Kind: usecase.EffectCreated, DocumentID: doc.ID, Family: doc.Family},
			{Kind: usecase.EffectCreated, DocumentID: doc.ID, Family: doc.Family},
			{Kind: usecase.EffectUpdated, DocumentID: doc.ID, Family: doc.Family},
			{Kind: usecase.EffectUpdated},
		}, nil
	})
	require.NoError(t, err)

	effects := queue.recorded()
	require.Len(t, effects, 2)
	require.Equal(t, usecase.EffectCreated, effects[0].Kind)
	require.Equal(t, usecase.EffectUpdated, effects[1].Kind)
	require.Equal(t, 2, metrics.executed)
}

func TestRunDropsEffectsOnRollback(t *testing.T) {
	store := memory.New()
	queue := &recordingQueue{failFor: map[string]error{}}
	runner := usecase.NewTxRunner(store, queue, nil, nil)
	boom := errors.New("boom")

	err := runner.Run(context.Background(), func(tx usecase.Tx) ([]usecase.Effect, error) {
		if _, err := tx.Documents().Insert(context.Background(), bsd.Document{ID: "doc-1", Family: bsd.FamilyBSDD}); err != nil {
			return nil, err
		}
		return []usecase.Effect{{Kind: usecase.EffectCreated, DocumentID: "doc-1"}}, boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, queue.recorded())

	err = runner.Read(context.Background(), func(tx usecase.Tx) error {
		_, err := tx.Documents().Get(context.Background(), "doc-1")
		return err
	})
	require.ErrorIs(t, err, bsd.ErrNotFound, "the insert must have been rolled back")
}

func TestEffectFailuresAreIsolated(t *testing.T) {
	store := memory.New()
	queue := &recordingQueue{failFor: map[string]error{"doc-1": errors.New("queue down")}}
	metrics := &countingMetrics{}
	logger, hook := logtest.NewNullLogger()
	runner := usecase.NewTxRunner(store, queue, logger, metrics)

	err := runner.Run(context.Background(), func(tx usecase.Tx) ([]usecase.Effect, error) {
		return []usecase.Effect{
			{Kind: usecase.EffectUpdated, DocumentID: "doc-1"},
			{Kind: usecase.EffectUpdated, DocumentID: "doc-2"},
		}, nil
	})
	require.NoError(t, err, "a failing effect must not fail the committed call")
	require.Len(t, queue.recorded(), 1)
	require.Equal(t, "doc-2", queue.recorded()[0].DocumentID)
	require.Equal(t, 1, metrics.failed)
	require.Equal(t, 1, metrics.executed)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.ErrorLevel, entry.Level)
	require.Equal(t, "doc-1", entry.Data["document_id"])
}

func TestEffectPanicIsRecovered(t *testing.T) {
	metrics := &countingMetrics{}
	runner := usecase.NewTxRunner(memory.New(), panickingQueue{}, nil, metrics)

	err := runner.Run(context.Background(), func(tx usecase.Tx) ([]usecase.Effect, error) {
		return []usecase.Effect{{Kind: usecase.EffectDeleted, DocumentID: "doc-1"}}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, metrics.failed)
}

func TestEffectsOutliveCanceledContext(t *testing.T) {
	queue := &contextQueue{}
	runner := usecase.NewTxRunner(memory.New(), queue, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	err := runner.Run(ctx, func(tx usecase.Tx) ([]usecase.Effect, error) {
		cancel()
		return []usecase.Effect{{Kind: usecase.EffectUpdated, DocumentID: "doc-1"}}, nil
	})
	require.NoError(t, err)
	require.NoError(t, queue.err, "effects run with a context detached from the caller")
}

type contextQueue struct {
	err error
}

func (q *contextQueue) Enqueue(ctx context.Context, _ usecase.Effect) error {
	q.err = ctx.Err()
	return nil
}

func TestRunCountsTransactionConflicts(t *testing.T) {
	store := memory.New()
	metrics := &countingMetrics{}
	runner := usecase.NewTxRunner(store, nil, nil, metrics)
	ctx := context.Background()
	require.NoError(t, runner.Run(ctx, func(tx usecase.Tx) ([]usecase.Effect, error) {
		_, err := tx.Documents().Insert(ctx, bsd.Document{ID: "doc-1", Family: bsd.FamilyBSDD})
		return nil, err
	}))

	err := runner.Run(ctx, func(tx usecase.Tx) ([]usecase.Effect, error) {
		doc, err := tx.Documents().Get(ctx, "doc-1")
		if err != nil {
			return nil, err
		}
		// A concurrent writer commits between our read and our write.
		if err := store.WithinTx(ctx, func(other usecase.Tx) error {
			concurrent, err := other.Documents().Get(ctx, "doc-1")
			if err != nil {
				return err
			}
			concurrent.Waste.Code = "16 01 07"
			_, err = other.Documents().Update(ctx, concurrent)
			return err
		}); err != nil {
			return nil, err
		}
		doc.Waste.Code = "16 01 04*"
		_, err = tx.Documents().Update(ctx, doc)
		return nil, err
	})
	require.ErrorIs(t, err, bsd.ErrTxConflict)
	require.Equal(t, 1, metrics.conflicts)
}

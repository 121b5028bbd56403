package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/usecase"
)

func TestCounters(t *testing.T) {
	m := New()
	m.SignatureRecorded(bsd.FamilyBSDA, bsd.StageEmission)
	m.SignatureRecorded(bsd.FamilyBSDA, bsd.StageEmission)
	m.EffectExecuted(usecase.EffectUpdated)
	m.EffectFailed(usecase.EffectDeleted)
	m.TxConflict()
	m.RevisionResolved(bsd.FamilyBSDD, bsd.RevisionApproved)

	require.Equal(t, 2.0, testutil.ToFloat64(m.signatures.WithLabelValues("BSDA", "EMISSION")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.effects.WithLabelValues("updated")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.effectFailures.WithLabelValues("deleted")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.txConflicts))
	require.Equal(t, 1.0, testutil.ToFloat64(m.revisions.WithLabelValues("BSDD", string(bsd.RevisionApproved))))

	count, err := testutil.GatherAndCount(m.Registry, "bsd_signatures_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

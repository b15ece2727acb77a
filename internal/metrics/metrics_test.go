package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector(prometheus.NewRegistry())
}

func TestRecordJobResultIncrementsLabeledCounters(t *testing.T) {
	c := newTestCollector(t)
	c.RecordJobResult(OutcomeSuccess, 150)
	c.RecordJobResult(OutcomeSuccess, 50)
	c.RecordJobResult(OutcomeSystemError, 0)

	require.Equal(t, float64(2), testutil.ToFloat64(c.ClientJobResults.WithLabelValues(OutcomeSuccess)))
	require.Equal(t, float64(200), testutil.ToFloat64(c.ClientJobDurationSum.WithLabelValues(OutcomeSuccess)))
	require.Equal(t, float64(1), testutil.ToFloat64(c.ClientJobResults.WithLabelValues(OutcomeSystemError)))
}

func TestSetConnectedWorkersSetsGaugePerCapability(t *testing.T) {
	c := newTestCollector(t)
	c.SetConnectedWorkers("build", 3)
	c.SetConnectedWorkers("control", 1)

	require.Equal(t, float64(3), testutil.ToFloat64(c.ClientConnectedWorkers.WithLabelValues("build")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.ClientConnectedWorkers.WithLabelValues("control")))
}

func TestRecordControlCommandIncrementsCounter(t *testing.T) {
	c := newTestCollector(t)
	c.RecordControlCommand("set_mode")
	c.RecordControlCommand("set_mode")

	require.Equal(t, float64(2), testutil.ToFloat64(c.WorkerControlCommands.WithLabelValues("set_mode")))
}

func TestNewCollectorTwiceOnSeparateRegistriesDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		newTestCollector(t)
		newTestCollector(t)
	})
}

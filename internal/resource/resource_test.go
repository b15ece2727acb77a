package resource

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticDetectorReportsAllCoresIdle(t *testing.T) {
	d := NewStaticDetector()
	snap, err := d.Snapshot()
	require.NoError(t, err)
	require.EqualValues(t, runtime.NumCPU(), snap.NumCPUTotal)
	require.EqualValues(t, runtime.NumCPU(), snap.NumCPUIdle)
	require.Zero(t, snap.NumCPUBusy)
	require.Len(t, snap.PerCPUBusy, runtime.NumCPU())
	for _, busy := range snap.PerCPUBusy {
		require.False(t, busy)
	}
}

func TestGopsutilDetectorReportsConsistentCounts(t *testing.T) {
	d := NewGopsutilDetector()
	snap, err := d.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.PerCPUBusy, int(snap.NumCPUTotal))
	require.Equal(t, snap.NumCPUTotal, snap.NumCPUIdle+snap.NumCPUBusy)
}

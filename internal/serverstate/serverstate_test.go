package serverstate

import (
	"testing"
	"time"

	"github.com/InSimo/fastbuild/internal/buildjob"
	"github.com/InSimo/fastbuild/internal/connpool"
	"github.com/InSimo/fastbuild/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakeNode struct{ name string }

func (n *fakeNode) Name() string                             { return n.name }
func (n *fakeNode) ManifestToolID() uint64                    { return 0 }
func (n *fakeNode) ObjectPath() string                        { return n.name }
func (n *fakeNode) PDBPath() (string, bool)                   { return "", false }
func (n *fakeNode) StaticAnalysisXMLPath() (string, bool)     { return "", false }
func (n *fakeNode) CompilerFamily() buildjob.CompilerFamily   { return buildjob.CompilerOther }
func (n *fakeNode) WarningsAsErrors() bool                    { return false }
func (n *fakeNode) CacheWriteEligible() bool                  { return false }
func (n *fakeNode) CacheKey() string                          { return "" }
func (n *fakeNode) RecordBuildSuccess(ms uint64, remote bool) {}
func (n *fakeNode) RecordBuildFailure()                       {}
func (n *fakeNode) SetCompileOutput(messages []string)        {}

type fakeJob struct {
	id   uint64
	node *fakeNode
}

func (j *fakeJob) JobID() uint64                                     { return j.id }
func (j *fakeJob) Node() buildjob.Node                               { return j.node }
func (j *fakeJob) Serialize() ([]byte, error)                        { return nil, nil }
func (j *fakeJob) SystemErrorCount() int                             { return 0 }
func (j *fakeJob) IncrementSystemErrorCount()                        {}
func (j *fakeJob) DistributionState() buildjob.DistributionState     { return buildjob.Sent }
func (j *fakeJob) SetDistributionState(buildjob.DistributionState)   {}

func TestNewTableMergesSharedNames(t *testing.T) {
	tbl := NewTable([]string{"worker-a", "worker-b"}, []string{"worker-b", "worker-c"})
	require.Equal(t, 3, tbl.Len())

	a, ok := tbl.ByName("worker-a")
	require.True(t, ok)
	require.True(t, a.BuildJobsEnabled())
	require.False(t, a.ControlEnabled)

	b, ok := tbl.ByName("worker-b")
	require.True(t, ok)
	require.True(t, b.BuildJobsEnabled())
	require.True(t, b.ControlEnabled)

	c, ok := tbl.ByName("worker-c")
	require.True(t, ok)
	require.False(t, c.BuildJobsEnabled())
	require.True(t, c.ControlEnabled)

	// build workers precede control-only workers
	require.Equal(t, "worker-a", tbl.Entries()[0].Name)
	require.Equal(t, "worker-b", tbl.Entries()[1].Name)
	require.Equal(t, "worker-c", tbl.Entries()[2].Name)
}

func TestAtWrapsCircularly(t *testing.T) {
	tbl := NewTable([]string{"a", "b", "c"}, nil)
	require.Equal(t, "a", tbl.At(0).Name)
	require.Equal(t, "c", tbl.At(2).Name)
	require.Equal(t, "a", tbl.At(3).Name)
	require.Equal(t, "c", tbl.At(-1).Name)
}

func TestEntryJobTracking(t *testing.T) {
	tbl := NewTable([]string{"worker-a"}, nil)
	e, _ := tbl.ByName("worker-a")
	j1 := &fakeJob{id: 1, node: &fakeNode{}}
	j2 := &fakeJob{id: 2, node: &fakeNode{}}
	e.TrackJob(j1)
	e.TrackJob(j2)
	require.ElementsMatch(t, []buildjob.Job{j1, j2}, e.InFlightJobs())

	got, ok := e.UntrackJob(1)
	require.True(t, ok)
	require.Equal(t, j1, got)
	_, ok = e.UntrackJob(1)
	require.False(t, ok)
	require.Equal(t, []buildjob.Job{j2}, e.InFlightJobs())
}

func TestDisconnectReturnsInFlightJobsAndClearsState(t *testing.T) {
	tbl := NewTable([]string{"worker-a"}, nil)
	e, _ := tbl.ByName("worker-a")
	j1 := &fakeJob{id: 1, node: &fakeNode{}}
	j2 := &fakeJob{id: 2, node: &fakeNode{}}

	requeued := e.SetConnection(&connpool.Connection{}, "host")
	require.Empty(t, requeued)
	e.SetNumJobsAdvertised(4)
	e.TrackJob(j1)
	e.TrackJob(j2)
	e.BeginControlSend(wire.MsgRequestServerInfo{}, nil, true)

	requeued = e.SetConnection(nil, "")
	require.ElementsMatch(t, []buildjob.Job{j1, j2}, requeued)
	require.Equal(t, uint32(0), e.NumJobsAdvertised())
	require.Empty(t, e.InFlightJobs())

	pendingSend, pendingResp, _, _ := e.ControlFlags()
	require.False(t, pendingSend)
	require.False(t, pendingResp)
	require.Equal(t, int64(0), tbl.PendingSendTotal())
	require.Equal(t, int64(0), tbl.PendingReceiveTotal())
}

func TestControlFlagTransitionsAndGlobalCounters(t *testing.T) {
	tbl := NewTable(nil, []string{"worker-a", "worker-b"})
	a, _ := tbl.ByName("worker-a")
	b, _ := tbl.ByName("worker-b")

	a.BeginControlSend(wire.MsgRequestServerInfo{}, nil, true)
	require.Equal(t, int64(1), tbl.PendingSendTotal())

	b.BeginControlSend(wire.MsgRequestServerInfo{}, nil, true)
	require.Equal(t, int64(2), tbl.PendingSendTotal())

	a.CommandSent()
	require.Equal(t, int64(1), tbl.PendingSendTotal())
	require.Equal(t, int64(1), tbl.PendingReceiveTotal())

	pendingSend, pendingResp, _, _ := a.ControlFlags()
	require.False(t, pendingSend)
	require.True(t, pendingResp)

	a.CommandResolved(true)
	require.Equal(t, int64(0), tbl.PendingReceiveTotal())
	_, _, success, failure := a.ControlFlags()
	require.True(t, success)
	require.False(t, failure)

	b.CommandFailed()
	require.Equal(t, int64(0), tbl.PendingSendTotal())
	_, _, _, failure = b.ControlFlags()
	require.True(t, failure)
}

func TestDelayElapsedAllowsImmediateFirstAttempt(t *testing.T) {
	tbl := NewTable([]string{"worker-a"}, nil)
	e, _ := tbl.ByName("worker-a")
	require.Greater(t, e.DelayElapsed(), time.Duration(0))
}

package memqueue

import (
	"testing"

	"github.com/InSimo/fastbuild/internal/buildjob"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	name   string
	toolID uint64
}

func (n *fakeNode) Name() string                            { return n.name }
func (n *fakeNode) ManifestToolID() uint64                   { return n.toolID }
func (n *fakeNode) ObjectPath() string                       { return n.name }
func (n *fakeNode) PDBPath() (string, bool)                  { return "", false }
func (n *fakeNode) StaticAnalysisXMLPath() (string, bool)    { return "", false }
func (n *fakeNode) CompilerFamily() buildjob.CompilerFamily  { return buildjob.CompilerOther }
func (n *fakeNode) WarningsAsErrors() bool                   { return false }
func (n *fakeNode) CacheWriteEligible() bool                 { return false }
func (n *fakeNode) CacheKey() string                         { return "" }
func (n *fakeNode) RecordBuildSuccess(ms uint64, remote bool) {}
func (n *fakeNode) RecordBuildFailure()                       {}
func (n *fakeNode) SetCompileOutput(messages []string)        {}

type fakeJob struct {
	id          uint64
	node        *fakeNode
	sysErrors   int
	distState   buildjob.DistributionState
}

func (j *fakeJob) JobID() uint64                 { return j.id }
func (j *fakeJob) Node() buildjob.Node           { return j.node }
func (j *fakeJob) Serialize() ([]byte, error)    { return []byte("job"), nil }
func (j *fakeJob) SystemErrorCount() int         { return j.sysErrors }
func (j *fakeJob) IncrementSystemErrorCount()    { j.sysErrors++ }
func (j *fakeJob) DistributionState() buildjob.DistributionState { return j.distState }
func (j *fakeJob) SetDistributionState(s buildjob.DistributionState) { j.distState = s }

func TestFIFOOrderAndInFlightTracking(t *testing.T) {
	q := New()
	j1 := &fakeJob{id: 1, node: &fakeNode{name: "a.obj"}}
	j2 := &fakeJob{id: 2, node: &fakeNode{name: "b.obj"}}
	q.Submit(j1)
	q.Submit(j2)
	require.Equal(t, uint32(2), q.NumDistributableJobsAvailable())

	got := q.NextDistributableJob()
	require.Equal(t, j1, got)
	require.Equal(t, buildjob.Sent, got.DistributionState())
	require.Equal(t, 1, q.NumInFlight())
	require.Equal(t, uint32(1), q.NumDistributableJobsAvailable())

	got2 := q.NextDistributableJob()
	require.Equal(t, j2, got2)
	require.Nil(t, q.NextDistributableJob())
}

func TestRequeuePutsJobBackAtFront(t *testing.T) {
	q := New()
	j1 := &fakeJob{id: 1, node: &fakeNode{}}
	j2 := &fakeJob{id: 2, node: &fakeNode{}}
	q.Submit(j1)
	sent := q.NextDistributableJob()
	q.Submit(j2)

	q.Requeue(sent)
	require.Equal(t, buildjob.NotDistributed, sent.DistributionState())
	require.Equal(t, 0, q.NumInFlight())

	require.Equal(t, j1, q.NextDistributableJob())
	require.Equal(t, j2, q.NextDistributableJob())
}

func TestMarkSystemErrorIncrementsAndRequeues(t *testing.T) {
	q := New()
	j := &fakeJob{id: 1, node: &fakeNode{}}
	q.Submit(j)
	sent := q.NextDistributableJob()

	q.MarkSystemError(sent)
	require.Equal(t, 1, sent.SystemErrorCount())
	require.Equal(t, 0, q.NumInFlight())
	require.Equal(t, j, q.NextDistributableJob())
}

func TestCompleteClearsInFlight(t *testing.T) {
	q := New()
	j := &fakeJob{id: 1, node: &fakeNode{}}
	q.Submit(j)
	sent := q.NextDistributableJob()
	require.Equal(t, 1, q.NumInFlight())
	q.Complete(sent, true)
	require.Equal(t, 0, q.NumInFlight())
}

package distclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/InSimo/fastbuild/internal/buildjob"
	"github.com/InSimo/fastbuild/internal/buildjob/memqueue"
	"github.com/InSimo/fastbuild/internal/connpool"
	"github.com/InSimo/fastbuild/internal/manifest"
	"github.com/InSimo/fastbuild/internal/serverstate"
	"github.com/InSimo/fastbuild/internal/wire"
	"github.com/stretchr/testify/require"
)

type recordingJobHandler struct {
	mu       sync.Mutex
	requests []string
}

func (h *recordingJobHandler) HandleRequestJob(entry *serverstate.Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, entry.Name)
}
func (h *recordingJobHandler) HandleJobResult(entry *serverstate.Entry, payload []byte) {}
func (h *recordingJobHandler) HandleRequestManifest(entry *serverstate.Entry, toolID uint64) {}
func (h *recordingJobHandler) HandleRequestFile(entry *serverstate.Entry, toolID uint64, fileID uint32) {
}

func TestLookForWorkersConnectsAndHandshakes(t *testing.T) {
	const addr = "127.0.0.1:18090"
	serverPool := connpool.New(connpool.Callbacks{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = serverPool.Listen(ctx, addr) }()
	time.Sleep(50 * time.Millisecond)

	table := serverstate.NewTable([]string{addr}, nil)
	jobs := memqueue.New()
	jobH := &recordingJobHandler{}
	mgr := New(Config{}, table, jobs, manifest.NewRegistry(), jobH, nil)

	mgr.lookForWorkers(context.Background())

	require.Eventually(t, func() bool {
		e, _ := table.ByName(addr)
		return e.Connected()
	}, time.Second, 10*time.Millisecond)
}

func TestCommunicateJobAvailabilitySendsOnlyWhenChanged(t *testing.T) {
	table := serverstate.NewTable([]string{"worker-a"}, nil)
	e, _ := table.ByName("worker-a")
	e.SetConnection(&connpool.Connection{}, "worker-a")
	e.SetNumJobsAdvertised(3)

	jobs := memqueue.New()
	jobs.Submit(&fakeJob{id: 1})
	jobs.Submit(&fakeJob{id: 2})
	jobs.Submit(&fakeJob{id: 3})
	mgr := New(Config{StatusAdvertiseInterval: time.Millisecond}, table, jobs, manifest.NewRegistry(), nil, nil)
	mgr.lastStatusUpdate = time.Now().Add(-time.Hour)

	mgr.communicateJobAvailability()
	require.Equal(t, uint32(3), e.NumJobsAdvertised())
}

type fakeJob struct{ id uint64 }

func (j *fakeJob) JobID() uint64                                   { return j.id }
func (j *fakeJob) Node() buildjob.Node                              { return nil }
func (j *fakeJob) Serialize() ([]byte, error)                       { return nil, nil }
func (j *fakeJob) SystemErrorCount() int                            { return 0 }
func (j *fakeJob) IncrementSystemErrorCount()                       {}
func (j *fakeJob) DistributionState() buildjob.DistributionState    { return buildjob.NotDistributed }
func (j *fakeJob) SetDistributionState(buildjob.DistributionState)  {}

func TestCommunicateCommandsSendsPendingControlMessage(t *testing.T) {
	const addr = "127.0.0.1:18091"
	var received []wire.Message
	var mu sync.Mutex
	serverPool := connpool.New(connpool.Callbacks{
		OnReceive: func(c *connpool.Connection, frame wire.Frame) {
			mu.Lock()
			received = append(received, frame.Message)
			mu.Unlock()
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = serverPool.Listen(ctx, addr) }()
	time.Sleep(50 * time.Millisecond)

	table := serverstate.NewTable(nil, []string{addr})
	jobs := memqueue.New()
	mgr := New(Config{}, table, jobs, manifest.NewRegistry(), nil, nil)

	conn, err := mgr.pool.Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	e, _ := table.ByName(addr)
	e.SetConnection(conn, addr)
	e.BeginControlSend(wire.MsgSetMode{Mode: 1}, nil, false)

	mgr.communicateCommands()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	pendingSend, pendingResp, success, _ := e.ControlFlags()
	require.False(t, pendingSend)
	require.False(t, pendingResp)
	require.True(t, success)
}

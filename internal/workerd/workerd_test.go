package workerd

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/InSimo/fastbuild/internal/buildjob/demojob"
	"github.com/InSimo/fastbuild/internal/connpool"
	"github.com/InSimo/fastbuild/internal/distclient"
	"github.com/InSimo/fastbuild/internal/manifest"
	"github.com/InSimo/fastbuild/internal/resource"
	"github.com/InSimo/fastbuild/internal/wire"
	"github.com/InSimo/fastbuild/internal/workersettings"
)

func startDaemon(t *testing.T, addr string, settings workersettings.Settings) *Daemon {
	t.Helper()
	d := New(Config{RequestRetryInterval: 20 * time.Millisecond}, resource.NewStaticDetector(), settings, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = d.Run(ctx, addr) }()
	time.Sleep(50 * time.Millisecond)
	return d
}

func TestHandshakeVersionMismatchCloses(t *testing.T) {
	const addr = "127.0.0.1:18191"
	startDaemon(t, addr, workersettings.Defaults(4))

	disconnected := make(chan struct{}, 1)
	client := connpool.New(connpool.Callbacks{
		OnDisconnect: func(c *connpool.Connection, err error) { disconnected <- struct{}{} },
	})
	conn, err := client.Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Send(wire.MsgConnection{ProtocolVersion: distclient.ProtocolVersion + 1}, nil))

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("expected worker to close on protocol mismatch")
	}
}

func TestRequestsJobWhenDedicatedAndAdvertised(t *testing.T) {
	const addr = "127.0.0.1:18192"
	settings := workersettings.Defaults(4)
	settings.Mode = workersettings.ModeDedicated
	startDaemon(t, addr, settings)

	received := make(chan wire.Message, 4)
	client := connpool.New(connpool.Callbacks{
		OnReceive: func(c *connpool.Connection, frame wire.Frame) { received <- frame.Message },
	})
	conn, err := client.Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Send(wire.MsgConnection{
		ProtocolVersion:  distclient.ProtocolVersion,
		NumJobsAvailable: 1,
		HostName:         "client1",
	}, nil))

	select {
	case msg := <-received:
		require.Equal(t, wire.MsgRequestJob{}, msg)
	case <-time.After(time.Second):
		t.Fatal("expected a RequestJob")
	}
}

func TestDisabledModeNeverRequestsJob(t *testing.T) {
	const addr = "127.0.0.1:18193"
	settings := workersettings.Defaults(4)
	settings.Mode = workersettings.ModeDisabled
	startDaemon(t, addr, settings)

	received := make(chan wire.Message, 4)
	client := connpool.New(connpool.Callbacks{
		OnReceive: func(c *connpool.Connection, frame wire.Frame) { received <- frame.Message },
	})
	conn, err := client.Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Send(wire.MsgConnection{
		ProtocolVersion:  distclient.ProtocolVersion,
		NumJobsAvailable: 1,
		HostName:         "client1",
	}, nil))

	select {
	case msg := <-received:
		t.Fatalf("expected no message in disabled mode, got %v", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestJobRoundTripReportsSuccess(t *testing.T) {
	const addr = "127.0.0.1:18194"
	settings := workersettings.Defaults(4)
	settings.Mode = workersettings.ModeDedicated
	startDaemon(t, addr, settings)

	received := make(chan wire.Frame, 8)
	client := connpool.New(connpool.Callbacks{
		OnReceive: func(c *connpool.Connection, frame wire.Frame) { received <- frame },
	})
	conn, err := client.Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Send(wire.MsgConnection{
		ProtocolVersion:  distclient.ProtocolVersion,
		NumJobsAvailable: 1,
		HostName:         "client1",
	}, nil))

	waitFor := func(tag wire.Tag) wire.Frame {
		for {
			select {
			case f := <-received:
				if f.Message.Tag() == tag {
					return f
				}
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for %s", tag)
			}
		}
	}

	waitFor(wire.TagRequestJob)

	node := demojob.NewNode(demojob.NodeConfig{Name: "main.obj", ToolID: 42, ObjectPath: "/tmp/main.obj"})
	job := demojob.NewJob(7, node, "cc -c main.c")
	payload, err := job.Serialize()
	require.NoError(t, err)
	require.NoError(t, conn.Send(wire.MsgJob{ToolID: 42}, payload))

	waitFor(wire.TagRequestManifest)
	m := manifest.Manifest{ToolID: 42}
	require.NoError(t, conn.Send(wire.MsgManifest{ToolID: 42}, m.Marshal()))

	resultFrame := waitFor(wire.TagJobResult)
	result, err := wire.UnmarshalJobResultPayload(resultFrame.Payload)
	require.NoError(t, err)
	require.Equal(t, uint64(7), result.JobID)
	require.Equal(t, "main.obj", result.NodeName)
	require.True(t, result.Success)
}

func TestAddAndRemoveBlockingProcessGatesRequests(t *testing.T) {
	const addr = "127.0.0.1:18195"
	settings := workersettings.Defaults(4)
	settings.Mode = workersettings.ModeDedicated
	d := startDaemon(t, addr, settings)

	d.handleAddBlockingProcess(wire.MsgAddBlockingProcess{PID: 999999999})
	require.True(t, d.isBlocked())
	d.handleRemoveBlockingProcess(wire.MsgRemoveBlockingProcess{PID: 999999999})
	require.False(t, d.isBlocked())
}

func TestServerInfoReply(t *testing.T) {
	const addr = "127.0.0.1:18196"
	startDaemon(t, addr, workersettings.Defaults(4))

	received := make(chan wire.Frame, 4)
	client := connpool.New(connpool.Callbacks{
		OnReceive: func(c *connpool.Connection, frame wire.Frame) { received <- frame },
	})
	conn, err := client.Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Send(wire.MsgConnection{
		ProtocolVersion: distclient.ProtocolVersion,
		HostName:        "client1",
	}, nil))
	require.NoError(t, conn.Send(wire.MsgRequestServerInfo{DetailsLevel: 0}, nil))

	select {
	case f := <-received:
		info, ok := f.Message.(wire.MsgServerInfo)
		require.True(t, ok)
		require.Equal(t, uint16(runtime.NumCPU()), info.NumCPUTotal)
	case <-time.After(time.Second):
		t.Fatal("expected a ServerInfo reply")
	}
}

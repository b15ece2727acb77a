package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/InSimo/fastbuild/internal/serverstate"
	"github.com/InSimo/fastbuild/internal/wire"
)

func TestParseModeRoundTrip(t *testing.T) {
	for _, m := range []Mode{ModeDisabled, ModeWhenIdle, ModeDedicated, ModeProportional} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
	_, err := ParseMode("bogus")
	require.Error(t, err)
}

func TestTargetsWildcardSelectsControlEnabledOnly(t *testing.T) {
	table := serverstate.NewTable([]string{"b1"}, []string{"c1", "c2"})
	c := New(table)
	all := c.targets(allWorkersTarget)
	require.Len(t, all, 2)

	single := c.targets("b1")
	require.Empty(t, single) // build-only, not control-enabled
}

func TestSetModeConstructsMessageAndTimesOutUnresolved(t *testing.T) {
	table := serverstate.NewTable(nil, []string{"w1"})
	entry, ok := table.ByName("w1")
	require.True(t, ok)
	c := New(table)

	result := c.SetMode(context.Background(), "w1", ModeDedicated, 5*time.Second, 10*time.Millisecond)
	require.False(t, result) // nothing ever drains the pending send, so this times out

	msg, _, expectResponse := entry.PendingCommand()
	require.False(t, expectResponse)
	setMode, isSetMode := msg.(wire.MsgSetMode)
	require.True(t, isSetMode)
	require.Equal(t, uint8(ModeDedicated), setMode.Mode)
	require.Equal(t, uint16(5), setMode.GracePeriod)

	pendingSend, pendingResponse, _, failure := entry.ControlFlags()
	require.False(t, pendingSend)
	require.False(t, pendingResponse)
	require.True(t, failure)
}

func TestWaitLastCommandResultSucceedsWhenNothingPending(t *testing.T) {
	table := serverstate.NewTable(nil, []string{"w1"})
	c := New(table)
	require.True(t, c.WaitLastCommandResult(context.Background(), time.Second))
}

func TestRequestServerInfoResolvesViaHandleServerInfo(t *testing.T) {
	table := serverstate.NewTable(nil, []string{"w1"})
	entry, ok := table.ByName("w1")
	require.True(t, ok)
	c := New(table)

	go func() {
		time.Sleep(10 * time.Millisecond)
		entry.CommandSent() // simulate the distribution loop having sent it
		c.HandleServerInfo(entry, wire.MsgServerInfo{
			Mode: 2, NumClients: 1, NumCPUTotal: 4, NumCPUAvailable: 2, NumCPUBusy: 2,
		}, nil)
	}()

	result, affected := c.RequestServerInfo(context.Background(), "w1", 1, 2*time.Second)
	require.True(t, result)
	require.Equal(t, 1, affected)

	info, has := entry.Info()
	require.True(t, has)
	require.Equal(t, uint16(4), info.NumCPUTotal)
	require.Equal(t, uint16(2), info.NumCPUBusy)
}

func TestHandleServerInfoDecodesDetails(t *testing.T) {
	table := serverstate.NewTable(nil, []string{"w1"})
	entry, _ := table.ByName("w1")
	c := New(table)

	payload := wire.MarshalServerInfoDetails([]wire.ServerInfoDetail{
		{Idle: true, Busy: false, HostName: "w1", JobStatus: ""},
		{Idle: false, Busy: true, HostName: "w1", JobStatus: "compiling foo.cpp"},
	})
	c.HandleServerInfo(entry, wire.MsgServerInfo{NumCPUTotal: 2, WithDetails: true}, payload)

	info, has := entry.Info()
	require.True(t, has)
	require.Equal(t, []bool{true, false}, info.WorkerIdle)
	require.Equal(t, []bool{false, true}, info.WorkerBusy)
	require.Equal(t, []string{"", "compiling foo.cpp"}, info.JobStatus)
}

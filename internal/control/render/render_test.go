package render

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/InSimo/fastbuild/internal/serverstate"
)

func TestCollectSkipsEntriesWithoutControlSuccess(t *testing.T) {
	table := serverstate.NewTable(nil, []string{"w1", "w2"})
	e1, _ := table.ByName("w1")
	e2, _ := table.ByName("w2")

	e1.BeginControlSend(nil, nil, true)
	e1.CommandSent()
	e1.CommandResolved(true)
	e1.SetInfo(serverstate.Info{NumCPUTotal: 8})

	// w2 never resolved, so it has no recorded info and no control_success.

	rows := Collect(table.Entries())
	require.Len(t, rows, 1)
	require.Equal(t, "w1", rows[0].Name)
	require.Equal(t, uint16(8), rows[0].Info.NumCPUTotal)

	_, pendingResponse, success, _ := e2.ControlFlags()
	require.False(t, pendingResponse)
	require.False(t, success) // w2 never resolved, so Collect excludes it
}

func TestTableRendersHeaderAndRow(t *testing.T) {
	rows := []Row{{
		Name: "worker-one",
		Info: serverstate.Info{
			Mode: 2, NumClients: 3, NumCPUTotal: 8, NumCPUIdle: 2, NumCPUBusy: 6, NumBlockingProcesses: 1,
		},
	}}
	out := Table(rows, false)
	require.Contains(t, out, "Worker")
	require.Contains(t, out, "worker-one")
	require.Contains(t, out, "+--")
}

func TestTableDetailedIncludesPerCPURows(t *testing.T) {
	rows := []Row{{
		Name: "w1",
		Info: serverstate.Info{
			WorkerIdle: []bool{true, false},
			WorkerBusy: []bool{false, true},
			JobStatus:  []string{"", "compiling foo.cpp"},
		},
	}}
	out := Table(rows, true)
	require.Contains(t, out, "cpu 0")
	require.Contains(t, out, "cpu 1")
	require.Contains(t, out, "compiling foo.cpp")
}

func TestJSONOmitsDetailArraysWhenNotDetailed(t *testing.T) {
	rows := []Row{{
		Name: "w1",
		Info: serverstate.Info{
			Mode: 1, NumCPUTotal: 4,
			WorkerIdle: []bool{true, false},
		},
	}}
	data, err := JSON(rows, false)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	require.Equal(t, "w1", decoded[0]["worker"])
	_, hasDetail := decoded[0]["worker_idle"]
	require.False(t, hasDetail)
}

func TestJSONIncludesDetailArraysWhenDetailed(t *testing.T) {
	rows := []Row{{
		Name: "w1",
		Info: serverstate.Info{
			WorkerIdle: []bool{true, false},
		},
	}}
	data, err := JSON(rows, true)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Contains(t, decoded[0], "worker_idle")
}

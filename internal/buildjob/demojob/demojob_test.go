package demojob

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/InSimo/fastbuild/internal/buildjob"
)

func TestPayloadRoundTrip(t *testing.T) {
	p := Payload{
		JobID:        7,
		ToolID:       42,
		NodeName:     "main.obj",
		Command:      "cc -c main.c",
		HasPDB:       true,
		HasStaticXML: false,
	}
	got, err := UnmarshalPayload(p.Marshal())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestJobSerializeMatchesNode(t *testing.T) {
	node := NewNode(NodeConfig{
		Name:       "main.obj",
		ToolID:     42,
		ObjectPath: "/tmp/main.obj",
		PDBPath:    "/tmp/main.pdb",
	})
	job := NewJob(7, node, "cc -c main.c")

	data, err := job.Serialize()
	require.NoError(t, err)

	got, err := UnmarshalPayload(data)
	require.NoError(t, err)
	require.Equal(t, uint64(7), got.JobID)
	require.Equal(t, uint64(42), got.ToolID)
	require.Equal(t, "main.obj", got.NodeName)
	require.True(t, got.HasPDB)
	require.False(t, got.HasStaticXML)
}

func TestNodeOutcomeRecording(t *testing.T) {
	node := NewNode(NodeConfig{Name: "x.obj", ToolID: 1})
	node.SetCompileOutput([]string{"warning: unused variable"})
	node.RecordBuildSuccess(123, true)

	success, failed, messages := node.Outcome()
	require.True(t, success)
	require.False(t, failed)
	require.Equal(t, []string{"warning: unused variable"}, messages)
}

var (
	_ buildjob.Node = (*Node)(nil)
	_ buildjob.Job  = (*Job)(nil)
)

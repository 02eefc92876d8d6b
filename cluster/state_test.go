package cluster

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateAnswersMembershipAndPorts(t *testing.T) {
	st := NewState("10.0.0.5", map[string]int{"n1ql": 9499, "kv": 11210}, nil, nil)

	assert.True(t, st.IsServiceLocal("n1ql"))
	assert.True(t, st.IsServiceLocal("kv"))
	assert.False(t, st.IsServiceLocal("fts"))

	port, ok := st.GetInt("rest.query.port")
	require.True(t, ok)
	assert.Equal(t, 9499, port)

	_, ok = st.GetInt("rest.fts.port")
	assert.False(t, ok)

	_, ok = st.GetInt("no.such.key")
	assert.False(t, ok)
}

func TestStateBacksLocator(t *testing.T) {
	st := NewState("", map[string]int{"index": 9102}, nil, nil)
	locator := NewLocator(st, st, nil, "")

	ep, err := locator.Resolve("index")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9102", ep.Addr())

	_, err = locator.Resolve("cbas")
	assert.Error(t, err)
}

func TestStateMutationsAdvanceRevision(t *testing.T) {
	rev := NewConfigRevision()
	st := NewState("", nil, nil, rev)
	before := rev.Current()

	st.SetServicePort("fts", 8094)
	assert.Equal(t, before+1, rev.Current())

	st.RemoveService("fts")
	assert.Equal(t, before+2, rev.Current())

	// Removing an unscheduled service changes nothing
	st.RemoveService("fts")
	assert.Equal(t, before+2, rev.Current())
}

func TestStateSnapshotDocuments(t *testing.T) {
	rev := NewConfigRevision()
	st := NewState("node1", map[string]int{"kv": 11210, "n1ql": 9499}, nil, rev)

	pool, err := st.BuildPoolInfo(context.Background())
	require.NoError(t, err)
	poolDoc, ok := pool.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "default", poolDoc["name"])
	assert.Equal(t, rev.Current(), poolDoc["rev"])

	nodes, ok := poolDoc["nodes"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, nodes, 1)
	assert.Equal(t, "node1", nodes[0]["hostname"])
	assert.Equal(t, []string{"kv", "n1ql"}, nodes[0]["services"])

	ns, err := st.BuildNodeServices(context.Background())
	require.NoError(t, err)
	nsDoc, ok := ns.(map[string]any)
	require.True(t, ok)
	ext, ok := nsDoc["nodesExt"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, ext, 1)
	if diff := cmp.Diff(map[string]int{"kv": 11210, "n1ql": 9499}, ext[0]["services"]); diff != "" {
		t.Errorf("node services mismatch (-want +got):\n%s", diff)
	}
}

package versioning

import (
	"testing"
	"time"

	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/entities"
	"diagramsync/domain/core/valueobjects"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) ([]*entities.Node, []*entities.Edge) {
	t.Helper()
	a, err := entities.NewNode(valueobjects.MustNodeID("c1"), "Order", valueobjects.Position{X: 1, Y: 2})
	require.NoError(t, err)
	b, err := entities.NewNode(valueobjects.MustNodeID("c2"), "Customer", valueobjects.Position{X: 3, Y: 4})
	require.NoError(t, err)
	e, err := entities.NewEdge(valueobjects.MustEdgeID("e1"), entities.KindAggregation, a.ID(), b.ID())
	require.NoError(t, err)
	return []*entities.Node{a, b}, []*entities.Edge{e}
}

func TestChecksum_OrderIndependent(t *testing.T) {
	nodes, edges := fixture(t)

	first, err := Checksum(nodes, edges)
	require.NoError(t, err)
	second, err := Checksum([]*entities.Node{nodes[1], nodes[0]}, edges)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestChecksum_DetectsMove(t *testing.T) {
	nodes, edges := fixture(t)
	before, err := Checksum(nodes, edges)
	require.NoError(t, err)

	require.NoError(t, nodes[0].MoveTo(valueobjects.Position{X: 300, Y: 400}))
	after, err := Checksum(nodes, edges)
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestDescribe(t *testing.T) {
	nodes, edges := fixture(t)
	now := time.Now().UTC()
	snap := aggregates.Snapshot{
		DocumentID: valueobjects.MustDocumentID("d1"),
		Nodes:      nodes,
		Edges:      edges,
		Metadata:   aggregates.Metadata{ModifiedBy: "u1", LastModifiedAt: now},
	}

	v, err := Describe(snap, aggregates.SaveResult{Version: 7, UpdatedAt: now})

	require.NoError(t, err)
	assert.Equal(t, uint64(7), v.Version)
	assert.Equal(t, 2, v.NodeCount)
	assert.Equal(t, "u1", v.SavedBy)
}

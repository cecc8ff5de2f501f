package dto

import (
	"testing"
	"time"

	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/entities"
	"diagramsync/domain/core/valueobjects"
	pkgerrors "diagramsync/pkg/errors"
	"diagramsync/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGraph(t *testing.T) *aggregates.Graph {
	t.Helper()
	g := aggregates.NewGraph("d1", nil)
	order, err := entities.ReconstructNode(valueobjects.MustNodeID("c1"), "Order", valueobjects.Position{X: 1, Y: 2},
		[]entities.Attribute{entities.IdentityAttribute()},
		[]entities.Behavior{{ID: "m1", Name: "total", ReturnType: "BigDecimal", Visibility: entities.VisibilityPrivate,
			Parameters: []entities.Parameter{{Name: "tax", Type: "Rate"}}}},
		[]string{"entity"}, nil)
	require.NoError(t, err)
	customer, err := entities.NewNode(valueobjects.MustNodeID("c2"), "Customer", valueobjects.Position{})
	require.NoError(t, err)
	require.NoError(t, g.AddNode(order))
	require.NoError(t, g.AddNode(customer))

	e, err := entities.ReconstructEdge(valueobjects.MustEdgeID("e1"), entities.KindOneToMany, customer.ID(), order.ID(),
		entities.EdgeOptions{SourceAnchor: "right", Label: "places", Multiplicity: valueobjects.Multiplicity{Source: "1", Target: "*"}})
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(e))
	return g
}

func TestEnvelope_WireRoundTrip(t *testing.T) {
	g := sampleGraph(t)
	env := aggregates.NewEnvelope(valueobjects.MustDocumentID("d1"), "u1", aggregates.EnvelopeFull, g)

	wire := EnvelopeToWire(env)
	assert.Equal(t, protocol.ChangeFull, wire.Changes.Kind)
	require.Len(t, wire.Changes.Edges, 1)
	assert.Equal(t, "OneToMany", wire.Changes.Edges[0].Type)
	assert.Equal(t, &protocol.Multiplicity{Source: "1", Target: "*"}, wire.Changes.Edges[0].Multiplicity)

	back, rejected, err := EnvelopeFromWire(wire, nil)
	require.NoError(t, err)
	assert.Empty(t, rejected)
	assert.Equal(t, env.Nodes, back.Nodes)
	assert.Equal(t, env.Edges, back.Edges)
	assert.Equal(t, "u1", back.OriginUserID)
}

func TestEnvelopeFromWire_CarriesOnlyKindCollections(t *testing.T) {
	wire := protocol.DiagramChange{
		DocumentID: "d1",
		UserID:     "u2",
		Changes: protocol.Changes{
			Kind:  protocol.ChangeEdges,
			Nodes: []protocol.Node{{ID: "c9", Name: "Ignored"}},
			Edges: []protocol.Edge{{ID: "e1", SourceClassID: "c1", TargetClassID: "c2"}},
		},
	}

	env, _, err := EnvelopeFromWire(wire, nil)

	require.NoError(t, err)
	assert.Equal(t, aggregates.EnvelopeEdges, env.Kind)
	assert.Nil(t, env.Nodes)
	require.Len(t, env.Edges, 1)
	assert.Equal(t, entities.KindAssociation, env.Edges[0].Kind())
}

func TestEnvelopeFromWire_ReportsInvalidItems(t *testing.T) {
	wire := protocol.DiagramChange{
		DocumentID: "d1",
		UserID:     "u2",
		Changes: protocol.Changes{
			Kind:  protocol.ChangeNodes,
			Nodes: []protocol.Node{{ID: "c1", Name: "Order"}, {ID: "", Name: "NoID"}, {ID: "c3", Name: " "}},
		},
	}

	env, rejected, err := EnvelopeFromWire(wire, nil)

	require.NoError(t, err)
	assert.Len(t, env.Nodes, 1)
	assert.Len(t, rejected, 2)

	_, _, err = EnvelopeFromWire(protocol.DiagramChange{}, nil)
	assert.Error(t, err)
}

func TestSnapshotFromWire_RejectsInvalid(t *testing.T) {
	req := protocol.SaveDocumentRequest{
		Nodes: []protocol.Node{{ID: "c1", Name: "Order"}},
		Edges: []protocol.Edge{{ID: "e1", Type: "friendship", SourceClassID: "c1", TargetClassID: "c1"}},
	}

	_, err := SnapshotFromWire(valueobjects.MustDocumentID("d1"), req, nil)

	assert.True(t, pkgerrors.IsValidation(err))
}

func TestDocument_WireRoundTrip(t *testing.T) {
	g := sampleGraph(t)
	doc := aggregates.ReconstructDocument(valueobjects.MustDocumentID("d1"), "Shop", g, 4, g0(), g0(), aggregates.Metadata{ModifiedBy: "u1"})

	wire := DocumentToWire(doc, "sum")
	back, rejected, err := DocumentFromWire(wire, nil)

	require.NoError(t, err)
	assert.Empty(t, rejected)
	assert.Equal(t, uint64(4), back.Version())
	assert.Equal(t, "Shop", back.Name())
	assert.Equal(t, doc.Graph().Nodes(), back.Graph().Nodes())
	assert.Equal(t, doc.Graph().Edges(), back.Graph().Edges())
}

func g0() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

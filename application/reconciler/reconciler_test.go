package reconciler

import (
	"testing"

	"diagramsync/application/replica"
	"diagramsync/domain/config"
	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/entities"
	"diagramsync/domain/core/valueobjects"
	pkgerrors "diagramsync/pkg/errors"
	"diagramsync/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const docID = "doc-1"

func newReconciler(t *testing.T, cfg *config.DomainConfig) (*Reconciler, *replica.Replica) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	doc := aggregates.NewDocument(valueobjects.MustDocumentID(docID), "", cfg)
	r := replica.New(doc, zap.NewNop())
	return New(r, "bob", cfg, zap.NewNop()), r
}

func wireNode(id, name string) protocol.Node {
	return protocol.Node{ID: id, Name: name, Position: protocol.Position{X: 1, Y: 2}}
}

func wireEdge(id, src, tgt string) protocol.Edge {
	return protocol.Edge{ID: id, Type: "ASSOCIATION", SourceClassID: src, TargetClassID: tgt}
}

func change(user, kind string, nodes []protocol.Node, edges []protocol.Edge) protocol.DiagramChange {
	return protocol.DiagramChange{
		DocumentID: docID,
		UserID:     user,
		Changes:    protocol.Changes{Kind: kind, Nodes: nodes, Edges: edges},
	}
}

func seed(t *testing.T, rc *Reconciler) {
	t.Helper()
	_, err := rc.ApplyChange(change("alice", protocol.ChangeFull,
		[]protocol.Node{wireNode("c1", "Order"), wireNode("c2", "Customer")},
		[]protocol.Edge{wireEdge("e1", "c1", "c2")},
	))
	require.NoError(t, err)
}

func TestApplyChange_EchoIsIgnored(t *testing.T) {
	rc, r := newReconciler(t, nil)

	outcome, err := rc.ApplyChange(change("bob", protocol.ChangeNodes, []protocol.Node{wireNode("c1", "Order")}, nil))

	require.NoError(t, err)
	assert.True(t, outcome.Echo)
	assert.False(t, outcome.Applied)
	assert.Equal(t, 0, r.Graph().NodeCount())
	assert.Equal(t, 0, r.Graph().Version())
}

func TestApplyChange_ReplacesCollections(t *testing.T) {
	tests := []struct {
		name      string
		change    protocol.DiagramChange
		wantNodes []string
		wantEdges []string
	}{
		{
			name:      "nodes replace keeps valid edges",
			change:    change("alice", protocol.ChangeNodes, []protocol.Node{wireNode("c1", "Order"), wireNode("c2", "Client"), wireNode("c3", "Line")}, nil),
			wantNodes: []string{"c1", "c2", "c3"},
			wantEdges: []string{"e1"},
		},
		{
			name:      "nodes replace prunes edges to vanished nodes",
			change:    change("alice", protocol.ChangeNodes, []protocol.Node{wireNode("c2", "Customer")}, nil),
			wantNodes: []string{"c2"},
			wantEdges: nil,
		},
		{
			name:      "edges replace drops dangling edges",
			change:    change("alice", protocol.ChangeEdges, nil, []protocol.Edge{wireEdge("e2", "c2", "c1"), wireEdge("e3", "c1", "ghost")}),
			wantNodes: []string{"c1", "c2"},
			wantEdges: []string{"e2"},
		},
		{
			name:      "empty full clears the graph",
			change:    change("alice", protocol.ChangeFull, nil, nil),
			wantNodes: nil,
			wantEdges: nil,
		},
		{
			name:      "legacy kind name",
			change:    change("alice", "full", []protocol.Node{wireNode("c9", "Only")}, nil),
			wantNodes: []string{"c9"},
			wantEdges: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, r := newReconciler(t, nil)
			seed(t, rc)

			outcome, err := rc.ApplyChange(tt.change)
			require.NoError(t, err)
			assert.True(t, outcome.Applied)

			g := r.Graph()
			var nodes, edges []string
			for _, n := range g.Nodes() {
				nodes = append(nodes, n.ID().String())
			}
			for _, e := range g.Edges() {
				edges = append(edges, e.ID().String())
			}
			assert.Equal(t, tt.wantNodes, nodes)
			assert.Equal(t, tt.wantEdges, edges)
			assert.NoError(t, g.Validate())
		})
	}
}

func TestApplyChange_DropsInvalidItems(t *testing.T) {
	rc, r := newReconciler(t, nil)

	outcome, err := rc.ApplyChange(change("alice", protocol.ChangeFull,
		[]protocol.Node{wireNode("c1", "Order"), wireNode("c2", "")},
		[]protocol.Edge{wireEdge("e1", "c1", "c2"), {ID: "e2", Type: "NOT_A_KIND", SourceClassID: "c1", TargetClassID: "c1"}},
	))

	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.Len(t, outcome.Rejected, 2, "blank name and unknown kind")
	assert.Len(t, outcome.Result.Dropped, 1, "e1 lost its target with c2")
	assert.Equal(t, 3, outcome.Dropped())
	assert.Equal(t, 1, r.Graph().NodeCount())
	assert.Equal(t, 0, r.Graph().EdgeCount())
}

func TestApplyChange_RejectsWholeEnvelope(t *testing.T) {
	cfg := config.DefaultDomainConfig()
	cfg.MaxNodesPerGraph = 2

	tests := []struct {
		name   string
		change protocol.DiagramChange
	}{
		{
			name:   "foreign document",
			change: protocol.DiagramChange{DocumentID: "elsewhere", UserID: "alice", Changes: protocol.Changes{Kind: protocol.ChangeNodes}},
		},
		{
			name:   "missing document",
			change: protocol.DiagramChange{UserID: "alice", Changes: protocol.Changes{Kind: protocol.ChangeNodes}},
		},
		{
			name:   "missing origin",
			change: change("", protocol.ChangeNodes, nil, nil),
		},
		{
			name:   "unknown kind",
			change: change("alice", "patch", nil, nil),
		},
		{
			name:   "over the node limit",
			change: change("alice", protocol.ChangeNodes, []protocol.Node{wireNode("a", "A"), wireNode("b", "B"), wireNode("c", "C")}, nil),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, r := newReconciler(t, cfg)
			seed(t, rc)
			before := r.Graph()

			outcome, err := rc.ApplyChange(tt.change)

			require.Error(t, err)
			assert.True(t, pkgerrors.IsValidation(err))
			assert.False(t, outcome.Applied)
			assert.Equal(t, before.Nodes(), r.Graph().Nodes())
			assert.Equal(t, before.Edges(), r.Graph().Edges())
		})
	}
}

func TestApply_FullIsIdempotent(t *testing.T) {
	rc, r := newReconciler(t, nil)
	seed(t, rc)
	first := r.Graph()

	env := aggregates.NewEnvelope(valueobjects.MustDocumentID(docID), "alice", aggregates.EnvelopeFull, first)
	_, err := rc.Apply(env)
	require.NoError(t, err)
	_, err = rc.Apply(env)
	require.NoError(t, err)

	assert.Equal(t, first.Nodes(), r.Graph().Nodes())
	assert.Equal(t, first.Edges(), r.Graph().Edges())
}

func TestApply_LastEnvelopeWinsPerCollection(t *testing.T) {
	rc, r := newReconciler(t, nil)
	seed(t, rc)

	_, err := rc.ApplyChange(change("alice", protocol.ChangeNodes, []protocol.Node{wireNode("c1", "FromAlice"), wireNode("c2", "Customer")}, nil))
	require.NoError(t, err)
	_, err = rc.ApplyChange(change("carol", protocol.ChangeNodes, []protocol.Node{wireNode("c1", "FromCarol"), wireNode("c2", "Customer")}, nil))
	require.NoError(t, err)
	_, err = rc.ApplyChange(change("alice", protocol.ChangeEdges, nil, []protocol.Edge{{ID: "e1", Type: "COMPOSITION", SourceClassID: "c1", TargetClassID: "c2"}}))
	require.NoError(t, err)

	g := r.Graph()
	node, _ := g.Node(valueobjects.MustNodeID("c1"))
	assert.Equal(t, "FromCarol", node.Name())
	edge, _ := g.Edge(valueobjects.MustEdgeID("e1"))
	assert.Equal(t, entities.KindComposition, edge.Kind(), "edge and node collections do not conflict")
}

func TestApply_DoesNotAffectOtherDocuments(t *testing.T) {
	rc, r := newReconciler(t, nil)
	n, err := entities.NewNode(valueobjects.MustNodeID("x"), "X", valueobjects.Position{})
	require.NoError(t, err)

	_, err = rc.Apply(aggregates.ChangeEnvelope{
		DocumentID:   valueobjects.MustDocumentID("doc-2"),
		OriginUserID: "alice",
		Kind:         aggregates.EnvelopeNodes,
		Nodes:        []*entities.Node{n},
	})
	assert.Error(t, err)
	assert.Equal(t, 0, r.Graph().NodeCount())
}

func TestApplyChange_AdvancesRemoteGeneration(t *testing.T) {
	rc, r := newReconciler(t, nil)
	_, before := r.Capture("bob")

	_, err := rc.ApplyChange(change("bob", protocol.ChangeNodes, []protocol.Node{wireNode("c1", "Order")}, nil))
	require.NoError(t, err)
	_, afterEcho := r.Capture("bob")
	assert.Equal(t, before, afterEcho, "echoes never touch the replica")

	_, err = rc.ApplyChange(change("alice", protocol.ChangeNodes, []protocol.Node{wireNode("c1", "Order")}, nil))
	require.NoError(t, err)
	_, afterRemote := r.Capture("bob")
	assert.Equal(t, before+1, afterRemote)
}

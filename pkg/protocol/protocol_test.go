package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		event   string
		wantErr bool
	}{
		{"join", `{"event":"join_diagram","data":{"documentId":"d1","userId":"u1","userName":"Ana"}}`, EventJoinDiagram, false},
		{"missing event", `{"data":{}}`, "", true},
		{"not json", `join`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.event, f.Event)
		})
	}
}

func TestFrame_RoundTripChange(t *testing.T) {
	change := DiagramChange{
		DocumentID: "d1",
		UserID:     "u1",
		Changes:    Changes{Kind: ChangeNodes, Nodes: []Node{{ID: "c1", Name: "Order"}}},
	}
	f, err := NewFrame(EventDiagramChange, change)
	require.NoError(t, err)
	raw, err := f.Marshal()
	require.NoError(t, err)

	parsed, err := ParseFrame(raw)
	require.NoError(t, err)
	var got DiagramChange
	require.NoError(t, parsed.Decode(&got))

	assert.Equal(t, ChangeNodes, got.Changes.Kind)
	require.Len(t, got.Changes.Nodes, 1)
	assert.Equal(t, "Order", got.Changes.Nodes[0].Name)
}

func TestChanges_LegacyTypeKey(t *testing.T) {
	f := Frame{Event: EventDiagramChange, Data: []byte(`{"documentId":"d1","userId":"u1","changes":{"type":"full_update","nodes":[],"edges":[]}}`)}

	var got DiagramChange
	require.NoError(t, f.Decode(&got))

	assert.Equal(t, ChangeFull, got.Changes.Kind)
}

func TestMultiplicity_AcceptsLegacyString(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Multiplicity
	}{
		{"object", `{"id":"e1","multiplicity":{"source":"1","target":"*"}}`, Multiplicity{Source: "1", Target: "*"}},
		{"string", `{"id":"e1","multiplicity":"1:0..*"}`, Multiplicity{Source: "1", Target: "0..*"}},
		{"string without colon", `{"id":"e1","multiplicity":"1"}`, Multiplicity{Source: "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Frame{Event: "edge", Data: []byte(tt.raw)}
			var e Edge
			require.NoError(t, f.Decode(&e))
			require.NotNil(t, e.Multiplicity)
			assert.Equal(t, tt.want, *e.Multiplicity)
		})
	}
}

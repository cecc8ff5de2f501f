package versioning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/core/entities"
)

// SnapshotVersion summarizes one durable save of a document
type SnapshotVersion struct {
	DocumentID string    `json:"documentId"`
	Version    uint64    `json:"version"`
	Checksum   string    `json:"checksum"`
	NodeCount  int       `json:"nodeCount"`
	EdgeCount  int       `json:"edgeCount"`
	SavedAt    time.Time `json:"savedAt"`
	SavedBy    string    `json:"savedBy"`
}

// Describe builds the SnapshotVersion for a snapshot accepted as result
func Describe(snapshot aggregates.Snapshot, result aggregates.SaveResult) (SnapshotVersion, error) {
	sum, err := Checksum(snapshot.Nodes, snapshot.Edges)
	if err != nil {
		return SnapshotVersion{}, err
	}
	return SnapshotVersion{
		DocumentID: snapshot.DocumentID.String(),
		Version:    result.Version,
		Checksum:   sum,
		NodeCount:  len(snapshot.Nodes),
		EdgeCount:  len(snapshot.Edges),
		SavedAt:    result.UpdatedAt,
		SavedBy:    snapshot.Metadata.ModifiedBy,
	}, nil
}

type canonicalNode struct {
	ID         string
	Name       string
	X          float64
	Y          float64
	Attributes []entities.Attribute
	Behaviors  []entities.Behavior
	Tags       []string
}

type canonicalEdge struct {
	ID           string
	Kind         string
	Source       string
	Target       string
	SourceAnchor string
	TargetAnchor string
	Label        string
	Multiplicity string
}

// Checksum hashes the graph content independently of collection order.
// Metadata and versions are not part of the hash.
func Checksum(nodes []*entities.Node, edges []*entities.Edge) (string, error) {
	cn := make([]canonicalNode, 0, len(nodes))
	for _, n := range nodes {
		cn = append(cn, canonicalNode{
			ID:         n.ID().String(),
			Name:       n.Name(),
			X:          n.Position().X,
			Y:          n.Position().Y,
			Attributes: n.Attributes(),
			Behaviors:  n.Behaviors(),
			Tags:       n.Tags(),
		})
	}
	sort.Slice(cn, func(i, j int) bool { return cn[i].ID < cn[j].ID })

	ce := make([]canonicalEdge, 0, len(edges))
	for _, e := range edges {
		ce = append(ce, canonicalEdge{
			ID:           e.ID().String(),
			Kind:         string(e.Kind()),
			Source:       e.SourceID().String(),
			Target:       e.TargetID().String(),
			SourceAnchor: string(e.SourceAnchor()),
			TargetAnchor: string(e.TargetAnchor()),
			Label:        e.Label(),
			Multiplicity: e.Multiplicity().String(),
		})
	}
	sort.Slice(ce, func(i, j int) bool { return ce[i].ID < ce[j].ID })

	data, err := json.Marshal(struct {
		Nodes []canonicalNode
		Edges []canonicalEdge
	}{cn, ce})
	if err != nil {
		return "", fmt.Errorf("failed to encode graph for checksum: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

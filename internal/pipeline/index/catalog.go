package index

import (
	"context"

	"citegraph/internal/persistence/databases"
	"citegraph/internal/provenance"
)

// GraphCatalog adapts the graph store to the linker's read surface.
type GraphCatalog struct {
	Graph databases.GraphDB
}

func (c *GraphCatalog) GetEntity(ctx context.Context, entityID string) (provenance.Entity, bool, error) {
	n, ok := c.Graph.GetNode(ctx, entityID)
	if !ok || !hasLabel(n, LabelEntity) {
		return provenance.Entity{}, false, nil
	}
	return decodeEntity(n), true, nil
}

func (c *GraphCatalog) EntitiesByType(ctx context.Context, t provenance.EntityType) ([]provenance.Entity, error) {
	nodes, err := c.Graph.NodesByLabel(ctx, LabelEntity)
	if err != nil {
		return nil, err
	}
	var out []provenance.Entity
	for _, n := range nodes {
		ent := decodeEntity(n)
		if ent.EntityType == t {
			out = append(out, ent)
		}
	}
	return out, nil
}

func hasLabel(n databases.Node, label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

func decodeEntity(n databases.Node) provenance.Entity {
	ent := provenance.Entity{EntityID: n.ID}
	if v, ok := n.Props["canonical_name"].(string); ok {
		ent.CanonicalName = v
	}
	if v, ok := n.Props["entity_type"].(string); ok {
		ent.EntityType = provenance.EntityType(v)
	}
	ent.MentionCount = asInt(n.Props["mention_count"])
	switch aliases := n.Props["aliases"].(type) {
	case []string:
		ent.Aliases = append(ent.Aliases, aliases...)
	case []any:
		for _, a := range aliases {
			if s, ok := a.(string); ok {
				ent.Aliases = append(ent.Aliases, s)
			}
		}
	}
	return ent
}

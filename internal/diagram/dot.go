package diagram

import (
	"fmt"
	"strings"
)

// RenderDOT renders a validated graph as Graphviz DOT text. Superstates become
// clusters with their sub-graphs laid out inside. Hosts pipe the output to
// their own dot toolchain; no rendering happens here.
func RenderDOT(g *Graph, title string) string {
	var b strings.Builder

	b.WriteString("digraph statechart {\n")
	b.WriteString("    rankdir=LR;\n")
	b.WriteString("    compound=true;\n")
	b.WriteString("    node [shape=Mrecord, fontname=\"Helvetica\"];\n")
	if title != "" {
		b.WriteString(fmt.Sprintf("    label=%q;\n", title))
	}
	dotLevel(&b, g, "", "    ")
	b.WriteString("}\n")

	return b.String()
}

func dotLevel(b *strings.Builder, g *Graph, scope, indent string) {
	initPoint := scopedID(scope, "__init")
	b.WriteString(fmt.Sprintf("%s%s [shape=point, width=0.15];\n", indent, initPoint))
	b.WriteString(fmt.Sprintf("%s%s -> %s;\n", indent, initPoint, scopedID(scope, g.Initial.Def.Name)))

	for _, node := range g.States {
		id := scopedID(scope, node.Def.Name)
		switch {
		case node.Sub != nil:
			b.WriteString(fmt.Sprintf("%ssubgraph cluster_%s {\n", indent, id))
			b.WriteString(fmt.Sprintf("%s    label=%q;\n", indent, node.Def.Name))
			dotLevel(b, node.Sub, id, indent+"    ")
			b.WriteString(indent + "}\n")
		case node.Def.IsFinal:
			b.WriteString(fmt.Sprintf("%s%s [label=%q, peripheries=2];\n", indent, id, node.Def.Name))
		default:
			b.WriteString(fmt.Sprintf("%s%s [label=%q];\n", indent, id, node.Def.Name))
		}
	}

	for _, node := range g.States {
		for _, t := range node.Outgoing {
			label := edgeLabel(t.Event, t.Condition)
			src, srcAttr := dotEndpoint(g, scope, t.Source, "ltail")
			dst, dstAttr := dotEndpoint(g, scope, t.Target, "lhead")
			attrs := fmt.Sprintf("label=%q", label)
			if srcAttr != "" {
				attrs += ", " + srcAttr
			}
			if dstAttr != "" {
				attrs += ", " + dstAttr
			}
			b.WriteString(fmt.Sprintf("%s%s -> %s [%s];\n", indent, src, dst, attrs))
		}
	}
}

// dotEndpoint resolves a transition endpoint. Superstates render as clusters,
// which cannot be edge endpoints in DOT; edges anchor on the cluster's inner
// init point and clip at the cluster border via ltail/lhead.
func dotEndpoint(g *Graph, scope, name, clipAttr string) (id, attr string) {
	node, ok := g.State(name)
	if ok && node.Sub != nil {
		clusterID := scopedID(scope, name)
		return scopedID(clusterID, "__init"), fmt.Sprintf("%s=cluster_%s", clipAttr, clusterID)
	}
	return scopedID(scope, name), ""
}

package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a validated graph as a Mermaid stateDiagram-v2 string.
// activePath, when non-empty, is the dotted active-state path split per level;
// the active leaf is tagged with the "active" class so hosts can highlight it.
func RenderMermaid(g *Graph, activePath []string) string {
	var b strings.Builder

	b.WriteString("stateDiagram-v2\n")
	renderLevel(&b, g, "", "    ")

	if len(activePath) > 0 {
		b.WriteString("\n")
		b.WriteString("    classDef active fill:#1a5276,stroke:#0e3a52,color:#fff\n")
		b.WriteString(fmt.Sprintf("    class %s active\n", pathID(activePath)))
	}

	return b.String()
}

func renderLevel(b *strings.Builder, g *Graph, scope, indent string) {
	b.WriteString(fmt.Sprintf("%s[*] --> %s\n", indent, scopedID(scope, g.Initial.Def.Name)))

	for _, node := range g.States {
		id := scopedID(scope, node.Def.Name)
		if node.Sub != nil {
			b.WriteString(fmt.Sprintf("%sstate %s {\n", indent, id))
			renderLevel(b, node.Sub, id, indent+"    ")
			b.WriteString(indent + "}\n")
		}
		if node.Def.IsFinal {
			b.WriteString(fmt.Sprintf("%s%s --> [*]\n", indent, id))
		}
	}

	for _, node := range g.States {
		for _, t := range node.Outgoing {
			label := edgeLabel(t.Event, t.Condition)
			if label != "" {
				b.WriteString(fmt.Sprintf("%s%s --> %s : %s\n",
					indent, scopedID(scope, t.Source), scopedID(scope, t.Target), label))
			} else {
				b.WriteString(fmt.Sprintf("%s%s --> %s\n",
					indent, scopedID(scope, t.Source), scopedID(scope, t.Target)))
			}
		}
	}
}

func edgeLabel(event, condition string) string {
	switch {
	case event != "" && condition != "":
		return fmt.Sprintf("%s [%s]", event, condition)
	case event != "":
		return event
	case condition != "":
		return fmt.Sprintf("[%s]", condition)
	default:
		return ""
	}
}

// pathID folds a per-level active path into the node ID renderLevel emits for
// the leaf, so the class line targets the scoped node and not its bare name.
func pathID(path []string) string {
	id := ""
	for _, elem := range path {
		id = scopedID(id, elem)
	}
	return id
}

// scopedID prefixes nested state IDs with their superstate scope so names
// reused across levels stay distinct in the rendered output.
func scopedID(scope, name string) string {
	if scope == "" {
		return mermaidSafeID(name)
	}
	return scope + "_" + mermaidSafeID(name)
}

// mermaidSafeID replaces characters Mermaid cannot handle in identifiers.
func mermaidSafeID(id string) string {
	var b strings.Builder
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

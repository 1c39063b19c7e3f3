package lazypkg

import (
	"fmt"
	"strings"
)

type GraphNode struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Stamp int64  `json:"stamp"`
}

// GraphEdge means "From depends on To".
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Graph struct {
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
	TopoOrder []string    `json:"topoOrder"`
}

// Graph returns a snapshot of the registered dependency graph. Dependencies that are
// declared but not registered yet appear as edges only.
func (rt *Runtime) Graph() (Graph, error) {
	topo, err := walkDeps(rt.order, rt.packages, true)
	if err != nil {
		return Graph{}, err
	}

	g := Graph{
		Nodes:     make([]GraphNode, 0, len(rt.order)),
		TopoOrder: topo,
	}
	for _, name := range rt.order {
		pkg := rt.packages[name]
		g.Nodes = append(g.Nodes, GraphNode{
			Name:  name,
			State: pkg.State.String(),
			Stamp: pkg.Stamp,
		})
		for _, dep := range pkg.Deps {
			g.Edges = append(g.Edges, GraphEdge{From: name, To: dep})
		}
	}
	return g, nil
}

// DOT exports Graphviz DOT text.
func (g Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph lazypkg {\n")
	b.WriteString("  rankdir=LR;\n")

	aliases := make(map[string]string, len(g.Nodes))
	for i, n := range g.Nodes {
		alias := fmt.Sprintf("n%d", i)
		aliases[n.Name] = alias
		label := escapeDOT(n.Name)
		if n.State != "" {
			label = label + "\\n(" + escapeDOT(n.State) + ")"
		}
		b.WriteString(fmt.Sprintf("  %s [label=\"%s\"];\n", alias, label))
	}
	for _, e := range g.Edges {
		from, okFrom := aliases[e.From]
		to, okTo := aliases[e.To]
		if !okFrom || !okTo {
			continue
		}
		b.WriteString(fmt.Sprintf("  %s -> %s;\n", from, to))
	}
	b.WriteString("}\n")
	return b.String()
}

// Mermaid exports Mermaid graph text.
func (g Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	aliases := make(map[string]string, len(g.Nodes))
	for i, n := range g.Nodes {
		alias := fmt.Sprintf("n%d", i)
		aliases[n.Name] = alias
		label := escapeMermaid(n.Name)
		if n.State != "" {
			label = label + "<br/>(" + escapeMermaid(n.State) + ")"
		}
		b.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", alias, label))
	}
	for _, e := range g.Edges {
		from, okFrom := aliases[e.From]
		to, okTo := aliases[e.To]
		if !okFrom || !okTo {
			continue
		}
		b.WriteString(fmt.Sprintf("    %s --> %s\n", from, to))
	}
	return b.String()
}

func escapeDOT(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}

func escapeMermaid(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}

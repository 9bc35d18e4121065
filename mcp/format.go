package mcp

import (
	"fmt"
	"strings"

	"github.com/Benny93/chainlab/internal/catalog"
	"github.com/Benny93/chainlab/internal/chain"
	"github.com/Benny93/chainlab/internal/plan"
	"github.com/Benny93/chainlab/internal/storage"
)

func writeModule(sb *strings.Builder, m *catalog.ModuleDef) {
	sb.WriteString(fmt.Sprintf("### %s (id %d)\n", m.Name(), m.ID()))
	if d := m.Description(); d != "" {
		sb.WriteString(d + "\n")
	}
	for _, p := range m.Inputs() {
		sb.WriteString(fmt.Sprintf("- in  `%s` %s\n", p.Name, p.Type))
	}
	for _, p := range m.Outputs() {
		sb.WriteString(fmt.Sprintf("- out `%s` %s\n", p.Name, p.Type))
	}
	sb.WriteString("\n")
}

// writeEndpoints lists endpoints with the module of their node.
func writeEndpoints(sb *strings.Builder, c *chain.Chain, eps []chain.Endpoint) {
	for _, ep := range eps {
		module := "?"
		if n, ok := c.Node(ep.Node); ok {
			module = n.Module.Name()
		}
		sb.WriteString(fmt.Sprintf("- `%s` on %s\n", ep, module))
	}
}

func formatSnapshot(s *chain.Snapshot) string {
	var sb strings.Builder

	name := s.Name
	if name == "" {
		name = "(unnamed)"
	}
	sb.WriteString(fmt.Sprintf("## Chain %s\n\n", name))
	sb.WriteString(fmt.Sprintf("**ID:** `%s`\n", s.ID))
	sb.WriteString(fmt.Sprintf("**Owner:** %s\n", s.Owner))
	sb.WriteString(fmt.Sprintf("**Locked:** %t\n\n", s.Locked))

	sb.WriteString(fmt.Sprintf("### Nodes (%d)\n\n", len(s.Nodes)))
	for _, n := range s.Nodes {
		sb.WriteString(fmt.Sprintf("- `%d` %s (module %d)\n", n.ID, n.Module, n.ModuleID))
		for _, p := range n.Inputs {
			sb.WriteString(fmt.Sprintf("  - in  `%s` %s, %d links\n", p.Name, typeName(p.Type), p.Links))
		}
		for _, p := range n.Outputs {
			sb.WriteString(fmt.Sprintf("  - out `%s` %s, %d links\n", p.Name, typeName(p.Type), p.Links))
		}
	}

	sb.WriteString(fmt.Sprintf("\n### Links (%d)\n\n", len(s.Links)))
	for _, l := range s.Links {
		sb.WriteString(fmt.Sprintf("- `%d` `%s` -> `%s`\n", l.ID, l.From, l.To))
	}

	sb.WriteString(fmt.Sprintf("\n### Free inputs (%d)\n\n", len(s.FreeInputs)))
	for _, ep := range s.FreeInputs {
		sb.WriteString(fmt.Sprintf("- `%s`\n", ep))
	}
	return sb.String()
}

func typeName(t string) string {
	if t == "" {
		return "<untyped>"
	}
	return t
}

func formatPlan(c *chain.Chain, p *plan.Plan) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Execution plan for `%s`\n\n", p.ChainID))

	for i, stage := range p.Stages {
		names := make([]string, 0, len(stage))
		for _, id := range stage {
			label := fmt.Sprintf("`%d`", id)
			if n, ok := c.Node(id); ok {
				label += " " + n.Module.Name()
			}
			names = append(names, label)
		}
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, strings.Join(names, ", ")))
	}
	if len(p.Stages) == 0 {
		sb.WriteString("The chain is empty.\n")
	}

	sb.WriteString(fmt.Sprintf("\n**Inputs to supply (%d):**\n", len(p.FreeInputs)))
	for _, ep := range p.FreeInputs {
		sb.WriteString(fmt.Sprintf("- `%s`\n", ep))
	}
	return sb.String()
}

func formatCatalog(cat *catalog.Catalog) string {
	if cat == nil {
		return "# Module Catalog\n\nNo catalog loaded.\n"
	}

	var sb strings.Builder
	sb.WriteString("# Module Catalog\n\n")
	sb.WriteString("## Semantic types\n\n")
	sb.WriteString("| ID | Name |\n")
	sb.WriteString("|----|------|\n")
	for _, t := range cat.Types() {
		sb.WriteString(fmt.Sprintf("| %d | %s |\n", t.ID, t.Name))
	}

	modules := cat.Modules()
	sb.WriteString(fmt.Sprintf("\n## Modules (%d)\n\n", len(modules)))
	for _, m := range modules {
		writeModule(&sb, m)
	}
	return sb.String()
}

func formatChains(open []*chain.Chain, stored []storage.Summary) string {
	var sb strings.Builder
	sb.WriteString("# Chains\n\n")

	sb.WriteString(fmt.Sprintf("## Open (%d)\n\n", len(open)))
	for _, c := range open {
		sb.WriteString(fmt.Sprintf("- `%s` %s (owner %s, %d nodes, %d links, locked %t)\n",
			c.ID(), c.Name(), c.Owner(), c.NodeCount(), c.LinkCount(), c.Locked()))
	}

	sb.WriteString(fmt.Sprintf("\n## Committed (%d)\n\n", len(stored)))
	for _, s := range stored {
		sb.WriteString(fmt.Sprintf("- `%s` %s (owner %s, %d nodes, %d links, saved %s)\n",
			s.ID, s.Name, s.Owner, s.Nodes, s.Links, s.SavedAt.Format("2006-01-02 15:04:05")))
	}
	return sb.String()
}

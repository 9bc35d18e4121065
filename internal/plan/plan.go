// Package plan derives the static execution plan of a chain: the inputs
// that must be supplied externally and an order in which nodes can run.
// It never runs modules itself.
package plan

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/Benny93/chainlab/internal/chain"
)

// ErrCyclicChain is returned when the link relation contains a cycle.
var ErrCyclicChain = errors.New("chain contains a cycle")

// CycleError lists the node groups that form cycles.
type CycleError struct {
	Cycles [][]chain.NodeID
}

func (e *CycleError) Error() string {
	groups := make([]string, 0, len(e.Cycles))
	for _, c := range e.Cycles {
		ids := make([]string, 0, len(c))
		for _, id := range c {
			ids = append(ids, fmt.Sprint(id))
		}
		groups = append(groups, "["+strings.Join(ids, " ")+"]")
	}
	return fmt.Sprintf("%s: %s", ErrCyclicChain, strings.Join(groups, ", "))
}

// Is makes errors.Is(err, ErrCyclicChain) hold for a CycleError.
func (e *CycleError) Is(target error) bool {
	return target == ErrCyclicChain
}

// Plan is the static execution plan of one chain.
type Plan struct {
	ChainID uuid.UUID `json:"chain_id"`

	// Order is a topological order of every node.
	Order []chain.NodeID `json:"order"`

	// Stages groups nodes whose upstream nodes all sit in earlier stages.
	// Within a stage nodes keep insertion order.
	Stages [][]chain.NodeID `json:"stages"`

	// FreeInputs must be supplied before the chain can run.
	FreeInputs []chain.Endpoint `json:"free_inputs"`
}

// Build plans the chain from a consistent snapshot.
func Build(c *chain.Chain) (*Plan, error) {
	return FromSnapshot(c.Snapshot())
}

// FromSnapshot plans a chain snapshot.
func FromSnapshot(s *chain.Snapshot) (*Plan, error) {
	g := simple.NewDirectedGraph()
	position := make(map[int64]int, len(s.Nodes))
	for i, n := range s.Nodes {
		g.AddNode(simple.Node(int64(n.ID)))
		position[int64(n.ID)] = i
	}

	var selfLinked []chain.NodeID
	for _, l := range s.Links {
		from, to := int64(l.From.Node), int64(l.To.Node)
		if from == to {
			// simple.DirectedGraph refuses self edges; such a node is a
			// cycle of its own.
			if !slices.Contains(selfLinked, l.From.Node) {
				selfLinked = append(selfLinked, l.From.Node)
			}
			continue
		}
		if !g.HasEdgeFromTo(from, to) {
			g.SetEdge(g.NewEdge(g.Node(from), g.Node(to)))
		}
	}

	byPosition := func(nodes []graph.Node) {
		slices.SortFunc(nodes, func(a, b graph.Node) int {
			return position[a.ID()] - position[b.ID()]
		})
	}

	sorted, err := topo.SortStabilized(g, byPosition)
	if err != nil || len(selfLinked) > 0 {
		return nil, cycleError(err, selfLinked, byPosition)
	}

	stage := make(map[int64]int, len(sorted))
	depth := 0
	for _, n := range sorted {
		level := 0
		preds := g.To(n.ID())
		for preds.Next() {
			if next := stage[preds.Node().ID()] + 1; next > level {
				level = next
			}
		}
		stage[n.ID()] = level
		if level+1 > depth {
			depth = level + 1
		}
	}

	p := &Plan{
		ChainID:    s.ID,
		Order:      make([]chain.NodeID, 0, len(s.Nodes)),
		Stages:     make([][]chain.NodeID, depth),
		FreeInputs: s.FreeInputs,
	}
	for _, n := range s.Nodes {
		level := stage[int64(n.ID)]
		p.Stages[level] = append(p.Stages[level], n.ID)
	}
	for _, st := range p.Stages {
		p.Order = append(p.Order, st...)
	}
	return p, nil
}

func cycleError(err error, selfLinked []chain.NodeID, order func([]graph.Node)) error {
	ce := &CycleError{}
	for _, id := range selfLinked {
		ce.Cycles = append(ce.Cycles, []chain.NodeID{id})
	}

	var unorderable topo.Unorderable
	if errors.As(err, &unorderable) {
		for _, component := range unorderable {
			if len(component) < 2 {
				continue
			}
			order(component)
			ids := make([]chain.NodeID, 0, len(component))
			for _, n := range component {
				ids = append(ids, chain.NodeID(n.ID()))
			}
			ce.Cycles = append(ce.Cycles, ids)
		}
	} else if err != nil {
		return fmt.Errorf("ordering chain: %w", err)
	}
	return ce
}

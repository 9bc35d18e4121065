package chain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Benny93/chainlab/internal/catalog"
)

// ErrUnknownModule is returned by Restore when a record references a module
// the catalog does not know.
var ErrUnknownModule = errors.New("unknown module")

// Snapshot is a consistent, read-only copy of a chain for rendering and
// serialization.
type Snapshot struct {
	ID         uuid.UUID      `json:"id"`
	Name       string         `json:"name"`
	Owner      string         `json:"owner"`
	Locked     bool           `json:"locked"`
	Nodes      []NodeSnapshot `json:"nodes"`
	Links      []Link         `json:"links"`
	FreeInputs []Endpoint     `json:"free_inputs"`
}

// NodeSnapshot describes one node and the state of its parameters.
type NodeSnapshot struct {
	ID       NodeID          `json:"id"`
	ModuleID int64           `json:"module_id"`
	Module   string          `json:"module"`
	Inputs   []ParamSnapshot `json:"inputs"`
	Outputs  []ParamSnapshot `json:"outputs"`
}

// ParamSnapshot describes one parameter of a node.
type ParamSnapshot struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Links int    `json:"links"`
}

// Snapshot copies the chain under its read lock.
func (c *Chain) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := &Snapshot{
		ID:         c.id,
		Name:       c.name,
		Owner:      c.owner,
		Locked:     c.locked,
		Nodes:      make([]NodeSnapshot, 0, len(c.order)),
		Links:      c.linksLocked(),
		FreeInputs: c.freeInputsLocked(),
	}

	outbound := make(map[Endpoint]int)
	for _, l := range c.links {
		outbound[l.From]++
	}

	for _, id := range c.order {
		n := c.nodes[id]
		inputs, outputs := n.Module.Inputs(), n.Module.Outputs()
		ns := NodeSnapshot{
			ID:       id,
			ModuleID: n.Module.ID(),
			Module:   n.Module.Name(),
			Inputs:   make([]ParamSnapshot, 0, len(inputs)),
			Outputs:  make([]ParamSnapshot, 0, len(outputs)),
		}
		for _, p := range inputs {
			ps := ParamSnapshot{Name: p.Name}
			if p.Typed() {
				ps.Type = p.Type.Name
			}
			if _, linked := c.inbound[In(id, p.Name)]; linked {
				ps.Links = 1
			}
			ns.Inputs = append(ns.Inputs, ps)
		}
		for _, p := range outputs {
			ps := ParamSnapshot{Name: p.Name, Links: outbound[Out(id, p.Name)]}
			if p.Typed() {
				ps.Type = p.Type.Name
			}
			ns.Outputs = append(ns.Outputs, ps)
		}
		s.Nodes = append(s.Nodes, ns)
	}
	if s.FreeInputs == nil {
		s.FreeInputs = []Endpoint{}
	}
	return s
}

// Record is the persisted form of a chain. Links reference nodes by their
// position in Nodes, so node handles need not survive a reload.
type Record struct {
	ID     uuid.UUID    `json:"id"`
	Name   string       `json:"name"`
	Owner  string       `json:"owner"`
	Locked bool         `json:"locked"`
	Nodes  []RecordNode `json:"nodes"`
	Links  []RecordLink `json:"links"`
}

// RecordNode references the module a node places.
type RecordNode struct {
	ModuleID int64  `json:"module_id"`
	Module   string `json:"module"`
}

// RecordLink is a link between two node positions.
type RecordLink struct {
	From RecordEndpoint `json:"from"`
	To   RecordEndpoint `json:"to"`
}

// RecordEndpoint names a parameter on the node at position Node.
type RecordEndpoint struct {
	Node  int    `json:"node"`
	Param string `json:"param"`
}

// Record verifies the chain and returns its persisted form. A stale
// compatibility index is rebuilt rather than refused. Nodes and links
// are captured under one read lock, so a record never holds nodes without
// their links.
func (c *Chain) Record() (*Record, error) {
	c.healIndex("record")

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.verifyLocked(); err != nil {
		return nil, fmt.Errorf("recording chain %s: %w", c.id, err)
	}

	r := &Record{
		ID:     c.id,
		Name:   c.name,
		Owner:  c.owner,
		Locked: c.locked,
		Nodes:  make([]RecordNode, 0, len(c.order)),
		Links:  make([]RecordLink, 0, len(c.links)),
	}

	position := make(map[NodeID]int, len(c.order))
	for i, id := range c.order {
		position[id] = i
		m := c.nodes[id].Module
		r.Nodes = append(r.Nodes, RecordNode{ModuleID: m.ID(), Module: m.Name()})
	}
	for _, l := range c.linksLocked() {
		r.Links = append(r.Links, RecordLink{
			From: RecordEndpoint{Node: position[l.From.Node], Param: l.From.Param},
			To:   RecordEndpoint{Node: position[l.To.Node], Param: l.To.Param},
		})
	}
	return r, nil
}

// ModuleSource resolves module ids while restoring a record.
type ModuleSource interface {
	ModuleByID(id int64) (*catalog.ModuleDef, bool)
}

// Restore rebuilds a chain from its record through the regular mutation
// path, then applies the recorded lock state.
func Restore(r *Record, modules ModuleSource, opts ...Option) (*Chain, error) {
	base := []Option{WithID(r.ID), WithName(r.Name)}
	c := New(r.Owner, append(base, opts...)...)

	ids := make([]NodeID, 0, len(r.Nodes))
	for i, rn := range r.Nodes {
		m, ok := modules.ModuleByID(rn.ModuleID)
		if !ok {
			return nil, fmt.Errorf("restoring chain %s: node %d (%s, id %d): %w",
				r.ID, i, rn.Module, rn.ModuleID, ErrUnknownModule)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("restoring chain %s: node %d: %w", r.ID, i, err)
		}
		ids = append(ids, c.addNodeLocked(m))
	}

	for i, rl := range r.Links {
		if rl.From.Node < 0 || rl.From.Node >= len(ids) || rl.To.Node < 0 || rl.To.Node >= len(ids) {
			return nil, fmt.Errorf("restoring chain %s: link %d references a missing node: %w",
				r.ID, i, ErrForeignNode)
		}
		from := Out(ids[rl.From.Node], rl.From.Param)
		to := In(ids[rl.To.Node], rl.To.Param)
		if _, err := c.addLinkLocked(from, to); err != nil {
			return nil, fmt.Errorf("restoring chain %s: link %d: %w", r.ID, i, err)
		}
	}

	c.locked = r.Locked
	return c, nil
}

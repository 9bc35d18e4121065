package chain

import (
	"fmt"

	"go.uber.org/zap"
)

// Candidates returns every currently free endpoint that the given endpoint
// could be linked with: opposite polarity, same semantic type, and on a
// different node. Results are ordered by node insertion, then by declared
// parameter order. An untyped endpoint has no candidates.
//
// Results are checked against the graph as they are collected; if the
// compatibility index turns out to be stale it is rebuilt and the query
// answered again.
func (c *Chain) Candidates(ep Endpoint) ([]Endpoint, error) {
	c.mu.RLock()
	out, consistent, err := c.candidatesLocked(ep)
	c.mu.RUnlock()
	if err != nil || consistent {
		return out, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Warn("compatibility index inconsistent, rebuilding",
		zap.Stringer("chain", c.id),
		zap.Stringer("endpoint", ep),
	)
	c.rebuildIndexLocked()
	out, _, err = c.candidatesLocked(ep)
	return out, err
}

func (c *Chain) candidatesLocked(ep Endpoint) ([]Endpoint, bool, error) {
	n, ok := c.nodes[ep.Node]
	if !ok {
		return nil, true, fmt.Errorf("candidates for %s: %w", ep, ErrUnknownNode)
	}
	p, _, ok := n.Param(ep.Polarity, ep.Param)
	if !ok {
		return nil, true, fmt.Errorf("candidates for %s: %w", ep, ErrUnknownParameter)
	}
	if !p.Typed() {
		return []Endpoint{}, true, nil
	}

	want := ep.Polarity.Opposite()
	free := c.index.free(p.Type.ID, want)
	out := make([]Endpoint, 0, len(free))
	for _, e := range free {
		if !c.entryValid(e, want, p.Type.ID) {
			return nil, false, nil
		}
		if e.ep.Node == ep.Node {
			continue
		}
		out = append(out, e.ep)
	}
	return out, true, nil
}

// entryValid reports whether an index entry still describes a free endpoint
// of the given polarity and type.
func (c *Chain) entryValid(e indexEntry, pol Polarity, typeID int64) bool {
	if e.ep.Polarity != pol {
		return false
	}
	n, ok := c.nodes[e.ep.Node]
	if !ok {
		return false
	}
	p, pos, ok := n.Param(pol, e.ep.Param)
	if !ok || pos != e.pos || !p.Typed() || p.Type.ID != typeID {
		return false
	}
	if pol == Input {
		if _, linked := c.inbound[e.ep]; linked {
			return false
		}
	}
	return true
}

// RebuildIndex recomputes the compatibility index from the node and link sets.
func (c *Chain) RebuildIndex() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuildIndexLocked()
}

func (c *Chain) rebuildIndexLocked() {
	c.index = c.computeIndexLocked()
}

func (c *Chain) computeIndexLocked() *compatIndex {
	x := newCompatIndex()
	for _, id := range c.order {
		n := c.nodes[id]
		for i, p := range n.Module.Inputs() {
			if !p.Typed() {
				continue
			}
			ep := In(id, p.Name)
			if _, linked := c.inbound[ep]; linked {
				continue
			}
			x.insert(p.Type.ID, Input, indexEntry{ep: ep, pos: i})
		}
		for i, p := range n.Module.Outputs() {
			if p.Typed() {
				x.insert(p.Type.ID, Output, indexEntry{ep: Out(id, p.Name), pos: i})
			}
		}
	}
	return x
}

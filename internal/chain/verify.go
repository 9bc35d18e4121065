package chain

import (
	"fmt"

	"go.uber.org/zap"
)

// Verify checks every structural invariant of the chain and reports the
// first breach as an ErrInvariantViolation. A chain built only through the
// public API always verifies.
func (c *Chain) Verify() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.verifyLocked()
}

func (c *Chain) verifyLocked() error {
	if err := c.verifyGraphLocked(); err != nil {
		return err
	}
	if !c.indexCurrentLocked() {
		return violation("compatibility index out of date")
	}
	return nil
}

// verifyGraphLocked checks the node and link sets and their indexes, leaving
// out the compatibility index.
func (c *Chain) verifyGraphLocked() error {
	if len(c.order) != len(c.nodes) {
		return violation("node order lists %d nodes, chain holds %d", len(c.order), len(c.nodes))
	}
	for _, id := range c.order {
		n, ok := c.nodes[id]
		if !ok {
			return violation("node order references missing node %d", id)
		}
		if n.Module == nil {
			return violation("node %d has no module", id)
		}
	}

	inputs := make(map[Endpoint]LinkID, len(c.links))
	for id, l := range c.links {
		if l.ID != id {
			return violation("link %d stored under id %d", l.ID, id)
		}
		if err := c.checkLinkLocked(l); err != nil {
			return err
		}
		if other, dup := inputs[l.To]; dup {
			return violation("input %s fed by links %d and %d", l.To, other, id)
		}
		inputs[l.To] = id

		if got, ok := c.inbound[l.To]; !ok || got != id {
			return violation("inbound index misses link %d", id)
		}
		for _, node := range []NodeID{l.From.Node, l.To.Node} {
			if _, ok := c.incident[node][id]; !ok {
				return violation("incident index misses link %d on node %d", id, node)
			}
		}
	}

	if len(c.inbound) != len(c.links) {
		return violation("inbound index holds %d entries for %d links", len(c.inbound), len(c.links))
	}
	for node, ids := range c.incident {
		if _, ok := c.nodes[node]; !ok && len(ids) > 0 {
			return violation("incident index references missing node %d", node)
		}
		for id := range ids {
			if l, ok := c.links[id]; !ok || !l.Touches(node) {
				return violation("incident index lists link %d on node %d", id, node)
			}
		}
	}
	return nil
}

func (c *Chain) indexCurrentLocked() bool {
	return c.index.equal(c.computeIndexLocked())
}

// healIndex rebuilds a stale compatibility index. The index is derived
// state, so a mismatch over a sound graph is repaired rather than reported.
// A chain whose graph is broken is left alone for verifyLocked to refuse.
func (c *Chain) healIndex(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.verifyGraphLocked() != nil || c.indexCurrentLocked() {
		return
	}
	c.logger.Warn("compatibility index inconsistent, rebuilding",
		zap.Stringer("chain", c.id),
		zap.String("op", op),
	)
	c.rebuildIndexLocked()
}

func (c *Chain) checkLinkLocked(l *Link) error {
	from, ok := c.nodes[l.From.Node]
	if !ok {
		return violation("link %d starts at missing node %d", l.ID, l.From.Node)
	}
	to, ok := c.nodes[l.To.Node]
	if !ok {
		return violation("link %d ends at missing node %d", l.ID, l.To.Node)
	}
	if l.From.Polarity != Output || l.To.Polarity != Input {
		return violation("link %d has wrong polarity", l.ID)
	}
	fp, _, ok := from.Param(Output, l.From.Param)
	if !ok {
		return violation("link %d starts at unknown output %q", l.ID, l.From.Param)
	}
	tp, _, ok := to.Param(Input, l.To.Param)
	if !ok {
		return violation("link %d ends at unknown input %q", l.ID, l.To.Param)
	}
	if !fp.Type.Equal(tp.Type) {
		return violation("link %d joins %s to %s", l.ID, fp.Type, tp.Type)
	}
	return nil
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

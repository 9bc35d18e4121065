package chain

import "fmt"

// Clone builds a structurally identical copy of src owned by owner.
//
// The copy gets fresh node and link handles, keeps the source's module
// references, node order and name, and is always unlocked. Picking the
// owner is the caller's job; the source owner is never carried over
// implicitly. A stale compatibility index on the source is rebuilt first;
// a source whose graph still fails Verify is refused with
// ErrInvariantViolation.
func Clone(src *Chain, owner string, opts ...Option) (*Chain, error) {
	src.healIndex("clone")

	src.mu.RLock()
	defer src.mu.RUnlock()

	if err := src.verifyLocked(); err != nil {
		return nil, fmt.Errorf("cloning chain %s: %w", src.id, err)
	}

	base := []Option{WithName(src.name), WithLogger(src.logger)}
	dst := New(owner, append(base, opts...)...)

	remap := make(map[NodeID]NodeID, len(src.order))
	for _, id := range src.order {
		remap[id] = dst.addNodeLocked(src.nodes[id].Module)
	}

	for _, l := range src.linksLocked() {
		from := Endpoint{Node: remap[l.From.Node], Polarity: l.From.Polarity, Param: l.From.Param}
		to := Endpoint{Node: remap[l.To.Node], Polarity: l.To.Polarity, Param: l.To.Param}
		if _, err := dst.addLinkLocked(from, to); err != nil {
			return nil, fmt.Errorf("cloning chain %s: link %d: %w: %w", src.id, l.ID, ErrInvariantViolation, err)
		}
	}

	return dst, nil
}

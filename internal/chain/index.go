package chain

import (
	"cmp"
	"slices"
)

// indexEntry is one free endpoint together with its declared parameter
// position, which fixes its place in the ordered free sets.
type indexEntry struct {
	ep  Endpoint
	pos int
}

func compareEntries(a, b indexEntry) int {
	if c := cmp.Compare(a.ep.Node, b.ep.Node); c != 0 {
		return c
	}
	return cmp.Compare(a.pos, b.pos)
}

// freeSet is kept sorted by (node, parameter position). Node IDs grow with
// insertion, so the order is node-insertion order then declared order.
type freeSet []indexEntry

func (s *freeSet) insert(e indexEntry) bool {
	i, found := slices.BinarySearchFunc(*s, e, compareEntries)
	if found {
		return false
	}
	*s = slices.Insert(*s, i, e)
	return true
}

func (s *freeSet) remove(e indexEntry) bool {
	i, found := slices.BinarySearchFunc(*s, e, compareEntries)
	if !found || (*s)[i].ep != e.ep {
		return false
	}
	*s = slices.Delete(*s, i, i+1)
	return true
}

type typeSlots struct {
	free [2]freeSet // by Polarity
}

// compatIndex maps a semantic type id to the currently free endpoints of
// that type, per polarity. Outputs stay free for as long as their node
// exists; inputs leave the set while they carry an inbound link. Untyped
// parameters are never indexed.
type compatIndex struct {
	byType map[int64]*typeSlots
}

func newCompatIndex() *compatIndex {
	return &compatIndex{byType: make(map[int64]*typeSlots)}
}

func (x *compatIndex) insert(typeID int64, pol Polarity, e indexEntry) bool {
	slots := x.byType[typeID]
	if slots == nil {
		slots = &typeSlots{}
		x.byType[typeID] = slots
	}
	return slots.free[pol].insert(e)
}

func (x *compatIndex) remove(typeID int64, pol Polarity, e indexEntry) bool {
	slots := x.byType[typeID]
	if slots == nil {
		return false
	}
	removed := slots.free[pol].remove(e)
	if len(slots.free[Input]) == 0 && len(slots.free[Output]) == 0 {
		delete(x.byType, typeID)
	}
	return removed
}

// free returns the free set for (type, polarity). The result must not be
// modified.
func (x *compatIndex) free(typeID int64, pol Polarity) freeSet {
	slots := x.byType[typeID]
	if slots == nil {
		return nil
	}
	return slots.free[pol]
}

// addNode registers every typed endpoint of n as free.
func (x *compatIndex) addNode(n Node) {
	for i, p := range n.Module.Inputs() {
		if p.Typed() {
			x.insert(p.Type.ID, Input, indexEntry{ep: In(n.ID, p.Name), pos: i})
		}
	}
	for i, p := range n.Module.Outputs() {
		if p.Typed() {
			x.insert(p.Type.ID, Output, indexEntry{ep: Out(n.ID, p.Name), pos: i})
		}
	}
}

// removeNode drops every endpoint of n from every free set.
func (x *compatIndex) removeNode(n Node) {
	for i, p := range n.Module.Inputs() {
		if p.Typed() {
			x.remove(p.Type.ID, Input, indexEntry{ep: In(n.ID, p.Name), pos: i})
		}
	}
	for i, p := range n.Module.Outputs() {
		if p.Typed() {
			x.remove(p.Type.ID, Output, indexEntry{ep: Out(n.ID, p.Name), pos: i})
		}
	}
}

func (x *compatIndex) size() int {
	n := 0
	for _, slots := range x.byType {
		n += len(slots.free[Input]) + len(slots.free[Output])
	}
	return n
}

func (x *compatIndex) equal(o *compatIndex) bool {
	if len(x.byType) != len(o.byType) {
		return false
	}
	for typeID, slots := range x.byType {
		other := o.byType[typeID]
		if other == nil {
			return false
		}
		for _, pol := range []Polarity{Input, Output} {
			if !slices.Equal(slots.free[pol], other.free[pol]) {
				return false
			}
		}
	}
	return true
}

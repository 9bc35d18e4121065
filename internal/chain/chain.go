package chain

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Benny93/chainlab/internal/catalog"
)

// Chain is one analysis pipeline: a graph of nodes and type-checked links.
//
// Every mutation either fully applies (graph and compatibility index
// together) or is rejected without effect. Reads may run concurrently with
// each other; mutations take the write lock.
type Chain struct {
	mu sync.RWMutex

	id     uuid.UUID
	name   string
	owner  string
	locked bool

	nodes map[NodeID]*Node
	order []NodeID // insertion order
	links map[LinkID]*Link

	// Secondary indexes, kept in sync by the link helpers.
	inbound  map[Endpoint]LinkID
	incident map[NodeID]map[LinkID]struct{}

	index  *compatIndex
	logger *zap.Logger
}

// Option configures a Chain at construction.
type Option func(*Chain)

// WithID sets the chain id instead of generating one.
func WithID(id uuid.UUID) Option {
	return func(c *Chain) { c.id = id }
}

// WithName sets the chain's display name.
func WithName(name string) Option {
	return func(c *Chain) { c.name = name }
}

// WithLogger sets the logger for lock transitions and index rebuilds.
func WithLogger(l *zap.Logger) Option {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an empty, unlocked chain owned by owner.
func New(owner string, opts ...Option) *Chain {
	c := &Chain{
		id:       uuid.New(),
		owner:    owner,
		nodes:    make(map[NodeID]*Node),
		links:    make(map[LinkID]*Link),
		inbound:  make(map[Endpoint]LinkID),
		incident: make(map[NodeID]map[LinkID]struct{}),
		index:    newCompatIndex(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the chain id.
func (c *Chain) ID() uuid.UUID { return c.id }

// Name returns the chain's display name.
func (c *Chain) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Owner returns the chain owner.
func (c *Chain) Owner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner
}

// Locked reports whether structural mutations are currently refused.
func (c *Chain) Locked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.locked
}

// Lock freezes the node and link sets.
func (c *Chain) Lock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.locked {
		c.locked = true
		c.logger.Debug("chain locked", zap.Stringer("chain", c.id))
	}
}

// Unlock allows structural mutations again.
func (c *Chain) Unlock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		c.locked = false
		c.logger.Debug("chain unlocked", zap.Stringer("chain", c.id))
	}
}

// NodeCount returns the number of nodes.
func (c *Chain) NodeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// LinkCount returns the number of links.
func (c *Chain) LinkCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.links)
}

// AddNode places module in the chain and registers its endpoints as free.
func (c *Chain) AddNode(module *catalog.ModuleDef) (NodeID, error) {
	if module == nil {
		return 0, errors.New("adding node: module must not be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.locked {
		return 0, fmt.Errorf("adding node %q: %w", module.Name(), ErrChainLocked)
	}
	if err := module.Validate(); err != nil {
		return 0, fmt.Errorf("adding node %q: %w", module.Name(), err)
	}
	return c.addNodeLocked(module), nil
}

func (c *Chain) addNodeLocked(module *catalog.ModuleDef) NodeID {
	n := &Node{ID: nextNodeID(), Module: module}
	c.nodes[n.ID] = n
	c.order = append(c.order, n.ID)
	c.index.addNode(*n)
	return n.ID
}

// RemoveNode deletes a node. Every incident link is removed first, so the
// chain never holds a link to a missing node.
func (c *Chain) RemoveNode(id NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.locked {
		return fmt.Errorf("removing node %d: %w", id, ErrChainLocked)
	}
	n, ok := c.nodes[id]
	if !ok {
		return fmt.Errorf("removing node %d: %w", id, ErrUnknownNode)
	}

	for _, linkID := range c.incidentLinksLocked(id) {
		c.removeLinkLocked(linkID)
	}

	c.index.removeNode(*n)
	delete(c.incident, id)
	delete(c.nodes, id)
	c.order = slices.DeleteFunc(c.order, func(other NodeID) bool { return other == id })
	return nil
}

// AddLink connects an output endpoint to an input endpoint.
//
// Checks run in this order: lock, node membership, polarity, parameter
// existence, semantic type, and finally whether the input is already taken.
// Links between two endpoints of the same node are accepted.
func (c *Chain) AddLink(from, to Endpoint) (Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.locked {
		return Link{}, fmt.Errorf("linking %s -> %s: %w", from, to, ErrChainLocked)
	}
	return c.addLinkLocked(from, to)
}

func (c *Chain) addLinkLocked(from, to Endpoint) (Link, error) {
	fromNode, ok := c.nodes[from.Node]
	if !ok {
		return Link{}, fmt.Errorf("linking %s -> %s: node %d: %w", from, to, from.Node, ErrForeignNode)
	}
	toNode, ok := c.nodes[to.Node]
	if !ok {
		return Link{}, fmt.Errorf("linking %s -> %s: node %d: %w", from, to, to.Node, ErrForeignNode)
	}

	if from.Polarity != Output || to.Polarity != Input {
		return Link{}, fmt.Errorf("linking %s -> %s: %w", from, to, ErrPolarity)
	}

	fromParam, _, ok := fromNode.Param(Output, from.Param)
	if !ok {
		return Link{}, fmt.Errorf("linking %s -> %s: %s has no output %q: %w",
			from, to, fromNode.Module.Name(), from.Param, ErrUnknownParameter)
	}
	toParam, toPos, ok := toNode.Param(Input, to.Param)
	if !ok {
		return Link{}, fmt.Errorf("linking %s -> %s: %s has no input %q: %w",
			from, to, toNode.Module.Name(), to.Param, ErrUnknownParameter)
	}

	if !fromParam.Type.Equal(toParam.Type) {
		return Link{}, fmt.Errorf("linking %s -> %s: %s vs %s: %w",
			from, to, fromParam.Type, toParam.Type, ErrTypeMismatch)
	}

	if existing, taken := c.inbound[to]; taken {
		return Link{}, fmt.Errorf("linking %s -> %s: link %d: %w", from, to, existing, ErrInputAlreadyLinked)
	}

	l := &Link{ID: nextLinkID(), From: from, To: to}
	c.links[l.ID] = l
	c.inbound[to] = l.ID
	c.addIncident(from.Node, l.ID)
	c.addIncident(to.Node, l.ID)
	c.index.remove(toParam.Type.ID, Input, indexEntry{ep: to, pos: toPos})
	return *l, nil
}

func (c *Chain) addIncident(node NodeID, link LinkID) {
	if c.incident[node] == nil {
		c.incident[node] = make(map[LinkID]struct{})
	}
	c.incident[node][link] = struct{}{}
}

// RemoveLink deletes a link and returns its input endpoint to the free set.
func (c *Chain) RemoveLink(id LinkID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.locked {
		return fmt.Errorf("removing link %d: %w", id, ErrChainLocked)
	}
	if _, ok := c.links[id]; !ok {
		return fmt.Errorf("removing link %d: %w", id, ErrUnknownLink)
	}
	c.removeLinkLocked(id)
	return nil
}

func (c *Chain) removeLinkLocked(id LinkID) {
	l := c.links[id]
	delete(c.links, id)
	delete(c.inbound, l.To)
	delete(c.incident[l.From.Node], id)
	delete(c.incident[l.To.Node], id)

	if n, ok := c.nodes[l.To.Node]; ok {
		if p, pos, ok := n.Param(Input, l.To.Param); ok && p.Typed() {
			c.index.insert(p.Type.ID, Input, indexEntry{ep: l.To, pos: pos})
		}
	}
}

func (c *Chain) incidentLinksLocked(node NodeID) []LinkID {
	ids := make([]LinkID, 0, len(c.incident[node]))
	for id := range c.incident[node] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Node returns the node with the given id.
func (c *Chain) Node(id NodeID) (Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns all nodes in insertion order.
func (c *Chain) Nodes() []Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nodesLocked()
}

func (c *Chain) nodesLocked() []Node {
	out := make([]Node, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.nodes[id])
	}
	return out
}

// Link returns the link with the given id.
func (c *Chain) Link(id LinkID) (Link, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.links[id]
	if !ok {
		return Link{}, false
	}
	return *l, true
}

// Links returns all links in creation order.
func (c *Chain) Links() []Link {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.linksLocked()
}

func (c *Chain) linksLocked() []Link {
	out := make([]Link, 0, len(c.links))
	for _, l := range c.links {
		out = append(out, *l)
	}
	slices.SortFunc(out, func(a, b Link) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// LinksOf returns every link touching node, in creation order.
func (c *Chain) LinksOf(node NodeID) []Link {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.incidentLinksLocked(node)
	out := make([]Link, 0, len(ids))
	for _, id := range ids {
		out = append(out, *c.links[id])
	}
	return out
}

// InboundLink returns the link feeding the input endpoint, if any.
func (c *Chain) InboundLink(input Endpoint) (Link, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.inbound[input]
	if !ok {
		return Link{}, false
	}
	return *c.links[id], true
}

// FindNodes returns every node placing a module with the given name, in
// insertion order. Module names are not unique, so zero or many results
// are both normal outcomes.
func (c *Chain) FindNodes(moduleName string) []Node {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Node
	for _, id := range c.order {
		if n := c.nodes[id]; n.Module.Name() == moduleName {
			out = append(out, *n)
		}
	}
	return out
}

// FindLink returns the link from one endpoint to another, if present.
func (c *Chain) FindLink(from, to Endpoint) (Link, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.inbound[to]
	if !ok {
		return Link{}, false
	}
	if l := c.links[id]; l.From == from {
		return *l, true
	}
	return Link{}, false
}

// LinksFrom returns every link leaving the output endpoint, in creation order.
func (c *Chain) LinksFrom(output Endpoint) []Link {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Link
	for _, id := range c.incidentLinksLocked(output.Node) {
		if l := c.links[id]; l.From == output {
			out = append(out, *l)
		}
	}
	return out
}

// FreeInputs returns every input endpoint without an inbound link, ordered
// by node insertion and then by the module's declared parameter order.
// Untyped inputs are included since they, too, must be supplied externally.
func (c *Chain) FreeInputs() []Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.freeInputsLocked()
}

func (c *Chain) freeInputsLocked() []Endpoint {
	var out []Endpoint
	for _, id := range c.order {
		for _, p := range c.nodes[id].Module.Inputs() {
			ep := In(id, p.Name)
			if _, linked := c.inbound[ep]; !linked {
				out = append(out, ep)
			}
		}
	}
	return out
}

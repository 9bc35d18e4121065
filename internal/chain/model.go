// Package chain provides the analysis-chain graph model.
//
// A Chain holds nodes (placements of catalog modules) and links (typed
// edges from one node's output to another node's input). Every mutation is
// validated on its own and either fully applies or is rejected with one of
// the package's sentinel errors.
package chain

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/Benny93/chainlab/internal/catalog"
)

// NodeID identifies a node. IDs are unique within the process, so a handle
// taken from one chain never resolves inside another.
type NodeID int64

// LinkID identifies a link. Like NodeID it is unique within the process.
type LinkID int64

var (
	nodeSeq atomic.Int64
	linkSeq atomic.Int64
)

func nextNodeID() NodeID { return NodeID(nodeSeq.Add(1)) }
func nextLinkID() LinkID { return LinkID(linkSeq.Add(1)) }

// Polarity tells inputs from outputs.
type Polarity int

const (
	Input Polarity = iota
	Output
)

func (p Polarity) String() string {
	switch p {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return fmt.Sprintf("polarity(%d)", int(p))
	}
}

// Opposite returns the other polarity.
func (p Polarity) Opposite() Polarity {
	if p == Input {
		return Output
	}
	return Input
}

// MarshalText encodes the polarity as "input" or "output".
func (p Polarity) MarshalText() ([]byte, error) {
	if p != Input && p != Output {
		return nil, fmt.Errorf("invalid polarity %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes "input"/"in" or "output"/"out".
func (p *Polarity) UnmarshalText(b []byte) error {
	pol, err := ParsePolarity(string(b))
	if err != nil {
		return err
	}
	*p = pol
	return nil
}

// ParsePolarity parses "input"/"in" or "output"/"out", ignoring case.
func ParsePolarity(s string) (Polarity, error) {
	switch strings.ToLower(s) {
	case "input", "in":
		return Input, nil
	case "output", "out":
		return Output, nil
	default:
		return 0, fmt.Errorf("unknown polarity %q", s)
	}
}

// Endpoint is one pluggable point: a named parameter of a node, on the
// input or the output side.
type Endpoint struct {
	Node     NodeID   `json:"node"`
	Polarity Polarity `json:"polarity"`
	Param    string   `json:"param"`
}

// In returns the input endpoint param of node.
func In(node NodeID, param string) Endpoint {
	return Endpoint{Node: node, Polarity: Input, Param: param}
}

// Out returns the output endpoint param of node.
func Out(node NodeID, param string) Endpoint {
	return Endpoint{Node: node, Polarity: Output, Param: param}
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%d.%s:%s", e.Node, e.Polarity, e.Param)
}

// Node is one placement of a module inside a chain.
type Node struct {
	ID     NodeID
	Module *catalog.ModuleDef
}

// Param returns the formal parameter behind (polarity, name) and its
// declared position.
func (n Node) Param(polarity Polarity, name string) (catalog.FormalParam, int, bool) {
	if polarity == Input {
		return n.Module.Input(name)
	}
	return n.Module.Output(name)
}

// Endpoints lists every endpoint of the node: inputs first, then outputs,
// each in declared order.
func (n Node) Endpoints() []Endpoint {
	inputs := n.Module.Inputs()
	outputs := n.Module.Outputs()
	out := make([]Endpoint, 0, len(inputs)+len(outputs))
	for _, p := range inputs {
		out = append(out, In(n.ID, p.Name))
	}
	for _, p := range outputs {
		out = append(out, Out(n.ID, p.Name))
	}
	return out
}

// MarshalJSON encodes the node with its module reference.
func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID         NodeID `json:"id"`
		ModuleID   int64  `json:"module_id"`
		ModuleName string `json:"module"`
	}{n.ID, n.Module.ID(), n.Module.Name()})
}

// Link is a directed edge from an output endpoint to an input endpoint.
type Link struct {
	ID   LinkID   `json:"id"`
	From Endpoint `json:"from"`
	To   Endpoint `json:"to"`
}

// Touches reports whether the link has an endpoint on node.
func (l Link) Touches(node NodeID) bool {
	return l.From.Node == node || l.To.Node == node
}

package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Benny93/chainlab/internal/catalog"
	"github.com/Benny93/chainlab/internal/chain"
	"github.com/Benny93/chainlab/internal/plan"
	"github.com/Benny93/chainlab/internal/session"
)

// errInvalidArgument marks missing or malformed tool arguments.
var errInvalidArgument = errors.New("invalid argument")

// toolError prefixes err with a stable reason code.
func toolError(err error) error {
	reason := chain.Reason(err)
	if reason == "" {
		switch {
		case errors.Is(err, session.ErrUnknownChain):
			reason = "unknown_chain"
		case errors.Is(err, session.ErrNoCatalog):
			reason = "no_catalog"
		case errors.Is(err, chain.ErrUnknownModule):
			reason = "unknown_module"
		case errors.Is(err, plan.ErrCyclicChain):
			reason = "cyclic_chain"
		case errors.Is(err, errInvalidArgument):
			reason = "invalid_argument"
		default:
			return err
		}
	}
	return fmt.Errorf("%s: %w", reason, err)
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg reads an integer argument; JSON numbers arrive as float64.
func intArg(args map[string]any, key string) (int64, error) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case nil:
		return 0, fmt.Errorf("%w: %s is required", errInvalidArgument, key)
	default:
		return 0, fmt.Errorf("%w: %s must be an integer", errInvalidArgument, key)
	}
}

// chainArg opens the chain named by the "chain" argument.
func (s *Server) chainArg(ctx context.Context, args map[string]any) (*chain.Chain, error) {
	raw := stringArg(args, "chain")
	if raw == "" {
		return nil, fmt.Errorf("%w: chain is required", errInvalidArgument)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: chain: %w", errInvalidArgument, err)
	}
	return s.session.Open(ctx, id)
}

func (s *Server) handleCatalogModules(args map[string]any) (string, error) {
	cat := s.session.Catalog()
	if cat == nil {
		return "", session.ErrNoCatalog
	}

	modules := cat.Modules()
	if name := stringArg(args, "name"); name != "" {
		modules = cat.ModulesByName(name)
		if len(modules) == 0 {
			return fmt.Sprintf("No modules named %q.", name), nil
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Modules (%d)\n\n", len(modules)))
	for _, m := range modules {
		writeModule(&sb, m)
	}
	return sb.String(), nil
}

func (s *Server) handleCreate(args map[string]any) (string, error) {
	c := s.session.NewChain(stringArg(args, "name"))
	return fmt.Sprintf("Created chain `%s` owned by %s.\n\n", c.ID(), c.Owner()) +
		formatSnapshot(c.Snapshot()), nil
}

func (s *Server) handleShow(ctx context.Context, args map[string]any) (string, error) {
	c, err := s.chainArg(ctx, args)
	if err != nil {
		return "", err
	}
	return formatSnapshot(c.Snapshot()), nil
}

func (s *Server) resolveModule(args map[string]any) (*catalog.ModuleDef, error) {
	cat := s.session.Catalog()
	if cat == nil {
		return nil, session.ErrNoCatalog
	}
	if _, ok := args["module_id"]; ok {
		id, err := intArg(args, "module_id")
		if err != nil {
			return nil, err
		}
		m, ok := cat.ModuleByID(id)
		if !ok {
			return nil, fmt.Errorf("module id %d: %w", id, chain.ErrUnknownModule)
		}
		return m, nil
	}
	name := stringArg(args, "module")
	if name == "" {
		return nil, fmt.Errorf("%w: module_id or module is required", errInvalidArgument)
	}
	m, ok := cat.ModuleByName(name)
	if !ok {
		return nil, fmt.Errorf("module %q: %w", name, chain.ErrUnknownModule)
	}
	return m, nil
}

func (s *Server) handleAddNode(ctx context.Context, args map[string]any) (string, error) {
	c, err := s.chainArg(ctx, args)
	if err != nil {
		return "", err
	}
	m, err := s.resolveModule(args)
	if err != nil {
		return "", err
	}
	id, err := c.AddNode(m)
	if err != nil {
		return "", err
	}

	n, _ := c.Node(id)
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Added node `%d` (%s).\n\n**Endpoints:**\n", id, m.Name()))
	for _, ep := range n.Endpoints() {
		p, _, _ := n.Param(ep.Polarity, ep.Param)
		sb.WriteString(fmt.Sprintf("- `%s` %s\n", ep, p.Type))
	}
	return sb.String(), nil
}

func (s *Server) handleRemoveNode(ctx context.Context, args map[string]any) (string, error) {
	c, err := s.chainArg(ctx, args)
	if err != nil {
		return "", err
	}
	node, err := intArg(args, "node")
	if err != nil {
		return "", err
	}
	if err := c.RemoveNode(chain.NodeID(node)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed node `%d`. The chain now has %d nodes and %d links.",
		node, c.NodeCount(), c.LinkCount()), nil
}

func (s *Server) handleAddLink(ctx context.Context, args map[string]any) (string, error) {
	c, err := s.chainArg(ctx, args)
	if err != nil {
		return "", err
	}
	fromNode, err := intArg(args, "from_node")
	if err != nil {
		return "", err
	}
	toNode, err := intArg(args, "to_node")
	if err != nil {
		return "", err
	}

	l, err := c.AddLink(
		chain.Out(chain.NodeID(fromNode), stringArg(args, "from_param")),
		chain.In(chain.NodeID(toNode), stringArg(args, "to_param")),
	)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Added link `%d`: `%s` -> `%s`.", l.ID, l.From, l.To), nil
}

func (s *Server) handleRemoveLink(ctx context.Context, args map[string]any) (string, error) {
	c, err := s.chainArg(ctx, args)
	if err != nil {
		return "", err
	}
	link, err := intArg(args, "link")
	if err != nil {
		return "", err
	}
	if err := c.RemoveLink(chain.LinkID(link)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed link `%d`.", link), nil
}

func (s *Server) handleCandidates(ctx context.Context, args map[string]any) (string, error) {
	c, err := s.chainArg(ctx, args)
	if err != nil {
		return "", err
	}
	node, err := intArg(args, "node")
	if err != nil {
		return "", err
	}
	pol, err := chain.ParsePolarity(stringArg(args, "polarity"))
	if err != nil {
		return "", fmt.Errorf("%w: %w", errInvalidArgument, err)
	}

	ep := chain.Endpoint{Node: chain.NodeID(node), Polarity: pol, Param: stringArg(args, "param")}
	cands, err := c.Candidates(ep)
	if err != nil {
		return "", err
	}
	if len(cands) == 0 {
		return fmt.Sprintf("No candidates for `%s`.", ep), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Candidates for `%s` (%d)\n\n", ep, len(cands)))
	writeEndpoints(&sb, c, cands)
	return sb.String(), nil
}

func (s *Server) handleFreeInputs(ctx context.Context, args map[string]any) (string, error) {
	c, err := s.chainArg(ctx, args)
	if err != nil {
		return "", err
	}
	free := c.FreeInputs()
	if len(free) == 0 {
		return "No free inputs: every input is linked.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Free inputs (%d)\n\n", len(free)))
	writeEndpoints(&sb, c, free)
	return sb.String(), nil
}

func (s *Server) handlePlan(ctx context.Context, args map[string]any) (string, error) {
	c, err := s.chainArg(ctx, args)
	if err != nil {
		return "", err
	}
	p, err := plan.Build(c)
	if err != nil {
		return "", err
	}
	return formatPlan(c, p), nil
}

func (s *Server) handleClone(ctx context.Context, args map[string]any) (string, error) {
	src, err := s.chainArg(ctx, args)
	if err != nil {
		return "", err
	}
	c, err := s.session.Clone(src.ID(), stringArg(args, "owner"))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Cloned `%s` into `%s` owned by %s.\n\n", src.ID(), c.ID(), c.Owner()) +
		formatSnapshot(c.Snapshot()), nil
}

func (s *Server) handleLock(ctx context.Context, args map[string]any) (string, error) {
	c, err := s.chainArg(ctx, args)
	if err != nil {
		return "", err
	}
	locked, ok := args["locked"].(bool)
	if !ok {
		return "", fmt.Errorf("%w: locked must be a boolean", errInvalidArgument)
	}
	if locked {
		c.Lock()
		return fmt.Sprintf("Chain `%s` is locked.", c.ID()), nil
	}
	c.Unlock()
	return fmt.Sprintf("Chain `%s` is unlocked.", c.ID()), nil
}

func (s *Server) handleCommit(ctx context.Context, args map[string]any) (string, error) {
	c, err := s.chainArg(ctx, args)
	if err != nil {
		return "", err
	}
	if err := s.session.Commit(ctx, c.ID()); err != nil {
		return "", err
	}
	return fmt.Sprintf("Committed chain `%s` (%d nodes, %d links).", c.ID(), c.NodeCount(), c.LinkCount()), nil
}

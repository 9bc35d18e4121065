package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Benny93/chainlab/internal/catalog"
	"github.com/Benny93/chainlab/internal/chain"
	"github.com/Benny93/chainlab/internal/plan"
	"github.com/Benny93/chainlab/internal/session"
)

type createChainRequest struct {
	Name string `json:"name"`
}

type addNodeRequest struct {
	ModuleID int64  `json:"module_id"`
	Module   string `json:"module"`
}

// endpointRef names an endpoint in a link request. The polarity defaults to
// output for the source and input for the target.
type endpointRef struct {
	Node     chain.NodeID    `json:"node"`
	Param    string          `json:"param"`
	Polarity *chain.Polarity `json:"polarity,omitempty"`
}

func (e endpointRef) endpoint(def chain.Polarity) chain.Endpoint {
	p := def
	if e.Polarity != nil {
		p = *e.Polarity
	}
	return chain.Endpoint{Node: e.Node, Polarity: p, Param: e.Param}
}

type addLinkRequest struct {
	From endpointRef `json:"from"`
	To   endpointRef `json:"to"`
}

type cloneRequest struct {
	Owner string `json:"owner"`
}

type chainSummary struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Owner  string    `json:"owner"`
	Locked bool      `json:"locked"`
	Nodes  int       `json:"nodes"`
	Links  int       `json:"links"`
}

type nodeResponse struct {
	Node      chain.Node       `json:"node"`
	Endpoints []chain.Endpoint `json:"endpoints"`
}

type candidatesResponse struct {
	Endpoint   chain.Endpoint   `json:"endpoint"`
	Candidates []chain.Endpoint `json:"candidates"`
}

type catalogResponse struct {
	Types   []*catalog.SemanticType `json:"types"`
	Modules []*catalog.ModuleDef    `json:"modules"`
}

// decodeJSON reads an optional JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decoding body: %w", errBadRequest, err)
	}
	return nil
}

func chainID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: chain id: %w", errBadRequest, err)
	}
	return id, nil
}

func int64Var(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s id: %w", errBadRequest, name, err)
	}
	return v, nil
}

// chainFor returns the chain named by the request, opening it from the
// store when needed.
func (s *Server) chainFor(r *http.Request) (*chain.Chain, error) {
	id, err := chainID(r)
	if err != nil {
		return nil, err
	}
	return s.session.Open(r.Context(), id)
}

func summaryOf(c *chain.Chain) chainSummary {
	return chainSummary{
		ID:     c.ID(),
		Name:   c.Name(),
		Owner:  c.Owner(),
		Locked: c.Locked(),
		Nodes:  c.NodeCount(),
		Links:  c.LinkCount(),
	}
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	cat := s.session.Catalog()
	if cat == nil {
		writeError(w, r, session.ErrNoCatalog)
		return
	}
	writeJSON(w, http.StatusOK, catalogResponse{
		Types:   orEmpty(cat.Types()),
		Modules: orEmpty(cat.Modules()),
	})
}

func (s *Server) handleStored(w http.ResponseWriter, r *http.Request) {
	list, err := s.session.Stored(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(list))
}

func (s *Server) handleListChains(w http.ResponseWriter, r *http.Request) {
	chains := s.session.Chains()
	out := make([]chainSummary, 0, len(chains))
	for _, c := range chains {
		out = append(out, summaryOf(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateChain(w http.ResponseWriter, r *http.Request) {
	var req createChainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c := s.session.NewChain(req.Name)
	writeJSON(w, http.StatusCreated, c.Snapshot())
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	c, err := s.chainFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleDeleteChain(w http.ResponseWriter, r *http.Request) {
	id, err := chainID(r)
	if err == nil {
		err = s.session.Delete(r.Context(), id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resolveModule(req addNodeRequest) (*catalog.ModuleDef, error) {
	cat := s.session.Catalog()
	if cat == nil {
		return nil, session.ErrNoCatalog
	}
	if req.ModuleID != 0 {
		if m, ok := cat.ModuleByID(req.ModuleID); ok {
			return m, nil
		}
		return nil, fmt.Errorf("module id %d: %w", req.ModuleID, chain.ErrUnknownModule)
	}
	if req.Module != "" {
		if m, ok := cat.ModuleByName(req.Module); ok {
			return m, nil
		}
		return nil, fmt.Errorf("module %q: %w", req.Module, chain.ErrUnknownModule)
	}
	return nil, fmt.Errorf("%w: module_id or module is required", errBadRequest)
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	c, err := s.chainFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req addNodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.resolveModule(req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := c.AddNode(m)
	s.metrics.mutation("add_node", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, _ := c.Node(id)
	writeJSON(w, http.StatusCreated, nodeResponse{Node: n, Endpoints: n.Endpoints()})
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	c, err := s.chainFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := int64Var(r, "node")
	if err != nil {
		writeError(w, r, err)
		return
	}

	err = c.RemoveNode(chain.NodeID(id))
	s.metrics.mutation("remove_node", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddLink(w http.ResponseWriter, r *http.Request) {
	c, err := s.chainFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req addLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	l, err := c.AddLink(req.From.endpoint(chain.Output), req.To.endpoint(chain.Input))
	s.metrics.mutation("add_link", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) handleRemoveLink(w http.ResponseWriter, r *http.Request) {
	c, err := s.chainFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := int64Var(r, "link")
	if err != nil {
		writeError(w, r, err)
		return
	}

	err = c.RemoveLink(chain.LinkID(id))
	s.metrics.mutation("remove_link", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	c, err := s.chainFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	node, err := strconv.ParseInt(q.Get("node"), 10, 64)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: node: %w", errBadRequest, err))
		return
	}
	pol, err := chain.ParsePolarity(q.Get("polarity"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	ep := chain.Endpoint{Node: chain.NodeID(node), Polarity: pol, Param: q.Get("param")}
	cands, err := c.Candidates(ep)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, candidatesResponse{Endpoint: ep, Candidates: orEmpty(cands)})
}

func (s *Server) handleFreeInputs(w http.ResponseWriter, r *http.Request) {
	c, err := s.chainFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(c.FreeInputs()))
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	c, err := s.chainFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := plan.Build(c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleClone(w http.ResponseWriter, r *http.Request) {
	src, err := s.chainFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req cloneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := s.session.Clone(src.ID(), req.Owner)
	s.metrics.mutation("clone", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c.Snapshot())
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	c, err := s.chainFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c.Lock()
	s.metrics.mutation("lock", nil)
	writeJSON(w, http.StatusOK, summaryOf(c))
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	c, err := s.chainFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c.Unlock()
	s.metrics.mutation("unlock", nil)
	writeJSON(w, http.StatusOK, summaryOf(c))
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	id, err := chainID(r)
	if err == nil {
		err = s.session.Commit(r.Context(), id)
	}
	s.metrics.mutation("commit", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.session.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryOf(c))
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Benny93/chainlab/internal/chain"
	"github.com/Benny93/chainlab/internal/logging"
	"github.com/Benny93/chainlab/internal/plan"
	"github.com/Benny93/chainlab/internal/session"
)

// errBadRequest marks malformed requests: bad JSON, ids or query values.
var errBadRequest = errors.New("bad request")

// errorResponse is the body of every non-2xx answer.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var statusByReason = map[string]int{
	"invariant_violation":  http.StatusInternalServerError,
	"chain_locked":         http.StatusConflict,
	"input_already_linked": http.StatusConflict,
	"foreign_node":         http.StatusNotFound,
	"unknown_node":         http.StatusNotFound,
	"unknown_link":         http.StatusNotFound,
	"unknown_parameter":    http.StatusUnprocessableEntity,
	"polarity":             http.StatusUnprocessableEntity,
	"type_mismatch":        http.StatusUnprocessableEntity,
	"invalid_module":       http.StatusUnprocessableEntity,
	"unknown_chain":        http.StatusNotFound,
	"unknown_module":       http.StatusNotFound,
	"cyclic_chain":         http.StatusConflict,
	"no_catalog":           http.StatusServiceUnavailable,
	"bad_request":          http.StatusBadRequest,
}

// outcome maps err to a stable code: "ok", a chain rejection reason, or
// one of the API's own codes.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if r := chain.Reason(err); r != "" {
		return r
	}
	switch {
	case errors.Is(err, session.ErrUnknownChain):
		return "unknown_chain"
	case errors.Is(err, chain.ErrUnknownModule):
		return "unknown_module"
	case errors.Is(err, plan.ErrCyclicChain):
		return "cyclic_chain"
	case errors.Is(err, session.ErrNoCatalog):
		return "no_catalog"
	case errors.Is(err, errBadRequest):
		return "bad_request"
	}
	return "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := outcome(err)
	status, ok := statusByReason[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= 500 {
		logging.FromContext(r.Context()).Error("request error", zap.String("reason", code), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package chain

import (
	"errors"

	"github.com/Benny93/chainlab/internal/catalog"
)

// Rejection reasons for chain mutations and queries. Callers match them with
// errors.Is; the returned errors wrap them with the offending handles.
var (
	ErrChainLocked        = errors.New("chain is locked")
	ErrForeignNode        = errors.New("node does not belong to this chain")
	ErrUnknownNode        = errors.New("unknown node")
	ErrUnknownLink        = errors.New("unknown link")
	ErrUnknownParameter   = errors.New("module has no such parameter")
	ErrPolarity           = errors.New("link must run from an output to an input")
	ErrTypeMismatch       = errors.New("semantic types differ or are absent")
	ErrInputAlreadyLinked = errors.New("input already has an inbound link")

	// ErrInvariantViolation marks a chain whose internal state breaks its own
	// invariants. It is unreachable through the public API.
	ErrInvariantViolation = errors.New("chain invariant violated")
)

var reasons = []struct {
	err  error
	code string
}{
	{ErrInvariantViolation, "invariant_violation"},
	{ErrChainLocked, "chain_locked"},
	{ErrForeignNode, "foreign_node"},
	{ErrUnknownNode, "unknown_node"},
	{ErrUnknownLink, "unknown_link"},
	{ErrUnknownParameter, "unknown_parameter"},
	{ErrPolarity, "polarity"},
	{ErrTypeMismatch, "type_mismatch"},
	{ErrInputAlreadyLinked, "input_already_linked"},
	{catalog.ErrInvalidModule, "invalid_module"},
}

// Reason maps err to a stable reason code, or "" when err is nil or not a
// chain rejection.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return ""
}

// IsFatal reports whether err signals corrupted chain state rather than a
// rejected request.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}

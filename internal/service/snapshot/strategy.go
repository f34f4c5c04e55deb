package snapshot

import (
	"fmt"

	postgresrepo "github.com/seathold/seathold/internal/repository/postgres"
)

// Strategy selects how a block snapshot is served under load. The set is
// closed; HTTP input is parsed once at the boundary and dispatched over
// the enum, never over raw strings.
type Strategy int

const (
	// StrategyDirect queries the store every time. Baseline; no
	// protection against load.
	StrategyDirect Strategy = iota
	// StrategyCollapse deduplicates concurrent identical reads into one
	// in-flight store query per key.
	StrategyCollapse
	// StrategyShared reads through an out-of-process cache with a long
	// TTL, shared by all instances.
	StrategyShared
	// StrategyLocal reads through the in-process cache: shorter TTL,
	// capacity-bound, no cross-instance consistency.
	StrategyLocal
)

func (s Strategy) String() string {
	switch s {
	case StrategyDirect:
		return "direct"
	case StrategyCollapse:
		return "collapse"
	case StrategyShared:
		return "shared"
	case StrategyLocal:
		return "local"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy maps a request parameter to a Strategy. Empty input
// selects collapsing, the sane default for hot blocks.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "collapse", "collapsing":
		return StrategyCollapse, nil
	case "direct":
		return StrategyDirect, nil
	case "shared", "shared-cache":
		return StrategyShared, nil
	case "local", "local-cache":
		return StrategyLocal, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// ParseSchema maps a request parameter to the store-level query schema.
func ParseSchema(s string) (postgresrepo.Schema, error) {
	switch s {
	case "", "denorm", "denormalized":
		return postgresrepo.SchemaDenorm, nil
	case "join":
		return postgresrepo.SchemaJoin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSchema, s)
	}
}

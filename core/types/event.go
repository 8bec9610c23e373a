package types

// Event represents a typed event emitted during ledger state transitions. The
// sequence is assigned by the engine: it increases by exactly one for every
// committed mutating operation, across all event types.
type Event struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

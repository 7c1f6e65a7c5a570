package transfer

import "errors"

// ErrEmptyPath is returned when a transfer path has no hops.
var ErrEmptyPath = errors.New("transfer path has no hops")

// RequestID identifies a logical transfer request in the orchestrator.
type RequestID string

// ExternalID is the identifier a backend assigns to a submission. One
// ExternalID may correlate with many RequestIDs.
type ExternalID string

// Endpoint is one side of a hop, named by its storage element.
type Endpoint struct {
	RSE string `json:"rse"`
}

// RequestMeta carries the request attributes that travel with a hop.
type RequestMeta struct {
	ID    RequestID `json:"request_id"`
	Scope string    `json:"scope"`
	Name  string    `json:"name"`
	Bytes int64     `json:"bytes"`
}

// Hop is a single source to destination leg. Hops are passed by value and
// never modified once built.
type Hop struct {
	Src     Endpoint    `json:"src"`
	Dst     Endpoint    `json:"dst"`
	Sources []string    `json:"sources"`
	Dest    string      `json:"dest"`
	Request RequestMeta `json:"request"`
}

// Path is an ordered list of hops describing one logical file movement.
type Path []Hop

// First returns the hop used by backends that cannot chain hops.
func (p Path) First() (Hop, error) {
	if len(p) == 0 {
		return Hop{}, ErrEmptyPath
	}
	return p[0], nil
}

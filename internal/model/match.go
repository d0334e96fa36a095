package model

// Product is one catalog row. ID is the zero-based insertion position in the
// snapshot and doubles as the deterministic tie-breaker.
type Product struct {
	ID     int    `json:"id"`
	Fields Record `json:"fields"`
}

// Strategy names the retrieval path that produced a candidate.
type Strategy string

const (
	StrategyNone   Strategy = "none"
	StrategyExact  Strategy = "exact"
	StrategyVendor Strategy = "vendor"
	StrategyTerm   Strategy = "term"
)

// Candidate is a catalog product plus the strategy that retrieved it.
type Candidate struct {
	Product  Product
	Strategy Strategy
}

// IncomingRecord is one entry of an incoming feed after boundary decoding.
// Err is set when the entry was not a field mapping; Fields is nil then.
type IncomingRecord struct {
	Index  int
	Fields Record
	Err    error
}

// MatchResult is produced once per incoming record and never mutated.
type MatchResult struct {
	Index     int      `json:"index"`
	Input     Record   `json:"input,omitempty"`
	Candidate *Product `json:"candidate,omitempty"`
	Score     float64  `json:"score"`
	Strategy  Strategy `json:"strategy"`
	Vendor    string   `json:"vendor,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Matched reports whether a candidate was accepted.
func (r MatchResult) Matched() bool { return r.Candidate != nil }

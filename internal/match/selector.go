package match

import (
	"sort"

	"github.com/roach88/strainline/internal/catalog"
	"github.com/roach88/strainline/internal/model"
	"github.com/roach88/strainline/internal/textutil"
	"github.com/roach88/strainline/internal/vendor"
)

// DefaultMaxTermCandidates caps the term-index fallback.
const DefaultMaxTermCandidates = 50

// Selection is the candidate set for one record.
type Selection struct {
	Candidates []model.Candidate
	Strategy   model.Strategy

	// Vendor is the resolved canonical vendor, empty when resolution failed.
	Vendor     string
	Token      string
	Resolution vendor.Resolution
}

// Selector retrieves bounded candidate sets from a snapshot.
type Selector struct {
	resolver          *vendor.Resolver
	maxTermCandidates int
}

// NewSelector creates a Selector. maxTermCandidates <= 0 uses the default.
func NewSelector(resolver *vendor.Resolver, maxTermCandidates int) *Selector {
	if maxTermCandidates <= 0 {
		maxTermCandidates = DefaultMaxTermCandidates
	}
	return &Selector{resolver: resolver, maxTermCandidates: maxTermCandidates}
}

// ResolveVendor returns the vendor signal of rec: its vendor field if that
// resolves, otherwise the vendor extracted from its name. A token from the
// leading-dash rule must resolve exactly or through an alias; otherwise the
// record falls through to exact and term retrieval.
func (s *Selector) ResolveVendor(snap *catalog.Snapshot, rec model.Record) (string, vendor.Resolution) {
	keys := snap.VendorKeys()
	if v := rec.Vendor(); v != "" {
		if res := s.resolver.Resolve(v, keys); res.OK() {
			return textutil.Normalize(v), res
		}
	}
	ex := vendor.Extract(rec.Name())
	if ex.Token == "" {
		return "", vendor.Resolution{Method: vendor.MethodNone}
	}
	return ex.Token, s.resolver.ResolveExtraction(ex, keys)
}

// Select returns the candidates for rec. An empty selection is a valid
// outcome, not an error.
func (s *Selector) Select(snap *catalog.Snapshot, rec model.Record) Selection {
	token, res := s.ResolveVendor(snap, rec)
	sel := Selection{Token: token, Resolution: res, Strategy: model.StrategyNone}

	if res.OK() {
		// A trusted vendor signal closes the candidate pool to that vendor,
		// even when the vendor has no products.
		sel.Vendor = res.Vendor
		sel.Strategy = model.StrategyVendor
		for _, p := range snap.VendorProducts(res.Vendor) {
			sel.Candidates = append(sel.Candidates, model.Candidate{Product: p, Strategy: model.StrategyVendor})
		}
		return sel
	}

	if p, ok := snap.LookupExact(rec.Name()); ok {
		sel.Strategy = model.StrategyExact
		sel.Candidates = []model.Candidate{{Product: p, Strategy: model.StrategyExact}}
		return sel
	}

	if cands := s.byTerms(snap, rec); len(cands) > 0 {
		sel.Strategy = model.StrategyTerm
		sel.Candidates = cands
	}
	return sel
}

// byTerms unions the term postings of rec, ranks by shared-term count then
// insertion order, and caps the result.
func (s *Selector) byTerms(snap *catalog.Snapshot, rec model.Record) []model.Candidate {
	hits := make(map[int]int)
	for _, term := range textutil.SignificantTerms(rec.Name(), rec.Get(model.FieldDescription)) {
		for _, id := range snap.TermPostings(term) {
			hits[id]++
		}
	}
	if len(hits) == 0 {
		return nil
	}

	ids := make([]int, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if hits[ids[i]] != hits[ids[j]] {
			return hits[ids[i]] > hits[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > s.maxTermCandidates {
		ids = ids[:s.maxTermCandidates]
	}

	out := make([]model.Candidate, 0, len(ids))
	for _, id := range ids {
		p, _ := snap.Product(id)
		out = append(out, model.Candidate{Product: p, Strategy: model.StrategyTerm})
	}
	return out
}

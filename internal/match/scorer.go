package match

import (
	"log/slog"
	"math"

	"github.com/roach88/strainline/internal/model"
	"github.com/roach88/strainline/internal/textutil"
	"github.com/roach88/strainline/internal/vendor"
)

// Weights sets the relative importance of the score components.
type Weights struct {
	Name   float64 `yaml:"name" json:"name"`
	Vendor float64 `yaml:"vendor" json:"vendor"`
	Type   float64 `yaml:"type" json:"type"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// DefaultWeights keeps name similarity dominant.
var DefaultWeights = Weights{Name: 0.60, Vendor: 0.15, Type: 0.15, Weight: 0.10}

// Scorer computes the similarity between an incoming record and a catalog
// product. It is pure: identical inputs always give identical scores.
type Scorer struct {
	weights Weights
	aliases vendor.AliasTable
	logger  *slog.Logger
}

// NewScorer creates a Scorer. Zero weights fall back to DefaultWeights.
func NewScorer(weights Weights, aliases vendor.AliasTable, logger *slog.Logger) *Scorer {
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{weights: weights, aliases: aliases, logger: logger.With("component", "scorer")}
}

// Score returns a value in [0,1]. A record or candidate without fields is
// malformed input: it is logged and scores exactly 0.
//
// No vendor-mismatch penalty is applied; the selector only hands over
// candidates that are already vendor-consistent.
func (s *Scorer) Score(rec model.Record, cand model.Product) float64 {
	if rec == nil || cand.Fields == nil {
		s.logger.Warn("malformed input; scoring 0",
			"code", model.CodeMalformedInput,
			"record_nil", rec == nil,
			"candidate_nil", cand.Fields == nil,
			"candidate", cand.ID)
		return 0
	}
	other := cand.Fields

	var total, weight float64
	add := func(w, v float64) {
		total += w * v
		weight += w
	}

	add(s.weights.Name, nameSimilarity(rec.Name(), other.Name()))

	if v, ok := s.vendorMatch(rec, other); ok {
		add(s.weights.Vendor, v)
	}

	if a, b := textutil.Normalize(rec.Type()), textutil.Normalize(other.Type()); a != "" && b != "" {
		add(s.weights.Type, boolScore(a == b))
	}

	if a, ok := recordWeight(rec); ok {
		if b, ok := recordWeight(other); ok {
			add(s.weights.Weight, proximity(a, b))
		}
	}

	if weight == 0 {
		return 0
	}
	return clamp01(total / weight)
}

// vendorMatch compares vendor and brand. It applies when either pair is
// present on both sides and scores 1 if any present pair agrees.
func (s *Scorer) vendorMatch(a, b model.Record) (float64, bool) {
	applicable := false
	if va, vb := a.Vendor(), b.Vendor(); va != "" && vb != "" {
		applicable = true
		if s.aliases.CanonicalVendor(va) == s.aliases.CanonicalVendor(vb) {
			return 1, true
		}
	}
	if ba, bb := textutil.Normalize(a.Brand()), textutil.Normalize(b.Brand()); ba != "" && bb != "" {
		applicable = true
		if ba == bb {
			return 1, true
		}
	}
	return 0, applicable
}

// nameSimilarity averages word Jaccard and character-bigram Dice.
func nameSimilarity(a, b string) float64 {
	na, nb := textutil.Normalize(a), textutil.Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	return 0.5*wordJaccard(textutil.Words(na), textutil.Words(nb)) + 0.5*dice(textutil.Bigrams(na), textutil.Bigrams(nb))
}

func wordJaccard(a, b []string) float64 {
	sa := make(map[string]struct{}, len(a))
	for _, w := range a {
		sa[w] = struct{}{}
	}
	sb := make(map[string]struct{}, len(b))
	for _, w := range b {
		sb[w] = struct{}{}
	}
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	shared := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(sa)+len(sb)-shared)
}

// dice is the Sørensen–Dice coefficient over bigram multisets.
func dice(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	counts := make(map[string]int, len(a))
	for _, g := range a {
		counts[g]++
	}
	shared := 0
	for _, g := range b {
		if counts[g] > 0 {
			counts[g]--
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

func recordWeight(r model.Record) (float64, bool) {
	if w, ok := ParseWeight(r.Weight()); ok {
		return w, true
	}
	return ParseWeight(r.Name())
}

func proximity(a, b float64) float64 {
	hi := math.Max(a, b)
	if hi == 0 {
		return 1
	}
	return 1 - math.Abs(a-b)/hi
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

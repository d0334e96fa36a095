package match

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/strainline/internal/catalog"
	"github.com/roach88/strainline/internal/model"
	"github.com/roach88/strainline/internal/vendor"
)

// Defaults for the orchestrator.
const (
	DefaultMinScore    = 0.45
	DefaultParallelism = 8
)

// Config tunes matching.
type Config struct {
	MinScore          float64
	Parallelism       int
	MaxTermCandidates int
	Weights           Weights
}

func (c *Config) applyDefaults() {
	if c.MinScore <= 0 {
		c.MinScore = DefaultMinScore
	}
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.MaxTermCandidates <= 0 {
		c.MaxTermCandidates = DefaultMaxTermCandidates
	}
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights
	}
}

// Matcher drives selection and scoring over a batch of records.
type Matcher struct {
	selector *Selector
	scorer   *Scorer
	cfg      Config
	logger   *slog.Logger
}

// NewMatcher builds a Matcher over the given resolver.
func NewMatcher(resolver *vendor.Resolver, cfg Config, logger *slog.Logger) *Matcher {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		selector: NewSelector(resolver, cfg.MaxTermCandidates),
		scorer:   NewScorer(cfg.Weights, resolver.Aliases(), logger),
		cfg:      cfg,
		logger:   logger.With("component", "matcher"),
	}
}

// Selector exposes the candidate selector.
func (m *Matcher) Selector() *Selector { return m.selector }

// Match returns one result per input, in input order. Records are matched
// independently; a failing record yields a result with Error set and never
// affects the others. If ctx ends early, unprocessed records carry the
// context error.
func (m *Matcher) Match(ctx context.Context, snap *catalog.Snapshot, inputs []model.IncomingRecord) []model.MatchResult {
	results := make([]model.MatchResult, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Parallelism)
	for i := range inputs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = model.MatchResult{Index: inputs[i].Index, Input: inputs[i].Fields, Strategy: model.StrategyNone, Error: err.Error()}
				return nil
			}
			results[i] = m.MatchOne(snap, inputs[i])
			return nil
		})
	}
	_ = g.Wait()

	matched := 0
	for _, r := range results {
		if r.Matched() {
			matched++
		}
	}
	m.logger.Debug("batch matched", "records", len(inputs), "matched", matched, "catalog_version", snap.Version())
	return results
}

// MatchOne resolves a single record.
func (m *Matcher) MatchOne(snap *catalog.Snapshot, in model.IncomingRecord) (res model.MatchResult) {
	res = model.MatchResult{Index: in.Index, Input: in.Fields, Strategy: model.StrategyNone}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("match panicked", "index", in.Index, "panic", fmt.Sprint(r))
			res = model.MatchResult{Index: in.Index, Input: in.Fields, Strategy: model.StrategyNone, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	if in.Err != nil || in.Fields == nil {
		err := in.Err
		if err == nil {
			err = model.NewError(model.CodeMalformedInput, "match", "record is not a field mapping", nil)
		}
		m.logger.Warn("skipping malformed record", "index", in.Index, "error", err)
		res.Error = err.Error()
		return res
	}

	sel := m.selector.Select(snap, in.Fields)
	res.Strategy = sel.Strategy
	res.Vendor = sel.Vendor

	best, bestScore := -1, -1.0
	for _, c := range sel.Candidates {
		score := m.scorer.Score(in.Fields, c.Product)
		if score > bestScore || (score == bestScore && c.Product.ID < best) {
			best, bestScore = c.Product.ID, score
		}
	}
	if best < 0 {
		return res
	}

	res.Score = bestScore
	if bestScore > m.cfg.MinScore {
		p, _ := snap.Product(best)
		res.Candidate = &p
	}
	return res
}

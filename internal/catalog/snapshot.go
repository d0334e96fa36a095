package catalog

import (
	"sort"
	"time"

	"github.com/roach88/strainline/internal/model"
	"github.com/roach88/strainline/internal/textutil"
	"github.com/roach88/strainline/internal/vendor"
)

// Stats reports index sizes for a built snapshot.
type Stats struct {
	Version       uint64        `json:"version"`
	Products      int           `json:"products"`
	ExactKeys     int           `json:"exact_keys"`
	VendorKeys    int           `json:"vendor_keys"`
	Terms         int           `json:"terms"`
	BuildDuration time.Duration `json:"build_duration"`
}

// Snapshot is an immutable, versioned catalog plus its three indices.
type Snapshot struct {
	version  uint64
	builtAt  time.Time
	products []model.Product

	exact      map[string]int
	vendors    map[string][]int
	vendorKeys []string
	terms      map[string][]int

	stats Stats
}

// BuildOptions configures Build.
type BuildOptions struct {
	// Aliases folds catalog vendor names onto canonical identities.
	Aliases vendor.AliasTable

	// Now stamps the snapshot; defaults to time.Now.
	Now func() time.Time
}

// Build indexes records into a new Snapshot. Product ids follow insertion
// order (nil records are skipped); duplicate names in the exact index
// resolve to the last record.
func Build(version uint64, records []model.Record, opts BuildOptions) *Snapshot {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	start := now()

	s := &Snapshot{
		version:  version,
		builtAt:  start,
		products: make([]model.Product, 0, len(records)),
		exact:    make(map[string]int, len(records)),
		vendors:  make(map[string][]int),
		terms:    make(map[string][]int),
	}

	for _, rec := range records {
		if rec == nil {
			continue
		}
		id := len(s.products)
		s.products = append(s.products, model.Product{ID: id, Fields: rec.Clone()})

		if name := textutil.Normalize(rec.Name()); name != "" {
			s.exact[name] = id
		}

		if v := opts.Aliases.CanonicalVendor(rec.Vendor()); v != "" {
			s.vendors[v] = append(s.vendors[v], id)
		}

		// Terms are distinct per record, and ids grow monotonically, so each
		// posting list stays sorted without a final pass.
		for _, term := range textutil.SignificantTerms(rec.Name(), rec.Get(model.FieldDescription)) {
			s.terms[term] = append(s.terms[term], id)
		}
	}

	s.vendorKeys = make([]string, 0, len(s.vendors))
	for k := range s.vendors {
		s.vendorKeys = append(s.vendorKeys, k)
	}
	sort.Strings(s.vendorKeys)

	s.stats = Stats{
		Version:       version,
		Products:      len(s.products),
		ExactKeys:     len(s.exact),
		VendorKeys:    len(s.vendors),
		Terms:         len(s.terms),
		BuildDuration: now().Sub(start),
	}
	return s
}

// Version returns the snapshot version.
func (s *Snapshot) Version() uint64 { return s.version }

// BuiltAt returns when the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Stats returns the build statistics.
func (s *Snapshot) Stats() Stats { return s.stats }

// Len returns the number of products.
func (s *Snapshot) Len() int { return len(s.products) }

// Product returns the product with the given id.
func (s *Snapshot) Product(id int) (model.Product, bool) {
	if id < 0 || id >= len(s.products) {
		return model.Product{}, false
	}
	return s.products[id], true
}

// Products returns the products in insertion order. The slice must not be
// modified.
func (s *Snapshot) Products() []model.Product { return s.products }

// LookupExact returns the product whose normalized name equals name.
func (s *Snapshot) LookupExact(name string) (model.Product, bool) {
	id, ok := s.exact[textutil.Normalize(name)]
	if !ok {
		return model.Product{}, false
	}
	return s.products[id], true
}

// VendorKeys returns the canonical vendor identities in sorted order. The
// slice must not be modified.
func (s *Snapshot) VendorKeys() []string { return s.vendorKeys }

// VendorProducts returns the products indexed under a canonical vendor, in
// insertion order.
func (s *Snapshot) VendorProducts(vendorKey string) []model.Product {
	ids := s.vendors[vendorKey]
	out := make([]model.Product, len(ids))
	for i, id := range ids {
		out[i] = s.products[id]
	}
	return out
}

// TermPostings returns the sorted product ids containing term.
func (s *Snapshot) TermPostings(term string) []int { return s.terms[term] }

// Package match resolves incoming product records against a catalog
// snapshot.
//
// Per record the Matcher runs vendor extraction and resolution, candidate
// selection, and scoring, then keeps the best candidate above the acceptance
// threshold. Once a vendor signal resolves, the Selector returns only that
// vendor's products and consults nothing else; widening the pool at that
// point is what produces cross-vendor false matches. Without a vendor
// signal it falls back to an exact name lookup, then to the term index.
//
// Matching holds no state between records and reads only the immutable
// snapshot it is handed, so batches are processed in parallel.
package match

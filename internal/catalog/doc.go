// Package catalog builds the immutable, indexed view of the product catalog
// that the matching path reads from.
//
// A Snapshot is built in one pass and never mutated afterwards. Holder
// publishes snapshots through an atomic pointer: readers load the pointer
// once per request, so a rebuild never exposes a half-built index and
// in-flight requests keep working against the snapshot they started with.
package catalog

// Package model holds the types shared by the matching path and the lineage
// store: catalog records, match results, strains, history entries, change
// events and the error taxonomy.
//
// Records are validated once at the boundary (see catalog.DecodeRecords).
// Past that point a Record is always a field mapping; a nil Record is the
// only representation of "not a mapping" that internal code has to handle.
package model

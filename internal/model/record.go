package model

import (
	"strings"
)

// Canonical field names. Feed and spreadsheet column names are folded onto
// these by CanonicalField.
const (
	FieldName        = "name"
	FieldVendor      = "vendor"
	FieldBrand       = "brand"
	FieldType        = "type"
	FieldStrain      = "strain"
	FieldLineage     = "lineage"
	FieldWeight      = "weight"
	FieldUnits       = "units"
	FieldDescription = "description"
)

var fieldAliases = map[string]string{
	"name":                FieldName,
	"product name":        FieldName,
	"productname":         FieldName,
	"product":             FieldName,
	"title":               FieldName,
	"vendor":              FieldVendor,
	"vendor/supplier":     FieldVendor,
	"supplier":            FieldVendor,
	"vendor name":         FieldVendor,
	"brand":               FieldBrand,
	"product brand":       FieldBrand,
	"type":                FieldType,
	"product type":        FieldType,
	"category":            FieldType,
	"strain":              FieldStrain,
	"product strain":      FieldStrain,
	"strain name":         FieldStrain,
	"lineage":             FieldLineage,
	"weight":              FieldWeight,
	"size":                FieldWeight,
	"weight/size":         FieldWeight,
	"units":               FieldUnits,
	"unit":                FieldUnits,
	"description":         FieldDescription,
	"product description": FieldDescription,
}

// CanonicalField maps a raw column or JSON key onto its canonical field name.
// Unknown keys are returned lower-cased and trimmed so they survive as-is.
func CanonicalField(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	k = strings.TrimRight(k, "*: ")
	k = strings.Join(strings.Fields(k), " ")
	if canon, ok := fieldAliases[k]; ok {
		return canon
	}
	return k
}

// Record is a product field mapping keyed by canonical field name.
type Record map[string]string

// NewRecord canonicalises the keys of raw. Later keys that fold onto an
// already populated field only fill it when it is still empty.
func NewRecord(raw map[string]string) Record {
	r := make(Record, len(raw))
	for k, v := range raw {
		key := CanonicalField(k)
		v = strings.TrimSpace(v)
		if existing, ok := r[key]; ok && existing != "" {
			continue
		}
		r[key] = v
	}
	return r
}

// Get returns the first non-empty value among the given fields.
func (r Record) Get(fields ...string) string {
	if r == nil {
		return ""
	}
	for _, f := range fields {
		if v := strings.TrimSpace(r[f]); v != "" {
			return v
		}
	}
	return ""
}

// Name returns the product name.
func (r Record) Name() string { return r.Get(FieldName) }

// Vendor returns the vendor field.
func (r Record) Vendor() string { return r.Get(FieldVendor) }

// Brand returns the brand field.
func (r Record) Brand() string { return r.Get(FieldBrand) }

// Type returns the product type.
func (r Record) Type() string { return r.Get(FieldType) }

// Strain returns the strain name.
func (r Record) Strain() string { return r.Get(FieldStrain) }

// Lineage returns the raw lineage field.
func (r Record) Lineage() string { return r.Get(FieldLineage) }

// Weight returns the weight field, with units appended when they are a
// separate column.
func (r Record) Weight() string {
	w := r.Get(FieldWeight)
	if w == "" {
		return ""
	}
	if u := r.Get(FieldUnits); u != "" && !strings.HasSuffix(strings.ToLower(w), strings.ToLower(u)) {
		return w + " " + u
	}
	return w
}

// Clone returns an independent copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

package model

import (
	"strings"
	"time"
)

// Lineage is a strain classification.
type Lineage string

// Known lineage values.
const (
	LineageSativa        Lineage = "SATIVA"
	LineageIndica        Lineage = "INDICA"
	LineageHybrid        Lineage = "HYBRID"
	LineageHybridSativa  Lineage = "HYBRID/SATIVA"
	LineageHybridIndica  Lineage = "HYBRID/INDICA"
	LineageCBD           Lineage = "CBD"
	LineageMixed         Lineage = "MIXED"
	LineageParaphernalia Lineage = "PARAPHERNALIA"
)

var knownLineages = map[Lineage]bool{
	LineageSativa:        true,
	LineageIndica:        true,
	LineageHybrid:        true,
	LineageHybridSativa:  true,
	LineageHybridIndica:  true,
	LineageCBD:           true,
	LineageMixed:         true,
	LineageParaphernalia: true,
}

var lineageAliases = map[string]Lineage{
	"S":             LineageSativa,
	"I":             LineageIndica,
	"H":             LineageHybrid,
	"HYBRID SATIVA": LineageHybridSativa,
	"HYBRID-SATIVA": LineageHybridSativa,
	"SATIVA HYBRID": LineageHybridSativa,
	"HYBRID INDICA": LineageHybridIndica,
	"HYBRID-INDICA": LineageHybridIndica,
	"INDICA HYBRID": LineageHybridIndica,
	"CBD BLEND":     LineageCBD,
	"PARA":          LineageParaphernalia,
}

// NormalizeLineage upper-cases and trims raw and folds known aliases onto
// the canonical vocabulary. Unknown values are returned normalized but
// unchanged otherwise.
func NormalizeLineage(raw string) Lineage {
	s := strings.ToUpper(strings.Join(strings.Fields(raw), " "))
	s = strings.ReplaceAll(s, " / ", "/")
	if l, ok := lineageAliases[s]; ok {
		return l
	}
	return Lineage(s)
}

// Known reports whether l is part of the canonical vocabulary.
func (l Lineage) Known() bool { return knownLineages[l] }

// StrainState is the lifecycle state of a strain.
type StrainState string

const (
	// StateUnseen is never stored; it is reported for unknown names.
	StateUnseen     StrainState = "UNSEEN"
	StateObserved   StrainState = "OBSERVED"
	StateClassified StrainState = "CLASSIFIED"
	StateOverridden StrainState = "OVERRIDDEN"
)

// Strain is one StrainEntity row.
type Strain struct {
	ID               int64       `json:"id"`
	Name             string      `json:"name"`
	CanonicalLineage Lineage     `json:"canonical_lineage"`
	SovereignLineage Lineage     `json:"sovereign_lineage,omitempty"`
	Confidence       float64     `json:"confidence"`
	OccurrenceCount  int         `json:"occurrence_count"`
	State            StrainState `json:"state"`
	FirstSeen        time.Time   `json:"first_seen"`
	LastSeen         time.Time   `json:"last_seen"`
}

// Effective returns the sovereign lineage when set, else the canonical one.
func (s Strain) Effective() Lineage {
	return EffectiveLineage(s.CanonicalLineage, s.SovereignLineage)
}

// EffectiveLineage applies the precedence rule: a non-empty sovereign value
// always wins over the canonical one.
func EffectiveLineage(canonical, sovereign Lineage) Lineage {
	if strings.TrimSpace(string(sovereign)) != "" {
		return sovereign
	}
	return canonical
}

// LineageView is the read model returned to the UI layer.
type LineageView struct {
	Name      string  `json:"name"`
	Canonical Lineage `json:"canonical"`
	Sovereign Lineage `json:"sovereign,omitempty"`
	Effective Lineage `json:"effective"`
}

// History reasons written by the store itself.
const (
	ReasonFirstSeen      = "first-seen"
	ReasonCanonicalShift = "canonical-shift"
	ReasonOverride       = "sovereign-override"
	ReasonOverrideClear  = "override-cleared"
)

// HistoryEntry is an append-only lineage change record.
type HistoryEntry struct {
	Seq        int64     `json:"seq"`
	StrainID   int64     `json:"strain_id"`
	OldLineage Lineage   `json:"old_lineage"`
	NewLineage Lineage   `json:"new_lineage"`
	Timestamp  time.Time `json:"timestamp"`
	Reason     string    `json:"reason"`
}

// ChangeSource distinguishes what drove a lineage change.
type ChangeSource string

const (
	SourceCatalog   ChangeSource = "catalog"
	SourceSovereign ChangeSource = "sovereign"
)

// ChangeEvent is published after a lineage mutation commits.
type ChangeEvent struct {
	ID         string       `json:"id"`
	Strain     string       `json:"strain"`
	OldLineage Lineage      `json:"old_lineage"`
	NewLineage Lineage      `json:"new_lineage"`
	Effective  Lineage      `json:"effective"`
	Reason     string       `json:"reason"`
	Source     ChangeSource `json:"source"`
	At         time.Time    `json:"at"`

	// Remote marks events received from another process through a relay.
	Remote bool `json:"-"`
}

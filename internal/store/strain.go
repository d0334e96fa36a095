package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/roach88/strainline/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const strainColumns = `id, name, canonical_lineage, sovereign_lineage, confidence, occurrence_count, state, first_seen, last_seen`

// AddOrUpdateStrain records one catalog observation of a strain.
//
// An unseen strain is created in state OBSERVED with the given lineage as
// canonical and a "first-seen" history entry. A known strain gains a vote
// for lineage; its canonical lineage becomes the most-voted value (ties keep
// the current one) and a "canonical-shift" entry is appended when it moves.
// The sovereign lineage is never touched.
func (s *Store) AddOrUpdateStrain(ctx context.Context, name, lineage string) (model.Strain, error) {
	const op = "add or update strain"
	l := model.NormalizeLineage(lineage)
	if !l.Known() {
		return model.Strain{}, model.NewError(model.CodeInvalidLineage, op, fmt.Sprintf("unknown lineage %q", lineage), nil)
	}

	var out model.Strain
	err := s.mutate(ctx, op, name, func(ctx context.Context, tx *sql.Tx, key string) ([]model.ChangeEvent, error) {
		now := s.now().UTC()
		st, found, err := loadStrain(ctx, tx, key)
		if err != nil {
			return nil, err
		}

		if !found {
			st = model.Strain{
				Name:             strings.TrimSpace(name),
				CanonicalLineage: l,
				OccurrenceCount:  1,
				FirstSeen:        now,
				LastSeen:         now,
			}
			st.State = stateOf(st)
			st.Confidence = confidence(st, 1)
			if st.ID, err = insertStrain(ctx, tx, key, st); err != nil {
				return nil, err
			}
			if err := addVote(ctx, tx, st.ID, l); err != nil {
				return nil, err
			}
			entry, err := appendHistory(ctx, tx, st.ID, "", l, now, model.ReasonFirstSeen)
			if err != nil {
				return nil, err
			}
			out = st
			return []model.ChangeEvent{s.changeEvent(st, entry, model.SourceCatalog)}, nil
		}

		if err := addVote(ctx, tx, st.ID, l); err != nil {
			return nil, err
		}
		votes, err := loadVotes(ctx, tx, st.ID)
		if err != nil {
			return nil, err
		}

		prev := st.CanonicalLineage
		st.CanonicalLineage = pickCanonical(votes, prev)
		st.OccurrenceCount++
		st.LastSeen = now
		st.State = stateOf(st)
		st.Confidence = confidence(st, votes[st.CanonicalLineage])
		if err := updateStrain(ctx, tx, st); err != nil {
			return nil, err
		}

		out = st
		if st.CanonicalLineage == prev {
			return nil, nil
		}
		entry, err := appendHistory(ctx, tx, st.ID, prev, st.CanonicalLineage, now, model.ReasonCanonicalShift)
		if err != nil {
			return nil, err
		}
		return []model.ChangeEvent{s.changeEvent(st, entry, model.SourceCatalog)}, nil
	})
	if err != nil {
		return model.Strain{}, err
	}
	return out, nil
}

// SetSovereignLineage stores a human override. It always wins: the strain
// moves to OVERRIDDEN and is created if unseen. History and last_seen change
// only when the effective lineage changes.
func (s *Store) SetSovereignLineage(ctx context.Context, name, lineage, reason string) (model.Strain, error) {
	const op = "set sovereign lineage"
	l := model.NormalizeLineage(lineage)
	if !l.Known() {
		return model.Strain{}, model.NewError(model.CodeInvalidLineage, op, fmt.Sprintf("unknown lineage %q", lineage), nil)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = model.ReasonOverride
	}

	var out model.Strain
	err := s.mutate(ctx, op, name, func(ctx context.Context, tx *sql.Tx, key string) ([]model.ChangeEvent, error) {
		now := s.now().UTC()
		st, found, err := loadStrain(ctx, tx, key)
		if err != nil {
			return nil, err
		}

		if !found {
			st = model.Strain{
				Name:             strings.TrimSpace(name),
				SovereignLineage: l,
				FirstSeen:        now,
				LastSeen:         now,
			}
			st.State = stateOf(st)
			st.Confidence = confidence(st, 0)
			if st.ID, err = insertStrain(ctx, tx, key, st); err != nil {
				return nil, err
			}
			entry, err := appendHistory(ctx, tx, st.ID, "", l, now, reason)
			if err != nil {
				return nil, err
			}
			out = st
			return []model.ChangeEvent{s.changeEvent(st, entry, model.SourceSovereign)}, nil
		}

		votes, err := loadVotes(ctx, tx, st.ID)
		if err != nil {
			return nil, err
		}
		prev := st.Effective()
		st.SovereignLineage = l
		st.State = stateOf(st)
		st.Confidence = confidence(st, votes[st.CanonicalLineage])

		var events []model.ChangeEvent
		if l != prev {
			st.LastSeen = now
			entry, err := appendHistory(ctx, tx, st.ID, prev, l, now, reason)
			if err != nil {
				return nil, err
			}
			events = append(events, s.changeEvent(st, entry, model.SourceSovereign))
		}
		if err := updateStrain(ctx, tx, st); err != nil {
			return nil, err
		}
		out = st
		return events, nil
	})
	if err != nil {
		return model.Strain{}, err
	}
	return out, nil
}

// ClearSovereignLineage drops the override of a known strain. The strain
// falls back to OBSERVED or CLASSIFIED; history is appended when the
// effective lineage changes.
func (s *Store) ClearSovereignLineage(ctx context.Context, name, reason string) (model.Strain, error) {
	const op = "clear sovereign lineage"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = model.ReasonOverrideClear
	}

	var out model.Strain
	err := s.mutate(ctx, op, name, func(ctx context.Context, tx *sql.Tx, key string) ([]model.ChangeEvent, error) {
		st, found, err := loadStrain(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, model.NewError(model.CodeNotFound, op, fmt.Sprintf("strain %q not found", name), nil)
		}
		out = st
		if st.SovereignLineage == "" {
			return nil, nil
		}

		votes, err := loadVotes(ctx, tx, st.ID)
		if err != nil {
			return nil, err
		}
		prev := st.Effective()
		st.SovereignLineage = ""
		st.State = stateOf(st)
		st.Confidence = confidence(st, votes[st.CanonicalLineage])

		var events []model.ChangeEvent
		if next := st.Effective(); next != prev {
			now := s.now().UTC()
			st.LastSeen = now
			entry, err := appendHistory(ctx, tx, st.ID, prev, next, now, reason)
			if err != nil {
				return nil, err
			}
			events = append(events, s.changeEvent(st, entry, model.SourceSovereign))
		}
		if err := updateStrain(ctx, tx, st); err != nil {
			return nil, err
		}
		out = st
		return events, nil
	})
	if err != nil {
		return model.Strain{}, err
	}
	return out, nil
}

func (s *Store) changeEvent(st model.Strain, entry model.HistoryEntry, src model.ChangeSource) model.ChangeEvent {
	return model.ChangeEvent{
		ID:         s.newID(),
		Strain:     st.Name,
		OldLineage: entry.OldLineage,
		NewLineage: entry.NewLineage,
		Effective:  st.Effective(),
		Reason:     entry.Reason,
		Source:     src,
		At:         entry.Timestamp,
	}
}

// stateOf derives the lifecycle state from the stored fields.
func stateOf(st model.Strain) model.StrainState {
	switch {
	case st.SovereignLineage != "":
		return model.StateOverridden
	case st.OccurrenceCount >= 2:
		return model.StateClassified
	default:
		return model.StateObserved
	}
}

// pickCanonical returns the most-voted lineage. A tie keeps current; ties
// among other values go to the lexically smallest.
func pickCanonical(votes map[model.Lineage]int, current model.Lineage) model.Lineage {
	keys := make([]string, 0, len(votes))
	for l := range votes {
		keys = append(keys, string(l))
	}
	sort.Strings(keys)

	best, bestN := current, votes[current]
	for _, k := range keys {
		if n := votes[model.Lineage(k)]; n > bestN {
			best, bestN = model.Lineage(k), n
		}
	}
	return best
}

// confidence scores the effective lineage. The catalog part grows with the
// number of observations and their agreement with the canonical value; a
// sovereign value that agrees with the catalog is certain, one that
// conflicts never drops below 0.75.
func confidence(st model.Strain, canonicalVotes int) float64 {
	base := 0.0
	if st.OccurrenceCount > 0 {
		base = float64(canonicalVotes) / float64(st.OccurrenceCount+2)
	}
	switch {
	case st.SovereignLineage == "":
		return base
	case st.SovereignLineage == st.CanonicalLineage:
		return 1
	default:
		return math.Max(base, 0.75)
	}
}

func loadStrain(ctx context.Context, q querier, key string) (model.Strain, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+strainColumns+` FROM strains WHERE name_key = ?`, key)
	st, err := scanStrain(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Strain{}, false, nil
	}
	if err != nil {
		return model.Strain{}, false, fmt.Errorf("load strain: %w", err)
	}
	return st, true, nil
}

func scanStrain(r scanner) (model.Strain, error) {
	var (
		st                  model.Strain
		canonical, sov      string
		state               string
		firstSeen, lastSeen int64
	)
	if err := r.Scan(&st.ID, &st.Name, &canonical, &sov, &st.Confidence, &st.OccurrenceCount, &state, &firstSeen, &lastSeen); err != nil {
		return model.Strain{}, err
	}
	st.CanonicalLineage = model.Lineage(canonical)
	st.SovereignLineage = model.Lineage(sov)
	st.State = model.StrainState(state)
	st.FirstSeen = time.UnixMicro(firstSeen).UTC()
	st.LastSeen = time.UnixMicro(lastSeen).UTC()
	return st, nil
}

func insertStrain(ctx context.Context, tx *sql.Tx, key string, st model.Strain) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO strains
		(name_key, name, canonical_lineage, sovereign_lineage, confidence, occurrence_count, state, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		key,
		st.Name,
		string(st.CanonicalLineage),
		string(st.SovereignLineage),
		st.Confidence,
		st.OccurrenceCount,
		string(st.State),
		st.FirstSeen.UnixMicro(),
		st.LastSeen.UnixMicro(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert strain: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert strain: last insert id: %w", err)
	}
	return id, nil
}

func updateStrain(ctx context.Context, tx *sql.Tx, st model.Strain) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE strains
		SET canonical_lineage = ?, sovereign_lineage = ?, confidence = ?,
		    occurrence_count = ?, state = ?, last_seen = ?
		WHERE id = ?
	`,
		string(st.CanonicalLineage),
		string(st.SovereignLineage),
		st.Confidence,
		st.OccurrenceCount,
		string(st.State),
		st.LastSeen.UnixMicro(),
		st.ID,
	)
	if err != nil {
		return fmt.Errorf("update strain: %w", err)
	}
	return nil
}

func addVote(ctx context.Context, tx *sql.Tx, strainID int64, l model.Lineage) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO lineage_votes (strain_id, lineage, votes)
		VALUES (?, ?, 1)
		ON CONFLICT(strain_id, lineage) DO UPDATE SET votes = votes + 1
	`, strainID, string(l))
	if err != nil {
		return fmt.Errorf("add vote: %w", err)
	}
	return nil
}

func loadVotes(ctx context.Context, q querier, strainID int64) (map[model.Lineage]int, error) {
	rows, err := q.QueryContext(ctx, `SELECT lineage, votes FROM lineage_votes WHERE strain_id = ?`, strainID)
	if err != nil {
		return nil, fmt.Errorf("load votes: %w", err)
	}
	defer rows.Close()

	votes := make(map[model.Lineage]int)
	for rows.Next() {
		var l string
		var n int
		if err := rows.Scan(&l, &n); err != nil {
			return nil, fmt.Errorf("load votes: scan: %w", err)
		}
		votes[model.Lineage(l)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load votes: %w", err)
	}
	return votes, nil
}

// appendHistory writes one history row. A timestamp that would not advance
// past the strain's latest entry is bumped to latest+1µs.
func appendHistory(ctx context.Context, tx *sql.Tx, strainID int64, old, next model.Lineage, at time.Time, reason string) (model.HistoryEntry, error) {
	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(ts) FROM lineage_history WHERE strain_id = ?`, strainID).Scan(&latest); err != nil {
		return model.HistoryEntry{}, fmt.Errorf("append history: latest ts: %w", err)
	}
	ts := at.UnixMicro()
	if latest.Valid && ts <= latest.Int64 {
		ts = latest.Int64 + 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO lineage_history (strain_id, old_lineage, new_lineage, ts, reason)
		VALUES (?, ?, ?, ?, ?)
	`, strainID, string(old), string(next), ts, reason)
	if err != nil {
		return model.HistoryEntry{}, fmt.Errorf("append history: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return model.HistoryEntry{}, fmt.Errorf("append history: last insert id: %w", err)
	}

	return model.HistoryEntry{
		Seq:        seq,
		StrainID:   strainID,
		OldLineage: old,
		NewLineage: next,
		Timestamp:  time.UnixMicro(ts).UTC(),
		Reason:     reason,
	}, nil
}

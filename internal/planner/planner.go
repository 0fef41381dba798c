// Package planner implements the change-set planner: the
// kernel of incrementality. Given a step's inputs, its transform keys, and
// its transform-meta table, it streams the batches of transform-key tuples
// that require (re)processing, in priority order.
package planner

import (
	"context"
	"fmt"
	"sort"

	"github.com/malbeclabs/pipelake/internal/changelist"
	"github.com/malbeclabs/pipelake/internal/errs"
	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/metastore"
)

// Input describes one of a step's input tables, as the planner needs it:
// its own PK columns (to know which transform keys it can contribute) and
// its row-meta table (to read update_ts per PK).
type Input struct {
	Name      string
	PKColumns []string
	Meta      *metastore.RowMetaTable
}

// Planner computes the stale transform-key batches for one step.
type Planner struct {
	Inputs        []Input
	TransformKeys []string
	TransformMeta *metastore.TransformMetaTable
	ChunkSize     int
}

// New validates the transform-key cardinality rule and returns a Planner.
// Every transform key must appear in the PK of exactly one input, or of
// every input; any other count is a construction error.
func New(inputs []Input, transformKeys []string, tm *metastore.TransformMetaTable, chunkSize int) (*Planner, error) {
	if len(transformKeys) == 0 {
		return nil, &errs.ConstructionError{Msg: "transform keys must be non-empty"}
	}
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	for _, k := range transformKeys {
		count := 0
		for _, in := range inputs {
			if containsStr(in.PKColumns, k) {
				count++
			}
		}
		if count != 1 && count != len(inputs) {
			return nil, &errs.ConstructionError{
				Msg: fmt.Sprintf("transform key %q appears in %d of %d inputs; must appear in exactly one or all", k, count, len(inputs)),
			}
		}
	}
	return &Planner{Inputs: inputs, TransformKeys: transformKeys, TransformMeta: tm, ChunkSize: chunkSize}, nil
}

func containsStr(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// commonKeys returns the transform keys present in every input's PK.
func (p *Planner) commonKeys() []string {
	var out []string
	for _, k := range p.TransformKeys {
		all := true
		for _, in := range p.Inputs {
			if !containsStr(in.PKColumns, k) {
				all = false
				break
			}
		}
		if all {
			out = append(out, k)
		}
	}
	return out
}

type aggRow struct {
	keys        map[string]any
	maxUpdateTS float64
}

func keyTuple(keys map[string]any, names []string) string {
	vals := make([]any, len(names))
	for i, n := range names {
		vals[i] = keys[n]
	}
	return frame.KeyString(vals)
}

// perInputAgg groups input i's row-meta by the transform keys it carries
// (its own PK intersected with the full transform-key list) and aggregates
// max(update_ts), mirroring _make_agg_cte.
func (p *Planner) perInputAgg(ctx context.Context, in Input) ([]aggRow, error) {
	var own []string
	for _, k := range p.TransformKeys {
		if containsStr(in.PKColumns, k) {
			own = append(own, k)
		}
	}
	all, err := in.Meta.AllMeta(ctx)
	if err != nil {
		return nil, err
	}
	uIdx := in.Meta.UpdateTSColumn()

	groups := map[string]*aggRow{}
	for i := 0; i < all.Len(); i++ {
		row := all.Rows[i]
		keys := map[string]any{}
		for _, k := range own {
			j := indexOf(in.PKColumns, k)
			keys[k] = row[j]
		}
		gk := keyTuple(keys, own)
		ts := row[uIdx].(float64)
		if g, ok := groups[gk]; ok {
			if ts > g.maxUpdateTS {
				g.maxUpdateTS = ts
			}
		} else {
			groups[gk] = &aggRow{keys: keys, maxUpdateTS: ts}
		}
	}

	out := make([]aggRow, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	return out, nil
}

func indexOf(xs []string, x string) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}

// combine folds per-input aggregates into one, full-outer-joining on
// commonKeys (or cross-joining when commonKeys is empty), .
func combine(a, b []aggRow, commonKeys []string) []aggRow {
	if len(commonKeys) == 0 {
		out := make([]aggRow, 0, len(a)*len(b))
		for _, x := range a {
			for _, y := range b {
				out = append(out, mergeRows(x, y))
			}
		}
		return out
	}

	byKeyA := map[string][]aggRow{}
	for _, x := range a {
		gk := keyTuple(x.keys, commonKeys)
		byKeyA[gk] = append(byKeyA[gk], x)
	}
	byKeyB := map[string][]aggRow{}
	for _, y := range b {
		gk := keyTuple(y.keys, commonKeys)
		byKeyB[gk] = append(byKeyB[gk], y)
	}

	seen := map[string]bool{}
	var out []aggRow
	for gk, xs := range byKeyA {
		seen[gk] = true
		ys, ok := byKeyB[gk]
		if !ok {
			out = append(out, xs...)
			continue
		}
		for _, x := range xs {
			for _, y := range ys {
				out = append(out, mergeRows(x, y))
			}
		}
	}
	for gk, ys := range byKeyB {
		if !seen[gk] {
			out = append(out, ys...)
		}
	}
	return out
}

func mergeRows(a, b aggRow) aggRow {
	keys := map[string]any{}
	for k, v := range a.keys {
		keys[k] = v
	}
	for k, v := range b.keys {
		keys[k] = v
	}
	maxTS := a.maxUpdateTS
	if b.maxUpdateTS > maxTS {
		maxTS = b.maxUpdateTS
	}
	return aggRow{keys: keys, maxUpdateTS: maxTS}
}

// Candidate is one stale transform-key tuple.
type Candidate struct {
	Keys        []any
	MaxUpdateTS float64
	Priority    *int
}

// Candidates computes every stale transform-key tuple, unordered, applying
// the disjunctive stale predicate.
func (p *Planner) Candidates(ctx context.Context) ([]Candidate, error) {
	if len(p.Inputs) == 0 {
		return nil, nil
	}
	aggs := make([][]aggRow, len(p.Inputs))
	for i, in := range p.Inputs {
		a, err := p.perInputAgg(ctx, in)
		if err != nil {
			return nil, err
		}
		aggs[i] = a
	}

	common := p.commonKeys()
	combined := aggs[0]
	for i := 1; i < len(aggs); i++ {
		combined = combine(combined, aggs[i], common)
	}

	keyTuples := make([][]any, len(combined))
	for i, row := range combined {
		keyTuples[i] = make([]any, len(p.TransformKeys))
		for j, k := range p.TransformKeys {
			keyTuples[i][j] = row.keys[k]
		}
	}
	tmRows, err := p.TransformMeta.Get(ctx, keyTuples)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for i, row := range combined {
		tm, known := tmRows[frame.KeyString(keyTuples[i])]
		stale := !known || !tm.IsSuccess || (tm.IsSuccess && row.maxUpdateTS > tm.ProcessTS)
		if !stale {
			continue
		}
		c := Candidate{Keys: keyTuples[i], MaxUpdateTS: row.maxUpdateTS}
		if known {
			c.Priority = tm.Priority
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// Order sorts candidates by priority DESC NULLS LAST, then by key ASC —
// the ordering the executor must preserve for retry convergence.
func Order(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := candidates[i].Priority, candidates[j].Priority
		switch {
		case pi == nil && pj == nil:
			// fall through to key comparison
		case pi == nil:
			return false
		case pj == nil:
			return true
		case *pi != *pj:
			return *pi > *pj
		}
		return frame.KeyString(candidates[i].Keys) < frame.KeyString(candidates[j].Keys)
	})
}

// Batches chunks ordered candidates into frames of at most p.ChunkSize rows,
// with columns equal to the transform keys.
func (p *Planner) Batches(candidates []Candidate) []*frame.Frame {
	var batches []*frame.Frame
	for i := 0; i < len(candidates); i += p.ChunkSize {
		end := i + p.ChunkSize
		if end > len(candidates) {
			end = len(candidates)
		}
		f := frame.New(p.TransformKeys, len(p.TransformKeys))
		for _, c := range candidates[i:end] {
			f.Rows = append(f.Rows, c.Keys)
		}
		batches = append(batches, f)
	}
	return batches
}

// GetFullProcessIDs runs the full pipeline: Candidates → Order → Batches.
func (p *Planner) GetFullProcessIDs(ctx context.Context) ([]*frame.Frame, error) {
	candidates, err := p.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	Order(candidates)
	return p.Batches(candidates), nil
}

// GetChangeListProcessIDs intersects a Change List with this step's inputs,
// projects each input's changed PKs onto the transform keys, deduplicates,
// and batches — without consulting meta at all.
func (p *Planner) GetChangeListProcessIDs(cl *changelist.ChangeList) []*frame.Frame {
	seen := map[string][]any{}
	for _, in := range p.Inputs {
		pks := cl.PKs(in.Name)
		if len(pks) == 0 {
			continue
		}
		for _, pk := range pks {
			keys := make([]any, len(p.TransformKeys))
			for j, k := range p.TransformKeys {
				idx := indexOf(in.PKColumns, k)
				if idx < 0 {
					continue
				}
				keys[j] = pk[idx]
			}
			seen[frame.KeyString(keys)] = keys
		}
	}
	rows := make([][]any, 0, len(seen))
	for _, keys := range seen {
		rows = append(rows, keys)
	}
	sort.Slice(rows, func(i, j int) bool { return frame.KeyString(rows[i]) < frame.KeyString(rows[j]) })

	var batches []*frame.Frame
	for i := 0; i < len(rows); i += p.ChunkSize {
		end := i + p.ChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		f := frame.New(p.TransformKeys, len(p.TransformKeys))
		f.Rows = rows[i:end]
		batches = append(batches, f)
	}
	return batches
}

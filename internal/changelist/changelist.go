// Package changelist implements the Change List accumulator that steps
// return from ProcessBatch and that the driver threads between iterations
// of RunStepsChangeList.
package changelist

// ChangeList maps a table name to the set of primary-key tuples that
// changed for that table, keyed by their canonical string form (see
// frame.KeyString) alongside the original value slice.
type ChangeList struct {
	changes map[string]map[string][]any
}

// New returns an empty ChangeList.
func New() *ChangeList {
	return &ChangeList{changes: map[string]map[string][]any{}}
}

// IsEmpty reports whether no table has any recorded change.
func (c *ChangeList) IsEmpty() bool {
	if c == nil {
		return true
	}
	for _, pks := range c.changes {
		if len(pks) > 0 {
			return false
		}
	}
	return true
}

// Append records that table's row identified by key changed.
func (c *ChangeList) Append(table string, key string, pk []any) {
	if c.changes == nil {
		c.changes = map[string]map[string][]any{}
	}
	m, ok := c.changes[table]
	if !ok {
		m = map[string][]any{}
		c.changes[table] = m
	}
	m[key] = pk
}

// Extend merges every change in other into c.
func (c *ChangeList) Extend(other *ChangeList) {
	if other == nil {
		return
	}
	for table, pks := range other.changes {
		for key, pk := range pks {
			c.Append(table, key, pk)
		}
	}
}

// Tables returns the names of tables with at least one recorded change.
func (c *ChangeList) Tables() []string {
	names := make([]string, 0, len(c.changes))
	for t, pks := range c.changes {
		if len(pks) > 0 {
			names = append(names, t)
		}
	}
	return names
}

// PKs returns the changed PK tuples for a table, in no particular order.
func (c *ChangeList) PKs(table string) [][]any {
	m := c.changes[table]
	out := make([][]any, 0, len(m))
	for _, pk := range m {
		out = append(out, pk)
	}
	return out
}

// Merge returns a new ChangeList that is the union of a and b. The
// operation is commutative and associative, so concurrent batches may each
// produce a ChangeList and have the results merged in any order.
func Merge(a, b *ChangeList) *ChangeList {
	out := New()
	out.Extend(a)
	out.Extend(b)
	return out
}

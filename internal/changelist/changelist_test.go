package changelist

import "testing"

func TestEmptyChangeList(t *testing.T) {
	cl := New()
	if !cl.IsEmpty() {
		t.Fatalf("new change list should be empty")
	}
}

func TestAppendMakesNonEmpty(t *testing.T) {
	cl := New()
	cl.Append("orders", "1", []any{int64(1)})
	if cl.IsEmpty() {
		t.Fatalf("change list with an entry should not be empty")
	}
	if got := cl.PKs("orders"); len(got) != 1 {
		t.Fatalf("expected 1 pk, got %d", len(got))
	}
}

func TestMergeIsCommutative(t *testing.T) {
	a := New()
	a.Append("orders", "1", []any{int64(1)})
	b := New()
	b.Append("orders", "2", []any{int64(2)})

	ab := Merge(a, b)
	ba := Merge(b, a)

	if len(ab.PKs("orders")) != len(ba.PKs("orders")) {
		t.Fatalf("merge should be commutative in resulting size")
	}
}

func TestMergeDedupesSameKey(t *testing.T) {
	a := New()
	a.Append("orders", "1", []any{int64(1)})
	b := New()
	b.Append("orders", "1", []any{int64(1)})

	merged := Merge(a, b)
	if len(merged.PKs("orders")) != 1 {
		t.Fatalf("merge of identical keys should dedupe, got %d", len(merged.PKs("orders")))
	}
}

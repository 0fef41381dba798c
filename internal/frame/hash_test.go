package frame

import "testing"

func TestRowHashDeterministic(t *testing.T) {
	f := New([]string{"id", "name", "score"}, 1)
	_ = f.AppendRow([]any{"a", "alice", 1.5})
	_ = f.AppendRow([]any{"a", "alice", 1.5})
	if f.RowHash(0) != f.RowHash(1) {
		t.Fatalf("identical rows hashed differently")
	}
}

func TestRowHashDiffersOnPayloadChange(t *testing.T) {
	f := New([]string{"id", "name"}, 1)
	_ = f.AppendRow([]any{"a", "alice"})
	_ = f.AppendRow([]any{"a", "alicia"})
	if f.RowHash(0) == f.RowHash(1) {
		t.Fatalf("different payloads hashed the same")
	}
}

func TestRowHashIgnoresPK(t *testing.T) {
	f := New([]string{"id", "name"}, 1)
	_ = f.AppendRow([]any{"a", "alice"})
	_ = f.AppendRow([]any{"b", "alice"})
	if f.RowHash(0) != f.RowHash(1) {
		t.Fatalf("PK column leaked into content hash")
	}
}

func TestRowHashAvoidsConcatenationCollision(t *testing.T) {
	f := New([]string{"id", "a", "b"}, 1)
	_ = f.AppendRow([]any{"k", "xy", "z"})
	_ = f.AppendRow([]any{"k", "x", "yz"})
	if f.RowHash(0) == f.RowHash(1) {
		t.Fatalf("length-delimited encoding should avoid naive-concat collisions")
	}
}

func TestSurrogateKeyStableAcrossCalls(t *testing.T) {
	a := SurrogateKey([]any{"device-1", int64(42)})
	b := SurrogateKey([]any{"device-1", int64(42)})
	if a != b {
		t.Fatalf("surrogate key not reproducible: %s vs %s", a, b)
	}
	c := SurrogateKey([]any{"device-1", int64(43)})
	if a == c {
		t.Fatalf("different PK tuples produced the same surrogate key")
	}
}

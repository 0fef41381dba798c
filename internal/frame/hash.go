package frame

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"time"
)

// encodeValue appends val to buf using a type-tagged, length-delimited
// encoding so that distinct values never collide under concatenation,
// regardless of their string representation.
func encodeValue(buf *bytes.Buffer, val any) {
	if val == nil {
		buf.WriteString("nil:0:")
		return
	}

	typeTag := reflect.TypeOf(val).String()

	var payload []byte
	switch v := val.(type) {
	case string:
		payload = []byte(v)
	case int, int8, int16, int32, int64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(reflect.ValueOf(v).Int()))
		payload = b[:]
	case uint, uint8, uint16, uint32, uint64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], reflect.ValueOf(v).Uint())
		payload = b[:]
	case float32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], math.Float32bits(v))
		payload = b[:]
	case float64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
		payload = b[:]
	case bool:
		if v {
			payload = []byte{1}
		} else {
			payload = []byte{0}
		}
	case time.Time:
		payload = []byte(v.UTC().Format(time.RFC3339Nano))
	default:
		payload = []byte(fmt.Sprintf("%v", v))
	}

	buf.WriteString(typeTag)
	buf.WriteString(":")
	fmt.Fprintf(buf, "%d", len(payload))
	buf.WriteString(":")
	buf.Write(payload)
}

// RowHash computes a deterministic content hash of row i's non-PK columns.
// It is reproducible across processes: two rows with identical values in
// identical columns always hash the same, independent of map iteration
// order or process identity.
func (f *Frame) RowHash(i int) uint64 {
	var buf bytes.Buffer
	for _, v := range f.Rows[i][f.PKColumns:] {
		encodeValue(&buf, v)
	}
	sum := sha256.Sum256(buf.Bytes())
	return binary.BigEndian.Uint64(sum[:8])
}

// SurrogateKey computes a deterministic hex digest of a PK tuple, usable as
// a synthetic single-column key for backends (like chstore) that prefer a
// single surrogate column over a composite key.
func SurrogateKey(pk []any) string {
	var buf bytes.Buffer
	for _, v := range pk {
		encodeValue(&buf, v)
	}
	sum := sha256.Sum256(buf.Bytes())
	return fmt.Sprintf("%x", sum)
}

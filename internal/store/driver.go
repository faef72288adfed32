// Package store owns the gateway's SQLite connections: opening the
// attached storage/user-data databases, creating the base schema and FTS5
// indexes, registering the vec_distance_cosine/vec_distance_L2 scalar
// functions the embedding filters compile calls to, and executing a
// compiled pql.Built statement.
package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/mattn/go-sqlite3"
)

const driverName = "panoptikon-sqlite3"

var registerOnce sync.Once

// registerDriver installs a named sqlite3 driver variant whose every new
// connection gets vec_distance_cosine/vec_distance_L2 registered, the same
// ConnectHook idiom go-sqlite3 documents for custom scalar functions.
// sql.Register panics if called twice with the same name, so this only ever
// runs once per process regardless of how many Stores get opened.
func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				if err := conn.RegisterFunc("vec_distance_cosine", cosineDistance, true); err != nil {
					return fmt.Errorf("register vec_distance_cosine: %w", err)
				}
				if err := conn.RegisterFunc("vec_distance_l2", l2Distance, true); err != nil {
					return fmt.Errorf("register vec_distance_l2: %w", err)
				}
				return nil
			},
		})
	})
}

// decodeF32Blob reinterprets a packed little-endian float32 byte blob (the
// layout pql.DecodeEmbedding produces) as a []float32.
func decodeF32Blob(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(b[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// cosineDistance is registered as the SQL function vec_distance_cosine(a, b),
// called by the embedding filters' compiled CTEs against stored embedding
// blobs and a query-supplied embedding blob. Returns 1-cosine_similarity so
// that, like a Euclidean distance, smaller is more similar.
func cosineDistance(a, b []byte) (float64, error) {
	va, vb := decodeF32Blob(a), decodeF32Blob(b)
	if len(va) != len(vb) || len(va) == 0 {
		return 0, fmt.Errorf("vec_distance_cosine: dimension mismatch (%d vs %d)", len(va), len(vb))
	}
	var dot, na, nb float64
	for i := range va {
		x, y := float64(va[i]), float64(vb[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1, nil
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return 1 - cos, nil
}

// l2Distance is registered as the SQL function vec_distance_l2(a, b):
// ordinary Euclidean distance between two embedding blobs.
func l2Distance(a, b []byte) (float64, error) {
	va, vb := decodeF32Blob(a), decodeF32Blob(b)
	if len(va) != len(vb) || len(va) == 0 {
		return 0, fmt.Errorf("vec_distance_l2: dimension mismatch (%d vs %d)", len(va), len(vb))
	}
	var sum float64
	for i := range va {
		d := float64(va[i]) - float64(vb[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

package dag

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"emojimk/internal/core"
)

// fieldWriter writes length-prefixed fields so that adjacent values can
// never be confused ("ab","c" vs "a","bc").
type fieldWriter struct {
	h hash.Hash
}

func (w fieldWriter) bytes(data []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(data)))
	w.h.Write(n[:])
	w.h.Write(data)
}

func (w fieldWriter) str(s string) { w.bytes([]byte(s)) }

func (w fieldWriter) count(n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	w.bytes(b[:])
}

// computeTaskDefHash hashes the declarative fields of a task.
//
// Deps and Recipe keep their order: $< and the recipe sequence depend on
// it. Env is sorted by key.
func computeTaskDefHash(t core.Task) TaskDefHash {
	w := fieldWriter{h: sha256.New()}

	w.str(t.Name)
	w.str(t.Rule)
	w.str(t.Stem)

	w.count(len(t.Deps))
	for _, d := range t.Deps {
		w.str(d)
	}

	w.count(len(t.Recipe))
	for _, line := range t.Recipe {
		w.str(line)
	}

	keys := make([]string, 0, len(t.Env))
	for k := range t.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.count(len(keys))
	for _, k := range keys {
		w.str(k)
		w.str(t.Env[k])
	}

	flags := byte(0)
	if t.Phony {
		flags |= 1
	}
	if t.Action != nil {
		flags |= 2
	}
	w.bytes([]byte{flags})

	return TaskDefHash(hex.EncodeToString(w.h.Sum(nil)))
}

package flat

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Snapshot layout, little endian:
//
//	magic "SFV1" | dimension u32 | count u32 |
//	count x (id length u16 | id | norm f64 | dimension x f32)
var snapshotMagic = []byte("SFV1")

var errTruncated = errors.New("snapshot truncated")

type snapshot struct {
	dimension int
	ids       []string
	vectors   [][]float32
	norms     []float64
}

func encodeSnapshot(dimension int, ids []string, vectors [][]float32, norms []float64) []byte {
	var buf bytes.Buffer
	buf.Grow(12 + len(ids)*(10+4*dimension))
	buf.Write(snapshotMagic)
	le := binary.LittleEndian
	_ = binary.Write(&buf, le, uint32(dimension))
	_ = binary.Write(&buf, le, uint32(len(ids)))
	for i, id := range ids {
		_ = binary.Write(&buf, le, uint16(len(id)))
		buf.WriteString(id)
		_ = binary.Write(&buf, le, math.Float64bits(norms[i]))
		for _, x := range vectors[i] {
			_ = binary.Write(&buf, le, math.Float32bits(x))
		}
	}
	return buf.Bytes()
}

func decodeSnapshot(data []byte) (*snapshot, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	le := binary.LittleEndian

	head := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, head); err != nil || !bytes.Equal(head, snapshotMagic) {
		return nil, errors.New("not a vector snapshot")
	}
	var dim, count uint32
	if err := binary.Read(r, le, &dim); err != nil {
		return nil, errTruncated
	}
	if err := binary.Read(r, le, &count); err != nil {
		return nil, errTruncated
	}
	// Each entry needs at least its length prefix, norm and values.
	if uint64(count)*(10+4*uint64(dim)) > uint64(len(data)) {
		return nil, fmt.Errorf("snapshot claims %d vectors of %d dimensions in %d bytes", count, dim, len(data))
	}

	snap := &snapshot{
		dimension: int(dim),
		ids:       make([]string, 0, count),
		vectors:   make([][]float32, 0, count),
		norms:     make([]float64, 0, count),
	}
	seen := make(map[string]bool, count)
	for i := uint32(0); i < count; i++ {
		var n uint16
		if err := binary.Read(r, le, &n); err != nil {
			return nil, errTruncated
		}
		id := make([]byte, n)
		if _, err := io.ReadFull(r, id); err != nil {
			return nil, errTruncated
		}
		if seen[string(id)] {
			return nil, fmt.Errorf("duplicate chunk id %q", id)
		}
		seen[string(id)] = true

		var normBits uint64
		if err := binary.Read(r, le, &normBits); err != nil {
			return nil, errTruncated
		}
		bits := make([]uint32, dim)
		if err := binary.Read(r, le, bits); err != nil {
			return nil, errTruncated
		}
		vec := make([]float32, dim)
		for j, b := range bits {
			vec[j] = math.Float32frombits(b)
		}
		snap.ids = append(snap.ids, string(id))
		snap.vectors = append(snap.vectors, vec)
		snap.norms = append(snap.norms, math.Float64frombits(normBits))
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, errors.New("trailing bytes after snapshot")
	}
	return snap, nil
}

// writeFileAtomic writes through a temp file, fsync and rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}

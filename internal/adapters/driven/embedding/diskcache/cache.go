// Package diskcache persists embedding vectors in a content-addressed
// directory so unchanged chunks are never embedded twice.
//
// Layout: <dir>/<first two hex chars>/<sha256 key>.vec. Each entry records
// the model name and the digest of the embedded text; an entry written by a
// different model or for different text is treated as a miss.
package diskcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Ensure Cache implements the interface.
var _ driven.EmbeddingCache = (*Cache)(nil)

// DefaultMemoryEntries is the size of the in-memory front.
const DefaultMemoryEntries = 4096

var magic = []byte("SKV1")

var errBadEntry = errors.New("malformed cache entry")

type entry struct {
	digest string
	vector []float32
}

// Cache is a directory of vectors with an LRU front.
type Cache struct {
	dir   string
	model string
	front *lru.Cache[string, entry]
	count atomic.Int64
	mu    sync.Mutex // serialises writes
}

// Open creates or opens the cache directory for a model.
func Open(dir, model string, memoryEntries int) (*Cache, error) {
	if memoryEntries <= 0 {
		memoryEntries = DefaultMemoryEntries
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	front, err := lru.New[string, entry](memoryEntries)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c := &Cache{dir: dir, model: model, front: front}

	var n int64
	err = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".vec") {
			n++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan cache dir: %w", err)
	}
	c.count.Store(n)
	return c, nil
}

// Key derives the cache key of a chunk span.
func Key(k driven.EmbeddingKey) string {
	h := sha256.New()
	h.Write([]byte(k.Path))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(k.Page)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(k.Start)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(k.End)))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key[:2], key+".vec")
}

// Get returns a copy of the cached vector.
func (c *Cache) Get(k driven.EmbeddingKey, textDigest string) ([]float32, bool) {
	key := Key(k)
	if e, ok := c.front.Get(key); ok {
		if e.digest != textDigest {
			return nil, false
		}
		return clone(e.vector), true
	}

	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	model, digest, vec, err := decode(data)
	if err != nil {
		logger.Warn("embedding cache: %s: %v", key, err)
		return nil, false
	}
	if model != c.model {
		return nil, false
	}
	c.front.Add(key, entry{digest: digest, vector: vec})
	if digest != textDigest {
		return nil, false
	}
	return clone(vec), true
}

// Put writes the vector to disk and the memory front.
func (c *Cache) Put(k driven.EmbeddingKey, textDigest string, vector []float32) error {
	key := Key(k)
	path := c.path(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create shard: %w", err)
	}
	_, statErr := os.Stat(path)
	if err := writeFileAtomic(path, encode(c.model, textDigest, vector)); err != nil {
		return err
	}
	if errors.Is(statErr, fs.ErrNotExist) {
		c.count.Add(1)
	}
	c.front.Add(key, entry{digest: textDigest, vector: clone(vector)})
	return nil
}

// Len returns the number of vectors on disk.
func (c *Cache) Len() int {
	return int(c.count.Load())
}

// Purge removes every cached vector.
func (c *Cache) Purge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("purge cache: %w", err)
		}
	}
	c.front.Purge()
	c.count.Store(0)
	return nil
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// encode lays out: magic, model, digest, dims, float32 values (little endian).
func encode(model, digest string, vec []float32) []byte {
	var buf bytes.Buffer
	buf.Write(magic)
	writeString(&buf, model)
	writeString(&buf, digest)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(vec)))
	for _, x := range vec {
		_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(x))
	}
	return buf.Bytes()
}

func decode(data []byte) (model, digest string, vec []float32, err error) {
	r := bytes.NewReader(data)
	head := make([]byte, len(magic))
	if _, err := r.Read(head); err != nil || !bytes.Equal(head, magic) {
		return "", "", nil, errBadEntry
	}
	if model, err = readString(r); err != nil {
		return "", "", nil, err
	}
	if digest, err = readString(r); err != nil {
		return "", "", nil, err
	}
	var dims uint32
	if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return "", "", nil, errBadEntry
	}
	if int64(dims)*4 != int64(r.Len()) {
		return "", "", nil, errBadEntry
	}
	bits := make([]uint32, dims)
	if err := binary.Read(r, binary.LittleEndian, bits); err != nil {
		return "", "", nil, errBadEntry
	}
	vec = make([]float32, dims)
	for i, b := range bits {
		vec[i] = math.Float32frombits(b)
	}
	return model, digest, vec, nil
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", errBadEntry
	}
	if int(n) > r.Len() {
		return "", errBadEntry
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return "", errBadEntry
	}
	return string(b), nil
}

// writeFileAtomic writes through a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

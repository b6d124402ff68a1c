package vector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hyperjump/docchat/internal/models"
)

// fileMagic prefixes every collection file; a file without it is treated as corrupted.
var fileMagic = []byte("DCVEC\x00\x01\x00")

type snapshot struct {
	ids     []string
	vectors [][]float32
}

// FileStore keeps a collection in memory and persists it to <dir>/<collection>.vec.
// Search is brute-force cosine similarity over an immutable snapshot.
type FileStore struct {
	dir        string
	collection string
	dimensions int

	current atomic.Pointer[snapshot]
	openErr atomic.Pointer[error]
	mu      sync.Mutex // serializes Open and Rebuild
}

// NewFileStore creates a file-backed store. Call Open to load persisted data.
func NewFileStore(dir, collection string, dimensions int) (*FileStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	s := &FileStore{dir: dir, collection: collection, dimensions: dimensions}
	s.current.Store(&snapshot{})
	return s, nil
}

// Type returns the backend identifier.
func (s *FileStore) Type() string {
	return string(BackendMemory)
}

// Path returns the collection file path.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, s.collection+".vec")
}

// Open loads the collection file. A missing file yields an empty collection.
// A corrupted file leaves the store empty and makes Search fail with
// models.ErrIndexCorrupted until the next successful Rebuild.
func (s *FileStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.readFile()
	if err != nil {
		s.openErr.Store(&err)
		s.current.Store(&snapshot{})
		return err
	}
	s.openErr.Store(nil)
	s.current.Store(snap)
	return nil
}

// Rebuild writes the new collection to disk, then swaps it in.
func (s *FileStore) Rebuild(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	snap := &snapshot{ids: make([]string, len(ids)), vectors: make([][]float32, len(vectors))}
	copy(snap.ids, ids)
	for i, v := range vectors {
		if len(v) != s.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(v), s.dimensions)
		}
		vec := make([]float32, s.dimensions)
		copy(vec, v)
		snap.vectors[i] = vec
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeFile(snap); err != nil {
		return err
	}
	s.current.Store(snap)
	s.openErr.Store(nil)
	return nil
}

// Search returns the top-k vectors by cosine similarity.
func (s *FileStore) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	if err := s.corrupted(); err != nil {
		return nil, err
	}
	if len(query) != s.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), s.dimensions)
	}
	snap := s.current.Load()
	if k <= 0 || len(snap.ids) == 0 {
		return nil, nil
	}
	results := make([]*Result, len(snap.ids))
	for i, vec := range snap.vectors {
		results[i] = &Result{ID: snap.ids[i], Score: CosineSimilarity(query, vec)}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Size returns the number of vectors in the current snapshot.
func (s *FileStore) Size(ctx context.Context) (int, error) {
	if err := s.corrupted(); err != nil {
		return 0, err
	}
	return len(s.current.Load().ids), nil
}

// Close is a no-op; data is persisted on every Rebuild.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) corrupted() error {
	if err := s.openErr.Load(); err != nil {
		return *err
	}
	return nil
}

// File format: magic (8), dimensions (4), count (4), then per vector:
// idLen (4), id bytes, vector (dimensions*4 bytes). Little endian.
func (s *FileStore) writeFile(snap *snapshot) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create vector dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, s.collection+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	_, _ = w.Write(fileMagic)
	_ = binary.Write(w, binary.LittleEndian, uint32(s.dimensions))
	_ = binary.Write(w, binary.LittleEndian, uint32(len(snap.ids)))
	for i, id := range snap.ids {
		_ = binary.Write(w, binary.LittleEndian, uint32(len(id)))
		_, _ = w.WriteString(id)
		_, _ = w.Write(float32SliceToBytes(snap.vectors[i]))
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write vectors: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path()); err != nil {
		return fmt.Errorf("replace collection file: %w", err)
	}
	return nil
}

func (s *FileStore) readFile() (*snapshot, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &snapshot{}, nil
		}
		return nil, fmt.Errorf("open collection file: %w", err)
	}
	r := bytes.NewReader(data)
	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil || !bytes.Equal(magic, fileMagic) {
		return nil, fmt.Errorf("%s: bad header: %w", s.Path(), models.ErrIndexCorrupted)
	}
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("%s: read dimensions: %w", s.Path(), models.ErrIndexCorrupted)
	}
	if int(dim) != s.dimensions {
		return nil, fmt.Errorf("%s: file has %d dimensions, store expects %d: %w", s.Path(), dim, s.dimensions, models.ErrIndexCorrupted)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%s: read count: %w", s.Path(), models.ErrIndexCorrupted)
	}
	snap := &snapshot{}
	buf := make([]byte, s.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil || int(idLen) > r.Len() {
			return nil, fmt.Errorf("%s: entry %d: %w", s.Path(), i, models.ErrIndexCorrupted)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, fmt.Errorf("%s: entry %d id: %w", s.Path(), i, models.ErrIndexCorrupted)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%s: entry %d vector: %w", s.Path(), i, models.ErrIndexCorrupted)
		}
		snap.ids = append(snap.ids, string(idBytes))
		snap.vectors = append(snap.vectors, bytesToFloat32Slice(buf))
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%s: %d trailing bytes: %w", s.Path(), r.Len(), models.ErrIndexCorrupted)
	}
	return snap, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

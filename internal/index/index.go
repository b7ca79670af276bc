package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/raaihank/onnx-embedder/internal/embeddings"
)

// Hit is one search result.
type Hit struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Distance float32 `json:"distance"`
}

// Index is an in-memory HNSW graph over document vectors, keyed by id.
type Index struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[string]
	texts map[string]string
	dims  int
}

// New creates an empty index using cosine distance.
func New() *Index {
	g := hnsw.NewGraph[string]()
	g.Distance = hnsw.CosineDistance
	return &Index{
		graph: g,
		texts: make(map[string]string),
	}
}

// Add inserts or replaces documents. All vectors must share one width and
// must not be all zeros.
func (x *Index) Add(ids, texts []string, vectors [][]float32) error {
	if len(ids) != len(texts) || len(ids) != len(vectors) {
		return fmt.Errorf("%w: %d ids, %d texts, %d vectors",
			embeddings.ErrInvalidInput, len(ids), len(texts), len(vectors))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	dims := x.dims
	nodes := make([]hnsw.Node[string], 0, len(ids))
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty vector for %q", embeddings.ErrInvalidInput, ids[i])
		}
		if dims == 0 {
			dims = len(v)
		}
		if len(v) != dims {
			return fmt.Errorf("%w: %q has %d dims, index has %d",
				embeddings.ErrDimensionMismatch, ids[i], len(v), dims)
		}
		if isZero(v) {
			return fmt.Errorf("%w: %q", embeddings.ErrZeroVector, ids[i])
		}
		nodes = append(nodes, hnsw.MakeNode(ids[i], append([]float32(nil), v...)))
	}

	x.graph.Add(nodes...)
	for i, id := range ids {
		x.texts[id] = texts[i]
	}
	x.dims = dims
	return nil
}

// Search returns up to k documents nearest to vector, closest first.
func (x *Index) Search(vector []float32, k int) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if k <= 0 || x.graph.Len() == 0 {
		return []Hit{}, nil
	}
	if len(vector) != x.dims {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d",
			embeddings.ErrDimensionMismatch, len(vector), x.dims)
	}
	if isZero(vector) {
		return nil, embeddings.ErrZeroVector
	}

	neighbors := x.graph.Search(vector, k)
	hits := make([]Hit, 0, len(neighbors))
	for _, n := range neighbors {
		d, err := embeddings.CosineDistance(vector, n.Value)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{ID: n.Key, Text: x.texts[n.Key], Distance: d})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	return hits, nil
}

// Len returns the number of indexed documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.graph.Len()
}

// Dims returns the vector width, or 0 while the index is empty.
func (x *Index) Dims() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dims
}

func isZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

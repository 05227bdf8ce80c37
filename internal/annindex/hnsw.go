package annindex

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"

	"github.com/kryonlabs/vectordb/internal/vectormath"
)

const (
	defaultM              = 16
	defaultEfConstruction = 200
	defaultEfSearch       = 100
	defaultMLevel         = 1.0
)

// hnswNode is the payload for element n at every layer 0..level: its
// own level and, per layer, the adjacency list at that layer.
type hnswNode struct {
	id        int
	level     int
	neighbors [][]int // neighbors[l] are n's neighbors at layer l, l in [0, level]
}

// HNSW is a layered proximity graph for approximate nearest-neighbor
// search over L2 distance. Build is a one-shot operation; the graph is
// immutable once built (§3 Lifecycle) — later chunk mutations are only
// reflected by a subsequent rebuild.
type HNSW struct {
	m              int
	efConstruction int
	efSearch       int
	mLevel         float64

	vectors [][]float32
	dims    int
	arena   []*hnswNode

	hasEntry   bool
	entryID    int
	entryLevel int

	built bool
}

// NewHNSW returns an empty, unbuilt HNSW index.
func NewHNSW() *HNSW {
	return &HNSW{
		m:              defaultM,
		efConstruction: defaultEfConstruction,
		efSearch:       defaultEfSearch,
		mLevel:         defaultMLevel,
	}
}

// Build constructs the graph from vectors, processed in ascending
// vector_index order, per spec.md §4.4.
func (h *HNSW) Build(vectors [][]float32, params BuildParams) error {
	h.m = orDefault(params.M, defaultM)
	h.efConstruction = orDefault(params.EfConstruction, defaultEfConstruction)
	h.efSearch = orDefault(params.EfSearch, defaultEfSearch)
	h.mLevel = params.MLevel
	if h.mLevel <= 0 {
		h.mLevel = defaultMLevel
	}

	h.vectors = vectors
	h.arena = make([]*hnswNode, len(vectors))
	h.hasEntry = false
	h.dims = 0

	if len(vectors) == 0 {
		h.built = true
		return nil
	}

	h.dims = len(vectors[0])
	for _, v := range vectors {
		if len(v) != h.dims {
			return ErrDimensionMismatch
		}
	}

	var seed int64 = 1
	if params.Seed != nil {
		seed = *params.Seed
	}
	rng := rand.New(rand.NewSource(seed))

	for i, vec := range vectors {
		level := randomLevel(rng, h.mLevel)
		node := &hnswNode{id: i, level: level, neighbors: make([][]int, level+1)}
		for l := range node.neighbors {
			node.neighbors[l] = nil
		}
		h.arena[i] = node

		if !h.hasEntry {
			h.hasEntry = true
			h.entryID = i
			h.entryLevel = level
			continue
		}

		cur := h.entryID
		for l := h.entryLevel; l > level; l-- {
			cur = h.greedyWalk(vec, cur, l)
		}

		start := level
		if h.entryLevel < start {
			start = h.entryLevel
		}
		for l := start; l >= 0; l-- {
			candidates := h.searchLevel(vec, cur, l, h.efConstruction)

			connect := h.m
			if len(candidates) < connect {
				connect = len(candidates)
			}
			neighborIDs := make([]int, connect)
			for idx := 0; idx < connect; idx++ {
				neighborIDs[idx] = candidates[idx].id
			}
			node.neighbors[l] = neighborIDs

			for _, nbID := range neighborIDs {
				nbNode := h.arena[nbID]
				if nbNode.level < l {
					continue
				}
				nbNode.neighbors[l] = append(nbNode.neighbors[l], i)
				if len(nbNode.neighbors[l]) > h.m {
					h.pruneNeighbors(nbNode, l)
				}
			}

			if len(candidates) > 0 {
				cur = candidates[0].id
			}
		}

		if level > h.entryLevel {
			h.entryID = i
			h.entryLevel = level
		}
	}

	h.built = true
	return nil
}

// randomLevel draws L = floor(-ln(U) * mL) for U ~ Uniform(0,1).
func randomLevel(rng *rand.Rand, mLevel float64) int {
	u := rng.Float64()
	// Avoid log(0); Float64 returns [0,1) so this is the only edge case.
	if u == 0 {
		u = 1e-300
	}
	return int(-math.Log(u) * mLevel)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// greedyWalk performs a breadth-1 nearest-neighbor walk at layer from
// entry, used to zoom in through the upper layers before the
// ef-bounded search at the target layer.
func (h *HNSW) greedyWalk(query []float32, entry, layer int) int {
	current := entry
	currentDist, _ := vectormath.L2(query, h.vectors[current])

	for {
		changed := false
		node := h.arena[current]
		if layer > node.level {
			break
		}
		for _, nb := range node.neighbors[layer] {
			d, _ := vectormath.L2(query, h.vectors[nb])
			if d < currentDist {
				current, currentDist, changed = nb, d, true
			}
		}
		if !changed {
			break
		}
	}
	return current
}

type hnswCandidate struct {
	id   int
	dist float64
}

// candidateHeap is a min-heap over distance, used as the expansion
// frontier in searchLevel.
type candidateHeap []hnswCandidate

func (c candidateHeap) Len() int { return len(c) }
func (c candidateHeap) Less(i, j int) bool {
	if c[i].dist != c[j].dist {
		return c[i].dist < c[j].dist
	}
	return c[i].id < c[j].id
}
func (c candidateHeap) Swap(i, j int)       { c[i], c[j] = c[j], c[i] }
func (c *candidateHeap) Push(x interface{}) { *c = append(*c, x.(hnswCandidate)) }
func (c *candidateHeap) Pop() interface{} {
	old := *c
	n := len(old)
	x := old[n-1]
	*c = old[:n-1]
	return x
}

// searchLevel is the best-first expansion from spec.md §4.4: it
// exhausts the candidate heap rather than early-exiting on a
// worst-candidate comparison, matching the reference implementation's
// observable behavior (§9 design note).
func (h *HNSW) searchLevel(query []float32, entry, layer, ef int) []hnswCandidate {
	entryNode := h.arena[entry]
	if layer > entryNode.level {
		return nil
	}

	visited := map[int]bool{entry: true}
	entryDist, _ := vectormath.L2(query, h.vectors[entry])

	candidates := &candidateHeap{{id: entry, dist: entryDist}}
	heap.Init(candidates)

	var results []hnswCandidate

	for candidates.Len() > 0 {
		cur := heap.Pop(candidates).(hnswCandidate)

		rMax := math.Inf(1)
		if len(results) >= ef {
			rMax = results[len(results)-1].dist
		}
		if len(results) == 0 || cur.dist < rMax {
			results = append(results, cur)
			sort.Slice(results, func(i, j int) bool {
				if results[i].dist != results[j].dist {
					return results[i].dist < results[j].dist
				}
				return results[i].id < results[j].id
			})
			if len(results) > ef {
				results = results[:ef]
			}
		}

		curNode := h.arena[cur.id]
		if layer <= curNode.level {
			for _, nb := range curNode.neighbors[layer] {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				d, _ := vectormath.L2(query, h.vectors[nb])
				heap.Push(candidates, hnswCandidate{id: nb, dist: d})
			}
		}
	}

	return results
}

// pruneNeighbors keeps node's M nearest neighbors at layer, dropping
// the rest unilaterally: the dropped neighbor's own adjacency is left
// untouched, which can break bidirectionality by design (§3 invariant 3).
func (h *HNSW) pruneNeighbors(node *hnswNode, layer int) {
	nbs := node.neighbors[layer]
	type scored struct {
		id   int
		dist float64
	}
	arr := make([]scored, len(nbs))
	for i, nb := range nbs {
		d, _ := vectormath.L2(h.vectors[node.id], h.vectors[nb])
		arr[i] = scored{nb, d}
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist != arr[j].dist {
			return arr[i].dist < arr[j].dist
		}
		return arr[i].id < arr[j].id
	})
	if len(arr) > h.m {
		arr = arr[:h.m]
	}
	kept := make([]int, len(arr))
	for i, a := range arr {
		kept[i] = a.id
	}
	node.neighbors[layer] = kept
}

// Search descends from the entry point through the upper layers with
// a breadth-1 walk, then runs the ef-bounded search at layer 0.
func (h *HNSW) Search(query []float32, k int) ([]SearchResult, error) {
	if !h.built {
		return nil, ErrNotBuilt
	}
	if len(h.vectors) == 0 {
		return []SearchResult{}, nil
	}
	if len(query) != h.dims {
		return nil, ErrDimensionMismatch
	}
	if !h.hasEntry {
		return []SearchResult{}, nil
	}

	cur := h.entryID
	for l := h.entryLevel; l > 0; l-- {
		cur = h.greedyWalk(query, cur, l)
	}

	candidates := h.searchLevel(query, cur, 0, h.efSearch)
	if k < len(candidates) {
		candidates = candidates[:k]
	}

	results := make([]SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = SearchResult{Index: c.id, Distance: c.dist}
	}
	return results, nil
}

// Info reports HNSW's introspection fields, including its tunables and
// current layer count.
func (h *HNSW) Info() Info {
	layers := 0
	if h.hasEntry {
		layers = h.entryLevel + 1
	}
	return Info{
		Kind:        KindHNSW,
		Built:       h.built,
		VectorCount: len(h.vectors),
		Dimensions:  h.dims,
		Extra: map[string]any{
			"m":               h.m,
			"ef_construction": h.efConstruction,
			"ef_search":       h.efSearch,
			"mL":              h.mLevel,
			"levels":          layers,
		},
	}
}

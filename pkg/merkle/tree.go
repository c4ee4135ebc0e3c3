package merkle

import (
	"bytes"
	"fmt"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Below this many hashes per pass the builder stays on the calling goroutine.
const defaultParallelThreshold = 1024

// StandardTree is an immutable, sorted, array-backed binary merkle tree.
//
// The node array has 2N-1 entries for N leaves. The root lives at index 0 and the
// children of node i live at 2i+1 and 2i+2. Leaf digests are sorted ascending and
// the i-th smallest is stored at index len(tree)-1-i, so the leaf slots are
// [N-1, 2N-2]. Every internal node has exactly two children; leaves sit on at most
// two adjacent depths and no node is ever promoted unpaired.
type StandardTree struct {
	format Format
	codec  *leafCodec
	tree   [][32]byte
	// values in leaf order: values[i] lives at tree index len(tree)-1-i
	values []LeafValue
}

// Entry is a committed value together with its position in the tree.
type Entry struct {
	// Index is the position in ascending leaf hash order.
	Index     int
	TreeIndex int
	Value     LeafValue
	Hash      [32]byte
}

type treeOptions struct {
	format            Format
	workers           int
	parallelThreshold int
	logger            *zap.Logger
}

// Option customizes tree construction.
type Option func(*treeOptions)

// WithFormat selects the hashing format. Defaults to FormatStandard.
func WithFormat(format Format) Option {
	return func(o *treeOptions) { o.format = format }
}

// WithWorkers bounds the goroutines used to hash a single pass. Values below 1 disable parallelism.
func WithWorkers(workers int) Option {
	return func(o *treeOptions) { o.workers = workers }
}

// WithParallelThreshold sets the minimum pass size that is hashed in parallel.
func WithParallelThreshold(n int) Option {
	return func(o *treeOptions) { o.parallelThreshold = n }
}

// WithLogger attaches a logger for build diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *treeOptions) { o.logger = l }
}

func buildOptions(opts []Option) *treeOptions {
	o := &treeOptions{
		format:            FormatStandard,
		workers:           runtime.GOMAXPROCS(0),
		parallelThreshold: defaultParallelThreshold,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

type hashedValue struct {
	value      LeafValue
	hash       [32]byte
	inputIndex int
}

// NewTree builds a tree committing to values under the given leaf encoding.
// The result depends only on the set of values, never on their order.
func NewTree(values []LeafValue, encoding []string, opts ...Option) (*StandardTree, error) {
	o := buildOptions(opts)
	if err := o.format.Validate(); err != nil {
		return nil, err
	}
	codec, err := newLeafCodec(encoding)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrEmptyTree
	}

	start := time.Now()
	hashed := make([]hashedValue, len(values))
	err = forEachChunk(len(values), o, func(from, to int) error {
		for i := from; i < to; i++ {
			normalized, err := codec.normalize(values[i])
			if err != nil {
				return err
			}
			payload, err := codec.encode(normalized)
			if err != nil {
				return err
			}
			hashed[i] = hashedValue{
				value:      normalized,
				hash:       hashLeafPayload(o.format, payload),
				inputIndex: i,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(hashed, func(i, j int) bool {
		return bytes.Compare(hashed[i].hash[:], hashed[j].hash[:]) < 0
	})
	for i := 1; i < len(hashed); i++ {
		if hashed[i-1].hash == hashed[i].hash {
			first, second := hashed[i-1].inputIndex, hashed[i].inputIndex
			if first > second {
				first, second = second, first
			}
			return nil, &DuplicateLeafError{Hash: hashed[i].hash, First: first, Second: second}
		}
	}

	leaves := make([][32]byte, len(hashed))
	sortedValues := make([]LeafValue, len(hashed))
	for i, hv := range hashed {
		leaves[i] = hv.hash
		sortedValues[i] = hv.value
	}

	nodes, err := makeTree(o, leaves)
	if err != nil {
		return nil, err
	}

	o.logger.Sugar().Debugw("Built merkle tree",
		"format", o.format,
		"leaves", len(leaves),
		"nodes", len(nodes),
		"root", HashHex(nodes[0]),
		"duration", time.Since(start),
	)

	return &StandardTree{
		format: o.format,
		codec:  codec,
		tree:   nodes,
		values: sortedValues,
	}, nil
}

// makeTree lays sorted leaves into the heap array and hashes internal nodes bottom up.
// Internal nodes at the same depth are independent and may be hashed in parallel;
// a depth is finished before the one above it starts.
func makeTree(o *treeOptions, leaves [][32]byte) ([][32]byte, error) {
	n := len(leaves)
	tree := make([][32]byte, 2*n-1)
	for i, leaf := range leaves {
		tree[len(tree)-1-i] = leaf
	}
	if n == 1 {
		return tree, nil
	}

	lastInternal := n - 2
	for depth := depthOf(lastInternal); depth >= 0; depth-- {
		from := (1 << depth) - 1
		to := (1 << (depth + 1)) - 1
		if to > lastInternal+1 {
			to = lastInternal + 1
		}
		err := forEachChunk(to-from, o, func(lo, hi int) error {
			for i := from + lo; i < from+hi; i++ {
				tree[i] = hashPair(o.format, tree[leftChild(i)], tree[rightChild(i)])
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return tree, nil
}

// forEachChunk splits [0, count) into contiguous chunks and runs fn over them,
// concurrently when the pass is large enough.
func forEachChunk(count int, o *treeOptions, fn func(from, to int) error) error {
	if o.workers <= 1 || count < o.parallelThreshold {
		return fn(0, count)
	}
	chunk := (count + o.workers - 1) / o.workers
	var eg errgroup.Group
	eg.SetLimit(o.workers)
	for from := 0; from < count; from += chunk {
		from := from
		to := from + chunk
		if to > count {
			to = count
		}
		eg.Go(func() error {
			return fn(from, to)
		})
	}
	return eg.Wait()
}

func depthOf(i int) int {
	d := 0
	for i > 0 {
		i = parent(i)
		d++
	}
	return d
}

func leftChild(i int) int  { return 2*i + 1 }
func rightChild(i int) int { return 2*i + 2 }
func parent(i int) int     { return (i - 1) / 2 }

func sibling(i int) int {
	if i%2 == 1 {
		return i + 1
	}
	return i - 1
}

// Root returns the digest committing to every leaf.
func (t *StandardTree) Root() [32]byte {
	return t.tree[0]
}

// RootHex returns Root as 0x-prefixed hex.
func (t *StandardTree) RootHex() string {
	return HashHex(t.tree[0])
}

// Format returns the hashing format the tree was built with.
func (t *StandardTree) Format() Format {
	return t.format
}

// LeafEncoding returns the canonical type tags of the leaf tuple.
func (t *StandardTree) LeafEncoding() []string {
	return append([]string{}, t.codec.tags...)
}

// Len returns the number of leaves.
func (t *StandardTree) Len() int {
	return len(t.values)
}

// Nodes returns a copy of the full node array.
func (t *StandardTree) Nodes() [][32]byte {
	return append([][32]byte{}, t.tree...)
}

func (t *StandardTree) treeIndex(leafIndex int) int {
	return len(t.tree) - 1 - leafIndex
}

// Entries returns every committed value in leaf order.
func (t *StandardTree) Entries() []Entry {
	out := make([]Entry, len(t.values))
	for i, v := range t.values {
		ti := t.treeIndex(i)
		out[i] = Entry{
			Index:     i,
			TreeIndex: ti,
			Value:     cloneValue(v),
			Hash:      t.tree[ti],
		}
	}
	return out
}

// At returns the value stored at the given leaf index.
func (t *StandardTree) At(leafIndex int) (LeafValue, error) {
	if leafIndex < 0 || leafIndex >= len(t.values) {
		return nil, fmt.Errorf("%w: leaf index %d out of range (tree has %d leaves)", ErrLeafNotFound, leafIndex, len(t.values))
	}
	return cloneValue(t.values[leafIndex]), nil
}

// Validate re-derives every internal node and leaf digest and checks the sort order.
func (t *StandardTree) Validate() error {
	return validateTree(t.format, t.codec, t.tree, t.values)
}

func validateTree(format Format, codec *leafCodec, tree [][32]byte, values []LeafValue) error {
	n := len(values)
	if n == 0 {
		return corruptf("tree has no leaves")
	}
	if len(tree) != 2*n-1 {
		return corruptf("tree has %d nodes, expected %d for %d leaves", len(tree), 2*n-1, n)
	}
	for i := 0; i < n-1; i++ {
		if expected := hashPair(format, tree[leftChild(i)], tree[rightChild(i)]); expected != tree[i] {
			return corruptf("node %d does not match the hash of its children", i)
		}
	}
	for i := 1; i < n; i++ {
		prev, cur := tree[len(tree)-i], tree[len(tree)-1-i]
		if bytes.Compare(prev[:], cur[:]) >= 0 {
			return corruptf("leaf at tree index %d is not in ascending hash order", len(tree)-1-i)
		}
	}
	for i, v := range values {
		payload, err := codec.encode(v)
		if err != nil {
			return err
		}
		ti := len(tree) - 1 - i
		if hashLeafPayload(format, payload) != tree[ti] {
			return corruptf("value for tree index %d does not match its leaf hash", ti)
		}
	}
	return nil
}

package merkle

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TreeDump is the persisted form of a StandardTree. Its JSON layout matches the
// OpenZeppelin StandardMerkleTree dump:
//
//	{"format": "standard-v1", "leafEncoding": ["address", "uint256"],
//	 "tree": ["0x..", ...], "values": [{"value": ["0x..", "100"], "treeIndex": 2}, ...]}
//
// Values are emitted in leaf order (ascending leaf hash, descending tree index).
type TreeDump struct {
	Format       Format      `json:"format"`
	LeafEncoding []string    `json:"leafEncoding"`
	Tree         []string    `json:"tree"`
	Values       []DumpValue `json:"values"`
}

// DumpValue is a committed value and the node array index of its leaf.
type DumpValue struct {
	Value     []interface{} `json:"value"`
	TreeIndex int           `json:"treeIndex"`
}

// Dump returns the persisted form of the tree.
func (t *StandardTree) Dump() *TreeDump {
	values := make([]DumpValue, len(t.values))
	for i, v := range t.values {
		values[i] = DumpValue{
			Value:     t.codec.format(v),
			TreeIndex: t.treeIndex(i),
		}
	}
	return &TreeDump{
		Format:       t.format,
		LeafEncoding: append([]string{}, t.codec.tags...),
		Tree:         HashesHex(t.tree),
		Values:       values,
	}
}

// Load reconstructs a tree from a dump. Every internal node, every leaf digest
// and the leaf sort order are re-derived; any disagreement fails the whole load
// with a CorruptDumpError.
func Load(d *TreeDump) (*StandardTree, error) {
	if d == nil {
		return nil, corruptf("dump is nil")
	}
	format := d.Format
	if format == "" {
		format = FormatStandard
	}
	if err := format.Validate(); err != nil {
		return nil, corruptf("%v", err)
	}
	codec, err := newLeafCodec(d.LeafEncoding)
	if err != nil {
		return nil, corruptf("%v", err)
	}

	n := len(d.Values)
	if n == 0 {
		return nil, corruptf("dump has no values")
	}
	if len(d.Tree) != 2*n-1 {
		return nil, corruptf("dump has %d nodes, expected %d for %d values", len(d.Tree), 2*n-1, n)
	}
	tree, err := ParseHashes(d.Tree)
	if err != nil {
		return nil, corruptf("%v", err)
	}

	values := make([]LeafValue, n)
	for i, dv := range d.Values {
		if dv.TreeIndex < n-1 || dv.TreeIndex > 2*n-2 {
			return nil, corruptf("value %d has tree index %d outside the leaf range [%d, %d]", i, dv.TreeIndex, n-1, 2*n-2)
		}
		leafIndex := len(tree) - 1 - dv.TreeIndex
		if values[leafIndex] != nil {
			return nil, corruptf("tree index %d is claimed by more than one value", dv.TreeIndex)
		}
		normalized, err := codec.normalize(dv.Value)
		if err != nil {
			return nil, corruptf("value %d: %v", i, err)
		}
		values[leafIndex] = normalized
	}

	if err := validateTree(format, codec, tree, values); err != nil {
		return nil, err
	}

	return &StandardTree{
		format: format,
		codec:  codec,
		tree:   tree,
		values: values,
	}, nil
}

// MarshalDump encodes a dump as indented JSON.
func MarshalDump(d *TreeDump) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("cannot marshal nil TreeDump")
	}
	return json.MarshalIndent(d, "", "  ")
}

// UnmarshalDump decodes a JSON dump. Numbers are kept as json.Number so large
// amounts written as bare JSON numbers keep their precision.
func UnmarshalDump(data []byte) (*TreeDump, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var d TreeDump
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tree dump: %w", err)
	}
	return &d, nil
}

// LoadJSON is UnmarshalDump followed by Load.
func LoadJSON(data []byte) (*StandardTree, error) {
	d, err := UnmarshalDump(data)
	if err != nil {
		return nil, corruptf("%v", err)
	}
	return Load(d)
}

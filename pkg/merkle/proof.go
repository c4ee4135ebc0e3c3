package merkle

import (
	"bytes"
	"fmt"
	"sort"
)

// LeafLookup returns the leaf index of value, found by binary search over the
// sorted leaf digests.
func (t *StandardTree) LeafLookup(value LeafValue) (int, error) {
	normalized, err := t.codec.normalize(value)
	if err != nil {
		return -1, err
	}
	payload, err := t.codec.encode(normalized)
	if err != nil {
		return -1, err
	}
	leaf := hashLeafPayload(t.format, payload)
	idx, ok := t.findLeaf(leaf)
	if !ok {
		return -1, &LeafNotFoundError{Hash: leaf}
	}
	return idx, nil
}

func (t *StandardTree) findLeaf(leaf [32]byte) (int, bool) {
	n := len(t.values)
	idx := sort.Search(n, func(i int) bool {
		h := t.tree[t.treeIndex(i)]
		return bytes.Compare(h[:], leaf[:]) >= 0
	})
	if idx < n && t.tree[t.treeIndex(idx)] == leaf {
		return idx, true
	}
	return -1, false
}

// GetProof returns the sibling path for value, ordered from the leaf up to but
// excluding the root.
func (t *StandardTree) GetProof(value LeafValue) ([][32]byte, error) {
	idx, err := t.LeafLookup(value)
	if err != nil {
		return nil, err
	}
	return t.GetProofByIndex(idx)
}

// GetProofByIndex returns the sibling path for the leaf at leafIndex.
func (t *StandardTree) GetProofByIndex(leafIndex int) ([][32]byte, error) {
	if leafIndex < 0 || leafIndex >= len(t.values) {
		return nil, fmt.Errorf("%w: leaf index %d out of range (tree has %d leaves)", ErrLeafNotFound, leafIndex, len(t.values))
	}
	return proofPath(t.tree, t.treeIndex(leafIndex)), nil
}

func proofPath(tree [][32]byte, index int) [][32]byte {
	proof := make([][32]byte, 0, depthOf(index))
	for index > 0 {
		proof = append(proof, tree[sibling(index)])
		index = parent(index)
	}
	return proof
}

// VerifyProof checks a proof for value against this tree's root.
func (t *StandardTree) VerifyProof(value LeafValue, proof [][32]byte) (bool, error) {
	return VerifyFormat(t.format, t.tree[0], t.codec.tags, value, proof)
}

// Verify reports whether proof reconstructs root for value under FormatStandard.
// It needs nothing but the root: no tree and no leaf set. A proof that does not
// reconstruct the root is a false result, not an error; an error means the value
// or encoding could not be encoded at all.
func Verify(root [32]byte, encoding []string, value LeafValue, proof [][32]byte) (bool, error) {
	return VerifyFormat(FormatStandard, root, encoding, value, proof)
}

// VerifyFormat is Verify for an explicit hashing format.
func VerifyFormat(format Format, root [32]byte, encoding []string, value LeafValue, proof [][32]byte) (bool, error) {
	leaf, err := LeafHash(format, encoding, value)
	if err != nil {
		return false, err
	}
	return ProcessProof(format, leaf, proof) == root, nil
}

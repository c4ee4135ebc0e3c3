package merkle

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var allocationEncoding = []string{"address", "uint256"}

// createTestValues creates n (address, amount) tuples with unique addresses
func createTestValues(n int) []LeafValue {
	values := make([]LeafValue, n)
	for i := 0; i < n; i++ {
		values[i] = LeafValue{
			common.BigToAddress(big.NewInt(int64(i + 1))), // Start from 1 to avoid the zero address
			big.NewInt(int64(1000 * (i + 1))),
		}
	}
	return values
}

// referenceLeafHash computes keccak256(keccak256(abi.encode(address, uint256))) by hand
func referenceLeafHash(addr common.Address, amount *big.Int) [32]byte {
	payload := append(common.LeftPadBytes(addr.Bytes(), 32), common.LeftPadBytes(amount.Bytes(), 32)...)
	inner := crypto.Keccak256(payload)
	return [32]byte(crypto.Keccak256Hash(inner))
}

// referenceNodeHash computes keccak256(min || max) by hand
func referenceNodeHash(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return [32]byte(crypto.Keccak256Hash(a[:], b[:]))
}

func shuffledCopy(values []LeafValue, seed int64) []LeafValue {
	out := make([]LeafValue, len(values))
	copy(out, values)
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// TestNewTree tests tree construction and proof round trips for various sizes
func TestNewTree(t *testing.T) {
	sizes := []int{1, 2, 3, 4, 5, 7, 8, 9, 15, 16, 17, 33}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("Leaves_%d", size), func(t *testing.T) {
			values := createTestValues(size)
			tree, err := NewTree(values, allocationEncoding)
			require.NoError(t, err)
			require.NotNil(t, tree)

			require.Equal(t, size, tree.Len())
			require.Len(t, tree.Nodes(), 2*size-1)
			require.NoError(t, tree.Validate())

			for _, v := range values {
				proof, err := tree.GetProof(v)
				require.NoError(t, err)

				valid, err := Verify(tree.Root(), allocationEncoding, v, proof)
				require.NoError(t, err)
				require.True(t, valid, "proof for %v should be valid", v)
			}
		})
	}
}

// TestNewTree_Empty tests that building from an empty set fails
func TestNewTree_Empty(t *testing.T) {
	tree, err := NewTree([]LeafValue{}, allocationEncoding)
	require.Error(t, err)
	require.Nil(t, tree)
	require.True(t, errors.Is(err, ErrEmptyTree))
}

// TestNewTree_Singleton tests that a single leaf is its own root
func TestNewTree_Singleton(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	amount := big.NewInt(42)

	tree, err := NewTree([]LeafValue{{addr, amount}}, allocationEncoding)
	require.NoError(t, err)

	leaf, err := StandardLeafHash(allocationEncoding, LeafValue{addr, amount})
	require.NoError(t, err)
	require.Equal(t, leaf, tree.Root())
	require.Equal(t, referenceLeafHash(addr, amount), tree.Root())

	proof, err := tree.GetProof(LeafValue{addr, amount})
	require.NoError(t, err)
	require.Empty(t, proof)

	valid, err := Verify(tree.Root(), allocationEncoding, LeafValue{addr, amount}, proof)
	require.NoError(t, err)
	require.True(t, valid)
}

// TestNewTree_Duplicate tests that duplicate tuples are rejected
func TestNewTree_Duplicate(t *testing.T) {
	values := createTestValues(4)
	values = append(values, LeafValue{values[1][0], big.NewInt(2000)})

	tree, err := NewTree(values, allocationEncoding)
	require.Error(t, err)
	require.Nil(t, tree)
	require.True(t, errors.Is(err, ErrDuplicateLeaf))

	var dupErr *DuplicateLeafError
	require.True(t, errors.As(err, &dupErr))
	require.Equal(t, 1, dupErr.First)
	require.Equal(t, 4, dupErr.Second)
}

// TestNewTree_SameAddressDifferentAmount tests that only identical tuples collide
func TestNewTree_SameAddressDifferentAmount(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tree, err := NewTree([]LeafValue{{addr, big.NewInt(1)}, {addr, big.NewInt(2)}}, allocationEncoding)
	require.NoError(t, err)
	require.Equal(t, 2, tree.Len())
}

// TestNewTree_InvalidValue tests that an unencodable value fails the whole build
func TestNewTree_InvalidValue(t *testing.T) {
	values := createTestValues(3)
	values = append(values, LeafValue{"0x1234", big.NewInt(1)})

	tree, err := NewTree(values, allocationEncoding)
	require.Error(t, err)
	require.Nil(t, tree)
	require.True(t, errors.Is(err, ErrEncoding))
}

// TestNewTree_UnknownFormat tests that unsupported formats are rejected
func TestNewTree_UnknownFormat(t *testing.T) {
	_, err := NewTree(createTestValues(2), allocationEncoding, WithFormat("simple-v9"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported tree format")
}

// TestTwoLeafScenario walks through the two leaf example end to end
func TestTwoLeafScenario(t *testing.T) {
	addrA := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa01")
	addrB := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb02")
	valueA := LeafValue{addrA, big.NewInt(100)}
	valueB := LeafValue{addrB, big.NewInt(250)}

	tree, err := NewTree([]LeafValue{valueA, valueB}, allocationEncoding)
	require.NoError(t, err)

	leafA := referenceLeafHash(addrA, big.NewInt(100))
	leafB := referenceLeafHash(addrB, big.NewInt(250))
	require.Equal(t, referenceNodeHash(leafA, leafB), tree.Root())

	proof, err := tree.GetProof(valueA)
	require.NoError(t, err)
	require.Equal(t, [][32]byte{leafB}, proof)

	valid, err := Verify(tree.Root(), allocationEncoding, valueA, proof)
	require.NoError(t, err)
	require.True(t, valid)

	valid, err = Verify(tree.Root(), allocationEncoding, LeafValue{addrA, big.NewInt(99)}, proof)
	require.NoError(t, err)
	require.False(t, valid)
}

// TestOpenZeppelinVector checks the root against the OpenZeppelin StandardMerkleTree README example
func TestOpenZeppelinVector(t *testing.T) {
	values := []LeafValue{
		{"0x1111111111111111111111111111111111111111", "5000000000000000000"},
		{"0x2222222222222222222222222222222222222222", "2500000000000000000"},
	}

	tree, err := NewTree(values, allocationEncoding)
	require.NoError(t, err)
	require.Equal(t, "0xd4dee0beab2d53f2cc83e567171bd2820e49898130a22622b10ead383e90bd77", tree.RootHex())
}

// TestReferenceConstruction compares the node array with an independent heap construction
func TestReferenceConstruction(t *testing.T) {
	for _, size := range []int{2, 3, 5, 6, 11} {
		t.Run(fmt.Sprintf("Leaves_%d", size), func(t *testing.T) {
			values := createTestValues(size)

			leaves := make([][32]byte, size)
			for i, v := range values {
				leaves[i] = referenceLeafHash(v[0].(common.Address), v[1].(*big.Int))
			}
			// sort ascending
			for i := 1; i < len(leaves); i++ {
				for j := i; j > 0 && bytes.Compare(leaves[j-1][:], leaves[j][:]) > 0; j-- {
					leaves[j-1], leaves[j] = leaves[j], leaves[j-1]
				}
			}
			expected := make([][32]byte, 2*size-1)
			for i, leaf := range leaves {
				expected[len(expected)-1-i] = leaf
			}
			for i := len(expected) - 1 - size; i >= 0; i-- {
				expected[i] = referenceNodeHash(expected[2*i+1], expected[2*i+2])
			}

			tree, err := NewTree(values, allocationEncoding)
			require.NoError(t, err)
			require.Equal(t, expected, tree.Nodes())
		})
	}
}

// TestTreeDeterminism tests that input order never affects the tree
func TestTreeDeterminism(t *testing.T) {
	values := createTestValues(25)

	tree1, err := NewTree(values, allocationEncoding)
	require.NoError(t, err)

	for seed := int64(1); seed <= 5; seed++ {
		tree2, err := NewTree(shuffledCopy(values, seed), allocationEncoding)
		require.NoError(t, err)
		require.Equal(t, tree1.Root(), tree2.Root())
		require.Equal(t, tree1.Nodes(), tree2.Nodes())
	}
}

// TestParallelMatchesSequential tests that parallel hashing produces an identical tree
func TestParallelMatchesSequential(t *testing.T) {
	values := createTestValues(3001)

	sequential, err := NewTree(values, allocationEncoding, WithWorkers(1))
	require.NoError(t, err)

	parallel, err := NewTree(values, allocationEncoding, WithWorkers(8), WithParallelThreshold(16))
	require.NoError(t, err)

	require.Equal(t, sequential.Nodes(), parallel.Nodes())
	require.NoError(t, parallel.Validate())
}

// TestGetProof_NotFound tests proof requests for uncommitted values
func TestGetProof_NotFound(t *testing.T) {
	tree, err := NewTree(createTestValues(8), allocationEncoding)
	require.NoError(t, err)

	proof, err := tree.GetProof(LeafValue{common.HexToAddress("0xdead"), big.NewInt(1)})
	require.Error(t, err)
	require.Nil(t, proof)
	require.True(t, errors.Is(err, ErrLeafNotFound))

	var nf *LeafNotFoundError
	require.True(t, errors.As(err, &nf))

	// right address, wrong amount
	_, err = tree.GetProof(LeafValue{common.BigToAddress(big.NewInt(1)), big.NewInt(999)})
	require.True(t, errors.Is(err, ErrLeafNotFound))
}

// TestGetProofByIndex tests proof generation by leaf index
func TestGetProofByIndex(t *testing.T) {
	tree, err := NewTree(createTestValues(6), allocationEncoding)
	require.NoError(t, err)

	for _, e := range tree.Entries() {
		proof, err := tree.GetProofByIndex(e.Index)
		require.NoError(t, err)
		require.Equal(t, tree.Root(), ProcessProof(FormatStandard, e.Hash, proof))

		byValue, err := tree.GetProof(e.Value)
		require.NoError(t, err)
		require.Equal(t, proof, byValue)
	}

	t.Run("Negative index", func(t *testing.T) {
		_, err := tree.GetProofByIndex(-1)
		require.True(t, errors.Is(err, ErrLeafNotFound))
	})

	t.Run("Index out of bounds", func(t *testing.T) {
		_, err := tree.GetProofByIndex(6)
		require.True(t, errors.Is(err, ErrLeafNotFound))
	})
}

// TestProofLength tests that proof length matches the leaf depth
func TestProofLength(t *testing.T) {
	testCases := []struct {
		numLeaves int
		minLen    int
		maxLen    int
	}{
		{1, 0, 0},
		{2, 1, 1},
		{4, 2, 2},
		{5, 2, 3},
		{8, 3, 3},
		{100, 6, 7},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%d_leaves", tc.numLeaves), func(t *testing.T) {
			tree, err := NewTree(createTestValues(tc.numLeaves), allocationEncoding)
			require.NoError(t, err)

			for i := 0; i < tree.Len(); i++ {
				proof, err := tree.GetProofByIndex(i)
				require.NoError(t, err)
				require.GreaterOrEqual(t, len(proof), tc.minLen)
				require.LessOrEqual(t, len(proof), tc.maxLen)
			}
		})
	}
}

// TestVerify_Soundness tests that any single bit flip breaks verification
func TestVerify_Soundness(t *testing.T) {
	values := createTestValues(9)
	tree, err := NewTree(values, allocationEncoding)
	require.NoError(t, err)

	target := values[3]
	proof, err := tree.GetProof(target)
	require.NoError(t, err)
	require.NotEmpty(t, proof)

	t.Run("Tampered sibling", func(t *testing.T) {
		for i := range proof {
			for bit := 0; bit < 256; bit += 37 {
				tampered := append([][32]byte{}, proof...)
				tampered[i][bit/8] ^= 1 << (bit % 8)

				valid, err := Verify(tree.Root(), allocationEncoding, target, tampered)
				require.NoError(t, err)
				require.False(t, valid)
			}
		}
	})

	t.Run("Tampered amount", func(t *testing.T) {
		amount := target[1].(*big.Int)
		for bit := 0; bit < 64; bit++ {
			flipped := new(big.Int).Xor(amount, new(big.Int).Lsh(big.NewInt(1), uint(bit)))
			valid, err := Verify(tree.Root(), allocationEncoding, LeafValue{target[0], flipped}, proof)
			require.NoError(t, err)
			require.False(t, valid)
		}
	})

	t.Run("Wrong root", func(t *testing.T) {
		root := tree.Root()
		root[31] ^= 0x01
		valid, err := Verify(root, allocationEncoding, target, proof)
		require.NoError(t, err)
		require.False(t, valid)
	})

	t.Run("Truncated proof", func(t *testing.T) {
		valid, err := Verify(tree.Root(), allocationEncoding, target, proof[:len(proof)-1])
		require.NoError(t, err)
		require.False(t, valid)
	})

	t.Run("Malformed value", func(t *testing.T) {
		valid, err := Verify(tree.Root(), allocationEncoding, LeafValue{"not-an-address", big.NewInt(1)}, proof)
		require.Error(t, err)
		require.False(t, valid)
	})
}

// TestVerifyProof_TreeMethod tests the convenience verification on the tree itself
func TestVerifyProof_TreeMethod(t *testing.T) {
	values := createTestValues(4)
	tree, err := NewTree(values, allocationEncoding)
	require.NoError(t, err)

	proof, err := tree.GetProof(values[0])
	require.NoError(t, err)

	valid, err := tree.VerifyProof(values[0], proof)
	require.NoError(t, err)
	require.True(t, valid)

	valid, err = tree.VerifyProof(values[1], proof)
	require.NoError(t, err)
	require.False(t, valid)
}

// TestTaggedFormat tests the explicitly domain-tagged hashing format
func TestTaggedFormat(t *testing.T) {
	values := createTestValues(7)

	standard, err := NewTree(values, allocationEncoding)
	require.NoError(t, err)
	tagged, err := NewTree(values, allocationEncoding, WithFormat(FormatTagged))
	require.NoError(t, err)

	require.Equal(t, FormatTagged, tagged.Format())
	require.NotEqual(t, standard.Root(), tagged.Root())
	require.NoError(t, tagged.Validate())

	for _, v := range values {
		proof, err := tagged.GetProof(v)
		require.NoError(t, err)

		valid, err := VerifyFormat(FormatTagged, tagged.Root(), allocationEncoding, v, proof)
		require.NoError(t, err)
		require.True(t, valid)

		valid, err = Verify(tagged.Root(), allocationEncoding, v, proof)
		require.NoError(t, err)
		require.False(t, valid)
	}
}

// TestEntries tests that entries come back in ascending leaf hash order
func TestEntries(t *testing.T) {
	tree, err := NewTree(createTestValues(10), allocationEncoding)
	require.NoError(t, err)

	entries := tree.Entries()
	require.Len(t, entries, 10)
	for i, e := range entries {
		require.Equal(t, i, e.Index)
		require.Equal(t, len(tree.Nodes())-1-i, e.TreeIndex)
		if i > 0 {
			require.Equal(t, -1, bytes.Compare(entries[i-1].Hash[:], e.Hash[:]))
		}

		idx, err := tree.LeafLookup(e.Value)
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}

	// Mutating a returned entry must not affect the tree
	entries[0].Value[1].(*big.Int).SetInt64(-5)
	require.NoError(t, tree.Validate())
}

// TestRender tests the debug rendering of a small tree
func TestRender(t *testing.T) {
	tree, err := NewTree(createTestValues(3), allocationEncoding)
	require.NoError(t, err)

	nodes := tree.Nodes()
	expected := fmt.Sprintf("0) %s\n├─ 1) %s\n│  ├─ 3) %s\n│  └─ 4) %s\n└─ 2) %s\n",
		HashHex(nodes[0]), HashHex(nodes[1]), HashHex(nodes[3]), HashHex(nodes[4]), HashHex(nodes[2]))
	require.Equal(t, expected, tree.Render())
}

package merkle

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func FuzzBuildProveVerify(f *testing.F) {
	f.Add([]byte{1, 2, 3}, uint64(100))
	f.Add([]byte{0xff}, uint64(0))
	f.Add([]byte("some longer seed material for many leaves"), uint64(1<<40))

	f.Fuzz(func(t *testing.T, seed []byte, base uint64) {
		// Keep trees small for fuzzing.
		if len(seed) == 0 || len(seed) > 64 {
			return
		}

		seen := make(map[byte]bool)
		values := make([]LeafValue, 0, len(seed))
		for i, b := range seed {
			if seen[b] {
				continue
			}
			seen[b] = true
			amount := new(big.Int).Add(new(big.Int).SetUint64(base), big.NewInt(int64(i)))
			values = append(values, LeafValue{common.BytesToAddress([]byte{b, 0x01}), amount})
		}

		tree, err := NewTree(values, allocationEncoding)
		require.NoError(t, err)

		loaded, err := Load(tree.Dump())
		require.NoError(t, err)
		require.Equal(t, tree.Nodes(), loaded.Nodes())

		for _, v := range values {
			proof, err := loaded.GetProof(v)
			require.NoError(t, err)

			valid, err := Verify(tree.Root(), allocationEncoding, v, proof)
			require.NoError(t, err)
			require.True(t, valid)
		}
	})
}

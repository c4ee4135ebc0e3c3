package testutil

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/merkle"
	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// CreateTestAllocations creates n distinct allocations with deterministic addresses
// derived from the index, and amounts of (i+1) * 10^18.
func CreateTestAllocations(n int) []types.Allocation {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	out := make([]types.Allocation, n)
	for i := 0; i < n; i++ {
		seed := crypto.Keccak256([]byte(fmt.Sprintf("allocation-%d", i)))
		out[i] = types.Allocation{
			Address: common.BytesToAddress(seed[12:]),
			Amount:  new(big.Int).Mul(big.NewInt(int64(i+1)), unit),
		}
	}
	return out
}

// AllocationValues converts allocations into leaf values.
func AllocationValues(allocs []types.Allocation) []merkle.LeafValue {
	values := make([]merkle.LeafValue, len(allocs))
	for i, a := range allocs {
		values[i] = a.Tuple()
	}
	return values
}

// CreateTestTree builds a standard tree over n test allocations.
func CreateTestTree(t *testing.T, n int, opts ...merkle.Option) *merkle.StandardTree {
	t.Helper()
	tree, err := merkle.NewTree(AllocationValues(CreateTestAllocations(n)), types.AllocationLeafEncoding, opts...)
	require.NoError(t, err)
	return tree
}

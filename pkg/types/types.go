package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AllocationLeafEncoding is the leaf tuple committed for every allocation.
var AllocationLeafEncoding = []string{"address", "uint256"}

// Allocation is one account's final aggregated token allocation in base units.
type Allocation struct {
	Address common.Address
	Amount  *big.Int
}

// Tuple returns the allocation in leaf order (address, amount).
func (a *Allocation) Tuple() []interface{} {
	return []interface{}{a.Address, new(big.Int).Set(a.Amount)}
}

// MarshalJSON encodes the allocation as ["0xChecksumAddress", "amount"].
func (a Allocation) MarshalJSON() ([]byte, error) {
	if a.Amount == nil {
		return nil, fmt.Errorf("allocation for %s has nil amount", a.Address.Hex())
	}
	return json.Marshal([2]string{a.Address.Hex(), a.Amount.String()})
}

// UnmarshalJSON decodes ["0xAddress", "amount"]. The amount may be a string or a bare integer.
func (a *Allocation) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("allocation must be an [address, amount] pair: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("allocation must have 2 elements, got %d", len(raw))
	}

	var addr string
	if err := json.Unmarshal(raw[0], &addr); err != nil {
		return fmt.Errorf("invalid allocation address: %w", err)
	}
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("invalid allocation address %q", addr)
	}

	amountStr := strings.Trim(strings.TrimSpace(string(raw[1])), `"`)
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return fmt.Errorf("invalid allocation amount %s", string(raw[1]))
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative allocation amount %s", amount.String())
	}

	a.Address = common.HexToAddress(addr)
	a.Amount = amount
	return nil
}

// EligibilityCriteria maps category -> group -> whether the account qualified.
type EligibilityCriteria map[string]map[string]bool

// EligibilityRecord is the eligibility criteria of a single checksummed address.
type EligibilityRecord map[string]EligibilityCriteria

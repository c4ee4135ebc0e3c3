package allocations

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strings"

	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/config"
	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

const (
	columnAddress = "address"
	columnTotal   = "total"
)

// Record is one address's allocation broken down by category and group, in whole
// token units. Amounts are exact rationals so decimal sheets never lose precision.
type Record struct {
	Address    string
	Categories map[string]map[string]*big.Rat
	Total      *big.Rat
}

func newRecord(address string) *Record {
	return &Record{
		Address:    address,
		Categories: make(map[string]map[string]*big.Rat),
		Total:      new(big.Rat),
	}
}

func (r *Record) set(category, group string, amount *big.Rat) {
	groups, ok := r.Categories[category]
	if !ok {
		groups = make(map[string]*big.Rat)
		r.Categories[category] = groups
	}
	groups[group] = amount
}

// Processor turns the raw airdrop sheets into the final allocation list.
type Processor struct {
	categories          []config.CategoryConfig
	regularDistribution string
	decimals            int
	logger              *zap.Logger

	records []*Record
	// upper-cased address -> index into records
	index map[string]int
}

// NewProcessor creates a processor for the category layout in cfg.
func NewProcessor(cfg *config.AirdropConfig, logger *zap.Logger) *Processor {
	return &Processor{
		categories:          cfg.Categories,
		regularDistribution: cfg.RegularDistributionPrefix,
		decimals:            cfg.TokenDecimals,
		logger:              logger,
		index:               make(map[string]int),
	}
}

// Records returns the current records in ingestion order.
func (p *Processor) Records() []*Record {
	return p.records
}

func (p *Processor) categoryFor(column string) (string, bool) {
	best := ""
	bestLen := -1
	for _, c := range p.categories {
		if (column == c.Prefix || strings.HasPrefix(column, c.Prefix+"-")) && len(c.Prefix) > bestLen {
			best, bestLen = c.Name, len(c.Prefix)
		}
	}
	return best, bestLen >= 0
}

func (p *Processor) emptyRecord(address string) *Record {
	rec := newRecord(address)
	for _, c := range p.categories {
		for _, g := range c.Groups {
			rec.set(c.Name, g, new(big.Rat))
		}
	}
	return rec
}

// ReadRawAirdropData ingests the main sheet: an address column, one column per
// category group and a total column. Repeated addresses are rejected.
func (p *Processor) ReadRawAirdropData(r io.Reader) error {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read raw airdrop header: %w", err)
	}
	if len(header) < 2 || !strings.EqualFold(strings.TrimSpace(header[0]), columnAddress) {
		return fmt.Errorf("raw airdrop sheet must start with an %q column", columnAddress)
	}

	type column struct {
		category string
		group    string
		total    bool
	}
	columns := make([]column, len(header))
	hasTotal := false
	for i := 1; i < len(header); i++ {
		name := strings.TrimSpace(header[i])
		if strings.EqualFold(name, columnTotal) {
			columns[i] = column{total: true}
			hasTotal = true
			continue
		}
		category, ok := p.categoryFor(name)
		if !ok {
			return fmt.Errorf("column %q does not belong to any configured category", name)
		}
		columns[i] = column{category: category, group: name}
	}

	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read raw airdrop row %d: %w", line+1, err)
		}
		line++

		address := strings.TrimSpace(row[0])
		key := strings.ToUpper(address)
		if _, exists := p.index[key]; exists {
			return fmt.Errorf("row %d: address %s appears more than once", line, address)
		}

		rec := p.emptyRecord(address)
		sum := new(big.Rat)
		for i := 1; i < len(row); i++ {
			amount, err := ParseTokenAmount(row[i])
			if err != nil {
				return fmt.Errorf("row %d column %q: %w", line, header[i], err)
			}
			if columns[i].total {
				rec.Total = amount
				continue
			}
			rec.set(columns[i].category, columns[i].group, amount)
			sum.Add(sum, amount)
		}
		if !hasTotal {
			rec.Total = sum
		}

		p.index[key] = len(p.records)
		p.records = append(p.records, rec)
	}

	p.logger.Sugar().Infow("Processed raw airdrop data", "records", len(p.records))
	return nil
}

// MergeRegularDistribution ingests the regular distribution sheet: an address column,
// a label column, then one column per distribution group. Existing addresses
// (matched case-insensitively) get their regular distribution replaced and their
// total increased; unknown addresses are added with every other category zeroed.
func (p *Processor) MergeRegularDistribution(r io.Reader) error {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read regular distribution header: %w", err)
	}
	if len(header) < 3 || !strings.EqualFold(strings.TrimSpace(header[0]), columnAddress) {
		return fmt.Errorf("regular distribution sheet must have %q, label and group columns", columnAddress)
	}

	merged, added := 0, 0
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read regular distribution row %d: %w", line+1, err)
		}
		line++

		address := strings.TrimSpace(row[0])
		groups := make(map[string]*big.Rat, len(row)-2)
		sum := new(big.Rat)
		for i := 2; i < len(row); i++ {
			amount, err := ParseTokenAmount(row[i])
			if err != nil {
				return fmt.Errorf("row %d column %q: %w", line, header[i], err)
			}
			group := fmt.Sprintf("%s-%s", p.regularDistribution, strings.TrimSpace(header[i]))
			groups[group] = amount
			sum.Add(sum, amount)
		}

		key := strings.ToUpper(address)
		idx, exists := p.index[key]
		var rec *Record
		if exists {
			rec = p.records[idx]
			rec.Total = new(big.Rat).Add(rec.Total, sum)
			merged++
		} else {
			rec = p.emptyRecord(address)
			rec.Total = sum
			p.index[key] = len(p.records)
			p.records = append(p.records, rec)
			added++
		}
		rec.Categories[p.regularDistribution] = groups
	}

	p.logger.Sugar().Infow("Processed regular distribution data", "merged", merged, "added", added)
	return nil
}

// RemoveAddresses drops every record whose address is in the removal list.
// Matching ignores case. It returns the number of records removed.
func (p *Processor) RemoveAddresses(remove []string) int {
	drop := make(map[string]bool, len(remove))
	for _, a := range remove {
		drop[strings.ToUpper(strings.TrimSpace(a))] = true
	}

	kept := p.records[:0]
	removed := 0
	for _, rec := range p.records {
		if drop[strings.ToUpper(rec.Address)] {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	p.records = kept

	p.index = make(map[string]int, len(p.records))
	for i, rec := range p.records {
		p.index[strings.ToUpper(rec.Address)] = i
	}

	p.logger.Sugar().Infow("Removed screened addresses", "removed", removed, "remaining", len(p.records))
	return removed
}

// Addresses returns every record's address in ingestion order.
func (p *Processor) Addresses() []string {
	out := make([]string, len(p.records))
	for i, rec := range p.records {
		out[i] = rec.Address
	}
	return out
}

// Eligibility reports, per checksummed address, which groups it qualified for.
func (p *Processor) Eligibility() ([]types.EligibilityRecord, error) {
	out := make([]types.EligibilityRecord, 0, len(p.records))
	for _, rec := range p.records {
		addr, err := ChecksumAddress(rec.Address)
		if err != nil {
			return nil, err
		}
		criteria := make(types.EligibilityCriteria, len(rec.Categories))
		for category, groups := range rec.Categories {
			flags := make(map[string]bool, len(groups))
			for group, amount := range groups {
				flags[group] = amount.Sign() > 0
			}
			criteria[category] = flags
		}
		out = append(out, types.EligibilityRecord{addr: criteria})
	}
	return out, nil
}

// Allocations converts every record into a base-unit allocation. Addresses are
// checksummed, repeated addresses are summed, and zero allocations are dropped.
// The result is sorted by address.
func (p *Processor) Allocations() ([]types.Allocation, error) {
	byAddress := make(map[common.Address]*big.Int, len(p.records))
	zero := 0
	for _, rec := range p.records {
		if !common.IsHexAddress(rec.Address) {
			return nil, fmt.Errorf("invalid address %q", rec.Address)
		}
		addr := common.HexToAddress(rec.Address)

		amount, err := ToBaseUnits(rec.Total, p.decimals)
		if err != nil {
			return nil, fmt.Errorf("address %s: %w", addr.Hex(), err)
		}
		if existing, ok := byAddress[addr]; ok {
			amount = new(big.Int).Add(existing, amount)
		}
		if _, overflow := uint256.FromBig(amount); overflow {
			return nil, fmt.Errorf("address %s: allocation %s exceeds 2^256-1", addr.Hex(), amount.String())
		}
		byAddress[addr] = amount
	}

	out := make([]types.Allocation, 0, len(byAddress))
	for addr, amount := range byAddress {
		if amount.Sign() == 0 {
			zero++
			continue
		}
		out = append(out, types.Allocation{Address: addr, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})

	if zero > 0 {
		p.logger.Sugar().Warnw("Dropped zero allocations", "count", zero)
	}
	p.logger.Sugar().Infow("Calculated tokens per address", "allocations", len(out))
	return out, nil
}

// ChecksumAddress returns the EIP-55 form of a hex address.
func ChecksumAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address %q", address)
	}
	return common.HexToAddress(address).Hex(), nil
}

// ParseTokenAmount parses a decimal token amount such as "12.5" or "1e3".
// Empty cells are zero. Negative amounts and fractions like "1/3" are rejected.
func ParseTokenAmount(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Rat), nil
	}
	if strings.Contains(s, "/") {
		return nil, fmt.Errorf("invalid token amount %q", s)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid token amount %q", s)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("negative token amount %q", s)
	}
	return r, nil
}

// ToBaseUnits scales a token amount by 10^decimals. The result must be a whole number.
func ToBaseUnits(amount *big.Rat, decimals int) (*big.Int, error) {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(amount, new(big.Rat).SetInt(scale))
	if !scaled.IsInt() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount.FloatString(decimals+1), decimals)
	}
	return new(big.Int).Set(scaled.Num()), nil
}

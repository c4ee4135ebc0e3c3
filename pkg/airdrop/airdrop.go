package airdrop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sort"

	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/allocations"
	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/config"
	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/merkle"
	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/screening"
	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidProof is returned when a proofs artifact contains a claim that does not verify.
	ErrInvalidProof = errors.New("invalid proof")
	// ErrDuplicateAddress is returned when one address carries more than one allocation.
	// Claims are keyed by address, so a second leaf for it could never be claimed.
	ErrDuplicateAddress = errors.New("address allocated more than once")
	// ErrTotalMismatch is returned when verified claims do not add up to the allocated total.
	ErrTotalMismatch = errors.New("verified total does not match allocations")
	// ErrScreeningIncomplete is returned when some addresses could not be screened.
	ErrScreeningIncomplete = errors.New("screening incomplete")
)

// Service runs the airdrop pipeline: allocation processing, tree generation,
// proof export and verification.
type Service struct {
	cfg    *config.AirdropConfig
	store  persistence.IArtifactStore
	logger *zap.Logger
}

// NewService creates a pipeline service. store may be nil, in which case built
// trees are only written to the output directory.
func NewService(cfg *config.AirdropConfig, store persistence.IArtifactStore, logger *zap.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		logger: logger,
	}
}

// Artifacts are the outputs of one generation run.
type Artifacts struct {
	Tree   *merkle.StandardTree
	Root   *types.RootOutput
	Proofs types.ProofsOutput
	// Record is the stored tree, nil when no artifact store is configured.
	Record *persistence.TreeRecord
}

// PrepareAllocations runs the configured CSV inputs through the allocation pipeline:
// ingest the raw sheet, merge the regular distribution, drop screened addresses.
// Eligibility and allocation files are written to the output directory.
func (s *Service) PrepareAllocations(ctx context.Context) ([]types.Allocation, error) {
	p := allocations.NewProcessor(s.cfg, s.logger)

	if err := readFile(s.cfg.RawAirdropDataPath, p.ReadRawAirdropData); err != nil {
		return nil, err
	}
	if s.cfg.RegularDistributionDataPath != "" {
		if err := readFile(s.cfg.RegularDistributionDataPath, p.MergeRegularDistribution); err != nil {
			return nil, err
		}
	}
	if s.cfg.AddressesToRemovePath != "" {
		var remove []string
		if err := readJSON(s.cfg.AddressesToRemovePath, &remove); err != nil {
			return nil, err
		}
		p.RemoveAddresses(remove)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(s.cfg.SlugMap) > 0 {
		if err := s.writeJSON(config.DefaultSlugMapFileName, s.cfg.SlugMap); err != nil {
			return nil, err
		}
	}

	eligibility, err := p.Eligibility()
	if err != nil {
		return nil, err
	}
	if err := s.writeJSON(config.DefaultEligibilityFileName, eligibility); err != nil {
		return nil, err
	}

	allocs, err := p.Allocations()
	if err != nil {
		return nil, err
	}
	if err := s.writeJSON(config.DefaultAllocationsFileName, allocs); err != nil {
		return nil, err
	}
	return allocs, nil
}

// Screen checks every address of the configured inputs against the sanctions
// screener and writes the flagged ones to the removal list file. Addresses whose
// lookup failed are written to the failures file and the call returns
// ErrScreeningIncomplete along with the report.
func (s *Service) Screen(ctx context.Context, screener screening.IScreener) (*screening.Report, error) {
	p := allocations.NewProcessor(s.cfg, s.logger)
	if err := readFile(s.cfg.RawAirdropDataPath, p.ReadRawAirdropData); err != nil {
		return nil, err
	}
	if s.cfg.RegularDistributionDataPath != "" {
		if err := readFile(s.cfg.RegularDistributionDataPath, p.MergeRegularDistribution); err != nil {
			return nil, err
		}
	}

	report, err := screener.ScreenAddresses(ctx, p.Addresses())
	if err != nil {
		return report, err
	}
	if err := s.writeJSON(config.DefaultScreenedListFileName, report.Flagged); err != nil {
		return report, err
	}
	if len(report.Failed) > 0 {
		if err := s.writeJSON(config.DefaultScreeningFailuresFile, report.Failed); err != nil {
			return report, err
		}
		return report, fmt.Errorf("%w: %d of %d addresses could not be screened",
			ErrScreeningIncomplete, len(report.Failed), len(report.Failed)+report.Scanned)
	}
	return report, nil
}

// BuildTree commits to the allocations with the configured tree format.
func (s *Service) BuildTree(allocs []types.Allocation) (*merkle.StandardTree, error) {
	values := make([]merkle.LeafValue, len(allocs))
	seen := make(map[common.Address]int, len(allocs))
	for i := range allocs {
		if allocs[i].Amount == nil {
			return nil, fmt.Errorf("allocation for %s has nil amount", allocs[i].Address.Hex())
		}
		if first, ok := seen[allocs[i].Address]; ok {
			return nil, fmt.Errorf("%w: %s at positions %d and %d", ErrDuplicateAddress, allocs[i].Address.Hex(), first, i)
		}
		seen[allocs[i].Address] = i
		values[i] = allocs[i].Tuple()
	}

	opts := []merkle.Option{
		merkle.WithFormat(merkle.Format(s.cfg.TreeFormat)),
		merkle.WithLogger(s.logger),
	}
	// zero keeps the GOMAXPROCS default
	if s.cfg.Workers > 0 {
		opts = append(opts, merkle.WithWorkers(s.cfg.Workers))
	}
	return merkle.NewTree(values, types.AllocationLeafEncoding, opts...)
}

// Generate builds the tree, exports root, dump and proofs to the output directory
// and, when a store is configured, saves the tree and marks it as the latest.
func (s *Service) Generate(ctx context.Context, allocs []types.Allocation, label string) (*Artifacts, error) {
	s.logger.Sugar().Infow("Generating merkle tree", "allocations", len(allocs), "format", s.cfg.TreeFormat)

	tree, err := s.BuildTree(allocs)
	if err != nil {
		return nil, err
	}
	root := &types.RootOutput{MerkleRoot: tree.RootHex()}
	s.logger.Sugar().Infow("Merkle root computed", "root", root.MerkleRoot, "leaves", tree.Len())

	proofs, err := GenerateProofs(ctx, tree, s.cfg.Workers)
	if err != nil {
		return nil, err
	}

	if err := s.writeJSON(config.DefaultRootFileName, root); err != nil {
		return nil, err
	}
	if err := s.writeJSON(config.DefaultTreeFileName, tree.Dump()); err != nil {
		return nil, err
	}
	if err := s.writeJSON(config.DefaultProofsFileName, proofs); err != nil {
		return nil, err
	}

	artifacts := &Artifacts{Tree: tree, Root: root, Proofs: proofs}
	if s.store != nil {
		record := persistence.NewTreeRecord(tree, label)
		if err := s.store.SaveTree(record); err != nil {
			return nil, fmt.Errorf("failed to store tree: %w", err)
		}
		if err := s.store.SetLatestTree(record.ID); err != nil {
			return nil, fmt.Errorf("failed to mark tree %s as latest: %w", record.ID, err)
		}
		s.logger.Sugar().Infow("Stored merkle tree", "id", record.ID, "label", label)
		artifacts.Record = record
	}
	return artifacts, nil
}

// GenerateProofs produces the claim of every committed allocation, keyed by
// checksummed address. Proofs are computed in parallel chunks. A tree that
// commits to one address twice is rejected with ErrDuplicateAddress.
func GenerateProofs(ctx context.Context, tree *merkle.StandardTree, workers int) (types.ProofsOutput, error) {
	encoding := tree.LeafEncoding()
	if len(encoding) != 2 || encoding[0] != "address" || encoding[1] != "uint256" {
		return nil, fmt.Errorf("tree leaf encoding %v is not an allocation tree", encoding)
	}

	entries := tree.Entries()
	claims := make([]*types.Claim, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	const chunk = 256
	for from := 0; from < len(entries); from += chunk {
		from, to := from, min(from+chunk, len(entries))
		g.Go(func() error {
			for i := from; i < to; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				proof, err := tree.GetProofByIndex(entries[i].Index)
				if err != nil {
					return err
				}
				amount, ok := entries[i].Value[1].(*big.Int)
				if !ok {
					return fmt.Errorf("leaf %d amount has unexpected type %T", i, entries[i].Value[1])
				}
				claims[i] = &types.Claim{
					Amount: amount.String(),
					Proof:  merkle.HashesHex(proof),
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(types.ProofsOutput, len(entries))
	for i, e := range entries {
		addr, ok := e.Value[0].(common.Address)
		if !ok {
			return nil, fmt.Errorf("leaf %d address has unexpected type %T", i, e.Value[0])
		}
		key := addr.Hex()
		if _, exists := out[key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAddress, key)
		}
		out[key] = claims[i]
	}
	return out, nil
}

// VerifyClaim checks one (address, amount, proof) claim against a root.
func VerifyClaim(format merkle.Format, root, address, amount string, proof []string) (bool, error) {
	rootHash, err := merkle.ParseHash(root)
	if err != nil {
		return false, fmt.Errorf("invalid root: %w", err)
	}
	proofHashes, err := merkle.ParseHashes(proof)
	if err != nil {
		return false, fmt.Errorf("invalid proof: %w", err)
	}
	return merkle.VerifyFormat(format, rootHash, types.AllocationLeafEncoding, merkle.LeafValue{address, amount}, proofHashes)
}

// VerifyProofs verifies every claim of a proofs artifact and sums the verified amounts.
// Claims that fail are listed in the summary and the call returns ErrInvalidProof.
func VerifyProofs(format merkle.Format, root string, proofs types.ProofsOutput) (*types.VerificationSummary, error) {
	summary := &types.VerificationSummary{Root: root}
	total := new(big.Int)

	for _, address := range sortedAddresses(proofs) {
		claim := proofs[address]
		if claim == nil {
			summary.Invalid = append(summary.Invalid, address)
			continue
		}
		valid, err := VerifyClaim(format, root, address, claim.Amount, claim.Proof)
		if err != nil && !errors.Is(err, merkle.ErrEncoding) {
			return nil, fmt.Errorf("claim for %s: %w", address, err)
		}
		if !valid {
			summary.Invalid = append(summary.Invalid, address)
			continue
		}
		amount, ok := math.ParseBig256(claim.Amount)
		if !ok {
			summary.Invalid = append(summary.Invalid, address)
			continue
		}
		total.Add(total, amount)
		summary.Verified++
	}

	summary.Total = total.String()
	if len(summary.Invalid) > 0 {
		return summary, fmt.Errorf("%w: %d of %d claims failed verification", ErrInvalidProof, len(summary.Invalid), len(proofs))
	}
	return summary, nil
}

// TotalAllocated sums the amounts of every allocation.
func TotalAllocated(allocs []types.Allocation) *big.Int {
	total := new(big.Int)
	for _, a := range allocs {
		if a.Amount != nil {
			total.Add(total, a.Amount)
		}
	}
	return total
}

// CheckTotal compares a verification summary's total with the allocations it was built from.
func CheckTotal(summary *types.VerificationSummary, allocs []types.Allocation) error {
	expected := TotalAllocated(allocs)
	if summary.Total != expected.String() {
		return fmt.Errorf("%w: proofs total %s, allocations total %s", ErrTotalMismatch, summary.Total, expected.String())
	}
	return nil
}

// LoadStoredTree resolves a tree from the artifact store. ref may be a record ID,
// a root hash, or empty for the latest tree.
func (s *Service) LoadStoredTree(ref string) (*persistence.TreeRecord, *merkle.StandardTree, error) {
	if s.store == nil {
		return nil, nil, fmt.Errorf("no artifact store configured")
	}

	var (
		record *persistence.TreeRecord
		err    error
	)
	switch {
	case ref == "":
		id, gerr := s.store.GetLatestTree()
		if gerr != nil {
			return nil, nil, gerr
		}
		if id == "" {
			return nil, nil, fmt.Errorf("no latest tree recorded")
		}
		record, err = s.store.LoadTree(id)
	case isUUID(ref):
		record, err = s.store.LoadTree(ref)
	default:
		record, err = s.store.LoadTreeByRoot(ref)
	}
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		return nil, nil, fmt.Errorf("no stored tree matches %q", ref)
	}

	tree, err := record.Tree()
	if err != nil {
		return nil, nil, err
	}
	return record, tree, nil
}

func sortedAddresses(proofs types.ProofsOutput) []string {
	out := make([]string, 0, len(proofs))
	for address := range proofs {
		out = append(out, address)
	}
	sort.Strings(out)
	return out
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func (s *Service) writeJSON(name string, v interface{}) error {
	path := s.cfg.OutputPath(name)
	if err := WriteJSONFile(path, v); err != nil {
		return err
	}
	s.logger.Sugar().Infow("Wrote artifact", "path", path)
	return nil
}

// WriteJSONFile writes v as indented JSON, creating parent directories as needed.
func WriteJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// LoadTreeFile reads and fully validates a tree dump file.
func LoadTreeFile(path string) (*merkle.StandardTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return merkle.LoadJSON(data)
}

// LoadRootFile reads a merkle root artifact.
func LoadRootFile(path string) (*types.RootOutput, error) {
	var root types.RootOutput
	if err := readJSON(path, &root); err != nil {
		return nil, err
	}
	if _, err := merkle.ParseHash(root.MerkleRoot); err != nil {
		return nil, fmt.Errorf("%s: invalid merkle root: %w", path, err)
	}
	return &root, nil
}

// LoadProofsFile reads a proofs artifact.
func LoadProofsFile(path string) (types.ProofsOutput, error) {
	var proofs types.ProofsOutput
	if err := readJSON(path, &proofs); err != nil {
		return nil, err
	}
	return proofs, nil
}

// LoadAllocationsFile reads an allocations artifact of [address, amount] pairs.
func LoadAllocationsFile(path string) ([]types.Allocation, error) {
	var allocs []types.Allocation
	if err := readJSON(path, &allocs); err != nil {
		return nil, err
	}
	return allocs, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func readFile(path string, fn func(r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := fn(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

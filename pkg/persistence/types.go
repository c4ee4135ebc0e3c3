package persistence

import (
	"fmt"
	"strings"
	"time"

	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/merkle"
	"github.com/google/uuid"
)

// TreeRecord is a stored merkle tree together with the metadata used to find it.
type TreeRecord struct {
	// ID is a random UUID assigned when the record is created.
	ID string `json:"id"`

	// Label is a free-form name for the run, e.g. "season-1".
	Label string `json:"label,omitempty"`

	// Root is the 0x-prefixed lowercase root hash.
	Root string `json:"root"`

	Format    merkle.Format `json:"format"`
	LeafCount int           `json:"leafCount"`

	// CreatedAt is the Unix timestamp (nanoseconds) when the record was created.
	CreatedAt int64 `json:"createdAt"`

	// Dump is the full tree in its persisted JSON form.
	Dump *merkle.TreeDump `json:"dump"`
}

// NewTreeRecord snapshots a built tree into a fresh record.
func NewTreeRecord(tree *merkle.StandardTree, label string) *TreeRecord {
	return &TreeRecord{
		ID:        uuid.New().String(),
		Label:     label,
		Root:      tree.RootHex(),
		Format:    tree.Format(),
		LeafCount: tree.Len(),
		CreatedAt: time.Now().UnixNano(),
		Dump:      tree.Dump(),
	}
}

// Tree reloads and fully validates the stored tree.
func (r *TreeRecord) Tree() (*merkle.StandardTree, error) {
	if r == nil {
		return nil, fmt.Errorf("cannot load tree from nil TreeRecord")
	}
	tree, err := merkle.Load(r.Dump)
	if err != nil {
		return nil, err
	}
	if tree.RootHex() != NormalizeRoot(r.Root) {
		return nil, fmt.Errorf("record %s root %s does not match stored tree root %s", r.ID, r.Root, tree.RootHex())
	}
	return tree, nil
}

// Validate checks the fields every backend relies on for indexing.
func (r *TreeRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("cannot save nil TreeRecord")
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("invalid tree record id %q: %w", r.ID, err)
	}
	if _, err := merkle.ParseHash(r.Root); err != nil {
		return fmt.Errorf("invalid tree record root: %w", err)
	}
	if r.Dump == nil {
		return fmt.Errorf("tree record %s has no dump", r.ID)
	}
	return nil
}

// NormalizeRoot lowercases a root hash and adds the 0x prefix.
func NormalizeRoot(root string) string {
	root = strings.ToLower(strings.TrimSpace(root))
	if !strings.HasPrefix(root, "0x") {
		root = "0x" + root
	}
	return root
}

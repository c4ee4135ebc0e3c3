package types

// RootOutput is the merkle root artifact consumed by claim contracts.
type RootOutput struct {
	MerkleRoot string `json:"merkleRoot"`
}

// Claim is everything an account needs to claim its allocation.
type Claim struct {
	Amount string   `json:"amount"`
	Proof  []string `json:"proof"`
}

// ProofsOutput maps a checksummed address to its claim.
type ProofsOutput map[string]*Claim

// VerificationSummary reports the outcome of verifying a full proofs artifact.
type VerificationSummary struct {
	Root     string   `json:"root"`
	Verified int      `json:"verified"`
	Invalid  []string `json:"invalid,omitempty"`
	Total    string   `json:"total"`
}

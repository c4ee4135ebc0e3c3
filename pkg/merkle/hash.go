package merkle

import (
	"bytes"
	"fmt"
	"hash"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"
)

// Format selects the hashing rules a tree is built with. It is recorded in
// every dump so a loaded tree is always re-derived with the rules it was built with.
type Format string

const (
	// FormatStandard is byte-compatible with the OpenZeppelin StandardMerkleTree:
	//   leaf = keccak256(keccak256(abi.encode(values...)))
	//   node = keccak256(min(a,b) || max(a,b))
	// Leaves and nodes are kept apart by the second hashing round: a leaf
	// preimage is 32 bytes, a node preimage is 64.
	FormatStandard Format = "standard-v1"

	// FormatTagged prefixes explicit domain tags:
	//   leaf = keccak256(0x00 || keccak256(abi.encode(values...)))
	//   node = keccak256(0x01 || min(a,b) || max(a,b))
	FormatTagged Format = "tagged-v1"
)

var (
	leafTagTagged = []byte{0x00}
	nodeTagTagged = []byte{0x01}
)

func (f Format) String() string {
	return string(f)
}

// Validate returns an error for unknown formats.
func (f Format) Validate() error {
	switch f {
	case FormatStandard, FormatTagged:
		return nil
	default:
		return fmt.Errorf("unsupported tree format %q", string(f))
	}
}

func (f Format) leafTag() []byte {
	if f == FormatTagged {
		return leafTagTagged
	}
	return nil
}

func (f Format) nodeTag() []byte {
	if f == FormatTagged {
		return nodeTagTagged
	}
	return nil
}

var keccakPool = sync.Pool{
	New: func() interface{} { return sha3.NewLegacyKeccak256() },
}

func keccak256(parts ...[]byte) [32]byte {
	h := keccakPool.Get().(hash.Hash)
	h.Reset()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out [32]byte
	h.Sum(out[:0])
	keccakPool.Put(h)
	return out
}

// hashLeafPayload double-hashes an encoded leaf payload.
func hashLeafPayload(format Format, payload []byte) [32]byte {
	inner := keccak256(payload)
	return keccak256(format.leafTag(), inner[:])
}

// hashPair computes the parent of two nodes. The pair is sorted before hashing,
// so swapping children never changes the parent.
func hashPair(format Format, a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return keccak256(format.nodeTag(), a[:], b[:])
}

// ProcessProof folds a proof onto a leaf and returns the resulting root.
func ProcessProof(format Format, leaf [32]byte, proof [][32]byte) [32]byte {
	current := leaf
	for _, sibling := range proof {
		current = hashPair(format, current, sibling)
	}
	return current
}

// ParseHash decodes a 0x-prefixed hex string into a 32-byte digest.
func ParseHash(s string) ([32]byte, error) {
	var out [32]byte
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return out, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("invalid hash %q: expected 32 bytes, got %d", s, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// ParseHashes decodes a list of hex digests, typically a proof.
func ParseHashes(in []string) ([][32]byte, error) {
	out := make([][32]byte, len(in))
	for i, s := range in {
		h, err := ParseHash(s)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = h
	}
	return out, nil
}

// HashHex encodes a digest as 0x-prefixed hex.
func HashHex(h [32]byte) string {
	return hexutil.Encode(h[:])
}

// HashesHex encodes a list of digests as 0x-prefixed hex.
func HashesHex(in [][32]byte) []string {
	out := make([]string, len(in))
	for i, h := range in {
		out[i] = hexutil.Encode(h[:])
	}
	return out
}
